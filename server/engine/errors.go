package engine

import "errors"

var (
	// ErrBind wraps every failure of socket setup: socket, bind, listen, epoll
	ErrBind = errors.New("listening socket setup failed")

	errWouldBlock = errors.New("would block")

	// close causes, logged only
	errLineTooLong = errors.New("request line too long")
	errNoRequest   = errors.New("no request target")
	errIdleTimeout = errors.New("idle timeout")
	errPeerClosed  = errors.New("peer closed connection")
	errSocket      = errors.New("socket error")
	errShortBody   = errors.New("body shorter than announced")
	errShutdown    = errors.New("engine shutdown")
)
