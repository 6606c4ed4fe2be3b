// listening socket: create, bind, listen, accept
// only low level socket functional, no epoll here
package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	MinBacklog = 5 // smaller backlogs are raised to this
)

// create new socket, set SO_REUSEADDR, bind, make it nonblocking and start listening;
// every error here is fatal for the caller, we never retry
func listenSocket(addr [4]byte, port, backlog int) (int, error) {
	if backlog < MinBacklog {
		backlog = MinBacklog
	}

	// SOCK_STREAM = TCP
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: socket: %v", ErrBind, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%w: setsockopt SO_REUSEADDR: %v", ErrBind, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{ // bind socket to addr:port
		Port: port,
		Addr: addr,
	}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%w: bind %d.%d.%d.%d:%d: %v", ErrBind, addr[0], addr[1], addr[2], addr[3], port, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%w: set nonblock: %v", ErrBind, err)
	}

	if err := unix.Listen(fd, backlog); err != nil { // start listening on addr:port
		unix.Close(fd)
		return -1, fmt.Errorf("%w: listen: %v", ErrBind, err)
	}

	return fd, nil
}

// port the socket is really bound to, differs from requested one when it was 0
func boundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port, nil
	}
	return 0, fmt.Errorf("unexpected address family %T", sa)
}

// accept one pending client, new descriptor is already nonblocking;
// returns errWouldBlock when the accept queue is empty
func acceptConn(lfd int) (int, string, error) {
	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return nfd, peerString(sa), nil
		case unix.EAGAIN:
			return -1, "", errWouldBlock
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			return -1, "", err
		}
	}
}

func peerString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", v.Addr, v.Port)
	default:
		return "?"
	}
}
