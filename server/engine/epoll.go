// readiness-driven reactor over epoll
// one goroutine owns the listening socket and every session, so nothing here is locked
package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	DefaultBacklog   = 16
	maxEvents        = 128
	maxReadsPerEvent = 16 // level triggered, so leftovers come back on the next wait

	// listening socket stays readable while we are out of descriptors,
	// so it leaves epoll for this long instead of spinning
	acceptBackoff = 100 * time.Millisecond
)

// Handler gets the first line of a connection (without line terminator) and fills
// s with the response; line refers to session buffer so it must not be retained.
// returning false means there was nothing to answer and connection is closed silently
type Handler func(s *Session, line []byte) bool

type Options struct {
	Addr    [4]byte
	Port    int // 0 picks ephemeral port, see Engine.Port
	Backlog int

	// close connection when no bytes moved for this long, 0 disables it
	IdleTimeout time.Duration
	MaxLine     int // input buffer size, a longer line closes connection

	Logger zerolog.Logger
}

type Engine struct {
	opts   Options
	log    zerolog.Logger
	handle Handler

	lfd  int
	epfd int
	port int

	wakeMu sync.Mutex
	wakefd int

	sessions map[int]*Session
	bufs     *bufPool
	events   []unix.EpollEvent
	closed   bool

	acceptResume time.Time // zero while lfd is registered
}

// Listen opens the listening socket and epoll instance; errors here are fatal for a server
func Listen(opts Options, h Handler) (*Engine, error) {
	if opts.Backlog == 0 {
		opts.Backlog = DefaultBacklog
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = DefaultMaxLine
	}

	fd, err := listenSocket(opts.Addr, opts.Port, opts.Backlog)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:     opts,
		log:      opts.Logger,
		handle:   h,
		lfd:      fd,
		epfd:     -1,
		wakefd:   -1,
		sessions: make(map[int]*Session),
		bufs:     newBufPool(opts.MaxLine),
		events:   make([]unix.EpollEvent, maxEvents),
	}

	if e.port, err = boundPort(fd); err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: getsockname: %v", ErrBind, err)
	}

	// creating new epoll instance
	if e.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: epoll create: %v", ErrBind, err)
	}

	// eventfd wakes the loop up for shutdown
	if e.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: eventfd: %v", ErrBind, err)
	}

	for _, rfd := range []int{e.lfd, e.wakefd} {
		if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, rfd, &unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(rfd),
		}); err != nil {
			e.Close()
			return nil, fmt.Errorf("%w: epoll ctl: %v", ErrBind, err)
		}
	}

	return e, nil
}

// Port is the port listening socket is really bound to
func (e *Engine) Port() int {
	return e.port
}

// Run drives the loop until ctx is done; engine is closed when it returns
func (e *Engine) Run(ctx context.Context) error {
	defer e.Close()

	stop := context.AfterFunc(ctx, e.wake)
	defer stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		// number of events to handle
		n, err := unix.EpollWait(e.epfd, e.events, e.waitTimeout(time.Now()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := e.events[i]
			efd := int(ev.Fd) // current event descriptor

			switch efd {
			case e.wakefd:
				e.drainWake()
			case e.lfd:
				e.acceptAll()
			default:
				e.serveEvent(efd, ev.Events)
			}
		}

		now := time.Now()
		e.expire(now)
		e.resumeAccept(now)
	}
}

// Close releases every session and descriptor; Run calls it on return,
// call it directly only when Run was never started
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	for _, s := range e.sessions {
		e.closeSession(s, errShutdown)
	}

	unix.Close(e.lfd)
	if e.epfd >= 0 {
		unix.Close(e.epfd)
	}

	e.wakeMu.Lock()
	if e.wakefd >= 0 {
		unix.Close(e.wakefd)
		e.wakefd = -1
	}
	e.wakeMu.Unlock()

	return nil
}

// the only call that comes from another goroutine
func (e *Engine) wake() {
	e.wakeMu.Lock()
	defer e.wakeMu.Unlock()

	if e.wakefd >= 0 {
		unix.Write(e.wakefd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	}
}

func (e *Engine) drainWake() {
	var b [8]byte
	unix.Read(e.wakefd, b[:])
}

// accept everything pending on the listening socket
func (e *Engine) acceptAll() {
	for {
		nfd, peer, err := acceptConn(e.lfd)
		if err == errWouldBlock {
			return
		}
		if err == unix.EMFILE || err == unix.ENFILE {
			e.pauseAccept(time.Now(), err)
			return
		}
		if err != nil {
			e.log.Warn().Err(err).Msg("accept failed")
			return
		}

		s := getSession()
		s.ID = uuid.NewString()
		s.Fd = nfd
		s.Peer = peer
		s.Buf = e.bufs.get()
		e.touch(s, time.Now())

		// adding new descriptor to epoll
		if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, nfd, &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLRDHUP,
			Fd:     int32(nfd),
		}); err != nil {
			e.log.Warn().Err(err).Str("peer", peer).Msg("register connection failed")
			unix.Close(nfd)
			e.bufs.put(s.Buf)
			s.Buf = nil
			putSession(s)
			continue
		}

		s.State = StateReading
		e.sessions[nfd] = s
		e.log.Debug().Str("conn", s.ID).Str("peer", peer).Msg("connection accepted")
	}
}

// stop watching the listening socket until a descriptor may be free again;
// pending clients wait in the kernel backlog meanwhile
func (e *Engine) pauseAccept(now time.Time, cause error) {
	if !e.acceptResume.IsZero() {
		return
	}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, e.lfd, nil); err != nil {
		e.log.Warn().Err(err).Msg("pause accept failed")
		return
	}
	e.acceptResume = now.Add(acceptBackoff)
	e.log.Warn().Err(cause).Dur("backoff", acceptBackoff).Msg("out of descriptors, accept paused")
}

func (e *Engine) resumeAccept(now time.Time) {
	if e.acceptResume.IsZero() || now.Before(e.acceptResume) {
		return
	}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, e.lfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(e.lfd),
	}); err != nil {
		// try again after another backoff
		e.acceptResume = now.Add(acceptBackoff)
		e.log.Warn().Err(err).Msg("resume accept failed")
		return
	}
	e.acceptResume = time.Time{}
	e.log.Info().Msg("accept resumed")
}

func (e *Engine) serveEvent(fd int, events uint32) {
	s := e.sessions[fd]
	if s == nil {
		return
	}

	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		if !e.onReadable(s) {
			return
		}
	}
	if events&unix.EPOLLOUT != 0 {
		if !e.flush(s) {
			return
		}
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		e.closeSession(s, errSocket)
	}
}

// read what is available; returns false if the session is gone
func (e *Engine) onReadable(s *Session) bool {
	for i := 0; i < maxReadsPerEvent; i++ {
		reading := s.State == StateReading
		if reading && s.Offset == len(s.Buf) {
			e.closeSession(s, errLineTooLong)
			return false
		}

		dst := s.Buf
		if reading {
			dst = s.Buf[s.Offset:]
		}

		n, err := unix.Read(s.Fd, dst)
		switch {
		case err == unix.EAGAIN:
			return true
		case err == unix.EINTR:
			continue
		case err != nil:
			e.closeSession(s, err)
			return false
		case n == 0:
			return e.onEOF(s)
		}

		e.touch(s, time.Now())
		if !reading {
			// spill-over after the request line is dropped
			continue
		}

		from := s.Offset
		s.Offset += n
		end := lineEnd(s.Buf[:s.Offset], from)
		if end < 0 {
			continue
		}
		if !e.dispatch(s, s.Buf[:end]) {
			return false
		}
	}
	return true
}

// peer closed its write side
func (e *Engine) onEOF(s *Session) bool {
	if s.State == StateReading {
		e.closeSession(s, errPeerClosed)
		return false
	}

	// response still in flight: stop reading, keep writing
	s.eof = true
	return e.updateInterest(s)
}

// parse -> resolve -> frame happen inside handler, then we start writing
func (e *Engine) dispatch(s *Session, line []byte) bool {
	ok := e.handle(s, line)
	s.Offset = 0

	if !ok {
		s.State = StateParseFailed
		e.closeSession(s, errNoRequest)
		return false
	}

	if s.State == StateResolvedFail {
		s.State = StateWritingError
	} else {
		s.State = StateWriting
	}
	return e.flush(s)
}

// close sessions whose deadline passed
func (e *Engine) expire(now time.Time) {
	for _, s := range e.sessions {
		if !s.deadline.IsZero() && !now.Before(s.deadline) {
			e.closeSession(s, errIdleTimeout)
		}
	}
}

// epoll wait timeout in ms: until the nearest deadline or accept resume, -1 if nothing to wait for
func (e *Engine) waitTimeout(now time.Time) int {
	next := e.acceptResume
	for _, s := range e.sessions {
		if s.deadline.IsZero() {
			continue
		}
		if next.IsZero() || s.deadline.Before(next) {
			next = s.deadline
		}
	}
	if next.IsZero() {
		return -1
	}

	d := next.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func (e *Engine) touch(s *Session, now time.Time) {
	if e.opts.IdleTimeout > 0 {
		s.deadline = now.Add(e.opts.IdleTimeout)
	}
}

// release socket, body and buffers; runs once per session, cause nil means response was delivered
func (e *Engine) closeSession(s *Session, cause error) {
	if s.State == StateClosed {
		return
	}
	prev := s.State

	// leftovers in the kernel buffer would turn our FIN into RST
	if cause == nil || cause == errNoRequest {
		e.drainInput(s)
	}

	unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, s.Fd, nil)
	unix.Close(s.Fd)
	s.releaseBody()
	delete(e.sessions, s.Fd)

	ev := e.log.Debug().Str("conn", s.ID).Str("peer", s.Peer).Stringer("state", prev)
	if cause != nil {
		ev = ev.AnErr("cause", cause)
	}
	ev.Msg("connection closed")

	s.State = StateClosed
	e.bufs.put(s.Buf)
	s.Buf = nil
	putSession(s)
}

func (e *Engine) drainInput(s *Session) {
	if s.eof || s.Buf == nil {
		return
	}
	for i := 0; i < maxReadsPerEvent; i++ {
		n, err := unix.Read(s.Fd, s.Buf)
		if err != nil || n <= 0 {
			return
		}
	}
}

// index of the first CR or LF in buf at or after from, -1 if line is not complete yet
func lineEnd(buf []byte, from int) int {
	i := bytes.IndexAny(buf[from:], "\r\n")
	if i < 0 {
		return -1
	}
	return from + i
}
