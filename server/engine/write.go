package engine

import (
	"time"

	"golang.org/x/sys/unix"
)

const maxSendfileChunk = 1 << 20

// write pending head, then stream body with sendfile;
// on EAGAIN keep the rest and wait for EPOLLOUT, returns false if the session is gone
func (e *Engine) flush(s *Session) bool {
	for s.sent < len(s.Out) {
		n, err := unix.Write(s.Fd, s.Out[s.sent:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return e.waitWritable(s)
		case err != nil:
			e.closeSession(s, err)
			return false
		}
		s.sent += n
		e.touch(s, time.Now())
	}

	for s.bodyLeft > 0 {
		chunk := int(min(s.bodyLeft, maxSendfileChunk))
		n, err := unix.Sendfile(s.Fd, s.bodyFd, &s.bodyOff, chunk)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return e.waitWritable(s)
		case err != nil:
			e.closeSession(s, err)
			return false
		case n == 0:
			// file shrank after stat
			e.closeSession(s, errShortBody)
			return false
		}
		s.bodyLeft -= int64(n)
		e.touch(s, time.Now())
	}

	// everything delivered
	s.releaseBody()
	e.closeSession(s, nil)
	return false
}

func (e *Engine) waitWritable(s *Session) bool {
	if s.pollOut {
		return true
	}
	s.pollOut = true
	return e.updateInterest(s)
}

// re-register session with what it waits for now
func (e *Engine) updateInterest(s *Session) bool {
	var events uint32
	if !s.eof {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if s.pollOut {
		events |= unix.EPOLLOUT
	}

	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, s.Fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(s.Fd),
	}); err != nil {
		e.closeSession(s, err)
		return false
	}
	return true
}
