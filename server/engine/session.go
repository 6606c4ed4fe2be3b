package engine

import (
	"os"
	"time"
)

// lifecycle state of one connection
type State uint8

const (
	StateAccepted State = iota
	StateReading
	StateResolvedOK
	StateResolvedFail
	StateParseFailed
	StateWriting
	StateWritingError
	StateClosed
)

var stateNames = [...]string{
	StateAccepted:     "accepted",
	StateReading:      "reading",
	StateResolvedOK:   "resolved_ok",
	StateResolvedFail: "resolved_fail",
	StateParseFailed:  "parse_failed",
	StateWriting:      "writing",
	StateWritingError: "writing_error",
	StateClosed:       "closed",
}

func (st State) String() string {
	if int(st) < len(stateNames) {
		return stateNames[st]
	}
	return "unknown"
}

// session is one accepted client socket, it is owned by the reactor only;
// created on accept, closed exactly once
type Session struct {
	ID   string // connection id for logs
	Fd   int
	Peer string

	State State

	Buf    []byte // input buffer from pool, holds current request line and spill-over
	Offset int

	Out  []byte // pending response head, handlers append to it
	sent int    // bytes of Out already written

	body     *os.File // response body, sent with sendfile after Out
	bodyFd   int
	bodyOff  int64
	bodyLeft int64

	deadline time.Time
	pollOut  bool // EPOLLOUT is registered
	eof      bool // peer closed its write side
}

// attach file as response body, session owns f from now on and closes it
// when the transfer ends or the connection dies, whichever comes first
func (s *Session) SendFile(f *os.File, size int64) {
	s.releaseBody()
	s.body = f
	s.bodyFd = int(f.Fd())
	s.bodyOff = 0
	s.bodyLeft = size
}

// SetState is for handlers: they report how resolving went
func (s *Session) SetState(st State) {
	s.State = st
}

func (s *Session) releaseBody() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	s.bodyFd = -1
	s.bodyOff = 0
	s.bodyLeft = 0
}

// reset session taken from pool
func (s *Session) Reset() {
	s.releaseBody()
	s.ID = ""
	s.Fd = -1
	s.Peer = ""
	s.State = StateAccepted
	s.Buf = nil
	s.Offset = 0
	s.Out = s.Out[:0]
	s.sent = 0
	s.deadline = time.Time{}
	s.pollOut = false
	s.eof = false
}
