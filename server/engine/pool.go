// session and buffer pools
package engine

import (
	"sync"
)

const (
	DefaultMaxLine = 1<<16 - 1
	outCap         = 256 // status line + headers fit here
)

// pool for sessions, out buffer keeps its capacity between connections
var sessionPool = sync.Pool{
	New: func() any {
		return &Session{Out: make([]byte, 0, outCap)}
	},
}

// bufPool for input buffers; size depends on max line so every engine has its own
type bufPool struct {
	size int
	p    sync.Pool
}

func newBufPool(size int) *bufPool {
	if size <= 0 {
		size = DefaultMaxLine
	}
	bp := &bufPool{size: size}
	bp.p.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (bp *bufPool) get() []byte {
	return *(bp.p.Get().(*[]byte))
}

func (bp *bufPool) put(b []byte) {
	if cap(b) != bp.size {
		return
	}
	b = b[:bp.size]
	bp.p.Put(&b)
}

func getSession() *Session {
	s := sessionPool.Get().(*Session)
	s.Reset()
	return s
}

// session is reset on get, so a closed one keeps StateClosed until reused
func putSession(s *Session) {
	sessionPool.Put(s)
}
