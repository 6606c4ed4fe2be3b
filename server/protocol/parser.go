// request line parsing, works on raw bytes w zero-alloc
// only parser logic, no headers: everything after the first line is dropped by engine
package protocol

import (
	"bytes"
)

const (
	spaces     = " \t"
	targetEnds = " \t#&"
)

// ParseRequestLine returns the target of a request line: the second token.
// first token (method) is skipped and never inspected, target ends at whitespace, '#' or '&'.
// result refers to line
func ParseRequestLine(line []byte) ([]byte, error) {
	// find a separator after method
	sep := bytes.IndexAny(line, spaces)
	if sep == -1 {
		return nil, ErrNoTarget
	}

	rest := line[sep+1:]
	end := bytes.IndexAny(rest, targetEnds)
	if end == -1 {
		end = len(rest)
	}

	// "GET  /x" or "GET " gives empty target, it is as absent as no target at all
	if end == 0 {
		return nil, ErrNoTarget
	}
	return rest[:end], nil
}
