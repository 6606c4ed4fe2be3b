package protocol

import "errors"

// errors for parsing
var (
	// ErrNoTarget means request line has no separable target; connection should
	// be closed without a response, never resolved
	ErrNoTarget = errors.New("request line has no target")
)
