package static

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: nothing servable at target
	ErrNotFound = errors.New("not found")

	// ErrTraversal: target has a ".." segment, it is also a not found
	ErrTraversal = fmt.Errorf("%w: path traversal rejected", ErrNotFound)
)
