package format

import "errors"

var (
	// ErrOffsetRange indicates a field offset too large for the token encoding.
	ErrOffsetRange = errors.New("format: slot offset exceeds token range")
	// ErrSkipRange indicates a nested region too long for the skip encoding.
	ErrSkipRange = errors.New("format: nested region exceeds skip range")
)
