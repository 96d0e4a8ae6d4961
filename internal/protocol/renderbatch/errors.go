package renderbatch

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedBatch = errors.New("renderbatch: malformed batch")
	ErrInvalidBatch   = errors.New("renderbatch: invalid batch for encoding")
)

// MalformedBatchError reports where and why a payload could not be parsed.
// It matches ErrMalformedBatch through errors.Is.
type MalformedBatchError struct {
	Offset int
	Reason string
}

func (e *MalformedBatchError) Error() string {
	return fmt.Sprintf("renderbatch: malformed batch at offset %d: %s", e.Offset, e.Reason)
}

func (e *MalformedBatchError) Is(target error) bool {
	return target == ErrMalformedBatch
}

func malformed(offset int, format string, args ...any) error {
	return &MalformedBatchError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
