package mirror

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange        = errors.New("mirror: edit out of range")
	ErrNotFound          = errors.New("mirror: node not found")
	ErrComponentDisposed = errors.New("mirror: component disposed")
	ErrInvalidDescriptor = errors.New("mirror: invalid event descriptor")
)

// OutOfRangeEditError reports an edit that addresses a slot or node the
// tree does not have. It means the local tree disagrees with the server.
type OutOfRangeEditError struct {
	Op     string
	Parent NodeID
	Index  int
	Count  int
	Reason string
	Err    error
}

func (e *OutOfRangeEditError) Error() string {
	msg := fmt.Sprintf("mirror: %s out of range: parent=%d index=%d count=%d", e.Op, e.Parent, e.Index, e.Count)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *OutOfRangeEditError) Is(target error) bool {
	return target == ErrOutOfRange
}

func (e *OutOfRangeEditError) Unwrap() error {
	return e.Err
}

// ConsistencyWarning reports a lookup or removal that found nothing. It
// is retryable: callers log it, the session keeps running.
type ConsistencyWarning struct {
	Op     string
	Node   NodeID
	Index  int
	Reason string
}

func (w *ConsistencyWarning) Error() string {
	if w.Reason == "" {
		return fmt.Sprintf("mirror: %s: node=%d index=%d not found", w.Op, w.Node, w.Index)
	}
	return fmt.Sprintf("mirror: %s: node=%d index=%d: %s", w.Op, w.Node, w.Index, w.Reason)
}

func (w *ConsistencyWarning) Is(target error) bool {
	return target == ErrNotFound
}

func outOfRange(op string, parent NodeID, index, count int, reason string) error {
	return &OutOfRangeEditError{Op: op, Parent: parent, Index: index, Count: count, Reason: reason}
}
