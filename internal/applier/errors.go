package applier

import (
	"errors"
	"fmt"

	"github.com/danmuck/rbmirror/internal/protocol/renderbatch"
)

var (
	// ErrApplyFailed matches every ApplyError.
	ErrApplyFailed = errors.New("applier: batch application failed")
	// ErrCursor reports a StepOut with nothing to pop.
	ErrCursor = errors.New("applier: cursor underflow")
)

// Phase values for ApplyError.
const (
	PhaseEdits    = "edits"
	PhaseDisposal = "disposal"
)

// ApplyError locates the edit that aborted a batch. The tree is left as
// it was after the last successful edit.
type ApplyError struct {
	BatchID     uint64
	Phase       string
	Diff        int
	ComponentID uint32
	Edit        int
	Kind        renderbatch.EditKind
	Err         error
}

func (e *ApplyError) Error() string {
	if e.Phase == PhaseDisposal {
		return fmt.Sprintf("applier: batch %d disposal: %v", e.BatchID, e.Err)
	}
	return fmt.Sprintf("applier: batch %d diff %d (component %d) edit %d %s: %v",
		e.BatchID, e.Diff, e.ComponentID, e.Edit, e.Kind, e.Err)
}

func (e *ApplyError) Is(target error) bool { return target == ErrApplyFailed }

func (e *ApplyError) Unwrap() error { return e.Err }
