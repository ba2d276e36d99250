package harness

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted ends a whole run after a failure counter passed its
	// ceiling.
	ErrAborted = errors.New("run aborted")
	// ErrInterrupted ends a run when its context is cancelled.
	ErrInterrupted = errors.New("run interrupted")
)

// AbortError reports which counter ended the run.
type AbortError struct {
	Counter Counter
	Count   int
	Ceiling int
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("run aborted: %s failures %d exceed ceiling %d", e.Counter, e.Count, e.Ceiling)
}

func (e *AbortError) Unwrap() error { return ErrAborted }
