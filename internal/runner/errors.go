package runner

import (
	"errors"
	"fmt"
	"time"
)

// ErrExhausted means the host ran out of a resource needed to isolate
// scenarios. It ends the whole run.
var ErrExhausted = errors.New("host resources exhausted")

// SetupError means the subject could not be prepared or started.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup (%s): %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// TimeoutError means the subject outlived its time-box. Transcript holds
// whatever it produced before it was killed.
type TimeoutError struct {
	Timebox    time.Duration
	Transcript *Transcript
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("subject exceeded time-box of %s", e.Timebox)
}
