package grader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalnine/gauntlet/internal/judge"
)

// RetryPolicy bounds how often a failing grader is retried.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// InfraError means a grader could not produce a judgement.
type InfraError struct {
	Grader   string
	Attempts int
	Err      error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("grader %s failed after %d attempt(s): %v", e.Grader, e.Attempts, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed. Per-request
// timeouts and other network errors are transient; expiry of the grading
// context itself is checked by Evaluate.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNoJudge) || errors.Is(err, errNoWorkspace) {
		return false
	}
	var statusErr *judge.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// Evaluate runs g with retries and never returns an error: once attempts are
// exhausted the grader fails closed with an infrastructure result.
func Evaluate(ctx context.Context, g Grader, in Input, policy RetryPolicy) Result {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.Backoff

	var lastErr error
	made := 0
retry:
	for made < attempts {
		made++
		r, err := safeGrade(ctx, g, in)
		if err == nil {
			return r
		}
		lastErr = err
		if made == attempts || !Retryable(err) || ctx.Err() != nil {
			break
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(backoff):
			}
			backoff *= 2
			if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}
	}
	return Failed(&InfraError{Grader: g.Name(), Attempts: made, Err: lastErr})
}

// Failed is the fail-closed result for a grader that could not judge.
func Failed(err error) Result {
	return Result{
		Passed:  false,
		Score:   0,
		Message: err.Error(),
		Infra:   true,
	}
}

func safeGrade(ctx context.Context, g Grader, in Input) (r Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("grader panicked: %v", p)
		}
	}()
	return g.Grade(ctx, in)
}
