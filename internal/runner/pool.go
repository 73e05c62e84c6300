package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

type Job func(ctx context.Context) error

// RunPool executes jobs with at most maxWorkers concurrently and returns
// every error. A job failing with ErrExhausted cancels the others. It returns
// only after all jobs have returned.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		mu   sync.Mutex
		errs []error
	)
	p := pool.New().WithMaxGoroutines(maxWorkers).WithContext(ctx)
	for _, job := range jobs {
		p.Go(func(ctx context.Context) error {
			if err := job(ctx); err != nil {
				if errors.Is(err, ErrExhausted) {
					cancel(err)
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = p.Wait()
	return errs
}
