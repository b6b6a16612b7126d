package mapreduce

import (
	"context"
	"errors"
	"time"

	"github.com/lindqvist/mapfold/internal/llm"
)

// Policy bounds per-batch retry behavior: MaxAttempts includes the first
// try, Delay is the fixed wait between attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs op until it succeeds or the attempt budget is spent. Fatal API
// errors and context cancellation stop retrying immediately.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, llm.ErrFatalAPI) {
			return err
		}
		if attempt < attempts {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
