// Package retry provides bounded fixed-delay polling for order
// confirmation loops.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt completed without the
// condition being met.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Config bounds one polling loop.
type Config struct {
	Attempts int
	Delay    time.Duration
	// DelayFirst waits one delay before the first attempt too. Used when
	// the condition cannot possibly hold immediately, like a fill check
	// right after submission.
	DelayFirst bool
}

// Poll invokes fn up to cfg.Attempts times, sleeping cfg.Delay between
// attempts. It stops early when fn reports done or returns an error.
// Context cancellation interrupts both the sleep and the loop.
func Poll(ctx context.Context, cfg Config, fn func(ctx context.Context) (bool, error)) error {
	if cfg.Attempts <= 0 {
		return fmt.Errorf("retry: non-positive attempt count %d", cfg.Attempts)
	}
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 || cfg.DelayFirst {
			if err := sleep(ctx, cfg.Delay); err != nil {
				return err
			}
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry: canceled during delay: %w", ctx.Err())
	}
}
