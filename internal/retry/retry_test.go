package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollStopsOnDone(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Config{Attempts: 5, Delay: time.Millisecond},
		func(ctx context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Config{Attempts: 4, Delay: time.Millisecond},
		func(ctx context.Context) (bool, error) {
			calls++
			return false, nil
		})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, calls)
}

func TestPollPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Poll(context.Background(), Config{Attempts: 5, Delay: time.Millisecond},
		func(ctx context.Context) (bool, error) {
			calls++
			return false, boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPollDelayFirstWaitsBeforeFirstAttempt(t *testing.T) {
	start := time.Now()
	err := Poll(context.Background(), Config{Attempts: 1, Delay: 20 * time.Millisecond, DelayFirst: true},
		func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPollCanceledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Poll(ctx, Config{Attempts: 3, Delay: time.Minute},
		func(ctx context.Context) (bool, error) {
			calls++
			return false, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPollRejectsNonPositiveAttempts(t *testing.T) {
	err := Poll(context.Background(), Config{Attempts: 0, Delay: time.Millisecond},
		func(ctx context.Context) (bool, error) { return true, nil })
	assert.Error(t, err)
}
