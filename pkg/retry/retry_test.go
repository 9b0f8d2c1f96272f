package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	// MaxAttempts retries on top of the initial attempt.
	assert.Equal(t, 4, calls)
}

func TestDo_DisabledRunsOnce(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := Do(ctx, cfg, func() error {
		calls++
		return errors.New("still down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelay_IsCapped(t *testing.T) {
	cfg := fastConfig()
	for attempt := 0; attempt < 10; attempt++ {
		assert.LessOrEqual(t, backoffDelay(cfg, attempt), cfg.MaxDelay)
	}
}
