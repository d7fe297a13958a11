package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayFollowsCappedExponent(t *testing.T) {
	cfg := Config{MaxAttempts: 6, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, cfg.Delay(i+1), "attempt %d", i+1)
	}
}

func TestRunEventuallyOk(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, BackoffMultiplier: 2}

	var statuses []Status
	res := Run(context.Background(), cfg, func(_ context.Context, attempt int) (int, error) {
		if attempt < 3 {
			return 0, errors.New("pop")
		}
		return 42, nil
	}, func(s Status) { statuses = append(statuses, s) })

	require.True(t, res.Success)
	assert.Equal(t, 42, res.Data)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, statuses, 2)
	assert.Equal(t, 1, statuses[0].Attempt)
	assert.Equal(t, 5, statuses[0].MaxAttempts)
	assert.Equal(t, time.Millisecond, statuses[0].Delay)
	assert.Equal(t, 2*time.Millisecond, statuses[1].Delay)
	assert.EqualError(t, statuses[1].Err, "pop")
}

func TestRunNeverExceedsMaxAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 3}

	calls := 0
	progress := 0
	res := Run(context.Background(), cfg, func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("rpc down")
	}, func(Status) { progress++ })

	assert.False(t, res.Success)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 3, progress, "no wait after the final attempt")
	assert.EqualError(t, res.Err, "rpc down")
}

func TestRunStopsOnPermanent(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2}

	sentinel := errors.New("closed")
	calls := 0
	res := Run(context.Background(), cfg, func(context.Context, int) (string, error) {
		calls++
		return "", Permanent(sentinel)
	}, func(Status) { t.Fatal("progress must not be reported for a permanent error") })

	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(res.Err))
	assert.ErrorIs(t, res.Err, sentinel)
}

func TestRunContextCanceled(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, BackoffMultiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, cfg, func(context.Context, int) (int, error) {
		return 0, errors.New("pop")
	}, nil)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	res := Run(context.Background(), Config{}, func(context.Context, int) (int, error) {
		calls++
		return 1, nil
	}, nil)
	assert.True(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}
