package backoff

import (
	"context"
	"errors"
	"math"
	"time"
)

// Config controls how many times an operation is attempted and how long to wait between attempts.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultConfig matches the campaign verification policy: five attempts, 1s doubling up to 8s.
var DefaultConfig = Config{
	MaxAttempts:       5,
	InitialDelay:      time.Second,
	MaxDelay:          8 * time.Second,
	BackoffMultiplier: 2,
}

// Status is reported to the progress callback before each wait.
type Status struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

// Result is the outcome of Run. Data is only meaningful when Success is true.
type Result[T any] struct {
	Success  bool
	Data     T
	Err      error
	Attempts int
	Elapsed  time.Duration
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Run returns it on the attempt it occurs.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the wait after the given failed attempt (1-based):
// min(MaxDelay, InitialDelay * BackoffMultiplier^(attempt-1)).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

func (c Config) attempts() int {
	if c.MaxAttempts <= 0 {
		return 1
	}
	return c.MaxAttempts
}

// Run invokes op until it succeeds, returns a Permanent error, the attempt budget is spent,
// or ctx is done.
func Run[T any](ctx context.Context, cfg Config, op func(ctx context.Context, attempt int) (T, error), onProgress func(Status)) Result[T] {
	start := time.Now()
	maxAttempts := cfg.attempts()

	var res Result[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		data, err := op(ctx, attempt)
		if err == nil {
			res.Success = true
			res.Data = data
			res.Err = nil
			res.Elapsed = time.Since(start)
			return res
		}
		res.Err = err
		if IsPermanent(err) || attempt == maxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if onProgress != nil {
			onProgress(Status{Attempt: attempt, MaxAttempts: maxAttempts, Delay: delay, Err: err})
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.Err = ctx.Err()
			res.Elapsed = time.Since(start)
			return res
		}
	}
	res.Elapsed = time.Since(start)
	return res
}
