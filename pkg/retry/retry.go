package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NonRetryableError marks an error that ends the retry loop at once.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so that no policy retries it. NonRetryable(nil)
// is nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Config describes the attempt budget and the delay curve.
type Config struct {
	MaxAttempts  int           // total attempts; values below 1 mean one attempt
	InitialDelay time.Duration // delay before the second attempt; 0 retries immediately
	MaxDelay     time.Duration
	Multiplier   float64 // 1.0 keeps the delay fixed
	AddJitter    bool
}

// Fixed waits delay between each of attempts tries.
func Fixed(attempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// Exponential doubles the delay from initial up to maxDelay, with jitter.
func Exponential(attempts int, initial, maxDelay time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// NotifyFunc is told about every failed attempt that will be retried, with
// the wait before the next one.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Policy is a named Config. RetryIf decides which errors deserve another
// attempt; nil retries every error. Notify, when set, observes retries.
type Policy struct {
	Name    string
	Config  Config
	RetryIf func(error) bool
	Notify  NotifyFunc
}

// WithNotify returns a copy of p reporting retries to fn.
func (p Policy) WithNotify(fn NotifyFunc) Policy {
	p.Notify = fn
	return p
}

// Do executes fn with backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return Policy{Config: cfg}.Do(ctx, fn)
}

// Do runs fn until it succeeds, returns an error the policy does not retry,
// runs out of attempts or ctx ends.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	b, err := newBackOff(p.Config)
	if err != nil {
		return err
	}
	maxAttempts := p.Config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		attempts int
		lastErr  error
		stopped  bool
	)
	operation := func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		attempts++
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) || (p.RetryIf != nil && !p.RetryIf(lastErr)) {
			stopped = true
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	notify := func(err error, wait time.Duration) {
		if p.Notify != nil {
			p.Notify(attempts, err, wait)
		}
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
	err = backoff.RetryNotify(operation, schedule, notify)
	switch {
	case err == nil:
		return nil
	case stopped:
		return lastErr
	case ctx.Err() != nil && lastErr == nil:
		return fmt.Errorf("retry cancelled before first attempt: %w", ctx.Err())
	case ctx.Err() != nil:
		return fmt.Errorf("retry cancelled after %d attempts: %w (last error: %v)", attempts, ctx.Err(), lastErr)
	default:
		return &ExhaustedError{Attempts: attempts, Err: lastErr}
	}
}

func newBackOff(cfg Config) (backoff.BackOff, error) {
	switch {
	case cfg.InitialDelay < 0:
		return nil, errors.New("retry: InitialDelay cannot be negative")
	case cfg.MaxDelay < 0:
		return nil, errors.New("retry: MaxDelay cannot be negative")
	case cfg.Multiplier < 0:
		return nil, errors.New("retry: Multiplier cannot be negative")
	case cfg.InitialDelay == 0:
		return &backoff.ZeroBackOff{}, nil
	case cfg.MaxDelay != 0 && cfg.MaxDelay < cfg.InitialDelay:
		return nil, errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialDelay
	eb.MaxInterval = cfg.MaxDelay
	if eb.MaxInterval == 0 {
		eb.MaxInterval = max(cfg.InitialDelay, 5*time.Second)
	}
	eb.Multiplier = min(cfg.Multiplier, 1000)
	if eb.Multiplier == 0 {
		eb.Multiplier = 2.0
	}
	eb.MaxElapsedTime = 0
	eb.RandomizationFactor = 0
	if cfg.AddJitter {
		eb.RandomizationFactor = 0.25
	}
	eb.Reset()
	return eb, nil
}
