package retry

import (
	"context"
	"errors"
	"time"
)

// Policy is a bounded exponential backoff: Backoff, 2*Backoff, ... capped at MaxBackoff.
type Policy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Backoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, attempts run out or ctx ends.
// It returns the number of attempts made and the last error, unwrapped from Permanent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Backoff
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return i, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return i, perm.err
		}
		if i == attempts {
			return i, err
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return i, errors.Join(err, ctx.Err())
			case <-timer.C:
			}
			delay *= 2
			if p.MaxBackoff > 0 && delay > p.MaxBackoff {
				delay = p.MaxBackoff
			}
		}
	}
	return attempts, err
}
