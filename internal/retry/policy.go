package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

// Mode selects how the delay grows between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

// Policy holds backoff settings for transient failures. It is immutable
// after construction.
type Policy struct {
	Mode       Mode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int // retries after the first failure
}

// DefaultPolicy is exponential from 100ms, capped at 2s, with 3 retries.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeExponential, Initial: 100 * time.Millisecond, Max: 2 * time.Second, MaxRetries: 3}
}

// NewPolicy builds a policy; zero or unknown values fall back to defaults.
func NewPolicy(mode Mode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case ModeFixed, ModeLinear, ModeExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case ModeFixed:
		return p.Initial
	case ModeExponential:
		if n > 30 {
			return p.Max
		}
		d = p.Initial * (1 << (n - 1))
	default:
		d = time.Duration(n) * p.Initial
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Validate reports settings the policy cannot apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Do calls fn until it succeeds, returns a permanent error, the retries are
// used up or ctx ends. Classified errors are retried only when they say so.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ce, ok := ferrors.AsClassified(err); ok && !ce.CanRetry() {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}
	}
}
