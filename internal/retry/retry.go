package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is a bounded exponential backoff without jitter.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Timer drives the waits between attempts. Nil uses a real timer.
	Timer backoff.Timer
}

func (p Policy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

// BackOff builds the schedule: Base doubling per retry, capped at Max, stopping after
// Attempts-1 retries or when ctx is done.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)
}

// Do runs fn until it succeeds, the attempts run out, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := p.attempts()
	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		lastErr = fn(ctx)
		return lastErr
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("%s failed (attempt %d/%d): %v; retrying in %s", name, attempt, attempts, err, wait)
	}

	var err error
	if p.Timer != nil {
		err = backoff.RetryNotifyWithTimer(op, p.BackOff(ctx), notify, p.Timer)
	} else {
		err = backoff.RetryNotify(op, p.BackOff(ctx), notify)
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("%s: %w", name, err)
	default:
		return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, attempt, lastErr)
	}
}
