// Package retry implements the bounded retry policy wrapped around every call into the issue tracker.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy describes how a remote call is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each retry, e.g. to count retries.
	OnRetry func(op string, attempt int, err error)
}

// Default returns the policy used against Jira: 5 attempts, 5 seconds apart, transient errors only.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		Backoff:     5 * time.Second,
		Retryable:   IsTransient,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the attempts run out.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			log.Error().Err(err).Str("op", op).Int("attempts", attempt).Msg("Giving up after transient failures")
			break
		}

		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", p.Backoff).Msg("Transient failure, retrying")
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}
		if serr := sleep(ctx, p.Backoff); serr != nil {
			return zero, serr
		}
	}
	return zero, err
}

// IsTransient reports whether err looks like a network-level failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
