package httpclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryOptions configures retry count and exponential backoff behavior.
//
// Retries is the number of retries after the first attempt (total attempts are
// Retries+1); zero disables retrying. BaseDelay is the initial backoff and
// MaxDelay caps each computed delay before jitter is added.
type RetryOptions struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 300 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	return o
}

// RetryOperation executes fn until success, a permanent error, context
// cancellation, or exhaustion of retries, sleeping with exponential backoff
// and jitter between attempts. It returns the last error from fn.
func RetryOperation[T any](ctx context.Context, opts RetryOptions, fn func() (T, error)) (T, error) {
	opts = opts.withDefaults()
	var zero T
	var lastErr error

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		var perm *permanentError
		if errors.As(err, &perm) || attempt >= opts.Retries {
			break
		}

		timer := time.NewTimer(Backoff(opts.BaseDelay, opts.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr == nil {
		return zero, fmt.Errorf("retry failed without error")
	}
	return zero, lastErr
}

// Backoff returns base*2^attempt capped at max, plus up to 25% jitter.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := base * (1 << attempt)
	if d > max || d <= 0 {
		d = max
	}
	j := time.Duration(rand.Int63n(int64(d/4 + 1)))
	return d + j
}

// permanentError marks failures that should bypass retry logic.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func unwrapPermanent(err error) error {
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection reset") || strings.Contains(s, "timeout") || strings.Contains(s, "eof")
}
