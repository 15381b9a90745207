package termclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of the initial transport dial. It never
// applies to an established session: once the server has answered, a
// failure is final until the user reconnects.
type RetryPolicy struct {
	// MaxAttempts is the total number of dial attempts. Values below 1 mean 1.
	MaxAttempts int
	// InitialInterval is the first wait. Zero retries immediately.
	InitialInterval time.Duration
	// MaxInterval caps the exponentially growing wait.
	MaxInterval time.Duration
}

// DefaultRetryPolicy rides out short network blips.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 250 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// NoRetry dials once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) retries() uint64 {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return uint64(p.MaxAttempts - 1)
}

// backOff builds the schedule for one Do call. Attempts are bounded by
// MaxAttempts alone, never by elapsed time.
func (p RetryPolicy) backOff() backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialInterval > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.InitialInterval
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}
	return backoff.WithMaxRetries(b, p.retries())
}

// Do calls fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	op := func() error {
		err := fn(ctx)
		if err != nil && !Temporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(p.backOff(), ctx))
}

// Temporary reports whether a dial error is worth retrying. Refusals the
// server answered with a client error status and cancellations are not.
func Temporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.StatusCode >= http.StatusInternalServerError
	}
	return true
}
