package liff

import (
	"context"
	"net/http"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

const (
	// DefaultMaxAttempts bounds the host token exchange.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the linear backoff step: attempt n waits n*DefaultBackoff.
	DefaultBackoff = time.Second
)

// RetryPolicy drives the host token exchange retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Sleep waits d or until ctx is done. Tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 attempts with a 1s linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		Sleep:       sleepContext,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Backoff
}

// Retryable reports whether a failed exchange is worth another attempt:
// server errors, unauthorized responses and transport failures.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if perr, ok := auth.AsProviderError(err); ok {
		if perr.ServerError() || perr.Status == http.StatusUnauthorized {
			return true
		}
		if perr.Status == 0 && perr.Err != nil {
			return true
		}
		return false
	}
	return auth.KindOf(err) == auth.KindNetwork
}

// Do runs fn until it succeeds, fails with a non retryable error or the
// attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	p = p.normalized()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts || !p.Retryable(err) {
			return err
		}
		if serr := p.Sleep(ctx, p.Delay(attempt)); serr != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
