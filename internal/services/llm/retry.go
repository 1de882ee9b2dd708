package llm

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quill/internal/services"
)

// retryPolicy decides whether a failed completion is worth another attempt.
type retryPolicy struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
	sleep    func(context.Context, time.Duration) error
}

func defaultRetry() retryPolicy {
	return retryPolicy{
		attempts: 5,
		base:     time.Second,
		ceiling:  10 * time.Second,
		sleep:    sleepContext,
	}
}

// next returns the wait before attempt+1, or false when err is final.
func (p retryPolicy) next(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.attempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var status *statusError
	var empty *emptyError
	switch {
	case errors.As(err, &status):
		if !status.transient() {
			return 0, false
		}
		if status.retryAfter > 0 {
			return p.clamp(status.retryAfter), true
		}
	case errors.As(err, &empty):
	case errors.Is(err, services.ErrTimeout):
	default:
		return 0, false
	}
	return p.backoff(attempt), true
}

// backoff doubles base per attempt: 1s, 2s, 4s, ...
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	shift := min(attempt-1, 20)
	return p.clamp(p.base << shift)
}

func (p retryPolicy) clamp(d time.Duration) time.Duration {
	if p.ceiling > 0 && d > p.ceiling {
		return p.ceiling
	}
	return d
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

// parseRetryAfter reads either delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	when, err := http.ParseTime(value)
	if err != nil || !when.After(now) {
		return 0
	}
	return when.Sub(now)
}
