package warehouse

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy bounds retries of transient HTTP failures (5xx, 429,
// transport errors) with exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy mirrors the backoff used for upstream API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		Multiplier:      2.0,
	}
}

// Interval returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Interval(attempt int) time.Duration {
	d := p.InitialInterval
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// PollPolicy bounds the job-completion polling loop: increasing wait
// intervals under an elapsed-time ceiling. Exceeding the ceiling is a
// TimeoutError; the remote job keeps running and is abandoned locally.
type PollPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsed      time.Duration
}

// DefaultPollPolicy waits up to two minutes for a job to finish.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
		MaxElapsed:      2 * time.Minute,
	}
}

// Next returns the interval that follows cur.
func (p PollPolicy) Next(cur time.Duration) time.Duration {
	n := time.Duration(float64(cur) * p.Multiplier)
	if n > p.MaxInterval {
		return p.MaxInterval
	}
	if n < cur {
		// Multiplier below 1 would stall the loop.
		return cur
	}
	return n
}

// retryAfter extracts a server-suggested wait from a throttled response,
// checking the standard Retry-After header in both seconds and HTTP-date
// form. Zero means no suggestion.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// wait sleeps for d unless the context is cancelled first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
