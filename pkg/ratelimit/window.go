package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLimitExceeded is returned by Allow when any window is full.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Window caps the number of requests within a trailing Period.
type Window struct {
	Name   string
	Limit  int64
	Period time.Duration
}

// CounterFunc returns how many requests were recorded at or after since.
type CounterFunc func(ctx context.Context, since time.Time) (int64, error)

// SlidingWindowLimiter checks recorded request counts against trailing windows.
// It does not record requests itself; callers persist each attempt so the
// count survives restarts.
type SlidingWindowLimiter struct {
	windows []Window
	count   CounterFunc
	now     func() time.Time
}

func NewSlidingWindowLimiter(count CounterFunc, windows ...Window) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		windows: windows,
		count:   count,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (l *SlidingWindowLimiter) WithClock(now func() time.Time) *SlidingWindowLimiter {
	l.now = now
	return l
}

// Allow returns ErrLimitExceeded, wrapped with the window name, if any window
// already holds Limit or more requests. Windows with a non-positive Limit are ignored.
func (l *SlidingWindowLimiter) Allow(ctx context.Context) error {
	now := l.now()
	for _, w := range l.windows {
		if w.Limit <= 0 {
			continue
		}
		used, err := l.count(ctx, now.Add(-w.Period))
		if err != nil {
			return fmt.Errorf("failed to count requests for %s window: %w", w.Name, err)
		}
		if used >= w.Limit {
			return fmt.Errorf("%w: %d/%d requests in the last %s", ErrLimitExceeded, used, w.Limit, w.Name)
		}
	}
	return nil
}
