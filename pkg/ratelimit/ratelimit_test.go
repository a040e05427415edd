package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	times []time.Time
}

func (f *fakeLog) count(_ context.Context, since time.Time) (int64, error) {
	var n int64
	for _, t := range f.times {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

func TestSlidingWindowLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	log := &fakeLog{}
	limiter := NewSlidingWindowLimiter(log.count,
		Window{Name: "minute", Limit: 2, Period: time.Minute},
		Window{Name: "hour", Limit: 3, Period: time.Hour},
	).WithClock(func() time.Time { return now })

	require.NoError(t, limiter.Allow(context.Background()))
	log.times = append(log.times, now)
	require.NoError(t, limiter.Allow(context.Background()))
	log.times = append(log.times, now)

	err := limiter.Allow(context.Background())
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Contains(t, err.Error(), "minute")

	now = now.Add(61 * time.Second)
	require.NoError(t, limiter.Allow(context.Background()))
	log.times = append(log.times, now)

	now = now.Add(2 * time.Minute)
	err = limiter.Allow(context.Background())
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Contains(t, err.Error(), "hour")
}

func TestSlidingWindowLimiter_IgnoresDisabledWindow(t *testing.T) {
	limiter := NewSlidingWindowLimiter(func(context.Context, time.Time) (int64, error) {
		return 1000, nil
	}, Window{Name: "minute", Limit: 0, Period: time.Minute})
	assert.NoError(t, limiter.Allow(context.Background()))
}

func TestSlidingWindowLimiter_CounterError(t *testing.T) {
	boom := errors.New("boom")
	limiter := NewSlidingWindowLimiter(func(context.Context, time.Time) (int64, error) {
		return 0, boom
	}, Window{Name: "minute", Limit: 1, Period: time.Minute})
	err := limiter.Allow(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrLimitExceeded)
}

func TestLimiterStore_SameKeySameLimiter(t *testing.T) {
	store := NewSpacingStore(time.Second)
	assert.Same(t, store.GetLimiter("a"), store.GetLimiter("a"))
	assert.NotSame(t, store.GetLimiter("a"), store.GetLimiter("b"))
}

func TestNewSpacingStore_ZeroDelayNeverWaits(t *testing.T) {
	limiter := NewSpacingStore(0).GetLimiter("k")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
}
