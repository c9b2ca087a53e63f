package memorylimiter

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_SlidingWindow(t *testing.T) {
	l := New(map[string]Limit{"sign": {Limit: 2, Window: time.Minute}})
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "sign", "svc-a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "sign", "svc-a")
	require.False(t, ok)

	// callers have independent budgets
	ok, _ = l.Allow(ctx, "sign", "svc-b")
	require.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "sign", "svc-a")
	require.True(t, ok)
}

func TestLimiter_DefaultsAndValidation(t *testing.T) {
	l := New(map[string]Limit{"default": {Limit: 1, Window: time.Minute}})
	ctx := context.Background()
	ok, _ := l.Allow(ctx, "other", "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "other", "k")
	require.False(t, ok)

	_, err := l.Allow(ctx, "", "k")
	require.Error(t, err)

	var nilLimiter *Limiter
	ok, err = nilLimiter.Allow(ctx, "sign", "k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiter_Sweep(t *testing.T) {
	l := New(map[string]Limit{"sign": {Limit: 5, Window: time.Minute}})
	now := time.Now()
	l.now = func() time.Time { return now }
	_, _ = l.Allow(context.Background(), "sign", "k")
	now = now.Add(2 * time.Minute)
	l.Sweep()
	require.Empty(t, l.windows)
}

func TestLimiter_SweepEvery(t *testing.T) {
	l := New(map[string]Limit{"sign": {Limit: 5, Window: time.Minute}})
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	l.now = func() time.Time { return time.Unix(0, clock.Load()) }

	for i := 0; i < 50; i++ {
		_, _ = l.Allow(context.Background(), "sign", fmt.Sprintf("caller-%d", i))
	}
	clock.Add(int64(2 * time.Minute))

	stop, err := l.SweepEvery("@every 1s")
	require.NoError(t, err)
	defer stop()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.windows) == 0
	}, 3*time.Second, 50*time.Millisecond)

	_, err = l.SweepEvery("whenever")
	require.Error(t, err)
}
