package memorylimiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is an in-memory sliding-window rate limiter keyed by (bucket, caller).
// It is the single-node fallback when Redis is not configured.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string][]time.Time // oldest first
	now     func() time.Time
}

// New constructs a limiter. A "default" entry applies to buckets without their own limit.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{limits: limits, windows: map[string][]time.Time{}, now: time.Now}
}

func (l *Limiter) limit(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

// Allow records one attempt for key in bucket and reports whether it is within the limit.
// Denied attempts are not recorded.
func (l *Limiter) Allow(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, errors.New("bucket and key required")
	}
	lim := l.limit(bucket)
	id := bucket + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Add(-lim.Window)
	ts := l.windows[id]
	i := 0
	for i < len(ts) && !ts[i].After(start) {
		i++
	}
	ts = ts[i:]

	if len(ts) >= lim.Limit {
		l.windows[id] = ts
		return false, nil
	}
	l.windows[id] = append(ts, now)
	return true, nil
}

// Sweep drops callers whose window is empty, bounding memory for one-off callers.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, ts := range l.windows {
		if len(ts) == 0 || now.Sub(ts[len(ts)-1]) > l.maxWindow() {
			delete(l.windows, id)
		}
	}
}

// SweepEvery runs Sweep on a cron schedule (e.g. "@every 1m") until stop is called.
func (l *Limiter) SweepEvery(spec string) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, l.Sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func (l *Limiter) maxWindow() time.Duration {
	longest := time.Minute
	for _, v := range l.limits {
		if v.Window > longest {
			longest = v.Window
		}
	}
	return longest
}
