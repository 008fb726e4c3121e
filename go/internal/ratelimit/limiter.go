// Package ratelimit caps how often a key may act inside a fixed window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Decision
}

type InMemoryLimiter struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	window time.Duration
	items  map[string]entry
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewInMemory(window time.Duration, clock clockwork.Clock) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryLimiter{
		clock:  clock,
		window: window,
		items:  make(map[string]entry),
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.clock.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	curr, ok := l.items[key]
	if !ok || !now.Before(curr.resetAt) {
		curr = entry{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr
	return decide(curr.count, limit, curr.resetAt)
}

// Forget drops a key, e.g. when its connection goes away.
func (l *InMemoryLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, key)
}

// minSweepInterval keeps short windows from sweeping the map constantly.
const minSweepInterval = time.Second

// Run drops expired keys periodically until ctx ends. Without it, keys of
// viewers that never come back stay until Forget.
func (l *InMemoryLimiter) Run(ctx context.Context) {
	interval := l.window
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.mu.Lock()
			l.cleanup(l.clock.Now().UTC())
			l.mu.Unlock()
		}
	}
}

func (l *InMemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
