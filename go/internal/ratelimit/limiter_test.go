package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryLimiterOnePerWindow(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	limiter := NewInMemory(100*time.Millisecond, clock)
	ctx := context.Background()

	if d := limiter.Allow(ctx, "viewer-1", 1); !d.Allowed {
		t.Fatalf("first message should pass: %+v", d)
	}
	if d := limiter.Allow(ctx, "viewer-1", 1); d.Allowed || d.Remaining != 0 {
		t.Fatalf("second message inside the window should be refused: %+v", d)
	}
	if d := limiter.Allow(ctx, "viewer-2", 1); !d.Allowed {
		t.Fatalf("other keys are independent: %+v", d)
	}

	clock.Advance(100 * time.Millisecond)
	if d := limiter.Allow(ctx, "viewer-1", 1); !d.Allowed || d.Count != 1 {
		t.Fatalf("expected a fresh window, got %+v", d)
	}

	limiter.Forget("viewer-1")
	if d := limiter.Allow(ctx, "viewer-1", 1); !d.Allowed {
		t.Fatalf("forgotten key should start over: %+v", d)
	}
}

func TestInMemoryLimiterSweepsExpiredKeys(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	limiter := NewInMemory(100*time.Millisecond, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, key := range []string{"a", "b", "c"} {
		limiter.Allow(ctx, key, 1)
	}
	// Allow itself never sweeps.
	clock.Advance(200 * time.Millisecond)
	limiter.Allow(ctx, "d", 1)
	if n := limiter.size(); n != 4 {
		t.Fatalf("size = %d, want 4 before the sweep", n)
	}

	done := make(chan struct{})
	go func() {
		limiter.Run(ctx)
		close(done)
	}()
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for limiter.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("size = %d after the sweep, want 0", limiter.size())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestInMemoryLimiterLimitFloor(t *testing.T) {
	t.Parallel()
	d := NewInMemory(time.Minute, clockwork.NewFakeClock()).Allow(context.Background(), "k", 0)
	if !d.Allowed || d.Limit != 1 {
		t.Fatalf("expected fallback limit=1 and allowed decision, got %+v", d)
	}
}

func TestRedisLimiter(t *testing.T) {
	t.Parallel()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter := NewRedis(client, 100*time.Millisecond)
	ctx := context.Background()

	if d := limiter.Allow(ctx, "viewer-1", 1); !d.Allowed || d.Count != 1 {
		t.Fatalf("unexpected first decision: %+v", d)
	}
	if d := limiter.Allow(ctx, "viewer-1", 1); d.Allowed || d.Count != 2 {
		t.Fatalf("unexpected second decision: %+v", d)
	}
	mr.FastForward(150 * time.Millisecond)
	if d := limiter.Allow(ctx, "viewer-1", 1); !d.Allowed || d.Count != 1 {
		t.Fatalf("expected counter reset after window, got %+v", d)
	}
}

func TestRedisLimiterUnavailable(t *testing.T) {
	t.Parallel()
	client := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  5 * time.Millisecond,
		ReadTimeout:  5 * time.Millisecond,
		WriteTimeout: 5 * time.Millisecond,
		MaxRetries:   0,
	})
	defer client.Close()
	limiter := NewRedis(client, time.Second)

	if d := limiter.Allow(context.Background(), "viewer-1", 1); !d.Allowed {
		t.Fatalf("expected in-memory fallback allow on redis outage, got %+v", d)
	}
	if d := limiter.Allow(context.Background(), "viewer-1", 1); d.Allowed {
		t.Fatalf("expected fallback limiter to enforce limits, got %+v", d)
	}
}
