package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	count      int64
	pttl       int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal([]interface{}{m.count, m.pttl})
	return cmd
}

func newTestRedisLimiter(mock *mockRedisEvaler, window time.Duration, max int) *redisSendRateLimiter {
	return &redisSendRateLimiter{
		client: mock,
		window: window,
		max:    max,
		prefix: "chat:send:rl:",
	}
}

func TestRedisSendRateLimiterAllow(t *testing.T) {
	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *redisSendRateLimiter
		if ok, _ := l.Allow("alice@example.com", "alice@example.com|bob@example.com"); !ok {
			t.Fatalf("expected fail-open for nil limiter")
		}
	})

	t.Run("empty identity or room rejected", func(t *testing.T) {
		l := newTestRedisLimiter(&mockRedisEvaler{count: 1}, time.Minute, 3)
		if ok, _ := l.Allow("   ", "a|b"); ok {
			t.Fatalf("expected empty identity to be rejected")
		}
		if ok, _ := l.Allow("alice", ""); ok {
			t.Fatalf("expected empty room to be rejected")
		}
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{count: 2, pttl: 90000}
		l := newTestRedisLimiter(mock, 2*time.Minute, 3)
		ok, retry := l.Allow(" Alice@Example.com ", "alice@example.com|bob@example.com")
		if !ok || retry != 0 {
			t.Fatalf("expected allow when count <= max, got ok=%v retry=%s", ok, retry)
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "chat:send:rl:alice@example.com:alice@example.com|bob@example.com" {
			t.Fatalf("unexpected key, got %+v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != int64(120000) {
			t.Fatalf("expected window ms=120000, got %+v", mock.lastArgs)
		}
		if mock.lastScript != redisSendAllowScript {
			t.Fatalf("expected script to match")
		}
	})

	t.Run("deny with retry-after from ttl", func(t *testing.T) {
		l := newTestRedisLimiter(&mockRedisEvaler{count: 4, pttl: 1500}, time.Minute, 3)
		ok, retry := l.Allow("alice@example.com", "a|b")
		if ok || retry != 1500*time.Millisecond {
			t.Fatalf("expected deny with 1.5s retry, got ok=%v retry=%s", ok, retry)
		}
	})

	t.Run("deny without ttl falls back to window", func(t *testing.T) {
		l := newTestRedisLimiter(&mockRedisEvaler{count: 4, pttl: -1}, time.Minute, 3)
		if _, retry := l.Allow("alice@example.com", "a|b"); retry != time.Minute {
			t.Fatalf("expected window as retry, got %s", retry)
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := newTestRedisLimiter(&mockRedisEvaler{err: errors.New("redis down")}, time.Minute, 3)
		if ok, _ := l.Allow("alice@example.com", "a|b"); !ok {
			t.Fatalf("expected fail-open on redis errors")
		}
	})
}

func TestSendRateLimiter_InMemoryWindow(t *testing.T) {
	l := newSendRateLimiter(time.Minute, 2)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow("alice", "alice|bob"); !ok {
		t.Fatalf("expected first send allowed")
	}
	now = now.Add(20 * time.Second)
	if ok, _ := l.Allow("alice", "alice|bob"); !ok {
		t.Fatalf("expected second send allowed")
	}
	ok, retry := l.Allow("alice", "alice|bob")
	if ok || retry != 40*time.Second {
		t.Fatalf("expected third send denied with 40s retry, got ok=%v retry=%s", ok, retry)
	}
	if ok, _ := l.Allow("alice", "alice|carl"); !ok {
		t.Fatalf("expected limits to be per room")
	}
	if ok, _ := l.Allow("bob", "alice|bob"); !ok {
		t.Fatalf("expected limits to be per sender")
	}

	now = now.Add(41 * time.Second)
	if ok, _ := l.Allow("alice", "alice|bob"); !ok {
		t.Fatalf("expected slot freed after the first hit expired")
	}
}

func TestSendRateLimiter_SweepsIdleKeys(t *testing.T) {
	l := newSendRateLimiter(time.Minute, 5)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for _, room := range []string{"a|b", "a|c", "a|d"} {
		l.Allow("a", room)
	}
	if len(l.hits) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(l.hits))
	}

	now = now.Add(2 * time.Minute)
	l.Allow("z", "y|z")
	if len(l.hits) != 1 {
		t.Fatalf("expected idle keys pruned, got %d", len(l.hits))
	}
}
