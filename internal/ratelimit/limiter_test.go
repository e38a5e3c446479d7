package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"watchpost/internal/kvstore"
)

// waitForFreshSecond sleeps until the start of the next wall-clock second so
// the fixed window cannot roll over in the middle of a test.
func waitForFreshSecond(t *testing.T) {
	t.Helper()
	now := time.Now()
	time.Sleep(now.Truncate(time.Second).Add(time.Second).Sub(now))
}

func TestLimiterAllow(t *testing.T) {
	limiter := New(kvstore.NewMemoryStore(), 2)
	ctx := context.Background()

	waitForFreshSecond(t)

	if !limiter.Allow(ctx, "user:1") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow(ctx, "user:1") {
		t.Error("second request should be allowed")
	}
	if limiter.Allow(ctx, "user:1") {
		t.Error("third request in the same second should be denied")
	}

	// A different key has its own budget
	if !limiter.Allow(ctx, "user:2") {
		t.Error("separate key should be allowed")
	}
}

func TestLimiterWindowRollover(t *testing.T) {
	limiter := New(kvstore.NewMemoryStore(), 1)
	ctx := context.Background()

	waitForFreshSecond(t)

	if !limiter.Allow(ctx, "user:1") {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow(ctx, "user:1") {
		t.Fatal("second request should be denied")
	}

	waitForFreshSecond(t)

	if !limiter.Allow(ctx, "user:1") {
		t.Error("new second should reset the budget")
	}
}

func TestLimiterFloorsRate(t *testing.T) {
	// Zero and negative rates floor to one request per second
	limiter := New(kvstore.NewMemoryStore(), 0)
	ctx := context.Background()

	waitForFreshSecond(t)

	if !limiter.Allow(ctx, "user:1") {
		t.Error("floored limiter should still allow one request")
	}
	if limiter.Allow(ctx, "user:1") {
		t.Error("floored limiter should deny the second request")
	}
}

// brokenStore fails every operation. The limiter must fail open on it.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("backend down")
}

func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("backend down")
}

func (brokenStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("backend down")
}

func (brokenStore) Delete(context.Context, string) error {
	return errors.New("backend down")
}

func (brokenStore) Close() error { return nil }

func TestLimiterFailsOpen(t *testing.T) {
	limiter := New(brokenStore{}, 1)

	for i := 0; i < 3; i++ {
		if !limiter.Allow(context.Background(), "user:1") {
			t.Fatal("limiter must fail open when the store is unavailable")
		}
	}
}
