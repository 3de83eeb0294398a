package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS = 100ms interval, burst 1.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_AllowPerClient(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("third request within a second should be rejected")
	}
	if !l.Allow("b") {
		t.Fatal("other clients have their own bucket")
	}
	if got := l.Len(); got != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", got)
	}
}

func TestLimiter_DisabledWhenRateUnset(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d rejected with limiting disabled", i)
		}
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New(Config{RPS: 0.1, Burst: 1})
	_ = l.Allow("a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "a"); err == nil {
		t.Fatal("expected error when the context expires before a token")
	}
}
