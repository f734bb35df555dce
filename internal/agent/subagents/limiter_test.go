package subagents

import (
	"context"
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{0, 1, 4, 1},
		{2, 1, 4, 2},
		{100, 1, 4, 4},
		{-5, 1, 64, 1},
	}
	for _, tt := range tests {
		if got := clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestLimiterAcquireRelease(t *testing.T) {
	l := NewLimiter(1)
	ctx := context.Background()
	cancelled := make(chan struct{})

	if !l.Acquire(ctx, cancelled) {
		t.Fatal("Acquire() = false, want true")
	}

	acquired := make(chan bool, 1)
	go func() {
		acquired <- l.Acquire(ctx, cancelled)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire() returned before Release()")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()

	select {
	case ok := <-acquired:
		if !ok {
			t.Fatal("second Acquire() = false after Release(), want true")
		}
	case <-time.After(time.Second):
		t.Fatal("second Acquire() never unblocked after Release()")
	}
}

func TestLimiterAcquireCancelled(t *testing.T) {
	l := NewLimiter(1)
	ctx := context.Background()
	cancelled := make(chan struct{})

	if !l.Acquire(ctx, cancelled) {
		t.Fatal("Acquire() = false, want true")
	}

	close(cancelled)

	if l.Acquire(ctx, cancelled) {
		t.Fatal("Acquire() = true after cancellation signal closed, want false")
	}
}

func TestLimiterReleaseWithoutAcquireDoesNotPanic(t *testing.T) {
	l := NewLimiter(1)
	l.Release()
}

func TestGlobalFirstWriterWins(t *testing.T) {
	resetGlobalForTest()
	defer resetGlobalForTest()

	a := Global(2)
	b := Global(64)
	if a != b {
		t.Fatal("Global() returned different instances across calls")
	}
}
