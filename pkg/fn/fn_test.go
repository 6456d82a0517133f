package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var fastRetry = RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

func TestResultBasics(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	if v, err := r.Unwrap(); v != 42 || err != nil {
		t.Fatalf("unexpected %v %v", v, err)
	}
	if _, err := FromPair(0, errors.New("x")).Unwrap(); err == nil {
		t.Fatal("FromPair should keep error")
	}
	if v, err := FromPair("ok", nil).Unwrap(); v != "ok" || err != nil {
		t.Fatalf("FromPair: got %q %v", v, err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var calls int32
	r, attempts := RetryCount(context.Background(), fastRetry, func(context.Context) Result[string] {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("ok")
	})
	if r.IsErr() || attempts != 3 {
		t.Fatalf("expected success on 3rd attempt, got %v after %d", r.IsOk(), attempts)
	}
}

func TestRetryExhausts(t *testing.T) {
	var retries []int
	opts := fastRetry
	opts.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }
	r, attempts := RetryCount(context.Background(), opts, func(context.Context) Result[int] {
		return Err[int](errors.New("down"))
	})
	if r.IsOk() || attempts != 3 {
		t.Fatalf("expected 3 failed attempts, got %d", attempts)
	}
	if len(retries) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %v", retries)
	}
}

func TestRetryNotRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	opts := fastRetry
	opts.Retryable = func(err error) bool { return !errors.Is(err, fatal) }
	_, attempts := RetryCount(context.Background(), opts, func(context.Context) Result[int] {
		return Err[int](fatal)
	})
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Second}
	r := Retry(ctx, opts, func(context.Context) Result[int] {
		cancel()
		return Err[int](errors.New("x"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFanOutPreservesOrder(t *testing.T) {
	out := FanOut(
		func() int { time.Sleep(5 * time.Millisecond); return 1 },
		func() int { return 2 },
	)
	if out[0] != 1 || out[1] != 2 {
		t.Fatalf("unexpected order %v", out)
	}
}

func TestFanOutRepanicsInCaller(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic to reach the caller")
		}
	}()
	FanOut(
		func() int { return 1 },
		func() int { panic("boom") },
	)
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	first := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("stop")) })
	second := Stage[int, string](func(context.Context, int) Result[string] { called = true; return Ok("x") })
	r := TracedStage("test", Then(first, second))(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("second stage must not run after an error")
	}
}

func TestSliceHelpers(t *testing.T) {
	keys, groups := GroupByOrdered([]string{"b1", "a1", "b2"}, func(s string) byte { return s[0] })
	if len(keys) != 2 || keys[0] != 'b' || len(groups['b']) != 2 {
		t.Fatalf("GroupByOrdered: %v %v", keys, groups)
	}
	if c := Chunk([]int{1, 2, 3, 4, 5}, 2); len(c) != 3 || len(c[2]) != 1 {
		t.Fatalf("Chunk: %v", c)
	}
	if u := UniqueBy([]int{1, 2, 1, 3}, func(v int) int { return v }); len(u) != 3 {
		t.Fatalf("UniqueBy: %v", u)
	}
	if f := Filter([]int{1, 2, 3}, func(v int) bool { return v > 1 }); len(f) != 2 {
		t.Fatalf("Filter: %v", f)
	}
	if m := Map([]int{1}, func(v int) int { return v + 1 }); m[0] != 2 {
		t.Fatalf("Map: %v", m)
	}
}
