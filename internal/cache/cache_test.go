package cache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amora-labs/amora/client/internal/cache"
)

func newTestCache(maxEntries int) *cache.Cache {
	return cache.New(cache.Options{
		DefaultTTL: time.Minute,
		MaxEntries: maxEntries,
		// no sweep goroutine in tests that do not need it
	})
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.Set("k", "v", 100*time.Millisecond)

	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("immediate get: got %v ok=%v", v, ok)
	}
}

func TestGetReturnsNothingAfterTTL(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.Set("k", "v", 100*time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	if v, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after ttl, got %v", v)
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted on read, len=%d", c.Len())
	}
}

func TestSetAtCapacityEvictsOldest(t *testing.T) {
	c := newTestCache(2)
	defer c.Close()

	c.Set("oldest", 1, time.Minute)
	time.Sleep(5 * time.Millisecond)
	c.Set("middle", 2, time.Minute)
	time.Sleep(5 * time.Millisecond)
	c.Set("newest", 3, time.Minute)

	if c.Len() != 2 {
		t.Fatalf("capacity exceeded: len=%d", c.Len())
	}
	if _, ok := c.Get("oldest"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get("middle"); !ok {
		t.Fatal("middle entry unexpectedly evicted")
	}
	if _, ok := c.Get("newest"); !ok {
		t.Fatal("newest entry unexpectedly evicted")
	}
}

func TestOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c := newTestCache(2)
	defer c.Close()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("a", 3, time.Minute)

	if c.Len() != 2 {
		t.Fatalf("overwrite changed size: len=%d", c.Len())
	}
	if v, _ := c.Get("a"); v != 3 {
		t.Fatalf("overwrite lost: got %v", v)
	}
}

func TestGetAs(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.Set("n", 42, time.Minute)

	if n, ok := cache.GetAs[int](c, "n"); !ok || n != 42 {
		t.Fatalf("typed get: got %d ok=%v", n, ok)
	}
	if _, ok := cache.GetAs[string](c, "n"); ok {
		t.Fatal("wrong type should miss")
	}
}

func TestGetOrSetInvokesFactoryOnce(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	calls := 0
	factory := func() any {
		calls++
		return "made"
	}

	if v := c.GetOrSet("k", factory, time.Minute); v != "made" {
		t.Fatalf("first call: got %v", v)
	}
	if v := c.GetOrSet("k", factory, time.Minute); v != "made" {
		t.Fatalf("second call: got %v", v)
	}
	if calls != 1 {
		t.Fatalf("factory invoked %d times, want 1", calls)
	}
}

func TestGetOrSetAsyncDeduplicatesConcurrentCallers(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]any, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrSetAsync(context.Background(), "k", factory, time.Minute)
			if err != nil {
				t.Errorf("worker %d: %v", idx, err)
				return
			}
			results[idx] = v
		}(i)
	}

	// Let the goroutines pile up behind the in-flight call, then release it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("factory invoked %d times, want 1", got)
	}
	for i, v := range results {
		if v != "shared" {
			t.Fatalf("worker %d got %v", i, v)
		}
	}
}

func TestGetOrSetAsyncContextCancelledWhileWaiting(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	release := make(chan struct{})
	go func() {
		_, _ = c.GetOrSetAsync(context.Background(), "k", func(context.Context) (any, error) {
			<-release
			return "late", nil
		}, time.Minute)
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetOrSetAsync(ctx, "k", func(context.Context) (any, error) {
		return nil, nil
	}, time.Minute); err == nil {
		t.Fatal("expected context error for cancelled waiter")
	}
	close(release)
}

func TestGetOrSetAsyncFactoryPanicReleasesKey(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var doomedErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, doomedErr = c.GetOrSetAsync(context.Background(), "k", func(context.Context) (any, error) {
			close(entered)
			<-release
			panic("factory blew up")
		}, time.Minute)
	}()

	// Park a waiter behind the in-flight call, then let the factory panic.
	<-entered
	waiterDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrSetAsync(context.Background(), "k", func(context.Context) (any, error) {
			return "after release", nil
		}, time.Minute)
		waiterDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	// The waiter must resolve, never block forever on the doomed call.
	select {
	case <-waiterDone:
	case <-time.After(3 * time.Second):
		t.Fatal("waiter still blocked after factory panic")
	}

	wg.Wait()
	if doomedErr == nil {
		t.Fatal("panicking factory returned no error")
	}

	// The key is released: a fresh call runs a fresh factory.
	v, err := c.GetOrSetAsync(context.Background(), "k", func(context.Context) (any, error) {
		return "recovered", nil
	}, time.Minute)
	if err != nil || v != "recovered" {
		t.Fatalf("key still poisoned after factory panic: val=%v err=%v", v, err)
	}
}

func TestClearGroupEvictsMembers(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.Set("ch1:messages", "m", time.Minute)
	c.Set("ch1:meta", "x", time.Minute)
	c.Set("ch2:messages", "other", time.Minute)
	c.AddToGroup("channel:ch1", "ch1:messages")
	c.AddToGroup("channel:ch1", "ch1:meta")

	c.ClearGroup("channel:ch1")

	if _, ok := c.Get("ch1:messages"); ok {
		t.Fatal("group member survived ClearGroup")
	}
	if _, ok := c.Get("ch1:meta"); ok {
		t.Fatal("group member survived ClearGroup")
	}
	if _, ok := c.Get("ch2:messages"); !ok {
		t.Fatal("unrelated key evicted by ClearGroup")
	}
}

func TestRemoveFromGroupKeepsEntry(t *testing.T) {
	c := newTestCache(10)
	defer c.Close()

	c.Set("k", "v", time.Minute)
	c.AddToGroup("g", "k")
	c.RemoveFromGroup("g", "k")
	c.ClearGroup("g")

	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry removed after detaching from group")
	}
}

func TestBackgroundSweepRemovesExpired(t *testing.T) {
	c := cache.New(cache.Options{
		DefaultTTL:    time.Minute,
		MaxEntries:    10,
		SweepInterval: 20 * time.Millisecond,
	})
	defer c.Close()

	c.Set("short", "v", 10*time.Millisecond)
	c.Set("long", "v", time.Minute)

	time.Sleep(60 * time.Millisecond)

	if c.Len() != 1 {
		t.Fatalf("sweep result len=%d, want 1", c.Len())
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatal("unexpired entry swept")
	}
}
