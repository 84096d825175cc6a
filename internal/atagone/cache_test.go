package atagone

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for cache window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(fetch FetchFunc) (*ReportCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewReportCache(fetch, DefaultCacheWindow)
	c.now = clock.Now
	return c, clock
}

func TestReportCacheWindow(t *testing.T) {
	var calls atomic.Int32
	c, clock := newTestCache(func(context.Context) (*RetrieveReply, error) {
		n := calls.Add(1)
		return &RetrieveReply{SeqNr: int(n), Report: &Report{}}, nil
	})
	ctx := context.Background()

	first, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	clock.Advance(4 * time.Second)
	second, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first != second {
		t.Error("Get() within window returned a different report")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetches within window = %d, want 1", got)
	}

	clock.Advance(time.Second)
	third, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if third == first {
		t.Error("Get() after window returned the stale report")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetches after window = %d, want 2", got)
	}
}

func TestReportCacheCoalescesConcurrentCallers(t *testing.T) {
	const callers = 20

	var calls atomic.Int32
	release := make(chan struct{})
	c, _ := newTestCache(func(context.Context) (*RetrieveReply, error) {
		calls.Add(1)
		<-release
		return &RetrieveReply{Report: &Report{}}, nil
	})

	var wg sync.WaitGroup
	results := make([]*RetrieveReply, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background())
		}()
	}

	// Let every caller reach the in-flight fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d got a different report", i)
		}
	}
}

func TestReportCacheDoesNotCacheFailures(t *testing.T) {
	errDevice := errors.New("device down")
	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)

	c, _ := newTestCache(func(context.Context) (*RetrieveReply, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errDevice
		}
		return &RetrieveReply{Report: &Report{}}, nil
	})
	ctx := context.Background()

	if _, err := c.Get(ctx); !errors.Is(err, errDevice) {
		t.Fatalf("Get() error = %v, want %v", err, errDevice)
	}
	if _, err := c.Get(ctx); !errors.Is(err, errDevice) {
		t.Fatalf("second Get() error = %v, want %v", err, errDevice)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2 (failures must not be cached)", got)
	}

	fail.Store(false)
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("Get() after recovery error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
}

func TestReportCacheSharesFailureWithWaiters(t *testing.T) {
	errDevice := errors.New("device down")
	release := make(chan struct{})
	var calls atomic.Int32
	c, _ := newTestCache(func(context.Context) (*RetrieveReply, error) {
		calls.Add(1)
		<-release
		return nil, errDevice
	})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, errDevice) {
			t.Errorf("caller %d error = %v, want %v", i, err, errDevice)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestReportCacheCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestCache(func(context.Context) (*RetrieveReply, error) {
		<-release
		return &RetrieveReply{Report: &Report{}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Get() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get() did not return after cancellation")
	}

	// The fetch still completes and populates the cache for later callers.
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := c.Peek(); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("abandoned fetch did not populate the cache")
}

func TestReportCacheInvalidate(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestCache(func(context.Context) (*RetrieveReply, error) {
		calls.Add(1)
		return &RetrieveReply{Report: &Report{}}, nil
	})
	ctx := context.Background()

	if _, err := c.Get(ctx); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()
	if _, _, ok := c.Peek(); ok {
		t.Error("Peek() after Invalidate() reported a report")
	}
	if _, err := c.Get(ctx); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestReportCacheInvalidateDuringFetch(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := newTestCache(func(context.Context) (*RetrieveReply, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-release
		}
		return &RetrieveReply{SeqNr: int(n), Report: &Report{}}, nil
	})
	ctx := context.Background()

	type result struct {
		reply *RetrieveReply
		err   error
	}
	before := make(chan result, 1)
	go func() {
		reply, err := c.Get(ctx)
		before <- result{reply, err}
	}()
	<-started

	// A write lands while the first fetch is still in flight.
	c.Invalidate()

	after, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get() after Invalidate() error = %v", err)
	}
	if after.SeqNr != 2 {
		t.Errorf("Get() after Invalidate() seqnr = %d, want 2 from a new fetch", after.SeqNr)
	}

	close(release)
	res := <-before
	if res.err != nil {
		t.Fatalf("Get() before Invalidate() error = %v", res.err)
	}
	if res.reply.SeqNr != 1 {
		t.Errorf("Get() before Invalidate() seqnr = %d, want 1", res.reply.SeqNr)
	}

	if got := c.Fetches(); got != 2 {
		t.Errorf("Fetches() = %d, want 2", got)
	}
	cached, _, ok := c.Peek()
	if !ok || cached.SeqNr != 2 {
		t.Errorf("Peek() = %+v, %v; the stale fetch must not repopulate the cache", cached, ok)
	}
}
