package atagone

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheWindow is how long a fetched report is served from cache.
const DefaultCacheWindow = 5 * time.Second

// reportKey is the single singleflight key; there is one report per device.
const reportKey = "report"

// FetchFunc retrieves a fresh report.
type FetchFunc func(ctx context.Context) (*RetrieveReply, error)

// ReportCache serves one fetched report to every reader for a short window
// and coalesces concurrent fetches into one request.
//
// The window starts when a fetch completes. Failed fetches are handed to
// every caller waiting on them and are not cached.
type ReportCache struct {
	fetch  FetchFunc
	window time.Duration
	now    func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	reply     *RetrieveReply
	fetchedAt time.Time
	fetches   uint64
	// generation is bumped by Invalidate; a fetch started before the bump
	// does not repopulate the cache.
	generation uint64
}

// NewReportCache returns a cache around fetch. A non-positive window selects
// DefaultCacheWindow.
func NewReportCache(fetch FetchFunc, window time.Duration) *ReportCache {
	if window <= 0 {
		window = DefaultCacheWindow
	}
	return &ReportCache{
		fetch:  fetch,
		window: window,
		now:    time.Now,
	}
}

// Get returns the cached report if it is still fresh, otherwise joins or
// starts a fetch.
//
// If ctx ends while waiting, Get returns ctx.Err(). The fetch itself keeps
// running for the other waiters and is not bound to any single caller's
// context.
func (c *ReportCache) Get(ctx context.Context) (*RetrieveReply, error) {
	if reply, ok := c.fresh(); ok {
		return reply, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(reportKey, func() (any, error) {
		// A fetch may have completed between the freshness check and joining.
		if reply, ok := c.fresh(); ok {
			return reply, nil
		}
		c.mu.Lock()
		gen := c.generation
		c.mu.Unlock()

		reply, err := c.fetch(fetchCtx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.fetches++
		if err != nil {
			return nil, err
		}
		if gen == c.generation {
			c.reply = reply
			c.fetchedAt = c.now()
		}
		return reply, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RetrieveReply), nil //nolint:forcetypeassert // Only *RetrieveReply is stored
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached report so the next Get fetches. A fetch
// already in flight is detached: callers waiting on it still receive its
// result, but later callers start a new one.
func (c *ReportCache) Invalidate() {
	c.mu.Lock()
	c.reply = nil
	c.fetchedAt = time.Time{}
	c.generation++
	c.group.Forget(reportKey)
	c.mu.Unlock()
}

// Peek returns the last successful report and when it was fetched, without
// regard to freshness. It never fetches.
func (c *ReportCache) Peek() (*RetrieveReply, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reply == nil {
		return nil, time.Time{}, false
	}
	return c.reply, c.fetchedAt, true
}

// Fetches returns the number of completed fetch attempts.
func (c *ReportCache) Fetches() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

func (c *ReportCache) fresh() (*RetrieveReply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reply == nil {
		return nil, false
	}
	if c.now().Sub(c.fetchedAt) >= c.window {
		return nil, false
	}
	return c.reply, true
}
