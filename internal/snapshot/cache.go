// Package snapshot memoizes the most recent camera frame for a short TTL
// so entity refreshes do not hammer the device.
package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TTL is how long a fetched frame is served without contacting the device.
const TTL = time.Second

// FetchFunc retrieves one frame from the device at the given resolution.
type FetchFunc func(ctx context.Context, width, height int) ([]byte, error)

// Cache is a single-slot TTL cache over the device snapshot fetch. The
// slot mutex is held across the fetch, so a concurrent request while one
// is outstanding reuses that result instead of issuing its own.
type Cache struct {
	fetch  FetchFunc
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	bytes      []byte
	capturedAt time.Time
}

func New(fetch FetchFunc, logger *slog.Logger) *Cache {
	return &Cache{fetch: fetch, logger: logger, now: time.Now}
}

// Get returns the current frame, serving the cached one when it is younger
// than TTL. A fetch failure yields nil and leaves the cache untouched;
// a missing camera image is a degraded state, not an error.
func (c *Cache) Get(ctx context.Context, width, height int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.bytes != nil && now.Sub(c.capturedAt) < TTL {
		return c.bytes
	}

	bytes, err := c.fetch(ctx, width, height)
	if err != nil {
		c.logger.Warn("snapshot fetch failed", "err", err)
		return nil
	}
	if len(bytes) == 0 {
		return nil
	}

	c.bytes = bytes
	c.capturedAt = c.now()
	return bytes
}

// Invalidate drops the cached frame, forcing the next Get to fetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.bytes = nil
	c.capturedAt = time.Time{}
	c.mu.Unlock()
}
