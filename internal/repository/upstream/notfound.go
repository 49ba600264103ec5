package upstream

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultNotFoundWindow   = time.Hour
	DefaultNotFoundCapacity = 2000
)

// NotFoundCache remembers URLs that answered 404 so they are not requested
// again until their window elapses. The least recently touched URL is
// dropped when the cache is full.
type NotFoundCache struct {
	entries *lru.Cache[string, int64]
	window  time.Duration
	clock   clockwork.Clock
}

func NewNotFoundCache(capacity int, window time.Duration, clock clockwork.Clock) (*NotFoundCache, error) {
	if capacity <= 0 {
		capacity = DefaultNotFoundCapacity
	}
	if window <= 0 {
		window = DefaultNotFoundWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	entries, err := lru.New[string, int64](capacity)
	if err != nil {
		return nil, fmt.Errorf("create not-found cache: %w", err)
	}

	return &NotFoundCache{
		entries: entries,
		window:  window,
		clock:   clock,
	}, nil
}

// Record suppresses url until now+window.
func (c *NotFoundCache) Record(url string) {
	c.entries.Add(url, c.clock.Now().Add(c.window).UnixMilli())
}

// Suppressed reports whether url has a live entry. Expired entries are
// removed on lookup.
func (c *NotFoundCache) Suppressed(url string) bool {
	expiry, ok := c.entries.Get(url)
	if !ok {
		return false
	}
	if c.clock.Now().UnixMilli() < expiry {
		return true
	}
	c.entries.Remove(url)
	return false
}

func (c *NotFoundCache) Len() int {
	return c.entries.Len()
}
