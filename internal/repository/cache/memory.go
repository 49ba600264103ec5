package cache

import (
	"fmt"
	"image"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jonboulle/clockwork"
)

const DefaultMemoryTiles = 256

// MemoryTile is a decoded tile together with the bytes it was decoded from.
type MemoryTile struct {
	Data   []byte
	Image  image.Image
	Stored time.Time
}

// MemoryCache holds recently loaded tiles so repeated requests skip the
// queue. Entries older than maxAge are treated as misses and dropped.
type MemoryCache struct {
	tiles  *lru.Cache[tile.Key, MemoryTile]
	maxAge time.Duration
	clock  clockwork.Clock
}

func NewMemoryCache(size int, maxAge time.Duration, clock clockwork.Clock) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultMemoryTiles
	}
	if maxAge <= 0 {
		maxAge = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	tiles, err := lru.New[tile.Key, MemoryTile](size)
	if err != nil {
		return nil, fmt.Errorf("create memory tile cache: %w", err)
	}

	return &MemoryCache{
		tiles:  tiles,
		maxAge: maxAge,
		clock:  clock,
	}, nil
}

func (c *MemoryCache) Get(k tile.Key) (MemoryTile, bool) {
	t, ok := c.tiles.Get(k)
	if !ok {
		return MemoryTile{}, false
	}
	if c.clock.Since(t.Stored) >= c.maxAge {
		c.tiles.Remove(k)
		return MemoryTile{}, false
	}
	return t, true
}

func (c *MemoryCache) Add(k tile.Key, data []byte, img image.Image) {
	c.tiles.Add(k, MemoryTile{
		Data:   data,
		Image:  img,
		Stored: c.clock.Now(),
	})
}

// Purge drops every entry, e.g. when the process runs low on memory.
func (c *MemoryCache) Purge() {
	c.tiles.Purge()
}

func (c *MemoryCache) Len() int {
	return c.tiles.Len()
}
