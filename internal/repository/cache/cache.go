package cache

import (
	"errors"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jonboulle/clockwork"
)

// ErrNotCached is reported when a tile has no usable copy on disk or in any
// archive and the network may not be used.
var ErrNotCached = errors.New("tile not cached")

// TileCache is the disk-backed store the tile loader reads from and writes to.
type TileCache interface {
	Read(k tile.Key) (*Container, bool)
	IsFresh(c *Container) bool
	Write(k tile.Key, payload []byte, etag string) (*Container, error)
	Refresh(k tile.Key, c *Container) error
	Remove(k tile.Key) error
}

type Options struct {
	Root      string
	Extension string
	TTL       time.Duration
	Clock     clockwork.Clock
}

const (
	DefaultExtension = ".tile"
	DefaultTTL       = 300 * time.Second
)

func (o *Options) withDefaults() {
	if o.Extension == "" {
		o.Extension = DefaultExtension
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}
