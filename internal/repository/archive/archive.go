package archive

import (
	"context"
	"errors"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
)

// Archive is a read-only tile bundle. Get returns the raw tile bytes and
// whether the archive holds the tile.
type Archive interface {
	Get(ctx context.Context, k tile.Key) ([]byte, bool, error)
	Close() error
}

// Chain consults archives in order and returns the first hit. A failing
// archive is logged and skipped.
type Chain struct {
	archives []Archive
	logger   logger.Logger
}

var _ Archive = (*Chain)(nil)

func NewChain(l logger.Logger, archives ...Archive) *Chain {
	return &Chain{
		archives: archives,
		logger:   l,
	}
}

func (c *Chain) Len() int {
	return len(c.archives)
}

func (c *Chain) Get(ctx context.Context, k tile.Key) ([]byte, bool, error) {
	for i, a := range c.archives {
		data, ok, err := a.Get(ctx, k)
		if err != nil {
			c.logger.Warn("archive lookup failed", "archive", i, "tile", k.String(), "error", err)
			continue
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

func (c *Chain) Close() error {
	var errs []error
	for _, a := range c.archives {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
