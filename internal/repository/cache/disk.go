package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
	"github.com/jonboulle/clockwork"
)

// mkdirRetryWait is how long a writer waits for a concurrent writer to finish
// creating a parent directory before giving up.
var mkdirRetryWait = 500 * time.Millisecond

type FilesystemCache struct {
	root   string
	ext    string
	ttl    time.Duration
	clock  clockwork.Clock
	quota  *QuotaTracker
	logger logger.Logger
}

var _ TileCache = (*FilesystemCache)(nil)

func NewFilesystemCache(opts Options, quota *QuotaTracker, l logger.Logger) (*FilesystemCache, error) {
	opts.withDefaults()

	if opts.Root == "" {
		return nil, errors.New("cache root is empty")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	l.Info("filesystem cache initialized", "root", opts.Root, "ttl", opts.TTL)

	return &FilesystemCache{
		root:   opts.Root,
		ext:    opts.Extension,
		ttl:    opts.TTL,
		clock:  opts.Clock,
		quota:  quota,
		logger: l,
	}, nil
}

// Path returns <root>/<source>/<z>/<x>/<y><ext>.
func (c *FilesystemCache) Path(k tile.Key) string {
	return filepath.Join(c.root, k.Source, strconv.Itoa(k.Zoom), strconv.Itoa(k.X), strconv.Itoa(k.Y)+c.ext)
}

func (c *FilesystemCache) Read(k tile.Key) (*Container, bool) {
	path := c.Path(k)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to read cached tile", "path", path, "error", err)
		}
		return nil, false
	}

	container := &Container{}
	if err := container.UnmarshalBinary(data); err != nil {
		c.logger.Warn("discarding corrupt cached tile", "path", path, "error", err)
		metrics.CorruptTiles.Inc()
		return nil, false
	}

	return container, true
}

func (c *FilesystemCache) IsFresh(container *Container) bool {
	expiry, ok := container.Expiry()
	if !ok {
		return false
	}
	return c.clock.Now().UnixMilli() < expiry
}

// Write stores payload with a cache-control deadline of now+TTL.
func (c *FilesystemCache) Write(k tile.Key, payload []byte, etag string) (*Container, error) {
	container := NewContainer(payload)
	if etag != "" {
		container.SetHeader(HeaderETag, etag)
	}

	if err := c.save(k, container); err != nil {
		return nil, err
	}
	return container, nil
}

// Refresh re-stamps cache-control on an already cached tile and rewrites it
// with its existing payload.
func (c *FilesystemCache) Refresh(k tile.Key, container *Container) error {
	return c.save(k, container)
}

func (c *FilesystemCache) Remove(k tile.Key) error {
	path := c.Path(k)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat cached tile: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cached tile: %w", err)
	}

	c.account(-info.Size())
	return nil
}

func (c *FilesystemCache) save(k tile.Key, container *Container) error {
	container.SetExpiry(c.clock.Now().Add(c.ttl).UnixMilli())

	data, err := container.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode tile container: %w", err)
	}

	path := c.Path(k)
	dir := filepath.Dir(path)
	if err := c.ensureDir(dir); err != nil {
		return err
	}

	var previous int64
	if info, err := os.Stat(path); err == nil {
		previous = info.Size()
	}

	// Write atomically
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp tile file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write tile file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close tile file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename tile file: %w", err)
	}

	c.logger.Debug("tile written", "path", path, "bytes", len(data))
	c.account(int64(len(data)) - previous)

	return nil
}

// ensureDir tolerates another worker creating the same directory: when
// MkdirAll fails it waits once and checks again.
func (c *FilesystemCache) ensureDir(dir string) error {
	err := os.MkdirAll(dir, 0755)
	if err == nil {
		return nil
	}

	c.logger.Debug("failed to create tile directory, waiting and checking again", "dir", dir, "error", err)
	time.Sleep(mkdirRetryWait)

	if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
		return nil
	}
	return fmt.Errorf("create tile directory %s: %w", dir, err)
}

func (c *FilesystemCache) account(delta int64) {
	if c.quota != nil {
		c.quota.Account(delta)
	}
}

// Walk calls fn for every decodable tile of source found on disk. Files that
// do not follow the <z>/<x>/<y><ext> layout are skipped.
func (c *FilesystemCache) Walk(source string, fn func(k tile.Key, container *Container) error) error {
	base := filepath.Join(c.root, source)

	return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == base {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), c.ext) {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(strings.TrimSuffix(rel, c.ext)), "/")
		if len(parts) != 3 {
			return nil
		}

		var coords [3]int
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil
			}
			coords[i] = n
		}

		k := tile.NewKey(source, coords[0], coords[1], coords[2])
		container, ok := c.Read(k)
		if !ok {
			return nil
		}
		return fn(k, container)
	})
}
