package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, quota *QuotaTracker) (*FilesystemCache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	c, err := NewFilesystemCache(Options{
		Root:  t.TempDir(),
		TTL:   time.Minute,
		Clock: clock,
	}, quota, logger.NewNop())
	require.NoError(t, err)
	return c, clock
}

func TestFilesystemCache_Path(t *testing.T) {
	root := t.TempDir()
	c, err := NewFilesystemCache(Options{Root: root}, nil, logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "osm", "3", "1", "2.tile"), c.Path(tile.NewKey("osm", 3, 1, 2)))
}

func TestFilesystemCache_WriteThenRead(t *testing.T) {
	c, clock := newTestCache(t, nil)
	k := tile.NewKey("osm", 3, 1, 2)

	_, ok := c.Read(k)
	assert.False(t, ok)

	written, err := c.Write(k, []byte("bytes"), "abc")
	require.NoError(t, err)

	read, ok := c.Read(k)
	require.True(t, ok)
	assert.Equal(t, written.Payload, read.Payload)
	assert.Equal(t, "abc", read.ETag())

	expiry, ok := read.Expiry()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), expiry)
	assert.True(t, c.IsFresh(read))

	clock.Advance(time.Minute)
	assert.False(t, c.IsFresh(read), "fresh only while now < expiry")
}

func TestFilesystemCache_WriteWithoutETag(t *testing.T) {
	c, _ := newTestCache(t, nil)
	k := tile.NewKey("osm", 1, 0, 0)

	_, err := c.Write(k, []byte("bytes"), "")
	require.NoError(t, err)

	read, ok := c.Read(k)
	require.True(t, ok)
	assert.Equal(t, "", read.ETag())
	_, has := read.Headers[HeaderETag]
	assert.False(t, has)
}

func TestFilesystemCache_RefreshKeepsPayload(t *testing.T) {
	c, clock := newTestCache(t, nil)
	k := tile.NewKey("osm", 3, 1, 2)

	_, err := c.Write(k, []byte("bytes"), "abc")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	stale, ok := c.Read(k)
	require.True(t, ok)
	require.False(t, c.IsFresh(stale))

	require.NoError(t, c.Refresh(k, stale))

	fresh, ok := c.Read(k)
	require.True(t, ok)
	assert.True(t, c.IsFresh(fresh))
	assert.Equal(t, []byte("bytes"), fresh.Payload)
	assert.Equal(t, "abc", fresh.ETag())
}

func TestFilesystemCache_CorruptFileIsAMiss(t *testing.T) {
	c, _ := newTestCache(t, nil)
	k := tile.NewKey("osm", 3, 1, 2)

	require.NoError(t, os.MkdirAll(filepath.Dir(c.Path(k)), 0755))
	require.NoError(t, os.WriteFile(c.Path(k), []byte("not a container"), 0644))

	_, ok := c.Read(k)
	assert.False(t, ok)
}

func TestFilesystemCache_RemoveAccountsQuota(t *testing.T) {
	root := t.TempDir()
	quota, err := NewQuotaTracker(root, 1<<20, 1<<19, logger.NewNop())
	require.NoError(t, err)
	<-quota.Ready()

	c, err := NewFilesystemCache(Options{Root: root}, quota, logger.NewNop())
	require.NoError(t, err)
	k := tile.NewKey("osm", 3, 1, 2)

	_, err = c.Write(k, make([]byte, 100), "")
	require.NoError(t, err)
	info, err := os.Stat(c.Path(k))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), quota.Usage())

	// overwriting only accounts the difference
	_, err = c.Write(k, make([]byte, 50), "")
	require.NoError(t, err)
	info, err = os.Stat(c.Path(k))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), quota.Usage())

	require.NoError(t, c.Remove(k))
	assert.EqualValues(t, 0, quota.Usage())
	require.NoError(t, c.Remove(k), "removing a missing tile is not an error")
}

func TestFilesystemCache_EnsureDirToleratesConcurrentCreation(t *testing.T) {
	c, _ := newTestCache(t, nil)
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, c.ensureDir(dir))
	require.NoError(t, c.ensureDir(dir))

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	prev := mkdirRetryWait
	mkdirRetryWait = time.Millisecond
	defer func() { mkdirRetryWait = prev }()

	assert.Error(t, c.ensureDir(filepath.Join(blocker, "child")))
}

func TestFilesystemCache_Walk(t *testing.T) {
	c, _ := newTestCache(t, nil)

	keys := []tile.Key{
		tile.NewKey("osm", 0, 0, 0),
		tile.NewKey("osm", 3, 1, 2),
		tile.NewKey("osm", 3, 7, 7),
	}
	for _, k := range keys {
		_, err := c.Write(k, []byte(k.String()), "")
		require.NoError(t, err)
	}
	_, err := c.Write(tile.NewKey("other", 1, 1, 1), []byte("x"), "")
	require.NoError(t, err)

	// noise that must be ignored
	require.NoError(t, os.WriteFile(filepath.Join(c.root, "osm", "3", "1", "readme.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(c.root, "osm", "3", "1", "bad.tile"), nil, 0644))

	var seen []tile.Key
	err = c.Walk("osm", func(k tile.Key, container *Container) error {
		assert.Equal(t, []byte(k.String()), container.Payload)
		seen = append(seen, k)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, seen)

	require.NoError(t, c.Walk("missing", func(tile.Key, *Container) error {
		t.Fatal("nothing to walk")
		return nil
	}))
}
