package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingArchive struct{}

func (failingArchive) Get(context.Context, tile.Key) ([]byte, bool, error) {
	return nil, false, errors.New("boom")
}

func (failingArchive) Close() error { return errors.New("close boom") }

type mapArchive map[tile.Key][]byte

func (m mapArchive) Get(_ context.Context, k tile.Key) ([]byte, bool, error) {
	v, ok := m[k]
	return v, ok, nil
}

func (mapArchive) Close() error { return nil }

func TestChain_SkipsFailingArchives(t *testing.T) {
	first := mapArchive{}
	second := mapArchive{}
	k := tile.NewKey("osm", 1, 0, 0)
	second[k] = []byte("second")

	c := NewChain(logger.NewNop(), failingArchive{}, first, second)
	assert.Equal(t, 3, c.Len())

	data, ok, err := c.Get(context.Background(), k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("second"), data)

	first[k] = []byte("first")
	data, _, _ = c.Get(context.Background(), k)
	assert.Equal(t, []byte("first"), data)

	_, ok, err = c.Get(context.Background(), tile.NewKey("osm", 1, 1, 1))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, c.Close())
}

func TestMBTiles_WriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.mbtiles")
	ctx := context.Background()

	w, err := NewMBTilesWriter(path, "osm", "png", logger.NewNop())
	require.NoError(t, err)

	k := tile.NewKey("osm", 3, 1, 2)
	require.NoError(t, w.Put(ctx, k, []byte("v1")))
	require.NoError(t, w.Put(ctx, k, []byte("v2")))
	require.NoError(t, w.Close())

	a, err := OpenMBTiles(path, logger.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "osm", a.Name())

	data, ok, err := a.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), data)

	_, ok, err = a.Get(ctx, tile.NewKey("osm", 3, 1, 5))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = a.Get(ctx, tile.NewKey("other", 3, 1, 2))
	require.NoError(t, err)
	assert.False(t, ok, "bundle named osm must not serve other sources")
}

func TestMBTiles_StoresRowsInTMSOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.mbtiles")

	w, err := NewMBTilesWriter(path, "", "", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Put(context.Background(), tile.NewKey("any", 2, 1, 0), []byte("top")))

	var row int
	require.NoError(t, w.db.QueryRow(`SELECT tile_row FROM tiles WHERE zoom_level = 2`).Scan(&row))
	assert.Equal(t, 3, row)
	require.NoError(t, w.Close())
}

func TestOpenMBTiles_MissingFile(t *testing.T) {
	_, err := OpenMBTiles(filepath.Join(t.TempDir(), "missing.mbtiles"), logger.NewNop())
	assert.Error(t, err)
}

func TestRedisArchive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	a, err := NewRedisArchive(RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	k := tile.NewKey("test-"+time.Now().Format("150405.000"), 4, 3, 2)

	_, ok, err := a.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Publish(ctx, k, []byte("tile"), time.Minute))

	data, ok, err := a.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("tile"), data)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "tile:osm:3:1:2", RedisKey(tile.NewKey("osm", 3, 1, 2)))
}
