package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/archive"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/usecase"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngTile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func newTestRouter(t *testing.T) (*gin.Engine, []byte) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	quota, err := cache.NewQuotaTracker(root, 1<<20, 1<<19, logger.NewNop())
	require.NoError(t, err)
	store, err := cache.NewFilesystemCache(cache.Options{Root: root}, quota, logger.NewNop())
	require.NoError(t, err)

	src, err := tile.NewXYSource("osm", 0, 19, 256, ".png", []string{"http://127.0.0.1:1"})
	require.NoError(t, err)

	data := pngTile(t)
	bundle := filepath.Join(t.TempDir(), "osm.mbtiles")
	w, err := archive.NewMBTilesWriter(bundle, "osm", "png", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Put(context.Background(), tile.NewKey("osm", 3, 1, 2), data))
	require.NoError(t, w.Close())
	arch, err := archive.OpenMBTiles(bundle, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { arch.Close() })

	p, err := usecase.NewTileCacheProvider(usecase.Options{
		PoolSize:      2,
		QueueCapacity: 10,
		Source:        src,
		Store:         store,
		Archive:       arch,
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Detach()
		p.Wait()
	})

	h := handler.NewHandler(validator.New(), p, quota, 5*time.Second)
	return NewRouter(h, logger.NewNop(), false, "tilecache-test"), data
}

func do(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Tile(t *testing.T) {
	r, data := newTestRouter(t)

	w := do(r, "/api/v1/tile/osm/3/1/2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "fresh", w.Header().Get("X-Tile-Outcome"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, data, w.Body.Bytes())
}

func TestRouter_TileErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/tile/osm/3/0/0", http.StatusNotFound},
		{"/api/v1/tile/other/3/1/2", http.StatusNotFound},
		{"/api/v1/tile/osm/z/1/2", http.StatusBadRequest},
		{"/api/v1/tile/osm/3/-1/2", http.StatusBadRequest},
		{"/api/v1/tile/osm/31/0/0", http.StatusBadRequest},
		{"/api/v1/tile/osm/25/0/0", http.StatusBadRequest},
		{"/api/v1/tile/osm/3/8/0", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(r, tt.path)
			assert.Equal(t, tt.code, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestRouter_RequestIDIsEchoed(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestRouter_Stats(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Source      string `json:"source"`
			PoolSize    int    `json:"pool_size"`
			Capacity    int    `json:"capacity"`
			UsesNetwork bool   `json:"uses_network"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "osm", body.Data.Source)
	assert.Equal(t, 2, body.Data.PoolSize)
	assert.Equal(t, 10, body.Data.Capacity)
	assert.False(t, body.Data.UsesNetwork)
}

func TestRouter_Metrics(t *testing.T) {
	r, _ := newTestRouter(t)

	do(r, "/api/v1/tile/osm/3/1/2")
	w := do(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tilecache_requests_total")
}

func TestRouter_NetworkToggle(t *testing.T) {
	r, _ := newTestRouter(t)

	put := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/api/v1/network", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := put(`{"enabled": false}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// the test router has no upstream
	w = put(`{"enabled": true}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = put(`{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = put(`not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestLogger_DoesNotWriteCallerSlice(t *testing.T) {
	rl := &requestLogger{base: logger.NewNop(), requestID: "id-1"}

	kv := make([]any, 2, 4)
	kv[0], kv[1] = "tile", "osm/3/1/2"

	out := rl.with(kv)
	assert.Equal(t, []any{"tile", "osm/3/1/2", "request_id", "id-1"}, out)

	spare := kv[:4]
	assert.Nil(t, spare[2])
	assert.Nil(t, spare[3])
}
