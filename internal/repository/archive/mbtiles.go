package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MBTiles reads tiles from an MBTiles bundle. Rows are stored in TMS order,
// so y is flipped on lookup. When the bundle's metadata carries a name, only
// keys of the source with that name are served.
type MBTiles struct {
	db     *sql.DB
	path   string
	name   string
	logger logger.Logger
}

var _ Archive = (*MBTiles)(nil)

func OpenMBTiles(path string, l logger.Logger) (*MBTiles, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &MBTiles{
		db:     db,
		path:   path,
		logger: l,
	}

	name, err := a.metadata("name")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read mbtiles metadata: %w", err)
	}
	a.name = name

	l.Info("mbtiles archive opened", "path", path, "name", name)

	return a, nil
}

func (a *MBTiles) Name() string {
	return a.name
}

func (a *MBTiles) metadata(key string) (string, error) {
	var value string
	err := a.db.QueryRow(`SELECT value FROM metadata WHERE name = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (a *MBTiles) Get(ctx context.Context, k tile.Key) ([]byte, bool, error) {
	if a.name != "" && k.Source != a.name {
		return nil, false, nil
	}

	a.logger.Debug("mbtiles archive get", "z", k.Zoom, "x", k.X, "y", k.Y)

	query := `SELECT tile_data
	FROM tiles
	WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`

	var tileData []byte
	err := a.db.QueryRowContext(ctx, query, k.Zoom, k.X, tmsRow(k)).Scan(&tileData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		a.logger.Error("mbtiles archive get failed", "path", a.path, "z", k.Zoom, "x", k.X, "y", k.Y, "error", err)
		return nil, false, err
	}

	return tileData, true, nil
}

func (a *MBTiles) Close() error {
	return a.db.Close()
}

func tmsRow(k tile.Key) int {
	return (1 << k.Zoom) - 1 - k.Y
}

// MBTilesWriter creates or extends an MBTiles bundle.
type MBTilesWriter struct {
	db     *sql.DB
	logger logger.Logger
}

func NewMBTilesWriter(path, name, format string, l logger.Logger) (*MBTilesWriter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	w := &MBTilesWriter{
		db:     db,
		logger: l,
	}

	err = w.runMigrations()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply mbtiles schema: %w", err)
	}

	for key, value := range map[string]string{"name": name, "format": format} {
		if value == "" {
			continue
		}
		_, err = db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to write mbtiles metadata: %w", err)
		}
	}

	l.Info("mbtiles writer initialized", "path", path, "name", name)

	return w, nil
}

func (w *MBTilesWriter) runMigrations() error {
	goose.SetBaseFS(migrations)

	err := goose.SetDialect("sqlite3")
	if err != nil {
		return err
	}

	err = goose.Up(w.db, "migrations")
	if err != nil {
		return err
	}

	return nil
}

func (w *MBTilesWriter) Put(ctx context.Context, k tile.Key, data []byte) error {
	query := `INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(zoom_level, tile_column, tile_row) DO UPDATE SET tile_data = excluded.tile_data`

	_, err := w.db.ExecContext(ctx, query, k.Zoom, k.X, tmsRow(k), data)
	if err != nil {
		w.logger.Error("mbtiles put failed", "z", k.Zoom, "x", k.X, "y", k.Y, "error", err)
		return err
	}

	return nil
}

func (w *MBTilesWriter) Close() error {
	return w.db.Close()
}
