package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/archive"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/spf13/cobra"
)

var (
	mbtilesOut    string
	mbtilesFormat string
)

// mbtilesCmd packs cached tiles of one source into an MBTiles bundle
var mbtilesCmd = &cobra.Command{
	Use:   "mbtiles",
	Short: "Write the cached tiles of a source into an MBTiles bundle",
	RunE:  mbtilesRunE,
}

func mbtilesRunE(cmd *cobra.Command, args []string) error {
	l := newLogger()
	defer l.Sync()

	store, err := openCache(l)
	if err != nil {
		return err
	}

	w, err := archive.NewMBTilesWriter(mbtilesOut, source, mbtilesFormat, l)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer w.Close()

	var (
		count int
		bytes uint64
	)
	err = store.Walk(source, func(k tile.Key, c *cache.Container) error {
		if !inZoomRange(k.Zoom) || len(c.Payload) == 0 {
			return nil
		}
		if err := w.Put(cmd.Context(), k, c.Payload); err != nil {
			return fmt.Errorf("failed to write %s: %w", k, err)
		}
		count++
		bytes += uint64(len(c.Payload))
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "packed %d tiles (%s) into %s\n", count, humanize.IBytes(bytes), mbtilesOut)
	return nil
}

func init() {
	rootCmd.AddCommand(mbtilesCmd)

	mbtilesCmd.Flags().StringVarP(&mbtilesOut, "out", "o", "tiles.mbtiles", "Bundle file to create or extend")
	mbtilesCmd.Flags().StringVar(&mbtilesFormat, "format", "png", "Tile format recorded in the bundle metadata")
}
