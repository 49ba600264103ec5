package main

import (
	"os"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/config"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	cacheDir  string
	extension string
	source    string
	logLevel  string
	minZoom   int
	maxZoom   int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "tilepack",
	Short:        "Export and inspect tiles held in the on-disk tile cache",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "cache-dir", "d", "./tiles", "Tile cache root directory")
	rootCmd.PersistentFlags().StringVar(&extension, "ext", cache.DefaultExtension, "Cached tile file extension")
	rootCmd.PersistentFlags().StringVarP(&source, "source", "s", "osm", "Tile source name")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")
	rootCmd.PersistentFlags().IntVar(&minZoom, "min-zoom", 0, "Lowest zoom level to export")
	rootCmd.PersistentFlags().IntVar(&maxZoom, "max-zoom", 30, "Highest zoom level to export")
}

func newLogger() *logger.ZapLogger {
	return logger.NewZapLogger(config.Logger{Level: logLevel})
}

func openCache(l logger.Logger) (*cache.FilesystemCache, error) {
	return cache.NewFilesystemCache(cache.Options{
		Root:      cacheDir,
		Extension: extension,
	}, nil, l)
}

func inZoomRange(z int) bool {
	return z >= minZoom && z <= maxZoom
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
