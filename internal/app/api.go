package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	v1 "github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/memory"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/archive"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/upstream"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/usecase"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/config"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/http_server"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/telemetry"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger)
	defer l.Sync()

	l.Info("app config", "cfg", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logger.WithLogger(ctx, l)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(cfg.Telemetry, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
	}

	clock := clockwork.NewRealClock()

	quota, err := cache.NewQuotaTracker(cfg.Cache.Dir, cfg.Cache.MaxBytes, cfg.Cache.TrimBytes, l)
	if err != nil {
		l.Fatal("failed to initialize disk quota", "error", err)
	}

	store, err := cache.NewFilesystemCache(cache.Options{
		Root:      cfg.Cache.Dir,
		Extension: cfg.Cache.Extension,
		TTL:       cfg.Cache.TTL,
		Clock:     clock,
	}, quota, l)
	if err != nil {
		l.Fatal("failed to initialize tile cache", "error", err)
	}

	archives := openArchives(cfg, l)
	defer func() {
		if err := archives.Close(); err != nil {
			l.Error("failed to close archives", "error", err)
		}
	}()

	var provider *usecase.TileCacheProvider

	var watcher *memory.Watcher
	lowMemory := func() bool { return false }
	if cfg.Memory.Enabled {
		// the watcher only calls back from Run, which starts after provider is set
		watcher = memory.NewWatcher(cfg.Memory.MinAvailable, cfg.Memory.Interval, nil, func() {
			provider.OnLowMemory()
		}, clock, l)
		lowMemory = watcher.Low
	}

	src, err := tile.NewXYSource(
		cfg.Upstream.Name,
		cfg.Upstream.MinZoom,
		cfg.Upstream.MaxZoom,
		cfg.Upstream.TileSize,
		cfg.Upstream.Ending,
		cfg.Upstream.URLs,
		tile.WithLowMemoryCheck(lowMemory),
	)
	if err != nil {
		l.Fatal("failed to initialize tile source", "error", err)
	}

	opts := usecase.Options{
		PoolSize:      cfg.Queue.PoolSize,
		QueueCapacity: cfg.Queue.Capacity,
		Source:        src,
		Store:         store,
		Clock:         clock,
	}
	if archives.Len() > 0 {
		opts.Archive = archives
	}
	if cfg.Cache.MemoryTiles > 0 {
		mem, err := cache.NewMemoryCache(cfg.Cache.MemoryTiles, cfg.Cache.TTL, clock)
		if err != nil {
			l.Fatal("failed to initialize memory tile cache", "error", err)
		}
		opts.Memory = mem
	}
	if cfg.Upstream.Enabled {
		notFound, err := upstream.NewNotFoundCache(cfg.NotFound.Capacity, cfg.NotFound.Window, clock)
		if err != nil {
			l.Fatal("failed to initialize not-found cache", "error", err)
		}
		var connectivity upstream.Connectivity
		if cfg.Upstream.CheckConnectivity && len(cfg.Upstream.URLs) > 0 {
			connectivity, err = upstream.NewDialConnectivity(cfg.Upstream.URLs[0], cfg.Upstream.DialTimeout, cfg.Upstream.CheckInterval, clock, l)
			if err != nil {
				l.Fatal("failed to initialize connectivity check", "error", err)
			}
		}
		fetcher, err := upstream.NewFetcher(upstream.Options{
			UserAgent:    cfg.Upstream.UserAgent,
			Timeout:      cfg.Upstream.Timeout,
			MaxTileBytes: cfg.Upstream.MaxTileBytes,
			NotFound:     notFound,
			Connectivity: connectivity,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize upstream fetcher", "error", err)
		}
		opts.Fetcher = fetcher
	}

	provider, err = usecase.NewTileCacheProvider(opts, l)
	if err != nil {
		l.Fatal("failed to initialize tile provider", "error", err)
	}

	validate := validator.New()
	h := handler.NewHandler(validate, provider, quota, cfg.HTTP.Timeout)
	router := v1.NewRouter(h, l, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName)

	httpServer := http_server.NewServer(ctx, cfg.HTTP.Server, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Info("starting http server...", "address", httpServer.Addr)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		l.Info("received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		l.Info("shutting down http server...", "address", httpServer.Addr)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			l.Error("http server shutdown failed", "error", err)
		} else {
			l.Info("http server shutdown completed")
		}

		provider.Detach()
		provider.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("http server failed", "error", err)
	}

	l.Info("application shutdown completed")
}

func openArchives(cfg *config.Config, l logger.Logger) *archive.Chain {
	var archives []archive.Archive

	for _, path := range cfg.Archive.MBTiles {
		a, err := archive.OpenMBTiles(path, l)
		if err != nil {
			l.Error("failed to open mbtiles archive, skipping", "path", path, "error", err)
			continue
		}
		archives = append(archives, a)
	}

	if cfg.Redis.Enabled {
		a, err := archive.NewRedisArchive(archive.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			l.Error("failed to connect redis archive, skipping", "addr", cfg.Redis.Addr, "error", err)
		} else {
			archives = append(archives, a)
		}
	}

	return archive.NewChain(l, archives...)
}
