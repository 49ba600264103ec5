package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/archive"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/upstream"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNotModifiedWithoutPayload = errors.New("origin answered 304 but no payload is cached")

// TileFetcher performs the conditional GET for a tile.
type TileFetcher interface {
	Fetch(ctx context.Context, src tile.Source, k tile.Key, etag string) upstream.Result
	Online() bool
}

var _ TileFetcher = (*upstream.Fetcher)(nil)

type loader struct {
	store   cache.TileCache
	fetcher TileFetcher
	archive archive.Archive
	tracer  trace.Tracer
	logger  logger.Logger
}

func newLoader(store cache.TileCache, fetcher TileFetcher, arch archive.Archive, l logger.Logger) *loader {
	return &loader{
		store:   store,
		fetcher: fetcher,
		archive: arch,
		tracer:  otel.Tracer("tilecache"),
		logger:  l,
	}
}

// load runs one request to a terminal result. It never panics. The origin
// is only contacted when network is set.
func (l *loader) load(r *Request, network bool) (res Result) {
	k := r.Key
	ctx, span := l.tracer.Start(r.Context(), "tile.load", trace.WithAttributes(
		attribute.String("tile.source", k.Source),
		attribute.Int("tile.z", k.Zoom),
		attribute.Int("tile.x", k.X),
		attribute.Int("tile.y", k.Y),
	))

	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("tile load panicked", "tile", k.String(), "panic", p)
			res = failed(k, fmt.Errorf("tile load panicked: %v", p))
		}

		span.SetAttributes(attribute.String("tile.outcome", res.Outcome.String()))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()

		metrics.TileOutcomes.WithLabelValues(res.Outcome.String()).Inc()
	}()

	return l.run(ctx, r.Source, k, network)
}

func (l *loader) run(ctx context.Context, src tile.Source, k tile.Key, network bool) Result {
	if ctx.Err() != nil {
		return failed(k, context.Cause(ctx))
	}

	cached, onDisk := l.store.Read(k)
	hasPayload := onDisk && len(cached.Payload) > 0

	if hasPayload && l.store.IsFresh(cached) {
		metrics.CacheHits.Inc()
		l.logger.Debug("tile fresh on disk", "z", k.Zoom, "x", k.X, "y", k.Y, "source", k.Source)
		return l.decode(src, k, cached.Payload, OutcomeFresh)
	}

	if !onDisk {
		metrics.CacheMisses.Inc()
		if data, ok := l.fromArchive(ctx, k); ok {
			return l.decode(src, k, data, OutcomeFresh)
		}
	}

	if l.fetcher == nil || !network {
		if hasPayload {
			return l.decode(src, k, cached.Payload, OutcomeExpired)
		}
		return failed(k, cache.ErrNotCached)
	}

	if !l.fetcher.Online() {
		if hasPayload {
			l.logger.Debug("offline, serving expired tile", "z", k.Zoom, "x", k.X, "y", k.Y, "source", k.Source)
			return l.decode(src, k, cached.Payload, OutcomeExpired)
		}
		return failed(k, upstream.ErrOffline)
	}

	etag := ""
	if onDisk {
		etag = cached.ETag()
	}

	fetched := l.fetcher.Fetch(ctx, src, k, etag)
	if ctx.Err() != nil {
		return failed(k, context.Cause(ctx))
	}

	switch fetched.Status {
	case upstream.StatusNotModified:
		if !hasPayload {
			l.logger.Warn("not modified without cached payload, clearing", "z", k.Zoom, "x", k.X, "y", k.Y, "source", k.Source)
			if err := l.store.Remove(k); err != nil {
				l.logger.Error("failed to clear cached tile", "tile", k.String(), "error", err)
			}
			return failed(k, errNotModifiedWithoutPayload)
		}
		if err := l.store.Refresh(k, cached); err != nil {
			l.logger.Error("failed to refresh cached tile", "tile", k.String(), "error", err)
			return failed(k, err)
		}
		return l.decode(src, k, cached.Payload, OutcomeRefreshed)

	case upstream.StatusOK:
		res := l.decode(src, k, fetched.Body, OutcomeRefreshed)
		if !res.OK() {
			return res
		}
		if _, err := l.store.Write(k, fetched.Body, fetched.ETag); err != nil {
			l.logger.Error("failed to write tile", "tile", k.String(), "error", err)
			return failed(k, err)
		}
		metrics.CacheStores.Inc()
		return res

	case upstream.StatusNotFound:
		if errors.Is(fetched.Err, upstream.ErrOffline) && hasPayload {
			l.logger.Debug("offline, serving expired tile", "z", k.Zoom, "x", k.X, "y", k.Y, "source", k.Source)
			return l.decode(src, k, cached.Payload, OutcomeExpired)
		}
		return failed(k, fetched.Err)

	default:
		err := fetched.Err
		if err == nil {
			err = upstream.ErrUnexpectedStatus
		}
		return failed(k, err)
	}
}

func (l *loader) fromArchive(ctx context.Context, k tile.Key) ([]byte, bool) {
	if l.archive == nil {
		return nil, false
	}

	data, ok, err := l.archive.Get(ctx, k)
	if err != nil {
		l.logger.Warn("archive lookup failed", "tile", k.String(), "error", err)
		return nil, false
	}
	if !ok || len(data) == 0 {
		return nil, false
	}

	metrics.ArchiveHits.Inc()
	return data, true
}

func (l *loader) decode(src tile.Source, k tile.Key, data []byte, outcome Outcome) Result {
	img, err := src.Decode(data)
	if err != nil {
		if !errors.Is(err, tile.ErrLowMemory) {
			l.logger.Warn("failed to decode tile", "tile", k.String(), "bytes", len(data), "error", err)
		}
		return failed(k, err)
	}

	return Result{
		Key:     k,
		Outcome: outcome,
		Data:    data,
		Image:   img,
	}
}
