package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
)

var (
	ErrNotFound           = errors.New("tile not found upstream")
	ErrUnexpectedStatus   = errors.New("unexpected upstream status")
	ErrNotFoundSuppressed = errors.New("tile recently not found upstream")
	ErrOffline            = errors.New("network unavailable")
	ErrTileTooLarge       = errors.New("upstream tile exceeds the size limit")
)

// DefaultMaxTileBytes caps a single downloaded tile body.
const DefaultMaxTileBytes int64 = 4 << 20

type Status int

const (
	StatusError Status = iota
	StatusNotModified
	StatusOK
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusNotModified:
		return "not_modified"
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Result of one conditional GET. Body and ETag are set for StatusOK only.
// Err is set for StatusError and StatusNotFound.
type Result struct {
	Status Status
	Body   []byte
	ETag   string
	Err    error
}

type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxTileBytes int64
	Client       *http.Client
	NotFound     *NotFoundCache
	Connectivity Connectivity
}

type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxTileBytes int64
	notFound     *NotFoundCache
	connectivity Connectivity
	logger       logger.Logger
}

func NewFetcher(opts Options, l logger.Logger) (*Fetcher, error) {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	notFound := opts.NotFound
	if notFound == nil {
		var err error
		notFound, err = NewNotFoundCache(DefaultNotFoundCapacity, DefaultNotFoundWindow, nil)
		if err != nil {
			return nil, err
		}
	}

	connectivity := opts.Connectivity
	if connectivity == nil {
		connectivity = AlwaysOnline
	}

	maxTileBytes := opts.MaxTileBytes
	if maxTileBytes <= 0 {
		maxTileBytes = DefaultMaxTileBytes
	}

	return &Fetcher{
		client:       client,
		userAgent:    opts.UserAgent,
		maxTileBytes: maxTileBytes,
		notFound:     notFound,
		connectivity: connectivity,
		logger:       l,
	}, nil
}

func (f *Fetcher) Online() bool {
	return f.connectivity.Online()
}

// Fetch asks the origin for k. When etag is not empty the request is
// conditional and a 304 answer means the cached copy is still valid.
func (f *Fetcher) Fetch(ctx context.Context, src tile.Source, k tile.Key, etag string) Result {
	url := src.URL(k)

	if !f.connectivity.Online() {
		f.logger.Debug("skipping upstream request, offline", "url", url)
		return Result{Status: StatusNotFound, Err: ErrOffline}
	}
	if f.notFound.Suppressed(url) {
		f.logger.Debug("skipping upstream request, recently not found", "url", url)
		metrics.NotFoundSuppressed.Inc()
		return Result{Status: StatusNotFound, Err: ErrNotFoundSuppressed}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.logger.Error("failed to create request", "url", url, "error", err)
		return Result{Status: StatusError, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		f.logger.Warn("failed to fetch from upstream", "url", url, "error", err)
		metrics.UpstreamRequests.WithLabelValues(StatusError.String()).Inc()
		return Result{Status: StatusError, Err: fmt.Errorf("failed to fetch tile from upstream: %w", err)}
	}
	defer resp.Body.Close()

	result := f.interpret(url, resp)
	metrics.UpstreamRequests.WithLabelValues(result.Status.String()).Inc()
	return result
}

func (f *Fetcher) interpret(url string, resp *http.Response) Result {
	switch resp.StatusCode {
	case http.StatusNotModified:
		f.logger.Debug("tile not modified upstream", "url", url)
		return Result{Status: StatusNotModified}

	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxTileBytes+1))
		if err != nil {
			f.logger.Warn("failed to read tile data", "url", url, "error", err)
			return Result{Status: StatusError, Err: fmt.Errorf("failed to read tile data: %w", err)}
		}
		if int64(len(body)) > f.maxTileBytes {
			f.logger.Warn("tile body over the size limit", "url", url, "limit", f.maxTileBytes)
			return Result{Status: StatusError, Err: fmt.Errorf("%w: more than %d bytes", ErrTileTooLarge, f.maxTileBytes)}
		}
		f.logger.Debug("fetched tile from upstream", "url", url, "bytes", len(body))
		return Result{Status: StatusOK, Body: body, ETag: resp.Header.Get("ETag")}

	case http.StatusNotFound:
		f.logger.Info("tile not found upstream", "url", url)
		f.notFound.Record(url)
		return Result{Status: StatusNotFound, Err: ErrNotFound}

	default:
		f.logger.Warn("upstream returned unexpected status", "url", url, "status", resp.StatusCode)
		return Result{
			Status: StatusError,
			Err:    fmt.Errorf("%w: %s", ErrUnexpectedStatus, strconv.Itoa(resp.StatusCode)),
		}
	}
}
