package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/archive"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPoolSize      = 8
	DefaultQueueCapacity = 40
)

type Options struct {
	PoolSize      int
	QueueCapacity int
	Source        tile.Source
	Store         cache.TileCache
	// Fetcher may be nil, in which case only disk and archives are used.
	Fetcher TileFetcher
	Archive archive.Archive
	// Memory may be nil, in which case every request goes through the queue.
	Memory *cache.MemoryCache
	Clock  clockwork.Clock
}

// TileCacheProvider accepts tile requests, queues them and runs them on a
// bounded set of runners. A runner is started per request while fewer than
// the pool size are active and exits once the queue has nothing eligible.
type TileCacheProvider struct {
	queue  *RequestQueue
	loader *loader
	memory *cache.MemoryCache
	clock  clockwork.Clock
	logger logger.Logger

	ctx     context.Context
	stop    context.CancelCauseFunc
	group   errgroup.Group
	usesNet atomic.Bool

	mu       sync.Mutex
	source   tile.Source
	poolSize int
	active   int
	detached bool
}

func NewTileCacheProvider(opts Options, l logger.Logger) (*TileCacheProvider, error) {
	if opts.Store == nil {
		return nil, errors.New("tile store is required")
	}
	if opts.Source == nil {
		return nil, errors.New("tile source is required")
	}

	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.PoolSize > opts.QueueCapacity {
		l.Warn("pool size is larger than the queue capacity, clamping",
			"pool_size", opts.PoolSize,
			"queue_capacity", opts.QueueCapacity,
		)
		opts.PoolSize = opts.QueueCapacity
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	ctx, stop := context.WithCancelCause(context.Background())

	p := &TileCacheProvider{
		queue:    NewRequestQueue(opts.QueueCapacity),
		loader:   newLoader(opts.Store, opts.Fetcher, opts.Archive, l),
		memory:   opts.Memory,
		clock:    opts.Clock,
		logger:   l,
		ctx:      ctx,
		stop:     stop,
		source:   opts.Source,
		poolSize: opts.PoolSize,
	}
	p.usesNet.Store(opts.Fetcher != nil)

	l.Info("tile cache provider initialized",
		"source", opts.Source.Name(),
		"pool_size", opts.PoolSize,
		"queue_capacity", opts.QueueCapacity,
		"uses_network", p.UsesNetwork(),
		"memory_cache", p.memory != nil,
	)

	return p, nil
}

// Request queues k for loading from src, or from the current source when src
// is nil. cb is called exactly once unless an error is returned.
func (p *TileCacheProvider) Request(k tile.Key, src tile.Source, cb Callback) error {
	p.mu.Lock()
	if p.detached {
		p.mu.Unlock()
		return ErrDetached
	}
	if src == nil {
		src = p.source
	}
	if k.Source == "" {
		k.Source = src.Name()
	}
	if !k.Valid() || k.Zoom < src.MinZoom() || k.Zoom > src.MaxZoom() {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidTile, k)
	}

	if p.memory != nil {
		if t, ok := p.memory.Get(k); ok {
			p.mu.Unlock()
			metrics.TileRequests.Inc()
			metrics.MemoryHits.Inc()
			p.deliver([]Callback{cb}, Result{Key: k, Outcome: OutcomeFresh, Data: t.Data, Image: t.Image})
			return nil
		}
	}

	// Enqueue under p.mu so Detach either rejects this request or clears it.
	evicted, callbacks, coalesced := p.queue.Enqueue(k, src, cb, p.clock.Now())
	p.mu.Unlock()

	metrics.TileRequests.Inc()
	if coalesced {
		p.logger.Debug("tile request coalesced", "tile", k.String())
	}
	if evicted != nil {
		metrics.QueueEvictions.Inc()
		p.logger.Debug("tile request evicted", "tile", evicted.Key.String())
		p.deliver(callbacks, failed(evicted.Key, ErrEvicted))
	}
	metrics.QueueDepth.Set(float64(p.queue.Len()))

	p.spawn()
	return nil
}

// RequestChan is Request with the result delivered on a buffered channel.
func (p *TileCacheProvider) RequestChan(k tile.Key) (<-chan Result, error) {
	ch := make(chan Result, 1)
	err := p.Request(k, nil, func(r Result) {
		ch <- r
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (p *TileCacheProvider) spawn() {
	p.mu.Lock()
	if p.detached || p.active >= p.poolSize {
		p.mu.Unlock()
		return
	}
	p.active++
	p.mu.Unlock()

	p.group.Go(func() error {
		p.runner()
		return nil
	})
}

func (p *TileCacheProvider) runner() {
	for {
		r := p.queue.TakeNext(p.ctx)
		if r == nil {
			// Recheck under p.mu so a request enqueued while this runner
			// was exiting is either seen here or starts a new runner.
			p.mu.Lock()
			r = p.queue.TakeNext(p.ctx)
			if r == nil {
				p.active--
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}

		res := p.loader.load(r, p.UsesNetwork())
		if errors.Is(res.Err, tile.ErrLowMemory) {
			p.OnLowMemory()
		}
		if p.memory != nil && res.Image != nil && (res.Outcome == OutcomeFresh || res.Outcome == OutcomeRefreshed) {
			p.memory.Add(res.Key, res.Data, res.Image)
		}

		p.deliver(p.queue.Complete(r), res)
		metrics.QueueDepth.Set(float64(p.queue.Len()))
	}
}

func (p *TileCacheProvider) deliver(callbacks []Callback, res Result) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					p.logger.Error("tile callback panicked", "tile", res.Key.String(), "panic", rec)
				}
			}()
			cb(res)
		}()
	}
}

func (p *TileCacheProvider) failAll(requests []*Request, err error) {
	for _, r := range requests {
		p.deliver(r.takeCallbacks(), failed(r.Key, err))
	}
	metrics.QueueDepth.Set(float64(p.queue.Len()))
}

// OnLowMemory empties the memory cache, drops every queued request and
// cancels the ones being loaded. Dropped requests fail with tile.ErrLowMemory.
func (p *TileCacheProvider) OnLowMemory() {
	metrics.LowMemoryAborts.Inc()
	if p.memory != nil {
		p.memory.Purge()
	}
	dropped := p.queue.Clear(tile.ErrLowMemory)
	p.logger.Warn("low memory, tile queue cleared", "dropped", len(dropped))
	p.failAll(dropped, tile.ErrLowMemory)
}

// Detach fails all queued requests and stops accepting new ones. Loads in
// progress are cancelled and finish on their own. It does not block and is
// safe to call more than once.
func (p *TileCacheProvider) Detach() {
	p.mu.Lock()
	if p.detached {
		p.mu.Unlock()
		return
	}
	p.detached = true
	p.mu.Unlock()

	p.stop(ErrDetached)
	dropped := p.queue.Clear(ErrDetached)
	p.logger.Info("tile cache provider detached", "dropped", len(dropped))
	p.failAll(dropped, ErrDetached)
}

// Wait blocks until every runner has exited.
func (p *TileCacheProvider) Wait() {
	_ = p.group.Wait()
}

func (p *TileCacheProvider) SetSource(src tile.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("tile source changed", "from", p.source.Name(), "to", src.Name())
	p.source = src
}

func (p *TileCacheProvider) Source() tile.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

func (p *TileCacheProvider) MinZoom() int {
	return p.Source().MinZoom()
}

func (p *TileCacheProvider) MaxZoom() int {
	return p.Source().MaxZoom()
}

// UsesNetwork reports whether tiles may be fetched from the origin.
func (p *TileCacheProvider) UsesNetwork() bool {
	return p.usesNet.Load()
}

// SetUseNetwork turns origin downloads on or off at runtime. Loads already
// running keep the setting they started with. Enabling has no effect when no
// fetcher is configured. It returns the resulting setting.
func (p *TileCacheProvider) SetUseNetwork(enabled bool) bool {
	if enabled && p.loader.fetcher == nil {
		p.logger.Warn("cannot enable network, no upstream configured")
		return false
	}
	if p.usesNet.Swap(enabled) != enabled {
		p.logger.Info("tile network access changed", "enabled", enabled)
	}
	return enabled
}

type Stats struct {
	Pending     int  `json:"pending"`
	Working     int  `json:"working"`
	Runners     int  `json:"runners"`
	PoolSize    int  `json:"pool_size"`
	Capacity    int  `json:"capacity"`
	MemoryTiles int  `json:"memory_tiles"`
	UsesNetwork bool `json:"uses_network"`
	Detached    bool `json:"detached"`
}

func (p *TileCacheProvider) Stats() Stats {
	p.mu.Lock()
	runners, poolSize, detached := p.active, p.poolSize, p.detached
	p.mu.Unlock()

	memoryTiles := 0
	if p.memory != nil {
		memoryTiles = p.memory.Len()
	}

	return Stats{
		Pending:     p.queue.Len(),
		Working:     p.queue.Working(),
		Runners:     runners,
		PoolSize:    poolSize,
		Capacity:    p.queue.Capacity(),
		MemoryTiles: memoryTiles,
		UsesNetwork: p.UsesNetwork(),
		Detached:    detached,
	}
}
