package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/mem"
)

// Probe returns the bytes of memory currently available to the process.
type Probe func() (uint64, error)

// SystemProbe reads available memory from the operating system.
func SystemProbe() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Watcher polls available memory and calls onLow once each time it drops
// below the threshold. Low reports the last observed state.
type Watcher struct {
	minAvailable uint64
	interval     time.Duration
	probe        Probe
	onLow        func()
	clock        clockwork.Clock
	logger       logger.Logger

	low atomic.Bool
}

func NewWatcher(minAvailable uint64, interval time.Duration, probe Probe, onLow func(), clock clockwork.Clock, l logger.Logger) *Watcher {
	if probe == nil {
		probe = SystemProbe
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if onLow == nil {
		onLow = func() {}
	}

	return &Watcher{
		minAvailable: minAvailable,
		interval:     interval,
		probe:        probe,
		onLow:        onLow,
		clock:        clock,
		logger:       l,
	}
}

func (w *Watcher) Low() bool {
	return w.low.Load()
}

// Check samples memory once.
func (w *Watcher) Check() {
	available, err := w.probe()
	if err != nil {
		w.logger.Warn("failed to read available memory", "error", err)
		return
	}

	if available >= w.minAvailable {
		if w.low.Swap(false) {
			w.logger.Info("memory recovered", "available", humanize.IBytes(available))
		}
		return
	}

	if !w.low.Swap(true) {
		w.logger.Warn("low memory",
			"available", humanize.IBytes(available),
			"threshold", humanize.IBytes(w.minAvailable),
		)
		w.onLow()
	}
}

// Run checks memory every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			w.Check()
		}
	}
}
