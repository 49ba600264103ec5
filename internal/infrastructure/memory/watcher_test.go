package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_SignalsOncePerLowPeriod(t *testing.T) {
	var available atomic.Uint64
	available.Store(100)
	var signals atomic.Int32

	w := NewWatcher(50, time.Second, func() (uint64, error) {
		return available.Load(), nil
	}, func() { signals.Add(1) }, clockwork.NewFakeClock(), logger.NewNop())

	w.Check()
	assert.False(t, w.Low())
	assert.EqualValues(t, 0, signals.Load())

	available.Store(10)
	w.Check()
	w.Check()
	assert.True(t, w.Low())
	assert.EqualValues(t, 1, signals.Load())

	available.Store(60)
	w.Check()
	assert.False(t, w.Low())

	available.Store(10)
	w.Check()
	assert.EqualValues(t, 2, signals.Load())
}

func TestWatcher_ProbeErrorKeepsState(t *testing.T) {
	w := NewWatcher(50, time.Second, func() (uint64, error) {
		return 0, errors.New("unavailable")
	}, nil, clockwork.NewFakeClock(), logger.NewNop())

	w.Check()
	assert.False(t, w.Low())
}

func TestWatcher_RunPollsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var probes atomic.Int32
	w := NewWatcher(50, time.Second, func() (uint64, error) {
		probes.Add(1)
		return 100, nil
	}, nil, clock, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Eventually(t, func() bool { return probes.Load() == 1 }, time.Second, time.Millisecond)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return probes.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestSystemProbe(t *testing.T) {
	available, err := SystemProbe()
	if err != nil {
		t.Skipf("memory stats unavailable: %v", err)
	}
	assert.Greater(t, available, uint64(0))
}
