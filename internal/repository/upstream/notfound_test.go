package upstream

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundCache_SuppressesUntilWindowElapses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c, err := NewNotFoundCache(10, time.Hour, clock)
	require.NoError(t, err)

	c.Record("https://a/1/2/3.png")
	assert.True(t, c.Suppressed("https://a/1/2/3.png"))
	assert.False(t, c.Suppressed("https://a/1/2/4.png"))

	clock.Advance(59 * time.Minute)
	assert.True(t, c.Suppressed("https://a/1/2/3.png"))

	clock.Advance(time.Minute)
	assert.False(t, c.Suppressed("https://a/1/2/3.png"))
	assert.Equal(t, 0, c.Len(), "expired entry should be dropped on lookup")
}

func TestNotFoundCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewNotFoundCache(2, time.Hour, clockwork.NewFakeClock())
	require.NoError(t, err)

	c.Record("a")
	c.Record("b")
	assert.True(t, c.Suppressed("a"))
	c.Record("c")

	assert.True(t, c.Suppressed("a"))
	assert.False(t, c.Suppressed("b"))
	assert.True(t, c.Suppressed("c"))
	assert.Equal(t, 2, c.Len())
}
