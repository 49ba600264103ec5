package upstream

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialConnectivity_CachesAnswerForInterval(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	clock := clockwork.NewFakeClock()

	c, err := NewDialConnectivity(srv.URL, time.Second, time.Minute, clock, logger.NewNop())
	require.NoError(t, err)

	assert.True(t, c.Online())

	srv.Close()
	assert.True(t, c.Online(), "answer is reused within the interval")

	clock.Advance(time.Minute)
	assert.False(t, c.Online())
}

func TestDialConnectivity_DefaultPorts(t *testing.T) {
	c, err := NewDialConnectivity("https://tile.openstreetmap.org/", 0, 0, nil, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, net.JoinHostPort("tile.openstreetmap.org", "443"), c.addr)

	c, err = NewDialConnectivity("http://tiles.local/{z}/{x}/{y}.png", 0, 0, nil, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "tiles.local:80", c.addr)

	_, err = NewDialConnectivity("/relative/path", 0, 0, nil, logger.NewNop())
	assert.Error(t, err)
}
