package upstream

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// Connectivity tells the fetcher whether the network may be used at all.
type Connectivity interface {
	Online() bool
}

type ConnectivityFunc func() bool

func (f ConnectivityFunc) Online() bool { return f() }

// AlwaysOnline is used when no connectivity collaborator is configured.
var AlwaysOnline Connectivity = ConnectivityFunc(func() bool { return true })

const (
	DefaultDialTimeout   = 2 * time.Second
	DefaultCheckInterval = 30 * time.Second
)

// DialConnectivity treats the origin as reachable when a TCP connection to
// its host succeeds. An answer is reused until interval has passed.
type DialConnectivity struct {
	addr     string
	timeout  time.Duration
	interval time.Duration
	clock    clockwork.Clock
	logger   logger.Logger

	mu      sync.Mutex
	online  bool
	checked time.Time
	known   bool
}

var _ Connectivity = (*DialConnectivity)(nil)

// NewDialConnectivity derives host:port from origin, using the scheme's
// default port when none is given.
func NewDialConnectivity(origin string, timeout, interval time.Duration, clock clockwork.Clock, l logger.Logger) (*DialConnectivity, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("origin url %q has no host", origin)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}

	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &DialConnectivity{
		addr:     net.JoinHostPort(u.Hostname(), port),
		timeout:  timeout,
		interval: interval,
		clock:    clock,
		logger:   l,
	}, nil
}

func (c *DialConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.known && c.clock.Since(c.checked) < c.interval {
		return c.online
	}

	online := c.dial()
	if !c.known || online != c.online {
		c.logger.Info("upstream connectivity", "addr", c.addr, "online", online)
	}
	c.online = online
	c.checked = c.clock.Now()
	c.known = true

	return online
}

func (c *DialConnectivity) dial() bool {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		c.logger.Debug("upstream dial failed", "addr", c.addr, "error", err)
		return false
	}
	conn.Close()
	return true
}
