package transport

import (
	"net"
	"sync"

	"github.com/InterShare/InterShareSDK/metrics"
)

// ConnLimiterConfig configures ConnLimiter's admission caps.
type ConnLimiterConfig struct {
	// MaxConns is the total number of concurrent inbound connections
	// admitted at once.
	MaxConns int

	// MaxPerIP caps concurrent connections from a single remote address,
	// so one misbehaving or overeager peer cannot exhaust MaxConns alone.
	MaxPerIP int
}

// DefaultConnLimiterConfig returns sensible defaults for a nearby-share
// daemon, which only ever expects a handful of concurrent transfers.
func DefaultConnLimiterConfig() ConnLimiterConfig {
	return ConnLimiterConfig{
		MaxConns: 32,
		MaxPerIP: 4,
	}
}

// ConnLimiter admits or rejects inbound connections against a global cap
// and a per-remote-IP cap. Safe for concurrent use.
type ConnLimiter struct {
	mu   sync.Mutex
	cfg  ConnLimiterConfig
	byIP map[string]int
	total int

	active   *metrics.Gauge
	rejected *metrics.Counter
}

// NewConnLimiter creates a ConnLimiter with the given config.
func NewConnLimiter(cfg ConnLimiterConfig) *ConnLimiter {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 32
	}
	if cfg.MaxPerIP <= 0 {
		cfg.MaxPerIP = 4
	}
	return &ConnLimiter{
		cfg:      cfg,
		byIP:     make(map[string]int),
		active:   metrics.DefaultRegistry.Gauge("transport.conn_active"),
		rejected: metrics.DefaultRegistry.Counter("transport.conn_rejected"),
	}
}

// Acquire admits a connection from remoteAddr, returning false if either
// the global or per-IP cap is already at capacity. Every successful
// Acquire must be paired with a Release.
func (l *ConnLimiter) Acquire(remoteAddr net.Addr) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.cfg.MaxConns {
		l.rejected.Inc()
		return false
	}
	if host != "" && l.byIP[host] >= l.cfg.MaxPerIP {
		l.rejected.Inc()
		return false
	}

	l.total++
	if host != "" {
		l.byIP[host]++
	}
	l.active.Set(int64(l.total))
	return true
}

// Release returns a connection's slot, and must be called exactly once
// per successful Acquire for the same remoteAddr.
func (l *ConnLimiter) Release(remoteAddr net.Addr) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total > 0 {
		l.total--
	}
	if host != "" && l.byIP[host] > 0 {
		l.byIP[host]--
		if l.byIP[host] == 0 {
			delete(l.byIP, host)
		}
	}
	l.active.Set(int64(l.total))
}

// ActiveConns returns the current number of admitted connections.
func (l *ConnLimiter) ActiveConns() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return host
}
