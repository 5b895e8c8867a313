package api

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// Streaming connection limits, to keep long-lived SSE connections from
// exhausting the server.
const (
	// MaxSSEPerIP caps concurrent streams from a single client IP.
	MaxSSEPerIP = 10

	// MaxSSEGlobal caps concurrent streams across all clients.
	MaxSSEGlobal = 1000
)

// SSELimiter tracks concurrent streaming connections per IP and globally.
type SSELimiter struct {
	globalCount atomic.Int64
	mu          sync.Mutex
	perIP       map[string]*atomic.Int64
}

// NewSSELimiter creates an empty limiter.
func NewSSELimiter() *SSELimiter {
	return &SSELimiter{perIP: make(map[string]*atomic.Int64)}
}

// Acquire registers a new connection for ip, reporting whether it is
// allowed. On success the caller must Release exactly once.
func (l *SSELimiter) Acquire(ip string) bool {
	if l.globalCount.Load() >= MaxSSEGlobal {
		return false
	}

	l.mu.Lock()
	counter, ok := l.perIP[ip]
	if !ok {
		counter = &atomic.Int64{}
		l.perIP[ip] = counter
	}
	l.mu.Unlock()

	// Increment, then re-check: another goroutine may have raced past the
	// load above.
	ipCount := counter.Add(1)
	globalCount := l.globalCount.Add(1)
	if ipCount > MaxSSEPerIP || globalCount > MaxSSEGlobal {
		counter.Add(-1)
		l.globalCount.Add(-1)
		return false
	}
	return true
}

// Release decrements the counters for ip, evicting drained per-IP entries
// so the map does not grow without bound.
func (l *SSELimiter) Release(ip string) {
	l.globalCount.Add(-1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if counter, ok := l.perIP[ip]; ok && counter.Add(-1) <= 0 {
		delete(l.perIP, ip)
	}
}

// GlobalCount returns the current global connection count.
func (l *SSELimiter) GlobalCount() int64 {
	return l.globalCount.Load()
}

// clientIP extracts the client IP, preferring X-Real-Ip (set by the RealIP
// middleware) and stripping the port from RemoteAddr.
func clientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
