package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tfdeck/tfdeck/internal/logging"
)

// LimiterConfig tunes the login rate limiter.
type LimiterConfig struct {
	// MaxAttempts is the number of login attempts allowed per Window.
	MaxAttempts int
	Window      time.Duration

	// BlockAfter is the consecutive-failure count that triggers a block.
	// Each further BlockAfter failures doubles the block duration, capped
	// at maxBlock.
	BlockAfter int
	BlockTime  time.Duration
}

// DefaultLimiterConfig returns the limits applied to /api/login.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxAttempts: 5,
		Window:      time.Minute,
		BlockAfter:  10,
		BlockTime:   5 * time.Minute,
	}
}

const maxBlock = 24 * time.Hour

// visitor is the limiter's per-IP state.
type visitor struct {
	// attempts holds the timestamps of login attempts inside the sliding
	// window, oldest first.
	attempts []time.Time

	// failures counts consecutive wrong passwords. Reset on success.
	failures int

	// blockedUntil is zero unless the IP is serving a block.
	blockedUntil time.Time
}

// loginLimiter is a sliding-window per-IP rate limiter with exponential
// blocking for repeated failures.
type loginLimiter struct {
	mu  sync.Mutex
	cfg LimiterConfig
	ips map[string]*visitor
	log *logging.Logger
}

func newLoginLimiter(cfg LimiterConfig, log *logging.Logger) *loginLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BlockAfter <= 0 {
		cfg.BlockAfter = 10
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 5 * time.Minute
	}
	return &loginLimiter{
		cfg: cfg,
		ips: make(map[string]*visitor),
		log: log,
	}
}

// decision is the outcome of a rate limit check.
type decision struct {
	allowed    bool
	blocked    bool
	retryAfter time.Duration
}

// check records a login attempt for the IP and reports whether it may
// proceed.
func (rl *loginLimiter) check(ip string) decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v := rl.ips[ip]
	if v == nil {
		v = &visitor{}
		rl.ips[ip] = v
	}

	if !v.blockedUntil.IsZero() {
		if now.Before(v.blockedUntil) {
			remaining := v.blockedUntil.Sub(now)
			rl.log.Warn("login blocked", "ip", ip, "failures", v.failures, "retry_after", remaining)
			return decision{blocked: true, retryAfter: remaining}
		}
		v.blockedUntil = time.Time{}
	}

	v.prune(now.Add(-rl.cfg.Window))
	if len(v.attempts) >= rl.cfg.MaxAttempts {
		// The oldest attempt leaving the window frees the next slot.
		retryAfter := v.attempts[0].Add(rl.cfg.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		rl.log.Warn("login rate limited", "ip", ip, "attempts", len(v.attempts), "retry_after", retryAfter)
		return decision{retryAfter: retryAfter}
	}

	v.attempts = append(v.attempts, now)
	return decision{allowed: true}
}

// recordSuccess clears the IP's failure history after a correct password.
func (rl *loginLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v := rl.ips[ip]; v != nil {
		v.failures = 0
		v.blockedUntil = time.Time{}
	}
}

// recordFailure counts a wrong password. Once failures reach BlockAfter
// the IP is blocked, with the duration doubling every further BlockAfter
// failures up to maxBlock.
func (rl *loginLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v := rl.ips[ip]
	if v == nil {
		v = &visitor{}
		rl.ips[ip] = v
	}
	v.failures++
	if v.failures < rl.cfg.BlockAfter {
		return
	}

	doublings := (v.failures - rl.cfg.BlockAfter) / rl.cfg.BlockAfter
	if doublings > 10 {
		// Past this the cap applies anyway; unclamped, the shift
		// overflows for persistent attackers.
		doublings = 10
	}
	duration := rl.cfg.BlockTime * time.Duration(1<<doublings)
	if duration > maxBlock {
		duration = maxBlock
	}
	v.blockedUntil = time.Now().Add(duration)
	rl.log.Warn("ip blocked after repeated login failures",
		"ip", ip, "failures", v.failures, "duration", duration)
}

// cleanup drops state for IPs that have gone quiet. Failure history goes
// with them; only a blocked IP keeps its record across idle periods.
// Called from the server's maintenance loop.
func (rl *loginLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.cfg.Window)
	for ip, v := range rl.ips {
		v.prune(windowStart)
		if now.After(v.blockedUntil) {
			v.blockedUntil = time.Time{}
		}
		if len(v.attempts) == 0 && v.blockedUntil.IsZero() {
			delete(rl.ips, ip)
		}
	}
}

// prune discards attempts older than windowStart, keeping order.
func (v *visitor) prune(windowStart time.Time) {
	kept := v.attempts[:0]
	for _, ts := range v.attempts {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	v.attempts = kept
}

// clientIP extracts the client address for rate limiting. Proxy headers
// win over the socket address so limits land on the real client when the
// server sits behind a reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
