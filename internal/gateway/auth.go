package gateway

import (
	"cmp"
	"crypto/subtle"
	"net"
	"os"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "password"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth fills in credentials missing from config with
// PARLEY_GATEWAY_TOKEN and PARLEY_GATEWAY_PASSWORD. Without an explicit
// mode, a configured password selects password auth.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{
		Mode:     cfg.Mode,
		Token:    cmp.Or(cfg.Token, os.Getenv("PARLEY_GATEWAY_TOKEN")),
		Password: cmp.Or(cfg.Password, os.Getenv("PARLEY_GATEWAY_PASSWORD")),
	}
	if auth.Mode == "" {
		auth.Mode = "token"
		if auth.Password != "" {
			auth.Mode = "password"
		}
	}
	return auth
}

func denied(reason string) AuthResult { return AuthResult{Reason: reason} }

// Authorize checks a client's connect credentials against the secret the
// server's auth mode expects.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if clientAuth == nil {
		return denied("no credentials provided")
	}

	mode := serverAuth.Mode
	var want, got string
	switch mode {
	case "token":
		want, got = serverAuth.Token, clientAuth.Token
	case "password":
		want, got = serverAuth.Password, clientAuth.Password
	default:
		return denied("unknown auth mode: " + mode)
	}

	switch {
	case want == "":
		return denied("server " + mode + " not configured")
	case got == "":
		return denied(mode + " required")
	case !safeEqual(got, want):
		return denied(mode + "_mismatch")
	}
	return AuthResult{OK: true, Method: mode}
}

// safeEqual compares in constant time, including when lengths differ.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authRateLimiter tracks failed handshakes per remote host. Old failures
// are pruned when a host is looked at, so it runs no goroutine.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func remoteHost(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}

// recentLocked drops failures older than the window and returns the rest.
func (l *authRateLimiter) recentLocked(host string) []time.Time {
	cutoff := l.now().Add(-authRateWindow)
	times := l.failures[host]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = kept
	return kept
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recentLocked(remoteHost(remoteAddr))) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := remoteHost(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		l.evictOldestLocked()
	}
	l.failures[host] = append(l.recentLocked(host), l.now())
}

// evictOldestLocked forgets the host whose most recent failure is oldest.
func (l *authRateLimiter) evictOldestLocked() {
	victim, last := "", time.Time{}
	for host, times := range l.failures {
		if n := len(times); n > 0 && (victim == "" || times[n-1].Before(last)) {
			victim, last = host, times[n-1]
		}
	}
	delete(l.failures, victim)
}

func (l *authRateLimiter) trackedHosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}
