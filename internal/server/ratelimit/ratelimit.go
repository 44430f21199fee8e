// Package ratelimit caps per-IP presence connections and login attempts.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const authWindow = time.Minute

// Limiter tracks one bucket per client IP: live connection count plus a
// sliding window of recent auth attempts.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	maxConns int
	maxAuth  int
}

type bucket struct {
	conns    int
	attempts []time.Time
}

func New(maxConns, maxAuthPerMin int) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		maxConns: maxConns,
		maxAuth:  maxAuthPerMin,
	}
	go l.sweep()
	return l
}

// sweep drops buckets that hold no connections and no recent attempts, so
// one-off clients don't accumulate forever.
func (l *Limiter) sweep() {
	for range time.Tick(authWindow) {
		cutoff := time.Now().Add(-authWindow)
		l.mu.Lock()
		for ip, b := range l.buckets {
			b.attempts = pruneBefore(b.attempts, cutoff)
			if b.conns <= 0 && len(b.attempts) == 0 {
				delete(l.buckets, ip)
			}
		}
		l.mu.Unlock()
	}
}

func pruneBefore(attempts []time.Time, cutoff time.Time) []time.Time {
	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (l *Limiter) bucketFor(ip string) *bucket {
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{}
		l.buckets[ip] = b
	}
	return b
}

func (l *Limiter) CanConnect(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[ip]
	return !ok || b.conns < l.maxConns
}

func (l *Limiter) AddConnection(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bucketFor(ip).conns++
}

func (l *Limiter) RemoveConnection(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[ip]; ok && b.conns > 0 {
		b.conns--
	}
}

// CanAuth records the attempt when it is allowed; denied attempts are not
// counted, so a client cannot lock itself out further by retrying.
func (l *Limiter) CanAuth(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(ip)
	b.attempts = pruneBefore(b.attempts, time.Now().Add(-authWindow))
	if len(b.attempts) >= l.maxAuth {
		return false
	}
	b.attempts = append(b.attempts, time.Now())
	return true
}

// GetClientIP prefers proxy headers; X-Forwarded-For may hold a chain, the
// first entry is the originating client.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
