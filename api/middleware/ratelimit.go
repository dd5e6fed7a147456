package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter keyed by client IP
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rate  float64
	burst float64

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained with
// the given burst capacity. Idle buckets are evicted in the background until
// Stop is called.
func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	l := &RateLimiter{
		buckets:       make(map[string]*bucket),
		rate:          float64(requestsPerSecond),
		burst:         float64(burst),
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCh:        make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from the key may proceed now
func (l *RateLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	b.tokens += now.Sub(b.last).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects over-limit requests with 429
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.Allow(host) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop terminates the cleanup loop
func (l *RateLimiter) Stop() {
	close(l.stopCh)
	l.cleanupTicker.Stop()
}

func (l *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-l.cleanupTicker.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				if now.Sub(b.last) > time.Hour {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
