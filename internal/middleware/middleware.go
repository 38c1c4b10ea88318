// Package middleware provides net/http-shaped middleware (rate
// limiting, request logging) that internal/server lifts into gin's
// handler chain via adaptMiddleware. Kept in the teacher's net/http
// func(http.Handler) http.Handler shape rather than rewritten as gin
// middleware directly, since nothing else about these two depends on
// gin.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiter is a per-key (IP) token bucket: rate tokens per interval,
// refilled in one shot rather than a continuous leak.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   map[string]*bucket
	rate     int
	interval time.Duration
	logger   *zap.Logger
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter builds a RateLimiter allowing ratePerMinute requests
// per key per rolling minute.
func NewRateLimiter(ratePerMinute int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		tokens:   make(map[string]*bucket),
		rate:     ratePerMinute,
		interval: time.Minute,
		logger:   logger,
	}
}

// Middleware rejects requests over the per-IP rate with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.allow(ip) {
			rl.logger.Warn("rate limit exceeded", zap.String("ip", ip))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.tokens[key]
	if !ok {
		rl.tokens[key] = &bucket{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if now.Sub(b.lastReset) >= rl.interval {
		b.tokens = rl.rate - 1
		b.lastReset = now
		return true
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// LoggingMiddleware logs method, path, remote addr, and duration for
// every request that reaches it.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
