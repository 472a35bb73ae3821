package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/LougLynx/RIG-SYSTEM/internal/apierror"
)

// rateEntry tracks request counts per IP within a fixed window.
type rateEntry struct {
	count     int
	windowEnd time.Time
}

// RateLimiter is a per-IP fixed-window limiter for the ops API.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*rateEntry
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*rateEntry),
	}
}

// Allow counts one request for ip and reports whether it is within the limit.
func (l *RateLimiter) Allow(ip string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[ip]
	if !ok || now.After(e.windowEnd) {
		e = &rateEntry{windowEnd: now.Add(l.window)}
		l.entries[ip] = e
	}
	e.count++
	return e.count <= l.limit, e.windowEnd
}

// Handler returns the gin middleware.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, until := l.Allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", until.UTC().Format(http.TimeFormat))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New(apierror.MsgRateLimited))
			return
		}
		c.Next()
	}
}

// Purge drops expired entries and returns how many were removed.
func (l *RateLimiter) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for ip, e := range l.entries {
		if now.After(e.windowEnd) {
			delete(l.entries, ip)
			n++
		}
	}
	return n
}

// RunPurge purges expired entries every interval until ctx is done.
func (l *RateLimiter) RunPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Purge(); n > 0 {
				log.Debug().Int("purged", n).Msg("ratelimit: expired entries purged")
			}
		}
	}
}
