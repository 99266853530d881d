package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client
// with bursts up to burstSize
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burstSize,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether clientIP may issue a request now
func (r *RateLimiter) Allow(clientIP string) bool {
	return r.allowAt(clientIP, time.Now())
}

func (r *RateLimiter) allowAt(clientIP string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.clients[clientIP]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[clientIP] = client
	}
	client.lastSeen = now

	return client.limiter.AllowN(now, 1)
}

// Prune forgets clients idle for longer than maxIdle
func (r *RateLimiter) Prune(maxIdle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for ip, client := range r.clients {
		if client.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
		}
	}
}

// PruneEvery runs Prune on every tick of interval until ctx is done
func (r *RateLimiter) PruneEvery(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune(maxIdle)
		}
	}
}

// RateLimit creates middleware rejecting clients over their request budget
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
