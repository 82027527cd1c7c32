// Package security holds request admission controls for the HTTP surface.
package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/pii-sentinel/internal/config"
)

// RateLimiter implements per-client token bucket rate limiting
type RateLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		enabled: cfg.Enabled,
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		idle:    time.Hour,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow checks if a request from the given client is allowed
func (r *RateLimiter) Allow(clientID string) bool {
	if !r.enabled {
		return true
	}

	now := r.now()
	return r.get(clientID, now).AllowN(now, 1)
}

// Tokens returns the tokens left for a client, or the burst size for an
// unknown client.
func (r *RateLimiter) Tokens(clientID string) float64 {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	r.mu.Unlock()

	if !ok {
		return float64(r.burst)
	}
	return c.limiter.TokensAt(r.now())
}

// Clients returns the number of tracked clients.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *RateLimiter) get(clientID string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[clientID] = c
	}
	c.lastSeen = now
	return c.limiter
}

// CleanupOldBuckets removes clients that have been idle for longer than the
// idle window
func (r *RateLimiter) CleanupOldBuckets() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	for id, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, id)
		}
	}
}

// StartCleanupRoutine runs CleanupOldBuckets periodically until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldBuckets()
			}
		}
	}()
}
