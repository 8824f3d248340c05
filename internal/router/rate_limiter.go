package router

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMessagesPerMinute = 100
	rateWindow               = time.Minute
	staleAfter               = 5 * rateWindow
)

// RateLimiter counts messages per principal in fixed one-minute windows
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows perMinute messages per principal. Non-positive
// values select the default of 100.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultMessagesPerMinute
	}
	return &RateLimiter{
		limit:   perMinute,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow records one message for principalID and reports whether it fits
// in the current window
func (rl *RateLimiter) Allow(principalID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.clients[principalID]
	if !exists || now.Sub(limit.windowStart) >= rateWindow {
		rl.clients[principalID] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}
	limit.messageCount++
	return true
}

// Cleanup drops principals idle for five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, limit := range rl.clients {
		if now.Sub(limit.windowStart) > staleAfter {
			delete(rl.clients, id)
		}
	}
}

// Run calls Cleanup every interval until ctx is done
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
