package router

import (
	"sync"
	"time"
)

// messagesPerMinute bounds inbound frames per connection. Debounced code
// updates plus chat stay far below this; the limit only catches runaway
// clients.
const messagesPerMinute = 300

// RateLimiter implements per-connection rate limiting with a sliding
// minute window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
	}
}

// Allow checks whether a connection may send another message.
func (rl *RateLimiter) Allow(connectionID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.clients[connectionID]
	if !exists {
		rl.clients[connectionID] = &clientLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= messagesPerMinute {
		return false
	}

	limit.messageCount++
	return true
}

// Cleanup removes stale per-connection state. Call periodically; entries
// idle for five windows are forgotten.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for connectionID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, connectionID)
		}
	}
}
