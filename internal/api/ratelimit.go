package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxClients bounds the limiter map
const maxClients = 10000

type RateLimiter struct {
	mu                sync.RWMutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond float64
	burstSize         int
}

func NewRateLimiter(requestsPerSecond float64, burstSize int) *RateLimiter {
	if burstSize <= 0 {
		burstSize = max(int(requestsPerSecond), 1)
	}
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burstSize:         burstSize,
	}
}

func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// MEMORY PROTECTION: Prevent unlimited growth
	if len(rl.limiters) >= maxClients {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burstSize)
		rl.limiters[client] = limiter
	}

	return limiter.Allow()
}
