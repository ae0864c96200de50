package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client exceeds its submission budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig bounds submissions per client.
type RateLimitConfig struct {
	// SubmissionsPerMin is the number of episodes a client may submit per
	// minute. Zero disables limiting.
	SubmissionsPerMin int `yaml:"submissions_per_min"`
}

// RateLimiter is a per-key sliding window limiter. A nil *RateLimiter
// allows everything.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter returns nil when cfg disables limiting.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.SubmissionsPerMin <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   cfg.SubmissionsPerMin,
		window:  time.Minute,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one event for key.
func (rl *RateLimiter) Allow(key string) error {
	return rl.AllowN(key, 1)
}

// AllowN records n events for key, or none if that would exceed the limit.
func (rl *RateLimiter) AllowN(key string, n int) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	events := evict(rl.clients[key], now.Add(-rl.window))
	if len(events)+n > rl.limit {
		rl.clients[key] = events
		return ErrRateLimited
	}
	for range n {
		events = append(events, now)
	}
	rl.clients[key] = events
	rl.gc(now)
	return nil
}

// gc drops idle clients so the map does not grow with every address seen.
func (rl *RateLimiter) gc(now time.Time) {
	if len(rl.clients) < 1024 {
		return
	}
	cutoff := now.Add(-rl.window)
	for k, events := range rl.clients {
		if len(evict(events, cutoff)) == 0 {
			delete(rl.clients, k)
		}
	}
}

// evict drops events before cutoff. events is chronological.
func evict(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}
