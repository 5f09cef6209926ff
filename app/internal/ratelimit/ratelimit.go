// Package ratelimit is a per-key token bucket used to throttle heartbeats.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter keyed by an arbitrary string
// (a device key, a client IP).
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	tokensPerMin float64
	maxTokens    float64
	errorMessage string
	now          func() time.Time
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Config for creating a new rate limiter
type Config struct {
	TokensPerMinute int    // Number of tokens added per minute
	MaxTokens       int    // Maximum tokens that can be accumulated
	ErrorMessage    string // Message to return when rate limited
	Now             func() time.Time
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = cfg.TokensPerMinute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		buckets:      make(map[string]*bucket),
		tokensPerMin: float64(cfg.TokensPerMinute),
		maxTokens:    float64(cfg.MaxTokens),
		errorMessage: cfg.ErrorMessage,
		now:          cfg.Now,
	}
}

// refill must be called with mu held.
func (l *Limiter) refill(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.maxTokens, lastCheck: now}
		l.buckets[key] = b
		return b
	}
	if elapsed := now.Sub(b.lastCheck).Minutes(); elapsed > 0 {
		b.tokens = math.Min(l.maxTokens, b.tokens+elapsed*l.tokensPerMin)
	}
	b.lastCheck = now
	return b
}

// Allow checks if a request is allowed for the given key.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN checks if n requests are allowed
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key, l.now())
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// Remaining returns the number of whole tokens left for a key
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return int(l.maxTokens)
	}
	elapsed := l.now().Sub(b.lastCheck).Minutes()
	return int(math.Min(l.maxTokens, b.tokens+elapsed*l.tokensPerMin))
}

// RetryAfter is how long until key has one token again; zero if it has one now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || l.tokensPerMin <= 0 {
		return 0
	}
	now := l.now()
	tokens := b.tokens + now.Sub(b.lastCheck).Minutes()*l.tokensPerMin
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / l.tokensPerMin * float64(time.Minute)).Round(time.Second)
}

// ErrorMessage returns the error message for this limiter
func (l *Limiter) ErrorMessage() string {
	return l.errorMessage
}

// Reset forgets the bucket for a key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Prune drops buckets idle for longer than idle and returns how many went.
// A bucket idle that long is full again, so dropping it changes nothing.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastCheck) > idle {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}
