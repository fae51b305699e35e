package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is an alternative Limiter implementation built on
// golang.org/x/time/rate, offered per the design note that a ring buffer or
// token bucket can replace the sliding-window deque without changing the
// observable (allowed, retry_after_seconds) contract.
type TokenBucket struct {
	requestsPerWindow int
	window            time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewTokenBucket creates a token-bucket limiter refilling to
// requestsPerWindow capacity every window.
func NewTokenBucket(requestsPerWindow int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		requestsPerWindow: requestsPerWindow,
		window:            window,
		limiters:          make(map[string]*rate.Limiter),
	}
}

func (l *TokenBucket) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(l.requestsPerWindow) / l.window.Seconds())
		lim = rate.NewLimiter(perSecond, l.requestsPerWindow)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether key may make a request now.
func (l *TokenBucket) Allow(key string) (bool, int) {
	lim := l.limiterFor(key)
	if lim.Allow() {
		return true, 0
	}
	retryAfter := int(l.window.Seconds() / float64(l.requestsPerWindow))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
