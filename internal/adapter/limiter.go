package adapter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter is a token bucket per user id. Buckets that have refilled
// completely are dropped by Run.
type userLimiter struct {
	perSecond float64
	burst     int
	users     map[int64]*rate.Limiter
	mu        sync.RWMutex
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	return &userLimiter{
		perSecond: perSecond,
		burst:     burst,
		users:     make(map[int64]*rate.Limiter),
	}
}

func (l *userLimiter) get(userID int64) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.users[userID]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists = l.users[userID]; !exists {
		limiter = rate.NewLimiter(rate.Limit(l.perSecond), l.burst)
		l.users[userID] = limiter
	}
	return limiter
}

// Allow reports whether the user may act now. A non-positive rate disables
// throttling.
func (l *userLimiter) Allow(userID int64) bool {
	if l.perSecond <= 0 {
		return true
	}
	return l.get(userID).Allow()
}

func (l *userLimiter) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for id, limiter := range l.users {
		if limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.users, id)
			dropped++
		}
	}
	return dropped
}

func (l *userLimiter) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.users)
}

// Run drops idle buckets every minute until ctx is cancelled.
func (l *userLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}
