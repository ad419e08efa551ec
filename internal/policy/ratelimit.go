package policy

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when an anonymous requester exceeds the
// per-window message budget.
var ErrRateLimited = errors.New("message rate limit exceeded")

// Limiter is a fixed-window message counter keyed by requester identity.
// It is safe for concurrent use within one process. When the service runs as
// multiple instances the budget applies per instance; moving the counters
// into the session store would make it global.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewLimiter(limit int, windowSize time.Duration) *Limiter {
	if limit <= 0 {
		limit = 30
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &Limiter{
		limit:   limit,
		window:  windowSize,
		buckets: make(map[string]*window),
		now:     time.Now,
	}
}

// SetClock overrides the limiter clock for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow records one message for key and reports whether it fits the budget.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		l.buckets[key] = &window{start: now, count: 1}
		l.pruneLocked(now)
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

// pruneLocked drops expired windows so the map does not grow with every
// anonymous id ever seen. Called with the mutex held.
func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, k)
		}
	}
}
