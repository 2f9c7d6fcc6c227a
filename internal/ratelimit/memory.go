package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var _ Limiter = (*Memory)(nil)

// Memory keeps one token bucket per key. A bucket holds limit tokens and
// refills at limit per window, so "10/min" allows a burst of ten and then
// one request every six seconds.
//
// Buckets untouched for longer than idleTTL are dropped lazily on the next
// Allow call; there is no background goroutine.
type Memory struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	idleTTL  time.Duration
	buckets  map[string]*bucket
	lastScan time.Time
	now      func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory allows limit requests per window for each key.
func NewMemory(limit int, window time.Duration) *Memory {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	idle := 2 * window
	if idle < time.Minute {
		idle = time.Minute
	}
	return &Memory{
		every:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		idleTTL: idle,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictIdle(now)

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.every, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Len reports how many keys are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// evictIdle runs at most once per idleTTL. Callers hold m.mu.
func (m *Memory) evictIdle(now time.Time) {
	if now.Sub(m.lastScan) < m.idleTTL {
		return
	}
	m.lastScan = now
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) >= m.idleTTL {
			delete(m.buckets, k)
		}
	}
}
