package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type windowEntry struct {
	count   int64
	expires time.Time
}

type burstEntry struct {
	tokens float64
	ts     time.Time
}

// MemoryStore implements the CounterStore contract in process memory. It
// exists for tests and single-process runs; atomicity comes from a mutex
// instead of a server-side script.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]windowEntry
	bursts  map[string]burstEntry

	// NowFunc can be replaced in tests to step the clock.
	NowFunc func() time.Time

	// FailWith, when set, makes every call return that error. Used to
	// exercise store-unavailable handling.
	FailWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]windowEntry),
		bursts:  make(map[string]burstEntry),
		NowFunc: time.Now,
	}
}

func (s *MemoryStore) ConsumeWindow(ctx context.Context, key string, cost, limit int64, window time.Duration) (WindowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return WindowResult{}, s.FailWith
	}

	now := s.NowFunc()
	entry, ok := s.windows[key]
	if !ok || now.After(entry.expires) {
		entry = windowEntry{count: 0, expires: now.Add(window)}
	}

	if entry.count+cost > limit {
		return WindowResult{
			Allowed: false,
			Count:   entry.count,
			ResetIn: entry.expires.Sub(now),
		}, nil
	}

	entry.count += cost
	s.windows[key] = entry

	return WindowResult{
		Allowed: true,
		Count:   entry.count,
		ResetIn: entry.expires.Sub(now),
	}, nil
}

func (s *MemoryStore) PeekWindow(ctx context.Context, key string, window time.Duration) (WindowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return WindowResult{}, s.FailWith
	}

	now := s.NowFunc()
	entry, ok := s.windows[key]
	if !ok || now.After(entry.expires) {
		return WindowResult{Count: 0, ResetIn: window}, nil
	}

	return WindowResult{Count: entry.count, ResetIn: entry.expires.Sub(now)}, nil
}

func (s *MemoryStore) DrawBurst(ctx context.Context, key string, cost, capacity int64, refillPerSec float64) (BurstResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return BurstResult{}, s.FailWith
	}

	now := s.NowFunc()
	tokens := s.refilled(key, capacity, refillPerSec, now)

	allowed := false
	if tokens >= float64(cost) {
		tokens -= float64(cost)
		allowed = true
	}

	s.bursts[key] = burstEntry{tokens: tokens, ts: now}

	return BurstResult{Allowed: allowed, Tokens: tokens}, nil
}

func (s *MemoryStore) PeekBurst(ctx context.Context, key string, capacity int64, refillPerSec float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return 0, s.FailWith
	}

	return s.refilled(key, capacity, refillPerSec, s.NowFunc()), nil
}

func (s *MemoryStore) refilled(key string, capacity int64, refillPerSec float64, now time.Time) float64 {
	entry, ok := s.bursts[key]
	if !ok {
		return float64(capacity)
	}

	elapsed := now.Sub(entry.ts).Seconds()
	return math.Min(float64(capacity), entry.tokens+elapsed*refillPerSec)
}

func (s *MemoryStore) Reset(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	for _, key := range keys {
		delete(s.windows, key)
		delete(s.bursts, key)
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	return nil
}
