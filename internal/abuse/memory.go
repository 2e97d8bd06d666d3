package abuse

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type bucket struct {
	hits    int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	prints  map[string]time.Time
	active  map[string]int
}

// MemoryBackend keeps counters in process, spread over independently
// locked shards.
type MemoryBackend struct {
	shards [shardCount]*shard
	now    func() time.Time
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithClock(time.Now)
}

// NewMemoryBackendWithClock uses now instead of the wall clock.
func NewMemoryBackendWithClock(now func() time.Time) *MemoryBackend {
	m := &MemoryBackend{now: now}
	for i := range m.shards {
		m.shards[i] = &shard{
			buckets: make(map[string]*bucket),
			prints:  make(map[string]time.Time),
			active:  make(map[string]int),
		}
	}
	return m
}

func (m *MemoryBackend) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *MemoryBackend) Hit(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	now := m.now()
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(window)}
		s.buckets[key] = b
	}
	b.hits++
	return b.hits, b.resetAt.Sub(now), nil
}

func (m *MemoryBackend) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.prints[key]; ok && !expiresAt.Before(now) {
		return false, nil
	}
	s.prints[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryBackend) Acquire(_ context.Context, key string, max int) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[key] >= max {
		return false, nil
	}
	s.active[key]++
	return true, nil
}

func (m *MemoryBackend) Release(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[key] <= 1 {
		delete(s.active, key)
		return nil
	}
	s.active[key]--
	return nil
}

func (m *MemoryBackend) Sweep(_ context.Context, now time.Time) error {
	for _, s := range m.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			if b.resetAt.Before(now) {
				delete(s.buckets, key)
			}
		}
		for key, expiresAt := range s.prints {
			if expiresAt.Before(now) {
				delete(s.prints, key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// size reports how many rate buckets and fingerprints are held.
func (m *MemoryBackend) size() (buckets, prints int) {
	for _, s := range m.shards {
		s.mu.Lock()
		buckets += len(s.buckets)
		prints += len(s.prints)
		s.mu.Unlock()
	}
	return buckets, prints
}
