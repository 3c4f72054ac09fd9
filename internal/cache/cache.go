// Package cache defines the result cache used by the copyedit service and an
// in-memory implementation.
//
// Entries are keyed by a request fingerprint and expire after a fixed TTL.
// Implementations must be safe for concurrent use. A PostgreSQL-backed
// implementation lives in the postgres subpackage.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/copyedit/pkg/types"
)

// DefaultTTL is the time a cached result stays valid when no TTL is
// configured.
const DefaultTTL = time.Hour

// Cache stores finished pipeline results.
type Cache interface {
	// Get returns the cached result for key. ok is false on a miss or when
	// the entry has expired.
	Get(ctx context.Context, key string) (res types.Result, ok bool, err error)

	// Set stores res under key, replacing any previous entry.
	Set(ctx context.Context, key string, res types.Result) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// Option is a functional option for configuring a [Memory] cache.
type Option func(*Memory)

// WithTTL sets the entry lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of stored entries. When the bound is
// reached, expired entries are purged first and then the entry closest to
// expiry is evicted. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(m *Memory) {
		m.maxEntries = max(n, 0)
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

type entry struct {
	res     types.Result
	expires time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory returns an empty [Memory] cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get implements [Cache]. Expired entries are removed on access. The returned
// result is a deep copy.
func (m *Memory) Get(_ context.Context, key string) (types.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return types.Result{}, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return types.Result{}, false, nil
	}
	return cloneResult(e.res), true, nil
}

// Set implements [Cache].
func (m *Memory) Set(_ context.Context, key string, res types.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evict(now)
	}
	m.entries[key] = entry{res: cloneResult(res), expires: now.Add(m.ttl)}
	return nil
}

// Ping implements [Cache]. The memory cache is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evict must be called with m.mu held.
func (m *Memory) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(m.entries) >= m.maxEntries && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func cloneResult(r types.Result) types.Result {
	return types.Result{RevisedText: r.RevisedText, Changes: types.CloneChanges(r.Changes)}
}
