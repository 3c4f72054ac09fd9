package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/copyedit/internal/cache"
	"github.com/MrWong99/copyedit/pkg/types"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sample() types.Result {
	return types.Result{
		RevisedText: "The cat sat there.",
		Changes: []types.Change{{
			ID:     "c1",
			Type:   types.TypeOther,
			After:  " there",
			Reason: "auto-detected change",
			Loc:    &types.Span{Start: 11, End: 17},
		}},
	}
}

func TestMemory_SetGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := cache.NewMemory()

	if _, ok, err := m.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("Get on empty cache = ok %v, err %v", ok, err)
	}
	if err := m.Set(ctx, "k", sample()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if diff := cmp.Diff(sample(), got); diff != "" {
		t.Errorf("cached result mismatch (-want +got):\n%s", diff)
	}
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := cache.NewMemory(cache.WithTTL(time.Minute), cache.WithClock(clock.Now))

	_ = m.Set(ctx, "k", sample())
	clock.Advance(59 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	clock.Advance(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("entry still present after TTL")
	}
	if m.Len() != 0 {
		t.Errorf("expired entry not purged, Len = %d", m.Len())
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := cache.NewMemory()

	res := sample()
	_ = m.Set(ctx, "k", res)
	res.Changes[0].Loc.Start = 99

	got, _, _ := m.Get(ctx, "k")
	if got.Changes[0].Loc.Start != 11 {
		t.Fatalf("cache shares span with caller's value")
	}
	got.Changes[0].Loc.End = 42
	again, _, _ := m.Get(ctx, "k")
	if again.Changes[0].Loc.End != 17 {
		t.Fatalf("cache shares span with returned value")
	}
}

func TestMemory_MaxEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := cache.NewMemory(cache.WithMaxEntries(2), cache.WithClock(clock.Now))

	_ = m.Set(ctx, "a", sample())
	clock.Advance(time.Second)
	_ = m.Set(ctx, "b", sample())
	clock.Advance(time.Second)
	_ = m.Set(ctx, "c", sample())

	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Error("oldest entry was not evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok, _ := m.Get(ctx, k); !ok {
			t.Errorf("entry %q missing", k)
		}
	}

	// Overwriting an existing key never evicts.
	_ = m.Set(ctx, "c", sample())
	if m.Len() != 2 {
		t.Errorf("Len after overwrite = %d, want 2", m.Len())
	}
}

func TestMemory_Ping(t *testing.T) {
	t.Parallel()
	if err := cache.NewMemory().Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := cache.NewMemory(cache.WithMaxEntries(8))

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i))
			_ = m.Set(ctx, key, sample())
			_, _, _ = m.Get(ctx, key)
		}()
	}
	wg.Wait()
	if m.Len() > 8 {
		t.Errorf("Len = %d, exceeds bound", m.Len())
	}
}
