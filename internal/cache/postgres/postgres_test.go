package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/copyedit/internal/cache/postgres"
	"github.com/MrWong99/copyedit/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if COPYEDIT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("COPYEDIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COPYEDIT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestCache creates a cache on a freshly dropped table.
func newTestCache(t *testing.T, opts ...postgres.Option) *postgres.Cache {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS copyedit_results CASCADE"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	c, err := postgres.New(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get missing = ok %v, err %v", ok, err)
	}

	res := types.Result{
		RevisedText: "The cat sat there.",
		Changes:     []types.Change{{ID: "c1", After: " there", Loc: &types.Span{Start: 11, End: 17}}},
	}
	if err := c.Set(ctx, "k", res); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if got.RevisedText != res.RevisedText || len(got.Changes) != 1 || *got.Changes[0].Loc != *res.Changes[0].Loc {
		t.Errorf("Get = %+v, want %+v", got, res)
	}

	// Overwrite.
	res.RevisedText = "Replaced."
	if err := c.Set(ctx, "k", res); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, _, _ = c.Get(ctx, "k")
	if got.RevisedText != "Replaced." {
		t.Errorf("overwrite not visible, got %q", got.RevisedText)
	}
}

func TestCache_ExpiryAndPurge(t *testing.T) {
	c := newTestCache(t, postgres.WithTTL(50*time.Millisecond))
	ctx := context.Background()

	if err := c.Set(ctx, "k", types.Result{RevisedText: "x"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if _, ok, err := c.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("Get expired = ok %v, err %v", ok, err)
	}
	n, err := c.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
}

func TestCache_Ping(t *testing.T) {
	c := newTestCache(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
