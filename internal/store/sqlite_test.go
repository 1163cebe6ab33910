package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/encoderhq/encoderd/internal/pipeline"
)

func newTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	cache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCache() error: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestSQLiteCache_StoreAndLookup(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	embedding := []float32{0.25, -1.5, 3.75, 0}
	if err := cache.Store(ctx, "digest-1", "feature-hash-256", embedding); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	got, err := cache.Lookup(ctx, "digest-1")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if !reflect.DeepEqual(got, embedding) {
		t.Errorf("Lookup() = %v, want %v", got, embedding)
	}
}

func TestSQLiteCache_MissReturnsSentinel(t *testing.T) {
	cache := newTestCache(t)

	_, err := cache.Lookup(context.Background(), "unknown")
	if !errors.Is(err, pipeline.ErrCacheMiss) {
		t.Errorf("Lookup() error = %v, want ErrCacheMiss", err)
	}
}

func TestSQLiteCache_StoreOverwritesExisting(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if err := cache.Store(ctx, "digest-1", "model-a", []float32{1}); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if err := cache.Store(ctx, "digest-1", "model-a", []float32{2}); err != nil {
		t.Fatalf("second Store() error: %v", err)
	}

	got, err := cache.Lookup(ctx, "digest-1")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if got[0] != 2 {
		t.Errorf("Lookup() = %v, want updated value", got)
	}

	count, err := cache.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestSQLiteCache_EvictBefore(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if err := cache.Store(ctx, "old", "m", []float32{1}); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	// Backdate the first row so the cutoff separates it from the second.
	if _, err := cache.db.Exec(
		"UPDATE embedding_cache SET created_at = ? WHERE digest = 'old'",
		time.Now().Add(-48*time.Hour).UTC().Format(time.RFC3339),
	); err != nil {
		t.Fatalf("backdate row: %v", err)
	}
	if err := cache.Store(ctx, "fresh", "m", []float32{2}); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	removed, err := cache.EvictBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("EvictBefore() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("EvictBefore() removed %d rows, want 1", removed)
	}

	if _, err := cache.Lookup(ctx, "old"); !errors.Is(err, pipeline.ErrCacheMiss) {
		t.Error("expired row should be gone")
	}
	if _, err := cache.Lookup(ctx, "fresh"); err != nil {
		t.Errorf("fresh row should survive eviction: %v", err)
	}
}

func TestPackUnpackEmbedding_RoundTrip(t *testing.T) {
	original := []float32{0, 1, -1, 3.14159, -2.71828}
	got := unpackEmbedding(packEmbedding(original))
	if !reflect.DeepEqual(got, original) {
		t.Errorf("round trip = %v, want %v", got, original)
	}
}
