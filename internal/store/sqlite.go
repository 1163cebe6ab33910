package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/encoderhq/encoderd/internal/pipeline"
)

// Compile-time interface check
var _ pipeline.Cache = (*SQLiteCache)(nil)

// SQLiteCache persists embeddings keyed by content digest so repeat items
// skip preprocessing and inference entirely.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (or creates) the cache database, applies pragmas, and
// runs migrations.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Lookup returns the cached embedding for a digest, or pipeline.ErrCacheMiss.
func (c *SQLiteCache) Lookup(ctx context.Context, digest string) ([]float32, error) {
	var packed []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE digest = ?", digest,
	).Scan(&packed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipeline.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return unpackEmbedding(packed), nil
}

// Store upserts an embedding under its content digest.
func (c *SQLiteCache) Store(ctx context.Context, digest, model string, embedding []float32) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (digest, model, embedding, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET
			model = excluded.model,
			embedding = excluded.embedding,
			created_at = excluded.created_at
	`, digest, model, packEmbedding(embedding), time.Now().UTC().Format(time.RFC3339))
	return err
}

// EvictBefore deletes cache rows created before the cutoff and reports how
// many were removed.
func (c *SQLiteCache) EvictBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM embedding_cache WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of cached embeddings.
func (c *SQLiteCache) Count(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&count)
	return count, err
}

// packEmbedding packs float32 values into a byte slice.
func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// unpackEmbedding unpacks a byte slice into float32 values.
func unpackEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
