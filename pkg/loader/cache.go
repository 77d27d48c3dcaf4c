package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/appcanvas/pkg/metrics"
)

// Cache keeps downloaded app code by source url so a participant rejoining a room does not fetch
// every remote kind again.
type Cache struct {
	database *sql.DB
	maxAge   time.Duration
}

// OpenCache opens the sqlite database at dsn. Entries older than maxAge are treated as missing; a
// zero maxAge keeps them forever.
func OpenCache(dsn string, maxAge time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open code cache: %w", err)
	}
	// an in-memory database only lives as long as its connection
	db.SetMaxOpenConns(1)
	c := &Cache{database: db, maxAge: maxAge}
	if err := c.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	if _, err := c.database.Exec(
		`CREATE TABLE IF NOT EXISTS app_code (
		src text not null primary key,
		code text not null,
		fetched_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create app_code table: %w", err)
	}
	slog.Debug("ensured app code cache table exists")
	return nil
}

// Get returns the cached code for src.
func (c *Cache) Get(ctx context.Context, src string) (string, bool, error) {
	var code string
	var fetchedAt int64
	err := c.database.QueryRowContext(ctx, `SELECT code, fetched_at FROM app_code WHERE src = ?`, src).Scan(&code, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.AppCodeCacheTotal.WithLabelValues("miss").Inc()
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to query app code: %w", err)
	}
	if c.maxAge > 0 && time.Since(time.Unix(0, fetchedAt)) > c.maxAge {
		metrics.AppCodeCacheTotal.WithLabelValues("expired").Inc()
		return "", false, nil
	}
	metrics.AppCodeCacheTotal.WithLabelValues("hit").Inc()
	return code, true, nil
}

// Put stores code for src, replacing what was there.
func (c *Cache) Put(ctx context.Context, src, code string) error {
	if _, err := c.database.ExecContext(
		ctx, `INSERT INTO app_code (src, code, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(src) DO UPDATE SET code = excluded.code, fetched_at = excluded.fetched_at`,
		src, code, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to store app code: %w", err)
	}
	return nil
}

// Forget drops the cached code for src.
func (c *Cache) Forget(ctx context.Context, src string) error {
	if _, err := c.database.ExecContext(ctx, `DELETE FROM app_code WHERE src = ?`, src); err != nil {
		return fmt.Errorf("failed to forget app code: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.database.Close()
}
