package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLCache implements Cache on an embedded libSQL database, giving the
// probe and limits caches cross-session durability.
type LibSQLCache struct {
	db *sql.DB
}

// NewLibSQLCache opens (or creates) the cache database at the given path.
// The path should be a file URI, e.g. "file:/home/u/.olumi/cache.db".
func NewLibSQLCache(dbPath string) (*LibSQLCache, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	c := &LibSQLCache{db: db}
	if err := c.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *LibSQLCache) migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate cache_entries: %w", err)
	}
	return nil
}

func (c *LibSQLCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var payload string
	var expiresAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if err != nil {
		// sql.ErrNoRows and scan failures are both misses: a corrupt row
		// must never become a fatal error.
		return nil, false
	}
	if !time.Now().Before(expiresAt) {
		_ = c.Delete(ctx, key)
		return nil, false
	}
	return []byte(payload), true
}

func (c *LibSQLCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, expires_at=excluded.expires_at`,
		key, string(payload), time.Now().Add(ttl).UTC(),
	)
	return err
}

func (c *LibSQLCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

func (c *LibSQLCache) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *LibSQLCache) Close() error { return c.db.Close() }
