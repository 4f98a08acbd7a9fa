package extractor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/streamrelay/internal/domain"
)

// CachedClient wraps a Client with a SQLite-backed TTL cache for extraction
// results. Media bytes are never cached, only the metadata JSON; CDN URLs
// inside it expire upstream anyway, which is why the TTL is short.
//
// Cache failures degrade to pass-through: a broken cache never fails a
// request.
type CachedClient struct {
	inner  Client
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCachedClient opens (or creates) the cache database at path.
func NewCachedClient(inner Client, path string, ttl time.Duration, logger *slog.Logger) (*CachedClient, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS resolutions (
			url_hash TEXT PRIMARY KEY,
			source_url TEXT NOT NULL,
			media TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_resolutions_expires ON resolutions(expires_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return &CachedClient{
		inner:  inner,
		db:     db,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the cache database.
func (c *CachedClient) Close() error {
	return c.db.Close()
}

// Extract returns a fresh cached result when available, otherwise delegates
// and stores the outcome.
func (c *CachedClient) Extract(ctx context.Context, sourceURL string) (*domain.Media, error) {
	if media := c.lookup(ctx, sourceURL); media != nil {
		return media, nil
	}

	media, err := c.inner.Extract(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	c.store(ctx, sourceURL, media)
	return media, nil
}

// Resolve extracts (through the cache) and picks one format.
func (c *CachedClient) Resolve(ctx context.Context, sourceURL, formatSelector string) (*domain.Format, error) {
	media, err := c.Extract(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return FindFormat(media, formatSelector)
}

func (c *CachedClient) lookup(ctx context.Context, sourceURL string) *domain.Media {
	var blob string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT media, expires_at FROM resolutions WHERE url_hash = ?`,
		urlHash(sourceURL),
	).Scan(&blob, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("cache lookup failed", "error", err)
		}
		return nil
	}

	if c.now().Unix() >= expiresAt {
		return nil
	}

	var media domain.Media
	if err := json.Unmarshal([]byte(blob), &media); err != nil {
		c.logger.Warn("cache entry corrupt, ignoring", "error", err)
		return nil
	}

	c.logger.Debug("resolution cache hit", "url", sourceURL)
	return &media
}

func (c *CachedClient) store(ctx context.Context, sourceURL string, media *domain.Media) {
	blob, err := json.Marshal(media)
	if err != nil {
		c.logger.Warn("cache marshal failed", "error", err)
		return
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO resolutions (url_hash, source_url, media, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			media = excluded.media,
			expires_at = excluded.expires_at
	`, urlHash(sourceURL), sourceURL, string(blob), c.now().Add(c.ttl).Unix())
	if err != nil {
		c.logger.Warn("cache store failed", "error", err)
	}
}

// Prune removes expired rows. Called opportunistically at startup.
func (c *CachedClient) Prune(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM resolutions WHERE expires_at <= ?`, c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
