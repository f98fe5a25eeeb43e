package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incident-sync/internal/db"
)

// CachedClient wraps a Client with a Postgres-backed result cache. Both
// matches and misses are cached, so repeated imports of the same spreadsheet
// stop paying for locator calls.
type CachedClient struct {
	inner   Client
	pool    db.Pool
	table   string
	ttlDays int
}

// CacheOption configures the cached client.
type CacheOption func(*CachedClient)

// WithCacheTable overrides the cache table name (default
// "public.geocode_cache").
func WithCacheTable(table string) CacheOption {
	return func(c *CachedClient) { c.table = table }
}

// WithCacheTTLDays bounds cache entry age in days; zero means no expiry.
func WithCacheTTLDays(days int) CacheOption {
	return func(c *CachedClient) { c.ttlDays = days }
}

// NewCachedClient wraps inner with a cache stored in pool.
func NewCachedClient(inner Client, pool db.Pool, opts ...CacheOption) *CachedClient {
	c := &CachedClient{
		inner: inner,
		pool:  pool,
		table: "public.geocode_cache",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cacheKey returns SHA-256 hex of the normalized address.
func cacheKey(addr AddressInput) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(addr.SingleLine)),
		strings.ToLower(strings.TrimSpace(addr.Street)),
		strings.ToLower(strings.TrimSpace(addr.City)),
		strings.ToLower(strings.TrimSpace(addr.State)),
		strings.TrimSpace(addr.ZipCode),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// Geocode implements Client, consulting the cache before the locator.
func (c *CachedClient) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	key := cacheKey(addr)

	if cached, err := c.lookup(ctx, key); err == nil && cached != nil {
		return cached, nil
	}

	result, err := c.inner.Geocode(ctx, addr)
	if err != nil {
		return nil, err
	}
	if storeErr := c.store(ctx, key, result); storeErr != nil {
		zap.L().Debug("geocode: cache store failed", zap.Error(storeErr))
	}
	return result, nil
}

// BatchGeocode implements Client item by item, so every item passes through
// the cache.
func (c *CachedClient) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	results := make([]Result, len(addrs))
	for i, addr := range addrs {
		r, err := c.Geocode(ctx, addr)
		if err != nil {
			results[i] = Result{Status: StatusUnmatched}
			continue
		}
		results[i] = *r
	}
	return results, nil
}

func (c *CachedClient) lookup(ctx context.Context, key string) (*Result, error) {
	query := fmt.Sprintf(
		"SELECT x, y, status, addr_type, score, matched, matched_address FROM %s WHERE address_hash = $1",
		c.table,
	)
	if c.ttlDays > 0 {
		query += fmt.Sprintf(" AND cached_at > now() - interval '%d days'", c.ttlDays)
	}

	var r Result
	row := c.pool.QueryRow(ctx, query, key)
	if err := row.Scan(&r.X, &r.Y, &r.Status, &r.AddrType, &r.Score, &r.Matched, &r.MatchedAddress); err != nil {
		return nil, err // no row or scan error, caller falls through to the locator
	}

	keyPrefix := key
	if len(keyPrefix) > 12 {
		keyPrefix = keyPrefix[:12]
	}
	zap.L().Debug("geocode: cache hit", zap.String("key", keyPrefix), zap.Bool("matched", r.Matched))
	return &r, nil
}

func (c *CachedClient) store(ctx context.Context, key string, r *Result) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (address_hash, x, y, status, addr_type, score, matched, matched_address, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (address_hash) DO UPDATE SET
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			status = EXCLUDED.status,
			addr_type = EXCLUDED.addr_type,
			score = EXCLUDED.score,
			matched = EXCLUDED.matched,
			matched_address = EXCLUDED.matched_address,
			cached_at = now()`, c.table)

	_, err := c.pool.Exec(ctx, query,
		key, r.X, r.Y, r.Status, r.AddrType, r.Score, r.Matched, r.MatchedAddress,
	)
	return eris.Wrap(err, "geocode: store cache entry")
}
