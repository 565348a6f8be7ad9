package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/store"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// ScrapeCache serves scrape records from the store before asking the
// service. A zero TTL or nil store disables caching.
type ScrapeCache struct {
	store store.Store
	ttl   time.Duration
}

// NewScrapeCache returns a cache backed by st.
func NewScrapeCache(st store.Store, ttl time.Duration) *ScrapeCache {
	return &ScrapeCache{store: st, ttl: ttl}
}

func (c *ScrapeCache) enabled() bool {
	return c != nil && c.store != nil && c.ttl > 0
}

// CacheKey identifies a (schema, render mode, url) triple.
func CacheKey(schema webtranspose.Schema, renderJS bool, pageURL string) string {
	h := sha256.New()
	for _, f := range schema.Fields() {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write([]byte(f.Type))
		h.Write([]byte{0})
	}
	if renderJS {
		h.Write([]byte("js"))
	}
	h.Write([]byte{0})
	h.Write([]byte(pageURL))
	return hex.EncodeToString(h.Sum(nil))
}

// Scrape returns the cached record for pageURL or scrapes and caches it.
// Cache failures are logged and never fail the scrape. A client without a
// credential fails even when the record is cached.
func (c *ScrapeCache) Scrape(ctx context.Context, s *webtranspose.Scraper, pageURL string) (webtranspose.Record, bool, error) {
	if err := s.CheckCredential(); err != nil {
		return nil, false, err
	}
	if !c.enabled() {
		rec, err := s.Scrape(ctx, pageURL)
		return rec, false, err
	}

	key := CacheKey(s.Schema(), s.RenderJS(), pageURL)
	if data, err := c.store.GetCachedScrape(ctx, key); err != nil {
		zap.L().Warn("ledger: scrape cache read failed", zap.String("url", pageURL), zap.Error(err))
	} else if data != nil {
		var rec webtranspose.Record
		if err := json.Unmarshal(data, &rec); err == nil {
			return rec, true, nil
		}
	}

	rec, err := s.Scrape(ctx, pageURL)
	if err != nil {
		return nil, false, err
	}
	if err := c.put(ctx, key, rec); err != nil {
		zap.L().Warn("ledger: scrape cache write failed", zap.String("url", pageURL), zap.Error(err))
	}
	return rec, false, nil
}

func (c *ScrapeCache) put(ctx context.Context, key string, rec webtranspose.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal record")
	}
	return c.store.SetCachedScrape(ctx, key, data, c.ttl)
}

// Prune deletes expired cache entries.
func (c *ScrapeCache) Prune(ctx context.Context) (int, error) {
	if c == nil || c.store == nil {
		return 0, nil
	}
	return c.store.DeleteExpiredScrapes(ctx)
}
