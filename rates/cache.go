package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
)

// =============================================================================
// CACHE - Last known snapshot per base currency
// =============================================================================

// ErrCacheMiss is returned by Cache.Get when no snapshot is stored for base.
var ErrCacheMiss = errors.New("rate cache miss")

type Cache interface {
	Get(ctx context.Context, base string) (Table, error)
	Put(ctx context.Context, t Table) error
}

// MemoryCache keeps snapshots in process memory.
type MemoryCache struct {
	mu     sync.RWMutex
	tables map[string]Table
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tables: make(map[string]Table)}
}

func (c *MemoryCache) Get(_ context.Context, base string) (Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[normalizeSymbol(base)]
	if !ok {
		return Table{}, ErrCacheMiss
	}
	return t, nil
}

func (c *MemoryCache) Put(_ context.Context, t Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[t.Base()] = t
	return nil
}

// =============================================================================
// CACHED SOURCE - Opt-in fallback to a recent snapshot
// =============================================================================

// CachedSource wraps a Source. Successful fetches refresh the cache; when the
// upstream fails, a cached snapshot no older than MaxAge is served instead.
// A fallback snapshot is still one consistent table, so batch-consistent
// pricing holds.
type CachedSource struct {
	Source  Source
	Cache   Cache
	MaxAge  time.Duration
	Clock   generic.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func NewCachedSource(src Source, cache Cache, maxAge time.Duration, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{Source: src, Cache: cache, MaxAge: maxAge, Clock: generic.SystemClock{}, Logger: logger}
}

func (c *CachedSource) FetchRates(ctx context.Context, base string) (Table, error) {
	t, err := c.Source.FetchRates(ctx, base)
	if err == nil {
		if perr := c.Cache.Put(ctx, t); perr != nil {
			c.logger().Warn("rate cache write failed", zap.String("base", base), zap.Error(perr))
		}
		return t, nil
	}

	cached, cerr := c.Cache.Get(ctx, base)
	if cerr != nil {
		return Table{}, err
	}
	age := cached.Age(c.now())
	if c.MaxAge > 0 && age > c.MaxAge {
		c.logger().Warn("cached rates too old for fallback",
			zap.String("base", base), zap.Duration("age", age), zap.Error(err))
		return Table{}, err
	}

	c.logger().Warn("serving cached rates after provider failure",
		zap.String("base", base), zap.Duration("age", age), zap.Error(err))
	c.Metrics.IncrementRateCacheFallback()
	return cached, nil
}

// Refresh fetches from the upstream and stores the result, without fallback.
func (c *CachedSource) Refresh(ctx context.Context, base string) (Table, error) {
	t, err := c.Source.FetchRates(ctx, base)
	if err != nil {
		return Table{}, err
	}
	if err := c.Cache.Put(ctx, t); err != nil {
		return t, fmt.Errorf("store refreshed rates: %w", err)
	}
	return t, nil
}

func (c *CachedSource) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock.Now()
}

func (c *CachedSource) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// =============================================================================
// SERIALIZATION - Shared by Redis cache and the JSON export
// =============================================================================

type tableJSON struct {
	Base      string                     `json:"base"`
	Prices    map[string]decimal.Decimal `json:"prices"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

func (t Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(tableJSON{Base: t.base, Prices: t.prices, FetchedAt: t.fetchedAt})
}

func (t *Table) UnmarshalJSON(b []byte) error {
	var tj tableJSON
	if err := json.Unmarshal(b, &tj); err != nil {
		return err
	}
	*t = NewTable(tj.Base, tj.Prices, tj.FetchedAt)
	return nil
}
