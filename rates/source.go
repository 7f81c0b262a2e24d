/*
Package rates supplies exchange rates to the payroll engine.

PURPOSE:
  A Source fetches a Table: an immutable snapshot mapping currency or asset
  symbols to a price in a base currency. The payroll aggregator fetches one
  Table per run and shares it read-only across every employee, so all
  employees in a run see the same prices.

SOURCES:
  HTTPSource:   Price/FX provider over HTTP (crypto and FX payload shapes)
  StaticSource: Fixed table for tests, demos and offline mode
  CachedSource: Decorator that falls back to a recent cached snapshot

FAILURE:
  Every failure surfaces as generic.ErrRateUnavailable. No retries happen
  here; the caller decides between retrying, the cache, or aborting.

SEE ALSO:
  - http.go: Payload normalization
  - cache.go: MemoryCache, CachedSource
  - redis.go: RedisCache
*/
package rates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Source is the contract every rate provider adapter implements.
type Source interface {
	// FetchRates returns the current prices quoted in base. It must not
	// return an empty table: no usable prices is ErrRateUnavailable.
	FetchRates(ctx context.Context, base string) (Table, error)
}

// =============================================================================
// TABLE - Immutable price snapshot
// =============================================================================

type Table struct {
	base      string
	prices    map[string]decimal.Decimal
	fetchedAt time.Time
}

// NewTable copies prices so later mutation of the input cannot leak into a
// running batch. Symbols are upper-cased; non-positive prices are dropped.
func NewTable(base string, prices map[string]decimal.Decimal, fetchedAt time.Time) Table {
	cp := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		if !p.IsPositive() {
			continue
		}
		cp[normalizeSymbol(sym)] = p
	}
	return Table{base: normalizeSymbol(base), prices: cp, fetchedAt: fetchedAt.UTC()}
}

func (t Table) Base() string         { return t.base }
func (t Table) FetchedAt() time.Time { return t.fetchedAt }
func (t Table) Len() int             { return len(t.prices) }
func (t Table) IsEmpty() bool        { return len(t.prices) == 0 }

// Price returns the price of symbol in the table's base currency.
func (t Table) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := t.prices[normalizeSymbol(symbol)]
	return p, ok
}

// MustPrice returns the price or an UnknownAssetError.
func (t Table) MustPrice(symbol string) (decimal.Decimal, error) {
	p, ok := t.Price(symbol)
	if !ok {
		return decimal.Zero, &generic.UnknownAssetError{Symbol: normalizeSymbol(symbol), Base: t.base}
	}
	return p, nil
}

// Symbols lists the symbols in the table, sorted.
func (t Table) Symbols() []string {
	out := make([]string, 0, len(t.prices))
	for s := range t.prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Prices returns a copy of the underlying map.
func (t Table) Prices() map[string]decimal.Decimal {
	cp := make(map[string]decimal.Decimal, len(t.prices))
	for k, v := range t.prices {
		cp[k] = v
	}
	return cp
}

// Age is how old the snapshot is relative to now.
func (t Table) Age(now time.Time) time.Duration { return now.Sub(t.fetchedAt) }

func normalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// =============================================================================
// ERRORS
// =============================================================================

// RateError carries the provider and the underlying cause of a failed fetch.
type RateError struct {
	Provider string
	Base     string
	Cause    error
}

func (e *RateError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("rate unavailable from %s (base %s)", e.Provider, e.Base)
	}
	return fmt.Sprintf("rate unavailable from %s (base %s): %v", e.Provider, e.Base, e.Cause)
}

func (e *RateError) Unwrap() []error {
	if e.Cause == nil {
		return []error{generic.ErrRateUnavailable}
	}
	return []error{generic.ErrRateUnavailable, e.Cause}
}

// =============================================================================
// STATIC SOURCE
// =============================================================================

// StaticSource serves a fixed set of prices. An empty StaticSource behaves
// like a provider returning an empty payload.
type StaticSource struct {
	Prices map[string]decimal.Decimal
	Clock  generic.Clock
}

func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	return &StaticSource{Prices: prices, Clock: generic.SystemClock{}}
}

func (s *StaticSource) FetchRates(ctx context.Context, base string) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, &RateError{Provider: "static", Base: base, Cause: err}
	}
	clock := s.Clock
	if clock == nil {
		clock = generic.SystemClock{}
	}
	t := NewTable(base, s.Prices, clock.Now())
	if t.IsEmpty() {
		return Table{}, &RateError{Provider: "static", Base: base, Cause: errEmptyPayload}
	}
	return t, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, base string) (Table, error)

func (f SourceFunc) FetchRates(ctx context.Context, base string) (Table, error) { return f(ctx, base) }
