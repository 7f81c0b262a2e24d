package rates_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/rates"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedNow() time.Time { return time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC) }

// =============================================================================
// NORMALIZATION
// =============================================================================

func TestNormalize_CryptoShape(t *testing.T) {
	body := []byte(`{"bitcoin": {"usd": 50000}, "ethereum": {"usd": 2500.5}, "dogecoin": {"eur": 0.1}}`)

	prices, err := rates.Normalize(body, "USD")
	require.NoError(t, err)

	assert.True(t, prices["BTC"].Equal(dec("50000")))
	assert.True(t, prices["ETH"].Equal(dec("2500.5")))
	assert.True(t, prices["USD"].Equal(decimal.NewFromInt(1)))
	_, hasDoge := prices["DOGECOIN"]
	assert.False(t, hasDoge, "entries without a quote in the base are skipped")
}

func TestNormalize_FXShapeIsInverted(t *testing.T) {
	// 1 USD buys 0.8 EUR, so 1 EUR is worth 1.25 USD.
	body := []byte(`{"base": "USD", "rates": {"EUR": 0.8, "GBP": 0.5}}`)

	prices, err := rates.Normalize(body, "USD")
	require.NoError(t, err)

	assert.True(t, prices["EUR"].Equal(dec("1.25")))
	assert.True(t, prices["GBP"].Equal(dec("2")))
}

func TestNormalize_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"empty object", `{}`},
		{"empty rates", `{"rates": {}}`},
		{"only non-positive", `{"rates": {"EUR": 0, "GBP": -1}}`},
		{"crypto entry not an object", `{"bitcoin": 5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rates.Normalize([]byte(tc.body), "USD")
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// HTTP SOURCE
// =============================================================================

func TestHTTPSource_Crypto(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin": {"usd": 50000}}`))
	}))
	defer srv.Close()

	src := rates.NewCryptoSource(srv.URL, srv.Client())
	src.Assets = []generic.Asset{generic.AssetBTC}
	src.Clock = generic.NewFixedClock(fixedNow())

	table, err := src.FetchRates(context.Background(), "usd")
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "ids=bitcoin")
	assert.Contains(t, gotQuery, "vs_currencies=usd")
	assert.Equal(t, "USD", table.Base())
	assert.Equal(t, fixedNow(), table.FetchedAt())
	price, ok := table.Price("btc")
	require.True(t, ok)
	assert.True(t, price.Equal(dec("50000")))
}

func TestHTTPSource_FailuresAreRateUnavailable(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, `{"rates": {"EUR": 0.9}}`},
		{"malformed", http.StatusOK, `{"rates": `},
		{"empty", http.StatusOK, `{"rates": {}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.payload))
			}))
			defer srv.Close()

			reg := prometheus.NewRegistry()
			src := rates.NewFXSource(srv.URL, srv.Client())
			src.Metrics = metrics.New(reg)

			table, err := src.FetchRates(context.Background(), "USD")

			assert.ErrorIs(t, err, generic.ErrRateUnavailable)
			assert.True(t, table.IsEmpty())
			var rerr *rates.RateError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, "fx", rerr.Provider)
			assert.Equal(t, 1.0, testutil.ToFloat64(src.Metrics.RateFetchFailures.WithLabelValues("fx")))
		})
	}
}

func TestHTTPSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := rates.NewFXSource(url, nil).FetchRates(context.Background(), "USD")
	assert.ErrorIs(t, err, generic.ErrRateUnavailable)
}

// =============================================================================
// TABLE
// =============================================================================

func TestTable_IsASnapshot(t *testing.T) {
	input := map[string]decimal.Decimal{"btc": dec("50000"), "bad": dec("0")}
	table := rates.NewTable("usd", input, fixedNow())

	input["btc"] = dec("1")

	price, ok := table.Price("BTC")
	require.True(t, ok)
	assert.True(t, price.Equal(dec("50000")), "mutating the input must not leak into the table")
	assert.Equal(t, []string{"BTC"}, table.Symbols())

	_, err := table.MustPrice("ETH")
	var uerr *generic.UnknownAssetError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "ETH", uerr.Symbol)
	assert.ErrorIs(t, err, generic.ErrUnknownAsset)
}

func TestStaticSource_EmptyIsRateUnavailable(t *testing.T) {
	_, err := rates.NewStaticSource(nil).FetchRates(context.Background(), "USD")
	assert.ErrorIs(t, err, generic.ErrRateUnavailable)
}

// =============================================================================
// CACHED SOURCE
// =============================================================================

type flakySource struct {
	table rates.Table
	fail  bool
}

func (f *flakySource) FetchRates(ctx context.Context, base string) (rates.Table, error) {
	if f.fail {
		return rates.Table{}, &rates.RateError{Provider: "flaky", Base: base, Cause: errors.New("down")}
	}
	return f.table, nil
}

func TestCachedSource_FallsBackWithinMaxAge(t *testing.T) {
	// GIVEN: a successful fetch populated the cache
	clock := generic.NewFixedClock(fixedNow())
	upstream := &flakySource{table: rates.NewTable("USD", map[string]decimal.Decimal{"BTC": dec("50000")}, fixedNow())}
	reg := prometheus.NewRegistry()
	src := rates.NewCachedSource(upstream, rates.NewMemoryCache(), 10*time.Minute, nil)
	src.Clock = clock
	src.Metrics = metrics.New(reg)

	_, err := src.FetchRates(context.Background(), "USD")
	require.NoError(t, err)

	// WHEN: the provider goes down five minutes later
	upstream.fail = true
	clock.Advance(5 * time.Minute)
	table, err := src.FetchRates(context.Background(), "USD")

	// THEN: the cached snapshot is served
	require.NoError(t, err)
	price, _ := table.Price("BTC")
	assert.True(t, price.Equal(dec("50000")))
	assert.Equal(t, 1.0, testutil.ToFloat64(src.Metrics.RateCacheFallbacks))

	// WHEN: the snapshot is older than MaxAge
	clock.Advance(10 * time.Minute)
	_, err = src.FetchRates(context.Background(), "USD")

	// THEN: the provider failure propagates
	assert.ErrorIs(t, err, generic.ErrRateUnavailable)
}

func TestCachedSource_NoSnapshotPropagates(t *testing.T) {
	src := rates.NewCachedSource(&flakySource{fail: true}, rates.NewMemoryCache(), time.Hour, nil)

	_, err := src.FetchRates(context.Background(), "USD")
	assert.ErrorIs(t, err, generic.ErrRateUnavailable)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	cache, err := rates.NewRedisCache(ctx, url, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	in := rates.NewTable("USD", map[string]decimal.Decimal{"BTC": dec("50000"), "EUR": dec("1.25")}, fixedNow())
	require.NoError(t, cache.Put(ctx, in))

	out, err := cache.Get(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, in.Symbols(), out.Symbols())
	assert.Equal(t, fixedNow(), out.FetchedAt())
	price, _ := out.Price("EUR")
	assert.True(t, price.Equal(dec("1.25")))

	_, err = cache.Get(ctx, "ZZZ")
	assert.ErrorIs(t, err, rates.ErrCacheMiss)
}
