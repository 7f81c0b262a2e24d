/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Resolve configuration (defaults, .env, environment, flags)
  2. Build the logger and the Prometheus registry
  3. Initialize SQLite store
  4. Load tax tables and wire the rate sources (HTTP or offline, cached)
  5. Create service, handler and router
  6. Start the rate refresher and the server with graceful shutdown

CONFIGURATION:
  See config/config.go for every flag and environment variable.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rate refresher
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and cache connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/payroll.db"

  # Run with in-memory database and no network access
  ./server -db=":memory:" -offline

  # Share rate snapshots through Redis
  REDIS_URL=redis://localhost:6379/0 ./server

SEE ALSO:
  - config/config.go: Settings
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rates"
	"github.com/warp/payroll-engine/store/sqlite"
)

// Offline snapshots, in USD.
var (
	offlineCrypto = map[string]string{"BTC": "60000", "ETH": "3000", "USDC": "1", "USDT": "1", "SOL": "150"}
	offlineFX     = map[string]string{"GBP": "1.27", "EUR": "1.08", "INR": "0.012", "CAD": "0.74", "AUD": "0.66"}
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payroll-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Tax tables
	taxCfg, err := loadTaxConfig(cfg.TaxTablesPath)
	if err != nil {
		return err
	}

	// Rate sources
	ctx := context.Background()
	crypto, fx, closeCache, err := rateSources(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeCache()

	ledger := generic.NewLedger(store)
	agg := payroll.NewAggregator(crypto, payroll.NewTaxEstimator(taxCfg), ledger, logger.Named("aggregator"))
	agg.FX = fx
	agg.Concurrency = cfg.Concurrency
	agg.Metrics = m
	svc := payroll.NewService(store, store, ledger, agg, logger.Named("payroll"))
	svc.Metrics = m

	handler := api.NewHandler(store, svc, fx, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       reg,
		AccessLog:      true,
	})

	scheduler := api.NewRateRefreshScheduler(cfg.RateRefreshInterval, logger)
	scheduler.Add("crypto", crypto, handler.Base)
	scheduler.Add("fx", fx, handler.Base)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", cfg.DBPath),
			zap.Bool("offline_rates", cfg.OfflineRates))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newLogger builds a JSON production logger, or a console logger at debug.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if lvl.Level() == zap.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

func loadTaxConfig(path string) (payroll.TaxConfig, error) {
	if path == "" {
		return factory.DefaultTaxConfig()
	}
	cfg, err := factory.LoadTaxConfig(path)
	if err != nil {
		return payroll.TaxConfig{}, fmt.Errorf("load tax tables: %w", err)
	}
	return cfg, nil
}

// rateSources returns the crypto and FX sources, each behind a snapshot
// cache. Redis is used when configured, otherwise a process-local cache.
func rateSources(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (crypto, fx *rates.CachedSource, closeFn func(), err error) {
	var cryptoUp, fxUp rates.Source
	if cfg.OfflineRates {
		cryptoUp = rates.NewStaticSource(staticPrices(offlineCrypto))
		fxUp = rates.NewStaticSource(staticPrices(offlineFX))
	} else {
		client := &http.Client{Timeout: cfg.HTTPTimeout}
		c := rates.NewCryptoSource(cfg.CryptoPriceURL, client)
		c.Metrics = m
		f := rates.NewFXSource(cfg.FXURL, client)
		f.Metrics = m
		cryptoUp, fxUp = c, f
	}

	closeFn = func() {}
	var cryptoCache, fxCache rates.Cache = rates.NewMemoryCache(), rates.NewMemoryCache()
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := rates.NewRedisCache(pingCtx, cfg.RedisURL, cfg.RateCacheMaxAge)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect rate cache: %w", err)
		}
		cryptoCache, fxCache = rc.WithPrefix("payroll:rates:crypto:"), rc.WithPrefix("payroll:rates:fx:")
		closeFn = func() { rc.Close() }
		logger.Info("rate snapshots cached in redis")
	}

	crypto = rates.NewCachedSource(cryptoUp, cryptoCache, cfg.RateCacheMaxAge, logger.Named("rates.crypto"))
	crypto.Metrics = m
	fx = rates.NewCachedSource(fxUp, fxCache, cfg.RateCacheMaxAge, logger.Named("rates.fx"))
	fx.Metrics = m
	return crypto, fx, closeFn, nil
}

func staticPrices(in map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = decimal.RequireFromString(v)
	}
	return out
}
