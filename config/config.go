/*
Package config resolves server settings.

PRECEDENCE (lowest to highest):
  1. Defaults below
  2. .env file in the working directory (optional)
  3. Environment variables
  4. Command-line flags

VARIABLES:
  PORT                    -port               HTTP port (8080)
  DB_PATH                 -db                 SQLite path, ":memory:" allowed (payroll.db)
  TAX_TABLES_PATH         -tax-tables         YAML/JSON tax tables, empty = embedded defaults
  CRYPTO_PRICE_URL        -crypto-url         Crypto price provider
  FX_URL                  -fx-url             FX provider
  REDIS_URL               -redis              Rate snapshot cache, empty = in-memory
  RATE_CACHE_MAX_AGE      -rate-max-age       Oldest snapshot served on provider failure (15m)
  RATE_REFRESH_INTERVAL   -rate-refresh       Background refresh, 0 disables (5m)
  PAYROLL_CONCURRENCY     -concurrency        Employees priced in parallel (8)
  LOG_LEVEL               -log-level          debug, info, warn, error (info)
  ALLOWED_ORIGINS         -origins            Comma-separated CORS origins
  HTTP_TIMEOUT            -http-timeout       Provider request timeout (10s)
  OFFLINE_RATES           -offline            Use the built-in static rates (false)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                int
	DBPath              string
	TaxTablesPath       string
	CryptoPriceURL      string
	FXURL               string
	RedisURL            string
	RateCacheMaxAge     time.Duration
	RateRefreshInterval time.Duration
	Concurrency         int
	LogLevel            string
	AllowedOrigins      []string
	HTTPTimeout         time.Duration
	OfflineRates        bool
}

func Defaults() Config {
	return Config{
		Port:                8080,
		DBPath:              "payroll.db",
		CryptoPriceURL:      "https://api.coingecko.com/api/v3/simple/price",
		FXURL:               "https://api.exchangerate.host/latest",
		RateCacheMaxAge:     15 * time.Minute,
		RateRefreshInterval: 5 * time.Minute,
		Concurrency:         8,
		LogLevel:            "info",
		AllowedOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
		HTTPTimeout:         10 * time.Second,
	}
}

// Load reads .env (if present), the environment and then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse(args, os.Getenv)
}

// Parse builds a Config from getenv and args without touching .env files.
func Parse(args []string, getenv func(string) string) (Config, error) {
	cfg := Defaults()
	var errs []error

	envString(getenv, "DB_PATH", &cfg.DBPath)
	envString(getenv, "TAX_TABLES_PATH", &cfg.TaxTablesPath)
	envString(getenv, "CRYPTO_PRICE_URL", &cfg.CryptoPriceURL)
	envString(getenv, "FX_URL", &cfg.FXURL)
	envString(getenv, "REDIS_URL", &cfg.RedisURL)
	envString(getenv, "LOG_LEVEL", &cfg.LogLevel)
	errs = append(errs,
		envInt(getenv, "PORT", &cfg.Port),
		envInt(getenv, "PAYROLL_CONCURRENCY", &cfg.Concurrency),
		envDuration(getenv, "RATE_CACHE_MAX_AGE", &cfg.RateCacheMaxAge),
		envDuration(getenv, "RATE_REFRESH_INTERVAL", &cfg.RateRefreshInterval),
		envDuration(getenv, "HTTP_TIMEOUT", &cfg.HTTPTimeout),
		envBool(getenv, "OFFLINE_RATES", &cfg.OfflineRates),
	)
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	origins := strings.Join(cfg.AllowedOrigins, ",")
	fs := flag.NewFlagSet("payroll-engine", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.TaxTablesPath, "tax-tables", cfg.TaxTablesPath, "tax tables file (YAML or JSON)")
	fs.StringVar(&cfg.CryptoPriceURL, "crypto-url", cfg.CryptoPriceURL, "crypto price provider URL")
	fs.StringVar(&cfg.FXURL, "fx-url", cfg.FXURL, "FX provider URL")
	fs.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for the rate cache")
	fs.DurationVar(&cfg.RateCacheMaxAge, "rate-max-age", cfg.RateCacheMaxAge, "max age of cached rates on provider failure")
	fs.DurationVar(&cfg.RateRefreshInterval, "rate-refresh", cfg.RateRefreshInterval, "background rate refresh interval, 0 disables")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "employees priced in parallel")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&origins, "origins", origins, "comma-separated CORS origins")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "rate provider request timeout")
	fs.BoolVar(&cfg.OfflineRates, "offline", cfg.OfflineRates, "use built-in static rates")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = splitList(origins)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path required"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.RateCacheMaxAge < 0 || c.RateRefreshInterval < 0 || c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("durations must not be negative and http timeout must be positive"))
	}
	if !c.OfflineRates && (c.CryptoPriceURL == "" || c.FXURL == "") {
		errs = append(errs, errors.New("crypto and fx provider URLs required unless offline"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func envString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func envInt(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(getenv func(string) string, key string, dst *bool) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
