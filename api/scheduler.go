/*
scheduler.go - Background rate snapshot refresher

PURPOSE:
  Periodically refreshes the cached rate snapshots so that, when the price
  provider has an outage, CachedSource still has a recent table to fall
  back on.

DESIGN:
  - Runs a background goroutine with configurable refresh interval
  - Refreshes every configured (source, base) pair on each tick
  - A failed refresh is logged and leaves the previous snapshot in place
  - Refreshes once immediately on Start

CONFIGURATION:
  - Interval: How often to refresh (RATE_REFRESH_INTERVAL, default 5m)
  - Enabled: Whether scheduler is active (interval 0 disables it)

USAGE:
  scheduler := NewRateRefreshScheduler(interval, logger)
  scheduler.Add("crypto", cryptoCached, "USD")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - rates/cache.go: CachedSource.Refresh
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/rates"
)

// Refresher fetches from upstream and stores the snapshot.
// *rates.CachedSource satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, base string) (rates.Table, error)
}

type refreshTarget struct {
	name   string
	source Refresher
	base   string
}

// RateRefreshScheduler keeps cached rate snapshots warm.
type RateRefreshScheduler struct {
	Interval time.Duration
	Timeout  time.Duration
	Enabled  bool
	Logger   *zap.Logger

	targets []refreshTarget
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewRateRefreshScheduler creates a new scheduler. A zero interval disables it.
func NewRateRefreshScheduler(interval time.Duration, logger *zap.Logger) *RateRefreshScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateRefreshScheduler{
		Interval: interval,
		Timeout:  30 * time.Second,
		Enabled:  interval > 0,
		Logger:   logger.Named("rate-refresh"),
	}
}

// Add registers a source to refresh for base. Call before Start.
func (rs *RateRefreshScheduler) Add(name string, src Refresher, base string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.targets = append(rs.targets, refreshTarget{name: name, source: src, base: base})
}

// Start begins the scheduler.
func (rs *RateRefreshScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || len(rs.targets) == 0 {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.Logger.Info("started", zap.Duration("interval", rs.Interval), zap.Int("targets", len(rs.targets)))
}

// Stop stops the scheduler and waits for an in-flight refresh.
func (rs *RateRefreshScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("stopped")
	}
}

func (rs *RateRefreshScheduler) run() {
	defer rs.wg.Done()

	// Refresh immediately on start
	rs.RefreshAll()

	for {
		select {
		case <-rs.ticker.C:
			rs.RefreshAll()
		case <-rs.stop:
			return
		}
	}
}

// RefreshAll refreshes every target once and returns the number that
// succeeded.
func (rs *RateRefreshScheduler) RefreshAll() int {
	ok := 0
	for _, t := range rs.targets {
		ctx, cancel := context.WithTimeout(context.Background(), rs.Timeout)
		table, err := t.source.Refresh(ctx, t.base)
		cancel()
		if err != nil {
			rs.Logger.Warn("refresh failed", zap.String("source", t.name), zap.String("base", t.base), zap.Error(err))
			continue
		}
		ok++
		rs.Logger.Debug("refreshed",
			zap.String("source", t.name),
			zap.String("base", t.base),
			zap.Int("symbols", table.Len()))
	}
	return ok
}
