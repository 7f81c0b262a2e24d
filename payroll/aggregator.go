/*
aggregator.go - Batch payroll pricing

PURPOSE:
  Runs allocation and tax over a collection of employees and builds the
  global report.

CRITICAL INVARIANTS:
  1. BATCH-CONSISTENT PRICING: One crypto table, and one FX table when a
     jurisdiction taxes in another currency, are fetched per run and shared
     read-only by every employee of that run.
  2. FAIL-FAST ON RATES: A failed or empty fetch aborts the run with
     ErrRateUnavailable before any employee is priced.
  3. ISOLATION: Any other error is recorded on that employee's Entry; the
     rest of the batch continues.
  4. ORDER: Entries come back in input order, whatever the concurrency.

PER EMPLOYEE:
  1. Allocate salary into fiat and crypto
  2. Crypto tax, flat rate on cryptoAmount × price
  3. Income tax, bracket mode on the fiat portion (when a table exists).
     Brackets are in the jurisdiction's currency: the fiat portion is
     converted with the run's FX table and the tax converted back to base.
  4. Deduct the outstanding advance for the period
  5. final payroll = fiat - advance
     net           = final payroll - income tax

SEE ALSO:
  - report.go: GlobalReport
  - service.go: Persists runs and settles advances
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/rates"
)

// AdvanceSource reports advances not yet settled. generic.Ledger satisfies it.
type AdvanceSource interface {
	Outstanding(ctx context.Context, entityID generic.EntityID, periodKey string) (decimal.Decimal, error)
}

// DefaultConcurrency bounds per-employee goroutines when none is configured.
const DefaultConcurrency = 8

type Aggregator struct {
	Rates       rates.Source
	// FX prices jurisdiction currencies against Base. Optional while every
	// jurisdiction taxes in Base.
	FX          rates.Source
	Tax         *TaxEstimator
	Advances    AdvanceSource // optional
	Base        string
	Concurrency int
	Clock       generic.Clock
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

func NewAggregator(src rates.Source, tax *TaxEstimator, advances AdvanceSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		Rates:       src,
		Tax:         tax,
		Advances:    advances,
		Base:        string(generic.USD),
		Concurrency: DefaultConcurrency,
		Clock:       generic.SystemClock{},
		Logger:      logger,
	}
}

// Run prices employees for period. The error is non-nil only for batch-level
// failures (rates, cancellation); per-employee failures are in the entries.
func (a *Aggregator) Run(ctx context.Context, employees []Employee, period generic.PayPeriod) (*Report, error) {
	start := time.Now()
	log := a.logger().With(zap.String("period", period.Key()), zap.Int("employees", len(employees)))

	table, err := a.Rates.FetchRates(ctx, a.base())
	if err == nil && table.IsEmpty() {
		err = &rates.RateError{Provider: "aggregator", Base: a.base(), Cause: errors.New("empty rate table")}
	}
	if err != nil {
		if !errors.Is(err, generic.ErrRateUnavailable) {
			err = fmt.Errorf("%w: %w", generic.ErrRateUnavailable, err)
		}
		log.Error("payroll run aborted, no rates", zap.Error(err))
		a.Metrics.ObserveRun("rate_unavailable", start)
		return nil, err
	}

	fx, err := a.fetchFX(ctx, employees)
	if err != nil {
		log.Error("payroll run aborted, no fx rates", zap.Error(err))
		a.Metrics.ObserveRun("rate_unavailable", start)
		return nil, err
	}

	entries, err := a.PriceAll(ctx, employees, table, fx, period.Key())
	if err != nil {
		a.Metrics.ObserveRun("cancelled", start)
		return nil, err
	}

	report := &Report{
		PeriodKey:   period.Key(),
		GeneratedAt: a.now(),
		Rates:       table,
		FX:          fx,
		Entries:     entries,
		Global:      BuildGlobalReport(entries, table),
	}

	a.Metrics.IncrementEmployeesProcessed(report.Global.Succeeded)
	a.Metrics.ObserveRun("priced", start)
	log.Info("payroll priced",
		zap.Int("succeeded", report.Global.Succeeded),
		zap.Int("failed", report.Global.Failed),
		zap.String("total_net", report.Global.TotalNet.StringFixed(2)),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

// fetchFX returns the FX table when some employee's jurisdiction taxes in a
// currency other than Base, and an empty table otherwise.
func (a *Aggregator) fetchFX(ctx context.Context, employees []Employee) (rates.Table, error) {
	if a.FX == nil || !a.needsFX(employees) {
		return rates.Table{}, nil
	}
	fx, err := a.FX.FetchRates(ctx, a.base())
	if err == nil && fx.IsEmpty() {
		err = &rates.RateError{Provider: "aggregator", Base: a.base(), Cause: errors.New("empty fx table")}
	}
	if err != nil {
		if !errors.Is(err, generic.ErrRateUnavailable) {
			err = fmt.Errorf("%w: %w", generic.ErrRateUnavailable, err)
		}
		return rates.Table{}, err
	}
	return fx, nil
}

func (a *Aggregator) needsFX(employees []Employee) bool {
	for _, emp := range employees {
		if j, ok := a.Tax.Config().Jurisdiction(emp.Jurisdiction); ok && !a.isBase(j.Currency) {
			return true
		}
	}
	return false
}

func (a *Aggregator) isBase(currency string) bool {
	return currency == "" || strings.EqualFold(currency, a.base())
}

// PriceAll prices every employee against one crypto and one FX table.
// Exposed for callers that already hold a snapshot.
func (a *Aggregator) PriceAll(ctx context.Context, employees []Employee, table, fx rates.Table, periodKey string) ([]Entry, error) {
	entries := make([]Entry, len(employees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency())
	for i, emp := range employees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := a.Price(gctx, emp, table, fx, periodKey)
			if err != nil {
				a.Metrics.IncrementEmployeeFailure(ErrorKind(err))
				a.logger().Warn("employee not priced",
					zap.String("employee_id", emp.ID), zap.String("kind", ErrorKind(err)), zap.Error(err))
				entries[i] = Entry{EmployeeID: emp.ID, Err: err}
				return nil
			}
			entries[i] = Entry{EmployeeID: emp.ID, Result: &res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Price computes one employee's result. A jurisdiction currency missing
// from fx is an UnknownAssetError for that employee.
func (a *Aggregator) Price(ctx context.Context, emp Employee, table, fx rates.Table, periodKey string) (PayrollResult, error) {
	alloc, err := Allocate(emp, table)
	if err != nil {
		return PayrollResult{}, err
	}

	cryptoValue := alloc.CryptoAmount.Mul(alloc.CryptoPrice)
	cryptoTax, err := a.Tax.EstimateCrypto(cryptoValue)
	if err != nil {
		return PayrollResult{}, err
	}

	res := PayrollResult{
		EmployeeID:     emp.ID,
		Country:        emp.Country,
		Jurisdiction:   emp.Jurisdiction,
		FiatAmount:     alloc.FiatAmount.Round(2),
		CryptoAmount:   alloc.CryptoAmount,
		CryptoAsset:    alloc.CryptoAsset,
		CryptoPrice:    alloc.CryptoPrice,
		CryptoValueUSD: cryptoValue.Round(2),
		WalletAddress:  alloc.WalletAddress,
		CryptoTax:      cryptoTax,
		IncomeTaxBase:  decimal.Zero,
		EarlyAccess:    decimal.Zero,
	}

	if j, ok := a.Tax.Config().Jurisdiction(emp.Jurisdiction); ok {
		est, base, err := a.incomeTax(alloc.FiatAmount, j, fx)
		if err != nil {
			return PayrollResult{}, err
		}
		res.IncomeTax = &est
		res.IncomeTaxBase = base
	}

	if a.Advances != nil && periodKey != "" {
		owed, err := a.Advances.Outstanding(ctx, emp.EntityID(), periodKey)
		if err != nil {
			return PayrollResult{}, fmt.Errorf("load outstanding advance: %w", err)
		}
		res.EarlyAccess = owed
	}

	res.FinalPayroll = res.FiatAmount.Sub(res.EarlyAccess).Round(2)
	res.NetPay = res.FinalPayroll.Sub(res.IncomeTaxBase).Round(2)
	return res, nil
}

// incomeTax runs bracket mode on fiat expressed in j's currency and returns
// the estimate with the amount due converted back to base. fx prices read
// "base per one unit of currency", so local = fiat / price.
func (a *Aggregator) incomeTax(fiat decimal.Decimal, j TaxJurisdiction, fx rates.Table) (TaxEstimate, decimal.Decimal, error) {
	if a.isBase(j.Currency) {
		est, err := a.Tax.EstimateJurisdiction(fiat, j)
		if err != nil {
			return TaxEstimate{}, decimal.Zero, err
		}
		est.Currency = a.base()
		return est, est.AmountDue, nil
	}

	price, err := fx.MustPrice(j.Currency)
	if err != nil {
		return TaxEstimate{}, decimal.Zero, err
	}
	if !price.IsPositive() {
		return TaxEstimate{}, decimal.Zero, &generic.UnknownAssetError{Symbol: j.Currency, Base: a.base()}
	}
	est, err := a.Tax.EstimateJurisdiction(fiat.DivRound(price, 2), j)
	if err != nil {
		return TaxEstimate{}, decimal.Zero, err
	}
	est.Currency = j.Currency
	est.FXPrice = &price
	return est, est.AmountDue.Mul(price).Round(2), nil
}

func (a *Aggregator) base() string {
	if a.Base == "" {
		return string(generic.USD)
	}
	return a.Base
}

func (a *Aggregator) concurrency() int {
	if a.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return a.Concurrency
}

func (a *Aggregator) now() time.Time {
	if a.Clock == nil {
		return time.Now().UTC()
	}
	return a.Clock.Now()
}

func (a *Aggregator) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
