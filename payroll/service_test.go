package payroll_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rates"
)

type fixture struct {
	svc       *payroll.Service
	ledger    generic.Ledger
	runs      *memRuns
	employees *memEmployees
}

func newFixture(t *testing.T, emps ...payroll.Employee) fixture {
	t.Helper()
	mem := store.NewMemory()
	ledger := generic.NewLedger(mem)
	runs := &memRuns{ledger: mem}
	employees := newMemEmployees(emps...)
	agg := newAggregator(t, staticSource(map[string]string{"BTC": "50000"}), ledger)
	svc := payroll.NewService(employees, runs, ledger, agg, nil)
	svc.Clock = generic.NewFixedClock(testNow())
	return fixture{svc: svc, ledger: ledger, runs: runs, employees: employees}
}

func TestService_AdvanceIsDeductedExactlyOnce(t *testing.T) {
	// GIVEN: an employee who drew $1,000 early in October
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "120000"))

	rec, err := f.svc.RequestAdvance(ctx, payroll.AdvanceRequest{EmployeeID: "emp-1", Amount: d("1000"), Period: october()})
	require.NoError(t, err)
	assert.True(t, rec.Compliant)

	// WHEN: October payroll runs
	run, report, err := f.svc.ExecuteRun(ctx, october(), nil)

	// THEN: the advance is deducted and settled
	require.NoError(t, err)
	assert.Equal(t, payroll.RunCompleted, run.Status)
	assert.Len(t, run.DataHash, 64)
	assert.True(t, report.Entries[0].Result.EarlyAccess.Equal(d("1000")))
	assert.True(t, report.Entries[0].Result.NetPay.Equal(d("119000")))

	owed, err := f.ledger.Outstanding(ctx, "emp-1", october().Key())
	require.NoError(t, err)
	assert.True(t, owed.IsZero())

	// WHEN: the period is run again
	_, _, err = f.svc.ExecuteRun(ctx, october(), nil)

	// THEN: rejected, nothing deducted twice
	assert.ErrorIs(t, err, generic.ErrRunAlreadyCompleted)

	// AND a preview now deducts nothing
	preview, err := f.svc.PreviewRun(ctx, october(), nil)
	require.NoError(t, err)
	assert.True(t, preview.Entries[0].Result.EarlyAccess.IsZero())
	assert.True(t, preview.Entries[0].Result.NetPay.Equal(d("120000")))
}

func TestService_SettlementIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := october().Key()
	require.NoError(t, f.ledger.Append(ctx, generic.Transaction{
		ID: "adv", EntityID: "emp-1", PeriodKey: key,
		Delta: generic.NewAmountFromInt(300, generic.USD), Type: generic.TxAdvance, IdempotencyKey: "adv",
	}))

	settle := generic.Transaction{
		ID: "s1", EntityID: "emp-1", PeriodKey: key,
		Delta: generic.NewAmountFromInt(-300, generic.USD), Type: generic.TxSettlement,
		IdempotencyKey: payroll.SettlementKey(key, "emp-1"),
	}
	wrote, err := generic.AppendIgnoringDuplicate(ctx, f.ledger, settle)
	require.NoError(t, err)
	assert.True(t, wrote)

	settle.ID = "s2"
	wrote, err = generic.AppendIgnoringDuplicate(ctx, f.ledger, settle)
	require.NoError(t, err)
	assert.False(t, wrote)

	txs, err := f.ledger.Transactions(ctx, "emp-1", key)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestService_RequestAdvanceLimits(t *testing.T) {
	// GIVEN: $30,000 available (80 of 160 hours at $120,000)
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "120000"))
	req := payroll.AdvanceRequest{EmployeeID: "emp-1", Period: october()}

	// First draw fits
	req.Amount = d("20000")
	_, err := f.svc.RequestAdvance(ctx, req)
	require.NoError(t, err)

	// Second draw exceeds what remains
	req.Amount = d("10000.01")
	_, err = f.svc.RequestAdvance(ctx, req)
	var lerr *generic.AdvanceLimitError
	require.ErrorAs(t, err, &lerr)
	assert.True(t, lerr.Outstanding.Equal(d("20000")))
	assert.ErrorIs(t, err, generic.ErrAdvanceExceedsAvailable)

	// Exactly the remainder fits
	req.Amount = d("10000")
	_, err = f.svc.RequestAdvance(ctx, req)
	require.NoError(t, err)

	status, err := f.svc.AdvanceStatus(ctx, "emp-1", october())
	require.NoError(t, err)
	assert.True(t, status.Remaining.IsZero())
	assert.Len(t, status.Transactions, 2)

	// Non-positive and unknown employees are rejected
	req.Amount = decimal.Zero
	_, err = f.svc.RequestAdvance(ctx, req)
	assert.ErrorIs(t, err, generic.ErrNegativeAmount)

	_, err = f.svc.RequestAdvance(ctx, payroll.AdvanceRequest{EmployeeID: "ghost", Amount: d("1"), Period: october()})
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

type failingDisburser struct{ *payroll.StubDisburser }

func (failingDisburser) PayInstant(context.Context, payroll.Employee, decimal.Decimal) (payroll.Payment, error) {
	return payroll.Payment{}, errors.New("provider down")
}

func TestService_FailedDisbursementIsReversed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "120000"))
	f.svc.Disburser = failingDisburser{}

	_, err := f.svc.RequestAdvance(ctx, payroll.AdvanceRequest{EmployeeID: "emp-1", Amount: d("500"), Period: october()})

	assert.Error(t, err)
	owed, err := f.ledger.Outstanding(ctx, "emp-1", october().Key())
	require.NoError(t, err)
	assert.True(t, owed.IsZero())
}

func TestService_FailedRunIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "1000"))
	f.svc.Aggregator.Rates = staticSource(nil)

	run, _, err := f.svc.ExecuteRun(ctx, october(), nil)

	assert.ErrorIs(t, err, generic.ErrRateUnavailable)
	assert.Equal(t, payroll.RunFailed, run.Status)

	history, err := f.svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, payroll.RunFailed, history[0].Status)

	// A failed run does not close the period.
	f.svc.Aggregator.Rates = staticSource(map[string]string{"BTC": "1"})
	run, _, err = f.svc.ExecuteRun(ctx, october(), nil)
	require.NoError(t, err)
	got, err := f.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.RunCompleted, got.Status)
}

func TestService_CreateEmployeeAndWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	emp, err := f.svc.CreateEmployee(ctx, payroll.Employee{FirstName: "Ada", Salary: d("90000")})
	require.NoError(t, err)
	assert.NotEmpty(t, emp.ID)
	assert.Equal(t, payroll.StatusActive, emp.Status)
	assert.True(t, emp.Allocation.FiatPercent.Equal(d("100")))

	_, err = f.svc.CreateEmployee(ctx, payroll.Employee{ID: "x", Salary: d("-1")})
	assert.ErrorIs(t, err, generic.ErrNegativeAmount)

	updated, err := f.svc.UpdateWallet(ctx, emp.ID, "bc1qnew")
	require.NoError(t, err)
	assert.Equal(t, "bc1qnew", updated.WalletAddress)

	_, err = f.svc.UpdateWallet(ctx, "ghost", "bc1qnew")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestDataHash_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, employee("a", "1000"), employee("b", "2000"))

	r1, err := f.svc.PreviewRun(ctx, october(), []string{"a", "b"})
	require.NoError(t, err)
	r2, err := f.svc.PreviewRun(ctx, october(), []string{"b", "a"})
	require.NoError(t, err)

	assert.Equal(t, payroll.DataHash(r1), payroll.DataHash(r2))
}

// slowEmployees widens the window between the limit check and the append.
type slowEmployees struct{ *memEmployees }

func (s slowEmployees) GetEmployee(ctx context.Context, id string) (payroll.Employee, error) {
	time.Sleep(5 * time.Millisecond)
	return s.memEmployees.GetEmployee(ctx, id)
}

func TestService_ConcurrentAdvancesNeverOverdraw(t *testing.T) {
	// GIVEN: $30,000 available and five simultaneous $20,000 requests
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "120000"))
	f.svc.Employees = slowEmployees{f.employees}

	const requests = 5
	errs := make([]error, requests)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.RequestAdvance(ctx, payroll.AdvanceRequest{EmployeeID: "emp-1", Amount: d("20000"), Period: october()})
		}()
	}

	// WHEN: they race
	close(start)
	wg.Wait()

	// THEN: exactly one is paid, the rest exceed what remains
	paid := 0
	for _, err := range errs {
		if err == nil {
			paid++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrAdvanceExceedsAvailable)
	}
	assert.Equal(t, 1, paid)

	owed, err := f.ledger.Outstanding(ctx, "emp-1", october().Key())
	require.NoError(t, err)
	assert.True(t, owed.Equal(d("20000")), "outstanding %s", owed)
}

func TestService_AdvanceWaitsForRunningPayroll(t *testing.T) {
	// GIVEN: a run blocked while fetching rates
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "120000"))
	fetching := make(chan struct{})
	release := make(chan struct{})
	f.svc.Aggregator.Rates = rates.SourceFunc(func(ctx context.Context, base string) (rates.Table, error) {
		close(fetching)
		<-release
		return rates.NewTable(base, map[string]decimal.Decimal{"BTC": d("50000")}, testNow()), nil
	})

	type runResult struct {
		report *payroll.Report
		err    error
	}
	runDone := make(chan runResult, 1)
	go func() {
		_, report, err := f.svc.ExecuteRun(ctx, october(), nil)
		runDone <- runResult{report, err}
	}()
	<-fetching

	// WHEN: an advance arrives mid-run
	advanceDone := make(chan error, 1)
	go func() {
		_, err := f.svc.RequestAdvance(ctx, payroll.AdvanceRequest{EmployeeID: "emp-1", Amount: d("1000"), Period: october()})
		advanceDone <- err
	}()
	select {
	case err := <-advanceDone:
		t.Fatalf("advance finished while the run was in progress: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	// THEN: the run completes first and the advance finds the period closed
	res := <-runDone
	require.NoError(t, res.err)
	assert.True(t, res.report.Entries[0].Result.EarlyAccess.IsZero())
	assert.ErrorIs(t, <-advanceDone, generic.ErrRunAlreadyCompleted)

	owed, err := f.ledger.Outstanding(ctx, "emp-1", october().Key())
	require.NoError(t, err)
	assert.True(t, owed.IsZero())
}

func TestService_FailedCommitLeavesAdvanceOutstanding(t *testing.T) {
	// GIVEN: a $1,000 advance and a run store that fails once
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "120000"))
	_, err := f.svc.RequestAdvance(ctx, payroll.AdvanceRequest{EmployeeID: "emp-1", Amount: d("1000"), Period: october()})
	require.NoError(t, err)
	f.runs.failCompletes = 1

	// WHEN: the run cannot be committed
	failed, _, err := f.svc.ExecuteRun(ctx, october(), nil)

	// THEN: nothing is settled and the period stays open
	require.Error(t, err)
	assert.Equal(t, payroll.RunFailed, failed.Status)
	owed, err := f.ledger.Outstanding(ctx, "emp-1", october().Key())
	require.NoError(t, err)
	assert.True(t, owed.Equal(d("1000")))
	_, err = f.runs.CompletedRun(ctx, october().Key())
	assert.ErrorIs(t, err, generic.ErrRunNotFound)

	// WHEN: the run is retried
	run, report, err := f.svc.ExecuteRun(ctx, october(), nil)

	// THEN: the advance is deducted exactly once
	require.NoError(t, err)
	assert.Equal(t, payroll.RunCompleted, run.Status)
	assert.True(t, report.Entries[0].Result.EarlyAccess.Equal(d("1000")))
	assert.True(t, report.Entries[0].Result.NetPay.Equal(d("119000")))
	owed, err = f.ledger.Outstanding(ctx, "emp-1", october().Key())
	require.NoError(t, err)
	assert.True(t, owed.IsZero())
}

func TestService_AdvanceRetryReturnsOriginal(t *testing.T) {
	// GIVEN: an advance requested with an idempotency key
	ctx := context.Background()
	f := newFixture(t, employee("emp-1", "120000"))
	req := payroll.AdvanceRequest{EmployeeID: "emp-1", Amount: d("1000"), Period: october(), IdempotencyKey: "req-1"}
	first, err := f.svc.RequestAdvance(ctx, req)
	require.NoError(t, err)

	// WHEN: the same request is retried
	again, err := f.svc.RequestAdvance(ctx, req)

	// THEN: the original advance comes back, nothing new is drawn
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.Amount.Equal(d("1000")))
	assert.Equal(t, payroll.AdvanceConfirmed, again.Status)
	assert.True(t, again.Compliant)
	assert.Equal(t, october().Key(), again.PeriodKey)

	status, err := f.svc.AdvanceStatus(ctx, "emp-1", october())
	require.NoError(t, err)
	assert.Len(t, status.Transactions, 1)
	assert.True(t, status.Outstanding.Equal(d("1000")))

	// Same key, different amount
	req.Amount = d("2000")
	_, err = f.svc.RequestAdvance(ctx, req)
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	// A reversed advance replays as reversed
	f.svc.Disburser = failingDisburser{}
	failed := payroll.AdvanceRequest{EmployeeID: "emp-1", Amount: d("500"), Period: october(), IdempotencyKey: "req-2"}
	_, err = f.svc.RequestAdvance(ctx, failed)
	require.Error(t, err)
	replayed, err := f.svc.RequestAdvance(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, payroll.AdvanceReversed, replayed.Status)

	// Retries still answer after the period is closed
	_, _, err = f.svc.ExecuteRun(ctx, october(), nil)
	require.NoError(t, err)
	req.Amount = d("1000")
	late, err := f.svc.RequestAdvance(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, late.ID)
}
