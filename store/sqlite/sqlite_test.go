package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rates"
	"github.com/warp/payroll-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func advance(id, emp, period, amount, key string) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(id),
		EntityID:       generic.EntityID(emp),
		PeriodKey:      period,
		Delta:          generic.Amount{Value: decimal.RequireFromString(amount), Currency: generic.USD},
		Type:           generic.TxAdvance,
		Reason:         "early wage access",
		IdempotencyKey: key,
		Metadata:       map[string]string{"compliant": "true"},
		CreatedAt:      time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestStore_LedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ledger := generic.NewLedger(s)

	// GIVEN: an advance and its settlement
	require.NoError(t, ledger.Append(ctx, advance("t1", "emp-1", "2026-10", "250.50", "advance:t1")))
	settle := advance("t2", "emp-1", "2026-10", "-250.50", "settle:2026-10:emp-1")
	settle.Type = generic.TxSettlement
	require.NoError(t, ledger.Append(ctx, settle))

	// WHEN: loading the period
	txs, err := s.Load(ctx, "emp-1", "2026-10")

	// THEN: insertion order and exact decimals survive
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxAdvance, txs[0].Type)
	assert.True(t, txs[0].Delta.Value.Equal(decimal.RequireFromString("250.50")))
	assert.Equal(t, "true", txs[0].Metadata["compliant"])
	assert.Equal(t, 2026, txs[0].CreatedAt.Year())

	owed, err := ledger.Outstanding(ctx, "emp-1", "2026-10")
	require.NoError(t, err)
	assert.True(t, owed.IsZero())

	other, err := s.Load(ctx, "emp-1", "2026-11")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_IdempotencyKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Append(ctx, advance("t1", "emp-1", "2026-10", "100", "k1")))

	err := s.Append(ctx, advance("t2", "emp-1", "2026-10", "100", "k1"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	exists, err := s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	// A batch with one duplicate writes nothing
	err = s.AppendBatch(ctx, []generic.Transaction{
		advance("t3", "emp-2", "2026-10", "10", "k3"),
		advance("t4", "emp-2", "2026-10", "10", "k1"),
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	txs, err := s.LoadByEntity(ctx, "emp-2")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestStore_Employees(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	emp := payroll.Employee{
		ID: "emp-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
		Status: payroll.StatusActive, Country: "US", Jurisdiction: "USA - California",
		Salary: decimal.RequireFromString("120000.00"),
		Allocation: payroll.Allocation{
			FiatPercent:   decimal.NewFromInt(70),
			CryptoPercent: decimal.NewFromInt(30),
			CryptoAsset:   generic.AssetETH,
		},
		WalletAddress:  "0xabc",
		HoursWorked:    decimal.NewFromInt(80),
		PayPeriodHours: decimal.NewFromInt(160),
		CreatedAt:      time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveEmployee(ctx, emp))

	got, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FullName())
	assert.True(t, got.Salary.Equal(emp.Salary))
	assert.True(t, got.Allocation.CryptoPercent.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, generic.AssetETH, got.Allocation.CryptoAsset)
	assert.Equal(t, "0xabc", got.WalletAddress)

	// Saving again updates in place
	emp.WalletAddress = "0xdef"
	require.NoError(t, s.SaveEmployee(ctx, emp))
	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "0xdef", all[0].WalletAddress)

	_, err = s.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)

	require.NoError(t, s.DeleteEmployee(ctx, "emp-1"))
	assert.ErrorIs(t, s.DeleteEmployee(ctx, "emp-1"), generic.ErrEntityNotFound)
}

func TestStore_OneCompletedRunPerPeriod(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 10, 31, 18, 0, 0, 0, time.UTC)

	// GIVEN: a failed run and a completed run for October
	require.NoError(t, s.SaveRun(ctx, payroll.Run{
		ID: "r0", PeriodKey: "2026-10", Status: payroll.RunFailed, TotalNet: decimal.Zero,
		Error: "rate unavailable", CreatedAt: now.Add(-time.Hour),
	}))
	_, err := s.CompletedRun(ctx, "2026-10")
	assert.ErrorIs(t, err, generic.ErrRunNotFound)

	require.NoError(t, s.SaveRun(ctx, payroll.Run{
		ID: "r1", PeriodKey: "2026-10", Status: payroll.RunCompleted, EmployeeCount: 3,
		TotalNet: decimal.RequireFromString("9000.25"), DataHash: "abc", RatesBase: "USD",
		CreatedAt: now, CompletedAt: &now,
	}))

	// WHEN: a second completed run is saved
	err = s.SaveRun(ctx, payroll.Run{
		ID: "r2", PeriodKey: "2026-10", Status: payroll.RunCompleted, TotalNet: decimal.Zero,
		CreatedAt: now.Add(time.Minute), CompletedAt: &now,
	})

	// THEN: rejected
	assert.ErrorIs(t, err, generic.ErrRunAlreadyCompleted)

	done, err := s.CompletedRun(ctx, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, "r1", done.ID)
	assert.True(t, done.TotalNet.Equal(decimal.RequireFromString("9000.25")))
	require.NotNil(t, done.CompletedAt)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r1", runs[0].ID)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrRunNotFound)
}

func TestStore_ServiceEndToEnd(t *testing.T) {
	// GIVEN: the service backed entirely by SQLite
	ctx := context.Background()
	s := newStore(t)
	ledger := generic.NewLedger(s)
	period, err := generic.NewPayPeriod(
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	cfg, err := factory.DefaultTaxConfig()
	require.NoError(t, err)
	src := rates.NewStaticSource(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(60000)})
	agg := payroll.NewAggregator(src, payroll.NewTaxEstimator(cfg), ledger, nil)
	svc := payroll.NewService(s, s, ledger, agg, nil)

	emp, err := svc.CreateEmployee(ctx, payroll.Employee{
		FirstName:      "Grace",
		Salary:         decimal.NewFromInt(60000),
		Allocation:     payroll.Allocation{FiatPercent: decimal.NewFromInt(90), CryptoPercent: decimal.NewFromInt(10)},
		HoursWorked:    decimal.NewFromInt(160),
		PayPeriodHours: decimal.NewFromInt(160),
	})
	require.NoError(t, err)

	// WHEN: an advance is drawn and the period is run twice
	_, err = svc.RequestAdvance(ctx, payroll.AdvanceRequest{EmployeeID: emp.ID, Amount: decimal.NewFromInt(500), Period: period})
	require.NoError(t, err)
	run, report, err := svc.ExecuteRun(ctx, period, nil)
	require.NoError(t, err)
	_, _, again := svc.ExecuteRun(ctx, period, nil)

	// THEN: deducted once, second run rejected
	assert.Equal(t, payroll.RunCompleted, run.Status)
	assert.True(t, report.Entries[0].Result.EarlyAccess.Equal(decimal.NewFromInt(500)))
	assert.True(t, report.Entries[0].Result.NetPay.Equal(decimal.NewFromInt(53500)))
	assert.ErrorIs(t, again, generic.ErrRunAlreadyCompleted)

	owed, err := ledger.Outstanding(ctx, emp.EntityID(), period.Key())
	require.NoError(t, err)
	assert.True(t, owed.IsZero())
}

func TestStore_CompleteRunIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2026, 10, 31, 18, 0, 0, 0, time.UTC)
	ledger := generic.NewLedger(s)
	require.NoError(t, ledger.Append(ctx, advance("a1", "emp-1", "2026-10", "1000", "k-a1")))

	settle := func(id string) generic.Transaction {
		return generic.Transaction{
			ID:             generic.TransactionID(id),
			EntityID:       "emp-1",
			PeriodKey:      "2026-10",
			Delta:          generic.Amount{Value: decimal.NewFromInt(-1000), Currency: generic.USD},
			Type:           generic.TxSettlement,
			IdempotencyKey: payroll.SettlementKey("2026-10", "emp-1"),
			CreatedBy:      "payroll",
			CreatedAt:      now,
		}
	}

	// GIVEN: October already completed by another run
	require.NoError(t, s.SaveRun(ctx, payroll.Run{
		ID: "r1", PeriodKey: "2026-10", Status: payroll.RunCompleted, TotalNet: decimal.Zero,
		CreatedAt: now, CompletedAt: &now,
	}))

	// WHEN: a second run tries to commit with its settlement
	err := s.CompleteRun(ctx, payroll.Run{
		ID: "r2", PeriodKey: "2026-10", Status: payroll.RunCompleted, TotalNet: decimal.Zero,
		CreatedAt: now, CompletedAt: &now,
	}, []generic.Transaction{settle("s1")})

	// THEN: rejected and the settlement rolled back
	assert.ErrorIs(t, err, generic.ErrRunAlreadyCompleted)
	exists, err := s.Exists(ctx, payroll.SettlementKey("2026-10", "emp-1"))
	require.NoError(t, err)
	assert.False(t, exists)
	owed, err := ledger.Outstanding(ctx, "emp-1", "2026-10")
	require.NoError(t, err)
	assert.True(t, owed.Equal(decimal.NewFromInt(1000)))

	// WHEN: November commits a settlement whose key is already on the ledger
	nov := settle("s2")
	nov.PeriodKey = "2026-11"
	nov.IdempotencyKey = payroll.SettlementKey("2026-11", "emp-1")
	require.NoError(t, ledger.Append(ctx, nov))
	nov.ID = "s3"
	require.NoError(t, s.CompleteRun(ctx, payroll.Run{
		ID: "r4", PeriodKey: "2026-11", Status: payroll.RunCompleted, TotalNet: decimal.Zero,
		CreatedAt: now, CompletedAt: &now,
	}, []generic.Transaction{nov}))

	// THEN: the duplicate settlement is skipped, the run is stored
	txs, err := ledger.Transactions(ctx, "emp-1", "2026-11")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	done, err := s.CompletedRun(ctx, "2026-11")
	require.NoError(t, err)
	assert.Equal(t, "r4", done.ID)
}
