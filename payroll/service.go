/*
service.go - Payroll runs and wage advances against storage

PURPOSE:
  Wires the stateless core to the employee store, the run history and the
  advance ledger. This is where "never double-pay" is enforced.

RUN FLOW (ExecuteRun):
  1. Reject the period if a completed run exists
  2. Load employees, price them with the Aggregator
  3. Build a TxSettlement per deducted advance, keyed settle:<period>:<employee>
  4. CompleteRun: settlements and the completed Run commit together

  Settlements never land without their run, so a failed commit leaves the
  advances outstanding and a retry deducts them again. The keys make a
  settlement at-most-once. Once a period is settled, Outstanding is zero.

ADVANCE FLOW (RequestAdvance):
  1. replay: a known idempotency key returns the advance it created
  2. available = AvailableAdvance(employee)
  3. reject when amount > available - outstanding for the period
  4. append TxAdvance to the ledger, then disburse
  5. if the disbursement fails, append a TxReversal

LOCKING:
  A run holds its period exclusively. An advance holds the period shared
  and its (period, employee) pair exclusively from the limit check to the
  disbursement. Locks are per process; one Service owns a database.

SEE ALSO:
  - aggregator.go: Pricing
  - generic/ledger.go: Outstanding
  - store/sqlite/sqlite.go: Repository implementation
*/
package payroll

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
)

// =============================================================================
// REPOSITORIES
// =============================================================================

type EmployeeRepository interface {
	GetEmployee(ctx context.Context, id string) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	SaveEmployee(ctx context.Context, emp Employee) error
}

type RunRepository interface {
	// SaveRun inserts or updates a run. A second completed run for the same
	// period fails with generic.ErrRunAlreadyCompleted.
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]Run, error)
	// CompletedRun returns generic.ErrRunNotFound when the period is open.
	CompletedRun(ctx context.Context, periodKey string) (Run, error)
	// CompleteRun appends settlements and saves the completed run
	// atomically: on any error neither is stored. A settlement whose
	// idempotency key is already on the ledger is skipped.
	CompleteRun(ctx context.Context, run Run, settlements []generic.Transaction) error
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Employees  EmployeeRepository
	Runs       RunRepository
	Ledger     generic.Ledger
	Aggregator *Aggregator
	Disburser  Disburser
	Clock      generic.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	locks periodLocks
}

func NewService(employees EmployeeRepository, runs RunRepository, ledger generic.Ledger, agg *Aggregator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Employees:  employees,
		Runs:       runs,
		Ledger:     ledger,
		Aggregator: agg,
		Disburser:  NewStubDisburser(nil),
		Clock:      generic.SystemClock{},
		Logger:     logger,
	}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// CreateEmployee validates emp, assigns an ID when missing and stores it.
func (s *Service) CreateEmployee(ctx context.Context, emp Employee) (Employee, error) {
	if emp.ID == "" {
		emp.ID = uuid.NewString()
	}
	if emp.Status == "" {
		emp.Status = StatusActive
	}
	emp.Allocation = emp.Allocation.Resolve()
	if err := emp.Validate(); err != nil {
		return Employee{}, err
	}
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = s.now()
	}
	if err := s.Employees.SaveEmployee(ctx, emp); err != nil {
		return Employee{}, err
	}
	return emp, nil
}

func (s *Service) UpdateWallet(ctx context.Context, employeeID, addr string) (Employee, error) {
	emp, err := s.Employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return Employee{}, err
	}
	updated, err := UpdateWalletAddress(emp, addr)
	if err != nil {
		return Employee{}, err
	}
	if err := s.Employees.SaveEmployee(ctx, updated); err != nil {
		return Employee{}, err
	}
	s.Logger.Info("wallet address updated", zap.String("employee_id", employeeID))
	return updated, nil
}

// =============================================================================
// RUNS
// =============================================================================

// PreviewRun prices the period without persisting anything.
func (s *Service) PreviewRun(ctx context.Context, period generic.PayPeriod, employeeIDs []string) (*Report, error) {
	employees, err := s.loadEmployees(ctx, employeeIDs)
	if err != nil {
		return nil, err
	}
	return s.Aggregator.Run(ctx, employees, period)
}

// ExecuteRun prices the period, settles advances and records the run.
func (s *Service) ExecuteRun(ctx context.Context, period generic.PayPeriod, employeeIDs []string) (Run, *Report, error) {
	key := period.Key()
	log := s.Logger.With(zap.String("period", key))

	unlock := s.locks.run(key)
	defer unlock()

	if _, err := s.Runs.CompletedRun(ctx, key); err == nil {
		return Run{}, nil, fmt.Errorf("%w: %s", generic.ErrRunAlreadyCompleted, key)
	} else if !errors.Is(err, generic.ErrRunNotFound) {
		return Run{}, nil, err
	}

	employees, err := s.loadEmployees(ctx, employeeIDs)
	if err != nil {
		return Run{}, nil, err
	}

	run := Run{
		ID:            uuid.NewString(),
		PeriodKey:     key,
		Status:        RunPending,
		EmployeeCount: len(employees),
		TotalNet:      decimal.Zero,
		RatesBase:     s.Aggregator.base(),
		CreatedAt:     s.now(),
	}

	report, err := s.Aggregator.Run(ctx, employees, period)
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		if serr := s.Runs.SaveRun(ctx, run); serr != nil {
			log.Error("failed to record failed run", zap.Error(serr))
		}
		return run, nil, err
	}

	completed := s.now()
	run.Status = RunCompleted
	run.FailedCount = report.Global.Failed
	run.TotalNet = report.Global.TotalNet
	run.DataHash = DataHash(report)
	run.RatesBase = report.Global.RatesBase
	run.CompletedAt = &completed

	settlements := s.settlements(key, report)
	if err := s.Runs.CompleteRun(ctx, run, settlements); err != nil {
		if errors.Is(err, generic.ErrRunAlreadyCompleted) {
			return Run{}, nil, err
		}
		failed := run
		failed.Status = RunFailed
		failed.Error = err.Error()
		failed.CompletedAt = nil
		if serr := s.Runs.SaveRun(ctx, failed); serr != nil {
			log.Error("failed to record failed run", zap.Error(serr))
		}
		return failed, nil, err
	}
	log.Info("payroll run completed",
		zap.String("run_id", run.ID),
		zap.Int("employees", run.EmployeeCount),
		zap.Int("failed", run.FailedCount),
		zap.Int("settlements", len(settlements)),
		zap.String("data_hash", run.DataHash))
	return run, report, nil
}

// settlements returns one TxSettlement per advance deducted in report.
func (s *Service) settlements(periodKey string, report *Report) []generic.Transaction {
	var out []generic.Transaction
	for _, e := range report.Entries {
		if e.Result == nil || !e.Result.EarlyAccess.IsPositive() {
			continue
		}
		out = append(out, generic.Transaction{
			ID:             generic.TransactionID(uuid.NewString()),
			EntityID:       generic.EntityID(e.EmployeeID),
			PeriodKey:      periodKey,
			Delta:          generic.Amount{Value: e.Result.EarlyAccess.Neg(), Currency: generic.USD},
			Type:           generic.TxSettlement,
			Reason:         "deducted by payroll run",
			IdempotencyKey: SettlementKey(periodKey, e.EmployeeID),
			CreatedBy:      "payroll",
			CreatedAt:      s.now(),
		})
	}
	return out
}

// SettlementKey is the idempotency key of an advance settlement.
func SettlementKey(periodKey, employeeID string) string {
	return "settle:" + periodKey + ":" + employeeID
}

// DataHash is the hex sha256 over the per-employee figures, sorted by
// employee ID.
func DataHash(report *Report) string {
	lines := make([]string, 0, len(report.Entries))
	for _, e := range report.Entries {
		if e.Result == nil {
			lines = append(lines, e.EmployeeID+"|error|"+ErrorKind(e.Err))
			continue
		}
		r := e.Result
		lines = append(lines, strings.Join([]string{
			r.EmployeeID,
			r.FiatAmount.StringFixed(2),
			r.CryptoAmount.String(),
			r.CryptoAsset.String(),
			r.IncomeTaxBase.StringFixed(2),
			r.CryptoTax.AmountDue.StringFixed(2),
			r.EarlyAccess.StringFixed(2),
			r.NetPay.StringFixed(2),
		}, "|"))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func (s *Service) History(ctx context.Context) ([]Run, error) {
	return s.Runs.ListRuns(ctx)
}

func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	return s.Runs.GetRun(ctx, id)
}

func (s *Service) loadEmployees(ctx context.Context, ids []string) ([]Employee, error) {
	if len(ids) == 0 {
		return s.Employees.ListEmployees(ctx)
	}
	out := make([]Employee, 0, len(ids))
	for _, id := range ids {
		emp, err := s.Employees.GetEmployee(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("employee %s: %w", id, err)
		}
		out = append(out, emp)
	}
	return out, nil
}

// =============================================================================
// ADVANCES
// =============================================================================

type AdvanceRequest struct {
	EmployeeID     string
	Amount         decimal.Decimal
	Period         generic.PayPeriod
	IdempotencyKey string
}

// AdvanceStatus is what an employee can still draw for a period.
type AdvanceStatus struct {
	EmployeeID   string
	PeriodKey    string
	Available    decimal.Decimal
	Outstanding  decimal.Decimal
	Remaining    decimal.Decimal
	Transactions []generic.Transaction
}

func (s *Service) AdvanceStatus(ctx context.Context, employeeID string, period generic.PayPeriod) (AdvanceStatus, error) {
	emp, err := s.Employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return AdvanceStatus{}, err
	}
	available, err := AvailableAdvance(emp)
	if err != nil {
		return AdvanceStatus{}, err
	}
	key := period.Key()
	outstanding, err := s.Ledger.Outstanding(ctx, emp.EntityID(), key)
	if err != nil {
		return AdvanceStatus{}, err
	}
	txs, err := s.Ledger.Transactions(ctx, emp.EntityID(), key)
	if err != nil {
		return AdvanceStatus{}, err
	}
	return AdvanceStatus{
		EmployeeID:   employeeID,
		PeriodKey:    key,
		Available:    available,
		Outstanding:  outstanding,
		Remaining:    decimal.Max(available.Sub(outstanding), decimal.Zero),
		Transactions: txs,
	}, nil
}

// RequestAdvance pays an early wage advance and records it on the ledger.
// Retrying with the same IdempotencyKey and amount returns the original
// advance; the same key with another amount is a conflict.
func (s *Service) RequestAdvance(ctx context.Context, req AdvanceRequest) (EarlyAccessRecord, error) {
	if !req.Amount.IsPositive() {
		return EarlyAccessRecord{}, fmt.Errorf("%w: advance must be positive", generic.ErrNegativeAmount)
	}
	key := req.Period.Key()

	unlock := s.locks.advance(key, req.EmployeeID)
	defer unlock()

	if req.IdempotencyKey != "" {
		record, found, err := s.replayAdvance(ctx, req)
		if err != nil || found {
			return record, err
		}
	}

	if _, err := s.Runs.CompletedRun(ctx, key); err == nil {
		return EarlyAccessRecord{}, fmt.Errorf("%w: %s", generic.ErrRunAlreadyCompleted, key)
	} else if !errors.Is(err, generic.ErrRunNotFound) {
		return EarlyAccessRecord{}, err
	}

	status, err := s.AdvanceStatus(ctx, req.EmployeeID, req.Period)
	if err != nil {
		return EarlyAccessRecord{}, err
	}
	if req.Amount.GreaterThan(status.Remaining) {
		return EarlyAccessRecord{}, &generic.AdvanceLimitError{
			EntityID:    generic.EntityID(req.EmployeeID),
			Available:   status.Available,
			Outstanding: status.Outstanding,
			Requested:   req.Amount,
		}
	}

	emp, err := s.Employees.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return EarlyAccessRecord{}, err
	}
	record := RecordAdvance(emp, req.Amount, s.Clock)
	record.PeriodKey = key

	idem := req.IdempotencyKey
	if idem == "" {
		idem = "advance:" + record.ID
	}
	tx := generic.Transaction{
		ID:             generic.TransactionID(record.ID),
		EntityID:       emp.EntityID(),
		PeriodKey:      key,
		Delta:          generic.Amount{Value: req.Amount, Currency: generic.USD},
		Type:           generic.TxAdvance,
		Reason:         "early wage access",
		IdempotencyKey: idem,
		Metadata:       map[string]string{"compliant": "true"},
		CreatedBy:      emp.ID,
		CreatedAt:      record.Timestamp,
	}
	if err := s.Ledger.Append(ctx, tx); err != nil {
		return EarlyAccessRecord{}, err
	}

	payment, err := s.disburser().PayInstant(ctx, emp, req.Amount)
	if err != nil {
		s.reverseAdvance(ctx, tx, err)
		return EarlyAccessRecord{}, fmt.Errorf("disburse advance: %w", err)
	}
	record.Fee = payment.Fee
	record.Status = payment.Status

	s.Metrics.ObserveAdvance(req.Amount.InexactFloat64())
	s.Logger.Info("early access advance issued",
		zap.String("employee_id", emp.ID),
		zap.String("period", key),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("reference", payment.Reference))
	return record, nil
}

// replayAdvance looks for the advance req.IdempotencyKey already created for
// this employee and period. The record is rebuilt from the ledger; a
// reversed advance comes back with status reversed.
func (s *Service) replayAdvance(ctx context.Context, req AdvanceRequest) (EarlyAccessRecord, bool, error) {
	key := req.Period.Key()
	txs, err := s.Ledger.Transactions(ctx, generic.EntityID(req.EmployeeID), key)
	if err != nil {
		return EarlyAccessRecord{}, false, err
	}

	var original *generic.Transaction
	reversed := false
	for i := range txs {
		tx := txs[i]
		if tx.Type == generic.TxAdvance && tx.IdempotencyKey == req.IdempotencyKey {
			original = &txs[i]
		}
		if tx.Type == generic.TxReversal && tx.IdempotencyKey == "reverse:"+req.IdempotencyKey {
			reversed = true
		}
	}
	if original == nil {
		return EarlyAccessRecord{}, false, nil
	}
	if !original.Delta.Value.Equal(req.Amount) {
		return EarlyAccessRecord{}, false, fmt.Errorf("%w: %s was used for an advance of %s",
			generic.ErrDuplicateIdempotencyKey, req.IdempotencyKey, original.Delta.Value.StringFixed(2))
	}

	record := EarlyAccessRecord{
		ID:         string(original.ID),
		EmployeeID: req.EmployeeID,
		PeriodKey:  key,
		Amount:     original.Delta.Value,
		Fee:        decimal.Zero,
		Status:     AdvanceConfirmed,
		Compliant:  original.Metadata["compliant"] == "true",
		Details:    complianceDetails,
		Timestamp:  original.CreatedAt,
	}
	if reversed {
		record.Status = AdvanceReversed
	}
	s.Logger.Info("early access advance replayed",
		zap.String("employee_id", req.EmployeeID),
		zap.String("period", key),
		zap.String("advance_id", record.ID))
	return record, true, nil
}

func (s *Service) reverseAdvance(ctx context.Context, tx generic.Transaction, cause error) {
	rev := generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       tx.EntityID,
		PeriodKey:      tx.PeriodKey,
		Delta:          tx.Delta.Neg(),
		Type:           generic.TxReversal,
		ReferenceID:    string(tx.ID),
		Reason:         "disbursement failed: " + cause.Error(),
		IdempotencyKey: "reverse:" + tx.IdempotencyKey,
		CreatedBy:      "payroll",
		CreatedAt:      s.now(),
	}
	if _, err := generic.AppendIgnoringDuplicate(ctx, s.Ledger, rev); err != nil {
		s.Logger.Error("failed to reverse advance", zap.String("tx_id", string(tx.ID)), zap.Error(err))
	}
}

// =============================================================================
// LOCKS
// =============================================================================

// periodLocks serializes runs and advances of one process. The zero value
// is ready to use.
type periodLocks struct {
	mu       sync.Mutex
	periods  map[string]*sync.RWMutex
	advances map[string]*sync.Mutex
}

// run locks periodKey exclusively.
func (l *periodLocks) run(periodKey string) func() {
	p := l.period(periodKey)
	p.Lock()
	return p.Unlock
}

// advance locks periodKey shared and the (period, employee) pair
// exclusively.
func (l *periodLocks) advance(periodKey, employeeID string) func() {
	p := l.period(periodKey)
	p.RLock()

	l.mu.Lock()
	if l.advances == nil {
		l.advances = make(map[string]*sync.Mutex)
	}
	k := periodKey + "|" + employeeID
	m, ok := l.advances[k]
	if !ok {
		m = &sync.Mutex{}
		l.advances[k] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		p.RUnlock()
	}
}

func (l *periodLocks) period(periodKey string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.periods == nil {
		l.periods = make(map[string]*sync.RWMutex)
	}
	p, ok := l.periods[periodKey]
	if !ok {
		p = &sync.RWMutex{}
		l.periods[periodKey] = p
	}
	return p
}

func (s *Service) disburser() Disburser {
	if s.Disburser == nil {
		return NewStubDisburser(s.Clock)
	}
	return s.Disburser
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}
