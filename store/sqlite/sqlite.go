/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the payroll service needs using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store:              Advance ledger transactions
  payroll.EmployeeRepository: Employee records
  payroll.RunRepository:      Payroll run history

APPEND-ONLY ENFORCEMENT:
  The ledger table is never updated or deleted from:
  - Advances are recovered by settlement rows
  - Failed disbursements are undone by reversal rows

KEY TABLES:
  transactions:  Immutable ledger of advances, settlements and reversals
  employees:     Employee records with their allocation preference
  payroll_runs:  One row per payroll execution

INDEXES:
  - idx_transactions_entity_period: Outstanding calculation (hot path)
  - idx_transactions_idempotency: Retry detection
  - idx_runs_completed_period: At most one completed run per pay period

DECIMALS:
  Money, percentages and hours are stored as TEXT and parsed back with
  shopspring/decimal so no value ever passes through float64.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection so that
  ":memory:" databases are shared by every query.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store)
  svc := payroll.NewService(store, store, ledger, agg, logger)

SEE ALSO:
  - generic/store.go: Store interface
  - generic/store/memory.go: In-memory ledger store for testing
  - payroll/service.go: Repository interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.Store              = (*Store)(nil)
	_ payroll.EmployeeRepository = (*Store)(nil)
	_ payroll.RunRepository      = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only advance ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		period_key TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		currency TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_entity_period
		ON transactions(entity_id, period_key);
	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(tx_type);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT,
		department TEXT,
		job_role TEXT,
		status TEXT NOT NULL,
		country TEXT,
		jurisdiction TEXT,
		salary TEXT NOT NULL,
		fiat_percent TEXT NOT NULL,
		crypto_percent TEXT NOT NULL,
		crypto_asset TEXT,
		wallet_address TEXT,
		hours_worked TEXT NOT NULL,
		pay_period_hours TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Payroll runs
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id TEXT PRIMARY KEY,
		period_key TEXT NOT NULL,
		status TEXT NOT NULL,
		employee_count INTEGER NOT NULL,
		failed_count INTEGER NOT NULL,
		total_net TEXT NOT NULL,
		data_hash TEXT,
		rates_base TEXT,
		error TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_period
		ON payroll_runs(period_key);

	-- CRITICAL: a pay period is paid at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_completed_period
		ON payroll_runs(period_key) WHERE status = 'completed';
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// generic.Store IMPLEMENTATION
// =============================================================================

// Append adds a single transaction. Append-only.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, tx)
}

func (s *Store) appendTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, tx generic.Transaction) error {
	metadataJSON, _ := json.Marshal(tx.Metadata)
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions
		(id, entity_id, period_key, delta_value, currency, tx_type,
		 reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.EntityID,
		tx.PeriodKey,
		tx.Delta.Value.String(),
		tx.Delta.Currency,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicate idempotency keys within the batch first
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	for _, tx := range txs {
		if err := s.appendTx(ctx, dbTx, tx); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// Load returns all transactions for entity+period in insertion order.
func (s *Store) Load(ctx context.Context, entityID generic.EntityID, periodKey string) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `
		SELECT id, entity_id, period_key, delta_value, currency, tx_type,
		       reference_id, reason, idempotency_key, metadata_json, created_by, created_at
		FROM transactions
		WHERE entity_id = ? AND period_key = ?
		ORDER BY rowid
	`, entityID, periodKey)
}

// LoadByEntity returns every transaction of an entity across periods.
func (s *Store) LoadByEntity(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `
		SELECT id, entity_id, period_key, delta_value, currency, tx_type,
		       reference_id, reason, idempotency_key, metadata_json, created_by, created_at
		FROM transactions
		WHERE entity_id = ?
		ORDER BY rowid
	`, entityID)
}

// Exists checks if an idempotency key already exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx                                            generic.Transaction
		deltaValue, currency, txType, createdAt       string
		referenceID, reason, idemKey, meta, createdBy sql.NullString
	)
	err := rows.Scan(
		&tx.ID, &tx.EntityID, &tx.PeriodKey, &deltaValue, &currency, &txType,
		&referenceID, &reason, &idemKey, &meta, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	value, err := decimal.NewFromString(deltaValue)
	if err != nil {
		return tx, fmt.Errorf("transaction %s: bad delta %q: %w", tx.ID, deltaValue, err)
	}
	tx.Delta = generic.Amount{Value: value, Currency: generic.Currency(currency)}
	tx.Type = generic.TransactionType(txType)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idemKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if meta.Valid && meta.String != "" && meta.String != "null" {
		_ = json.Unmarshal([]byte(meta.String), &tx.Metadata)
	}
	return tx, nil
}

// RecentTransactions returns the newest ledger entries across employees.
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	return s.queryTransactions(ctx, `
		SELECT id, entity_id, period_key, delta_value, currency, tx_type,
		       reference_id, reason, idempotency_key, metadata_json, created_by, created_at
		FROM transactions
		ORDER BY rowid DESC
		LIMIT ?
	`, limit)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// SaveEmployee inserts or replaces an employee record.
func (s *Store) SaveEmployee(ctx context.Context, emp payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := emp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees
		(id, first_name, last_name, email, department, job_role, status, country, jurisdiction,
		 salary, fiat_percent, crypto_percent, crypto_asset, wallet_address,
		 hours_worked, pay_period_hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			department = excluded.department,
			job_role = excluded.job_role,
			status = excluded.status,
			country = excluded.country,
			jurisdiction = excluded.jurisdiction,
			salary = excluded.salary,
			fiat_percent = excluded.fiat_percent,
			crypto_percent = excluded.crypto_percent,
			crypto_asset = excluded.crypto_asset,
			wallet_address = excluded.wallet_address,
			hours_worked = excluded.hours_worked,
			pay_period_hours = excluded.pay_period_hours
	`,
		emp.ID, emp.FirstName, emp.LastName, nullString(emp.Email), nullString(emp.Department),
		nullString(emp.JobRole), emp.Status, nullString(emp.Country), nullString(emp.Jurisdiction),
		emp.Salary.String(), emp.Allocation.FiatPercent.String(), emp.Allocation.CryptoPercent.String(),
		nullString(emp.Allocation.CryptoAsset.String()), nullString(emp.WalletAddress),
		emp.HoursWorked.String(), emp.PayPeriodHours.String(),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

const employeeColumns = `id, first_name, last_name, email, department, job_role, status, country,
	jurisdiction, salary, fiat_percent, crypto_percent, crypto_asset, wallet_address,
	hours_worked, pay_period_hours, created_at`

// GetEmployee returns generic.ErrEntityNotFound for unknown IDs.
func (s *Store) GetEmployee(ctx context.Context, id string) (payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Employee{}, fmt.Errorf("%w: %s", generic.ErrEntityNotFound, id)
	}
	return emp, err
}

func (s *Store) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []payroll.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete employee: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrEntityNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row scanner) (payroll.Employee, error) {
	var (
		emp                                                payroll.Employee
		email, department, jobRole, country, jurisdiction  sql.NullString
		asset, wallet                                      sql.NullString
		salary, fiatPct, cryptoPct, hours, periodHours, at string
	)
	err := row.Scan(
		&emp.ID, &emp.FirstName, &emp.LastName, &email, &department, &jobRole, &emp.Status,
		&country, &jurisdiction, &salary, &fiatPct, &cryptoPct, &asset, &wallet,
		&hours, &periodHours, &at,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emp, err
		}
		return emp, fmt.Errorf("failed to scan employee: %w", err)
	}

	emp.Email = email.String
	emp.Department = department.String
	emp.JobRole = jobRole.String
	emp.Country = country.String
	emp.Jurisdiction = jurisdiction.String
	emp.WalletAddress = wallet.String
	emp.Allocation.CryptoAsset = generic.ParseAsset(asset.String)
	emp.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&emp.Salary, salary},
		{&emp.Allocation.FiatPercent, fiatPct},
		{&emp.Allocation.CryptoPercent, cryptoPct},
		{&emp.HoursWorked, hours},
		{&emp.PayPeriodHours, periodHours},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return emp, fmt.Errorf("employee %s: bad decimal %q: %w", emp.ID, f.src, err)
		}
		*f.dst = v
	}
	return emp, nil
}

// =============================================================================
// PAYROLL RUNS
// =============================================================================

// SaveRun inserts or updates a run. The partial unique index on completed
// runs turns a second completed run for a period into
// generic.ErrRunAlreadyCompleted.
func (s *Store) SaveRun(ctx context.Context, run payroll.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveRunTx(ctx, s.db, run)
}

// CompleteRun appends the settlements and saves the completed run in one
// database transaction. Settlements already on the ledger are skipped;
// any other failure rolls everything back.
func (s *Store) CompleteRun(ctx context.Context, run payroll.Run, settlements []generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	for _, tx := range settlements {
		err := s.appendTx(ctx, dbTx, tx)
		if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
			continue
		}
		if err != nil {
			return fmt.Errorf("settle advance for %s: %w", tx.EntityID, err)
		}
	}
	if err := s.saveRunTx(ctx, dbTx, run); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payroll run: %w", err)
	}
	return nil
}

func (s *Store) saveRunTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, run payroll.Run) error {
	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO payroll_runs
		(id, period_key, status, employee_count, failed_count, total_net,
		 data_hash, rates_base, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			employee_count = excluded.employee_count,
			failed_count = excluded.failed_count,
			total_net = excluded.total_net,
			data_hash = excluded.data_hash,
			rates_base = excluded.rates_base,
			error = excluded.error,
			completed_at = excluded.completed_at
	`,
		run.ID, run.PeriodKey, string(run.Status), run.EmployeeCount, run.FailedCount,
		run.TotalNet.String(), nullString(run.DataHash), nullString(run.RatesBase),
		nullString(run.Error), run.CreatedAt.UTC().Format(time.RFC3339Nano), completedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrRunAlreadyCompleted, run.PeriodKey)
		}
		return fmt.Errorf("failed to save payroll run: %w", err)
	}
	return nil
}

const runColumns = `id, period_key, status, employee_count, failed_count, total_net,
	data_hash, rates_base, error, created_at, completed_at`

func (s *Store) GetRun(ctx context.Context, id string) (payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM payroll_runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Run{}, fmt.Errorf("%w: %s", generic.ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context) ([]payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM payroll_runs ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll runs: %w", err)
	}
	defer rows.Close()

	var out []payroll.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// CompletedRun returns generic.ErrRunNotFound when the period is still open.
func (s *Store) CompletedRun(ctx context.Context, periodKey string) (payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := scanRun(s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM payroll_runs WHERE period_key = ? AND status = ?",
		periodKey, string(payroll.RunCompleted)))
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Run{}, generic.ErrRunNotFound
	}
	return run, err
}

func scanRun(row scanner) (payroll.Run, error) {
	var (
		run                                 payroll.Run
		status, totalNet, createdAt         string
		dataHash, base, runErr, completedAt sql.NullString
	)
	err := row.Scan(&run.ID, &run.PeriodKey, &status, &run.EmployeeCount, &run.FailedCount,
		&totalNet, &dataHash, &base, &runErr, &createdAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("failed to scan payroll run: %w", err)
	}

	run.Status = payroll.RunStatus(status)
	run.TotalNet, err = decimal.NewFromString(totalNet)
	if err != nil {
		return run, fmt.Errorf("run %s: bad total %q: %w", run.ID, totalNet, err)
	}
	run.DataHash = dataHash.String
	run.RatesBase = base.String
	run.Error = runErr.String
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err == nil {
			run.CompletedAt = &t
		}
	}
	return run, nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "employees", "payroll_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
