/*
ledger.go - Append-only advance ledger

PURPOSE:
  The Ledger is the source of truth for early wage access. Every advance
  paid out and every settlement taken back by a payroll run is recorded
  here. What an employee still owes for a period is always computed by
  summing entries, there is no separate balance column to drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete
  2. IDEMPOTENT: Same idempotency key = same transaction
  3. NO DOUBLE-PAY: An advance is deducted by exactly one settlement

EXAMPLE FLOW:
  1. Employee draws 500 early:        TxAdvance    +500  (period 2026-10)
  2. October payroll run deducts it:  TxSettlement -500  key settle:2026-10:emp-1
  3. The run is retried:              TxSettlement -500  key settle:2026-10:emp-1 -> duplicate, ignored

  Outstanding(2026-10) = 0 after step 2 and stays 0 after step 3.

SEE ALSO:
  - store.go: Low-level persistence interface
  - payroll/service.go: Settles advances when a run completes
*/
package generic

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all entries for entity+period. Read-only.
	Transactions(ctx context.Context, entityID EntityID, periodKey string) ([]Transaction, error)

	// Outstanding is the advance amount not yet settled for entity+period.
	Outstanding(ctx context.Context, entityID EntityID, periodKey string) (decimal.Decimal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if err := validateTransaction(tx); err != nil {
		return err
	}
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if err := validateTransaction(tx); err != nil {
			return err
		}
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true

		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, entityID EntityID, periodKey string) ([]Transaction, error) {
	return l.Store.Load(ctx, entityID, periodKey)
}

func (l *DefaultLedger) Outstanding(ctx context.Context, entityID EntityID, periodKey string) (decimal.Decimal, error) {
	txs, err := l.Store.Load(ctx, entityID, periodKey)
	if err != nil {
		return decimal.Zero, err
	}

	owed := decimal.Zero
	for _, tx := range txs {
		owed = owed.Add(tx.Delta.Value)
	}
	// Over-settlement is never carried as a credit.
	if owed.IsNegative() {
		return decimal.Zero, nil
	}
	return owed, nil
}

// AppendIgnoringDuplicate appends tx and treats ErrDuplicateIdempotencyKey as
// success. Returns true when the entry was newly written.
func AppendIgnoringDuplicate(ctx context.Context, l Ledger, tx Transaction) (bool, error) {
	err := l.Append(ctx, tx)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func validateTransaction(tx Transaction) error {
	if tx.EntityID == "" || tx.PeriodKey == "" {
		return fmt.Errorf("ledger: transaction %s missing entity or period", tx.ID)
	}
	switch tx.Type {
	case TxAdvance:
		if !tx.Delta.IsPositive() {
			return fmt.Errorf("%w: advance must be positive", ErrNegativeAmount)
		}
	case TxSettlement, TxReversal:
		if tx.Delta.IsPositive() {
			return fmt.Errorf("ledger: %s must not be positive", tx.Type)
		}
	default:
		return fmt.Errorf("ledger: unknown transaction type %q", tx.Type)
	}
	return nil
}
