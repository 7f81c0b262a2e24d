/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the advance ledger and the database.
  The Store is append-only; advances are recovered by settlement entries
  and mistakes by reversal entries, never by edits.

IDEMPOTENCY:
  Every write may carry an idempotency key. If the key already exists the
  write is rejected with ErrDuplicateIdempotencyKey. Payroll runs rely on
  this: settling the same advance twice for one period is a no-op.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level ledger using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of ledger transactions.
// Store is APPEND-ONLY. No Update, no Delete.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for entity+period in insertion order.
	Load(ctx context.Context, entityID EntityID, periodKey string) ([]Transaction, error)

	// LoadByEntity returns every transaction of an entity across periods.
	LoadByEntity(ctx context.Context, entityID EntityID) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
