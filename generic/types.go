/*
Package generic provides the domain-agnostic primitives of the payroll engine.

PURPOSE:
  Money amounts, identifiers and the append-only ledger entry used to track
  wage advances. The payroll package builds allocation, tax and aggregation
  on top of these types; the stores persist them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal value with a currency (e.g., 70000 USD, 0.6 BTC)
  - Transaction: An immutable ledger entry (advance, settlement, reversal)
  - Entity IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. Immutability: Transactions are never modified, only reversed or settled
  3. Idempotency: Every transaction write carries an idempotency key

USAGE:
  adv := generic.Transaction{
      EntityID:  "emp-123",
      PeriodKey: "2026-10",
      Delta:     generic.NewAmountFromInt(500, generic.USD),
      Type:      generic.TxAdvance,
  }

SEE ALSO:
  - ledger.go: Advance ledger over a Store
  - period.go: Pay periods and their keys
  - asset.go: Fiat currencies and crypto assets
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal value with a currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

// Currency is an ISO-4217 code or a crypto asset symbol.
type Currency string

const (
	USD Currency = "USD"
)

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromInt(value int64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(value), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

// RoundCents rounds to two decimal places (half away from zero).
func (a Amount) RoundCents() Amount { return Amount{Value: a.Value.Round(2), Currency: a.Currency} }

func (a Amount) String() string { return a.Value.StringFixed(2) + " " + string(a.Currency) }

// Percent returns value × pct / 100.
func Percent(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(hundred)
}

var hundred = decimal.NewFromInt(100)

// Hundred is the 100% constant used for allocation splits.
func Hundred() decimal.Decimal { return hundred }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to an employee's advance balance
// =============================================================================

type TransactionType string

const (
	TxAdvance    TransactionType = "advance"    // Early wage access paid out
	TxSettlement TransactionType = "settlement" // Advance recovered by a payroll run
	TxReversal   TransactionType = "reversal"   // Undo a previous transaction
)

// Transaction is a ledger entry. Advances carry a positive delta, settlements
// and reversals a negative one, so the sum over a period is what is still owed.
type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	PeriodKey      string
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt time.Time
}
