package payroll

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rates"
)

// =============================================================================
// ALLOCATION CALCULATOR
// =============================================================================

// cryptoScale is the number of decimal places kept on crypto amounts.
const cryptoScale = 12

// AllocationResult is the split of one salary.
type AllocationResult struct {
	FiatAmount    decimal.Decimal
	CryptoAmount  decimal.Decimal
	CryptoAsset   generic.Asset
	CryptoPrice   decimal.Decimal // zero when no crypto is paid
	CryptoValue   decimal.Decimal // crypto portion in the base currency
	WalletAddress string
}

// Allocate splits emp's salary into fiat and crypto using prices from table.
//
//	fiat        = salary × fiat% / 100
//	cryptoValue = salary × crypto% / 100
//	crypto      = cryptoValue / price[asset]
//
// A zero crypto percentage never consults the table. An asset missing from
// the table is an UnknownAssetError; there is no fallback price.
func Allocate(emp Employee, table rates.Table) (AllocationResult, error) {
	if emp.Salary.IsNegative() {
		return AllocationResult{}, &ValidationError{Field: "salary", Reason: "must not be negative", Err: generic.ErrNegativeAmount}
	}
	alloc := emp.Allocation.Resolve()
	if err := alloc.Validate(); err != nil {
		return AllocationResult{}, err
	}

	out := AllocationResult{
		FiatAmount:    generic.Percent(emp.Salary, alloc.FiatPercent),
		CryptoAmount:  decimal.Zero,
		CryptoAsset:   alloc.CryptoAsset,
		CryptoPrice:   decimal.Zero,
		CryptoValue:   generic.Percent(emp.Salary, alloc.CryptoPercent),
		WalletAddress: emp.WalletAddress,
	}
	if alloc.CryptoPercent.IsZero() {
		return out, nil
	}

	price, err := table.MustPrice(alloc.CryptoAsset.String())
	if err != nil {
		return AllocationResult{}, err
	}
	out.CryptoPrice = price
	out.CryptoAmount = out.CryptoValue.DivRound(price, cryptoScale)
	return out, nil
}

// =============================================================================
// WALLET
// =============================================================================

const maxWalletLength = 128

// ValidateWalletAddress accepts opaque addresses: non-empty, printable, no
// whitespace, at most 128 characters.
func ValidateWalletAddress(addr string) error {
	if addr == "" {
		return &ValidationError{Field: "wallet_address", Reason: "required", Err: generic.ErrInvalidWallet}
	}
	if len(addr) > maxWalletLength {
		return &ValidationError{Field: "wallet_address", Reason: "too long", Err: generic.ErrInvalidWallet}
	}
	for _, r := range addr {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return &ValidationError{Field: "wallet_address", Reason: "contains whitespace or control characters", Err: generic.ErrInvalidWallet}
		}
	}
	return nil
}

// UpdateWalletAddress returns a copy of emp with the new address.
func UpdateWalletAddress(emp Employee, addr string) (Employee, error) {
	addr = strings.TrimSpace(addr)
	if err := ValidateWalletAddress(addr); err != nil {
		return emp, err
	}
	emp.WalletAddress = addr
	return emp, nil
}
