package payroll

import (
	"errors"
	"fmt"

	"github.com/warp/payroll-engine/generic"
)

// ValidationError reports which employee field was rejected.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return generic.ErrInvalidEmployee
	}
	return e.Err
}

// ErrorKind buckets an error into a short label for metrics and API output.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, generic.ErrRateUnavailable):
		return "rate_unavailable"
	case errors.Is(err, generic.ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, generic.ErrNoMatchingBracket):
		return "no_matching_bracket"
	case errors.Is(err, generic.ErrUnknownJurisdiction):
		return "unknown_jurisdiction"
	case errors.Is(err, generic.ErrInvalidPeriod):
		return "invalid_period"
	case errors.Is(err, generic.ErrInvalidAllocation):
		return "invalid_allocation"
	case errors.Is(err, generic.ErrInvalidWallet):
		return "invalid_wallet"
	case errors.Is(err, generic.ErrNegativeAmount):
		return "negative_amount"
	case errors.Is(err, generic.ErrInvalidEmployee):
		return "invalid_employee"
	case errors.Is(err, generic.ErrEntityNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
