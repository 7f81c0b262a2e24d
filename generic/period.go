package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PAY PERIOD - The boundary advances and payroll runs are keyed by
// =============================================================================

// PayPeriod is an inclusive [Start, End] range of days.
//
// Examples:
//   - Monthly October 2026: Oct 1 - Oct 31, key "2026-10"
//   - Semi-monthly first half: Oct 1 - Oct 15, key "2026-10-A"
type PayPeriod struct {
	Start time.Time
	End   time.Time
	Type  PeriodType
}

type PeriodType string

const (
	PeriodMonthly     PeriodType = "monthly"
	PeriodSemiMonthly PeriodType = "semimonthly"
)

// NewPayPeriod validates and normalizes a custom period.
func NewPayPeriod(start, end time.Time) (PayPeriod, error) {
	start, end = truncateDay(start), truncateDay(end)
	if end.Before(start) {
		return PayPeriod{}, fmt.Errorf("%w: %s is before %s", ErrInvalidPeriod,
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return PayPeriod{Start: start, End: end}, nil
}

// PeriodFor returns the period of the given type containing date.
func PeriodFor(pt PeriodType, date time.Time) PayPeriod {
	date = date.UTC()
	switch pt {
	case PeriodSemiMonthly:
		if date.Day() <= 15 {
			return PayPeriod{
				Start: StartOfMonth(date.Year(), date.Month()),
				End:   time.Date(date.Year(), date.Month(), 15, 0, 0, 0, 0, time.UTC),
				Type:  PeriodSemiMonthly,
			}
		}
		return PayPeriod{
			Start: time.Date(date.Year(), date.Month(), 16, 0, 0, 0, 0, time.UTC),
			End:   EndOfMonth(date.Year(), date.Month()),
			Type:  PeriodSemiMonthly,
		}
	default:
		return PayPeriod{
			Start: StartOfMonth(date.Year(), date.Month()),
			End:   EndOfMonth(date.Year(), date.Month()),
			Type:  PeriodMonthly,
		}
	}
}

// ParsePeriodKey is the inverse of Key for monthly and semi-monthly keys.
func ParsePeriodKey(key string) (PayPeriod, error) {
	var year, month int
	var half string
	switch len(key) {
	case len("2006-01"):
		if _, err := fmt.Sscanf(key, "%4d-%2d", &year, &month); err != nil {
			return PayPeriod{}, fmt.Errorf("%w: bad key %q", ErrInvalidPeriod, key)
		}
	case len("2006-01-A"):
		if _, err := fmt.Sscanf(key, "%4d-%2d-%1s", &year, &month, &half); err != nil {
			return PayPeriod{}, fmt.Errorf("%w: bad key %q", ErrInvalidPeriod, key)
		}
	default:
		return PayPeriod{}, fmt.Errorf("%w: bad key %q", ErrInvalidPeriod, key)
	}
	if month < 1 || month > 12 {
		return PayPeriod{}, fmt.Errorf("%w: bad month in %q", ErrInvalidPeriod, key)
	}

	m := time.Month(month)
	switch half {
	case "":
		return PeriodFor(PeriodMonthly, StartOfMonth(year, m)), nil
	case "A":
		return PeriodFor(PeriodSemiMonthly, StartOfMonth(year, m)), nil
	case "B":
		return PeriodFor(PeriodSemiMonthly, EndOfMonth(year, m)), nil
	default:
		return PayPeriod{}, fmt.Errorf("%w: bad half %q", ErrInvalidPeriod, half)
	}
}

// Key is the stable identifier stored with ledger entries and runs.
func (p PayPeriod) Key() string {
	switch p.Type {
	case PeriodMonthly:
		return p.Start.Format("2006-01")
	case PeriodSemiMonthly:
		if p.Start.Day() == 1 {
			return p.Start.Format("2006-01") + "-A"
		}
		return p.Start.Format("2006-01") + "-B"
	default:
		return p.Start.Format("20060102") + "-" + p.End.Format("20060102")
	}
}

// Contains returns true if t falls within [Start, End].
func (p PayPeriod) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p PayPeriod) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}
