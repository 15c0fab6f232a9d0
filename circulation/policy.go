package circulation

import (
	"errors"
	"fmt"
)

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("invalid circulation policy")

// Policy holds the lending rules applied by the decision functions.
//
// A zero Policy is not usable; construct one with DefaultPolicy and
// override individual fields as needed.
type Policy struct {
	// LoanPeriodDays is the number of days from checkout to the due date.
	LoanPeriodDays int

	// RenewalPeriodDays is the number of days a renewal adds to the current due date.
	RenewalPeriodDays int

	// MaxRenewals is the number of renewals allowed per loan.
	MaxRenewals int

	// DailyFineCents is the fine charged per day late, in cents.
	DailyFineCents int64
}

// DefaultPolicy returns the standard lending rules:
// a 14-day loan period, 14-day renewals, at most 2 renewals,
// and a fine of 50 cents per day late.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:    14,
		RenewalPeriodDays: 14,
		MaxRenewals:       2,
		DailyFineCents:    50,
	}
}

// Validate checks that the policy values are usable.
// MaxRenewals may be zero (renewals disabled), the periods must be positive,
// and the fine rate must not be negative.
func (p Policy) Validate() error {
	if p.LoanPeriodDays <= 0 {
		return errors.Join(ErrInvalidPolicy, fmt.Errorf("loan period must be positive, got %d", p.LoanPeriodDays))
	}

	if p.RenewalPeriodDays <= 0 {
		return errors.Join(ErrInvalidPolicy, fmt.Errorf("renewal period must be positive, got %d", p.RenewalPeriodDays))
	}

	if p.MaxRenewals < 0 {
		return errors.Join(ErrInvalidPolicy, fmt.Errorf("max renewals must not be negative, got %d", p.MaxRenewals))
	}

	if p.DailyFineCents < 0 {
		return errors.Join(ErrInvalidPolicy, fmt.Errorf("daily fine must not be negative, got %d", p.DailyFineCents))
	}

	return nil
}

// FormatCents renders an amount of cents as a decimal string, e.g. 250 -> "2.50".
// Negative amounts keep their sign.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
