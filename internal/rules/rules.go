// Package rules holds the pure auction arithmetic: minimum next bid,
// anti-sniping extension and payment deadlines.
package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// IncrementRule is the combined relative/absolute minimum increment
type IncrementRule struct {
	Percent  decimal.Decimal // relative step, e.g. 1 for 1%
	Absolute decimal.Decimal // absolute floor, e.g. 10
}

// Config carries every tunable consumed by the bidding engine
type Config struct {
	Increment                   IncrementRule
	AntiSnipingWindowMinutes    int
	AntiSnipingExtensionMinutes int
	MaxExtensions               int
	PaymentDueBusinessDays      int
	BuyerFeePercent             decimal.Decimal
	DefaultCurrency             string
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Increment: IncrementRule{
			Percent:  decimal.NewFromInt(1),
			Absolute: decimal.NewFromInt(10),
		},
		AntiSnipingWindowMinutes:    2,
		AntiSnipingExtensionMinutes: 2,
		MaxExtensions:               10,
		PaymentDueBusinessDays:      5,
		BuyerFeePercent:             decimal.NewFromInt(5),
		DefaultCurrency:             "EUR",
	}
}

// MinimumNextBid returns the lowest acceptable amount for the next bid.
// With no bid yet it is the starting price; otherwise the current bid plus
// the larger of the percentage step and the absolute floor, rounded up to cents.
func MinimumNextBid(current decimal.NullDecimal, starting decimal.Decimal, rule IncrementRule) decimal.Decimal {
	if !current.Valid {
		return starting
	}
	relative := current.Decimal.Mul(rule.Percent).Div(hundred)
	step := decimal.Max(relative, rule.Absolute)
	return current.Decimal.Add(step).RoundCeil(2)
}

// ShouldExtend reports whether a bid accepted at now triggers an anti-sniping
// extension. The window boundary is inclusive; an expired auction never extends.
func ShouldExtend(now, currentEndTime time.Time, windowMinutes, extensionCount, maxExtensions int, enabled bool) bool {
	if !enabled || extensionCount >= maxExtensions {
		return false
	}
	remaining := currentEndTime.Sub(now)
	return remaining > 0 && remaining <= time.Duration(windowMinutes)*time.Minute
}

// Extend pushes the end time out from the current end, never from now
func Extend(currentEndTime time.Time, extensionMinutes int) time.Time {
	return currentEndTime.Add(time.Duration(extensionMinutes) * time.Minute)
}

// PaymentDeadline returns the instant businessDays weekdays after end,
// keeping the time of day.
func PaymentDeadline(end time.Time, businessDays int) time.Time {
	deadline := end
	for added := 0; added < businessDays; {
		deadline = deadline.AddDate(0, 0, 1)
		if wd := deadline.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return deadline
}

// BuyerFee returns finalPrice × percent / 100 rounded to cents
func BuyerFee(finalPrice, percent decimal.Decimal) decimal.Decimal {
	return finalPrice.Mul(percent).Div(hundred).Round(2)
}

// WholeCents reports whether amount has no more than two decimal places
func WholeCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(2))
}
