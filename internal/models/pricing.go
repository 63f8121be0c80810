package models

import "github.com/shopspring/decimal"

// Pricing is either Free or PerHour(amount) with a positive amount.
type Pricing struct {
	perHour decimal.Decimal
	charged bool
}

// Free returns the pricing of a resource that never produces a payment.
func Free() Pricing {
	return Pricing{}
}

// PerHour returns an hourly pricing. Non-positive amounts collapse to Free.
func PerHour(amount decimal.Decimal) Pricing {
	if !amount.IsPositive() {
		return Free()
	}
	return Pricing{perHour: amount, charged: true}
}

// IsFree reports whether the pricing is Free.
func (p Pricing) IsFree() bool { return !p.charged }

// HourlyRate returns the hourly amount and false for Free.
func (p Pricing) HourlyRate() (decimal.Decimal, bool) {
	return p.perHour, p.charged
}

func (p Pricing) String() string {
	if !p.charged {
		return "Free"
	}
	return "PerHour(" + p.perHour.StringFixed(2) + ")"
}
