package domain

import "github.com/shopspring/decimal"

// Round2 quantizes an amount to two decimal places rounding half up. Every
// money field in the system goes through this helper so order and invoice
// totals always match bit for bit.
func Round2(amount decimal.Decimal) decimal.Decimal {
	// decimal.Round rounds half away from zero, which is half up for the
	// non-negative amounts money fields carry. Negative inputs are clamped
	// upstream before rounding.
	return amount.Round(2)
}

// Zero is the canonical zero money value.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// MaxDecimal returns the larger of two amounts.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// MinDecimal returns the smaller of two amounts.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
