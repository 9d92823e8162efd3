package domain

import "github.com/shopspring/decimal"

// PricingBreakdown captures the aggregated monetary results of pricing one
// seller-order. Total always equals
// Round2(max(0, Subtotal-Discount) + Shipping + Tax).
type PricingBreakdown struct {
	Currency string
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Reconciles reports whether the breakdown satisfies the totals invariant.
func (b PricingBreakdown) Reconciles() bool {
	after := MaxDecimal(Zero(), b.Subtotal.Sub(b.Discount))
	want := Round2(after.Add(b.Shipping).Add(b.Tax))
	return b.Total.Equal(want)
}

// SellerGroup is one seller's slice of a cart produced by the order splitter.
type SellerGroup struct {
	SellerID string
	Lines    []CartLine
}

// Subtotal sums the line subtotals of the group.
func (g SellerGroup) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range g.Lines {
		sum = sum.Add(line.LineSubtotal())
	}
	return sum
}
