package services

import (
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
)

// ErrPricingInvalidInput signals bad pricing inputs such as negative amounts.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// ShippingTier maps a subtotal ceiling to a flat shipping fee. Tiers are
// evaluated in order; the first tier whose Below exceeds the subtotal wins.
type ShippingTier struct {
	Below decimal.Decimal
	Fee   decimal.Decimal
}

// PricingConfig carries the configured rates and tiers driving the engine.
type PricingConfig struct {
	// TaxRate is a fraction, e.g. 0.025 for 2.5%.
	TaxRate decimal.Decimal
	// ShippingTiers orders the fee brackets by ascending ceiling.
	ShippingTiers []ShippingTier
	// BaseShippingFee applies above the last tier ceiling.
	BaseShippingFee decimal.Decimal
	// FreeShippingSaleThreshold is the sale percentage at or above which an
	// on-sale product waives shipping, e.g. 30.
	FreeShippingSaleThreshold decimal.Decimal
}

// DefaultPricingConfig returns the stock rates: 2.5% tax, shipping 50 under
// 100, 30 under 500, 10 above, free-shipping sale threshold 30%.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		TaxRate: decimal.NewFromFloat(0.025),
		ShippingTiers: []ShippingTier{
			{Below: decimal.NewFromInt(100), Fee: decimal.NewFromInt(50)},
			{Below: decimal.NewFromInt(500), Fee: decimal.NewFromInt(30)},
		},
		BaseShippingFee:           decimal.NewFromInt(10),
		FreeShippingSaleThreshold: decimal.NewFromInt(30),
	}
}

type pricingEngine struct {
	cfg PricingConfig
}

type PricingEngineDeps struct {
	Config PricingConfig
}

var _ PricingEngine = (*pricingEngine)(nil)

// NewPricingEngine validates the configured rates and returns the engine.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	cfg := deps.Config
	if cfg.TaxRate.IsNegative() {
		return nil, errors.New("pricing engine: tax rate must not be negative")
	}
	if cfg.BaseShippingFee.IsNegative() {
		return nil, errors.New("pricing engine: base shipping fee must not be negative")
	}
	for i, tier := range cfg.ShippingTiers {
		if tier.Fee.IsNegative() {
			return nil, errors.New("pricing engine: shipping tier fee must not be negative")
		}
		if i > 0 && !tier.Below.GreaterThan(cfg.ShippingTiers[i-1].Below) {
			return nil, errors.New("pricing engine: shipping tiers must have ascending ceilings")
		}
	}
	return &pricingEngine{cfg: cfg}, nil
}

// ShippingFee returns the flat fee for one seller-order's lines. The fee is
// waived for free-shipping coupons, loyalty redemptions, and carts carrying a
// deep-sale or best-seller product.
func (e *pricingEngine) ShippingFee(lines []CartLine, coupon *Coupon, usingLoyaltyRedemption bool) decimal.Decimal {
	if len(lines) == 0 {
		return domain.Zero()
	}
	if usingLoyaltyRedemption {
		return domain.Zero()
	}
	if coupon != nil && coupon.DiscountType == domain.CouponTypeFreeShipping {
		return domain.Zero()
	}
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.BestSeller {
			return domain.Zero()
		}
		if line.SalePercentage.GreaterThanOrEqual(e.cfg.FreeShippingSaleThreshold) {
			return domain.Zero()
		}
		subtotal = subtotal.Add(line.LineSubtotal())
	}
	for _, tier := range e.cfg.ShippingTiers {
		if subtotal.LessThan(tier.Below) {
			return tier.Fee
		}
	}
	return e.cfg.BaseShippingFee
}

// Tax computes the flat-rate tax on the post-discount amount plus shipping,
// quantized to two places.
func (e *pricingEngine) Tax(amountAfterDiscount, shipping decimal.Decimal) decimal.Decimal {
	base := amountAfterDiscount.Add(shipping)
	if base.IsNegative() {
		base = domain.Zero()
	}
	return domain.Round2(base.Mul(e.cfg.TaxRate))
}

// Totals combines subtotal, discount and shipping into the authoritative
// breakdown. The discount is capped at the subtotal so the post-discount
// amount never goes negative.
func (e *pricingEngine) Totals(subtotal, shipping, discount decimal.Decimal) PricingBreakdown {
	if subtotal.IsNegative() {
		subtotal = domain.Zero()
	}
	if shipping.IsNegative() {
		shipping = domain.Zero()
	}
	if discount.IsNegative() {
		discount = domain.Zero()
	}
	discount = domain.MinDecimal(discount, subtotal)

	after := subtotal.Sub(discount)
	tax := e.Tax(after, shipping)
	total := domain.Round2(after.Add(shipping).Add(tax))

	return PricingBreakdown{
		Subtotal: domain.Round2(subtotal),
		Discount: domain.Round2(discount),
		Shipping: domain.Round2(shipping),
		Tax:      tax,
		Total:    total,
	}
}
