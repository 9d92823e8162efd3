package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/platform/textutil"
	"github.com/shophub/marketplace/internal/repositories"
)

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Usages  repositories.CouponUsageRepository
	Orders  repositories.OrderRepository
	IDGen   func() string
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	usages  repositories.CouponUsageRepository
	orders  repositories.OrderRepository
	idGen   func() string
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ CouponService = (*couponService)(nil)

// NewCouponService wires a CouponService backed by the provided repositories.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	if deps.Usages == nil {
		return nil, ErrCouponRepositoryMissing
	}
	if deps.Orders == nil {
		return nil, ErrCouponRepositoryMissing
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return "" }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons: deps.Coupons,
		usages:  deps.Usages,
		orders:  deps.Orders,
		idGen:   idGen,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Resolve loads a coupon by its normalized code.
func (s *couponService) Resolve(ctx context.Context, code string) (Coupon, error) {
	normalized := textutil.NormalizeCode(code)
	if normalized == "" {
		return Coupon{}, ErrCouponInvalidCode
	}

	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, err
	}
	return coupon, nil
}

// Validate runs every eligibility rule and returns the first user-facing
// rejection reason encountered.
func (s *couponService) Validate(ctx context.Context, coupon Coupon, userID string, now time.Time) CouponValidation {
	if !coupon.Active {
		return CouponValidation{Reason: "This coupon is not active."}
	}
	if now.Before(coupon.ValidFrom) {
		return CouponValidation{Reason: "This coupon is not yet valid. Valid from " + coupon.ValidFrom.Format("2006-01-02") + "."}
	}
	if now.After(coupon.ValidTo) {
		return CouponValidation{Reason: "This coupon has expired."}
	}
	if coupon.MaxUses != nil && coupon.CurrentUses >= *coupon.MaxUses {
		return CouponValidation{Reason: "This coupon has reached its usage limit."}
	}

	if userID != "" {
		if coupon.MaxUsesPerUser != nil {
			count, err := s.usages.CountByUser(ctx, coupon.ID, userID)
			if err != nil {
				s.logger(ctx, "coupon.usage_count_failed", map[string]any{"coupon_id": coupon.ID, "error": err.Error()})
				return CouponValidation{Reason: "This coupon could not be validated."}
			}
			if count >= int64(*coupon.MaxUsesPerUser) {
				return CouponValidation{Reason: "You have already used this coupon the maximum number of times."}
			}
		}
		if coupon.FirstOrderOnly {
			orders, err := s.orders.CountByBuyer(ctx, userID)
			if err != nil {
				s.logger(ctx, "coupon.order_count_failed", map[string]any{"coupon_id": coupon.ID, "error": err.Error()})
				return CouponValidation{Reason: "This coupon could not be validated."}
			}
			if orders > 0 {
				return CouponValidation{Reason: "This coupon is only for first-time customers."}
			}
		}
		if len(coupon.AllowedUserIDs) > 0 && !containsString(coupon.AllowedUserIDs, userID) {
			return CouponValidation{Reason: "This coupon is not available for your account."}
		}
	}

	return CouponValidation{OK: true, Reason: "Coupon is valid."}
}

// CanApplyToLines reports whether the coupon's product or category allow-list
// intersects the given lines. Coupons without restrictions apply everywhere.
func (s *couponService) CanApplyToLines(coupon Coupon, lines []CartLine) bool {
	if len(coupon.AllowedProductIDs) == 0 && len(coupon.AllowedCategoryIDs) == 0 {
		return true
	}
	for _, line := range lines {
		if containsString(coupon.AllowedProductIDs, line.ProductID) {
			return true
		}
		if containsString(coupon.AllowedCategoryIDs, line.CategoryID) {
			return true
		}
	}
	return false
}

// Discount computes the amount the coupon takes off one seller-order's total.
// Free-shipping coupons discount nothing here; the shipping waiver is the
// pricing engine's job.
func (s *couponService) Discount(coupon Coupon, orderTotal decimal.Decimal, lines []CartLine) decimal.Decimal {
	if orderTotal.IsNegative() {
		return domain.Zero()
	}
	switch coupon.DiscountType {
	case domain.CouponTypePercentage:
		amount := orderTotal.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100))
		if coupon.MaxDiscountAmount != nil {
			amount = domain.MinDecimal(amount, *coupon.MaxDiscountAmount)
		}
		return domain.Round2(amount)
	case domain.CouponTypeFixed:
		return domain.Round2(domain.MinDecimal(coupon.DiscountValue, orderTotal))
	default:
		return domain.Zero()
	}
}

// Apply records one redemption: bumps the usage counter under a row lock and
// appends the usage ledger entry. The repository rejects the increment with a
// conflict once max_uses is reached, so concurrent redemptions cannot
// over-spend a capped coupon.
func (s *couponService) Apply(ctx context.Context, cmd ApplyCouponCommand) (Coupon, error) {
	if strings.TrimSpace(cmd.CouponID) == "" {
		return Coupon{}, ErrCouponInvalidCode
	}

	now := s.clock()
	coupon, err := s.coupons.IncrementUses(ctx, cmd.CouponID, now)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok {
			switch {
			case repoErr.IsNotFound():
				return Coupon{}, ErrCouponNotFound
			case repoErr.IsConflict():
				return Coupon{}, ErrCouponExhausted
			}
		}
		return Coupon{}, err
	}

	usage := domain.CouponUsage{
		ID:             s.idGen(),
		CouponID:       coupon.ID,
		UserID:         cmd.UserID,
		OrderID:        cmd.OrderID,
		DiscountAmount: cmd.DiscountAmount,
		UsedAt:         now,
	}
	if err := s.usages.Append(ctx, usage); err != nil {
		return Coupon{}, err
	}

	s.logger(ctx, "coupon.applied", map[string]any{
		"coupon_id":    coupon.ID,
		"current_uses": coupon.CurrentUses,
	})
	return coupon, nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
