package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
)

func intPtr(v int) *int { return &v }

func decimalPtr(v decimal.Decimal) *decimal.Decimal { return &v }

func newCouponServiceForTest(t *testing.T, coupons *stubCouponRepository, usages *stubCouponUsageRepository, orders *stubOrderRepository) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: coupons,
		Usages:  usages,
		Orders:  orders,
		IDGen:   sequentialIDs("usage_"),
		Clock:   fixedClock(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewCouponService returned error: %v", err)
	}
	return svc
}

func activeCoupon() domain.Coupon {
	return domain.Coupon{
		ID:            "coupon_1",
		Code:          "SAVE10",
		DiscountType:  domain.CouponTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		ValidFrom:     time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:       time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		Active:        true,
	}
}

func TestCouponService_Resolve_NormalizesCode(t *testing.T) {
	coupons := &stubCouponRepository{coupon: activeCoupon()}
	svc := newCouponServiceForTest(t, coupons, &stubCouponUsageRepository{}, newStubOrderRepository())

	coupon, err := svc.Resolve(context.Background(), "  save10 ")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if coupons.lastCode != "SAVE10" {
		t.Fatalf("repository queried with %q, want SAVE10", coupons.lastCode)
	}
	if coupon.ID != "coupon_1" {
		t.Fatalf("coupon ID = %q", coupon.ID)
	}
}

func TestCouponService_Resolve_Errors(t *testing.T) {
	svc := newCouponServiceForTest(t, &stubCouponRepository{findErr: &stubRepoError{notFound: true}}, &stubCouponUsageRepository{}, newStubOrderRepository())

	if _, err := svc.Resolve(context.Background(), "NOPE"); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("err = %v, want ErrCouponNotFound", err)
	}
	if _, err := svc.Resolve(context.Background(), "   "); !errors.Is(err, ErrCouponInvalidCode) {
		t.Fatalf("err = %v, want ErrCouponInvalidCode", err)
	}
}

func TestCouponService_Validate_Reasons(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		mutate     func(*domain.Coupon)
		usages     *stubCouponUsageRepository
		buyerCount int64
		wantReason string
	}{
		{
			name:       "inactive",
			mutate:     func(c *domain.Coupon) { c.Active = false },
			wantReason: "This coupon is not active.",
		},
		{
			name:       "not yet valid",
			mutate:     func(c *domain.Coupon) { c.ValidFrom = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC) },
			wantReason: "This coupon is not yet valid. Valid from 2026-06-01.",
		},
		{
			name:       "expired",
			mutate:     func(c *domain.Coupon) { c.ValidTo = time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC) },
			wantReason: "This coupon has expired.",
		},
		{
			name: "global cap reached",
			mutate: func(c *domain.Coupon) {
				c.MaxUses = intPtr(5)
				c.CurrentUses = 5
			},
			wantReason: "This coupon has reached its usage limit.",
		},
		{
			name:       "per user cap reached",
			mutate:     func(c *domain.Coupon) { c.MaxUsesPerUser = intPtr(2) },
			usages:     &stubCouponUsageRepository{userCount: 2},
			wantReason: "You have already used this coupon the maximum number of times.",
		},
		{
			name:       "first order only with history",
			mutate:     func(c *domain.Coupon) { c.FirstOrderOnly = true },
			buyerCount: 3,
			wantReason: "This coupon is only for first-time customers.",
		},
		{
			name:       "user not on allow list",
			mutate:     func(c *domain.Coupon) { c.AllowedUserIDs = []string{"someone_else"} },
			wantReason: "This coupon is not available for your account.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := activeCoupon()
			tc.mutate(&coupon)
			usages := tc.usages
			if usages == nil {
				usages = &stubCouponUsageRepository{}
			}
			orders := newStubOrderRepository()
			orders.buyerCount = tc.buyerCount
			svc := newCouponServiceForTest(t, &stubCouponRepository{coupon: coupon}, usages, orders)

			result := svc.Validate(context.Background(), coupon, "buyer_1", now)
			if result.OK {
				t.Fatalf("validation unexpectedly passed")
			}
			if result.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", result.Reason, tc.wantReason)
			}
		})
	}
}

func TestCouponService_Validate_OK(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := activeCoupon()
	svc := newCouponServiceForTest(t, &stubCouponRepository{coupon: coupon}, &stubCouponUsageRepository{}, newStubOrderRepository())

	result := svc.Validate(context.Background(), coupon, "buyer_1", now)
	if !result.OK {
		t.Fatalf("validation failed: %q", result.Reason)
	}
	if result.Reason != "Coupon is valid." {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestCouponService_Discount(t *testing.T) {
	svc := newCouponServiceForTest(t, &stubCouponRepository{}, &stubCouponUsageRepository{}, newStubOrderRepository())

	t.Run("percentage capped by max discount", func(t *testing.T) {
		coupon := activeCoupon()
		coupon.DiscountValue = decimal.NewFromInt(20)
		coupon.MaxDiscountAmount = decimalPtr(decimal.NewFromInt(15))
		amount := svc.Discount(coupon, decimal.NewFromInt(200), nil)
		if amount.String() != "15" {
			t.Fatalf("discount = %s, want 15", amount)
		}
	})

	t.Run("percentage without cap", func(t *testing.T) {
		coupon := activeCoupon()
		amount := svc.Discount(coupon, decimal.NewFromInt(250), nil)
		if amount.String() != "25" {
			t.Fatalf("discount = %s, want 25", amount)
		}
	})

	t.Run("fixed capped at order total", func(t *testing.T) {
		coupon := activeCoupon()
		coupon.DiscountType = domain.CouponTypeFixed
		coupon.DiscountValue = decimal.NewFromInt(50)
		amount := svc.Discount(coupon, decimal.NewFromInt(30), nil)
		if amount.String() != "30" {
			t.Fatalf("discount = %s, want 30", amount)
		}
	})

	t.Run("free shipping discounts nothing", func(t *testing.T) {
		coupon := activeCoupon()
		coupon.DiscountType = domain.CouponTypeFreeShipping
		amount := svc.Discount(coupon, decimal.NewFromInt(100), nil)
		if !amount.IsZero() {
			t.Fatalf("discount = %s, want 0", amount)
		}
	})
}

func TestCouponService_CanApplyToLines(t *testing.T) {
	svc := newCouponServiceForTest(t, &stubCouponRepository{}, &stubCouponUsageRepository{}, newStubOrderRepository())

	lines := []domain.CartLine{
		{ProductID: "prod_1", CategoryID: "cat_1"},
		{ProductID: "prod_2", CategoryID: "cat_2"},
	}

	unrestricted := activeCoupon()
	if !svc.CanApplyToLines(unrestricted, lines) {
		t.Fatalf("unrestricted coupon should apply")
	}

	restricted := activeCoupon()
	restricted.AllowedProductIDs = []string{"prod_2"}
	if !svc.CanApplyToLines(restricted, lines) {
		t.Fatalf("coupon allowing prod_2 should apply")
	}

	restricted.AllowedProductIDs = []string{"prod_9"}
	if svc.CanApplyToLines(restricted, lines) {
		t.Fatalf("coupon restricted to absent products should not apply")
	}

	byCategory := activeCoupon()
	byCategory.AllowedCategoryIDs = []string{"cat_2"}
	if !svc.CanApplyToLines(byCategory, lines) {
		t.Fatalf("coupon allowing cat_2 should apply")
	}
}

func TestCouponService_Apply(t *testing.T) {
	t.Run("records usage and bumps counter", func(t *testing.T) {
		coupons := &stubCouponRepository{coupon: activeCoupon()}
		usages := &stubCouponUsageRepository{}
		svc := newCouponServiceForTest(t, coupons, usages, newStubOrderRepository())

		coupon, err := svc.Apply(context.Background(), ApplyCouponCommand{
			CouponID:       "coupon_1",
			UserID:         "buyer_1",
			OrderID:        "order_1",
			DiscountAmount: decimal.NewFromInt(12),
		})
		if err != nil {
			t.Fatalf("Apply returned error: %v", err)
		}
		if coupon.CurrentUses != 1 {
			t.Fatalf("current uses = %d, want 1", coupon.CurrentUses)
		}
		if len(usages.usages) != 1 {
			t.Fatalf("usage entries = %d, want 1", len(usages.usages))
		}
		usage := usages.usages[0]
		if usage.CouponID != "coupon_1" || usage.OrderID != "order_1" || usage.UserID != "buyer_1" {
			t.Fatalf("unexpected usage entry: %+v", usage)
		}
		if usage.DiscountAmount.String() != "12" {
			t.Fatalf("usage amount = %s, want 12", usage.DiscountAmount)
		}
	})

	t.Run("exhausted coupon maps conflict", func(t *testing.T) {
		exhausted := activeCoupon()
		exhausted.MaxUses = intPtr(1)
		exhausted.CurrentUses = 1
		svc := newCouponServiceForTest(t, &stubCouponRepository{coupon: exhausted}, &stubCouponUsageRepository{}, newStubOrderRepository())

		if _, err := svc.Apply(context.Background(), ApplyCouponCommand{CouponID: "coupon_1"}); !errors.Is(err, ErrCouponExhausted) {
			t.Fatalf("err = %v, want ErrCouponExhausted", err)
		}
	})

	t.Run("unknown coupon maps not found", func(t *testing.T) {
		svc := newCouponServiceForTest(t, &stubCouponRepository{incrementErr: &stubRepoError{notFound: true}}, &stubCouponUsageRepository{}, newStubOrderRepository())

		if _, err := svc.Apply(context.Background(), ApplyCouponCommand{CouponID: "missing"}); !errors.Is(err, ErrCouponNotFound) {
			t.Fatalf("err = %v, want ErrCouponNotFound", err)
		}
	})
}

// lockedCouponRepository mirrors the row-locked check-then-increment contract
// of the postgres repository: the max_uses re-check and the bump happen under
// one lock, so a loser of the race gets a conflict instead of an over-spend.
type lockedCouponRepository struct {
	mu     sync.Mutex
	coupon domain.Coupon
}

func (r *lockedCouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coupon.Code != code {
		return domain.Coupon{}, &stubRepoError{notFound: true}
	}
	return r.coupon, nil
}

func (r *lockedCouponRepository) IncrementUses(_ context.Context, couponID string, _ time.Time) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coupon.ID != couponID {
		return domain.Coupon{}, &stubRepoError{notFound: true}
	}
	if r.coupon.MaxUses != nil && r.coupon.CurrentUses >= *r.coupon.MaxUses {
		return domain.Coupon{}, &stubRepoError{conflict: true}
	}
	r.coupon.CurrentUses++
	return r.coupon, nil
}

type lockedUsageRepository struct {
	mu     sync.Mutex
	usages []domain.CouponUsage
}

func (r *lockedUsageRepository) Append(_ context.Context, usage domain.CouponUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usages = append(r.usages, usage)
	return nil
}

func (r *lockedUsageRepository) CountByUser(context.Context, string, string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.usages)), nil
}

func TestCouponService_Apply_ConcurrentRedemptionsRespectMaxUses(t *testing.T) {
	const attempts = 16
	const maxUses = 5

	coupon := activeCoupon()
	coupon.MaxUses = intPtr(maxUses)
	coupons := &lockedCouponRepository{coupon: coupon}
	usages := &lockedUsageRepository{}

	var seq atomic.Int64
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: coupons,
		Usages:  usages,
		Orders:  newStubOrderRepository(),
		IDGen:   func() string { return "usage_" + strconv.FormatInt(seq.Add(1), 10) },
		Clock:   fixedClock(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewCouponService returned error: %v", err)
	}

	var wg sync.WaitGroup
	var applied, exhausted atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Apply(context.Background(), ApplyCouponCommand{
				CouponID:       "coupon_1",
				UserID:         "buyer_" + strconv.Itoa(n),
				OrderID:        "order_" + strconv.Itoa(n),
				DiscountAmount: decimal.NewFromInt(5),
			})
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, ErrCouponExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("Apply returned unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if coupons.coupon.CurrentUses > maxUses {
		t.Fatalf("current uses = %d, exceeds max %d", coupons.coupon.CurrentUses, maxUses)
	}
	if got := applied.Load(); got != maxUses {
		t.Fatalf("successful applies = %d, want %d", got, maxUses)
	}
	if got := exhausted.Load(); got != attempts-maxUses {
		t.Fatalf("exhausted rejections = %d, want %d", got, attempts-maxUses)
	}
	if len(usages.usages) != maxUses {
		t.Fatalf("usage entries = %d, want %d", len(usages.usages), maxUses)
	}
}
