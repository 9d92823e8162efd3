package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

const defaultRedemptionPointsCost = 100

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates the cart holds no lines.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutCartNotFound indicates the cart could not be located.
	ErrCheckoutCartNotFound = errors.New("checkout: cart not found")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts                repositories.CartRepository
	Orders               repositories.OrderRepository
	OrderSplitter        OrderService
	Inventory            InventoryService
	Coupons              CouponService
	Pricing              PricingEngine
	Payments             PaymentService
	Invoices             InvoiceService
	Shipments            ShipmentService
	Loyalty              LoyaltyService
	UnitOfWork           repositories.UnitOfWork
	Notifier             Notifier
	RedemptionPointsCost int
	Clock                func() time.Time
	IDGenerator          func() string
	Logger               func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts          repositories.CartRepository
	orders         repositories.OrderRepository
	splitter       OrderService
	inventory      InventoryService
	coupons        CouponService
	pricing        PricingEngine
	payments       PaymentService
	invoices       InvoiceService
	shipments      ShipmentService
	loyalty        LoyaltyService
	unitOfWork     repositories.UnitOfWork
	notifier       Notifier
	redemptionCost int
	clock          func() time.Time
	newID          func() string
	logger         func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.OrderSplitter == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("checkout service: inventory service is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment service is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("checkout service: invoice service is required")
	}
	if deps.Shipments == nil {
		return nil, errors.New("checkout service: shipment service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	cost := deps.RedemptionPointsCost
	if cost <= 0 {
		cost = defaultRedemptionPointsCost
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:          deps.Carts,
		orders:         deps.Orders,
		splitter:       deps.OrderSplitter,
		inventory:      deps.Inventory,
		coupons:        deps.Coupons,
		pricing:        deps.Pricing,
		payments:       deps.Payments,
		invoices:       deps.Invoices,
		shipments:      deps.Shipments,
		loyalty:        deps.Loyalty,
		unitOfWork:     unit,
		notifier:       deps.Notifier,
		redemptionCost: cost,
		clock:          func() time.Time { return clock().UTC() },
		newID:          idGen,
		logger:         logger,
	}, nil
}

// Checkout turns the cart into one order per seller inside a single unit of
// work: stock decrements, order rows, coupon usage, pending transactions,
// unpaid invoices, and initial tracking all commit together or not at all.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: cart id is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Line1) == "" || strings.TrimSpace(cmd.ShippingAddress.Country) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: shipping address is incomplete", ErrCheckoutInvalidInput)
	}
	if !isSupportedMethod(cmd.PaymentMethod) {
		return CheckoutResult{}, fmt.Errorf("%w: %q", ErrPaymentMethodUnsupported, cmd.PaymentMethod)
	}

	cart, err := s.carts.FindByID(ctx, cartID)
	if err != nil {
		return CheckoutResult{}, s.translateCartError(err)
	}
	if len(cart.Lines) == 0 {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	buyerID := strings.TrimSpace(cmd.BuyerID)
	now := s.clock()

	// The coupon is resolved and validated once per checkout. Whether it
	// applies to a particular seller-order is decided per group below.
	var coupon *Coupon
	if cmd.CouponCode != nil && strings.TrimSpace(*cmd.CouponCode) != "" {
		resolved, err := s.coupons.Resolve(ctx, *cmd.CouponCode)
		if err != nil {
			return CheckoutResult{}, err
		}
		validation := s.coupons.Validate(ctx, resolved, buyerID, now)
		if !validation.OK {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCouponNotEligible, validation.Reason)
		}
		coupon = &resolved
	}

	groups := s.splitter.SplitCart(cart)

	var orders []Order
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		pointsUsed := 0
		if cmd.UseRewardPoints {
			if s.loyalty == nil {
				return fmt.Errorf("%w: loyalty program unavailable", ErrCheckoutInvalidInput)
			}
			if _, err := s.loyalty.Redeem(txCtx, RedeemPointsCommand{BuyerID: buyerID, Points: s.redemptionCost}); err != nil {
				return err
			}
			pointsUsed = s.redemptionCost
		}

		totalDiscount := decimal.Zero
		couponHonoured := false
		orders = orders[:0]
		for _, group := range groups {
			order, err := s.buildSellerOrder(txCtx, buildSellerOrderInput{
				group:         group,
				buyerID:       buyerID,
				currency:      cart.Currency,
				address:       cmd.ShippingAddress,
				method:        cmd.PaymentMethod,
				coupon:        coupon,
				usingLoyalty:  cmd.UseRewardPoints,
				pointsUsed:    pointsUsed,
				customerNotes: cmd.CustomerNotes,
				now:           now,
			})
			if err != nil {
				return err
			}
			totalDiscount = totalDiscount.Add(order.Discount)
			if order.AppliedCouponCode != nil {
				couponHonoured = true
			}
			orders = append(orders, order)
			// Redemption points are attributed to the first seller-order only.
			pointsUsed = 0
		}

		// Usage counters move once per checkout regardless of how many
		// seller-orders the cart split into. The gate is whether any
		// seller-order honoured the coupon: a free-shipping redemption
		// carries a zero discount amount but still spends a use.
		if coupon != nil && couponHonoured {
			if _, err := s.coupons.Apply(txCtx, ApplyCouponCommand{
				CouponID:       coupon.ID,
				UserID:         buyerID,
				OrderID:        orders[0].ID,
				DiscountAmount: totalDiscount,
			}); err != nil {
				return err
			}
		}

		return s.carts.Clear(txCtx, cart.ID)
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"cart_id": cart.ID,
		"orders":  len(orders),
	})

	if s.notifier != nil {
		for _, order := range orders {
			s.notifier.OrderConfirmed(ctx, order)
			s.notifier.SellerNewOrder(ctx, order, order.SellerID)
		}
	}

	return CheckoutResult{Orders: orders}, nil
}

type buildSellerOrderInput struct {
	group         SellerGroup
	buyerID       string
	currency      string
	address       Address
	method        PaymentMethod
	coupon        *Coupon
	usingLoyalty  bool
	pointsUsed    int
	customerNotes string
	now           time.Time
}

// buildSellerOrder reserves stock, prices, and persists one seller-order with
// its pending transaction, unpaid invoice, and initial tracking record.
func (s *checkoutService) buildSellerOrder(ctx context.Context, in buildSellerOrderInput) (Order, error) {
	stockLines := make([]StockLine, 0, len(in.group.Lines))
	for _, line := range in.group.Lines {
		stockLines = append(stockLines, StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if err := s.inventory.Reserve(ctx, StockAdjustmentCommand{Lines: stockLines}); err != nil {
		return Order{}, err
	}

	subtotal := in.group.Subtotal()

	// The coupon counts against this seller-order only when its allow-lists
	// intersect the group and the group subtotal clears the minimum.
	discount := decimal.Zero
	var appliedCode *string
	if in.coupon != nil &&
		s.coupons.CanApplyToLines(*in.coupon, in.group.Lines) &&
		subtotal.GreaterThanOrEqual(in.coupon.MinOrderValue) {
		discount = s.coupons.Discount(*in.coupon, subtotal, in.group.Lines)
		if discount.IsPositive() || in.coupon.DiscountType == domain.CouponTypeFreeShipping {
			appliedCode = valuePtr(in.coupon.Code)
		}
	}

	shipping := s.pricing.ShippingFee(in.group.Lines, in.coupon, in.usingLoyalty)
	breakdown := s.pricing.Totals(subtotal, shipping, discount)

	currency := strings.TrimSpace(in.currency)
	if currency == "" {
		currency = "USD"
	}

	orderID := orderIDPrefix + s.newID()
	order := domain.Order{
		ID:                orderID,
		OrderNumber:       newOrderNumber(in.now),
		SellerID:          in.group.SellerID,
		Currency:          currency,
		Status:            domain.OrderStatusPendingPayment,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethod:     in.method,
		Subtotal:          breakdown.Subtotal,
		Discount:          breakdown.Discount,
		Shipping:          breakdown.Shipping,
		Tax:               breakdown.Tax,
		Total:             breakdown.Total,
		ShippingAddress:   in.address,
		AppliedCouponCode: appliedCode,
		RewardPointsUsed:  in.pointsUsed,
		CustomerNotes:     strings.TrimSpace(in.customerNotes),
		CreatedAt:         in.now,
		UpdatedAt:         in.now,
	}
	if in.buyerID != "" {
		order.BuyerID = valuePtr(in.buyerID)
	}

	order.Items = make([]domain.OrderItem, 0, len(in.group.Lines))
	for _, line := range in.group.Lines {
		order.Items = append(order.Items, domain.OrderItem{
			ID:          orderItemIDPrefix + s.newID(),
			OrderID:     orderID,
			ProductID:   valuePtr(line.ProductID),
			SellerID:    valuePtr(in.group.SellerID),
			ProductName: line.ProductName,
			SKU:         line.SKU,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			LineTotal:   domain.Round2(line.LineSubtotal()),
			Status:      domain.OrderItemStatusPending,
			CreatedAt:   in.now,
			UpdatedAt:   in.now,
		})
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.translateOrderError(err)
	}

	if _, err := s.payments.Open(ctx, OpenTransactionCommand{
		OrderID: orderID,
		Method:  in.method,
		Amount:  order.Total,
	}); err != nil {
		return Order{}, err
	}

	if _, _, err := s.invoices.Upsert(ctx, UpsertInvoiceCommand{OrderID: orderID}); err != nil {
		return Order{}, err
	}

	if _, err := s.shipments.Init(ctx, InitShipmentCommand{
		OrderID:     orderID,
		OrderNumber: order.OrderNumber,
	}); err != nil {
		return Order{}, err
	}

	return order, nil
}

func (s *checkoutService) translateCartError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrCheckoutCartNotFound, err)
	}
	return err
}

func (s *checkoutService) translateOrderError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("checkout: repository unavailable: %w", err)
		}
	}
	return err
}
