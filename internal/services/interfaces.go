package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination            = domain.Pagination
	SortOrder             = domain.SortOrder
	Address               = domain.Address
	Cart                  = domain.Cart
	CartLine              = domain.CartLine
	SellerGroup           = domain.SellerGroup
	PricingBreakdown      = domain.PricingBreakdown
	Order                 = domain.Order
	OrderItem             = domain.OrderItem
	OrderStatus           = domain.OrderStatus
	OrderItemStatus       = domain.OrderItemStatus
	PaymentStatus         = domain.PaymentStatus
	PaymentMethod         = domain.PaymentMethod
	PaymentTransaction    = domain.PaymentTransaction
	TransactionStatus     = domain.TransactionStatus
	Invoice               = domain.Invoice
	ShipmentTracking      = domain.ShipmentTracking
	ShipmentStage         = domain.ShipmentStage
	ShipmentEvent         = domain.ShipmentEvent
	Coupon                = domain.Coupon
	CouponType            = domain.CouponType
	CouponUsage           = domain.CouponUsage
	Product               = domain.Product
	RewardAccount         = domain.RewardAccount
	PointsTransaction     = domain.PointsTransaction
	PointsTransactionType = domain.PointsTransactionType
	LoyaltyTier           = domain.LoyaltyTier
	DomainEvent           = domain.DomainEvent
	SystemHealthReport    = domain.SystemHealthReport
)

// PricingEngine computes shipping, tax, and combined totals for one
// seller-order. Pure with respect to its inputs.
type PricingEngine interface {
	ShippingFee(lines []CartLine, coupon *Coupon, usingLoyaltyRedemption bool) decimal.Decimal
	Tax(amountAfterDiscount, shipping decimal.Decimal) decimal.Decimal
	Totals(subtotal, shipping, discount decimal.Decimal) PricingBreakdown
}

// CouponService validates, prices, and redeems discount codes.
type CouponService interface {
	Resolve(ctx context.Context, code string) (Coupon, error)
	Validate(ctx context.Context, coupon Coupon, userID string, now time.Time) CouponValidation
	CanApplyToLines(coupon Coupon, lines []CartLine) bool
	Discount(coupon Coupon, orderTotal decimal.Decimal, lines []CartLine) decimal.Decimal
	Apply(ctx context.Context, cmd ApplyCouponCommand) (Coupon, error)
}

// CouponValidation is the outcome of eligibility checks, carrying the
// user-facing rejection reason when not OK.
type CouponValidation struct {
	OK     bool
	Reason string
}

// ApplyCouponCommand records one redemption against a coupon.
type ApplyCouponCommand struct {
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
}

// InventoryService enforces stock sufficiency with atomic adjustments.
type InventoryService interface {
	Reserve(ctx context.Context, cmd StockAdjustmentCommand) error
	Release(ctx context.Context, cmd StockAdjustmentCommand) error
}

// StockAdjustmentCommand carries the per-product quantities of one adjustment.
type StockAdjustmentCommand struct {
	Lines []StockLine
}

// StockLine pairs a product with a quantity.
type StockLine struct {
	ProductID string
	Quantity  int
}

// OrderService owns order creation from seller groups, the order state
// machine, and per-item status updates.
type OrderService interface {
	SplitCart(cart Cart) []SellerGroup
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	Transition(ctx context.Context, cmd OrderTransitionCommand) (OrderTransitionResult, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (OrderTransitionResult, error)
	RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error)
	UpdateItemStatus(ctx context.Context, cmd UpdateItemStatusCommand) (OrderItem, error)
}

// OrderTransitionCommand moves an order to its next lifecycle state.
type OrderTransitionCommand struct {
	OrderID string
	Next    OrderStatus
	Actor   string
	Note    string
}

// OrderTransitionResult returns the updated order plus the domain events the
// caller must forward to the loyalty reconciler and notifier.
type OrderTransitionResult struct {
	Order  Order
	Events []DomainEvent
}

// CancelOrderCommand cancels a non-terminal order and restores stock.
type CancelOrderCommand struct {
	OrderID string
	Actor   string
	Reason  string
}

// RequestRefundCommand flags a delivered order for return. No money moves.
type RequestRefundCommand struct {
	OrderID string
	BuyerID string
	Amount  decimal.Decimal
	Reason  string
}

// UpdateItemStatusCommand updates one line's fulfillment state on behalf of
// its seller.
type UpdateItemStatusCommand struct {
	OrderID  string
	ItemID   string
	SellerID string
	Status   OrderItemStatus
}

// OrderListFilter narrows order listings for buyer and seller views.
type OrderListFilter struct {
	BuyerID    string
	SellerID   string
	Status     []OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// PaymentService manages payment transactions and keeps the order's payment
// state synchronized.
type PaymentService interface {
	Open(ctx context.Context, cmd OpenTransactionCommand) (PaymentTransaction, error)
	SelectMethod(ctx context.Context, cmd SelectPaymentMethodCommand) (PaymentTransaction, error)
	Approve(ctx context.Context, cmd ApprovePaymentCommand) (PaymentApprovalResult, error)
	Refund(ctx context.Context, cmd RefundPaymentCommand) (PaymentRefundResult, error)
	ListByOrder(ctx context.Context, orderID string) ([]PaymentTransaction, error)
}

// OpenTransactionCommand creates a pending transaction for an order.
type OpenTransactionCommand struct {
	OrderID string
	Method  PaymentMethod
	Amount  decimal.Decimal
}

// SelectPaymentMethodCommand records the buyer's settlement choice and opens
// the pending transaction when none exists.
type SelectPaymentMethodCommand struct {
	OrderID string
	BuyerID string
	Method  PaymentMethod
}

// ApprovePaymentCommand settles the order's pending transaction.
type ApprovePaymentCommand struct {
	OrderID string
	Actor   string
}

// PaymentApprovalResult carries the settled transaction, refreshed order and
// invoice, and the events to forward.
type PaymentApprovalResult struct {
	Transaction PaymentTransaction
	Order       Order
	Invoice     Invoice
	Artifact    []byte
	Events      []DomainEvent
	// AlreadyCompleted reports an idempotent re-approval that changed nothing.
	AlreadyCompleted bool
}

// RefundPaymentCommand reverses a completed transaction.
type RefundPaymentCommand struct {
	OrderID string
	Actor   string
}

// PaymentRefundResult carries the reversed transaction and refreshed state.
type PaymentRefundResult struct {
	Transaction PaymentTransaction
	Order       Order
	Invoice     Invoice
	Events      []DomainEvent
}

// ShipmentService advances the six-stage delivery pipeline and keeps
// Order.Status synchronized with the tracking stage.
type ShipmentService interface {
	Init(ctx context.Context, cmd InitShipmentCommand) (ShipmentTracking, error)
	GetByOrder(ctx context.Context, orderID string) (ShipmentTracking, error)
	Advance(ctx context.Context, cmd AdvanceShipmentCommand) (ShipmentAdvanceResult, error)
	Override(ctx context.Context, cmd AdvanceShipmentCommand) (ShipmentAdvanceResult, error)
}

// InitShipmentCommand creates tracking in the ordered stage at checkout.
type InitShipmentCommand struct {
	OrderID     string
	OrderNumber string
	CourierName string
}

// AdvanceShipmentCommand moves tracking to the next pipeline stage.
type AdvanceShipmentCommand struct {
	OrderID  string
	Next     ShipmentStage
	Location string
	Notes    string
	Actor    string
}

// ShipmentAdvanceResult returns updated tracking, the synchronized order, and
// the events to forward.
type ShipmentAdvanceResult struct {
	Shipment ShipmentTracking
	Order    Order
	Events   []DomainEvent
}

// InvoiceRenderer turns an invoice and its order into a binary document.
// Rendering is a pure function of its inputs.
type InvoiceRenderer interface {
	Render(invoice Invoice, order Order) ([]byte, error)
}

// InvoiceService derives the billing document from an order's current totals.
// Upsert is idempotent per order.
type InvoiceService interface {
	Upsert(ctx context.Context, cmd UpsertInvoiceCommand) (Invoice, []byte, error)
	GetByOrder(ctx context.Context, orderID string) (Invoice, error)
	Download(ctx context.Context, orderID string) ([]byte, error)
}

// UpsertInvoiceCommand creates or refreshes the order's invoice.
type UpsertInvoiceCommand struct {
	OrderID  string
	MarkPaid bool
}

// LoyaltyService reconciles the points ledger against order lifecycle events,
// exactly once per order in each direction.
type LoyaltyService interface {
	OnDelivered(ctx context.Context, order Order) (RewardAccount, error)
	OnReversal(ctx context.Context, order Order) (RewardAccount, error)
	Redeem(ctx context.Context, cmd RedeemPointsCommand) (RewardAccount, error)
	GetAccount(ctx context.Context, buyerID string) (RewardAccount, error)
	Ledger(ctx context.Context, buyerID string, pager Pagination) ([]PointsTransaction, error)
}

// RedeemPointsCommand spends points from a buyer's balance at checkout.
type RedeemPointsCommand struct {
	BuyerID string
	Points  int
	OrderID *string
}

// CheckoutService is the top-level use case turning a cart into per-seller
// orders atomically.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// CheckoutCommand carries everything a checkout needs. The coupon code is an
// explicit parameter, never ambient session state.
type CheckoutCommand struct {
	CartID          string
	BuyerID         string
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	CouponCode      *string
	UseRewardPoints bool
	CustomerNotes   string
}

// CheckoutResult reports the per-seller orders created by one checkout.
type CheckoutResult struct {
	Orders []Order
}

// Notifier requests outbound notifications. Implementations must be safe to
// fail without affecting the domain transaction.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order Order)
	SellerNewOrder(ctx context.Context, order Order, sellerID string)
	PaymentReceived(ctx context.Context, order Order, txn PaymentTransaction, invoiceArtifact []byte)
	ShipmentDispatched(ctx context.Context, order Order, shipment ShipmentTracking)
	OutForDelivery(ctx context.Context, order Order, shipment ShipmentTracking)
	Delivered(ctx context.Context, order Order, shipment ShipmentTracking, invoiceArtifact []byte)
	Refunded(ctx context.Context, order Order, txn PaymentTransaction)
}

// SystemService surfaces operational health information.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}
