package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Address is a structured shipping address. Orders keep a value snapshot of
// the checkout address so later edits or deletions never rewrite history.
type Address struct {
	RecipientName string
	Line1         string
	Line2         string
	City          string
	Region        string
	PostalCode    string
	Country       string
	Phone         string
}

// Cart aggregates the mutable pre-order state for a buyer or anonymous session.
type Cart struct {
	ID        string
	BuyerID   string
	SessionID string
	Currency  string
	Lines     []CartLine
	UpdatedAt time.Time
}

// CartLine stores a single product entry within a cart. Unit price, sale
// percentage and best-seller flag are captured at add time.
type CartLine struct {
	ID             string
	ProductID      string
	SellerID       string
	CategoryID     string
	ProductName    string
	SKU            string
	Quantity       int
	UnitPrice      decimal.Decimal
	SalePercentage decimal.Decimal
	BestSeller     bool
}

// LineSubtotal returns unit price times quantity for one line.
func (l CartLine) LineSubtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderStatus describes the aggregate lifecycle of a seller-order.
type OrderStatus string

const (
	// OrderStatusCreated is the nominal initial state before checkout completes.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPaid indicates payment completed and fulfillment may begin.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing indicates the seller is preparing the order.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the shipment left the seller.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusOutForDelivery indicates the courier is delivering.
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	// OrderStatusDelivered is the happy-path terminal state.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is reachable from any non-terminal state.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusReturnRequested indicates the buyer asked to return a delivered order.
	OrderStatusReturnRequested OrderStatus = "RETURN_REQUESTED"
	// OrderStatusReturned indicates the return completed and money moved back.
	OrderStatusReturned OrderStatus = "RETURNED"
)

// PaymentStatus mirrors the payment side of an order independent of fulfillment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no completed transaction exists yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates a transaction was approved.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the last transaction attempt failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the completed transaction was refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod enumerates the supported settlement channels.
type PaymentMethod string

const (
	// PaymentMethodCard is the simulated card flow settled by seller approval.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCashOnDelivery keeps payment pending until delivery.
	PaymentMethodCashOnDelivery PaymentMethod = "cod"
)

// Order is one seller-scoped order produced by splitting a cart. All money
// fields are fixed-point decimals quantized to two places.
type Order struct {
	ID                string
	OrderNumber       string
	BuyerID           *string
	SellerID          string
	Currency          string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	PaymentMethod     PaymentMethod
	Subtotal          decimal.Decimal
	Discount          decimal.Decimal
	Shipping          decimal.Decimal
	Tax               decimal.Decimal
	Total             decimal.Decimal
	ShippingAddress   Address
	AppliedCouponCode *string
	RewardPointsUsed  int
	PointsEarned      int
	CustomerNotes     string
	AdminNotes        string
	Items             []OrderItem
	PaidAt            *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItemStatus tracks per-line fulfillment independent of the order aggregate.
type OrderItemStatus string

const (
	// OrderItemStatusPending is the initial item state.
	OrderItemStatusPending OrderItemStatus = "pending"
	// OrderItemStatusProcessing indicates the seller started preparing the item.
	OrderItemStatusProcessing OrderItemStatus = "processing"
	// OrderItemStatusShipped indicates the item left with a shipment.
	OrderItemStatusShipped OrderItemStatus = "shipped"
	// OrderItemStatusDelivered indicates the item reached the buyer.
	OrderItemStatusDelivered OrderItemStatus = "delivered"
	// OrderItemStatusCancelled indicates the item was withdrawn.
	OrderItemStatusCancelled OrderItemStatus = "cancelled"
)

// OrderItem snapshots one purchased line. Product and seller references are
// nullable after deletion; the snapshotted name, SKU and unit price preserve
// historical correctness. Quantity is immutable after creation.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   *string
	SellerID    *string
	ProductName string
	SKU         string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
	Status      OrderItemStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransactionStatus describes a payment transaction's lifecycle.
type TransactionStatus string

const (
	// TransactionStatusPending is the state at open time.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusCompleted indicates an approved settlement.
	TransactionStatusCompleted TransactionStatus = "completed"
	// TransactionStatusFailed indicates a declined settlement attempt.
	TransactionStatusFailed TransactionStatus = "failed"
	// TransactionStatusRefunded indicates a completed settlement was reversed.
	TransactionStatusRefunded TransactionStatus = "refunded"
)

// PaymentTransaction records one settlement attempt against an order. Fee
// fields are derived once when the transaction completes and never recomputed.
type PaymentTransaction struct {
	ID                string
	TransactionNumber string
	OrderID           string
	Method            PaymentMethod
	Amount            decimal.Decimal
	Currency          string
	Status            TransactionStatus
	GatewayMetadata   map[string]any
	PlatformFee       decimal.Decimal
	ProcessingFee     decimal.Decimal
	NetAmount         decimal.Decimal
	RefundAmount      decimal.Decimal
	CompletedAt       *time.Time
	RefundedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Invoice is the 1:1 billing document derived from an order's totals. It holds
// its own copies of the amounts so it renders the truth captured at
// generation time; regeneration is the only legal way to change them.
type Invoice struct {
	ID            string
	InvoiceNumber string
	OrderID       string
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Shipping      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	IsPaid        bool
	PaidAt        *time.Time
	ArtifactRef   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShipmentStage enumerates the six ordered delivery pipeline stages.
type ShipmentStage string

const (
	// ShipmentStageOrdered is the initial stage set at checkout.
	ShipmentStageOrdered ShipmentStage = "ordered"
	// ShipmentStageConfirmed indicates the seller confirmed the order.
	ShipmentStageConfirmed ShipmentStage = "confirmed"
	// ShipmentStageOnPack indicates packing is in progress.
	ShipmentStageOnPack ShipmentStage = "on_pack"
	// ShipmentStageDispatched indicates the parcel was handed to the courier.
	ShipmentStageDispatched ShipmentStage = "dispatched"
	// ShipmentStageOutToDelivery indicates the courier is en route to the buyer.
	ShipmentStageOutToDelivery ShipmentStage = "out_to_delivery"
	// ShipmentStageDelivered is the terminal stage.
	ShipmentStageDelivered ShipmentStage = "delivered"
)

// ShipmentEvent is one append-only history entry recorded by the canonical
// advance operation.
type ShipmentEvent struct {
	Status    ShipmentStage `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Location  string        `json:"location,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	Actor     string        `json:"updated_by,omitempty"`
}

// ShipmentTracking tracks one order through the delivery pipeline. The
// CurrentStatus always equals the status of the most recent history entry.
type ShipmentTracking struct {
	ID                string
	OrderID           string
	CourierName       string
	TrackingNumber    string
	CurrentStatus     ShipmentStage
	History           []ShipmentEvent
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CouponType enumerates the supported discount mechanics.
type CouponType string

const (
	// CouponTypePercentage discounts a percentage of the order subtotal.
	CouponTypePercentage CouponType = "percentage"
	// CouponTypeFixed discounts a flat amount capped at the subtotal.
	CouponTypeFixed CouponType = "fixed"
	// CouponTypeFreeShipping waives the shipping fee instead of discounting.
	CouponTypeFreeShipping CouponType = "free_shipping"
)

// Coupon is a global discount code with eligibility rules and usage caps.
type Coupon struct {
	ID                 string
	Code               string
	DiscountType       CouponType
	DiscountValue      decimal.Decimal
	MaxDiscountAmount  *decimal.Decimal
	MinOrderValue      decimal.Decimal
	AllowedProductIDs  []string
	AllowedCategoryIDs []string
	MaxUses            *int
	MaxUsesPerUser     *int
	ValidFrom          time.Time
	ValidTo            time.Time
	FirstOrderOnly     bool
	AllowedUserIDs     []string
	Active             bool
	CurrentUses        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CouponUsage is the append-only ledger entry backing per-user cap
// enforcement and idempotent re-checks.
type CouponUsage struct {
	ID             string
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// LoyaltyTier is a program rank derived from lifetime points earned.
type LoyaltyTier string

const (
	// TierBronze is the entry tier.
	TierBronze LoyaltyTier = "bronze"
	// TierSilver starts at 2000 lifetime points.
	TierSilver LoyaltyTier = "silver"
	// TierGold starts at 5000 lifetime points.
	TierGold LoyaltyTier = "gold"
	// TierPlatinum starts at 10000 lifetime points.
	TierPlatinum LoyaltyTier = "platinum"
)

// RewardAccount is the running loyalty balance per buyer. The balance is the
// cached sum of the points journal.
type RewardAccount struct {
	ID             string
	BuyerID        string
	Balance        int
	LifetimeEarned int
	Tier           LoyaltyTier
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PointsTransactionType enumerates journal entry kinds.
type PointsTransactionType string

const (
	// PointsEarned credits points after a delivered order.
	PointsEarned PointsTransactionType = "earned"
	// PointsRedeemed debits points spent at checkout.
	PointsRedeemed PointsTransactionType = "redeemed"
	// PointsAdjustment reverses earned points after cancellation or return.
	PointsAdjustment PointsTransactionType = "adjustment"
)

// PointsTransaction is one append-only journal entry. Points carries the sign
// of the movement and BalanceAfter the resulting account balance.
type PointsTransaction struct {
	ID           string
	AccountID    string
	OrderID      *string
	Type         PointsTransactionType
	Points       int
	BalanceAfter int
	CreatedAt    time.Time
}

// Product is the slice of the catalog the checkout core reads and writes:
// live stock, current price and the flags feeding shipping waivers.
type Product struct {
	ID             string
	SellerID       string
	CategoryID     string
	Name           string
	SKU            string
	Price          decimal.Decimal
	Stock          int
	SalePercentage decimal.Decimal
	BestSeller     bool
	UpdatedAt      time.Time
}

// DomainEvent names a state change surfaced by transition operations for the
// orchestrator to forward to the loyalty reconciler and notifier.
type DomainEvent string

const (
	// EventOrderPlaced fires once per seller-order created by checkout.
	EventOrderPlaced DomainEvent = "order.placed"
	// EventOrderPaid fires when payment completes.
	EventOrderPaid DomainEvent = "order.paid"
	// EventOrderShipped fires when the shipment is dispatched.
	EventOrderShipped DomainEvent = "order.shipped"
	// EventOrderOutForDelivery fires when the courier is en route.
	EventOrderOutForDelivery DomainEvent = "order.out_for_delivery"
	// EventOrderDelivered fires when the order reaches the buyer.
	EventOrderDelivered DomainEvent = "order.delivered"
	// EventOrderCancelled fires when the order is cancelled.
	EventOrderCancelled DomainEvent = "order.cancelled"
	// EventOrderReturnRequested fires when the buyer requests a return.
	EventOrderReturnRequested DomainEvent = "order.return_requested"
	// EventOrderReturned fires when a return completes.
	EventOrderReturned DomainEvent = "order.returned"
	// EventPaymentRefunded fires when a completed transaction is reversed.
	EventPaymentRefunded DomainEvent = "payment.refunded"
)
