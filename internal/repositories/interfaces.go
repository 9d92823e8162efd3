package repositories

import (
	"context"
	"time"

	domain "github.com/shophub/marketplace/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	CouponUsages() CouponUsageRepository
	Payments() PaymentRepository
	Invoices() InvoiceRepository
	Shipments() ShipmentRepository
	RewardAccounts() RewardAccountRepository
	PointsLedger() PointsLedgerRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart header + line persistence.
type CartRepository interface {
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	FindByBuyer(ctx context.Context, buyerID string) (domain.Cart, error)
	Clear(ctx context.Context, cartID string) error
}

// ProductRepository reads the catalog slice the checkout core needs and owns
// the stock counters. Adjustments must be guarded at the storage layer, never
// read-modify-write in the application.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// AdjustStock applies the signed delta with a row lock, failing with a
	// conflict error when the resulting stock would go negative.
	AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error)
}

// OrderRepository persists order headers plus their items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	UpdateItemStatus(ctx context.Context, orderID string, itemID string, status domain.OrderItemStatus, now time.Time) (domain.OrderItem, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	CountByBuyer(ctx context.Context, buyerID string) (int64, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// CouponRepository maintains coupon definitions and the usage counter.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// IncrementUses bumps current_uses under a row lock, failing with a
	// conflict error when max_uses is already reached.
	IncrementUses(ctx context.Context, couponID string, now time.Time) (domain.Coupon, error)
}

// CouponUsageRepository records the append-only redemption ledger backing
// per-user cap enforcement.
type CouponUsageRepository interface {
	Append(ctx context.Context, usage domain.CouponUsage) error
	CountByUser(ctx context.Context, couponID string, userID string) (int64, error)
}

// PaymentRepository stores payment transactions underneath an order.
type PaymentRepository interface {
	Insert(ctx context.Context, txn domain.PaymentTransaction) error
	Update(ctx context.Context, txn domain.PaymentTransaction) error
	FindByID(ctx context.Context, txnID string) (domain.PaymentTransaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error)
}

// InvoiceRepository stores the 1:1 billing document per order.
type InvoiceRepository interface {
	Upsert(ctx context.Context, invoice domain.Invoice) (domain.Invoice, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error)
}

// ShipmentRepository stores tracking state and its append-only history.
type ShipmentRepository interface {
	Insert(ctx context.Context, shipment domain.ShipmentTracking) error
	Update(ctx context.Context, shipment domain.ShipmentTracking) error
	FindByOrder(ctx context.Context, orderID string) (domain.ShipmentTracking, error)
}

// RewardAccountRepository stores the cached loyalty balance per buyer.
type RewardAccountRepository interface {
	FindByBuyer(ctx context.Context, buyerID string) (domain.RewardAccount, error)
	Upsert(ctx context.Context, account domain.RewardAccount) (domain.RewardAccount, error)
}

// PointsLedgerRepository is the append-only points journal.
type PointsLedgerRepository interface {
	Append(ctx context.Context, txn domain.PointsTransaction) error
	FindByOrder(ctx context.Context, accountID string, orderID string, txnType domain.PointsTransactionType) (domain.PointsTransaction, error)
	ListByAccount(ctx context.Context, accountID string, pager domain.Pagination) ([]domain.PointsTransaction, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	BuyerID    string
	SellerID   string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
