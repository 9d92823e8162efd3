package services

import (
	"context"
	"fmt"
	"time"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

// stubRepoError satisfies repositories.RepositoryError with fixed flags.
type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string {
	return fmt.Sprintf("stub repo error (notFound=%t conflict=%t unavailable=%t)", e.notFound, e.conflict, e.unavailable)
}

func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*stubRepoError)(nil)

// stubOrderRepository keeps orders in a map keyed by id.
type stubOrderRepository struct {
	orders     map[string]domain.Order
	buyerCount int64
	listResult []domain.Order
	lastFilter repositories.OrderListFilter

	insertErr error
	updateErr error
	findErr   error
	countErr  error

	inserted []domain.Order
	updated  []domain.Order
}

func newStubOrderRepository(orders ...domain.Order) *stubOrderRepository {
	repo := &stubOrderRepository{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *stubOrderRepository) Insert(_ context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.orders[order.ID] = order
	r.inserted = append(r.inserted, order)
	return nil
}

func (r *stubOrderRepository) Update(_ context.Context, order domain.Order) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.orders[order.ID] = order
	r.updated = append(r.updated, order)
	return nil
}

func (r *stubOrderRepository) UpdateItemStatus(_ context.Context, orderID, itemID string, status domain.OrderItemStatus, now time.Time) (domain.OrderItem, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.OrderItem{}, &stubRepoError{notFound: true}
	}
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			order.Items[i].Status = status
			order.Items[i].UpdatedAt = now
			r.orders[orderID] = order
			return order.Items[i], nil
		}
	}
	return domain.OrderItem{}, &stubRepoError{notFound: true}
}

func (r *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	if r.findErr != nil {
		return domain.Order{}, r.findErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, &stubRepoError{notFound: true}
	}
	return order, nil
}

func (r *stubOrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, &stubRepoError{notFound: true}
}

func (r *stubOrderRepository) CountByBuyer(context.Context, string) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.buyerCount, nil
}

func (r *stubOrderRepository) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	r.lastFilter = filter
	return r.listResult, nil
}

// stubProductRepository implements AdjustStock against an in-memory stock map.
type stubProductRepository struct {
	products    map[string]domain.Product
	adjustments []stockAdjustment
	adjustErr   error
}

type stockAdjustment struct {
	productID string
	delta     int
}

func newStubProductRepository(products ...domain.Product) *stubProductRepository {
	repo := &stubProductRepository{products: make(map[string]domain.Product)}
	for _, product := range products {
		repo.products[product.ID] = product
	}
	return repo
}

func (r *stubProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, &stubRepoError{notFound: true}
	}
	return product, nil
}

func (r *stubProductRepository) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (r *stubProductRepository) AdjustStock(_ context.Context, productID string, delta int) (domain.Product, error) {
	if r.adjustErr != nil {
		return domain.Product{}, r.adjustErr
	}
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, "no stock record for "+productID, nil)
	}
	if product.Stock+delta < 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInsufficient, "insufficient stock for "+productID, nil)
	}
	product.Stock += delta
	r.products[productID] = product
	r.adjustments = append(r.adjustments, stockAdjustment{productID: productID, delta: delta})
	return product, nil
}

// stubCouponRepository serves one coupon by code and counts increments.
type stubCouponRepository struct {
	coupon       domain.Coupon
	findErr      error
	incrementErr error
	increments   int
	lastCode     string
}

func (r *stubCouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.lastCode = code
	if r.findErr != nil {
		return domain.Coupon{}, r.findErr
	}
	return r.coupon, nil
}

func (r *stubCouponRepository) IncrementUses(_ context.Context, couponID string, _ time.Time) (domain.Coupon, error) {
	if r.incrementErr != nil {
		return domain.Coupon{}, r.incrementErr
	}
	if r.coupon.ID != couponID {
		return domain.Coupon{}, &stubRepoError{notFound: true}
	}
	if r.coupon.MaxUses != nil && r.coupon.CurrentUses >= *r.coupon.MaxUses {
		return domain.Coupon{}, &stubRepoError{conflict: true}
	}
	r.coupon.CurrentUses++
	r.increments++
	return r.coupon, nil
}

type stubCouponUsageRepository struct {
	usages    []domain.CouponUsage
	userCount int64
	countErr  error
	appendErr error
}

func (r *stubCouponUsageRepository) Append(_ context.Context, usage domain.CouponUsage) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.usages = append(r.usages, usage)
	return nil
}

func (r *stubCouponUsageRepository) CountByUser(context.Context, string, string) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.userCount, nil
}

// stubPaymentRepository stores transactions per order.
type stubPaymentRepository struct {
	txns      map[string][]domain.PaymentTransaction
	insertErr error
	updateErr error
}

func newStubPaymentRepository() *stubPaymentRepository {
	return &stubPaymentRepository{txns: make(map[string][]domain.PaymentTransaction)}
}

func (r *stubPaymentRepository) Insert(_ context.Context, txn domain.PaymentTransaction) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.txns[txn.OrderID] = append(r.txns[txn.OrderID], txn)
	return nil
}

func (r *stubPaymentRepository) Update(_ context.Context, txn domain.PaymentTransaction) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	list := r.txns[txn.OrderID]
	for i := range list {
		if list[i].ID == txn.ID {
			list[i] = txn
			return nil
		}
	}
	return &stubRepoError{notFound: true}
}

func (r *stubPaymentRepository) FindByID(_ context.Context, txnID string) (domain.PaymentTransaction, error) {
	for _, list := range r.txns {
		for _, txn := range list {
			if txn.ID == txnID {
				return txn, nil
			}
		}
	}
	return domain.PaymentTransaction{}, &stubRepoError{notFound: true}
}

func (r *stubPaymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	return r.txns[orderID], nil
}

// stubInvoiceRepository keeps one invoice per order.
type stubInvoiceRepository struct {
	invoices  map[string]domain.Invoice
	upsertErr error
	upserts   int
}

func newStubInvoiceRepository() *stubInvoiceRepository {
	return &stubInvoiceRepository{invoices: make(map[string]domain.Invoice)}
}

func (r *stubInvoiceRepository) Upsert(_ context.Context, invoice domain.Invoice) (domain.Invoice, error) {
	if r.upsertErr != nil {
		return domain.Invoice{}, r.upsertErr
	}
	r.invoices[invoice.OrderID] = invoice
	r.upserts++
	return invoice, nil
}

func (r *stubInvoiceRepository) FindByOrder(_ context.Context, orderID string) (domain.Invoice, error) {
	invoice, ok := r.invoices[orderID]
	if !ok {
		return domain.Invoice{}, &stubRepoError{notFound: true}
	}
	return invoice, nil
}

// stubShipmentRepository keeps one tracking row per order.
type stubShipmentRepository struct {
	shipments map[string]domain.ShipmentTracking
	insertErr error
	updateErr error
}

func newStubShipmentRepository() *stubShipmentRepository {
	return &stubShipmentRepository{shipments: make(map[string]domain.ShipmentTracking)}
}

func (r *stubShipmentRepository) Insert(_ context.Context, shipment domain.ShipmentTracking) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.shipments[shipment.OrderID] = shipment
	return nil
}

func (r *stubShipmentRepository) Update(_ context.Context, shipment domain.ShipmentTracking) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.shipments[shipment.OrderID] = shipment
	return nil
}

func (r *stubShipmentRepository) FindByOrder(_ context.Context, orderID string) (domain.ShipmentTracking, error) {
	shipment, ok := r.shipments[orderID]
	if !ok {
		return domain.ShipmentTracking{}, &stubRepoError{notFound: true}
	}
	return shipment, nil
}

// stubRewardAccountRepository keeps one account per buyer.
type stubRewardAccountRepository struct {
	accounts map[string]domain.RewardAccount
	findErr  error
}

func newStubRewardAccountRepository(accounts ...domain.RewardAccount) *stubRewardAccountRepository {
	repo := &stubRewardAccountRepository{accounts: make(map[string]domain.RewardAccount)}
	for _, account := range accounts {
		repo.accounts[account.BuyerID] = account
	}
	return repo
}

func (r *stubRewardAccountRepository) FindByBuyer(_ context.Context, buyerID string) (domain.RewardAccount, error) {
	if r.findErr != nil {
		return domain.RewardAccount{}, r.findErr
	}
	account, ok := r.accounts[buyerID]
	if !ok {
		return domain.RewardAccount{}, &stubRepoError{notFound: true}
	}
	return account, nil
}

func (r *stubRewardAccountRepository) Upsert(_ context.Context, account domain.RewardAccount) (domain.RewardAccount, error) {
	r.accounts[account.BuyerID] = account
	return account, nil
}

// stubPointsLedgerRepository is an append-only journal slice.
type stubPointsLedgerRepository struct {
	entries   []domain.PointsTransaction
	appendErr error
}

func (r *stubPointsLedgerRepository) Append(_ context.Context, txn domain.PointsTransaction) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, txn)
	return nil
}

func (r *stubPointsLedgerRepository) FindByOrder(_ context.Context, accountID, orderID string, txnType domain.PointsTransactionType) (domain.PointsTransaction, error) {
	for _, entry := range r.entries {
		if entry.AccountID == accountID && entry.OrderID != nil && *entry.OrderID == orderID && entry.Type == txnType {
			return entry, nil
		}
	}
	return domain.PointsTransaction{}, &stubRepoError{notFound: true}
}

func (r *stubPointsLedgerRepository) ListByAccount(_ context.Context, accountID string, _ domain.Pagination) ([]domain.PointsTransaction, error) {
	var out []domain.PointsTransaction
	for _, entry := range r.entries {
		if entry.AccountID == accountID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// stubCartRepository serves a single cart and records Clear calls.
type stubCartRepository struct {
	cart    domain.Cart
	findErr error
	cleared []string
}

func (r *stubCartRepository) Upsert(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	r.cart = cart
	return cart, nil
}

func (r *stubCartRepository) FindByID(_ context.Context, cartID string) (domain.Cart, error) {
	if r.findErr != nil {
		return domain.Cart{}, r.findErr
	}
	if r.cart.ID != cartID {
		return domain.Cart{}, &stubRepoError{notFound: true}
	}
	return r.cart, nil
}

func (r *stubCartRepository) FindByBuyer(_ context.Context, buyerID string) (domain.Cart, error) {
	if r.cart.BuyerID == buyerID {
		return r.cart, nil
	}
	return domain.Cart{}, &stubRepoError{notFound: true}
}

func (r *stubCartRepository) Clear(_ context.Context, cartID string) error {
	r.cleared = append(r.cleared, cartID)
	return nil
}

// sequentialIDs returns deterministic id values for tests.
func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%04d", prefix, n)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
