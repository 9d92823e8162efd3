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

const transactionIDPrefix = "txn_"

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates no transaction exists for the order.
	ErrPaymentNotFound = errors.New("payment: transaction not found")
	// ErrInvalidTransactionState indicates the transaction's status forbids the operation.
	ErrInvalidTransactionState = errors.New("payment: invalid transaction state")
	// ErrPaymentMethodUnsupported indicates an unknown settlement channel.
	ErrPaymentMethodUnsupported = errors.New("payment: unsupported method")
)

// FeeConfig carries the deterministic fee rates applied when a transaction
// completes. Rates are fractions of the transaction amount.
type FeeConfig struct {
	PlatformRate   decimal.Decimal
	ProcessingRate decimal.Decimal
}

// DefaultFeeConfig returns the stock rates: platform 3.5%, processing 2%.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		PlatformRate:   decimal.NewFromFloat(0.035),
		ProcessingRate: decimal.NewFromFloat(0.02),
	}
}

// PaymentServiceDeps bundles collaborators for the payment transaction manager.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Orders      repositories.OrderRepository
	Invoices    InvoiceService
	UnitOfWork  repositories.UnitOfWork
	Fees        FeeConfig
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments   repositories.PaymentRepository
	orders     repositories.OrderRepository
	invoices   InvoiceService
	unitOfWork repositories.UnitOfWork
	fees       FeeConfig
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("payment service: invoice service is required")
	}
	if deps.Fees.PlatformRate.IsNegative() || deps.Fees.ProcessingRate.IsNegative() {
		return nil, errors.New("payment service: fee rates must not be negative")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	return &paymentService{
		payments:   deps.Payments,
		orders:     deps.Orders,
		invoices:   deps.Invoices,
		unitOfWork: unit,
		fees:       deps.Fees,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// Open creates a pending transaction for the order.
func (s *paymentService) Open(ctx context.Context, cmd OpenTransactionCommand) (PaymentTransaction, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentTransaction{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if !isSupportedMethod(cmd.Method) {
		return PaymentTransaction{}, fmt.Errorf("%w: %q", ErrPaymentMethodUnsupported, cmd.Method)
	}
	if cmd.Amount.IsNegative() {
		return PaymentTransaction{}, fmt.Errorf("%w: amount must not be negative", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentTransaction{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	amount := cmd.Amount
	if amount.IsZero() {
		amount = order.Total
	}

	txn := domain.PaymentTransaction{
		ID:                transactionIDPrefix + s.newID(),
		TransactionNumber: newTransactionNumber(now),
		OrderID:           order.ID,
		Method:            cmd.Method,
		Amount:            domain.Round2(amount),
		Currency:          order.Currency,
		Status:            domain.TransactionStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.Insert(ctx, txn); err != nil {
		return PaymentTransaction{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.opened", map[string]any{
		"order_id":    order.ID,
		"transaction": txn.TransactionNumber,
		"method":      string(cmd.Method),
	})
	return txn, nil
}

// SelectMethod records the buyer's settlement choice and reuses the pending
// transaction when one already exists, rewriting its method.
func (s *paymentService) SelectMethod(ctx context.Context, cmd SelectPaymentMethodCommand) (PaymentTransaction, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentTransaction{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if !isSupportedMethod(cmd.Method) {
		return PaymentTransaction{}, fmt.Errorf("%w: %q", ErrPaymentMethodUnsupported, cmd.Method)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentTransaction{}, s.mapRepositoryError(err)
	}
	if buyer := strings.TrimSpace(cmd.BuyerID); buyer != "" {
		if order.BuyerID == nil || *order.BuyerID != buyer {
			return PaymentTransaction{}, fmt.Errorf("%w: order does not belong to buyer", ErrPaymentNotFound)
		}
	}

	var result PaymentTransaction
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		pending, err := s.findPending(txCtx, order.ID)
		switch {
		case err == nil:
			pending.Method = cmd.Method
			pending.UpdatedAt = s.clock()
			if err := s.payments.Update(txCtx, pending); err != nil {
				return s.mapRepositoryError(err)
			}
			result = pending
		case errors.Is(err, ErrPaymentNotFound):
			opened, openErr := s.Open(txCtx, OpenTransactionCommand{OrderID: order.ID, Method: cmd.Method})
			if openErr != nil {
				return openErr
			}
			result = opened
		default:
			return err
		}

		order.PaymentMethod = cmd.Method
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return PaymentTransaction{}, err
	}
	return result, nil
}

// Approve settles the order's transaction: pending becomes completed, fees are
// derived from the configured rates, the order's payment state synchronizes,
// and the invoice regenerates as paid. Re-approving a completed transaction is
// an idempotent no-op that leaves fees untouched.
func (s *paymentService) Approve(ctx context.Context, cmd ApprovePaymentCommand) (PaymentApprovalResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentApprovalResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentApprovalResult{}, s.mapRepositoryError(err)
	}

	txns, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return PaymentApprovalResult{}, s.mapRepositoryError(err)
	}
	if len(txns) == 0 {
		return PaymentApprovalResult{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, order.ID)
	}

	if txn, ok := findByStatus(txns, domain.TransactionStatusCompleted); ok {
		invoice, err := s.invoices.GetByOrder(ctx, order.ID)
		if err != nil {
			return PaymentApprovalResult{}, err
		}
		return PaymentApprovalResult{
			Transaction:      txn,
			Order:            order,
			Invoice:          invoice,
			AlreadyCompleted: true,
		}, nil
	}

	txn, ok := findByStatus(txns, domain.TransactionStatusPending)
	if !ok {
		return PaymentApprovalResult{}, fmt.Errorf("%w: no pending transaction for order %s", ErrInvalidTransactionState, order.ID)
	}

	now := s.clock()
	txn.Status = domain.TransactionStatusCompleted
	txn.CompletedAt = &now
	txn.UpdatedAt = now
	txn.PlatformFee = domain.Round2(txn.Amount.Mul(s.fees.PlatformRate))
	txn.ProcessingFee = domain.Round2(txn.Amount.Mul(s.fees.ProcessingRate))
	txn.NetAmount = domain.Round2(txn.Amount.Sub(txn.PlatformFee).Sub(txn.ProcessingFee))

	prev := order.Status
	order.PaymentStatus = domain.PaymentStatusCompleted
	order.UpdatedAt = now
	statusAdvanced := false
	if order.Status == domain.OrderStatusCreated || order.Status == domain.OrderStatusPendingPayment {
		order.Status = domain.OrderStatusPaid
		updateOrderTimestamps(&order, domain.OrderStatusPaid, now)
		statusAdvanced = true
	}

	var (
		invoice  Invoice
		artifact []byte
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.payments.Update(txCtx, txn); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		var upsertErr error
		invoice, artifact, upsertErr = s.invoices.Upsert(txCtx, UpsertInvoiceCommand{OrderID: order.ID, MarkPaid: true})
		return upsertErr
	})
	if err != nil {
		return PaymentApprovalResult{}, err
	}

	s.logger(ctx, "payment.approved", map[string]any{
		"order_id":    order.ID,
		"transaction": txn.TransactionNumber,
		"net_amount":  txn.NetAmount.StringFixed(2),
		"actor":       strings.TrimSpace(cmd.Actor),
	})

	events := []DomainEvent{}
	if statusAdvanced {
		events = transitionEvents(prev, order.Status)
	}
	return PaymentApprovalResult{
		Transaction: txn,
		Order:       order,
		Invoice:     invoice,
		Artifact:    artifact,
		Events:      events,
	}, nil
}

// Refund reverses a completed transaction. Refunding anything else fails with
// a domain error rather than silently no-opping.
func (s *paymentService) Refund(ctx context.Context, cmd RefundPaymentCommand) (PaymentRefundResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentRefundResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentRefundResult{}, s.mapRepositoryError(err)
	}

	txns, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return PaymentRefundResult{}, s.mapRepositoryError(err)
	}
	txn, ok := findByStatus(txns, domain.TransactionStatusCompleted)
	if !ok {
		return PaymentRefundResult{}, fmt.Errorf("%w: order %s has no completed transaction to refund", ErrInvalidTransactionState, order.ID)
	}

	now := s.clock()
	txn.Status = domain.TransactionStatusRefunded
	txn.RefundAmount = txn.Amount
	txn.RefundedAt = &now
	txn.UpdatedAt = now

	prev := order.Status
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.UpdatedAt = now
	statusChanged := false
	if order.Status != domain.OrderStatusReturned {
		// A refund is an administrative correction, not a fulfillment move,
		// so the return-flow sync is forced rather than validated against
		// the transition table. A PAID or mid-fulfillment order must still
		// be refundable.
		order.Status = domain.OrderStatusReturned
		statusChanged = true
	}

	var invoice Invoice
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.payments.Update(txCtx, txn); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		var upsertErr error
		invoice, _, upsertErr = s.invoices.Upsert(txCtx, UpsertInvoiceCommand{OrderID: order.ID, MarkPaid: false})
		return upsertErr
	})
	if err != nil {
		return PaymentRefundResult{}, err
	}

	s.logger(ctx, "payment.refunded", map[string]any{
		"order_id":    order.ID,
		"transaction": txn.TransactionNumber,
		"amount":      txn.RefundAmount.StringFixed(2),
		"actor":       strings.TrimSpace(cmd.Actor),
	})

	events := []DomainEvent{domain.EventPaymentRefunded}
	if statusChanged {
		events = append(events, transitionEvents(prev, order.Status)...)
	}
	return PaymentRefundResult{Transaction: txn, Order: order, Invoice: invoice, Events: events}, nil
}

func (s *paymentService) ListByOrder(ctx context.Context, orderID string) ([]PaymentTransaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	txns, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return txns, nil
}

func (s *paymentService) findPending(ctx context.Context, orderID string) (PaymentTransaction, error) {
	txns, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return PaymentTransaction{}, s.mapRepositoryError(err)
	}
	txn, ok := findByStatus(txns, domain.TransactionStatusPending)
	if !ok {
		return PaymentTransaction{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderID)
	}
	return txn, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func findByStatus(txns []PaymentTransaction, status domain.TransactionStatus) (PaymentTransaction, bool) {
	for _, txn := range txns {
		if txn.Status == status {
			return txn, true
		}
	}
	return PaymentTransaction{}, false
}

func isSupportedMethod(method PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCard, domain.PaymentMethodCashOnDelivery:
		return true
	}
	return false
}
