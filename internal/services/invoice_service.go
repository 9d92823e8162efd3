package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

const invoiceIDPrefix = "inv_"

var (
	// ErrInvoiceInvalidInput signals the caller provided invalid data.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceNotFound indicates no invoice exists for the order.
	ErrInvoiceNotFound = errors.New("invoice: not found")
	// ErrInvoiceRenderFailed indicates the renderer could not produce the artifact.
	ErrInvoiceRenderFailed = errors.New("invoice: render failed")
)

// InvoiceServiceDeps bundles collaborators for the invoice generator.
type InvoiceServiceDeps struct {
	Invoices    repositories.InvoiceRepository
	Orders      repositories.OrderRepository
	Renderer    InvoiceRenderer
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	invoices repositories.InvoiceRepository
	orders   repositories.OrderRepository
	renderer InvoiceRenderer
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ InvoiceService = (*invoiceService)(nil)

// NewInvoiceService wires dependencies into a concrete InvoiceService implementation.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Invoices == nil {
		return nil, errors.New("invoice service: invoice repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("invoice service: order repository is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("invoice service: renderer is required")
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
	return &invoiceService{
		invoices: deps.Invoices,
		orders:   deps.Orders,
		renderer: deps.Renderer,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// Upsert creates or refreshes the order's invoice from its current totals and
// re-renders the artifact. MarkPaid stamps IsPaid/PaidAt once; a later refresh
// with MarkPaid false does not unset them unless a refund rewrote the order.
func (s *invoiceService) Upsert(ctx context.Context, cmd UpsertInvoiceCommand) (Invoice, []byte, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Invoice{}, nil, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Invoice{}, nil, s.mapRepositoryError(err)
	}

	now := s.clock()
	invoice, err := s.invoices.FindByOrder(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
			return Invoice{}, nil, s.mapRepositoryError(err)
		}
		invoice = domain.Invoice{
			ID:            invoiceIDPrefix + s.newID(),
			InvoiceNumber: newInvoiceNumber(now),
			OrderID:       order.ID,
			CreatedAt:     now,
		}
	}

	// Copy the order's current totals; regeneration is the only way the
	// invoice's amounts may change.
	invoice.Subtotal = order.Subtotal
	invoice.Discount = order.Discount
	invoice.Shipping = order.Shipping
	invoice.Tax = order.Tax
	invoice.Total = order.Total
	invoice.UpdatedAt = now

	if cmd.MarkPaid && !invoice.IsPaid {
		invoice.IsPaid = true
		invoice.PaidAt = &now
	}
	if order.PaymentStatus == domain.PaymentStatusRefunded {
		invoice.IsPaid = false
		invoice.PaidAt = nil
	}

	artifact, err := s.renderer.Render(invoice, order)
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("%w: %v", ErrInvoiceRenderFailed, err)
	}
	invoice.ArtifactRef = invoice.InvoiceNumber + ".pdf"

	saved, err := s.invoices.Upsert(ctx, invoice)
	if err != nil {
		return Invoice{}, nil, s.mapRepositoryError(err)
	}

	s.logger(ctx, "invoice.upserted", map[string]any{
		"order_id": order.ID,
		"invoice":  saved.InvoiceNumber,
		"paid":     saved.IsPaid,
	})
	return saved, artifact, nil
}

func (s *invoiceService) GetByOrder(ctx context.Context, orderID string) (Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByOrder(ctx, orderID)
	if err != nil {
		return Invoice{}, s.mapRepositoryError(err)
	}
	return invoice, nil
}

// Download re-renders the stored invoice for the caller.
func (s *invoiceService) Download(ctx context.Context, orderID string) ([]byte, error) {
	invoice, err := s.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, invoice.OrderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	artifact, err := s.renderer.Render(invoice, order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceRenderFailed, err)
	}
	return artifact, nil
}

func (s *invoiceService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInvoiceNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("invoice: repository unavailable: %w", err)
		}
	}
	return err
}
