package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shophub/marketplace/internal/platform/httpx"
	"github.com/shophub/marketplace/internal/services"
)

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

// InvoiceHandlers exposes billing document endpoints nested under /orders.
type InvoiceHandlers struct {
	orders   services.OrderService
	invoices services.InvoiceService
}

// NewInvoiceHandlers constructs a new InvoiceHandlers instance.
func NewInvoiceHandlers(orders services.OrderService, invoices services.InvoiceService) *InvoiceHandlers {
	return &InvoiceHandlers{
		orders:   orders,
		invoices: invoices,
	}
}

// Routes registers invoice endpoints on the orders router.
func (h *InvoiceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderNumber}/invoice", h.getInvoice)
	r.Get("/{orderNumber}/invoice/download", h.downloadInvoice)
}

func (h *InvoiceHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.resolveAccessibleOrder(w, r)
	if !ok {
		return
	}

	invoice, err := h.invoices.GetByOrder(ctx, order.ID)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

func (h *InvoiceHandlers) downloadInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.resolveAccessibleOrder(w, r)
	if !ok {
		return
	}

	invoice, err := h.invoices.GetByOrder(ctx, order.ID)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	artifact, err := h.invoices.Download(ctx, order.ID)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", invoice.InvoiceNumber+".txt"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact)
}

func (h *InvoiceHandlers) resolveAccessibleOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil || h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return services.Order{}, false
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return services.Order{}, false
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return services.Order{}, false
	}

	order, err := h.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return services.Order{}, false
	}
	if !canAccessOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}

func writeInvoiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvoiceInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvoiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvoiceRenderFailed):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_render_failed", "invoice could not be rendered", http.StatusInternalServerError))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
