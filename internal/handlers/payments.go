package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/platform/auth"
	"github.com/shophub/marketplace/internal/platform/httpx"
	"github.com/shophub/marketplace/internal/services"
)

const maxPaymentBodySize = 8 * 1024

type selectPaymentMethodRequest struct {
	Method string `json:"method"`
}

type transactionResponse struct {
	Transaction transactionPayload `json:"transaction"`
	Order       *orderPayload      `json:"order,omitempty"`
	Invoice     *invoicePayload    `json:"invoice,omitempty"`
}

type transactionListResponse struct {
	Items []transactionPayload `json:"items"`
}

// PaymentHandlers exposes settlement endpoints nested under /orders.
type PaymentHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
	loyalty  services.LoyaltyService
	notifier services.Notifier
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(orders services.OrderService, payments services.PaymentService, loyalty services.LoyaltyService, notifier services.Notifier) *PaymentHandlers {
	return &PaymentHandlers{
		orders:   orders,
		payments: payments,
		loyalty:  loyalty,
		notifier: notifier,
	}
}

// Routes registers payment endpoints on the orders router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderNumber}/payments", h.listTransactions)
	r.Post("/{orderNumber}/payment/method", h.selectMethod)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/{orderNumber}/payment/approve", h.approvePayment)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/{orderNumber}/payment/refund", h.refundPayment)
}

func (h *PaymentHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.resolveOrder(w, r)
	if !ok {
		return
	}
	if !canAccessOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	txns, err := h.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]transactionPayload, 0, len(txns))
	for _, txn := range txns {
		items = append(items, buildTransactionPayload(txn))
	}
	writeJSONResponse(w, http.StatusOK, transactionListResponse{Items: items})
}

func (h *PaymentHandlers) selectMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.resolveOrder(w, r)
	if !ok {
		return
	}

	isBuyer := order.BuyerID != nil && strings.EqualFold(strings.TrimSpace(*order.BuyerID), strings.TrimSpace(identity.UID))
	if !isBuyer && !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req selectPaymentMethodRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	buyerID := strings.TrimSpace(identity.UID)
	if order.BuyerID != nil {
		buyerID = *order.BuyerID
	}

	txn, err := h.payments.SelectMethod(ctx, services.SelectPaymentMethodCommand{
		OrderID: order.ID,
		BuyerID: buyerID,
		Method:  domain.PaymentMethod(strings.TrimSpace(strings.ToLower(req.Method))),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, transactionResponse{Transaction: buildTransactionPayload(txn)})
}

func (h *PaymentHandlers) approvePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.resolveOrder(w, r)
	if !ok {
		return
	}

	result, err := h.payments.Approve(ctx, services.ApprovePaymentCommand{
		OrderID: order.ID,
		Actor:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	if !result.AlreadyCompleted && h.notifier != nil {
		h.notifier.PaymentReceived(ctx, result.Order, result.Transaction, result.Artifact)
	}

	orderBody := buildOrderPayload(result.Order)
	invoiceBody := buildInvoicePayload(result.Invoice)
	writeJSONResponse(w, http.StatusOK, transactionResponse{
		Transaction: buildTransactionPayload(result.Transaction),
		Order:       &orderBody,
		Invoice:     &invoiceBody,
	})
}

func (h *PaymentHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.resolveOrder(w, r)
	if !ok {
		return
	}

	result, err := h.payments.Refund(ctx, services.RefundPaymentCommand{
		OrderID: order.ID,
		Actor:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	if h.loyalty != nil {
		for _, event := range result.Events {
			if event == domain.EventOrderReturned || event == domain.EventPaymentRefunded {
				_, _ = h.loyalty.OnReversal(ctx, result.Order)
				break
			}
		}
	}
	if h.notifier != nil {
		h.notifier.Refunded(ctx, result.Order, result.Transaction)
	}

	orderBody := buildOrderPayload(result.Order)
	invoiceBody := buildInvoicePayload(result.Invoice)
	writeJSONResponse(w, http.StatusOK, transactionResponse{
		Transaction: buildTransactionPayload(result.Transaction),
		Order:       &orderBody,
		Invoice:     &invoiceBody,
	})
}

func (h *PaymentHandlers) resolveOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
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
	return order, true
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput),
		errors.Is(err, services.ErrPaymentMethodUnsupported):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_not_found", "payment transaction not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransactionState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transaction_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
