package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/platform/auth"
	"github.com/shophub/marketplace/internal/platform/httpx"
	"github.com/shophub/marketplace/internal/platform/pagination"
	"github.com/shophub/marketplace/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 8 * 1024
	orderViewSeller       = "seller"
	timeParamLayoutSecond = "2006-01-02T15:04:05Z07:00"
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusCreated:         {},
	domain.OrderStatusPendingPayment:  {},
	domain.OrderStatusPaid:            {},
	domain.OrderStatusProcessing:      {},
	domain.OrderStatusShipped:         {},
	domain.OrderStatusOutForDelivery:  {},
	domain.OrderStatusDelivered:       {},
	domain.OrderStatusCancelled:       {},
	domain.OrderStatusReturnRequested: {},
	domain.OrderStatusReturned:        {},
}

var validItemStatuses = map[domain.OrderItemStatus]struct{}{
	domain.OrderItemStatusPending:    {},
	domain.OrderItemStatusProcessing: {},
	domain.OrderItemStatusShipped:    {},
	domain.OrderItemStatusDelivered:  {},
	domain.OrderItemStatusCancelled:  {},
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type refundRequestRequest struct {
	Reason string `json:"reason"`
	Amount string `json:"amount"`
}

type updateItemStatusRequest struct {
	Status string `json:"status"`
}

// OrderHandlers exposes order lifecycle endpoints for buyers and sellers.
type OrderHandlers struct {
	orders  services.OrderService
	loyalty services.LoyaltyService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, loyalty services.LoyaltyService) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		loyalty: loyalty,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireIdentity)
	r.Get("/", h.listOrders)
	r.Get("/{orderNumber}", h.getOrder)
	r.Post("/{orderNumber}/cancel", h.cancelOrder)
	r.Post("/{orderNumber}/refund-request", h.requestRefund)
	r.With(auth.RequireRole(auth.RoleSeller)).Patch("/{orderNumber}/items/{itemID}/status", h.updateItemStatus)
}

// AdminRoutes registers the cross-buyer order listing for operators.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(auth.RequireIdentity, auth.RequireRole(auth.RoleAdmin)).Get("/orders", h.adminListOrders)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	filter, err := parseOrderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	uid := strings.TrimSpace(identity.UID)
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("view")), orderViewSeller) {
		if !identity.HasRole(auth.RoleSeller) && !identity.IsAdmin() {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "seller role required", http.StatusForbidden))
			return
		}
		filter.SellerID = uid
	} else {
		filter.BuyerID = uid
	}

	h.writeOrderList(w, r, filter)
}

func (h *OrderHandlers) adminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, err := parseOrderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	filter.BuyerID = strings.TrimSpace(query.Get("buyer_id"))
	filter.SellerID = strings.TrimSpace(query.Get("seller_id"))

	h.writeOrderList(w, r, filter)
}

func (h *OrderHandlers) writeOrderList(w http.ResponseWriter, r *http.Request, filter services.OrderListFilter) {
	ctx := r.Context()
	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}

	payload := orderListResponse{Items: items}
	if len(orders) == filter.Pagination.PageSize && filter.Pagination.PageSize > 0 {
		offset, _ := pagination.DecodeToken(filter.Pagination.PageToken)
		payload.NextPageToken = pagination.EncodeToken(offset + filter.Pagination.PageSize)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req cancelOrderRequest
	if ok := decodeOptionalBody(w, r, &req); !ok {
		return
	}

	result, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: order.ID,
		Actor:   strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	h.settleLoyalty(r, result)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(result.Order)})
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
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

	var req refundRequestRequest
	if ok := decodeOptionalBody(w, r, &req); !ok {
		return
	}

	amount := order.Total
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a non-negative decimal", http.StatusBadRequest))
			return
		}
		amount = parsed
	}

	buyerID := strings.TrimSpace(identity.UID)
	if order.BuyerID != nil {
		buyerID = *order.BuyerID
	}

	updated, err := h.orders.RequestRefund(ctx, services.RequestRefundCommand{
		OrderID: order.ID,
		BuyerID: buyerID,
		Amount:  amount,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func (h *OrderHandlers) updateItemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.resolveOrder(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateItemStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	status := domain.OrderItemStatus(strings.TrimSpace(strings.ToLower(req.Status)))
	if _, ok := validItemStatuses[status]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid item status", http.StatusBadRequest))
		return
	}

	sellerID := strings.TrimSpace(identity.UID)
	if identity.IsAdmin() {
		sellerID = order.SellerID
	}

	item, err := h.orders.UpdateItemStatus(ctx, services.UpdateItemStatusCommand{
		OrderID:  order.ID,
		ItemID:   itemID,
		SellerID: sellerID,
		Status:   status,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"item": buildOrderItemPayload(item)})
}

// resolveOrder looks the order up by its public number and handles the error
// response on failure.
func (h *OrderHandlers) resolveOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

// settleLoyalty reverses earned or redeemed points when a cancellation or
// return event fires. Reversal is idempotent on the service side.
func (h *OrderHandlers) settleLoyalty(r *http.Request, result services.OrderTransitionResult) {
	if h.loyalty == nil {
		return
	}
	for _, event := range result.Events {
		switch event {
		case domain.EventOrderCancelled, domain.EventOrderReturned:
			_, _ = h.loyalty.OnReversal(r.Context(), result.Order)
		}
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func parseOrderListFilter(r *http.Request) (services.OrderListFilter, error) {
	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, candidate := range strings.Split(raw, ",") {
			candidate = strings.TrimSpace(strings.ToUpper(candidate))
			if candidate == "" {
				continue
			}
			status := domain.OrderStatus(candidate)
			if _, ok := validOrderStatuses[status]; !ok {
				return services.OrderListFilter{}, errors.New("status contains an unknown order status")
			}
			statuses = append(statuses, status)
		}
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := time.Parse(timeParamLayoutSecond, raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("created_after must be a valid RFC3339 timestamp")
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := time.Parse(timeParamLayoutSecond, raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("created_before must be a valid RFC3339 timestamp")
		}
		dateRange.To = &ts
	}

	params, err := pagination.Parse(query, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		return services.OrderListFilter{}, err
	}

	return services.OrderListFilter{
		Status:    statuses,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

// decodeOptionalBody parses an optional JSON body, tolerating an empty one.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) {
			return true
		}
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}
