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

const maxShipmentBodySize = 8 * 1024

var validShipmentStages = map[domain.ShipmentStage]struct{}{
	domain.ShipmentStageOrdered:       {},
	domain.ShipmentStageConfirmed:     {},
	domain.ShipmentStageOnPack:        {},
	domain.ShipmentStageDispatched:    {},
	domain.ShipmentStageOutToDelivery: {},
	domain.ShipmentStageDelivered:     {},
}

type advanceShipmentRequest struct {
	Status   string `json:"status"`
	Location string `json:"location"`
	Notes    string `json:"notes"`
}

type shipmentResponse struct {
	Shipment shipmentPayload `json:"shipment"`
	Order    *orderPayload   `json:"order,omitempty"`
}

// ShipmentHandlers exposes delivery tracking endpoints nested under /orders.
type ShipmentHandlers struct {
	orders    services.OrderService
	shipments services.ShipmentService
	loyalty   services.LoyaltyService
	invoices  services.InvoiceService
	notifier  services.Notifier
}

// NewShipmentHandlers constructs a new ShipmentHandlers instance.
func NewShipmentHandlers(orders services.OrderService, shipments services.ShipmentService, loyalty services.LoyaltyService, invoices services.InvoiceService, notifier services.Notifier) *ShipmentHandlers {
	return &ShipmentHandlers{
		orders:    orders,
		shipments: shipments,
		loyalty:   loyalty,
		invoices:  invoices,
		notifier:  notifier,
	}
}

// Routes registers shipment endpoints on the orders router.
func (h *ShipmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderNumber}/shipment", h.getShipment)
	r.With(auth.RequireRole(auth.RoleSeller)).Post("/{orderNumber}/shipment/advance", h.advanceShipment)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/{orderNumber}/shipment/override", h.overrideShipment)
}

func (h *ShipmentHandlers) getShipment(w http.ResponseWriter, r *http.Request) {
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

	shipment, err := h.shipments.GetByOrder(ctx, order.ID)
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, shipmentResponse{Shipment: buildShipmentPayload(shipment)})
}

func (h *ShipmentHandlers) advanceShipment(w http.ResponseWriter, r *http.Request) {
	h.moveShipment(w, r, false)
}

func (h *ShipmentHandlers) overrideShipment(w http.ResponseWriter, r *http.Request) {
	h.moveShipment(w, r, true)
}

func (h *ShipmentHandlers) moveShipment(w http.ResponseWriter, r *http.Request, override bool) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.resolveOrder(w, r)
	if !ok {
		return
	}

	isSeller := strings.EqualFold(strings.TrimSpace(order.SellerID), strings.TrimSpace(identity.UID))
	if !override && !isSeller && !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	body, err := readLimitedBody(r, maxShipmentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req advanceShipmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	stage := domain.ShipmentStage(strings.TrimSpace(strings.ToLower(req.Status)))
	if _, ok := validShipmentStages[stage]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid shipment stage", http.StatusBadRequest))
		return
	}

	cmd := services.AdvanceShipmentCommand{
		OrderID:  order.ID,
		Next:     stage,
		Location: strings.TrimSpace(req.Location),
		Notes:    strings.TrimSpace(req.Notes),
		Actor:    strings.TrimSpace(identity.UID),
	}

	var result services.ShipmentAdvanceResult
	if override {
		result, err = h.shipments.Override(ctx, cmd)
	} else {
		result, err = h.shipments.Advance(ctx, cmd)
	}
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	h.dispatchShipmentEvents(ctx, result)

	orderBody := buildOrderPayload(result.Order)
	writeJSONResponse(w, http.StatusOK, shipmentResponse{
		Shipment: buildShipmentPayload(result.Shipment),
		Order:    &orderBody,
	})
}

// dispatchShipmentEvents forwards stage transitions to the loyalty reconciler
// and notifier. Loyalty award on delivery is idempotent on the service side.
func (h *ShipmentHandlers) dispatchShipmentEvents(ctx context.Context, result services.ShipmentAdvanceResult) {
	for _, event := range result.Events {
		switch event {
		case domain.EventOrderShipped:
			if h.notifier != nil {
				h.notifier.ShipmentDispatched(ctx, result.Order, result.Shipment)
			}
		case domain.EventOrderOutForDelivery:
			if h.notifier != nil {
				h.notifier.OutForDelivery(ctx, result.Order, result.Shipment)
			}
		case domain.EventOrderDelivered:
			if h.loyalty != nil {
				_, _ = h.loyalty.OnDelivered(ctx, result.Order)
			}
			if h.notifier != nil {
				var artifact []byte
				if h.invoices != nil {
					artifact, _ = h.invoices.Download(ctx, result.Order.ID)
				}
				h.notifier.Delivered(ctx, result.Order, result.Shipment, artifact)
			}
		}
	}
}

func (h *ShipmentHandlers) resolveOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil || h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service unavailable", http.StatusServiceUnavailable))
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

func writeShipmentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrShipmentInvalidInput),
		errors.Is(err, services.ErrShipmentInvalidStage):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShipmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", "shipment tracking not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShipmentNotForward):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_forward", "shipment stage must move forward", http.StatusConflict))
	case errors.Is(err, services.ErrShipmentReadOnly),
		errors.Is(err, services.ErrOrderReadOnly):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_read_only", "delivered orders are read-only", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
