package handlers

import (
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

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes the checkout endpoint for authenticated buyers.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(auth.RequireIdentity).Post("/", h.checkoutCart)
}

type checkoutAddressRequest struct {
	RecipientName string `json:"recipient_name"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2"`
	City          string `json:"city"`
	Region        string `json:"region"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	Phone         string `json:"phone"`
}

type checkoutRequest struct {
	CartID          string                 `json:"cart_id"`
	ShippingAddress checkoutAddressRequest `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
	CouponCode      string                 `json:"coupon_code"`
	UseRewardPoints bool                   `json:"use_reward_points"`
	CustomerNotes   string                 `json:"customer_notes"`
}

type checkoutResponse struct {
	Orders []orderPayload `json:"orders"`
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CheckoutCommand{
		CartID:  strings.TrimSpace(req.CartID),
		BuyerID: strings.TrimSpace(identity.UID),
		ShippingAddress: domain.Address{
			RecipientName: strings.TrimSpace(req.ShippingAddress.RecipientName),
			Line1:         strings.TrimSpace(req.ShippingAddress.Line1),
			Line2:         strings.TrimSpace(req.ShippingAddress.Line2),
			City:          strings.TrimSpace(req.ShippingAddress.City),
			Region:        strings.TrimSpace(req.ShippingAddress.Region),
			PostalCode:    strings.TrimSpace(req.ShippingAddress.PostalCode),
			Country:       strings.TrimSpace(req.ShippingAddress.Country),
			Phone:         strings.TrimSpace(req.ShippingAddress.Phone),
		},
		PaymentMethod:   domain.PaymentMethod(strings.TrimSpace(strings.ToLower(req.PaymentMethod))),
		UseRewardPoints: req.UseRewardPoints,
		CustomerNotes:   strings.TrimSpace(req.CustomerNotes),
	}
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		cmd.CouponCode = &code
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}

	orders := make([]orderPayload, 0, len(result.Orders))
	for _, order := range result.Orders {
		orders = append(orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusCreated, checkoutResponse{Orders: orders})
}

func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrPaymentMethodUnsupported),
		errors.Is(err, services.ErrCouponInvalidCode):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no lines", http.StatusConflict))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_eligible", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_exhausted", "coupon usage limit reached", http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrLoyaltyInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", "reward balance too low", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
