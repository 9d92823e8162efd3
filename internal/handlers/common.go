package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shophub/marketplace/internal/platform/auth"
	"github.com/shophub/marketplace/internal/platform/httpx"
	"github.com/shophub/marketplace/internal/services"
)

const defaultBodyLimit = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return formatTime(*ts)
}

// requireIdentity resolves the authenticated caller or writes a 401 and
// reports false.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// canAccessOrder reports whether the caller may read the order: its buyer,
// the seller it belongs to, or an admin.
func canAccessOrder(identity *auth.Identity, order services.Order) bool {
	if identity == nil {
		return false
	}
	if identity.IsAdmin() {
		return true
	}
	uid := strings.TrimSpace(identity.UID)
	if order.BuyerID != nil && strings.EqualFold(strings.TrimSpace(*order.BuyerID), uid) {
		return true
	}
	if identity.HasRole(auth.RoleSeller) && strings.EqualFold(strings.TrimSpace(order.SellerID), uid) {
		return true
	}
	return false
}

type addressPayload struct {
	RecipientName string `json:"recipient_name,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		RecipientName: addr.RecipientName,
		Line1:         addr.Line1,
		Line2:         addr.Line2,
		City:          addr.City,
		Region:        addr.Region,
		PostalCode:    addr.PostalCode,
		Country:       addr.Country,
		Phone:         addr.Phone,
	}
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id,omitempty"`
	SellerID    string `json:"seller_id,omitempty"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku,omitempty"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"line_total"`
	Status      string `json:"status"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"order_number"`
	BuyerID           string             `json:"buyer_id,omitempty"`
	SellerID          string             `json:"seller_id"`
	Currency          string             `json:"currency"`
	Status            string             `json:"status"`
	PaymentStatus     string             `json:"payment_status"`
	PaymentMethod     string             `json:"payment_method,omitempty"`
	Subtotal          string             `json:"subtotal"`
	Discount          string             `json:"discount"`
	Shipping          string             `json:"shipping"`
	Tax               string             `json:"tax"`
	Total             string             `json:"total"`
	ShippingAddress   addressPayload     `json:"shipping_address"`
	AppliedCouponCode string             `json:"applied_coupon_code,omitempty"`
	RewardPointsUsed  int                `json:"reward_points_used,omitempty"`
	PointsEarned      int                `json:"points_earned,omitempty"`
	CustomerNotes     string             `json:"customer_notes,omitempty"`
	Items             []orderItemPayload `json:"items"`
	PaidAt            string             `json:"paid_at,omitempty"`
	ShippedAt         string             `json:"shipped_at,omitempty"`
	DeliveredAt       string             `json:"delivered_at,omitempty"`
	CancelledAt       string             `json:"cancelled_at,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	SellerID    string `json:"seller_id"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       string `json:"total"`
	ItemCount   int    `json:"item_count"`
	CreatedAt   string `json:"created_at"`
}

func buildOrderItemPayload(item services.OrderItem) orderItemPayload {
	payload := orderItemPayload{
		ID:          item.ID,
		ProductName: item.ProductName,
		SKU:         item.SKU,
		UnitPrice:   item.UnitPrice.StringFixed(2),
		Quantity:    item.Quantity,
		LineTotal:   item.LineTotal.StringFixed(2),
		Status:      string(item.Status),
	}
	if item.ProductID != nil {
		payload.ProductID = *item.ProductID
	}
	if item.SellerID != nil {
		payload.SellerID = *item.SellerID
	}
	return payload
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, buildOrderItemPayload(item))
	}

	payload := orderPayload{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		SellerID:         order.SellerID,
		Currency:         order.Currency,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentMethod:    string(order.PaymentMethod),
		Subtotal:         order.Subtotal.StringFixed(2),
		Discount:         order.Discount.StringFixed(2),
		Shipping:         order.Shipping.StringFixed(2),
		Tax:              order.Tax.StringFixed(2),
		Total:            order.Total.StringFixed(2),
		ShippingAddress:  buildAddressPayload(order.ShippingAddress),
		RewardPointsUsed: order.RewardPointsUsed,
		PointsEarned:     order.PointsEarned,
		CustomerNotes:    order.CustomerNotes,
		Items:            items,
		PaidAt:           formatTimePtr(order.PaidAt),
		ShippedAt:        formatTimePtr(order.ShippedAt),
		DeliveredAt:      formatTimePtr(order.DeliveredAt),
		CancelledAt:      formatTimePtr(order.CancelledAt),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	if order.BuyerID != nil {
		payload.BuyerID = *order.BuyerID
	}
	if order.AppliedCouponCode != nil {
		payload.AppliedCouponCode = *order.AppliedCouponCode
	}
	return payload
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Total:       order.Total.StringFixed(2),
		ItemCount:   len(order.Items),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

type transactionPayload struct {
	ID                string `json:"id"`
	TransactionNumber string `json:"transaction_number"`
	OrderID           string `json:"order_id"`
	Method            string `json:"method"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	PlatformFee       string `json:"platform_fee,omitempty"`
	ProcessingFee     string `json:"processing_fee,omitempty"`
	NetAmount         string `json:"net_amount,omitempty"`
	RefundAmount      string `json:"refund_amount,omitempty"`
	CompletedAt       string `json:"completed_at,omitempty"`
	RefundedAt        string `json:"refunded_at,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func buildTransactionPayload(txn services.PaymentTransaction) transactionPayload {
	payload := transactionPayload{
		ID:                txn.ID,
		TransactionNumber: txn.TransactionNumber,
		OrderID:           txn.OrderID,
		Method:            string(txn.Method),
		Amount:            txn.Amount.StringFixed(2),
		Currency:          txn.Currency,
		Status:            string(txn.Status),
		CompletedAt:       formatTimePtr(txn.CompletedAt),
		RefundedAt:        formatTimePtr(txn.RefundedAt),
		CreatedAt:         formatTime(txn.CreatedAt),
	}
	if txn.PlatformFee.IsPositive() {
		payload.PlatformFee = txn.PlatformFee.StringFixed(2)
		payload.ProcessingFee = txn.ProcessingFee.StringFixed(2)
		payload.NetAmount = txn.NetAmount.StringFixed(2)
	}
	if txn.RefundAmount.IsPositive() {
		payload.RefundAmount = txn.RefundAmount.StringFixed(2)
	}
	return payload
}

type invoicePayload struct {
	ID            string `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	OrderID       string `json:"order_id"`
	Subtotal      string `json:"subtotal"`
	Discount      string `json:"discount"`
	Shipping      string `json:"shipping"`
	Tax           string `json:"tax"`
	Total         string `json:"total"`
	IsPaid        bool   `json:"is_paid"`
	PaidAt        string `json:"paid_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	return invoicePayload{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		OrderID:       invoice.OrderID,
		Subtotal:      invoice.Subtotal.StringFixed(2),
		Discount:      invoice.Discount.StringFixed(2),
		Shipping:      invoice.Shipping.StringFixed(2),
		Tax:           invoice.Tax.StringFixed(2),
		Total:         invoice.Total.StringFixed(2),
		IsPaid:        invoice.IsPaid,
		PaidAt:        formatTimePtr(invoice.PaidAt),
		CreatedAt:     formatTime(invoice.CreatedAt),
		UpdatedAt:     formatTime(invoice.UpdatedAt),
	}
}

type shipmentEventPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Location  string `json:"location,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Actor     string `json:"updated_by,omitempty"`
}

type shipmentPayload struct {
	ID                string                 `json:"id"`
	OrderID           string                 `json:"order_id"`
	CourierName       string                 `json:"courier_name,omitempty"`
	TrackingNumber    string                 `json:"tracking_number"`
	CurrentStatus     string                 `json:"current_status"`
	History           []shipmentEventPayload `json:"history"`
	EstimatedDelivery string                 `json:"estimated_delivery,omitempty"`
	DeliveredAt       string                 `json:"delivered_at,omitempty"`
	CreatedAt         string                 `json:"created_at"`
	UpdatedAt         string                 `json:"updated_at"`
}

func buildShipmentPayload(shipment services.ShipmentTracking) shipmentPayload {
	history := make([]shipmentEventPayload, 0, len(shipment.History))
	for _, event := range shipment.History {
		history = append(history, shipmentEventPayload{
			Status:    string(event.Status),
			Timestamp: formatTime(event.Timestamp),
			Location:  event.Location,
			Notes:     event.Notes,
			Actor:     event.Actor,
		})
	}
	return shipmentPayload{
		ID:                shipment.ID,
		OrderID:           shipment.OrderID,
		CourierName:       shipment.CourierName,
		TrackingNumber:    shipment.TrackingNumber,
		CurrentStatus:     string(shipment.CurrentStatus),
		History:           history,
		EstimatedDelivery: formatTimePtr(shipment.EstimatedDelivery),
		DeliveredAt:       formatTimePtr(shipment.DeliveredAt),
		CreatedAt:         formatTime(shipment.CreatedAt),
		UpdatedAt:         formatTime(shipment.UpdatedAt),
	}
}

type rewardAccountPayload struct {
	ID             string `json:"id"`
	BuyerID        string `json:"buyer_id"`
	Balance        int    `json:"balance"`
	LifetimeEarned int    `json:"lifetime_earned"`
	Tier           string `json:"tier"`
	UpdatedAt      string `json:"updated_at"`
}

func buildRewardAccountPayload(account services.RewardAccount) rewardAccountPayload {
	return rewardAccountPayload{
		ID:             account.ID,
		BuyerID:        account.BuyerID,
		Balance:        account.Balance,
		LifetimeEarned: account.LifetimeEarned,
		Tier:           string(account.Tier),
		UpdatedAt:      formatTime(account.UpdatedAt),
	}
}

type pointsTransactionPayload struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id,omitempty"`
	Type         string `json:"type"`
	Points       int    `json:"points"`
	BalanceAfter int    `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

func buildPointsTransactionPayload(txn services.PointsTransaction) pointsTransactionPayload {
	payload := pointsTransactionPayload{
		ID:           txn.ID,
		Type:         string(txn.Type),
		Points:       txn.Points,
		BalanceAfter: txn.BalanceAfter,
		CreatedAt:    formatTime(txn.CreatedAt),
	}
	if txn.OrderID != nil {
		payload.OrderID = *txn.OrderID
	}
	return payload
}

// writeOrderError maps order service sentinels shared by several handlers.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderReadOnly):
		httpx.WriteError(ctx, w, httpx.NewError("order_read_only", "delivered orders are read-only", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
