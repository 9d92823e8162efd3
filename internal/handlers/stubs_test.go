package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/platform/auth"
	"github.com/shophub/marketplace/internal/services"
)

var handlerTestNow = time.Date(2026, time.July, 20, 12, 0, 0, 0, time.UTC)

// newIdentityRequest builds a request carrying the gateway identity headers so
// tests exercise the same middleware chain the server mounts.
func newIdentityRequest(method, target, body, uid, roles string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if uid != "" {
		req.Header.Set(auth.HeaderUserID, uid)
	}
	if roles != "" {
		req.Header.Set(auth.HeaderUserRoles, roles)
	}
	return req
}

func serveRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response body: %v (body %q)", err, rec.Body.String())
	}
}

func responseErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &payload)
	return payload.Error
}

// mountGroup mirrors how the router mounts a handler group under a path
// prefix behind the identity middleware.
func mountGroup(prefix string, registrars ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(auth.Middleware())
	r.Route(prefix, func(group chi.Router) {
		for _, reg := range registrars {
			reg(group)
		}
	})
	return r
}

func handlerBuyerPtr() *string {
	buyer := "buyer_1"
	return &buyer
}

func handlerOrder(number string) services.Order {
	items := []services.OrderItem{
		{
			ID:          "itm_1",
			OrderID:     "ord_" + number,
			ProductName: "Walnut Desk Organizer",
			SKU:         "WD-3321",
			UnitPrice:   decimal.NewFromInt(40),
			Quantity:    2,
			LineTotal:   decimal.NewFromInt(80),
			Status:      domain.OrderItemStatusPending,
			CreatedAt:   handlerTestNow,
			UpdatedAt:   handlerTestNow,
		},
	}
	return services.Order{
		ID:            "ord_" + number,
		OrderNumber:   number,
		BuyerID:       handlerBuyerPtr(),
		SellerID:      "seller_1",
		Currency:      "USD",
		Status:        domain.OrderStatusPaid,
		PaymentStatus: domain.PaymentStatusCompleted,
		PaymentMethod: domain.PaymentMethodCard,
		Subtotal:      decimal.NewFromInt(80),
		Discount:      decimal.Zero,
		Shipping:      decimal.NewFromInt(50),
		Tax:           decimal.RequireFromString("3.25"),
		Total:         decimal.RequireFromString("133.25"),
		ShippingAddress: domain.Address{
			RecipientName: "Dana Whitfield",
			Line1:         "17 Cedar Row",
			City:          "Portsmouth",
			Country:       "GB",
		},
		Items:     items,
		CreatedAt: handlerTestNow,
		UpdatedAt: handlerTestNow,
	}
}

type stubCheckoutService struct {
	result  services.CheckoutResult
	err     error
	lastCmd services.CheckoutCommand
	calls   int
}

func (s *stubCheckoutService) Checkout(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	s.calls++
	s.lastCmd = cmd
	if s.err != nil {
		return services.CheckoutResult{}, s.err
	}
	return s.result, nil
}

type stubOrderService struct {
	orders map[string]services.Order

	listResult []services.Order
	listErr    error
	lastFilter services.OrderListFilter

	transitionResult services.OrderTransitionResult
	transitionErr    error

	cancelResult services.OrderTransitionResult
	cancelErr    error
	lastCancel   services.CancelOrderCommand

	refundResult services.Order
	refundErr    error
	lastRefund   services.RequestRefundCommand

	itemResult  services.OrderItem
	itemErr     error
	lastItemCmd services.UpdateItemStatusCommand
}

func newStubOrderService(orders ...services.Order) *stubOrderService {
	s := &stubOrderService{orders: make(map[string]services.Order, len(orders))}
	for _, order := range orders {
		s.orders[order.OrderNumber] = order
	}
	return s
}

func (s *stubOrderService) SplitCart(services.Cart) []services.SellerGroup { return nil }

func (s *stubOrderService) GetOrder(_ context.Context, orderID string) (services.Order, error) {
	for _, order := range s.orders {
		if order.ID == orderID {
			return order, nil
		}
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) GetOrderByNumber(_ context.Context, orderNumber string) (services.Order, error) {
	order, ok := s.orders[orderNumber]
	if !ok {
		return services.Order{}, services.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubOrderService) ListOrders(_ context.Context, filter services.OrderListFilter) ([]services.Order, error) {
	s.lastFilter = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listResult, nil
}

func (s *stubOrderService) Transition(_ context.Context, _ services.OrderTransitionCommand) (services.OrderTransitionResult, error) {
	if s.transitionErr != nil {
		return services.OrderTransitionResult{}, s.transitionErr
	}
	return s.transitionResult, nil
}

func (s *stubOrderService) Cancel(_ context.Context, cmd services.CancelOrderCommand) (services.OrderTransitionResult, error) {
	s.lastCancel = cmd
	if s.cancelErr != nil {
		return services.OrderTransitionResult{}, s.cancelErr
	}
	return s.cancelResult, nil
}

func (s *stubOrderService) RequestRefund(_ context.Context, cmd services.RequestRefundCommand) (services.Order, error) {
	s.lastRefund = cmd
	if s.refundErr != nil {
		return services.Order{}, s.refundErr
	}
	return s.refundResult, nil
}

func (s *stubOrderService) UpdateItemStatus(_ context.Context, cmd services.UpdateItemStatusCommand) (services.OrderItem, error) {
	s.lastItemCmd = cmd
	if s.itemErr != nil {
		return services.OrderItem{}, s.itemErr
	}
	return s.itemResult, nil
}

type stubPaymentService struct {
	txns    []services.PaymentTransaction
	listErr error

	openResult services.PaymentTransaction
	openErr    error

	selectResult services.PaymentTransaction
	selectErr    error
	lastSelect   services.SelectPaymentMethodCommand

	approveResult services.PaymentApprovalResult
	approveErr    error
	approveCalls  int

	refundResult services.PaymentRefundResult
	refundErr    error
	refundCalls  int
}

func (s *stubPaymentService) Open(_ context.Context, _ services.OpenTransactionCommand) (services.PaymentTransaction, error) {
	if s.openErr != nil {
		return services.PaymentTransaction{}, s.openErr
	}
	return s.openResult, nil
}

func (s *stubPaymentService) SelectMethod(_ context.Context, cmd services.SelectPaymentMethodCommand) (services.PaymentTransaction, error) {
	s.lastSelect = cmd
	if s.selectErr != nil {
		return services.PaymentTransaction{}, s.selectErr
	}
	return s.selectResult, nil
}

func (s *stubPaymentService) Approve(_ context.Context, _ services.ApprovePaymentCommand) (services.PaymentApprovalResult, error) {
	s.approveCalls++
	if s.approveErr != nil {
		return services.PaymentApprovalResult{}, s.approveErr
	}
	return s.approveResult, nil
}

func (s *stubPaymentService) Refund(_ context.Context, _ services.RefundPaymentCommand) (services.PaymentRefundResult, error) {
	s.refundCalls++
	if s.refundErr != nil {
		return services.PaymentRefundResult{}, s.refundErr
	}
	return s.refundResult, nil
}

func (s *stubPaymentService) ListByOrder(_ context.Context, _ string) ([]services.PaymentTransaction, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.txns, nil
}

type stubShipmentService struct {
	shipment services.ShipmentTracking
	getErr   error

	advanceResult services.ShipmentAdvanceResult
	advanceErr    error
	lastAdvance   services.AdvanceShipmentCommand
	advanceCalls  int
	overrideCalls int
}

func (s *stubShipmentService) Init(_ context.Context, _ services.InitShipmentCommand) (services.ShipmentTracking, error) {
	return s.shipment, nil
}

func (s *stubShipmentService) GetByOrder(_ context.Context, _ string) (services.ShipmentTracking, error) {
	if s.getErr != nil {
		return services.ShipmentTracking{}, s.getErr
	}
	return s.shipment, nil
}

func (s *stubShipmentService) Advance(_ context.Context, cmd services.AdvanceShipmentCommand) (services.ShipmentAdvanceResult, error) {
	s.advanceCalls++
	s.lastAdvance = cmd
	if s.advanceErr != nil {
		return services.ShipmentAdvanceResult{}, s.advanceErr
	}
	return s.advanceResult, nil
}

func (s *stubShipmentService) Override(_ context.Context, cmd services.AdvanceShipmentCommand) (services.ShipmentAdvanceResult, error) {
	s.overrideCalls++
	s.lastAdvance = cmd
	if s.advanceErr != nil {
		return services.ShipmentAdvanceResult{}, s.advanceErr
	}
	return s.advanceResult, nil
}

type stubLoyaltyService struct {
	account    services.RewardAccount
	accountErr error

	ledger    []services.PointsTransaction
	ledgerErr error
	lastPager services.Pagination

	delivered []string
	reversals []string
	redeemErr error
}

func (s *stubLoyaltyService) OnDelivered(_ context.Context, order services.Order) (services.RewardAccount, error) {
	s.delivered = append(s.delivered, order.ID)
	return s.account, nil
}

func (s *stubLoyaltyService) OnReversal(_ context.Context, order services.Order) (services.RewardAccount, error) {
	s.reversals = append(s.reversals, order.ID)
	return s.account, nil
}

func (s *stubLoyaltyService) Redeem(_ context.Context, _ services.RedeemPointsCommand) (services.RewardAccount, error) {
	if s.redeemErr != nil {
		return services.RewardAccount{}, s.redeemErr
	}
	return s.account, nil
}

func (s *stubLoyaltyService) GetAccount(_ context.Context, _ string) (services.RewardAccount, error) {
	if s.accountErr != nil {
		return services.RewardAccount{}, s.accountErr
	}
	return s.account, nil
}

func (s *stubLoyaltyService) Ledger(_ context.Context, _ string, pager services.Pagination) ([]services.PointsTransaction, error) {
	s.lastPager = pager
	if s.ledgerErr != nil {
		return nil, s.ledgerErr
	}
	return s.ledger, nil
}

type stubInvoiceService struct {
	invoice services.Invoice
	getErr  error

	artifact    []byte
	downloadErr error
	downloads   int
}

func (s *stubInvoiceService) Upsert(_ context.Context, _ services.UpsertInvoiceCommand) (services.Invoice, []byte, error) {
	return s.invoice, s.artifact, nil
}

func (s *stubInvoiceService) GetByOrder(_ context.Context, _ string) (services.Invoice, error) {
	if s.getErr != nil {
		return services.Invoice{}, s.getErr
	}
	return s.invoice, nil
}

func (s *stubInvoiceService) Download(_ context.Context, _ string) ([]byte, error) {
	s.downloads++
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	return s.artifact, nil
}

type notifierCall struct {
	event   string
	orderID string
}

type recordingNotifier struct {
	calls []notifierCall
}

func (n *recordingNotifier) record(event, orderID string) {
	n.calls = append(n.calls, notifierCall{event: event, orderID: orderID})
}

func (n *recordingNotifier) OrderConfirmed(_ context.Context, order services.Order) {
	n.record("order_confirmed", order.ID)
}

func (n *recordingNotifier) SellerNewOrder(_ context.Context, order services.Order, _ string) {
	n.record("seller_new_order", order.ID)
}

func (n *recordingNotifier) PaymentReceived(_ context.Context, order services.Order, _ services.PaymentTransaction, _ []byte) {
	n.record("payment_received", order.ID)
}

func (n *recordingNotifier) ShipmentDispatched(_ context.Context, order services.Order, _ services.ShipmentTracking) {
	n.record("shipment_dispatched", order.ID)
}

func (n *recordingNotifier) OutForDelivery(_ context.Context, order services.Order, _ services.ShipmentTracking) {
	n.record("out_for_delivery", order.ID)
}

func (n *recordingNotifier) Delivered(_ context.Context, order services.Order, _ services.ShipmentTracking, _ []byte) {
	n.record("delivered", order.ID)
}

func (n *recordingNotifier) Refunded(_ context.Context, order services.Order, _ services.PaymentTransaction) {
	n.record("refunded", order.ID)
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) Health(_ context.Context) (services.SystemHealthReport, error) {
	if s.err != nil {
		return services.SystemHealthReport{}, s.err
	}
	return s.report, nil
}
