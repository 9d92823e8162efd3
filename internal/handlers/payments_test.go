package handlers

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/services"
)

func pendingTransaction(orderID string) services.PaymentTransaction {
	return services.PaymentTransaction{
		ID:                "txn_1",
		TransactionNumber: "TXN-5001",
		OrderID:           orderID,
		Method:            domain.PaymentMethodCard,
		Amount:            decimal.RequireFromString("133.25"),
		Currency:          "USD",
		Status:            domain.TransactionStatusPending,
		CreatedAt:         handlerTestNow,
		UpdatedAt:         handlerTestNow,
	}
}

func TestPaymentHandlers_ListTransactions(t *testing.T) {
	order := handlerOrder("SH-1001")
	orders := newStubOrderService(order)
	payments := &stubPaymentService{txns: []services.PaymentTransaction{pendingTransaction(order.ID)}}
	router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, nil).Routes)

	t.Run("buyer lists own transactions", func(t *testing.T) {
		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/orders/SH-1001/payments", "", "buyer_1", "buyer"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp struct {
			Items []struct {
				TransactionNumber string `json:"transaction_number"`
				Amount            string `json:"amount"`
				Status            string `json:"status"`
			} `json:"items"`
		}
		decodeBody(t, rec, &resp)
		if len(resp.Items) != 1 {
			t.Fatalf("items = %d, want 1", len(resp.Items))
		}
		if resp.Items[0].TransactionNumber != "TXN-5001" || resp.Items[0].Amount != "133.25" || resp.Items[0].Status != "pending" {
			t.Fatalf("unexpected transaction payload %+v", resp.Items[0])
		}
	})

	t.Run("foreign buyer sees not found", func(t *testing.T) {
		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/orders/SH-1001/payments", "", "buyer_2", "buyer"))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestPaymentHandlers_SelectMethod(t *testing.T) {
	order := handlerOrder("SH-1001")

	t.Run("buyer switches to cash on delivery", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{}
		txn := pendingTransaction(order.ID)
		txn.Method = domain.PaymentMethodCashOnDelivery
		payments.selectResult = txn
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, nil).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/method", `{"method":"COD"}`, "buyer_1", "buyer"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		if payments.lastSelect.Method != domain.PaymentMethodCashOnDelivery {
			t.Fatalf("method = %q, want cod", payments.lastSelect.Method)
		}
		if payments.lastSelect.BuyerID != "buyer_1" {
			t.Fatalf("buyer id = %q, want buyer_1", payments.lastSelect.BuyerID)
		}
	})

	t.Run("non-buyer sees not found", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, nil).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/method", `{"method":"cod"}`, "buyer_2", "buyer"))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("unsupported method maps to bad request", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{selectErr: services.ErrPaymentMethodUnsupported}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, nil).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/method", `{"method":"wire"}`, "buyer_1", ""))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestPaymentHandlers_ApprovePayment(t *testing.T) {
	order := handlerOrder("SH-1001")
	completed := pendingTransaction(order.ID)
	completed.Status = domain.TransactionStatusCompleted
	completed.PlatformFee = decimal.RequireFromString("4.66")
	completed.ProcessingFee = decimal.RequireFromString("2.67")
	completed.NetAmount = decimal.RequireFromString("125.92")

	invoice := services.Invoice{
		ID:            "inv_1",
		InvoiceNumber: "INV-7001",
		OrderID:       order.ID,
		Total:         order.Total,
		IsPaid:        true,
	}

	t.Run("requires admin role", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, nil).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/approve", "", "seller_1", "seller"))

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
		if payments.approveCalls != 0 {
			t.Fatalf("approve called %d times without the admin role", payments.approveCalls)
		}
	})

	t.Run("settles and notifies", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{
			approveResult: services.PaymentApprovalResult{
				Transaction: completed,
				Order:       order,
				Invoice:     invoice,
				Events:      []domain.DomainEvent{domain.EventOrderPaid},
			},
		}
		notifier := &recordingNotifier{}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, notifier).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/approve", "", "ops_1", "admin"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		if len(notifier.calls) != 1 || notifier.calls[0].event != "payment_received" {
			t.Fatalf("notifier calls = %+v, want one payment_received", notifier.calls)
		}

		var resp struct {
			Transaction struct {
				Status    string `json:"status"`
				NetAmount string `json:"net_amount"`
			} `json:"transaction"`
			Invoice struct {
				InvoiceNumber string `json:"invoice_number"`
				IsPaid        bool   `json:"is_paid"`
			} `json:"invoice"`
		}
		decodeBody(t, rec, &resp)
		if resp.Transaction.Status != "completed" || resp.Transaction.NetAmount != "125.92" {
			t.Fatalf("unexpected transaction payload %+v", resp.Transaction)
		}
		if resp.Invoice.InvoiceNumber != "INV-7001" || !resp.Invoice.IsPaid {
			t.Fatalf("unexpected invoice payload %+v", resp.Invoice)
		}
	})

	t.Run("idempotent re-approval skips notification", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{
			approveResult: services.PaymentApprovalResult{
				Transaction:      completed,
				Order:            order,
				Invoice:          invoice,
				AlreadyCompleted: true,
			},
		}
		notifier := &recordingNotifier{}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, notifier).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/approve", "", "ops_1", "admin"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if len(notifier.calls) != 0 {
			t.Fatalf("notifier calls = %+v, want none on replay", notifier.calls)
		}
	})

	t.Run("missing transaction maps to not found", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{approveErr: services.ErrPaymentNotFound}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, nil).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/approve", "", "ops_1", "admin"))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
		if code := responseErrorCode(t, rec); code != "transaction_not_found" {
			t.Fatalf("error code = %q, want transaction_not_found", code)
		}
	})
}

func TestPaymentHandlers_RefundPayment(t *testing.T) {
	order := handlerOrder("SH-1001")
	refunded := pendingTransaction(order.ID)
	refunded.Status = domain.TransactionStatusRefunded
	refunded.RefundAmount = order.Total

	returnedOrder := order
	returnedOrder.Status = domain.OrderStatusReturned
	returnedOrder.PaymentStatus = domain.PaymentStatusRefunded

	t.Run("reverses loyalty and notifies", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{
			refundResult: services.PaymentRefundResult{
				Transaction: refunded,
				Order:       returnedOrder,
				Events:      []domain.DomainEvent{domain.EventPaymentRefunded, domain.EventOrderReturned},
			},
		}
		loyalty := &stubLoyaltyService{}
		notifier := &recordingNotifier{}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, loyalty, notifier).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/refund", "", "ops_1", "admin"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		if len(loyalty.reversals) != 1 {
			t.Fatalf("loyalty reversals = %v, want exactly one", loyalty.reversals)
		}
		if len(notifier.calls) != 1 || notifier.calls[0].event != "refunded" {
			t.Fatalf("notifier calls = %+v, want one refunded", notifier.calls)
		}

		var resp struct {
			Transaction struct {
				Status       string `json:"status"`
				RefundAmount string `json:"refund_amount"`
			} `json:"transaction"`
			Order struct {
				Status string `json:"status"`
			} `json:"order"`
		}
		decodeBody(t, rec, &resp)
		if resp.Transaction.Status != "refunded" || resp.Transaction.RefundAmount != "133.25" {
			t.Fatalf("unexpected transaction payload %+v", resp.Transaction)
		}
		if resp.Order.Status != "RETURNED" {
			t.Fatalf("order status = %q, want RETURNED", resp.Order.Status)
		}
	})

	t.Run("pending transaction maps to conflict", func(t *testing.T) {
		orders := newStubOrderService(order)
		payments := &stubPaymentService{refundErr: services.ErrInvalidTransactionState}
		router := mountGroup("/orders", NewPaymentHandlers(orders, payments, nil, nil).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/orders/SH-1001/payment/refund", "", "ops_1", "admin"))

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
		if code := responseErrorCode(t, rec); code != "invalid_transaction_state" {
			t.Fatalf("error code = %q, want invalid_transaction_state", code)
		}
	})
}
