package handlers

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/shophub/marketplace/internal/platform/auth"
	"github.com/shophub/marketplace/internal/services"
)

func TestNewRouter_HealthEndpointsAtRoot(t *testing.T) {
	router := NewRouter()

	rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/healthz", "", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = serveRequest(router, newIdentityRequest(http.MethodGet, "/readyz", "", "", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNewRouter_NotFoundEnvelope(t *testing.T) {
	router := NewRouter()

	rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/no/such/route", "", "", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if code := responseErrorCode(t, rec); code != "route_not_found" {
		t.Fatalf("error code = %q, want route_not_found", code)
	}
}

func TestNewRouter_UnsetGroupsReportNotImplemented(t *testing.T) {
	router := NewRouter()

	rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/api/v1/rewards/account", "", "buyer_1", ""))

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
	if code := responseErrorCode(t, rec); code != "not_implemented" {
		t.Fatalf("error code = %q, want not_implemented", code)
	}
}

func TestNewRouter_MountsConfiguredGroups(t *testing.T) {
	checkout := &stubCheckoutService{result: services.CheckoutResult{Orders: []services.Order{handlerOrder("SH-1001")}}}
	orders := newStubOrderService(handlerOrder("SH-1001"))
	loyalty := &stubLoyaltyService{account: services.RewardAccount{ID: "acct_1", BuyerID: "buyer_1"}}

	router := NewRouter(
		WithMiddlewares(auth.Middleware()),
		WithCheckoutRoutes(NewCheckoutHandlers(checkout).Routes),
		WithOrderRoutes(func(r chi.Router) {
			NewOrderHandlers(orders, loyalty).Routes(r)
		}),
		WithRewardRoutes(NewRewardHandlers(loyalty).Routes),
		WithAdminRoutes(NewOrderHandlers(orders, loyalty).AdminRoutes),
	)

	rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/api/v1/checkout/", checkoutBody, "buyer_1", "buyer"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	rec = serveRequest(router, newIdentityRequest(http.MethodGet, "/api/v1/orders/SH-1001", "", "buyer_1", "buyer"))
	if rec.Code != http.StatusOK {
		t.Fatalf("orders status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = serveRequest(router, newIdentityRequest(http.MethodGet, "/api/v1/rewards/account", "", "buyer_1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("rewards status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = serveRequest(router, newIdentityRequest(http.MethodGet, "/api/v1/admin/orders", "", "ops_1", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestNewRouter_MethodNotAllowedEnvelope(t *testing.T) {
	router := NewRouter()

	rec := serveRequest(router, newIdentityRequest(http.MethodPost, "/healthz", "", "", ""))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if code := responseErrorCode(t, rec); code != "method_not_allowed" {
		t.Fatalf("error code = %q, want method_not_allowed", code)
	}
}
