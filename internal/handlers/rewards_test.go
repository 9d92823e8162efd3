package handlers

import (
	"net/http"
	"testing"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/services"
)

func TestRewardHandlers_GetAccount(t *testing.T) {
	loyalty := &stubLoyaltyService{
		account: services.RewardAccount{
			ID:             "acct_1",
			BuyerID:        "buyer_1",
			Balance:        250,
			LifetimeEarned: 2150,
			Tier:           domain.TierSilver,
			UpdatedAt:      handlerTestNow,
		},
	}
	router := mountGroup("/rewards", NewRewardHandlers(loyalty).Routes)

	t.Run("returns the caller's account", func(t *testing.T) {
		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/rewards/account", "", "buyer_1", "buyer"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp struct {
			Account struct {
				BuyerID        string `json:"buyer_id"`
				Balance        int    `json:"balance"`
				LifetimeEarned int    `json:"lifetime_earned"`
				Tier           string `json:"tier"`
			} `json:"account"`
		}
		decodeBody(t, rec, &resp)
		if resp.Account.BuyerID != "buyer_1" || resp.Account.Balance != 250 {
			t.Fatalf("unexpected account payload %+v", resp.Account)
		}
		if resp.Account.Tier != "silver" || resp.Account.LifetimeEarned != 2150 {
			t.Fatalf("unexpected tier fields %+v", resp.Account)
		}
	})

	t.Run("anonymous caller is rejected", func(t *testing.T) {
		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/rewards/account", "", "", ""))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})
}

func TestRewardHandlers_ListLedger(t *testing.T) {
	orderID := "ord_SH-1001"
	entries := []services.PointsTransaction{
		{ID: "pts_1", AccountID: "acct_1", OrderID: &orderID, Type: domain.PointsEarned, Points: 100, BalanceAfter: 250, CreatedAt: handlerTestNow},
		{ID: "pts_2", AccountID: "acct_1", Type: domain.PointsRedeemed, Points: -100, BalanceAfter: 150, CreatedAt: handlerTestNow},
	}

	t.Run("returns journal entries", func(t *testing.T) {
		loyalty := &stubLoyaltyService{ledger: entries}
		router := mountGroup("/rewards", NewRewardHandlers(loyalty).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/rewards/ledger", "", "buyer_1", ""))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp struct {
			Items []struct {
				OrderID      string `json:"order_id"`
				Type         string `json:"type"`
				Points       int    `json:"points"`
				BalanceAfter int    `json:"balance_after"`
			} `json:"items"`
			NextPageToken string `json:"next_page_token"`
		}
		decodeBody(t, rec, &resp)
		if len(resp.Items) != 2 {
			t.Fatalf("items = %d, want 2", len(resp.Items))
		}
		if resp.Items[0].OrderID != orderID || resp.Items[0].Type != "earned" || resp.Items[0].Points != 100 {
			t.Fatalf("unexpected first entry %+v", resp.Items[0])
		}
		if resp.Items[1].OrderID != "" || resp.Items[1].Points != -100 {
			t.Fatalf("unexpected second entry %+v", resp.Items[1])
		}
		if resp.NextPageToken != "" {
			t.Fatalf("partial page should not emit a next token, got %q", resp.NextPageToken)
		}
		if loyalty.lastPager.PageSize != defaultLedgerPageSize {
			t.Fatalf("page size = %d, want default %d", loyalty.lastPager.PageSize, defaultLedgerPageSize)
		}
	})

	t.Run("full page emits the next token", func(t *testing.T) {
		loyalty := &stubLoyaltyService{ledger: entries}
		router := mountGroup("/rewards", NewRewardHandlers(loyalty).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/rewards/ledger?page_size=2", "", "buyer_1", ""))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var resp struct {
			NextPageToken string `json:"next_page_token"`
		}
		decodeBody(t, rec, &resp)
		if resp.NextPageToken != "2" {
			t.Fatalf("next_page_token = %q, want 2", resp.NextPageToken)
		}
	})

	t.Run("invalid page token is rejected", func(t *testing.T) {
		loyalty := &stubLoyaltyService{}
		router := mountGroup("/rewards", NewRewardHandlers(loyalty).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/rewards/ledger?page_token=not-a-number", "", "buyer_1", ""))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("service errors map to the loyalty envelope", func(t *testing.T) {
		loyalty := &stubLoyaltyService{ledgerErr: services.ErrLoyaltyInvalidInput}
		router := mountGroup("/rewards", NewRewardHandlers(loyalty).Routes)

		rec := serveRequest(router, newIdentityRequest(http.MethodGet, "/rewards/ledger", "", "buyer_1", ""))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		if code := responseErrorCode(t, rec); code != "invalid_request" {
			t.Fatalf("error code = %q, want invalid_request", code)
		}
	})
}
