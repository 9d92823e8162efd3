package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shophub/marketplace/internal/platform/auth"
	"github.com/shophub/marketplace/internal/platform/httpx"
	"github.com/shophub/marketplace/internal/platform/pagination"
	"github.com/shophub/marketplace/internal/services"
)

const (
	defaultLedgerPageSize = 50
	maxLedgerPageSize     = 200
)

type rewardAccountResponse struct {
	Account rewardAccountPayload `json:"account"`
}

type pointsLedgerResponse struct {
	Items         []pointsTransactionPayload `json:"items"`
	NextPageToken string                     `json:"next_page_token,omitempty"`
}

// RewardHandlers exposes the buyer's loyalty account and points journal.
type RewardHandlers struct {
	loyalty services.LoyaltyService
}

// NewRewardHandlers constructs a new RewardHandlers instance.
func NewRewardHandlers(loyalty services.LoyaltyService) *RewardHandlers {
	return &RewardHandlers{loyalty: loyalty}
}

// Routes registers the /rewards endpoints.
func (h *RewardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireIdentity)
	r.Get("/account", h.getAccount)
	r.Get("/ledger", h.listLedger)
}

func (h *RewardHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_service_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	account, err := h.loyalty.GetAccount(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeLoyaltyError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, rewardAccountResponse{Account: buildRewardAccountPayload(account)})
}

func (h *RewardHandlers) listLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_service_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultLedgerPageSize,
		MaxPageSize:     maxLedgerPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	pager := services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}

	entries, err := h.loyalty.Ledger(ctx, strings.TrimSpace(identity.UID), pager)
	if err != nil {
		writeLoyaltyError(w, r, err)
		return
	}

	items := make([]pointsTransactionPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, buildPointsTransactionPayload(entry))
	}

	payload := pointsLedgerResponse{Items: items}
	if len(entries) == params.PageSize {
		payload.NextPageToken = pagination.NextToken(params)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func writeLoyaltyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrLoyaltyInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLoyaltyInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", "reward balance too low", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
