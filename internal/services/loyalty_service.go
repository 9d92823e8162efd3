package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

const (
	rewardAccountIDPrefix = "acct_"
	pointsTxnIDPrefix     = "ptx_"
)

var (
	// ErrLoyaltyInvalidInput signals the caller provided invalid data.
	ErrLoyaltyInvalidInput = errors.New("loyalty: invalid input")
	// ErrLoyaltyInsufficientBalance indicates a redemption exceeds the balance.
	ErrLoyaltyInsufficientBalance = errors.New("loyalty: insufficient balance")
)

// LoyaltyConfig carries the configured conversion and tier thresholds.
type LoyaltyConfig struct {
	// PointsPerUnit is the number of points earned per unit of the
	// reference currency, e.g. 10.
	PointsPerUnit int64
	// CurrencyRate converts order totals into the reference currency, e.g. 30.
	CurrencyRate decimal.Decimal
	// Tier thresholds on cumulative lifetime-earned points.
	SilverThreshold   int
	GoldThreshold     int
	PlatinumThreshold int
}

// DefaultLoyaltyConfig returns the stock program: 10 points per reference
// unit at a rate of 30, tiers at 2000/5000/10000 lifetime points.
func DefaultLoyaltyConfig() LoyaltyConfig {
	return LoyaltyConfig{
		PointsPerUnit:     10,
		CurrencyRate:      decimal.NewFromInt(30),
		SilverThreshold:   2000,
		GoldThreshold:     5000,
		PlatinumThreshold: 10000,
	}
}

// LoyaltyServiceDeps bundles collaborators for the ledger reconciler.
type LoyaltyServiceDeps struct {
	Accounts    repositories.RewardAccountRepository
	Ledger      repositories.PointsLedgerRepository
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Config      LoyaltyConfig
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type loyaltyService struct {
	accounts   repositories.RewardAccountRepository
	ledger     repositories.PointsLedgerRepository
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	cfg        LoyaltyConfig
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ LoyaltyService = (*loyaltyService)(nil)

// NewLoyaltyService wires dependencies into a concrete LoyaltyService implementation.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Accounts == nil {
		return nil, errors.New("loyalty service: account repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("loyalty service: ledger repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("loyalty service: order repository is required")
	}
	cfg := deps.Config
	if cfg.PointsPerUnit <= 0 || !cfg.CurrencyRate.IsPositive() {
		return nil, errors.New("loyalty service: conversion rates must be positive")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &loyaltyService{
		accounts:   deps.Accounts,
		ledger:     deps.Ledger,
		orders:     deps.Orders,
		unitOfWork: unit,
		cfg:        cfg,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// OnDelivered awards points for a delivered order exactly once. A second
// delivery event for the same order is a no-op.
func (s *loyaltyService) OnDelivered(ctx context.Context, order Order) (RewardAccount, error) {
	if order.BuyerID == nil || strings.TrimSpace(*order.BuyerID) == "" {
		return RewardAccount{}, fmt.Errorf("%w: order has no buyer", ErrLoyaltyInvalidInput)
	}
	buyerID := *order.BuyerID

	account, err := s.getOrCreateAccount(ctx, buyerID)
	if err != nil {
		return RewardAccount{}, err
	}

	if existing, err := s.ledger.FindByOrder(ctx, account.ID, order.ID, domain.PointsEarned); err == nil && existing.ID != "" {
		return account, nil
	} else if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
			return RewardAccount{}, err
		}
	}

	points := s.pointsFor(order.Total)
	if points <= 0 {
		return account, nil
	}

	now := s.clock()
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		account.Balance += points
		account.LifetimeEarned += points
		account.Tier = s.tierFor(account.LifetimeEarned)
		account.UpdatedAt = now

		saved, err := s.accounts.Upsert(txCtx, account)
		if err != nil {
			return err
		}
		account = saved

		if err := s.ledger.Append(txCtx, domain.PointsTransaction{
			ID:           pointsTxnIDPrefix + s.newID(),
			AccountID:    account.ID,
			OrderID:      valuePtr(order.ID),
			Type:         domain.PointsEarned,
			Points:       points,
			BalanceAfter: account.Balance,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		order.PointsEarned = points
		order.UpdatedAt = now
		return s.orders.Update(txCtx, order)
	})
	if err != nil {
		return RewardAccount{}, err
	}

	s.logger(ctx, "loyalty.earned", map[string]any{
		"buyer_id": buyerID,
		"order_id": order.ID,
		"points":   points,
		"tier":     string(account.Tier),
	})
	return account, nil
}

// OnReversal claws earned points back after a cancellation or return, capped
// at the current balance, exactly once per order.
func (s *loyaltyService) OnReversal(ctx context.Context, order Order) (RewardAccount, error) {
	if order.BuyerID == nil || strings.TrimSpace(*order.BuyerID) == "" {
		return RewardAccount{}, fmt.Errorf("%w: order has no buyer", ErrLoyaltyInvalidInput)
	}
	buyerID := *order.BuyerID

	account, err := s.getOrCreateAccount(ctx, buyerID)
	if err != nil {
		return RewardAccount{}, err
	}

	earned, err := s.ledger.FindByOrder(ctx, account.ID, order.ID, domain.PointsEarned)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			// Nothing was awarded for this order.
			return account, nil
		}
		return RewardAccount{}, err
	}

	if existing, err := s.ledger.FindByOrder(ctx, account.ID, order.ID, domain.PointsAdjustment); err == nil && existing.ID != "" {
		return account, nil
	} else if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
			return RewardAccount{}, err
		}
	}

	clawback := earned.Points
	if order.PointsEarned > 0 && order.PointsEarned < clawback {
		clawback = order.PointsEarned
	}
	if account.Balance < clawback {
		clawback = account.Balance
	}
	if clawback <= 0 {
		return account, nil
	}

	now := s.clock()
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		account.Balance -= clawback
		account.LifetimeEarned -= clawback
		if account.LifetimeEarned < 0 {
			account.LifetimeEarned = 0
		}
		account.Tier = s.tierFor(account.LifetimeEarned)
		account.UpdatedAt = now

		saved, err := s.accounts.Upsert(txCtx, account)
		if err != nil {
			return err
		}
		account = saved

		return s.ledger.Append(txCtx, domain.PointsTransaction{
			ID:           pointsTxnIDPrefix + s.newID(),
			AccountID:    account.ID,
			OrderID:      valuePtr(order.ID),
			Type:         domain.PointsAdjustment,
			Points:       -clawback,
			BalanceAfter: account.Balance,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return RewardAccount{}, err
	}

	s.logger(ctx, "loyalty.reversed", map[string]any{
		"buyer_id": buyerID,
		"order_id": order.ID,
		"points":   clawback,
		"tier":     string(account.Tier),
	})
	return account, nil
}

// Redeem spends points from the buyer's balance at checkout time.
func (s *loyaltyService) Redeem(ctx context.Context, cmd RedeemPointsCommand) (RewardAccount, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return RewardAccount{}, fmt.Errorf("%w: buyer id is required", ErrLoyaltyInvalidInput)
	}
	if cmd.Points <= 0 {
		return RewardAccount{}, fmt.Errorf("%w: points must be positive", ErrLoyaltyInvalidInput)
	}

	account, err := s.getOrCreateAccount(ctx, buyerID)
	if err != nil {
		return RewardAccount{}, err
	}
	if account.Balance < cmd.Points {
		return RewardAccount{}, ErrLoyaltyInsufficientBalance
	}

	now := s.clock()
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		account.Balance -= cmd.Points
		account.UpdatedAt = now

		saved, err := s.accounts.Upsert(txCtx, account)
		if err != nil {
			return err
		}
		account = saved

		return s.ledger.Append(txCtx, domain.PointsTransaction{
			ID:           pointsTxnIDPrefix + s.newID(),
			AccountID:    account.ID,
			OrderID:      cmd.OrderID,
			Type:         domain.PointsRedeemed,
			Points:       -cmd.Points,
			BalanceAfter: account.Balance,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return RewardAccount{}, err
	}
	return account, nil
}

func (s *loyaltyService) GetAccount(ctx context.Context, buyerID string) (RewardAccount, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return RewardAccount{}, fmt.Errorf("%w: buyer id is required", ErrLoyaltyInvalidInput)
	}
	return s.getOrCreateAccount(ctx, buyerID)
}

// Ledger lists the buyer's points journal, newest first. A buyer with no
// account yet has an empty history.
func (s *loyaltyService) Ledger(ctx context.Context, buyerID string, pager Pagination) ([]PointsTransaction, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", ErrLoyaltyInvalidInput)
	}

	account, err := s.accounts.FindByBuyer(ctx, buyerID)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return []PointsTransaction{}, nil
		}
		return nil, err
	}
	return s.ledger.ListByAccount(ctx, account.ID, pager)
}

func (s *loyaltyService) getOrCreateAccount(ctx context.Context, buyerID string) (RewardAccount, error) {
	account, err := s.accounts.FindByBuyer(ctx, buyerID)
	if err == nil {
		return account, nil
	}
	if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
		return RewardAccount{}, err
	}

	now := s.clock()
	return s.accounts.Upsert(ctx, domain.RewardAccount{
		ID:        rewardAccountIDPrefix + s.newID(),
		BuyerID:   buyerID,
		Tier:      domain.TierBronze,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// pointsFor converts an order total into whole points via the reference
// currency: floor(total / rate * pointsPerUnit).
func (s *loyaltyService) pointsFor(total decimal.Decimal) int {
	points := total.Div(s.cfg.CurrencyRate).Mul(decimal.NewFromInt(s.cfg.PointsPerUnit))
	return int(points.IntPart())
}

func (s *loyaltyService) tierFor(lifetime int) LoyaltyTier {
	switch {
	case lifetime >= s.cfg.PlatinumThreshold:
		return domain.TierPlatinum
	case lifetime >= s.cfg.GoldThreshold:
		return domain.TierGold
	case lifetime >= s.cfg.SilverThreshold:
		return domain.TierSilver
	default:
		return domain.TierBronze
	}
}
