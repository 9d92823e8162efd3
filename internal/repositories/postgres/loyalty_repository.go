package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

type rewardAccountRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	BuyerID        string `gorm:"size:64;uniqueIndex"`
	Balance        int
	LifetimeEarned int
	Tier           string `gorm:"size:16"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (rewardAccountRow) TableName() string { return "reward_accounts" }

type pointsTransactionRow struct {
	ID           string  `gorm:"primaryKey;size:64"`
	AccountID    string  `gorm:"size:64;index"`
	OrderID      *string `gorm:"size:64;index"`
	Type         string  `gorm:"size:16"`
	Points       int
	BalanceAfter int
	CreatedAt    time.Time
}

func (pointsTransactionRow) TableName() string { return "points_transactions" }

type rewardAccountRepository struct {
	store *Store
}

var _ repositories.RewardAccountRepository = (*rewardAccountRepository)(nil)

func (r *rewardAccountRepository) FindByBuyer(ctx context.Context, buyerID string) (domain.RewardAccount, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.RewardAccount{}, errors.New("reward account repository: buyer id is required")
	}

	var row rewardAccountRow
	if err := r.store.conn(ctx).First(&row, "buyer_id = ?", buyerID).Error; err != nil {
		return domain.RewardAccount{}, mapError("reward account repository: find by buyer", err)
	}
	return rewardAccountToDomain(row), nil
}

func (r *rewardAccountRepository) Upsert(ctx context.Context, account domain.RewardAccount) (domain.RewardAccount, error) {
	if strings.TrimSpace(account.ID) == "" {
		return domain.RewardAccount{}, errors.New("reward account repository: account id is required")
	}
	if strings.TrimSpace(account.BuyerID) == "" {
		return domain.RewardAccount{}, errors.New("reward account repository: buyer id is required")
	}

	row := rewardAccountRow{
		ID:             account.ID,
		BuyerID:        account.BuyerID,
		Balance:        account.Balance,
		LifetimeEarned: account.LifetimeEarned,
		Tier:           string(account.Tier),
		CreatedAt:      account.CreatedAt,
		UpdatedAt:      account.UpdatedAt,
	}
	err := r.store.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "buyer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "lifetime_earned", "tier", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return domain.RewardAccount{}, mapError("reward account repository: upsert", err)
	}
	return r.FindByBuyer(ctx, account.BuyerID)
}

type pointsLedgerRepository struct {
	store *Store
}

var _ repositories.PointsLedgerRepository = (*pointsLedgerRepository)(nil)

func (r *pointsLedgerRepository) Append(ctx context.Context, txn domain.PointsTransaction) error {
	if strings.TrimSpace(txn.ID) == "" {
		return errors.New("points ledger repository: transaction id is required")
	}

	row := pointsTransactionRow{
		ID:           txn.ID,
		AccountID:    txn.AccountID,
		OrderID:      txn.OrderID,
		Type:         string(txn.Type),
		Points:       txn.Points,
		BalanceAfter: txn.BalanceAfter,
		CreatedAt:    txn.CreatedAt,
	}
	if err := r.store.conn(ctx).Create(&row).Error; err != nil {
		return mapError("points ledger repository: append", err)
	}
	return nil
}

func (r *pointsLedgerRepository) FindByOrder(ctx context.Context, accountID, orderID string, txnType domain.PointsTransactionType) (domain.PointsTransaction, error) {
	accountID = strings.TrimSpace(accountID)
	orderID = strings.TrimSpace(orderID)
	if accountID == "" || orderID == "" {
		return domain.PointsTransaction{}, errors.New("points ledger repository: account and order ids are required")
	}

	var row pointsTransactionRow
	err := r.store.conn(ctx).
		First(&row, "account_id = ? AND order_id = ? AND type = ?", accountID, orderID, string(txnType)).Error
	if err != nil {
		return domain.PointsTransaction{}, mapError("points ledger repository: find by order", err)
	}
	return pointsToDomain(row), nil
}

func (r *pointsLedgerRepository) ListByAccount(ctx context.Context, accountID string, pager domain.Pagination) ([]domain.PointsTransaction, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("points ledger repository: account id is required")
	}

	db := r.store.conn(ctx).Where("account_id = ?", accountID).Order("created_at DESC, id DESC")
	if pager.PageSize > 0 {
		db = db.Limit(pager.PageSize)
	}
	if offset, err := strconv.Atoi(strings.TrimSpace(pager.PageToken)); err == nil && offset > 0 {
		db = db.Offset(offset)
	}

	var rows []pointsTransactionRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, mapError("points ledger repository: list by account", err)
	}

	txns := make([]domain.PointsTransaction, 0, len(rows))
	for _, row := range rows {
		txns = append(txns, pointsToDomain(row))
	}
	return txns, nil
}

func rewardAccountToDomain(row rewardAccountRow) domain.RewardAccount {
	return domain.RewardAccount{
		ID:             row.ID,
		BuyerID:        row.BuyerID,
		Balance:        row.Balance,
		LifetimeEarned: row.LifetimeEarned,
		Tier:           domain.LoyaltyTier(row.Tier),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func pointsToDomain(row pointsTransactionRow) domain.PointsTransaction {
	return domain.PointsTransaction{
		ID:           row.ID,
		AccountID:    row.AccountID,
		OrderID:      row.OrderID,
		Type:         domain.PointsTransactionType(row.Type),
		Points:       row.Points,
		BalanceAfter: row.BalanceAfter,
		CreatedAt:    row.CreatedAt,
	}
}
