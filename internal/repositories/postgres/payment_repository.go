package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

type paymentTransactionRow struct {
	ID                string          `gorm:"primaryKey;size:64"`
	TransactionNumber string          `gorm:"size:48;uniqueIndex"`
	OrderID           string          `gorm:"size:64;index"`
	Method            string          `gorm:"size:32"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2)"`
	Currency          string          `gorm:"size:8"`
	Status            string          `gorm:"size:32"`
	GatewayMetadata   datatypes.JSON
	PlatformFee       decimal.Decimal `gorm:"type:numeric(12,2)"`
	ProcessingFee     decimal.Decimal `gorm:"type:numeric(12,2)"`
	NetAmount         decimal.Decimal `gorm:"type:numeric(12,2)"`
	RefundAmount      decimal.Decimal `gorm:"type:numeric(12,2)"`
	CompletedAt       *time.Time
	RefundedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (paymentTransactionRow) TableName() string { return "payment_transactions" }

type paymentRepository struct {
	store *Store
}

var _ repositories.PaymentRepository = (*paymentRepository)(nil)

func (r *paymentRepository) Insert(ctx context.Context, txn domain.PaymentTransaction) error {
	if strings.TrimSpace(txn.ID) == "" {
		return errors.New("payment repository: transaction id is required")
	}

	row, err := paymentRowFrom(txn)
	if err != nil {
		return err
	}
	if err := r.store.conn(ctx).Create(&row).Error; err != nil {
		return mapError("payment repository: insert", err)
	}
	return nil
}

func (r *paymentRepository) Update(ctx context.Context, txn domain.PaymentTransaction) error {
	if strings.TrimSpace(txn.ID) == "" {
		return errors.New("payment repository: transaction id is required")
	}

	row, err := paymentRowFrom(txn)
	if err != nil {
		return err
	}
	result := r.store.conn(ctx).Model(&paymentTransactionRow{}).
		Where("id = ?", row.ID).Select("*").Omit("id", "created_at").Updates(&row)
	if result.Error != nil {
		return mapError("payment repository: update", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundError("payment repository: update", errors.New("transaction not found"))
	}
	return nil
}

func (r *paymentRepository) FindByID(ctx context.Context, txnID string) (domain.PaymentTransaction, error) {
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return domain.PaymentTransaction{}, errors.New("payment repository: transaction id is required")
	}

	var row paymentTransactionRow
	if err := r.store.conn(ctx).First(&row, "id = ?", txnID).Error; err != nil {
		return domain.PaymentTransaction{}, mapError("payment repository: find by id", err)
	}
	return paymentToDomain(row)
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payment repository: order id is required")
	}

	var rows []paymentTransactionRow
	if err := r.store.conn(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, mapError("payment repository: list by order", err)
	}

	txns := make([]domain.PaymentTransaction, 0, len(rows))
	for _, row := range rows {
		txn, err := paymentToDomain(row)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func paymentRowFrom(txn domain.PaymentTransaction) (paymentTransactionRow, error) {
	var metadata datatypes.JSON
	if len(txn.GatewayMetadata) > 0 {
		encoded, err := json.Marshal(txn.GatewayMetadata)
		if err != nil {
			return paymentTransactionRow{}, unavailableError("payment repository: encode metadata", err)
		}
		metadata = datatypes.JSON(encoded)
	}

	return paymentTransactionRow{
		ID:                txn.ID,
		TransactionNumber: txn.TransactionNumber,
		OrderID:           txn.OrderID,
		Method:            string(txn.Method),
		Amount:            txn.Amount,
		Currency:          txn.Currency,
		Status:            string(txn.Status),
		GatewayMetadata:   metadata,
		PlatformFee:       txn.PlatformFee,
		ProcessingFee:     txn.ProcessingFee,
		NetAmount:         txn.NetAmount,
		RefundAmount:      txn.RefundAmount,
		CompletedAt:       txn.CompletedAt,
		RefundedAt:        txn.RefundedAt,
		CreatedAt:         txn.CreatedAt,
		UpdatedAt:         txn.UpdatedAt,
	}, nil
}

func paymentToDomain(row paymentTransactionRow) (domain.PaymentTransaction, error) {
	var metadata map[string]any
	if len(row.GatewayMetadata) > 0 {
		if err := json.Unmarshal(row.GatewayMetadata, &metadata); err != nil {
			return domain.PaymentTransaction{}, unavailableError("payment repository: decode metadata", err)
		}
	}

	return domain.PaymentTransaction{
		ID:                row.ID,
		TransactionNumber: row.TransactionNumber,
		OrderID:           row.OrderID,
		Method:            domain.PaymentMethod(row.Method),
		Amount:            row.Amount,
		Currency:          row.Currency,
		Status:            domain.TransactionStatus(row.Status),
		GatewayMetadata:   metadata,
		PlatformFee:       row.PlatformFee,
		ProcessingFee:     row.ProcessingFee,
		NetAmount:         row.NetAmount,
		RefundAmount:      row.RefundAmount,
		CompletedAt:       row.CompletedAt,
		RefundedAt:        row.RefundedAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}
