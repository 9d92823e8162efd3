package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

type invoiceRow struct {
	ID            string          `gorm:"primaryKey;size:64"`
	InvoiceNumber string          `gorm:"size:48;uniqueIndex"`
	OrderID       string          `gorm:"size:64;uniqueIndex"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(12,2)"`
	Discount      decimal.Decimal `gorm:"type:numeric(12,2)"`
	Shipping      decimal.Decimal `gorm:"type:numeric(12,2)"`
	Tax           decimal.Decimal `gorm:"type:numeric(12,2)"`
	Total         decimal.Decimal `gorm:"type:numeric(12,2)"`
	IsPaid        bool
	PaidAt        *time.Time
	ArtifactRef   string `gorm:"size:128"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (invoiceRow) TableName() string { return "invoices" }

type invoiceRepository struct {
	store *Store
}

var _ repositories.InvoiceRepository = (*invoiceRepository)(nil)

// Upsert writes the invoice keyed by order, keeping the 1:1 constraint at the
// storage layer through the unique index on order_id.
func (r *invoiceRepository) Upsert(ctx context.Context, invoice domain.Invoice) (domain.Invoice, error) {
	if strings.TrimSpace(invoice.ID) == "" {
		return domain.Invoice{}, errors.New("invoice repository: invoice id is required")
	}
	if strings.TrimSpace(invoice.OrderID) == "" {
		return domain.Invoice{}, errors.New("invoice repository: order id is required")
	}

	row := invoiceRowFrom(invoice)
	err := r.store.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subtotal", "discount", "shipping", "tax", "total", "is_paid", "paid_at", "artifact_ref", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return domain.Invoice{}, mapError("invoice repository: upsert", err)
	}
	return r.FindByOrder(ctx, invoice.OrderID)
}

func (r *invoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Invoice{}, errors.New("invoice repository: order id is required")
	}

	var row invoiceRow
	if err := r.store.conn(ctx).First(&row, "order_id = ?", orderID).Error; err != nil {
		return domain.Invoice{}, mapError("invoice repository: find by order", err)
	}
	return invoiceToDomain(row), nil
}

func invoiceRowFrom(invoice domain.Invoice) invoiceRow {
	return invoiceRow{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		OrderID:       invoice.OrderID,
		Subtotal:      invoice.Subtotal,
		Discount:      invoice.Discount,
		Shipping:      invoice.Shipping,
		Tax:           invoice.Tax,
		Total:         invoice.Total,
		IsPaid:        invoice.IsPaid,
		PaidAt:        invoice.PaidAt,
		ArtifactRef:   invoice.ArtifactRef,
		CreatedAt:     invoice.CreatedAt,
		UpdatedAt:     invoice.UpdatedAt,
	}
}

func invoiceToDomain(row invoiceRow) domain.Invoice {
	return domain.Invoice{
		ID:            row.ID,
		InvoiceNumber: row.InvoiceNumber,
		OrderID:       row.OrderID,
		Subtotal:      row.Subtotal,
		Discount:      row.Discount,
		Shipping:      row.Shipping,
		Tax:           row.Tax,
		Total:         row.Total,
		IsPaid:        row.IsPaid,
		PaidAt:        row.PaidAt,
		ArtifactRef:   row.ArtifactRef,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
