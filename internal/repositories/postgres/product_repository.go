package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

type productRow struct {
	ID             string          `gorm:"primaryKey;size:64"`
	SellerID       string          `gorm:"size:64;index"`
	CategoryID     string          `gorm:"size:64;index"`
	Name           string          `gorm:"size:255"`
	SKU            string          `gorm:"size:64;uniqueIndex"`
	Price          decimal.Decimal `gorm:"type:numeric(12,2)"`
	Stock          int
	SalePercentage decimal.Decimal `gorm:"type:numeric(5,2)"`
	BestSeller     bool
	UpdatedAt      time.Time
}

func (productRow) TableName() string { return "products" }

type productRepository struct {
	store *Store
}

var _ repositories.ProductRepository = (*productRepository)(nil)

func (r *productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	var row productRow
	if err := r.store.conn(ctx).First(&row, "id = ?", productID).Error; err != nil {
		return domain.Product{}, mapError("product repository: find by id", err)
	}
	return row.toDomain(), nil
}

func (r *productRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	var rows []productRow
	if err := r.store.conn(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, mapError("product repository: find by ids", err)
	}

	products := make(map[string]domain.Product, len(rows))
	for _, row := range rows {
		products[row.ID] = row.toDomain()
	}
	return products, nil
}

// AdjustStock applies the signed delta under a row lock so concurrent
// checkouts cannot both observe the same free stock. A delta that would push
// stock negative fails with a conflict error and leaves the row untouched.
func (r *productRepository) AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	var updated productRow
	err := r.store.RunInTx(ctx, func(txCtx context.Context) error {
		db := r.store.conn(txCtx)

		var row productRow
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", productID).Error; err != nil {
			return mapError("product repository: lock row", err)
		}

		next := row.Stock + delta
		if next < 0 {
			return conflictError("product repository: adjust stock",
				fmt.Errorf("product %s: stock %d cannot absorb delta %d", productID, row.Stock, delta))
		}

		row.Stock = next
		row.UpdatedAt = time.Now().UTC()
		if err := db.Model(&productRow{}).Where("id = ?", productID).
			Updates(map[string]any{"stock": row.Stock, "updated_at": row.UpdatedAt}).Error; err != nil {
			return mapError("product repository: adjust stock", err)
		}
		updated = row
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated.toDomain(), nil
}

func (row productRow) toDomain() domain.Product {
	return domain.Product{
		ID:             row.ID,
		SellerID:       row.SellerID,
		CategoryID:     row.CategoryID,
		Name:           row.Name,
		SKU:            row.SKU,
		Price:          row.Price,
		Stock:          row.Stock,
		SalePercentage: row.SalePercentage,
		BestSeller:     row.BestSeller,
		UpdatedAt:      row.UpdatedAt,
	}
}
