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

type cartRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	BuyerID   string `gorm:"size:64;index"`
	SessionID string `gorm:"size:128;index"`
	Currency  string `gorm:"size:8"`
	UpdatedAt time.Time
}

func (cartRow) TableName() string { return "carts" }

type cartLineRow struct {
	ID             string          `gorm:"primaryKey;size:64"`
	CartID         string          `gorm:"size:64;index"`
	ProductID      string          `gorm:"size:64"`
	SellerID       string          `gorm:"size:64"`
	CategoryID     string          `gorm:"size:64"`
	ProductName    string          `gorm:"size:255"`
	SKU            string          `gorm:"size:64"`
	Quantity       int
	UnitPrice      decimal.Decimal `gorm:"type:numeric(12,2)"`
	SalePercentage decimal.Decimal `gorm:"type:numeric(5,2)"`
	BestSeller     bool
}

func (cartLineRow) TableName() string { return "cart_lines" }

type cartRepository struct {
	store *Store
}

var _ repositories.CartRepository = (*cartRepository)(nil)

func (r *cartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}
	cart.ID = cartID

	err := r.store.RunInTx(ctx, func(txCtx context.Context) error {
		db := r.store.conn(txCtx)
		row := cartRowFrom(cart)
		if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return mapError("cart repository: upsert header", err)
		}
		if err := db.Where("cart_id = ?", cartID).Delete(&cartLineRow{}).Error; err != nil {
			return mapError("cart repository: clear lines", err)
		}
		if len(cart.Lines) == 0 {
			return nil
		}
		rows := make([]cartLineRow, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			rows = append(rows, cartLineRowFrom(cartID, line))
		}
		if err := db.Create(&rows).Error; err != nil {
			return mapError("cart repository: insert lines", err)
		}
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return r.FindByID(ctx, cartID)
}

func (r *cartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	db := r.store.conn(ctx)
	var row cartRow
	if err := db.First(&row, "id = ?", cartID).Error; err != nil {
		return domain.Cart{}, mapError("cart repository: find by id", err)
	}
	return r.load(ctx, row)
}

func (r *cartRepository) FindByBuyer(ctx context.Context, buyerID string) (domain.Cart, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}

	db := r.store.conn(ctx)
	var row cartRow
	if err := db.Order("updated_at DESC").First(&row, "buyer_id = ?", buyerID).Error; err != nil {
		return domain.Cart{}, mapError("cart repository: find by buyer", err)
	}
	return r.load(ctx, row)
}

func (r *cartRepository) Clear(ctx context.Context, cartID string) error {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart repository: cart id is required")
	}

	db := r.store.conn(ctx)
	if err := db.Where("cart_id = ?", cartID).Delete(&cartLineRow{}).Error; err != nil {
		return mapError("cart repository: clear lines", err)
	}
	return nil
}

func (r *cartRepository) load(ctx context.Context, row cartRow) (domain.Cart, error) {
	db := r.store.conn(ctx)
	var lineRows []cartLineRow
	if err := db.Where("cart_id = ?", row.ID).Order("id ASC").Find(&lineRows).Error; err != nil {
		return domain.Cart{}, mapError("cart repository: load lines", err)
	}

	cart := domain.Cart{
		ID:        row.ID,
		BuyerID:   row.BuyerID,
		SessionID: row.SessionID,
		Currency:  row.Currency,
		UpdatedAt: row.UpdatedAt,
	}
	cart.Lines = make([]domain.CartLine, 0, len(lineRows))
	for _, lr := range lineRows {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ID:             lr.ID,
			ProductID:      lr.ProductID,
			SellerID:       lr.SellerID,
			CategoryID:     lr.CategoryID,
			ProductName:    lr.ProductName,
			SKU:            lr.SKU,
			Quantity:       lr.Quantity,
			UnitPrice:      lr.UnitPrice,
			SalePercentage: lr.SalePercentage,
			BestSeller:     lr.BestSeller,
		})
	}
	return cart, nil
}

func cartRowFrom(cart domain.Cart) cartRow {
	updated := cart.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return cartRow{
		ID:        cart.ID,
		BuyerID:   strings.TrimSpace(cart.BuyerID),
		SessionID: strings.TrimSpace(cart.SessionID),
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		UpdatedAt: updated.UTC(),
	}
}

func cartLineRowFrom(cartID string, line domain.CartLine) cartLineRow {
	return cartLineRow{
		ID:             line.ID,
		CartID:         cartID,
		ProductID:      line.ProductID,
		SellerID:       strings.TrimSpace(line.SellerID),
		CategoryID:     line.CategoryID,
		ProductName:    line.ProductName,
		SKU:            line.SKU,
		Quantity:       line.Quantity,
		UnitPrice:      line.UnitPrice,
		SalePercentage: line.SalePercentage,
		BestSeller:     line.BestSeller,
	}
}
