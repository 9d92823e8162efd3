package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

type couponRow struct {
	ID                 string           `gorm:"primaryKey;size:64"`
	Code               string           `gorm:"size:64;uniqueIndex"`
	DiscountType       string           `gorm:"size:32"`
	DiscountValue      decimal.Decimal  `gorm:"type:numeric(12,2)"`
	MaxDiscountAmount  *decimal.Decimal `gorm:"type:numeric(12,2)"`
	MinOrderValue      decimal.Decimal  `gorm:"type:numeric(12,2)"`
	AllowedProductIDs  datatypes.JSON
	AllowedCategoryIDs datatypes.JSON
	AllowedUserIDs     datatypes.JSON
	MaxUses            *int
	MaxUsesPerUser     *int
	ValidFrom          time.Time
	ValidTo            time.Time
	FirstOrderOnly     bool
	Active             bool
	CurrentUses        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (couponRow) TableName() string { return "coupons" }

type couponUsageRow struct {
	ID             string          `gorm:"primaryKey;size:64"`
	CouponID       string          `gorm:"size:64;index:idx_coupon_user"`
	UserID         string          `gorm:"size:64;index:idx_coupon_user"`
	OrderID        string          `gorm:"size:64"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(12,2)"`
	UsedAt         time.Time
}

func (couponUsageRow) TableName() string { return "coupon_usages" }

type couponRepository struct {
	store *Store
}

var _ repositories.CouponRepository = (*couponRepository)(nil)

func (r *couponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	var row couponRow
	if err := r.store.conn(ctx).First(&row, "UPPER(code) = UPPER(?)", code).Error; err != nil {
		return domain.Coupon{}, mapError("coupon repository: find by code", err)
	}
	return couponToDomain(row)
}

// IncrementUses bumps current_uses under a row lock. The cap is re-checked
// after locking so two concurrent checkouts cannot both claim the last use.
func (r *couponRepository) IncrementUses(ctx context.Context, couponID string, now time.Time) (domain.Coupon, error) {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon id is required")
	}

	var updated couponRow
	err := r.store.RunInTx(ctx, func(txCtx context.Context) error {
		db := r.store.conn(txCtx)

		var row couponRow
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", couponID).Error; err != nil {
			return mapError("coupon repository: lock row", err)
		}

		if row.MaxUses != nil && row.CurrentUses >= *row.MaxUses {
			return conflictError("coupon repository: increment uses",
				fmt.Errorf("coupon %s: usage cap %d reached", couponID, *row.MaxUses))
		}

		row.CurrentUses++
		row.UpdatedAt = now.UTC()
		if err := db.Model(&couponRow{}).Where("id = ?", couponID).
			Updates(map[string]any{"current_uses": row.CurrentUses, "updated_at": row.UpdatedAt}).Error; err != nil {
			return mapError("coupon repository: increment uses", err)
		}
		updated = row
		return nil
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	return couponToDomain(updated)
}

type couponUsageRepository struct {
	store *Store
}

var _ repositories.CouponUsageRepository = (*couponUsageRepository)(nil)

func (r *couponUsageRepository) Append(ctx context.Context, usage domain.CouponUsage) error {
	if strings.TrimSpace(usage.ID) == "" {
		return errors.New("coupon usage repository: usage id is required")
	}

	row := couponUsageRow{
		ID:             usage.ID,
		CouponID:       usage.CouponID,
		UserID:         usage.UserID,
		OrderID:        usage.OrderID,
		DiscountAmount: usage.DiscountAmount,
		UsedAt:         usage.UsedAt.UTC(),
	}
	if err := r.store.conn(ctx).Create(&row).Error; err != nil {
		return mapError("coupon usage repository: append", err)
	}
	return nil
}

func (r *couponUsageRepository) CountByUser(ctx context.Context, couponID, userID string) (int64, error) {
	couponID = strings.TrimSpace(couponID)
	userID = strings.TrimSpace(userID)
	if couponID == "" || userID == "" {
		return 0, errors.New("coupon usage repository: coupon and user ids are required")
	}

	var count int64
	err := r.store.conn(ctx).Model(&couponUsageRow{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	if err != nil {
		return 0, mapError("coupon usage repository: count by user", err)
	}
	return count, nil
}

func couponToDomain(row couponRow) (domain.Coupon, error) {
	allowedProducts, err := decodeStringList(row.AllowedProductIDs)
	if err != nil {
		return domain.Coupon{}, unavailableError("coupon repository: decode allowed products", err)
	}
	allowedCategories, err := decodeStringList(row.AllowedCategoryIDs)
	if err != nil {
		return domain.Coupon{}, unavailableError("coupon repository: decode allowed categories", err)
	}
	allowedUsers, err := decodeStringList(row.AllowedUserIDs)
	if err != nil {
		return domain.Coupon{}, unavailableError("coupon repository: decode allowed users", err)
	}

	return domain.Coupon{
		ID:                 row.ID,
		Code:               row.Code,
		DiscountType:       domain.CouponType(row.DiscountType),
		DiscountValue:      row.DiscountValue,
		MaxDiscountAmount:  row.MaxDiscountAmount,
		MinOrderValue:      row.MinOrderValue,
		AllowedProductIDs:  allowedProducts,
		AllowedCategoryIDs: allowedCategories,
		AllowedUserIDs:     allowedUsers,
		MaxUses:            row.MaxUses,
		MaxUsesPerUser:     row.MaxUsesPerUser,
		ValidFrom:          row.ValidFrom,
		ValidTo:            row.ValidTo,
		FirstOrderOnly:     row.FirstOrderOnly,
		Active:             row.Active,
		CurrentUses:        row.CurrentUses,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

func decodeStringList(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}
