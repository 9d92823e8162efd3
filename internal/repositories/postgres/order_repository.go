package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

type orderRow struct {
	ID                string  `gorm:"primaryKey;size:64"`
	OrderNumber       string  `gorm:"size:32;uniqueIndex"`
	BuyerID           *string `gorm:"size:64;index"`
	SellerID          string  `gorm:"size:64;index"`
	Currency          string  `gorm:"size:8"`
	Status            string  `gorm:"size:32;index"`
	PaymentStatus     string  `gorm:"size:32"`
	PaymentMethod     string  `gorm:"size:32"`
	Subtotal          decimal.Decimal `gorm:"type:numeric(12,2)"`
	Discount          decimal.Decimal `gorm:"type:numeric(12,2)"`
	Shipping          decimal.Decimal `gorm:"type:numeric(12,2)"`
	Tax               decimal.Decimal `gorm:"type:numeric(12,2)"`
	Total             decimal.Decimal `gorm:"type:numeric(12,2)"`
	ShippingAddress   datatypes.JSON
	AppliedCouponCode *string `gorm:"size:64"`
	RewardPointsUsed  int
	PointsEarned      int
	CustomerNotes     string `gorm:"type:text"`
	AdminNotes        string `gorm:"type:text"`
	PaidAt            *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	CreatedAt         time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

func (orderRow) TableName() string { return "orders" }

type orderItemRow struct {
	ID          string  `gorm:"primaryKey;size:64"`
	OrderID     string  `gorm:"size:64;index"`
	ProductID   *string `gorm:"size:64"`
	SellerID    *string `gorm:"size:64;index"`
	ProductName string  `gorm:"size:255"`
	SKU         string  `gorm:"size:64"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2)"`
	Quantity    int
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2)"`
	Status      string          `gorm:"size:32"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (orderItemRow) TableName() string { return "order_items" }

type addressDoc struct {
	RecipientName string `json:"recipient_name,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
}

type orderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	row, err := orderRowFrom(order)
	if err != nil {
		return err
	}

	return r.store.RunInTx(ctx, func(txCtx context.Context) error {
		db := r.store.conn(txCtx)
		if err := db.Create(&row).Error; err != nil {
			return mapError("order repository: insert header", err)
		}
		if len(order.Items) == 0 {
			return nil
		}
		itemRows := make([]orderItemRow, 0, len(order.Items))
		for _, item := range order.Items {
			itemRows = append(itemRows, orderItemRowFrom(item))
		}
		if err := db.Create(&itemRows).Error; err != nil {
			return mapError("order repository: insert items", err)
		}
		return nil
	})
}

// Update rewrites the order header. Items change only through UpdateItemStatus.
func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	row, err := orderRowFrom(order)
	if err != nil {
		return err
	}

	db := r.store.conn(ctx)
	result := db.Model(&orderRow{}).Where("id = ?", row.ID).Select("*").Omit("id", "created_at").Updates(&row)
	if result.Error != nil {
		return mapError("order repository: update", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundError("order repository: update", errors.New("order not found"))
	}
	return nil
}

func (r *orderRepository) UpdateItemStatus(ctx context.Context, orderID, itemID string, status domain.OrderItemStatus, now time.Time) (domain.OrderItem, error) {
	orderID = strings.TrimSpace(orderID)
	itemID = strings.TrimSpace(itemID)
	if orderID == "" || itemID == "" {
		return domain.OrderItem{}, errors.New("order repository: order and item ids are required")
	}

	var row orderItemRow
	err := r.store.RunInTx(ctx, func(txCtx context.Context) error {
		db := r.store.conn(txCtx)
		if err := db.First(&row, "id = ? AND order_id = ?", itemID, orderID).Error; err != nil {
			return mapError("order repository: find item", err)
		}
		row.Status = string(status)
		row.UpdatedAt = now.UTC()
		if err := db.Model(&orderItemRow{}).Where("id = ?", itemID).
			Updates(map[string]any{"status": row.Status, "updated_at": row.UpdatedAt}).Error; err != nil {
			return mapError("order repository: update item", err)
		}
		return nil
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	return orderItemToDomain(row), nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var row orderRow
	if err := r.store.conn(ctx).First(&row, "id = ?", orderID).Error; err != nil {
		return domain.Order{}, mapError("order repository: find by id", err)
	}
	return r.load(ctx, row)
}

func (r *orderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	var row orderRow
	if err := r.store.conn(ctx).First(&row, "order_number = ?", orderNumber).Error; err != nil {
		return domain.Order{}, mapError("order repository: find by number", err)
	}
	return r.load(ctx, row)
}

func (r *orderRepository) CountByBuyer(ctx context.Context, buyerID string) (int64, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return 0, errors.New("order repository: buyer id is required")
	}

	var count int64
	if err := r.store.conn(ctx).Model(&orderRow{}).Where("buyer_id = ?", buyerID).Count(&count).Error; err != nil {
		return 0, mapError("order repository: count by buyer", err)
	}
	return count, nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	db := r.store.conn(ctx).Model(&orderRow{})

	if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
		db = db.Where("buyer_id = ?", buyerID)
	}
	if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
		db = db.Where("seller_id = ?", sellerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		db = db.Where("status IN ?", statuses)
	}
	if filter.DateRange.From != nil {
		db = db.Where("created_at >= ?", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		db = db.Where("created_at <= ?", filter.DateRange.To.UTC())
	}

	db = db.Order("created_at DESC, id DESC")
	if filter.Pagination.PageSize > 0 {
		db = db.Limit(filter.Pagination.PageSize)
	}
	// The page token is the zero-based offset encoded by the pagination layer.
	if offset, err := strconv.Atoi(strings.TrimSpace(filter.Pagination.PageToken)); err == nil && offset > 0 {
		db = db.Offset(offset)
	}

	var rows []orderRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, mapError("order repository: list", err)
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order, err := r.load(ctx, row)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *orderRepository) load(ctx context.Context, row orderRow) (domain.Order, error) {
	var itemRows []orderItemRow
	if err := r.store.conn(ctx).Where("order_id = ?", row.ID).Order("id ASC").Find(&itemRows).Error; err != nil {
		return domain.Order{}, mapError("order repository: load items", err)
	}

	order, err := orderToDomain(row)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = make([]domain.OrderItem, 0, len(itemRows))
	for _, ir := range itemRows {
		order.Items = append(order.Items, orderItemToDomain(ir))
	}
	return order, nil
}

func orderRowFrom(order domain.Order) (orderRow, error) {
	address, err := json.Marshal(addressDoc{
		RecipientName: order.ShippingAddress.RecipientName,
		Line1:         order.ShippingAddress.Line1,
		Line2:         order.ShippingAddress.Line2,
		City:          order.ShippingAddress.City,
		Region:        order.ShippingAddress.Region,
		PostalCode:    order.ShippingAddress.PostalCode,
		Country:       order.ShippingAddress.Country,
		Phone:         order.ShippingAddress.Phone,
	})
	if err != nil {
		return orderRow{}, unavailableError("order repository: encode address", err)
	}

	return orderRow{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		BuyerID:           order.BuyerID,
		SellerID:          order.SellerID,
		Currency:          order.Currency,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentMethod:     string(order.PaymentMethod),
		Subtotal:          order.Subtotal,
		Discount:          order.Discount,
		Shipping:          order.Shipping,
		Tax:               order.Tax,
		Total:             order.Total,
		ShippingAddress:   datatypes.JSON(address),
		AppliedCouponCode: order.AppliedCouponCode,
		RewardPointsUsed:  order.RewardPointsUsed,
		PointsEarned:      order.PointsEarned,
		CustomerNotes:     order.CustomerNotes,
		AdminNotes:        order.AdminNotes,
		PaidAt:            order.PaidAt,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}, nil
}

func orderToDomain(row orderRow) (domain.Order, error) {
	var address addressDoc
	if len(row.ShippingAddress) > 0 {
		if err := json.Unmarshal(row.ShippingAddress, &address); err != nil {
			return domain.Order{}, unavailableError("order repository: decode address", err)
		}
	}

	return domain.Order{
		ID:            row.ID,
		OrderNumber:   row.OrderNumber,
		BuyerID:       row.BuyerID,
		SellerID:      row.SellerID,
		Currency:      row.Currency,
		Status:        domain.OrderStatus(row.Status),
		PaymentStatus: domain.PaymentStatus(row.PaymentStatus),
		PaymentMethod: domain.PaymentMethod(row.PaymentMethod),
		Subtotal:      row.Subtotal,
		Discount:      row.Discount,
		Shipping:      row.Shipping,
		Tax:           row.Tax,
		Total:         row.Total,
		ShippingAddress: domain.Address{
			RecipientName: address.RecipientName,
			Line1:         address.Line1,
			Line2:         address.Line2,
			City:          address.City,
			Region:        address.Region,
			PostalCode:    address.PostalCode,
			Country:       address.Country,
			Phone:         address.Phone,
		},
		AppliedCouponCode: row.AppliedCouponCode,
		RewardPointsUsed:  row.RewardPointsUsed,
		PointsEarned:      row.PointsEarned,
		CustomerNotes:     row.CustomerNotes,
		AdminNotes:        row.AdminNotes,
		PaidAt:            row.PaidAt,
		ShippedAt:         row.ShippedAt,
		DeliveredAt:       row.DeliveredAt,
		CancelledAt:       row.CancelledAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func orderItemRowFrom(item domain.OrderItem) orderItemRow {
	return orderItemRow{
		ID:          item.ID,
		OrderID:     item.OrderID,
		ProductID:   item.ProductID,
		SellerID:    item.SellerID,
		ProductName: item.ProductName,
		SKU:         item.SKU,
		UnitPrice:   item.UnitPrice,
		Quantity:    item.Quantity,
		LineTotal:   item.LineTotal,
		Status:      string(item.Status),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func orderItemToDomain(row orderItemRow) domain.OrderItem {
	return domain.OrderItem{
		ID:          row.ID,
		OrderID:     row.OrderID,
		ProductID:   row.ProductID,
		SellerID:    row.SellerID,
		ProductName: row.ProductName,
		SKU:         row.SKU,
		UnitPrice:   row.UnitPrice,
		Quantity:    row.Quantity,
		LineTotal:   row.LineTotal,
		Status:      domain.OrderItemStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
