package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

type shipmentRow struct {
	ID                string `gorm:"primaryKey;size:64"`
	OrderID           string `gorm:"size:64;uniqueIndex"`
	CourierName       string `gorm:"size:128"`
	TrackingNumber    string `gorm:"size:64;uniqueIndex"`
	CurrentStatus     string `gorm:"size:32"`
	History           datatypes.JSON
	EstimatedDelivery *time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (shipmentRow) TableName() string { return "shipment_trackings" }

type shipmentRepository struct {
	store *Store
}

var _ repositories.ShipmentRepository = (*shipmentRepository)(nil)

func (r *shipmentRepository) Insert(ctx context.Context, shipment domain.ShipmentTracking) error {
	if strings.TrimSpace(shipment.ID) == "" {
		return errors.New("shipment repository: shipment id is required")
	}

	row, err := shipmentRowFrom(shipment)
	if err != nil {
		return err
	}
	if err := r.store.conn(ctx).Create(&row).Error; err != nil {
		return mapError("shipment repository: insert", err)
	}
	return nil
}

func (r *shipmentRepository) Update(ctx context.Context, shipment domain.ShipmentTracking) error {
	if strings.TrimSpace(shipment.ID) == "" {
		return errors.New("shipment repository: shipment id is required")
	}

	row, err := shipmentRowFrom(shipment)
	if err != nil {
		return err
	}
	result := r.store.conn(ctx).Model(&shipmentRow{}).
		Where("id = ?", row.ID).Select("*").Omit("id", "created_at").Updates(&row)
	if result.Error != nil {
		return mapError("shipment repository: update", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundError("shipment repository: update", errors.New("shipment not found"))
	}
	return nil
}

func (r *shipmentRepository) FindByOrder(ctx context.Context, orderID string) (domain.ShipmentTracking, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ShipmentTracking{}, errors.New("shipment repository: order id is required")
	}

	var row shipmentRow
	if err := r.store.conn(ctx).First(&row, "order_id = ?", orderID).Error; err != nil {
		return domain.ShipmentTracking{}, mapError("shipment repository: find by order", err)
	}
	return shipmentToDomain(row)
}

func shipmentRowFrom(shipment domain.ShipmentTracking) (shipmentRow, error) {
	history, err := json.Marshal(shipment.History)
	if err != nil {
		return shipmentRow{}, unavailableError("shipment repository: encode history", err)
	}

	return shipmentRow{
		ID:                shipment.ID,
		OrderID:           shipment.OrderID,
		CourierName:       shipment.CourierName,
		TrackingNumber:    shipment.TrackingNumber,
		CurrentStatus:     string(shipment.CurrentStatus),
		History:           datatypes.JSON(history),
		EstimatedDelivery: shipment.EstimatedDelivery,
		DeliveredAt:       shipment.DeliveredAt,
		CreatedAt:         shipment.CreatedAt,
		UpdatedAt:         shipment.UpdatedAt,
	}, nil
}

func shipmentToDomain(row shipmentRow) (domain.ShipmentTracking, error) {
	var history []domain.ShipmentEvent
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &history); err != nil {
			return domain.ShipmentTracking{}, unavailableError("shipment repository: decode history", err)
		}
	}

	return domain.ShipmentTracking{
		ID:                row.ID,
		OrderID:           row.OrderID,
		CourierName:       row.CourierName,
		TrackingNumber:    row.TrackingNumber,
		CurrentStatus:     domain.ShipmentStage(row.CurrentStatus),
		History:           history,
		EstimatedDelivery: row.EstimatedDelivery,
		DeliveredAt:       row.DeliveredAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}
