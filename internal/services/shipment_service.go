package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

const (
	shipmentIDPrefix     = "shp_"
	defaultCourierName   = "Shop Hub Delivery"
	defaultDeliveryDays  = 4
	shipmentActorDefault = "system"
)

var (
	// ErrShipmentInvalidInput signals the caller provided invalid data.
	ErrShipmentInvalidInput = errors.New("shipment: invalid input")
	// ErrShipmentNotFound indicates no tracking exists for the order.
	ErrShipmentNotFound = errors.New("shipment: tracking not found")
	// ErrShipmentInvalidStage indicates an unknown pipeline stage.
	ErrShipmentInvalidStage = errors.New("shipment: invalid stage")
	// ErrShipmentNotForward indicates a stage at or before the current one.
	ErrShipmentNotForward = errors.New("shipment: stage must move forward")
	// ErrShipmentReadOnly indicates the order is delivered and closed to seller updates.
	ErrShipmentReadOnly = errors.New("shipment: delivered orders are read-only")
)

// shipmentStageRank orders the six pipeline stages for forward-only checks.
var shipmentStageRank = map[domain.ShipmentStage]int{
	domain.ShipmentStageOrdered:       0,
	domain.ShipmentStageConfirmed:     1,
	domain.ShipmentStageOnPack:        2,
	domain.ShipmentStageDispatched:    3,
	domain.ShipmentStageOutToDelivery: 4,
	domain.ShipmentStageDelivered:     5,
}

// shipmentOrderStatus maps each pipeline stage onto the order status it drags
// the order into.
var shipmentOrderStatus = map[domain.ShipmentStage]domain.OrderStatus{
	domain.ShipmentStageOrdered:       domain.OrderStatusPendingPayment,
	domain.ShipmentStageConfirmed:     domain.OrderStatusPaid,
	domain.ShipmentStageOnPack:        domain.OrderStatusProcessing,
	domain.ShipmentStageDispatched:    domain.OrderStatusShipped,
	domain.ShipmentStageOutToDelivery: domain.OrderStatusOutForDelivery,
	domain.ShipmentStageDelivered:     domain.OrderStatusDelivered,
}

// ShipmentServiceDeps bundles collaborators for the tracking state machine.
type ShipmentServiceDeps struct {
	Shipments    repositories.ShipmentRepository
	Orders       OrderService
	UnitOfWork   repositories.UnitOfWork
	DeliveryDays int
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type shipmentService struct {
	shipments    repositories.ShipmentRepository
	orders       OrderService
	unitOfWork   repositories.UnitOfWork
	deliveryDays int
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

var _ ShipmentService = (*shipmentService)(nil)

// NewShipmentService wires dependencies into a concrete ShipmentService implementation.
func NewShipmentService(deps ShipmentServiceDeps) (ShipmentService, error) {
	if deps.Shipments == nil {
		return nil, errors.New("shipment service: shipment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("shipment service: order service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	days := deps.DeliveryDays
	if days <= 0 {
		days = defaultDeliveryDays
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

	return &shipmentService{
		shipments:    deps.Shipments,
		orders:       deps.Orders,
		unitOfWork:   unit,
		deliveryDays: days,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		logger:       logger,
	}, nil
}

// Init creates tracking in the ordered stage with its first history entry.
func (s *shipmentService) Init(ctx context.Context, cmd InitShipmentCommand) (ShipmentTracking, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ShipmentTracking{}, fmt.Errorf("%w: order id is required", ErrShipmentInvalidInput)
	}

	courier := strings.TrimSpace(cmd.CourierName)
	if courier == "" {
		courier = defaultCourierName
	}

	now := s.clock()
	eta := now.AddDate(0, 0, s.deliveryDays)

	tracking := domain.ShipmentTracking{
		ID:             shipmentIDPrefix + s.newID(),
		OrderID:        orderID,
		CourierName:    courier,
		TrackingNumber: strings.TrimSpace(cmd.OrderNumber) + "-S" + strings.ToUpper(s.newID()[:4]),
		CurrentStatus:  domain.ShipmentStageOrdered,
		History: []domain.ShipmentEvent{{
			Status:    domain.ShipmentStageOrdered,
			Timestamp: now,
			Actor:     shipmentActorDefault,
		}},
		EstimatedDelivery: &eta,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.shipments.Insert(ctx, tracking); err != nil {
		return ShipmentTracking{}, s.mapRepositoryError(err)
	}
	return tracking, nil
}

func (s *shipmentService) GetByOrder(ctx context.Context, orderID string) (ShipmentTracking, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ShipmentTracking{}, fmt.Errorf("%w: order id is required", ErrShipmentInvalidInput)
	}
	tracking, err := s.shipments.FindByOrder(ctx, orderID)
	if err != nil {
		return ShipmentTracking{}, s.mapRepositoryError(err)
	}
	return tracking, nil
}

// Advance moves tracking to a strictly later stage, appends the history entry,
// and drags the order status along. Delivered orders reject further updates.
func (s *shipmentService) Advance(ctx context.Context, cmd AdvanceShipmentCommand) (ShipmentAdvanceResult, error) {
	return s.advance(ctx, cmd, true)
}

// Override applies a stage without the forward-only guard. Reserved for admin
// corrections of mis-recorded pipelines.
func (s *shipmentService) Override(ctx context.Context, cmd AdvanceShipmentCommand) (ShipmentAdvanceResult, error) {
	return s.advance(ctx, cmd, false)
}

func (s *shipmentService) advance(ctx context.Context, cmd AdvanceShipmentCommand, forwardOnly bool) (ShipmentAdvanceResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ShipmentAdvanceResult{}, fmt.Errorf("%w: order id is required", ErrShipmentInvalidInput)
	}
	nextRank, ok := shipmentStageRank[cmd.Next]
	if !ok {
		return ShipmentAdvanceResult{}, fmt.Errorf("%w: %q", ErrShipmentInvalidStage, cmd.Next)
	}

	tracking, err := s.shipments.FindByOrder(ctx, orderID)
	if err != nil {
		return ShipmentAdvanceResult{}, s.mapRepositoryError(err)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return ShipmentAdvanceResult{}, err
	}
	if forwardOnly && order.Status == domain.OrderStatusDelivered {
		return ShipmentAdvanceResult{}, ErrShipmentReadOnly
	}
	if forwardOnly && nextRank <= shipmentStageRank[tracking.CurrentStatus] {
		return ShipmentAdvanceResult{}, fmt.Errorf("%w: %s to %s", ErrShipmentNotForward, tracking.CurrentStatus, cmd.Next)
	}

	now := s.clock()
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		actor = shipmentActorDefault
	}

	tracking.History = append(tracking.History, domain.ShipmentEvent{
		Status:    cmd.Next,
		Timestamp: now,
		Location:  strings.TrimSpace(cmd.Location),
		Notes:     strings.TrimSpace(cmd.Notes),
		Actor:     actor,
	})
	tracking.CurrentStatus = cmd.Next
	tracking.UpdatedAt = now
	if cmd.Next == domain.ShipmentStageDelivered {
		tracking.DeliveredAt = &now
	}

	var result ShipmentAdvanceResult
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.shipments.Update(txCtx, tracking); err != nil {
			return s.mapRepositoryError(err)
		}
		target := shipmentOrderStatus[cmd.Next]
		if target == order.Status {
			result = ShipmentAdvanceResult{Shipment: tracking, Order: order}
			return nil
		}
		transition, err := s.orders.Transition(txCtx, OrderTransitionCommand{
			OrderID: orderID,
			Next:    target,
			Actor:   actor,
			Note:    strings.TrimSpace(cmd.Notes),
		})
		if err != nil {
			return err
		}
		result = ShipmentAdvanceResult{Shipment: tracking, Order: transition.Order, Events: transition.Events}
		return nil
	})
	if err != nil {
		return ShipmentAdvanceResult{}, err
	}

	s.logger(ctx, "shipment.advanced", map[string]any{
		"order_id": orderID,
		"stage":    string(cmd.Next),
		"actor":    actor,
	})
	return result, nil
}

func (s *shipmentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrShipmentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("shipment: repository unavailable: %w", err)
		}
	}
	return err
}
