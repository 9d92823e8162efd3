package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/repositories"
)

const (
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent updates or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderReadOnly indicates the order is delivered and closed to seller edits.
	ErrOrderReadOnly = errors.New("order: delivered orders are read-only")
)

// orderStateTransitions lists the forward-reachable statuses per state.
// Intermediate fulfillment stages may be skipped; cancellation is only
// possible before delivery, and the return flow only after it.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCreated: {
		domain.OrderStatusPendingPayment, domain.OrderStatusPaid, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPendingPayment: {
		domain.OrderStatusPaid, domain.OrderStatusProcessing, domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	},
	domain.OrderStatusPaid: {
		domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusShipped, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	},
	domain.OrderStatusOutForDelivery: {
		domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	},
	domain.OrderStatusDelivered: {
		domain.OrderStatusReturnRequested, domain.OrderStatusReturned,
	},
	domain.OrderStatusReturnRequested: {
		domain.OrderStatusReturned,
	},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusCreated,
	domain.OrderStatusPendingPayment,
	domain.OrderStatusPaid,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusOutForDelivery,
}

// statusDomainEvents maps an entered status to the domain event surfaced to
// the orchestrator.
var statusDomainEvents = map[domain.OrderStatus]domain.DomainEvent{
	domain.OrderStatusPaid:            domain.EventOrderPaid,
	domain.OrderStatusShipped:         domain.EventOrderShipped,
	domain.OrderStatusOutForDelivery:  domain.EventOrderOutForDelivery,
	domain.OrderStatusDelivered:       domain.EventOrderDelivered,
	domain.OrderStatusCancelled:       domain.EventOrderCancelled,
	domain.OrderStatusReturnRequested: domain.EventOrderReturnRequested,
	domain.OrderStatusReturned:        domain.EventOrderReturned,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	Actor          string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Inventory   InventoryService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	inventory  InventoryService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// SplitCart partitions the cart's lines by owning seller. Groups come back in
// ascending seller id order so a multi-seller checkout is deterministic.
func (s *orderService) SplitCart(cart Cart) []SellerGroup {
	grouped := make(map[string][]CartLine)
	for _, line := range cart.Lines {
		sellerID := strings.TrimSpace(line.SellerID)
		grouped[sellerID] = append(grouped[sellerID], line)
	}

	sellerIDs := make([]string, 0, len(grouped))
	for sellerID := range grouped {
		sellerIDs = append(sellerIDs, sellerID)
	}
	sort.Strings(sellerIDs)

	groups := make([]SellerGroup, 0, len(sellerIDs))
	for _, sellerID := range sellerIDs {
		groups = append(groups, SellerGroup{SellerID: sellerID, Lines: grouped[sellerID]})
	}
	return groups
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		BuyerID:    strings.TrimSpace(filter.BuyerID),
		SellerID:   strings.TrimSpace(filter.SellerID),
		Status:     filter.Status,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// Transition moves the order to the requested status, validating against the
// state table and stamping per-status timestamps. The returned events are the
// caller's responsibility to forward.
func (s *orderService) Transition(ctx context.Context, cmd OrderTransitionCommand) (OrderTransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderTransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Next == "" {
		return OrderTransitionResult{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderTransitionResult{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	prev := order.Status

	if err := s.applyStatusTransition(&order, cmd.Next, now); err != nil {
		return OrderTransitionResult{}, err
	}
	if note := strings.TrimSpace(cmd.Note); note != "" {
		order.AdminNotes = appendNote(order.AdminNotes, now, strings.TrimSpace(cmd.Actor), note)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return OrderTransitionResult{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		Actor:          strings.TrimSpace(cmd.Actor),
		OccurredAt:     now,
	})

	return OrderTransitionResult{Order: order, Events: transitionEvents(prev, order.Status)}, nil
}

// Cancel moves a non-terminal order to CANCELLED and restores its stock in the
// same transaction.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (OrderTransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderTransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderTransitionResult{}, s.mapRepositoryError(err)
	}

	if !slices.Contains(cancellableStatuses, order.Status) {
		return OrderTransitionResult{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.clock()
	prev := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
		return OrderTransitionResult{}, err
	}
	if reason != "" {
		order.AdminNotes = appendNote(order.AdminNotes, now, strings.TrimSpace(cmd.Actor), "cancelled: "+reason)
	}
	for i := range order.Items {
		if order.Items[i].Status != domain.OrderItemStatusDelivered {
			order.Items[i].Status = domain.OrderItemStatusCancelled
			order.Items[i].UpdatedAt = now
		}
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if s.inventory != nil {
			lines := stockLinesFromItems(order.Items)
			if len(lines) > 0 {
				if err := s.inventory.Release(txCtx, StockAdjustmentCommand{Lines: lines}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return OrderTransitionResult{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prev,
		CurrentStatus:  order.Status,
		Actor:          strings.TrimSpace(cmd.Actor),
		OccurredAt:     now,
		Metadata:       map[string]any{"reason": reason},
	})

	return OrderTransitionResult{Order: order, Events: transitionEvents(prev, order.Status)}, nil
}

// RequestRefund flags a delivered order for return on the buyer's behalf. It
// moves no money; the payment manager settles the refund separately.
func (s *orderService) RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if buyer := strings.TrimSpace(cmd.BuyerID); buyer != "" {
		if order.BuyerID == nil || *order.BuyerID != buyer {
			return Order{}, fmt.Errorf("%w: order does not belong to buyer", ErrOrderNotFound)
		}
	}

	now := s.clock()
	if err := s.applyStatusTransition(&order, domain.OrderStatusReturnRequested, now); err != nil {
		return Order{}, err
	}
	note := "refund requested"
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		note += ": " + reason
	}
	if !cmd.Amount.IsZero() {
		note += " (amount " + cmd.Amount.StringFixed(2) + ")"
	}
	order.AdminNotes = appendNote(order.AdminNotes, now, "buyer", note)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// UpdateItemStatus lets a seller report per-line fulfillment. Delivered
// orders are closed to seller edits.
func (s *orderService) UpdateItemStatus(ctx context.Context, cmd UpdateItemStatusCommand) (OrderItem, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if orderID == "" || itemID == "" {
		return OrderItem{}, fmt.Errorf("%w: order and item ids are required", ErrOrderInvalidInput)
	}
	if !isValidItemStatus(cmd.Status) {
		return OrderItem{}, fmt.Errorf("%w: unknown item status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderItem{}, s.mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusDelivered {
		return OrderItem{}, ErrOrderReadOnly
	}

	var target *OrderItem
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			target = &order.Items[i]
			break
		}
	}
	if target == nil {
		return OrderItem{}, fmt.Errorf("%w: item %s", ErrOrderNotFound, itemID)
	}
	if seller := strings.TrimSpace(cmd.SellerID); seller != "" {
		if target.SellerID == nil || *target.SellerID != seller {
			return OrderItem{}, fmt.Errorf("%w: item %s", ErrOrderNotFound, itemID)
		}
	}

	now := s.clock()
	item, err := s.orders.UpdateItemStatus(ctx, orderID, itemID, cmd.Status, now)
	if err != nil {
		return OrderItem{}, s.mapRepositoryError(err)
	}
	return item, nil
}

func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}
	order.Status = target
	order.UpdatedAt = now
	updateOrderTimestamps(order, target, now)
	return nil
}

func updateOrderTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusPaid:
		if order.PaidAt == nil {
			order.PaidAt = &now
		}
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// transitionEvents lists the domain events produced by entering next from prev.
func transitionEvents(prev, next domain.OrderStatus) []domain.DomainEvent {
	if prev == next {
		return nil
	}
	if event, ok := statusDomainEvents[next]; ok {
		return []domain.DomainEvent{event}
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func isValidItemStatus(status domain.OrderItemStatus) bool {
	switch status {
	case domain.OrderItemStatusPending, domain.OrderItemStatusProcessing,
		domain.OrderItemStatusShipped, domain.OrderItemStatusDelivered,
		domain.OrderItemStatusCancelled:
		return true
	}
	return false
}

func stockLinesFromItems(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil || item.Quantity <= 0 {
			continue
		}
		lines = append(lines, StockLine{ProductID: *item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func appendNote(existing string, now time.Time, actor, note string) string {
	entry := "[" + now.Format("2006-01-02 15:04") + "]"
	if actor != "" {
		entry += " " + actor
	}
	entry += ": " + note
	if existing == "" {
		return entry
	}
	return existing + "\n" + entry
}

func valuePtr[T any](v T) *T {
	return &v
}
