package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shophub/marketplace/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates missing products or non-positive quantities.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates a requested quantity exceeds live stock.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryProductNotFound indicates a referenced product does not exist.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrInventoryUnavailable indicates the storage layer could not serve the request.
	ErrInventoryUnavailable = errors.New("inventory: storage unavailable")
)

// InventoryServiceDeps bundles dependencies for the stock guard.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService validates dependencies and returns the stock guard.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		products: deps.Products,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Reserve decrements stock for every line, failing the whole command when any
// product is short. Callers run it inside the checkout unit of work so a later
// failure rolls the decrements back.
func (s *inventoryService) Reserve(ctx context.Context, cmd StockAdjustmentCommand) error {
	lines, err := normalizeStockLines(cmd.Lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := s.products.AdjustStock(ctx, line.ProductID, -line.Quantity); err != nil {
			s.logger(ctx, "inventory.reserve_failed", map[string]any{
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
				"error":      err.Error(),
			})
			return s.mapStockError(err)
		}
	}
	return nil
}

// Release restores stock for every line, used on cancellation and rollback.
func (s *inventoryService) Release(ctx context.Context, cmd StockAdjustmentCommand) error {
	lines, err := normalizeStockLines(cmd.Lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := s.products.AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger(ctx, "inventory.release_failed", map[string]any{
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
				"error":      err.Error(),
			})
			return s.mapStockError(err)
		}
	}
	return nil
}

// normalizeStockLines trims, validates, and aggregates duplicate product
// entries so each product is adjusted exactly once.
func normalizeStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, ErrInventoryInvalidInput
	}
	aggregated := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Quantity <= 0 {
			return nil, ErrInventoryInvalidInput
		}
		aggregated[productID] += line.Quantity
	}
	out := make([]StockLine, 0, len(aggregated))
	for productID, quantity := range aggregated {
		out = append(out, StockLine{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *inventoryService) mapStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return ErrInventoryInsufficientStock
		case repositories.StockErrorProductNotFound:
			return ErrInventoryProductNotFound
		}
	}
	if repoErr, ok := err.(repositories.RepositoryError); ok {
		switch {
		case repoErr.IsNotFound():
			return ErrInventoryProductNotFound
		case repoErr.IsConflict():
			return ErrInventoryInsufficientStock
		case repoErr.IsUnavailable():
			return ErrInventoryUnavailable
		}
	}
	return err
}
