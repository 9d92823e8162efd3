package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shophub/marketplace/internal/platform/config"
	"github.com/shophub/marketplace/internal/repositories"
	"github.com/shophub/marketplace/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing   services.PricingEngine
	Inventory services.InventoryService
	Coupons   services.CouponService
	Orders    services.OrderService
	Payments  services.PaymentService
	Invoices  services.InvoiceService
	Shipments services.ShipmentService
	Loyalty   services.LoyaltyService
	Checkout  services.CheckoutService
	System    services.SystemService
}

// Options carries optional runtime collaborators. Absent fields degrade to
// no-ops rather than failing construction.
type Options struct {
	EventPublisher services.OrderEventPublisher
	Notifier       services.Notifier
	Logger         *zap.Logger
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Postgres-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts Options) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, opts)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as database pools.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, opts Options) (Services, error) {
	var svc Services

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pricingCfg := services.DefaultPricingConfig()
	if !cfg.Pricing.TaxRate.IsZero() {
		pricingCfg.TaxRate = cfg.Pricing.TaxRate
	}
	if !cfg.Pricing.FreeShippingSaleMinimum.IsZero() {
		pricingCfg.FreeShippingSaleThreshold = cfg.Pricing.FreeShippingSaleMinimum
	}
	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{Config: pricingCfg})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Clock:    time.Now,
		Logger:   zapEventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventory

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Usages:  reg.CouponUsages(),
		Orders:  reg.Orders(),
		Clock:   time.Now,
		Logger:  zapEventLogger(logger.Named("coupon")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = coupons

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Inventory:  inventory,
		UnitOfWork: reg,
		Clock:      time.Now,
		Events:     opts.EventPublisher,
		Logger:     zapEventLogger(logger.Named("order")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	invoices, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Invoices: reg.Invoices(),
		Orders:   reg.Orders(),
		Renderer: services.NewTextInvoiceRenderer(),
		Clock:    time.Now,
		Logger:   zapEventLogger(logger.Named("invoice")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build invoice service: %w", err)
	}
	svc.Invoices = invoices

	fees := services.DefaultFeeConfig()
	if !cfg.Payments.PlatformFeeRate.IsZero() {
		fees.PlatformRate = cfg.Payments.PlatformFeeRate
	}
	if !cfg.Payments.ProcessingFeeRate.IsZero() {
		fees.ProcessingRate = cfg.Payments.ProcessingFeeRate
	}
	payments, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:   reg.Payments(),
		Orders:     reg.Orders(),
		Invoices:   invoices,
		UnitOfWork: reg,
		Fees:       fees,
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("payment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = payments

	shipments, err := services.NewShipmentService(services.ShipmentServiceDeps{
		Shipments:  reg.Shipments(),
		Orders:     orders,
		UnitOfWork: reg,
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("shipment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipment service: %w", err)
	}
	svc.Shipments = shipments

	loyaltyCfg := services.DefaultLoyaltyConfig()
	if cfg.Loyalty.PointsPerUnit > 0 {
		loyaltyCfg.PointsPerUnit = int64(cfg.Loyalty.PointsPerUnit)
	}
	if cfg.Loyalty.CurrencyUnitsPerSlab > 0 {
		loyaltyCfg.CurrencyRate = decimal.NewFromInt(int64(cfg.Loyalty.CurrencyUnitsPerSlab))
	}
	loyalty, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Accounts:   reg.RewardAccounts(),
		Ledger:     reg.PointsLedger(),
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Config:     loyaltyCfg,
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("loyalty")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build loyalty service: %w", err)
	}
	svc.Loyalty = loyalty

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:                reg.Carts(),
		Orders:               reg.Orders(),
		OrderSplitter:        orders,
		Inventory:            inventory,
		Coupons:              coupons,
		Pricing:              pricing,
		Payments:             payments,
		Invoices:             invoices,
		Shipments:            shipments,
		Loyalty:              loyalty,
		UnitOfWork:           reg,
		Notifier:             opts.Notifier,
		RedemptionPointsCost: cfg.Loyalty.RedemptionCost,
		Clock:                time.Now,
		Logger:               zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	if healthRepo := reg.Health(); healthRepo != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}

// zapEventLogger adapts a zap logger to the event/fields callback the services accept.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
