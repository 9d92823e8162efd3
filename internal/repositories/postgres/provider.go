package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shophub/marketplace/internal/repositories"
)

// Config holds the connection settings for the relational store.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate creates or updates the schema at startup. Intended for
	// development and tests; production schemas are managed externally.
	AutoMigrate bool
	LogSQL      bool
}

type ctxKey struct{}

// Store owns the gorm handle and implements repositories.Registry.
type Store struct {
	db *gorm.DB

	carts          *cartRepository
	products       *productRepository
	orders         *orderRepository
	coupons        *couponRepository
	couponUsages   *couponUsageRepository
	payments       *paymentRepository
	invoices       *invoiceRepository
	shipments      *shipmentRepository
	rewardAccounts *rewardAccountRepository
	pointsLedger   *pointsLedgerRepository
	health         repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// Open connects to Postgres and builds the repository registry. Extra
// dependency checks (message broker, caches) are folded into the health
// repository alongside the database ping.
func Open(ctx context.Context, cfg Config, extraChecks ...repositories.DependencyCheck) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: dsn is required")
	}

	logLevel := logger.Silent
	if cfg.LogSQL {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, unavailableError("postgres: open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, unavailableError("postgres: acquire pool", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, unavailableError("postgres: ping", err)
	}

	if cfg.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(
			&cartRow{}, &cartLineRow{},
			&productRow{},
			&orderRow{}, &orderItemRow{},
			&couponRow{}, &couponUsageRow{},
			&paymentTransactionRow{},
			&invoiceRow{},
			&shipmentRow{},
			&rewardAccountRow{}, &pointsTransactionRow{},
		); err != nil {
			return nil, unavailableError("postgres: migrate", err)
		}
	}

	store := &Store{db: db}
	store.carts = &cartRepository{store: store}
	store.products = &productRepository{store: store}
	store.orders = &orderRepository{store: store}
	store.coupons = &couponRepository{store: store}
	store.couponUsages = &couponUsageRepository{store: store}
	store.payments = &paymentRepository{store: store}
	store.invoices = &invoiceRepository{store: store}
	store.shipments = &shipmentRepository{store: store}
	store.rewardAccounts = &rewardAccountRepository{store: store}
	store.pointsLedger = &pointsLedgerRepository{store: store}

	checks := append([]repositories.DependencyCheck{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	store.health = health

	return store, nil
}

// RunInTx executes fn inside one database transaction. Nested calls reuse the
// transaction already carried by the context.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(ctxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	// Errors pass through untranslated so the caller's errors.Is checks keep
	// working on service sentinels.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, ctxKey{}, tx))
	})
}

// conn returns the transaction bound to ctx when present, the base handle
// otherwise.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(ctxKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Carts() repositories.CartRepository                   { return s.carts }
func (s *Store) Products() repositories.ProductRepository             { return s.products }
func (s *Store) Orders() repositories.OrderRepository                 { return s.orders }
func (s *Store) Coupons() repositories.CouponRepository               { return s.coupons }
func (s *Store) CouponUsages() repositories.CouponUsageRepository     { return s.couponUsages }
func (s *Store) Payments() repositories.PaymentRepository             { return s.payments }
func (s *Store) Invoices() repositories.InvoiceRepository             { return s.invoices }
func (s *Store) Shipments() repositories.ShipmentRepository           { return s.shipments }
func (s *Store) RewardAccounts() repositories.RewardAccountRepository { return s.rewardAccounts }
func (s *Store) PointsLedger() repositories.PointsLedgerRepository    { return s.pointsLedger }
func (s *Store) Health() repositories.HealthRepository                { return s.health }
