package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shophub/marketplace/internal/di"
	"github.com/shophub/marketplace/internal/handlers"
	"github.com/shophub/marketplace/internal/platform/auth"
	"github.com/shophub/marketplace/internal/platform/config"
	"github.com/shophub/marketplace/internal/platform/events"
	"github.com/shophub/marketplace/internal/platform/observability"
	"github.com/shophub/marketplace/internal/platform/textutil"
	"github.com/shophub/marketplace/internal/repositories"
	"github.com/shophub/marketplace/internal/repositories/postgres"
	"github.com/shophub/marketplace/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(startedAt)

	var extraChecks []repositories.DependencyCheck
	if cfg.Events.Enabled() {
		extraChecks = append(extraChecks, kafkaCheck(cfg.Events.Brokers))
	}

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
		LogSQL:          cfg.Database.LogSQL,
	}, extraChecks...)
	if err != nil {
		logger.Fatal("failed to open postgres store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("postgres close error", zap.Error(err))
		}
	}()

	opts := di.Options{Logger: logger}
	if cfg.Events.Enabled() {
		orderWriter := events.NewWriter(cfg.Events.Brokers, cfg.Events.OrderEventsTopic)
		notificationWriter := events.NewWriter(cfg.Events.Brokers, cfg.Events.NotificationsTopic)
		defer func() {
			if err := orderWriter.Close(); err != nil {
				logger.Warn("kafka order writer close error", zap.Error(err))
			}
			if err := notificationWriter.Close(); err != nil {
				logger.Warn("kafka notification writer close error", zap.Error(err))
			}
		}()

		publisher, err := events.NewKafkaOrderEventPublisher(orderWriter)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		notifier, err := events.NewKafkaNotifier(events.KafkaNotifierDeps{
			Writer: notificationWriter,
			Logger: func(_ context.Context, event string, fields map[string]any) {
				zFields := make([]zap.Field, 0, len(fields))
				for k, v := range fields {
					zFields = append(zFields, zap.Any(k, v))
				}
				logger.Named("notify").Warn(event, zFields...)
			},
		})
		if err != nil {
			logger.Fatal("failed to initialise notifier", zap.Error(err))
		}
		opts.EventPublisher = publisher
		opts.Notifier = notifier
	}

	container, err := di.NewContainer(ctx, cfg, store, opts)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	router := buildRouter(cfg, container, opts, buildInfo, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("marketplace api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildRouter(cfg config.Config, container *di.Container, opts di.Options, buildInfo services.BuildInfo, logger *zap.Logger) http.Handler {
	svc := container.Services

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.MetricsMiddleware(logger.Named("http")),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		auth.Middleware(),
	}
	if cfg.RateLimits.DefaultPerMinute > 0 {
		middlewares = append(middlewares, handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute, time.Minute))
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Checkout)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Loyalty)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Orders, svc.Payments, svc.Loyalty, opts.Notifier)
	shipmentHandlers := handlers.NewShipmentHandlers(svc.Orders, svc.Shipments, svc.Loyalty, svc.Invoices, opts.Notifier)
	invoiceHandlers := handlers.NewInvoiceHandlers(svc.Orders, svc.Invoices)
	rewardHandlers := handlers.NewRewardHandlers(svc.Loyalty)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			paymentHandlers.Routes(r)
			shipmentHandlers.Routes(r)
			invoiceHandlers.Routes(r)
		}),
		handlers.WithAdminRoutes(orderHandlers.AdminRoutes),
	}
	if cfg.Features.EnableLoyalty {
		routerOpts = append(routerOpts, handlers.WithRewardRoutes(rewardHandlers.Routes))
	}

	return handlers.NewRouter(routerOpts...)
}

func buildInfoFromEnv(started time.Time) services.BuildInfo {
	version := textutil.FirstNonEmpty(os.Getenv("API_BUILD_VERSION"), "dev")
	commit := textutil.FirstNonEmpty(os.Getenv("API_BUILD_COMMIT_SHA"), "unknown")
	environment := textutil.FirstNonEmpty(os.Getenv("API_ENVIRONMENT"), "local")
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// kafkaCheck probes the first reachable broker.
func kafkaCheck(brokers []string) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "kafka",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			var lastErr error
			for _, broker := range brokers {
				conn, err := kafka.DialContext(ctx, "tcp", broker)
				if err != nil {
					lastErr = err
					continue
				}
				_ = conn.Close()
				return nil
			}
			if lastErr == nil {
				lastErr = errors.New("kafka: no brokers configured")
			}
			return lastErr
		},
	}
}
