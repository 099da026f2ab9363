package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
	"github.com/frahmantamala/payment-reconciliation/internal/metrics"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	paymentpostgres "github.com/frahmantamala/payment-reconciliation/internal/payment/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/rest"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that serves the payment API, the gateway webhook and the operational endpoints`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Router   *chi.Mux
	Logger   *slog.Logger
	Registry *payment.Registry
	Service  *payment.Service
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		deps.Registry.StopAll(10 * time.Second)
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.InitWith(os.Getenv("APP_ENV"), config.Observability.Logging.Level, config.Observability.Logging.Format)
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	// domain wiring
	reconciliationMetrics := metrics.NewReconciliationMetrics()
	eventBus := events.NewEventBus(appLogger)

	repo := paymentpostgres.NewPaymentRepository(gormDB)
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        config.Gateway.BaseURL,
		AccessToken:    config.Gateway.AccessToken,
		RequestTimeout: config.Gateway.RequestTimeout,
	}, appLogger)

	reconciler := payment.NewReconciler(repo, eventBus, reconciliationMetrics, appLogger)
	registry := payment.NewRegistry(reconciliationMetrics, appLogger)
	monitor := payment.NewMonitor(repo, gatewayClient, reconciler, reconciliationMetrics, appLogger,
		config.Monitor.CheckInterval, config.Monitor.MaxDuration)
	batch := payment.NewBatchReconciler(repo, gatewayClient, reconciler, reconciliationMetrics, appLogger,
		config.Monitor.BatchLimit)

	service := payment.NewService(repo, gatewayClient, reconciler, monitor, registry, batch, payment.ServiceConfig{
		CheckoutExpiry:  config.Gateway.CheckoutExpiry,
		NotificationURL: config.Gateway.NotificationURL,
	}, appLogger)

	eventHandler := payment.NewEventHandler(registry, appLogger)
	eventHandler.RegisterEventHandlers(eventBus)

	paymentHandler := payment.NewHandler(service, appLogger)
	webhookHandler := payment.NewWebhookHandler(&paymentHandler.BaseHandler, service, appLogger)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, paymentHandler, webhookHandler, config.Security.JWTSecret, appLogger)

	return &Dependencies{
		Config:   config,
		DB:       db,
		Router:   router,
		Logger:   appLogger,
		Registry: registry,
		Service:  service,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
