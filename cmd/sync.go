package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
	"github.com/frahmantamala/payment-reconciliation/internal/metrics"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	paymentpostgres "github.com/frahmantamala/payment-reconciliation/internal/payment/postgres"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

var syncCmd = &cobra.Command{
	Use:   "sync [tenant-id]",
	Short: "Run one batch reconciliation sweep for a tenant",
	Long:  `Fetch the tenant's non-terminal payments, ask the gateway for their current status and apply the resulting transitions. Prints the sweep summary as JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTenantSync(args[0])
	},
}

var syncTimeout time.Duration

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "overall sweep deadline")
}

func runTenantSync(tenantID string) error {
	config, err := loadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.InitWith(os.Getenv("APP_ENV"), config.Observability.Logging.Level, config.Observability.Logging.Format)
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialize orm: %w", err)
	}

	repo := paymentpostgres.NewPaymentRepository(gormDB)
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        config.Gateway.BaseURL,
		AccessToken:    config.Gateway.AccessToken,
		RequestTimeout: config.Gateway.RequestTimeout,
	}, appLogger)

	reconciliationMetrics := metrics.NewReconciliationMetrics()
	reconciler := payment.NewReconciler(repo, nil, reconciliationMetrics, appLogger)
	batch := payment.NewBatchReconciler(repo, gatewayClient, reconciler, reconciliationMetrics, appLogger,
		config.Monitor.BatchLimit)

	ctx, cancel := internal.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	result, err := batch.SyncPending(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
