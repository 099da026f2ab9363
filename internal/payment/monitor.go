package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
	"github.com/frahmantamala/payment-reconciliation/internal/metrics"
)

// Monitor polls the gateway for a single payment until the payment
// reaches a terminal status, the duration budget runs out, or the
// context is cancelled. One Monitor instance is shared by all monitor
// goroutines; per-payment state lives in the MonitorHandle.
type Monitor struct {
	repo       RepositoryAPI
	gateway    GatewayAPI
	reconciler *Reconciler
	metrics    *metrics.ReconciliationMetrics
	logger     *slog.Logger

	checkInterval time.Duration
	maxDuration   time.Duration
}

func NewMonitor(
	repo RepositoryAPI,
	gw GatewayAPI,
	reconciler *Reconciler,
	m *metrics.ReconciliationMetrics,
	logger *slog.Logger,
	checkInterval, maxDuration time.Duration,
) *Monitor {
	return &Monitor{
		repo:          repo,
		gateway:       gw,
		reconciler:    reconciler,
		metrics:       m,
		logger:        logger,
		checkInterval: checkInterval,
		maxDuration:   maxDuration,
	}
}

// Run is the monitor body. It performs a check immediately and then on
// every tick, so a payment that is already terminal costs one gateway
// call at most.
func (m *Monitor) Run(ctx context.Context, handle *MonitorHandle) {
	ctx, cancel := context.WithTimeout(ctx, m.maxDuration)
	defer cancel()

	logger := m.logger.With("payment_id", handle.PaymentID)
	logger.Info("monitoring payment",
		"check_interval", m.checkInterval,
		"max_duration", m.maxDuration)

	// seenAtGateway flips once the gateway has returned the payment.
	// Before that, a not-found answer just means checkout creation is
	// still settling on the gateway side; afterwards it is fatal.
	seenAtGateway := false

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		done := m.check(ctx, handle, logger, &seenAtGateway)
		if done {
			return
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				m.metrics.MonitorTimeoutsTotal.Inc()
				logger.Warn("monitor duration budget exhausted",
					"checks", handle.CheckCount())
			} else {
				logger.Info("monitor cancelled", "checks", handle.CheckCount())
			}
			return
		case <-ticker.C:
		}
	}
}

// check performs one poll cycle. It returns true when the monitor
// should stop.
func (m *Monitor) check(ctx context.Context, handle *MonitorHandle, logger *slog.Logger, seenAtGateway *bool) bool {
	handle.incrementChecks()
	m.metrics.MonitorChecksTotal.Inc()

	record, err := m.repo.GetByID(handle.PaymentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			logger.Warn("payment record vanished, stopping monitor")
			return true
		}
		logger.Error("failed to load payment record", "error", err)
		return false
	}

	if record.Status.IsTerminal() {
		logger.Info("payment already terminal, stopping monitor",
			"status", record.Status)
		return true
	}

	info, err := m.fetchFromGateway(ctx, record)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			if *seenAtGateway {
				logger.Warn("payment disappeared from gateway, stopping monitor")
				return true
			}
			logger.Debug("payment not visible at gateway yet")
			return false
		}
		m.metrics.GatewayErrorsTotal.WithLabelValues("poll").Inc()
		if gateway.IsTransient(err) {
			logger.Warn("transient gateway error, will retry", "error", err)
			return false
		}
		logger.Error("gateway poll failed", "error", err)
		return false
	}
	*seenAtGateway = true

	changed, err := m.reconciler.Reconcile(ctx, record, Observation{
		Status:           info.Status,
		GatewayPaymentID: info.ID,
		ObservedAt:       time.Now(),
		Source:           SourcePoll,
		Authoritative:    true,
	})
	if err != nil {
		logger.Error("reconciliation failed during poll", "error", err)
		return false
	}

	if record.Status.IsTerminal() {
		logger.Info("payment reached terminal status, stopping monitor",
			"status", record.Status,
			"changed", changed,
			"checks", handle.CheckCount())
		return true
	}
	return false
}

// fetchFromGateway prefers the stored gateway payment id and falls
// back to a search by external reference while the id is unknown.
func (m *Monitor) fetchFromGateway(ctx context.Context, record *paymentmodel.PaymentRecord) (*gateway.PaymentInfo, error) {
	if record.GatewayPaymentID != nil && *record.GatewayPaymentID != "" {
		return m.gateway.GetPayment(ctx, *record.GatewayPaymentID)
	}
	return m.gateway.SearchByReference(ctx, record.ExternalReference)
}
