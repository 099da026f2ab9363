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

// TransitionDiff reports one status change made by a batch sweep.
type TransitionDiff struct {
	PaymentID         int64               `json:"payment_id"`
	ExternalReference string              `json:"external_reference"`
	OldStatus         paymentmodel.Status `json:"old_status"`
	NewStatus         paymentmodel.Status `json:"new_status"`
}

// SyncFailure reports one payment the sweep could not reconcile.
type SyncFailure struct {
	PaymentID         int64  `json:"payment_id"`
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason"`
}

// SyncResult summarizes one tenant sweep.
type SyncResult struct {
	TenantID       string           `json:"tenant_id"`
	Synced         int              `json:"synced"`
	BecameApproved int              `json:"became_approved"`
	Transitions    []TransitionDiff `json:"transitions,omitempty"`
	Failures       []SyncFailure    `json:"failures,omitempty"`
}

// BatchReconciler sweeps a tenant's non-terminal payments against the
// gateway in one pass. A failing payment is recorded and skipped; the
// sweep always covers the whole batch.
type BatchReconciler struct {
	repo       RepositoryAPI
	gateway    GatewayAPI
	reconciler *Reconciler
	metrics    *metrics.ReconciliationMetrics
	logger     *slog.Logger
	batchLimit int
}

func NewBatchReconciler(
	repo RepositoryAPI,
	gw GatewayAPI,
	reconciler *Reconciler,
	m *metrics.ReconciliationMetrics,
	logger *slog.Logger,
	batchLimit int,
) *BatchReconciler {
	return &BatchReconciler{
		repo:       repo,
		gateway:    gw,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
		batchLimit: batchLimit,
	}
}

// SyncPending reconciles up to the batch limit of the tenant's oldest
// non-terminal payments.
func (b *BatchReconciler) SyncPending(ctx context.Context, tenantID string) (*SyncResult, error) {
	started := time.Now()
	defer func() {
		b.metrics.BatchSyncDuration.WithLabelValues(tenantID).Observe(time.Since(started).Seconds())
	}()

	records, err := b.repo.ListNonTerminalByTenant(tenantID, b.batchLimit)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{TenantID: tenantID}
	for _, record := range records {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		oldStatus := record.Status
		if err := b.syncOne(ctx, record); err != nil {
			b.logger.Warn("batch sync failed for payment",
				"payment_id", record.ID,
				"tenant_id", tenantID,
				"error", err)
			result.Failures = append(result.Failures, SyncFailure{
				PaymentID:         record.ID,
				ExternalReference: record.ExternalReference,
				Reason:            err.Error(),
			})
			continue
		}

		result.Synced++
		if record.Status != oldStatus {
			result.Transitions = append(result.Transitions, TransitionDiff{
				PaymentID:         record.ID,
				ExternalReference: record.ExternalReference,
				OldStatus:         oldStatus,
				NewStatus:         record.Status,
			})
			if record.Status == paymentmodel.StatusApproved {
				result.BecameApproved++
			}
		}
	}

	b.logger.Info("batch sync complete",
		"tenant_id", tenantID,
		"synced", result.Synced,
		"transitions", len(result.Transitions),
		"failures", len(result.Failures),
		"duration", time.Since(started))

	return result, nil
}

func (b *BatchReconciler) syncOne(ctx context.Context, record *paymentmodel.PaymentRecord) error {
	var (
		info *gateway.PaymentInfo
		err  error
	)
	if record.GatewayPaymentID != nil && *record.GatewayPaymentID != "" {
		info, err = b.gateway.GetPayment(ctx, *record.GatewayPaymentID)
	} else {
		info, err = b.gateway.SearchByReference(ctx, record.ExternalReference)
	}
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			// nothing at the gateway yet, count it as synced with no change
			return b.repo.TouchSynced(record.ID, time.Now())
		}
		b.metrics.GatewayErrorsTotal.WithLabelValues("batch").Inc()
		return err
	}

	_, err = b.reconciler.Reconcile(ctx, record, Observation{
		Status:           info.Status,
		GatewayPaymentID: info.ID,
		ObservedAt:       time.Now(),
		Source:           SourceBatch,
		Authoritative:    true,
	})
	return err
}
