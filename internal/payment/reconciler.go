package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/metrics"
)

// maxConflictRetries bounds how often a reconciliation attempt is
// replayed after losing a compare-and-swap race.
const maxConflictRetries = 3

// Reconciler is the only component allowed to change a payment's
// status. Every observation, whatever its source, funnels through
// Reconcile, which enforces the state machine and the rank rule.
type Reconciler struct {
	repo     RepositoryAPI
	eventBus *events.EventBus
	metrics  *metrics.ReconciliationMetrics
	logger   *slog.Logger
}

func NewReconciler(repo RepositoryAPI, eventBus *events.EventBus, m *metrics.ReconciliationMetrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		eventBus: eventBus,
		metrics:  m,
		logger:   logger,
	}
}

// Reconcile applies one observation to the stored record. It returns
// changed=false for duplicates and for out-of-order observations whose
// status ranks below the stored one; those are counted, never errors.
// The record is mutated in place when the transition is accepted.
func (r *Reconciler) Reconcile(ctx context.Context, record *paymentmodel.PaymentRecord, obs Observation) (bool, error) {
	for attempt := 0; ; attempt++ {
		changed, err := r.reconcileOnce(ctx, record, obs)
		if !errors.Is(err, ErrVersionConflict) {
			return changed, err
		}

		r.metrics.StoreConflictsTotal.Inc()
		if attempt >= maxConflictRetries {
			r.logger.Error("reconciliation gave up after repeated store conflicts",
				"payment_id", record.ID,
				"observed_status", obs.Status,
				"attempts", attempt+1)
			return false, fmt.Errorf("reconcile payment %d: %w", record.ID, ErrVersionConflict)
		}

		fresh, err := r.repo.GetByID(record.ID)
		if err != nil {
			return false, fmt.Errorf("refetch payment %d after conflict: %w", record.ID, err)
		}
		*record = *fresh
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context, record *paymentmodel.PaymentRecord, obs Observation) (bool, error) {
	if !record.Status.CanTransitionTo(obs.Status) {
		r.handleIgnored(record, obs)
		return false, nil
	}

	// snapshot the fields the transition mutates so a failed write
	// leaves the caller's record untouched
	oldStatus := record.Status
	before := *record

	record.Status = obs.Status
	record.UpdatedAt = obs.ObservedAt
	if obs.Status == paymentmodel.StatusApproved && record.PaidAt == nil {
		paidAt := obs.ObservedAt
		record.PaidAt = &paidAt
	}
	if obs.GatewayPaymentID != "" && record.GatewayPaymentID == nil {
		gatewayID := obs.GatewayPaymentID
		record.GatewayPaymentID = &gatewayID
	}
	if obs.Authoritative {
		syncedAt := obs.ObservedAt
		record.LastSyncedAt = &syncedAt
	}

	if err := r.repo.ApplyTransition(record); err != nil {
		*record = before
		return false, err
	}

	r.logger.Info("payment status transitioned",
		"payment_id", record.ID,
		"external_reference", record.ExternalReference,
		"old_status", oldStatus,
		"new_status", record.Status,
		"source", obs.Source)

	r.metrics.TransitionsTotal.WithLabelValues(string(oldStatus), string(record.Status), obs.Source).Inc()
	r.publishTransitionEvents(ctx, record, oldStatus, obs)

	return true, nil
}

// handleIgnored records a duplicate or out-of-order observation. Same
// status is a routine duplicate; anything else is a rank regression or
// a forbidden edge and gets counted for observability.
func (r *Reconciler) handleIgnored(record *paymentmodel.PaymentRecord, obs Observation) {
	if obs.Status != record.Status {
		r.metrics.StaleObservationsTotal.WithLabelValues(obs.Source).Inc()
		r.logger.Debug("ignoring out-of-order observation",
			"payment_id", record.ID,
			"stored_status", record.Status,
			"observed_status", obs.Status,
			"source", obs.Source)
	}

	if obs.GatewayPaymentID != "" && record.GatewayPaymentID == nil {
		if err := r.repo.SetGatewayPaymentID(record.ID, obs.GatewayPaymentID); err != nil {
			r.logger.Error("failed to store gateway payment id",
				"payment_id", record.ID, "error", err)
		} else {
			gatewayID := obs.GatewayPaymentID
			record.GatewayPaymentID = &gatewayID
		}
	}

	if obs.Authoritative {
		if err := r.repo.TouchSynced(record.ID, obs.ObservedAt); err != nil {
			r.logger.Error("failed to update last synced timestamp",
				"payment_id", record.ID, "error", err)
		} else {
			syncedAt := obs.ObservedAt
			record.LastSyncedAt = &syncedAt
		}
	}
}

func (r *Reconciler) publishTransitionEvents(ctx context.Context, record *paymentmodel.PaymentRecord, oldStatus paymentmodel.Status, obs Observation) {
	if r.eventBus == nil {
		return
	}

	r.eventBus.Publish(ctx, events.NewPaymentStatusChangedEvent(
		record.ID,
		record.TenantID,
		record.ExternalReference,
		string(oldStatus),
		string(record.Status),
		obs.Source,
	))

	switch record.Status {
	case paymentmodel.StatusApproved:
		gatewayID := ""
		if record.GatewayPaymentID != nil {
			gatewayID = *record.GatewayPaymentID
		}
		r.eventBus.Publish(ctx, events.NewPaymentApprovedEvent(
			record.ID,
			record.TenantID,
			record.ExternalReference,
			gatewayID,
			record.Amount.String(),
			*record.PaidAt,
		))
	case paymentmodel.StatusRejected, paymentmodel.StatusCancelled:
		r.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
			record.ID,
			record.TenantID,
			record.ExternalReference,
			string(record.Status),
		))
	}
}
