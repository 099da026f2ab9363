package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
)

// EventHandler reacts to payment lifecycle events. Approvals stop the
// payment's monitor early instead of waiting for its next poll;
// failures do the same. Notification fan-out (email, tenant callbacks)
// hangs off the same subscriptions.
type EventHandler struct {
	registry *Registry
	logger   *slog.Logger
}

func NewEventHandler(registry *Registry, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		registry: registry,
		logger:   logger,
	}
}

func (h *EventHandler) HandlePaymentApproved(ctx context.Context, event events.Event) error {
	approvedEvent, ok := event.(*events.PaymentApprovedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment approved handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentApprovedEvent, got %T", event)
	}

	h.logger.Info("payment approved",
		"payment_id", approvedEvent.PaymentID,
		"tenant_id", approvedEvent.TenantID,
		"external_reference", approvedEvent.ExternalReference,
		"amount", approvedEvent.Amount,
		"paid_at", approvedEvent.PaidAt,
		"event_id", approvedEvent.EventID())

	h.registry.Stop(approvedEvent.PaymentID)
	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failedEvent, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Info("payment failed",
		"payment_id", failedEvent.PaymentID,
		"tenant_id", failedEvent.TenantID,
		"external_reference", failedEvent.ExternalReference,
		"final_status", failedEvent.FinalStatus,
		"event_id", failedEvent.EventID())

	h.registry.Stop(failedEvent.PaymentID)
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentApproved, h.HandlePaymentApproved)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypePaymentApproved, events.EventTypePaymentFailed})
}
