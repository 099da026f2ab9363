package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event bus debugging commands",
	Long:  `Inspect the in-process event bus: publish payment lifecycle events and watch a debug handler receive them`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a payment lifecycle event",
	Long:  `Publish a payment lifecycle event (payment.status_changed, payment.approved, payment.failed) with placeholder identifiers so handlers can be exercised without a gateway`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishDebugEvent(args[0])
	},
}

var (
	eventPaymentID int64
	eventTenantID  string
	eventReference string
)

func publishDebugEvent(eventType string) error {
	appLogger := logger.LoggerWrapper()

	eventBus := events.NewEventBus(appLogger)
	eventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		appLogger.Info("debug handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	var event events.Event
	switch eventType {
	case events.EventTypePaymentStatusChanged:
		event = events.NewPaymentStatusChangedEvent(eventPaymentID, eventTenantID, eventReference, "pending", "approved", "cli")
	case events.EventTypePaymentApproved:
		event = events.NewPaymentApprovedEvent(eventPaymentID, eventTenantID, eventReference, "gw-debug", "0.00", time.Now())
	case events.EventTypePaymentFailed:
		event = events.NewPaymentFailedEvent(eventPaymentID, eventTenantID, eventReference, "rejected")
	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}

	appLogger.Info("publishing event", "event_type", eventType, "event_id", event.EventID())
	if err := eventBus.Publish(context.Background(), event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	// handlers run asynchronously, give them a beat before exiting
	time.Sleep(100 * time.Millisecond)
	return nil
}

func init() {
	publishEventCmd.Flags().Int64Var(&eventPaymentID, "payment-id", 1, "payment id carried by the event")
	publishEventCmd.Flags().StringVar(&eventTenantID, "tenant-id", "tenant-debug", "tenant id carried by the event")
	publishEventCmd.Flags().StringVar(&eventReference, "reference", "pay_debug", "external reference carried by the event")

	eventCmd.AddCommand(publishEventCmd)
}
