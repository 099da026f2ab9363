package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentStatusChanged = "payment.status_changed"
	EventTypePaymentApproved      = "payment.approved"
	EventTypePaymentFailed        = "payment.failed"
)

// PaymentStatusChangedEvent fires for every accepted reconciliation
// transition, including the ones that also fire a more specific event.
type PaymentStatusChangedEvent struct {
	BaseEvent
	PaymentID         int64  `json:"payment_id"`
	TenantID          string `json:"tenant_id"`
	ExternalReference string `json:"external_reference"`
	OldStatus         string `json:"old_status"`
	NewStatus         string `json:"new_status"`
	Source            string `json:"source"`
}

func NewPaymentStatusChangedEvent(paymentID int64, tenantID, externalReference, oldStatus, newStatus, source string) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentStatusChanged,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":         paymentID,
				"tenant_id":          tenantID,
				"external_reference": externalReference,
				"old_status":         oldStatus,
				"new_status":         newStatus,
				"source":             source,
			},
		},
		PaymentID:         paymentID,
		TenantID:          tenantID,
		ExternalReference: externalReference,
		OldStatus:         oldStatus,
		NewStatus:         newStatus,
		Source:            source,
	}
}

type PaymentApprovedEvent struct {
	BaseEvent
	PaymentID         int64     `json:"payment_id"`
	TenantID          string    `json:"tenant_id"`
	ExternalReference string    `json:"external_reference"`
	GatewayPaymentID  string    `json:"gateway_payment_id"`
	Amount            string    `json:"amount"`
	PaidAt            time.Time `json:"paid_at"`
}

func NewPaymentApprovedEvent(paymentID int64, tenantID, externalReference, gatewayPaymentID, amount string, paidAt time.Time) *PaymentApprovedEvent {
	return &PaymentApprovedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentApproved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":         paymentID,
				"tenant_id":          tenantID,
				"external_reference": externalReference,
				"gateway_payment_id": gatewayPaymentID,
				"amount":             amount,
				"paid_at":            paidAt,
			},
		},
		PaymentID:         paymentID,
		TenantID:          tenantID,
		ExternalReference: externalReference,
		GatewayPaymentID:  gatewayPaymentID,
		Amount:            amount,
		PaidAt:            paidAt,
	}
}

// PaymentFailedEvent fires when a payment reaches rejected or cancelled.
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID         int64  `json:"payment_id"`
	TenantID          string `json:"tenant_id"`
	ExternalReference string `json:"external_reference"`
	FinalStatus       string `json:"final_status"`
}

func NewPaymentFailedEvent(paymentID int64, tenantID, externalReference, finalStatus string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":         paymentID,
				"tenant_id":          tenantID,
				"external_reference": externalReference,
				"final_status":       finalStatus,
			},
		},
		PaymentID:         paymentID,
		TenantID:          tenantID,
		ExternalReference: externalReference,
		FinalStatus:       finalStatus,
	}
}
