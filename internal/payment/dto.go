package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
)

// CreatePaymentRequest is the payload for registering a new payment
// and opening its gateway checkout.
type CreatePaymentRequest struct {
	TenantID    string          `json:"tenant_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	PayerEmail  string          `json:"payer_email"`
}

func (r *CreatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("tenant_id", r.TenantID).Required().MaxLength(64)
	validator.Field("description", r.Description).Required().MaxLength(255)
	validator.Field("payer_email", r.PayerEmail).Email()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	if appErr := validation.ValidatePaymentAmount(r.Amount); appErr != nil {
		return appErr
	}
	return nil
}

// PaymentResponse is the API shape of a payment record.
type PaymentResponse struct {
	ID                int64               `json:"id"`
	TenantID          string              `json:"tenant_id"`
	ExternalReference string              `json:"external_reference"`
	GatewayPaymentID  *string             `json:"gateway_payment_id,omitempty"`
	Description       string              `json:"description"`
	Amount            decimal.Decimal     `json:"amount"`
	PayerEmail        string              `json:"payer_email,omitempty"`
	CheckoutURL       string              `json:"checkout_url,omitempty"`
	Status            paymentmodel.Status `json:"status"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`
	LastSyncedAt      *time.Time          `json:"last_synced_at,omitempty"`
	ExpiresAt         *time.Time          `json:"expires_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// PaymentStatusResponse adds freshness info for status queries.
type PaymentStatusResponse struct {
	PaymentResponse

	// Synced is true when the response reflects a gateway fetch made
	// for this request, not just the stored record.
	Synced bool `json:"synced"`

	// StalenessSeconds is how old the last gateway confirmation is.
	// Omitted when the record was never synced.
	StalenessSeconds *int64 `json:"staleness_seconds,omitempty"`
}

// MonitorStatusResponse describes one running monitor.
type MonitorStatusResponse struct {
	PaymentID int64     `json:"payment_id"`
	StartedAt time.Time `json:"started_at"`
}

// WebhookNotification is the gateway's webhook payload. Older
// deliveries carry the id as a top-level resource_id; newer ones nest
// it under data.id. Either a gateway id or an external reference must
// be present for the notification to be resolvable.
type WebhookNotification struct {
	Topic      string `json:"topic"`
	ResourceID string `json:"resource_id"`
	Data       struct {
		ID string `json:"id"`
	} `json:"data"`
	ExternalReference string     `json:"external_reference"`
	ClaimedStatus     string     `json:"status"`
	OccurredAt        *time.Time `json:"occurred_at"`
}

// GatewayResourceID returns the gateway payment id from whichever
// field the delivery used.
func (n *WebhookNotification) GatewayResourceID() string {
	if n.ResourceID != "" {
		return n.ResourceID
	}
	return n.Data.ID
}

func ToPaymentResponse(record *paymentmodel.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:                record.ID,
		TenantID:          record.TenantID,
		ExternalReference: record.ExternalReference,
		GatewayPaymentID:  record.GatewayPaymentID,
		Description:       record.Description,
		Amount:            record.Amount,
		PayerEmail:        record.PayerEmail,
		CheckoutURL:       record.CheckoutURL,
		Status:            record.Status,
		PaidAt:            record.PaidAt,
		LastSyncedAt:      record.LastSyncedAt,
		ExpiresAt:         record.ExpiresAt,
		CreatedAt:         record.CreatedAt,
	}
}
