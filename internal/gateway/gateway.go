package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
)

// ErrNotFound means the gateway does not know the queried payment.
// For a monitor that already saw the payment once this signals the
// reference became invalid.
var ErrNotFound = errors.New("payment not found at gateway")

// TransientError covers network failures, timeouts and gateway 5xx
// responses. Callers retry on the next tick or batch pass; the client
// itself never retries.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PaymentInfo is the authoritative status snapshot fetched from the gateway.
type PaymentInfo struct {
	ID                string
	ExternalReference string
	Status            paymentmodel.Status
	RawStatus         string
	Amount            decimal.Decimal
	ApprovedAt        *time.Time
}

// CheckoutRequest creates a hosted checkout for one payment attempt.
type CheckoutRequest struct {
	ExternalReference string
	Description       string
	Amount            decimal.Decimal
	PayerEmail        string
	NotificationURL   string
	ExpiresAt         time.Time
}

// CheckoutSession is the gateway's answer to a checkout creation.
type CheckoutSession struct {
	GatewayPaymentID string
	CheckoutURL      string
	ExpiresAt        *time.Time
}

// rawStatusMap translates the gateway's status vocabulary to the
// internal enum. This is the single place raw values are interpreted.
var rawStatusMap = map[string]paymentmodel.Status{
	"pending":      paymentmodel.StatusPending,
	"in_process":   paymentmodel.StatusInProcess,
	"in_mediation": paymentmodel.StatusInProcess,
	"authorized":   paymentmodel.StatusAuthorized,
	"approved":     paymentmodel.StatusApproved,
	"rejected":     paymentmodel.StatusRejected,
	"cancelled":    paymentmodel.StatusCancelled,
	"refunded":     paymentmodel.StatusRefunded,
	"charged_back": paymentmodel.StatusRefunded,
}

// MapRawStatus maps a raw gateway status to the internal enum.
// Unknown values are treated as pending and logged, never rejected:
// the reconciler must stay total over everything the gateway emits.
func MapRawStatus(raw string, logger *slog.Logger) paymentmodel.Status {
	if status, ok := rawStatusMap[raw]; ok {
		return status
	}
	if logger != nil {
		logger.Warn("unknown gateway status, treating as pending", "raw_status", raw)
	}
	return paymentmodel.StatusPending
}
