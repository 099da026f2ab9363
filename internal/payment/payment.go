package payment

import (
	"context"
	"errors"
	"time"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/gateway"
)

// Observation sources, used for logging and metrics labels.
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceBatch   = "batch"
	SourceQuery   = "query"
)

// Observation is one status report about a payment, from any source.
// Authoritative marks observations backed by a direct gateway fetch;
// only those advance lastSyncedAt.
type Observation struct {
	Status           paymentmodel.Status
	GatewayPaymentID string
	ObservedAt       time.Time
	Source           string
	Authoritative    bool
}

// Sentinel errors shared between the domain and the store implementation.
var (
	// ErrRecordNotFound means the store has no such payment record.
	ErrRecordNotFound = errors.New("payment record not found")

	// ErrVersionConflict means a compare-and-swap write lost the race
	// against a concurrent reconciliation. Callers refetch and retry.
	ErrVersionConflict = errors.New("payment record version conflict")
)

// RepositoryAPI is the persistence contract for payment records.
type RepositoryAPI interface {
	Create(record *paymentmodel.PaymentRecord) error
	GetByID(id int64) (*paymentmodel.PaymentRecord, error)
	GetByExternalReference(externalReference string) (*paymentmodel.PaymentRecord, error)
	GetByGatewayPaymentID(gatewayPaymentID string) (*paymentmodel.PaymentRecord, error)
	ListNonTerminalByTenant(tenantID string, limit int) ([]*paymentmodel.PaymentRecord, error)

	// ApplyTransition persists the mutated status fields with a
	// compare-and-swap on the record version. Returns
	// ErrVersionConflict when a concurrent writer got there first.
	ApplyTransition(record *paymentmodel.PaymentRecord) error

	TouchSynced(id int64, at time.Time) error
	SetGatewayPaymentID(id int64, gatewayPaymentID string) error
}

// GatewayAPI is the slice of the gateway client this package needs.
type GatewayAPI interface {
	GetPayment(ctx context.Context, gatewayPaymentID string) (*gateway.PaymentInfo, error)
	SearchByReference(ctx context.Context, externalReference string) (*gateway.PaymentInfo, error)
	CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
}
