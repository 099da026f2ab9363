package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the internal payment status vocabulary. Raw gateway
// statuses are mapped into this set at the gateway client boundary.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProcess  Status = "in_process"
	StatusAuthorized Status = "authorized"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// statusRanks orders the happy-path statuses. Terminal siblings
// (rejected, cancelled, refunded) sit above approved so a stale
// lower-ranked observation can never overwrite them.
var statusRanks = map[Status]int{
	StatusPending:    0,
	StatusInProcess:  1,
	StatusAuthorized: 2,
	StatusApproved:   3,
	StatusRejected:   4,
	StatusCancelled:  4,
	StatusRefunded:   4,
}

func (s Status) Rank() int {
	if r, ok := statusRanks[s]; ok {
		return r
	}
	return 0
}

func (s Status) IsValid() bool {
	_, ok := statusRanks[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted,
// except the single approved -> refunded edge.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// TerminalStatuses lists the statuses batch sweeps must skip.
func TerminalStatuses() []Status {
	return []Status{StatusApproved, StatusRejected, StatusCancelled, StatusRefunded}
}

// CanTransitionTo encodes the status state machine. Forward jumps
// along the happy path are allowed: a poll may observe "approved"
// while the stored status is still "pending".
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	switch next {
	case StatusInProcess:
		return s == StatusPending
	case StatusAuthorized:
		return s == StatusPending || s == StatusInProcess
	case StatusApproved:
		return s == StatusPending || s == StatusInProcess || s == StatusAuthorized
	case StatusRejected:
		return s == StatusPending || s == StatusInProcess || s == StatusAuthorized
	case StatusCancelled:
		return s == StatusPending || s == StatusInProcess
	case StatusRefunded:
		return s == StatusApproved
	}
	return false
}

// PaymentRecord is the durable state for one payment attempt. Status
// mutations go exclusively through the reconciler; the version column
// backs the compare-and-swap writes that serialize concurrent updates.
type PaymentRecord struct {
	ID                int64           `gorm:"primaryKey"`
	TenantID          string          `gorm:"column:tenant_id;not null;index"`
	ExternalReference string          `gorm:"column:external_reference;not null;uniqueIndex"`
	GatewayPaymentID  *string         `gorm:"column:gateway_payment_id;index"`
	Description       string          `gorm:"column:description"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	PayerEmail        string          `gorm:"column:payer_email"`
	CheckoutURL       string          `gorm:"column:checkout_url"`
	Status            Status          `gorm:"column:status;default:pending;index"`
	Version           int64           `gorm:"column:version;default:0"`
	ExpiresAt         *time.Time      `gorm:"column:expires_at"`
	LastSyncedAt      *time.Time      `gorm:"column:last_synced_at"`
	PaidAt            *time.Time      `gorm:"column:paid_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;default:now()"`
}

func (PaymentRecord) TableName() string {
	return "payment_records"
}

func (p *PaymentRecord) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// Staleness reports how long ago the record was last confirmed against
// the gateway. Returns false when it has never been synced.
func (p *PaymentRecord) Staleness(now time.Time) (time.Duration, bool) {
	if p.LastSyncedAt == nil {
		return 0, false
	}
	return now.Sub(*p.LastSyncedAt), true
}

// CheckoutExpired reports whether the checkout link lapsed while the
// payment was still non-terminal.
func (p *PaymentRecord) CheckoutExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt) && !p.IsTerminal()
}
