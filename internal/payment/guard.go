package payment

import (
	"time"

	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
)

// CheckoutDecision is what the pay-link endpoint does with a visitor.
type CheckoutDecision string

const (
	// CheckoutRedirect sends the payer to the gateway checkout page.
	CheckoutRedirect CheckoutDecision = "redirect"

	// CheckoutAlreadyPaid means the payment was settled, there is
	// nothing left to pay.
	CheckoutAlreadyPaid CheckoutDecision = "already_paid"

	// CheckoutExpired means the checkout can no longer be completed.
	CheckoutExpired CheckoutDecision = "expired"
)

// DecideCheckout classifies a pay-link visit against the record's
// current status and expiry. Refunded counts as already paid: money
// changed hands, the link must not restart a checkout.
func DecideCheckout(record *paymentmodel.PaymentRecord, now time.Time) CheckoutDecision {
	switch record.Status {
	case paymentmodel.StatusApproved, paymentmodel.StatusRefunded:
		return CheckoutAlreadyPaid
	case paymentmodel.StatusRejected, paymentmodel.StatusCancelled:
		return CheckoutExpired
	}

	if record.CheckoutExpired(now) {
		return CheckoutExpired
	}
	return CheckoutRedirect
}
