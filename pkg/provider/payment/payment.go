// Package payment defines the contract between the settlement orchestrator
// and external payment processors. Gateways are untrusted: every amount they
// return is re-validated by the orchestrator against the requested amount.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/kausenergy/settlement/pkg/domain/money"
)

var (
	// ErrRejected is a definite gateway-side failure: the charge did not and
	// will not complete. Safe to mark the intent failed.
	ErrRejected = errors.New("gateway rejected payment")
	// ErrUnavailable is a transient gateway-side failure (5xx, connection
	// refused) where the charge definitely did not complete. Retryable.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrUnknownOutcome means the request timed out or the response never
	// arrived: the charge MAY have completed on the gateway side. Never
	// treated as failure; the intent is flagged for reconciliation.
	ErrUnknownOutcome = errors.New("gateway outcome unknown")
)

// Confirmation is the gateway's verified view of a captured charge.
type Confirmation struct {
	PaymentKey string
	OrderID    string
	// Amount is what the gateway actually captured. The orchestrator treats
	// any difference from the requested amount as a hard failure.
	Amount     money.Money
	Method     string
	ApprovedAt time.Time
}

// Gateway confirms or captures an external payment by its gateway-assigned
// key. Implementations perform no silent retries; retrying is the caller's
// decision so every attempt is observable.
type Gateway interface {
	// Name identifies the processor in intents, logs and metrics.
	Name() string
	// Confirm verifies that paymentKey corresponds to a completed charge for
	// the expected amount, capturing it if still authorized-only.
	Confirm(ctx context.Context, paymentKey, orderID string, expected money.Money) (*Confirmation, error)
}

// Retryable reports whether the caller may retry the confirm call with the
// same idempotency key. Unknown outcomes are NOT retryable through this
// path: a blind retry could double-capture; reconciliation owns them.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
