// Package domain holds the error taxonomy shared by the settlement core and
// its HTTP boundary. Every rejection carries a stable machine-readable code;
// handlers translate these into problem-details responses.
package domain

import "errors"

// Settlement error taxonomy. Handlers map these to HTTP statuses and reason
// codes; services wrap them with context via fmt.Errorf("%w", ...).
var (
	// ErrValidation is returned when input fails shape or business-bound checks.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced account or resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicate marks an idempotency-guard hit. Not an error to the caller:
	// the prior outcome is replayed with duplicate set.
	ErrDuplicate = errors.New("already processed")
	// ErrInFlight is returned when the same reference id is mid-settlement in
	// another request.
	ErrInFlight = errors.New("settlement in progress")
	// ErrGatewayRejected is returned when the payment gateway reports a
	// definite failure for the external charge.
	ErrGatewayRejected = errors.New("payment gateway rejected")
	// ErrAmountMismatch is returned when the gateway-confirmed amount differs
	// from the requested amount. Hard failure, never reconciled silently.
	ErrAmountMismatch = errors.New("captured amount does not match requested amount")
	// ErrGatewayUnavailable is returned when the gateway outcome is unknown
	// (timeout, network failure). The charge may have succeeded; the intent is
	// flagged for reconciliation and never credited on this path.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInsufficientFunds is returned when a withdrawal exceeds the
	// available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSelfReferral is returned when a user submits their own referral code.
	ErrSelfReferral = errors.New("cannot refer yourself")
	// ErrAlreadyReferred is returned when a user registers a second referrer.
	ErrAlreadyReferred = errors.New("referrer already registered")
	// ErrTerminalState is returned when a transition is attempted on a
	// completed or rejected record.
	ErrTerminalState = errors.New("record is in a terminal state")
	// ErrConsistency marks the gap between a confirmed external capture and a
	// failed ledger credit. Escalated to critical audit, surfaced to the
	// caller as still-processing.
	ErrConsistency = errors.New("ledger credit failed after capture")
	// ErrUnauthorized is returned when the caller lacks a valid identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// Code returns the stable reason code for an error, suitable for clients to
// branch on. Unknown errors map to INTERNAL.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrDuplicate):
		return "DUPLICATE"
	case errors.Is(err, ErrInFlight):
		return "IN_FLIGHT"
	case errors.Is(err, ErrAmountMismatch):
		return "AMOUNT_MISMATCH"
	case errors.Is(err, ErrGatewayRejected):
		return "GATEWAY_REJECTED"
	case errors.Is(err, ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrSelfReferral):
		return "SELF_REFERRAL"
	case errors.Is(err, ErrAlreadyReferred):
		return "ALREADY_REFERRED"
	case errors.Is(err, ErrTerminalState):
		return "TERMINAL_STATE"
	case errors.Is(err, ErrConsistency):
		return "PROCESSING"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}
