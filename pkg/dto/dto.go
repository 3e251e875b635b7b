// Package dto carries the flat data shapes exchanged between services and
// repositories. Repositories accept create/update DTOs and return read DTOs;
// domain aggregates never cross the storage boundary directly.
package dto

import (
	"time"

	"github.com/google/uuid"
)

// AccountCreate creates a ledger account for one unit.
type AccountCreate struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Currency string
}

// AccountRead is a snapshot of an account row.
type AccountRead struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Currency          string
	Balance           int64
	PendingWithdrawal int64
	UpdatedAt         time.Time
	CreatedAt         time.Time
}

// Available is the balance not reserved by withdrawal holds.
func (a *AccountRead) Available() int64 {
	return a.Balance - a.PendingWithdrawal
}

// BalanceChange reports the outcome of an atomic balance mutation.
type BalanceChange struct {
	Before int64
	After  int64
}

// IntentCreate reserves a payment intent. The reference id carries the
// storage-level uniqueness constraint that makes the reservation race-safe.
type IntentCreate struct {
	ID                 uuid.UUID
	ReferenceID        string
	ExternalPaymentKey string
	Provider           string
	Purpose            string
	UserID             uuid.UUID
	Amount             int64
	Currency           string
}

// IntentRead is a snapshot of an intent row including any recorded outcome.
type IntentRead struct {
	ID                 uuid.UUID
	ReferenceID        string
	ExternalPaymentKey string
	Provider           string
	Purpose            string
	UserID             uuid.UUID
	Amount             int64
	Currency           string
	Status             string
	FailureReason      string
	// Outcome fields are set once the intent is credited and are replayed
	// verbatim on duplicate submissions.
	CreditedAmount *int64
	BalanceAfter   *int64
	TransactionID  *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IntentUpdate mutates intent fields alongside a status transition.
type IntentUpdate struct {
	FailureReason  *string
	CreditedAmount *int64
	BalanceAfter   *int64
	TransactionID  *uuid.UUID
}

// TransactionCreate appends an immutable ledger entry.
type TransactionCreate struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Type          string
	Amount        int64
	Currency      string
	BalanceBefore int64
	BalanceAfter  int64
	ReferenceID   string
}

// TransactionRead is a snapshot of a ledger entry.
type TransactionRead struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Type          string
	Amount        int64
	Currency      string
	BalanceBefore int64
	BalanceAfter  int64
	ReferenceID   string
	CreatedAt     time.Time
}

// WithdrawalCreate persists a new PENDING withdrawal request.
type WithdrawalCreate struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	UserID    uuid.UUID
	Amount    int64
	Currency  string
	Status    string
}

// WithdrawalRead is a snapshot of a withdrawal request row.
type WithdrawalRead struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	UserID          uuid.UUID
	Amount          int64
	Currency        string
	Status          string
	RejectionReason string
	TransferRef     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WithdrawalUpdate mutates withdrawal fields alongside a status transition.
type WithdrawalUpdate struct {
	RejectionReason *string
	TransferRef     *string
}

// ReferralCreate registers a referee's one permitted referrer.
type ReferralCreate struct {
	ID         uuid.UUID
	ReferrerID uuid.UUID
	RefereeID  uuid.UUID
	Code       string
}

// AuditCreate appends an audit entry.
type AuditCreate struct {
	ID            uuid.UUID
	EventType     string
	Severity      string
	PrincipalID   uuid.UUID
	Amount        int64
	Currency      string
	Status        string
	ReferenceID   string
	BalanceBefore *int64
	BalanceAfter  *int64
	Details       string // opaque JSON payload
	CreatedAt     time.Time
}
