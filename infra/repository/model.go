// Package repository contains the GORM-backed implementations of the
// settlement storage contracts. Balance arithmetic is pushed into SQL and
// uniqueness constraints carry the idempotency guarantees.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// Account is the GORM model for one (user, currency) ledger account.
type Account struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_accounts_user_currency"`
	Currency          string    `gorm:"size:8;uniqueIndex:idx_accounts_user_currency"`
	Balance           int64     `gorm:"not null;default:0;check:balance >= 0"`
	PendingWithdrawal int64     `gorm:"not null;default:0;check:pending_withdrawal >= 0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentIntent is the GORM model for the idempotency guard. The unique
// index on ReferenceID is the race-safety mechanism: concurrent requests
// with one reference collapse into one reservation.
type PaymentIntent struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReferenceID        string    `gorm:"size:128;uniqueIndex;not null"`
	ExternalPaymentKey string    `gorm:"size:256;index"`
	Provider           string    `gorm:"size:32"`
	Purpose            string    `gorm:"size:32"`
	UserID             uuid.UUID `gorm:"type:uuid;index"`
	Amount             int64     `gorm:"not null"`
	Currency           string    `gorm:"size:8"`
	Status             string    `gorm:"size:16;index"`
	FailureReason      string    `gorm:"size:256"`
	CreditedAmount     *int64
	BalanceAfter       *int64
	TransactionID      *uuid.UUID `gorm:"type:uuid"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Transaction is the GORM model for an immutable ledger entry. Rows are only
// ever inserted.
type Transaction struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID     uuid.UUID `gorm:"type:uuid;index"`
	Type          string    `gorm:"size:32"`
	Amount        int64     `gorm:"not null"`
	Currency      string    `gorm:"size:8"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	ReferenceID   string    `gorm:"size:128;index"`
	CreatedAt     time.Time
}

// Withdrawal is the GORM model for a withdrawal request.
type Withdrawal struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID       uuid.UUID `gorm:"type:uuid;index"`
	UserID          uuid.UUID `gorm:"type:uuid;index"`
	Amount          int64     `gorm:"not null"`
	Currency        string    `gorm:"size:8"`
	Status          string    `gorm:"size:16;index"`
	RejectionReason string    `gorm:"size:256"`
	TransferRef     string    `gorm:"size:128"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Referral is the GORM model for a referral registration. The unique index
// on RefereeID enforces one-referrer-ever at the storage layer.
type Referral struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReferrerID uuid.UUID `gorm:"type:uuid;index"`
	RefereeID  uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	Code       string    `gorm:"size:32"`
	CreatedAt  time.Time
}

// ReferralCode maps a code to its owning user.
type ReferralCode struct {
	Code      string    `gorm:"size:32;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	CreatedAt time.Time
}

// AuditEntry is the GORM model for the append-only audit log.
type AuditEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventType     string    `gorm:"size:64;index"`
	Severity      string    `gorm:"size:16;index"`
	PrincipalID   uuid.UUID `gorm:"type:uuid;index"`
	Amount        int64
	Currency      string `gorm:"size:8"`
	Status        string `gorm:"size:32"`
	ReferenceID   string `gorm:"size:128;index"`
	BalanceBefore *int64
	BalanceAfter  *int64
	Details       string `gorm:"type:jsonb"`
	CreatedAt     time.Time
}
