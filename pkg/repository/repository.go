// Package repository defines the storage contracts of the settlement core.
// Concurrency correctness lives behind these interfaces: balance mutations
// are single atomic conditional updates and idempotency reservations are
// unique inserts, so callers never do read-modify-write on money.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/dto"
)

var (
	// ErrDuplicateKey is returned when an insert collides with a uniqueness
	// constraint (idempotency reservation, second referral registration).
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInsufficientBalance is returned when a conditional balance update
	// matched the row but its guard refused the mutation.
	ErrInsufficientBalance = errors.New("balance guard refused update")
	// ErrStaleStatus is returned when a status-conditioned update matched no
	// row because another writer transitioned it first.
	ErrStaleStatus = errors.New("status changed concurrently")
)

// AccountRepository manages ledger account rows. All mutations are atomic
// delta applications; the arithmetic happens in the storage engine.
type AccountRepository interface {
	Create(ctx context.Context, create dto.AccountCreate) error
	Get(ctx context.Context, id uuid.UUID) (*dto.AccountRead, error)
	// GetByUser resolves the user's account for one currency.
	GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*dto.AccountRead, error)
	// ApplyDelta atomically adds delta to the balance, refusing any result
	// below zero, and returns the before/after pair.
	ApplyDelta(ctx context.Context, id uuid.UUID, delta int64) (*dto.BalanceChange, error)
	// HoldForWithdrawal reserves amount against the available balance
	// (balance minus existing holds).
	HoldForWithdrawal(ctx context.Context, id uuid.UUID, amount int64) error
	// ReleaseHold returns a held amount to the available balance without
	// touching the balance itself.
	ReleaseHold(ctx context.Context, id uuid.UUID, amount int64) error
	// SettleWithdrawal deducts amount from both balance and hold in one
	// guarded update and returns the before/after pair.
	SettleWithdrawal(ctx context.Context, id uuid.UUID, amount int64) (*dto.BalanceChange, error)
}

// IntentRepository is the idempotency guard's storage. Create must be backed
// by a unique constraint on the reference id.
type IntentRepository interface {
	Create(ctx context.Context, create dto.IntentCreate) error
	GetByReference(ctx context.Context, referenceID string) (*dto.IntentRead, error)
	// TransitionStatus performs a compare-and-set on the status column,
	// applying update fields in the same statement. Returns ErrStaleStatus
	// when the from-status no longer matches.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, update dto.IntentUpdate) error
	// ListStuck returns non-terminal intents older than the cutoff, for the
	// operator reconciliation sweep.
	ListStuck(ctx context.Context, olderThan time.Time) ([]*dto.IntentRead, error)
}

// TransactionRepository appends immutable ledger entries.
type TransactionRepository interface {
	Create(ctx context.Context, create dto.TransactionCreate) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*dto.TransactionRead, error)
	// SumByAccount returns the signed sum of all entries for an account;
	// the reconciliation invariant requires it to equal the balance.
	SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// WithdrawalRepository manages withdrawal request rows.
type WithdrawalRepository interface {
	Create(ctx context.Context, create dto.WithdrawalCreate) error
	Get(ctx context.Context, id uuid.UUID) (*dto.WithdrawalRead, error)
	// TransitionStatus is a compare-and-set on the status column; the guard
	// against concurrent COMPLETE calls on one withdrawal id.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, update dto.WithdrawalUpdate) error
	ListByStatus(ctx context.Context, status string, limit int) ([]*dto.WithdrawalRead, error)
}

// ReferralRepository manages referral registrations and code resolution.
// Create must be backed by a unique constraint on the referee.
type ReferralRepository interface {
	Create(ctx context.Context, create dto.ReferralCreate) error
	GetByReferee(ctx context.Context, refereeID uuid.UUID) (*dto.ReferralCreate, error)
	// ResolveCode maps a referral code to its owning user.
	ResolveCode(ctx context.Context, code string) (uuid.UUID, error)
	// CreateCode assigns a referral code to a user.
	CreateCode(ctx context.Context, userID uuid.UUID, code string) error
}

// AuditRepository appends audit entries.
type AuditRepository interface {
	Create(ctx context.Context, create dto.AuditCreate) error
	CreateBatch(ctx context.Context, creates []dto.AuditCreate) error
}

// UnitOfWork provides a transaction boundary plus repository access bound to
// that transaction, so a balance change and its transaction record commit or
// roll back together.
type UnitOfWork interface {
	// Do runs fn inside a storage transaction. Repositories obtained from the
	// UnitOfWork passed to fn share that transaction.
	Do(ctx context.Context, fn func(uow UnitOfWork) error) error
	AccountRepository() (AccountRepository, error)
	IntentRepository() (IntentRepository, error)
	TransactionRepository() (TransactionRepository, error)
	WithdrawalRepository() (WithdrawalRepository, error)
	ReferralRepository() (ReferralRepository, error)
	AuditRepository() (AuditRepository, error)
}
