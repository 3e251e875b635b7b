package repository

import (
	"context"

	"gorm.io/gorm"

	repo "github.com/kausenergy/settlement/pkg/repository"
)

// UoW provides the transaction boundary and repository access in one
// abstraction. Repositories handed out inside Do share the transaction's DB
// session, so a balance change and its transaction record are atomic.
type UoW struct {
	db *gorm.DB
	tx *gorm.DB
}

// NewUoW creates a UoW over the given *gorm.DB.
func NewUoW(db *gorm.DB) *UoW {
	return &UoW{db: db}
}

// Do runs fn in a transaction boundary, providing a UoW bound to it.
func (u *UoW) Do(ctx context.Context, fn func(uow repo.UnitOfWork) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&UoW{db: u.db, tx: tx})
	})
}

// session returns the transaction session when inside Do, the plain
// connection otherwise.
func (u *UoW) session() *gorm.DB {
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

// AccountRepository returns an account repository bound to the session.
func (u *UoW) AccountRepository() (repo.AccountRepository, error) {
	return NewAccountRepository(u.session()), nil
}

// IntentRepository returns an intent repository bound to the session.
func (u *UoW) IntentRepository() (repo.IntentRepository, error) {
	return NewIntentRepository(u.session()), nil
}

// TransactionRepository returns a ledger entry repository bound to the session.
func (u *UoW) TransactionRepository() (repo.TransactionRepository, error) {
	return NewTransactionRepository(u.session()), nil
}

// WithdrawalRepository returns a withdrawal repository bound to the session.
func (u *UoW) WithdrawalRepository() (repo.WithdrawalRepository, error) {
	return NewWithdrawalRepository(u.session()), nil
}

// ReferralRepository returns a referral repository bound to the session.
func (u *UoW) ReferralRepository() (repo.ReferralRepository, error) {
	return NewReferralRepository(u.session()), nil
}

// AuditRepository returns an audit repository bound to the session.
func (u *UoW) AuditRepository() (repo.AuditRepository, error) {
	return NewAuditRepository(u.session()), nil
}

var _ repo.UnitOfWork = (*UoW)(nil)
