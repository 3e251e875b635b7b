// Package infra wires external systems: the postgres connection and schema
// migration for the settlement store.
package infra

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kausenergy/settlement/infra/repository"
)

// NewDBConnection opens the postgres connection used by the settlement
// store. TranslateError is required: the idempotency guard depends on unique
// violations surfacing as gorm.ErrDuplicatedKey.
func NewDBConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the settlement schema, including the unique
// indexes the idempotency and referral guarantees rest on.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&repository.Account{},
		&repository.PaymentIntent{},
		&repository.Transaction{},
		&repository.Withdrawal{},
		&repository.Referral{},
		&repository.ReferralCode{},
		&repository.AuditEntry{},
	)
}
