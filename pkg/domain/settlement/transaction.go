package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/domain"
	"github.com/kausenergy/settlement/pkg/domain/money"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	// TxPurchase is a credit funded by a captured external payment.
	TxPurchase TransactionType = "PURCHASE"
	// TxWithdrawal is a debit paid out to an external destination.
	TxWithdrawal TransactionType = "WITHDRAWAL"
	// TxReferralBonus is a credit from the referral program.
	TxReferralBonus TransactionType = "REFERRAL_BONUS"
	// TxEnergyReward is a promotional credit, e.g. a purchase bonus.
	TxEnergyReward TransactionType = "ENERGY_REWARD"
	// TxReversal compensates a previously written entry.
	TxReversal TransactionType = "REVERSAL"
)

// TransactionRecord is an immutable ledger entry. It is written in the same
// database transaction as the balance change it describes, carrying the
// before and after balances so that the sum of all records for an account
// always equals its current balance.
type TransactionRecord struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Type          TransactionType
	Amount        money.Money // signed: credits positive, debits negative
	BalanceBefore int64
	BalanceAfter  int64
	ReferenceID   string
	CreatedAt     time.Time
}

// NewTransaction builds a record and checks the before/after arithmetic.
func NewTransaction(
	accountID uuid.UUID,
	txType TransactionType,
	amount money.Money,
	balanceBefore, balanceAfter int64,
	referenceID string,
) (*TransactionRecord, error) {
	if accountID == uuid.Nil {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrValidation)
	}
	if amount.Amount() == 0 {
		return nil, fmt.Errorf("%w: transaction amount cannot be zero", domain.ErrValidation)
	}
	if balanceBefore+amount.Amount() != balanceAfter {
		return nil, fmt.Errorf(
			"%w: balance arithmetic does not hold (%d %+d != %d)",
			domain.ErrValidation, balanceBefore, amount.Amount(), balanceAfter,
		)
	}
	return &TransactionRecord{
		ID:            uuid.New(),
		AccountID:     accountID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		ReferenceID:   referenceID,
		CreatedAt:     time.Now(),
	}, nil
}
