package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Event types routed through the bus.
const (
	EventSettlementCredited  = "settlement.credited"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventReferralClaimed     = "referral.claimed"
)

// SettlementCredited is emitted after a settlement's ledger mutation commits.
type SettlementCredited struct {
	UserID        uuid.UUID
	ReferenceID   string
	TransactionID uuid.UUID
	Purpose       string
	Provider      string
	Amount        int64
	Bonus         int64
	Currency      string
	NewBalance    int64
	CreditedAt    time.Time
}

func (SettlementCredited) EventType() string { return EventSettlementCredited }

// WithdrawalRequested is emitted when a withdrawal request is accepted and
// its funds are held.
type WithdrawalRequested struct {
	WithdrawalID uuid.UUID
	UserID       uuid.UUID
	Amount       int64
	RequestedAt  time.Time
}

func (WithdrawalRequested) EventType() string { return EventWithdrawalRequested }

// WithdrawalCompleted is emitted after an approved withdrawal's transfer is
// settled against the ledger.
type WithdrawalCompleted struct {
	WithdrawalID uuid.UUID
	UserID       uuid.UUID
	Amount       int64
	TransferRef  string
	CompletedAt  time.Time
}

func (WithdrawalCompleted) EventType() string { return EventWithdrawalCompleted }

// ReferralClaimed is emitted when a referral bonus pair is credited.
type ReferralClaimed struct {
	RefereeID     uuid.UUID
	ReferrerID    uuid.UUID
	RefereeBonus  int64
	ReferrerBonus int64
	ClaimedAt     time.Time
}

func (ReferralClaimed) EventType() string { return EventReferralClaimed }
