package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/domain"
	"github.com/kausenergy/settlement/pkg/domain/money"
)

// WithdrawalStatus is the lifecycle state of a WithdrawalRequest.
type WithdrawalStatus string

const (
	// WithdrawalPending is the initial state; the amount is held against the
	// wallet but not yet deducted.
	WithdrawalPending WithdrawalStatus = "PENDING"
	// WithdrawalProcessing signals a payout in flight. No balance change.
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	// WithdrawalCompleted is terminal: balance and hold were deducted.
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
	// WithdrawalRejected is terminal: the hold was released.
	WithdrawalRejected WithdrawalStatus = "REJECTED"
)

// IsTerminal reports whether the status permits no further transition.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalRejected
}

// WithdrawalRequest is a user-initiated payout processed only by the admin
// withdrawal processor. Terminal states are immutable.
type WithdrawalRequest struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	UserID          uuid.UUID
	Amount          money.Money
	Status          WithdrawalStatus
	RejectionReason string
	TransferRef     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewWithdrawal creates a PENDING request after validating the amount.
func NewWithdrawal(userID, accountID uuid.UUID, amount money.Money) (*WithdrawalRequest, error) {
	if userID == uuid.Nil || accountID == uuid.Nil {
		return nil, fmt.Errorf("%w: user and account ids are required", domain.ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", domain.ErrValidation)
	}
	return &WithdrawalRequest{
		ID:        uuid.New(),
		AccountID: accountID,
		UserID:    userID,
		Amount:    amount,
		Status:    WithdrawalPending,
		CreatedAt: time.Now(),
	}, nil
}

// CanWithdrawalTransition reports whether from → to is legal.
func CanWithdrawalTransition(from, to WithdrawalStatus) bool {
	switch from {
	case WithdrawalPending:
		return to == WithdrawalProcessing || to == WithdrawalRejected
	case WithdrawalProcessing:
		return to == WithdrawalCompleted || to == WithdrawalRejected
	default:
		return false
	}
}

// Approve moves PENDING → PROCESSING.
func (w *WithdrawalRequest) Approve() error {
	return w.transition(WithdrawalProcessing)
}

// Reject moves a non-terminal request to REJECTED with a reason.
func (w *WithdrawalRequest) Reject(reason string) error {
	if err := w.transition(WithdrawalRejected); err != nil {
		return err
	}
	w.RejectionReason = reason
	return nil
}

// Complete moves PROCESSING → COMPLETED recording the external transfer ref.
func (w *WithdrawalRequest) Complete(transferRef string) error {
	if err := w.transition(WithdrawalCompleted); err != nil {
		return err
	}
	w.TransferRef = transferRef
	return nil
}

func (w *WithdrawalRequest) transition(to WithdrawalStatus) error {
	if w.Status.IsTerminal() {
		return fmt.Errorf("%w: withdrawal %s is %s", domain.ErrTerminalState, w.ID, w.Status)
	}
	if !CanWithdrawalTransition(w.Status, to) {
		return fmt.Errorf("%w: withdrawal %s → %s", ErrIllegalTransition, w.Status, to)
	}
	w.Status = to
	w.UpdatedAt = time.Now()
	return nil
}
