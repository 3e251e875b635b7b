// Package settlement defines the aggregates of the settlement core: payment
// intents, ledger transaction records, withdrawal requests and referrals.
// State transitions are methods that enforce their own legality; request
// handlers never mutate these records directly.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/domain"
	"github.com/kausenergy/settlement/pkg/domain/money"
)

// IntentStatus is the lifecycle state of a PaymentIntent.
type IntentStatus string

const (
	// IntentInitiated is the state of a freshly reserved intent. The
	// reservation row itself is the idempotency guard.
	IntentInitiated IntentStatus = "INITIATED"
	// IntentCaptured means the gateway confirmed the charge but the ledger
	// has not been credited yet. An intent stuck here needs reconciliation.
	IntentCaptured IntentStatus = "CAPTURED"
	// IntentCredited is terminal: the ledger mutation committed.
	IntentCredited IntentStatus = "CREDITED"
	// IntentFailed is a retryable terminal-ish state: the gateway definitely
	// rejected the charge, a later attempt with the same reference may retry.
	IntentFailed IntentStatus = "FAILED"
)

// IntentPurpose says which balance a credited intent funds.
type IntentPurpose string

const (
	// PurposeWalletTopup credits the fiat wallet.
	PurposeWalletTopup IntentPurpose = "WALLET_TOPUP"
	// PurposeKausPurchase credits the KAUS token balance.
	PurposeKausPurchase IntentPurpose = "KAUS_PURCHASE"
)

// ErrIllegalTransition is returned when an intent transition is not permitted
// from the current status.
var ErrIllegalTransition = errors.New("illegal intent transition")

// PaymentIntent represents one attempt to move external money onto the
// ledger. It is owned exclusively by the settlement orchestrator for its
// lifetime and becomes terminal exactly once.
type PaymentIntent struct {
	ID                 uuid.UUID
	ReferenceID        string
	ExternalPaymentKey string
	Provider           string
	Purpose            IntentPurpose
	UserID             uuid.UUID
	Requested          money.Money
	Status             IntentStatus
	FailureReason      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Builder constructs valid PaymentIntent values.
type Builder struct {
	id          uuid.UUID
	referenceID string
	paymentKey  string
	provider    string
	purpose     IntentPurpose
	userID      uuid.UUID
	requested   money.Money
	createdAt   time.Time
}

// NewIntent returns a Builder with a fresh identity.
func NewIntent() *Builder {
	return &Builder{id: uuid.New(), purpose: PurposeWalletTopup, createdAt: time.Now()}
}

// WithReference sets the globally unique settlement reference id.
func (b *Builder) WithReference(ref string) *Builder { b.referenceID = ref; return b }

// WithPaymentKey sets the gateway-assigned payment key.
func (b *Builder) WithPaymentKey(key string) *Builder { b.paymentKey = key; return b }

// WithProvider names the gateway that will confirm the charge.
func (b *Builder) WithProvider(p string) *Builder { b.provider = p; return b }

// WithPurpose sets which balance the intent funds.
func (b *Builder) WithPurpose(p IntentPurpose) *Builder { b.purpose = p; return b }

// WithUser sets the owning principal.
func (b *Builder) WithUser(id uuid.UUID) *Builder { b.userID = id; return b }

// WithAmount sets the requested amount.
func (b *Builder) WithAmount(m money.Money) *Builder { b.requested = m; return b }

// Build validates invariants and returns the intent in INITIATED state.
func (b *Builder) Build() (*PaymentIntent, error) {
	if b.referenceID == "" {
		return nil, fmt.Errorf("%w: reference id is required", domain.ErrValidation)
	}
	if b.paymentKey == "" {
		return nil, fmt.Errorf("%w: payment key is required", domain.ErrValidation)
	}
	if b.userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if !b.requested.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	switch b.purpose {
	case PurposeWalletTopup, PurposeKausPurchase:
	default:
		return nil, fmt.Errorf("%w: unknown purpose %q", domain.ErrValidation, b.purpose)
	}
	return &PaymentIntent{
		ID:                 b.id,
		ReferenceID:        b.referenceID,
		ExternalPaymentKey: b.paymentKey,
		Provider:           b.provider,
		Purpose:            b.purpose,
		UserID:             b.userID,
		Requested:          b.requested,
		Status:             IntentInitiated,
		CreatedAt:          b.createdAt,
	}, nil
}

// IsTerminal reports whether no further transition is permitted.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentCredited
}

// CanTransition reports whether from → to is a legal intent transition.
func CanTransition(from, to IntentStatus) bool {
	switch from {
	case IntentInitiated:
		return to == IntentCaptured || to == IntentFailed
	case IntentCaptured:
		return to == IntentCredited
	case IntentFailed:
		// A retried settlement re-arms the reservation.
		return to == IntentInitiated
	default:
		return false
	}
}

// Transition moves the intent to the given status or fails with
// ErrIllegalTransition.
func (p *PaymentIntent) Transition(to IntentStatus) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return nil
}
