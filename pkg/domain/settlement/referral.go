package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/domain"
)

// Referral links a referee to the one referrer they may ever register.
// Uniqueness per referee is enforced by the storage layer; the aggregate
// enforces the self-referral rule before any credit happens.
type Referral struct {
	ID         uuid.UUID
	ReferrerID uuid.UUID
	RefereeID  uuid.UUID
	Code       string
	CreatedAt  time.Time
}

// NewReferral validates and builds a referral registration.
func NewReferral(referrerID, refereeID uuid.UUID, code string) (*Referral, error) {
	if referrerID == uuid.Nil || refereeID == uuid.Nil {
		return nil, fmt.Errorf("%w: referrer and referee are required", domain.ErrValidation)
	}
	if referrerID == refereeID {
		return nil, domain.ErrSelfReferral
	}
	return &Referral{
		ID:         uuid.New(),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Code:       code,
		CreatedAt:  time.Now(),
	}, nil
}
