package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kausenergy/settlement/pkg/domain/settlement"
	"github.com/kausenergy/settlement/pkg/dto"
	repo "github.com/kausenergy/settlement/pkg/repository"
)

type intentRepository struct {
	db *gorm.DB
}

// NewIntentRepository creates the GORM-backed payment intent repository.
func NewIntentRepository(db *gorm.DB) repo.IntentRepository {
	return &intentRepository{db: db}
}

// Create inserts the reservation row. A duplicate reference id surfaces as
// repository.ErrDuplicateKey via the unique index; this insert-first order is
// what makes the idempotency check race-safe.
func (r *intentRepository) Create(ctx context.Context, create dto.IntentCreate) error {
	row := PaymentIntent{
		ID:                 create.ID,
		ReferenceID:        create.ReferenceID,
		ExternalPaymentKey: create.ExternalPaymentKey,
		Provider:           create.Provider,
		Purpose:            create.Purpose,
		UserID:             create.UserID,
		Amount:             create.Amount,
		Currency:           create.Currency,
		Status:             string(settlement.IntentInitiated),
	}
	return mapErr(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *intentRepository) GetByReference(ctx context.Context, referenceID string) (*dto.IntentRead, error) {
	var row PaymentIntent
	if err := r.db.WithContext(ctx).First(&row, "reference_id = ?", referenceID).Error; err != nil {
		return nil, mapErr(err)
	}
	return mapIntentToDTO(&row), nil
}

// TransitionStatus is a compare-and-set on the status column. Outcome fields
// are written in the same statement so a credited intent always carries the
// data needed to replay its result.
func (r *intentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, update dto.IntentUpdate) error {
	fields := map[string]any{"status": to, "updated_at": time.Now()}
	if update.FailureReason != nil {
		fields["failure_reason"] = *update.FailureReason
	}
	if update.CreditedAmount != nil {
		fields["credited_amount"] = *update.CreditedAmount
	}
	if update.BalanceAfter != nil {
		fields["balance_after"] = *update.BalanceAfter
	}
	if update.TransactionID != nil {
		fields["transaction_id"] = *update.TransactionID
	}
	res := r.db.WithContext(ctx).Model(&PaymentIntent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrStaleStatus
	}
	return nil
}

func (r *intentRepository) ListStuck(ctx context.Context, olderThan time.Time) ([]*dto.IntentRead, error) {
	var rows []PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]string{string(settlement.IntentInitiated), string(settlement.IntentCaptured)},
			olderThan).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	result := make([]*dto.IntentRead, 0, len(rows))
	for i := range rows {
		result = append(result, mapIntentToDTO(&rows[i]))
	}
	return result, nil
}

func mapIntentToDTO(row *PaymentIntent) *dto.IntentRead {
	return &dto.IntentRead{
		ID:                 row.ID,
		ReferenceID:        row.ReferenceID,
		ExternalPaymentKey: row.ExternalPaymentKey,
		Provider:           row.Provider,
		Purpose:            row.Purpose,
		UserID:             row.UserID,
		Amount:             row.Amount,
		Currency:           row.Currency,
		Status:             row.Status,
		FailureReason:      row.FailureReason,
		CreditedAmount:     row.CreditedAmount,
		BalanceAfter:       row.BalanceAfter,
		TransactionID:      row.TransactionID,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}
