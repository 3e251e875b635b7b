package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kausenergy/settlement/pkg/dto"
	repo "github.com/kausenergy/settlement/pkg/repository"
)

type withdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository creates the GORM-backed withdrawal repository.
func NewWithdrawalRepository(db *gorm.DB) repo.WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) Create(ctx context.Context, create dto.WithdrawalCreate) error {
	row := Withdrawal{
		ID:        create.ID,
		AccountID: create.AccountID,
		UserID:    create.UserID,
		Amount:    create.Amount,
		Currency:  create.Currency,
		Status:    create.Status,
	}
	return mapErr(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *withdrawalRepository) Get(ctx context.Context, id uuid.UUID) (*dto.WithdrawalRead, error) {
	var row Withdrawal
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return mapWithdrawalToDTO(&row), nil
}

// TransitionStatus is a compare-and-set on the status column. Two concurrent
// COMPLETE calls on one id resolve here: the second matches no row and gets
// ErrStaleStatus.
func (r *withdrawalRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, update dto.WithdrawalUpdate) error {
	fields := map[string]any{"status": to, "updated_at": time.Now()}
	if update.RejectionReason != nil {
		fields["rejection_reason"] = *update.RejectionReason
	}
	if update.TransferRef != nil {
		fields["transfer_ref"] = *update.TransferRef
	}
	res := r.db.WithContext(ctx).Model(&Withdrawal{}).
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

func (r *withdrawalRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*dto.WithdrawalRead, error) {
	var rows []Withdrawal
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	result := make([]*dto.WithdrawalRead, 0, len(rows))
	for i := range rows {
		result = append(result, mapWithdrawalToDTO(&rows[i]))
	}
	return result, nil
}

func mapWithdrawalToDTO(row *Withdrawal) *dto.WithdrawalRead {
	return &dto.WithdrawalRead{
		ID:              row.ID,
		AccountID:       row.AccountID,
		UserID:          row.UserID,
		Amount:          row.Amount,
		Currency:        row.Currency,
		Status:          row.Status,
		RejectionReason: row.RejectionReason,
		TransferRef:     row.TransferRef,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}
