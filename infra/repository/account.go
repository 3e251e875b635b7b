package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	repo "github.com/kausenergy/settlement/pkg/repository"
	"github.com/kausenergy/settlement/pkg/dto"
)

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates the GORM-backed account repository.
func NewAccountRepository(db *gorm.DB) repo.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, create dto.AccountCreate) error {
	acct := Account{
		ID:       create.ID,
		UserID:   create.UserID,
		Currency: create.Currency,
	}
	return mapErr(r.db.WithContext(ctx).Create(&acct).Error)
}

func (r *accountRepository) Get(ctx context.Context, id uuid.UUID) (*dto.AccountRead, error) {
	var acct Account
	if err := r.db.WithContext(ctx).First(&acct, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return mapAccountToDTO(&acct), nil
}

func (r *accountRepository) GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*dto.AccountRead, error) {
	var acct Account
	err := r.db.WithContext(ctx).
		First(&acct, "user_id = ? AND currency = ?", userID, currency).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return mapAccountToDTO(&acct), nil
}

// ApplyDelta performs the balance mutation as one conditional UPDATE with the
// arithmetic in SQL, so concurrent settlements against the same account
// serialize in the storage engine instead of racing read-then-write in here.
func (r *accountRepository) ApplyDelta(ctx context.Context, id uuid.UUID, delta int64) (*dto.BalanceChange, error) {
	var after int64
	res := r.db.WithContext(ctx).Raw(
		`UPDATE accounts
		    SET balance = balance + ?, updated_at = NOW()
		  WHERE id = ? AND balance + ? >= 0
		  RETURNING balance`,
		delta, id, delta,
	).Scan(&after)
	if res.Error != nil {
		return nil, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.guardFailure(ctx, id)
	}
	return &dto.BalanceChange{Before: after - delta, After: after}, nil
}

func (r *accountRepository) HoldForWithdrawal(ctx context.Context, id uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("hold amount must be positive, got %d", amount)
	}
	res := r.db.WithContext(ctx).Exec(
		`UPDATE accounts
		    SET pending_withdrawal = pending_withdrawal + ?, updated_at = NOW()
		  WHERE id = ? AND balance - pending_withdrawal >= ?`,
		amount, id, amount,
	)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return r.guardFailure(ctx, id)
	}
	return nil
}

func (r *accountRepository) ReleaseHold(ctx context.Context, id uuid.UUID, amount int64) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE accounts
		    SET pending_withdrawal = pending_withdrawal - ?, updated_at = NOW()
		  WHERE id = ? AND pending_withdrawal >= ?`,
		amount, id, amount,
	)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return r.guardFailure(ctx, id)
	}
	return nil
}

// SettleWithdrawal deducts from balance and hold together; the guards
// re-check sufficiency at completion time rather than trusting the
// PENDING-time check.
func (r *accountRepository) SettleWithdrawal(ctx context.Context, id uuid.UUID, amount int64) (*dto.BalanceChange, error) {
	var after int64
	res := r.db.WithContext(ctx).Raw(
		`UPDATE accounts
		    SET balance = balance - ?, pending_withdrawal = pending_withdrawal - ?, updated_at = NOW()
		  WHERE id = ? AND balance >= ? AND pending_withdrawal >= ?
		  RETURNING balance`,
		amount, amount, id, amount, amount,
	).Scan(&after)
	if res.Error != nil {
		return nil, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.guardFailure(ctx, id)
	}
	return &dto.BalanceChange{Before: after + amount, After: after}, nil
}

// guardFailure distinguishes a missing account from a refused guard.
func (r *accountRepository) guardFailure(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return mapErr(err)
	}
	if count == 0 {
		return repo.ErrNotFound
	}
	return repo.ErrInsufficientBalance
}

func mapAccountToDTO(acct *Account) *dto.AccountRead {
	return &dto.AccountRead{
		ID:                acct.ID,
		UserID:            acct.UserID,
		Currency:          acct.Currency,
		Balance:           acct.Balance,
		PendingWithdrawal: acct.PendingWithdrawal,
		CreatedAt:         acct.CreatedAt,
		UpdatedAt:         acct.UpdatedAt,
	}
}
