package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kausenergy/settlement/pkg/dto"
	repo "github.com/kausenergy/settlement/pkg/repository"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates the GORM-backed ledger entry repository.
// Entries are append-only; there is deliberately no update or delete.
func NewTransactionRepository(db *gorm.DB) repo.TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, create dto.TransactionCreate) error {
	row := Transaction{
		ID:            create.ID,
		AccountID:     create.AccountID,
		Type:          create.Type,
		Amount:        create.Amount,
		Currency:      create.Currency,
		BalanceBefore: create.BalanceBefore,
		BalanceAfter:  create.BalanceAfter,
		ReferenceID:   create.ReferenceID,
	}
	return mapErr(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *transactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*dto.TransactionRead, error) {
	var rows []Transaction
	q := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	result := make([]*dto.TransactionRead, 0, len(rows))
	for i := range rows {
		t := rows[i]
		result = append(result, &dto.TransactionRead{
			ID:            t.ID,
			AccountID:     t.AccountID,
			Type:          t.Type,
			Amount:        t.Amount,
			Currency:      t.Currency,
			BalanceBefore: t.BalanceBefore,
			BalanceAfter:  t.BalanceAfter,
			ReferenceID:   t.ReferenceID,
			CreatedAt:     t.CreatedAt,
		})
	}
	return result, nil
}

func (r *transactionRepository) SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&Transaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, mapErr(err)
	}
	return sum, nil
}

var _ repo.TransactionRepository = (*transactionRepository)(nil)
