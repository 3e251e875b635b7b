package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kausenergy/settlement/pkg/dto"
	repo "github.com/kausenergy/settlement/pkg/repository"
)

type referralRepository struct {
	db *gorm.DB
}

// NewReferralRepository creates the GORM-backed referral repository.
func NewReferralRepository(db *gorm.DB) repo.ReferralRepository {
	return &referralRepository{db: db}
}

// Create registers the referral. The unique index on referee_id turns a
// second registration into repository.ErrDuplicateKey.
func (r *referralRepository) Create(ctx context.Context, create dto.ReferralCreate) error {
	row := Referral{
		ID:         create.ID,
		ReferrerID: create.ReferrerID,
		RefereeID:  create.RefereeID,
		Code:       create.Code,
	}
	return mapErr(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *referralRepository) GetByReferee(ctx context.Context, refereeID uuid.UUID) (*dto.ReferralCreate, error) {
	var row Referral
	if err := r.db.WithContext(ctx).First(&row, "referee_id = ?", refereeID).Error; err != nil {
		return nil, mapErr(err)
	}
	return &dto.ReferralCreate{
		ID:         row.ID,
		ReferrerID: row.ReferrerID,
		RefereeID:  row.RefereeID,
		Code:       row.Code,
	}, nil
}

func (r *referralRepository) ResolveCode(ctx context.Context, code string) (uuid.UUID, error) {
	var row ReferralCode
	if err := r.db.WithContext(ctx).First(&row, "code = ?", code).Error; err != nil {
		return uuid.Nil, mapErr(err)
	}
	return row.UserID, nil
}

func (r *referralRepository) CreateCode(ctx context.Context, userID uuid.UUID, code string) error {
	row := ReferralCode{Code: code, UserID: userID}
	return mapErr(r.db.WithContext(ctx).Create(&row).Error)
}
