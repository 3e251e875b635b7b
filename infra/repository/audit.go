package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kausenergy/settlement/pkg/dto"
	repo "github.com/kausenergy/settlement/pkg/repository"
)

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates the GORM-backed audit log repository.
// Append-only: no update, no delete.
func NewAuditRepository(db *gorm.DB) repo.AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, create dto.AuditCreate) error {
	row := mapAuditToModel(create)
	return mapErr(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *auditRepository) CreateBatch(ctx context.Context, creates []dto.AuditCreate) error {
	if len(creates) == 0 {
		return nil
	}
	rows := make([]AuditEntry, 0, len(creates))
	for _, c := range creates {
		rows = append(rows, mapAuditToModel(c))
	}
	return mapErr(r.db.WithContext(ctx).Create(&rows).Error)
}

// AuditStore adapts the audit repository to the sink's store contract.
type AuditStore struct {
	repo repo.AuditRepository
}

// NewAuditStore creates the durable audit backend for the buffered sink.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{repo: NewAuditRepository(db)}
}

func (s *AuditStore) Append(ctx context.Context, create dto.AuditCreate) error {
	return s.repo.Create(ctx, create)
}

func (s *AuditStore) AppendBatch(ctx context.Context, creates []dto.AuditCreate) error {
	return s.repo.CreateBatch(ctx, creates)
}

func mapAuditToModel(c dto.AuditCreate) AuditEntry {
	return AuditEntry{
		ID:            c.ID,
		EventType:     c.EventType,
		Severity:      c.Severity,
		PrincipalID:   c.PrincipalID,
		Amount:        c.Amount,
		Currency:      c.Currency,
		Status:        c.Status,
		ReferenceID:   c.ReferenceID,
		BalanceBefore: c.BalanceBefore,
		BalanceAfter:  c.BalanceAfter,
		Details:       c.Details,
		CreatedAt:     c.CreatedAt,
	}
}
