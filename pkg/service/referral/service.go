// Package referral implements the referral program: one referrer per
// referee, both sides credited atomically when the referee claims a code.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kausenergy/settlement/pkg/audit"
	"github.com/kausenergy/settlement/pkg/domain"
	"github.com/kausenergy/settlement/pkg/domain/money"
	settlementdomain "github.com/kausenergy/settlement/pkg/domain/settlement"
	"github.com/kausenergy/settlement/pkg/dto"
	"github.com/kausenergy/settlement/pkg/eventbus"
	"github.com/kausenergy/settlement/pkg/metrics"
	"github.com/kausenergy/settlement/pkg/repository"
)

// Config holds the bonus amounts, in KAUS tokens.
type Config struct {
	RefereeBonus  int64
	ReferrerBonus int64
}

// Result reports a claimed referral.
type Result struct {
	ReferrerID    uuid.UUID
	RefereeBonus  int64
	ReferrerBonus int64
	NewBalance    int64
}

// Service handles referral claims and code issuance.
type Service struct {
	uow     repository.UnitOfWork
	sink    audit.Sink
	bus     *eventbus.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

// New creates the referral service.
func New(
	uow repository.UnitOfWork,
	sink audit.Sink,
	bus *eventbus.Bus,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		uow:     uow,
		sink:    sink,
		bus:     bus,
		metrics: m,
		logger:  logger.With("service", "referral"),
		cfg:     cfg,
	}
}

// Claim registers code's owner as the referee's referrer and credits both
// bonuses. The registration and both credits commit or roll back together;
// a half-paid referral pair is never observable.
func (s *Service) Claim(ctx context.Context, refereeID uuid.UUID, code string) (*Result, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: referral code is required", domain.ErrValidation)
	}
	referrals, err := s.uow.ReferralRepository()
	if err != nil {
		return nil, err
	}

	referrerID, err := referrals.ResolveCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown referral code", domain.ErrNotFound)
		}
		return nil, err
	}

	if _, err := settlementdomain.NewReferral(referrerID, refereeID, code); err != nil {
		return nil, err
	}

	result := &Result{
		ReferrerID:    referrerID,
		RefereeBonus:  s.cfg.RefereeBonus,
		ReferrerBonus: s.cfg.ReferrerBonus,
	}

	err = s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		referrals, err := uow.ReferralRepository()
		if err != nil {
			return err
		}
		accounts, err := uow.AccountRepository()
		if err != nil {
			return err
		}
		txs, err := uow.TransactionRepository()
		if err != nil {
			return err
		}

		// The unique referee index decides the race between two claims.
		if err := referrals.Create(ctx, dto.ReferralCreate{
			ID:         uuid.New(),
			ReferrerID: referrerID,
			RefereeID:  refereeID,
			Code:       code,
		}); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return fmt.Errorf("%w: user already claimed a referral", domain.ErrAlreadyReferred)
			}
			return err
		}

		refereeBalance, err := s.creditBonus(ctx, accounts, txs, refereeID, s.cfg.RefereeBonus, code)
		if err != nil {
			return fmt.Errorf("crediting referee: %w", err)
		}
		if _, err := s.creditBonus(ctx, accounts, txs, referrerID, s.cfg.ReferrerBonus, code); err != nil {
			return fmt.Errorf("crediting referrer: %w", err)
		}
		result.NewBalance = refereeBalance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ReferralClaimed()
	s.sink.Record(ctx, audit.Entry{
		EventType:   "referral.claimed",
		PrincipalID: refereeID,
		Amount:      s.cfg.RefereeBonus,
		Currency:    string(money.KAUS),
		ReferenceID: code,
		Details: map[string]any{
			"referrer_id":    referrerID,
			"referrer_bonus": s.cfg.ReferrerBonus,
		},
	})
	s.bus.Publish(ctx, eventbus.ReferralClaimed{
		RefereeID:     refereeID,
		ReferrerID:    referrerID,
		RefereeBonus:  s.cfg.RefereeBonus,
		ReferrerBonus: s.cfg.ReferrerBonus,
		ClaimedAt:     time.Now(),
	})
	s.logger.Info("referral claimed", "referee_id", refereeID, "referrer_id", referrerID)
	return result, nil
}

func (s *Service) creditBonus(
	ctx context.Context,
	accounts repository.AccountRepository,
	txs repository.TransactionRepository,
	userID uuid.UUID,
	bonus int64,
	code string,
) (int64, error) {
	account, err := accounts.GetByUser(ctx, userID, string(money.KAUS))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: no KAUS account for user %s", domain.ErrNotFound, userID)
		}
		return 0, err
	}
	change, err := accounts.ApplyDelta(ctx, account.ID, bonus)
	if err != nil {
		return 0, err
	}
	if err := txs.Create(ctx, dto.TransactionCreate{
		ID:            uuid.New(),
		AccountID:     account.ID,
		Type:          string(settlementdomain.TxReferralBonus),
		Amount:        bonus,
		Currency:      string(money.KAUS),
		BalanceBefore: change.Before,
		BalanceAfter:  change.After,
		ReferenceID:   "referral:" + code,
	}); err != nil {
		return 0, err
	}
	return change.After, nil
}

// IssueCode assigns a referral code to a user.
func (s *Service) IssueCode(ctx context.Context, userID uuid.UUID, code string) error {
	if code == "" {
		return fmt.Errorf("%w: referral code is required", domain.ErrValidation)
	}
	referrals, err := s.uow.ReferralRepository()
	if err != nil {
		return err
	}
	if err := referrals.CreateCode(ctx, userID, code); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return fmt.Errorf("%w: referral code already taken", domain.ErrValidation)
		}
		return err
	}
	return nil
}
