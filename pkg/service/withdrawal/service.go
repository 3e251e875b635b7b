// Package withdrawal implements the withdrawal lifecycle: users request a
// payout which holds funds, an operator moves it through
// PENDING → PROCESSING → COMPLETED or REJECTED. Balances change only on the
// terminal transitions.
package withdrawal

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

// Action is an operator decision on a withdrawal request.
type Action string

const (
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionComplete Action = "COMPLETE"
)

// Config bounds withdrawal requests.
type Config struct {
	MinAmountKRW int64
	MaxAmountKRW int64
}

// ProcessCommand is one operator action.
type ProcessCommand struct {
	WithdrawalID uuid.UUID
	Action       Action
	// Reason is required for REJECT.
	Reason string
	// TransferRef is the external payout reference, required for COMPLETE.
	TransferRef string
}

// Service manages withdrawal requests.
type Service struct {
	uow     repository.UnitOfWork
	sink    audit.Sink
	bus     *eventbus.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

// New creates the withdrawal service.
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
		logger:  logger.With("service", "withdrawal"),
		cfg:     cfg,
	}
}

// Request creates a PENDING withdrawal and holds the amount against the
// wallet. The hold keeps concurrent requests from promising the same funds.
func (s *Service) Request(ctx context.Context, userID uuid.UUID, amount int64) (*dto.WithdrawalRead, error) {
	if amount < s.cfg.MinAmountKRW || amount > s.cfg.MaxAmountKRW {
		return nil, fmt.Errorf("%w: amount %d outside [%d, %d]",
			domain.ErrValidation, amount, s.cfg.MinAmountKRW, s.cfg.MaxAmountKRW)
	}

	accounts, err := s.uow.AccountRepository()
	if err != nil {
		return nil, err
	}
	account, err := accounts.GetByUser(ctx, userID, string(money.KRW))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no wallet for user", domain.ErrNotFound)
		}
		return nil, err
	}

	requested, err := money.New(amount, money.KRW)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	request, err := settlementdomain.NewWithdrawal(userID, account.ID, requested)
	if err != nil {
		return nil, err
	}

	err = s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		accounts, err := uow.AccountRepository()
		if err != nil {
			return err
		}
		withdrawals, err := uow.WithdrawalRepository()
		if err != nil {
			return err
		}
		if err := accounts.HoldForWithdrawal(ctx, account.ID, amount); err != nil {
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return fmt.Errorf("%w: available balance is below %d", domain.ErrInsufficientFunds, amount)
			}
			return err
		}
		return withdrawals.Create(ctx, dto.WithdrawalCreate{
			ID:        request.ID,
			AccountID: account.ID,
			UserID:    userID,
			Amount:    amount,
			Currency:  string(money.KRW),
			Status:    string(settlementdomain.WithdrawalPending),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WithdrawalTransition(string(settlementdomain.WithdrawalPending))
	s.sink.Record(ctx, audit.Entry{
		EventType:   "withdrawal.requested",
		PrincipalID: userID,
		Amount:      amount,
		Currency:    string(money.KRW),
		Status:      string(settlementdomain.WithdrawalPending),
		ReferenceID: request.ID.String(),
	})
	s.bus.Publish(ctx, eventbus.WithdrawalRequested{
		WithdrawalID: request.ID,
		UserID:       userID,
		Amount:       amount,
		RequestedAt:  time.Now(),
	})
	s.logger.Info("withdrawal requested", "withdrawal_id", request.ID, "user_id", userID, "amount", amount)

	return &dto.WithdrawalRead{
		ID:        request.ID,
		AccountID: account.ID,
		UserID:    userID,
		Amount:    amount,
		Currency:  string(money.KRW),
		Status:    string(settlementdomain.WithdrawalPending),
	}, nil
}

// Process applies one operator action. Terminal requests refuse every
// action; concurrent operators racing on the same request are serialized by
// the status-conditioned updates underneath.
func (s *Service) Process(ctx context.Context, cmd ProcessCommand) (*dto.WithdrawalRead, error) {
	withdrawals, err := s.uow.WithdrawalRepository()
	if err != nil {
		return nil, err
	}
	current, err := withdrawals.Get(ctx, cmd.WithdrawalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: withdrawal %s", domain.ErrNotFound, cmd.WithdrawalID)
		}
		return nil, err
	}
	if settlementdomain.WithdrawalStatus(current.Status).IsTerminal() {
		return nil, fmt.Errorf("%w: withdrawal is %s", domain.ErrTerminalState, current.Status)
	}

	switch cmd.Action {
	case ActionApprove:
		return s.approve(ctx, withdrawals, current)
	case ActionReject:
		return s.reject(ctx, current, cmd.Reason)
	case ActionComplete:
		return s.complete(ctx, current, cmd.TransferRef)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrValidation, cmd.Action)
	}
}

func (s *Service) approve(
	ctx context.Context,
	withdrawals repository.WithdrawalRepository,
	current *dto.WithdrawalRead,
) (*dto.WithdrawalRead, error) {
	if current.Status != string(settlementdomain.WithdrawalPending) {
		return nil, fmt.Errorf("%w: only PENDING requests can be approved", domain.ErrValidation)
	}
	if err := withdrawals.TransitionStatus(ctx, current.ID, current.Status,
		string(settlementdomain.WithdrawalProcessing), dto.WithdrawalUpdate{}); err != nil {
		return s.transitionErr(err)
	}
	current.Status = string(settlementdomain.WithdrawalProcessing)
	s.metrics.WithdrawalTransition(current.Status)
	s.sink.Record(ctx, audit.Entry{
		EventType:   "withdrawal.approved",
		PrincipalID: current.UserID,
		Amount:      current.Amount,
		Currency:    current.Currency,
		Status:      current.Status,
		ReferenceID: current.ID.String(),
	})
	s.logger.Info("withdrawal approved", "withdrawal_id", current.ID)
	return current, nil
}

// reject releases the hold and moves the request to its terminal REJECTED
// state in one storage transaction.
func (s *Service) reject(ctx context.Context, current *dto.WithdrawalRead, reason string) (*dto.WithdrawalRead, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", domain.ErrValidation)
	}
	err := s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		withdrawals, err := uow.WithdrawalRepository()
		if err != nil {
			return err
		}
		accounts, err := uow.AccountRepository()
		if err != nil {
			return err
		}
		if err := withdrawals.TransitionStatus(ctx, current.ID, current.Status,
			string(settlementdomain.WithdrawalRejected), dto.WithdrawalUpdate{RejectionReason: &reason}); err != nil {
			return err
		}
		return accounts.ReleaseHold(ctx, current.AccountID, current.Amount)
	})
	if err != nil {
		return s.transitionErr(err)
	}

	current.Status = string(settlementdomain.WithdrawalRejected)
	current.RejectionReason = reason
	s.metrics.WithdrawalTransition(current.Status)
	s.sink.Record(ctx, audit.Entry{
		EventType:   "withdrawal.rejected",
		Severity:    audit.SeverityWarning,
		PrincipalID: current.UserID,
		Amount:      current.Amount,
		Currency:    current.Currency,
		Status:      current.Status,
		ReferenceID: current.ID.String(),
		Details:     map[string]any{"reason": reason},
	})
	s.logger.Info("withdrawal rejected", "withdrawal_id", current.ID, "reason", reason)
	return current, nil
}

// complete deducts balance and hold together and records the payout. The
// balance is re-checked inside the conditional update, not trusted from the
// earlier read.
func (s *Service) complete(ctx context.Context, current *dto.WithdrawalRead, transferRef string) (*dto.WithdrawalRead, error) {
	if current.Status != string(settlementdomain.WithdrawalProcessing) {
		return nil, fmt.Errorf("%w: only PROCESSING requests can be completed", domain.ErrValidation)
	}
	if transferRef == "" {
		return nil, fmt.Errorf("%w: transfer reference is required", domain.ErrValidation)
	}

	var change *dto.BalanceChange
	err := s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		withdrawals, err := uow.WithdrawalRepository()
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

		// The CAS on status wins against a concurrent COMPLETE; the guarded
		// deduction wins against a balance that shrank since the request.
		if err := withdrawals.TransitionStatus(ctx, current.ID, current.Status,
			string(settlementdomain.WithdrawalCompleted), dto.WithdrawalUpdate{TransferRef: &transferRef}); err != nil {
			return err
		}
		change, err = accounts.SettleWithdrawal(ctx, current.AccountID, current.Amount)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return fmt.Errorf("%w: balance below withdrawal amount at completion", domain.ErrInsufficientFunds)
			}
			return err
		}
		return txs.Create(ctx, dto.TransactionCreate{
			ID:            uuid.New(),
			AccountID:     current.AccountID,
			Type:          string(settlementdomain.TxWithdrawal),
			Amount:        -current.Amount,
			Currency:      current.Currency,
			BalanceBefore: change.Before,
			BalanceAfter:  change.After,
			ReferenceID:   transferRef,
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) || errors.Is(err, domain.ErrInsufficientFunds) {
			return s.transitionErr(err)
		}
		// The external transfer already happened; a failed deduction here is
		// a ledger gap that must reach an operator.
		return nil, s.escalate(ctx, current, transferRef, err)
	}

	current.Status = string(settlementdomain.WithdrawalCompleted)
	current.TransferRef = transferRef
	s.metrics.WithdrawalTransition(current.Status)
	s.sink.Record(ctx, audit.Entry{
		EventType:     "withdrawal.completed",
		PrincipalID:   current.UserID,
		Amount:        -current.Amount,
		Currency:      current.Currency,
		Status:        current.Status,
		ReferenceID:   current.ID.String(),
		BalanceBefore: &change.Before,
		BalanceAfter:  &change.After,
		Details:       map[string]any{"transfer_ref": transferRef},
	})
	s.bus.Publish(ctx, eventbus.WithdrawalCompleted{
		WithdrawalID: current.ID,
		UserID:       current.UserID,
		Amount:       current.Amount,
		TransferRef:  transferRef,
		CompletedAt:  time.Now(),
	})
	s.logger.Info("withdrawal completed", "withdrawal_id", current.ID, "transfer_ref", transferRef)
	return current, nil
}

func (s *Service) escalate(ctx context.Context, current *dto.WithdrawalRead, transferRef string, cause error) error {
	s.metrics.CriticalAudit()
	s.logger.Error("ledger deduction failed after transfer",
		"withdrawal_id", current.ID, "transfer_ref", transferRef, "error", cause)
	if err := s.sink.Critical(ctx, audit.Entry{
		EventType:   "withdrawal.consistency",
		PrincipalID: current.UserID,
		Amount:      current.Amount,
		Currency:    current.Currency,
		Status:      current.Status,
		ReferenceID: current.ID.String(),
		Details:     map[string]any{"transfer_ref": transferRef, "error": cause.Error()},
	}); err != nil {
		s.logger.Error("critical audit write failed", "withdrawal_id", current.ID, "error", err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConsistency, cause)
}

func (s *Service) transitionErr(err error) (*dto.WithdrawalRead, error) {
	if errors.Is(err, repository.ErrStaleStatus) {
		return nil, fmt.Errorf("%w: withdrawal changed concurrently", domain.ErrTerminalState)
	}
	return nil, err
}

// ListByStatus returns withdrawal requests in one status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status string, limit int) ([]*dto.WithdrawalRead, error) {
	withdrawals, err := s.uow.WithdrawalRepository()
	if err != nil {
		return nil, err
	}
	return withdrawals.ListByStatus(ctx, status, limit)
}
