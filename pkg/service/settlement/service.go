// Package settlement implements the settlement orchestrator: the only
// component allowed to turn an external payment into a ledger credit. The
// pipeline is reserve intent, confirm with the gateway, credit atomically,
// confirm the intent. Every step is idempotent under retry of the same
// reference id.
package settlement

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
	"github.com/kausenergy/settlement/pkg/provider/payment"
	"github.com/kausenergy/settlement/pkg/repository"
)

// Config bounds the orchestrator's behavior.
type Config struct {
	// MinAmountKRW and MaxAmountKRW bound a single settlement.
	MinAmountKRW int64
	MaxAmountKRW int64
	// KausPriceKRW is the KRW price of one KAUS token for purchases.
	KausPriceKRW int64
	// PurchaseBonusBps is the KAUS purchase bonus in basis points, credited
	// as a separate reward entry.
	PurchaseBonusBps int64
	// GatewayRetries is how many extra confirm attempts follow a retryable
	// gateway error. Attempts always reuse the same payment key.
	GatewayRetries int
	// RetryBackoff is the initial delay between confirm attempts.
	RetryBackoff time.Duration
	// StuckAfter is the age past which a non-terminal intent shows up in the
	// reconciliation sweep.
	StuckAfter time.Duration
}

// Command is one settlement request.
type Command struct {
	UserID      uuid.UUID
	ReferenceID string
	PaymentKey  string
	Provider    string
	Amount      int64
	Purpose     settlementdomain.IntentPurpose
}

// Result is the outcome of a credited settlement. A Duplicate result replays
// the outcome recorded by the first successful attempt.
type Result struct {
	ReferenceID    string
	TransactionID  uuid.UUID
	CreditedAmount int64
	Currency       string
	BonusAmount    int64
	NewBalance     int64
	Duplicate      bool
}

// Service is the settlement orchestrator.
type Service struct {
	uow      repository.UnitOfWork
	gateways map[string]payment.Gateway
	sink     audit.Sink
	bus      *eventbus.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
}

// New creates the orchestrator.
func New(
	uow repository.UnitOfWork,
	gateways map[string]payment.Gateway,
	sink audit.Sink,
	bus *eventbus.Bus,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		uow:      uow,
		gateways: gateways,
		sink:     sink,
		bus:      bus,
		metrics:  m,
		logger:   logger.With("service", "settlement"),
		cfg:      cfg,
	}
}

// Settle runs the full settlement pipeline for one reference id. It never
// credits on an unknown gateway outcome and never double-credits a reference.
func (s *Service) Settle(ctx context.Context, cmd Command) (*Result, error) {
	logger := s.logger.With("reference_id", cmd.ReferenceID, "user_id", cmd.UserID, "purpose", cmd.Purpose)

	requested, err := s.validate(cmd)
	if err != nil {
		s.metrics.Settlement(string(cmd.Purpose), "validation_failed")
		return nil, err
	}

	gateway, ok := s.gateways[cmd.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment provider %q", domain.ErrValidation, cmd.Provider)
	}

	intents, err := s.uow.IntentRepository()
	if err != nil {
		return nil, err
	}

	// Reserve before any side effect. The unique reference index makes this
	// the idempotency decision point for concurrent submissions.
	intent, replay, err := s.reserve(ctx, intents, cmd, requested)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		logger.Info("replaying credited settlement")
		s.metrics.DuplicateReplay()
		return replay, nil
	}

	account, err := s.resolveAccount(ctx, cmd)
	if err != nil {
		// No charge has been attempted for this reservation; fail the intent
		// so the reference re-arms on the next submission.
		return nil, s.fail(ctx, intents, intent, cmd, "account resolution failed", err)
	}

	confirmation, err := s.confirm(ctx, gateway, intents, intent, cmd, requested, logger)
	if err != nil {
		return nil, err
	}

	// The external charge is now definite. From here every failure path must
	// keep the intent visible for reconciliation instead of failing it.
	if err := intents.TransitionStatus(ctx, intent.ID, string(settlementdomain.IntentInitiated),
		string(settlementdomain.IntentCaptured), dto.IntentUpdate{}); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: reference %s", domain.ErrInFlight, cmd.ReferenceID)
		}
		return nil, s.escalate(ctx, intent, cmd, fmt.Errorf("recording capture: %w", err))
	}

	result, err := s.credit(ctx, intent, account, cmd, requested)
	if err != nil {
		return nil, s.escalate(ctx, intent, cmd, err)
	}

	s.metrics.Settlement(string(cmd.Purpose), "credited")
	s.metrics.CreditedKRW(cmd.Amount)
	before := result.NewBalance - result.CreditedAmount
	s.sink.Record(ctx, audit.Entry{
		EventType:     "settlement.credited",
		PrincipalID:   cmd.UserID,
		Amount:        result.CreditedAmount,
		Currency:      result.Currency,
		Status:        string(settlementdomain.IntentCredited),
		ReferenceID:   cmd.ReferenceID,
		BalanceBefore: &before,
		BalanceAfter:  &result.NewBalance,
		Details: map[string]any{
			"provider":    cmd.Provider,
			"payment_key": confirmation.PaymentKey,
			"method":      confirmation.Method,
			"bonus":       result.BonusAmount,
		},
	})
	s.bus.Publish(ctx, eventbus.SettlementCredited{
		UserID:        cmd.UserID,
		ReferenceID:   cmd.ReferenceID,
		TransactionID: result.TransactionID,
		Purpose:       string(cmd.Purpose),
		Provider:      cmd.Provider,
		Amount:        result.CreditedAmount,
		Bonus:         result.BonusAmount,
		Currency:      result.Currency,
		NewBalance:    result.NewBalance,
		CreditedAt:    time.Now(),
	})
	logger.Info("settlement credited",
		"transaction_id", result.TransactionID, "amount", result.CreditedAmount, "bonus", result.BonusAmount)
	return result, nil
}

func (s *Service) validate(cmd Command) (money.Money, error) {
	if cmd.Amount < s.cfg.MinAmountKRW || cmd.Amount > s.cfg.MaxAmountKRW {
		return money.Money{}, fmt.Errorf("%w: amount %d outside [%d, %d]",
			domain.ErrValidation, cmd.Amount, s.cfg.MinAmountKRW, s.cfg.MaxAmountKRW)
	}
	if cmd.Purpose == settlementdomain.PurposeKausPurchase && cmd.Amount%s.cfg.KausPriceKRW != 0 {
		return money.Money{}, fmt.Errorf("%w: amount %d is not a multiple of the token price %d",
			domain.ErrValidation, cmd.Amount, s.cfg.KausPriceKRW)
	}
	requested, err := money.New(cmd.Amount, money.KRW)
	if err != nil {
		return money.Money{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	// The builder enforces the remaining shape invariants.
	if _, err := settlementdomain.NewIntent().
		WithReference(cmd.ReferenceID).
		WithPaymentKey(cmd.PaymentKey).
		WithProvider(cmd.Provider).
		WithPurpose(cmd.Purpose).
		WithUser(cmd.UserID).
		WithAmount(requested).
		Build(); err != nil {
		return money.Money{}, err
	}
	return requested, nil
}

// reserve inserts the intent row, or resolves what an existing reservation
// means for this request: a credited intent replays, an in-flight one
// conflicts, a failed one is re-armed for retry.
func (s *Service) reserve(
	ctx context.Context,
	intents repository.IntentRepository,
	cmd Command,
	requested money.Money,
) (*dto.IntentRead, *Result, error) {
	create := dto.IntentCreate{
		ID:                 uuid.New(),
		ReferenceID:        cmd.ReferenceID,
		ExternalPaymentKey: cmd.PaymentKey,
		Provider:           cmd.Provider,
		Purpose:            string(cmd.Purpose),
		UserID:             cmd.UserID,
		Amount:             requested.Amount(),
		Currency:           string(requested.Currency()),
	}
	err := intents.Create(ctx, create)
	if err == nil {
		return &dto.IntentRead{
			ID:          create.ID,
			ReferenceID: create.ReferenceID,
			UserID:      create.UserID,
			Amount:      create.Amount,
			Currency:    create.Currency,
			Purpose:     create.Purpose,
			Status:      string(settlementdomain.IntentInitiated),
		}, nil, nil
	}
	if !errors.Is(err, repository.ErrDuplicateKey) {
		// Storage unreachable means the guard cannot decide; fail closed.
		return nil, nil, fmt.Errorf("reserving intent: %w", err)
	}

	prior, err := intents.GetByReference(ctx, cmd.ReferenceID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading prior intent: %w", err)
	}
	if prior.UserID != cmd.UserID || prior.Amount != cmd.Amount || prior.Purpose != string(cmd.Purpose) {
		return nil, nil, fmt.Errorf("%w: reference %s was submitted with a different payload",
			domain.ErrValidation, cmd.ReferenceID)
	}

	switch settlementdomain.IntentStatus(prior.Status) {
	case settlementdomain.IntentCredited:
		if prior.CreditedAmount == nil || prior.BalanceAfter == nil || prior.TransactionID == nil {
			return nil, nil, fmt.Errorf("credited intent %s has no recorded outcome", prior.ReferenceID)
		}
		return nil, &Result{
			ReferenceID:    prior.ReferenceID,
			TransactionID:  *prior.TransactionID,
			CreditedAmount: *prior.CreditedAmount,
			Currency:       prior.Currency,
			NewBalance:     *prior.BalanceAfter,
			Duplicate:      true,
		}, nil
	case settlementdomain.IntentInitiated, settlementdomain.IntentCaptured:
		return nil, nil, fmt.Errorf("%w: reference %s", domain.ErrInFlight, cmd.ReferenceID)
	case settlementdomain.IntentFailed:
		// Re-arm the reservation so exactly one retry proceeds.
		if err := intents.TransitionStatus(ctx, prior.ID, string(settlementdomain.IntentFailed),
			string(settlementdomain.IntentInitiated), dto.IntentUpdate{}); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return nil, nil, fmt.Errorf("%w: reference %s", domain.ErrInFlight, cmd.ReferenceID)
			}
			return nil, nil, fmt.Errorf("re-arming intent: %w", err)
		}
		prior.Status = string(settlementdomain.IntentInitiated)
		return prior, nil, nil
	default:
		return nil, nil, fmt.Errorf("intent %s has unknown status %q", prior.ReferenceID, prior.Status)
	}
}

func (s *Service) resolveAccount(ctx context.Context, cmd Command) (*dto.AccountRead, error) {
	accounts, err := s.uow.AccountRepository()
	if err != nil {
		return nil, err
	}
	currency := money.KRW
	if cmd.Purpose == settlementdomain.PurposeKausPurchase {
		currency = money.KAUS
	}
	account, err := accounts.GetByUser(ctx, cmd.UserID, string(currency))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s account for user", domain.ErrNotFound, currency)
		}
		return nil, err
	}
	return account, nil
}

// confirm calls the gateway with bounded retries. Only a definite
// availability error is retried; an unknown outcome stops immediately
// because the charge may already exist.
func (s *Service) confirm(
	ctx context.Context,
	gateway payment.Gateway,
	intents repository.IntentRepository,
	intent *dto.IntentRead,
	cmd Command,
	requested money.Money,
	logger *slog.Logger,
) (*payment.Confirmation, error) {
	attempts := 1 + s.cfg.GatewayRetries
	backoff := s.cfg.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Info("confirming payment", "provider", gateway.Name(), "attempt", attempt)
		started := time.Now()
		confirmation, err := gateway.Confirm(ctx, cmd.PaymentKey, cmd.ReferenceID, requested)
		elapsed := time.Since(started)

		switch {
		case err == nil:
			s.metrics.GatewayConfirmation(gateway.Name(), "confirmed", elapsed)
			if !confirmation.Amount.Equals(requested) {
				return nil, s.fail(ctx, intents, intent, cmd,
					fmt.Sprintf("captured %s, requested %s", confirmation.Amount, requested),
					fmt.Errorf("%w: captured %s, requested %s", domain.ErrAmountMismatch, confirmation.Amount, requested))
			}
			return confirmation, nil

		case errors.Is(err, payment.ErrRejected):
			s.metrics.GatewayConfirmation(gateway.Name(), "rejected", elapsed)
			return nil, s.fail(ctx, intents, intent, cmd, err.Error(),
				fmt.Errorf("%w: %v", domain.ErrGatewayRejected, err))

		case errors.Is(err, payment.ErrUnknownOutcome):
			s.metrics.GatewayConfirmation(gateway.Name(), "unknown", elapsed)
			// The charge may exist. Leave the intent reserved so the
			// reconciliation sweep finds it; never report a definite failure.
			s.sink.Record(ctx, audit.Entry{
				EventType:   "settlement.gateway_unknown",
				Severity:    audit.SeverityWarning,
				PrincipalID: cmd.UserID,
				Amount:      cmd.Amount,
				Currency:    string(requested.Currency()),
				Status:      intent.Status,
				ReferenceID: cmd.ReferenceID,
				Details:     map[string]any{"provider": gateway.Name(), "error": err.Error()},
			})
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)

		default:
			s.metrics.GatewayConfirmation(gateway.Name(), "unavailable", elapsed)
			lastErr = err
			if attempt < attempts && payment.Retryable(err) {
				logger.Warn("gateway unavailable, retrying", "attempt", attempt, "error", err)
				select {
				case <-time.After(backoff):
					backoff *= 2
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err())
				}
				continue
			}
		}
		break
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, lastErr)
}

// fail records a definite gateway failure on the intent and returns the
// caller-facing error. A failed CAS means another worker owns the intent now.
func (s *Service) fail(
	ctx context.Context,
	intents repository.IntentRepository,
	intent *dto.IntentRead,
	cmd Command,
	reason string,
	callerErr error,
) error {
	s.metrics.Settlement(string(cmd.Purpose), "failed")
	if err := intents.TransitionStatus(ctx, intent.ID, string(settlementdomain.IntentInitiated),
		string(settlementdomain.IntentFailed), dto.IntentUpdate{FailureReason: &reason}); err != nil {
		s.logger.Error("recording intent failure", "reference_id", cmd.ReferenceID, "error", err)
	}
	s.sink.Record(ctx, audit.Entry{
		EventType:   "settlement.failed",
		Severity:    audit.SeverityWarning,
		PrincipalID: cmd.UserID,
		Amount:      cmd.Amount,
		Currency:    "KRW",
		Status:      string(settlementdomain.IntentFailed),
		ReferenceID: cmd.ReferenceID,
		Details:     map[string]any{"reason": reason, "provider": cmd.Provider},
	})
	return callerErr
}

// credit applies the ledger mutation, its transaction records and the intent
// confirmation in one storage transaction.
func (s *Service) credit(
	ctx context.Context,
	intent *dto.IntentRead,
	account *dto.AccountRead,
	cmd Command,
	requested money.Money,
) (*Result, error) {
	creditAmount := requested.Amount()
	currency := money.KRW
	if cmd.Purpose == settlementdomain.PurposeKausPurchase {
		creditAmount = cmd.Amount / s.cfg.KausPriceKRW
		currency = money.KAUS
	}
	bonus := int64(0)
	if cmd.Purpose == settlementdomain.PurposeKausPurchase && s.cfg.PurchaseBonusBps > 0 {
		bonus = creditAmount * s.cfg.PurchaseBonusBps / 10000
	}

	result := &Result{
		ReferenceID:    cmd.ReferenceID,
		CreditedAmount: creditAmount,
		Currency:       string(currency),
		BonusAmount:    bonus,
	}

	err := s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		accounts, err := uow.AccountRepository()
		if err != nil {
			return err
		}
		txs, err := uow.TransactionRepository()
		if err != nil {
			return err
		}
		intents, err := uow.IntentRepository()
		if err != nil {
			return err
		}

		change, err := accounts.ApplyDelta(ctx, account.ID, creditAmount)
		if err != nil {
			return fmt.Errorf("crediting account: %w", err)
		}
		txID := uuid.New()
		if err := txs.Create(ctx, dto.TransactionCreate{
			ID:            txID,
			AccountID:     account.ID,
			Type:          string(settlementdomain.TxPurchase),
			Amount:        creditAmount,
			Currency:      string(currency),
			BalanceBefore: change.Before,
			BalanceAfter:  change.After,
			ReferenceID:   cmd.ReferenceID,
		}); err != nil {
			return fmt.Errorf("recording transaction: %w", err)
		}

		newBalance := change.After
		if bonus > 0 {
			// The bonus is its own entry so it stays independently auditable
			// and reversible.
			bonusChange, err := accounts.ApplyDelta(ctx, account.ID, bonus)
			if err != nil {
				return fmt.Errorf("crediting bonus: %w", err)
			}
			if err := txs.Create(ctx, dto.TransactionCreate{
				ID:            uuid.New(),
				AccountID:     account.ID,
				Type:          string(settlementdomain.TxEnergyReward),
				Amount:        bonus,
				Currency:      string(currency),
				BalanceBefore: bonusChange.Before,
				BalanceAfter:  bonusChange.After,
				ReferenceID:   cmd.ReferenceID,
			}); err != nil {
				return fmt.Errorf("recording bonus transaction: %w", err)
			}
			newBalance = bonusChange.After
		}

		if err := intents.TransitionStatus(ctx, intent.ID, string(settlementdomain.IntentCaptured),
			string(settlementdomain.IntentCredited), dto.IntentUpdate{
				CreditedAmount: &creditAmount,
				BalanceAfter:   &newBalance,
				TransactionID:  &txID,
			}); err != nil {
			return fmt.Errorf("confirming intent: %w", err)
		}

		result.TransactionID = txID
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// escalate handles the gap between a definite external capture and a failed
// ledger credit. The intent stays CAPTURED, a critical audit entry is written
// synchronously, and the caller learns the settlement is still processing.
func (s *Service) escalate(ctx context.Context, intent *dto.IntentRead, cmd Command, cause error) error {
	s.metrics.Settlement(string(cmd.Purpose), "consistency")
	s.metrics.CriticalAudit()
	s.logger.Error("ledger credit failed after capture",
		"reference_id", cmd.ReferenceID, "intent_id", intent.ID, "error", cause)
	if err := s.sink.Critical(ctx, audit.Entry{
		EventType:   "settlement.consistency",
		PrincipalID: cmd.UserID,
		Amount:      cmd.Amount,
		Currency:    "KRW",
		Status:      string(settlementdomain.IntentCaptured),
		ReferenceID: cmd.ReferenceID,
		Details:     map[string]any{"provider": cmd.Provider, "error": cause.Error()},
	}); err != nil {
		s.logger.Error("critical audit write failed", "reference_id", cmd.ReferenceID, "error", err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConsistency, cause)
}

// Wallet returns the user's balances, opening missing accounts so a first
// visit always has a wallet to show.
func (s *Service) Wallet(ctx context.Context, userID uuid.UUID) (map[string]*dto.AccountRead, error) {
	accounts, err := s.uow.AccountRepository()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*dto.AccountRead, 2)
	for _, currency := range []money.Code{money.KRW, money.KAUS} {
		account, err := accounts.GetByUser(ctx, userID, string(currency))
		if errors.Is(err, repository.ErrNotFound) {
			create := dto.AccountCreate{ID: uuid.New(), UserID: userID, Currency: string(currency)}
			if err := accounts.Create(ctx, create); err != nil && !errors.Is(err, repository.ErrDuplicateKey) {
				return nil, err
			}
			account, err = accounts.GetByUser(ctx, userID, string(currency))
			if err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
		out[string(currency)] = account
	}
	return out, nil
}

// Reconciliation lists non-terminal intents older than the stuck cutoff for
// the operator sweep. Intents are never auto-credited from here.
func (s *Service) Reconciliation(ctx context.Context) ([]*dto.IntentRead, error) {
	intents, err := s.uow.IntentRepository()
	if err != nil {
		return nil, err
	}
	stuck, err := intents.ListStuck(ctx, time.Now().Add(-s.cfg.StuckAfter))
	if err != nil {
		return nil, err
	}
	s.metrics.SetStuckIntents(len(stuck))
	return stuck, nil
}
