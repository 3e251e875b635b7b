package settlement

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kausenergy/settlement/pkg/domain"
	"github.com/kausenergy/settlement/pkg/domain/money"
)

func krw(t *testing.T, amount int64) money.Money {
	t.Helper()
	m, err := money.New(amount, money.KRW)
	require.NoError(t, err)
	return m
}

func TestIntentBuilder(t *testing.T) {
	userID := uuid.New()
	intent, err := NewIntent().
		WithReference("order-1").
		WithPaymentKey("pay-key-1").
		WithProvider("toss").
		WithUser(userID).
		WithAmount(krw(t, 10000)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, IntentInitiated, intent.Status)
	assert.Equal(t, PurposeWalletTopup, intent.Purpose)
	assert.Equal(t, userID, intent.UserID)
}

func TestIntentBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
	}{
		{"missing reference", func() *Builder {
			return NewIntent().WithPaymentKey("k").WithUser(uuid.New()).WithAmount(krw(t, 100))
		}},
		{"missing payment key", func() *Builder {
			return NewIntent().WithReference("r").WithUser(uuid.New()).WithAmount(krw(t, 100))
		}},
		{"missing user", func() *Builder {
			return NewIntent().WithReference("r").WithPaymentKey("k").WithAmount(krw(t, 100))
		}},
		{"non-positive amount", func() *Builder {
			return NewIntent().WithReference("r").WithPaymentKey("k").WithUser(uuid.New()).WithAmount(krw(t, 0))
		}},
		{"unknown purpose", func() *Builder {
			return NewIntent().WithReference("r").WithPaymentKey("k").WithUser(uuid.New()).
				WithAmount(krw(t, 100)).WithPurpose(IntentPurpose("AIRDROP"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestIntentTransitions(t *testing.T) {
	legal := []struct{ from, to IntentStatus }{
		{IntentInitiated, IntentCaptured},
		{IntentInitiated, IntentFailed},
		{IntentCaptured, IntentCredited},
		{IntentFailed, IntentInitiated},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr.from, tr.to), "%s → %s", tr.from, tr.to)
	}
	illegal := []struct{ from, to IntentStatus }{
		{IntentCredited, IntentInitiated},
		{IntentCredited, IntentCaptured},
		{IntentCaptured, IntentFailed},
		{IntentInitiated, IntentCredited},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr.from, tr.to), "%s → %s", tr.from, tr.to)
	}
}

func TestTransaction_BalanceArithmetic(t *testing.T) {
	accountID := uuid.New()

	rec, err := NewTransaction(accountID, TxPurchase, krw(t, 10000), 5000, 15000, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rec.BalanceBefore)
	assert.Equal(t, int64(15000), rec.BalanceAfter)

	_, err = NewTransaction(accountID, TxPurchase, krw(t, 10000), 5000, 14000, "order-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewTransaction(accountID, TxPurchase, krw(t, 0), 5000, 5000, "order-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdrawalStateMachine(t *testing.T) {
	w, err := NewWithdrawal(uuid.New(), uuid.New(), krw(t, 20000))
	require.NoError(t, err)
	require.Equal(t, WithdrawalPending, w.Status)

	require.NoError(t, w.Approve())
	assert.Equal(t, WithdrawalProcessing, w.Status)

	require.NoError(t, w.Complete("bank-tx-99"))
	assert.Equal(t, WithdrawalCompleted, w.Status)
	assert.Equal(t, "bank-tx-99", w.TransferRef)

	// Terminal states are immutable.
	assert.ErrorIs(t, w.Reject("late"), domain.ErrTerminalState)
	assert.ErrorIs(t, w.Approve(), domain.ErrTerminalState)
}

func TestWithdrawal_RejectReleasesTerminal(t *testing.T) {
	w, err := NewWithdrawal(uuid.New(), uuid.New(), krw(t, 20000))
	require.NoError(t, err)

	require.NoError(t, w.Reject("kyc failed"))
	assert.Equal(t, WithdrawalRejected, w.Status)
	assert.Equal(t, "kyc failed", w.RejectionReason)
	assert.ErrorIs(t, w.Complete("x"), domain.ErrTerminalState)
}

func TestWithdrawal_CompleteRequiresProcessing(t *testing.T) {
	w, err := NewWithdrawal(uuid.New(), uuid.New(), krw(t, 20000))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Complete("x"), ErrIllegalTransition)
}

func TestNewReferral_SelfReferralRejected(t *testing.T) {
	id := uuid.New()
	_, err := NewReferral(id, id, "CODE1")
	assert.ErrorIs(t, err, domain.ErrSelfReferral)
}
