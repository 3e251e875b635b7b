package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kausenergy/settlement/pkg/dto"
	repo "github.com/kausenergy/settlement/pkg/repository"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDb.Close() })

	dialector := postgres.New(postgres.Config{
		Conn:       mockDb,
		DriverName: "postgres",
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestAccountRepository_ApplyDelta(t *testing.T) {
	db, mock := newMockDB(t)
	r := accountRepository{db: db}
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(int64(10000), id, int64(10000)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(15000)))

	change, err := r.ApplyDelta(context.Background(), id, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), change.Before)
	assert.Equal(t, int64(15000), change.After)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ApplyDelta_GuardRefused(t *testing.T) {
	db, mock := newMockDB(t)
	r := accountRepository{db: db}
	id := uuid.New()

	// Guard refuses: no row returned, but the account exists.
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(int64(-20000), id, int64(-20000)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "accounts"`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := r.ApplyDelta(context.Background(), id, -20000)
	assert.ErrorIs(t, err, repo.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ApplyDelta_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	r := accountRepository{db: db}
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(int64(100), id, int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "accounts"`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := r.ApplyDelta(context.Background(), id, 100)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAccountRepository_SettleWithdrawal(t *testing.T) {
	db, mock := newMockDB(t)
	r := accountRepository{db: db}
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(int64(20000), int64(20000), id, int64(20000), int64(20000)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(30000)))

	change, err := r.SettleWithdrawal(context.Background(), id, 20000)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), change.Before)
	assert.Equal(t, int64(30000), change.After)
}

func TestAccountRepository_HoldForWithdrawal_Refused(t *testing.T) {
	db, mock := newMockDB(t)
	r := accountRepository{db: db}
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(int64(99999), id, int64(99999)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "accounts"`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := r.HoldForWithdrawal(context.Background(), id, 99999)
	assert.ErrorIs(t, err, repo.ErrInsufficientBalance)
}

func TestIntentRepository_TransitionStatus_Stale(t *testing.T) {
	db, mock := newMockDB(t)
	r := intentRepository{db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payment_intents"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := r.TransitionStatus(context.Background(), id, "INITIATED", "CAPTURED", dto.IntentUpdate{})
	assert.ErrorIs(t, err, repo.ErrStaleStatus)
}

func TestIntentRepository_TransitionStatus_AppliesOutcome(t *testing.T) {
	db, mock := newMockDB(t)
	r := intentRepository{db: db}
	id := uuid.New()
	credited := int64(10000)
	after := int64(15000)
	txID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payment_intents"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.TransitionStatus(context.Background(), id, "CAPTURED", "CREDITED", dto.IntentUpdate{
		CreditedAmount: &credited,
		BalanceAfter:   &after,
		TransactionID:  &txID,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepository_TransitionStatus_ConcurrentComplete(t *testing.T) {
	db, mock := newMockDB(t)
	r := withdrawalRepository{db: db}
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "withdrawals"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := r.TransitionStatus(context.Background(), id, "PROCESSING", "COMPLETED", dto.WithdrawalUpdate{})
	assert.ErrorIs(t, err, repo.ErrStaleStatus)
}

func TestTransactionRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	r := transactionRepository{db: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "transactions"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := r.Create(context.Background(), dto.TransactionCreate{
		ID:            uuid.New(),
		AccountID:     uuid.New(),
		Type:          "PURCHASE",
		Amount:        10000,
		Currency:      "KRW",
		BalanceBefore: 5000,
		BalanceAfter:  15000,
		ReferenceID:   "order-1",
	})
	assert.NoError(t, err)
}

func TestMapErr(t *testing.T) {
	assert.ErrorIs(t, mapErr(gorm.ErrRecordNotFound), repo.ErrNotFound)
	assert.ErrorIs(t, mapErr(gorm.ErrDuplicatedKey), repo.ErrDuplicateKey)
	assert.NoError(t, mapErr(nil))

	other := errors.New("connection reset")
	assert.Equal(t, other, mapErr(other))
}
