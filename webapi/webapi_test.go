package webapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kausenergy/settlement/infra/provider/mockpayment"
	"github.com/kausenergy/settlement/pkg/audit"
	"github.com/kausenergy/settlement/pkg/config"
	settlementdomain "github.com/kausenergy/settlement/pkg/domain/settlement"
	"github.com/kausenergy/settlement/pkg/dto"
	"github.com/kausenergy/settlement/pkg/eventbus"
	"github.com/kausenergy/settlement/pkg/metrics"
	"github.com/kausenergy/settlement/pkg/provider/payment"
	"github.com/kausenergy/settlement/pkg/repository"
	referralsvc "github.com/kausenergy/settlement/pkg/service/referral"
	settlementsvc "github.com/kausenergy/settlement/pkg/service/settlement"
	withdrawalsvc "github.com/kausenergy/settlement/pkg/service/withdrawal"
	"github.com/kausenergy/settlement/webapi"
)

const (
	testJwtSecret = "test-secret"
	testOpsKey    = "ops-key-123"
)

// memUoW is a minimal in-memory store backing the HTTP tests.
type memUoW struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*dto.AccountRead
	accountIndex map[string]uuid.UUID
	intents      map[string]*dto.IntentRead
	intentByID   map[uuid.UUID]*dto.IntentRead
	withdrawals  map[uuid.UUID]*dto.WithdrawalRead
	referrals    map[uuid.UUID]dto.ReferralCreate
	codes        map[string]uuid.UUID
	transactions []dto.TransactionCreate
}

func newMemUoW() *memUoW {
	return &memUoW{
		accounts:     make(map[uuid.UUID]*dto.AccountRead),
		accountIndex: make(map[string]uuid.UUID),
		intents:      make(map[string]*dto.IntentRead),
		intentByID:   make(map[uuid.UUID]*dto.IntentRead),
		withdrawals:  make(map[uuid.UUID]*dto.WithdrawalRead),
		referrals:    make(map[uuid.UUID]dto.ReferralCreate),
		codes:        make(map[string]uuid.UUID),
	}
}

func (m *memUoW) addAccount(userID uuid.UUID, currency string, balance int64) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.accounts[id] = &dto.AccountRead{ID: id, UserID: userID, Currency: currency, Balance: balance}
	m.accountIndex[userID.String()+currency] = id
	return id
}

func (m *memUoW) Do(_ context.Context, fn func(uow repository.UnitOfWork) error) error {
	return fn(m)
}

func (m *memUoW) AccountRepository() (repository.AccountRepository, error) {
	return (*memAccounts)(m), nil
}
func (m *memUoW) IntentRepository() (repository.IntentRepository, error) {
	return (*memIntents)(m), nil
}
func (m *memUoW) TransactionRepository() (repository.TransactionRepository, error) {
	return (*memTxs)(m), nil
}
func (m *memUoW) WithdrawalRepository() (repository.WithdrawalRepository, error) {
	return (*memWithdrawals)(m), nil
}
func (m *memUoW) ReferralRepository() (repository.ReferralRepository, error) {
	return (*memReferrals)(m), nil
}
func (m *memUoW) AuditRepository() (repository.AuditRepository, error) { return nil, nil }

type memAccounts memUoW

func (m *memAccounts) Create(_ context.Context, create dto.AccountCreate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := create.UserID.String() + create.Currency
	if _, ok := m.accountIndex[key]; ok {
		return repository.ErrDuplicateKey
	}
	m.accounts[create.ID] = &dto.AccountRead{ID: create.ID, UserID: create.UserID, Currency: create.Currency}
	m.accountIndex[key] = create.ID
	return nil
}

func (m *memAccounts) Get(_ context.Context, id uuid.UUID) (*dto.AccountRead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *acc
	return &out, nil
}

func (m *memAccounts) GetByUser(_ context.Context, userID uuid.UUID, currency string) (*dto.AccountRead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.accountIndex[userID.String()+currency]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *m.accounts[id]
	return &out, nil
}

func (m *memAccounts) ApplyDelta(_ context.Context, id uuid.UUID, delta int64) (*dto.BalanceChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if acc.Balance+delta < 0 {
		return nil, repository.ErrInsufficientBalance
	}
	change := &dto.BalanceChange{Before: acc.Balance, After: acc.Balance + delta}
	acc.Balance += delta
	return change, nil
}

func (m *memAccounts) HoldForWithdrawal(_ context.Context, id uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if acc.Balance-acc.PendingWithdrawal < amount {
		return repository.ErrInsufficientBalance
	}
	acc.PendingWithdrawal += amount
	return nil
}

func (m *memAccounts) ReleaseHold(_ context.Context, id uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[id]; ok {
		acc.PendingWithdrawal -= amount
	}
	return nil
}

func (m *memAccounts) SettleWithdrawal(_ context.Context, id uuid.UUID, amount int64) (*dto.BalanceChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if acc.Balance < amount || acc.PendingWithdrawal < amount {
		return nil, repository.ErrInsufficientBalance
	}
	change := &dto.BalanceChange{Before: acc.Balance, After: acc.Balance - amount}
	acc.Balance -= amount
	acc.PendingWithdrawal -= amount
	return change, nil
}

type memIntents memUoW

func (m *memIntents) Create(_ context.Context, create dto.IntentCreate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[create.ReferenceID]; ok {
		return repository.ErrDuplicateKey
	}
	read := &dto.IntentRead{
		ID:          create.ID,
		ReferenceID: create.ReferenceID,
		Provider:    create.Provider,
		Purpose:     create.Purpose,
		UserID:      create.UserID,
		Amount:      create.Amount,
		Currency:    create.Currency,
		Status:      string(settlementdomain.IntentInitiated),
		CreatedAt:   time.Now(),
	}
	m.intents[create.ReferenceID] = read
	m.intentByID[create.ID] = read
	return nil
}

func (m *memIntents) GetByReference(_ context.Context, referenceID string) (*dto.IntentRead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	read, ok := m.intents[referenceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *read
	return &out, nil
}

func (m *memIntents) TransitionStatus(_ context.Context, id uuid.UUID, from, to string, update dto.IntentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	read, ok := m.intentByID[id]
	if !ok || read.Status != from {
		return repository.ErrStaleStatus
	}
	read.Status = to
	if update.CreditedAmount != nil {
		read.CreditedAmount = update.CreditedAmount
	}
	if update.BalanceAfter != nil {
		read.BalanceAfter = update.BalanceAfter
	}
	if update.TransactionID != nil {
		read.TransactionID = update.TransactionID
	}
	if update.FailureReason != nil {
		read.FailureReason = *update.FailureReason
	}
	return nil
}

func (m *memIntents) ListStuck(_ context.Context, olderThan time.Time) ([]*dto.IntentRead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dto.IntentRead
	for _, read := range m.intents {
		status := settlementdomain.IntentStatus(read.Status)
		if (status == settlementdomain.IntentInitiated || status == settlementdomain.IntentCaptured) &&
			read.CreatedAt.Before(olderThan) {
			copied := *read
			out = append(out, &copied)
		}
	}
	return out, nil
}

type memTxs memUoW

func (m *memTxs) Create(_ context.Context, create dto.TransactionCreate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, create)
	return nil
}

func (m *memTxs) ListByAccount(context.Context, uuid.UUID, int) ([]*dto.TransactionRead, error) {
	return nil, nil
}
func (m *memTxs) SumByAccount(context.Context, uuid.UUID) (int64, error) { return 0, nil }

type memWithdrawals memUoW

func (m *memWithdrawals) Create(_ context.Context, create dto.WithdrawalCreate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals[create.ID] = &dto.WithdrawalRead{
		ID: create.ID, AccountID: create.AccountID, UserID: create.UserID,
		Amount: create.Amount, Currency: create.Currency, Status: create.Status,
	}
	return nil
}

func (m *memWithdrawals) Get(_ context.Context, id uuid.UUID) (*dto.WithdrawalRead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *w
	return &out, nil
}

func (m *memWithdrawals) TransitionStatus(_ context.Context, id uuid.UUID, from, to string, update dto.WithdrawalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok || w.Status != from {
		return repository.ErrStaleStatus
	}
	w.Status = to
	if update.RejectionReason != nil {
		w.RejectionReason = *update.RejectionReason
	}
	if update.TransferRef != nil {
		w.TransferRef = *update.TransferRef
	}
	return nil
}

func (m *memWithdrawals) ListByStatus(_ context.Context, status string, limit int) ([]*dto.WithdrawalRead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dto.WithdrawalRead
	for _, w := range m.withdrawals {
		if w.Status == status && len(out) < limit {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}

type memReferrals memUoW

func (m *memReferrals) Create(_ context.Context, create dto.ReferralCreate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.referrals[create.RefereeID]; ok {
		return repository.ErrDuplicateKey
	}
	m.referrals[create.RefereeID] = create
	return nil
}

func (m *memReferrals) GetByReferee(_ context.Context, refereeID uuid.UUID) (*dto.ReferralCreate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[refereeID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (m *memReferrals) ResolveCode(_ context.Context, code string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.codes[code]
	if !ok {
		return uuid.Nil, repository.ErrNotFound
	}
	return userID, nil
}

func (m *memReferrals) CreateCode(_ context.Context, userID uuid.UUID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[code]; ok {
		return repository.ErrDuplicateKey
	}
	m.codes[code] = userID
	return nil
}

type nopSink struct{}

func (nopSink) Record(context.Context, audit.Entry) {}

func (nopSink) Critical(context.Context, audit.Entry) error { return nil }

func (nopSink) Close() error { return nil }

func testApp(t *testing.T, uow *memUoW) *webapiApp {
	return testAppWithLimit(t, uow, 1000)
}

func testAppWithLimit(t *testing.T, uow *memUoW, maxRequests int) *webapiApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	opsHash, err := bcrypt.GenerateFromPassword([]byte(testOpsKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.App{
		Jwt:       config.Jwt{Secret: testJwtSecret, Expiry: time.Hour},
		RateLimit: config.RateLimit{MaxRequests: maxRequests, Window: time.Minute},
		Admin:     config.Admin{OpsKeyHash: string(opsHash)},
	}

	settlement := settlementsvc.New(uow,
		map[string]payment.Gateway{"mock": &mockpayment.Provider{}},
		nopSink{}, bus, m, logger, settlementsvc.Config{
			MinAmountKRW: 1000, MaxAmountKRW: 10_000_000,
			KausPriceKRW: 1000, GatewayRetries: 1,
			RetryBackoff: time.Millisecond, StuckAfter: 10 * time.Minute,
		})
	withdrawal := withdrawalsvc.New(uow, nopSink{}, bus, m, logger,
		withdrawalsvc.Config{MinAmountKRW: 10000, MaxAmountKRW: 10_000_000})
	referral := referralsvc.New(uow, nopSink{}, bus, m, logger,
		referralsvc.Config{RefereeBonus: 10, ReferrerBonus: 5})

	app := webapi.SetupApp(webapi.Deps{
		Settlement: settlement,
		Withdrawal: withdrawal,
		Referral:   referral,
		Registry:   registry,
	}, cfg)
	return &webapiApp{t: t, app: app}
}

type webapiApp struct {
	t   *testing.T
	app *fiber.App
}

func (a *webapiApp) token(userID uuid.UUID) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJwtSecret))
	require.NoError(a.t, err)
	return signed
}

func (a *webapiApp) do(method, path, token, body string, extraHeaders ...[2]string) *http.Response {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, h := range extraHeaders {
		req.Header.Set(h[0], h[1])
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(a.t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestTopupEndToEnd(t *testing.T) {
	uow := newMemUoW()
	userID := uuid.New()
	uow.addAccount(userID, "KRW", 0)
	a := testApp(t, uow)
	token := a.token(userID)

	body := `{"paymentKey":"pay_1","orderId":"ord_http_1","amount":50000,"provider":"mock"}`
	resp := a.do(http.MethodPost, "/topup", token, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode(t, resp)
	data := got["data"].(map[string]any)
	assert.Equal(t, float64(50000), data["newBalance"])
	assert.Equal(t, false, data["duplicate"])

	// Same order id again replays the original outcome.
	resp = a.do(http.MethodPost, "/topup", token, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode(t, resp)
	data = got["data"].(map[string]any)
	assert.Equal(t, true, data["duplicate"])
	assert.Equal(t, float64(50000), data["newBalance"])
}

func TestPurchaseCreditsKausTokens(t *testing.T) {
	uow := newMemUoW()
	userID := uuid.New()
	uow.addAccount(userID, "KAUS", 0)
	a := testApp(t, uow)

	resp := a.do(http.MethodPost, "/purchase", a.token(userID),
		`{"paymentKey":"pay_2","orderId":"ord_http_2","amount":10000,"provider":"mock"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, "KAUS", data["currency"])
	assert.Equal(t, float64(10), data["amount"])
	assert.Equal(t, float64(10), data["newBalance"])

	// Binding is enforced on the purchase body too.
	resp = a.do(http.MethodPost, "/purchase", a.token(userID),
		`{"orderId":"ord_http_3","amount":10000,"provider":"mock"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTopupWithoutTokenIsRejected(t *testing.T) {
	a := testApp(t, newMemUoW())
	resp := a.do(http.MethodPost, "/topup", "", `{"paymentKey":"p","orderId":"o","amount":50000,"provider":"mock"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode) // missing JWT
}

func TestTopupValidationProblemDetails(t *testing.T) {
	uow := newMemUoW()
	userID := uuid.New()
	a := testApp(t, uow)

	resp := a.do(http.MethodPost, "/topup", a.token(userID), `{"orderId":"o1","amount":50000,"provider":"mock"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/problem+json")
	got := decode(t, resp)
	assert.Equal(t, "Validation failed", got["title"])
}

func TestTopupMissingWalletIs404(t *testing.T) {
	a := testApp(t, newMemUoW())
	resp := a.do(http.MethodPost, "/topup", a.token(uuid.New()),
		`{"paymentKey":"p","orderId":"ord_404","amount":50000,"provider":"mock"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	got := decode(t, resp)
	assert.Equal(t, "NOT_FOUND", got["code"])
}

func TestWalletReturnsBalances(t *testing.T) {
	uow := newMemUoW()
	userID := uuid.New()
	uow.addAccount(userID, "KRW", 70000)
	a := testApp(t, uow)

	resp := a.do(http.MethodGet, "/wallet", a.token(userID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode(t, resp)
	data := got["data"].(map[string]any)
	krw := data["KRW"].(map[string]any)
	assert.Equal(t, float64(70000), krw["balance"])
	// A KAUS account is opened on first sight.
	assert.Contains(t, data, "KAUS")
}

func TestWithdrawRequest(t *testing.T) {
	uow := newMemUoW()
	userID := uuid.New()
	uow.addAccount(userID, "KRW", 100_000)
	a := testApp(t, uow)

	resp := a.do(http.MethodPost, "/withdraw", a.token(userID), `{"amount":30000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	got := decode(t, resp)
	data := got["data"].(map[string]any)
	assert.Equal(t, "PENDING", data["status"])
}

func TestWithdrawInsufficientFundsIsBadRequest(t *testing.T) {
	uow := newMemUoW()
	userID := uuid.New()
	uow.addAccount(userID, "KRW", 10_000)
	a := testApp(t, uow)

	resp := a.do(http.MethodPost, "/withdraw", a.token(userID), `{"amount":30000}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	got := decode(t, resp)
	assert.Equal(t, "INSUFFICIENT_FUNDS", got["code"])
}

func TestReferralClaim(t *testing.T) {
	uow := newMemUoW()
	referrerID, refereeID := uuid.New(), uuid.New()
	uow.addAccount(referrerID, "KAUS", 0)
	uow.addAccount(refereeID, "KAUS", 0)
	a := testApp(t, uow)

	resp := a.do(http.MethodPost, "/referral/code", a.token(referrerID), `{"code":"KAUS-HTTP"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(http.MethodPost, "/referral/claim", a.token(refereeID), `{"code":"KAUS-HTTP"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(http.MethodPost, "/referral/claim", a.token(refereeID), `{"code":"KAUS-HTTP"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	got := decode(t, resp)
	assert.Equal(t, "ALREADY_REFERRED", got["code"])
}

func TestAdminRequiresOpsKey(t *testing.T) {
	a := testApp(t, newMemUoW())

	resp := a.do(http.MethodGet, "/admin/reconciliation", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(http.MethodGet, "/admin/reconciliation", "", "",
		[2]string{"X-Ops-Key", "wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(http.MethodGet, "/admin/reconciliation", "", "",
		[2]string{"X-Ops-Key", testOpsKey})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminProcessWithdrawalLifecycle(t *testing.T) {
	uow := newMemUoW()
	userID := uuid.New()
	uow.addAccount(userID, "KRW", 100_000)
	a := testApp(t, uow)

	resp := a.do(http.MethodPost, "/withdraw", a.token(userID), `{"amount":30000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := decode(t, resp)["data"].(map[string]any)
	id := data["id"].(string)

	opsHeader := [2]string{"X-Ops-Key", testOpsKey}
	resp = a.do(http.MethodPost, "/admin/withdrawals/"+id+"/process", "",
		`{"action":"APPROVE"}`, opsHeader)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do(http.MethodPost, "/admin/withdrawals/"+id+"/process", "",
		`{"action":"COMPLETE","transferRef":"bank_tx_http"}`, opsHeader)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, "COMPLETED", data["status"])

	// Terminal requests refuse further actions.
	resp = a.do(http.MethodPost, "/admin/withdrawals/"+id+"/process", "",
		`{"action":"REJECT","reason":"too late"}`, opsHeader)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRateLimiterReturns429(t *testing.T) {
	a := testAppWithLimit(t, newMemUoW(), 2)

	var last int
	for i := 0; i < 3; i++ {
		resp := a.do(http.MethodGet, "/", "", "")
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
