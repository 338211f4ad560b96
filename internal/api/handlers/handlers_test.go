package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/wallet_ledger/internal/api/middleware"
	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/services/reconciliation"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// MockMovementService mocks both the user and operator facing engine
type MockMovementService struct {
	mock.Mock
}

func (m *MockMovementService) record(args mock.Arguments) (*entities.MovementRecord, error) {
	record, _ := args.Get(0).(*entities.MovementRecord)
	return record, args.Error(1)
}

func (m *MockMovementService) RequestWithdraw(ctx context.Context, req *entities.WithdrawRequest) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, req))
}

func (m *MockMovementService) RequestSwap(ctx context.Context, req *entities.SwapRequest) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, req))
}

func (m *MockMovementService) RequestTransfer(ctx context.Context, req *entities.TransferRequest) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, req))
}

func (m *MockMovementService) Stake(ctx context.Context, req *entities.StakeRequest) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, req))
}

func (m *MockMovementService) GetBalance(ctx context.Context, userID, walletID uuid.UUID) (*entities.Balance, error) {
	args := m.Called(ctx, userID, walletID)
	balance, _ := args.Get(0).(*entities.Balance)
	return balance, args.Error(1)
}

func (m *MockMovementService) GetBalanceAt(ctx context.Context, userID, walletID uuid.UUID, at time.Time) (*entities.Balance, error) {
	args := m.Called(ctx, userID, walletID, at)
	balance, _ := args.Get(0).(*entities.Balance)
	return balance, args.Error(1)
}

func (m *MockMovementService) GetOrCreateWallet(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error) {
	args := m.Called(ctx, userID, token)
	wallet, _ := args.Get(0).(*entities.Wallet)
	return wallet, args.Error(1)
}

func (m *MockMovementService) SoftDeleteWallet(ctx context.Context, userID, walletID uuid.UUID) error {
	return m.Called(ctx, userID, walletID).Error(0)
}

func (m *MockMovementService) GetMovement(ctx context.Context, requestID string) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, requestID))
}

func (m *MockMovementService) ListEntries(ctx context.Context, userID, walletID uuid.UUID, limit, offset int) ([]*entities.LedgerEntry, error) {
	args := m.Called(ctx, userID, walletID, limit, offset)
	entries, _ := args.Get(0).([]*entities.LedgerEntry)
	return entries, args.Error(1)
}

func (m *MockMovementService) GetDueBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockMovementService) ApproveWithdraw(ctx context.Context, requestID, approvedBy string, opts entities.CallOptions) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, requestID, approvedBy, opts))
}

func (m *MockMovementService) ConfirmWithdraw(ctx context.Context, requestID, txHash string, opts entities.CallOptions) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, requestID, txHash, opts))
}

func (m *MockMovementService) RejectWithdraw(ctx context.Context, requestID, reason string, opts entities.CallOptions) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, requestID, reason, opts))
}

func (m *MockMovementService) FailWithdraw(ctx context.Context, requestID, reason string, opts entities.CallOptions) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, requestID, reason, opts))
}

func (m *MockMovementService) RecordDeposit(ctx context.Context, req *entities.DepositRequest) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, req))
}

func (m *MockMovementService) ChargeDue(ctx context.Context, req *entities.DueChargeRequest) (*entities.MovementRecord, error) {
	return m.record(m.Called(ctx, req))
}

type stubReconciler struct {
	report *reconciliation.Report
}

func (s *stubReconciler) RunManualReconciliation(ctx context.Context) (*reconciliation.Report, error) {
	s.report = &reconciliation.Report{RunType: "manual", WalletsChecked: 2}
	return s.report, nil
}

func (s *stubReconciler) LatestReport() *reconciliation.Report { return s.report }

type stubAddresses struct {
	registered map[string]uuid.UUID
}

func (s *stubAddresses) Register(ctx context.Context, identity string, userID uuid.UUID) error {
	s.registered[identity] = userID
	return nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, caller uuid.UUID) (*gin.Engine, *MockMovementService, *stubAddresses) {
	t.Helper()
	svc := &MockMovementService{}
	addresses := &stubAddresses{registered: map[string]uuid.UUID{}}
	log := logger.NewNop()

	ledger := NewLedgerHandlers(svc, log)
	admin := NewAdminHandlers(svc, &stubReconciler{}, addresses, log)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(func(c *gin.Context) {
		if caller != uuid.Nil {
			c.Set(middleware.ContextUserID, caller)
		}
		c.Next()
	})
	r.POST("/withdrawals", ledger.RequestWithdraw)
	r.POST("/swaps", ledger.RequestSwap)
	r.POST("/wallets", ledger.CreateWallet)
	r.GET("/wallets/:wallet_id/balance", ledger.GetBalance)
	r.GET("/wallets/:wallet_id/entries", ledger.ListEntries)
	r.GET("/movements/:request_id", ledger.GetMovement)
	r.GET("/dues/balance", ledger.GetDueBalance)
	r.POST("/admin/withdrawals/:request_id/approve", admin.ApproveWithdraw)
	r.POST("/admin/withdrawals/:request_id/reject", admin.RejectWithdraw)
	r.POST("/admin/deposits", admin.RecordDeposit)
	r.POST("/admin/deposit-addresses", admin.RegisterAddress)
	r.POST("/admin/reconciliation/run", admin.RunReconciliation)
	r.GET("/admin/reconciliation/latest", admin.LatestReconciliation)

	t.Cleanup(func() { svc.AssertExpectations(t) })
	return r, svc, addresses
}

func do(r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domainerrors.InsufficientBalanceError(decimal.Zero, decimal.NewFromInt(1)), http.StatusUnprocessableEntity},
		{domainerrors.MissingSettingError("withdraw", nil), http.StatusUnprocessableEntity},
		{domainerrors.InvalidPriceError("BTCUSDT", decimal.Zero), http.StatusServiceUnavailable},
		{domainerrors.PostCommitError("WD000001", errors.New("down")), http.StatusAccepted},
		{domainerrors.AlreadySettledError("WD000001", "completed"), http.StatusOK},
		{domainerrors.NotFoundError("MOVEMENT", nil), http.StatusNotFound},
		{domainerrors.InvalidTransitionError("WD000001", "completed", "pending"), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRequestWithdraw(t *testing.T) {
	caller := uuid.New()
	r, svc, _ := newRouter(t, caller)

	record := &entities.MovementRecord{RequestID: "WD000001", UserID: caller, Status: entities.MovementStatusPending}
	svc.On("RequestWithdraw", mock.Anything, mock.MatchedBy(func(req *entities.WithdrawRequest) bool {
		return req.UserID == caller && req.Options.IdempotencyKey == "idem-1" && req.Amount.Equal(decimal.NewFromInt(40))
	})).Return(record, nil).Once()

	w := do(r, http.MethodPost, "/withdrawals", map[string]interface{}{
		"user_id":  uuid.New(), // ignored, the caller is authoritative
		"token":    "USDT",
		"amount":   "40",
		"platform": "onchain",
		"network":  "TRON",
		"address":  "TX1",
	}, map[string]string{IdempotencyKeyHeader: "idem-1"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp MovementResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "WD000001", resp.Movement.RequestID)
	assert.Nil(t, resp.Warning)
}

func TestRequestWithdraw_PostCommitFailureStillReturnsRecord(t *testing.T) {
	caller := uuid.New()
	r, svc, _ := newRouter(t, caller)

	record := &entities.MovementRecord{RequestID: "WD000002", UserID: caller, Status: entities.MovementStatusOnchainFailureReimbursed}
	svc.On("RequestWithdraw", mock.Anything, mock.Anything).
		Return(record, domainerrors.PostCommitError("WD000002", errors.New("gateway down"))).Once()

	w := do(r, http.MethodPost, "/withdrawals", map[string]interface{}{
		"token": "USDT", "amount": "40", "platform": "onchain", "network": "TRON", "address": "TX1",
	}, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp MovementResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, entities.MovementStatusOnchainFailureReimbursed, resp.Movement.Status)
	require.NotNil(t, resp.Warning)
	assert.Equal(t, "PAYOUT_FAILED", resp.Warning.Code)
}

func TestRequestWithdraw_Errors(t *testing.T) {
	caller := uuid.New()

	t.Run("unauthenticated", func(t *testing.T) {
		r, _, _ := newRouter(t, uuid.Nil)
		w := do(r, http.MethodPost, "/withdrawals", map[string]interface{}{"token": "USDT"}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing address", func(t *testing.T) {
		r, _, _ := newRouter(t, caller)
		w := do(r, http.MethodPost, "/withdrawals", map[string]interface{}{
			"token": "USDT", "amount": "40", "platform": "onchain",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		r, svc, _ := newRouter(t, caller)
		svc.On("RequestWithdraw", mock.Anything, mock.Anything).
			Return(nil, domainerrors.InsufficientBalanceError(decimal.NewFromInt(5), decimal.NewFromInt(40))).Once()

		w := do(r, http.MethodPost, "/withdrawals", map[string]interface{}{
			"token": "USDT", "amount": "40", "platform": "onchain", "network": "TRON", "address": "TX1",
		}, map[string]string{"X-Request-ID": "req-9"})

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Code)
		assert.Equal(t, "5", resp.Details["available"])
		assert.Equal(t, "req-9", resp.RequestID)
	})

	t.Run("internal errors are masked", func(t *testing.T) {
		r, svc, _ := newRouter(t, caller)
		svc.On("RequestWithdraw", mock.Anything, mock.Anything).
			Return(nil, errors.New("pq: connection refused")).Once()

		w := do(r, http.MethodPost, "/withdrawals", map[string]interface{}{
			"token": "USDT", "amount": "40", "platform": "onchain", "network": "TRON", "address": "TX1",
		}, nil)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "pq:")
	})
}

func TestRequestSwap_RejectsSameToken(t *testing.T) {
	r, _, _ := newRouter(t, uuid.New())
	w := do(r, http.MethodPost, "/swaps", map[string]interface{}{
		"from_token": "USDT", "to_token": "USDT", "amount": "1",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWalletEndpoints(t *testing.T) {
	caller := uuid.New()
	walletID := uuid.New()
	r, svc, _ := newRouter(t, caller)

	svc.On("GetOrCreateWallet", mock.Anything, caller, "BTC").
		Return(&entities.Wallet{ID: walletID, UserID: caller, Token: "BTC"}, nil).Once()
	w := do(r, http.MethodPost, "/wallets", map[string]string{"token": "BTC"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	svc.On("GetBalance", mock.Anything, caller, walletID).
		Return(&entities.Balance{WalletID: walletID, Available: decimal.NewFromInt(3)}, nil).Once()
	w = do(r, http.MethodGet, "/wallets/"+walletID.String()+"/balance", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"available":"3"`)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.On("GetBalanceAt", mock.Anything, caller, walletID, at).
		Return(&entities.Balance{WalletID: walletID, Available: decimal.NewFromInt(1)}, nil).Once()
	w = do(r, http.MethodGet, "/wallets/"+walletID.String()+"/balance?at=2026-01-02T03:04:05Z", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/wallets/"+walletID.String()+"/balance?at=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/wallets/not-a-uuid/balance", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.On("ListEntries", mock.Anything, caller, walletID, maxEntriesLimit, 0).
		Return([]*entities.LedgerEntry{}, nil).Once()
	w = do(r, http.MethodGet, "/wallets/"+walletID.String()+"/entries?limit=100000&offset=-3", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetMovement_HidesOtherUsersRecords(t *testing.T) {
	caller := uuid.New()
	r, svc, _ := newRouter(t, caller)

	svc.On("GetMovement", mock.Anything, "WD000001").
		Return(&entities.MovementRecord{RequestID: "WD000001", UserID: caller}, nil).Once()
	svc.On("GetMovement", mock.Anything, "WD000002").
		Return(&entities.MovementRecord{RequestID: "WD000002", UserID: uuid.New()}, nil).Once()

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/movements/WD000001", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/movements/WD000002", nil, nil).Code)
}

func TestGetDueBalance(t *testing.T) {
	caller := uuid.New()
	r, svc, _ := newRouter(t, caller)
	svc.On("GetDueBalance", mock.Anything, caller).Return(decimal.NewFromInt(12), nil).Once()

	w := do(r, http.MethodGet, "/dues/balance", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"due_usd":"12"`)
}

func TestAdminSettlement(t *testing.T) {
	admin := uuid.New()
	r, svc, _ := newRouter(t, admin)

	svc.On("ApproveWithdraw", mock.Anything, "WD000003", admin.String(), entities.CallOptions{}).
		Return(&entities.MovementRecord{RequestID: "WD000003", Status: entities.MovementStatusPending}, nil).Once()
	w := do(r, http.MethodPost, "/admin/withdrawals/WD000003/approve", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/admin/withdrawals/WD000003/reject", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is required")

	svc.On("RejectWithdraw", mock.Anything, "WD000004", "sanctioned address", entities.CallOptions{SuppressNotifications: true}).
		Return(nil, domainerrors.AlreadySettledError("WD000004", "completed")).Once()
	w = do(r, http.MethodPost, "/admin/withdrawals/WD000004/reject", map[string]interface{}{
		"reason": "sanctioned address", "suppress_notifications": true,
	}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_SETTLED")
}

func TestAdminRecordDeposit(t *testing.T) {
	r, svc, _ := newRouter(t, uuid.New())

	svc.On("RecordDeposit", mock.Anything, mock.MatchedBy(func(req *entities.DepositRequest) bool {
		return req.ExternalHash == "0xabc" && req.Options.IdempotencyKey == "dep-1"
	})).Return(&entities.MovementRecord{RequestID: "DP000001"}, nil).Once()

	w := do(r, http.MethodPost, "/admin/deposits", map[string]interface{}{
		"identity": "TX1", "token": "USDT", "amount": "25", "external_hash": "0xabc",
	}, map[string]string{IdempotencyKeyHeader: "dep-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	svc.On("RecordDeposit", mock.Anything, mock.Anything).
		Return(nil, domainerrors.DuplicateExternalHashError("0xabc")).Once()
	w = do(r, http.MethodPost, "/admin/deposits", map[string]interface{}{
		"identity": "TX1", "token": "USDT", "amount": "25", "external_hash": "0xabc",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodPost, "/admin/deposits", map[string]interface{}{
		"identity": "TX1", "token": "USDT", "amount": "25",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAddressesAndReconciliation(t *testing.T) {
	r, _, addresses := newRouter(t, uuid.New())

	user := uuid.New()
	w := do(r, http.MethodPost, "/admin/deposit-addresses", map[string]interface{}{"identity": "TX9", "user_id": user}, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, user, addresses.registered["TX9"])

	w = do(r, http.MethodGet, "/admin/reconciliation/latest", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/admin/reconciliation/run", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/admin/reconciliation/latest", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReconciliationDisabled(t *testing.T) {
	h := NewAdminHandlers(&MockMovementService{}, nil, &stubAddresses{}, logger.NewNop())
	r := gin.New()
	r.POST("/run", h.RunReconciliation)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodPost, "/run", nil, nil).Code)
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	}, zap.NewNop(), "test")

	r := gin.New()
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health/live", nil, nil).Code)

	w := do(r, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Equal(t, "connection refused", resp.Checks["redis"])
}
