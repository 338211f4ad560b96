package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/api/middleware"
	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// IdempotencyKeyHeader lets clients retry a movement request safely
const IdempotencyKeyHeader = "Idempotency-Key"

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 500
)

// LedgerService is the user-facing part of the movement engine
type LedgerService interface {
	RequestWithdraw(ctx context.Context, req *entities.WithdrawRequest) (*entities.MovementRecord, error)
	RequestSwap(ctx context.Context, req *entities.SwapRequest) (*entities.MovementRecord, error)
	RequestTransfer(ctx context.Context, req *entities.TransferRequest) (*entities.MovementRecord, error)
	Stake(ctx context.Context, req *entities.StakeRequest) (*entities.MovementRecord, error)
	GetBalance(ctx context.Context, userID, walletID uuid.UUID) (*entities.Balance, error)
	GetBalanceAt(ctx context.Context, userID, walletID uuid.UUID, at time.Time) (*entities.Balance, error)
	GetOrCreateWallet(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error)
	SoftDeleteWallet(ctx context.Context, userID, walletID uuid.UUID) error
	GetMovement(ctx context.Context, requestID string) (*entities.MovementRecord, error)
	ListEntries(ctx context.Context, userID, walletID uuid.UUID, limit, offset int) ([]*entities.LedgerEntry, error)
	GetDueBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// LedgerHandlers serves wallet and movement endpoints for authenticated users
type LedgerHandlers struct {
	service   LedgerService
	validator *validator.Validate
	logger    *logger.Logger
}

// NewLedgerHandlers creates a new LedgerHandlers instance
func NewLedgerHandlers(service LedgerService, logger *logger.Logger) *LedgerHandlers {
	return &LedgerHandlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

type createWalletRequest struct {
	Token string `json:"token" binding:"required"`
}

// MovementResponse wraps a record whose ledger effects committed while a
// later external step failed
type MovementResponse struct {
	Movement *entities.MovementRecord `json:"movement"`
	Warning  *ErrorResponse           `json:"warning,omitempty"`
}

// RequestWithdraw handles POST /api/v1/withdrawals
func (h *LedgerHandlers) RequestWithdraw(c *gin.Context) {
	var req entities.WithdrawRequest
	if !h.bindMovement(c, &req, &req.UserID, &req.Options) {
		return
	}
	if err := req.Validate(); err != nil {
		respondBadRequest(c, ErrCodeValidationError, err.Error())
		return
	}
	record, err := h.service.RequestWithdraw(c.Request.Context(), &req)
	h.respondMovement(c, http.StatusCreated, record, err)
}

// RequestSwap handles POST /api/v1/swaps
func (h *LedgerHandlers) RequestSwap(c *gin.Context) {
	var req entities.SwapRequest
	if !h.bindMovement(c, &req, &req.UserID, &req.Options) {
		return
	}
	if err := req.Validate(); err != nil {
		respondBadRequest(c, ErrCodeValidationError, err.Error())
		return
	}
	record, err := h.service.RequestSwap(c.Request.Context(), &req)
	h.respondMovement(c, http.StatusCreated, record, err)
}

// RequestTransfer handles POST /api/v1/transfers
func (h *LedgerHandlers) RequestTransfer(c *gin.Context) {
	var req entities.TransferRequest
	if !h.bindMovement(c, &req, &req.UserID, &req.Options) {
		return
	}
	if err := req.Validate(); err != nil {
		respondBadRequest(c, ErrCodeValidationError, err.Error())
		return
	}
	record, err := h.service.RequestTransfer(c.Request.Context(), &req)
	h.respondMovement(c, http.StatusCreated, record, err)
}

// Stake handles POST /api/v1/stakes
func (h *LedgerHandlers) Stake(c *gin.Context) {
	var req entities.StakeRequest
	if !h.bindMovement(c, &req, &req.UserID, &req.Options) {
		return
	}
	if err := req.Validate(); err != nil {
		respondBadRequest(c, ErrCodeValidationError, err.Error())
		return
	}
	record, err := h.service.Stake(c.Request.Context(), &req)
	h.respondMovement(c, http.StatusCreated, record, err)
}

// CreateWallet handles POST /api/v1/wallets
func (h *LedgerHandlers) CreateWallet(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	wallet, err := h.service.GetOrCreateWallet(c.Request.Context(), userID, req.Token)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// DeleteWallet handles DELETE /api/v1/wallets/:wallet_id
func (h *LedgerHandlers) DeleteWallet(c *gin.Context) {
	userID, walletID, ok := h.walletParams(c)
	if !ok {
		return
	}
	if err := h.service.SoftDeleteWallet(c.Request.Context(), userID, walletID); err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetBalance handles GET /api/v1/wallets/:wallet_id/balance. An optional
// "at" query parameter (RFC3339) replays the ledger up to that instant.
func (h *LedgerHandlers) GetBalance(c *gin.Context) {
	userID, walletID, ok := h.walletParams(c)
	if !ok {
		return
	}

	var (
		balance *entities.Balance
		err     error
	)
	if raw := c.Query("at"); raw != "" {
		at, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			respondBadRequest(c, ErrCodeInvalidRequest, "at must be an RFC3339 timestamp")
			return
		}
		balance, err = h.service.GetBalanceAt(c.Request.Context(), userID, walletID, at)
	} else {
		balance, err = h.service.GetBalance(c.Request.Context(), userID, walletID)
	}
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// ListEntries handles GET /api/v1/wallets/:wallet_id/entries
func (h *LedgerHandlers) ListEntries(c *gin.Context) {
	userID, walletID, ok := h.walletParams(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	entries, err := h.service.ListEntries(c.Request.Context(), userID, walletID, limit, offset)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetMovement handles GET /api/v1/movements/:request_id. Users only see
// records they own.
func (h *LedgerHandlers) GetMovement(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	record, err := h.service.GetMovement(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	if record.UserID != userID {
		respondError(c, http.StatusNotFound, ErrCodeNotFound, "movement not found", nil)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetDueBalance handles GET /api/v1/dues/balance
func (h *LedgerHandlers) GetDueBalance(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	due, err := h.service.GetDueBalance(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "due_usd": due})
}

// bindMovement decodes a movement body and pins it to the caller. Clients
// cannot choose call options other than the idempotency key.
func (h *LedgerHandlers) bindMovement(c *gin.Context, req interface{}, userID *uuid.UUID, opts *entities.CallOptions) bool {
	caller, ok := middleware.UserID(c)
	if !ok {
		respondUnauthorized(c)
		return false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		respondBindError(c, err)
		return false
	}
	*userID = caller
	*opts = entities.CallOptions{IdempotencyKey: c.GetHeader(IdempotencyKeyHeader)}

	if err := h.validator.Struct(req); err != nil {
		respondBindError(c, err)
		return false
	}
	return true
}

func (h *LedgerHandlers) walletParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondUnauthorized(c)
		return uuid.Nil, uuid.Nil, false
	}
	walletID, err := uuid.Parse(c.Param("wallet_id"))
	if err != nil {
		respondBadRequest(c, ErrCodeInvalidID, "invalid wallet id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, walletID, true
}

// respondMovement writes a movement result. A post-commit failure still
// carries the committed record.
func (h *LedgerHandlers) respondMovement(c *gin.Context, status int, record *entities.MovementRecord, err error) {
	writeMovement(c, h.logger, status, record, err)
}

func writeMovement(c *gin.Context, log *logger.Logger, status int, record *entities.MovementRecord, err error) {
	if err == nil {
		c.JSON(status, MovementResponse{Movement: record})
		return
	}
	if record != nil && domainerrors.KindOf(err) == domainerrors.KindPostCommit {
		log.Warn("Movement committed with post-commit failure",
			"request_id", record.RequestID,
			"error", err,
		)
		c.JSON(http.StatusAccepted, MovementResponse{
			Movement: record,
			Warning: &ErrorResponse{
				Code:    "PAYOUT_FAILED",
				Message: err.Error(),
			},
		})
		return
	}
	respondDomainError(c, log, err)
}

func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEntriesLimit)))
	if err != nil || limit <= 0 {
		limit = defaultEntriesLimit
	}
	if limit > maxEntriesLimit {
		limit = maxEntriesLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
