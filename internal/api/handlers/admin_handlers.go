package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/api/middleware"
	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	"github.com/rail-service/wallet_ledger/internal/domain/services/reconciliation"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// SettlementService is the operator-facing part of the movement engine
type SettlementService interface {
	ApproveWithdraw(ctx context.Context, requestID, approvedBy string, opts entities.CallOptions) (*entities.MovementRecord, error)
	ConfirmWithdraw(ctx context.Context, requestID, txHash string, opts entities.CallOptions) (*entities.MovementRecord, error)
	RejectWithdraw(ctx context.Context, requestID, reason string, opts entities.CallOptions) (*entities.MovementRecord, error)
	FailWithdraw(ctx context.Context, requestID, reason string, opts entities.CallOptions) (*entities.MovementRecord, error)
	RecordDeposit(ctx context.Context, req *entities.DepositRequest) (*entities.MovementRecord, error)
	ChargeDue(ctx context.Context, req *entities.DueChargeRequest) (*entities.MovementRecord, error)
	GetMovement(ctx context.Context, requestID string) (*entities.MovementRecord, error)
}

// Reconciler runs and reports ledger reconciliation
type Reconciler interface {
	RunManualReconciliation(ctx context.Context) (*reconciliation.Report, error)
	LatestReport() *reconciliation.Report
}

// AddressRegistrar maps deposit addresses to users
type AddressRegistrar interface {
	Register(ctx context.Context, identity string, userID uuid.UUID) error
}

// AdminHandlers serves settlement and back-office endpoints
type AdminHandlers struct {
	service    SettlementService
	reconciler Reconciler
	addresses  AddressRegistrar
	validator  *validator.Validate
	logger     *logger.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance. reconciler may be
// nil when reconciliation is disabled.
func NewAdminHandlers(service SettlementService, reconciler Reconciler, addresses AddressRegistrar, logger *logger.Logger) *AdminHandlers {
	return &AdminHandlers{
		service:    service,
		reconciler: reconciler,
		addresses:  addresses,
		validator:  validator.New(),
		logger:     logger,
	}
}

type settlementRequest struct {
	Reason                string `json:"reason"`
	TxHash                string `json:"tx_hash"`
	SuppressNotifications bool   `json:"suppress_notifications"`
}

type registerAddressRequest struct {
	Identity string    `json:"identity" binding:"required"`
	UserID   uuid.UUID `json:"user_id" binding:"required"`
}

// ApproveWithdraw handles POST /api/v1/admin/withdrawals/:request_id/approve
func (h *AdminHandlers) ApproveWithdraw(c *gin.Context) {
	adminID, ok := middleware.UserID(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	req, ok := h.bindSettlement(c)
	if !ok {
		return
	}
	record, err := h.service.ApproveWithdraw(c.Request.Context(), c.Param("request_id"), adminID.String(), req.options())
	writeMovement(c, h.logger, http.StatusOK, record, err)
}

// RejectWithdraw handles POST /api/v1/admin/withdrawals/:request_id/reject
func (h *AdminHandlers) RejectWithdraw(c *gin.Context) {
	req, ok := h.bindSettlement(c)
	if !ok {
		return
	}
	if req.Reason == "" {
		respondBadRequest(c, ErrCodeValidationError, "reason is required")
		return
	}
	record, err := h.service.RejectWithdraw(c.Request.Context(), c.Param("request_id"), req.Reason, req.options())
	writeMovement(c, h.logger, http.StatusOK, record, err)
}

// ConfirmWithdraw handles POST /api/v1/admin/withdrawals/:request_id/confirm
func (h *AdminHandlers) ConfirmWithdraw(c *gin.Context) {
	req, ok := h.bindSettlement(c)
	if !ok {
		return
	}
	if req.TxHash == "" {
		respondBadRequest(c, ErrCodeValidationError, "tx_hash is required")
		return
	}
	record, err := h.service.ConfirmWithdraw(c.Request.Context(), c.Param("request_id"), req.TxHash, req.options())
	writeMovement(c, h.logger, http.StatusOK, record, err)
}

// FailWithdraw handles POST /api/v1/admin/withdrawals/:request_id/fail
func (h *AdminHandlers) FailWithdraw(c *gin.Context) {
	req, ok := h.bindSettlement(c)
	if !ok {
		return
	}
	if req.Reason == "" {
		respondBadRequest(c, ErrCodeValidationError, "reason is required")
		return
	}
	record, err := h.service.FailWithdraw(c.Request.Context(), c.Param("request_id"), req.Reason, req.options())
	writeMovement(c, h.logger, http.StatusOK, record, err)
}

// RecordDeposit handles POST /api/v1/admin/deposits
func (h *AdminHandlers) RecordDeposit(c *gin.Context) {
	var req entities.DepositRequest
	if !h.bindBody(c, &req, &req.Options) {
		return
	}
	if err := req.Validate(); err != nil {
		respondBadRequest(c, ErrCodeValidationError, err.Error())
		return
	}
	record, err := h.service.RecordDeposit(c.Request.Context(), &req)
	writeMovement(c, h.logger, http.StatusCreated, record, err)
}

// ChargeDue handles POST /api/v1/admin/dues
func (h *AdminHandlers) ChargeDue(c *gin.Context) {
	var req entities.DueChargeRequest
	if !h.bindBody(c, &req, &req.Options) {
		return
	}
	if err := req.Validate(); err != nil {
		respondBadRequest(c, ErrCodeValidationError, err.Error())
		return
	}
	record, err := h.service.ChargeDue(c.Request.Context(), &req)
	writeMovement(c, h.logger, http.StatusCreated, record, err)
}

// GetMovement handles GET /api/v1/admin/movements/:request_id
func (h *AdminHandlers) GetMovement(c *gin.Context) {
	record, err := h.service.GetMovement(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// RegisterAddress handles POST /api/v1/admin/deposit-addresses
func (h *AdminHandlers) RegisterAddress(c *gin.Context) {
	var req registerAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if err := h.addresses.Register(c.Request.Context(), req.Identity, req.UserID); err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RunReconciliation handles POST /api/v1/admin/reconciliation/run
func (h *AdminHandlers) RunReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_DISABLED", "reconciliation is disabled", nil)
		return
	}
	report, err := h.reconciler.RunManualReconciliation(c.Request.Context())
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// LatestReconciliation handles GET /api/v1/admin/reconciliation/latest
func (h *AdminHandlers) LatestReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_DISABLED", "reconciliation is disabled", nil)
		return
	}
	report := h.reconciler.LatestReport()
	if report == nil {
		respondError(c, http.StatusNotFound, ErrCodeNotFound, "no reconciliation has run yet", nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AdminHandlers) bindSettlement(c *gin.Context) (*settlementRequest, bool) {
	var req settlementRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return nil, false
		}
	}
	return &req, true
}

func (r *settlementRequest) options() entities.CallOptions {
	return entities.CallOptions{SuppressNotifications: r.SuppressNotifications}
}

// bindBody decodes an operator request. The body may suppress notifications
// and the Idempotency-Key header wins over any key in the body.
func (h *AdminHandlers) bindBody(c *gin.Context, req interface{}, opts *entities.CallOptions) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondBindError(c, err)
		return false
	}
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		opts.IdempotencyKey = key
	}
	if err := h.validator.Struct(req); err != nil {
		respondBindError(c, err)
		return false
	}
	return true
}
