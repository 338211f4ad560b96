package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// Error codes for failures raised by the HTTP layer itself
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeInvalidID       = "INVALID_ID"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

var kindStatus = map[domainerrors.Kind]int{
	domainerrors.KindValidation:    http.StatusUnprocessableEntity,
	domainerrors.KindConfiguration: http.StatusUnprocessableEntity,
	domainerrors.KindTransient:     http.StatusServiceUnavailable,
	domainerrors.KindPostCommit:    http.StatusAccepted,
	domainerrors.KindIdempotency:   http.StatusOK,
	domainerrors.KindNotFound:      http.StatusNotFound,
	domainerrors.KindConflict:      http.StatusConflict,
	domainerrors.KindUnauthorized:  http.StatusForbidden,
	domainerrors.KindInternal:      http.StatusInternalServerError,
}

// StatusFor maps an error to the HTTP status it is reported with
func StatusFor(err error) int {
	if status, ok := kindStatus[domainerrors.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: c.GetString("request_id"),
	})
}

func respondBadRequest(c *gin.Context, code, message string) {
	respondError(c, http.StatusBadRequest, code, message, nil)
}

func respondUnauthorized(c *gin.Context) {
	respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required", nil)
}

// respondBindError reports malformed JSON and tag validation failures
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]interface{}, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, "request validation failed", fields)
		return
	}
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), nil)
}

// respondDomainError translates a service error into a response. Internal
// errors are logged and never echoed back.
func respondDomainError(c *gin.Context, log *logger.Logger, err error) {
	status := StatusFor(err)
	code := string(domainerrors.KindOf(err))
	message := err.Error()
	var details map[string]interface{}

	var domainErr *domainerrors.DomainError
	if errors.As(err, &domainErr) {
		if domainErr.Code != "" {
			code = domainErr.Code
		}
		details = domainErr.Details
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			"error", err,
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
		)
		if status == http.StatusInternalServerError {
			code = ErrCodeInternalError
			message = "internal error"
			details = nil
		}
	}
	respondError(c, status, code, message, details)
}
