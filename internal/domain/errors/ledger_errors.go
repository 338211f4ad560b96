package errors

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Ledger-specific errors
var (
	// Wallet errors
	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletDeleted  = errors.New("wallet is deleted")

	// Balance errors
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceUnavailable  = errors.New("balance could not be computed")

	// Amount errors
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrBelowMinimum          = errors.New("amount below configured minimum")
	ErrAboveMaximum          = errors.New("amount above configured maximum")
	ErrAmountTooLowForCharge = errors.New("amount too low to cover required charge")

	// Token and pricing errors
	ErrUnknownToken          = errors.New("unknown token")
	ErrInvalidTokenPair      = errors.New("invalid token pair")
	ErrUnsupportedConversion = errors.New("unsupported conversion pair")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrMissingSetting        = errors.New("missing setting")

	// Movement errors
	ErrMovementNotFound      = errors.New("movement not found")
	ErrDuplicateExternalHash = errors.New("duplicate external hash")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrAlreadySettled        = errors.New("movement already settled")
	ErrAlreadyReverted       = errors.New("due offset already reverted")
	ErrPayoutFailed          = errors.New("payout request failed")
)

// InsufficientBalanceError creates an insufficient balance error
func InsufficientBalanceError(available, required decimal.Decimal) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientBalance,
		Kind:    KindValidation,
		Code:    "INSUFFICIENT_BALANCE",
		Message: "insufficient balance",
		Details: map[string]interface{}{
			"available": available.String(),
			"required":  required.String(),
		},
	}
}

// InvalidAmountError creates an error for zero, negative or malformed amounts
func InvalidAmountError(amount decimal.Decimal) *DomainError {
	return &DomainError{
		Err:     ErrInvalidAmount,
		Kind:    KindValidation,
		Code:    "INVALID_AMOUNT",
		Message: "amount must be greater than zero",
		Details: map[string]interface{}{
			"amount": amount.String(),
		},
	}
}

// BelowMinimumError creates an error for amounts under a configured minimum
func BelowMinimumError(amount, minimum decimal.Decimal) *DomainError {
	return &DomainError{
		Err:     ErrBelowMinimum,
		Kind:    KindValidation,
		Code:    "BELOW_MINIMUM",
		Message: "amount below configured minimum",
		Details: map[string]interface{}{
			"amount":  amount.String(),
			"minimum": minimum.String(),
		},
	}
}

// AboveMaximumError creates an error for amounts over a configured maximum
func AboveMaximumError(amount, maximum decimal.Decimal) *DomainError {
	return &DomainError{
		Err:     ErrAboveMaximum,
		Kind:    KindValidation,
		Code:    "ABOVE_MAXIMUM",
		Message: "amount above configured maximum",
		Details: map[string]interface{}{
			"amount":  amount.String(),
			"maximum": maximum.String(),
		},
	}
}

// AmountTooLowForChargeError is returned when a fixed charge would consume the whole amount
func AmountTooLowForChargeError(amount, charge decimal.Decimal) *DomainError {
	return &DomainError{
		Err:     ErrAmountTooLowForCharge,
		Kind:    KindValidation,
		Code:    "AMOUNT_TOO_LOW",
		Message: "amount too low to cover required charge",
		Details: map[string]interface{}{
			"amount": amount.String(),
			"charge": charge.String(),
		},
	}
}

// DuplicateExternalHashError rejects a deposit whose external hash was already recorded
func DuplicateExternalHashError(hash string) *DomainError {
	return &DomainError{
		Err:     ErrDuplicateExternalHash,
		Kind:    KindValidation,
		Code:    "DUPLICATE_EXTERNAL_HASH",
		Message: "external hash already recorded",
		Details: map[string]interface{}{
			"external_hash": hash,
		},
	}
}

// InvalidPairError rejects an unknown or unsupported token/network pair
func InvalidPairError(err error, from, to string) *DomainError {
	if err == nil {
		err = ErrInvalidTokenPair
	}
	return &DomainError{
		Err:     err,
		Kind:    KindValidation,
		Code:    "INVALID_PAIR",
		Message: "invalid token pair",
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// UnknownTokenError rejects a token that is not configured
func UnknownTokenError(symbol string) *DomainError {
	return &DomainError{
		Err:     ErrUnknownToken,
		Kind:    KindValidation,
		Code:    "UNKNOWN_TOKEN",
		Message: "unknown token",
		Details: map[string]interface{}{
			"token": symbol,
		},
	}
}

// MissingSettingError is a hard stop; no default is ever substituted.
func MissingSettingError(setting string, details map[string]interface{}) *DomainError {
	de := &DomainError{
		Err:     ErrMissingSetting,
		Kind:    KindConfiguration,
		Code:    "MISSING_SETTING",
		Message: "missing " + setting + " settings",
	}
	return de.WithDetails(details)
}

// InvalidPriceError reports a zero, negative or missing oracle price.
func InvalidPriceError(pair string, price decimal.Decimal) *DomainError {
	return &DomainError{
		Err:       ErrInvalidPrice,
		Kind:      KindTransient,
		Code:      "INVALID_PRICE",
		Message:   "price oracle returned an unusable price",
		Retryable: true,
		Details: map[string]interface{}{
			"pair":  pair,
			"price": price.String(),
		},
	}
}

// InvalidTransitionError rejects a status change that would regress a movement
func InvalidTransitionError(requestID, from, to string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidTransition,
		Kind:    KindConflict,
		Code:    "INVALID_TRANSITION",
		Message: "movement cannot move from " + from + " to " + to,
		Details: map[string]interface{}{
			"request_id": requestID,
			"from":       from,
			"to":         to,
		},
	}
}

// AlreadySettledError signals a repeated settlement; callers treat it as a no-op.
func AlreadySettledError(requestID, status string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadySettled,
		Kind:    KindIdempotency,
		Code:    "ALREADY_SETTLED",
		Message: "movement already settled",
		Details: map[string]interface{}{
			"request_id": requestID,
			"status":     status,
		},
	}
}

// PostCommitError records an external failure that happened after the ledger committed.
func PostCommitError(requestID string, err error) *DomainError {
	return &DomainError{
		Err:     errors.Join(ErrPayoutFailed, err),
		Kind:    KindPostCommit,
		Code:    "PAYOUT_FAILED",
		Message: "external payout failed after commit",
		Details: map[string]interface{}{
			"request_id": requestID,
		},
	}
}

// IsInsufficientBalance checks for an insufficient balance error
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// IsAmountTooLowForCharge checks for a charge floor violation
func IsAmountTooLowForCharge(err error) bool {
	return errors.Is(err, ErrAmountTooLowForCharge)
}

// IsAlreadySettled checks for a repeated settlement
func IsAlreadySettled(err error) bool {
	return errors.Is(err, ErrAlreadySettled)
}
