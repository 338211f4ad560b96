package entities

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CallOptions are threaded through every orchestrator call
type CallOptions struct {
	// SuppressNotifications skips post-commit notifications, e.g. for backfills.
	SuppressNotifications bool `json:"suppress_notifications"`
	// IdempotencyKey makes a retried request return the original record.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// WithdrawRequest asks to move value out of a wallet. A nil CounterpartyID
// means an external payout to Address on Network.
type WithdrawRequest struct {
	UserID         uuid.UUID       `json:"user_id" validate:"required"`
	Token          string          `json:"token" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	WithdrawAll    bool            `json:"withdraw_all"`
	Network        string          `json:"network,omitempty"`
	Address        string          `json:"address,omitempty"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id,omitempty"`
	Platform       string          `json:"platform" validate:"required"`
	Options        CallOptions     `json:"options"`
}

// IsInternal reports whether the counterparty is a platform user
func (r *WithdrawRequest) IsInternal() bool {
	return r.CounterpartyID != nil
}

// Validate checks the request shape
func (r *WithdrawRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if r.Token == "" {
		return fmt.Errorf("token is required")
	}
	if r.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if !r.WithdrawAll && !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if r.IsInternal() {
		if *r.CounterpartyID == r.UserID {
			return fmt.Errorf("counterparty must differ from user")
		}
		return nil
	}
	if r.Address == "" || r.Network == "" {
		return fmt.Errorf("address and network are required for external withdrawals")
	}
	return nil
}

// SwapRequest converts value between two wallets of the same user
type SwapRequest struct {
	UserID    uuid.UUID       `json:"user_id" validate:"required"`
	FromToken string          `json:"from_token" validate:"required"`
	ToToken   string          `json:"to_token" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	SwapAll   bool            `json:"swap_all"`
	Options   CallOptions     `json:"options"`
}

// Validate checks the request shape
func (r *SwapRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if r.FromToken == "" || r.ToToken == "" {
		return fmt.Errorf("from_token and to_token are required")
	}
	if r.FromToken == r.ToToken {
		return fmt.Errorf("cannot swap a token into itself")
	}
	if !r.SwapAll && !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// DepositRequest records an inbound credit observed on chain. Identity is
// either the receiving address or the user's external blockchain id.
type DepositRequest struct {
	Identity     string          `json:"identity" validate:"required"`
	Token        string          `json:"token" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	ExternalHash string          `json:"external_hash" validate:"required"`
	Network      string          `json:"network,omitempty"`
	Options      CallOptions     `json:"options"`
}

// Validate checks the request shape
func (r *DepositRequest) Validate() error {
	if r.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if r.Token == "" {
		return fmt.Errorf("token is required")
	}
	if r.ExternalHash == "" {
		return fmt.Errorf("external_hash is required")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// TransferRequest moves value between two users at zero fee
type TransferRequest struct {
	UserID      uuid.UUID       `json:"user_id" validate:"required"`
	RecipientID uuid.UUID       `json:"recipient_id" validate:"required"`
	Token       string          `json:"token" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	TransferAll bool            `json:"transfer_all"`
	Options     CallOptions     `json:"options"`
}

// Validate checks the request shape
func (r *TransferRequest) Validate() error {
	if r.UserID == uuid.Nil || r.RecipientID == uuid.Nil {
		return fmt.Errorf("user_id and recipient_id are required")
	}
	if r.UserID == r.RecipientID {
		return fmt.Errorf("recipient must differ from sender")
	}
	if r.Token == "" {
		return fmt.Errorf("token is required")
	}
	if !r.TransferAll && !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// StakeRequest locks value out of the spendable balance
type StakeRequest struct {
	UserID  uuid.UUID       `json:"user_id" validate:"required"`
	Token   string          `json:"token" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Options CallOptions     `json:"options"`
}

// Validate checks the request shape
func (r *StakeRequest) Validate() error {
	if r.UserID == uuid.Nil || r.Token == "" {
		return fmt.Errorf("user_id and token are required")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// DueChargeRequest records a debt the user owes, in USD
type DueChargeRequest struct {
	UserID    uuid.UUID       `json:"user_id" validate:"required"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Note      string          `json:"note"`
	Options   CallOptions     `json:"options"`
}

// Validate checks the request shape
func (r *DueChargeRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if !r.AmountUSD.IsPositive() {
		return fmt.Errorf("amount_usd must be positive")
	}
	return nil
}
