package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryDirection is the flow of value relative to the owning wallet
type EntryDirection string

const (
	DirectionIn  EntryDirection = "IN"
	DirectionOut EntryDirection = "OUT"
)

// Validate checks if the direction is valid
func (d EntryDirection) Validate() error {
	switch d {
	case DirectionIn, DirectionOut:
		return nil
	default:
		return fmt.Errorf("invalid entry direction: %s", d)
	}
}

// EntryType tags a ledger entry with the movement that produced it
type EntryType string

const (
	EntryTypeDeposit               EntryType = "deposit"
	EntryTypeWithdraw              EntryType = "withdraw"
	EntryTypeTransfer              EntryType = "transfer"
	EntryTypeSwap                  EntryType = "swap"
	EntryTypeStake                 EntryType = "stake"
	EntryTypeReimbursement         EntryType = "reimbursement"
	EntryTypeDueCharge             EntryType = "due_charge"
	EntryTypeDueSettlement         EntryType = "due_settlement"
	EntryTypeDueSettlementReversal EntryType = "due_settlement_reversal"
)

// Validate checks if the entry type is valid
func (t EntryType) Validate() error {
	switch t {
	case EntryTypeDeposit, EntryTypeWithdraw, EntryTypeTransfer, EntryTypeSwap,
		EntryTypeStake, EntryTypeReimbursement, EntryTypeDueCharge,
		EntryTypeDueSettlement, EntryTypeDueSettlementReversal:
		return nil
	default:
		return fmt.Errorf("invalid entry type: %s", t)
	}
}

// LedgerEntry is one immutable side of a value movement
type LedgerEntry struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	WalletID   uuid.UUID              `json:"wallet_id" db:"wallet_id"`
	UserID     uuid.UUID              `json:"user_id" db:"user_id"`
	MovementID *uuid.UUID             `json:"movement_id,omitempty" db:"movement_id"`
	Direction  EntryDirection         `json:"direction" db:"direction"`
	Amount     decimal.Decimal        `json:"amount" db:"amount"`
	Type       EntryType              `json:"type" db:"entry_type"`
	Note       string                 `json:"note,omitempty" db:"note"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	DeletedAt  *time.Time             `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// Signed returns the amount as a signed delta on the wallet balance
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionOut {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Validate checks the entry before it is written
func (e *LedgerEntry) Validate() error {
	if e.WalletID == uuid.Nil {
		return fmt.Errorf("wallet_id is required")
	}
	if e.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if err := e.Direction.Validate(); err != nil {
		return err
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("amount cannot be negative")
	}
	return nil
}
