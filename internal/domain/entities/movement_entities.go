package entities

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementKind is the closed set of logical operations the ledger records.
type MovementKind uint8

const (
	MovementKindDeposit MovementKind = iota
	MovementKindWithdraw
	MovementKindTransfer
	MovementKindSwap
	MovementKindStake
	MovementKindReimbursement
	MovementKindDueCharge
	numMovementKinds
)

// SequenceFamily groups kinds that share one serial counter
type SequenceFamily string

const (
	FamilyDeposit  SequenceFamily = "deposit"
	FamilyWithdraw SequenceFamily = "withdraw"
	FamilyTransfer SequenceFamily = "transfer"
	FamilySwap     SequenceFamily = "swap"
	FamilyStake    SequenceFamily = "stake"
	FamilyDue      SequenceFamily = "due"
)

// KindTraits is the static behaviour attached to a movement kind
type KindTraits struct {
	Name      string
	Family    SequenceFamily
	Prefix    string
	EntryType EntryType
	// DueOffsettable kinds may have part of their payout redirected to the due wallet.
	DueOffsettable bool
}

var movementKinds = [...]KindTraits{
	MovementKindDeposit:       {Name: "deposit", Family: FamilyDeposit, Prefix: "DP", EntryType: EntryTypeDeposit},
	MovementKindWithdraw:      {Name: "withdraw", Family: FamilyWithdraw, Prefix: "WD", EntryType: EntryTypeWithdraw, DueOffsettable: true},
	MovementKindTransfer:      {Name: "transfer", Family: FamilyTransfer, Prefix: "TR", EntryType: EntryTypeTransfer},
	MovementKindSwap:          {Name: "swap", Family: FamilySwap, Prefix: "SW", EntryType: EntryTypeSwap},
	MovementKindStake:         {Name: "stake", Family: FamilyStake, Prefix: "SK", EntryType: EntryTypeStake},
	MovementKindReimbursement: {Name: "reimbursement", Family: FamilyDeposit, Prefix: "RB", EntryType: EntryTypeReimbursement},
	MovementKindDueCharge:     {Name: "due_charge", Family: FamilyDue, Prefix: "DC", EntryType: EntryTypeDueCharge},
}

// Adding a kind without a table row (or the reverse) fails to compile.
var (
	_ [len(movementKinds) - int(numMovementKinds)]struct{}
	_ [int(numMovementKinds) - len(movementKinds)]struct{}
)

// AllMovementKinds lists every kind in declaration order
func AllMovementKinds() []MovementKind {
	kinds := make([]MovementKind, 0, numMovementKinds)
	for k := MovementKind(0); k < numMovementKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Traits returns the static behaviour of the kind
func (k MovementKind) Traits() KindTraits {
	if k >= numMovementKinds {
		return KindTraits{}
	}
	return movementKinds[k]
}

// IsValid checks if the kind is one of the declared kinds
func (k MovementKind) IsValid() bool {
	return k < numMovementKinds
}

func (k MovementKind) String() string {
	if !k.IsValid() {
		return fmt.Sprintf("MovementKind(%d)", uint8(k))
	}
	return movementKinds[k].Name
}

// MarshalText encodes the kind by name
func (k MovementKind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid movement kind: %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name
func (k *MovementKind) UnmarshalText(text []byte) error {
	parsed, err := ParseMovementKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseMovementKind resolves a stored kind name
func ParseMovementKind(name string) (MovementKind, error) {
	for k := MovementKind(0); k < numMovementKinds; k++ {
		if movementKinds[k].Name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("invalid movement kind: %q", name)
}

// Value stores the kind by name
func (k MovementKind) Value() (driver.Value, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid movement kind: %d", uint8(k))
	}
	return k.String(), nil
}

// Scan reads a stored kind name
func (k *MovementKind) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return k.UnmarshalText([]byte(v))
	case []byte:
		return k.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into MovementKind", src)
	}
}

// MovementRecord is the user-facing record of one logical operation
type MovementRecord struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	RequestID      string         `json:"request_id" db:"request_id"`
	Serial         int64          `json:"serial" db:"serial"`
	Kind           MovementKind   `json:"kind" db:"kind"`
	Status         MovementStatus `json:"status" db:"status"`
	UserID         uuid.UUID      `json:"user_id" db:"user_id"`
	WalletID       uuid.UUID      `json:"wallet_id" db:"wallet_id"`
	CounterpartyID *uuid.UUID     `json:"counterparty_id,omitempty" db:"counterparty_id"`
	Token          string         `json:"token" db:"token"`
	ToToken        string         `json:"to_token,omitempty" db:"to_token"`
	Network        string         `json:"network,omitempty" db:"network"`
	Platform       string         `json:"platform,omitempty" db:"platform"`
	Address        string         `json:"address,omitempty" db:"address"`
	ExternalHash   string         `json:"external_hash,omitempty" db:"external_hash"`
	IdempotencyKey string         `json:"idempotency_key,omitempty" db:"idempotency_key"`

	// Amount is the gross amount debited or credited in Token units.
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Fee             decimal.Decimal `json:"fee" db:"fee"`
	Commission      decimal.Decimal `json:"commission" db:"commission"`
	Total           decimal.Decimal `json:"total" db:"total"`
	ConvertedAmount decimal.Decimal `json:"converted_amount" db:"converted_amount"`
	PayableAmount   decimal.Decimal `json:"payable_amount" db:"payable_amount"`
	PriceUSD        decimal.Decimal `json:"price_usd" db:"price_usd"`
	BalanceBefore   decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after" db:"balance_after"`

	IsDueDeducted     bool            `json:"is_due_deducted" db:"is_due_deducted"`
	DueDeductedAmount decimal.Decimal `json:"due_deducted_amount" db:"due_deducted_amount"`

	EntryIDs  []uuid.UUID            `json:"entry_ids" db:"entry_ids"`
	Note      string                 `json:"note,omitempty" db:"note"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// TransitionTo moves the record forward, refusing regressions
func (m *MovementRecord) TransitionTo(status MovementStatus) error {
	if err := m.Status.ValidateTransition(status); err != nil {
		return fmt.Errorf("movement %s: %w", m.RequestID, err)
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// SetMetadata records an audit field on the record
func (m *MovementRecord) SetMetadata(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
}

// DueOffsetRecord tracks value redirected from a payout to settle a due balance
type DueOffsetRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	MovementID uuid.UUID `json:"movement_id" db:"movement_id"`
	RequestID  string    `json:"request_id" db:"request_id"`
	Token      string    `json:"token" db:"token"`

	// RequestedAmount = PayableAmount + OffsetAmount, all in Token units.
	RequestedAmount decimal.Decimal `json:"requested_amount" db:"requested_amount"`
	PayableAmount   decimal.Decimal `json:"payable_amount" db:"payable_amount"`
	OffsetAmount    decimal.Decimal `json:"offset_amount" db:"offset_amount"`
	OffsetAmountUSD decimal.Decimal `json:"offset_amount_usd" db:"offset_amount_usd"`
	PriceUSD        decimal.Decimal `json:"price_usd" db:"price_usd"`

	DueBalanceBefore decimal.Decimal `json:"due_balance_before" db:"due_balance_before"`
	DueBalanceAfter  decimal.Decimal `json:"due_balance_after" db:"due_balance_after"`

	SettlementEntryID uuid.UUID  `json:"settlement_entry_id" db:"settlement_entry_id"`
	ReversalEntryID   *uuid.UUID `json:"reversal_entry_id,omitempty" db:"reversal_entry_id"`
	IsReverted        bool       `json:"is_reverted" db:"is_reverted"`
	RevertedAt        *time.Time `json:"reverted_at,omitempty" db:"reverted_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Validate checks the split invariant
func (r *DueOffsetRecord) Validate() error {
	if r.OffsetAmount.IsNegative() || r.PayableAmount.IsNegative() {
		return fmt.Errorf("due offset amounts cannot be negative")
	}
	if !r.RequestedAmount.Equal(r.PayableAmount.Add(r.OffsetAmount)) {
		return fmt.Errorf("requested %s != payable %s + offset %s",
			r.RequestedAmount, r.PayableAmount, r.OffsetAmount)
	}
	return nil
}

// MarkReverted flips IsReverted exactly once
func (r *DueOffsetRecord) MarkReverted(reversalEntryID uuid.UUID) error {
	if r.IsReverted {
		return fmt.Errorf("due offset %s already reverted", r.ID)
	}
	now := time.Now().UTC()
	r.IsReverted = true
	r.ReversalEntryID = &reversalEntryID
	r.RevertedAt = &now
	return nil
}
