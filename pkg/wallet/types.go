package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is a non-negative fixed-point currency value in cents.
type AmountCents int64

// TxAmountCents is a signed, non-zero amount carried by a single transaction.
type TxAmountCents int64

// MemberID identifies a club member.
type MemberID struct {
	value string
}

// TransactionID identifies a wallet transaction.
type TransactionID struct {
	value string
}

// RelatedRef points the transaction at its originating entity
// (booking id, tournament-participant id, or another transaction).
type RelatedRef struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// TransactionType enumerates wallet transaction kinds.
type TransactionType string

const (
	TxTopUp         TransactionType = "top_up"
	TxWithdrawal    TransactionType = "withdrawal"
	TxBookingCharge TransactionType = "booking_charge"
	TxRefund        TransactionType = "refund"
	TxFee           TransactionType = "fee"
)

// TransactionStatus defines the transaction lifecycle.
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
	TxStatusReversed  TransactionStatus = "reversed"
)

// CanTransition reports whether moving to the target status is legal.
// Completed and failed rows are immutable except completed -> reversed.
func (status TransactionStatus) CanTransition(to TransactionStatus) bool {
	switch status {
	case TxStatusPending:
		return to == TxStatusCompleted || to == TxStatusFailed
	case TxStatusCompleted:
		return to == TxStatusReversed
	default:
		return false
	}
}

// String returns the lifecycle label.
func (status TransactionStatus) String() string {
	return string(status)
}

// ParseTransactionStatus validates a stored status label.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TxStatusPending, TxStatusCompleted, TxStatusFailed, TxStatusReversed:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
}

// String returns the kind label.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// IsDebit reports whether the kind removes funds from the wallet.
func (transactionType TransactionType) IsDebit() bool {
	switch transactionType {
	case TxWithdrawal, TxBookingCharge, TxFee:
		return true
	}
	return false
}

// ParseTransactionType validates a stored kind label.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TxTopUp, TxWithdrawal, TxBookingCharge, TxRefund, TxFee:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// NewMemberID validates and normalizes a member id.
func NewMemberID(raw string) (MemberID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MemberID{}, fmt.Errorf("%w: empty value", ErrInvalidMemberID)
	}
	return MemberID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id MemberID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewRelatedRef normalizes an optional related-entity reference.
func NewRelatedRef(raw string) RelatedRef {
	return RelatedRef{value: strings.TrimSpace(raw)}
}

// String returns the normalized reference ("" when absent).
func (ref RelatedRef) String() string {
	return ref.value
}

// IsZero reports whether no reference was supplied.
func (ref RelatedRef) IsZero() bool {
	return ref.value == ""
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountCents validates a balance-style amount (zero allowed).
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// PositiveAmountCents is a strictly positive operation amount.
type PositiveAmountCents int64

// NewPositiveAmountCents validates an operation amount.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return PositiveAmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents widens to a balance-style amount.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// ToTxAmountCents widens to a signed transaction amount.
func (amount PositiveAmountCents) ToTxAmountCents() TxAmountCents {
	return TxAmountCents(amount)
}

// NewTxAmountCents validates a signed transaction amount.
func NewTxAmountCents(raw int64) (TxAmountCents, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidAmountCents)
	}
	return TxAmountCents(raw), nil
}

// Int64 returns the raw signed cents value.
func (amount TxAmountCents) Int64() int64 {
	return int64(amount)
}

// Negated flips the sign of the amount.
func (amount TxAmountCents) Negated() TxAmountCents {
	return -amount
}

// Abs returns the magnitude as a positive amount.
func (amount TxAmountCents) Abs() PositiveAmountCents {
	if amount < 0 {
		return PositiveAmountCents(-amount)
	}
	return PositiveAmountCents(amount)
}

// Member is the wallet-facing view of a club member. BalanceCents is a
// denormalized cache of the transaction log, rewritten only inside the same
// storage transaction as a ledger append.
type Member struct {
	MemberID        MemberID
	DisplayName     string
	BalanceCents    AmountCents
	TotalSpentCents AmountCents
	Tier            int
	Active          bool
}

// Transaction is a single immutable line in the wallet ledger.
type Transaction struct {
	TransactionID  TransactionID
	MemberID       MemberID
	AmountCents    TxAmountCents
	Type           TransactionType
	Status         TransactionStatus
	RelatedRef     RelatedRef
	Description    string
	ProofURL       string
	MetadataJSON   MetadataJSON
	CreatedUnixUTC int64
}

// TransactionInput carries the fields of a transaction to append; the store
// assigns the TransactionID.
type TransactionInput struct {
	MemberID       MemberID
	AmountCents    TxAmountCents
	Type           TransactionType
	Status         TransactionStatus
	RelatedRef     RelatedRef
	Description    string
	ProofURL       string
	MetadataJSON   MetadataJSON
	CreatedUnixUTC int64
}

// ListFilter narrows ListTransactions output; zero values match everything.
type ListFilter struct {
	Type   TransactionType
	Status TransactionStatus
}

// ReconcileReport describes a balance-vs-log consistency check.
type ReconcileReport struct {
	MemberID       MemberID
	CachedCents    AmountCents
	ComputedCents  AmountCents
	Drifted        bool
	RepairedCached bool
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetMember(ctx context.Context, memberID MemberID) (Member, error)
	// GetMemberForUpdate locks the member row for the rest of the storage
	// transaction, serializing balance mutations per member.
	GetMemberForUpdate(ctx context.Context, memberID MemberID) (Member, error)
	UpdateMemberBalance(ctx context.Context, memberID MemberID, balance AmountCents, totalSpent AmountCents) error
	InsertTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	GetTransactionForUpdate(ctx context.Context, transactionID TransactionID) (Transaction, error)
	UpdateTransactionStatus(ctx context.Context, transactionID TransactionID, from, to TransactionStatus) error
	ListTransactions(ctx context.Context, memberID MemberID, filter ListFilter, beforeUnixUTC int64, limit int) ([]Transaction, error)
	// SumSettled totals amounts over completed and reversed rows; the
	// offsetting row appended by Reverse cancels the reversed original, so
	// the total always equals the member's balance.
	SumSettled(ctx context.Context, memberID MemberID) (int64, error)
}
