package billing

import (
	"fmt"
	"time"

	"github.com/cypher-asi/z-billing/internal/ids"
)

// TransactionType classifies a balance change.
type TransactionType string

const (
	TransactionPurchase          TransactionType = "purchase"
	TransactionUsage             TransactionType = "usage"
	TransactionSubscriptionGrant TransactionType = "subscription_grant"
	TransactionRefund            TransactionType = "refund"
	TransactionBonus             TransactionType = "bonus"
	TransactionAutoRefill        TransactionType = "auto_refill"
)

// IsCredit reports whether the type adds credits.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionPurchase, TransactionSubscriptionGrant, TransactionRefund,
		TransactionBonus, TransactionAutoRefill:
		return true
	}
	return false
}

// IsDebit reports whether the type removes credits.
func (t TransactionType) IsDebit() bool { return t == TransactionUsage }

// CreditTransaction is an immutable ledger entry. For any user's sequence
// sorted by ID, BalanceAfterCents equals the running sum of AmountCents.
//
// BalanceAfterCents is filled in by the store when the transaction
// commits, under the user's write lock, so it records the true post-write
// balance even when operations race.
type CreditTransaction struct {
	ID     ids.TransactionID `json:"id" cbor:"1,keyasint"`
	UserID ids.UserID        `json:"user_id" cbor:"2,keyasint"`

	// AmountCents is positive for credits and negative for debits.
	AmountCents int64 `json:"amount_cents" cbor:"3,keyasint"`

	Type TransactionType `json:"transaction_type" cbor:"4,keyasint"`

	// BalanceAfterCents records the account balance once this transaction
	// committed.
	BalanceAfterCents int64 `json:"balance_after_cents" cbor:"5,keyasint"`

	Description string         `json:"description" cbor:"6,keyasint"`
	Metadata    map[string]any `json:"metadata,omitempty" cbor:"7,keyasint,omitempty"`
	CreatedAt   time.Time      `json:"created_at" cbor:"8,keyasint"`
}

// NewPurchase builds a purchase transaction.
func NewPurchase(userID ids.UserID, amountCents int64, description string) CreditTransaction {
	return CreditTransaction{
		ID:          ids.NewTransactionID(),
		UserID:      userID,
		AmountCents: amountCents,
		Type:        TransactionPurchase,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewUsage builds a usage transaction. The amount is always recorded as a
// debit regardless of the sign passed in.
func NewUsage(userID ids.UserID, costCents int64, description string, metadata map[string]any) CreditTransaction {
	if costCents < 0 {
		costCents = -costCents
	}
	return CreditTransaction{
		ID:          ids.NewTransactionID(),
		UserID:      userID,
		AmountCents: -costCents,
		Type:        TransactionUsage,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewSubscriptionGrant builds the monthly plan credit grant.
func NewSubscriptionGrant(userID ids.UserID, amountCents int64, plan Plan) CreditTransaction {
	return CreditTransaction{
		ID:          ids.NewTransactionID(),
		UserID:      userID,
		AmountCents: amountCents,
		Type:        TransactionSubscriptionGrant,
		Description: fmt.Sprintf("Monthly %s plan credit grant", plan),
		Metadata:    map[string]any{"plan": string(plan)},
		CreatedAt:   time.Now().UTC(),
	}
}

// NewRefund builds a refund transaction.
func NewRefund(userID ids.UserID, amountCents int64, reason string) CreditTransaction {
	return CreditTransaction{
		ID:          ids.NewTransactionID(),
		UserID:      userID,
		AmountCents: amountCents,
		Type:        TransactionRefund,
		Description: reason,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewBonus builds a promotional credit transaction.
func NewBonus(userID ids.UserID, amountCents int64, reason string) CreditTransaction {
	return CreditTransaction{
		ID:          ids.NewTransactionID(),
		UserID:      userID,
		AmountCents: amountCents,
		Type:        TransactionBonus,
		Description: reason,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewAutoRefill builds the transaction recorded when an automatic refill
// charge settles.
func NewAutoRefill(userID ids.UserID, amountCents int64) CreditTransaction {
	return CreditTransaction{
		ID:          ids.NewTransactionID(),
		UserID:      userID,
		AmountCents: amountCents,
		Type:        TransactionAutoRefill,
		Description: fmt.Sprintf("Auto-refill of %d credits", amountCents),
		CreatedAt:   time.Now().UTC(),
	}
}
