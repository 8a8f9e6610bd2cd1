// Package store persists the billing ledger in an embedded ordered
// key-value engine. Four logical column families hold accounts, credit
// transactions, a user/transaction secondary index, and usage events;
// compound operations commit as a single durable write batch.
//
// Mutating operations serialize per user so that concurrent
// read-modify-write cycles on one account cannot lose updates. Reads are
// lock-free and observe a consistent snapshot per row.
package store

import (
	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/ids"
)

// Store is the persistence contract consumed by the ledger service.
type Store interface {
	// CreateAccount inserts a fresh account. Fails with ErrAlreadyExists
	// if the user already has one.
	CreateAccount(account *billing.Account) error

	// GetAccount returns a snapshot of the account, or ErrNotFound.
	GetAccount(userID ids.UserID) (*billing.Account, error)

	// PutAccount overwrites the account record.
	PutAccount(account *billing.Account) error

	// UpdateAccount applies fn to the current account under the user's
	// write lock and persists the result. Returns the updated snapshot.
	UpdateAccount(userID ids.UserID, fn func(*billing.Account) error) (*billing.Account, error)

	// DeleteAccount removes the account row and its index entries.
	// Transactions and usage events are retained for audit.
	DeleteAccount(userID ids.UserID) error

	// ForEachAccount visits every account. Return false from fn to stop.
	ForEachAccount(fn func(billing.Account) bool) error

	// PutTransaction writes a transaction and its index entry atomically.
	PutTransaction(tx *billing.CreditTransaction) error

	// GetTransaction returns a transaction by id, or ErrNotFound.
	GetTransaction(id ids.TransactionID) (*billing.CreditTransaction, error)

	// ListTransactionsByUser returns up to limit transactions for the
	// user, newest first, skipping offset entries.
	ListTransactionsByUser(userID ids.UserID, limit, offset int) ([]billing.CreditTransaction, error)

	// HasUsageEvent reports whether the event id was already processed.
	HasUsageEvent(eventID string) (bool, error)

	// PutUsageEvent records a usage event.
	PutUsageEvent(event *billing.UsageEvent) error

	// GetUsageEvent returns a usage event by id, or ErrNotFound.
	GetUsageEvent(eventID string) (*billing.UsageEvent, error)

	// ProcessUsage atomically deducts the event's cost: it rejects
	// duplicate event ids and insufficient balances, then commits the
	// updated account, the transaction, its index entry, and the usage
	// event in one durable batch. Returns the post-commit balance.
	ProcessUsage(event *billing.UsageEvent, tx *billing.CreditTransaction) (int64, error)

	// AddCredits atomically credits the account and records the
	// transaction. Lifetime counters advance according to the
	// transaction type. Returns the post-commit balance.
	AddCredits(userID ids.UserID, amountCents int64, tx *billing.CreditTransaction) (int64, error)

	// AddCreditsMarked behaves like AddCredits but first consults an
	// idempotency marker: when the marker already exists the credit is
	// skipped and the current balance returned with duplicate=true. The
	// marker commits in the same batch as the credit.
	AddCreditsMarked(userID ids.UserID, amountCents int64, tx *billing.CreditTransaction, marker string) (balance int64, duplicate bool, err error)

	Close() error
}
