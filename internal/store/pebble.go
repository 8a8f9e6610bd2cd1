package store

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/ids"
)

// PebbleStore implements Store on top of Pebble. Every mutating batch is
// applied with Sync so the WAL is flushed before the call returns.
type PebbleStore struct {
	db    *pebble.DB
	locks userLocks

	// apply commits a batch; swapped out by tests to simulate commit
	// failures.
	apply func(b *pebble.Batch) error
}

var _ Store = (*PebbleStore)(nil)

// Open opens or creates the database under dir.
func Open(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return newPebbleStore(db), nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory pebble: %w", err)
	}
	return newPebbleStore(db), nil
}

func newPebbleStore(db *pebble.DB) *PebbleStore {
	s := &PebbleStore{db: db}
	s.apply = func(b *pebble.Batch) error {
		return s.db.Apply(b, pebble.Sync)
	}
	return s
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) get(key []byte, v any) error {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return databaseErr(err)
	}
	defer closer.Close()
	return decode(data, v)
}

func (s *PebbleStore) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, databaseErr(err)
	}
	closer.Close()
	return true, nil
}

// Account operations

func (s *PebbleStore) CreateAccount(account *billing.Account) error {
	mu := s.locks.lock(account.UserID)
	defer mu.Unlock()

	exists, err := s.has(accountKey(account.UserID))
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}
	return s.putAccountLocked(account)
}

func (s *PebbleStore) GetAccount(userID ids.UserID) (*billing.Account, error) {
	var account billing.Account
	if err := s.get(accountKey(userID), &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *PebbleStore) PutAccount(account *billing.Account) error {
	mu := s.locks.lock(account.UserID)
	defer mu.Unlock()
	return s.putAccountLocked(account)
}

func (s *PebbleStore) putAccountLocked(account *billing.Account) error {
	value, err := encode(account)
	if err != nil {
		return err
	}
	if err := s.db.Set(accountKey(account.UserID), value, pebble.Sync); err != nil {
		return databaseErr(err)
	}
	return nil
}

func (s *PebbleStore) UpdateAccount(userID ids.UserID, fn func(*billing.Account) error) (*billing.Account, error) {
	mu := s.locks.lock(userID)
	defer mu.Unlock()

	account, err := s.GetAccount(userID)
	if err != nil {
		return nil, err
	}
	if err := fn(account); err != nil {
		return nil, err
	}
	account.UpdatedAt = time.Now().UTC()
	if err := s.putAccountLocked(account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *PebbleStore) DeleteAccount(userID ids.UserID) error {
	mu := s.locks.lock(userID)
	defer mu.Unlock()

	exists, err := s.has(accountKey(userID))
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(accountKey(userID), nil); err != nil {
		return databaseErr(err)
	}
	prefix := userTransactionsPrefix(userID)
	if err := batch.DeleteRange(prefix, prefixUpperBound(prefix), nil); err != nil {
		return databaseErr(err)
	}
	return databaseErr(s.apply(batch))
}

func (s *PebbleStore) ForEachAccount(fn func(billing.Account) bool) error {
	lower := []byte{cfAccounts}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return databaseErr(err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var account billing.Account
		if err := decode(iter.Value(), &account); err != nil {
			return err
		}
		if !fn(account) {
			break
		}
	}
	return databaseErr(iter.Error())
}

// Transaction operations

func (s *PebbleStore) PutTransaction(tx *billing.CreditTransaction) error {
	value, err := encode(tx)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(transactionKey(tx.ID), value, nil); err != nil {
		return databaseErr(err)
	}
	if err := batch.Set(userTransactionKey(tx.UserID, tx.ID), nil, nil); err != nil {
		return databaseErr(err)
	}
	return databaseErr(s.apply(batch))
}

func (s *PebbleStore) GetTransaction(id ids.TransactionID) (*billing.CreditTransaction, error) {
	var tx billing.CreditTransaction
	if err := s.get(transactionKey(id), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *PebbleStore) ListTransactionsByUser(userID ids.UserID, limit, offset int) ([]billing.CreditTransaction, error) {
	prefix := userTransactionsPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, databaseErr(err)
	}
	defer iter.Close()

	transactions := make([]billing.CreditTransaction, 0, limit)
	skipped := 0

	// Newest first: transaction ids are time-ordered, so walk the index
	// backwards.
	for valid := iter.Last(); valid && len(transactions) < limit; valid = iter.Prev() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		txID, err := transactionIDFromIndexKey(iter.Key())
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		tx, err := s.GetTransaction(txID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := iter.Error(); err != nil {
		return nil, databaseErr(err)
	}
	return transactions, nil
}

// Usage event operations

func (s *PebbleStore) HasUsageEvent(eventID string) (bool, error) {
	return s.has(usageEventKey(eventID))
}

func (s *PebbleStore) PutUsageEvent(event *billing.UsageEvent) error {
	value, err := encode(event)
	if err != nil {
		return err
	}
	if err := s.db.Set(usageEventKey(event.EventID), value, pebble.Sync); err != nil {
		return databaseErr(err)
	}
	return nil
}

func (s *PebbleStore) GetUsageEvent(eventID string) (*billing.UsageEvent, error) {
	var event billing.UsageEvent
	if err := s.get(usageEventKey(eventID), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Compound operations

func (s *PebbleStore) ProcessUsage(event *billing.UsageEvent, tx *billing.CreditTransaction) (int64, error) {
	mu := s.locks.lock(event.UserID)
	defer mu.Unlock()

	// The duplicate check shares the user lock with the batch commit, so
	// a concurrent retry cannot slip between check and write.
	seen, err := s.HasUsageEvent(event.EventID)
	if err != nil {
		return 0, err
	}
	if seen {
		return 0, &DuplicateEventError{EventID: event.EventID}
	}

	account, err := s.GetAccount(event.UserID)
	if err != nil {
		return 0, err
	}

	cost := -tx.AmountCents
	if account.BalanceCents < cost {
		return 0, &InsufficientCreditsError{
			BalanceCents:  account.BalanceCents,
			RequiredCents: cost,
		}
	}

	account.BalanceCents += tx.AmountCents
	account.LifetimeUsedCents += cost
	account.UpdatedAt = time.Now().UTC()
	tx.BalanceAfterCents = account.BalanceCents

	accountValue, err := encode(account)
	if err != nil {
		return 0, err
	}
	txValue, err := encode(tx)
	if err != nil {
		return 0, err
	}
	eventValue, err := encode(event)
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(accountKey(event.UserID), accountValue, nil); err != nil {
		return 0, databaseErr(err)
	}
	if err := batch.Set(transactionKey(tx.ID), txValue, nil); err != nil {
		return 0, databaseErr(err)
	}
	if err := batch.Set(userTransactionKey(event.UserID, tx.ID), nil, nil); err != nil {
		return 0, databaseErr(err)
	}
	if err := batch.Set(usageEventKey(event.EventID), eventValue, nil); err != nil {
		return 0, databaseErr(err)
	}
	if err := s.apply(batch); err != nil {
		return 0, databaseErr(err)
	}
	return account.BalanceCents, nil
}

func (s *PebbleStore) AddCredits(userID ids.UserID, amountCents int64, tx *billing.CreditTransaction) (int64, error) {
	mu := s.locks.lock(userID)
	defer mu.Unlock()
	return s.addCreditsLocked(userID, amountCents, tx, "")
}

func (s *PebbleStore) AddCreditsMarked(userID ids.UserID, amountCents int64, tx *billing.CreditTransaction, marker string) (int64, bool, error) {
	mu := s.locks.lock(userID)
	defer mu.Unlock()

	seen, err := s.has(usageEventKey(marker))
	if err != nil {
		return 0, false, err
	}
	if seen {
		account, err := s.GetAccount(userID)
		if err != nil {
			return 0, false, err
		}
		return account.BalanceCents, true, nil
	}

	balance, err := s.addCreditsLocked(userID, amountCents, tx, marker)
	return balance, false, err
}

func (s *PebbleStore) addCreditsLocked(userID ids.UserID, amountCents int64, tx *billing.CreditTransaction, marker string) (int64, error) {
	account, err := s.GetAccount(userID)
	if err != nil {
		return 0, err
	}

	account.BalanceCents += amountCents
	switch tx.Type {
	case billing.TransactionPurchase:
		account.LifetimePurchasedCents += amountCents
	case billing.TransactionSubscriptionGrant:
		account.LifetimeGrantedCents += amountCents
	}
	account.UpdatedAt = time.Now().UTC()
	tx.BalanceAfterCents = account.BalanceCents

	accountValue, err := encode(account)
	if err != nil {
		return 0, err
	}
	txValue, err := encode(tx)
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(accountKey(userID), accountValue, nil); err != nil {
		return 0, databaseErr(err)
	}
	if err := batch.Set(transactionKey(tx.ID), txValue, nil); err != nil {
		return 0, databaseErr(err)
	}
	if err := batch.Set(userTransactionKey(userID, tx.ID), nil, nil); err != nil {
		return 0, databaseErr(err)
	}
	if marker != "" {
		if err := batch.Set(usageEventKey(marker), nil, nil); err != nil {
			return 0, databaseErr(err)
		}
	}
	if err := s.apply(batch); err != nil {
		return 0, databaseErr(err)
	}
	return account.BalanceCents, nil
}
