package store

import (
	"github.com/cypher-asi/z-billing/internal/ids"
)

// Logical column families. Pebble has a single keyspace, so each family
// gets a one-byte prefix; within a family keys keep the raw binary forms
// so byte order matches id order.
const (
	cfAccounts           byte = 0x01
	cfTransactions       byte = 0x02
	cfTransactionsByUser byte = 0x03
	cfUsageEvents        byte = 0x04
)

func accountKey(userID ids.UserID) []byte {
	return append([]byte{cfAccounts}, userID.Bytes()...)
}

func transactionKey(id ids.TransactionID) []byte {
	return append([]byte{cfTransactions}, id.Bytes()...)
}

// userTransactionKey is the secondary index entry: user_id (16) followed
// by transaction_id (16). Transaction ids are time-sortable, so reverse
// iteration over the user prefix yields newest first.
func userTransactionKey(userID ids.UserID, txID ids.TransactionID) []byte {
	key := make([]byte, 0, 33)
	key = append(key, cfTransactionsByUser)
	key = append(key, userID.Bytes()...)
	key = append(key, txID.Bytes()...)
	return key
}

func userTransactionsPrefix(userID ids.UserID) []byte {
	return append([]byte{cfTransactionsByUser}, userID.Bytes()...)
}

// transactionIDFromIndexKey extracts the trailing transaction id from an
// index key.
func transactionIDFromIndexKey(key []byte) (ids.TransactionID, error) {
	return ids.TransactionIDFromBytes(key[17:33])
}

func usageEventKey(eventID string) []byte {
	return append([]byte{cfUsageEvents}, eventID...)
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil when the prefix is all 0xff.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
