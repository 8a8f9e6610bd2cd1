package store

import (
	"hash/fnv"
	"sync"

	"github.com/cypher-asi/z-billing/internal/ids"
)

const lockShards = 64

// userLocks serializes mutating ledger operations per user. Users hash to
// one of a fixed set of shards; unrelated users may share a shard, which
// only coarsens the serialization. Readers never take these locks.
type userLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *userLocks) lock(userID ids.UserID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(userID.Bytes())
	mu := &l.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
