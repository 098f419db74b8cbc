package syncer

import (
	"hash/fnv"
	"strconv"
	"sync"
)

const lockShards = 64

// keyedLocks serializes writers per (user, document) key. Keys hash onto a
// fixed set of mutex shards, so the table never grows with the number of
// documents. Two different keys may share a shard and briefly wait on each
// other, which is harmless.
type keyedLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *keyedLocks) lock(userID uint, document string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatUint(uint64(userID), 10)))
	h.Write([]byte{0})
	h.Write([]byte(document))
	m := &l.shards[h.Sum32()%lockShards]
	m.Lock()
	return m
}
