package stats

import (
	"hash/fnv"
	"strconv"
	"sync"
)

const lockShards = 64

// keyedLocks serializes ingestion per (user, device, title) key over a fixed
// set of mutex shards.
type keyedLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *keyedLocks) lock(userID uint, deviceName, title string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatUint(uint64(userID), 10)))
	h.Write([]byte{0})
	h.Write([]byte(deviceName))
	h.Write([]byte{0})
	h.Write([]byte(title))
	m := &l.shards[h.Sum32()%lockShards]
	m.Lock()
	return m
}
