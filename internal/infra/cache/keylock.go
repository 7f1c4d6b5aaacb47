package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const keyLockStripes = 64

// keyLocks serializes durable read-validate-delete against writes of the same
// key. Keys share one of a fixed set of stripes.
type keyLocks struct {
	stripes [keyLockStripes]sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	m := &l.stripes[xxhash.Sum64String(key)%keyLockStripes]
	m.Lock()
	return m.Unlock
}
