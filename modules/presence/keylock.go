package presence

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map"
)

// keyLocks hands out one mutex per key and forgets it once nobody holds or waits on it.
// Bookkeeping happens under the shard lock of the key, so unrelated keys never contend.
type keyLocks struct {
	locks cmap.ConcurrentMap
}

// refMutex.refs is only read or written inside concurrent-map callbacks.
type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: cmap.New()}
}

// Lock blocks until key is held and returns the matching unlock func.
func (k *keyLocks) Lock(key string) (unlock func()) {
	v := k.locks.Upsert(key, nil, func(exist bool, valueInMap interface{}, _ interface{}) interface{} {
		m := &refMutex{}
		if exist {
			m = valueInMap.(*refMutex)
		}
		m.refs++
		return m
	})
	m := v.(*refMutex)

	m.Lock()
	return func() {
		m.Unlock()
		k.locks.RemoveCb(key, func(_ string, v interface{}, exists bool) bool {
			if !exists {
				return false
			}
			held := v.(*refMutex)
			held.refs--
			return held.refs == 0
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (k *keyLocks) Len() int {
	return k.locks.Count()
}
