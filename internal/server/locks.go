package server

import "sync"

const lockStripes = 64

// keyedLock serializes work per integer key (room or user id) without
// keeping a mutex per key alive. Distinct keys may share a stripe.
type keyedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyedLock) lock(key int) func() {
	m := &k.stripes[uint(key)%lockStripes]
	m.Lock()
	return m.Unlock
}
