package util

import "sync"

// KeyedMutex serializes operations per key. Locks are created lazily and
// never freed; the key space (conversation IDs in one process) stays small.
type KeyedMutex struct {
	locks sync.Map
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
