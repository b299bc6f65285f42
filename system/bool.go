package system

import "sync/atomic"

// AtomicBool is a boolean that can be read and written from multiple goroutines
// without additional locking.
type AtomicBool struct {
	v atomic.Bool
}

func NewAtomicBool(v bool) *AtomicBool {
	b := AtomicBool{}
	b.v.Store(v)
	return &b
}

func (ab *AtomicBool) Store(v bool) {
	ab.v.Store(v)
}

func (ab *AtomicBool) Load() bool {
	return ab.v.Load()
}

// SwapIf stores the value only if it differs from the current one, returning
// true when the swap happened. It is used as a one-shot guard around code that
// must not run twice during the lifecycle of the process.
func (ab *AtomicBool) SwapIf(v bool) bool {
	return ab.v.CompareAndSwap(!v, v)
}
