package pngshrink

import (
	"math"
	"sync/atomic"
)

// AtomicMin is a monotonically non-increasing cell shared across trials.
// Readers use it as an early-abort ceiling; writers lower it with
// compare-and-swap when a new best is found. It never increases.
type AtomicMin struct {
	val atomic.Uint64
}

const atomicMinUnset = math.MaxUint64

// NewAtomicMin returns an unseeded minimum: Get reports no ceiling.
func NewAtomicMin() *AtomicMin {
	m := &AtomicMin{}
	m.val.Store(atomicMinUnset)
	return m
}

// NewAtomicMinSeeded returns a minimum pre-seeded with n.
func NewAtomicMinSeeded(n int) *AtomicMin {
	m := NewAtomicMin()
	m.val.Store(uint64(n))
	return m
}

// Get returns the current minimum and whether one has been set. Stale reads
// are safe: at worst a losing trial runs to completion.
func (m *AtomicMin) Get() (int, bool) {
	v := m.val.Load()
	if v == atomicMinUnset {
		return 0, false
	}
	return int(v), true
}

// SetMin lowers the stored minimum to n if n is strictly smaller than the
// current value. It reports whether n lowered the minimum; a value equal to
// or above the current minimum leaves it unchanged and reports false.
func (m *AtomicMin) SetMin(n int) bool {
	v := uint64(n)
	for {
		cur := m.val.Load()
		if v >= cur {
			return false
		}
		if m.val.CompareAndSwap(cur, v) {
			return true
		}
	}
}
