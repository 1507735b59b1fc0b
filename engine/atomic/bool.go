package atomic

import "sync/atomic"

// Bool is an atomic boolean flag.
type Bool struct {
	val int32
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}

	return 0
}

// CompareAndSwap sets the flag to value and returns true when the flag held
// the opposite value.
func (b *Bool) CompareAndSwap(value bool) bool {
	return atomic.CompareAndSwapInt32(&b.val, boolToInt32(!value), boolToInt32(value))
}

func (b *Bool) Set(value bool) {
	atomic.StoreInt32(&b.val, boolToInt32(value))
}

func (b *Bool) Get() bool {
	return atomic.LoadInt32(&b.val) != 0
}
