package loadcontrol

import "sync/atomic"

// DefaultAllocator implements chunk.Allocator with plain byte accounting.
// It hands out fresh buffers and trusts the garbage collector for actual
// reclamation; what matters to admission control is the running total of
// bytes the session has drawn.
type DefaultAllocator struct {
	allocated atomic.Int64
}

// NewAllocator creates an allocator.
func NewAllocator() *DefaultAllocator {
	return &DefaultAllocator{}
}

// Allocate implements chunk.Allocator.
func (a *DefaultAllocator) Allocate(size int) []byte {
	a.allocated.Add(int64(size))
	return make([]byte, size)
}

// Release implements chunk.Allocator.
func (a *DefaultAllocator) Release(n int) {
	a.allocated.Add(-int64(n))
}

// AllocatedBytes implements chunk.Allocator.
func (a *DefaultAllocator) AllocatedBytes() int64 {
	return a.allocated.Load()
}
