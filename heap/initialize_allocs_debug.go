//go:build debug_init_allocs

package heap

const (
	// InitializeAllocs causes all new and freshly freed allocations to be filled with deterministic
	// data. If you are concerned that nondeterministic initialization of memory is causing a bug,
	// you can activate this to help diagnose the issue. It impacts performance and should
	// generally be left deactivated.
	InitializeAllocs bool = true

	allocFillPatternCreated   uint8 = 0xDC
	allocFillPatternDestroyed uint8 = 0xEF
)

func (a *Allocator) fillAllocation(alloc *Allocation, pattern uint8) {
	data := alloc.Bytes()
	for i := range data {
		data[i] = pattern
	}
}
