package heap

import (
	"fmt"

	"github.com/meh2481/enginemem/memutils/metadata"
)

// Allocation represents one live allocation handed out by an Allocator. The
// payload it exposes is stable for the allocation's whole lifetime: pools are
// never resized or relocated while they hold allocations.
//
// An Allocation must be returned to the Allocator that produced it with
// Allocator.Free exactly once. Using it after that is a programming error and
// panics.
type Allocation struct {
	pool   *memoryPool
	handle metadata.BlockAllocationHandle
	offset int
	size   int
	label  string
}

// Size returns the usable payload size in bytes. It is the requested size
// rounded up for alignment, and may be slightly larger still when the chosen
// block's remainder was too small to split off.
func (a *Allocation) Size() int { return a.size }

// Label returns the diagnostic label the allocation was made under.
func (a *Allocation) Label() string { return a.label }

// Bytes returns the allocation's payload. The slice aliases the owning pool's
// region; it remains valid until the allocation is freed.
func (a *Allocation) Bytes() []byte {
	if a.pool == nil {
		panic(fmt.Sprintf("attempted to access an allocation labeled %q after it was freed", a.label))
	}

	start := a.offset + metadata.HeaderSize
	return a.pool.region[start : start+a.size : start+a.size]
}
