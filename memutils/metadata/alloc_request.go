package metadata

import "math"

// BlockAllocationHandle is a numeric handle used to identify individual blocks
// within a pool. Handles encode the block's header offset plus one, so a
// handle value never collides with the zero value.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to allocate new memory. It can be committed to the metadata with
// BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free block chosen for the allocation
	BlockAllocationHandle BlockAllocationHandle
	// Size is the total size of the allocation after alignment rounding, maybe
	// larger than what was originally requested
	Size int
}
