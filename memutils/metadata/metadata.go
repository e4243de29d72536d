package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/meh2481/enginemem/memutils"
)

const (
	// HeaderSize is the number of bytes of pool capacity charged for every
	// block's header, free or allocated. Block payloads begin HeaderSize bytes
	// after the block's offset, and the sum of (HeaderSize + payload size)
	// over all blocks in a pool always equals the pool's capacity.
	HeaderSize = 32

	// PayloadAlignment is the alignment applied to every requested allocation
	// size. Block payload sizes are always a multiple of this value.
	PayloadAlignment uint = 8
)

// BlockMetadata tracks the blocks carved out of a single memory pool. It
// manages the pool's address-ordered block list, allowing allocations to be
// requested and freed, as well as enumerated and queried. It performs no
// locking of its own; the owning allocator is expected to serialize access.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It resets all
	// bookkeeping and sizes the pool in bytes based on the size parameter,
	// leaving a single free block spanning size - HeaderSize bytes.
	Init(size int)
	// Size retrieves the size in bytes that the pool was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. When the
	// implementation is functioning correctly, it should not be possible for
	// this method to return an error, but this may assist in diagnosing issues
	// with the implementation.
	Validate() error
	// AllocationCount returns the number of blocks currently allocated from
	// this pool. This number should generally be the number of successful
	// allocations minus the number of successful frees.
	AllocationCount() int
	// FreeRegionsCount returns the number of free blocks in the pool. Adjacent
	// free blocks are always merged after a free, so outside of a Free call
	// every counted region is bounded by allocated blocks or the pool's ends.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free payload bytes in the pool.
	SumFreeSize() int
	// HeaderBytes returns the number of capacity bytes currently consumed by
	// block headers. It grows when an allocation splits a block and shrinks
	// when adjacent free blocks merge.
	HeaderBytes() int

	// IsEmpty will return true if this pool has no live allocations
	IsEmpty() bool

	// VisitAllBlocks will call the provided callback once for each block in
	// the pool, in address order.
	VisitAllBlocks(handleBlock func(handle BlockAllocationHandle, offset int, size int, label string, free bool) error) error

	// AddDetailedStatistics sums this pool's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this pool's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations and resets the metadata to a
	// single free block
	Clear()
	// BlockJsonData populates a json object with information about this pool
	BlockJsonData(json jwriter.ObjectState)

	// CreateAllocationRequest retrieves an AllocationRequest object indicating
	// where the implementation would place the requested allocation. That
	// object can be passed to Alloc to commit the allocation.
	//
	// allocSize is the size in bytes of the requested allocation and must be
	// positive; it is rounded up to a multiple of allocAlignment before the
	// search. The boolean return is false when no free block can hold the
	// rounded size.
	CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, marking the target block as
	// allocated under the provided label and splitting off the free remainder
	// when it is large enough to be useful. It returns the committed payload
	// size of the block, which may exceed the requested size when the
	// remainder was too small to split. The implementation must return an
	// error if the request is no longer valid- i.e. the target block no
	// longer exists, is not free, or is no longer large enough.
	Alloc(request AllocationRequest, label string) (int, error)

	// Free returns a block to the pool and merges it with any adjacent free
	// blocks.
	//
	// The implementation must return an error if the provided handle does not
	// map to a live allocation within this pool.
	Free(allocHandle BlockAllocationHandle) error
	// Coalesce performs a full merge pass over the pool's block list,
	// collapsing every run of adjacent free blocks into one. It returns the
	// number of merge operations performed.
	Coalesce() int
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the pool in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the pool in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// WriteBlockJson populates a json object with information about this pool
func (m *BlockMetadataBase) WriteBlockJson(json jwriter.ObjectState, unusedBytes, allocationCount, freeRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(freeRangeCount)
}
