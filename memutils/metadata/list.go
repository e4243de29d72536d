package metadata

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/meh2481/enginemem/memutils"
)

// nilBlock marks the absence of a neighbor in the intra-pool block list.
const nilBlock int32 = -1

// minSplitPayload is the smallest payload a split remainder may have. When the
// free space beyond a chosen block's committed size could not hold a header
// plus this many bytes, it is left inside the block as internal fragmentation
// rather than split into a block too small to ever be useful.
const minSplitPayload = 8

// blockSpan is one contiguous span of bytes within a pool, free or allocated.
// offset is the span's header offset within the pool's region; the payload
// occupies the size bytes following the header. Spans are linked by slice
// index in address order, so a span's successor always begins at
// offset + HeaderSize + size.
type blockSpan struct {
	offset int
	size   int
	label  string
	free   bool
	prev   int32
	next   int32
}

// ListBlockMetadata is a BlockMetadata implementation that tracks a pool's
// blocks in an address-ordered doubly-linked list and places allocations with
// a first-fit search. Allocations split oversized free blocks, and frees merge
// adjacent free blocks back together, so outside of an in-progress operation
// the list never contains two adjacent free spans.
//
// Span records live in a growable slice and are linked by index rather than by
// pointer; slots vacated by merges are recycled for future splits. A swiss map
// from allocation handle to slot index backs handle lookups, so committing and
// freeing allocations does not walk the list.
type ListBlockMetadata struct {
	BlockMetadataBase

	blocks      []blockSpan
	freeSlots   []int32
	firstBlock  int32
	lastBlock   int32
	handleKey   *swiss.Map[BlockAllocationHandle, int32]
	sumFreeSize int
	allocCount  int
}

var _ BlockMetadata = &ListBlockMetadata{}

// NewListBlockMetadata creates a new ListBlockMetadata. Init must be called
// before it can serve allocations.
func NewListBlockMetadata() *ListBlockMetadata {
	return &ListBlockMetadata{
		firstBlock: nilBlock,
		lastBlock:  nilBlock,
	}
}

// Init prepares this structure for allocations and sizes the pool in bytes
// based on the parameter size. The pool begins as a single free block spanning
// size - HeaderSize bytes.
func (m *ListBlockMetadata) Init(size int) {
	if size <= HeaderSize {
		panic(fmt.Sprintf("attempted to initialize a pool of %d bytes, which cannot hold even a single block header", size))
	}

	m.BlockMetadataBase.Init(size)
	m.blocks = m.blocks[:0]
	m.freeSlots = m.freeSlots[:0]
	m.firstBlock = nilBlock
	m.lastBlock = nilBlock
	m.handleKey = swiss.NewMap[BlockAllocationHandle, int32](42)
	m.sumFreeSize = size - HeaderSize
	m.allocCount = 0

	index := m.takeSlot(blockSpan{
		size: size - HeaderSize,
		free: true,
		prev: nilBlock,
		next: nilBlock,
	})
	m.firstBlock = index
	m.lastBlock = index
}

// SumFreeSize returns the number of free payload bytes in the pool.
func (m *ListBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

// AllocationCount returns the number of blocks currently allocated from this pool.
func (m *ListBlockMetadata) AllocationCount() int {
	return m.allocCount
}

// IsEmpty will return true if this pool has no live allocations
func (m *ListBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

// HeaderBytes returns the number of capacity bytes currently consumed by block headers.
func (m *ListBlockMetadata) HeaderBytes() int {
	return (len(m.blocks) - len(m.freeSlots)) * HeaderSize
}

// FreeRegionsCount returns the number of free blocks in the pool.
func (m *ListBlockMetadata) FreeRegionsCount() int {
	var count int
	for index := m.firstBlock; index != nilBlock; index = m.blocks[index].next {
		if m.blocks[index].free {
			count++
		}
	}
	return count
}

// CreateAllocationRequest retrieves an AllocationRequest object indicating
// where the metadata would place the requested allocation. The request can be
// committed with Alloc.
//
// allocSize must be positive; it is rounded up to a multiple of allocAlignment
// before the search. The first free block in address order whose payload can
// hold the rounded size is chosen. The boolean return is false when no free
// block is large enough.
func (m *ListBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error) {
	if allocSize <= 0 {
		return false, AllocationRequest{}, errors.New("allocation size must be greater than 0")
	}
	memutils.DebugValidate(m)

	size := memutils.AlignUp(allocSize, allocAlignment)

	for index := m.firstBlock; index != nilBlock; index = m.blocks[index].next {
		span := &m.blocks[index]
		if span.free && span.size >= size {
			return true, AllocationRequest{
				BlockAllocationHandle: BlockAllocationHandle(span.offset + 1),
				Size:                  size,
			}, nil
		}
	}

	return false, AllocationRequest{}, nil
}

// Alloc commits an AllocationRequest object, marking the target block as
// allocated under the provided label. When the chosen block's payload exceeds
// the requested size by more than HeaderSize + minSplitPayload bytes, the
// block is shrunk to the requested size and a new free block is carved from
// the remainder immediately after it. Alloc returns the committed payload size
// of the block, which may exceed the requested size when the remainder was too
// small to split.
func (m *ListBlockMetadata) Alloc(request AllocationRequest, label string) (int, error) {
	if label == "" {
		return 0, errors.New("allocation label must not be empty")
	}

	offset := int(request.BlockAllocationHandle) - 1
	index := m.findSpan(offset)
	if index == nilBlock {
		return 0, errors.Newf("no block exists at offset %d", offset)
	}

	span := &m.blocks[index]
	if !span.free {
		return 0, errors.Newf("the block at offset %d is already allocated", offset)
	}
	if span.size < request.Size {
		return 0, errors.Newf("the block at offset %d holds %d bytes, which no longer fits the requested %d bytes", offset, span.size, request.Size)
	}

	m.sumFreeSize -= span.size
	span.free = false
	span.label = label

	leftover := span.size - request.Size
	if leftover > HeaderSize+minSplitPayload {
		oldNext := span.next
		span.size = request.Size

		remainderIndex := m.takeSlot(blockSpan{
			offset: offset + HeaderSize + request.Size,
			size:   leftover - HeaderSize,
			free:   true,
			prev:   index,
			next:   oldNext,
		})

		// takeSlot may have grown the backing slice
		span = &m.blocks[index]
		span.next = remainderIndex
		if oldNext != nilBlock {
			m.blocks[oldNext].prev = remainderIndex
		} else {
			m.lastBlock = remainderIndex
		}
		m.sumFreeSize += leftover - HeaderSize
	}

	m.allocCount++
	memutils.DebugValidate(m)
	return span.size, nil
}

// Free returns a block to the pool, merging it with any adjacent free blocks.
//
// An error is returned if the provided handle does not map to a live
// allocation within this pool.
func (m *ListBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	offset := int(allocHandle) - 1
	index := m.findSpan(offset)
	if index == nilBlock {
		return errors.Newf("no block exists at offset %d", offset)
	}

	span := &m.blocks[index]
	if span.free {
		return errors.Newf("the block at offset %d is already free", offset)
	}

	span.free = true
	span.label = ""
	m.sumFreeSize += span.size
	m.allocCount--

	m.Coalesce()
	memutils.DebugValidate(m)
	return nil
}

// Coalesce performs a full merge pass over the pool's block list in address
// order. Whenever two adjacent blocks are both free, the later one is absorbed
// into the earlier one and the scan continues from the merged block, so a run
// of three or more free blocks collapses into one in a single pass. Coalesce
// returns the number of merge operations performed.
func (m *ListBlockMetadata) Coalesce() int {
	var merges int

	index := m.firstBlock
	for index != nilBlock {
		next := m.blocks[index].next
		if m.blocks[index].free && next != nilBlock && m.blocks[next].free {
			m.blocks[index].size += HeaderSize + m.blocks[next].size
			m.sumFreeSize += HeaderSize
			m.releaseSlot(next)
			merges++
			continue
		}

		index = next
	}

	return merges
}

// Clear instantly frees all allocations and resets the metadata to a single free block
func (m *ListBlockMetadata) Clear() {
	m.Init(m.Size())
}

// VisitAllBlocks will call the provided callback once for each block in the
// pool, in address order.
func (m *ListBlockMetadata) VisitAllBlocks(handleBlock func(handle BlockAllocationHandle, offset int, size int, label string, free bool) error) error {
	for index := m.firstBlock; index != nilBlock; index = m.blocks[index].next {
		span := m.blocks[index]
		err := handleBlock(BlockAllocationHandle(span.offset+1), span.offset, span.size, span.label, span.free)
		if err != nil {
			return err
		}
	}
	return nil
}

// AddStatistics sums this pool's allocation statistics into the statistics currently present in the
// provided memutils.Statistics object.
func (m *ListBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.PoolCount++
	stats.PoolBytes += m.Size()

	for index := m.firstBlock; index != nilBlock; index = m.blocks[index].next {
		span := m.blocks[index]
		if !span.free {
			stats.AllocationCount++
			stats.AllocationBytes += span.size
		}
	}
}

// AddDetailedStatistics sums this pool's allocation statistics into the statistics currently present
// in the provided memutils.DetailedStatistics object.
func (m *ListBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.PoolCount++
	stats.PoolBytes += m.Size()

	_ = m.VisitAllBlocks(
		func(handle BlockAllocationHandle, offset int, size int, label string, free bool) error {
			if free {
				stats.AddFreeRange(size)
			} else {
				stats.AddAllocation(size)
			}

			return nil
		})
}

// BlockJsonData populates a json object with information about this pool
func (m *ListBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	var freeRangeCount, usedBytes, allocCount int

	_ = m.VisitAllBlocks(
		func(handle BlockAllocationHandle, offset int, size int, label string, free bool) error {
			if free {
				freeRangeCount++
			} else {
				usedBytes += size
				allocCount++
			}

			return nil
		})

	m.WriteBlockJson(json, m.Size()-usedBytes, allocCount, freeRangeCount)
}

// Validate performs internal consistency checks on the metadata. When the
// implementation is functioning correctly, it should not be possible for this
// method to return an error.
func (m *ListBlockMetadata) Validate() error {
	if m.firstBlock == nilBlock || m.lastBlock == nilBlock {
		return errors.New("the pool has no blocks, but must always hold at least one")
	}

	var expectedOffset, allocCount, freeBytes, spanCount int
	prev := nilBlock

	for index := m.firstBlock; index != nilBlock; index = m.blocks[index].next {
		span := m.blocks[index]
		if span.prev != prev {
			return errors.Newf("the block at offset %d has a broken prev link", span.offset)
		}
		if span.offset != expectedOffset {
			return errors.Newf("the block at offset %d should be at offset %d- blocks must be contiguous", span.offset, expectedOffset)
		}
		if span.size <= 0 {
			return errors.Newf("the block at offset %d has a non-positive size %d", span.offset, span.size)
		}

		if span.free {
			freeBytes += span.size
			if span.label != "" {
				return errors.Newf("the free block at offset %d still carries the label %q", span.offset, span.label)
			}
			if prev != nilBlock && m.blocks[prev].free {
				return errors.Newf("the blocks at offsets %d and %d are both free- adjacent free blocks must be merged", m.blocks[prev].offset, span.offset)
			}
		} else {
			allocCount++
			if span.label == "" {
				return errors.Newf("the allocated block at offset %d has no label", span.offset)
			}
		}

		mapped, ok := m.handleKey.Get(BlockAllocationHandle(span.offset + 1))
		if !ok {
			return errors.Newf("the block at offset %d is missing from the handle index", span.offset)
		}
		if mapped != index {
			return errors.Newf("the handle index maps the block at offset %d to the wrong slot", span.offset)
		}

		spanCount++
		expectedOffset = span.offset + HeaderSize + span.size
		prev = index
	}

	if prev != m.lastBlock {
		return errors.Newf("the block list ends at the block at offset %d, but the metadata expects it to end elsewhere", m.blocks[prev].offset)
	}
	if expectedOffset != m.Size() {
		return errors.Newf("the blocks in this pool cover %d bytes, but the pool's capacity is %d", expectedOffset, m.Size())
	}
	if allocCount != m.allocCount {
		return errors.Newf("counted %d allocated blocks, but metadata indicates we should have %d", allocCount, m.allocCount)
	}
	if freeBytes != m.sumFreeSize {
		return errors.Newf("counted %d free bytes, but metadata indicates we should have %d", freeBytes, m.sumFreeSize)
	}
	if spanCount != len(m.blocks)-len(m.freeSlots) {
		return errors.Newf("the block list holds %d blocks, but %d slots are in use", spanCount, len(m.blocks)-len(m.freeSlots))
	}
	if spanCount != m.handleKey.Count() {
		return errors.Newf("the block list holds %d blocks, but the handle index holds %d", spanCount, m.handleKey.Count())
	}

	return nil
}

func (m *ListBlockMetadata) findSpan(offset int) int32 {
	index, ok := m.handleKey.Get(BlockAllocationHandle(offset + 1))
	if !ok {
		return nilBlock
	}
	return index
}

func (m *ListBlockMetadata) takeSlot(span blockSpan) int32 {
	var index int32
	if n := len(m.freeSlots); n > 0 {
		index = m.freeSlots[n-1]
		m.freeSlots = m.freeSlots[:n-1]
		m.blocks[index] = span
	} else {
		m.blocks = append(m.blocks, span)
		index = int32(len(m.blocks) - 1)
	}

	m.handleKey.Put(BlockAllocationHandle(span.offset+1), index)
	return index
}

// releaseSlot unlinks a span from the list and recycles its slot.
func (m *ListBlockMetadata) releaseSlot(index int32) {
	span := m.blocks[index]
	m.handleKey.Delete(BlockAllocationHandle(span.offset + 1))
	if span.prev != nilBlock {
		m.blocks[span.prev].next = span.next
	} else {
		m.firstBlock = span.next
	}
	if span.next != nilBlock {
		m.blocks[span.next].prev = span.prev
	} else {
		m.lastBlock = span.prev
	}

	m.blocks[index] = blockSpan{prev: nilBlock, next: nilBlock}
	m.freeSlots = append(m.freeSlots, index)
}
