package heap

import (
	"sort"

	"github.com/meh2481/enginemem/memutils/metadata"
)

// BlockInfo describes one block within a PoolInfo snapshot.
type BlockInfo struct {
	// Offset is the block header's byte offset within its pool's region
	Offset int
	// Size is the block's payload size in bytes
	Size int
	// Free reports whether the block is free or allocated
	Free bool
	// Label is the allocation's diagnostic label; empty for free blocks
	Label string
}

// PoolInfo is a frozen copy of one pool's state, suitable for handing to a
// visualizer or other read-only consumer. It shares no memory with the live
// allocator.
type PoolInfo struct {
	// Capacity is the total bytes in the pool's raw region
	Capacity int
	// Used is the bytes of capacity currently consumed by block headers
	Used int
	// AllocationCount is the number of allocated blocks in the pool
	AllocationCount int
	// Blocks lists every block in the pool in address order
	Blocks []BlockInfo
}

// LabelStats aggregates the live allocations made under one label.
type LabelStats struct {
	Label      string
	Count      int
	TotalBytes int
}

// PoolInfo takes a snapshot of every pool under the allocator's lock and
// returns it as an owned copy, ordered oldest pool first.
func (a *Allocator) PoolInfo() []PoolInfo {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	infos := make([]PoolInfo, 0, len(a.pools))
	for _, pool := range a.pools {
		info := PoolInfo{
			Capacity:        pool.Capacity(),
			Used:            pool.metadata.HeaderBytes(),
			AllocationCount: pool.metadata.AllocationCount(),
		}

		_ = pool.metadata.VisitAllBlocks(
			func(handle metadata.BlockAllocationHandle, offset int, size int, label string, free bool) error {
				info.Blocks = append(info.Blocks, BlockInfo{
					Offset: offset,
					Size:   size,
					Free:   free,
					Label:  label,
				})
				return nil
			})

		infos = append(infos, info)
	}

	return infos
}

// AllocationStats groups the currently-live allocations by label and reports
// the count and total payload bytes of each group, sorted by label. Labels
// compare by content: two allocations made under equal label strings always
// land in the same group.
func (a *Allocator) AllocationStats() []LabelStats {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	grouped := make(map[string]*LabelStats)
	for _, pool := range a.pools {
		_ = pool.metadata.VisitAllBlocks(
			func(handle metadata.BlockAllocationHandle, offset int, size int, label string, free bool) error {
				if free {
					return nil
				}

				stats, ok := grouped[label]
				if !ok {
					stats = &LabelStats{Label: label}
					grouped[label] = stats
				}
				stats.Count++
				stats.TotalBytes += size
				return nil
			})
	}

	out := make([]LabelStats, 0, len(grouped))
	for _, stats := range grouped {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Label < out[j].Label
	})
	return out
}
