package heap

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/meh2481/enginemem/memutils"
	"github.com/meh2481/enginemem/memutils/metadata"
)

// TotalMemory returns the combined capacity in bytes of every pool the
// allocator currently owns.
func (a *Allocator) TotalMemory() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var total int
	for _, pool := range a.pools {
		total += pool.Capacity()
	}
	return total
}

// UsedMemory returns the bytes consumed by live allocations, counting each
// allocated block's header alongside its payload.
func (a *Allocator) UsedMemory() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.usedMemoryAfterLock()
}

// FreeMemory returns the bytes not consumed by live allocations, including
// free blocks' headers.
func (a *Allocator) FreeMemory() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var total int
	for _, pool := range a.pools {
		total += pool.Capacity()
	}
	return total - a.usedMemoryAfterLock()
}

// AllocationCount returns the number of live allocations across all pools.
func (a *Allocator) AllocationCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.allocationCount
}

// CalculateStatistics sums basic allocation numbers across every pool.
func (a *Allocator) CalculateStatistics() memutils.Statistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var stats memutils.Statistics
	stats.Clear()
	for _, pool := range a.pools {
		pool.metadata.AddStatistics(&stats)
	}
	return stats
}

// CalculateDetailedStatistics visits every block in every pool and sums
// detailed allocation numbers, including free-range counts and size extremes.
func (a *Allocator) CalculateDetailedStatistics() memutils.DetailedStatistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, pool := range a.pools {
		pool.metadata.AddDetailedStatistics(&stats)
	}
	return stats
}

// BuildStatsString writes a JSON document describing the allocator's complete
// state- per-pool totals plus every block's offset, size, and label- to the
// provided writer. It is intended for diagnostic tooling, not hot paths.
func (a *Allocator) BuildStatsString(writer *jwriter.Writer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	objState := writer.Object()
	defer objState.End()

	general := objState.Name("General").Object()
	general.Name("TotalBytes").Int(a.totalCapacity)
	general.Name("PoolCount").Int(len(a.pools))
	general.Name("Allocations").Int(a.allocationCount)
	general.End()

	poolsObj := objState.Name("Pools").Object()
	defer poolsObj.End()

	for _, pool := range a.pools {
		poolObj := poolsObj.Name(strconv.Itoa(pool.id)).Object()

		pool.metadata.BlockJsonData(poolObj)
		a.printDetailedMapBlocks(pool.metadata, poolObj)

		poolObj.End()
	}
}

func (a *Allocator) printDetailedMapBlocks(md metadata.BlockMetadata, json jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = md.VisitAllBlocks(
		func(handle metadata.BlockAllocationHandle, offset int, size int, label string, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)
			if free {
				obj.Name("Type").String("FREE")
			} else {
				obj.Name("Type").String("ALLOCATED")
				obj.Name("Label").String(label)
			}

			return nil
		})
}

func (a *Allocator) usedMemoryAfterLock() int {
	var used int
	for _, pool := range a.pools {
		_ = pool.metadata.VisitAllBlocks(
			func(handle metadata.BlockAllocationHandle, offset int, size int, label string, free bool) error {
				if !free {
					used += size + metadata.HeaderSize
				}
				return nil
			})
	}
	return used
}
