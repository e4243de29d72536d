package heap_test

import (
	"testing"
	"time"

	"github.com/meh2481/enginemem/heap"
	"github.com/stretchr/testify/require"
)

func TestUsageHistoryRespectsSampleInterval(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{
		MinPoolSize:           1024,
		HistoryCapacity:       8,
		HistorySampleInterval: 100 * time.Millisecond,
	})
	defer allocator.Destroy()

	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, allocator.UpdateMemoryHistory(base))
	require.False(t, allocator.UpdateMemoryHistory(base.Add(50*time.Millisecond)))
	require.False(t, allocator.UpdateMemoryHistory(base.Add(99*time.Millisecond)))
	require.True(t, allocator.UpdateMemoryHistory(base.Add(100*time.Millisecond)))

	require.Equal(t, []int{0, 0}, allocator.UsageHistory())
}

func TestUsageHistoryRecordsUsedMemory(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{
		MinPoolSize:           1024,
		HistoryCapacity:       8,
		HistorySampleInterval: time.Millisecond,
	})
	defer allocator.Destroy()

	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, allocator.UpdateMemoryHistory(base))

	first := allocator.Allocate(100, "hud")
	require.True(t, allocator.UpdateMemoryHistory(base.Add(time.Second)))

	second := allocator.Allocate(200, "fx")
	require.True(t, allocator.UpdateMemoryHistory(base.Add(2*time.Second)))

	allocator.Free(first)
	allocator.Free(second)
	require.True(t, allocator.UpdateMemoryHistory(base.Add(3*time.Second)))

	require.Equal(t, []int{0, 136, 368, 0}, allocator.UsageHistory())
}

func TestUsageHistoryDropsOldestWhenFull(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{
		MinPoolSize:           1024,
		HistoryCapacity:       3,
		HistorySampleInterval: time.Millisecond,
	})
	defer allocator.Destroy()

	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	var allocs []*heap.Allocation
	for i := 0; i < 5; i++ {
		require.True(t, allocator.UpdateMemoryHistory(base.Add(time.Duration(i)*time.Second)))
		allocs = append(allocs, allocator.Allocate(64, "wave"))
	}

	// Only the three most recent samples survive, oldest first
	require.Equal(t, []int{192, 288, 384}, allocator.UsageHistory())

	for _, alloc := range allocs {
		allocator.Free(alloc)
	}
}
