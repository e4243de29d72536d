package heap_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/meh2481/enginemem/heap"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func createTestAllocator(t *testing.T, options heap.CreateOptions) *heap.Allocator {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	allocator, err := heap.New(logger, options)
	require.NoError(t, err)
	return allocator
}

func TestAllocateFromInitialPool(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	allocs := make([]*heap.Allocation, 10)
	for i := 0; i < 10; i++ {
		allocs[i] = allocator.Allocate(64, fmt.Sprintf("subsystem-%d", i))
		require.Equal(t, 64, allocs[i].Size())
	}

	require.Equal(t, 10, allocator.AllocationCount())
	require.Equal(t, 960, allocator.UsedMemory())
	require.NoError(t, allocator.Validate())

	// Every allocation fits into the pool created at construction
	require.Equal(t, 1024, allocator.TotalMemory())
	require.Len(t, allocator.PoolInfo(), 1)

	for _, alloc := range allocs {
		allocator.Free(alloc)
	}
}

func TestAllocateRoundTrip(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	totalBefore := allocator.TotalMemory()
	usedBefore := allocator.UsedMemory()
	countBefore := allocator.AllocationCount()

	alloc := allocator.Allocate(100, "roundtrip")
	require.Equal(t, 104, alloc.Size())
	require.Equal(t, usedBefore+104+32, allocator.UsedMemory())

	allocator.Free(alloc)

	require.Equal(t, totalBefore, allocator.TotalMemory())
	require.Equal(t, usedBefore, allocator.UsedMemory())
	require.Equal(t, countBefore, allocator.AllocationCount())
	require.NoError(t, allocator.Validate())
}

func TestAllocateGrowsNewPool(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	// Larger than the initial pool can hold, so a second pool must be created
	alloc := allocator.Allocate(2000, "bigresource")
	require.NotNil(t, alloc)
	require.NoError(t, allocator.Validate())

	pools := allocator.PoolInfo()
	require.Len(t, pools, 2)
	require.Equal(t, 1024, pools[0].Capacity)
	require.GreaterOrEqual(t, pools[1].Capacity, 2*pools[0].Capacity)
	require.GreaterOrEqual(t, pools[1].Capacity, 2000+32)
	require.Equal(t, 1, pools[1].AllocationCount)

	require.Equal(t, 3072, allocator.TotalMemory())

	allocator.Free(alloc)
}

func TestPoolSizesGrowGeometrically(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	// Each of these overflows every existing pool; capacities must at least
	// double each time even though the requests barely grow
	first := allocator.Allocate(1000, "load-a")
	second := allocator.Allocate(1010, "load-b")
	third := allocator.Allocate(3100, "load-c")

	pools := allocator.PoolInfo()
	require.Len(t, pools, 4)
	for i := 1; i < len(pools); i++ {
		require.GreaterOrEqual(t, pools[i].Capacity, 2*pools[i-1].Capacity)
	}

	allocator.Free(first)
	allocator.Free(second)
	allocator.Free(third)
}

func TestAllocatePanicsOnBadArguments(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	require.Panics(t, func() {
		allocator.Allocate(0, "zero")
	})
	require.Panics(t, func() {
		allocator.Allocate(-16, "negative")
	})
	require.Panics(t, func() {
		allocator.Allocate(64, "")
	})
}

func TestAllocationPayloadsAreStableAndDisjoint(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	first := allocator.Allocate(64, "payload-a")
	for i := range first.Bytes() {
		first.Bytes()[i] = 0xA1
	}

	second := allocator.Allocate(64, "payload-b")
	for i := range second.Bytes() {
		second.Bytes()[i] = 0xB2
	}

	// Writing the second payload must not disturb the first
	for _, b := range first.Bytes() {
		require.Equal(t, uint8(0xA1), b)
	}

	allocator.Free(first)
	allocator.Free(second)
}

func TestNewRejectsBadMinPoolSize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	_, err := heap.New(logger, heap.CreateOptions{MinPoolSize: 1000})
	require.Error(t, err)

	_, err = heap.New(logger, heap.CreateOptions{MinPoolSize: 32})
	require.Error(t, err)
}

func TestExternallySynchronizedAllocator(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{
		MinPoolSize: 1024,
		Flags:       heap.AllocatorCreateExternallySynchronized,
	})
	defer allocator.Destroy()

	alloc := allocator.Allocate(128, "singlethreaded")
	require.Equal(t, 1, allocator.AllocationCount())
	allocator.Free(alloc)
	require.NoError(t, allocator.Validate())
}
