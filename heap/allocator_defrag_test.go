package heap_test

import (
	"sync"
	"testing"

	"github.com/meh2481/enginemem/heap"
	"github.com/stretchr/testify/require"
)

func TestDefragmentOnCoalescedPoolsIsANoOp(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	first := allocator.Allocate(64, "a")
	second := allocator.Allocate(64, "b")
	third := allocator.Allocate(64, "c")

	allocator.Free(first)
	allocator.Free(third)

	// Free already merged everything it could, so there is nothing left for
	// an explicit pass to do
	require.Equal(t, 0, allocator.Defragment())
	require.NoError(t, allocator.Validate())

	allocator.Free(second)
	require.Equal(t, 0, allocator.Defragment())
}

func TestDefragmentRetainsSolePool(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	allocator.Defragment()
	require.Len(t, allocator.PoolInfo(), 1)
	require.Equal(t, 1024, allocator.TotalMemory())
}

func TestConcurrentAllocateAndFree(t *testing.T) {
	allocator := createTestAllocator(t, heap.CreateOptions{MinPoolSize: 1024})
	defer allocator.Destroy()

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			for i := 0; i < 100; i++ {
				size := 16 + 8*(i%32)
				alloc := allocator.Allocate(size, "worker")
				allocator.Free(alloc)
			}
		}(worker)
	}
	wg.Wait()

	require.Equal(t, 0, allocator.AllocationCount())
	require.Equal(t, 0, allocator.UsedMemory())
	require.NoError(t, allocator.Validate())
}
