package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/meh2481/enginemem/heap/internal/utils"
	"github.com/meh2481/enginemem/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Allocator is a pooled, free-list-based heap manager. It owns an ordered list
// of memory pools, places allocations with a first-fit search across them, and
// grows by creating geometrically-larger pools when no existing pool can serve
// a request. Empty pools are released again as allocations drain, except that
// the allocator always retains at least one.
//
// Every public operation acquires a single coarse-grained lock for its entire
// body, so an Allocator may be shared freely between goroutines. The lock is
// not reentrant: callers must not call back into the allocator from code run
// while it holds the lock.
//
// Precondition violations- a zero-size request, an empty label, a double free,
// or an allocation still outstanding at Destroy- are programming errors and
// panic rather than returning an error. Continuing past a corrupted free list
// risks silent heap corruption that is far more expensive to diagnose later.
type Allocator struct {
	logger   *slog.Logger
	provider RegionProvider
	mutex    utils.OptionalMutex

	createFlags CreateFlags
	minPoolSize int

	// pools is ordered by creation time, oldest first; allocation searches
	// always proceed in this order.
	pools           []*memoryPool
	nextPoolId      int
	totalCapacity   int
	allocationCount int

	history usageHistory
}

// Allocate returns an allocation of at least size bytes, recorded under the
// provided diagnostic label. The payload is stable until the allocation is
// freed.
//
// Allocate panics if size is not positive or label is empty.
func (a *Allocator) Allocate(size int, label string) *Allocation {
	if size <= 0 {
		panic(fmt.Sprintf("attempted to allocate %d bytes- allocation sizes must be positive", size))
	}
	if label == "" {
		panic("attempted to allocate without a label- every allocation must carry one for diagnostics")
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Allocate", slog.Int("Size", size), slog.String("Label", label))

	for _, pool := range a.pools {
		alloc := a.allocateFromPool(pool, size, label)
		if alloc != nil {
			return alloc
		}
	}

	pool := a.createPool(a.nextPoolSize(size))
	alloc := a.allocateFromPool(pool, size, label)
	if alloc == nil {
		panic(fmt.Sprintf("a pool of %d bytes was created for a %d-byte request but could not serve it- the pool sizing policy is broken", pool.Capacity(), size))
	}

	return alloc
}

// Free returns an allocation to its pool, merging it with any adjacent free
// blocks. A nil allocation is a no-op. Freeing anything else that is not a
// live allocation from this allocator- including an allocation freed once
// already- panics.
func (a *Allocator) Free(alloc *Allocation) {
	if alloc == nil {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Free", slog.String("Label", alloc.label))

	pool := alloc.pool
	if pool == nil {
		panic(fmt.Sprintf("attempted to free an allocation labeled %q twice", alloc.label))
	}

	err := pool.metadata.Free(alloc.handle)
	if err != nil {
		panic(fmt.Sprintf("attempted to free memory the allocator is not tracking: %+v", err))
	}

	// Fill only after the handle is confirmed live
	a.fillAllocation(alloc, allocFillPatternDestroyed)
	alloc.pool = nil
	a.allocationCount--
	a.reclaimEmptyPools()
}

// Defragment runs a full coalesce pass over every pool, not just the pool
// touched by the most recent free, then releases any pools left empty. It
// returns the number of merge operations performed. Useful after bursts of
// frees when the caller wants to proactively shrink memory.
func (a *Allocator) Defragment() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Defragment")

	var merges int
	for _, pool := range a.pools {
		merges += pool.metadata.Coalesce()
	}

	a.reclaimEmptyPools()
	return merges
}

// Destroy tears the allocator down, releasing every pool region. Every
// allocation must have been freed first: each outstanding allocation is
// individually reported through the logger with its label, and then Destroy
// panics.
func (a *Allocator) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Destroy")

	var leaked bool
	for _, pool := range a.pools {
		err := pool.Destroy(a.provider)
		if err != nil {
			leaked = true
			continue
		}
		poolCache.Put(pool)
	}

	if leaked {
		panic(fmt.Sprintf("the allocator was destroyed with %d allocations outstanding", a.allocationCount))
	}

	a.pools = nil
	a.totalCapacity = 0
}

// Validate performs internal consistency checks on the allocator and every
// pool it owns. When the allocator is functioning correctly, it should not be
// possible for this method to return an error.
func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(a.pools) == 0 {
		return errors.New("the allocator must always own at least one pool")
	}

	var capacity, allocCount int
	for _, pool := range a.pools {
		err := pool.Validate()
		if err != nil {
			return err
		}
		capacity += pool.Capacity()
		allocCount += pool.metadata.AllocationCount()
	}

	if capacity != a.totalCapacity {
		return errors.Newf("the allocator's pools hold %d bytes, but the allocator accounts for %d", capacity, a.totalCapacity)
	}
	if allocCount != a.allocationCount {
		return errors.Newf("the allocator's pools hold %d allocations, but the allocator accounts for %d", allocCount, a.allocationCount)
	}

	return nil
}

func (a *Allocator) allocateFromPool(pool *memoryPool, size int, label string) *Allocation {
	success, request, err := pool.metadata.CreateAllocationRequest(size, metadata.PayloadAlignment)
	if err != nil {
		panic(fmt.Sprintf("failed to build an allocation request: %+v", err))
	}
	if !success {
		return nil
	}

	committedSize, err := pool.metadata.Alloc(request, label)
	if err != nil {
		panic(fmt.Sprintf("failed to commit an allocation request: %+v", err))
	}

	a.allocationCount++

	alloc := &Allocation{
		pool:   pool,
		handle: request.BlockAllocationHandle,
		offset: int(request.BlockAllocationHandle) - 1,
		size:   committedSize,
		label:  label,
	}
	a.fillAllocation(alloc, allocFillPatternCreated)
	return alloc
}

// nextPoolSize chooses the capacity for a pool created to serve a request no
// existing pool could. Starting from the minimum pool size, the capacity
// doubles until it can hold the request plus a header; it is then forced to at
// least twice the newest pool's capacity, so pool sizes grow geometrically
// over the allocator's lifetime regardless of individual request sizes.
func (a *Allocator) nextPoolSize(requestedSize int) int {
	poolSize := a.minPoolSize
	for poolSize < metadata.HeaderSize+requestedSize {
		poolSize *= 2
	}

	if len(a.pools) > 0 {
		newest := a.pools[len(a.pools)-1]
		if poolSize < newest.Capacity()*2 {
			poolSize = newest.Capacity() * 2
		}
	}

	return poolSize
}

func (a *Allocator) createPool(poolSize int) *memoryPool {
	a.logger.Debug("Allocator::createPool", slog.Int("PoolSize", poolSize))

	pool := poolCache.Get().(*memoryPool)
	pool.Init(a.logger, a.nextPoolId, a.provider.Allocate(poolSize))
	a.nextPoolId++

	a.pools = append(a.pools, pool)
	a.totalCapacity += poolSize
	return pool
}

// reclaimEmptyPools releases every pool with no live allocations, except that
// the allocator never drops below one pool even when fully idle.
func (a *Allocator) reclaimEmptyPools() {
	for i := 0; i < len(a.pools); {
		pool := a.pools[i]
		if !pool.metadata.IsEmpty() || len(a.pools) == 1 {
			i++
			continue
		}

		a.totalCapacity -= pool.Capacity()
		err := pool.Destroy(a.provider)
		if err != nil {
			panic(fmt.Sprintf("failed to destroy an empty pool: %+v", err))
		}
		poolCache.Put(pool)
		a.pools = append(a.pools[:i], a.pools[i+1:]...)
	}
}
