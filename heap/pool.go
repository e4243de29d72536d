package heap

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/meh2481/enginemem/memutils/metadata"
	"golang.org/x/exp/slog"
)

var poolCache = sync.Pool{
	New: func() any {
		return &memoryPool{}
	},
}

// memoryPool owns one raw byte region and the block list carved out of it.
// Pools are the unit of growth and reclamation: the allocator creates one when
// no existing pool can serve a request and releases it once it holds no
// allocations, as long as it is not the sole remaining pool.
type memoryPool struct {
	id     int
	region []byte
	logger *slog.Logger

	metadata metadata.BlockMetadata
}

func (p *memoryPool) Init(logger *slog.Logger, id int, region []byte) {
	if p.region != nil {
		panic("attempting to initialize a memory pool that is already in use")
	}

	p.id = id
	p.region = region
	p.logger = logger

	if p.metadata == nil {
		p.metadata = metadata.NewListBlockMetadata()
	}
	p.metadata.Init(len(region))
}

func (p *memoryPool) Capacity() int {
	return p.metadata.Size()
}

func (p *memoryPool) Destroy(provider RegionProvider) error {
	if !p.metadata.IsEmpty() {
		// Log all remaining allocations
		err := p.metadata.VisitAllBlocks(func(handle metadata.BlockAllocationHandle, offset int, size int, label string, free bool) error {
			if free {
				return nil
			}

			p.logUnreleasedMemory(offset, size, label)
			return nil
		})
		if err != nil {
			p.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.New("some allocations were not freed before the destruction of this memory pool!")
	}

	if p.region == nil {
		panic("attempting to destroy a memory pool, but it did not have a backing region")
	}

	provider.Free(p.region)
	p.region = nil
	return nil
}

func (p *memoryPool) logUnreleasedMemory(offset, size int, label string) {
	if label == "" {
		label = "empty"
	}

	p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("pool", p.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("label", label),
	)
}

func (p *memoryPool) Validate() error {
	if p.region == nil {
		return errors.New("no valid region for this memory pool")
	}
	if p.metadata.Size() != len(p.region) {
		return errors.Newf("this pool's metadata manages %d bytes, but the backing region holds %d", p.metadata.Size(), len(p.region))
	}

	return p.metadata.Validate()
}
