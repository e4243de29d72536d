package heap

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/meh2481/enginemem/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func (f CreateFlags) String() string {
	if f&AllocatorCreateExternallySynchronized != 0 {
		return "AllocatorCreateExternallySynchronized"
	}

	return "0"
}

const (
	// DefaultMinPoolSize is the capacity in bytes of the first pool when no
	// MinPoolSize is provided via CreateOptions.
	DefaultMinPoolSize int = 4096

	// minimumMinPoolSize is the smallest MinPoolSize the allocator accepts. A
	// pool must be able to hold a block header and one aligned payload.
	minimumMinPoolSize int = 64

	// DefaultHistoryCapacity is the number of usage-history samples retained
	// when no HistoryCapacity is provided via CreateOptions.
	DefaultHistoryCapacity int = 128

	// DefaultHistorySampleInterval is the minimum time between retained
	// usage-history samples when none is provided via CreateOptions.
	DefaultHistorySampleInterval = 100 * time.Millisecond
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// MinPoolSize is the capacity in bytes of the smallest pool the allocator
	// will ever create, and the capacity of the pool created eagerly at
	// construction. It must be a power of two no smaller than 64. When 0,
	// DefaultMinPoolSize is used.
	MinPoolSize int

	// RegionProvider supplies the raw byte regions that back pools. When nil,
	// a GoRegionProvider is used.
	RegionProvider RegionProvider

	// HistoryCapacity is the number of usage samples the allocator retains for
	// UsageHistory. When 0, DefaultHistoryCapacity is used.
	HistoryCapacity int

	// HistorySampleInterval is the minimum time between retained usage
	// samples. Calls to UpdateMemoryHistory arriving sooner than this after
	// the last retained sample are skipped. When 0,
	// DefaultHistorySampleInterval is used.
	HistorySampleInterval time.Duration
}

// New creates a new Allocator. Its first pool is created eagerly, so the
// allocator owns at least one pool for its entire lifetime.
//
// logger - Optional structured logger for allocator trace and leak output.
// When nil, slog.Default() is used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	minPoolSize := options.MinPoolSize
	if minPoolSize == 0 {
		minPoolSize = DefaultMinPoolSize
	}
	err := memutils.CheckPow2(minPoolSize, "options.MinPoolSize")
	if err != nil {
		return nil, err
	}
	if minPoolSize < minimumMinPoolSize {
		return nil, errors.Newf("options.MinPoolSize is %d, but pools smaller than %d bytes cannot hold a block header and an aligned payload", minPoolSize, minimumMinPoolSize)
	}

	provider := options.RegionProvider
	if provider == nil {
		provider = NewGoRegionProvider()
	}

	historyCapacity := options.HistoryCapacity
	if historyCapacity == 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	sampleInterval := options.HistorySampleInterval
	if sampleInterval == 0 {
		sampleInterval = DefaultHistorySampleInterval
	}

	allocator := &Allocator{
		logger:      logger,
		provider:    provider,
		createFlags: options.Flags,
		minPoolSize: minPoolSize,
		history:     newUsageHistory(historyCapacity, sampleInterval),
	}
	allocator.mutex.UseMutex = useMutex

	allocator.createPool(minPoolSize)

	return allocator, nil
}
