package heap

// RegionProvider hands out the raw byte regions that back memory pools, and
// takes them back when a pool is released. Implementations do not need to be
// goroutine-safe: the Allocator serializes every call under its own lock.
type RegionProvider interface {
	// Allocate returns a zeroed region of exactly size bytes.
	Allocate(size int) []byte
	// Free releases a region previously returned by Allocate. The Allocator
	// guarantees no live allocation references the region when this is called.
	Free(b []byte)
}

// GoRegionProvider is a RegionProvider backed by the Go runtime's own
// allocator. Released regions are simply handed to the garbage collector.
type GoRegionProvider struct{}

func NewGoRegionProvider() *GoRegionProvider { return &GoRegionProvider{} }

func (p *GoRegionProvider) Allocate(size int) []byte {
	return make([]byte, size)
}

func (p *GoRegionProvider) Free(b []byte) {}
