package heap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestFreeUntrackedHandleLeavesMemoryUntouched(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	allocator, err := New(logger, CreateOptions{MinPoolSize: 1024})
	require.NoError(t, err)
	defer allocator.Destroy()

	live := allocator.Allocate(64, "live")
	for i := range live.Bytes() {
		live.Bytes()[i] = 0x5A
	}

	// A plausible-looking allocation whose handle the pool never issued must
	// panic without touching the region, even in builds that fill freed
	// payloads
	bogus := &Allocation{
		pool:   live.pool,
		handle: live.handle + 8,
		offset: live.offset + 8,
		size:   16,
		label:  "phantom",
	}
	require.Panics(t, func() {
		allocator.Free(bogus)
	})

	for _, b := range live.Bytes() {
		require.Equal(t, uint8(0x5A), b)
	}
	require.Equal(t, 1, allocator.AllocationCount())
	require.NoError(t, allocator.Validate())

	allocator.Free(live)
}
