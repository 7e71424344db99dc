package descheap

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHeap(capacity uint32, coalesce bool) *Heap {
	return New(Config{
		Kind:           KindResource,
		Capacity:       capacity,
		DescriptorSize: 32,
		CPUBase:        0x1000,
		GPUBase:        0x8000_0000,
		Coalesce:       coalesce,
	})
}

func TestAllocateBumps(t *testing.T) {
	h := newHeap(16, true)
	a, err := h.Allocate(4)
	require.NoError(t, err)
	b, err := h.Allocate(2)
	require.NoError(t, err)

	assert.Equal(t, uint32(0), a.Index)
	assert.Equal(t, uint32(4), b.Index)
	assert.Equal(t, uint64(0x1000+4*32), b.CPU)
	assert.Equal(t, uint64(0x8000_0000+4*32), b.GPU)
	assert.Equal(t, uint32(6), h.CurrentIndex())
}

func TestCPUOnlyHeapHasNoGPUAddress(t *testing.T) {
	h := New(Config{Kind: KindRTV, Capacity: 8, DescriptorSize: 32, CPUBase: 0x40})
	a, err := h.Allocate(1)
	require.NoError(t, err)
	assert.Zero(t, a.GPU)
	assert.False(t, KindRTV.ShaderVisible())
	assert.True(t, KindSampler.ShaderVisible())
}

func TestAllocateZero(t *testing.T) {
	h := newHeap(4, true)
	_, err := h.Allocate(0)
	assert.ErrorIs(t, err, ErrZeroCount)
}

func TestFirstFitCarvesFront(t *testing.T) {
	h := newHeap(32, true)
	a, _ := h.Allocate(8)
	_, _ = h.Allocate(1) // keeps a from merging into the bump region

	require.NoError(t, h.Free(a))
	c, err := h.Allocate(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), c.Index)
	assert.Equal(t, []Block{{Start: 3, Count: 5}}, h.Blocks())
}

func TestFreeAtEndLowersCurrentIndex(t *testing.T) {
	h := newHeap(32, true)
	a, _ := h.Allocate(4)
	b, _ := h.Allocate(4)
	c, _ := h.Allocate(4)

	require.NoError(t, h.Free(c))
	assert.Equal(t, uint32(8), h.CurrentIndex())
	assert.Empty(t, h.Blocks())

	// a is isolated until b goes; then both fold back into the bump region.
	require.NoError(t, h.Free(a))
	assert.Equal(t, []Block{{Start: 0, Count: 4}}, h.Blocks())
	require.NoError(t, h.Free(b))
	assert.Equal(t, uint32(0), h.CurrentIndex())
	assert.Empty(t, h.Blocks())
}

func TestAdjacentBlocksMerge(t *testing.T) {
	h := newHeap(32, true)
	a, _ := h.Allocate(2)
	b, _ := h.Allocate(2)
	c, _ := h.Allocate(2)
	_, _ = h.Allocate(2)

	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(c))
	assert.Len(t, h.Blocks(), 2)
	require.NoError(t, h.Free(b))
	assert.Equal(t, []Block{{Start: 0, Count: 6}}, h.Blocks())
}

func TestNoCoalesceKeepsBlocks(t *testing.T) {
	h := newHeap(32, false)
	a, _ := h.Allocate(2)
	b, _ := h.Allocate(2)
	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(b))
	assert.Len(t, h.Blocks(), 2)
	assert.Equal(t, uint32(4), h.CurrentIndex())

	// A 4-wide request cannot use two separate 2-wide blocks.
	c, err := h.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), c.Index)
}

func TestInvalidFree(t *testing.T) {
	h := newHeap(8, true)
	a, _ := h.Allocate(2)
	_, _ = h.Allocate(2)
	require.NoError(t, h.Free(a))

	err := h.Free(a)
	assert.True(t, errors.Is(err, ErrInvalidFree))
	err = h.Free(Handle{Index: 6, Count: 2})
	assert.True(t, errors.Is(err, ErrInvalidFree))
	assert.ErrorIs(t, h.Free(Handle{}), ErrInvalidFree)
}

func TestExhausted(t *testing.T) {
	h := newHeap(4, true)
	_, err := h.Allocate(3)
	require.NoError(t, err)
	_, err = h.Allocate(2)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, uint32(2), ex.Requested)
	assert.Equal(t, uint32(4), ex.Capacity)
}

func TestAlternatingCyclesStayCompact(t *testing.T) {
	h := newHeap(64, true)
	for i := 0; i < 1000; i++ {
		a, err := h.Allocate(5)
		require.NoError(t, err)
		b, err := h.Allocate(3)
		require.NoError(t, err)
		require.NoError(t, h.Free(a))
		require.NoError(t, h.Free(b))
	}
	assert.Equal(t, uint32(0), h.CurrentIndex())
	assert.Empty(t, h.Blocks())
}

// Live and free blocks never overlap and together cover [0, current).
func TestRandomSequencesCoverRange(t *testing.T) {
	for _, coalesce := range []bool{true, false} {
		rng := rand.New(rand.NewSource(7))
		h := newHeap(256, coalesce)
		var live []Handle
		for step := 0; step < 2000; step++ {
			if len(live) > 0 && rng.Intn(2) == 0 {
				i := rng.Intn(len(live))
				require.NoError(t, h.Free(live[i]))
				live = append(live[:i], live[i+1:]...)
			} else {
				a, err := h.Allocate(uint32(1 + rng.Intn(8)))
				if err != nil {
					var ex *ExhaustedError
					require.ErrorAs(t, err, &ex)
					continue
				}
				live = append(live, a)
			}

			var ranges []Block
			var liveCount uint32
			for _, l := range live {
				ranges = append(ranges, Block{Start: l.Index, Count: l.Count})
				liveCount += l.Count
			}
			ranges = append(ranges, h.Blocks()...)
			sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

			var next uint32
			for _, r := range ranges {
				require.Equal(t, next, r.Start, "gap or overlap at %d (coalesce=%v)", next, coalesce)
				next = r.end()
			}
			require.Equal(t, h.CurrentIndex(), next)
			require.Equal(t, liveCount, h.Live())
			require.Equal(t, h.CurrentIndex(), h.Live()+h.FreeCount())
		}
	}
}

func TestOffset(t *testing.T) {
	h := newHeap(16, true)
	a, _ := h.Allocate(4)
	s := a.Offset(2, 32)
	assert.Equal(t, a.CPU+64, s.CPU)
	assert.Equal(t, a.GPU+64, s.GPU)
	assert.Equal(t, uint32(2), s.Index)
	assert.Equal(t, uint32(1), s.Count)
}
