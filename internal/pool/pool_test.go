package pool

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	value    int
	released *int
}

func (r *row) Release() {
	if r.released != nil {
		*r.released++
	}
}

func TestHandleEncoding(t *testing.T) {
	tests := []struct {
		index uint32
		gen   uint16
	}{
		{0, 1},
		{1, 1},
		{MaxCapacity - 1, 7},
		{12345, genMask},
	}
	for _, tt := range tests {
		h := makeHandle(tt.index, tt.gen)
		assert.Equal(t, tt.index, h.Index())
		assert.Equal(t, tt.gen, h.Generation())
		assert.True(t, h.IsValid())
	}
	assert.False(t, Invalid.IsValid())
	assert.Equal(t, "invalid", Invalid.String())
}

func TestAddReusesMostRecentlyFreed(t *testing.T) {
	p := New[row]("test", 8)
	a, _, err := p.Add()
	require.NoError(t, err)
	b, _, err := p.Add()
	require.NoError(t, err)
	c, _, err := p.Add()
	require.NoError(t, err)

	require.NoError(t, p.Remove(a))
	require.NoError(t, p.Remove(c))

	// LIFO: c's slot comes back first, then a's.
	d, _, err := p.Add()
	require.NoError(t, err)
	assert.Equal(t, c.Index(), d.Index())
	e, _, err := p.Add()
	require.NoError(t, err)
	assert.Equal(t, a.Index(), e.Index())

	_, ok := p.Get(b)
	assert.True(t, ok)
}

func TestRemoveZeroesRowAndReleases(t *testing.T) {
	p := New[row]("test", 2)
	released := 0
	h, r, err := p.Add()
	require.NoError(t, err)
	r.value = 42
	r.released = &released

	require.NoError(t, p.Remove(h))
	assert.Equal(t, 1, released)

	h2, r2, err := p.Add()
	require.NoError(t, err)
	assert.Equal(t, h.Index(), h2.Index())
	assert.Zero(t, r2.value)
	assert.Nil(t, r2.released)
}

func TestStaleHandleFailsValidation(t *testing.T) {
	p := New[row]("test", 2)
	h, _, err := p.Add()
	require.NoError(t, err)
	require.NoError(t, p.Remove(h))

	_, ok := p.Get(h)
	assert.False(t, ok)
	assert.True(t, errors.Is(p.Remove(h), ErrStaleHandle))

	// Reusing the slot must not revive the old handle.
	h2, _, err := p.Add()
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	_, ok = p.Get(h)
	assert.False(t, ok)
	_, ok = p.Get(h2)
	assert.True(t, ok)
}

func TestOutOfRangeHandles(t *testing.T) {
	p := New[row]("test", 4)
	assert.True(t, errors.Is(p.Validate(Invalid), ErrOutOfRange))
	assert.True(t, errors.Is(p.Validate(makeHandle(3, 1)), ErrOutOfRange))
}

func TestExhaustion(t *testing.T) {
	p := New[row]("textures", 3)
	for i := 0; i < 3; i++ {
		_, _, err := p.Add()
		require.NoError(t, err)
	}
	_, _, err := p.Add()
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, "textures", ex.Pool)
	assert.Equal(t, 1, ex.Requested)
	assert.Equal(t, 3, ex.Capacity)
}

func TestGenerationWraps(t *testing.T) {
	p := New[row]("test", 1)
	var last Handle
	for i := 0; i < genMask+3; i++ {
		h, _, err := p.Add()
		require.NoError(t, err)
		require.True(t, h.IsValid())
		require.NotEqual(t, last, h)
		last = h
		require.NoError(t, p.Remove(h))
	}
}

func TestVerifyUninit(t *testing.T) {
	p := New[row]("shaders", 4)
	require.NoError(t, p.VerifyUninit())
	a, _, _ := p.Add()
	b, _, _ := p.Add()
	require.Error(t, p.VerifyUninit())
	require.NoError(t, p.Remove(a))
	require.NoError(t, p.Remove(b))
	require.NoError(t, p.VerifyUninit())
}

func TestRandomSequencesRespectCapacity(t *testing.T) {
	const capacity = 64
	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 50; run++ {
		p := New[row]("prop", capacity)
		var live []Handle
		for step := 0; step < 500; step++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				i := rng.Intn(len(live))
				require.NoError(t, p.Remove(live[i]))
				live = append(live[:i], live[i+1:]...)
			} else {
				h, _, err := p.Add()
				if len(live) == capacity {
					require.Error(t, err)
					continue
				}
				require.NoError(t, err)
				live = append(live, h)
			}
			require.LessOrEqual(t, p.Len(), capacity)
			require.Equal(t, len(live), p.Len())
			require.Equal(t, p.HighWater()-p.Len(), p.FreeLen())
		}
		seen := make(map[uint32]bool)
		for _, h := range live {
			require.False(t, seen[h.Index()], "slot issued twice")
			seen[h.Index()] = true
		}
	}
}

func TestEqualAddsAndRemoves(t *testing.T) {
	p := New[row]("prop", 32)
	var hs []Handle
	for i := 0; i < 20; i++ {
		h, _, err := p.Add()
		require.NoError(t, err)
		hs = append(hs, h)
	}
	for _, h := range hs {
		require.NoError(t, p.Remove(h))
	}
	assert.Equal(t, 20, p.FreeLen())
	assert.Zero(t, p.Len())
}
