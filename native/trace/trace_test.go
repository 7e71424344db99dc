package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gfx/native"
)

func TestDescriptorCopy(t *testing.T) {
	d := New()
	src, err := d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "src", Kind: native.HeapSampler, Capacity: 4})
	require.NoError(t, err)
	dst, err := d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "dst", Kind: native.HeapSampler, Capacity: 4, ShaderVisible: true})
	require.NoError(t, err)
	assert.Zero(t, src.GPUStart())
	assert.NotZero(t, dst.GPUStart())

	size := native.CPUHandle(src.DescriptorSize())
	view := &native.ViewDesc{Kind: native.ViewSampler, Sampler: &native.SamplerDesc{}}
	require.NoError(t, d.CreateView(view, src.CPUStart()+size))

	require.NoError(t, d.CopyDescriptors(native.HeapSampler, []native.DescriptorCopy{
		{Dst: dst.CPUStart() + 3*size, Src: src.CPUStart() + size, Count: 1},
	}))
	got, ok := d.Descriptor(dst.CPUStart() + 3*size)
	require.True(t, ok)
	assert.Equal(t, native.ViewSampler, got.Kind)
	assert.Equal(t, 1, d.Log().Count("CopyDescriptors"))

	assert.Error(t, d.CreateView(&native.ViewDesc{Kind: native.ViewRenderTarget}, src.CPUStart()))
}

func TestHeldSignalsBlockWaits(t *testing.T) {
	d := New()
	q, err := d.CreateQueue(native.QueueGraphics)
	require.NoError(t, err)
	f, err := d.CreateFence(0)
	require.NoError(t, err)

	d.HoldSignals(true)
	require.NoError(t, q.Signal(f, 5))
	ok, err := d.WaitFence(f, 5, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	go func() {
		time.Sleep(5 * time.Millisecond)
		d.Flush()
	}()
	ok, err = d.WaitFence(f, 5, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), f.CompletedValue())
}

func TestReleaseCounting(t *testing.T) {
	d := New()
	b, err := d.CreateBuffer(&native.BufferDesc{Label: "vb", Size: 64})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Live())
	b.Release()
	b.Release()
	assert.Equal(t, 0, d.Live())
	assert.Equal(t, 1, d.DoubleReleases())
}

func TestCommandListLifecycle(t *testing.T) {
	d := New()
	alloc, err := d.CreateCommandAllocator(native.QueueGraphics)
	require.NoError(t, err)
	l, err := d.CreateCommandList(native.QueueGraphics, alloc)
	require.NoError(t, err)
	q, err := d.CreateQueue(native.QueueGraphics)
	require.NoError(t, err)

	assert.Error(t, l.Close())
	require.NoError(t, l.Reset(alloc))
	l.Draw(3, 1, 0, 0)
	assert.Error(t, q.Submit([]native.CommandList{l}))
	require.NoError(t, l.Close())
	require.NoError(t, q.Submit([]native.CommandList{l}))

	assert.Equal(t, []string{"CreateCommandAllocator", "CreateCommandList", "CreateQueue", "Reset", "Draw", "Close", "Submit"}, d.Log().Ops())
}
