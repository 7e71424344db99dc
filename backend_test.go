package gfx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gfx/native/trace"
)

var errInjected = errors.New("injected failure")

// newTestBackend returns a backend on a fresh trace device. The backend is
// closed when the test ends unless the test closed it itself.
func newTestBackend(t *testing.T, opts ...Option) (*Backend, *trace.Device) {
	t.Helper()
	dev := trace.New()
	b, err := New(dev, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		dev.HoldSignals(false)
		_ = b.Close()
	})
	return b, dev
}

func TestNewRejectsNilDevice(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewCreatesHeapsAndQueues(t *testing.T) {
	b, dev := newTestBackend(t)
	assert.Equal(t, 4, dev.Log().Count("CreateDescriptorHeap"))
	assert.Equal(t, 3, dev.Log().Count("CreateQueue"))

	ids := []QueueID{b.GraphicsQueue(), b.TransferQueue(), b.ComputeQueue()}
	for _, id := range ids {
		assert.True(t, id.IsValid())
	}
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, ids[1], ids[2])

	assert.Equal(t, uint32(1024), b.HeapStats(HeapResource).Capacity)
	assert.Equal(t, uint32(256), b.HeapStats(HeapSampler).Capacity)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(trace.New(), WithPoolCapacity(PoolTextures, 0))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewFailedHeapReleasesEverything(t *testing.T) {
	dev := trace.New()
	dev.FailNext("CreateQueue", errInjected)
	_, err := New(dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDevice)
	assert.ErrorIs(t, err, errInjected)
	assert.Zero(t, dev.Live())
}

func TestConcurrentUseIsRejected(t *testing.T) {
	b, _ := newTestBackend(t)

	b.busy.Store(true)
	_, err := b.CreateSemaphore(0)
	assert.ErrorIs(t, err, ErrConcurrentUse)
	b.busy.Store(false)

	id, err := b.CreateSemaphore(0)
	require.NoError(t, err)
	require.NoError(t, b.DestroySemaphore(id))
}

func TestInvalidHandles(t *testing.T) {
	b, _ := newTestBackend(t)

	assert.ErrorIs(t, b.DestroyResource(0), ErrInvalidHandle)
	assert.ErrorIs(t, b.DestroyTexture(TextureID(0xdead)), ErrInvalidHandle)

	id, err := b.CreateSampler(SamplerDesc{Name: "s"})
	require.NoError(t, err)
	require.NoError(t, b.DestroySampler(id))
	assert.ErrorIs(t, b.DestroySampler(id), ErrInvalidHandle, "stale handle")

	again, err := b.CreateSampler(SamplerDesc{Name: "s2"})
	require.NoError(t, err)
	assert.NotEqual(t, id, again, "reused slot must get a new generation")
	_, err = b.SamplerGPUIndex(id)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	require.NoError(t, b.DestroySampler(again))
}

func TestPoolExhaustion(t *testing.T) {
	b, _ := newTestBackend(t, WithPoolCapacity(PoolSamplers, 1))

	id, err := b.CreateSampler(SamplerDesc{})
	require.NoError(t, err)
	_, err = b.CreateSampler(SamplerDesc{})
	require.ErrorIs(t, err, ErrResourceExhausted)

	var ee *ResourceExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "samplers", ee.Resource)
	assert.Equal(t, 1, ee.Capacity)
	require.NoError(t, b.DestroySampler(id))
}

func TestHeapExhaustion(t *testing.T) {
	b, _ := newTestBackend(t, WithHeapSize(HeapSampler, 2))

	var ids []SamplerID
	for range 2 {
		id, err := b.CreateSampler(SamplerDesc{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := b.CreateSampler(SamplerDesc{})
	require.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, 2, b.samplers.Len(), "failed creation must not leave a row")

	for _, id := range ids {
		require.NoError(t, b.DestroySampler(id))
	}
	assert.Zero(t, b.HeapStats(HeapSampler).Live)
}

func TestDeviceErrorLeavesNoRow(t *testing.T) {
	b, dev := newTestBackend(t)

	dev.FailNext("CreateBuffer", errInjected)
	_, err := b.CreateResource(ResourceDesc{Name: "vb", Size: 64, Usage: UsageVertex})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDevice)
	assert.ErrorIs(t, err, errInjected)

	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "create buffer", de.Op)
	assert.Zero(t, b.resources.Len())
}

func TestCloseReportsAndReleasesLeaks(t *testing.T) {
	dev := trace.New()
	b, err := New(dev)
	require.NoError(t, err)

	_, err = b.CreateResource(ResourceDesc{Name: "leak", Size: 256, Usage: UsageConstant, View: ResourceViewCBV})
	require.NoError(t, err)
	_, err = b.CreateTexture(TextureDesc{Name: "leak", Width: 4, Height: 4, Format: rgba8, Usage: TextureSampled})
	require.NoError(t, err)

	err = b.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resources")
	assert.Contains(t, err.Error(), "textures")

	assert.Zero(t, dev.Live(), "every native object must be released")
	assert.Zero(t, dev.DoubleReleases())

	assert.ErrorIs(t, b.Close(), ErrClosed)
	_, err = b.CreateSemaphore(0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWithoutLeaks(t *testing.T) {
	dev := trace.New()
	b, err := New(dev)
	require.NoError(t, err)

	q, err := b.CreateQueue(QueueDesc{Name: "extra", Kind: QueueCompute})
	require.NoError(t, err)
	require.NoError(t, b.DestroyQueue(q))

	require.NoError(t, b.Close())
	assert.Zero(t, dev.Live())
}
