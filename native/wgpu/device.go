// Package wgpu implements the native device contract on top of a wgpu HAL
// device.
//
// The HAL exposes WebGPU objects rather than descriptor heaps, so the
// device emulates them: descriptor heaps are host-side slot arrays, a root
// signature becomes a pipeline layout with one bind group per register
// space, and bind groups are assembled from the bound tables when a draw
// or dispatch is recorded. Root constants are written into a per-allocator
// uniform ring. Fences are host objects advanced as the HAL queue reports
// completed submissions.
//
// All native queues share the single HAL queue, which executes
// submissions in order.
package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

// descriptorHeapLimit caps emulated heaps.
const descriptorHeapLimit = 1 << 20

// maxRootParameters bounds root signatures. Each parameter becomes at least
// one binding, so this stays well below MaxBindingsPerBindGroup.
const maxRootParameters = 64

// Option configures a Device.
type Option func(*Device)

// WithSurface presents swapchains to s. Without a surface, swapchain back
// buffers are offscreen textures.
func WithSurface(s hal.Surface) Option {
	return func(d *Device) { d.surface = s }
}

// WithLimits overrides the limits reported by the device.
func WithLimits(l gputypes.Limits) Option {
	return func(d *Device) { d.limits = l }
}

// WithName sets the name reported by Device.Name.
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// Device implements native.Device on a HAL device and queue.
type Device struct {
	hal     hal.Device
	queue   hal.Queue
	surface hal.Surface
	limits  gputypes.Limits
	name    string
	format  gputypes.TextureFormat
	// owned devices are destroyed by Release.
	owned bool

	mu      sync.Mutex
	heaps   map[uint32]*DescriptorHeap
	heapSeq uint32
	// submitted is the HAL index of the latest submission.
	submitted uint64
	pending   []pendingSignal
}

type pendingSignal struct {
	fence      *Fence
	value      uint64
	submission uint64
}

var _ native.Device = (*Device)(nil)

// New wraps dev and queue. The caller keeps ownership of both.
func New(dev hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, errors.New("wgpu: nil HAL device or queue")
	}
	d := &Device{
		hal:    dev,
		queue:  queue,
		limits: gputypes.DefaultLimits(),
		name:   "wgpu",
		heaps:  make(map[uint32]*DescriptorHeap),
	}
	for _, opt := range opts {
		opt(d)
	}
	hal.Logger().Debug("wgpu: native device created", "name", d.name)
	return d, nil
}

// NewFromProvider wraps the HAL device shared by a gpucontext provider. The
// provider must expose HalDevice() and HalQueue() returning hal.Device and
// hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider %T does not expose HAL types", provider)
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, errors.New("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.New("wgpu: provider HalQueue is not hal.Queue")
	}
	d, err := New(dev, queue, opts...)
	if err != nil {
		return nil, err
	}
	d.format = provider.SurfaceFormat()
	if info := provider.AdapterInfo(); info.Name != "" {
		d.name = "wgpu " + info.Name
	}
	return d, nil
}

// Open creates a device on the first adapter of a HAL backend. The device
// is destroyed by Release.
func Open(backend hal.Backend, opts ...Option) (*Device, error) {
	inst, err := backend.CreateInstance(&hal.InstanceDescriptor{Backends: gputypes.BackendsPrimary})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		inst.Destroy()
		return nil, fmt.Errorf("wgpu: %w: no adapter", native.ErrUnsupported)
	}
	ad := adapters[0]
	open, err := ad.Adapter.Open(0, ad.Capabilities.Limits)
	if err != nil {
		inst.Destroy()
		return nil, fmt.Errorf("wgpu: open adapter %q: %w", ad.Info.Name, err)
	}
	opts = append([]Option{WithLimits(ad.Capabilities.Limits), WithName("wgpu " + ad.Info.Name)}, opts...)
	d, err := New(open.Device, open.Queue, opts...)
	if err != nil {
		open.Device.Destroy()
		inst.Destroy()
		return nil, err
	}
	d.owned = true
	return d, nil
}

// HAL returns the wrapped HAL device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) { return d.hal, d.queue }

// SurfaceFormat is the preferred swapchain format, or undefined when the
// device was not created from a provider.
func (d *Device) SurfaceFormat() gputypes.TextureFormat { return d.format }

func (d *Device) Name() string { return d.name }

// SetLogger routes HAL log output to l. gfx calls it with the backend
// logger.
func (d *Device) SetLogger(l *slog.Logger) { hal.SetLogger(l) }

func (d *Device) Limits() native.Limits {
	align := d.limits.MinUniformBufferOffsetAlignment
	if align == 0 {
		align = 256
	}
	return native.Limits{
		MaxRootParameters:       maxRootParameters,
		MaxTextureDimension2D:   d.limits.MaxTextureDimension2D,
		ConstantBufferAlignment: align,
		MaxDescriptorHeapSize:   descriptorHeapLimit,
	}
}

// Release waits for the queue to drain. Devices opened with Open are
// destroyed.
func (d *Device) Release() {
	if err := d.hal.WaitIdle(); err != nil {
		hal.Logger().Warn("wgpu: wait idle on release", "err", err)
	}
	d.poll()
	if d.owned {
		d.hal.Destroy()
	}
}

// submit hands cmds to the HAL queue and records the submission index.
func (d *Device) submit(cmds []hal.CommandBuffer) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, err := d.queue.Submit(cmds)
	if err != nil {
		return 0, err
	}
	d.submitted = max(d.submitted, idx)
	return idx, nil
}

// signal sets f to value once every submission so far has completed.
func (d *Device) signal(f *Fence, value uint64) {
	d.mu.Lock()
	sub := d.submitted
	if sub > d.queue.PollCompleted() {
		d.pending = append(d.pending, pendingSignal{fence: f, value: value, submission: sub})
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	f.advance(value)
}

// poll applies the signals whose submissions have completed.
func (d *Device) poll() {
	d.mu.Lock()
	done := d.queue.PollCompleted()
	var ready []pendingSignal
	kept := d.pending[:0]
	for _, p := range d.pending {
		if p.submission <= done {
			ready = append(ready, p)
		} else {
			kept = append(kept, p)
		}
	}
	d.pending = kept
	d.mu.Unlock()
	for _, p := range ready {
		p.fence.advance(p.value)
	}
}

// pollInterval bounds the sleep between completion polls in WaitFence.
const pollInterval = 2 * time.Millisecond

func (d *Device) WaitFence(fence native.Fence, value uint64, timeout time.Duration) (bool, error) {
	f, ok := fence.(*Fence)
	if !ok {
		return false, fmt.Errorf("wgpu: foreign fence %T", fence)
	}
	deadline := time.Now().Add(timeout)
	for {
		d.poll()
		if f.CompletedValue() >= value {
			return true, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false, nil
		}
		time.Sleep(min(left, pollInterval))
	}
}

// heap resolves the heap a descriptor handle points into.
func (d *Device) heap(h uint64) (*DescriptorHeap, uint32, error) {
	id, idx := uint32(h>>32), uint32(h)
	d.mu.Lock()
	hp := d.heaps[id]
	d.mu.Unlock()
	if hp == nil {
		return nil, 0, fmt.Errorf("wgpu: descriptor handle %#x names no heap", h)
	}
	if idx >= uint32(len(hp.slots)) {
		return nil, 0, fmt.Errorf("wgpu: descriptor %d outside heap %q of %d", idx, hp.desc.Label, len(hp.slots))
	}
	return hp, idx, nil
}
