// Package trace implements native.Device without a GPU.
//
// Every native call is appended to a Log so tests can assert exactly
// which commands a higher layer issued, in which order and how many
// times. Descriptor heaps store the ViewDesc written into each slot, and
// fences complete as soon as a queue signals them unless signals are
// held, which lets tests exercise blocking waits deterministically.
package trace

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gfx/native"
)

// Call is one recorded native call.
type Call struct {
	Op     string
	Target string
	Args   []any
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s)%v", c.Op, c.Target, c.Args)
}

// Log is an append-only list of calls. It is safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	calls []Call
}

func (l *Log) record(op, target string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, Call{Op: op, Target: target, Args: args})
	l.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (l *Log) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// Filter returns the calls named op.
func (l *Log) Filter(op string) []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Call
	for _, c := range l.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls named op were recorded.
func (l *Log) Count(op string) int { return len(l.Filter(op)) }

// Ops returns the names of every recorded call in order.
func (l *Log) Ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	for i, c := range l.calls {
		out[i] = c.Op
	}
	return out
}

// Reset drops every recorded call.
func (l *Log) Reset() {
	l.mu.Lock()
	l.calls = l.calls[:0]
	l.mu.Unlock()
}

const gpuBit = uint64(1) << 63

var descriptorSizes = [...]uint32{
	native.HeapResource: 32,
	native.HeapSampler:  16,
	native.HeapRTV:      32,
	native.HeapDSV:      32,
}

// Device is a recording native.Device.
type Device struct {
	log Log

	mu       sync.Mutex
	heaps    map[uint64]*Heap
	nextHeap uint64
	fail     map[string]error
	hold     bool
	pending  []pendingSignal

	live           atomic.Int64
	doubleReleases atomic.Int64
}

type pendingSignal struct {
	fence *Fence
	value uint64
}

var _ native.Device = (*Device)(nil)

// New returns an empty trace device.
func New() *Device {
	return &Device{heaps: make(map[uint64]*Heap)}
}

// Log returns the call log.
func (d *Device) Log() *Log { return &d.log }

// Live returns the number of created objects not yet released.
func (d *Device) Live() int { return int(d.live.Load()) }

// DoubleReleases returns how many objects were released more than once.
func (d *Device) DoubleReleases() int { return int(d.doubleReleases.Load()) }

// FailNext makes the next call named op return err.
func (d *Device) FailNext(op string, err error) {
	d.mu.Lock()
	if d.fail == nil {
		d.fail = make(map[string]error)
	}
	d.fail[op] = err
	d.mu.Unlock()
}

func (d *Device) injected(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.fail[op]
	delete(d.fail, op)
	return err
}

// HoldSignals defers queue signals until Flush when hold is true.
func (d *Device) HoldSignals(hold bool) {
	d.mu.Lock()
	d.hold = hold
	d.mu.Unlock()
	if !hold {
		d.Flush()
	}
}

// Flush applies every held signal, as if the GPU caught up.
func (d *Device) Flush() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, p := range pending {
		p.fence.set(p.value)
	}
}

func (d *Device) signal(f *Fence, value uint64) {
	d.mu.Lock()
	if d.hold {
		d.pending = append(d.pending, pendingSignal{fence: f, value: value})
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	f.set(value)
}

// Descriptor returns the view last written at h.
func (d *Device) Descriptor(h native.CPUHandle) (*native.ViewDesc, bool) {
	heap, slot, ok := d.resolve(uint64(h))
	if !ok {
		return nil, false
	}
	heap.mu.Lock()
	defer heap.mu.Unlock()
	v := heap.slots[slot]
	return v, v != nil
}

func (d *Device) resolve(addr uint64) (*Heap, uint32, bool) {
	serial := (addr &^ gpuBit) >> 32
	d.mu.Lock()
	heap := d.heaps[serial]
	d.mu.Unlock()
	if heap == nil || heap.released.Load() {
		return nil, 0, false
	}
	slot := uint32(addr&0xffffffff) / heap.size
	if slot >= heap.desc.Capacity {
		return nil, 0, false
	}
	return heap, slot, true
}

// Name implements native.Device.
func (d *Device) Name() string { return "trace" }

// Limits implements native.Device.
func (d *Device) Limits() native.Limits {
	return native.Limits{
		MaxRootParameters:       64,
		MaxTextureDimension2D:   16384,
		ConstantBufferAlignment: 256,
		MaxDescriptorHeapSize:   1 << 20,
	}
}

// Release implements native.Object.
func (d *Device) Release() { d.log.record("ReleaseDevice", "device") }

type object struct {
	dev      *Device
	label    string
	released atomic.Bool
}

func (d *Device) newObject(label string) object {
	d.live.Add(1)
	return object{dev: d, label: label}
}

func (o *object) Label() string { return o.label }

func (o *object) Release() {
	if !o.released.CompareAndSwap(false, true) {
		o.dev.doubleReleases.Add(1)
		return
	}
	o.dev.live.Add(-1)
	o.dev.log.record("Release", o.label)
}

// Released reports whether Release was called.
func (o *object) Released() bool { return o.released.Load() }

// Buffer is a trace buffer.
type Buffer struct {
	object
	desc   native.BufferDesc
	data   []byte
	mapped bool
}

// CreateBuffer implements native.Device.
func (d *Device) CreateBuffer(desc *native.BufferDesc) (native.Buffer, error) {
	if err := d.injected("CreateBuffer"); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("trace: buffer %q has zero size", desc.Label)
	}
	d.log.record("CreateBuffer", desc.Label, desc.Size, desc.Memory)
	return &Buffer{object: d.newObject(desc.Label), desc: *desc}, nil
}

func (b *Buffer) Size() uint64 { return b.desc.Size }

// Desc returns the creation descriptor.
func (b *Buffer) Desc() native.BufferDesc { return b.desc }

func (b *Buffer) Map() ([]byte, error) {
	if b.desc.Memory == native.MemoryDefault {
		return nil, fmt.Errorf("trace: buffer %q is not host visible", b.label)
	}
	if b.data == nil {
		b.data = make([]byte, b.desc.Size)
	}
	b.mapped = true
	b.dev.log.record("Map", b.label)
	return b.data, nil
}

func (b *Buffer) Unmap() {
	b.mapped = false
	b.dev.log.record("Unmap", b.label)
}

// Mapped reports whether the buffer is currently mapped.
func (b *Buffer) Mapped() bool { return b.mapped }

// Texture is a trace texture.
type Texture struct {
	object
	desc   native.TextureDesc
	shared uintptr
}

var sharedHandles atomic.Uintptr

// CreateTexture implements native.Device.
func (d *Device) CreateTexture(desc *native.TextureDesc) (native.Texture, error) {
	if err := d.injected("CreateTexture"); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("trace: texture %q has zero extent", desc.Label)
	}
	d.log.record("CreateTexture", desc.Label, desc.Width, desc.Height, desc.Format)
	t := &Texture{object: d.newObject(desc.Label), desc: *desc}
	if desc.Shared {
		t.shared = 0x1000 + sharedHandles.Add(1)
	}
	return t, nil
}

func (t *Texture) Desc() native.TextureDesc { return t.desc }
func (t *Texture) SharedHandle() uintptr    { return t.shared }

// Heap is a trace descriptor heap.
type Heap struct {
	object
	desc   native.DescriptorHeapDesc
	serial uint64
	size   uint32

	mu    sync.Mutex
	slots []*native.ViewDesc
}

// CreateDescriptorHeap implements native.Device.
func (d *Device) CreateDescriptorHeap(desc *native.DescriptorHeapDesc) (native.DescriptorHeap, error) {
	if err := d.injected("CreateDescriptorHeap"); err != nil {
		return nil, err
	}
	if desc.Capacity == 0 {
		return nil, fmt.Errorf("trace: heap %q has zero capacity", desc.Label)
	}
	d.mu.Lock()
	d.nextHeap++
	h := &Heap{
		object: d.newObject(desc.Label),
		desc:   *desc,
		serial: d.nextHeap,
		size:   descriptorSizes[desc.Kind],
		slots:  make([]*native.ViewDesc, desc.Capacity),
	}
	d.heaps[h.serial] = h
	d.mu.Unlock()
	d.log.record("CreateDescriptorHeap", desc.Label, desc.Kind, desc.Capacity, desc.ShaderVisible)
	return h, nil
}

func (h *Heap) Desc() native.DescriptorHeapDesc { return h.desc }
func (h *Heap) CPUStart() native.CPUHandle      { return native.CPUHandle(h.serial << 32) }
func (h *Heap) DescriptorSize() uint32          { return h.size }

func (h *Heap) GPUStart() native.GPUHandle {
	if !h.desc.ShaderVisible {
		return 0
	}
	return native.GPUHandle(gpuBit | h.serial<<32)
}

// Slot returns the view stored at index i, or nil.
func (h *Heap) Slot(i uint32) *native.ViewDesc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[i]
}

// CreateView implements native.Device.
func (d *Device) CreateView(view *native.ViewDesc, dst native.CPUHandle) error {
	if err := d.injected("CreateView"); err != nil {
		return err
	}
	heap, slot, ok := d.resolve(uint64(dst))
	if !ok {
		return fmt.Errorf("trace: CreateView: bad handle %#x", uint64(dst))
	}
	if view.Kind.Heap() != heap.desc.Kind {
		return fmt.Errorf("trace: CreateView: %s view in %v heap", view.Kind, heap.desc.Kind)
	}
	v := *view
	heap.mu.Lock()
	heap.slots[slot] = &v
	heap.mu.Unlock()
	d.log.record("CreateView", heap.label, view.Kind, slot)
	return nil
}

// CopyDescriptors implements native.Device.
func (d *Device) CopyDescriptors(kind native.HeapKind, copies []native.DescriptorCopy) error {
	if err := d.injected("CopyDescriptors"); err != nil {
		return err
	}
	for _, c := range copies {
		for i := uint32(0); i < c.Count; i++ {
			src, ss, ok := d.resolve(uint64(c.Src))
			if !ok {
				return fmt.Errorf("trace: CopyDescriptors: bad source %#x", uint64(c.Src))
			}
			dst, ds, ok := d.resolve(uint64(c.Dst))
			if !ok {
				return fmt.Errorf("trace: CopyDescriptors: bad destination %#x", uint64(c.Dst))
			}
			if src.desc.Kind != kind || dst.desc.Kind != kind {
				return fmt.Errorf("trace: CopyDescriptors: heap kind mismatch")
			}
			src.mu.Lock()
			v := src.slots[ss+i]
			src.mu.Unlock()
			dst.mu.Lock()
			dst.slots[ds+i] = v
			dst.mu.Unlock()
		}
	}
	d.log.record("CopyDescriptors", "device", kind, len(copies))
	return nil
}

// RootSignature is a trace root signature.
type RootSignature struct {
	object
	desc native.RootSignatureDesc
}

// CreateRootSignature implements native.Device.
func (d *Device) CreateRootSignature(desc *native.RootSignatureDesc) (native.RootSignature, error) {
	if err := d.injected("CreateRootSignature"); err != nil {
		return nil, err
	}
	if uint32(len(desc.Params)) > d.Limits().MaxRootParameters {
		return nil, fmt.Errorf("trace: root signature %q has %d parameters", desc.Label, len(desc.Params))
	}
	d.log.record("CreateRootSignature", desc.Label, len(desc.Params), len(desc.StaticSamplers))
	return &RootSignature{object: d.newObject(desc.Label), desc: *desc}, nil
}

func (r *RootSignature) Desc() *native.RootSignatureDesc { return &r.desc }

// Pipeline is a trace pipeline.
type Pipeline struct {
	object
	compute  bool
	Graphics *native.GraphicsPipelineDesc
}

// CreateGraphicsPipeline implements native.Device.
func (d *Device) CreateGraphicsPipeline(desc *native.GraphicsPipelineDesc) (native.Pipeline, error) {
	if err := d.injected("CreateGraphicsPipeline"); err != nil {
		return nil, err
	}
	if desc.RootSignature == nil || desc.Vertex.IsEmpty() {
		return nil, fmt.Errorf("trace: pipeline %q needs a root signature and a vertex stage", desc.Label)
	}
	d.log.record("CreateGraphicsPipeline", desc.Label, desc.Vertex.Entry, desc.Fragment.Entry)
	cp := *desc
	return &Pipeline{object: d.newObject(desc.Label), Graphics: &cp}, nil
}

// CreateComputePipeline implements native.Device.
func (d *Device) CreateComputePipeline(desc *native.ComputePipelineDesc) (native.Pipeline, error) {
	if err := d.injected("CreateComputePipeline"); err != nil {
		return nil, err
	}
	if desc.RootSignature == nil || desc.Compute.IsEmpty() {
		return nil, fmt.Errorf("trace: pipeline %q needs a root signature and a compute stage", desc.Label)
	}
	d.log.record("CreateComputePipeline", desc.Label, desc.Compute.Entry)
	return &Pipeline{object: d.newObject(desc.Label), compute: true}, nil
}

func (p *Pipeline) Compute() bool { return p.compute }

// CommandSignature is a trace command signature.
type CommandSignature struct {
	object
	kind   native.IndirectKind
	stride uint32
}

// CreateCommandSignature implements native.Device.
func (d *Device) CreateCommandSignature(desc *native.CommandSignatureDesc) (native.CommandSignature, error) {
	if err := d.injected("CreateCommandSignature"); err != nil {
		return nil, err
	}
	d.log.record("CreateCommandSignature", desc.Label, desc.Kind, desc.Stride)
	return &CommandSignature{object: d.newObject(desc.Label), kind: desc.Kind, stride: desc.Stride}, nil
}

func (s *CommandSignature) Kind() native.IndirectKind { return s.kind }
func (s *CommandSignature) Stride() uint32            { return s.stride }

// Fence is a trace fence.
type Fence struct {
	object
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

// CreateFence implements native.Device.
func (d *Device) CreateFence(initial uint64) (native.Fence, error) {
	if err := d.injected("CreateFence"); err != nil {
		return nil, err
	}
	d.log.record("CreateFence", "fence", initial)
	return &Fence{object: d.newObject("fence"), value: initial, changed: make(chan struct{})}, nil
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *Fence) set(v uint64) {
	f.mu.Lock()
	if v > f.value {
		f.value = v
	}
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

// WaitFence implements native.Device.
func (d *Device) WaitFence(fence native.Fence, value uint64, timeout time.Duration) (bool, error) {
	f, ok := fence.(*Fence)
	if !ok {
		return false, fmt.Errorf("trace: foreign fence %T", fence)
	}
	d.log.record("WaitFence", f.label, value)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		f.mu.Lock()
		reached := f.value >= value
		changed := f.changed
		f.mu.Unlock()
		if reached {
			return true, nil
		}
		select {
		case <-changed:
		case <-timer.C:
			return false, nil
		}
	}
}

// Queue is a trace queue.
type Queue struct {
	object
	kind native.QueueKind
}

// CreateQueue implements native.Device.
func (d *Device) CreateQueue(kind native.QueueKind) (native.Queue, error) {
	if err := d.injected("CreateQueue"); err != nil {
		return nil, err
	}
	d.log.record("CreateQueue", kind.String(), kind)
	return &Queue{object: d.newObject(kind.String() + " queue"), kind: kind}, nil
}

func (q *Queue) Kind() native.QueueKind { return q.kind }

func (q *Queue) Submit(lists []native.CommandList) error {
	if err := q.dev.injected("Submit"); err != nil {
		return err
	}
	for _, l := range lists {
		if cl, ok := l.(*CommandList); ok && cl.open {
			return fmt.Errorf("trace: submit of open command list %q", cl.label)
		}
	}
	q.dev.log.record("Submit", q.label, len(lists))
	return nil
}

func (q *Queue) Signal(fence native.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("trace: foreign fence %T", fence)
	}
	q.dev.log.record("Signal", q.label, value)
	q.dev.signal(f, value)
	return nil
}

func (q *Queue) Wait(fence native.Fence, value uint64) error {
	if _, ok := fence.(*Fence); !ok {
		return fmt.Errorf("trace: foreign fence %T", fence)
	}
	q.dev.log.record("QueueWait", q.label, value)
	return nil
}

// CommandAllocator is a trace command allocator.
type CommandAllocator struct {
	object
}

// CreateCommandAllocator implements native.Device.
func (d *Device) CreateCommandAllocator(kind native.QueueKind) (native.CommandAllocator, error) {
	if err := d.injected("CreateCommandAllocator"); err != nil {
		return nil, err
	}
	d.log.record("CreateCommandAllocator", kind.String())
	return &CommandAllocator{object: d.newObject(kind.String() + " allocator")}, nil
}

func (a *CommandAllocator) Reset() error {
	a.dev.log.record("ResetAllocator", a.label)
	return nil
}

// Swapchain is a trace swapchain.
type Swapchain struct {
	object
	desc    native.SwapchainDesc
	buffers []*Texture
	current int
}

// CreateSwapchain implements native.Device.
func (d *Device) CreateSwapchain(desc *native.SwapchainDesc, queue native.Queue) (native.Swapchain, error) {
	if err := d.injected("CreateSwapchain"); err != nil {
		return nil, err
	}
	if desc.BufferCount < 2 {
		return nil, fmt.Errorf("trace: swapchain %q needs at least 2 buffers", desc.Label)
	}
	d.log.record("CreateSwapchain", desc.Label, desc.Width, desc.Height, desc.BufferCount)
	s := &Swapchain{object: d.newObject(desc.Label), desc: *desc}
	s.allocate()
	return s, nil
}

func (s *Swapchain) allocate() {
	s.buffers = make([]*Texture, s.desc.BufferCount)
	for i := range s.buffers {
		s.buffers[i] = &Texture{
			object: s.dev.newObject(fmt.Sprintf("%s back buffer %d", s.label, i)),
			desc: native.TextureDesc{
				Label:              s.label,
				Width:              s.desc.Width,
				Height:             s.desc.Height,
				DepthOrArrayLayers: 1,
				MipLevels:          1,
				SampleCount:        1,
				Format:             s.desc.Format,
			},
		}
	}
	s.current = 0
}

func (s *Swapchain) releaseBuffers() {
	for _, b := range s.buffers {
		b.Release()
	}
	s.buffers = nil
}

func (s *Swapchain) Desc() native.SwapchainDesc     { return s.desc }
func (s *Swapchain) BufferCount() int               { return len(s.buffers) }
func (s *Swapchain) BackBuffer(i int) native.Texture { return s.buffers[i] }
func (s *Swapchain) CurrentIndex() int              { return s.current }

func (s *Swapchain) Present(syncInterval uint32, flags native.PresentFlags) error {
	if err := s.dev.injected("Present"); err != nil {
		return err
	}
	s.dev.log.record("Present", s.label, syncInterval, flags)
	s.current = (s.current + 1) % len(s.buffers)
	return nil
}

func (s *Swapchain) Resize(width, height uint32) error {
	if err := s.dev.injected("Resize"); err != nil {
		return err
	}
	s.dev.log.record("Resize", s.label, width, height)
	s.releaseBuffers()
	s.desc.Width, s.desc.Height = width, height
	s.allocate()
	return nil
}

func (s *Swapchain) Release() {
	s.releaseBuffers()
	s.object.Release()
}
