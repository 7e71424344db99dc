package wgpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

// Fence is a host-side timeline advanced when the HAL queue reports the
// submissions preceding a signal as completed.
type Fence struct {
	dev   *Device
	value atomic.Uint64
}

func (f *Fence) CompletedValue() uint64 {
	f.dev.poll()
	return f.value.Load()
}

func (f *Fence) advance(v uint64) {
	for {
		cur := f.value.Load()
		if v <= cur || f.value.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Release drops signals still pending on f.
func (f *Fence) Release() {
	d := f.dev
	d.mu.Lock()
	kept := d.pending[:0]
	for _, p := range d.pending {
		if p.fence != f {
			kept = append(kept, p)
		}
	}
	d.pending = kept
	d.mu.Unlock()
}

func (d *Device) CreateFence(initial uint64) (native.Fence, error) {
	f := &Fence{dev: d}
	f.value.Store(initial)
	return f, nil
}

// Queue submits to the shared HAL queue.
type Queue struct {
	dev  *Device
	kind native.QueueKind
}

func (q *Queue) Kind() native.QueueKind { return q.kind }
func (q *Queue) Release()               {}

func (d *Device) CreateQueue(kind native.QueueKind) (native.Queue, error) {
	return &Queue{dev: d, kind: kind}, nil
}

func (q *Queue) Submit(lists []native.CommandList) error {
	cmds := make([]hal.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("wgpu: foreign command list %T", l)
		}
		if cl.open || cl.cmd == nil {
			return fmt.Errorf("wgpu: submit of command list %q that is not closed", cl.label)
		}
		cmds = append(cmds, cl.cmd)
	}
	if len(cmds) == 0 {
		return nil
	}
	if _, err := q.dev.submit(cmds); err != nil {
		return fmt.Errorf("wgpu: submit %d command buffers: %w", len(cmds), err)
	}
	for _, l := range lists {
		l.(*CommandList).cmd = nil
	}
	return nil
}

func (q *Queue) Signal(fence native.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("wgpu: foreign fence %T", fence)
	}
	q.dev.signal(f, value)
	return nil
}

// Wait needs no HAL work: every queue shares one in-order HAL queue, so
// a signal enqueued earlier has already been ordered before later work.
func (q *Queue) Wait(fence native.Fence, _ uint64) error {
	if _, ok := fence.(*Fence); !ok {
		return fmt.Errorf("wgpu: foreign fence %T", fence)
	}
	return nil
}

// ringChunkSize is the size of one root-constant ring buffer.
const ringChunkSize = 64 << 10

// uniformRing hands out aligned slices of uniform buffers for root
// constants. Chunks are reused once the allocator is reset.
type uniformRing struct {
	dev    *Device
	chunks []hal.Buffer
	cur    int
	off    uint64
}

func (r *uniformRing) write(data []byte) (hal.Buffer, uint64, error) {
	size := uint64(len(data))
	if size > ringChunkSize {
		return nil, 0, fmt.Errorf("wgpu: %d bytes of root constants exceed the ring chunk", size)
	}
	align := uint64(r.dev.Limits().ConstantBufferAlignment)
	off := (r.off + align - 1) &^ (align - 1)
	if len(r.chunks) == 0 || off+size > ringChunkSize {
		if len(r.chunks) > 0 {
			r.cur++
		}
		off = 0
		if r.cur == len(r.chunks) {
			buf, err := r.dev.hal.CreateBuffer(&hal.BufferDescriptor{
				Label: fmt.Sprintf("root constants %d", r.cur),
				Size:  ringChunkSize,
				Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
			})
			if err != nil {
				return nil, 0, fmt.Errorf("wgpu: create root constant ring: %w", err)
			}
			r.chunks = append(r.chunks, buf)
		}
	}
	buf := r.chunks[r.cur]
	if err := r.dev.queue.WriteBuffer(buf, off, data); err != nil {
		return nil, 0, fmt.Errorf("wgpu: write root constants: %w", err)
	}
	r.off = off + size
	return buf, off, nil
}

func (r *uniformRing) reset() { r.cur, r.off = 0, 0 }

func (r *uniformRing) release() {
	for _, c := range r.chunks {
		r.dev.hal.DestroyBuffer(c)
	}
	r.chunks = nil
	r.reset()
}

// CommandAllocator owns what lists record into it until the GPU is done:
// command buffers, transient bind groups, view references and the
// root-constant ring.
type CommandAllocator struct {
	dev    *Device
	kind   native.QueueKind
	cmds   []hal.CommandBuffer
	groups []hal.BindGroup
	refs   []*viewObject
	ring   uniformRing
}

func (d *Device) CreateCommandAllocator(kind native.QueueKind) (native.CommandAllocator, error) {
	return &CommandAllocator{dev: d, kind: kind, ring: uniformRing{dev: d}}, nil
}

func (a *CommandAllocator) Reset() error {
	for _, c := range a.cmds {
		a.dev.hal.FreeCommandBuffer(c)
	}
	for _, g := range a.groups {
		a.dev.hal.DestroyBindGroup(g)
	}
	for _, o := range a.refs {
		a.dev.unref(o)
	}
	a.cmds, a.groups, a.refs = a.cmds[:0], a.groups[:0], a.refs[:0]
	a.ring.reset()
	return nil
}

func (a *CommandAllocator) Release() {
	_ = a.Reset()
	a.ring.release()
}
