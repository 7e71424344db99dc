package gfx

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// ResourceUsage is a bit set of the ways a buffer is used.
type ResourceUsage uint32

const (
	UsageVertex ResourceUsage = 1 << iota
	UsageIndex
	UsageConstant
	UsageShaderRead // structured or raw SRV
	UsageStorage    // UAV
	UsageIndirect
	UsageCopySrc
	UsageCopyDst
)

// MemoryKind selects where a buffer lives.
type MemoryKind uint8

const (
	MemoryDevice   MemoryKind = iota // GPU local, not mappable
	MemoryUpload                     // CPU writes, GPU reads
	MemoryReadback                   // GPU writes, CPU reads
)

// ResourceViewKind selects the standalone descriptor created with a buffer.
type ResourceViewKind uint8

const (
	ResourceViewNone ResourceViewKind = iota
	ResourceViewCBV
	ResourceViewSRV
	ResourceViewUAV
)

// ResourceDesc describes a buffer.
type ResourceDesc struct {
	Name   string
	Size   uint64
	Usage  ResourceUsage
	Memory MemoryKind

	// View requests a descriptor in the shader-visible resource heap whose
	// index is returned by ResourceGPUIndex. Stride > 0 makes SRV and UAV
	// views structured.
	View   ResourceViewKind
	Stride uint32

	// InitialState defaults to StateCommon for device memory,
	// StateGenericRead for upload and StateCopyDest for readback.
	InitialState State
}

type resource struct {
	buf    native.Buffer
	desc   ResourceDesc
	view   descheap.Handle
	heap   *descriptorHeap
	mapped bool
}

// Release frees the descriptor before the buffer.
func (r *resource) Release() {
	r.heap.free(r.view)
	if r.buf != nil {
		if r.mapped {
			r.buf.Unmap()
		}
		r.buf.Release()
	}
}

func (u ResourceUsage) gputypes(mem MemoryKind) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&UsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&UsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&UsageConstant != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if u&(UsageShaderRead|UsageStorage) != 0 {
		out |= gputypes.BufferUsageStorage
	}
	if u&UsageIndirect != 0 {
		out |= gputypes.BufferUsageIndirect
	}
	if u&UsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&UsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	switch mem {
	case MemoryUpload:
		out |= gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	case MemoryReadback:
		out |= gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	return out
}

func (m MemoryKind) native() native.MemoryKind {
	switch m {
	case MemoryUpload:
		return native.MemoryUpload
	case MemoryReadback:
		return native.MemoryReadback
	default:
		return native.MemoryDefault
	}
}

func (desc *ResourceDesc) validate(align uint32) error {
	if desc.Size == 0 {
		return fmt.Errorf("%w: resource %q has zero size", ErrInvalidArgument, desc.Name)
	}
	switch desc.View {
	case ResourceViewNone:
	case ResourceViewCBV:
		if desc.Usage&UsageConstant == 0 {
			return fmt.Errorf("%w: resource %q: CBV needs UsageConstant", ErrInvalidArgument, desc.Name)
		}
		if align > 0 && desc.Size%uint64(align) != 0 {
			return fmt.Errorf("%w: resource %q: CBV size %d is not a multiple of %d", ErrInvalidArgument, desc.Name, desc.Size, align)
		}
	case ResourceViewSRV:
		if desc.Usage&UsageShaderRead == 0 {
			return fmt.Errorf("%w: resource %q: SRV needs UsageShaderRead", ErrInvalidArgument, desc.Name)
		}
	case ResourceViewUAV:
		if desc.Usage&UsageStorage == 0 {
			return fmt.Errorf("%w: resource %q: UAV needs UsageStorage", ErrInvalidArgument, desc.Name)
		}
		if desc.Memory != MemoryDevice {
			return fmt.Errorf("%w: resource %q: UAV needs device memory", ErrInvalidArgument, desc.Name)
		}
	default:
		return fmt.Errorf("%w: resource %q: unknown view kind %d", ErrInvalidArgument, desc.Name, desc.View)
	}
	return nil
}

func (desc *ResourceDesc) initialState() State {
	if desc.InitialState != StateCommon {
		return desc.InitialState
	}
	switch desc.Memory {
	case MemoryUpload:
		return StateGenericRead
	case MemoryReadback:
		return StateCopyDest
	default:
		return StateCommon
	}
}

// CreateResource creates a buffer and, if requested, its standalone view.
func (b *Backend) CreateResource(desc ResourceDesc) (ResourceID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	if err := desc.validate(b.dev.Limits().ConstantBufferAlignment); err != nil {
		return 0, err
	}
	h, row, err := b.resources.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	fail := func(err error) (ResourceID, error) {
		_ = b.resources.Remove(h)
		return 0, fmt.Errorf("create resource %q: %w", desc.Name, err)
	}

	buf, err := b.dev.CreateBuffer(&native.BufferDesc{
		Label:        b.name(desc.Name),
		Size:         desc.Size,
		Usage:        desc.Usage.gputypes(desc.Memory),
		Memory:       desc.Memory.native(),
		InitialState: desc.initialState().toNative(),
	})
	if err != nil {
		return fail(b.deviceError("create buffer", err))
	}
	row.buf = buf
	row.desc = desc

	if desc.View != ResourceViewNone {
		view := &native.ViewDesc{Buffer: buf, Size: desc.Size, Stride: desc.Stride}
		switch desc.View {
		case ResourceViewCBV:
			view.Kind = native.ViewConstantBuffer
		case ResourceViewSRV:
			view.Kind = native.ViewShaderResource
		case ResourceViewUAV:
			view.Kind = native.ViewUnorderedAccess
		}
		row.heap = b.heaps[descheap.KindResource]
		row.view, err = row.heap.writeView(view)
		if err != nil {
			return fail(err)
		}
	}

	b.log().Debug("gfx: resource created", "name", desc.Name, "size", desc.Size, "id", h)
	return ResourceID(h), nil
}

// DestroyResource releases the view descriptor, then the buffer.
func (b *Backend) DestroyResource(id ResourceID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	if err := remove(b.resources, "resource", pool.Handle(id)); err != nil {
		return err
	}
	b.log().Debug("gfx: resource destroyed", "id", pool.Handle(id))
	return nil
}

// ResourceGPUIndex returns the heap index of the resource's standalone
// view, or -1 if it was created without one.
func (b *Backend) ResourceGPUIndex(id ResourceID) (int32, error) {
	if err := b.enter(); err != nil {
		return -1, err
	}
	defer b.exit()
	r, err := lookup(b.resources, "resource", pool.Handle(id))
	if err != nil {
		return -1, err
	}
	if !r.view.IsValid() {
		return -1, nil
	}
	return int32(r.view.Index), nil
}

// ResourceSize returns the size in bytes of a resource.
func (b *Backend) ResourceSize(id ResourceID) (uint64, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	r, err := lookup(b.resources, "resource", pool.Handle(id))
	if err != nil {
		return 0, err
	}
	return r.desc.Size, nil
}

// MapResource returns a host view of an upload or readback resource. The
// slice is valid until UnmapResource or DestroyResource.
func (b *Backend) MapResource(id ResourceID) ([]byte, error) {
	if err := b.enter(); err != nil {
		return nil, err
	}
	defer b.exit()
	r, err := lookup(b.resources, "resource", pool.Handle(id))
	if err != nil {
		return nil, err
	}
	if r.desc.Memory == MemoryDevice {
		return nil, fmt.Errorf("%w: resource %q is not host visible", ErrInvalidArgument, r.desc.Name)
	}
	data, err := r.buf.Map()
	if err != nil {
		return nil, b.deviceError("map", err)
	}
	r.mapped = true
	return data, nil
}

// UnmapResource ends a MapResource.
func (b *Backend) UnmapResource(id ResourceID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	r, err := lookup(b.resources, "resource", pool.Handle(id))
	if err != nil {
		return err
	}
	if r.mapped {
		r.buf.Unmap()
		r.mapped = false
	}
	return nil
}
