package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

// viewObject is a HAL view or sampler shared by every descriptor slot and
// recorded bind group that references it.
type viewObject struct {
	refs    int
	view    hal.TextureView
	sampler hal.Sampler
}

func (d *Device) ref(o *viewObject) {
	if o == nil {
		return
	}
	d.mu.Lock()
	o.refs++
	d.mu.Unlock()
}

func (d *Device) unref(o *viewObject) {
	if o == nil {
		return
	}
	d.mu.Lock()
	o.refs--
	last := o.refs == 0
	d.mu.Unlock()
	if !last {
		return
	}
	if o.view != nil {
		d.hal.DestroyTextureView(o.view)
	}
	if o.sampler != nil {
		d.hal.DestroySampler(o.sampler)
	}
}

// descriptor is the content of one heap slot.
type descriptor struct {
	kind  native.ViewKind
	valid bool

	buf    *Buffer
	offset uint64
	size   uint64

	tex *Texture
	obj *viewObject
}

// DescriptorHeap is a host-side array of descriptors. Handles encode the
// heap id in the high 32 bits and the slot index in the low bits.
type DescriptorHeap struct {
	dev  *Device
	id   uint32
	desc native.DescriptorHeapDesc

	mu    sync.RWMutex
	slots []descriptor
}

func (h *DescriptorHeap) Desc() native.DescriptorHeapDesc { return h.desc }
func (h *DescriptorHeap) CPUStart() native.CPUHandle     { return native.CPUHandle(uint64(h.id) << 32) }
func (h *DescriptorHeap) DescriptorSize() uint32         { return 1 }

func (h *DescriptorHeap) GPUStart() native.GPUHandle {
	if !h.desc.ShaderVisible {
		return 0
	}
	return native.GPUHandle(uint64(h.id) << 32)
}

func (h *DescriptorHeap) Release() {
	h.dev.mu.Lock()
	delete(h.dev.heaps, h.id)
	h.dev.mu.Unlock()
	h.mu.Lock()
	for i := range h.slots {
		h.dev.unref(h.slots[i].obj)
		h.slots[i] = descriptor{}
	}
	h.mu.Unlock()
}

func (h *DescriptorHeap) get(i uint32) descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slots[i]
}

// set stores d at i, dropping the reference held by the old content.
func (h *DescriptorHeap) set(i uint32, d descriptor) {
	h.mu.Lock()
	old := h.slots[i]
	h.slots[i] = d
	h.mu.Unlock()
	h.dev.unref(old.obj)
}

func (d *Device) CreateDescriptorHeap(desc *native.DescriptorHeapDesc) (native.DescriptorHeap, error) {
	if desc.Capacity == 0 || desc.Capacity > descriptorHeapLimit {
		return nil, fmt.Errorf("wgpu: descriptor heap %q capacity %d outside 1..%d", desc.Label, desc.Capacity, descriptorHeapLimit)
	}
	d.mu.Lock()
	d.heapSeq++
	h := &DescriptorHeap{dev: d, id: d.heapSeq, desc: *desc, slots: make([]descriptor, desc.Capacity)}
	d.heaps[h.id] = h
	d.mu.Unlock()
	return h, nil
}

func (d *Device) CreateView(view *native.ViewDesc, dst native.CPUHandle) error {
	h, idx, err := d.heap(uint64(dst))
	if err != nil {
		return err
	}
	if view.Kind.Heap() != h.desc.Kind {
		return fmt.Errorf("wgpu: %s view written into heap %q of another kind", view.Kind, h.desc.Label)
	}
	desc := descriptor{kind: view.Kind, valid: true}
	switch {
	case view.Kind == native.ViewSampler:
		if view.Sampler == nil {
			return fmt.Errorf("wgpu: sampler view without a sampler")
		}
		s, err := d.hal.CreateSampler(samplerDescriptor(view.Sampler))
		if err != nil {
			return fmt.Errorf("wgpu: create sampler: %w", err)
		}
		desc.obj = &viewObject{refs: 1, sampler: s}
	case view.Buffer != nil:
		buf, err := halBuffer(view.Buffer)
		if err != nil {
			return err
		}
		if view.Offset > buf.size {
			return fmt.Errorf("wgpu: %s view of %q at offset %d past size %d", view.Kind, buf.label, view.Offset, buf.size)
		}
		desc.buf, desc.offset, desc.size = buf, view.Offset, view.Size
		if desc.size == 0 {
			desc.size = buf.size - view.Offset
		}
	case view.Texture != nil:
		tex, err := halTexture(view.Texture)
		if err != nil {
			return err
		}
		tv, err := d.hal.CreateTextureView(tex.tex, textureViewDescriptor(view, tex))
		if err != nil {
			return fmt.Errorf("wgpu: create %s view of %q: %w", view.Kind, tex.desc.Label, err)
		}
		desc.tex = tex
		desc.obj = &viewObject{refs: 1, view: tv}
	default:
		return fmt.Errorf("wgpu: %s view names no buffer or texture", view.Kind)
	}
	h.set(idx, desc)
	return nil
}

func (d *Device) CopyDescriptors(kind native.HeapKind, copies []native.DescriptorCopy) error {
	for _, c := range copies {
		src, si, err := d.heap(uint64(c.Src))
		if err != nil {
			return err
		}
		dst, di, err := d.heap(uint64(c.Dst))
		if err != nil {
			return err
		}
		if src.desc.Kind != kind || dst.desc.Kind != kind {
			return fmt.Errorf("wgpu: descriptor copy between %q and %q outside heap kind %d", src.desc.Label, dst.desc.Label, kind)
		}
		if uint64(si)+uint64(c.Count) > uint64(len(src.slots)) || uint64(di)+uint64(c.Count) > uint64(len(dst.slots)) {
			return fmt.Errorf("wgpu: descriptor copy of %d overruns heap", c.Count)
		}
		for i := range c.Count {
			desc := src.get(si + i)
			d.ref(desc.obj)
			dst.set(di+i, desc)
		}
	}
	return nil
}

func samplerDescriptor(s *native.SamplerDesc) *hal.SamplerDescriptor {
	return &hal.SamplerDescriptor{
		AddressModeU: orDefault(s.AddressU, gputypes.AddressModeClampToEdge),
		AddressModeV: orDefault(s.AddressV, gputypes.AddressModeClampToEdge),
		AddressModeW: orDefault(s.AddressW, gputypes.AddressModeClampToEdge),
		MagFilter:    orDefault(s.MagFilter, gputypes.FilterModeNearest),
		MinFilter:    orDefault(s.MinFilter, gputypes.FilterModeNearest),
		MipmapFilter: orDefault(s.MipmapFilter, gputypes.FilterModeNearest),
		LodMaxClamp:  32,
		Compare:      s.Compare,
		Anisotropy:   1,
	}
}

func textureViewDescriptor(v *native.ViewDesc, tex *Texture) *hal.TextureViewDescriptor {
	aspect := gputypes.TextureAspectAll
	if tex.desc.Format.IsDepthStencil() && v.Kind != native.ViewDepthStencil {
		aspect = gputypes.TextureAspectDepthOnly
	}
	mips := v.MipLevelCount
	if mips == 0 {
		mips = max(tex.desc.MipLevels, 1) - v.BaseMipLevel
	}
	layers := v.ArrayLayers
	if layers == 0 {
		layers = max(tex.desc.DepthOrArrayLayers, 1) - v.BaseArrayLayer
	}
	dim := v.Dimension
	if dim == gputypes.TextureViewDimensionUndefined {
		dim = gputypes.TextureViewDimension2D
	}
	return &hal.TextureViewDescriptor{
		Label:           tex.desc.Label,
		Format:          orDefault(v.Format, tex.desc.Format),
		Dimension:       dim,
		Aspect:          aspect,
		BaseMipLevel:    v.BaseMipLevel,
		MipLevelCount:   mips,
		BaseArrayLayer:  v.BaseArrayLayer,
		ArrayLayerCount: layers,
	}
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
