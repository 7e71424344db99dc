package gfx

import (
	"fmt"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/native"
)

// descriptorHeap pairs a native heap with the block allocator that
// sub-allocates it.
type descriptorHeap struct {
	b      *Backend
	kind   descheap.Kind
	native native.DescriptorHeap
	alloc  *descheap.Heap
}

var nativeHeapKinds = [descheap.KindCount]native.HeapKind{
	descheap.KindResource: native.HeapResource,
	descheap.KindSampler:  native.HeapSampler,
	descheap.KindRTV:      native.HeapRTV,
	descheap.KindDSV:      native.HeapDSV,
}

func (b *Backend) createHeaps() error {
	sizes := [descheap.KindCount]uint32{
		descheap.KindResource: b.cfg.Heaps.Resource,
		descheap.KindSampler:  b.cfg.Heaps.Sampler,
		descheap.KindRTV:      b.cfg.Heaps.RTV,
		descheap.KindDSV:      b.cfg.Heaps.DSV,
	}
	for k := descheap.Kind(0); k < descheap.KindCount; k++ {
		nh, err := b.dev.CreateDescriptorHeap(&native.DescriptorHeapDesc{
			Label:         b.name(k.String() + " heap"),
			Kind:          nativeHeapKinds[k],
			Capacity:      sizes[k],
			ShaderVisible: k.ShaderVisible(),
		})
		if err != nil {
			return b.deviceError(fmt.Sprintf("create %s heap", k), err)
		}
		b.heaps[k] = &descriptorHeap{
			b:      b,
			kind:   k,
			native: nh,
			alloc: descheap.New(descheap.Config{
				Name:           k.String(),
				Kind:           k,
				Capacity:       sizes[k],
				DescriptorSize: nh.DescriptorSize(),
				CPUBase:        uint64(nh.CPUStart()),
				GPUBase:        uint64(nh.GPUStart()),
				Coalesce:       b.cfg.HeapCoalesce,
			}),
		}
	}
	return nil
}

func (b *Backend) releaseHeaps() {
	for i, h := range b.heaps {
		if h != nil {
			h.native.Release()
			b.heaps[i] = nil
		}
	}
}

func (h *descriptorHeap) allocate(n uint32) (descheap.Handle, error) {
	hd, err := h.alloc.Allocate(n)
	if err != nil {
		return descheap.Handle{}, exhausted(err)
	}
	h.b.log().Debug("gfx: descriptors allocated", "heap", h.kind, "index", hd.Index, "count", hd.Count)
	return hd, nil
}

// free returns hd to the heap. Invalid handles are ignored so rows can
// release unconditionally.
func (h *descriptorHeap) free(hd descheap.Handle) {
	if h == nil || !hd.IsValid() {
		return
	}
	if err := h.alloc.Free(hd); err != nil {
		h.b.log().Warn("gfx: descriptor free failed", "heap", h.kind, "err", err)
		return
	}
	h.b.log().Debug("gfx: descriptors freed", "heap", h.kind, "index", hd.Index, "count", hd.Count)
}

// slot returns the handle of descriptor i inside block hd.
func (h *descriptorHeap) slot(hd descheap.Handle, i uint32) descheap.Handle {
	return hd.Offset(i, h.alloc.Config().DescriptorSize)
}

// writeView allocates one descriptor and writes view into it.
func (h *descriptorHeap) writeView(view *native.ViewDesc) (descheap.Handle, error) {
	hd, err := h.allocate(1)
	if err != nil {
		return descheap.Handle{}, err
	}
	if err := h.b.dev.CreateView(view, native.CPUHandle(hd.CPU)); err != nil {
		h.free(hd)
		return descheap.Handle{}, h.b.deviceError("create "+view.Kind.String()+" view", err)
	}
	return hd, nil
}

// HeapStats reports the allocator state of one descriptor heap.
type HeapStats struct {
	Capacity     uint32
	Live         uint32
	CurrentIndex uint32
	FreeBlocks   int
}

// HeapStats returns the allocator state of the heap of the given kind.
func (b *Backend) HeapStats(kind HeapKind) HeapStats {
	h := b.heaps[heapKind(kind)]
	if h == nil {
		return HeapStats{}
	}
	return HeapStats{
		Capacity:     h.alloc.Config().Capacity,
		Live:         h.alloc.Live(),
		CurrentIndex: h.alloc.CurrentIndex(),
		FreeBlocks:   len(h.alloc.Blocks()),
	}
}

func heapKind(k HeapKind) descheap.Kind {
	switch k {
	case HeapSampler:
		return descheap.KindSampler
	case HeapRTV:
		return descheap.KindRTV
	case HeapDSV:
		return descheap.KindDSV
	default:
		return descheap.KindResource
	}
}
