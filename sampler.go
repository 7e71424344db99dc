package gfx

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// SamplerDesc describes a sampler. Zero address and filter modes mean
// clamp-to-edge and linear. A compare function other than undefined makes
// a comparison sampler.
type SamplerDesc struct {
	Name         string
	AddressU     gputypes.AddressMode
	AddressV     gputypes.AddressMode
	AddressW     gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
	Compare      gputypes.CompareFunction
}

func (d SamplerDesc) native() native.SamplerDesc {
	addr := func(m gputypes.AddressMode) gputypes.AddressMode {
		if m == gputypes.AddressModeUndefined {
			return gputypes.AddressModeClampToEdge
		}
		return m
	}
	filter := func(m gputypes.FilterMode) gputypes.FilterMode {
		if m == gputypes.FilterModeUndefined {
			return gputypes.FilterModeLinear
		}
		return m
	}
	return native.SamplerDesc{
		AddressU:     addr(d.AddressU),
		AddressV:     addr(d.AddressV),
		AddressW:     addr(d.AddressW),
		MagFilter:    filter(d.MagFilter),
		MinFilter:    filter(d.MinFilter),
		MipmapFilter: filter(d.MipmapFilter),
		Compare:      d.Compare,
	}
}

type sampler struct {
	desc SamplerDesc
	heap *descriptorHeap
	hd   descheap.Handle
}

func (s *sampler) Release() { s.heap.free(s.hd) }

// CreateSampler writes a sampler descriptor into the sampler heap.
func (b *Backend) CreateSampler(desc SamplerDesc) (SamplerID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	h, row, err := b.samplers.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	nd := desc.native()
	row.desc = desc
	row.heap = b.heaps[descheap.KindSampler]
	row.hd, err = row.heap.writeView(&native.ViewDesc{Kind: native.ViewSampler, Sampler: &nd})
	if err != nil {
		_ = b.samplers.Remove(h)
		return 0, fmt.Errorf("create sampler %q: %w", desc.Name, err)
	}
	return SamplerID(h), nil
}

// DestroySampler frees the sampler descriptor.
func (b *Backend) DestroySampler(id SamplerID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	return remove(b.samplers, "sampler", pool.Handle(id))
}

// SamplerGPUIndex returns the sampler's index in the sampler heap.
func (b *Backend) SamplerGPUIndex(id SamplerID) (int32, error) {
	if err := b.enter(); err != nil {
		return -1, err
	}
	defer b.exit()
	s, err := lookup(b.samplers, "sampler", pool.Handle(id))
	if err != nil {
		return -1, err
	}
	return int32(s.hd.Index), nil
}
