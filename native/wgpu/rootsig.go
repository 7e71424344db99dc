package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

// sourceKind says where a bind group entry takes its resource from.
type sourceKind uint8

const (
	fromConstants sourceKind = iota
	fromRoot
	fromTable
	fromStatic
)

// binding is one bind group entry of a root signature. The register space
// selects the group and the register is the binding number.
type binding struct {
	source   sourceKind
	param    int    // root parameter, or static sampler index
	offset   uint32 // descriptor offset inside a table
	register uint32
	words    uint32 // root constants
	entry    gputypes.BindGroupLayoutEntry
}

// RootSignature is a pipeline layout with one bind group layout per
// register space.
type RootSignature struct {
	dev  *Device
	desc native.RootSignatureDesc

	layout  hal.PipelineLayout
	groups  []hal.BindGroupLayout
	entries [][]binding
	// paramGroups lists the groups each root parameter feeds.
	paramGroups [][]uint32
	statics     []hal.Sampler
}

func (s *RootSignature) Desc() *native.RootSignatureDesc { return &s.desc }

func (s *RootSignature) Release() {
	if s.layout != nil {
		s.dev.hal.DestroyPipelineLayout(s.layout)
	}
	for _, g := range s.groups {
		s.dev.hal.DestroyBindGroupLayout(g)
	}
	for _, smp := range s.statics {
		s.dev.hal.DestroySampler(smp)
	}
}

func visibility(v gputypes.ShaderStage) gputypes.ShaderStages {
	if v == gputypes.ShaderStageNone {
		return gputypes.ShaderStagesAll
	}
	return v
}

func rangeEntry(r native.DescriptorRange) gputypes.BindGroupLayoutEntry {
	var e gputypes.BindGroupLayoutEntry
	switch r.Kind {
	case native.RangeCBV:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case native.RangeSRV:
		if r.Buffer {
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
		} else {
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
	case native.RangeUAV:
		if r.Buffer {
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		} else {
			e.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessWriteOnly,
				Format:        gputypes.TextureFormatRGBA8Unorm,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
	case native.RangeSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	}
	return e
}

// layoutBuilder assigns root signature entries to groups and rejects
// register collisions.
type layoutBuilder struct {
	entries [][]binding
	used    map[[2]uint32]string
	groups  [][]uint32
}

func (lb *layoutBuilder) add(space, param int, b binding, what string) error {
	key := [2]uint32{uint32(space), b.register}
	if prev, ok := lb.used[key]; ok {
		return fmt.Errorf("wgpu: %s and %s share register %d in space %d: %w", prev, what, b.register, space, native.ErrUnsupported)
	}
	lb.used[key] = what
	for len(lb.entries) <= space {
		lb.entries = append(lb.entries, nil)
	}
	b.entry.Binding = b.register
	lb.entries[space] = append(lb.entries[space], b)
	if param >= 0 && !containsGroup(lb.groups[param], uint32(space)) {
		lb.groups[param] = append(lb.groups[param], uint32(space))
	}
	return nil
}

func containsGroup(gs []uint32, g uint32) bool {
	for _, x := range gs {
		if x == g {
			return true
		}
	}
	return false
}

func (d *Device) CreateRootSignature(desc *native.RootSignatureDesc) (native.RootSignature, error) {
	if len(desc.Params) > maxRootParameters {
		return nil, fmt.Errorf("wgpu: root signature %q has %d parameters, limit %d", desc.Label, len(desc.Params), maxRootParameters)
	}
	lb := &layoutBuilder{used: make(map[[2]uint32]string), groups: make([][]uint32, len(desc.Params))}
	for i, p := range desc.Params {
		vis := visibility(p.Visibility)
		var err error
		switch p.Type {
		case native.RootConstants:
			if p.Space == native.PushConstantSpace {
				return nil, fmt.Errorf("wgpu: push constants in %q: %w", desc.Label, native.ErrUnsupported)
			}
			b := binding{source: fromConstants, param: i, register: p.Register, words: p.Num32BitVals}
			b.entry = gputypes.BindGroupLayoutEntry{Visibility: vis, Buffer: &gputypes.BufferBindingLayout{
				Type:           gputypes.BufferBindingTypeUniform,
				MinBindingSize: constantsSize(p.Num32BitVals),
			}}
			err = lb.add(int(p.Space), i, b, fmt.Sprintf("constants %d", i))
		case native.RootCBV, native.RootSRV, native.RootUAV:
			typ := gputypes.BufferBindingTypeUniform
			switch p.Type {
			case native.RootSRV:
				typ = gputypes.BufferBindingTypeReadOnlyStorage
			case native.RootUAV:
				typ = gputypes.BufferBindingTypeStorage
			}
			b := binding{source: fromRoot, param: i, register: p.Register}
			b.entry = gputypes.BindGroupLayoutEntry{Visibility: vis, Buffer: &gputypes.BufferBindingLayout{Type: typ}}
			err = lb.add(int(p.Space), i, b, fmt.Sprintf("root descriptor %d", i))
		case native.RootTable:
			for _, r := range p.Ranges {
				for k := range r.Count {
					b := binding{source: fromTable, param: i, offset: r.OffsetInTable + k, register: r.BaseRegister + k}
					b.entry = rangeEntry(r)
					b.entry.Visibility = vis
					if err = lb.add(int(r.Space), i, b, fmt.Sprintf("table %d", i)); err != nil {
						break
					}
				}
				if err != nil {
					break
				}
			}
		default:
			err = fmt.Errorf("wgpu: root parameter %d has unknown type %d", i, p.Type)
		}
		if err != nil {
			return nil, err
		}
	}

	sig := &RootSignature{dev: d, desc: cloneRootDesc(desc), paramGroups: lb.groups}
	for i, ss := range desc.StaticSamplers {
		smp, err := d.hal.CreateSampler(samplerDescriptor(&ss.Sampler))
		if err != nil {
			sig.Release()
			return nil, fmt.Errorf("wgpu: static sampler %d of %q: %w", i, desc.Label, err)
		}
		sig.statics = append(sig.statics, smp)
		typ := gputypes.SamplerBindingTypeFiltering
		if ss.Sampler.Compare != gputypes.CompareFunctionUndefined {
			typ = gputypes.SamplerBindingTypeComparison
		}
		b := binding{source: fromStatic, param: i, register: ss.Register}
		b.entry = gputypes.BindGroupLayoutEntry{Visibility: visibility(ss.Visibility), Sampler: &gputypes.SamplerBindingLayout{Type: typ}}
		if err := lb.add(int(ss.Space), -1, b, fmt.Sprintf("static sampler %d", i)); err != nil {
			sig.Release()
			return nil, err
		}
	}
	if maxGroups := d.limits.MaxBindGroups; maxGroups > 0 && uint32(len(lb.entries)) > maxGroups {
		sig.Release()
		return nil, fmt.Errorf("wgpu: root signature %q uses %d register spaces, limit %d: %w",
			desc.Label, len(lb.entries), maxGroups, native.ErrUnsupported)
	}
	sig.entries = lb.entries

	for g, entries := range lb.entries {
		layoutEntries := make([]gputypes.BindGroupLayoutEntry, len(entries))
		for i, b := range entries {
			layoutEntries[i] = b.entry
		}
		bgl, err := d.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", desc.Label, g),
			Entries: layoutEntries,
		})
		if err != nil {
			sig.Release()
			return nil, fmt.Errorf("wgpu: create bind group layout %d of %q: %w", g, desc.Label, err)
		}
		sig.groups = append(sig.groups, bgl)
	}
	layout, err := d.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: sig.groups,
	})
	if err != nil {
		sig.Release()
		return nil, fmt.Errorf("wgpu: create pipeline layout %q: %w", desc.Label, err)
	}
	sig.layout = layout
	return sig, nil
}

// constantsSize is the uniform block size of n root constants.
func constantsSize(n uint32) uint64 {
	return (uint64(n)*4 + 15) &^ 15
}

func cloneRootDesc(desc *native.RootSignatureDesc) native.RootSignatureDesc {
	out := native.RootSignatureDesc{
		Label:          desc.Label,
		Params:         make([]native.RootParameter, len(desc.Params)),
		StaticSamplers: append([]native.StaticSampler(nil), desc.StaticSamplers...),
	}
	for i, p := range desc.Params {
		p.Ranges = append([]native.DescriptorRange(nil), p.Ranges...)
		out.Params[i] = p
	}
	return out
}
