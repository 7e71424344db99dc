package gfx

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
	"github.com/gogpu/gfx/shaderc"
)

// DescriptorKind is the type of a root descriptor or a table range.
type DescriptorKind uint8

const (
	DescriptorCBV DescriptorKind = iota
	DescriptorSRV
	DescriptorUAV
	DescriptorSampler // table ranges only
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorCBV:
		return "cbv"
	case DescriptorSRV:
		return "srv"
	case DescriptorUAV:
		return "uav"
	case DescriptorSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

func (k DescriptorKind) rangeKind() native.RangeKind {
	switch k {
	case DescriptorSRV:
		return native.RangeSRV
	case DescriptorUAV:
		return native.RangeUAV
	case DescriptorSampler:
		return native.RangeSampler
	default:
		return native.RangeCBV
	}
}

// BindingType tags the entries of a bind layout and of the bind groups
// created from it.
type BindingType uint8

const (
	BindingConstants BindingType = iota
	BindingDescriptor
	BindingTable
	BindingSampler
)

func (t BindingType) String() string {
	switch t {
	case BindingConstants:
		return "constants"
	case BindingDescriptor:
		return "descriptor"
	case BindingTable:
		return "table"
	case BindingSampler:
		return "static-sampler"
	default:
		return "unknown"
	}
}

// TableRange is a run of descriptors in a descriptor table. Buffer marks
// SRV and UAV ranges that hold buffer views.
type TableRange struct {
	Kind         DescriptorKind
	Count        uint32
	BaseRegister uint32
	Space        uint32
	Buffer       bool
}

// AllStages is the visibility of bindings every stage can see.
const AllStages = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment | gputypes.ShaderStageCompute

// layoutSlot is one entry of a finalized layout.
type layoutSlot struct {
	typ  BindingType
	root uint32 // root parameter index; unused for static samplers

	constants  uint32         // BindingConstants: number of 32-bit values
	descriptor DescriptorKind // BindingDescriptor
	tableSize  uint32         // BindingTable: descriptors in the table
	tableHeap  descheap.Kind  // BindingTable
	ranges     []TableRange   // BindingTable
}

// BindLayoutBuilder accumulates the entries of a bind layout. Every Add
// method returns the entry index bind groups and PointerUpdate.Binding
// refer to; indices are assigned in call order starting at 0, static
// samplers included. Static samplers take no root parameter, so an entry
// index can differ from the native root parameter index. The layout keeps
// that mapping and BindGroup resolves it when recording. A builder can be
// reused after Reset.
type BindLayoutBuilder struct {
	params   []native.RootParameter
	samplers []native.StaticSampler
	slots    []layoutSlot
	err      error
}

// NewBindLayoutBuilder returns an empty builder.
func NewBindLayoutBuilder() *BindLayoutBuilder { return &BindLayoutBuilder{} }

// Reset clears the builder, keeping its scratch capacity.
func (lb *BindLayoutBuilder) Reset() {
	lb.params = lb.params[:0]
	lb.samplers = lb.samplers[:0]
	lb.slots = lb.slots[:0]
	lb.err = nil
}

// Len returns the number of entries added so far.
func (lb *BindLayoutBuilder) Len() int { return len(lb.slots) }

func (lb *BindLayoutBuilder) fail(format string, args ...any) {
	if lb.err == nil {
		lb.err = fmt.Errorf("%w: bind layout: "+format, append([]any{ErrInvalidArgument}, args...)...)
	}
}

func (lb *BindLayoutBuilder) addParam(p native.RootParameter, slot layoutSlot) uint32 {
	slot.root = uint32(len(lb.params))
	lb.params = append(lb.params, p)
	lb.slots = append(lb.slots, slot)
	return uint32(len(lb.slots) - 1)
}

// AddConstants adds count inline 32-bit constants at register/space.
func (lb *BindLayoutBuilder) AddConstants(count, register, space uint32, vis gputypes.ShaderStage) uint32 {
	if count == 0 {
		lb.fail("entry %d: zero constants", len(lb.slots))
	}
	return lb.addParam(native.RootParameter{
		Type:         native.RootConstants,
		Visibility:   vis,
		Register:     register,
		Space:        space,
		Num32BitVals: count,
	}, layoutSlot{typ: BindingConstants, constants: count})
}

// AddDescriptor adds a root-level CBV, SRV or UAV.
func (lb *BindLayoutBuilder) AddDescriptor(kind DescriptorKind, register, space uint32, vis gputypes.ShaderStage) uint32 {
	var typ native.RootParamType
	switch kind {
	case DescriptorCBV:
		typ = native.RootCBV
	case DescriptorSRV:
		typ = native.RootSRV
	case DescriptorUAV:
		typ = native.RootUAV
	default:
		lb.fail("entry %d: %s cannot be a root descriptor", len(lb.slots), kind)
	}
	return lb.addParam(native.RootParameter{
		Type:       typ,
		Visibility: vis,
		Register:   register,
		Space:      space,
	}, layoutSlot{typ: BindingDescriptor, descriptor: kind})
}

// AddTable adds a descriptor table made of ranges. Sampler ranges cannot
// share a table with other kinds.
func (lb *BindLayoutBuilder) AddTable(ranges []TableRange, vis gputypes.ShaderStage) uint32 {
	slot := layoutSlot{typ: BindingTable, ranges: slices.Clone(ranges), tableHeap: descheap.KindResource}
	nr := make([]native.DescriptorRange, 0, len(ranges))
	samplers := 0
	for _, r := range ranges {
		if r.Count == 0 {
			lb.fail("entry %d: empty %s range", len(lb.slots), r.Kind)
		}
		if r.Kind == DescriptorSampler {
			samplers++
		}
		nr = append(nr, native.DescriptorRange{
			Kind:          r.Kind.rangeKind(),
			Count:         r.Count,
			BaseRegister:  r.BaseRegister,
			Space:         r.Space,
			OffsetInTable: slot.tableSize,
			Buffer:        r.Buffer,
		})
		slot.tableSize += r.Count
	}
	switch {
	case len(ranges) == 0:
		lb.fail("entry %d: table without ranges", len(lb.slots))
	case samplers == len(ranges):
		slot.tableHeap = descheap.KindSampler
	case samplers > 0:
		lb.fail("entry %d: table mixes sampler and resource ranges", len(lb.slots))
	}
	return lb.addParam(native.RootParameter{
		Type:       native.RootTable,
		Visibility: vis,
		Ranges:     nr,
	}, slot)
}

// AddStaticSampler bakes a sampler into the layout. Bind groups carry a
// BindingSampler entry for it that records nothing at runtime.
func (lb *BindLayoutBuilder) AddStaticSampler(desc SamplerDesc, register, space uint32, vis gputypes.ShaderStage) uint32 {
	lb.samplers = append(lb.samplers, native.StaticSampler{
		Sampler:    desc.native(),
		Register:   register,
		Space:      space,
		Visibility: vis,
	})
	lb.slots = append(lb.slots, layoutSlot{typ: BindingSampler})
	return uint32(len(lb.slots) - 1)
}

type bindLayout struct {
	sig   native.RootSignature
	name  string
	slots []layoutSlot

	// refs counts the shaders and bind groups using the layout. An owned
	// layout is released when its shader is destroyed and refs drops to
	// zero.
	refs   int
	orphan bool
}

func (l *bindLayout) Release() {
	if l.sig != nil {
		l.sig.Release()
	}
}

// FinalizeBindLayout creates an immutable layout from the builder. The
// builder may be reset and reused afterwards.
func (b *Backend) FinalizeBindLayout(lb *BindLayoutBuilder, name string) (BindLayoutID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	return b.finalizeLayout(lb, name)
}

func (b *Backend) finalizeLayout(lb *BindLayoutBuilder, name string) (BindLayoutID, error) {
	if lb == nil {
		return 0, fmt.Errorf("%w: nil bind layout builder", ErrInvalidArgument)
	}
	if lb.err != nil {
		return 0, lb.err
	}
	if limit := b.dev.Limits().MaxRootParameters; limit > 0 && uint32(len(lb.params)) > limit {
		return 0, fmt.Errorf("%w: bind layout %q: %d root parameters, limit %d", ErrInvalidArgument, name, len(lb.params), limit)
	}
	h, row, err := b.layouts.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	row.name = name
	row.slots = slices.Clone(lb.slots)
	row.sig, err = b.dev.CreateRootSignature(&native.RootSignatureDesc{
		Label:          b.name(name),
		Params:         slices.Clone(lb.params),
		StaticSamplers: slices.Clone(lb.samplers),
	})
	if err != nil {
		_ = b.layouts.Remove(h)
		return 0, b.deviceError("create root signature", err)
	}
	b.log().Debug("gfx: bind layout finalized", "name", name, "entries", len(row.slots), "id", h)
	return BindLayoutID(h), nil
}

// FinalizeBindLayoutBlob builds a layout from a shaderc layout blob. Each
// group becomes register space group: uniform and storage buffers become
// root descriptors, textures one resource table and samplers one sampler
// table. Push constants become constants in native.PushConstantSpace.
func (b *Backend) FinalizeBindLayoutBlob(name string, blob []byte) (BindLayoutID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	lb, err := builderFromBlob(blob)
	if err != nil {
		return 0, err
	}
	return b.finalizeLayout(lb, name)
}

func builderFromBlob(blob []byte) (*BindLayoutBuilder, error) {
	bindings, err := shaderc.DecodeLayout(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	slices.SortStableFunc(bindings, func(x, y shaderc.Binding) int {
		return cmp.Or(cmp.Compare(x.Group, y.Group), cmp.Compare(x.Binding, y.Binding))
	})

	lb := NewBindLayoutBuilder()
	for i := 0; i < len(bindings); {
		group := bindings[i].Group
		var textures, samplers []TableRange
		for ; i < len(bindings) && bindings[i].Group == group; i++ {
			bd := bindings[i]
			switch bd.Kind {
			case shaderc.BindPushConstant:
				lb.AddConstants(bd.Count, bd.Binding, native.PushConstantSpace, AllStages)
			case shaderc.BindUniform:
				lb.AddDescriptor(DescriptorCBV, bd.Binding, group, AllStages)
			case shaderc.BindStorage:
				lb.AddDescriptor(DescriptorUAV, bd.Binding, group, AllStages)
			case shaderc.BindTexture:
				textures = append(textures, TableRange{Kind: DescriptorSRV, Count: bd.Count, BaseRegister: bd.Binding, Space: group})
			case shaderc.BindStorageTexture:
				textures = append(textures, TableRange{Kind: DescriptorUAV, Count: bd.Count, BaseRegister: bd.Binding, Space: group})
			case shaderc.BindSampler, shaderc.BindComparisonSampler:
				samplers = append(samplers, TableRange{Kind: DescriptorSampler, Count: bd.Count, BaseRegister: bd.Binding, Space: group})
			default:
				return nil, fmt.Errorf("%w: layout blob: binding %q has kind %s", ErrInvalidArgument, bd.Name, bd.Kind)
			}
		}
		if len(textures) > 0 {
			lb.AddTable(textures, AllStages)
		}
		if len(samplers) > 0 {
			lb.AddTable(samplers, AllStages)
		}
	}
	return lb, nil
}

var errLayoutInUse = errors.New("bind layout in use")

// DestroyBindLayout releases a layout. It fails while shaders or bind
// groups still use it.
func (b *Backend) DestroyBindLayout(id BindLayoutID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	l, err := lookup(b.layouts, "bind layout", pool.Handle(id))
	if err != nil {
		return err
	}
	if l.refs > 0 {
		return fmt.Errorf("%w: %w: %q has %d users", ErrInvalidArgument, errLayoutInUse, l.name, l.refs)
	}
	return remove(b.layouts, "bind layout", pool.Handle(id))
}

// unref drops one reference to layout id and releases an orphaned layout
// once nothing uses it.
func (b *Backend) unrefLayout(id BindLayoutID) {
	l, ok := b.layouts.Get(pool.Handle(id))
	if !ok {
		return
	}
	l.refs--
	if l.orphan && l.refs <= 0 {
		_ = b.layouts.Remove(pool.Handle(id))
	}
}
