package gfx

import (
	"fmt"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// GroupBinding is one entry of a bind group. Type must match the entry of
// the same index in the layout.
type GroupBinding struct {
	Type BindingType

	// Constants is pushed inline when the group is bound. The slice is
	// owned by the caller and read at bind time, never copied into a heap.
	Constants []uint32

	// Resource and Offset select the buffer of a root descriptor.
	Resource ResourceID
	Offset   uint64
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	Name     string
	Layout   BindLayoutID
	Bindings []GroupBinding
}

type groupEntry struct {
	typ       BindingType
	constants []uint32
	resource  ResourceID
	offset    uint64

	heap  *descriptorHeap
	table descheap.Handle
}

type bindGroup struct {
	name    string
	layout  BindLayoutID
	entries []groupEntry
}

func (g *bindGroup) Release() {
	for _, e := range g.entries {
		e.heap.free(e.table)
	}
}

// CreateBindGroup creates a group for layout. Every table entry gets one
// heap block of the table's size; its descriptors are filled with
// UpdateBindGroup.
func (b *Backend) CreateBindGroup(desc BindGroupDesc) (BindGroupID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	l, err := lookup(b.layouts, "bind layout", pool.Handle(desc.Layout))
	if err != nil {
		return 0, err
	}
	if len(desc.Bindings) != len(l.slots) {
		return 0, fmt.Errorf("%w: bind group %q: %d bindings for a layout with %d entries",
			ErrInvalidArgument, desc.Name, len(desc.Bindings), len(l.slots))
	}
	for i, bd := range desc.Bindings {
		slot := l.slots[i]
		if bd.Type != slot.typ {
			return 0, fmt.Errorf("%w: bind group %q: binding %d is %s, layout expects %s",
				ErrInvalidArgument, desc.Name, i, bd.Type, slot.typ)
		}
		switch bd.Type {
		case BindingConstants:
			if uint32(len(bd.Constants)) > slot.constants {
				return 0, fmt.Errorf("%w: bind group %q: binding %d has %d constants, layout allows %d",
					ErrInvalidArgument, desc.Name, i, len(bd.Constants), slot.constants)
			}
		case BindingDescriptor:
			if _, err := lookup(b.resources, "resource", pool.Handle(bd.Resource)); err != nil {
				return 0, err
			}
		}
	}

	h, row, err := b.groups.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	row.name = desc.Name
	row.layout = desc.Layout
	row.entries = make([]groupEntry, len(desc.Bindings))
	for i, bd := range desc.Bindings {
		e := &row.entries[i]
		e.typ = bd.Type
		e.constants = bd.Constants
		e.resource = bd.Resource
		e.offset = bd.Offset
		if bd.Type == BindingTable {
			slot := l.slots[i]
			e.heap = b.heaps[slot.tableHeap]
			if e.table, err = e.heap.allocate(slot.tableSize); err != nil {
				_ = b.groups.Remove(h)
				return 0, err
			}
		}
	}
	l.refs++
	b.log().Debug("gfx: bind group created", "name", desc.Name, "layout", l.name, "id", h)
	return BindGroupID(h), nil
}

// DestroyBindGroup frees the group's heap blocks.
func (b *Backend) DestroyBindGroup(id BindGroupID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	g, err := lookup(b.groups, "bind group", pool.Handle(id))
	if err != nil {
		return err
	}
	layout := g.layout
	if err := remove(b.groups, "bind group", pool.Handle(id)); err != nil {
		return err
	}
	b.unrefLayout(layout)
	return nil
}

// PointerUpdate writes one descriptor into slot Slot of table entry
// Binding. Exactly one of Resource, Texture or Sampler is set; View picks
// the texture view.
type PointerUpdate struct {
	Binding uint32
	Slot    uint32

	Resource ResourceID
	Texture  TextureID
	View     int
	Sampler  SamplerID
}

// updateSource resolves the descriptor an update copies and the descriptor
// kind it holds.
func (b *Backend) updateSource(u PointerUpdate) (descheap.Handle, DescriptorKind, error) {
	set := 0
	for _, ok := range []bool{u.Resource.IsValid(), u.Texture.IsValid(), u.Sampler.IsValid()} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return descheap.Handle{}, 0, fmt.Errorf("%w: update of binding %d slot %d must name exactly one object",
			ErrInvalidArgument, u.Binding, u.Slot)
	}
	switch {
	case u.Resource.IsValid():
		r, err := lookup(b.resources, "resource", pool.Handle(u.Resource))
		if err != nil {
			return descheap.Handle{}, 0, err
		}
		var kind DescriptorKind
		switch r.desc.View {
		case ResourceViewCBV:
			kind = DescriptorCBV
		case ResourceViewSRV:
			kind = DescriptorSRV
		case ResourceViewUAV:
			kind = DescriptorUAV
		default:
			return descheap.Handle{}, 0, fmt.Errorf("%w: resource %q has no view", ErrInvalidArgument, r.desc.Name)
		}
		return r.view, kind, nil
	case u.Texture.IsValid():
		t, err := lookup(b.textures, "texture", pool.Handle(u.Texture))
		if err != nil {
			return descheap.Handle{}, 0, err
		}
		if u.View < 0 || u.View >= len(t.views) {
			return descheap.Handle{}, 0, fmt.Errorf("%w: texture %q has no view %d", ErrInvalidArgument, t.desc.Name, u.View)
		}
		v := t.views[u.View]
		switch v.kind {
		case ViewSampled:
			return v.hd, DescriptorSRV, nil
		case ViewStorage:
			return v.hd, DescriptorUAV, nil
		default:
			return descheap.Handle{}, 0, fmt.Errorf("%w: texture %q: %s view cannot be bound in a table", ErrInvalidArgument, t.desc.Name, v.kind)
		}
	default:
		s, err := lookup(b.samplers, "sampler", pool.Handle(u.Sampler))
		if err != nil {
			return descheap.Handle{}, 0, err
		}
		return s.hd, DescriptorSampler, nil
	}
}

// rangeAt returns the kind of the range covering slot.
func rangeAt(ranges []TableRange, slot uint32) (DescriptorKind, bool) {
	var off uint32
	for _, r := range ranges {
		if slot < off+r.Count {
			return r.Kind, true
		}
		off += r.Count
	}
	return 0, false
}

// UpdateBindGroup copies descriptors into the group's tables. All copies
// into the same heap are issued as one native call.
func (b *Backend) UpdateBindGroup(id BindGroupID, updates []PointerUpdate) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	g, err := lookup(b.groups, "bind group", pool.Handle(id))
	if err != nil {
		return err
	}
	l, err := lookup(b.layouts, "bind layout", pool.Handle(g.layout))
	if err != nil {
		return err
	}

	var batches [descheap.KindCount][]native.DescriptorCopy
	for _, u := range updates {
		if int(u.Binding) >= len(g.entries) || g.entries[u.Binding].typ != BindingTable {
			return fmt.Errorf("%w: bind group %q: binding %d is not a table", ErrInvalidArgument, g.name, u.Binding)
		}
		e := &g.entries[u.Binding]
		want, ok := rangeAt(l.slots[u.Binding].ranges, u.Slot)
		if !ok {
			return fmt.Errorf("%w: bind group %q: slot %d outside table %d", ErrInvalidArgument, g.name, u.Slot, u.Binding)
		}
		src, kind, err := b.updateSource(u)
		if err != nil {
			return err
		}
		if kind != want {
			return fmt.Errorf("%w: bind group %q: %s written to a %s slot", ErrInvalidArgument, g.name, kind, want)
		}
		dst := e.heap.slot(e.table, u.Slot)
		batches[e.heap.kind] = append(batches[e.heap.kind], native.DescriptorCopy{
			Dst:   native.CPUHandle(dst.CPU),
			Src:   native.CPUHandle(src.CPU),
			Count: 1,
		})
	}
	for k, copies := range batches {
		if len(copies) == 0 {
			continue
		}
		if err := b.dev.CopyDescriptors(nativeHeapKinds[k], copies); err != nil {
			return b.deviceError("copy descriptors", err)
		}
	}
	return nil
}

// UpdateBindGroupConstants replaces the constants of entry binding.
func (b *Backend) UpdateBindGroupConstants(id BindGroupID, binding uint32, data []uint32) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	g, err := lookup(b.groups, "bind group", pool.Handle(id))
	if err != nil {
		return err
	}
	l, err := lookup(b.layouts, "bind layout", pool.Handle(g.layout))
	if err != nil {
		return err
	}
	if int(binding) >= len(g.entries) || g.entries[binding].typ != BindingConstants {
		return fmt.Errorf("%w: bind group %q: binding %d is not constants", ErrInvalidArgument, g.name, binding)
	}
	if uint32(len(data)) > l.slots[binding].constants {
		return fmt.Errorf("%w: bind group %q: %d constants, layout allows %d",
			ErrInvalidArgument, g.name, len(data), l.slots[binding].constants)
	}
	g.entries[binding].constants = data
	return nil
}
