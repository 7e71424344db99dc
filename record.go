package gfx

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// BindPoint selects the graphics or the compute binding slots.
type BindPoint uint8

const (
	BindGraphics BindPoint = iota
	BindCompute
)

func (p BindPoint) native() native.BindPoint {
	if p == BindCompute {
		return native.BindCompute
	}
	return native.BindGraphics
}

// BindLayout binds a layout at point together with the shader-visible
// descriptor heaps. Later BindGroup calls use point.
func (cb *CommandBuffer) BindLayout(point BindPoint, id BindLayoutID) {
	c := cb.c
	if !cb.recording("BindLayout", c.inPass) {
		return
	}
	l, err := lookup(cb.b.layouts, "bind layout", pool.Handle(id))
	if err != nil {
		cb.fail(err)
		return
	}
	c.list.SetDescriptorHeaps([]native.DescriptorHeap{
		cb.b.heaps[descheap.KindResource].native,
		cb.b.heaps[descheap.KindSampler].native,
	})
	c.list.SetRootSignature(point.native(), l.sig)
	c.layouts[point] = id
	c.point = point
}

// BindShader binds a shader's pipeline. The primitive topology is part of
// the pipeline, so it is bound with it. If the shader's layout is not bound
// at its bind point yet, BindShader binds it too.
func (cb *CommandBuffer) BindShader(id ShaderID) {
	c := cb.c
	if !cb.recording("BindShader", c.inPass) {
		return
	}
	s, err := lookup(cb.b.shaders, "shader", pool.Handle(id))
	if err != nil {
		cb.fail(err)
		return
	}
	if s.compute && c.inPass {
		cb.fail(fmt.Errorf("%w: compute shader %q bound inside a render pass", ErrRecordingState, s.name))
		return
	}
	point := BindGraphics
	if s.compute {
		point = BindCompute
	}
	if c.layouts[point] != s.layout {
		cb.BindLayout(point, s.layout)
		if c.err != nil {
			return
		}
	}
	c.list.SetPipeline(s.pipeline)
	c.point = point
	c.bound, c.compute = true, s.compute
}

// BindGroup binds every entry of a group at the current bind point, using
// the root indices of the bound layout. Constants are read from the
// group's slice at this moment.
func (cb *CommandBuffer) BindGroup(id BindGroupID) {
	c := cb.c
	if !cb.recording("BindGroup", c.inPass) {
		return
	}
	g, err := lookup(cb.b.groups, "bind group", pool.Handle(id))
	if err != nil {
		cb.fail(err)
		return
	}
	if g.layout != c.layouts[c.point] {
		cb.fail(fmt.Errorf("%w: bind group %q does not match the bound layout", ErrInvalidArgument, g.name))
		return
	}
	l, err := lookup(cb.b.layouts, "bind layout", pool.Handle(g.layout))
	if err != nil {
		cb.fail(err)
		return
	}
	bp := c.point.native()
	for i, e := range g.entries {
		root := l.slots[i].root
		switch e.typ {
		case BindingConstants:
			if len(e.constants) > 0 {
				c.list.SetRootConstants(bp, root, e.constants, 0)
			}
		case BindingDescriptor:
			r, err := lookup(cb.b.resources, "resource", pool.Handle(e.resource))
			if err != nil {
				cb.fail(fmt.Errorf("bind group %q: %w", g.name, err))
				return
			}
			c.list.SetRootDescriptor(bp, root, r.buf, e.offset)
		case BindingTable:
			c.list.SetRootDescriptorTable(bp, root, native.GPUHandle(e.table.GPU))
		}
	}
}

// VertexBufferBinding binds part of a resource as a vertex stream. A zero
// Size means the rest of the resource.
type VertexBufferBinding struct {
	Resource ResourceID
	Offset   uint64
	Size     uint64
	Stride   uint32
}

// IndexBufferBinding binds part of a resource as the index stream.
type IndexBufferBinding struct {
	Resource ResourceID
	Offset   uint64
	Size     uint64
	Format   gputypes.IndexFormat
}

func (cb *CommandBuffer) buffer(id ResourceID) (*resource, bool) {
	r, err := lookup(cb.b.resources, "resource", pool.Handle(id))
	if err != nil {
		cb.fail(err)
		return nil, false
	}
	return r, true
}

func span(r *resource, offset, size uint64) uint64 {
	if size == 0 && offset < r.desc.Size {
		return r.desc.Size - offset
	}
	return size
}

// BindVertexBuffers binds vertex streams starting at slot.
func (cb *CommandBuffer) BindVertexBuffers(slot uint32, bindings []VertexBufferBinding) {
	if !cb.recording("BindVertexBuffers", cb.c.inPass) {
		return
	}
	views := make([]native.VertexBufferView, 0, len(bindings))
	for _, vb := range bindings {
		r, ok := cb.buffer(vb.Resource)
		if !ok {
			return
		}
		views = append(views, native.VertexBufferView{
			Buffer: r.buf,
			Offset: vb.Offset,
			Size:   span(r, vb.Offset, vb.Size),
			Stride: vb.Stride,
		})
	}
	cb.c.list.SetVertexBuffers(slot, views)
}

// BindIndexBuffer binds the index stream.
func (cb *CommandBuffer) BindIndexBuffer(ib IndexBufferBinding) {
	if !cb.recording("BindIndexBuffer", cb.c.inPass) {
		return
	}
	r, ok := cb.buffer(ib.Resource)
	if !ok {
		return
	}
	format := ib.Format
	if format == gputypes.IndexFormatUndefined {
		format = gputypes.IndexFormatUint16
	}
	cb.c.list.SetIndexBuffer(&native.IndexBufferView{
		Buffer: r.buf,
		Offset: ib.Offset,
		Size:   span(r, ib.Offset, ib.Size),
		Format: format,
	})
}

func (cb *CommandBuffer) drawable(op string) bool {
	if !cb.recording(op, true) {
		return false
	}
	if !cb.c.bound || cb.c.compute {
		cb.fail(fmt.Errorf("%w: %s without a graphics shader", ErrRecordingState, op))
		return false
	}
	return true
}

func (cb *CommandBuffer) dispatchable(op string) bool {
	if !cb.recording(op, false) {
		return false
	}
	if !cb.c.bound || !cb.c.compute {
		cb.fail(fmt.Errorf("%w: %s without a compute shader", ErrRecordingState, op))
		return false
	}
	return true
}

// Draw records a non-indexed draw.
func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if cb.drawable("Draw") {
		cb.c.list.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

// DrawIndexed records an indexed draw.
func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if cb.drawable("DrawIndexed") {
		cb.c.list.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	}
}

// Dispatch records a compute dispatch.
func (cb *CommandBuffer) Dispatch(x, y, z uint32) {
	if cb.dispatchable("Dispatch") {
		cb.c.list.Dispatch(x, y, z)
	}
}

func (cb *CommandBuffer) indirect(op string, sig IndirectSignatureID, want IndirectKind, count uint32, args ResourceID, offset uint64) {
	s, err := lookup(cb.b.indirect, "indirect signature", pool.Handle(sig))
	if err != nil {
		cb.fail(err)
		return
	}
	if s.kind != want {
		cb.fail(fmt.Errorf("%w: %s with a %s signature", ErrInvalidArgument, op, s.kind))
		return
	}
	r, ok := cb.buffer(args)
	if !ok {
		return
	}
	if r.desc.Usage&UsageIndirect == 0 {
		cb.fail(fmt.Errorf("%w: %s: resource %q lacks UsageIndirect", ErrInvalidArgument, op, r.desc.Name))
		return
	}
	if count > 0 && offset+uint64(count-1)*uint64(s.stride)+uint64(want.argsSize()) > r.desc.Size {
		cb.fail(fmt.Errorf("%w: %s: %d commands overrun resource %q", ErrInvalidArgument, op, count, r.desc.Name))
		return
	}
	cb.c.list.ExecuteIndirect(s.sig, count, r.buf, offset, nil, 0)
}

// DrawIndirect records count draws whose arguments are read from args.
func (cb *CommandBuffer) DrawIndirect(sig IndirectSignatureID, count uint32, args ResourceID, offset uint64) {
	if cb.drawable("DrawIndirect") {
		cb.indirect("DrawIndirect", sig, IndirectDraw, count, args, offset)
	}
}

// DrawIndexedIndirect records count indexed draws whose arguments are read
// from args.
func (cb *CommandBuffer) DrawIndexedIndirect(sig IndirectSignatureID, count uint32, args ResourceID, offset uint64) {
	if cb.drawable("DrawIndexedIndirect") {
		cb.indirect("DrawIndexedIndirect", sig, IndirectDrawIndexed, count, args, offset)
	}
}

// DispatchIndirect records a dispatch whose group counts are read from
// args.
func (cb *CommandBuffer) DispatchIndirect(sig IndirectSignatureID, args ResourceID, offset uint64) {
	if cb.dispatchable("DispatchIndirect") {
		cb.indirect("DispatchIndirect", sig, IndirectDispatch, 1, args, offset)
	}
}

// CopyResource copies the whole of src into dst.
func (cb *CommandBuffer) CopyResource(dst, src ResourceID) {
	if !cb.recording("CopyResource", false) {
		return
	}
	d, ok := cb.buffer(dst)
	if !ok {
		return
	}
	s, ok := cb.buffer(src)
	if !ok {
		return
	}
	if d.desc.Size != s.desc.Size {
		cb.fail(fmt.Errorf("%w: CopyResource between %d and %d byte resources", ErrInvalidArgument, d.desc.Size, s.desc.Size))
		return
	}
	cb.c.list.CopyResource(d.buf, s.buf)
}

// CopyBufferRegion copies size bytes between resources.
func (cb *CommandBuffer) CopyBufferRegion(dst ResourceID, dstOffset uint64, src ResourceID, srcOffset, size uint64) {
	if !cb.recording("CopyBufferRegion", false) {
		return
	}
	d, ok := cb.buffer(dst)
	if !ok {
		return
	}
	s, ok := cb.buffer(src)
	if !ok {
		return
	}
	if dstOffset+size > d.desc.Size || srcOffset+size > s.desc.Size {
		cb.fail(fmt.Errorf("%w: CopyBufferRegion out of bounds", ErrInvalidArgument))
		return
	}
	cb.c.list.CopyBufferRegion(d.buf, dstOffset, s.buf, srcOffset, size)
}

// TextureRegion selects one subresource of a texture and an origin in it.
type TextureRegion struct {
	Texture TextureID
	Mip     uint32
	Layer   uint32
	X, Y, Z uint32
}

// BufferLayout describes image data placed in a resource.
type BufferLayout struct {
	Resource     ResourceID
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
}

// Extent is the size of a copied region.
type Extent struct {
	Width, Height, Depth uint32
}

func (e Extent) depth() uint32 { return max(e.Depth, 1) }

func (cb *CommandBuffer) textureLoc(r TextureRegion) (*native.TextureCopyLocation, bool) {
	t, err := lookup(cb.b.textures, "texture", pool.Handle(r.Texture))
	if err != nil {
		cb.fail(err)
		return nil, false
	}
	if r.Mip >= t.desc.MipLevels {
		cb.fail(fmt.Errorf("%w: texture %q has no mip %d", ErrInvalidArgument, t.desc.Name, r.Mip))
		return nil, false
	}
	return &native.TextureCopyLocation{Texture: t.tex, MipLevel: r.Mip, Layer: r.Layer, Origin: [3]uint32{r.X, r.Y, r.Z}}, true
}

func (cb *CommandBuffer) bufferLoc(l BufferLayout) (*native.TextureCopyLocation, bool) {
	r, ok := cb.buffer(l.Resource)
	if !ok {
		return nil, false
	}
	return &native.TextureCopyLocation{Buffer: r.buf, Offset: l.Offset, BytesPerRow: l.BytesPerRow, RowsPerImage: l.RowsPerImage}, true
}

// CopyBufferToTexture uploads image data from a resource into a texture.
func (cb *CommandBuffer) CopyBufferToTexture(dst TextureRegion, src BufferLayout, size Extent) {
	if !cb.recording("CopyBufferToTexture", false) {
		return
	}
	d, ok := cb.textureLoc(dst)
	if !ok {
		return
	}
	s, ok := cb.bufferLoc(src)
	if !ok {
		return
	}
	cb.c.list.CopyTextureRegion(d, s, size.Width, size.Height, size.depth())
}

// CopyTextureToBuffer reads a texture region back into a resource.
func (cb *CommandBuffer) CopyTextureToBuffer(dst BufferLayout, src TextureRegion, size Extent) {
	if !cb.recording("CopyTextureToBuffer", false) {
		return
	}
	d, ok := cb.bufferLoc(dst)
	if !ok {
		return
	}
	s, ok := cb.textureLoc(src)
	if !ok {
		return
	}
	cb.c.list.CopyTextureRegion(d, s, size.Width, size.Height, size.depth())
}

// CopyTexture copies a region between textures.
func (cb *CommandBuffer) CopyTexture(dst, src TextureRegion, size Extent) {
	if !cb.recording("CopyTexture", false) {
		return
	}
	d, ok := cb.textureLoc(dst)
	if !ok {
		return
	}
	s, ok := cb.textureLoc(src)
	if !ok {
		return
	}
	cb.c.list.CopyTextureRegion(d, s, size.Width, size.Height, size.depth())
}
