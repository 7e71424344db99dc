package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

type rootBuffer struct {
	buf    *Buffer
	offset uint64
}

// bindState is what is bound at one bind point. Groups are rebuilt from it
// when a draw or dispatch follows a change.
type bindState struct {
	sig       *RootSignature
	tables    []native.GPUHandle
	roots     []rootBuffer
	consts    [][]uint32
	dirty     []bool
	pipeline  *Pipeline
	pipeDirty bool
}

func (s *bindState) bind(sig *RootSignature) {
	n := len(sig.desc.Params)
	s.sig = sig
	s.tables = make([]native.GPUHandle, n)
	s.roots = make([]rootBuffer, n)
	s.consts = make([][]uint32, n)
	for i, p := range sig.desc.Params {
		if p.Type == native.RootConstants {
			s.consts[i] = make([]uint32, p.Num32BitVals)
		}
	}
	s.dirty = make([]bool, len(sig.groups))
	s.invalidate()
}

// invalidate forces every group and the pipeline to be set again.
func (s *bindState) invalidate() {
	for i := range s.dirty {
		s.dirty[i] = true
	}
	s.pipeDirty = s.pipeline != nil
}

func (s *bindState) touch(param uint32) bool {
	if s.sig == nil || int(param) >= len(s.sig.paramGroups) {
		return false
	}
	for _, g := range s.sig.paramGroups[param] {
		s.dirty[g] = true
	}
	return true
}

// CommandList records into a HAL command encoder. The first error is kept
// and returned by Close.
type CommandList struct {
	dev   *Device
	kind  native.QueueKind
	label string
	enc   hal.CommandEncoder
	alloc *CommandAllocator
	open  bool
	cmd   hal.CommandBuffer
	err   error

	rpass hal.RenderPassEncoder
	cpass hal.ComputePassEncoder
	binds [2]bindState

	viewport  *native.Viewport
	scissor   *native.Rect
	vbufs     []native.VertexBufferView
	ibuf      *native.IndexBufferView
	passDirty bool
	events    int
}

func (d *Device) CreateCommandList(kind native.QueueKind, alloc native.CommandAllocator) (native.CommandList, error) {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("wgpu: foreign command allocator %T", alloc)
	}
	label := kind.String() + " commands"
	enc, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	return &CommandList{dev: d, kind: kind, label: label, enc: enc, alloc: a}, nil
}

func (l *CommandList) Kind() native.QueueKind { return l.kind }

func (l *CommandList) Release() {
	if l.open {
		l.enc.DiscardEncoding()
	}
	l.enc.Destroy()
}

func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
		hal.Logger().Warn("wgpu: recording failed", "list", l.label, "err", err)
	}
}

func (l *CommandList) Reset(alloc native.CommandAllocator) error {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("wgpu: foreign command allocator %T", alloc)
	}
	if l.open {
		l.enc.DiscardEncoding()
	}
	if err := l.enc.BeginEncoding(l.label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	l.alloc = a
	l.open, l.cmd, l.err = true, nil, nil
	l.rpass, l.cpass = nil, nil
	l.binds = [2]bindState{}
	l.viewport, l.scissor, l.vbufs, l.ibuf = nil, nil, nil, nil
	l.events = 0
	return nil
}

func (l *CommandList) Close() error {
	if !l.open {
		return fmt.Errorf("wgpu: close of command list %q that is not recording", l.label)
	}
	l.endComputePass()
	if l.rpass != nil {
		l.fail(fmt.Errorf("wgpu: close inside a render pass"))
		l.rpass.End()
		l.rpass = nil
	}
	l.open = false
	if l.err != nil {
		l.enc.DiscardEncoding()
		return l.err
	}
	cmd, err := l.enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	l.cmd = cmd
	l.alloc.cmds = append(l.alloc.cmds, cmd)
	return nil
}

func (l *CommandList) endComputePass() {
	if l.cpass != nil {
		l.cpass.End()
		l.cpass = nil
	}
}

// outsidePasses ends an implicit compute pass and rejects commands that
// cannot run inside a render pass.
func (l *CommandList) outsidePasses(op string) bool {
	if l.err != nil {
		return false
	}
	l.endComputePass()
	if l.rpass != nil {
		l.fail(fmt.Errorf("wgpu: %s inside a render pass", op))
		return false
	}
	return true
}

func bufferUsage(s native.ResourceState) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if s&native.StateVertexAndConstant != 0 {
		u |= gputypes.BufferUsageVertex | gputypes.BufferUsageUniform
	}
	if s&native.StateIndexBuffer != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if s&native.StateUnorderedAccess != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if s&native.StateAllShaderResource != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if s&native.StateIndirectArgument != 0 {
		u |= gputypes.BufferUsageIndirect
	}
	if s&native.StateCopyDest != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	if s&native.StateCopySource != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	return u
}

func textureUsage(s native.ResourceState) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if s&(native.StateRenderTarget|native.StateDepthWrite|native.StateDepthRead) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if s&native.StateAllShaderResource != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if s&native.StateUnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if s&(native.StateCopyDest|native.StateResolveDest) != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	if s&(native.StateCopySource|native.StateResolveSource) != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	return u
}

func subresourceRange(t *Texture, sub uint32) hal.TextureRange {
	r := hal.TextureRange{Aspect: gputypes.TextureAspectAll}
	if sub == native.AllSubresources {
		r.MipLevelCount = max(t.desc.MipLevels, 1)
		r.ArrayLayerCount = max(t.desc.DepthOrArrayLayers, 1)
		return r
	}
	mips := max(t.desc.MipLevels, 1)
	r.BaseMipLevel, r.BaseArrayLayer = sub%mips, sub/mips
	r.MipLevelCount, r.ArrayLayerCount = 1, 1
	return r
}

// ResourceBarrier turns transitions into HAL buffer and texture
// transitions. Passes already order unordered-access work, so UAV and
// aliasing barriers only end an open compute pass.
func (l *CommandList) ResourceBarrier(barriers []native.Barrier) {
	if !l.outsidePasses("resource barrier") {
		return
	}
	var bufs []hal.BufferBarrier
	var texs []hal.TextureBarrier
	for _, b := range barriers {
		if b.Type != native.BarrierTransition {
			continue
		}
		switch r := b.Resource.(type) {
		case *Buffer:
			bufs = append(bufs, hal.BufferBarrier{Buffer: r.buf, Usage: hal.BufferUsageTransition{
				OldUsage: bufferUsage(b.Before), NewUsage: bufferUsage(b.After),
			}})
		case *Texture:
			texs = append(texs, hal.TextureBarrier{Texture: r.tex, Range: subresourceRange(r, b.Subresource), Usage: hal.TextureUsageTransition{
				OldUsage: textureUsage(b.Before), NewUsage: textureUsage(b.After),
			}})
		default:
			l.fail(fmt.Errorf("wgpu: barrier on foreign resource %T", b.Resource))
			return
		}
	}
	if len(bufs) > 0 {
		l.enc.TransitionBuffers(bufs)
	}
	if len(texs) > 0 {
		l.enc.TransitionTextures(texs)
	}
}

// SetDescriptorHeaps only validates: descriptor handles name their heap.
func (l *CommandList) SetDescriptorHeaps(heaps []native.DescriptorHeap) {
	for _, h := range heaps {
		dh, ok := h.(*DescriptorHeap)
		if !ok {
			l.fail(fmt.Errorf("wgpu: foreign descriptor heap %T", h))
			return
		}
		if !dh.desc.ShaderVisible {
			l.fail(fmt.Errorf("wgpu: descriptor heap %q is not shader visible", dh.desc.Label))
			return
		}
	}
}

func (l *CommandList) SetRootSignature(bind native.BindPoint, sig native.RootSignature) {
	rs, err := rootSignature(sig)
	if err != nil {
		l.fail(err)
		return
	}
	st := &l.binds[bind]
	pipe := st.pipeline
	st.bind(rs)
	st.pipeline = pipe
	st.pipeDirty = pipe != nil
}

func (l *CommandList) SetPipeline(p native.Pipeline) {
	pl, ok := p.(*Pipeline)
	if !ok {
		l.fail(fmt.Errorf("wgpu: foreign pipeline %T", p))
		return
	}
	st := &l.binds[native.BindGraphics]
	if pl.Compute() {
		st = &l.binds[native.BindCompute]
	}
	st.pipeline, st.pipeDirty = pl, true
}

func (l *CommandList) SetRootConstants(bind native.BindPoint, param uint32, values []uint32, offset uint32) {
	st := &l.binds[bind]
	if !st.touch(param) || st.consts[param] == nil {
		l.fail(fmt.Errorf("wgpu: root parameter %d does not hold constants", param))
		return
	}
	if int(offset)+len(values) > len(st.consts[param]) {
		l.fail(fmt.Errorf("wgpu: %d root constants at offset %d overrun parameter %d", len(values), offset, param))
		return
	}
	copy(st.consts[param][offset:], values)
}

func (l *CommandList) SetRootDescriptor(bind native.BindPoint, param uint32, buf native.Buffer, offset uint64) {
	st := &l.binds[bind]
	b, err := halBuffer(buf)
	if err != nil {
		l.fail(err)
		return
	}
	if !st.touch(param) {
		l.fail(fmt.Errorf("wgpu: root parameter %d out of range", param))
		return
	}
	st.roots[param] = rootBuffer{buf: b, offset: offset}
}

func (l *CommandList) SetRootDescriptorTable(bind native.BindPoint, param uint32, base native.GPUHandle) {
	st := &l.binds[bind]
	if !st.touch(param) {
		l.fail(fmt.Errorf("wgpu: root parameter %d out of range", param))
		return
	}
	st.tables[param] = base
}

func (l *CommandList) attachmentView(h native.CPUHandle) (hal.TextureView, error) {
	hp, idx, err := l.dev.heap(uint64(h))
	if err != nil {
		return nil, err
	}
	desc := hp.get(idx)
	if !desc.valid || desc.obj == nil || desc.obj.view == nil {
		return nil, fmt.Errorf("wgpu: attachment descriptor %d of %q is empty", idx, hp.desc.Label)
	}
	l.dev.ref(desc.obj)
	l.alloc.refs = append(l.alloc.refs, desc.obj)
	return desc.obj.view, nil
}

func (l *CommandList) BeginRenderPass(desc *native.RenderPassDesc) {
	if !l.outsidePasses("nested render pass") {
		return
	}
	rd := &hal.RenderPassDescriptor{Label: desc.Label}
	for _, c := range desc.Colors {
		v, err := l.attachmentView(c.View)
		if err != nil {
			l.fail(err)
			return
		}
		rd.ColorAttachments = append(rd.ColorAttachments, hal.RenderPassColorAttachment{
			View:       v,
			LoadOp:     orDefault(c.Load, gputypes.LoadOpClear),
			StoreOp:    orDefault(c.Store, gputypes.StoreOpStore),
			ClearValue: c.Clear,
		})
	}
	if dd := desc.Depth; dd != nil {
		v, err := l.attachmentView(dd.View)
		if err != nil {
			l.fail(err)
			return
		}
		rd.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              v,
			DepthLoadOp:       orDefault(dd.DepthLoad, gputypes.LoadOpClear),
			DepthStoreOp:      orDefault(dd.DepthStore, gputypes.StoreOpStore),
			DepthClearValue:   dd.ClearDepth,
			DepthReadOnly:     dd.ReadOnly,
			StencilLoadOp:     orDefault(dd.StencilLoad, gputypes.LoadOpClear),
			StencilStoreOp:    orDefault(dd.StencilStore, gputypes.StoreOpStore),
			StencilClearValue: dd.ClearStencil,
			StencilReadOnly:   dd.ReadOnly,
		}
		if dd.ReadOnly {
			rd.DepthStencilAttachment.DepthLoadOp = gputypes.LoadOpLoad
			rd.DepthStencilAttachment.StencilLoadOp = gputypes.LoadOpLoad
		}
	}
	l.rpass = l.enc.BeginRenderPass(rd)
	l.binds[native.BindGraphics].invalidate()
	l.passDirty = true
}

func (l *CommandList) EndRenderPass() {
	if l.rpass == nil {
		l.fail(fmt.Errorf("wgpu: end of render pass that was not begun"))
		return
	}
	l.rpass.End()
	l.rpass = nil
}

// SetViewports keeps the first viewport; the HAL has a single one.
func (l *CommandList) SetViewports(vps []native.Viewport) {
	if len(vps) == 0 {
		return
	}
	vp := vps[0]
	l.viewport, l.passDirty = &vp, true
}

func (l *CommandList) SetScissorRects(rects []native.Rect) {
	if len(rects) == 0 {
		return
	}
	r := rects[0]
	l.scissor, l.passDirty = &r, true
}

func (l *CommandList) SetVertexBuffers(start uint32, views []native.VertexBufferView) {
	if need := int(start) + len(views); need > len(l.vbufs) {
		l.vbufs = append(l.vbufs, make([]native.VertexBufferView, need-len(l.vbufs))...)
	}
	copy(l.vbufs[start:], views)
	l.passDirty = true
}

func (l *CommandList) SetIndexBuffer(view *native.IndexBufferView) {
	v := *view
	l.ibuf, l.passDirty = &v, true
}

// flushGraphics applies pending render state before a draw.
func (l *CommandList) flushGraphics() bool {
	if l.err != nil {
		return false
	}
	if l.rpass == nil {
		l.fail(fmt.Errorf("wgpu: draw outside a render pass"))
		return false
	}
	st := &l.binds[native.BindGraphics]
	if st.pipeline == nil || st.sig == nil {
		l.fail(fmt.Errorf("wgpu: draw without a pipeline and root signature"))
		return false
	}
	if st.pipeDirty {
		l.rpass.SetPipeline(st.pipeline.render)
		st.pipeDirty = false
	}
	if l.passDirty {
		if vp := l.viewport; vp != nil {
			l.rpass.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
		}
		if r := l.scissor; r != nil {
			l.rpass.SetScissorRect(r.X, r.Y, r.Width, r.Height)
		}
		for slot, v := range l.vbufs {
			if v.Buffer == nil {
				continue
			}
			b, err := halBuffer(v.Buffer)
			if err != nil {
				l.fail(err)
				return false
			}
			l.rpass.SetVertexBuffer(uint32(slot), b.buf, v.Offset)
		}
		if ib := l.ibuf; ib != nil {
			b, err := halBuffer(ib.Buffer)
			if err != nil {
				l.fail(err)
				return false
			}
			l.rpass.SetIndexBuffer(b.buf, ib.Format, ib.Offset)
		}
		l.passDirty = false
	}
	return l.flushGroups(st, l.rpass.SetBindGroup)
}

func (l *CommandList) flushCompute() bool {
	if l.err != nil {
		return false
	}
	if l.rpass != nil {
		l.fail(fmt.Errorf("wgpu: dispatch inside a render pass"))
		return false
	}
	st := &l.binds[native.BindCompute]
	if st.pipeline == nil || st.sig == nil {
		l.fail(fmt.Errorf("wgpu: dispatch without a pipeline and root signature"))
		return false
	}
	if l.cpass == nil {
		l.cpass = l.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: l.label})
		st.invalidate()
	}
	if st.pipeDirty {
		l.cpass.SetPipeline(st.pipeline.compute)
		st.pipeDirty = false
	}
	return l.flushGroups(st, l.cpass.SetBindGroup)
}

func (l *CommandList) flushGroups(st *bindState, set func(uint32, hal.BindGroup, []uint32)) bool {
	for g, dirty := range st.dirty {
		if !dirty {
			continue
		}
		bg, err := l.buildGroup(st, g)
		if err != nil {
			l.fail(err)
			return false
		}
		set(uint32(g), bg, nil)
		st.dirty[g] = false
	}
	return true
}

// buildGroup creates the bind group of space g from the bound state. The
// group and the views it references live until the allocator is reset.
func (l *CommandList) buildGroup(st *bindState, g int) (hal.BindGroup, error) {
	sig := st.sig
	entries := make([]gputypes.BindGroupEntry, 0, len(sig.entries[g]))
	var refs []*viewObject
	for _, b := range sig.entries[g] {
		var res gputypes.BindingResource
		switch b.source {
		case fromConstants:
			data := make([]byte, constantsSize(b.words))
			for i, v := range st.consts[b.param] {
				binary.LittleEndian.PutUint32(data[i*4:], v)
			}
			buf, off, err := l.alloc.ring.write(data)
			if err != nil {
				return nil, err
			}
			res = gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: off, Size: uint64(len(data))}
		case fromRoot:
			rb := st.roots[b.param]
			if rb.buf == nil {
				return nil, fmt.Errorf("wgpu: root descriptor %d of %q is not set", b.param, sig.desc.Label)
			}
			res = gputypes.BufferBinding{Buffer: rb.buf.buf.NativeHandle(), Offset: rb.offset, Size: rb.buf.size - rb.offset}
		case fromTable:
			base := st.tables[b.param]
			if base == 0 {
				return nil, fmt.Errorf("wgpu: table %d of %q is not set", b.param, sig.desc.Label)
			}
			hp, idx, err := l.dev.heap(uint64(base) + uint64(b.offset))
			if err != nil {
				return nil, err
			}
			desc := hp.get(idx)
			if !desc.valid {
				return nil, fmt.Errorf("wgpu: table %d of %q reads empty descriptor %d", b.param, sig.desc.Label, idx)
			}
			switch {
			case desc.buf != nil:
				res = gputypes.BufferBinding{Buffer: desc.buf.buf.NativeHandle(), Offset: desc.offset, Size: desc.size}
			case desc.obj != nil && desc.obj.sampler != nil:
				res = gputypes.SamplerBinding{Sampler: desc.obj.sampler.NativeHandle()}
			case desc.obj != nil:
				res = gputypes.TextureViewBinding{TextureView: desc.obj.view.NativeHandle()}
			}
			if desc.obj != nil {
				l.dev.ref(desc.obj)
				refs = append(refs, desc.obj)
			}
		case fromStatic:
			res = gputypes.SamplerBinding{Sampler: sig.statics[b.param].NativeHandle()}
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: b.register, Resource: res})
	}
	l.alloc.refs = append(l.alloc.refs, refs...)
	bg, err := l.dev.hal.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s group %d", sig.desc.Label, g),
		Layout:  sig.groups[g],
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group %d of %q: %w", g, sig.desc.Label, err)
	}
	l.alloc.groups = append(l.alloc.groups, bg)
	return bg, nil
}

func (l *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if l.flushGraphics() {
		l.rpass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (l *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if l.flushGraphics() {
		l.rpass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	}
}

func (l *CommandList) Dispatch(x, y, z uint32) {
	if l.flushCompute() {
		l.cpass.Dispatch(x, y, z)
	}
}

// ExecuteIndirect issues one HAL indirect call per record. A GPU count
// buffer is not supported.
func (l *CommandList) ExecuteIndirect(sig native.CommandSignature, maxCount uint32, args native.Buffer, argsOffset uint64, count native.Buffer, _ uint64) {
	if l.err != nil {
		return
	}
	if count != nil {
		l.fail(fmt.Errorf("wgpu: indirect count buffer: %w", native.ErrUnsupported))
		return
	}
	cs, ok := sig.(*CommandSignature)
	if !ok {
		l.fail(fmt.Errorf("wgpu: foreign command signature %T", sig))
		return
	}
	buf, err := halBuffer(args)
	if err != nil {
		l.fail(err)
		return
	}
	if end := argsOffset + uint64(maxCount)*uint64(cs.stride); maxCount > 0 && end-uint64(cs.stride)+uint64(argsSize(cs.kind)) > buf.size {
		l.fail(fmt.Errorf("wgpu: %d indirect records overrun %q", maxCount, buf.label))
		return
	}
	if cs.kind == native.IndirectDispatch {
		if !l.flushCompute() {
			return
		}
	} else if !l.flushGraphics() {
		return
	}
	for i := range uint64(maxCount) {
		off := argsOffset + i*uint64(cs.stride)
		switch cs.kind {
		case native.IndirectDraw:
			l.rpass.DrawIndirect(buf.buf, off)
		case native.IndirectDrawIndexed:
			l.rpass.DrawIndexedIndirect(buf.buf, off)
		case native.IndirectDispatch:
			l.cpass.DispatchIndirect(buf.buf, off)
		}
	}
}

func (l *CommandList) CopyBufferRegion(dst native.Buffer, dstOffset uint64, src native.Buffer, srcOffset uint64, size uint64) {
	if !l.outsidePasses("buffer copy") {
		return
	}
	d, err := halBuffer(dst)
	if err != nil {
		l.fail(err)
		return
	}
	s, err := halBuffer(src)
	if err != nil {
		l.fail(err)
		return
	}
	l.enc.CopyBufferToBuffer(s.buf, d.buf, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
}

func (l *CommandList) CopyResource(dst, src native.Resource) {
	if !l.outsidePasses("resource copy") {
		return
	}
	switch s := src.(type) {
	case *Buffer:
		d, ok := dst.(*Buffer)
		if !ok {
			l.fail(fmt.Errorf("wgpu: copy from buffer %q into %T", s.label, dst))
			return
		}
		l.enc.CopyBufferToBuffer(s.buf, d.buf, []hal.BufferCopy{{Size: min(s.size, d.size)}})
	case *Texture:
		d, ok := dst.(*Texture)
		if !ok {
			l.fail(fmt.Errorf("wgpu: copy from texture %q into %T", s.desc.Label, dst))
			return
		}
		mips := max(min(s.desc.MipLevels, d.desc.MipLevels), 1)
		regions := make([]hal.TextureCopy, 0, mips)
		for m := range mips {
			regions = append(regions, hal.TextureCopy{
				SrcBase: hal.ImageCopyTexture{Texture: s.tex, MipLevel: m, Aspect: gputypes.TextureAspectAll},
				DstBase: hal.ImageCopyTexture{Texture: d.tex, MipLevel: m, Aspect: gputypes.TextureAspectAll},
				Size: hal.Extent3D{
					Width:              max(s.desc.Width>>m, 1),
					Height:             max(s.desc.Height>>m, 1),
					DepthOrArrayLayers: max(s.desc.DepthOrArrayLayers, 1),
				},
			})
		}
		l.enc.CopyTextureToTexture(s.tex, d.tex, regions)
	default:
		l.fail(fmt.Errorf("wgpu: copy from foreign resource %T", src))
	}
}

func copyTexture(loc *native.TextureCopyLocation) (*Texture, hal.ImageCopyTexture, error) {
	t, err := halTexture(loc.Texture)
	if err != nil {
		return nil, hal.ImageCopyTexture{}, err
	}
	return t, hal.ImageCopyTexture{
		Texture:  t.tex,
		MipLevel: loc.MipLevel,
		Origin:   hal.Origin3D{X: loc.Origin[0], Y: loc.Origin[1], Z: loc.Origin[2] + loc.Layer},
		Aspect:   gputypes.TextureAspectAll,
	}, nil
}

func (l *CommandList) CopyTextureRegion(dst, src *native.TextureCopyLocation, width, height, depth uint32) {
	if !l.outsidePasses("texture copy") {
		return
	}
	size := hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: max(depth, 1)}
	switch {
	case src.Texture != nil && dst.Texture != nil:
		s, sb, err := copyTexture(src)
		if err != nil {
			l.fail(err)
			return
		}
		d, db, err := copyTexture(dst)
		if err != nil {
			l.fail(err)
			return
		}
		l.enc.CopyTextureToTexture(s.tex, d.tex, []hal.TextureCopy{{SrcBase: sb, DstBase: db, Size: size}})
	case src.Buffer != nil && dst.Texture != nil:
		s, err := halBuffer(src.Buffer)
		if err != nil {
			l.fail(err)
			return
		}
		d, db, err := copyTexture(dst)
		if err != nil {
			l.fail(err)
			return
		}
		l.enc.CopyBufferToTexture(s.buf, d.tex, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: src.Offset, BytesPerRow: src.BytesPerRow, RowsPerImage: src.RowsPerImage},
			TextureBase:  db,
			Size:         size,
		}})
	case src.Texture != nil && dst.Buffer != nil:
		s, sb, err := copyTexture(src)
		if err != nil {
			l.fail(err)
			return
		}
		d, err := halBuffer(dst.Buffer)
		if err != nil {
			l.fail(err)
			return
		}
		l.enc.CopyTextureToBuffer(s.tex, d.buf, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: dst.Offset, BytesPerRow: dst.BytesPerRow, RowsPerImage: dst.RowsPerImage},
			TextureBase:  sb,
			Size:         size,
		}})
	default:
		l.fail(fmt.Errorf("wgpu: buffer to buffer copy through CopyTextureRegion"))
	}
}

// BeginEvent and EndEvent only track nesting: the HAL encoder has no debug
// markers.
func (l *CommandList) BeginEvent(string) { l.events++ }

func (l *CommandList) EndEvent() {
	if l.events == 0 {
		l.fail(fmt.Errorf("wgpu: EndEvent without BeginEvent"))
		return
	}
	l.events--
}
