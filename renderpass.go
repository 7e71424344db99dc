package gfx

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// LoadAction selects what happens to an attachment when a pass begins.
type LoadAction uint8

const (
	LoadActionLoad LoadAction = iota
	LoadActionClear
	// LoadActionDontCare leaves the contents undefined. Devices without a
	// discard load clear instead.
	LoadActionDontCare
)

func (a LoadAction) op() gputypes.LoadOp {
	if a == LoadActionLoad {
		return gputypes.LoadOpLoad
	}
	return gputypes.LoadOpClear
}

// StoreAction selects what happens to an attachment when a pass ends.
type StoreAction uint8

const (
	StoreActionStore StoreAction = iota
	StoreActionDiscard
)

func (a StoreAction) op() gputypes.StoreOp {
	if a == StoreActionDiscard {
		return gputypes.StoreOpDiscard
	}
	return gputypes.StoreOpStore
}

// ColorAttachment targets the first render target view of Texture, or the
// current back buffer of Swapchain when Swapchain is set. Clear overrides
// the texture's clear color.
type ColorAttachment struct {
	Texture   TextureID
	Swapchain SwapchainID
	Load      LoadAction
	Store     StoreAction
	Clear     *gputypes.Color
}

// DepthAttachment targets the depth view of Texture. ReadOnly selects the
// read-only depth view, which must have been created with the texture.
type DepthAttachment struct {
	Texture      TextureID
	Load         LoadAction
	Store        StoreAction
	StencilLoad  LoadAction
	StencilStore StoreAction
	Clear        *float32
	ClearStencil uint32
	ReadOnly     bool
}

// RenderPassDesc describes the attachments of a render pass. A pass has
// color attachments, a depth attachment or both.
type RenderPassDesc struct {
	Name   string
	Colors []ColorAttachment
	Depth  *DepthAttachment
}

// SwapchainPass returns a pass rendering into the current back buffer of
// sc. A nil clear keeps the swapchain's clear color.
func SwapchainPass(sc SwapchainID, load LoadAction, clear *gputypes.Color) RenderPassDesc {
	return RenderPassDesc{Colors: []ColorAttachment{{Swapchain: sc, Load: load, Clear: clear}}}
}

// ColorPass returns a pass with one color attachment.
func ColorPass(tex TextureID, load LoadAction) RenderPassDesc {
	return RenderPassDesc{Colors: []ColorAttachment{{Texture: tex, Load: load}}}
}

// ColorDepthPass returns a pass with one color and one depth attachment,
// both using load.
func ColorDepthPass(color, depth TextureID, load LoadAction) RenderPassDesc {
	return RenderPassDesc{
		Colors: []ColorAttachment{{Texture: color, Load: load}},
		Depth:  &DepthAttachment{Texture: depth, Load: load, StencilLoad: load},
	}
}

// DepthPass returns a depth-only pass.
func DepthPass(depth TextureID, load LoadAction) RenderPassDesc {
	return RenderPassDesc{Depth: &DepthAttachment{Texture: depth, Load: load, StencilLoad: load}}
}

func (b *Backend) colorTarget(a ColorAttachment) (native.RenderPassColor, [2]uint32, error) {
	out := native.RenderPassColor{Load: a.Load.op(), Store: a.Store.op()}
	var size [2]uint32
	if a.Swapchain.IsValid() {
		s, err := lookup(b.swapchains, "swapchain", pool.Handle(a.Swapchain))
		if err != nil {
			return out, size, err
		}
		tex, rtv, err := s.current()
		if err != nil {
			return out, size, err
		}
		out.View, out.Texture, out.Clear = native.CPUHandle(rtv.CPU), tex, s.desc.ClearColor
		size = [2]uint32{s.desc.Width, s.desc.Height}
	} else {
		t, err := lookup(b.textures, "texture", pool.Handle(a.Texture))
		if err != nil {
			return out, size, err
		}
		v, ok := t.find(ViewRenderTarget)
		if !ok {
			return out, size, fmt.Errorf("%w: texture %q has no render target view", ErrInvalidArgument, t.desc.Name)
		}
		out.View, out.Texture, out.Clear = native.CPUHandle(v.hd.CPU), t.tex, t.desc.ClearColor
		size = [2]uint32{t.desc.Width, t.desc.Height}
	}
	if a.Clear != nil {
		out.Clear = *a.Clear
	}
	return out, size, nil
}

func (b *Backend) depthTarget(a *DepthAttachment) (*native.RenderPassDepth, [2]uint32, error) {
	var size [2]uint32
	t, err := lookup(b.textures, "texture", pool.Handle(a.Texture))
	if err != nil {
		return nil, size, err
	}
	kind := ViewDepthStencil
	if a.ReadOnly {
		kind = ViewDepthReadOnly
	}
	v, ok := t.find(kind)
	if !ok {
		return nil, size, fmt.Errorf("%w: texture %q has no %s view", ErrInvalidArgument, t.desc.Name, kind)
	}
	out := &native.RenderPassDepth{
		View:         native.CPUHandle(v.hd.CPU),
		Texture:      t.tex,
		DepthLoad:    a.Load.op(),
		DepthStore:   a.Store.op(),
		StencilLoad:  a.StencilLoad.op(),
		StencilStore: a.StencilStore.op(),
		ClearDepth:   t.desc.ClearDepth,
		ClearStencil: a.ClearStencil,
		ReadOnly:     a.ReadOnly,
	}
	if a.Clear != nil {
		out.ClearDepth = *a.Clear
	}
	if a.ReadOnly {
		out.DepthLoad, out.DepthStore = gputypes.LoadOpLoad, gputypes.StoreOpStore
	}
	return out, [2]uint32{t.desc.Width, t.desc.Height}, nil
}

// BeginRenderPass opens a render pass and sets the viewport and scissor to
// the size of the first attachment. Passes do not nest.
func (cb *CommandBuffer) BeginRenderPass(desc RenderPassDesc) {
	if !cb.recording("BeginRenderPass", false) {
		return
	}
	if len(desc.Colors) == 0 && desc.Depth == nil {
		cb.fail(fmt.Errorf("%w: render pass %q has no attachments", ErrInvalidArgument, desc.Name))
		return
	}
	nd := &native.RenderPassDesc{Label: cb.b.name(desc.Name), Colors: make([]native.RenderPassColor, 0, len(desc.Colors))}
	var size [2]uint32
	for _, a := range desc.Colors {
		c, sz, err := cb.b.colorTarget(a)
		if err != nil {
			cb.fail(fmt.Errorf("render pass %q: %w", desc.Name, err))
			return
		}
		if size == [2]uint32{} {
			size = sz
		}
		nd.Colors = append(nd.Colors, c)
	}
	if desc.Depth != nil {
		d, sz, err := cb.b.depthTarget(desc.Depth)
		if err != nil {
			cb.fail(fmt.Errorf("render pass %q: %w", desc.Name, err))
			return
		}
		if size == [2]uint32{} {
			size = sz
		}
		nd.Depth = d
	}

	c := cb.c
	c.list.BeginRenderPass(nd)
	c.inPass = true
	c.list.SetViewports([]native.Viewport{{Width: float32(size[0]), Height: float32(size[1]), MaxDepth: 1}})
	c.list.SetScissorRects([]native.Rect{{Width: size[0], Height: size[1]}})
}

// EndRenderPass closes the open render pass.
func (cb *CommandBuffer) EndRenderPass() {
	if cb.c.err != nil && cb.c.inPass {
		cb.c.list.EndRenderPass()
		cb.c.inPass = false
		return
	}
	if !cb.recording("EndRenderPass", true) {
		return
	}
	cb.c.list.EndRenderPass()
	cb.c.inPass = false
}

// Viewport is a float rectangle with a depth range.
type Viewport = native.Viewport

// Rect is an integer scissor rectangle.
type Rect = native.Rect

// SetViewport replaces the viewport of the open pass.
func (cb *CommandBuffer) SetViewport(vp Viewport) {
	if !cb.recording("SetViewport", true) {
		return
	}
	cb.c.list.SetViewports([]native.Viewport{vp})
}

// SetScissor replaces the scissor rectangle of the open pass.
func (cb *CommandBuffer) SetScissor(r Rect) {
	if !cb.recording("SetScissor", true) {
		return
	}
	cb.c.list.SetScissorRects([]native.Rect{r})
}
