package gfx

import (
	"fmt"
	"math/bits"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// TextureUsage is a bit set of the ways a texture is used.
type TextureUsage uint32

const (
	TextureSampled TextureUsage = 1 << iota
	TextureStorage
	TextureRenderTarget
	TextureDepthStencil
	TextureCopySrc
	TextureCopyDst
)

// TextureViewKind selects the descriptor a texture view writes and the
// heap it lives in.
type TextureViewKind uint8

const (
	ViewSampled       TextureViewKind = iota // resource heap, shader visible
	ViewStorage                              // resource heap, shader visible
	ViewRenderTarget                         // RTV heap
	ViewDepthStencil                         // DSV heap
	ViewDepthReadOnly                        // DSV heap, depth reads only
)

func (k TextureViewKind) String() string {
	switch k {
	case ViewSampled:
		return "sampled"
	case ViewStorage:
		return "storage"
	case ViewRenderTarget:
		return "render-target"
	case ViewDepthStencil:
		return "depth-stencil"
	case ViewDepthReadOnly:
		return "depth-read-only"
	default:
		return "unknown"
	}
}

// ViewDesc describes one view of a texture. Zero counts mean every
// remaining mip level or layer from the base.
type ViewDesc struct {
	Kind       TextureViewKind
	Format     gputypes.TextureFormat // undefined means the texture format
	Dimension  gputypes.TextureViewDimension
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// TextureDesc describes a texture and the views created with it.
type TextureDesc struct {
	Name               string
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
	MipLevels          uint32
	SampleCount        uint32
	Dimension          gputypes.TextureDimension
	Format             gputypes.TextureFormat
	Usage              TextureUsage
	Shared             bool

	// ClearColor and ClearDepth are the values render passes clear to
	// when an attachment does not carry its own.
	ClearColor gputypes.Color
	ClearDepth float32

	InitialState State

	// Views lists the views to create. When empty, one view is created
	// per usage bit that needs one, in the order sampled, storage,
	// render target, depth stencil.
	Views []ViewDesc
}

type textureView struct {
	kind TextureViewKind
	heap *descriptorHeap
	hd   descheap.Handle
}

type texture struct {
	tex   native.Texture
	desc  TextureDesc
	views []textureView
}

func (t *texture) Release() {
	for _, v := range t.views {
		v.heap.free(v.hd)
	}
	if t.tex != nil {
		t.tex.Release()
	}
}

// find returns the first view of the given kind.
func (t *texture) find(kind TextureViewKind) (textureView, bool) {
	for _, v := range t.views {
		if v.kind == kind {
			return v, true
		}
	}
	return textureView{}, false
}

func (u TextureUsage) gputypes() gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&TextureSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&TextureStorage != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&(TextureRenderTarget|TextureDepthStencil) != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u&TextureCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&TextureCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	return out
}

func (desc *TextureDesc) normalize() {
	if desc.Height == 0 {
		desc.Height = 1
	}
	if desc.DepthOrArrayLayers == 0 {
		desc.DepthOrArrayLayers = 1
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	if desc.Dimension == gputypes.TextureDimensionUndefined {
		desc.Dimension = gputypes.TextureDimension2D
	}
	if len(desc.Views) == 0 {
		for _, d := range []struct {
			u TextureUsage
			k TextureViewKind
		}{
			{TextureSampled, ViewSampled},
			{TextureStorage, ViewStorage},
			{TextureRenderTarget, ViewRenderTarget},
			{TextureDepthStencil, ViewDepthStencil},
		} {
			if desc.Usage&d.u != 0 {
				desc.Views = append(desc.Views, ViewDesc{Kind: d.k})
			}
		}
	}
}

func (desc *TextureDesc) validate(limits native.Limits) error {
	if desc.Width == 0 {
		return fmt.Errorf("%w: texture %q has zero width", ErrInvalidArgument, desc.Name)
	}
	if limits.MaxTextureDimension2D > 0 && (desc.Width > limits.MaxTextureDimension2D || desc.Height > limits.MaxTextureDimension2D) {
		return fmt.Errorf("%w: texture %q: %dx%d exceeds %d", ErrInvalidArgument, desc.Name, desc.Width, desc.Height, limits.MaxTextureDimension2D)
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: texture %q has no format", ErrInvalidArgument, desc.Name)
	}
	maxMips := uint32(bits.Len32(max(desc.Width, desc.Height)))
	if desc.MipLevels > maxMips {
		return fmt.Errorf("%w: texture %q: %d mip levels, at most %d", ErrInvalidArgument, desc.Name, desc.MipLevels, maxMips)
	}
	if desc.Usage&TextureDepthStencil != 0 && !desc.Format.IsDepthStencil() {
		return fmt.Errorf("%w: texture %q: depth stencil usage needs a depth format", ErrInvalidArgument, desc.Name)
	}
	for i, v := range desc.Views {
		var need TextureUsage
		switch v.Kind {
		case ViewSampled:
			need = TextureSampled
		case ViewStorage:
			need = TextureStorage
		case ViewRenderTarget:
			need = TextureRenderTarget
		case ViewDepthStencil, ViewDepthReadOnly:
			need = TextureDepthStencil
		default:
			return fmt.Errorf("%w: texture %q: view %d has unknown kind", ErrInvalidArgument, desc.Name, i)
		}
		if desc.Usage&need == 0 {
			return fmt.Errorf("%w: texture %q: %s view without matching usage", ErrInvalidArgument, desc.Name, v.Kind)
		}
		if v.BaseMip >= desc.MipLevels || v.BaseMip+v.MipCount > desc.MipLevels {
			return fmt.Errorf("%w: texture %q: view %d mip range out of bounds", ErrInvalidArgument, desc.Name, i)
		}
		if desc.Dimension != gputypes.TextureDimension3D &&
			(v.BaseLayer >= desc.DepthOrArrayLayers || v.BaseLayer+v.LayerCount > desc.DepthOrArrayLayers) {
			return fmt.Errorf("%w: texture %q: view %d layer range out of bounds", ErrInvalidArgument, desc.Name, i)
		}
	}
	return nil
}

func (desc *TextureDesc) initialState() State {
	switch {
	case desc.InitialState != StateCommon:
		return desc.InitialState
	case desc.Usage&TextureDepthStencil != 0:
		return StateDepthWrite
	case desc.Usage&TextureRenderTarget != 0:
		return StateRenderTarget
	default:
		return StateCommon
	}
}

func (desc *TextureDesc) viewDimension(v ViewDesc) gputypes.TextureViewDimension {
	if v.Dimension != gputypes.TextureViewDimensionUndefined {
		return v.Dimension
	}
	switch desc.Dimension {
	case gputypes.TextureDimension1D:
		return gputypes.TextureViewDimension1D
	case gputypes.TextureDimension3D:
		return gputypes.TextureViewDimension3D
	}
	layers := v.LayerCount
	if layers == 0 {
		layers = desc.DepthOrArrayLayers - v.BaseLayer
	}
	if layers > 1 {
		return gputypes.TextureViewDimension2DArray
	}
	return gputypes.TextureViewDimension2D
}

// nativeView converts v into a native view description of tex.
func (desc *TextureDesc) nativeView(tex native.Texture, v ViewDesc) (*native.ViewDesc, descheap.Kind) {
	nv := &native.ViewDesc{
		Texture:        tex,
		Format:         v.Format,
		Dimension:      desc.viewDimension(v),
		BaseMipLevel:   v.BaseMip,
		MipLevelCount:  v.MipCount,
		BaseArrayLayer: v.BaseLayer,
		ArrayLayers:    v.LayerCount,
	}
	switch v.Kind {
	case ViewStorage:
		nv.Kind = native.ViewUnorderedAccess
		return nv, descheap.KindResource
	case ViewRenderTarget:
		nv.Kind = native.ViewRenderTarget
		return nv, descheap.KindRTV
	case ViewDepthStencil:
		nv.Kind = native.ViewDepthStencil
		return nv, descheap.KindDSV
	case ViewDepthReadOnly:
		nv.Kind = native.ViewDepthStencil
		nv.ReadOnlyDepth = true
		return nv, descheap.KindDSV
	default:
		nv.Kind = native.ViewShaderResource
		return nv, descheap.KindResource
	}
}

// CreateTexture creates a texture and every view listed in desc.
func (b *Backend) CreateTexture(desc TextureDesc) (TextureID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	desc.normalize()
	if err := desc.validate(b.dev.Limits()); err != nil {
		return 0, err
	}
	h, row, err := b.textures.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	fail := func(err error) (TextureID, error) {
		_ = b.textures.Remove(h)
		return 0, fmt.Errorf("create texture %q: %w", desc.Name, err)
	}

	tex, err := b.dev.CreateTexture(&native.TextureDesc{
		Label:              b.name(desc.Name),
		Width:              desc.Width,
		Height:             desc.Height,
		DepthOrArrayLayers: desc.DepthOrArrayLayers,
		MipLevels:          desc.MipLevels,
		SampleCount:        desc.SampleCount,
		Dimension:          desc.Dimension,
		Format:             desc.Format,
		Usage:              desc.Usage.gputypes(),
		InitialState:       desc.initialState().toNative(),
		Shared:             desc.Shared,
	})
	if err != nil {
		return fail(b.deviceError("create texture", err))
	}
	row.tex = tex
	row.desc = desc
	row.desc.Views = slices.Clone(desc.Views)
	row.views = make([]textureView, 0, len(desc.Views))

	for _, v := range desc.Views {
		nv, kind := desc.nativeView(tex, v)
		heap := b.heaps[kind]
		hd, err := heap.writeView(nv)
		if err != nil {
			return fail(err)
		}
		row.views = append(row.views, textureView{kind: v.Kind, heap: heap, hd: hd})
	}

	b.log().Debug("gfx: texture created", "name", desc.Name,
		"size", fmt.Sprintf("%dx%dx%d", desc.Width, desc.Height, desc.DepthOrArrayLayers),
		"format", desc.Format, "views", len(row.views), "id", h)
	return TextureID(h), nil
}

// DestroyTexture frees every view descriptor, then the texture.
func (b *Backend) DestroyTexture(id TextureID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	return remove(b.textures, "texture", pool.Handle(id))
}

// TextureGPUIndex returns the shader-visible heap index of view i of a
// texture. Only sampled and storage views have one.
func (b *Backend) TextureGPUIndex(id TextureID, view int) (int32, error) {
	if err := b.enter(); err != nil {
		return -1, err
	}
	defer b.exit()
	t, err := lookup(b.textures, "texture", pool.Handle(id))
	if err != nil {
		return -1, err
	}
	if view < 0 || view >= len(t.views) {
		return -1, fmt.Errorf("%w: texture %q has no view %d", ErrInvalidArgument, t.desc.Name, view)
	}
	v := t.views[view]
	if v.kind != ViewSampled && v.kind != ViewStorage {
		return -1, fmt.Errorf("%w: texture %q: %s view is not shader visible", ErrInvalidArgument, t.desc.Name, v.kind)
	}
	return int32(v.hd.Index), nil
}

// TextureSharedHandle returns the OS handle of a texture created with
// Shared set.
func (b *Backend) TextureSharedHandle(id TextureID) (uintptr, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	t, err := lookup(b.textures, "texture", pool.Handle(id))
	if err != nil {
		return 0, err
	}
	if !t.desc.Shared {
		return 0, fmt.Errorf("%w: texture %q is not shared", ErrInvalidArgument, t.desc.Name)
	}
	return t.tex.SharedHandle(), nil
}

// TextureDescOf returns the normalized description of a texture.
func (b *Backend) TextureDescOf(id TextureID) (TextureDesc, error) {
	if err := b.enter(); err != nil {
		return TextureDesc{}, err
	}
	defer b.exit()
	t, err := lookup(b.textures, "texture", pool.Handle(id))
	if err != nil {
		return TextureDesc{}, err
	}
	desc := t.desc
	desc.Views = slices.Clone(t.desc.Views)
	return desc, nil
}
