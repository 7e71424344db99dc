package wgpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

// Buffer is a HAL buffer.
type Buffer struct {
	dev    *Device
	buf    hal.Buffer
	label  string
	size   uint64
	memory native.MemoryKind
	mapped []byte
}

func (b *Buffer) Label() string { return b.label }
func (b *Buffer) Size() uint64  { return b.size }

// Map maps the whole buffer. Device-local buffers cannot be mapped.
func (b *Buffer) Map() ([]byte, error) {
	if b.memory == native.MemoryDefault {
		return nil, fmt.Errorf("wgpu: map of device-local buffer %q: %w", b.label, native.ErrUnsupported)
	}
	if b.mapped != nil {
		return b.mapped, nil
	}
	m, err := b.dev.hal.MapBuffer(b.buf, 0, b.size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map buffer %q: %w", b.label, err)
	}
	b.mapped = unsafe.Slice((*byte)(m.Ptr), b.size) //nolint:gosec // HAL mapping of b.size bytes
	return b.mapped, nil
}

func (b *Buffer) Unmap() {
	if b.mapped == nil {
		return
	}
	b.mapped = nil
	if err := b.dev.hal.UnmapBuffer(b.buf); err != nil {
		hal.Logger().Warn("wgpu: unmap buffer", "label", b.label, "err", err)
	}
}

func (b *Buffer) Release() {
	b.Unmap()
	b.dev.hal.DestroyBuffer(b.buf)
}

func (d *Device) CreateBuffer(desc *native.BufferDesc) (native.Buffer, error) {
	usage := desc.Usage
	switch desc.Memory {
	case native.MemoryUpload:
		usage |= gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	case native.MemoryReadback:
		usage |= gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	default:
		usage |= gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	}
	buf, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}
	return &Buffer{dev: d, buf: buf, label: desc.Label, size: desc.Size, memory: desc.Memory}, nil
}

// Texture is a HAL texture. Swapchain back buffers are textures the
// swapchain owns.
type Texture struct {
	dev   *Device
	tex   hal.Texture
	desc  native.TextureDesc
	owned bool
}

func (t *Texture) Label() string            { return t.desc.Label }
func (t *Texture) Desc() native.TextureDesc { return t.desc }

// SharedHandle is always 0: the HAL has no cross-process export.
func (t *Texture) SharedHandle() uintptr { return 0 }

func (t *Texture) Release() {
	if t.owned {
		t.dev.hal.DestroyTexture(t.tex)
	}
}

func (d *Device) CreateTexture(desc *native.TextureDesc) (native.Texture, error) {
	if desc.Shared {
		return nil, fmt.Errorf("wgpu: shared texture %q: %w", desc.Label, native.ErrUnsupported)
	}
	tex, err := d.createTexture(desc)
	if err != nil {
		return nil, err
	}
	return &Texture{dev: d, tex: tex, desc: *desc, owned: true}, nil
}

func (d *Device) createTexture(desc *native.TextureDesc) (hal.Texture, error) {
	dim := desc.Dimension
	if dim == gputypes.TextureDimensionUndefined {
		dim = gputypes.TextureDimension2D
	}
	tex, err := d.hal.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: max(desc.DepthOrArrayLayers, 1),
		},
		MipLevelCount: max(desc.MipLevels, 1),
		SampleCount:   max(desc.SampleCount, 1),
		Dimension:     dim,
		Format:        desc.Format,
		Usage:         desc.Usage | gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}
	return tex, nil
}

// halBuffer unwraps a native buffer created by this package.
func halBuffer(b native.Buffer) (*Buffer, error) {
	buf, ok := b.(*Buffer)
	if !ok || buf == nil {
		return nil, fmt.Errorf("wgpu: foreign buffer %T", b)
	}
	return buf, nil
}

func halTexture(t native.Texture) (*Texture, error) {
	tex, ok := t.(*Texture)
	if !ok || tex == nil {
		return nil, fmt.Errorf("wgpu: foreign texture %T", t)
	}
	return tex, nil
}
