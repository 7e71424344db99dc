package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

// Swapchain renders into a ring of offscreen back buffers. With a surface,
// Present copies the current back buffer into the acquired surface
// texture.
type Swapchain struct {
	dev     *Device
	label   string
	desc    native.SwapchainDesc
	buffers []*Texture
	current int

	configured bool
	encoder    hal.CommandEncoder
	// inflight holds present copies until their submission completes.
	inflight []presentCopy
}

type presentCopy struct {
	cmd        hal.CommandBuffer
	submission uint64
}

func (d *Device) CreateSwapchain(desc *native.SwapchainDesc, queue native.Queue) (native.Swapchain, error) {
	if _, ok := queue.(*Queue); !ok {
		return nil, fmt.Errorf("wgpu: foreign queue %T", queue)
	}
	if desc.BufferCount < 2 {
		return nil, fmt.Errorf("wgpu: swapchain %q needs at least 2 buffers", desc.Label)
	}
	s := &Swapchain{dev: d, label: desc.Label, desc: *desc}
	if err := s.allocate(); err != nil {
		return nil, err
	}
	if err := s.configure(); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) allocate() error {
	s.buffers = make([]*Texture, 0, s.desc.BufferCount)
	for i := range s.desc.BufferCount {
		td := native.TextureDesc{
			Label:              fmt.Sprintf("%s back buffer %d", s.label, i),
			Width:              s.desc.Width,
			Height:             s.desc.Height,
			DepthOrArrayLayers: 1,
			MipLevels:          1,
			SampleCount:        1,
			Dimension:          gputypes.TextureDimension2D,
			Format:             s.desc.Format,
			Usage:              gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		}
		tex, err := s.dev.createTexture(&td)
		if err != nil {
			s.releaseBuffers()
			return err
		}
		s.buffers = append(s.buffers, &Texture{dev: s.dev, tex: tex, desc: td})
	}
	s.current = 0
	return nil
}

func (s *Swapchain) releaseBuffers() {
	for _, b := range s.buffers {
		s.dev.hal.DestroyTexture(b.tex)
	}
	s.buffers = nil
}

func (s *Swapchain) configure() error {
	surf := s.dev.surface
	if surf == nil {
		return nil
	}
	mode := gputypes.PresentModeFifo
	if s.desc.AllowTearing {
		mode = gputypes.PresentModeImmediate
	}
	err := surf.Configure(s.dev.hal, &hal.SurfaceConfiguration{
		Width:       s.desc.Width,
		Height:      s.desc.Height,
		Format:      s.desc.Format,
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
		PresentMode: mode,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("wgpu: configure surface for %q: %w", s.label, err)
	}
	s.configured = true
	return nil
}

func (s *Swapchain) Desc() native.SwapchainDesc     { return s.desc }
func (s *Swapchain) BufferCount() int               { return len(s.buffers) }
func (s *Swapchain) BackBuffer(i int) native.Texture { return s.buffers[i] }
func (s *Swapchain) CurrentIndex() int              { return s.current }

// Present rotates the back buffers. The present mode is fixed when the
// surface is configured, so syncInterval and flags only matter there.
func (s *Swapchain) Present(_ uint32, _ native.PresentFlags) error {
	if s.configured {
		if err := s.presentToSurface(); err != nil {
			return err
		}
	}
	s.current = (s.current + 1) % len(s.buffers)
	return nil
}

func (s *Swapchain) presentToSurface() error {
	d := s.dev
	s.retire(d.queue.PollCompleted())

	acquired, err := d.surface.AcquireTexture(nil)
	if err != nil {
		return fmt.Errorf("wgpu: acquire surface texture: %w", err)
	}
	if s.encoder == nil {
		if s.encoder, err = d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: s.label + " present"}); err != nil {
			d.surface.DiscardTexture(acquired.Texture)
			return fmt.Errorf("wgpu: create present encoder: %w", err)
		}
	}
	if err := s.encoder.BeginEncoding(s.label + " present"); err != nil {
		d.surface.DiscardTexture(acquired.Texture)
		return fmt.Errorf("wgpu: begin present copy: %w", err)
	}
	back := s.buffers[s.current]
	s.encoder.CopyTextureToTexture(back.tex, acquired.Texture, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: back.tex, Aspect: gputypes.TextureAspectAll},
		DstBase: hal.ImageCopyTexture{Texture: acquired.Texture, Aspect: gputypes.TextureAspectAll},
		Size:    hal.Extent3D{Width: s.desc.Width, Height: s.desc.Height, DepthOrArrayLayers: 1},
	}})
	cmd, err := s.encoder.EndEncoding()
	if err != nil {
		d.surface.DiscardTexture(acquired.Texture)
		return fmt.Errorf("wgpu: end present copy: %w", err)
	}
	idx, err := d.submit([]hal.CommandBuffer{cmd})
	if err != nil {
		d.hal.FreeCommandBuffer(cmd)
		d.surface.DiscardTexture(acquired.Texture)
		return fmt.Errorf("wgpu: submit present copy: %w", err)
	}
	s.inflight = append(s.inflight, presentCopy{cmd: cmd, submission: idx})
	if err := d.queue.Present(d.surface, acquired.Texture, nil); err != nil {
		return fmt.Errorf("wgpu: present %q: %w", s.label, err)
	}
	if acquired.Suboptimal {
		hal.Logger().Debug("wgpu: suboptimal surface", "swapchain", s.label)
	}
	return nil
}

// retire frees present copies whose submissions have completed.
func (s *Swapchain) retire(done uint64) {
	kept := s.inflight[:0]
	for _, p := range s.inflight {
		if p.submission <= done {
			s.dev.hal.FreeCommandBuffer(p.cmd)
		} else {
			kept = append(kept, p)
		}
	}
	s.inflight = kept
}

func (s *Swapchain) Resize(width, height uint32) error {
	s.releaseBuffers()
	s.desc.Width, s.desc.Height = width, height
	if err := s.allocate(); err != nil {
		return err
	}
	return s.configure()
}

func (s *Swapchain) Release() {
	if s.configured {
		if err := s.dev.hal.WaitIdle(); err != nil {
			hal.Logger().Warn("wgpu: wait idle before releasing swapchain", "err", err)
		}
		s.retire(s.dev.queue.PollCompleted())
		s.dev.surface.Unconfigure(s.dev.hal)
		s.configured = false
	}
	if s.encoder != nil {
		s.encoder.Destroy()
	}
	s.releaseBuffers()
}
