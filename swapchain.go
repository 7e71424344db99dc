package gfx

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// SwapchainDesc describes a presentable ring of back buffers.
type SwapchainDesc struct {
	Name   string
	Width  uint32
	Height uint32
	// Format defaults to the device's preferred surface format, or
	// BGRA8Unorm when it has none.
	Format gputypes.TextureFormat
	// Buffers defaults to Config.Swapchain.Buffers.
	Buffers      uint32
	VSync        bool
	AllowTearing bool
	// Queue presents the swapchain. Zero means the graphics queue.
	Queue QueueID
	// ClearColor is used by render passes that clear the back buffer
	// without a color of their own.
	ClearColor gputypes.Color
}

// surfaceFormatter is implemented by devices that know the format of the
// surface they present to.
type surfaceFormatter interface {
	SurfaceFormat() gputypes.TextureFormat
}

type swapchain struct {
	sc    native.Swapchain
	desc  SwapchainDesc
	queue native.Queue
	heap  *descriptorHeap
	rtvs  []descheap.Handle

	// fence is signalled with frame after every Present.
	fence   native.Fence
	frame   uint64
	latency uint64
}

func (s *swapchain) releaseViews() {
	for _, hd := range s.rtvs {
		s.heap.free(hd)
	}
	s.rtvs = s.rtvs[:0]
}

func (s *swapchain) Release() {
	s.releaseViews()
	if s.fence != nil {
		s.fence.Release()
	}
	if s.sc != nil {
		s.sc.Release()
	}
}

func (s *swapchain) current() (native.Texture, descheap.Handle, error) {
	i := s.sc.CurrentIndex()
	if i < 0 || i >= len(s.rtvs) {
		return nil, descheap.Handle{}, fmt.Errorf("%w: swapchain %q has no view for back buffer %d", ErrInvalidArgument, s.desc.Name, i)
	}
	return s.sc.BackBuffer(i), s.rtvs[i], nil
}

func (b *Backend) createBackBufferViews(s *swapchain) error {
	for i := range s.sc.BufferCount() {
		hd, err := s.heap.writeView(&native.ViewDesc{
			Kind:      native.ViewRenderTarget,
			Texture:   s.sc.BackBuffer(i),
			Dimension: gputypes.TextureViewDimension2D,
		})
		if err != nil {
			return err
		}
		s.rtvs = append(s.rtvs, hd)
	}
	return nil
}

// CreateSwapchain creates a swapchain and one render target view per back
// buffer.
func (b *Backend) CreateSwapchain(desc SwapchainDesc) (SwapchainID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	if desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("%w: swapchain %q has zero size", ErrInvalidArgument, desc.Name)
	}
	if desc.Buffers == 0 {
		desc.Buffers = b.cfg.Swapchain.Buffers
	}
	if desc.Buffers < 2 {
		return 0, fmt.Errorf("%w: swapchain %q needs at least 2 buffers", ErrInvalidArgument, desc.Name)
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		desc.Format = gputypes.TextureFormatBGRA8Unorm
		if sf, ok := b.dev.(surfaceFormatter); ok && sf.SurfaceFormat() != gputypes.TextureFormatUndefined {
			desc.Format = sf.SurfaceFormat()
		}
	}
	if !desc.Queue.IsValid() {
		desc.Queue = b.GraphicsQueue()
	}
	qr, err := lookup(b.queues, "queue", pool.Handle(desc.Queue))
	if err != nil {
		return 0, err
	}

	h, row, err := b.swapchains.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	fail := func(err error) (SwapchainID, error) {
		_ = b.swapchains.Remove(h)
		return 0, fmt.Errorf("create swapchain %q: %w", desc.Name, err)
	}

	row.desc = desc
	row.queue = qr.q
	row.heap = b.heaps[descheap.KindRTV]
	row.latency = uint64(b.cfg.Swapchain.MaxFrameLatency)
	row.sc, err = b.dev.CreateSwapchain(&native.SwapchainDesc{
		Label:        b.name(desc.Name),
		Width:        desc.Width,
		Height:       desc.Height,
		Format:       desc.Format,
		BufferCount:  desc.Buffers,
		AllowTearing: desc.AllowTearing,
	}, qr.q)
	if err != nil {
		return fail(b.deviceError("create swapchain", err))
	}
	if row.fence, err = b.dev.CreateFence(0); err != nil {
		return fail(b.deviceError("create frame fence", err))
	}
	if err := b.createBackBufferViews(row); err != nil {
		return fail(err)
	}

	b.log().Info("gfx: swapchain created", "name", desc.Name,
		"size", fmt.Sprintf("%dx%d", desc.Width, desc.Height),
		"format", desc.Format, "buffers", desc.Buffers, "vsync", desc.VSync)
	return SwapchainID(h), nil
}

// DestroySwapchain waits for every presented frame and releases the
// swapchain.
func (b *Backend) DestroySwapchain(ctx context.Context, id SwapchainID) error {
	if err := b.waitFrames(ctx, id, 0); err != nil {
		return err
	}
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	return remove(b.swapchains, "swapchain", pool.Handle(id))
}

// RecreateSwapchain resizes the back buffers. It waits until no frame is
// in flight, then recreates the render target views.
func (b *Backend) RecreateSwapchain(ctx context.Context, id SwapchainID, width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: swapchain resize to %dx%d", ErrInvalidArgument, width, height)
	}
	if err := b.waitFrames(ctx, id, 0); err != nil {
		return err
	}
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	s, err := lookup(b.swapchains, "swapchain", pool.Handle(id))
	if err != nil {
		return err
	}
	s.releaseViews()
	if err := s.sc.Resize(width, height); err != nil {
		err = b.deviceError("resize swapchain", err)
		// The old buffers are still in place; keep them renderable.
		if verr := b.createBackBufferViews(s); verr != nil {
			return errors.Join(err, verr)
		}
		return err
	}
	s.desc.Width, s.desc.Height = width, height
	if err := b.createBackBufferViews(s); err != nil {
		return err
	}
	b.log().Info("gfx: swapchain resized", "name", s.desc.Name, "size", fmt.Sprintf("%dx%d", width, height))
	return nil
}

// CurrentBackBuffer returns the index of the back buffer the next render
// pass targets.
func (b *Backend) CurrentBackBuffer(id SwapchainID) (int, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	s, err := lookup(b.swapchains, "swapchain", pool.Handle(id))
	if err != nil {
		return 0, err
	}
	return s.sc.CurrentIndex(), nil
}

// Present presents the current back buffer and marks the end of a frame.
func (b *Backend) Present(id SwapchainID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	s, err := lookup(b.swapchains, "swapchain", pool.Handle(id))
	if err != nil {
		return err
	}
	var (
		sync  uint32
		flags native.PresentFlags
	)
	if s.desc.VSync {
		sync = 1
	} else if s.desc.AllowTearing {
		flags |= native.PresentAllowTearing
	}
	if err := s.sc.Present(sync, flags); err != nil {
		return b.deviceError("present", err)
	}
	s.frame++
	if err := s.queue.Signal(s.fence, s.frame); err != nil {
		return b.deviceError("signal frame fence", err)
	}
	return nil
}

// WaitFrameLatency blocks until at most Config.Swapchain.MaxFrameLatency
// presented frames are still executing.
func (b *Backend) WaitFrameLatency(ctx context.Context, id SwapchainID) error {
	return b.waitFrames(ctx, id, -1)
}

// waitFrames waits until at most inFlight frames are pending. A negative
// inFlight uses the swapchain's latency.
func (b *Backend) waitFrames(ctx context.Context, id SwapchainID, inFlight int) error {
	if err := b.enter(); err != nil {
		return err
	}
	s, err := lookup(b.swapchains, "swapchain", pool.Handle(id))
	if err != nil {
		b.exit()
		return err
	}
	limit := s.latency
	if inFlight >= 0 {
		limit = uint64(inFlight)
	}
	fence, frame := s.fence, s.frame
	b.exit()
	if frame <= limit {
		return nil
	}
	return b.waitFence(ctx, fence, frame-limit)
}
