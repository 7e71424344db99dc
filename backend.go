package gfx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
	"github.com/gogpu/gfx/shaderc"
)

// closeTimeout bounds the idle wait performed by Close.
const closeTimeout = 5 * time.Second

// Backend is the context every gfx call goes through. It owns the native
// device's descriptor heaps and one pool per handle kind.
//
// A Backend must be driven from a single goroutine; see the package
// documentation.
type Backend struct {
	dev    native.Device
	cfg    Config
	logger *slog.Logger

	busy   atomic.Bool
	closed bool

	heaps [descheap.KindCount]*descriptorHeap

	resources  *pool.Pool[resource]
	textures   *pool.Pool[texture]
	samplers   *pool.Pool[sampler]
	swapchains *pool.Pool[swapchain]
	semaphores *pool.Pool[semaphore]
	shaders    *pool.Pool[shader]
	layouts    *pool.Pool[bindLayout]
	groups     *pool.Pool[bindGroup]
	cmdbufs    *pool.Pool[commandBuffer]
	queues     *pool.Pool[queue]
	indirect   *pool.Pool[indirectSignature]

	defaultQueues [3]QueueID // graphics, transfer, compute

	// compiled is nil when Config.ShaderCache is zero.
	compiled *shaderc.Cache
}

// New creates a backend on dev. It creates the descriptor heaps and the
// three default queues.
func New(dev native.Device, opts ...Option) (*Backend, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidArgument)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Backend{dev: dev, cfg: o.cfg, logger: o.logger}
	if o.cfg.ShaderCache > 0 {
		b.compiled = shaderc.NewCache(o.cfg.ShaderCache)
	}
	propagateLogger(dev, b.log())

	p := o.cfg.Pools
	b.resources = pool.New[resource]("resources", p.Resources)
	b.textures = pool.New[texture]("textures", p.Textures)
	b.samplers = pool.New[sampler]("samplers", p.Samplers)
	b.swapchains = pool.New[swapchain]("swapchains", p.Swapchains)
	b.semaphores = pool.New[semaphore]("semaphores", p.Semaphores)
	b.shaders = pool.New[shader]("shaders", p.Shaders)
	b.layouts = pool.New[bindLayout]("bind layouts", p.BindLayouts)
	b.groups = pool.New[bindGroup]("bind groups", p.BindGroups)
	b.cmdbufs = pool.New[commandBuffer]("command buffers", p.CommandBuffers)
	b.queues = pool.New[queue]("queues", p.Queues)
	b.indirect = pool.New[indirectSignature]("indirect signatures", p.IndirectSignatures)

	if err := b.createHeaps(); err != nil {
		b.releaseHeaps()
		return nil, err
	}
	for i, kind := range []QueueKind{QueueGraphics, QueueTransfer, QueueCompute} {
		id, err := b.createQueue(QueueDesc{Kind: kind})
		if err != nil {
			b.releaseQueues()
			b.releaseHeaps()
			return nil, err
		}
		b.defaultQueues[i] = id
	}

	b.log().Info("gfx: backend created",
		"device", dev.Name(),
		"resource_descriptors", o.cfg.Heaps.Resource,
		"sampler_descriptors", o.cfg.Heaps.Sampler,
		"coalesce", o.cfg.HeapCoalesce)
	return b, nil
}

// Device returns the native device.
func (b *Backend) Device() native.Device { return b.dev }

// Config returns the configuration the backend was created with.
func (b *Backend) Config() Config { return b.cfg }

// enter marks the start of a lifetime call. Overlapping calls from other
// goroutines fail instead of corrupting pool state.
func (b *Backend) enter() error {
	if !b.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	if b.closed {
		b.busy.Store(false)
		return ErrClosed
	}
	return nil
}

func (b *Backend) exit() { b.busy.Store(false) }

// name returns label when debug names are enabled.
func (b *Backend) name(label string) string {
	if b.cfg.DebugNames {
		return label
	}
	return ""
}

// Close waits for the device to go idle, reports every handle that was
// not destroyed, releases it anyway and then releases the heaps and
// default queues. The returned error lists the leaks.
func (b *Backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := b.WaitIdle(ctx); err != nil && !errors.Is(err, ErrClosed) {
		b.log().Warn("gfx: close: device did not go idle", "err", err)
	}

	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	for _, id := range b.defaultQueues {
		_ = b.queues.Remove(pool.Handle(id))
	}
	errs := []error{
		b.drain(b.cmdbufs),
		b.drain(b.groups),
		b.drain(b.shaders),
		b.drain(b.layouts),
		b.drain(b.swapchains),
		b.drain(b.textures),
		b.drain(b.resources),
		b.drain(b.samplers),
		b.drain(b.semaphores),
		b.drain(b.indirect),
		b.drain(b.queues),
	}
	b.releaseHeaps()
	b.closed = true
	b.log().Info("gfx: backend closed")
	return errors.Join(errs...)
}

func (b *Backend) drain(p interface {
	VerifyUninit() error
	Live() []pool.Handle
	Remove(pool.Handle) error
}) error {
	err := p.VerifyUninit()
	if err == nil {
		return nil
	}
	b.log().Warn("gfx: leaked handles", "err", err)
	for _, h := range p.Live() {
		_ = p.Remove(h)
	}
	return err
}

func (b *Backend) releaseQueues() {
	for _, h := range b.queues.Live() {
		_ = b.queues.Remove(h)
	}
}
