package gfx

import "log/slog"

// Option configures a Backend during creation.
//
// Example:
//
//	cfg, err := gfx.LoadConfig("gfx.toml")
//	if err != nil {
//	    return err
//	}
//	b, err := gfx.New(dev, gfx.WithConfig(cfg), gfx.WithLogger(slog.Default()))
type Option func(*options)

type options struct {
	cfg    Config
	logger *slog.Logger
}

func defaultOptions() options {
	return options{cfg: DefaultConfig()}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets a logger for this backend only.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// HeapKind identifies a descriptor heap.
type HeapKind uint8

const (
	HeapResource HeapKind = iota // shader-visible CBV/SRV/UAV
	HeapSampler
	HeapRTV
	HeapDSV
)

// WithHeapSize sets the descriptor capacity of one heap.
func WithHeapSize(kind HeapKind, n uint32) Option {
	return func(o *options) {
		switch kind {
		case HeapResource:
			o.cfg.Heaps.Resource = n
		case HeapSampler:
			o.cfg.Heaps.Sampler = n
		case HeapRTV:
			o.cfg.Heaps.RTV = n
		case HeapDSV:
			o.cfg.Heaps.DSV = n
		}
	}
}

// PoolKind identifies a handle pool.
type PoolKind uint8

const (
	PoolResources PoolKind = iota
	PoolTextures
	PoolSamplers
	PoolSwapchains
	PoolSemaphores
	PoolShaders
	PoolBindLayouts
	PoolBindGroups
	PoolCommandBuffers
	PoolQueues
	PoolIndirectSignatures
)

// WithPoolCapacity sets the capacity of one handle pool.
func WithPoolCapacity(kind PoolKind, n int) Option {
	return func(o *options) {
		p := &o.cfg.Pools
		switch kind {
		case PoolResources:
			p.Resources = n
		case PoolTextures:
			p.Textures = n
		case PoolSamplers:
			p.Samplers = n
		case PoolSwapchains:
			p.Swapchains = n
		case PoolSemaphores:
			p.Semaphores = n
		case PoolShaders:
			p.Shaders = n
		case PoolBindLayouts:
			p.BindLayouts = n
		case PoolBindGroups:
			p.BindGroups = n
		case PoolCommandBuffers:
			p.CommandBuffers = n
		case PoolQueues:
			p.Queues = n
		case PoolIndirectSignatures:
			p.IndirectSignatures = n
		}
	}
}
