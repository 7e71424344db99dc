package gfx

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/gfx/internal/pool"
)

// Config sizes the pools and descriptor heaps of a Backend.
//
// A TOML file may set any subset of the fields; missing fields keep their
// DefaultConfig values:
//
//	debug_names = true
//	heap_coalesce = true
//	shader_cache = 128
//
//	[pools]
//	textures = 4096
//
//	[heaps]
//	resource = 8192
//	sampler = 512
//
//	[swapchain]
//	buffers = 3
//	max_frame_latency = 2
type Config struct {
	Pools     PoolConfig      `toml:"pools"`
	Heaps     HeapConfig      `toml:"heaps"`
	Swapchain SwapchainConfig `toml:"swapchain"`

	// HeapCoalesce merges freed descriptor blocks with their neighbours.
	HeapCoalesce bool `toml:"heap_coalesce"`

	// DebugNames forwards object names to the native layer.
	DebugNames bool `toml:"debug_names"`

	// ShaderCache is the number of compiled sources CreateShaderFromSource
	// keeps. Zero disables the cache.
	ShaderCache int `toml:"shader_cache"`
}

// PoolConfig holds the capacity of each handle pool.
type PoolConfig struct {
	Resources          int `toml:"resources"`
	Textures           int `toml:"textures"`
	Samplers           int `toml:"samplers"`
	Swapchains         int `toml:"swapchains"`
	Semaphores         int `toml:"semaphores"`
	Shaders            int `toml:"shaders"`
	BindLayouts        int `toml:"bind_layouts"`
	BindGroups         int `toml:"bind_groups"`
	CommandBuffers     int `toml:"command_buffers"`
	Queues             int `toml:"queues"`
	IndirectSignatures int `toml:"indirect_signatures"`
}

// HeapConfig holds the descriptor capacity of each heap.
type HeapConfig struct {
	Resource uint32 `toml:"resource"` // shader-visible CBV/SRV/UAV
	Sampler  uint32 `toml:"sampler"`
	RTV      uint32 `toml:"rtv"`
	DSV      uint32 `toml:"dsv"`
}

// SwapchainConfig holds swapchain defaults.
type SwapchainConfig struct {
	Buffers         uint32 `toml:"buffers"`
	MaxFrameLatency uint32 `toml:"max_frame_latency"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Pools: PoolConfig{
			Resources:          4096,
			Textures:           4096,
			Samplers:           256,
			Swapchains:         8,
			Semaphores:         256,
			Shaders:            1024,
			BindLayouts:        256,
			BindGroups:         4096,
			CommandBuffers:     64,
			Queues:             16,
			IndirectSignatures: 64,
		},
		Heaps: HeapConfig{
			Resource: 1024,
			Sampler:  256,
			RTV:      1024,
			DSV:      1024,
		},
		Swapchain: SwapchainConfig{
			Buffers:         3,
			MaxFrameLatency: 2,
		},
		HeapCoalesce: true,
		ShaderCache:  64,
	}
}

// ParseConfig decodes TOML data over DefaultConfig and validates it.
// Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return Config{}, fmt.Errorf("gfx: config: %w\n%s", err, serr.String())
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, fmt.Errorf("gfx: config %d:%d: %w", row, col, err)
		}
		return Config{}, fmt.Errorf("gfx: config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a TOML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gfx: load config: %w", err)
	}
	return ParseConfig(data)
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	pools := []struct {
		name string
		n    int
	}{
		{"resources", c.Pools.Resources},
		{"textures", c.Pools.Textures},
		{"samplers", c.Pools.Samplers},
		{"swapchains", c.Pools.Swapchains},
		{"semaphores", c.Pools.Semaphores},
		{"shaders", c.Pools.Shaders},
		{"bind_layouts", c.Pools.BindLayouts},
		{"bind_groups", c.Pools.BindGroups},
		{"command_buffers", c.Pools.CommandBuffers},
		{"queues", c.Pools.Queues},
		{"indirect_signatures", c.Pools.IndirectSignatures},
	}
	for _, p := range pools {
		if p.n <= 0 || p.n > pool.MaxCapacity {
			return fmt.Errorf("%w: pools.%s = %d, want 1..%d", ErrInvalidArgument, p.name, p.n, pool.MaxCapacity)
		}
	}
	heaps := []struct {
		name string
		n    uint32
	}{
		{"resource", c.Heaps.Resource},
		{"sampler", c.Heaps.Sampler},
		{"rtv", c.Heaps.RTV},
		{"dsv", c.Heaps.DSV},
	}
	for _, h := range heaps {
		if h.n == 0 {
			return fmt.Errorf("%w: heaps.%s must be positive", ErrInvalidArgument, h.name)
		}
	}
	if c.Swapchain.Buffers < 2 {
		return fmt.Errorf("%w: swapchain.buffers = %d, want at least 2", ErrInvalidArgument, c.Swapchain.Buffers)
	}
	if c.ShaderCache < 0 {
		return fmt.Errorf("%w: shader_cache = %d, want 0 or more", ErrInvalidArgument, c.ShaderCache)
	}
	if c.Swapchain.MaxFrameLatency == 0 {
		return fmt.Errorf("%w: swapchain.max_frame_latency must be positive", ErrInvalidArgument)
	}
	return nil
}
