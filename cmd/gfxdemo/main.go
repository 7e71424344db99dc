// Command gfxdemo renders a few frames through gfx on a wgpu HAL backend.
//
// Without a window the swapchain is offscreen, so the demo is mostly useful
// to check that a backend opens and to look at heap and cache statistics:
//
//	gfxdemo -backend vulkan -frames 120 -v
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/allbackends"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/gfx"
	"github.com/gogpu/gfx/native/wgpu"
	"github.com/gogpu/gfx/shaderc"
)

const triangleWGSL = `
struct Params {
    tint: vec4<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    var pos = array<vec2<f32>, 3>(
        vec2<f32>(0.0, 0.5),
        vec2<f32>(-0.5, -0.5),
        vec2<f32>(0.5, -0.5),
    );
    return vec4<f32>(pos[idx], 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return params.tint;
}
`

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		backend    = flag.String("backend", "auto", "HAL backend: auto, vulkan, metal, dx12, gl, software or noop")
		width      = flag.Int("width", 800, "swapchain width")
		height     = flag.Int("height", 600, "swapchain height")
		frames     = flag.Int("frames", 60, "number of frames to render")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		gfx.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := gfx.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = gfx.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	api, err := selectBackend(*backend)
	if err != nil {
		log.Fatalf("Failed to select backend: %v", err)
	}
	dev, err := wgpu.Open(api)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer dev.Release()

	b, err := gfx.New(dev, gfx.WithConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	if err := run(ctx, b, uint32(*width), uint32(*height), *frames, dev.SurfaceFormat()); err != nil {
		_ = b.Close()
		log.Fatalf("Render failed: %v", err)
	}
	elapsed := time.Since(start)

	log.Printf("Rendered %d frames on %s in %v\n", *frames, dev.Name(), elapsed.Round(time.Millisecond))
	for _, k := range []struct {
		name string
		kind gfx.HeapKind
	}{
		{"resource", gfx.HeapResource},
		{"sampler", gfx.HeapSampler},
		{"rtv", gfx.HeapRTV},
		{"dsv", gfx.HeapDSV},
	} {
		s := b.HeapStats(k.kind)
		log.Printf("heap %-8s capacity=%d live=%d index=%d free_blocks=%d\n",
			k.name, s.Capacity, s.Live, s.CurrentIndex, s.FreeBlocks)
	}
	cs := b.ShaderCacheStats()
	log.Printf("shader cache entries=%d hits=%d misses=%d\n", cs.Entries, cs.Hits, cs.Misses)

	if err := b.Close(); err != nil {
		log.Fatalf("Close: %v", err)
	}
}

// selectBackend resolves a backend name against the HAL registry. The noop
// backend is used when nothing else is available.
func selectBackend(name string) (hal.Backend, error) {
	var variant gputypes.Backend
	switch strings.ToLower(name) {
	case "auto":
		if api, err := hal.SelectBestBackend(); err == nil {
			return api, nil
		}
		log.Printf("No GPU backend available, using noop\n")
		return noop.API{}, nil
	case "noop":
		return noop.API{}, nil
	case "vulkan":
		variant = gputypes.BackendVulkan
	case "metal":
		variant = gputypes.BackendMetal
	case "dx12":
		variant = gputypes.BackendDX12
	case "gl":
		variant = gputypes.BackendGL
	case "software":
		// noop and software share a variant, so the registry cannot tell them apart.
		return software.API{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	if api, ok := hal.GetBackend(variant); ok {
		return api, nil
	}
	return hal.CreateBackend(variant)
}

func run(ctx context.Context, b *gfx.Backend, width, height uint32, frames int, format gputypes.TextureFormat) error {
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatBGRA8Unorm
	}
	sc, err := b.CreateSwapchain(gfx.SwapchainDesc{
		Name:       "demo",
		Width:      width,
		Height:     height,
		Format:     format,
		VSync:      true,
		ClearColor: gputypes.Color{R: 0.1, G: 0.2, B: 0.4, A: 1},
	})
	if err != nil {
		return err
	}
	defer func() { _ = b.DestroySwapchain(ctx, sc) }()

	params, err := b.CreateResource(gfx.ResourceDesc{Name: "params", Size: 256, Usage: gfx.UsageConstant, Memory: gfx.MemoryUpload})
	if err != nil {
		return err
	}
	defer func() { _ = b.DestroyResource(params) }()
	tint, err := b.MapResource(params)
	if err != nil {
		return err
	}

	sh, err := b.CreateShaderFromSource(ctx, gfx.ShaderSourceDesc{
		ShaderDesc: gfx.ShaderDesc{
			Name:         "triangle",
			ColorTargets: []gputypes.ColorTargetState{{Format: format, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Source: shaderc.Request{
			Name:    "triangle.wgsl",
			Source:  triangleWGSL,
			Target:  shaderc.TargetWGSL,
			Entries: shaderc.Entries{Vertex: "vs_main", Fragment: "fs_main"},
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = b.DestroyShader(sh) }()

	layout, err := b.ShaderLayout(sh)
	if err != nil {
		return err
	}
	group, err := b.CreateBindGroup(gfx.BindGroupDesc{
		Name:     "triangle",
		Layout:   layout,
		Bindings: []gfx.GroupBinding{{Type: gfx.BindingDescriptor, Resource: params}},
	})
	if err != nil {
		return err
	}
	defer func() { _ = b.DestroyBindGroup(group) }()

	id, err := b.CreateCommandBuffer(gfx.CommandBufferDesc{Name: "frame", Queue: gfx.QueueGraphics})
	if err != nil {
		return err
	}
	defer func() { _ = b.DestroyCommandBuffer(id) }()
	cb, err := b.Commands(id)
	if err != nil {
		return err
	}

	for frame := range frames {
		// The tint buffer and command buffer are reused, so the previous
		// frame has to finish first.
		if err := b.WaitIdle(ctx); err != nil {
			return err
		}
		t := float64(frame) / float64(max(frames, 1))
		putColor(tint, float32(0.5+0.5*math.Sin(2*math.Pi*t)), 0.6, float32(t), 1)

		if err := cb.Reset(); err != nil {
			return err
		}
		cb.BeginRenderPass(gfx.SwapchainPass(sc, gfx.LoadActionClear, nil))
		cb.BindShader(sh)
		cb.BindGroup(group)
		cb.Draw(3, 1, 0, 0)
		cb.EndRenderPass()
		if err := cb.Close(); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		if err := b.SubmitCommands(b.GraphicsQueue(), id); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		if err := b.Present(sc); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
	}
	return b.WaitIdle(ctx)
}

func putColor(dst []byte, r, g, b, a float32) {
	for i, v := range []float32{r, g, b, a} {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}
