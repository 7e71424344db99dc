package wgpu_test

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gfx"
	"github.com/gogpu/gfx/native/wgpu"
	"github.com/gogpu/gfx/shaderc"
)

const tintWGSL = `
struct Params {
    tint: vec4<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(idx) - 1);
    return vec4<f32>(x, 0.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return params.tint;
}
`

func newBackend(t *testing.T) (*gfx.Backend, *wgpu.Device) {
	t.Helper()
	dev, err := wgpu.New(&noop.Device{}, &noop.Queue{}, wgpu.WithName("noop"))
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	b, err := gfx.New(dev, gfx.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	return b, dev
}

func TestBackendFrame(t *testing.T) {
	b, dev := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params, err := b.CreateResource(gfx.ResourceDesc{Name: "params", Size: 256, Usage: gfx.UsageConstant, Memory: gfx.MemoryUpload})
	require.NoError(t, err)
	data, err := b.MapResource(params)
	require.NoError(t, err)
	for i, v := range []float32{1, 0.5, 0.25, 1} {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	sc, err := b.CreateSwapchain(gfx.SwapchainDesc{Name: "main", Width: 64, Height: 48, VSync: true})
	require.NoError(t, err)

	sh, err := b.CreateShaderFromSource(ctx, gfx.ShaderSourceDesc{
		ShaderDesc: gfx.ShaderDesc{
			Name:         "tint",
			ColorTargets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Source: shaderc.Request{
			Source:  tintWGSL,
			Target:  shaderc.TargetWGSL,
			Entries: shaderc.Entries{Vertex: "vs_main", Fragment: "fs_main"},
		},
	})
	require.NoError(t, err)
	layout, err := b.ShaderLayout(sh)
	require.NoError(t, err)
	group, err := b.CreateBindGroup(gfx.BindGroupDesc{
		Name:     "tint",
		Layout:   layout,
		Bindings: []gfx.GroupBinding{{Type: gfx.BindingDescriptor, Resource: params}},
	})
	require.NoError(t, err)

	id, err := b.CreateCommandBuffer(gfx.CommandBufferDesc{Name: "frame", Queue: gfx.QueueGraphics})
	require.NoError(t, err)
	cb, err := b.Commands(id)
	require.NoError(t, err)

	for frame := range 3 {
		require.NoError(t, b.WaitIdle(ctx))
		require.NoError(t, cb.Reset())
		cb.BeginRenderPass(gfx.SwapchainPass(sc, gfx.LoadActionClear, nil))
		cb.BindShader(sh)
		cb.BindGroup(group)
		cb.Draw(3, 1, 0, 0)
		cb.EndRenderPass()
		require.NoError(t, cb.Close(), "frame %d", frame)
		require.NoError(t, b.SubmitCommands(b.GraphicsQueue(), id))
		require.NoError(t, b.Present(sc))
	}
	require.NoError(t, b.WaitIdle(ctx))

	require.NoError(t, b.DestroyCommandBuffer(id))
	require.NoError(t, b.DestroyBindGroup(group))
	require.NoError(t, b.DestroyShader(sh))
	require.NoError(t, b.DestroySwapchain(ctx, sc))
	require.NoError(t, b.DestroyResource(params))
	assert.NoError(t, b.Close())
	assert.Equal(t, "noop", dev.Name())
}

func TestBackendResources(t *testing.T) {
	b, _ := newBackend(t)

	tex, err := b.CreateTexture(gfx.TextureDesc{
		Name: "atlas", Width: 256, Height: 256,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gfx.TextureSampled | gfx.TextureRenderTarget,
	})
	require.NoError(t, err)
	smp, err := b.CreateSampler(gfx.SamplerDesc{Name: "linear"})
	require.NoError(t, err)
	vb, err := b.CreateResource(gfx.ResourceDesc{Name: "vb", Size: 1024, Usage: gfx.UsageVertex})
	require.NoError(t, err)
	readback, err := b.CreateResource(gfx.ResourceDesc{Name: "readback", Size: 64, Memory: gfx.MemoryReadback})
	require.NoError(t, err)

	_, err = b.MapResource(vb)
	assert.Error(t, err, "device-local memory is not mappable")
	mapped, err := b.MapResource(readback)
	require.NoError(t, err)
	assert.Len(t, mapped, 64)

	assert.True(t, tex.IsValid())
	assert.True(t, smp.IsValid())
	assert.Error(t, b.Close(), "leaked handles are reported")
}
