package gfx

import (
	"context"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native/trace"
	"github.com/gogpu/gfx/shaderc"
)

const spriteWGSL = `
struct Params {
    tint: vec4<f32>,
}

@group(0) @binding(0) var<uniform> params: Params;
@group(1) @binding(0) var sprite: texture_2d<f32>;
@group(1) @binding(1) var samp: sampler;

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(idx) - 1);
    return vec4<f32>(x, 0.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return textureSample(sprite, samp, vec2<f32>(0.5, 0.5)) * params.tint;
}
`

func spriteSource(vertex string) ShaderSourceDesc {
	return ShaderSourceDesc{
		ShaderDesc: ShaderDesc{Name: "sprite", ColorTargets: []gputypes.ColorTargetState{{Format: rgba8}}},
		Source: shaderc.Request{
			Source:  spriteWGSL,
			Entries: shaderc.Entries{Vertex: vertex, Fragment: "fs_main"},
		},
	}
}

func TestCreateShaderFromSource(t *testing.T) {
	b, dev := newTestBackend(t)

	id, err := b.CreateShaderFromSource(context.Background(), spriteSource("vs_main"))
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Log().Count("CreateGraphicsPipeline"))

	layout, err := b.ShaderLayout(id)
	require.NoError(t, err)
	desc := rootDesc(t, b, layout)
	require.Len(t, desc.Params, 3, "uniform, texture table, sampler table")

	assert.ErrorIs(t, b.DestroyBindLayout(layout), ErrInvalidArgument, "owned by the shader")
	require.NoError(t, b.DestroyShader(id))
	assert.Zero(t, b.layouts.Len(), "the owned layout goes with the shader")
}

func TestCreateShaderFromSourceUsesCache(t *testing.T) {
	b, dev := newTestBackend(t)
	ctx := context.Background()

	for range 2 {
		id, err := b.CreateShaderFromSource(ctx, spriteSource("vs_main"))
		require.NoError(t, err)
		require.NoError(t, b.DestroyShader(id))
	}
	assert.Equal(t, 2, dev.Log().Count("CreateGraphicsPipeline"), "pipelines are not cached")
	s := b.ShaderCacheStats()
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, uint64(1), s.Hits)

	off, _ := newTestBackend(t, func(o *options) { o.cfg.ShaderCache = 0 })
	_, err := off.CreateShaderFromSource(ctx, spriteSource("vs_main"))
	require.NoError(t, err)
	assert.Zero(t, off.ShaderCacheStats())
}

func TestCreateShaderFromSourceBadEntryLeavesNothing(t *testing.T) {
	b, dev := newTestBackend(t)

	_, err := b.CreateShaderFromSource(context.Background(), spriteSource("missing_main"))
	require.ErrorIs(t, err, ErrCompile)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)

	assert.Zero(t, b.shaders.Len())
	assert.Zero(t, b.layouts.Len())
	assert.Zero(t, dev.Log().Count("CreateRootSignature"))
	assert.Zero(t, dev.Log().Count("CreateGraphicsPipeline"))
}

func TestCreateShaderFromSourceCanceled(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.CreateShaderFromSource(ctx, spriteSource("vs_main"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.shaders.Len())
}

func TestOwnedLayoutOutlivesShaderWhileGroupsUseIt(t *testing.T) {
	b, _ := newTestBackend(t)
	id, err := b.CreateShaderFromSource(context.Background(), spriteSource("vs_main"))
	require.NoError(t, err)
	layout, err := b.ShaderLayout(id)
	require.NoError(t, err)

	g, err := b.CreateBindGroup(BindGroupDesc{Layout: layout, Bindings: []GroupBinding{
		{Type: BindingDescriptor, Resource: mustResource(t, b)},
		{Type: BindingTable},
		{Type: BindingTable},
	}})
	require.NoError(t, err)

	require.NoError(t, b.DestroyShader(id))
	assert.Equal(t, 1, b.layouts.Len(), "still used by a bind group")

	require.NoError(t, b.DestroyBindGroup(g))
	assert.Zero(t, b.layouts.Len())
}

func mustResource(t *testing.T, b *Backend) ResourceID {
	t.Helper()
	id, err := b.CreateResource(ResourceDesc{Name: "params", Size: 256, Usage: UsageConstant, Memory: MemoryUpload})
	require.NoError(t, err)
	return id
}

func TestSharedLayoutSurvivesShader(t *testing.T) {
	b, _ := newTestBackend(t)
	layout := emptyLayout(t, b)
	id := graphicsShader(t, b, layout)

	require.NoError(t, b.DestroyShader(id))
	assert.Equal(t, 1, b.layouts.Len())
	require.NoError(t, b.DestroyBindLayout(layout))
}

func TestCreateShaderValidation(t *testing.T) {
	b, dev := newTestBackend(t)
	layout := emptyLayout(t, b)
	tests := []struct {
		name string
		desc ShaderDesc
	}{
		{"no stages", ShaderDesc{Layout: layout}},
		{"no layout", ShaderDesc{Vertex: stageBlob(shaderc.StageVertex, "vs")}},
		{"wrong stage blob", ShaderDesc{Vertex: stageBlob(shaderc.StageFragment, "fs"), Layout: layout}},
		{"garbage blob", ShaderDesc{Vertex: []byte("garbage"), Layout: layout}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.CreateShader(tt.desc)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	dev.FailNext("CreateGraphicsPipeline", errInjected)
	_, err := b.CreateShader(ShaderDesc{Vertex: stageBlob(shaderc.StageVertex, "vs"), Layout: layout})
	assert.ErrorIs(t, err, ErrDevice)
	assert.Zero(t, b.shaders.Len())

	l, _ := b.layouts.Get(pool.Handle(layout))
	assert.Zero(t, l.refs, "failed shaders hold no reference")
}

func TestGraphicsPipelineDefaults(t *testing.T) {
	b, _ := newTestBackend(t)
	layout := emptyLayout(t, b)

	_, err := b.CreateShader(ShaderDesc{
		Name:        "depth",
		Vertex:      stageBlob(shaderc.StageVertex, "vs"),
		Layout:      layout,
		DepthFormat: gputypes.TextureFormatDepth32Float,
		DepthTest:   true,
		DepthWrite:  true,
	})
	require.NoError(t, err)
	_, err = b.CreateShader(ShaderDesc{Name: "flat", Vertex: stageBlob(shaderc.StageVertex, "vs"), Layout: layout})
	require.NoError(t, err)

	var pipelines []*trace.Pipeline
	b.shaders.Each(func(_ pool.Handle, s *shader) {
		pipelines = append(pipelines, s.pipeline.(*trace.Pipeline))
	})
	require.Len(t, pipelines, 2)
	assert.Equal(t, gputypes.CompareFunctionLess, pipelines[0].Graphics.DepthCompare)
	assert.Equal(t, gputypes.CompareFunctionAlways, pipelines[1].Graphics.DepthCompare)
	assert.Equal(t, uint32(1), pipelines[1].Graphics.SampleCount)
	assert.Equal(t, gputypes.PrimitiveTopologyTriangleList, pipelines[1].Graphics.Topology)
}

func TestBindShaderBindsTopology(t *testing.T) {
	b, dev := newTestBackend(t)
	layout := emptyLayout(t, b)
	rt := renderTarget(t, b, 8, 8)
	sh, err := b.CreateShader(ShaderDesc{
		Name:     "lines",
		Vertex:   stageBlob(shaderc.StageVertex, "vs"),
		Layout:   layout,
		Topology: gputypes.PrimitiveTopologyLineStrip,
	})
	require.NoError(t, err)

	cb := recordingBuffer(t, b, QueueGraphics)
	dev.Log().Reset()
	cb.BeginRenderPass(ColorPass(rt, LoadActionClear))
	cb.BindShader(sh)
	cb.Draw(4, 1, 0, 0)
	cb.EndRenderPass()
	require.NoError(t, cb.Close())

	calls := dev.Log().Filter("SetPipeline")
	require.Len(t, calls, 1)
	p := calls[0].Args[0].(*trace.Pipeline)
	assert.Equal(t, gputypes.PrimitiveTopologyLineStrip, p.Graphics.Topology)
}
