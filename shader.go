package gfx

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
	"github.com/gogpu/gfx/shaderc"
)

// ShaderDesc describes a graphics or compute shader. Stage fields hold
// shaderc stage blobs. A compute shader sets only Compute.
//
// The bind layout is either shared (Layout, not owned by the shader) or
// built from LayoutBlob and released with the shader.
type ShaderDesc struct {
	Name string

	Vertex   []byte
	Fragment []byte
	Compute  []byte

	Layout     BindLayoutID
	LayoutBlob []byte

	VertexBuffers []gputypes.VertexBufferLayout
	Topology      gputypes.PrimitiveTopology
	CullMode      gputypes.CullMode
	FrontFace     gputypes.FrontFace
	ColorTargets  []gputypes.ColorTargetState
	DepthFormat   gputypes.TextureFormat
	DepthTest     bool
	DepthWrite    bool
	DepthCompare  gputypes.CompareFunction // defaults to less when DepthTest is set
	SampleCount   uint32
}

// ShaderSourceDesc is a ShaderDesc whose stages are compiled from source.
// The stage and layout blob fields of ShaderDesc are ignored.
type ShaderSourceDesc struct {
	ShaderDesc
	Source shaderc.Request
}

type shader struct {
	name     string
	pipeline native.Pipeline
	layout   BindLayoutID
	owned    bool
	compute  bool
}

func (s *shader) Release() {
	if s.pipeline != nil {
		s.pipeline.Release()
	}
}

func bytecode(blob []byte, want shaderc.Stage) (native.ShaderBytecode, error) {
	sb, err := shaderc.DecodeStage(blob)
	if err != nil {
		return native.ShaderBytecode{}, fmt.Errorf("%w: %s stage: %w", ErrInvalidArgument, want, err)
	}
	if sb.Stage != want {
		return native.ShaderBytecode{}, fmt.Errorf("%w: %s blob in the %s stage", ErrInvalidArgument, sb.Stage, want)
	}
	bc := native.ShaderBytecode{Code: sb.Code, Entry: sb.Entry}
	switch sb.Target {
	case shaderc.TargetHLSL:
		bc.Format = native.BytecodeHLSL
	case shaderc.TargetWGSL:
		bc.Format = native.BytecodeWGSL
	default:
		bc.Format = native.BytecodeSPIRV
	}
	return bc, nil
}

// CreateShader creates the pipeline of a shader.
func (b *Backend) CreateShader(desc ShaderDesc) (ShaderID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	return b.createShader(desc)
}

func (b *Backend) createShader(desc ShaderDesc) (ShaderID, error) {
	compute := len(desc.Compute) > 0
	if !compute && len(desc.Vertex) == 0 {
		return 0, fmt.Errorf("%w: shader %q has neither a vertex nor a compute stage", ErrInvalidArgument, desc.Name)
	}

	var stages [3]native.ShaderBytecode
	for i, s := range []struct {
		blob  []byte
		stage shaderc.Stage
	}{
		{desc.Vertex, shaderc.StageVertex},
		{desc.Fragment, shaderc.StageFragment},
		{desc.Compute, shaderc.StageCompute},
	} {
		if len(s.blob) == 0 {
			continue
		}
		bc, err := bytecode(s.blob, s.stage)
		if err != nil {
			return 0, fmt.Errorf("shader %q: %w", desc.Name, err)
		}
		stages[i] = bc
	}

	layoutID, owned := desc.Layout, false
	if !layoutID.IsValid() {
		if len(desc.LayoutBlob) == 0 {
			return 0, fmt.Errorf("%w: shader %q has no bind layout", ErrInvalidArgument, desc.Name)
		}
		lb, err := builderFromBlob(desc.LayoutBlob)
		if err != nil {
			return 0, err
		}
		if layoutID, err = b.finalizeLayout(lb, desc.Name); err != nil {
			return 0, err
		}
		owned = true
	}
	l, err := lookup(b.layouts, "bind layout", pool.Handle(layoutID))
	if err != nil {
		return 0, err
	}
	dropLayout := func() {
		if owned {
			_ = b.layouts.Remove(pool.Handle(layoutID))
		}
	}

	h, row, err := b.shaders.Add()
	if err != nil {
		dropLayout()
		return 0, exhausted(err)
	}
	var p native.Pipeline
	if compute {
		p, err = b.dev.CreateComputePipeline(&native.ComputePipelineDesc{
			Label:         b.name(desc.Name),
			RootSignature: l.sig,
			Compute:       stages[2],
		})
	} else {
		p, err = b.dev.CreateGraphicsPipeline(b.graphicsPipelineDesc(&desc, l.sig, stages[0], stages[1]))
	}
	if err != nil {
		_ = b.shaders.Remove(h)
		dropLayout()
		return 0, b.deviceError("create pipeline", err)
	}

	*row = shader{
		name:     desc.Name,
		pipeline: p,
		layout:   layoutID,
		owned:    owned,
		compute:  compute,
	}
	l.refs++
	b.log().Debug("gfx: shader created", "name", desc.Name, "compute", compute, "owned_layout", owned, "id", h)
	return ShaderID(h), nil
}

func (b *Backend) graphicsPipelineDesc(desc *ShaderDesc, sig native.RootSignature, vs, fs native.ShaderBytecode) *native.GraphicsPipelineDesc {
	compare := gputypes.CompareFunctionAlways
	if desc.DepthTest {
		compare = desc.DepthCompare
		if compare == gputypes.CompareFunctionUndefined {
			compare = gputypes.CompareFunctionLess
		}
	}
	samples := desc.SampleCount
	if samples == 0 {
		samples = 1
	}
	return &native.GraphicsPipelineDesc{
		Label:         b.name(desc.Name),
		RootSignature: sig,
		Vertex:        vs,
		Fragment:      fs,
		VertexBuffers: desc.VertexBuffers,
		Topology:      desc.Topology,
		CullMode:      desc.CullMode,
		FrontFace:     desc.FrontFace,
		Targets:       desc.ColorTargets,
		DepthFormat:   desc.DepthFormat,
		DepthWrite:    desc.DepthWrite,
		DepthCompare:  compare,
		SampleCount:   samples,
	}
}

// CreateShaderFromSource compiles desc.Source and creates the shader. When
// desc.Layout is not set the layout is reflected from the source. A
// compile error leaves nothing behind.
func (b *Backend) CreateShaderFromSource(ctx context.Context, desc ShaderSourceDesc) (ShaderID, error) {
	req := desc.Source
	if req.Name == "" {
		req.Name = desc.Name
	}
	req.DeriveLayout = !desc.Layout.IsValid()
	res, err := b.compiled.Compile(ctx, req)
	if err != nil {
		return 0, err
	}
	sd := desc.ShaderDesc
	sd.Vertex = res.Stages[shaderc.StageVertex]
	sd.Fragment = res.Stages[shaderc.StageFragment]
	sd.Compute = res.Stages[shaderc.StageCompute]
	sd.LayoutBlob = res.Layout
	return b.CreateShader(sd)
}

// ShaderCacheStats reports the compile cache used by
// CreateShaderFromSource.
func (b *Backend) ShaderCacheStats() shaderc.CacheStats { return b.compiled.Stats() }

// DestroyShader releases the pipeline and, if the shader built its own
// layout, the layout once no bind group uses it.
func (b *Backend) DestroyShader(id ShaderID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	s, err := lookup(b.shaders, "shader", pool.Handle(id))
	if err != nil {
		return err
	}
	layout, owned := s.layout, s.owned
	if err := remove(b.shaders, "shader", pool.Handle(id)); err != nil {
		return err
	}
	if l, ok := b.layouts.Get(pool.Handle(layout)); ok && owned {
		l.orphan = true
	}
	b.unrefLayout(layout)
	return nil
}

// ShaderLayout returns the bind layout a shader was created with.
func (b *Backend) ShaderLayout(id ShaderID) (BindLayoutID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	s, err := lookup(b.shaders, "shader", pool.Handle(id))
	if err != nil {
		return 0, err
	}
	return s.layout, nil
}
