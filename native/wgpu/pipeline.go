package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gfx/native"
)

// Pipeline is a HAL render or compute pipeline together with the shader
// modules it was built from.
type Pipeline struct {
	dev     *Device
	sig     *RootSignature
	render  hal.RenderPipeline
	compute hal.ComputePipeline
	modules []hal.ShaderModule
}

func (p *Pipeline) Compute() bool { return p.compute != nil }

func (p *Pipeline) Release() {
	if p.render != nil {
		p.dev.hal.DestroyRenderPipeline(p.render)
	}
	if p.compute != nil {
		p.dev.hal.DestroyComputePipeline(p.compute)
	}
	for _, m := range p.modules {
		p.dev.hal.DestroyShaderModule(m)
	}
}

func (d *Device) shaderModule(label string, bc native.ShaderBytecode) (hal.ShaderModule, error) {
	var src hal.ShaderSource
	switch bc.Format {
	case native.BytecodeWGSL:
		src.WGSL = string(bc.Code)
	case native.BytecodeSPIRV:
		if len(bc.Code)%4 != 0 {
			return nil, fmt.Errorf("wgpu: SPIR-V of %q is %d bytes, not a word multiple", label, len(bc.Code))
		}
		src.SPIRV = make([]uint32, len(bc.Code)/4)
		for i := range src.SPIRV {
			src.SPIRV[i] = binary.LittleEndian.Uint32(bc.Code[i*4:])
		}
	default:
		return nil, fmt.Errorf("wgpu: shader bytecode format %d of %q: %w", bc.Format, label, native.ErrUnsupported)
	}
	m, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: label, Source: src})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %q: %w", label, err)
	}
	return m, nil
}

func rootSignature(s native.RootSignature) (*RootSignature, error) {
	sig, ok := s.(*RootSignature)
	if !ok || sig == nil {
		return nil, fmt.Errorf("wgpu: foreign root signature %T", s)
	}
	return sig, nil
}

func (d *Device) CreateGraphicsPipeline(desc *native.GraphicsPipelineDesc) (native.Pipeline, error) {
	sig, err := rootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{dev: d, sig: sig}
	vs, err := d.shaderModule(desc.Label+" vs", desc.Vertex)
	if err != nil {
		return nil, err
	}
	p.modules = append(p.modules, vs)

	rd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: sig.layout,
		Vertex: hal.VertexState{Module: vs, EntryPoint: desc.Vertex.Entry, Buffers: desc.VertexBuffers},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: desc.FrontFace,
			CullMode:  desc.CullMode,
		},
		Multisample: gputypes.MultisampleState{Count: max(desc.SampleCount, 1), Mask: ^uint64(0)},
	}
	if desc.DepthFormat != gputypes.TextureFormatUndefined {
		rd.DepthStencil = &hal.DepthStencilState{
			Format:            desc.DepthFormat,
			DepthWriteEnabled: desc.DepthWrite,
			DepthCompare:      orDefault(desc.DepthCompare, gputypes.CompareFunctionAlways),
			StencilFront:      hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
			StencilBack:       hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
			StencilReadMask:   0xff,
			StencilWriteMask:  0xff,
		}
	}
	if !desc.Fragment.IsEmpty() {
		fs, err := d.shaderModule(desc.Label+" fs", desc.Fragment)
		if err != nil {
			p.Release()
			return nil, err
		}
		p.modules = append(p.modules, fs)
		rd.Fragment = &hal.FragmentState{Module: fs, EntryPoint: desc.Fragment.Entry, Targets: desc.Targets}
	}
	if p.render, err = d.hal.CreateRenderPipeline(rd); err != nil {
		p.Release()
		return nil, fmt.Errorf("wgpu: create render pipeline %q: %w", desc.Label, err)
	}
	return p, nil
}

func (d *Device) CreateComputePipeline(desc *native.ComputePipelineDesc) (native.Pipeline, error) {
	sig, err := rootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	cs, err := d.shaderModule(desc.Label+" cs", desc.Compute)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{dev: d, sig: sig, modules: []hal.ShaderModule{cs}}
	p.compute, err = d.hal.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  sig.layout,
		Compute: hal.ComputeState{Module: cs, EntryPoint: desc.Compute.Entry, ZeroInitializeWorkgroupMemory: true},
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("wgpu: create compute pipeline %q: %w", desc.Label, err)
	}
	return p, nil
}

// CommandSignature describes indirect arguments. The HAL reads them with
// one indirect call per record.
type CommandSignature struct {
	kind   native.IndirectKind
	stride uint32
}

func (s *CommandSignature) Kind() native.IndirectKind { return s.kind }
func (s *CommandSignature) Stride() uint32            { return s.stride }
func (s *CommandSignature) Release()                  {}

func argsSize(k native.IndirectKind) uint32 {
	switch k {
	case native.IndirectDrawIndexed:
		return native.DrawIndexedArgsSize
	case native.IndirectDispatch:
		return native.DispatchArgsSize
	default:
		return native.DrawArgsSize
	}
}

func (d *Device) CreateCommandSignature(desc *native.CommandSignatureDesc) (native.CommandSignature, error) {
	if desc.Stride < argsSize(desc.Kind) || desc.Stride%4 != 0 {
		return nil, fmt.Errorf("wgpu: indirect stride %d invalid for %d-byte arguments", desc.Stride, argsSize(desc.Kind))
	}
	return &CommandSignature{kind: desc.Kind, stride: desc.Stride}, nil
}
