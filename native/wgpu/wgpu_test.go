package wgpu

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gfx/native"
)

// recorder wraps the noop HAL device and counts the calls the tests care
// about.
type recorder struct {
	*noop.Device

	mu      sync.Mutex
	calls   map[string]int
	layouts []*hal.BindGroupLayoutDescriptor
	groups  []*hal.BindGroupDescriptor
	passes  []*hal.RenderPassDescriptor
}

func (r *recorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *recorder) note(op string) {
	r.mu.Lock()
	r.calls[op]++
	r.mu.Unlock()
}

func (r *recorder) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	r.note("CreateBindGroupLayout")
	r.layouts = append(r.layouts, desc)
	return r.Device.CreateBindGroupLayout(desc)
}

func (r *recorder) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	r.note("CreateBindGroup")
	r.groups = append(r.groups, desc)
	return r.Device.CreateBindGroup(desc)
}

func (r *recorder) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &recEncoder{CommandEncoder: &noop.CommandEncoder{}, r: r}, nil
}

type recEncoder struct {
	*noop.CommandEncoder
	r *recorder
}

func (e *recEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	e.r.note("BeginRenderPass")
	e.r.passes = append(e.r.passes, desc)
	return &recRenderPass{RenderPassEncoder: &noop.RenderPassEncoder{}, r: e.r}
}

func (e *recEncoder) BeginComputePass(*hal.ComputePassDescriptor) hal.ComputePassEncoder {
	e.r.note("BeginComputePass")
	return &recComputePass{ComputePassEncoder: &noop.ComputePassEncoder{}, r: e.r}
}

func (e *recEncoder) TransitionBuffers(b []hal.BufferBarrier)  { e.r.note("TransitionBuffers") }
func (e *recEncoder) TransitionTextures(b []hal.TextureBarrier) { e.r.note("TransitionTextures") }

type recRenderPass struct {
	*noop.RenderPassEncoder
	r *recorder
}

func (p *recRenderPass) SetPipeline(hal.RenderPipeline)                { p.r.note("SetPipeline") }
func (p *recRenderPass) SetBindGroup(uint32, hal.BindGroup, []uint32)  { p.r.note("SetBindGroup") }
func (p *recRenderPass) SetViewport(_, _, _, _, _, _ float32)          { p.r.note("SetViewport") }
func (p *recRenderPass) Draw(_, _, _, _ uint32)                        { p.r.note("Draw") }
func (p *recRenderPass) DrawIndirect(hal.Buffer, uint64)               { p.r.note("DrawIndirect") }
func (p *recRenderPass) SetIndexBuffer(hal.Buffer, gputypes.IndexFormat, uint64) {
	p.r.note("SetIndexBuffer")
}

type recComputePass struct {
	*noop.ComputePassEncoder
	r *recorder
}

func (p *recComputePass) End()                                         { p.r.note("EndComputePass") }
func (p *recComputePass) SetBindGroup(uint32, hal.BindGroup, []uint32) { p.r.note("SetBindGroup") }
func (p *recComputePass) Dispatch(_, _, _ uint32)                      { p.r.note("Dispatch") }
func (p *recComputePass) DispatchIndirect(hal.Buffer, uint64)          { p.r.note("DispatchIndirect") }

// heldQueue reports no completed submissions while held.
type heldQueue struct {
	*noop.Queue
	held atomic.Bool
}

func (q *heldQueue) PollCompleted() uint64 {
	if q.held.Load() {
		return 0
	}
	return q.Queue.PollCompleted()
}

func newTestDevice(t *testing.T, opts ...Option) (*Device, *recorder, *heldQueue) {
	t.Helper()
	rec := &recorder{Device: &noop.Device{}, calls: make(map[string]int)}
	q := &heldQueue{Queue: &noop.Queue{}}
	d, err := New(rec, q, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		q.held.Store(false)
		d.Release()
	})
	return d, rec, q
}

func TestNewRejectsNil(t *testing.T) {
	_, err := New(nil, &noop.Queue{})
	assert.Error(t, err)
	_, err = New(&noop.Device{}, nil)
	assert.Error(t, err)
}

func TestLimits(t *testing.T) {
	d, _, _ := newTestDevice(t)
	l := d.Limits()
	assert.Equal(t, uint32(256), l.ConstantBufferAlignment)
	assert.Equal(t, uint32(8192), l.MaxTextureDimension2D)
	assert.Equal(t, uint32(maxRootParameters), l.MaxRootParameters)
	assert.Equal(t, "wgpu", d.Name())
}

type testProvider struct {
	dev   hal.Device
	queue hal.Queue
}

func (p testProvider) Device() gpucontext.Device   { return nil }
func (p testProvider) Queue() gpucontext.Queue     { return nil }
func (p testProvider) Adapter() gpucontext.Adapter { return nil }
func (p testProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatRGBA8UnormSrgb
}
func (p testProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "Test GPU"}
}

type halTestProvider struct{ testProvider }

func (p halTestProvider) HalDevice() any { return p.dev }
func (p halTestProvider) HalQueue() any  { return p.queue }

func TestNewFromProvider(t *testing.T) {
	d, err := NewFromProvider(halTestProvider{testProvider{&noop.Device{}, &noop.Queue{}}})
	require.NoError(t, err)
	assert.Equal(t, "wgpu Test GPU", d.Name())
	assert.Equal(t, gputypes.TextureFormatRGBA8UnormSrgb, d.SurfaceFormat())

	_, err = NewFromProvider(testProvider{})
	assert.Error(t, err, "no HAL accessors")
	_, err = NewFromProvider(halTestProvider{})
	assert.Error(t, err, "nil HAL device")
}

func TestBufferMap(t *testing.T) {
	d, _, _ := newTestDevice(t)

	up, err := d.CreateBuffer(&native.BufferDesc{Label: "up", Size: 16, Memory: native.MemoryUpload})
	require.NoError(t, err)
	defer up.Release()
	data, err := up.Map()
	require.NoError(t, err)
	require.Len(t, data, 16)
	copy(data, []byte{1, 2, 3})
	up.Unmap()

	again, err := up.Map()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, again[:3])
	up.Unmap()

	local, err := d.CreateBuffer(&native.BufferDesc{Label: "local", Size: 16})
	require.NoError(t, err)
	defer local.Release()
	_, err = local.Map()
	assert.ErrorIs(t, err, native.ErrUnsupported)
}

func TestSharedTextureUnsupported(t *testing.T) {
	d, _, _ := newTestDevice(t)
	_, err := d.CreateTexture(&native.TextureDesc{Label: "shared", Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm, Shared: true})
	assert.ErrorIs(t, err, native.ErrUnsupported)
}

func TestDescriptorHeapHandles(t *testing.T) {
	d, _, _ := newTestDevice(t)
	vis, err := d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "vis", Kind: native.HeapResource, Capacity: 8, ShaderVisible: true})
	require.NoError(t, err)
	staging, err := d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "staging", Kind: native.HeapResource, Capacity: 8})
	require.NoError(t, err)

	assert.NotZero(t, vis.GPUStart())
	assert.Equal(t, uint64(vis.CPUStart()), uint64(vis.GPUStart()))
	assert.Zero(t, staging.GPUStart())
	assert.NotEqual(t, vis.CPUStart(), staging.CPUStart())
	assert.Equal(t, uint32(1), vis.DescriptorSize())

	_, _, err = d.heap(uint64(vis.CPUStart()) + 8)
	assert.Error(t, err, "past the end")

	staging.Release()
	_, _, err = d.heap(uint64(staging.CPUStart()))
	assert.Error(t, err, "released heap")
	vis.Release()

	_, err = d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "empty", Kind: native.HeapRTV})
	assert.Error(t, err)
}

func TestCopyDescriptorsSharesViews(t *testing.T) {
	d, _, _ := newTestDevice(t)
	staging, err := d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "staging", Kind: native.HeapSampler, Capacity: 4})
	require.NoError(t, err)
	vis, err := d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "vis", Kind: native.HeapSampler, Capacity: 4, ShaderVisible: true})
	require.NoError(t, err)
	defer vis.Release()

	require.NoError(t, d.CreateView(&native.ViewDesc{Kind: native.ViewSampler, Sampler: &native.SamplerDesc{}}, staging.CPUStart()))
	require.NoError(t, d.CopyDescriptors(native.HeapSampler, []native.DescriptorCopy{
		{Dst: vis.CPUStart() + 3, Src: staging.CPUStart(), Count: 1},
	}))

	src := staging.(*DescriptorHeap).get(0)
	require.NotNil(t, src.obj)
	assert.Equal(t, 2, src.obj.refs)

	staging.Release()
	dst := vis.(*DescriptorHeap).get(3)
	assert.True(t, dst.valid)
	assert.Same(t, src.obj, dst.obj)
	assert.Equal(t, 1, dst.obj.refs, "the copy keeps the sampler alive")

	err = d.CreateView(&native.ViewDesc{Kind: native.ViewConstantBuffer}, vis.CPUStart())
	assert.Error(t, err, "constant buffer view in a sampler heap")
	err = d.CopyDescriptors(native.HeapResource, []native.DescriptorCopy{{Dst: vis.CPUStart(), Src: vis.CPUStart() + 1, Count: 1}})
	assert.Error(t, err, "heap kind mismatch")
	err = d.CopyDescriptors(native.HeapSampler, []native.DescriptorCopy{{Dst: vis.CPUStart() + 2, Src: vis.CPUStart(), Count: 3}})
	assert.Error(t, err, "overrun")
}

// texturedSignature has root constants and a CBV in space 0, two textures
// in space 1 and a static sampler next to them.
func texturedSignature() *native.RootSignatureDesc {
	return &native.RootSignatureDesc{
		Label: "textured",
		Params: []native.RootParameter{
			{Type: native.RootConstants, Register: 0, Num32BitVals: 2},
			{Type: native.RootTable, Ranges: []native.DescriptorRange{
				{Kind: native.RangeCBV, Count: 1, BaseRegister: 1, Space: 0, OffsetInTable: 0, Buffer: true},
				{Kind: native.RangeSRV, Count: 2, BaseRegister: 0, Space: 1, OffsetInTable: 1},
			}},
		},
		StaticSamplers: []native.StaticSampler{{Register: 2, Space: 1}},
	}
}

func TestRootSignatureGroups(t *testing.T) {
	d, rec, _ := newTestDevice(t)
	s, err := d.CreateRootSignature(texturedSignature())
	require.NoError(t, err)
	defer s.Release()
	sig := s.(*RootSignature)

	require.Len(t, sig.groups, 2)
	require.Len(t, rec.layouts, 2)
	var regs [2][]uint32
	for g, entries := range sig.entries {
		for _, b := range entries {
			regs[g] = append(regs[g], b.register)
		}
	}
	assert.Equal(t, []uint32{0, 1}, regs[0])
	assert.Equal(t, []uint32{0, 1, 2}, regs[1])
	assert.Equal(t, [][]uint32{{0}, {0, 1}}, sig.paramGroups)

	constants := rec.layouts[0].Entries[0]
	require.NotNil(t, constants.Buffer)
	assert.Equal(t, gputypes.BufferBindingTypeUniform, constants.Buffer.Type)
	assert.Equal(t, uint64(16), constants.Buffer.MinBindingSize)
	assert.Equal(t, gputypes.ShaderStagesAll, constants.Visibility)
	assert.NotNil(t, rec.layouts[1].Entries[1].Texture)
	assert.NotNil(t, rec.layouts[1].Entries[2].Sampler)

	assert.Equal(t, "textured", sig.Desc().Label)
}

func TestRootSignatureRejects(t *testing.T) {
	d, _, _ := newTestDevice(t)
	tests := []struct {
		name string
		desc native.RootSignatureDesc
	}{
		{"register collision", native.RootSignatureDesc{Params: []native.RootParameter{
			{Type: native.RootCBV, Register: 0},
			{Type: native.RootSRV, Register: 0},
		}}},
		{"push constants", native.RootSignatureDesc{Params: []native.RootParameter{
			{Type: native.RootConstants, Space: native.PushConstantSpace, Num32BitVals: 4},
		}}},
		{"too many spaces", native.RootSignatureDesc{Params: []native.RootParameter{
			{Type: native.RootCBV, Space: 7},
		}}},
		{"static sampler collision", native.RootSignatureDesc{
			Params:         []native.RootParameter{{Type: native.RootCBV, Register: 3}},
			StaticSamplers: []native.StaticSampler{{Register: 3}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateRootSignature(&tt.desc)
			assert.ErrorIs(t, err, native.ErrUnsupported)
		})
	}
}

type drawFixture struct {
	dev   *Device
	rec   *recorder
	sig   native.RootSignature
	pipe  native.Pipeline
	vis   native.DescriptorHeap
	rtv   native.DescriptorHeap
	alloc native.CommandAllocator
	list  native.CommandList
	tex   native.Texture
}

func newDrawFixture(t *testing.T) *drawFixture {
	t.Helper()
	d, rec, _ := newTestDevice(t)
	f := &drawFixture{dev: d, rec: rec}
	var err error
	f.sig, err = d.CreateRootSignature(texturedSignature())
	require.NoError(t, err)
	f.pipe, err = d.CreateGraphicsPipeline(&native.GraphicsPipelineDesc{
		Label:         "sprite",
		RootSignature: f.sig,
		Vertex:        native.ShaderBytecode{Format: native.BytecodeWGSL, Code: []byte("vs"), Entry: "vs_main"},
		Fragment:      native.ShaderBytecode{Format: native.BytecodeWGSL, Code: []byte("fs"), Entry: "fs_main"},
		Targets:       []gputypes.ColorTargetState{{Format: gputypes.TextureFormatRGBA8Unorm}},
	})
	require.NoError(t, err)

	f.vis, err = d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "vis", Kind: native.HeapResource, Capacity: 8, ShaderVisible: true})
	require.NoError(t, err)
	f.rtv, err = d.CreateDescriptorHeap(&native.DescriptorHeapDesc{Label: "rtv", Kind: native.HeapRTV, Capacity: 2})
	require.NoError(t, err)

	cb, err := d.CreateBuffer(&native.BufferDesc{Label: "cb", Size: 256, Usage: gputypes.BufferUsageUniform})
	require.NoError(t, err)
	f.tex, err = d.CreateTexture(&native.TextureDesc{
		Label: "rt", Width: 64, Height: 32, Format: gputypes.TextureFormatRGBA8Unorm,
		Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	require.NoError(t, err)
	require.NoError(t, d.CreateView(&native.ViewDesc{Kind: native.ViewConstantBuffer, Buffer: cb}, f.vis.CPUStart()))
	for i := range 2 {
		require.NoError(t, d.CreateView(&native.ViewDesc{Kind: native.ViewShaderResource, Texture: f.tex}, f.vis.CPUStart()+native.CPUHandle(1+i)))
	}
	require.NoError(t, d.CreateView(&native.ViewDesc{Kind: native.ViewRenderTarget, Texture: f.tex}, f.rtv.CPUStart()))

	f.alloc, err = d.CreateCommandAllocator(native.QueueGraphics)
	require.NoError(t, err)
	f.list, err = d.CreateCommandList(native.QueueGraphics, f.alloc)
	require.NoError(t, err)
	require.NoError(t, f.list.Reset(f.alloc))

	t.Cleanup(func() {
		f.list.Release()
		f.alloc.Release()
		f.pipe.Release()
		f.sig.Release()
		f.vis.Release()
		f.rtv.Release()
		f.tex.Release()
		cb.Release()
	})
	return f
}

func (f *drawFixture) beginPass() {
	f.list.SetDescriptorHeaps([]native.DescriptorHeap{f.vis})
	f.list.SetRootSignature(native.BindGraphics, f.sig)
	f.list.SetPipeline(f.pipe)
	f.list.BeginRenderPass(&native.RenderPassDesc{Colors: []native.RenderPassColor{{
		View: f.rtv.CPUStart(), Load: gputypes.LoadOpClear, Store: gputypes.StoreOpStore,
	}}})
	f.list.SetViewports([]native.Viewport{{Width: 64, Height: 32, MaxDepth: 1}})
}

func ringWords(t *testing.T, f *drawFixture, offset uint64) []uint32 {
	t.Helper()
	a := f.alloc.(*CommandAllocator)
	require.NotEmpty(t, a.ring.chunks)
	m, err := f.rec.MapBuffer(a.ring.chunks[0], offset, 8)
	require.NoError(t, err)
	raw := unsafe.Slice((*byte)(m.Ptr), 8)
	return []uint32{binary.LittleEndian.Uint32(raw), binary.LittleEndian.Uint32(raw[4:])}
}

func TestRecordDraw(t *testing.T) {
	f := newDrawFixture(t)
	f.beginPass()
	f.list.SetRootConstants(native.BindGraphics, 0, []uint32{7, 8}, 0)
	f.list.SetRootDescriptorTable(native.BindGraphics, 1, f.vis.GPUStart())
	f.list.Draw(3, 1, 0, 0)
	f.list.Draw(3, 1, 0, 0)
	assert.Equal(t, 2, f.rec.count("SetBindGroup"), "unchanged groups are not rebound")
	assert.Equal(t, 1, f.rec.count("SetPipeline"))
	assert.Equal(t, 1, f.rec.count("SetViewport"))

	f.list.SetRootConstants(native.BindGraphics, 0, []uint32{9}, 1)
	f.list.Draw(3, 1, 0, 0)
	f.list.EndRenderPass()
	require.NoError(t, f.list.Close())

	assert.Equal(t, 3, f.rec.count("Draw"))
	assert.Equal(t, 3, f.rec.count("SetBindGroup"), "only the constants group changed")
	assert.Equal(t, []uint32{7, 8}, ringWords(t, f, 0))
	assert.Equal(t, []uint32{7, 9}, ringWords(t, f, 256), "constants are aligned in the ring")

	require.Len(t, f.rec.groups, 3)
	textures := f.rec.groups[1]
	require.Len(t, textures.Entries, 3)
	assert.IsType(t, gputypes.TextureViewBinding{}, textures.Entries[0].Resource)
	assert.IsType(t, gputypes.SamplerBinding{}, textures.Entries[2].Resource)

	a := f.alloc.(*CommandAllocator)
	assert.Len(t, a.groups, 3)
	assert.Len(t, a.cmds, 1)
	srv := f.vis.(*DescriptorHeap).get(1)
	assert.Greater(t, srv.obj.refs, 1, "recorded groups hold their views")

	q, err := f.dev.CreateQueue(native.QueueGraphics)
	require.NoError(t, err)
	require.NoError(t, q.Submit([]native.CommandList{f.list}))
	assert.Error(t, q.Submit([]native.CommandList{f.list}), "already submitted")

	require.NoError(t, f.alloc.Reset())
	assert.Empty(t, a.groups)
	assert.Empty(t, a.cmds)
	assert.Equal(t, 1, srv.obj.refs)
}

func TestRecordErrorsAreSticky(t *testing.T) {
	f := newDrawFixture(t)
	f.list.Draw(3, 1, 0, 0)
	f.beginPass()
	f.list.SetRootDescriptorTable(native.BindGraphics, 1, f.vis.GPUStart())
	f.list.Draw(3, 1, 0, 0)
	f.list.EndRenderPass()
	err := f.list.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside a render pass")
	assert.Zero(t, f.rec.count("Draw"))

	require.NoError(t, f.list.Reset(f.alloc))
	f.beginPass()
	f.list.Draw(3, 1, 0, 0)
	f.list.EndRenderPass()
	err = f.list.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table 1")
}

func TestRenderPassAttachments(t *testing.T) {
	f := newDrawFixture(t)
	f.list.BeginRenderPass(&native.RenderPassDesc{Label: "main", Colors: []native.RenderPassColor{{
		View: f.rtv.CPUStart(), Clear: gputypes.Color{R: 1, A: 1},
	}}})
	f.list.EndRenderPass()
	require.NoError(t, f.list.Close())

	require.Len(t, f.rec.passes, 1)
	c := f.rec.passes[0].ColorAttachments[0]
	assert.Equal(t, gputypes.LoadOpClear, c.LoadOp, "unset load clears")
	assert.Equal(t, gputypes.StoreOpStore, c.StoreOp)
	assert.Equal(t, 1.0, c.ClearValue.R)

	require.NoError(t, f.list.Reset(f.alloc))
	f.list.BeginRenderPass(&native.RenderPassDesc{Colors: []native.RenderPassColor{{View: f.rtv.CPUStart() + 1}}})
	assert.Error(t, f.list.Close(), "empty attachment descriptor")
}

func TestComputeAndIndirect(t *testing.T) {
	d, rec, _ := newTestDevice(t)
	sig, err := d.CreateRootSignature(&native.RootSignatureDesc{
		Label:  "compute",
		Params: []native.RootParameter{{Type: native.RootUAV, Visibility: gputypes.ShaderStageCompute}},
	})
	require.NoError(t, err)
	defer sig.Release()
	pipe, err := d.CreateComputePipeline(&native.ComputePipelineDesc{
		Label: "fill", RootSignature: sig,
		Compute: native.ShaderBytecode{Format: native.BytecodeSPIRV, Code: []byte{0x03, 0x02, 0x23, 0x07}, Entry: "main"},
	})
	require.NoError(t, err)
	defer pipe.Release()
	assert.True(t, pipe.Compute())

	out, err := d.CreateBuffer(&native.BufferDesc{Label: "out", Size: 64, Usage: gputypes.BufferUsageStorage})
	require.NoError(t, err)
	defer out.Release()
	args, err := d.CreateBuffer(&native.BufferDesc{Label: "args", Size: 36, Usage: gputypes.BufferUsageIndirect})
	require.NoError(t, err)
	defer args.Release()
	cs, err := d.CreateCommandSignature(&native.CommandSignatureDesc{Kind: native.IndirectDispatch, Stride: native.DispatchArgsSize})
	require.NoError(t, err)

	alloc, err := d.CreateCommandAllocator(native.QueueCompute)
	require.NoError(t, err)
	defer alloc.Release()
	list, err := d.CreateCommandList(native.QueueCompute, alloc)
	require.NoError(t, err)
	defer list.Release()
	require.NoError(t, list.Reset(alloc))

	list.SetRootSignature(native.BindCompute, sig)
	list.SetPipeline(pipe)
	list.SetRootDescriptor(native.BindCompute, 0, out, 0)
	list.Dispatch(4, 1, 1)
	list.Dispatch(4, 1, 1)
	list.ResourceBarrier([]native.Barrier{{Type: native.BarrierTransition, Resource: out, Subresource: native.AllSubresources,
		Before: native.StateUnorderedAccess, After: native.StateCopySource}})
	list.ExecuteIndirect(cs, 3, args, 0, nil, 0)
	require.NoError(t, list.Close())

	assert.Equal(t, 2, rec.count("BeginComputePass"), "the barrier splits the compute pass")
	assert.Equal(t, 2, rec.count("EndComputePass"))
	assert.Equal(t, 2, rec.count("Dispatch"))
	assert.Equal(t, 3, rec.count("DispatchIndirect"))
	assert.Equal(t, 1, rec.count("TransitionBuffers"))

	require.NoError(t, list.Reset(alloc))
	list.SetRootSignature(native.BindCompute, sig)
	list.SetPipeline(pipe)
	list.SetRootDescriptor(native.BindCompute, 0, out, 0)
	list.ExecuteIndirect(cs, 4, args, 0, nil, 0)
	assert.Error(t, list.Close(), "four records overrun 36 bytes")

	require.NoError(t, list.Reset(alloc))
	list.ExecuteIndirect(cs, 1, args, 0, args, 0)
	assert.ErrorIs(t, list.Close(), native.ErrUnsupported)

	_, err = d.CreateCommandSignature(&native.CommandSignatureDesc{Kind: native.IndirectDrawIndexed, Stride: 16})
	assert.Error(t, err)
	_, err = d.CreateComputePipeline(&native.ComputePipelineDesc{RootSignature: sig,
		Compute: native.ShaderBytecode{Format: native.BytecodeHLSL, Code: []byte("x")}})
	assert.ErrorIs(t, err, native.ErrUnsupported)
}

func TestFenceFollowsSubmissions(t *testing.T) {
	d, _, q := newTestDevice(t)
	f, err := d.CreateFence(1)
	require.NoError(t, err)
	defer f.Release()
	queue, err := d.CreateQueue(native.QueueGraphics)
	require.NoError(t, err)

	require.NoError(t, queue.Signal(f, 2))
	assert.Equal(t, uint64(2), f.CompletedValue(), "nothing in flight")

	q.held.Store(true)
	alloc, err := d.CreateCommandAllocator(native.QueueGraphics)
	require.NoError(t, err)
	defer alloc.Release()
	list, err := d.CreateCommandList(native.QueueGraphics, alloc)
	require.NoError(t, err)
	defer list.Release()
	require.NoError(t, list.Reset(alloc))
	require.NoError(t, list.Close())
	require.NoError(t, queue.Submit([]native.CommandList{list}))
	require.NoError(t, queue.Signal(f, 5))
	require.NoError(t, queue.Wait(f, 5))

	assert.Equal(t, uint64(2), f.CompletedValue())
	ok, err := d.WaitFence(f, 5, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	q.held.Store(false)
	ok, err = d.WaitFence(f, 5, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), f.CompletedValue())
}

func TestSwapchainOffscreen(t *testing.T) {
	d, _, _ := newTestDevice(t)
	q, err := d.CreateQueue(native.QueueGraphics)
	require.NoError(t, err)
	_, err = d.CreateSwapchain(&native.SwapchainDesc{Label: "main", Width: 8, Height: 8, BufferCount: 1}, q)
	assert.Error(t, err)

	sc, err := d.CreateSwapchain(&native.SwapchainDesc{
		Label: "main", Width: 64, Height: 32, Format: gputypes.TextureFormatBGRA8Unorm, BufferCount: 3,
	}, q)
	require.NoError(t, err)
	defer sc.Release()

	require.Equal(t, 3, sc.BufferCount())
	assert.Equal(t, uint32(64), sc.BackBuffer(0).Desc().Width)
	for want := range 4 {
		assert.Equal(t, want%3, sc.CurrentIndex())
		require.NoError(t, sc.Present(1, 0))
	}
	require.NoError(t, sc.Resize(128, 16))
	assert.Equal(t, 0, sc.CurrentIndex())
	assert.Equal(t, uint32(128), sc.BackBuffer(2).Desc().Width)
	assert.Equal(t, uint32(16), sc.Desc().Height)
}
