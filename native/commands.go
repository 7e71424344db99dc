package native

import "github.com/gogpu/gputypes"

// ResourceState is a bit set of the ways a resource may be accessed.
// StateCommon is the zero value.
type ResourceState uint32

const (
	StateCommon              ResourceState = 0
	StateVertexAndConstant   ResourceState = 1 << 0
	StateIndexBuffer         ResourceState = 1 << 1
	StateRenderTarget        ResourceState = 1 << 2
	StateUnorderedAccess     ResourceState = 1 << 3
	StateDepthWrite          ResourceState = 1 << 4
	StateDepthRead           ResourceState = 1 << 5
	StateNonPixelShader      ResourceState = 1 << 6
	StatePixelShader         ResourceState = 1 << 7
	StateIndirectArgument    ResourceState = 1 << 9
	StateCopyDest            ResourceState = 1 << 10
	StateCopySource          ResourceState = 1 << 11
	StateResolveDest         ResourceState = 1 << 12
	StateResolveSource       ResourceState = 1 << 13
	StatePresent             ResourceState = 0
	StateGenericRead                       = StateVertexAndConstant | StateIndexBuffer | StateNonPixelShader | StatePixelShader | StateIndirectArgument | StateCopySource
	StateAllShaderResource                 = StateNonPixelShader | StatePixelShader
	AllSubresources          uint32        = 0xffffffff
)

// BarrierType selects the barrier variant.
type BarrierType uint8

const (
	BarrierTransition BarrierType = iota
	BarrierUAV
	BarrierAliasing
)

// Barrier is one entry of a ResourceBarrier batch.
type Barrier struct {
	Type        BarrierType
	Resource    Resource // nil on a UAV barrier means all UAV accesses
	Subresource uint32
	Before      ResourceState
	After       ResourceState
}

// BindPoint selects the graphics or compute root signature slot.
type BindPoint uint8

const (
	BindGraphics BindPoint = iota
	BindCompute
)

// Viewport is a float rectangle with a depth range.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is an integer scissor rectangle.
type Rect struct {
	X, Y, Width, Height uint32
}

// VertexBufferView binds part of a buffer as a vertex stream.
type VertexBufferView struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
	Stride uint32
}

// IndexBufferView binds part of a buffer as the index stream.
type IndexBufferView struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
	Format gputypes.IndexFormat
}

// RenderPassColor is one color attachment of a render pass.
type RenderPassColor struct {
	View    CPUHandle
	Texture Texture
	Load    gputypes.LoadOp
	Store   gputypes.StoreOp
	Clear   gputypes.Color
}

// RenderPassDepth is the depth-stencil attachment of a render pass.
type RenderPassDepth struct {
	View         CPUHandle
	Texture      Texture
	DepthLoad    gputypes.LoadOp
	DepthStore   gputypes.StoreOp
	StencilLoad  gputypes.LoadOp
	StencilStore gputypes.StoreOp
	ClearDepth   float32
	ClearStencil uint32
	ReadOnly     bool
}

// RenderPassDesc describes the attachments of a render pass.
type RenderPassDesc struct {
	Label  string
	Colors []RenderPassColor
	Depth  *RenderPassDepth
}

// TextureCopyLocation is one side of CopyTextureRegion. Either Texture is
// set, selecting a subresource, or Buffer is set with a placed footprint.
type TextureCopyLocation struct {
	Texture  Texture
	MipLevel uint32
	Layer    uint32
	Origin   [3]uint32

	Buffer       Buffer
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
}

// CommandList records GPU work for later submission.
type CommandList interface {
	Object
	Kind() QueueKind

	// Reset reopens the list for recording with memory from alloc.
	Reset(alloc CommandAllocator) error
	Close() error

	ResourceBarrier(barriers []Barrier)

	SetDescriptorHeaps(heaps []DescriptorHeap)
	SetRootSignature(bind BindPoint, sig RootSignature)
	SetPipeline(p Pipeline)
	SetRootConstants(bind BindPoint, param uint32, values []uint32, offset uint32)
	SetRootDescriptor(bind BindPoint, param uint32, buf Buffer, offset uint64)
	SetRootDescriptorTable(bind BindPoint, param uint32, base GPUHandle)

	BeginRenderPass(desc *RenderPassDesc)
	EndRenderPass()
	SetViewports(vps []Viewport)
	SetScissorRects(rects []Rect)
	SetVertexBuffers(start uint32, views []VertexBufferView)
	SetIndexBuffer(view *IndexBufferView)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)
	Dispatch(x, y, z uint32)
	// ExecuteIndirect issues up to maxCount commands described by sig.
	// When count is non-nil the actual count is read from it.
	ExecuteIndirect(sig CommandSignature, maxCount uint32, args Buffer, argsOffset uint64, count Buffer, countOffset uint64)

	CopyBufferRegion(dst Buffer, dstOffset uint64, src Buffer, srcOffset uint64, size uint64)
	CopyResource(dst, src Resource)
	CopyTextureRegion(dst, src *TextureCopyLocation, width, height, depth uint32)

	BeginEvent(name string)
	EndEvent()
}
