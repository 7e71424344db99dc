// Package native defines the device contract that gfx drives.
//
// The contract is deliberately low level: descriptor heaps addressed by
// CPU and GPU handles, root signatures with constants, root descriptors
// and descriptor tables, explicit resource state transitions and fences
// with monotonically increasing values. Implementations live in
// sub-packages (trace, wgpu).
//
// Every object returned by a Device owns native memory and must be
// released exactly once with Release. Objects are not safe for concurrent
// use unless stated otherwise.
package native

import (
	"errors"
	"time"

	"github.com/gogpu/gputypes"
)

// Errors returned by implementations.
var (
	// ErrDeviceLost is returned once the device can no longer execute work.
	ErrDeviceLost = errors.New("native: device lost")

	// ErrUnsupported is returned for features the implementation lacks.
	ErrUnsupported = errors.New("native: unsupported")

	// ErrOutOfMemory is returned when a native allocation fails.
	ErrOutOfMemory = errors.New("native: out of memory")
)

// Object is implemented by every native object.
type Object interface {
	Release()
}

// CPUHandle addresses a descriptor for CPU-side writes and copies.
type CPUHandle uint64

// GPUHandle addresses a descriptor in a shader-visible heap.
type GPUHandle uint64

// HeapKind identifies the descriptor class a heap stores.
type HeapKind uint8

const (
	HeapResource HeapKind = iota
	HeapSampler
	HeapRTV
	HeapDSV
)

// MemoryKind selects the memory pool a buffer is placed in.
type MemoryKind uint8

const (
	MemoryDefault  MemoryKind = iota // device local
	MemoryUpload                     // host visible, write combined
	MemoryReadback                   // host visible, cached
)

// QueueKind selects the engine a queue submits to.
type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueCompute
	QueueTransfer
)

func (k QueueKind) String() string {
	switch k {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Limits reports device capabilities gfx needs to size its tables.
type Limits struct {
	MaxRootParameters       uint32
	MaxTextureDimension2D   uint32
	ConstantBufferAlignment uint32
	MaxDescriptorHeapSize   uint32
}

// Device creates native objects and owns descriptor heaps.
type Device interface {
	Object

	Name() string
	Limits() Limits

	CreateBuffer(desc *BufferDesc) (Buffer, error)
	CreateTexture(desc *TextureDesc) (Texture, error)

	CreateDescriptorHeap(desc *DescriptorHeapDesc) (DescriptorHeap, error)
	// CreateView writes a descriptor for view into dst.
	CreateView(view *ViewDesc, dst CPUHandle) error
	// CopyDescriptors performs every copy in one native call. All copies
	// must target heaps of the given kind.
	CopyDescriptors(kind HeapKind, copies []DescriptorCopy) error

	CreateRootSignature(desc *RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (Pipeline, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (Pipeline, error)
	CreateCommandSignature(desc *CommandSignatureDesc) (CommandSignature, error)

	CreateQueue(kind QueueKind) (Queue, error)
	CreateFence(initial uint64) (Fence, error)
	CreateCommandAllocator(kind QueueKind) (CommandAllocator, error)
	CreateCommandList(kind QueueKind, alloc CommandAllocator) (CommandList, error)
	CreateSwapchain(desc *SwapchainDesc, queue Queue) (Swapchain, error)

	// WaitFence blocks until fence reaches value or timeout elapses.
	// It reports whether the value was reached.
	WaitFence(fence Fence, value uint64, timeout time.Duration) (bool, error)
}

// Resource is a buffer or a texture.
type Resource interface {
	Object
	Label() string
}

// BufferDesc describes a linear allocation.
type BufferDesc struct {
	Label        string
	Size         uint64
	Usage        gputypes.BufferUsage
	Memory       MemoryKind
	InitialState ResourceState
}

// Buffer is a linear allocation.
type Buffer interface {
	Resource
	Size() uint64
	// Map returns a host view of an upload or readback buffer.
	Map() ([]byte, error)
	Unmap()
}

// TextureDesc describes an image allocation.
type TextureDesc struct {
	Label              string
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
	MipLevels          uint32
	SampleCount        uint32
	Dimension          gputypes.TextureDimension
	Format             gputypes.TextureFormat
	Usage              gputypes.TextureUsage
	InitialState       ResourceState
	// Shared requests an OS handle that other processes can open.
	Shared bool
}

// Texture is an image allocation.
type Texture interface {
	Resource
	Desc() TextureDesc
	// SharedHandle returns the OS handle of a shared texture, or 0.
	SharedHandle() uintptr
}

// DescriptorHeapDesc describes a descriptor heap.
type DescriptorHeapDesc struct {
	Label         string
	Kind          HeapKind
	Capacity      uint32
	ShaderVisible bool
}

// DescriptorHeap is a fixed array of descriptors.
type DescriptorHeap interface {
	Object
	Desc() DescriptorHeapDesc
	CPUStart() CPUHandle
	// GPUStart is zero for heaps that are not shader visible.
	GPUStart() GPUHandle
	DescriptorSize() uint32
}

// DescriptorCopy copies Count consecutive descriptors from Src to Dst.
type DescriptorCopy struct {
	Dst   CPUHandle
	Src   CPUHandle
	Count uint32
}

// ViewKind selects the descriptor type CreateView writes.
type ViewKind uint8

const (
	ViewConstantBuffer ViewKind = iota
	ViewShaderResource
	ViewUnorderedAccess
	ViewRenderTarget
	ViewDepthStencil
	ViewSampler
)

func (k ViewKind) String() string {
	switch k {
	case ViewConstantBuffer:
		return "cbv"
	case ViewShaderResource:
		return "srv"
	case ViewUnorderedAccess:
		return "uav"
	case ViewRenderTarget:
		return "rtv"
	case ViewDepthStencil:
		return "dsv"
	case ViewSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

// Heap returns the heap kind descriptors of this view kind live in.
func (k ViewKind) Heap() HeapKind {
	switch k {
	case ViewRenderTarget:
		return HeapRTV
	case ViewDepthStencil:
		return HeapDSV
	case ViewSampler:
		return HeapSampler
	default:
		return HeapResource
	}
}

// ViewDesc describes a descriptor. Exactly one of Buffer, Texture or
// Sampler is set, matching Kind.
type ViewDesc struct {
	Kind ViewKind

	Buffer Buffer
	Offset uint64
	Size   uint64 // zero means to the end of the buffer
	Stride uint32 // structured buffers

	Texture        Texture
	Format         gputypes.TextureFormat // zero means the texture format
	Dimension      gputypes.TextureViewDimension
	BaseMipLevel   uint32
	MipLevelCount  uint32 // zero means all remaining
	BaseArrayLayer uint32
	ArrayLayers    uint32 // zero means all remaining
	ReadOnlyDepth  bool

	Sampler *SamplerDesc
}

// SamplerDesc describes a sampler descriptor or a static sampler.
type SamplerDesc struct {
	AddressU     gputypes.AddressMode
	AddressV     gputypes.AddressMode
	AddressW     gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
	Compare      gputypes.CompareFunction
}

// RootParamType selects how a root parameter is bound.
type RootParamType uint8

const (
	RootConstants RootParamType = iota
	RootCBV
	RootSRV
	RootUAV
	RootTable
)

// RangeKind is the descriptor type of a table range.
type RangeKind uint8

const (
	RangeCBV RangeKind = iota
	RangeSRV
	RangeUAV
	RangeSampler
)

// DescriptorRange is a run of descriptors inside a table.
type DescriptorRange struct {
	Kind          RangeKind
	Count         uint32
	BaseRegister  uint32
	Space         uint32
	OffsetInTable uint32
	// Buffer marks SRV and UAV ranges that hold buffer views.
	Buffer bool
}

// RootParameter is one entry of a root signature.
type RootParameter struct {
	Type         RootParamType
	Visibility   gputypes.ShaderStage
	Register     uint32
	Space        uint32
	Num32BitVals uint32            // RootConstants
	Ranges       []DescriptorRange // RootTable
}

// PushConstantSpace is the register space of root constants that map onto
// a shader's push-constant block instead of a constant buffer.
const PushConstantSpace uint32 = 0xffffffff

// StaticSampler is a sampler baked into a root signature.
type StaticSampler struct {
	Sampler    SamplerDesc
	Register   uint32
	Space      uint32
	Visibility gputypes.ShaderStage
}

// RootSignatureDesc describes a root signature.
type RootSignatureDesc struct {
	Label          string
	Params         []RootParameter
	StaticSamplers []StaticSampler
}

// RootSignature is a compiled binding layout.
type RootSignature interface {
	Object
	Desc() *RootSignatureDesc
}

// BytecodeFormat identifies the payload of ShaderBytecode.
type BytecodeFormat uint8

const (
	BytecodeSPIRV BytecodeFormat = iota
	BytecodeHLSL
	BytecodeWGSL
)

// ShaderBytecode is one compiled shader stage.
type ShaderBytecode struct {
	Format BytecodeFormat
	Code   []byte
	Entry  string
}

// IsEmpty reports whether the stage is absent.
func (s ShaderBytecode) IsEmpty() bool { return len(s.Code) == 0 }

// GraphicsPipelineDesc describes a raster pipeline.
type GraphicsPipelineDesc struct {
	Label         string
	RootSignature RootSignature
	Vertex        ShaderBytecode
	Fragment      ShaderBytecode
	VertexBuffers []gputypes.VertexBufferLayout
	Topology      gputypes.PrimitiveTopology
	CullMode      gputypes.CullMode
	FrontFace     gputypes.FrontFace
	Targets       []gputypes.ColorTargetState
	DepthFormat   gputypes.TextureFormat // undefined disables depth
	DepthWrite    bool
	DepthCompare  gputypes.CompareFunction
	SampleCount   uint32
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label         string
	RootSignature RootSignature
	Compute       ShaderBytecode
}

// Pipeline is a compiled graphics or compute pipeline.
type Pipeline interface {
	Object
	Compute() bool
}

// IndirectKind selects the command an indirect signature issues.
type IndirectKind uint8

const (
	IndirectDraw IndirectKind = iota
	IndirectDrawIndexed
	IndirectDispatch
)

// Argument sizes in bytes, matching the packed argument structs.
const (
	DrawArgsSize        = 16
	DrawIndexedArgsSize = 20
	DispatchArgsSize    = 12
)

// CommandSignatureDesc describes the layout of indirect arguments.
type CommandSignatureDesc struct {
	Label  string
	Kind   IndirectKind
	Stride uint32
}

// CommandSignature describes indirect argument buffers.
type CommandSignature interface {
	Object
	Kind() IndirectKind
	Stride() uint32
}

// Fence is a monotonically increasing 64-bit counter signalled by queues.
type Fence interface {
	Object
	CompletedValue() uint64
}

// Queue executes closed command lists in submission order.
type Queue interface {
	Object
	Kind() QueueKind
	Submit(lists []CommandList) error
	// Signal sets fence to value once all previously submitted work completes.
	Signal(fence Fence, value uint64) error
	// Wait stalls the queue until fence reaches value.
	Wait(fence Fence, value uint64) error
}

// CommandAllocator backs the memory of command lists.
type CommandAllocator interface {
	Object
	// Reset reclaims command memory. The GPU must be done with every list
	// recorded from the allocator.
	Reset() error
}

// SwapchainDesc describes a presentable set of back buffers.
type SwapchainDesc struct {
	Label        string
	Width        uint32
	Height       uint32
	Format       gputypes.TextureFormat
	BufferCount  uint32
	AllowTearing bool
}

// PresentFlags modify Present.
type PresentFlags uint8

const (
	PresentAllowTearing PresentFlags = 1 << iota
)

// Swapchain is a ring of back buffers presented to a window.
type Swapchain interface {
	Object
	Desc() SwapchainDesc
	BufferCount() int
	BackBuffer(i int) Texture
	CurrentIndex() int
	Present(syncInterval uint32, flags PresentFlags) error
	// Resize recreates the back buffers. Every reference to the old back
	// buffers must be released first.
	Resize(width, height uint32) error
}
