package trace

import (
	"fmt"

	"github.com/gogpu/gfx/native"
)

// CommandList is a trace command list. Every recorded command is appended
// to the device log with the list label as the call target.
type CommandList struct {
	object
	kind native.QueueKind
	open bool
}

// CreateCommandList implements native.Device. The list starts closed.
func (d *Device) CreateCommandList(kind native.QueueKind, alloc native.CommandAllocator) (native.CommandList, error) {
	if err := d.injected("CreateCommandList"); err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, fmt.Errorf("trace: command list needs an allocator")
	}
	d.log.record("CreateCommandList", kind.String())
	return &CommandList{object: d.newObject(kind.String() + " list"), kind: kind}, nil
}

func (l *CommandList) rec(op string, args ...any) { l.dev.log.record(op, l.label, args...) }

func (l *CommandList) Kind() native.QueueKind { return l.kind }

// Open reports whether the list is recording.
func (l *CommandList) Open() bool { return l.open }

func (l *CommandList) Reset(alloc native.CommandAllocator) error {
	if err := l.dev.injected("Reset"); err != nil {
		return err
	}
	if l.open {
		return fmt.Errorf("trace: reset of open command list %q", l.label)
	}
	l.open = true
	l.rec("Reset")
	return nil
}

func (l *CommandList) Close() error {
	if err := l.dev.injected("Close"); err != nil {
		return err
	}
	if !l.open {
		return fmt.Errorf("trace: close of closed command list %q", l.label)
	}
	l.open = false
	l.rec("Close")
	return nil
}

func (l *CommandList) ResourceBarrier(barriers []native.Barrier) {
	cp := make([]native.Barrier, len(barriers))
	copy(cp, barriers)
	l.rec("ResourceBarrier", cp)
}

func (l *CommandList) SetDescriptorHeaps(heaps []native.DescriptorHeap) {
	l.rec("SetDescriptorHeaps", len(heaps))
}

func (l *CommandList) SetRootSignature(bind native.BindPoint, sig native.RootSignature) {
	l.rec("SetRootSignature", bind, sig)
}

func (l *CommandList) SetPipeline(p native.Pipeline) { l.rec("SetPipeline", p) }

func (l *CommandList) SetRootConstants(bind native.BindPoint, param uint32, values []uint32, offset uint32) {
	cp := make([]uint32, len(values))
	copy(cp, values)
	l.rec("SetRootConstants", bind, param, cp, offset)
}

func (l *CommandList) SetRootDescriptor(bind native.BindPoint, param uint32, buf native.Buffer, offset uint64) {
	l.rec("SetRootDescriptor", bind, param, buf, offset)
}

func (l *CommandList) SetRootDescriptorTable(bind native.BindPoint, param uint32, base native.GPUHandle) {
	l.rec("SetRootDescriptorTable", bind, param, base)
}

func (l *CommandList) BeginRenderPass(desc *native.RenderPassDesc) {
	cp := *desc
	cp.Colors = append([]native.RenderPassColor(nil), desc.Colors...)
	if desc.Depth != nil {
		d := *desc.Depth
		cp.Depth = &d
	}
	l.rec("BeginRenderPass", &cp)
}

func (l *CommandList) EndRenderPass() { l.rec("EndRenderPass") }

func (l *CommandList) SetViewports(vps []native.Viewport) {
	l.rec("SetViewports", append([]native.Viewport(nil), vps...))
}

func (l *CommandList) SetScissorRects(rects []native.Rect) {
	l.rec("SetScissorRects", append([]native.Rect(nil), rects...))
}

func (l *CommandList) SetVertexBuffers(start uint32, views []native.VertexBufferView) {
	l.rec("SetVertexBuffers", start, append([]native.VertexBufferView(nil), views...))
}

func (l *CommandList) SetIndexBuffer(view *native.IndexBufferView) {
	v := *view
	l.rec("SetIndexBuffer", &v)
}

func (l *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	l.rec("Draw", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (l *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	l.rec("DrawIndexed", indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (l *CommandList) Dispatch(x, y, z uint32) { l.rec("Dispatch", x, y, z) }

func (l *CommandList) ExecuteIndirect(sig native.CommandSignature, maxCount uint32, args native.Buffer, argsOffset uint64, count native.Buffer, countOffset uint64) {
	l.rec("ExecuteIndirect", sig.Kind(), maxCount, args, argsOffset, count, countOffset)
}

func (l *CommandList) CopyBufferRegion(dst native.Buffer, dstOffset uint64, src native.Buffer, srcOffset uint64, size uint64) {
	l.rec("CopyBufferRegion", dst, dstOffset, src, srcOffset, size)
}

func (l *CommandList) CopyResource(dst, src native.Resource) {
	l.rec("CopyResource", dst, src)
}

func (l *CommandList) CopyTextureRegion(dst, src *native.TextureCopyLocation, width, height, depth uint32) {
	d, s := *dst, *src
	l.rec("CopyTextureRegion", &d, &s, width, height, depth)
}

func (l *CommandList) BeginEvent(name string) { l.rec("BeginEvent", name) }
func (l *CommandList) EndEvent()              { l.rec("EndEvent") }
