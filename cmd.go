package gfx

import (
	"fmt"

	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

type cmdState uint8

const (
	stateInitial cmdState = iota
	stateRecording
	stateClosed
	stateSubmitted
)

func (s cmdState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateRecording:
		return "recording"
	case stateClosed:
		return "closed"
	case stateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// CommandBufferDesc describes a command buffer.
type CommandBufferDesc struct {
	Name  string
	Queue QueueKind
}

type commandBuffer struct {
	name  string
	kind  QueueKind
	list  native.CommandList
	alloc native.CommandAllocator

	state  cmdState
	inPass bool
	err    error

	point   BindPoint
	layouts [2]BindLayoutID // per bind point
	bound   bool            // a shader is bound
	compute bool            // the bound shader is a compute shader
	events  int
}

func (c *commandBuffer) Release() {
	if c.list != nil {
		c.list.Release()
	}
	if c.alloc != nil {
		c.alloc.Release()
	}
}

// CreateCommandBuffer creates a command buffer with a private allocator.
func (b *Backend) CreateCommandBuffer(desc CommandBufferDesc) (CommandBufferID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	h, row, err := b.cmdbufs.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	row.name = desc.Name
	row.kind = desc.Queue
	if row.alloc, err = b.dev.CreateCommandAllocator(desc.Queue.native()); err != nil {
		_ = b.cmdbufs.Remove(h)
		return 0, b.deviceError("create command allocator", err)
	}
	if row.list, err = b.dev.CreateCommandList(desc.Queue.native(), row.alloc); err != nil {
		_ = b.cmdbufs.Remove(h)
		return 0, b.deviceError("create command list", err)
	}
	return CommandBufferID(h), nil
}

// DestroyCommandBuffer releases a command buffer. The GPU must be done
// with it.
func (b *Backend) DestroyCommandBuffer(id CommandBufferID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	return remove(b.cmdbufs, "command buffer", pool.Handle(id))
}

// CommandBuffer records commands into one command buffer. It is obtained
// from Backend.Commands and stays valid until the command buffer is
// destroyed. A CommandBuffer must be used by one goroutine at a time.
//
// Recording methods do not return errors. The first failure is kept and
// returned by Close and Err; later calls are ignored until Reset.
type CommandBuffer struct {
	b  *Backend
	id CommandBufferID
	c  *commandBuffer
}

// Commands returns the recorder of command buffer id.
func (b *Backend) Commands(id CommandBufferID) (*CommandBuffer, error) {
	if err := b.enter(); err != nil {
		return nil, err
	}
	defer b.exit()
	c, err := lookup(b.cmdbufs, "command buffer", pool.Handle(id))
	if err != nil {
		return nil, err
	}
	return &CommandBuffer{b: b, id: id, c: c}, nil
}

// ID returns the handle of the command buffer.
func (cb *CommandBuffer) ID() CommandBufferID { return cb.id }

// Err returns the first recording error since Reset.
func (cb *CommandBuffer) Err() error { return cb.c.err }

// fail records err unless an earlier error is already kept.
func (cb *CommandBuffer) fail(err error) {
	if cb.c.err == nil {
		cb.c.err = err
		cb.b.log().Warn("gfx: recording error", "cmd", cb.c.name, "err", err)
	}
}

// recording reports whether commands can be recorded. inPass selects
// whether the call must be inside (true) or outside (false) a render pass.
func (cb *CommandBuffer) recording(op string, inPass bool) bool {
	c := cb.c
	if c.err != nil {
		return false
	}
	if c.state != stateRecording {
		cb.fail(fmt.Errorf("%w: %s on a %s command buffer", ErrRecordingState, op, c.state))
		return false
	}
	if c.inPass != inPass {
		where := "outside"
		if inPass {
			where = "inside"
		}
		cb.fail(fmt.Errorf("%w: %s must be recorded %s a render pass", ErrRecordingState, op, where))
		return false
	}
	return true
}

// Reset starts a new recording. The allocator is cycled, so the GPU must
// be done with the previous contents.
func (cb *CommandBuffer) Reset() error {
	c := cb.c
	if c.state == stateRecording {
		if c.err == nil {
			return fmt.Errorf("%w: reset while recording", ErrRecordingState)
		}
		// A failed recording is dropped.
		cb.endOpen()
		_ = c.list.Close()
		c.state = stateInitial
	}
	if err := c.alloc.Reset(); err != nil {
		return cb.b.deviceError("reset command allocator", err)
	}
	if err := c.list.Reset(c.alloc); err != nil {
		return cb.b.deviceError("reset command list", err)
	}
	c.state = stateRecording
	c.inPass = false
	c.err = nil
	c.point = BindGraphics
	c.layouts = [2]BindLayoutID{}
	c.bound, c.compute = false, false
	c.events = 0
	return nil
}

// Close ends recording. It fails while a render pass is open. If a
// recording error was kept the buffer is closed but cannot be submitted,
// and the error is returned; an open render pass is ended in that case.
func (cb *CommandBuffer) Close() error {
	c := cb.c
	if c.state != stateRecording {
		return fmt.Errorf("%w: close on a %s command buffer", ErrRecordingState, c.state)
	}
	if c.inPass && c.err == nil {
		return fmt.Errorf("%w: close with an open render pass", ErrRecordingState)
	}
	cb.endOpen()
	if err := c.list.Close(); err != nil {
		c.state = stateInitial
		return cb.b.deviceError("close command list", err)
	}
	if c.err != nil {
		c.state = stateInitial
		return c.err
	}
	c.state = stateClosed
	return nil
}

// endOpen ends the native render pass and debug regions left open.
func (cb *CommandBuffer) endOpen() {
	c := cb.c
	if c.inPass {
		c.list.EndRenderPass()
		c.inPass = false
	}
	for ; c.events > 0; c.events-- {
		c.list.EndEvent()
	}
}

// BeginEvent opens a named debug region.
func (cb *CommandBuffer) BeginEvent(name string) {
	if cb.c.err != nil || cb.c.state != stateRecording {
		return
	}
	cb.c.list.BeginEvent(name)
	cb.c.events++
}

// EndEvent closes the innermost debug region.
func (cb *CommandBuffer) EndEvent() {
	if cb.c.err != nil || cb.c.state != stateRecording || cb.c.events == 0 {
		return
	}
	cb.c.list.EndEvent()
	cb.c.events--
}
