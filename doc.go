// Package gfx is a handle-based GPU backend over an explicit graphics API.
//
// # Overview
//
// A Backend owns a native device (see package native) and hands out small
// integer handles for every GPU object it creates: resources (buffers),
// textures, samplers, swapchains, shaders, bind layouts, bind groups,
// command buffers, queues, semaphores and indirect signatures. Handles are
// generation checked, so a handle kept after its object was destroyed
// fails with ErrInvalidHandle instead of addressing the next object that
// reuses the slot.
//
// # Quick Start
//
//	dev := trace.New() // or a hal-backed device from native/wgpu
//	b, err := gfx.New(dev)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	vb, _ := b.CreateResource(gfx.ResourceDesc{
//	    Name:  "quad",
//	    Size:  4096,
//	    Usage: gfx.UsageVertex | gfx.UsageCopyDst,
//	})
//	cmd, _ := b.CreateCommandBuffer(gfx.CommandBufferDesc{})
//	rec, _ := b.Commands(cmd)
//	rec.Reset()
//	rec.BeginRenderPass(gfx.SwapchainPass(sc, gfx.LoadActionClear, &gputypes.Color{A: 1}))
//	rec.BindShader(shader)
//	rec.BindVertexBuffers(0, []gfx.VertexBufferBinding{{Resource: vb, Stride: 16}})
//	rec.Draw(6, 1, 0, 0)
//	rec.EndRenderPass()
//	if err := rec.Close(); err != nil {
//	    return err
//	}
//	b.SubmitCommands(b.GraphicsQueue(), cmd)
//
// # Binding Model
//
// A bind layout is built with BindLayoutBuilder from constants, root
// descriptors, descriptor tables and static samplers, then finalized into
// an immutable native root signature. A bind group is a set of values for
// a layout. Tables own a block of the shader-visible descriptor heap;
// UpdateBindGroup copies view descriptors into that block with one native
// copy call per heap kind.
//
// # Threading
//
// A Backend is driven from one goroutine. Creation, destruction and the
// other lifetime calls detect overlapping use from another goroutine and
// fail with ErrConcurrentUse. WaitSemaphore and WaitFrameLatency are the
// only calls that block.
//
// # Logging
//
// gfx logs through log/slog and is silent by default. See SetLogger.
package gfx
