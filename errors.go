package gfx

import (
	"errors"
	"fmt"

	"github.com/gogpu/gfx/internal/descheap"
	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/shaderc"
)

// Sentinel errors.
var (
	// ErrInvalidHandle is returned for zero, stale or out-of-range handles.
	ErrInvalidHandle = errors.New("gfx: invalid handle")

	// ErrConcurrentUse is returned when a lifetime call overlaps another
	// one from a different goroutine.
	ErrConcurrentUse = errors.New("gfx: concurrent use of backend")

	// ErrRecordingState is returned when a command buffer is used in the
	// wrong state: recording into a closed buffer, closing with an open
	// render pass, nesting render passes.
	ErrRecordingState = errors.New("gfx: invalid command buffer state")

	// ErrInvalidArgument is returned for descriptions that cannot be
	// honoured, such as a sampled view on a texture without sampled usage.
	ErrInvalidArgument = errors.New("gfx: invalid argument")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("gfx: backend closed")

	// ErrDevice is matched by every *DeviceError.
	ErrDevice = errors.New("gfx: device error")

	// ErrResourceExhausted is matched by every *ResourceExhaustedError.
	ErrResourceExhausted = errors.New("gfx: resource exhausted")

	// ErrCompile is matched by every *CompileError.
	ErrCompile = shaderc.ErrCompile
)

// CompileError is a recoverable shader compilation failure.
type CompileError = shaderc.CompileError

// DeviceError reports a failed native call.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("gfx: %s: %v", e.Op, e.Err)
}

// Unwrap returns ErrDevice and the native error.
func (e *DeviceError) Unwrap() []error { return []error{ErrDevice, e.Err} }

// ResourceExhaustedError reports a full handle pool or descriptor heap.
type ResourceExhaustedError struct {
	Resource  string
	Requested int
	Capacity  int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("gfx: %s exhausted (requested %d, capacity %d)", e.Resource, e.Requested, e.Capacity)
}

// Is reports whether target is ErrResourceExhausted.
func (e *ResourceExhaustedError) Is(target error) bool { return target == ErrResourceExhausted }

// deviceError wraps a native failure and logs it.
func (b *Backend) deviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	b.log().Error("gfx: native call failed", "op", op, "err", err)
	return &DeviceError{Op: op, Err: err}
}

// exhausted converts allocator errors into *ResourceExhaustedError and
// passes other errors through.
func exhausted(err error) error {
	var pe *pool.ExhaustedError
	if errors.As(err, &pe) {
		return &ResourceExhaustedError{Resource: pe.Pool, Requested: pe.Requested, Capacity: pe.Capacity}
	}
	var he *descheap.ExhaustedError
	if errors.As(err, &he) {
		return &ResourceExhaustedError{Resource: he.Heap + " descriptors", Requested: int(he.Requested), Capacity: int(he.Capacity)}
	}
	return err
}

// invalidHandle wraps a pool validation failure.
func invalidHandle(kind string, h pool.Handle) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidHandle, kind, h)
}
