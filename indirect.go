package gfx

import (
	"fmt"

	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// IndirectKind selects the command an indirect signature issues.
type IndirectKind uint8

const (
	IndirectDraw IndirectKind = iota
	IndirectDrawIndexed
	IndirectDispatch
)

func (k IndirectKind) String() string {
	switch k {
	case IndirectDraw:
		return "draw"
	case IndirectDrawIndexed:
		return "draw-indexed"
	case IndirectDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// argsSize returns the size in bytes of one argument record.
func (k IndirectKind) argsSize() uint32 {
	switch k {
	case IndirectDrawIndexed:
		return native.DrawIndexedArgsSize
	case IndirectDispatch:
		return native.DispatchArgsSize
	default:
		return native.DrawArgsSize
	}
}

func (k IndirectKind) native() native.IndirectKind {
	switch k {
	case IndirectDrawIndexed:
		return native.IndirectDrawIndexed
	case IndirectDispatch:
		return native.IndirectDispatch
	default:
		return native.IndirectDraw
	}
}

// IndirectSignatureDesc describes indirect argument records. A zero
// Stride means tightly packed records.
type IndirectSignatureDesc struct {
	Name   string
	Kind   IndirectKind
	Stride uint32
}

type indirectSignature struct {
	sig    native.CommandSignature
	kind   IndirectKind
	stride uint32
}

func (s *indirectSignature) Release() {
	if s.sig != nil {
		s.sig.Release()
	}
}

// CreateIndirectSignature creates the signature indirect draws and
// dispatches read their arguments with.
func (b *Backend) CreateIndirectSignature(desc IndirectSignatureDesc) (IndirectSignatureID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()

	size := desc.Kind.argsSize()
	if desc.Stride == 0 {
		desc.Stride = size
	}
	if desc.Stride < size || desc.Stride%4 != 0 {
		return 0, fmt.Errorf("%w: indirect signature %q: stride %d for %d byte %s records",
			ErrInvalidArgument, desc.Name, desc.Stride, size, desc.Kind)
	}
	h, row, err := b.indirect.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	row.kind, row.stride = desc.Kind, desc.Stride
	row.sig, err = b.dev.CreateCommandSignature(&native.CommandSignatureDesc{
		Label:  b.name(desc.Name),
		Kind:   desc.Kind.native(),
		Stride: desc.Stride,
	})
	if err != nil {
		_ = b.indirect.Remove(h)
		return 0, b.deviceError("create command signature", err)
	}
	return IndirectSignatureID(h), nil
}

// DestroyIndirectSignature releases an indirect signature.
func (b *Backend) DestroyIndirectSignature(id IndirectSignatureID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	return remove(b.indirect, "indirect signature", pool.Handle(id))
}
