package shaderc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/naga/ir"
)

// Blob magics. Both formats are little endian and versioned.
const (
	stageMagic    = "GFXS"
	layoutMagic   = "GFXL"
	stageVersion  = 1
	layoutVersion = 1
)

// ErrBadBlob is returned when a blob is truncated or has the wrong magic
// or version.
var ErrBadBlob = errors.New("shaderc: malformed blob")

// StageBlob is one compiled stage: its target code and entry point.
type StageBlob struct {
	Stage  Stage
	Target Target
	Entry  string
	Code   []byte
}

// EncodeStage serializes b.
//
//	magic[4] version:u16 stage:u8 target:u8 entryLen:u16 entry codeLen:u32 code
func EncodeStage(b *StageBlob) []byte {
	out := make([]byte, 0, 14+len(b.Entry)+len(b.Code))
	out = append(out, stageMagic...)
	out = binary.LittleEndian.AppendUint16(out, stageVersion)
	out = append(out, byte(b.Stage), byte(b.Target))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(b.Entry)))
	out = append(out, b.Entry...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.Code)))
	return append(out, b.Code...)
}

// DecodeStage parses a blob produced by EncodeStage. Code aliases data.
func DecodeStage(data []byte) (*StageBlob, error) {
	r := reader{buf: data}
	if err := r.header(stageMagic, stageVersion); err != nil {
		return nil, err
	}
	b := &StageBlob{Stage: Stage(r.u8()), Target: Target(r.u8())}
	b.Entry = string(r.bytes(int(r.u16())))
	b.Code = r.bytes(int(r.u32()))
	if r.err != nil {
		return nil, r.err
	}
	if b.Stage > StageCompute || b.Target > TargetWGSL {
		return nil, fmt.Errorf("%w: stage %d target %d", ErrBadBlob, b.Stage, b.Target)
	}
	return b, nil
}

// BindingKind classifies a reflected binding.
type BindingKind uint8

const (
	BindUniform BindingKind = iota
	BindStorage
	BindTexture
	BindStorageTexture
	BindSampler
	BindComparisonSampler
	BindPushConstant
)

func (k BindingKind) String() string {
	switch k {
	case BindUniform:
		return "uniform"
	case BindStorage:
		return "storage"
	case BindTexture:
		return "texture"
	case BindStorageTexture:
		return "storage-texture"
	case BindSampler:
		return "sampler"
	case BindComparisonSampler:
		return "comparison-sampler"
	case BindPushConstant:
		return "push-constant"
	default:
		return fmt.Sprintf("BindingKind(%d)", k)
	}
}

// Binding is one resource binding declared by a module.
type Binding struct {
	Group   uint32
	Binding uint32
	Kind    BindingKind
	Count   uint32 // array length, 1 for scalars; 32-bit words for push constants
	Name    string
}

// Reflect lists the bound globals of m sorted by group then binding.
// Push constants have no group and are reported with Group 0, Binding 0.
func Reflect(m *ir.Module) []Binding {
	var out []Binding
	for _, gv := range m.GlobalVariables {
		if gv.Space == ir.SpacePushConstant {
			words := uint32(4)
			if st, ok := typeInner(m, gv.Type).(ir.StructType); ok && st.Span > 0 {
				words = (st.Span + 3) / 4
			}
			out = append(out, Binding{Kind: BindPushConstant, Count: words, Name: gv.Name})
			continue
		}
		if gv.Binding == nil {
			continue
		}
		b := Binding{Group: gv.Binding.Group, Binding: gv.Binding.Binding, Count: 1, Name: gv.Name}
		inner := typeInner(m, gv.Type)
		if arr, ok := inner.(ir.ArrayType); ok && gv.Space == ir.SpaceHandle {
			if arr.Size.Constant != nil {
				b.Count = *arr.Size.Constant
			}
			inner = typeInner(m, arr.Base)
		}
		switch gv.Space {
		case ir.SpaceUniform:
			b.Kind = BindUniform
		case ir.SpaceStorage:
			b.Kind = BindStorage
		case ir.SpaceHandle:
			switch t := inner.(type) {
			case ir.SamplerType:
				b.Kind = BindSampler
				if t.Comparison {
					b.Kind = BindComparisonSampler
				}
			case ir.ImageType:
				b.Kind = BindTexture
				if t.Class == ir.ImageClassStorage {
					b.Kind = BindStorageTexture
				}
			default:
				continue
			}
		default:
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Binding < out[j].Binding
	})
	return out
}

func typeInner(m *ir.Module, h ir.TypeHandle) ir.TypeInner {
	if int(h) < 0 || int(h) >= len(m.Types) {
		return nil
	}
	return m.Types[h].Inner
}

// EncodeLayout serializes bindings.
//
//	magic[4] version:u16 count:u16 { group:u32 binding:u32 count:u32 kind:u8 nameLen:u8 name }
func EncodeLayout(bindings []Binding) []byte {
	out := make([]byte, 0, 8+len(bindings)*16)
	out = append(out, layoutMagic...)
	out = binary.LittleEndian.AppendUint16(out, layoutVersion)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(bindings)))
	for _, b := range bindings {
		name := b.Name
		if len(name) > 255 {
			name = name[:255]
		}
		out = binary.LittleEndian.AppendUint32(out, b.Group)
		out = binary.LittleEndian.AppendUint32(out, b.Binding)
		out = binary.LittleEndian.AppendUint32(out, b.Count)
		out = append(out, byte(b.Kind), byte(len(name)))
		out = append(out, name...)
	}
	return out
}

// DecodeLayout parses a blob produced by EncodeLayout.
func DecodeLayout(data []byte) ([]Binding, error) {
	r := reader{buf: data}
	if err := r.header(layoutMagic, layoutVersion); err != nil {
		return nil, err
	}
	n := int(r.u16())
	out := make([]Binding, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		b := Binding{Group: r.u32(), Binding: r.u32(), Count: r.u32()}
		b.Kind = BindingKind(r.u8())
		b.Name = string(r.bytes(int(r.u8())))
		if b.Kind > BindPushConstant {
			return nil, fmt.Errorf("%w: binding kind %d", ErrBadBlob, b.Kind)
		}
		out = append(out, b)
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) header(magic string, version uint16) error {
	if len(r.buf) < 6 || string(r.buf[:4]) != magic {
		return fmt.Errorf("%w: want %s magic", ErrBadBlob, magic)
	}
	r.buf = r.buf[4:]
	if v := r.u16(); v != version {
		return fmt.Errorf("%w: %s version %d, want %d", ErrBadBlob, magic, v, version)
	}
	return nil
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("%w: truncated", ErrBadBlob)
		return nil
	}
	out := r.buf[:n:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}
