// Package descheap sub-allocates contiguous descriptor blocks out of a
// fixed-size descriptor heap.
//
// Allocation is first-fit over a sorted free list and falls back to bumping
// the high-water index. Freed blocks merge with adjacent free neighbours,
// and a free block that ends at the high-water index is handed back to the
// bump region, so alternating allocate/free cycles do not fragment the heap.
package descheap

import (
	"errors"
	"fmt"
	"sort"
)

// Kind identifies the descriptor class a heap stores.
type Kind uint8

const (
	KindResource Kind = iota // constant buffer, shader resource and unordered access views
	KindSampler
	KindRTV
	KindDSV

	KindCount = 4
)

func (k Kind) String() string {
	switch k {
	case KindResource:
		return "resource"
	case KindSampler:
		return "sampler"
	case KindRTV:
		return "rtv"
	case KindDSV:
		return "dsv"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ShaderVisible reports whether heaps of this kind can be bound to a
// command list. Render-target and depth-stencil heaps are CPU only.
func (k Kind) ShaderVisible() bool { return k == KindResource || k == KindSampler }

// Handle addresses a contiguous block of Count descriptors starting at
// Index. CPU is always set; GPU is zero for CPU-only heaps.
type Handle struct {
	CPU   uint64
	GPU   uint64
	Index uint32
	Count uint32
}

// IsValid reports whether h addresses at least one descriptor.
func (h Handle) IsValid() bool { return h.Count > 0 }

// Offset returns the handle of the i-th descriptor in the block.
func (h Handle) Offset(i, descriptorSize uint32) Handle {
	out := Handle{
		CPU:   h.CPU + uint64(i)*uint64(descriptorSize),
		Index: h.Index + i,
		Count: 1,
	}
	if h.GPU != 0 {
		out.GPU = h.GPU + uint64(i)*uint64(descriptorSize)
	}
	return out
}

// Block is a free range of descriptors.
type Block struct {
	Start uint32
	Count uint32
}

func (b Block) end() uint32 { return b.Start + b.Count }

var (
	// ErrZeroCount is returned when a zero-sized block is requested.
	ErrZeroCount = errors.New("descheap: zero descriptor count")

	// ErrInvalidFree is returned when a freed block lies outside the
	// allocated range or overlaps a block that is already free.
	ErrInvalidFree = errors.New("descheap: invalid free")
)

// ExhaustedError is returned when no free block and no bump space can
// satisfy a request.
type ExhaustedError struct {
	Heap      string
	Requested uint32
	Capacity  uint32
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("descheap %s: exhausted (requested %d, capacity %d)", e.Heap, e.Requested, e.Capacity)
}

// Config describes the native heap a Heap sub-allocates.
type Config struct {
	Name           string
	Kind           Kind
	Capacity       uint32
	DescriptorSize uint32
	CPUBase        uint64
	GPUBase        uint64 // zero for CPU-only heaps

	// Coalesce merges freed blocks with their neighbours. Without it the
	// free list only grows and blocks are reused first-fit as they are.
	Coalesce bool
}

// Heap is a first-fit block allocator. It is not safe for concurrent use.
type Heap struct {
	cfg     Config
	current uint32
	free    []Block // sorted by Start when coalescing
	live    uint32
}

// New returns an empty heap.
func New(cfg Config) *Heap {
	if cfg.Name == "" {
		cfg.Name = cfg.Kind.String()
	}
	return &Heap{cfg: cfg}
}

// Config returns the heap configuration.
func (h *Heap) Config() Config { return h.cfg }

// Kind returns the descriptor kind stored in the heap.
func (h *Heap) Kind() Kind { return h.cfg.Kind }

// Allocate reserves count contiguous descriptors.
func (h *Heap) Allocate(count uint32) (Handle, error) {
	if count == 0 {
		return Handle{}, ErrZeroCount
	}
	for i, b := range h.free {
		if b.Count < count {
			continue
		}
		start := b.Start
		if b.Count == count {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = Block{Start: b.Start + count, Count: b.Count - count}
		}
		return h.handle(start, count), nil
	}
	if h.cfg.Capacity-h.current < count {
		return Handle{}, &ExhaustedError{Heap: h.cfg.Name, Requested: count, Capacity: h.cfg.Capacity}
	}
	start := h.current
	h.current += count
	return h.handle(start, count), nil
}

func (h *Heap) handle(start, count uint32) Handle {
	h.live += count
	out := Handle{
		CPU:   h.cfg.CPUBase + uint64(start)*uint64(h.cfg.DescriptorSize),
		Index: start,
		Count: count,
	}
	if h.cfg.GPUBase != 0 {
		out.GPU = h.cfg.GPUBase + uint64(start)*uint64(h.cfg.DescriptorSize)
	}
	return out
}

// Free returns a block obtained from Allocate.
func (h *Heap) Free(hd Handle) error {
	if !hd.IsValid() {
		return fmt.Errorf("%w: empty handle", ErrInvalidFree)
	}
	blk := Block{Start: hd.Index, Count: hd.Count}
	if blk.end() > h.current || blk.end() < blk.Start {
		return fmt.Errorf("%w: [%d,%d) beyond index %d in heap %s", ErrInvalidFree, blk.Start, blk.end(), h.current, h.cfg.Name)
	}
	for _, f := range h.free {
		if blk.Start < f.end() && f.Start < blk.end() {
			return fmt.Errorf("%w: [%d,%d) already free in heap %s", ErrInvalidFree, blk.Start, blk.end(), h.cfg.Name)
		}
	}
	h.live -= blk.Count

	if !h.cfg.Coalesce {
		h.free = append(h.free, blk)
		return nil
	}

	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].Start > blk.Start })
	h.free = append(h.free, Block{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = blk

	if i+1 < len(h.free) && h.free[i].end() == h.free[i+1].Start {
		h.free[i].Count += h.free[i+1].Count
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].end() == h.free[i].Start {
		h.free[i-1].Count += h.free[i].Count
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
	if n := len(h.free); n > 0 && h.free[n-1].end() == h.current {
		h.current = h.free[n-1].Start
		h.free = h.free[:n-1]
	}
	return nil
}

// CurrentIndex returns the bump high-water index.
func (h *Heap) CurrentIndex() uint32 { return h.current }

// Live returns the number of allocated descriptors.
func (h *Heap) Live() uint32 { return h.live }

// Blocks returns a copy of the free list.
func (h *Heap) Blocks() []Block {
	out := make([]Block, len(h.free))
	copy(out, h.free)
	return out
}

// FreeCount returns the number of descriptors on the free list.
func (h *Heap) FreeCount() uint32 {
	var n uint32
	for _, b := range h.free {
		n += b.Count
	}
	return n
}
