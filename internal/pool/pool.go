// Package pool implements the fixed-capacity object pools that back every
// gfx handle kind.
//
// A Pool never grows and never moves its rows, so a pointer returned by Get
// stays valid until the handle is removed. Handles carry a generation
// counter: removing a row bumps the generation of its slot, which makes
// every copy of the old handle fail validation instead of aliasing the
// next object that reuses the slot.
package pool

import (
	"errors"
	"fmt"
)

// Handle layout: the low indexBits hold the slot index, the remaining
// high bits hold the slot generation. Generation 0 is never issued, so
// the zero Handle is always invalid.
const (
	indexBits = 20
	indexMask = 1<<indexBits - 1
	genBits   = 32 - indexBits
	genMask   = 1<<genBits - 1

	// MaxCapacity is the largest capacity a Pool can be created with.
	MaxCapacity = indexMask
)

// Handle is a dense, generation-checked reference to a pool row.
type Handle uint32

// Invalid is the zero handle.
const Invalid Handle = 0

func makeHandle(index uint32, gen uint16) Handle {
	return Handle(uint32(gen)<<indexBits | index&indexMask)
}

// Index returns the slot index encoded in h.
func (h Handle) Index() uint32 { return uint32(h) & indexMask }

// Generation returns the slot generation encoded in h.
func (h Handle) Generation() uint16 { return uint16(uint32(h) >> indexBits & genMask) }

// IsValid reports whether h is a non-zero handle. It does not check
// whether the handle is live in any pool.
func (h Handle) IsValid() bool { return h.Generation() != 0 }

// String implements fmt.Stringer.
func (h Handle) String() string {
	if !h.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d#%d", h.Index(), h.Generation())
}

// Releaser is implemented by row types that own native objects.
// Remove calls Release before the row is zeroed.
type Releaser interface {
	Release()
}

var (
	// ErrStaleHandle is returned when a handle's slot is free or has been
	// reused by a newer object.
	ErrStaleHandle = errors.New("pool: stale handle")

	// ErrOutOfRange is returned when a handle's index is outside the pool.
	ErrOutOfRange = errors.New("pool: handle out of range")
)

// ExhaustedError is returned by Add when every slot is in use.
type ExhaustedError struct {
	Pool      string
	Requested int
	Capacity  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pool %s: exhausted (requested %d, capacity %d)", e.Pool, e.Requested, e.Capacity)
}

// Pool is a fixed-capacity array of T rows with LIFO free-list reuse.
// Pool is not safe for concurrent use.
type Pool[T any] struct {
	name string
	rows []T
	gens []uint16
	live []bool
	free []uint32
	head uint32
	used int
}

// New creates a pool with room for capacity rows. It panics if capacity is
// not in (0, MaxCapacity].
func New[T any](name string, capacity int) *Pool[T] {
	if capacity <= 0 || capacity > MaxCapacity {
		panic(fmt.Sprintf("pool %s: invalid capacity %d", name, capacity))
	}
	p := &Pool[T]{
		name: name,
		rows: make([]T, capacity),
		gens: make([]uint16, capacity),
		live: make([]bool, capacity),
		free: make([]uint32, 0, capacity),
	}
	for i := range p.gens {
		p.gens[i] = 1
	}
	return p
}

// Name returns the pool name used in errors and leak reports.
func (p *Pool[T]) Name() string { return p.name }

// Add reserves a row. The most recently freed slot is reused first;
// otherwise the next never-used slot is taken.
func (p *Pool[T]) Add() (Handle, *T, error) {
	var idx uint32
	switch {
	case len(p.free) > 0:
		idx = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	case int(p.head) < len(p.rows):
		idx = p.head
		p.head++
	default:
		return Invalid, nil, &ExhaustedError{Pool: p.name, Requested: 1, Capacity: len(p.rows)}
	}
	p.live[idx] = true
	p.used++
	return makeHandle(idx, p.gens[idx]), &p.rows[idx], nil
}

func (p *Pool[T]) check(h Handle) error {
	idx := h.Index()
	if !h.IsValid() || int(idx) >= int(p.head) {
		return fmt.Errorf("%w: %s in pool %s", ErrOutOfRange, h, p.name)
	}
	if !p.live[idx] || p.gens[idx] != h.Generation() {
		return fmt.Errorf("%w: %s in pool %s", ErrStaleHandle, h, p.name)
	}
	return nil
}

// Get returns the row addressed by h, or false if h is not live.
func (p *Pool[T]) Get(h Handle) (*T, bool) {
	if p.check(h) != nil {
		return nil, false
	}
	return &p.rows[h.Index()], true
}

// Validate returns a descriptive error if h is not live.
func (p *Pool[T]) Validate(h Handle) error { return p.check(h) }

// Remove releases the row addressed by h, zeroes it and returns the slot
// to the free list.
func (p *Pool[T]) Remove(h Handle) error {
	if err := p.check(h); err != nil {
		return err
	}
	idx := h.Index()
	if r, ok := any(&p.rows[idx]).(Releaser); ok {
		r.Release()
	}
	var zero T
	p.rows[idx] = zero
	p.live[idx] = false
	p.gens[idx]++
	if p.gens[idx]&genMask == 0 {
		p.gens[idx] = 1
	}
	p.free = append(p.free, idx)
	p.used--
	return nil
}

// Len returns the number of live rows.
func (p *Pool[T]) Len() int { return p.used }

// Cap returns the pool capacity.
func (p *Pool[T]) Cap() int { return len(p.rows) }

// FreeLen returns the length of the free list.
func (p *Pool[T]) FreeLen() int { return len(p.free) }

// HighWater returns the number of slots ever issued.
func (p *Pool[T]) HighWater() int { return int(p.head) }

// Each calls fn for every live row in slot order.
func (p *Pool[T]) Each(fn func(Handle, *T)) {
	for i := uint32(0); i < p.head; i++ {
		if p.live[i] {
			fn(makeHandle(i, p.gens[i]), &p.rows[i])
		}
	}
}

// Live returns the handles of every live row in slot order.
func (p *Pool[T]) Live() []Handle {
	out := make([]Handle, 0, p.used)
	p.Each(func(h Handle, _ *T) { out = append(out, h) })
	return out
}

// VerifyUninit reports an error naming every handle that is still live.
// It is meant for teardown, after the owner believes it destroyed
// everything it created.
func (p *Pool[T]) VerifyUninit() error {
	if p.used == 0 {
		return nil
	}
	return fmt.Errorf("pool %s: %d handle(s) not released: %v", p.name, p.used, p.Live())
}
