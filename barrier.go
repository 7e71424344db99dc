package gfx

import (
	"fmt"

	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// BarrierKind selects what a BarrierDesc transitions.
type BarrierKind uint8

const (
	BarrierResource BarrierKind = iota
	BarrierTexture
	BarrierSwapchain // current back buffer
)

// BarrierDesc is one state transition. Unless Partial is set every
// subresource is transitioned.
type BarrierDesc struct {
	Kind        BarrierKind
	Resource    ResourceID
	Texture     TextureID
	Swapchain   SwapchainID
	From, To    State
	Partial     bool
	Subresource uint32
}

// UAVBarrierDesc orders unordered-access writes to one object. A
// descriptor naming no object orders every unordered access.
type UAVBarrierDesc struct {
	Resource ResourceID
	Texture  TextureID
}

func (cb *CommandBuffer) barrierTarget(d BarrierDesc) (native.Resource, error) {
	switch d.Kind {
	case BarrierResource:
		r, err := lookup(cb.b.resources, "resource", pool.Handle(d.Resource))
		if err != nil {
			return nil, err
		}
		return r.buf, nil
	case BarrierTexture:
		t, err := lookup(cb.b.textures, "texture", pool.Handle(d.Texture))
		if err != nil {
			return nil, err
		}
		return t.tex, nil
	case BarrierSwapchain:
		s, err := lookup(cb.b.swapchains, "swapchain", pool.Handle(d.Swapchain))
		if err != nil {
			return nil, err
		}
		tex, _, err := s.current()
		return tex, err
	default:
		return nil, fmt.Errorf("%w: unknown barrier kind %d", ErrInvalidArgument, d.Kind)
	}
}

// Barrier records every transition of the batch as one native barrier
// call. Transitions whose states map to the same native state are
// dropped.
func (cb *CommandBuffer) Barrier(batch []BarrierDesc) {
	if !cb.recording("Barrier", false) {
		return
	}
	out := make([]native.Barrier, 0, len(batch))
	for _, d := range batch {
		res, err := cb.barrierTarget(d)
		if err != nil {
			cb.fail(err)
			return
		}
		before, after := d.From.toNative(), d.To.toNative()
		if before == after {
			continue
		}
		sub := native.AllSubresources
		if d.Partial {
			sub = d.Subresource
		}
		out = append(out, native.Barrier{
			Type:        native.BarrierTransition,
			Resource:    res,
			Subresource: sub,
			Before:      before,
			After:       after,
		})
	}
	if len(out) > 0 {
		cb.c.list.ResourceBarrier(out)
	}
}

// BarrierUAV orders unordered-access work. An empty batch orders every
// unordered access.
func (cb *CommandBuffer) BarrierUAV(batch []UAVBarrierDesc) {
	if !cb.recording("BarrierUAV", false) {
		return
	}
	if len(batch) == 0 {
		cb.c.list.ResourceBarrier([]native.Barrier{{Type: native.BarrierUAV}})
		return
	}
	out := make([]native.Barrier, 0, len(batch))
	for _, d := range batch {
		var res native.Resource
		switch {
		case d.Resource.IsValid():
			r, err := lookup(cb.b.resources, "resource", pool.Handle(d.Resource))
			if err != nil {
				cb.fail(err)
				return
			}
			res = r.buf
		case d.Texture.IsValid():
			t, err := lookup(cb.b.textures, "texture", pool.Handle(d.Texture))
			if err != nil {
				cb.fail(err)
				return
			}
			res = t.tex
		}
		out = append(out, native.Barrier{Type: native.BarrierUAV, Resource: res})
	}
	cb.c.list.ResourceBarrier(out)
}
