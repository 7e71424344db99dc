package gfx

import "github.com/gogpu/gfx/internal/pool"

// Handle kinds. Each is a generation-checked pool handle; the zero value
// is never issued and is always invalid.
type (
	ResourceID          uint32
	TextureID           uint32
	SamplerID           uint32
	SwapchainID         uint32
	SemaphoreID         uint32
	ShaderID            uint32
	BindLayoutID        uint32
	BindGroupID         uint32
	CommandBufferID     uint32
	QueueID             uint32
	IndirectSignatureID uint32
)

func (id ResourceID) IsValid() bool          { return pool.Handle(id).IsValid() }
func (id TextureID) IsValid() bool           { return pool.Handle(id).IsValid() }
func (id SamplerID) IsValid() bool           { return pool.Handle(id).IsValid() }
func (id SwapchainID) IsValid() bool         { return pool.Handle(id).IsValid() }
func (id SemaphoreID) IsValid() bool         { return pool.Handle(id).IsValid() }
func (id ShaderID) IsValid() bool            { return pool.Handle(id).IsValid() }
func (id BindLayoutID) IsValid() bool        { return pool.Handle(id).IsValid() }
func (id BindGroupID) IsValid() bool         { return pool.Handle(id).IsValid() }
func (id CommandBufferID) IsValid() bool     { return pool.Handle(id).IsValid() }
func (id QueueID) IsValid() bool             { return pool.Handle(id).IsValid() }
func (id IndirectSignatureID) IsValid() bool { return pool.Handle(id).IsValid() }

// lookup validates h against p and returns its row.
func lookup[T any](p *pool.Pool[T], kind string, h pool.Handle) (*T, error) {
	row, ok := p.Get(h)
	if !ok {
		return nil, invalidHandle(kind, h)
	}
	return row, nil
}

// remove validates h and removes it from p, releasing its native objects.
func remove[T any](p *pool.Pool[T], kind string, h pool.Handle) error {
	if err := p.Remove(h); err != nil {
		return invalidHandle(kind, h)
	}
	return nil
}
