package gfx

import (
	"strings"

	"github.com/gogpu/gfx/native"
)

// State is a bit set of logical resource states used by barriers.
// StateCommon is the zero value.
type State uint32

const (
	StateCommon         State = 0
	StateVertexBuffer   State = 1 << 0
	StateConstantBuffer State = 1 << 1
	StateIndexBuffer    State = 1 << 2
	StateRenderTarget   State = 1 << 3
	StateUnordered      State = 1 << 4
	StateDepthWrite     State = 1 << 5
	StateDepthRead      State = 1 << 6
	StateShaderRead     State = 1 << 7 // any shader stage
	StatePixelRead      State = 1 << 8 // fragment stage only
	StateIndirect       State = 1 << 9
	StateCopyDest       State = 1 << 10
	StateCopySource     State = 1 << 11
	StatePresent        State = 1 << 12
	StateResolveDest    State = 1 << 13
	StateResolveSource  State = 1 << 14
	StateGenericRead    State = 1 << 15 // every read state at once; upload heaps live here
)

var stateNames = []struct {
	s    State
	name string
}{
	{StateVertexBuffer, "vertex"},
	{StateConstantBuffer, "constant"},
	{StateIndexBuffer, "index"},
	{StateRenderTarget, "render-target"},
	{StateUnordered, "unordered"},
	{StateDepthWrite, "depth-write"},
	{StateDepthRead, "depth-read"},
	{StateShaderRead, "shader-read"},
	{StatePixelRead, "pixel-read"},
	{StateIndirect, "indirect"},
	{StateCopyDest, "copy-dest"},
	{StateCopySource, "copy-source"},
	{StatePresent, "present"},
	{StateResolveDest, "resolve-dest"},
	{StateResolveSource, "resolve-source"},
	{StateGenericRead, "generic-read"},
}

func (s State) String() string {
	if s == StateCommon {
		return "common"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// toNative maps a logical state onto native state flags.
func (s State) toNative() native.ResourceState {
	var out native.ResourceState
	if s&(StateVertexBuffer|StateConstantBuffer) != 0 {
		out |= native.StateVertexAndConstant
	}
	if s&StateIndexBuffer != 0 {
		out |= native.StateIndexBuffer
	}
	if s&StateRenderTarget != 0 {
		out |= native.StateRenderTarget
	}
	if s&StateUnordered != 0 {
		out |= native.StateUnorderedAccess
	}
	if s&StateDepthWrite != 0 {
		out |= native.StateDepthWrite
	}
	if s&StateDepthRead != 0 {
		out |= native.StateDepthRead
	}
	if s&StateShaderRead != 0 {
		out |= native.StateAllShaderResource
	}
	if s&StatePixelRead != 0 {
		out |= native.StatePixelShader
	}
	if s&StateIndirect != 0 {
		out |= native.StateIndirectArgument
	}
	if s&StateCopyDest != 0 {
		out |= native.StateCopyDest
	}
	if s&StateCopySource != 0 {
		out |= native.StateCopySource
	}
	if s&StateResolveDest != 0 {
		out |= native.StateResolveDest
	}
	if s&StateResolveSource != 0 {
		out |= native.StateResolveSource
	}
	if s&StateGenericRead != 0 {
		out |= native.StateGenericRead
	}
	// StatePresent maps to the common state.
	return out
}
