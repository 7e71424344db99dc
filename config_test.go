package gfx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestParseConfigOverridesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
debug_names = true
heap_coalesce = false

[pools]
textures = 16

[heaps]
sampler = 32

[swapchain]
max_frame_latency = 1
`))
	require.NoError(t, err)

	want := DefaultConfig()
	want.DebugNames = true
	want.HeapCoalesce = false
	want.Pools.Textures = 16
	want.Heaps.Sampler = 32
	want.Swapchain.MaxFrameLatency = 1
	assert.Equal(t, want, cfg)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown key", "[pools]\nwidgets = 3\n", "widgets"},
		{"syntax", "[pools\n", "gfx: config"},
		{"zero pool", "[pools]\nshaders = 0\n", "pools.shaders"},
		{"zero heap", "[heaps]\nrtv = 0\n", "heaps.rtv"},
		{"one buffer", "[swapchain]\nbuffers = 1\n", "swapchain.buffers"},
		{"zero latency", "[swapchain]\nmax_frame_latency = 0\n", "max_frame_latency"},
		{"negative shader cache", "shader_cache = -1\n", "shader_cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseConfigRangeErrorsAreInvalidArgument(t *testing.T) {
	_, err := ParseConfig([]byte("[pools]\nqueues = -1\n"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gfx.toml")
	require.NoError(t, os.WriteFile(path, []byte("[heaps]\nresource = 4096\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), cfg.Heaps.Resource)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigDrivesBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Heaps.Resource = 8
	cfg.DebugNames = true
	b, dev := newTestBackend(t, WithConfig(cfg))

	assert.Equal(t, uint32(8), b.HeapStats(HeapResource).Capacity)
	assert.Equal(t, cfg, b.Config())

	id, err := b.CreateResource(ResourceDesc{Name: "named", Size: 16, Usage: UsageVertex})
	require.NoError(t, err)
	calls := dev.Log().Filter("CreateBuffer")
	require.Len(t, calls, 1)
	assert.Equal(t, "named", calls[0].Target)
	require.NoError(t, b.DestroyResource(id))
}
