package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(3), cfg.Frames.InFlight)
	assert.Equal(t, [3]uint32{50, 40, 50}, cfg.Scene.Grid)
	assert.Equal(t, 5*time.Second, cfg.FenceTimeout())
	assert.Equal(t, metadata.CommandLayoutMerged, cfg.CommandLayout())
	assert.Equal(t, renderer.Vulkan, cfg.Backend())
	assert.Equal(t, core.InfoLevel, cfg.LogLevel())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[application]
backend = "software"

[culling]
layout = "per-instance"
group_size = 128

[scene]
grid = [4, 2, 1]
`))
	require.NoError(t, err)
	assert.Equal(t, renderer.Software, cfg.Backend())
	assert.Equal(t, metadata.CommandLayoutPerInstance, cfg.CommandLayout())
	assert.Equal(t, uint32(128), cfg.Culling.GroupSize)
	assert.Equal(t, [3]uint32{4, 2, 1}, cfg.Scene.Grid)
	// untouched keys keep defaults
	assert.Equal(t, float32(0.6), cfg.Scene.Spacing)
	assert.Equal(t, uint32(1280), cfg.Application.Width)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "[frames]\nbogus = 1\n",
		"zero in flight":  "[frames]\nin_flight = 0\n",
		"zero group size": "[culling]\ngroup_size = 0\n",
		"bad layout":      "[culling]\nlayout = \"diagonal\"\n",
		"bad backend":     "[application]\nbackend = \"metal\"\n",
		"far before near": "[camera]\nnear = 10.0\nfar = 5.0\n",
		"zero near":       "[camera]\nnear = 0.0\n",
		"bad level":       "[logging]\nlevel = \"loud\"\n",
		"syntax":          "[frames\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestZeroStatsCadenceDisablesReadback(t *testing.T) {
	cfg, err := Parse([]byte("[diagnostics]\nstats_every = 0\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cfg.Diagnostics.StatsEvery)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("[diagnostics]\nstats_every = 10\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cfg.Diagnostics.StatsEvery)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestMergeAppliesOnlyLiveSettings(t *testing.T) {
	current := *Default()
	next := Default()
	next.Logging.Level = "debug"
	next.Diagnostics.StatsEvery = 5
	next.Frames.InFlight = 2
	next.Camera.Fov = 45

	merged, ignored := current.Merge(next)
	assert.Equal(t, "debug", merged.Logging.Level)
	assert.Equal(t, uint64(5), merged.Diagnostics.StatsEvery)
	assert.Equal(t, uint32(3), merged.Frames.InFlight)
	assert.Equal(t, float32(70), merged.Camera.Fov)
	assert.ElementsMatch(t, []string{"frames", "camera"}, ignored)
}

func TestShippedConfigsLoad(t *testing.T) {
	root := filepath.Join("..", "..", "assets", "config")

	cfg, err := Load(filepath.Join(root, "engine.toml"))
	require.NoError(t, err)
	assert.Equal(t, *Default(), *cfg)

	headless, err := Load(filepath.Join(root, "headless.toml"))
	require.NoError(t, err)
	assert.Equal(t, renderer.Software, headless.Backend())
	assert.Equal(t, metadata.CommandLayoutPerInstance, headless.CommandLayout())
	assert.Equal(t, uint64(300), headless.Application.MaxFrames)
	assert.Equal(t, uint32(64), headless.Culling.GroupSize)
}
