package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/gpucull/engine/assets/loaders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestIndexAndLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "scenes", "row.toml"), []byte(`
[defaults]
scale = 0.5

[[instance]]
position = [1.0, 2.0, 3.0]

[[instance]]
position = [-1.0, 0.0, 0.0]
scale = 2.0
`))

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	f, err := os.Create(filepath.Join(root, "checker.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	am, err := NewAssetManager(root)
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	defer am.Shutdown()

	types := map[loaders.ResourceType]int{}
	for _, a := range am.Assets() {
		types[a.Type]++
	}
	assert.Equal(t, 1, types[loaders.ResourceTypeInstances])
	assert.Equal(t, 1, types[loaders.ResourceTypeImage])

	records, err := am.LoadInstances("scenes/row.toml")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float32(0.5), records[0].Scale)
	assert.Equal(t, float32(2), records[1].Scale)
	assert.Equal(t, float32(-1), records[1].Position[0])

	tex, err := am.LoadTexture("checker.png")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), tex.Width)
	assert.Equal(t, "checker", tex.Name)
	assert.Len(t, tex.Pixels, 16)
	assert.Equal(t, uint8(255), tex.Pixels[12])
	assert.True(t, tex.HasTransparency)

	_, err = am.LoadShader("missing.spv")
	assert.Error(t, err)
}

func TestOnChangeFiresOnWrite(t *testing.T) {
	root := t.TempDir()
	cfg := filepath.Join(root, "config", "engine.toml")
	writeFile(t, cfg, []byte("[logging]\nlevel = \"info\"\n"))

	am, err := NewAssetManager(root)
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	defer am.Shutdown()

	var calls atomic.Int32
	require.NoError(t, am.OnChange(cfg, func(path string) {
		if path == cfg {
			calls.Add(1)
		}
	}))

	writeFile(t, cfg, []byte("[logging]\nlevel = \"debug\"\n"))
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownWithoutInitialize(t *testing.T) {
	am, err := NewAssetManager(t.TempDir())
	require.NoError(t, err)
	am.Shutdown()
	am.Shutdown()
	assert.Error(t, am.OnChange("x", func(string) {}))
}

func TestSPIRVValidation(t *testing.T) {
	valid := make([]byte, 20)
	valid[0], valid[1], valid[2], valid[3] = 0x03, 0x02, 0x23, 0x07
	assert.NoError(t, loaders.ValidateSPIRV(valid))
	assert.Error(t, loaders.ValidateSPIRV(valid[:16]))
	assert.Error(t, loaders.ValidateSPIRV(make([]byte, 20)))
	assert.Equal(t, uint32(0x07230203), loaders.BytesToBytecode(valid)[0])
}
