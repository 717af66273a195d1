package loaders

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestParseInstancesDefaults(t *testing.T) {
	records, err := ParseInstances([]byte(`
[[instance]]
position = [0.0, 1.0, -4.0]

[[instance]]
position = [2.0, 0.0, 0.0]
scale = 0.25
`))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float32(1), records[0].Scale)
	assert.Equal(t, float32(-4), records[0].Position[2])
	assert.Equal(t, float32(0.25), records[1].Scale)
}

func TestParseInstancesRejects(t *testing.T) {
	_, err := ParseInstances([]byte("[[instance]]\nposition = [0.0, 0.0, 0.0]\nscale = -1.0\n"))
	assert.Error(t, err)

	_, err = ParseInstances([]byte("[[instance]\n"))
	assert.Error(t, err)

	records, err := ParseInstances(nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTextureLoaderDecodesBMP(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	img.Set(2, 1, color.RGBA{G: 200, A: 255})

	path := filepath.Join(t.TempDir(), "green.bmp")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, img))
	require.NoError(t, f.Close())

	tl := &TextureLoader{}
	tex, err := tl.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "green", tex.Name)
	assert.Equal(t, uint32(3), tex.Width)
	assert.Equal(t, uint32(2), tex.Height)
	require.Len(t, tex.Pixels, 3*2*4)
	assert.Equal(t, uint8(200), tex.Pixels[(1*3+2)*4+1])
	assert.False(t, tex.HasTransparency)

	_, err = tl.Load(filepath.Join(t.TempDir(), "missing.bmp"))
	assert.Error(t, err)
}

func TestFromImageRepacksSubImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 9, A: 128})
	sub := img.SubImage(image.Rect(1, 1, 3, 3))

	tex := FromImage(sub)
	assert.Equal(t, uint32(2), tex.Width)
	require.Len(t, tex.Pixels, 16)
	assert.Equal(t, uint8(9), tex.Pixels[0])
	assert.True(t, tex.HasTransparency)
}

func TestBytesToBytecode(t *testing.T) {
	words := BytesToBytecode([]byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	assert.Equal(t, []uint32{spirvMagic, 1}, words)
}
