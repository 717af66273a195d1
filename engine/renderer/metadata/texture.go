package metadata

const (
	/** @brief The default texture name. */
	DEFAULT_TEXTURE_NAME string = "default"
)

/** @brief Represents supported texture filtering modes. */
type TextureFilter int

const (
	/** @brief Nearest-neighbor filtering. */
	TextureFilterModeNearest TextureFilter = 0x0
	/** @brief Linear (i.e. bilinear) filtering.*/
	TextureFilterModeLinear TextureFilter = 0x1
)

type TextureRepeat int

const (
	TextureRepeatRepeat         TextureRepeat = 0x1
	TextureRepeatMirroredRepeat TextureRepeat = 0x2
	TextureRepeatClampToEdge    TextureRepeat = 0x3
	TextureRepeatClampToBorder  TextureRepeat = 0x4
)

// TextureData is decoded RGBA8 pixel data ready for upload.
type TextureData struct {
	Name            string
	Width           uint32
	Height          uint32
	ChannelCount    uint8
	Pixels          []uint8
	HasTransparency bool
}

func (t *TextureData) Size() uint64 {
	return uint64(t.Width) * uint64(t.Height) * uint64(t.ChannelCount)
}

/** @brief Sampling state for a texture binding. */
type SamplerConfig struct {
	FilterMinify  TextureFilter
	FilterMagnify TextureFilter
	RepeatU       TextureRepeat
	RepeatV       TextureRepeat
}

func DefaultSampler() SamplerConfig {
	return SamplerConfig{
		FilterMinify:  TextureFilterModeNearest,
		FilterMagnify: TextureFilterModeNearest,
		RepeatU:       TextureRepeatRepeat,
		RepeatV:       TextureRepeatRepeat,
	}
}

// CheckerTexture is the fallback used when no texture file is configured
// or the configured one fails to load.
func CheckerTexture(size uint32, cell uint32) *TextureData {
	if cell == 0 {
		cell = 1
	}
	t := &TextureData{
		Name:         DEFAULT_TEXTURE_NAME,
		Width:        size,
		Height:       size,
		ChannelCount: 4,
		Pixels:       make([]uint8, size*size*4),
	}
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			i := (y*size + x) * 4
			v := uint8(255)
			if ((x/cell)+(y/cell))%2 == 1 {
				v = 64
			}
			t.Pixels[i], t.Pixels[i+1], t.Pixels[i+2], t.Pixels[i+3] = v, v, v, 255
		}
	}
	return t
}
