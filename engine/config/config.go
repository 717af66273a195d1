package config

import (
	"bytes"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

const DefaultPath = "assets/config/engine.toml"

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Logging     LoggingConfig     `toml:"logging"`
	Frames      FramesConfig      `toml:"frames"`
	Culling     CullingConfig     `toml:"culling"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Scene       SceneConfig       `toml:"scene"`
	Camera      CameraConfig      `toml:"camera"`
	Shaders     ShadersConfig     `toml:"shaders"`
}

type ApplicationConfig struct {
	Name    string `toml:"name"`
	Width   uint32 `toml:"width"`
	Height  uint32 `toml:"height"`
	Backend string `toml:"backend"`
	// Zero runs until the window is closed.
	MaxFrames uint64 `toml:"max_frames"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type FramesConfig struct {
	InFlight       uint32 `toml:"in_flight"`
	FenceTimeoutMS uint32 `toml:"fence_timeout_ms"`
}

type CullingConfig struct {
	Layout    string `toml:"layout"`
	GroupSize uint32 `toml:"group_size"`
}

type DiagnosticsConfig struct {
	// StatsEvery is the readback cadence in frames; 0 turns readback off.
	StatsEvery uint64 `toml:"stats_every"`
	History    int    `toml:"history"`
}

type SceneConfig struct {
	Grid          [3]uint32 `toml:"grid"`
	Spacing       float32   `toml:"spacing"`
	Scale         float32   `toml:"scale"`
	InstancesFile string    `toml:"instances_file"`
	Texture       string    `toml:"texture"`
}

type CameraConfig struct {
	Position [3]float32 `toml:"position"`
	Fov      float32    `toml:"fov"`
	Near     float32    `toml:"near"`
	Far      float32    `toml:"far"`
	Speed    float32    `toml:"speed"`
}

type ShadersConfig struct {
	// Directory of the compiled SPIR-V, relative to the assets root.
	Dir string `toml:"dir"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:    "GPU Culling",
			Width:   1280,
			Height:  720,
			Backend: "vulkan",
		},
		Logging: LoggingConfig{Level: "info"},
		Frames: FramesConfig{
			InFlight:       3,
			FenceTimeoutMS: uint32(renderer.DefaultFenceTimeout / time.Millisecond),
		},
		Culling: CullingConfig{
			Layout:    metadata.CommandLayoutMerged.String(),
			GroupSize: 64,
		},
		Diagnostics: DiagnosticsConfig{StatsEvery: 60, History: 16},
		Scene: SceneConfig{
			Grid:    [3]uint32{50, 40, 50},
			Spacing: 0.6,
			Scale:   0.3,
		},
		Camera: CameraConfig{
			Position: [3]float32{0, 50, 100},
			Fov:      70,
			Near:     0.1,
			Far:      10000,
			Speed:    0.5,
		},
		Shaders: ShadersConfig{Dir: "shaders"},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default value; unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, errors.Errorf("line %d column %d: %s", row, col, derr.Error())
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Frames.InFlight < 1 {
		return errors.New("frames.in_flight must be at least 1")
	}
	if c.Frames.FenceTimeoutMS == 0 {
		return errors.New("frames.fence_timeout_ms must be positive")
	}
	if c.Culling.GroupSize == 0 {
		return errors.New("culling.group_size must be positive")
	}
	if _, err := metadata.ParseCommandLayout(c.Culling.Layout); err != nil {
		return errors.Wrap(err, "culling.layout")
	}
	if _, err := renderer.ParseRendererType(c.Application.Backend); err != nil {
		return errors.Wrap(err, "application.backend")
	}
	if _, err := core.ParseLogLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging.level")
	}
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return errors.New("application.width and application.height must be positive")
	}
	if c.Camera.Near <= 0 {
		return errors.New("camera.near must be positive")
	}
	if c.Camera.Far <= c.Camera.Near {
		return errors.New("camera.far must be greater than camera.near")
	}
	if c.Camera.Fov <= 0 || c.Camera.Fov >= 180 {
		return errors.New("camera.fov must be in (0, 180) degrees")
	}
	return nil
}

func (c *Config) FenceTimeout() time.Duration {
	return time.Duration(c.Frames.FenceTimeoutMS) * time.Millisecond
}

func (c *Config) CommandLayout() metadata.CommandLayout {
	l, _ := metadata.ParseCommandLayout(c.Culling.Layout)
	return l
}

func (c *Config) Backend() renderer.RendererType {
	t, _ := renderer.ParseRendererType(c.Application.Backend)
	return t
}

func (c *Config) LogLevel() core.LogLevel {
	l, _ := core.ParseLogLevel(c.Logging.Level)
	return l
}

// Merge returns c with the live-tunable settings of next applied, and the
// names of the sections that changed but only take effect on restart.
func (c Config) Merge(next *Config) (Config, []string) {
	var ignored []string
	if c.Application != next.Application {
		ignored = append(ignored, "application")
	}
	if c.Frames != next.Frames {
		ignored = append(ignored, "frames")
	}
	if c.Culling != next.Culling {
		ignored = append(ignored, "culling")
	}
	if c.Scene != next.Scene {
		ignored = append(ignored, "scene")
	}
	if c.Camera != next.Camera {
		ignored = append(ignored, "camera")
	}
	if c.Shaders != next.Shaders {
		ignored = append(ignored, "shaders")
	}
	if c.Diagnostics.History != next.Diagnostics.History {
		ignored = append(ignored, "diagnostics.history")
	}
	c.Logging = next.Logging
	c.Diagnostics.StatsEvery = next.Diagnostics.StatsEvery
	return c, ignored
}
