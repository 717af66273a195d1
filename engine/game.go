package engine

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/gpucull/engine/config"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/systems"
)

// Game is the strategy the engine drives. FnViewProjection is required,
// every other hook is optional.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnViewProjection  ViewProjection
	FnOnResize        OnResize
	FnShutdown        Shutdown
	// Per-frame recording hooks handed to the frame scheduler.
	Hooks systems.FrameHooks
}

type Initialize func(cfg *config.Config) error

// Update runs once per frame before recording. Returning
// core.ErrExitRequested stops the engine cleanly.
type Update func(input *core.InputState, deltaTime float64) error
type ViewProjection func(aspect float32) mgl32.Mat4
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
