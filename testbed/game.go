package testbed

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/gpucull/engine"
	"github.com/spaghettifunk/gpucull/engine/config"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/math"
	"github.com/spaghettifunk/gpucull/engine/systems"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	camera     *math.Camera
	projection math.Projection

	width  uint32
	height uint32
	// Seconds since the last camera log line.
	sinceLog float64
}

const cameraLogInterval = 5.0

func NewTestGame(app *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnViewProjection = tg.ViewProjection
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	tg.Hooks = systems.FrameHooks{
		UpdatePerFrameData: tg.updatePerFrameData,
	}
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(cfg *config.Config) error {
	core.LogInfo("initializing testbed...")
	s := g.state()
	c := cfg.Camera
	s.camera = math.NewCamera(mgl32.Vec3{c.Position[0], c.Position[1], c.Position[2]}, c.Speed)
	s.projection = math.Projection{
		Fov:  c.Fov,
		Near: c.Near,
		Far:  c.Far,
	}
	return nil
}

func (g *TestGame) Update(input *core.InputState, deltaTime float64) error {
	s := g.state()
	s.camera.ProcessInput(input)
	s.camera.Update()

	s.sinceLog += deltaTime
	if s.sinceLog >= cameraLogInterval {
		s.sinceLog = 0
		p := s.camera.Position
		core.LogDebug("camera at [%.2f, %.2f, %.2f] pitch %.1f yaw %.1f", p.X(), p.Y(), p.Z(),
			math.RadToDeg(s.camera.Pitch), math.RadToDeg(s.camera.Yaw))
	}
	return nil
}

// updatePerFrameData fixes the aspect ratio of the frame's target.
func (g *TestGame) updatePerFrameData(ctx *systems.FrameContext) error {
	g.state().projection.Aspect = ctx.Aspect
	return nil
}

func (g *TestGame) ViewProjection(aspect float32) mgl32.Mat4 {
	s := g.state()
	p := s.projection
	p.Aspect = aspect
	return s.camera.ViewProjection(p)
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	return nil
}
