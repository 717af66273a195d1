package engine

import (
	"path/filepath"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/assets"
	"github.com/spaghettifunk/gpucull/engine/config"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/platform"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
	"github.com/spaghettifunk/gpucull/engine/renderer/software"
	"github.com/spaghettifunk/gpucull/engine/renderer/vulkan"
	"github.com/spaghettifunk/gpucull/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Every resource is released
	EngineStageShutdown
)

const (
	reloadQueueDepth = 4

	cullShaderFile         = "cull.comp.spv"
	meshVertexShaderFile   = "mesh.vert.spv"
	meshFragmentShaderFile = "mesh.frag.spv"

	checkerSize = 256
	checkerCell = 32
)

var clearColor = mgl32.Vec4{0.1, 0.1, 0.12, 1}

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	cfg           *config.Config
	isRunning     bool
	isSuspended   bool
	platform      platform.Platform
	input         *core.InputState
	events        *core.EventBus
	assetManager  *assets.AssetManager
	device        renderer.Device
	surface       renderer.Surface
	systemManager *systems.SystemManager
	width         uint32
	height        uint32
	clock         *core.Clock
	lastTime      float64
	frames        uint64
	exitRequested atomic.Bool

	// Configurations parsed by the watcher goroutine, applied on the frame
	// thread.
	reloads chan *config.Config
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.FnViewProjection == nil {
		return nil, errors.Wrap(renderer.ErrInitialization, "game needs a view projection")
	}
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = &ApplicationConfig{}
	}
	app := g.ApplicationConfig

	cfg := app.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(app.configPath()); err != nil {
			core.LogError(err.Error())
			return nil, errors.Wrap(renderer.ErrInitialization, err.Error())
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(renderer.ErrInitialization, err.Error())
	}
	core.SetLogLevel(cfg.LogLevel())

	am, err := assets.NewAssetManager(app.assetsRoot())
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	events := core.NewEventBus()
	input := core.NewInputState(events)

	p := app.Platform
	if p == nil {
		switch cfg.Backend() {
		case renderer.Software:
			p = platform.NewHeadlessPlatform(0, events)
		default:
			p = platform.NewWindowPlatform(input, events)
		}
	}

	core.LogInfo("session %s, %s backend", core.SessionID(), cfg.Backend())
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		cfg:          cfg,
		platform:     p,
		input:        input,
		events:       events,
		assetManager: am,
		clock:        core.NewClock(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
		reloads:      make(chan *config.Config, reloadQueueDepth),
	}, nil
}

// Initialize opens the window, creates the device and builds the frame
// pipeline. Errors are fatal and leave the engine to Shutdown.
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.Wrap(renderer.ErrInvalidUsage, "engine already initialized")
	}
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e.onResized)

	app := e.cfg.Application
	if err := e.platform.Startup(app.Name, app.Width, app.Height); err != nil {
		return errors.Wrap(renderer.ErrInitialization, err.Error())
	}
	if w, h := e.platform.FramebufferSize(); w != 0 && h != 0 {
		e.width, e.height = w, h
	}

	if err := e.assetManager.Initialize(); err != nil {
		core.LogWarn("asset watcher disabled: %s", err)
	}
	if e.gameInstance.ApplicationConfig.Config == nil {
		path := e.gameInstance.ApplicationConfig.configPath()
		if err := e.assetManager.OnChange(path, e.onConfigChanged); err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		}
	}

	if err := e.createBackend(); err != nil {
		core.LogError("backend: %s", err)
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.cfg); err != nil {
			return errors.Wrap(err, "game initialize")
		}
	}

	smc, err := e.systemConfig()
	if err != nil {
		core.LogError("scene: %s", err)
		return err
	}
	sm, err := systems.NewSystemManager(e.device, e.surface, smc)
	if err != nil {
		core.LogError("frame pipeline: %s", err)
		return err
	}
	e.systemManager = sm

	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return errors.Wrap(err, "game resize")
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized: %d instances, %s layout, %d frames in flight",
		sm.Instances().Count(), sm.Cull().Layout(), e.cfg.Frames.InFlight)
	return nil
}

func (e *Engine) createBackend() error {
	switch e.cfg.Backend() {
	case renderer.Software:
		dev := software.NewDevice(e.gameInstance.ApplicationConfig.SoftwareOptions...)
		e.device = dev
		e.surface = software.NewSurface(dev, e.width, e.height, e.cfg.Frames.InFlight)
		return nil
	case renderer.Vulkan:
		wp, ok := e.platform.(*platform.WindowPlatform)
		if !ok {
			return errors.Wrapf(renderer.ErrInitialization, "vulkan backend needs a window, got %T", e.platform)
		}
		dev, err := vulkan.NewDevice(vulkan.Config{
			AppName:             e.cfg.Application.Name,
			Debug:               e.cfg.LogLevel() == core.DebugLevel,
			RequiredExtensions:  wp.RequiredExtensions(),
			CreateWindowSurface: wp.CreateWindowSurface,
		})
		if err != nil {
			return err
		}
		e.device = dev
		surface, err := dev.NewSurface(e.width, e.height)
		if err != nil {
			return err
		}
		e.surface = surface
		return nil
	}
	return errors.Wrapf(renderer.ErrInitialization, "unknown backend %s", e.cfg.Backend())
}

// systemConfig loads the scene, texture and shaders the configuration names.
func (e *Engine) systemConfig() (systems.SystemManagerConfig, error) {
	cfg := e.cfg
	smc := systems.SystemManagerConfig{
		FramesInFlight: int(cfg.Frames.InFlight),
		FenceTimeout:   cfg.FenceTimeout(),
		Layout:         cfg.CommandLayout(),
		GroupSize:      cfg.Culling.GroupSize,
		StatsEvery:     cfg.Diagnostics.StatsEvery,
		StatsHistory:   cfg.Diagnostics.History,
		Geometry:       metadata.NewCube(1),
		Sampler:        metadata.DefaultSampler(),
		ClearColor:     clearColor,
		ViewProjection: e.gameInstance.FnViewProjection,
		Hooks:          e.gameInstance.Hooks,
	}

	scene := cfg.Scene
	if scene.InstancesFile != "" {
		records, err := e.assetManager.LoadInstances(scene.InstancesFile)
		if err != nil {
			return smc, errors.Wrap(renderer.ErrInitialization, err.Error())
		}
		smc.Instances = records
	} else {
		smc.Instances = metadata.Grid(metadata.GridConfig{
			CountX:  scene.Grid[0],
			CountY:  scene.Grid[1],
			CountZ:  scene.Grid[2],
			Spacing: scene.Spacing,
			Scale:   scene.Scale,
		})
	}

	smc.Texture = metadata.CheckerTexture(checkerSize, checkerCell)
	if scene.Texture != "" {
		tex, err := e.assetManager.LoadTexture(scene.Texture)
		if err != nil {
			core.LogWarn("texture %s: %s, using the checker texture", scene.Texture, err)
		} else {
			smc.Texture = tex
		}
	}

	// The software device runs CPU kernels and has no use for SPIR-V.
	if cfg.Backend() == renderer.Vulkan {
		var err error
		dir := cfg.Shaders.Dir
		if smc.Shaders.CullCompute, err = e.assetManager.LoadShader(filepath.Join(dir, cullShaderFile)); err != nil {
			return smc, errors.Wrap(renderer.ErrInitialization, err.Error())
		}
		if smc.Shaders.MeshVertex, err = e.assetManager.LoadShader(filepath.Join(dir, meshVertexShaderFile)); err != nil {
			return smc, errors.Wrap(renderer.ErrInitialization, err.Error())
		}
		if smc.Shaders.MeshFragment, err = e.assetManager.LoadShader(filepath.Join(dir, meshFragmentShaderFile)); err != nil {
			return smc, errors.Wrap(renderer.ErrInitialization, err.Error())
		}
	}
	return smc, nil
}

// Run drives frames until the platform closes, an exit is requested, the
// frame budget is spent or a fatal error occurs.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrap(renderer.ErrInvalidUsage, "engine not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if err := e.RunFrame(); err != nil {
			if errors.Is(err, core.ErrExitRequested) {
				break
			}
			core.LogError("fatal: %s", err)
			e.isRunning = false
			return err
		}
		if budget := e.cfg.Application.MaxFrames; budget != 0 && e.frames >= budget {
			core.LogInfo("frame budget of %d reached", budget)
			break
		}
	}
	e.isRunning = false
	return nil
}

// RunFrame pumps the platform, applies pending configuration changes, runs
// the game update and renders one frame. It returns core.ErrExitRequested
// once the application should stop.
func (e *Engine) RunFrame() error {
	e.platform.PumpMessages()
	if e.platform.ShouldClose() || e.exitRequested.Load() {
		e.isRunning = false
	}
	e.applyReloads()
	if !e.isRunning && e.currentStage == EngineStageRunning {
		return core.ErrExitRequested
	}
	if e.isSuspended {
		e.input.Update()
		return nil
	}

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	e.lastTime = currentTime

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(e.input, delta); err != nil {
			if errors.Is(err, core.ErrExitRequested) {
				e.isRunning = false
			}
			return err
		}
	}

	if err := e.systemManager.RunFrame(); err != nil {
		if errors.Is(err, core.ErrExitRequested) {
			e.isRunning = false
		}
		return err
	}
	e.frames++

	e.input.Update()
	return nil
}

// Shutdown drains the device and releases everything in reverse creation
// order. It is safe to call at any stage and more than once.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if e.systemManager != nil {
		keep(e.systemManager.Shutdown())
		e.systemManager = nil
	}
	if e.gameInstance.FnShutdown != nil {
		keep(e.gameInstance.FnShutdown())
	}
	if e.surface != nil {
		e.surface.Release()
		e.surface = nil
	}
	if e.device != nil {
		e.device.Destroy()
		e.device = nil
	}
	e.assetManager.Shutdown()
	keep(e.platform.Shutdown())
	e.events.Clear()

	e.currentStage = EngineStageShutdown
	core.LogInfo("engine shut down after %d frames", e.frames)
	return first
}

// RequestExit stops Run before the next frame. It is safe to call from any
// goroutine.
func (e *Engine) RequestExit() {
	e.exitRequested.Store(true)
}

func (e *Engine) Stage() Stage                          { return e.currentStage }
func (e *Engine) Config() config.Config                 { return *e.cfg }
func (e *Engine) Frames() uint64                        { return e.frames }
func (e *Engine) Events() *core.EventBus                { return e.events }
func (e *Engine) Input() *core.InputState               { return e.input }
func (e *Engine) Device() renderer.Device               { return e.device }
func (e *Engine) Surface() renderer.Surface             { return e.surface }
func (e *Engine) SystemManager() *systems.SystemManager { return e.systemManager }
func (e *Engine) Suspended() bool                       { return e.isSuspended }

func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// onConfigChanged runs on the watcher goroutine.
func (e *Engine) onConfigChanged(path string) {
	next, err := config.Load(path)
	if err != nil {
		core.LogWarn("config reload rejected: %s", err)
		return
	}
	select {
	case e.reloads <- next:
	default:
		core.LogWarn("config reload dropped, %d reloads pending", reloadQueueDepth)
	}
}

func (e *Engine) applyReloads() {
	for {
		select {
		case next := <-e.reloads:
			e.applyConfig(next)
		default:
			return
		}
	}
}

// applyConfig takes the live-tunable settings of next. Everything else
// waits for a restart.
func (e *Engine) applyConfig(next *config.Config) {
	merged, ignored := e.cfg.Merge(next)
	for _, section := range ignored {
		core.LogWarn("config: changes to %s apply on restart", section)
	}
	if merged.Logging != e.cfg.Logging {
		core.SetLogLevel(merged.LogLevel())
		core.LogInfo("config: log level %s", merged.LogLevel())
	}
	if merged.Diagnostics.StatsEvery != e.cfg.Diagnostics.StatsEvery && e.systemManager != nil {
		e.systemManager.Stats().SetCadence(merged.Diagnostics.StatsEvery)
		core.LogInfo("config: stats every %d frames", merged.Diagnostics.StatsEvery)
	}
	*e.cfg = merged
	e.events.Fire(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Data: merged})
}

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		e.RequestExit()
		return true
	case core.KEY_F1:
		if e.systemManager != nil {
			e.systemManager.Scheduler().RequestReadback()
		}
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	se, ok := context.Data.(*core.SystemEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	width, height := se.WindowWidth, se.WindowHeight
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.systemManager != nil {
		e.systemManager.Scheduler().RequestRebuild(width, height)
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	return true
}
