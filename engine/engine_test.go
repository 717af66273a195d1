package engine

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/gpucull/engine/config"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/math"
	"github.com/spaghettifunk/gpucull/engine/platform"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(maxFrames uint64) *config.Config {
	cfg := config.Default()
	cfg.Application.Backend = "software"
	cfg.Application.Width = 160
	cfg.Application.Height = 90
	cfg.Application.MaxFrames = maxFrames
	cfg.Logging.Level = "error"
	cfg.Scene.Grid = [3]uint32{4, 4, 4}
	cfg.Diagnostics.StatsEvery = 1
	return cfg
}

func viewProjection(aspect float32) mgl32.Mat4 {
	cam := math.NewCamera(mgl32.Vec3{0, 0, 10}, 1)
	return cam.ViewProjection(math.Projection{Fov: 70, Aspect: aspect, Near: 0.1, Far: 100})
}

func newTestEngine(t *testing.T, cfg *config.Config, p platform.Platform, g *Game) *Engine {
	t.Helper()
	if g == nil {
		g = &Game{}
	}
	if g.FnViewProjection == nil {
		g.FnViewProjection = viewProjection
	}
	g.ApplicationConfig = &ApplicationConfig{
		Config:     cfg,
		AssetsRoot: t.TempDir(),
		Platform:   p,
	}
	e, err := New(g)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestNewRequiresViewProjection(t *testing.T) {
	_, err := New(&Game{ApplicationConfig: &ApplicationConfig{Config: testConfig(1)}})
	assert.ErrorIs(t, err, renderer.ErrInitialization)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(1)
	cfg.Frames.InFlight = 0
	_, err := New(&Game{
		ApplicationConfig: &ApplicationConfig{Config: cfg, AssetsRoot: t.TempDir()},
		FnViewProjection:  viewProjection,
	})
	assert.ErrorIs(t, err, renderer.ErrInitialization)
}

func TestRunStopsAtFrameBudget(t *testing.T) {
	var initialized, resized bool
	var updates int
	e := newTestEngine(t, testConfig(8), nil, &Game{
		FnInitialize: func(cfg *config.Config) error {
			initialized = true
			return nil
		},
		FnUpdate: func(input *core.InputState, dt float64) error {
			updates++
			return nil
		},
		FnOnResize: func(w, h uint32) error {
			resized = true
			return nil
		},
	})
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.True(t, initialized)
	assert.True(t, resized)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(8), e.Frames())
	assert.Equal(t, 8, updates)
	assert.Equal(t, uint64(8), e.SystemManager().Scheduler().FrameIndex())

	stats := e.SystemManager().Stats()
	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShutdown, e.Stage())

	latest, ok := stats.Latest()
	require.True(t, ok)
	assert.Equal(t, uint32(64), latest.Stats.TotalCount)
	assert.LessOrEqual(t, latest.Stats.VisibleCount, latest.Stats.TotalCount)
	assert.Positive(t, latest.Stats.VisibleCount)
}

func TestZeroStatsCadenceSkipsReadback(t *testing.T) {
	cfg := testConfig(6)
	cfg.Diagnostics.StatsEvery = 0
	e := newTestEngine(t, cfg, platform.NewHeadlessPlatform(0, nil), nil)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())

	assert.Equal(t, uint64(6), e.Frames())
	stats := e.SystemManager().Stats()
	require.NoError(t, e.Shutdown())
	_, ok := stats.Latest()
	assert.False(t, ok)
}

func TestUpdateCanRequestExit(t *testing.T) {
	e := newTestEngine(t, testConfig(0), platform.NewHeadlessPlatform(0, nil), nil)
	e.gameInstance.FnUpdate = func(input *core.InputState, dt float64) error {
		if e.Frames() == 3 {
			return core.ErrExitRequested
		}
		return nil
	}
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.Frames())
}

func TestEscapeRequestsExit(t *testing.T) {
	e := newTestEngine(t, testConfig(0), platform.NewHeadlessPlatform(0, nil), nil)
	e.gameInstance.FnUpdate = func(input *core.InputState, dt float64) error {
		if e.Frames() == 2 {
			input.ProcessKey(core.KEY_ESCAPE, true)
		}
		return nil
	}
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.Frames())
}

func TestPlatformCloseStopsRun(t *testing.T) {
	e := newTestEngine(t, testConfig(0), platform.NewHeadlessPlatform(5, nil), nil)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	assert.Equal(t, uint64(4), e.Frames())
}

func TestResizeRebuildsSurface(t *testing.T) {
	cfg := testConfig(6)
	e := newTestEngine(t, cfg, nil, nil)
	hp := platform.NewHeadlessPlatform(0, e.Events())
	e.platform = hp

	var sizes [][2]uint32
	e.gameInstance.FnOnResize = func(w, h uint32) error {
		sizes = append(sizes, [2]uint32{w, h})
		return nil
	}
	e.gameInstance.FnUpdate = func(input *core.InputState, dt float64) error {
		if e.Frames() == 2 {
			hp.Resize(320, 200)
		}
		return nil
	}
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())

	w, h := e.Surface().Extent()
	assert.Equal(t, uint32(320), w)
	assert.Equal(t, uint32(200), h)
	assert.Equal(t, uint64(1), e.SystemManager().Scheduler().Rebuilds())
	assert.Equal(t, [][2]uint32{{160, 90}, {320, 200}}, sizes)
	assert.Equal(t, uint64(6), e.Frames())
}

func TestMinimizeSuspendsFrames(t *testing.T) {
	e := newTestEngine(t, testConfig(0), nil, nil)
	hp := platform.NewHeadlessPlatform(0, e.Events())
	e.platform = hp
	require.NoError(t, e.Initialize())

	require.NoError(t, e.RunFrame())
	assert.Equal(t, uint64(1), e.Frames())

	hp.Resize(0, 0)
	assert.True(t, e.Suspended())
	for i := 0; i < 3; i++ {
		require.NoError(t, e.RunFrame())
	}
	assert.Equal(t, uint64(1), e.Frames())

	hp.Resize(160, 90)
	assert.False(t, e.Suspended())
	require.NoError(t, e.RunFrame())
	assert.Equal(t, uint64(2), e.Frames())
}

func TestApplyConfigLiveFields(t *testing.T) {
	e := newTestEngine(t, testConfig(0), platform.NewHeadlessPlatform(0, nil), nil)
	require.NoError(t, e.Initialize())

	var reloaded *config.Config
	e.Events().Register(core.EVENT_CODE_CONFIG_RELOADED, func(ctx core.EventContext) bool {
		c := ctx.Data.(config.Config)
		reloaded = &c
		return true
	})

	next := testConfig(0)
	next.Diagnostics.StatsEvery = 7
	next.Logging.Level = "warn"
	next.Scene.Grid = [3]uint32{1, 1, 1}
	e.reloads <- next
	require.NoError(t, e.RunFrame())

	require.NotNil(t, reloaded)
	assert.Equal(t, uint64(7), e.SystemManager().Stats().Cadence())
	assert.Equal(t, "warn", e.Config().Logging.Level)
	// Scene changes wait for a restart.
	assert.Equal(t, [3]uint32{4, 4, 4}, e.Config().Scene.Grid)
	assert.Equal(t, uint32(64), e.SystemManager().Instances().Count())
	core.SetLogLevel(core.ErrorLevel)
}

func TestConfigChangeRejectsUnreadableFile(t *testing.T) {
	e := newTestEngine(t, testConfig(0), platform.NewHeadlessPlatform(0, nil), nil)

	e.onConfigChanged(t.TempDir() + "/missing.toml")
	assert.Len(t, e.reloads, 0)
}

func TestVulkanBackendNeedsWindow(t *testing.T) {
	cfg := testConfig(1)
	cfg.Application.Backend = "vulkan"
	e := newTestEngine(t, cfg, platform.NewHeadlessPlatform(0, nil), nil)
	err := e.Initialize()
	assert.ErrorIs(t, err, renderer.ErrInitialization)
}

func TestRunBeforeInitialize(t *testing.T) {
	e := newTestEngine(t, testConfig(1), platform.NewHeadlessPlatform(0, nil), nil)
	assert.ErrorIs(t, e.Run(), renderer.ErrInvalidUsage)
}
