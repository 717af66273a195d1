package systems

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// ShaderSet is the SPIR-V of every pipeline. The software device ignores it.
type ShaderSet struct {
	CullCompute  []byte
	MeshVertex   []byte
	MeshFragment []byte
}

type SystemManagerConfig struct {
	FramesInFlight int
	FenceTimeout   time.Duration
	Layout         metadata.CommandLayout
	GroupSize      uint32
	StatsEvery     uint64
	StatsHistory   int

	Instances []metadata.InstanceRecord
	Geometry  *metadata.GeometryConfig
	Texture   *metadata.TextureData
	Sampler   metadata.SamplerConfig
	Shaders   ShaderSet

	ClearColor     mgl32.Vec4
	ViewProjection func(aspect float32) mgl32.Mat4
	Hooks          FrameHooks
}

// SystemManager builds the frame pipeline on a device and owns everything
// it creates. Resources are released in reverse creation order.
type SystemManager struct {
	dev       renderer.Device
	instances *InstanceStore
	geometry  *GeometryBuffers
	cull      *CullStage
	draw      *IndirectDrawStage
	stats     *StatsReader
	scheduler *FrameScheduler
	scope     *renderer.Scope
	shutdown  bool
}

func NewSystemManager(dev renderer.Device, surface renderer.Surface, cfg SystemManagerConfig) (*SystemManager, error) {
	if cfg.FramesInFlight < 1 {
		err := errors.Wrapf(renderer.ErrInitialization, "frames in flight must be > 0, got %d", cfg.FramesInFlight)
		core.LogError(err.Error())
		return nil, err
	}
	timeout := cfg.FenceTimeout
	if timeout <= 0 {
		timeout = renderer.DefaultFenceTimeout
	}
	geo := cfg.Geometry
	if geo == nil {
		geo = metadata.NewCube(1)
	}

	sm := &SystemManager{dev: dev, scope: renderer.NewScope()}
	fail := func(err error) (*SystemManager, error) {
		sm.scope.Release()
		if sm.stats != nil {
			_ = sm.stats.Shutdown()
		}
		return nil, err
	}

	var err error
	if sm.instances, err = NewInstanceStore(dev, cfg.Instances, timeout); err != nil {
		return fail(err)
	}
	sm.scope.Track(sm.instances)

	if sm.geometry, err = NewGeometryBuffers(dev, geo, timeout); err != nil {
		return fail(err)
	}
	sm.scope.Track(sm.geometry)

	sm.cull, err = NewCullStage(dev, CullStageConfig{
		Layout:         cfg.Layout,
		GroupSize:      cfg.GroupSize,
		Shader:         cfg.Shaders.CullCompute,
		FramesInFlight: cfg.FramesInFlight,
		FenceTimeout:   timeout,
	}, sm.instances, sm.geometry)
	if err != nil {
		return fail(err)
	}
	sm.scope.Track(sm.cull)

	sm.draw, err = NewIndirectDrawStage(dev, surface, IndirectDrawStageConfig{
		VertexShader:   cfg.Shaders.MeshVertex,
		FragmentShader: cfg.Shaders.MeshFragment,
		Texture:        cfg.Texture,
		Sampler:        cfg.Sampler,
		ClearColor:     cfg.ClearColor,
	}, sm.geometry, sm.instances, sm.cull)
	if err != nil {
		return fail(err)
	}
	sm.scope.Track(sm.draw)

	if sm.stats, err = NewStatsReader(cfg.StatsEvery, cfg.StatsHistory); err != nil {
		return fail(err)
	}

	sm.scheduler, err = NewFrameScheduler(dev, surface, FrameSchedulerConfig{
		FramesInFlight: cfg.FramesInFlight,
		FenceTimeout:   timeout,
		ViewProjection: cfg.ViewProjection,
		Hooks:          cfg.Hooks,
	}, sm.cull, sm.draw, sm.stats)
	if err != nil {
		return fail(err)
	}
	sm.scope.Track(sm.scheduler)

	return sm, nil
}

// RunFrame renders one frame.
func (sm *SystemManager) RunFrame() error {
	if sm.shutdown {
		return errors.Wrap(renderer.ErrResourceReleased, "system manager is shut down")
	}
	return sm.scheduler.RunFrame()
}

func (sm *SystemManager) Instances() *InstanceStore  { return sm.instances }
func (sm *SystemManager) Geometry() *GeometryBuffers { return sm.geometry }
func (sm *SystemManager) Cull() *CullStage           { return sm.cull }
func (sm *SystemManager) Draw() *IndirectDrawStage   { return sm.draw }
func (sm *SystemManager) Stats() *StatsReader        { return sm.stats }
func (sm *SystemManager) Scheduler() *FrameScheduler { return sm.scheduler }

// Shutdown drains the device, then releases every resource. A device that
// does not drain is reported, and resources are released regardless.
func (sm *SystemManager) Shutdown() error {
	if sm.shutdown {
		return nil
	}
	sm.shutdown = true

	err := sm.scheduler.WaitIdle()
	if err != nil {
		core.LogError("system manager: device did not drain: %s", err)
	}
	if serr := sm.stats.Shutdown(); serr != nil && err == nil {
		err = serr
	}
	sm.scope.Release()
	return err
}
