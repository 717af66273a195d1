package systems

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/math"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
	"github.com/spaghettifunk/gpucull/engine/renderer/software"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

var layouts = []metadata.CommandLayout{metadata.CommandLayoutMerged, metadata.CommandLayoutPerInstance}

type harness struct {
	dev     *software.Device
	surface *software.Surface
	sm      *SystemManager
	vp      func(aspect float32) mgl32.Mat4
}

// lookAt returns a view projection for a camera at eye looking at center.
func lookAt(eye, center mgl32.Vec3, fov, near, far float32) func(float32) mgl32.Mat4 {
	return func(aspect float32) mgl32.Mat4 {
		proj := math.Projection{Fov: fov, Aspect: aspect, Near: near, Far: far}
		return proj.Matrix().Mul4(mgl32.LookAtV(eye, center, mgl32.Vec3{0, 1, 0}))
	}
}

func testConfig(records []metadata.InstanceRecord, layout metadata.CommandLayout, vp func(float32) mgl32.Mat4) SystemManagerConfig {
	return SystemManagerConfig{
		FramesInFlight: 3,
		FenceTimeout:   testTimeout,
		Layout:         layout,
		GroupSize:      64,
		StatsHistory:   16,
		Instances:      records,
		Geometry:       metadata.NewCube(1),
		Texture:        metadata.CheckerTexture(8, 2),
		Sampler:        metadata.DefaultSampler(),
		ClearColor:     mgl32.Vec4{0.1, 0.1, 0.1, 1},
		ViewProjection: vp,
	}
}

func newHarness(t *testing.T, cfg SystemManagerConfig, opts ...software.Option) *harness {
	t.Helper()
	dev := software.NewDevice(opts...)
	t.Cleanup(dev.Destroy)
	surface := software.NewSurface(dev, 800, 800, software.DefaultImageCount)
	sm, err := NewSystemManager(dev, surface, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Shutdown() })
	return &harness{dev: dev, surface: surface, sm: sm, vp: cfg.ViewProjection}
}

func (h *harness) run(t *testing.T, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(t, h.sm.RunFrame())
	}
	require.NoError(t, h.sm.Scheduler().WaitIdle())
}

// reference culls on the host with the same sphere test.
func (h *harness) reference(records []metadata.InstanceRecord) map[uint32]bool {
	w, hh := h.surface.Extent()
	planes := math.ExtractFrustumPlanes(h.vp(float32(w) / float32(hh)))
	radius := h.sm.Geometry().Radius()
	out := make(map[uint32]bool)
	for i, r := range records {
		if math.SphereInsideFrustum(planes, r.Position, r.Radius(radius)) {
			out[uint32(i)] = true
		}
	}
	return out
}

func randomInstances(n int, seed int64) []metadata.InstanceRecord {
	rng := rand.New(rand.NewSource(seed))
	out := make([]metadata.InstanceRecord, n)
	for i := range out {
		out[i] = metadata.InstanceRecord{
			Position: mgl32.Vec3{rng.Float32()*100 - 50, rng.Float32()*100 - 50, rng.Float32()*100 - 50},
			Scale:    0.1 + rng.Float32(),
		}
	}
	return out
}

func TestCullCountsMatchReference(t *testing.T) {
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 70, 0.1, 60)
	for _, layout := range layouts {
		for _, n := range []int{0, 1, 63, 64, 65, 1000} {
			records := randomInstances(n, int64(n)+1)
			h := newHarness(t, testConfig(records, layout, vp))
			h.run(t, 1)

			stats, err := h.sm.Cull().ReadStats(0)
			require.NoError(t, err)
			ref := h.reference(records)

			assert.Equal(t, uint32(n), stats.TotalCount, "%s n=%d", layout, n)
			assert.Equal(t, stats.TotalCount, stats.VisibleCount+stats.OccludedCount, "%s n=%d", layout, n)
			assert.Equal(t, uint32(len(ref)), stats.VisibleCount, "%s n=%d", layout, n)

			cmds, err := h.sm.Cull().ReadCommands(0)
			require.NoError(t, err)
			if layout == metadata.CommandLayoutMerged {
				require.Len(t, cmds, 1)
				assert.Equal(t, stats.VisibleCount, cmds[0].InstanceCount)
				assert.Equal(t, uint32(36), cmds[0].IndexCount)

				visible, err := h.sm.Cull().ReadVisibility(0, stats.VisibleCount)
				require.NoError(t, err)
				seen := make(map[uint32]bool)
				for _, idx := range visible {
					assert.True(t, ref[idx], "instance %d compacted but not visible", idx)
					assert.False(t, seen[idx], "instance %d compacted twice", idx)
					seen[idx] = true
				}
				continue
			}

			require.Len(t, cmds, n)
			var active uint32
			for i, c := range cmds {
				assert.Equal(t, uint32(i), c.FirstInstance)
				assert.Equal(t, ref[uint32(i)], c.InstanceCount == 1, "instance %d", i)
				if c.InstanceCount == 1 {
					active++
				}
			}
			assert.Equal(t, stats.VisibleCount, active)
			assert.Empty(t, h.dev.Hazards())
		}
	}
}

func TestWholeVolumeVisible(t *testing.T) {
	records := metadata.Grid(metadata.GridConfig{CountX: 10, CountY: 10, CountZ: 10, Spacing: 1, Scale: 0.3})
	vp := lookAt(mgl32.Vec3{0, 0, 60}, mgl32.Vec3{0, 0, 0}, 70, 0.1, 1000)
	for _, layout := range layouts {
		h := newHarness(t, testConfig(records, layout, vp))
		h.run(t, 1)
		stats, err := h.sm.Cull().ReadStats(0)
		require.NoError(t, err)
		assert.Equal(t, metadata.CullStats{VisibleCount: 1000, TotalCount: 1000}, stats)
		assert.InDelta(t, 100, stats.VisibleRatio(), 1e-9)
	}
}

func TestEverythingBehindCamera(t *testing.T) {
	records := metadata.Grid(metadata.GridConfig{CountX: 4, CountY: 4, CountZ: 4, Spacing: 2, Scale: 0.3, Origin: mgl32.Vec3{0, 0, 20}})
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 70, 0.1, 1000)
	for _, layout := range layouts {
		h := newHarness(t, testConfig(records, layout, vp))
		h.run(t, 1)
		stats, err := h.sm.Cull().ReadStats(0)
		require.NoError(t, err)
		assert.Equal(t, metadata.CullStats{OccludedCount: 64, TotalCount: 64}, stats)

		draws := h.dev.Draws()
		require.NotEmpty(t, draws)
		assert.Empty(t, draws[len(draws)-1].Instances)
	}
}

func TestNarrowFrustumScenario(t *testing.T) {
	// 90 degree frustum looking down +z from the origin, far plane at 8.
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1}, 90, 0.1, 8)
	tests := []struct {
		name    string
		place   func(v float32) mgl32.Vec3
		visible uint32
	}{
		// At z=5 the frustum spans x in [-5, 5]; boundary spheres count.
		{name: "across at z=5", place: func(v float32) mgl32.Vec3 { return mgl32.Vec3{v, 0, 5} }, visible: 3},
		// Only z=5 lies between the near plane and the far plane.
		{name: "along z", place: func(v float32) mgl32.Vec3 { return mgl32.Vec3{0, 0, v} }, visible: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := make([]metadata.InstanceRecord, 8)
			for i := range records {
				records[i] = metadata.InstanceRecord{Position: tt.place(float32(-10 + 5*i)), Scale: 0.01}
			}
			h := newHarness(t, testConfig(records, metadata.CommandLayoutMerged, vp))
			h.run(t, 1)

			stats, err := h.sm.Cull().ReadStats(0)
			require.NoError(t, err)
			assert.Equal(t, tt.visible, stats.VisibleCount)
			assert.Equal(t, uint32(8)-tt.visible, stats.OccludedCount)
			assert.Equal(t, uint32(len(h.reference(records))), stats.VisibleCount)
		})
	}
}

func TestInstanceStoreRoundTrip(t *testing.T) {
	dev := software.NewDevice()
	t.Cleanup(dev.Destroy)

	records := randomInstances(37, 7)
	store, err := NewInstanceStore(dev, records, testTimeout)
	require.NoError(t, err)
	defer store.Release()

	got, err := store.ReadBack()
	require.NoError(t, err)
	assert.Equal(t, records, got)
	assert.Equal(t, uint32(37), store.Count())
	assert.Equal(t, renderer.MemoryDeviceLocal, store.Buffer().Location())
	assert.Empty(t, dev.Hazards())

	empty, err := NewInstanceStore(dev, nil, testTimeout)
	require.NoError(t, err)
	defer empty.Release()
	got, err = empty.ReadBack()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInstanceCountFitsShaderIndex(t *testing.T) {
	n, err := instanceCount(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<20), n)

	limit := uint64(^uint32(0))
	if uint64(^uint(0)) <= limit {
		t.Skip("int cannot exceed the 32-bit instance index on this platform")
	}
	n, err = instanceCount(int(limit))
	require.NoError(t, err)
	assert.Equal(t, ^uint32(0), n)

	_, err = instanceCount(int(limit + 1))
	assert.ErrorIs(t, err, renderer.ErrInitialization)
}

func TestFramesInFlightWithoutHazards(t *testing.T) {
	records := metadata.Grid(metadata.GridConfig{CountX: 8, CountY: 4, CountZ: 8, Spacing: 3, Scale: 0.5})
	vp := lookAt(mgl32.Vec3{0, 10, 30}, mgl32.Vec3{0, 0, 0}, 70, 0.1, 1000)
	for _, layout := range layouts {
		t.Run(layout.String(), func(t *testing.T) {
			cfg := testConfig(records, layout, vp)
			cfg.StatsEvery = 1
			h := newHarness(t, cfg, software.WithLatency(2*time.Millisecond))
			n := cfg.FramesInFlight
			h.run(t, 3*n)

			sched := h.sm.Scheduler()
			assert.Equal(t, uint64(3*n), sched.FrameIndex())
			assert.Equal(t, uint64(3*n), h.surface.Presented())
			assert.Equal(t, uint64(3*n), h.dev.DrawCount())
			for i := 0; i < n; i++ {
				assert.Equal(t, SlotIdle, sched.SlotState(i))
			}

			want := uint32(len(h.reference(records)))
			draws := h.dev.Draws()
			last := draws[len(draws)-1]
			assert.Equal(t, layout.CommandCount(uint32(len(records))), last.CommandCount)
			assert.Len(t, last.Instances, int(want))

			require.NoError(t, h.sm.Stats().Shutdown())
			history := h.sm.Stats().History()
			// Frames n..3n-1 each read back the frame n earlier.
			assert.Equal(t, 2*n, len(history)+int(h.sm.Stats().Dropped()))
			for _, s := range history {
				assert.Equal(t, uint32(len(records)), s.Stats.TotalCount)
				assert.Equal(t, want, s.Stats.VisibleCount)
				assert.Less(t, s.Frame, uint64(2*n))
			}

			assert.Empty(t, h.dev.Hazards())
		})
	}
}

func TestMissingCullBarrierIsDetected(t *testing.T) {
	records := randomInstances(100, 3)
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 70, 0.1, 100)
	h := newHarness(t, testConfig(records, metadata.CommandLayoutMerged, vp))

	sem, err := h.dev.CreateSemaphore()
	require.NoError(t, err)
	target, err := h.surface.Acquire(sem, testTimeout)
	require.NoError(t, err)

	err = ImmediateSubmit(h.dev, testTimeout, func(cmd renderer.CommandSequence) {
		require.NoError(t, h.sm.Cull().Record(cmd, 0, metadata.NewCullUniform(vp(1))))
		cmd.TransitionImage(target, renderer.LayoutUndefined, renderer.LayoutColorAttachment)
		h.sm.Draw().Record(cmd, 0, target, vp(1))
	})
	require.NoError(t, err)

	var kinds []software.HazardKind
	for _, hz := range h.dev.Hazards() {
		kinds = append(kinds, hz.Kind)
	}
	assert.Contains(t, kinds, software.HazardMissingBarrier)
}

func TestFenceTimeoutIsDeviceLost(t *testing.T) {
	records := randomInstances(10, 5)
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 70, 0.1, 100)
	cfg := testConfig(records, metadata.CommandLayoutMerged, vp)
	cfg.FenceTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)

	h.dev.SimulateHang()
	var err error
	for i := 0; i <= cfg.FramesInFlight && err == nil; i++ {
		err = h.sm.RunFrame()
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, renderer.ErrDeviceLost))
	assert.True(t, renderer.IsFatal(err))
	assert.Equal(t, uint64(cfg.FramesInFlight), h.sm.Scheduler().FrameIndex())

	assert.Error(t, h.sm.Shutdown())
}

func TestSurfaceRebuild(t *testing.T) {
	records := randomInstances(50, 9)
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 70, 0.1, 100)
	h := newHarness(t, testConfig(records, metadata.CommandLayoutMerged, vp))
	sched := h.sm.Scheduler()
	h.run(t, 2)

	h.surface.Resize(640, 480)
	require.NoError(t, h.sm.RunFrame())
	assert.Equal(t, uint64(1), sched.Skipped())
	assert.Equal(t, uint64(2), sched.FrameIndex())

	require.NoError(t, h.sm.RunFrame())
	assert.Equal(t, uint64(1), sched.Rebuilds())
	assert.Equal(t, uint64(3), sched.FrameIndex())
	w, hh := h.surface.Extent()
	assert.Equal(t, []uint32{640, 480}, []uint32{w, hh})

	// Suboptimal frames still render, then rebuild.
	h.surface.ForceSuboptimal()
	require.NoError(t, h.sm.RunFrame())
	assert.Equal(t, uint64(4), sched.FrameIndex())
	require.NoError(t, h.sm.RunFrame())
	assert.Equal(t, uint64(2), sched.Rebuilds())

	require.NoError(t, sched.WaitIdle())
	assert.Equal(t, uint32(3), h.surface.Generation())
	assert.Empty(t, h.dev.Hazards())
	stats, err := h.sm.Cull().ReadStats(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), stats.TotalCount)
}

func TestStartupFailures(t *testing.T) {
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 70, 0.1, 100)
	records := randomInstances(10, 1)

	noMDI := software.DefaultCapabilities()
	noMDI.MultiDrawIndirect = false
	noFirst := software.DefaultCapabilities()
	noFirst.DrawIndirectFirstInstance = false

	tests := []struct {
		name   string
		layout metadata.CommandLayout
		opts   []software.Option
		frames int
		want   error
	}{
		{name: "no multi draw", layout: metadata.CommandLayoutPerInstance, opts: []software.Option{software.WithCapabilities(noMDI)}, frames: 3, want: renderer.ErrMissingCapability},
		{name: "no first instance", layout: metadata.CommandLayoutPerInstance, opts: []software.Option{software.WithCapabilities(noFirst)}, frames: 3, want: renderer.ErrMissingCapability},
		{name: "memory budget", layout: metadata.CommandLayoutMerged, opts: []software.Option{software.WithMemoryBudget(256)}, frames: 3, want: renderer.ErrOutOfDeviceMemory},
		{name: "no slots", layout: metadata.CommandLayoutMerged, frames: 0, want: renderer.ErrInitialization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := software.NewDevice(tt.opts...)
			t.Cleanup(dev.Destroy)
			cfg := testConfig(records, tt.layout, vp)
			cfg.FramesInFlight = tt.frames
			_, err := NewSystemManager(dev, software.NewSurface(dev, 64, 64, 0), cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	// The merged layout does not need either feature.
	dev := software.NewDevice(software.WithCapabilities(noMDI))
	t.Cleanup(dev.Destroy)
	sm, err := NewSystemManager(dev, software.NewSurface(dev, 64, 64, 0), testConfig(records, metadata.CommandLayoutMerged, vp))
	require.NoError(t, err)
	require.NoError(t, sm.RunFrame())
	require.NoError(t, sm.Shutdown())
}

func TestFrameHooks(t *testing.T) {
	vp := lookAt(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, 70, 0.1, 100)
	var calls []string
	var aspects []float32
	cfg := testConfig(randomInstances(5, 2), metadata.CommandLayoutMerged, vp)
	cfg.Hooks = FrameHooks{
		UpdatePerFrameData: func(ctx *FrameContext) error {
			calls = append(calls, "update")
			aspects = append(aspects, ctx.Aspect)
			return nil
		},
		BeginCommands: func(ctx *FrameContext) error {
			calls = append(calls, "begin")
			assert.Equal(t, vp(ctx.Aspect), ctx.ViewProj)
			return nil
		},
		EndCommands: func(ctx *FrameContext) error {
			calls = append(calls, "end")
			return nil
		},
	}
	h := newHarness(t, cfg)
	h.run(t, 2)
	assert.Equal(t, []string{"update", "begin", "end", "update", "begin", "end"}, calls)
	assert.Equal(t, []float32{1, 1}, aspects)

	boom := errors.New("boom")
	cfg.Hooks = FrameHooks{UpdatePerFrameData: func(*FrameContext) error { return boom }}
	h = newHarness(t, cfg)
	err := h.sm.RunFrame()
	assert.True(t, errors.Is(err, boom))
}

func TestStatsReader(t *testing.T) {
	sr, err := NewStatsReader(60, 2)
	require.NoError(t, err)

	assert.False(t, sr.Due(59))
	assert.True(t, sr.Due(120))
	sr.SetCadence(0)
	assert.False(t, sr.Due(120))
	assert.Equal(t, uint64(0), sr.Cadence())

	_, ok := sr.Latest()
	assert.False(t, ok)

	for i := uint64(1); i <= 3; i++ {
		for !sr.Publish(StatsSnapshot{Frame: i, Stats: metadata.CullStats{VisibleCount: uint32(i), TotalCount: 10}}) {
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, sr.Shutdown())
	assert.False(t, sr.Publish(StatsSnapshot{}))

	history := sr.History()
	frames := make([]uint64, 0, len(history))
	for _, s := range history {
		frames = append(frames, s.Frame)
	}
	assert.Equal(t, []uint64{2, 3}, frames)
	latest, ok := sr.Latest()
	require.True(t, ok)
	assert.Equal(t, uint32(3), latest.Stats.VisibleCount)
}

func TestJobSystem(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.Equal(t, ErrNoWorkers, err)
	_, err = NewJobSystem(1, -1)
	assert.Equal(t, ErrNegativeChannelSize, err)

	js, err := NewJobSystem(2, 8)
	require.NoError(t, err)
	results := make(chan int, 8)
	var failed []error
	for i := 0; i < 4; i++ {
		i := i
		require.True(t, js.Submit(Job{Name: "square", Run: func() error {
			results <- i * i
			return nil
		}}))
	}
	require.True(t, js.Submit(Job{
		Name:      "failing",
		Run:       func() error { return errors.New("nope") },
		OnFailure: func(err error) { failed = append(failed, err) },
	}))
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	close(results)

	var got []int
	for r := range results {
		got = append(got, r)
	}
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 4, 9}, got)
	assert.Len(t, failed, 1)
	assert.False(t, js.TrySubmit(Job{Name: "late", Run: func() error { return nil }}))
}

func TestCullGroupSize(t *testing.T) {
	caps := software.DefaultCapabilities()
	assert.Equal(t, uint32(64), CullGroupSize(64, caps))
	assert.Equal(t, uint32(64), CullGroupSize(100, caps))
	assert.Equal(t, uint32(1), CullGroupSize(0, caps))
	assert.Equal(t, uint32(1024), CullGroupSize(4096, caps))
	caps.MaxComputeWorkGroupSize = 96
	assert.Equal(t, uint32(64), CullGroupSize(128, caps))
}

func TestUploadedBufferIsDeviceLocal(t *testing.T) {
	dev := software.NewDevice()
	t.Cleanup(dev.Destroy)
	geo := metadata.NewCube(2)
	g, err := NewGeometryBuffers(dev, geo, testTimeout)
	require.NoError(t, err)
	defer g.Release()

	assert.Equal(t, renderer.MemoryDeviceLocal, g.Vertices().Location())
	assert.Equal(t, uint64(len(geo.Vertices)*metadata.VertexSize), g.Vertices().Size())
	assert.Equal(t, metadata.MeshRange{IndexCount: 36}, g.Mesh())
	assert.InDelta(t, 1.732, g.Radius(), 1e-3)

	_, err = NewGeometryBuffers(dev, &metadata.GeometryConfig{Name: "empty"}, testTimeout)
	assert.True(t, errors.Is(err, renderer.ErrInitialization))
}
