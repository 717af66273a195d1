package systems

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/containers"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

type SlotState uint8

const (
	SlotIdle SlotState = iota
	SlotRecording
	SlotSubmitted
	SlotPresenting
)

func (s SlotState) String() string {
	switch s {
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotPresenting:
		return "presenting"
	}
	return "idle"
}

// FrameContext is what the hooks of one frame see.
type FrameContext struct {
	FrameIndex uint64
	Slot       int
	Commands   renderer.CommandSequence
	Target     renderer.RenderTarget
	Aspect     float32
	// Set after UpdatePerFrameData returns.
	ViewProj mgl32.Mat4
}

// FrameHooks customize a frame. Every hook is optional.
type FrameHooks struct {
	// Runs before recording, once the slot is owned by the host.
	UpdatePerFrameData func(ctx *FrameContext) error
	// Runs right after the command sequence begins, before the cull pass.
	BeginCommands func(ctx *FrameContext) error
	// Runs after the draw pass, before the target moves to the present layout.
	EndCommands func(ctx *FrameContext) error
}

type frameSlot struct {
	commands       renderer.CommandSequence
	imageAvailable renderer.Semaphore
	renderComplete renderer.Semaphore
	fence          renderer.Fence
	state          SlotState
	// Frame last submitted from this slot, valid once used is set.
	frame uint64
	used  bool
}

type FrameSchedulerConfig struct {
	FramesInFlight int
	FenceTimeout   time.Duration
	// ViewProjection returns the camera's projection * view for the target's
	// aspect ratio. It is called after UpdatePerFrameData.
	ViewProjection func(aspect float32) mgl32.Mat4
	Hooks          FrameHooks
}

// FrameScheduler drives acquire, record, submit and present over N frame
// slots addressed by frameIndex % N.
type FrameScheduler struct {
	dev     renderer.Device
	surface renderer.Surface
	cull    *CullStage
	draw    *IndirectDrawStage
	stats   *StatsReader
	metrics *core.Metrics

	timeout  time.Duration
	viewProj func(aspect float32) mgl32.Mat4
	hooks    FrameHooks

	slots      *containers.Arena[frameSlot]
	frameIndex uint64
	last       core.FrameTimings

	rebuild         bool
	rebuildW        uint32
	rebuildH        uint32
	rebuilds        uint64
	skipped         uint64
	readbackPending bool
	scope           *renderer.Scope
}

func NewFrameScheduler(dev renderer.Device, surface renderer.Surface, cfg FrameSchedulerConfig, cull *CullStage, draw *IndirectDrawStage, stats *StatsReader) (*FrameScheduler, error) {
	if cfg.FramesInFlight < 1 {
		return nil, errors.Wrapf(renderer.ErrInitialization, "frame scheduler: %d frames in flight", cfg.FramesInFlight)
	}
	if cfg.FramesInFlight != cull.Slots() {
		return nil, errors.Wrapf(renderer.ErrInitialization, "frame scheduler: %d slots but the cull stage has %d", cfg.FramesInFlight, cull.Slots())
	}
	if cfg.ViewProjection == nil {
		return nil, errors.Wrap(renderer.ErrInitialization, "frame scheduler: no view projection")
	}
	timeout := cfg.FenceTimeout
	if timeout <= 0 {
		timeout = renderer.DefaultFenceTimeout
	}

	fs := &FrameScheduler{
		dev:      dev,
		surface:  surface,
		cull:     cull,
		draw:     draw,
		stats:    stats,
		metrics:  core.NewMetrics(),
		timeout:  timeout,
		viewProj: cfg.ViewProjection,
		hooks:    cfg.Hooks,
		scope:    renderer.NewScope(),
	}
	slots, err := containers.NewArena(cfg.FramesInFlight, fs.buildSlot)
	if err != nil {
		fs.scope.Release()
		return nil, err
	}
	fs.slots = slots
	return fs, nil
}

func (fs *FrameScheduler) buildSlot(i int) (frameSlot, error) {
	var s frameSlot
	wrap := func(err error) error { return errors.Wrapf(err, "frame slot %d", i) }

	cmd, err := fs.dev.CreateCommandSequence()
	if err := fs.scope.Add(cmd, err); err != nil {
		return s, wrap(err)
	}
	available, err := fs.dev.CreateSemaphore()
	if err := fs.scope.Add(available, err); err != nil {
		return s, wrap(err)
	}
	complete, err := fs.dev.CreateSemaphore()
	if err := fs.scope.Add(complete, err); err != nil {
		return s, wrap(err)
	}
	// Signaled so the first wait on every slot returns at once.
	fence, err := fs.dev.CreateFence(true)
	if err := fs.scope.Add(fence, err); err != nil {
		return s, wrap(err)
	}
	return frameSlot{
		commands:       cmd,
		imageAvailable: available,
		renderComplete: complete,
		fence:          fence,
	}, nil
}

// RunFrame renders one frame. A frame skipped because the surface is out of
// date returns nil and schedules a rebuild; every returned error is fatal.
func (fs *FrameScheduler) RunFrame() error {
	var timings core.FrameTimings
	start := time.Now()
	idx := fs.frameIndex
	slotIndex := fs.slots.Index(idx)
	slot := fs.slots.At(idx)

	// Idle -> Recording: the slot's previous work must be done before any of
	// its buffers is touched.
	t := time.Now()
	if err := slot.fence.Wait(fs.timeout); err != nil {
		return errors.Wrapf(err, "frame %d: slot %d fence", idx, slotIndex)
	}
	timings.WaitFence = time.Since(t)

	if fs.rebuild {
		if err := fs.rebuildSurface(); err != nil {
			return err
		}
	}

	t = time.Now()
	target, err := fs.surface.Acquire(slot.imageAvailable, fs.timeout)
	timings.AcquireImage = time.Since(t)
	switch {
	case errors.Is(err, renderer.ErrSurfaceOutOfDate):
		fs.RequestRebuild(0, 0)
		fs.skipped++
		core.LogDebug("frame %d skipped: %s", idx, err)
		return nil
	case errors.Is(err, renderer.ErrSurfaceSuboptimal):
		fs.RequestRebuild(0, 0)
	case err != nil:
		return errors.Wrapf(err, "frame %d: acquire", idx)
	}
	if err := slot.fence.Reset(); err != nil {
		return errors.Wrapf(err, "frame %d: slot %d fence reset", idx, slotIndex)
	}
	slot.state = SlotRecording

	fs.readStats(idx, slot)

	t = time.Now()
	ctx := &FrameContext{
		FrameIndex: idx,
		Slot:       slotIndex,
		Commands:   slot.commands,
		Target:     target,
	}
	w, h := target.Extent()
	ctx.Aspect = float32(w) / float32(max(h, 1))
	if err := fs.record(ctx, slot); err != nil {
		return errors.Wrapf(err, "frame %d: record", idx)
	}
	timings.RecordCommands = time.Since(t)

	t = time.Now()
	err = fs.dev.Submit(renderer.SubmitInfo{
		Commands:  slot.commands,
		Wait:      slot.imageAvailable,
		WaitStage: renderer.StageColorAttachmentOutput,
		Signal:    slot.renderComplete,
		Fence:     slot.fence,
	})
	if err != nil {
		if !errors.Is(err, renderer.ErrDeviceLost) {
			err = errors.Wrap(renderer.ErrDeviceLost, err.Error())
		}
		return errors.Wrapf(err, "frame %d: submit", idx)
	}
	timings.Submit = time.Since(t)
	slot.state = SlotSubmitted
	slot.frame = idx
	slot.used = true

	t = time.Now()
	err = fs.surface.Present(target, slot.renderComplete)
	timings.Present = time.Since(t)
	slot.state = SlotPresenting
	switch {
	case renderer.IsRecoverable(err):
		fs.RequestRebuild(0, 0)
	case err != nil:
		return errors.Wrapf(err, "frame %d: present", idx)
	}

	slot.state = SlotIdle
	fs.frameIndex++
	timings.Total = time.Since(start)
	fs.last = timings
	fs.metrics.Update(timings)
	return nil
}

func (fs *FrameScheduler) record(ctx *FrameContext, slot *frameSlot) error {
	if fs.hooks.UpdatePerFrameData != nil {
		if err := fs.hooks.UpdatePerFrameData(ctx); err != nil {
			return errors.Wrap(err, "update per frame data")
		}
	}
	ctx.ViewProj = fs.viewProj(ctx.Aspect)

	cmd := slot.commands
	if err := cmd.Reset(); err != nil {
		return err
	}
	if err := cmd.Begin(); err != nil {
		return err
	}
	if fs.hooks.BeginCommands != nil {
		if err := fs.hooks.BeginCommands(ctx); err != nil {
			return errors.Wrap(err, "begin commands")
		}
	}

	if err := fs.cull.Record(cmd, ctx.FrameIndex, metadata.NewCullUniform(ctx.ViewProj)); err != nil {
		return err
	}
	cmd.PipelineBarrier(CullToDrawBarrier)
	cmd.PipelineBarrier(CullToHostBarrier)

	cmd.TransitionImage(ctx.Target, renderer.LayoutUndefined, renderer.LayoutColorAttachment)
	fs.draw.Record(cmd, ctx.FrameIndex, ctx.Target, ctx.ViewProj)
	if fs.hooks.EndCommands != nil {
		if err := fs.hooks.EndCommands(ctx); err != nil {
			return errors.Wrap(err, "end commands")
		}
	}
	cmd.TransitionImage(ctx.Target, renderer.LayoutColorAttachment, renderer.LayoutPresentSrc)
	return cmd.End()
}

// readStats hands the counters of the slot's previous frame to the stats
// reader. The slot's fence has signaled, so reading cannot stall.
func (fs *FrameScheduler) readStats(idx uint64, slot *frameSlot) {
	if fs.stats == nil || !slot.used {
		return
	}
	if !fs.stats.Due(idx) && !fs.readbackPending {
		return
	}
	fs.readbackPending = false
	stats, err := fs.cull.ReadStats(idx)
	if err != nil {
		core.LogWarn("cull stats readback: %s", err)
		return
	}
	fs.stats.Publish(StatsSnapshot{Frame: slot.frame, Stats: stats, Timings: fs.metrics.Average()})
}

// RequestReadback reads the stats on the next frame regardless of cadence.
func (fs *FrameScheduler) RequestReadback() {
	fs.readbackPending = true
}

// RequestRebuild schedules a surface rebuild before the next acquire. Zero
// dimensions keep the last requested or current size.
func (fs *FrameScheduler) RequestRebuild(width, height uint32) {
	fs.rebuild = true
	if width != 0 && height != 0 {
		fs.rebuildW, fs.rebuildH = width, height
	}
}

func (fs *FrameScheduler) rebuildSurface() error {
	if err := fs.dev.WaitIdle(fs.timeout); err != nil {
		return errors.Wrap(err, "surface rebuild")
	}
	if err := fs.surface.Rebuild(fs.rebuildW, fs.rebuildH); err != nil {
		return errors.Wrap(err, "surface rebuild")
	}
	fs.rebuild = false
	fs.rebuildW, fs.rebuildH = 0, 0
	fs.rebuilds++
	w, h := fs.surface.Extent()
	core.LogInfo("surface rebuilt at %dx%d", w, h)
	return nil
}

// WaitIdle blocks until every submitted frame has completed.
func (fs *FrameScheduler) WaitIdle() error {
	return fs.dev.WaitIdle(fs.timeout)
}

func (fs *FrameScheduler) FrameIndex() uint64             { return fs.frameIndex }
func (fs *FrameScheduler) Rebuilds() uint64               { return fs.rebuilds }
func (fs *FrameScheduler) Skipped() uint64                { return fs.skipped }
func (fs *FrameScheduler) LastTimings() core.FrameTimings { return fs.last }
func (fs *FrameScheduler) Metrics() *core.Metrics         { return fs.metrics }

// SlotState reports the state of slot i.
func (fs *FrameScheduler) SlotState(i int) SlotState {
	return fs.slots.Slot(i).state
}

func (fs *FrameScheduler) String() string {
	return fmt.Sprintf("frame %d, %d slots, %d rebuilds, %d skipped", fs.frameIndex, fs.slots.Len(), fs.rebuilds, fs.skipped)
}

func (fs *FrameScheduler) Release() {
	fs.scope.Release()
}
