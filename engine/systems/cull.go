package systems

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/containers"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/math"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// Cull bindings, matching shaders/cull.comp.
const (
	cullBindingUniform uint32 = iota
	cullBindingInstances
	cullBindingCommands
	cullBindingStats
	cullBindingVisibility
)

type CullStageConfig struct {
	Layout         metadata.CommandLayout
	GroupSize      uint32
	Shader         []byte
	FramesInFlight int
	FenceTimeout   time.Duration
}

// cullSlot is the per-frame state of the cull pass. It is owned by the
// host between the slot's fence wait and its submission, by the device
// otherwise.
type cullSlot struct {
	uniform    renderer.Buffer
	stats      renderer.Buffer
	commands   renderer.Buffer
	visibility renderer.Buffer
	set        renderer.BindingSet
}

// CullStage tests every instance against the frustum on the device and
// produces the indirect draw commands consumed by IndirectDrawStage.
type CullStage struct {
	dev       renderer.Device
	layout    metadata.CommandLayout
	groupSize uint32
	timeout   time.Duration
	instances *InstanceStore
	geometry  *GeometryBuffers
	pipeline  renderer.Pipeline
	slots     *containers.Arena[cullSlot]
	scope     *renderer.Scope
}

// CullGroupSize picks the workgroup size for a requested size: the largest
// power of two not above the request and the device limit.
func CullGroupSize(requested uint32, caps renderer.Capabilities) uint32 {
	limit := caps.MaxComputeWorkGroupSize
	if limit == 0 {
		limit = 1
	}
	return math.FloorPowerOfTwo(math.Clamp(requested, 1, limit))
}

// checkLayoutSupport rejects a command layout the device cannot draw.
func checkLayoutSupport(layout metadata.CommandLayout, instances uint32, caps renderer.Capabilities) error {
	if layout != metadata.CommandLayoutPerInstance {
		return nil
	}
	if !caps.MultiDrawIndirect {
		return errors.Wrapf(renderer.ErrMissingCapability, "%s layout needs multiDrawIndirect on %s", layout, caps.DeviceName)
	}
	if !caps.DrawIndirectFirstInstance {
		return errors.Wrapf(renderer.ErrMissingCapability, "%s layout needs drawIndirectFirstInstance on %s", layout, caps.DeviceName)
	}
	if caps.MaxDrawIndirectCount > 0 && instances > caps.MaxDrawIndirectCount {
		return errors.Wrapf(renderer.ErrMissingCapability, "%d draw commands exceed maxDrawIndirectCount %d", instances, caps.MaxDrawIndirectCount)
	}
	return nil
}

func NewCullStage(dev renderer.Device, cfg CullStageConfig, instances *InstanceStore, geometry *GeometryBuffers) (*CullStage, error) {
	if cfg.FramesInFlight < 1 {
		return nil, errors.Wrapf(renderer.ErrInitialization, "cull stage: %d frames in flight", cfg.FramesInFlight)
	}
	caps := dev.Capabilities()
	n := instances.Count()
	if err := checkLayoutSupport(cfg.Layout, n, caps); err != nil {
		return nil, err
	}

	cs := &CullStage{
		dev:       dev,
		layout:    cfg.Layout,
		groupSize: CullGroupSize(cfg.GroupSize, caps),
		timeout:   cfg.FenceTimeout,
		instances: instances,
		geometry:  geometry,
		scope:     renderer.NewScope(),
	}
	if cs.groupSize != cfg.GroupSize {
		core.LogWarn("cull workgroup size %d adjusted to %d", cfg.GroupSize, cs.groupSize)
	}

	commandsAccess := renderer.BindingReadWrite
	if cfg.Layout == metadata.CommandLayoutPerInstance {
		commandsAccess = renderer.BindingWriteOnly
	}
	pipeline, err := dev.CreateComputePipeline(renderer.ComputePipelineDesc{
		Name:       metadata.CullPipelineName,
		Shader:     cfg.Shader,
		EntryPoint: "main",
		GroupSize:  cs.groupSize,
		Bindings: []renderer.BindingLayout{
			{Binding: cullBindingUniform, Type: renderer.BindingUniformBuffer, Stages: renderer.ShaderStageCompute, Access: renderer.BindingReadOnly},
			{Binding: cullBindingInstances, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageCompute, Access: renderer.BindingReadOnly},
			{Binding: cullBindingCommands, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageCompute, Access: commandsAccess},
			{Binding: cullBindingStats, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageCompute, Access: renderer.BindingReadWrite},
			{Binding: cullBindingVisibility, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageCompute, Access: renderer.BindingWriteOnly},
		},
		PushConstants: []renderer.PushConstantRange{
			{Stages: renderer.ShaderStageCompute, Offset: 0, Size: metadata.CullPushConstantsSize},
		},
	})
	if err := cs.scope.Add(pipeline, err); err != nil {
		cs.scope.Release()
		return nil, errors.Wrap(err, "cull pipeline")
	}
	cs.pipeline = pipeline

	slots, err := containers.NewArena(cfg.FramesInFlight, cs.buildSlot)
	if err != nil {
		cs.scope.Release()
		return nil, err
	}
	cs.slots = slots

	core.LogInfo("cull stage: %d instances, %s layout, workgroup %d, %d slots", n, cs.layout, cs.groupSize, slots.Len())
	return cs, nil
}

func (cs *CullStage) buildSlot(i int) (cullSlot, error) {
	var s cullSlot
	n := cs.instances.Count()
	name := func(kind string) string { return fmt.Sprintf("cull.%s[%d]", kind, i) }

	uniform, err := cs.dev.CreateBuffer(renderer.BufferDesc{
		Name:     name("uniform"),
		Size:     metadata.CullUniformSize,
		Usage:    renderer.BufferUsageUniform,
		Location: renderer.MemoryHostVisible,
	})
	if err := cs.scope.Add(uniform, err); err != nil {
		return s, errors.Wrap(err, "cull slot")
	}
	s.uniform = uniform

	stats, err := cs.dev.CreateBuffer(renderer.BufferDesc{
		Name:     name("stats"),
		Size:     metadata.CullStatsSize,
		Usage:    renderer.BufferUsageStorage | renderer.BufferUsageTransferDst,
		Location: renderer.MemoryHostVisible,
	})
	if err := cs.scope.Add(stats, err); err != nil {
		return s, errors.Wrap(err, "cull slot")
	}
	s.stats = stats
	// The only host write of the counters; every frame clears them on the device.
	if err := stats.Write(0, metadata.CullStats{TotalCount: n}.Bytes()); err != nil {
		return s, errors.Wrap(err, "cull slot")
	}

	initial := metadata.InitialDrawCommands(cs.layout, cs.geometry.Mesh(), n)
	commands, err := UploadBuffer(cs.dev, renderer.BufferDesc{
		Name:  name("commands"),
		Size:  metadata.DrawCommandSize,
		Usage: renderer.BufferUsageStorage | renderer.BufferUsageIndirect | renderer.BufferUsageTransferSrc,
	}, metadata.EncodeDrawCommands(initial), cs.timeout)
	if err := cs.scope.Add(commands, err); err != nil {
		return s, errors.Wrap(err, "cull slot")
	}
	s.commands = commands

	visibility, err := cs.dev.CreateBuffer(renderer.BufferDesc{
		Name:     name("visibility"),
		Size:     uint64(max(n, 1)) * metadata.VisibilityEntrySize,
		Usage:    renderer.BufferUsageStorage | renderer.BufferUsageTransferSrc,
		Location: renderer.MemoryDeviceLocal,
	})
	if err := cs.scope.Add(visibility, err); err != nil {
		return s, errors.Wrap(err, "cull slot")
	}
	s.visibility = visibility

	set, err := cs.dev.CreateBindingSet(cs.pipeline, []renderer.Binding{
		{Binding: cullBindingUniform, Buffer: uniform},
		{Binding: cullBindingInstances, Buffer: cs.instances.Buffer()},
		{Binding: cullBindingCommands, Buffer: commands},
		{Binding: cullBindingStats, Buffer: stats},
		{Binding: cullBindingVisibility, Buffer: visibility},
	})
	if err := cs.scope.Add(set, err); err != nil {
		return s, errors.Wrap(err, "cull slot")
	}
	s.set = set
	return s, nil
}

// Record writes the slot's uniform and records the counter reset and the
// cull dispatch. The slot's fence must have been waited on.
func (cs *CullStage) Record(cmd renderer.CommandSequence, frameIndex uint64, uniform metadata.CullUniform) error {
	slot := cs.slots.At(frameIndex)
	if err := slot.uniform.Write(0, uniform.Bytes()); err != nil {
		return errors.Wrap(err, "cull uniform")
	}

	cmd.FillBuffer(slot.stats, metadata.CullStatsVisibleOffset, metadata.CullStatsTotalOffset, 0)
	if cs.layout == metadata.CommandLayoutMerged {
		cmd.FillBuffer(slot.commands, metadata.DrawCommandInstanceCountOffset, 4, 0)
	}
	cmd.PipelineBarrier(CounterResetBarrier)

	push := metadata.CullPushConstants{
		InstanceCount: cs.instances.Count(),
		Layout:        cs.layout,
		MeshRadius:    cs.geometry.Radius(),
	}
	cmd.BindPipeline(cs.pipeline)
	cmd.BindSet(cs.pipeline, slot.set)
	cmd.PushConstants(cs.pipeline, renderer.ShaderStageCompute, 0, push.Bytes())
	cmd.Dispatch(cs.GroupCount(), 1, 1)
	return nil
}

// GroupCount is the number of workgroups dispatched per frame.
func (cs *CullStage) GroupCount() uint32 {
	return math.DivCeil(cs.instances.Count(), cs.groupSize)
}

// ReadStats returns the counters last written through the slot of
// frameIndex. Only valid once that slot's fence has signaled.
func (cs *CullStage) ReadStats(frameIndex uint64) (metadata.CullStats, error) {
	b, err := cs.slots.At(frameIndex).stats.Read(0, metadata.CullStatsSize)
	if err != nil {
		return metadata.CullStats{}, errors.Wrap(err, "cull stats")
	}
	return metadata.DecodeCullStats(b)
}

// ReadCommands copies the slot's draw commands back to the host. The device
// must be idle.
func (cs *CullStage) ReadCommands(frameIndex uint64) ([]metadata.DrawCommand, error) {
	size := uint64(cs.CommandCount()) * metadata.DrawCommandSize
	b, err := ReadBuffer(cs.dev, cs.slots.At(frameIndex).commands, 0, size, cs.timeout)
	if err != nil {
		return nil, err
	}
	return metadata.DecodeDrawCommands(b)
}

// ReadVisibility returns the compacted visible instance indices of the
// slot's last merged cull, in unspecified order. The device must be idle.
func (cs *CullStage) ReadVisibility(frameIndex uint64, count uint32) ([]uint32, error) {
	if count > cs.instances.Count() {
		return nil, errors.Wrapf(renderer.ErrInvalidUsage, "%d visible of %d instances", count, cs.instances.Count())
	}
	b, err := ReadBuffer(cs.dev, cs.slots.At(frameIndex).visibility, 0, uint64(count)*metadata.VisibilityEntrySize, cs.timeout)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out, nil
}

func (cs *CullStage) Commands(frameIndex uint64) renderer.Buffer {
	return cs.slots.At(frameIndex).commands
}

func (cs *CullStage) Visibility(frameIndex uint64) renderer.Buffer {
	return cs.slots.At(frameIndex).visibility
}

// CommandCount is the drawCount of the indirect draw.
func (cs *CullStage) CommandCount() uint32 {
	return cs.layout.CommandCount(cs.instances.Count())
}

func (cs *CullStage) Layout() metadata.CommandLayout { return cs.layout }
func (cs *CullStage) GroupSize() uint32              { return cs.groupSize }
func (cs *CullStage) Slots() int                     { return cs.slots.Len() }

func (cs *CullStage) Release() {
	cs.scope.Release()
}
