package software

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := NewDevice(opts...)
	t.Cleanup(d.Destroy)
	return d
}

func mustBuffer(t *testing.T, d *Device, name string, size uint64, usage renderer.BufferUsage, loc renderer.MemoryLocation) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(renderer.BufferDesc{Name: name, Size: size, Usage: usage, Location: loc})
	require.NoError(t, err)
	return b.(*Buffer)
}

func submitAndWait(t *testing.T, d *Device, record func(cs renderer.CommandSequence)) {
	t.Helper()
	cs, err := d.CreateCommandSequence()
	require.NoError(t, err)
	require.NoError(t, cs.Begin())
	record(cs)
	require.NoError(t, cs.End())
	fence, err := d.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, d.Submit(renderer.SubmitInfo{Commands: cs, Fence: fence}))
	require.NoError(t, fence.Wait(testTimeout))
}

func hazardKinds(d *Device) []HazardKind {
	var out []HazardKind
	for _, h := range d.Hazards() {
		out = append(out, h.Kind)
	}
	return out
}

func TestHostAccessRules(t *testing.T) {
	d := newTestDevice(t)
	local := mustBuffer(t, d, "local", 16, renderer.BufferUsageStorage, renderer.MemoryDeviceLocal)

	_, err := local.Read(0, 4)
	assert.True(t, errors.Is(err, renderer.ErrNotHostVisible))
	assert.True(t, errors.Is(local.Write(0, make([]byte, 4)), renderer.ErrNotHostVisible))

	host := mustBuffer(t, d, "host", 16, renderer.BufferUsageUniform, renderer.MemoryHostVisible)
	assert.True(t, errors.Is(host.Write(2, make([]byte, 4)), renderer.ErrInvalidUsage))
	assert.True(t, errors.Is(host.Write(0, make([]byte, 20)), renderer.ErrInvalidUsage))

	require.NoError(t, host.Write(4, []byte{1, 0, 0, 0}))
	got, err := host.Read(4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, got)

	host.Release()
	_, err = host.Read(0, 4)
	assert.True(t, errors.Is(err, renderer.ErrResourceReleased))
}

func TestMemoryBudget(t *testing.T) {
	d := newTestDevice(t, WithMemoryBudget(64))
	_, err := d.CreateBuffer(renderer.BufferDesc{Name: "a", Size: 48, Usage: renderer.BufferUsageStorage})
	require.NoError(t, err)
	_, err = d.CreateBuffer(renderer.BufferDesc{Name: "b", Size: 32, Usage: renderer.BufferUsageStorage})
	assert.True(t, errors.Is(err, renderer.ErrOutOfDeviceMemory))
}

func TestCopyThenHostReadNeedsBarrier(t *testing.T) {
	d := newTestDevice(t)
	src := mustBuffer(t, d, "src", 8, renderer.BufferUsageTransferSrc, renderer.MemoryHostVisible)
	dst := mustBuffer(t, d, "dst", 8, renderer.BufferUsageTransferDst, renderer.MemoryHostVisible)
	require.NoError(t, src.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	submitAndWait(t, d, func(cs renderer.CommandSequence) {
		cs.CopyBuffer(src, dst, 0, 0, 8)
	})
	_, err := dst.Read(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []HazardKind{HazardMissingBarrier}, hazardKinds(d))

	d2 := newTestDevice(t)
	src2 := mustBuffer(t, d2, "src", 8, renderer.BufferUsageTransferSrc, renderer.MemoryHostVisible)
	dst2 := mustBuffer(t, d2, "dst", 8, renderer.BufferUsageTransferDst, renderer.MemoryHostVisible)
	require.NoError(t, src2.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	submitAndWait(t, d2, func(cs renderer.CommandSequence) {
		cs.CopyBuffer(src2, dst2, 0, 0, 8)
		cs.PipelineBarrier(renderer.MemoryBarrier{
			SrcStage: renderer.StageTransfer, SrcAccess: renderer.AccessTransferWrite,
			DstStage: renderer.StageHost, DstAccess: renderer.AccessHostRead,
		})
	})
	got, err := dst2.Read(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got)
	assert.Empty(t, d2.Hazards())
}

func TestHostWriteWhileInFlight(t *testing.T) {
	d := newTestDevice(t, WithLatency(50*time.Millisecond))
	buf := mustBuffer(t, d, "stats", 12, renderer.BufferUsageTransferDst, renderer.MemoryHostVisible)

	cs, err := d.CreateCommandSequence()
	require.NoError(t, err)
	require.NoError(t, cs.Begin())
	cs.FillBuffer(buf, 0, 12, 0)
	require.NoError(t, cs.End())
	fence, err := d.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, d.Submit(renderer.SubmitInfo{Commands: cs, Fence: fence}))

	require.NoError(t, buf.Write(0, make([]byte, 4)))
	assert.True(t, errors.Is(cs.Reset(), renderer.ErrInvalidUsage))
	require.NoError(t, fence.Wait(testTimeout))

	assert.Equal(t, []HazardKind{HazardHostWriteInFlight, HazardCommandSequenceInUse}, hazardKinds(d))
	require.NoError(t, cs.Reset())
}

func TestFenceLifecycle(t *testing.T) {
	d := newTestDevice(t)
	f, err := d.CreateFence(true)
	require.NoError(t, err)
	assert.True(t, f.Signaled())
	require.NoError(t, f.Wait(time.Millisecond))

	cs, _ := d.CreateCommandSequence()
	require.NoError(t, cs.Begin())
	require.NoError(t, cs.End())
	err = d.Submit(renderer.SubmitInfo{Commands: cs, Fence: f})
	assert.True(t, errors.Is(err, renderer.ErrInvalidUsage), "signaled fence must be reset before submit")

	require.NoError(t, f.Reset())
	assert.False(t, f.Signaled())
	require.NoError(t, d.Submit(renderer.SubmitInfo{Commands: cs, Fence: f}))
	require.NoError(t, f.Wait(testTimeout))
	assert.True(t, f.Signaled())
}

func TestHangBecomesDeviceLost(t *testing.T) {
	d := newTestDevice(t)
	d.SimulateHang()

	cs, _ := d.CreateCommandSequence()
	require.NoError(t, cs.Begin())
	require.NoError(t, cs.End())
	f, _ := d.CreateFence(false)
	require.NoError(t, d.Submit(renderer.SubmitInfo{Commands: cs, Fence: f}))

	err := f.Wait(20 * time.Millisecond)
	assert.True(t, errors.Is(err, renderer.ErrDeviceLost))
	assert.True(t, renderer.IsFatal(err))
	assert.True(t, errors.Is(d.WaitIdle(20*time.Millisecond), renderer.ErrDeviceLost))
}

func TestKernelFaultLosesDevice(t *testing.T) {
	faulty := func(state *DispatchState) (func(uint32), error) {
		v, err := state.Buffer(0)
		if err != nil {
			return nil, err
		}
		return func(id uint32) { v.Store(uint64(id)+1000, id) }, nil
	}
	d := newTestDevice(t, WithKernel("faulty", faulty))
	buf := mustBuffer(t, d, "out", 16, renderer.BufferUsageStorage, renderer.MemoryDeviceLocal)
	p, err := d.CreateComputePipeline(renderer.ComputePipelineDesc{
		Name:      "faulty",
		GroupSize: 4,
		Bindings:  []renderer.BindingLayout{{Binding: 0, Type: renderer.BindingStorageBuffer, Stages: renderer.ShaderStageCompute, Access: renderer.BindingWriteOnly}},
	})
	require.NoError(t, err)
	set, err := d.CreateBindingSet(p, []renderer.Binding{{Binding: 0, Buffer: buf}})
	require.NoError(t, err)

	cs, _ := d.CreateCommandSequence()
	require.NoError(t, cs.Begin())
	cs.BindPipeline(p)
	cs.BindSet(p, set)
	cs.Dispatch(1, 1, 1)
	require.NoError(t, cs.End())
	f, _ := d.CreateFence(false)
	require.NoError(t, d.Submit(renderer.SubmitInfo{Commands: cs, Fence: f}))

	err = f.Wait(testTimeout)
	assert.True(t, errors.Is(err, renderer.ErrDeviceLost))
	assert.True(t, errors.Is(d.Submit(renderer.SubmitInfo{Commands: cs}), renderer.ErrDeviceLost))
}

func TestRecordingErrorsSurfaceAtEnd(t *testing.T) {
	d := newTestDevice(t)
	cs, _ := d.CreateCommandSequence()
	require.NoError(t, cs.Begin())
	cs.Dispatch(1, 1, 1)
	assert.True(t, errors.Is(cs.End(), renderer.ErrInvalidUsage))

	noIndirect := mustBuffer(t, d, "plain", 20, renderer.BufferUsageStorage, renderer.MemoryDeviceLocal)
	surface := NewSurface(d, 4, 4, 2)
	require.NoError(t, cs.Begin())
	sem, _ := d.CreateSemaphore()
	target, err := surface.Acquire(sem, testTimeout)
	require.NoError(t, err)
	cs.BeginRenderPass(target, mgl32.Vec4{})
	cs.DrawIndexedIndirect(noIndirect, 0, 1, metadata.DrawCommandSize)
	cs.EndRenderPass()
	assert.Error(t, cs.End())
}

func TestSurfaceLayoutAndRecovery(t *testing.T) {
	d := newTestDevice(t)
	s := NewSurface(d, 64, 32, 2)
	sem, _ := d.CreateSemaphore()
	done, _ := d.CreateSemaphore()

	target, err := s.Acquire(sem, testTimeout)
	require.NoError(t, err)

	cs, _ := d.CreateCommandSequence()
	require.NoError(t, cs.Begin())
	cs.TransitionImage(target, renderer.LayoutUndefined, renderer.LayoutColorAttachment)
	cs.BeginRenderPass(target, mgl32.Vec4{0.1, 0.2, 0.3, 1})
	cs.EndRenderPass()
	// Left in color-attachment layout on purpose.
	require.NoError(t, cs.End())
	f, _ := d.CreateFence(false)
	require.NoError(t, d.Submit(renderer.SubmitInfo{Commands: cs, Wait: sem, WaitStage: renderer.StageColorAttachmentOutput, Signal: done, Fence: f}))
	require.NoError(t, s.Present(target, done))
	require.NoError(t, d.WaitIdle(testTimeout))

	assert.Equal(t, []HazardKind{HazardImageLayout}, hazardKinds(d))
	assert.Equal(t, uint64(1), s.Presented())
	assert.Equal(t, mgl32.Vec4{0.1, 0.2, 0.3, 1}, s.ClearColor(target.Index()))

	s.Resize(128, 64)
	_, err = s.Acquire(sem, testTimeout)
	assert.True(t, errors.Is(err, renderer.ErrSurfaceOutOfDate))
	require.NoError(t, s.Rebuild(0, 0))
	w, h := s.Extent()
	assert.Equal(t, []uint32{128, 64}, []uint32{w, h})

	s.ForceSuboptimal()
	target, err = s.Acquire(sem, testTimeout)
	assert.True(t, errors.Is(err, renderer.ErrSurfaceSuboptimal))
	assert.NotNil(t, target)
}
