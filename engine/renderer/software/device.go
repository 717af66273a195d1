package software

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/containers"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

const (
	queueDepth   = 64
	drawLogDepth = 32
)

// Device is a CPU implementation of renderer.Device. Submissions execute in
// order on a dedicated queue goroutine, asynchronously to the caller, and
// every access is checked against the synchronization the caller recorded.
type Device struct {
	caps          renderer.Capabilities
	latency       time.Duration
	kernels       map[string]Kernel
	vertexKernels map[string]VertexKernel
	parallel      int

	queue chan queueOp
	quit  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	buffers   map[uint64]*Buffer
	allocated uint64
	hazards   []Hazard
	draws     *containers.RingQueue[DrawRecord]
	drawCount uint64

	nextHandle atomic.Uint64
	submitted  atomic.Uint64
	completed  atomic.Uint64
	hung       atomic.Bool
	lost       atomic.Pointer[error]
	destroyed  atomic.Bool
}

type Option func(*Device)

// WithLatency delays the execution of every submission.
func WithLatency(d time.Duration) Option {
	return func(dev *Device) { dev.latency = d }
}

func WithCapabilities(caps renderer.Capabilities) Option {
	return func(dev *Device) { dev.caps = caps }
}

// WithMemoryBudget makes buffer creation fail once size bytes are allocated.
func WithMemoryBudget(size uint64) Option {
	return func(dev *Device) { dev.caps.MemoryBudget = size }
}

// WithKernel registers the CPU kernel run for compute pipelines named name.
func WithKernel(name string, k Kernel) Option {
	return func(dev *Device) { dev.kernels[name] = k }
}

// WithVertexKernel registers the vertex stage emulation of graphics
// pipelines named name.
func WithVertexKernel(name string, k VertexKernel) Option {
	return func(dev *Device) { dev.vertexKernels[name] = k }
}

// WithParallelism bounds the number of workgroups executed concurrently.
func WithParallelism(n int) Option {
	return func(dev *Device) {
		if n > 0 {
			dev.parallel = n
		}
	}
}

func DefaultCapabilities() renderer.Capabilities {
	return renderer.Capabilities{
		DeviceName:                "software",
		MultiDrawIndirect:         true,
		DrawIndirectFirstInstance: true,
		MaxComputeWorkGroupSize:   1024,
		MaxDrawIndirectCount:      1 << 30,
		MaxPushConstantsSize:      128,
	}
}

func NewDevice(opts ...Option) *Device {
	d := &Device{
		caps:          DefaultCapabilities(),
		kernels:       map[string]Kernel{metadata.CullPipelineName: CullKernel},
		vertexKernels: map[string]VertexKernel{metadata.MeshPipelineName: MeshVertexKernel},
		parallel:      runtime.GOMAXPROCS(0),
		queue:         make(chan queueOp, queueDepth),
		quit:          make(chan struct{}),
		buffers:       make(map[uint64]*Buffer),
		draws:         containers.NewRingQueue[DrawRecord](drawLogDepth),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	core.LogDebug("software device created (latency %s, %d workers)", d.latency, d.parallel)
	return d
}

func (d *Device) Capabilities() renderer.Capabilities {
	return d.caps
}

func (d *Device) CreateBuffer(desc renderer.BufferDesc) (renderer.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	size := metadata.GetAligned(desc.Size, 4)
	if size == 0 {
		size = 4
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caps.MemoryBudget > 0 && d.allocated+size > d.caps.MemoryBudget {
		return nil, errors.Wrapf(renderer.ErrOutOfDeviceMemory, "buffer %q needs %d bytes, %d of %d in use",
			desc.Name, size, d.allocated, d.caps.MemoryBudget)
	}
	b := &Buffer{
		dev:    d,
		desc:   desc,
		handle: d.nextHandle.Add(1) << 16,
		words:  make([]uint32, size/4),
	}
	b.desc.Size = desc.Size
	d.allocated += size
	d.buffers[b.handle] = b
	return b, nil
}

func (d *Device) releaseBuffer(b *Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[b.handle]; ok {
		delete(d.buffers, b.handle)
		d.allocated -= uint64(len(b.words)) * 4
	}
}

// resolve maps a device address back to its buffer.
func (d *Device) resolve(handle uint64) (*Buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[handle]
	return b, ok
}

func (d *Device) CreateTexture(data *metadata.TextureData, sampler metadata.SamplerConfig) (renderer.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if data == nil || data.Width == 0 || data.Height == 0 {
		return nil, errors.Wrap(renderer.ErrInvalidUsage, "texture has no pixels")
	}
	if uint64(len(data.Pixels)) < data.Size() {
		return nil, errors.Wrapf(renderer.ErrInvalidUsage, "texture %q has %d bytes, expected %d", data.Name, len(data.Pixels), data.Size())
	}
	pixels := make([]uint8, len(data.Pixels))
	copy(pixels, data.Pixels)
	return &Texture{width: data.Width, height: data.Height, pixels: pixels, sampler: sampler}, nil
}

func (d *Device) CreateFence(signaled bool) (renderer.Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return newFence(d, signaled), nil
}

func (d *Device) CreateSemaphore() (renderer.Semaphore, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, ch: make(chan struct{}, 1)}, nil
}

func (d *Device) CreateCommandSequence() (renderer.CommandSequence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &CommandSequence{dev: d}, nil
}

func (d *Device) Submit(info renderer.SubmitInfo) error {
	if err := d.check(); err != nil {
		return err
	}
	cs, ok := info.Commands.(*CommandSequence)
	if !ok {
		return errors.Wrap(renderer.ErrInvalidUsage, "foreign command sequence")
	}
	var fence *Fence
	if info.Fence != nil {
		if fence, ok = info.Fence.(*Fence); !ok {
			return errors.Wrap(renderer.ErrInvalidUsage, "foreign fence")
		}
		if err := fence.arm(); err != nil {
			return err
		}
	}
	wait, _ := info.Wait.(*Semaphore)
	signal, _ := info.Signal.(*Semaphore)

	if err := cs.markPending(); err != nil {
		if fence != nil {
			fence.disarm()
		}
		return err
	}
	for b := range cs.refs {
		b.inflight.Add(1)
	}

	id := d.submitted.Add(1)
	d.enqueue(queueOp{id: id, commands: cs, wait: wait, signal: signal, fence: fence})
	return nil
}

func (d *Device) WaitIdle(timeout time.Duration) error {
	if d.destroyed.Load() {
		return nil
	}
	f := newFence(d, false)
	if err := f.arm(); err != nil {
		return err
	}
	d.enqueue(queueOp{fence: f})
	return f.Wait(timeout)
}

// SimulateHang stops the queue from making progress until the device is
// destroyed, which makes every subsequent fence wait time out.
func (d *Device) SimulateHang() {
	d.hung.Store(true)
}

func (d *Device) Destroy() {
	if d.destroyed.Swap(true) {
		return
	}
	close(d.quit)
	d.wg.Wait()
	core.LogDebug("software device destroyed after %d submissions", d.completed.Load())
}

// Hazards returns every synchronization violation observed so far.
func (d *Device) Hazards() []Hazard {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Hazard, len(d.hazards))
	copy(out, d.hazards)
	return out
}

// Draws returns the most recent indirect draws, oldest first.
func (d *Device) Draws() []DrawRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draws.Items()
}

func (d *Device) DrawCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drawCount
}

func (d *Device) Completed() uint64 {
	return d.completed.Load()
}

func (d *Device) recordHazard(h Hazard) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hazards = append(d.hazards, h)
	core.LogWarn("hazard: %s", h)
}

func (d *Device) recordDraw(r DrawRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draws.Push(r)
	d.drawCount++
}

func (d *Device) check() error {
	if d.destroyed.Load() {
		return errors.Wrap(renderer.ErrResourceReleased, "device destroyed")
	}
	if err := d.lost.Load(); err != nil {
		return *err
	}
	return nil
}

func (d *Device) markLost(cause error) {
	err := errors.Wrap(renderer.ErrDeviceLost, cause.Error())
	d.lost.CompareAndSwap(nil, &err)
	core.LogError("software device lost: %s", cause)
}

func (d *Device) enqueue(op queueOp) {
	select {
	case d.queue <- op:
	case <-d.quit:
	}
}
