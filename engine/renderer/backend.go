package renderer

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// Releasable is any device object that owns backend memory.
type Releasable interface {
	Release()
}

type Device interface {
	Capabilities() Capabilities
	CreateBuffer(desc BufferDesc) (Buffer, error)
	CreateTexture(data *metadata.TextureData, sampler metadata.SamplerConfig) (Texture, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandSequence() (CommandSequence, error)
	CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	CreateBindingSet(pipeline Pipeline, bindings []Binding) (BindingSet, error)
	Submit(info SubmitInfo) error
	// WaitIdle blocks until every submission has completed.
	WaitIdle(timeout time.Duration) error
	Destroy()
}

type Buffer interface {
	Releasable
	Name() string
	Size() uint64
	Usage() BufferUsage
	Location() MemoryLocation
	// Handle is the device address of the buffer.
	Handle() uint64
	Write(offset uint64, data []byte) error
	Read(offset, size uint64) ([]byte, error)
}

type Texture interface {
	Releasable
	Width() uint32
	Height() uint32
}

type Fence interface {
	Releasable
	// Wait returns ErrDeviceLost when the fence is not signaled within timeout.
	Wait(timeout time.Duration) error
	Reset() error
	Signaled() bool
}

type Semaphore interface {
	Releasable
}

type Pipeline interface {
	Releasable
	Name() string
}

type BindingSet interface {
	Releasable
}

// CommandSequence records device work. Recording calls do not fail
// individually; the first recording error is returned by End.
type CommandSequence interface {
	Releasable
	Reset() error
	Begin() error
	End() error

	FillBuffer(dst Buffer, offset, size uint64, value uint32)
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64)
	PipelineBarrier(barrier MemoryBarrier)
	TransitionImage(target RenderTarget, from, to ImageLayout)

	BindPipeline(pipeline Pipeline)
	BindSet(pipeline Pipeline, set BindingSet)
	PushConstants(pipeline Pipeline, stages ShaderStage, offset uint32, data []byte)
	Dispatch(x, y, z uint32)

	BeginRenderPass(target RenderTarget, clear mgl32.Vec4)
	EndRenderPass()
	BindIndexBuffer(buffer Buffer, offset uint64)
	DrawIndexedIndirect(buffer Buffer, offset uint64, drawCount, stride uint32)
}

// RenderTarget is one presentable image of a Surface.
type RenderTarget interface {
	Index() uint32
	Extent() (uint32, uint32)
}

type Surface interface {
	// Acquire returns the next target and signals the semaphore when it can
	// be rendered to. ErrSurfaceSuboptimal comes with a usable target,
	// ErrSurfaceOutOfDate without one.
	Acquire(signal Semaphore, timeout time.Duration) (RenderTarget, error)
	Present(target RenderTarget, wait Semaphore) error
	Rebuild(width, height uint32) error
	Extent() (uint32, uint32)
	ImageCount() uint32
	Release()
}
