package systems

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

var (
	// UploadBarrier publishes staging copies to every later consumer.
	UploadBarrier = renderer.MemoryBarrier{
		SrcStage:  renderer.StageTransfer,
		SrcAccess: renderer.AccessTransferWrite,
		DstStage: renderer.StageComputeShader | renderer.StageVertexShader | renderer.StageVertexInput |
			renderer.StageDrawIndirect | renderer.StageTransfer,
		DstAccess: renderer.AccessShaderRead | renderer.AccessIndexRead |
			renderer.AccessIndirectCommandRead | renderer.AccessTransferRead,
	}

	// CounterResetBarrier orders the per-frame counter fills before the cull pass.
	CounterResetBarrier = renderer.MemoryBarrier{
		SrcStage:  renderer.StageTransfer,
		SrcAccess: renderer.AccessTransferWrite,
		DstStage:  renderer.StageComputeShader,
		DstAccess: renderer.AccessShaderRead | renderer.AccessShaderWrite,
	}

	// CullToDrawBarrier makes the cull results visible to the indirect draw.
	CullToDrawBarrier = renderer.MemoryBarrier{
		SrcStage:  renderer.StageComputeShader,
		SrcAccess: renderer.AccessShaderWrite,
		DstStage:  renderer.StageDrawIndirect | renderer.StageVertexShader,
		DstAccess: renderer.AccessIndirectCommandRead | renderer.AccessShaderRead,
	}

	// CullToHostBarrier makes the stats counters visible to the host once
	// the slot's fence has signaled.
	CullToHostBarrier = renderer.MemoryBarrier{
		SrcStage:  renderer.StageComputeShader,
		SrcAccess: renderer.AccessShaderWrite,
		DstStage:  renderer.StageHost,
		DstAccess: renderer.AccessHostRead,
	}

	readbackSourceBarrier = renderer.MemoryBarrier{
		SrcStage:  renderer.StageComputeShader | renderer.StageTransfer,
		SrcAccess: renderer.AccessShaderWrite | renderer.AccessTransferWrite,
		DstStage:  renderer.StageTransfer,
		DstAccess: renderer.AccessTransferRead,
	}

	readbackBarrier = renderer.MemoryBarrier{
		SrcStage:  renderer.StageTransfer,
		SrcAccess: renderer.AccessTransferWrite,
		DstStage:  renderer.StageHost,
		DstAccess: renderer.AccessHostRead,
	}
)

// ImmediateSubmit records work into a one-shot command sequence, submits it
// with a dedicated fence and blocks until the device has executed it.
func ImmediateSubmit(dev renderer.Device, timeout time.Duration, record func(cmd renderer.CommandSequence)) error {
	scope := renderer.NewScope()
	defer scope.Release()

	cmd, err := dev.CreateCommandSequence()
	if err := scope.Add(cmd, err); err != nil {
		return errors.Wrap(err, "immediate submit")
	}
	fence, err := dev.CreateFence(false)
	if err := scope.Add(fence, err); err != nil {
		return errors.Wrap(err, "immediate submit")
	}

	if err := cmd.Begin(); err != nil {
		return errors.Wrap(err, "immediate submit")
	}
	record(cmd)
	if err := cmd.End(); err != nil {
		return errors.Wrap(err, "immediate submit")
	}
	if err := dev.Submit(renderer.SubmitInfo{Commands: cmd, Fence: fence}); err != nil {
		return errors.Wrap(err, "immediate submit")
	}
	return errors.Wrap(fence.Wait(timeout), "immediate submit")
}

// UploadBuffer creates a device-local buffer and fills it with data through a
// host-visible staging buffer released once the copy completes. The buffer is
// at least desc.Size bytes.
func UploadBuffer(dev renderer.Device, desc renderer.BufferDesc, data []byte, timeout time.Duration) (renderer.Buffer, error) {
	if uint64(len(data)) > desc.Size {
		desc.Size = uint64(len(data))
	}
	desc.Usage |= renderer.BufferUsageTransferDst
	desc.Location = renderer.MemoryDeviceLocal

	dst, err := dev.CreateBuffer(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "buffer %q", desc.Name)
	}
	if len(data) == 0 {
		return dst, nil
	}

	staging, err := dev.CreateBuffer(renderer.BufferDesc{
		Name:     desc.Name + ".staging",
		Size:     uint64(len(data)),
		Usage:    renderer.BufferUsageTransferSrc,
		Location: renderer.MemoryHostVisible,
	})
	if err != nil {
		dst.Release()
		return nil, errors.Wrapf(err, "staging for %q", desc.Name)
	}
	defer staging.Release()

	if err := staging.Write(0, data); err != nil {
		dst.Release()
		return nil, errors.Wrapf(err, "staging for %q", desc.Name)
	}
	err = ImmediateSubmit(dev, timeout, func(cmd renderer.CommandSequence) {
		cmd.CopyBuffer(staging, dst, 0, 0, uint64(len(data)))
		cmd.PipelineBarrier(UploadBarrier)
	})
	if err != nil {
		dst.Release()
		return nil, errors.Wrapf(err, "upload of %q", desc.Name)
	}
	return dst, nil
}

// ReadBuffer copies size bytes of a device buffer into host memory. The
// buffer needs transfer-source usage and must not be written by work still
// in flight.
func ReadBuffer(dev renderer.Device, src renderer.Buffer, offset, size uint64, timeout time.Duration) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if src.Location() == renderer.MemoryHostVisible {
		return src.Read(offset, size)
	}
	dst, err := dev.CreateBuffer(renderer.BufferDesc{
		Name:     src.Name() + ".readback",
		Size:     size,
		Usage:    renderer.BufferUsageTransferDst,
		Location: renderer.MemoryHostVisible,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "readback of %q", src.Name())
	}
	defer dst.Release()

	err = ImmediateSubmit(dev, timeout, func(cmd renderer.CommandSequence) {
		cmd.PipelineBarrier(readbackSourceBarrier)
		cmd.CopyBuffer(src, dst, offset, 0, size)
		cmd.PipelineBarrier(readbackBarrier)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "readback of %q", src.Name())
	}
	return dst.Read(0, size)
}
