package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer is a primary command buffer from the graphics pool.
// Recording calls keep the first error and End returns it.
type VulkanCommandBuffer struct {
	ctx    *VulkanContext
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState
	err    error
}

func NewVulkanCommandBuffer(context *VulkanContext) (*VulkanCommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        context.Device.GraphicsCommandPool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := context.locks.SafeCall(CommandBufferManagement, func() error {
		return resultError(vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles))
	}); err != nil {
		return nil, errors.Wrap(err, "allocate command buffer")
	}
	return &VulkanCommandBuffer{ctx: context, Handle: handles[0], State: COMMAND_BUFFER_STATE_READY}, nil
}

func (v *VulkanCommandBuffer) Release() {
	if v.Handle == nil {
		return
	}
	_ = v.ctx.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(v.ctx.Device.LogicalDevice, v.ctx.Device.GraphicsCommandPool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Reset() error {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return errors.Wrap(renderer.ErrResourceReleased, "command buffer")
	}
	if err := resultError(vk.ResetCommandBuffer(v.Handle, 0)); err != nil {
		return errors.Wrap(err, "reset command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_READY
	v.err = nil
	return nil
}

func (v *VulkanCommandBuffer) Begin() error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return errors.Wrapf(renderer.ErrInvalidUsage, "begin command buffer in state %d", v.State)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := resultError(vk.BeginCommandBuffer(v.Handle, &beginInfo)); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.fail("end with an open render pass")
	}
	if v.err != nil {
		return v.err
	}
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return errors.Wrapf(renderer.ErrInvalidUsage, "end command buffer in state %d", v.State)
	}
	if err := resultError(vk.EndCommandBuffer(v.Handle)); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) fail(format string, args ...interface{}) {
	if v.err == nil {
		v.err = errors.Wrap(renderer.ErrInvalidUsage, fmt.Sprintf(format, args...))
	}
}

// recording reports whether a command may be recorded, failing otherwise.
func (v *VulkanCommandBuffer) recording(name string, inPass bool) bool {
	want := COMMAND_BUFFER_STATE_RECORDING
	if inPass {
		want = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	}
	if v.State != want {
		v.fail("%s recorded in state %d", name, v.State)
		return false
	}
	return true
}

func (v *VulkanCommandBuffer) buffer(name string, b renderer.Buffer) *Buffer {
	vb, ok := b.(*Buffer)
	if !ok || vb == nil {
		v.fail("%s: foreign buffer", name)
		return nil
	}
	if vb.released.Load() {
		v.fail("%s: buffer %q released", name, vb.desc.Name)
		return nil
	}
	return vb
}

func (v *VulkanCommandBuffer) pipeline(name string, p renderer.Pipeline) *VulkanPipeline {
	vp, ok := p.(*VulkanPipeline)
	if !ok || vp == nil {
		v.fail("%s: foreign pipeline", name)
		return nil
	}
	return vp
}

func (v *VulkanCommandBuffer) FillBuffer(dst renderer.Buffer, offset, size uint64, value uint32) {
	b := v.buffer("fill", dst)
	if b == nil || !v.recording("fill", false) {
		return
	}
	vk.CmdFillBuffer(v.Handle, b.buffer, vk.DeviceSize(offset), vk.DeviceSize(size), value)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst renderer.Buffer, srcOffset, dstOffset, size uint64) {
	s, d := v.buffer("copy", src), v.buffer("copy", dst)
	if s == nil || d == nil || !v.recording("copy", false) {
		return
	}
	vk.CmdCopyBuffer(v.Handle, s.buffer, d.buffer, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

func (v *VulkanCommandBuffer) PipelineBarrier(barrier renderer.MemoryBarrier) {
	if !v.recording("barrier", false) {
		return
	}
	memoryBarriers := []vk.MemoryBarrier{{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: accessFlags(barrier.SrcAccess),
		DstAccessMask: accessFlags(barrier.DstAccess),
	}}
	vk.CmdPipelineBarrier(v.Handle, stageFlags(barrier.SrcStage), stageFlags(barrier.DstStage), 0,
		1, memoryBarriers, 0, nil, 0, nil)
}

func (v *VulkanCommandBuffer) TransitionImage(target renderer.RenderTarget, from, to renderer.ImageLayout) {
	t, ok := target.(*renderTarget)
	if !ok {
		v.fail("transition: foreign render target")
		return
	}
	if !v.recording("transition", false) {
		return
	}
	srcStage, srcAccess := layoutScope(from)
	dstStage, dstAccess := layoutScope(to)
	imageBarriers := []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           imageLayout(from),
		NewLayout:           imageLayout(to),
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.surface.Images[t.index],
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}}
	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, imageBarriers)
}

func (v *VulkanCommandBuffer) BindPipeline(pipeline renderer.Pipeline) {
	p := v.pipeline("bind pipeline", pipeline)
	if p == nil {
		return
	}
	inPass := p.BindPoint == vk.PipelineBindPointGraphics
	if !v.recording("bind pipeline", inPass) {
		return
	}
	vk.CmdBindPipeline(v.Handle, p.BindPoint, p.Handle)
}

func (v *VulkanCommandBuffer) BindSet(pipeline renderer.Pipeline, set renderer.BindingSet) {
	p := v.pipeline("bind set", pipeline)
	s, ok := set.(*BindingSet)
	if p == nil {
		return
	}
	if !ok || s == nil {
		v.fail("bind set: foreign binding set")
		return
	}
	vk.CmdBindDescriptorSets(v.Handle, p.BindPoint, p.PipelineLayout, 0, 1, []vk.DescriptorSet{s.Handle}, 0, nil)
}

func (v *VulkanCommandBuffer) PushConstants(pipeline renderer.Pipeline, stages renderer.ShaderStage, offset uint32, data []byte) {
	p := v.pipeline("push constants", pipeline)
	if p == nil || len(data) == 0 {
		return
	}
	vk.CmdPushConstants(v.Handle, p.PipelineLayout, shaderStageFlags(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	if !v.recording("dispatch", false) {
		return
	}
	vk.CmdDispatch(v.Handle, x, y, z)
}

func (v *VulkanCommandBuffer) BeginRenderPass(target renderer.RenderTarget, clear mgl32.Vec4) {
	t, ok := target.(*renderTarget)
	if !ok {
		v.fail("begin render pass: foreign render target")
		return
	}
	if !v.recording("begin render pass", false) {
		return
	}
	s := t.surface
	s.renderpass.RenderpassBegin(v.Handle, s.Framebuffers[t.index].Handle, s.extent.Width, s.extent.Height, clear)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	if !v.recording("end render pass", true) {
		return
	}
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) BindIndexBuffer(buffer renderer.Buffer, offset uint64) {
	b := v.buffer("bind index buffer", buffer)
	if b == nil {
		return
	}
	vk.CmdBindIndexBuffer(v.Handle, b.buffer, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (v *VulkanCommandBuffer) DrawIndexedIndirect(buffer renderer.Buffer, offset uint64, drawCount, stride uint32) {
	b := v.buffer("draw indirect", buffer)
	if b == nil || !v.recording("draw indirect", true) {
		return
	}
	if drawCount > 1 && !v.ctx.Device.MultiDrawIndirect {
		v.fail("draw indirect: %d commands without multiDrawIndirect", drawCount)
		return
	}
	vk.CmdDrawIndexedIndirect(v.Handle, b.buffer, vk.DeviceSize(offset), drawCount, stride)
}
