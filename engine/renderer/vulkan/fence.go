package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

type VulkanFence struct {
	ctx    *VulkanContext
	Handle vk.Fence
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if err := resultError(vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &handle)); err != nil {
		return nil, errors.Wrap(err, "vkCreateFence")
	}
	return &VulkanFence{ctx: context, Handle: handle}, nil
}

// Wait blocks until the fence signals. A timeout means the device stopped
// making progress and is reported as a lost device.
func (vf *VulkanFence) Wait(timeout time.Duration) error {
	result := vk.WaitForFences(vf.ctx.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogError("vk_fence_wait - timed out after %s", timeout)
		return errors.Wrapf(renderer.ErrDeviceLost, "fence not signaled within %s", timeout)
	}
	core.LogError("vk_fence_wait - %s", VulkanResultString(result))
	return errors.Wrap(renderer.ErrDeviceLost, VulkanResultString(result))
}

func (vf *VulkanFence) Signaled() bool {
	return vk.GetFenceStatus(vf.ctx.Device.LogicalDevice, vf.Handle) == vk.Success
}

func (vf *VulkanFence) Reset() error {
	if err := resultError(vk.ResetFences(vf.ctx.Device.LogicalDevice, 1, []vk.Fence{vf.Handle})); err != nil {
		return errors.Wrap(err, "vkResetFences")
	}
	return nil
}

func (vf *VulkanFence) Release() {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(vf.ctx.Device.LogicalDevice, vf.Handle, vf.ctx.Allocator)
		vf.Handle = vk.NullFence
	}
}

type VulkanSemaphore struct {
	ctx    *VulkanContext
	Handle vk.Semaphore
}

func NewSemaphore(context *VulkanContext) (*VulkanSemaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if err := resultError(vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &handle)); err != nil {
		return nil, errors.Wrap(err, "vkCreateSemaphore")
	}
	return &VulkanSemaphore{ctx: context, Handle: handle}, nil
}

func (vs *VulkanSemaphore) Release() {
	if vs.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(vs.ctx.Device.LogicalDevice, vs.Handle, vs.ctx.Allocator)
		vs.Handle = vk.NullSemaphore
	}
}
