package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	locks *VulkanLockPool
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// ImmediateSubmit records fn into a one-shot command buffer, submits it on
// the graphics queue and waits for the queue to drain.
func (vc *VulkanContext) ImmediateSubmit(fn func(cmd vk.CommandBuffer)) error {
	device := vc.Device
	commandBuffers := make([]vk.CommandBuffer, 1)
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        device.GraphicsCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	if err := vc.locks.SafeCall(CommandBufferManagement, func() error {
		return resultError(vk.AllocateCommandBuffers(device.LogicalDevice, &allocateInfo, commandBuffers))
	}); err != nil {
		return errors.Wrap(err, "allocate single use command buffer")
	}
	defer vc.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(device.LogicalDevice, device.GraphicsCommandPool, 1, commandBuffers)
		return nil
	})

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := resultError(vk.BeginCommandBuffer(commandBuffers[0], &beginInfo)); err != nil {
		return errors.Wrap(err, "begin single use command buffer")
	}
	fn(commandBuffers[0])
	if err := resultError(vk.EndCommandBuffer(commandBuffers[0])); err != nil {
		return errors.Wrap(err, "end single use command buffer")
	}

	submitInfo := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}}
	return vc.locks.SafeQueueCall(device.GraphicsQueueIndex, func() error {
		if err := resultError(vk.QueueSubmit(device.GraphicsQueue, 1, submitInfo, vk.NullFence)); err != nil {
			return errors.Wrap(err, "submit single use command buffer")
		}
		if res := vk.QueueWaitIdle(device.GraphicsQueue); res != vk.Success {
			return errors.Wrapf(renderer.ErrDeviceLost, "queue wait idle: %s", VulkanResultString(res))
		}
		return nil
	})
}
