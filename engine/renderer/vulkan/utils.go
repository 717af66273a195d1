package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

func VulkanResultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorTooManyObjects:
		return "VK_ERROR_TOO_MANY_OBJECTS"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorNativeWindowInUse:
		return "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	case vk.ErrorIncompatibleDisplay:
		return "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorFragmentation:
		return "VK_ERROR_FRAGMENTATION"
	}
	return "VK_ERROR_UNKNOWN"
}

// VulkanResultIsSuccess reports the non-error result codes.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// resultError maps a Vulkan result onto the renderer error sentinels.
// Success codes map to nil, except Suboptimal.
func resultError(result vk.Result) error {
	switch {
	case result == vk.Suboptimal:
		return renderer.ErrSurfaceSuboptimal
	case result == vk.ErrorOutOfDate:
		return renderer.ErrSurfaceOutOfDate
	case VulkanResultIsSuccess(result):
		return nil
	case result == vk.ErrorDeviceLost, result == vk.ErrorSurfaceLost:
		return errors.Wrap(renderer.ErrDeviceLost, VulkanResultString(result))
	case result == vk.ErrorOutOfDeviceMemory, result == vk.ErrorOutOfHostMemory,
		result == vk.ErrorOutOfPoolMemory, result == vk.ErrorFragmentedPool:
		return errors.Wrap(renderer.ErrOutOfDeviceMemory, VulkanResultString(result))
	case result == vk.ErrorFeatureNotPresent, result == vk.ErrorExtensionNotPresent,
		result == vk.ErrorLayerNotPresent, result == vk.ErrorFormatNotSupported:
		return errors.Wrap(renderer.ErrMissingCapability, VulkanResultString(result))
	}
	return errors.Wrap(renderer.ErrInitialization, VulkanResultString(result))
}

func VulkanSafeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}

// cString converts a fixed size, zero terminated name field.
func cString(arr []byte) string {
	return string(arr[:FindFirstZeroInByteArray(arr)])
}

func bufferUsageFlags(usage renderer.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage.Has(renderer.BufferUsageTransferSrc) {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage.Has(renderer.BufferUsageTransferDst) {
		flags |= vk.BufferUsageTransferDstBit
	}
	if usage.Has(renderer.BufferUsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage.Has(renderer.BufferUsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage.Has(renderer.BufferUsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage.Has(renderer.BufferUsageIndirect) {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func stageFlags(stage renderer.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlagBits
	pairs := []struct {
		from renderer.PipelineStage
		to   vk.PipelineStageFlagBits
	}{
		{renderer.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
		{renderer.StageDrawIndirect, vk.PipelineStageDrawIndirectBit},
		{renderer.StageVertexInput, vk.PipelineStageVertexInputBit},
		{renderer.StageVertexShader, vk.PipelineStageVertexShaderBit},
		{renderer.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
		{renderer.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
		{renderer.StageComputeShader, vk.PipelineStageComputeShaderBit},
		{renderer.StageTransfer, vk.PipelineStageTransferBit},
		{renderer.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
		{renderer.StageHost, vk.PipelineStageHostBit},
	}
	for _, p := range pairs {
		if stage.Has(p.from) {
			flags |= p.to
		}
	}
	if flags == 0 {
		flags = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(flags)
}

func accessFlags(access renderer.Access) vk.AccessFlags {
	var flags vk.AccessFlagBits
	pairs := []struct {
		from renderer.Access
		to   vk.AccessFlagBits
	}{
		{renderer.AccessIndirectCommandRead, vk.AccessIndirectCommandReadBit},
		{renderer.AccessIndexRead, vk.AccessIndexReadBit},
		{renderer.AccessUniformRead, vk.AccessUniformReadBit},
		{renderer.AccessShaderRead, vk.AccessShaderReadBit},
		{renderer.AccessShaderWrite, vk.AccessShaderWriteBit},
		{renderer.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
		{renderer.AccessTransferRead, vk.AccessTransferReadBit},
		{renderer.AccessTransferWrite, vk.AccessTransferWriteBit},
		{renderer.AccessHostRead, vk.AccessHostReadBit},
		{renderer.AccessHostWrite, vk.AccessHostWriteBit},
	}
	for _, p := range pairs {
		if access.Has(p.from) {
			flags |= p.to
		}
	}
	return vk.AccessFlags(flags)
}

func shaderStageFlags(stages renderer.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if stages&renderer.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if stages&renderer.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if stages&renderer.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}

func imageLayout(layout renderer.ImageLayout) vk.ImageLayout {
	switch layout {
	case renderer.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case renderer.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// layoutScope is the stage and access that last touches, or first touches,
// an image in the given layout.
func layoutScope(layout renderer.ImageLayout) (vk.PipelineStageFlags, vk.AccessFlags) {
	switch layout {
	case renderer.LayoutColorAttachment:
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	case renderer.LayoutPresentSrc:
		return vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), 0
	}
	// A freshly acquired image is only ordered after the acquire semaphore,
	// whose wait happens at color attachment output.
	return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), 0
}

func descriptorType(t renderer.BindingType) vk.DescriptorType {
	switch t {
	case renderer.BindingUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case renderer.BindingSampledTexture:
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeStorageBuffer
}

func samplerFilter(f metadata.TextureFilter) vk.Filter {
	if f == metadata.TextureFilterModeLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func samplerAddressMode(r metadata.TextureRepeat) vk.SamplerAddressMode {
	switch r {
	case metadata.TextureRepeatMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case metadata.TextureRepeatClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case metadata.TextureRepeatClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}
