package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/stretchr/testify/assert"
)

func TestResultError(t *testing.T) {
	tests := []struct {
		result vk.Result
		want   error
	}{
		{vk.Success, nil},
		{vk.Incomplete, nil},
		{vk.Suboptimal, renderer.ErrSurfaceSuboptimal},
		{vk.ErrorOutOfDate, renderer.ErrSurfaceOutOfDate},
		{vk.ErrorDeviceLost, renderer.ErrDeviceLost},
		{vk.ErrorSurfaceLost, renderer.ErrDeviceLost},
		{vk.ErrorOutOfDeviceMemory, renderer.ErrOutOfDeviceMemory},
		{vk.ErrorOutOfHostMemory, renderer.ErrOutOfDeviceMemory},
		{vk.ErrorFeatureNotPresent, renderer.ErrMissingCapability},
		{vk.ErrorExtensionNotPresent, renderer.ErrMissingCapability},
		{vk.ErrorInitializationFailed, renderer.ErrInitialization},
	}
	for _, tt := range tests {
		err := resultError(tt.result)
		if tt.want == nil {
			assert.NoError(t, err, VulkanResultString(tt.result))
			continue
		}
		assert.ErrorIs(t, err, tt.want, VulkanResultString(tt.result))
	}
}

func TestStageFlags(t *testing.T) {
	got := stageFlags(renderer.StageComputeShader | renderer.StageDrawIndirect | renderer.StageVertexShader)
	want := vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit | vk.PipelineStageDrawIndirectBit | vk.PipelineStageVertexShaderBit)
	assert.Equal(t, want, got)

	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), stageFlags(0))
}

func TestAccessFlags(t *testing.T) {
	got := accessFlags(renderer.AccessShaderWrite | renderer.AccessHostRead)
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderWriteBit|vk.AccessHostReadBit), got)
	assert.Equal(t, vk.AccessFlags(0), accessFlags(0))
}

func TestBufferUsageFlags(t *testing.T) {
	got := bufferUsageFlags(renderer.BufferUsageStorage | renderer.BufferUsageIndirect | renderer.BufferUsageTransferDst)
	want := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageIndirectBufferBit | vk.BufferUsageTransferDstBit)
	assert.Equal(t, want, got)
}

func TestLayoutScope(t *testing.T) {
	stage, access := layoutScope(renderer.LayoutColorAttachment)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), stage)
	assert.Equal(t, vk.AccessFlags(vk.AccessColorAttachmentWriteBit), access)

	stage, access = layoutScope(renderer.LayoutUndefined)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), stage)
	assert.Zero(t, access)

	stage, access = layoutScope(renderer.LayoutPresentSrc)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), stage)
	assert.Zero(t, access)

	assert.Equal(t, vk.ImageLayoutPresentSrc, imageLayout(renderer.LayoutPresentSrc))
}

func TestDescriptorType(t *testing.T) {
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, descriptorType(renderer.BindingUniformBuffer))
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, descriptorType(renderer.BindingStorageBuffer))
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, descriptorType(renderer.BindingSampledTexture))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "VK_KHR_surface\x00", VulkanSafeString("VK_KHR_surface"))
	assert.Equal(t, "done\x00", VulkanSafeString("done\x00"))

	in := []string{"a", "b\x00"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, "a", in[0])
}

func TestCString(t *testing.T) {
	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte{'a', 'b', 'c', 0, 'd'}))
	assert.Equal(t, 2, FindFirstZeroInByteArray([]byte{'a', 'b'}))
	assert.Equal(t, "VK_LAYER", cString(append([]byte("VK_LAYER"), 0, 0, 0)))
}

func TestShaderStageFlags(t *testing.T) {
	got := shaderStageFlags(renderer.ShaderStageVertex | renderer.ShaderStageFragment)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit), got)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageComputeBit), shaderStageFlags(renderer.ShaderStageCompute))
}
