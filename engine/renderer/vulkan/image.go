package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
}

func ImageCreate(context *VulkanContext, width, height uint32, format vk.Format, usage vk.ImageUsageFlags, aspect vk.ImageAspectFlags) (*VulkanImage, error) {
	device := context.Device.LogicalDevice
	image := &VulkanImage{Width: width, Height: height}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         usage,
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	var handle vk.Image
	if err := resultError(vk.CreateImage(device, &imageInfo, context.Allocator, &handle)); err != nil {
		return nil, errors.Wrap(err, "vkCreateImage")
	}
	image.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &requirements)
	requirements.Deref()

	index := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if index < 0 {
		image.Destroy(context)
		return nil, errors.Wrap(renderer.ErrOutOfDeviceMemory, "no device local memory type for image")
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := resultError(vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory)); err != nil {
		image.Destroy(context)
		return nil, errors.Wrap(err, "allocate image memory")
	}
	image.Memory = memory
	if err := resultError(vk.BindImageMemory(device, handle, memory, 0)); err != nil {
		image.Destroy(context)
		return nil, errors.Wrap(err, "bind image memory")
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := resultError(vk.CreateImageView(device, &viewInfo, context.Allocator, &view)); err != nil {
		image.Destroy(context)
		return nil, errors.Wrap(err, "vkCreateImageView")
	}
	image.View = view
	return image, nil
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if vi.View != vk.NullImageView {
		vk.DestroyImageView(device, vi.View, context.Allocator)
		vi.View = vk.NullImageView
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, vi.Memory, context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(device, vi.Handle, context.Allocator)
		vi.Handle = vk.NullImage
	}
}

// Texture is a sampled RGBA8 image with its sampler.
type Texture struct {
	ctx     *VulkanContext
	image   *VulkanImage
	sampler vk.Sampler
}

func NewTexture(context *VulkanContext, data *metadata.TextureData, config metadata.SamplerConfig) (*Texture, error) {
	if data == nil || data.Width == 0 || data.Height == 0 {
		return nil, errors.Wrap(renderer.ErrInvalidUsage, "texture has no pixels")
	}
	if data.ChannelCount != 4 || uint64(len(data.Pixels)) < data.Size() {
		return nil, errors.Wrapf(renderer.ErrInvalidUsage, "texture %q is not %dx%d RGBA8", data.Name, data.Width, data.Height)
	}

	staging, err := NewBuffer(context, renderer.BufferDesc{
		Name:     data.Name + ".staging",
		Size:     data.Size(),
		Usage:    renderer.BufferUsageTransferSrc,
		Location: renderer.MemoryHostVisible,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()
	if err := staging.Write(0, data.Pixels[:data.Size()]); err != nil {
		return nil, err
	}

	image, err := ImageCreate(context, data.Width, data.Height, vk.FormatR8g8b8a8Unorm,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit),
		vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return nil, errors.Wrapf(err, "texture %q", data.Name)
	}
	t := &Texture{ctx: context, image: image}

	subresource := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	if err := context.ImmediateSubmit(func(cmd vk.CommandBuffer) {
		toTransfer := []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           vk.ImageLayoutUndefined,
			NewLayout:           vk.ImageLayoutTransferDstOptimal,
			DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               image.Handle,
			SubresourceRange:    subresource,
		}}
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit), 0, 0, nil, 0, nil, 1, toTransfer)

		region := []vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: data.Width, Height: data.Height, Depth: 1},
		}}
		vk.CmdCopyBufferToImage(cmd, staging.buffer, image.Handle, vk.ImageLayoutTransferDstOptimal, 1, region)

		toShader := []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           vk.ImageLayoutTransferDstOptimal,
			NewLayout:           vk.ImageLayoutShaderReadOnlyOptimal,
			SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               image.Handle,
			SubresourceRange:    subresource,
		}}
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), 0, 0, nil, 0, nil, 1, toShader)
	}); err != nil {
		t.Release()
		return nil, errors.Wrapf(err, "upload texture %q", data.Name)
	}

	samplerInfo := vk.SamplerCreateInfo{
		SType:         vk.StructureTypeSamplerCreateInfo,
		MagFilter:     samplerFilter(config.FilterMagnify),
		MinFilter:     samplerFilter(config.FilterMinify),
		AddressModeU:  samplerAddressMode(config.RepeatU),
		AddressModeV:  samplerAddressMode(config.RepeatV),
		AddressModeW:  samplerAddressMode(config.RepeatU),
		MaxAnisotropy: 1.0,
		BorderColor:   vk.BorderColorIntOpaqueBlack,
		CompareOp:     vk.CompareOpAlways,
		MipmapMode:    vk.SamplerMipmapModeNearest,
	}
	var sampler vk.Sampler
	if err := resultError(vk.CreateSampler(context.Device.LogicalDevice, &samplerInfo, context.Allocator, &sampler)); err != nil {
		t.Release()
		return nil, errors.Wrapf(err, "sampler of texture %q", data.Name)
	}
	t.sampler = sampler
	return t, nil
}

func (t *Texture) Width() uint32  { return t.image.Width }
func (t *Texture) Height() uint32 { return t.image.Height }

func (t *Texture) Release() {
	if t.sampler != vk.NullSampler {
		vk.DestroySampler(t.ctx.Device.LogicalDevice, t.sampler, t.ctx.Allocator)
		t.sampler = vk.NullSampler
	}
	if t.image != nil {
		t.image.Destroy(t.ctx)
		t.image = nil
	}
}
