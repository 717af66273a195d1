package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

// BindingSet is a descriptor set written once at creation.
type BindingSet struct {
	pipeline *VulkanPipeline
	Handle   vk.DescriptorSet
}

func NewBindingSet(context *VulkanContext, pipeline *VulkanPipeline, bindings []renderer.Binding) (*BindingSet, error) {
	device := context.Device.LogicalDevice
	layouts := make(map[uint32]renderer.BindingLayout, len(pipeline.bindings))
	for _, l := range pipeline.bindings {
		layouts[l.Binding] = l
	}

	sets := make([]vk.DescriptorSet, 1)
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pipeline.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{pipeline.DescriptorSetLayout},
	}
	if err := context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.AllocateDescriptorSets(device, &allocateInfo, &sets[0]))
	}); err != nil {
		return nil, errors.Wrapf(err, "allocate binding set of %q", pipeline.name)
	}
	set := &BindingSet{pipeline: pipeline, Handle: sets[0]}

	writes := make([]vk.WriteDescriptorSet, 0, len(bindings))
	for _, b := range bindings {
		layout, ok := layouts[b.Binding]
		if !ok {
			set.Release()
			return nil, errors.Wrapf(renderer.ErrInvalidUsage, "%q has no binding %d", pipeline.name, b.Binding)
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.Handle,
			DstBinding:      b.Binding,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(layout.Type),
		}
		if layout.Type == renderer.BindingSampledTexture {
			texture, ok := b.Texture.(*Texture)
			if !ok || texture == nil {
				set.Release()
				return nil, errors.Wrapf(renderer.ErrInvalidUsage, "%q binding %d needs a vulkan texture", pipeline.name, b.Binding)
			}
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     texture.sampler,
				ImageView:   texture.image.View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		} else {
			buffer, ok := b.Buffer.(*Buffer)
			if !ok || buffer == nil {
				set.Release()
				return nil, errors.Wrapf(renderer.ErrInvalidUsage, "%q binding %d needs a vulkan buffer", pipeline.name, b.Binding)
			}
			size := vk.DeviceSize(vk.WholeSize)
			if b.Size > 0 {
				size = vk.DeviceSize(b.Size)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buffer.buffer,
				Offset: vk.DeviceSize(b.Offset),
				Range:  size,
			}}
		}
		writes = append(writes, write)
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(device, uint32(len(writes)), writes, 0, nil)
	}
	return set, nil
}

func (s *BindingSet) Release() {
	if s.Handle == vk.NullDescriptorSet || s.pipeline.DescriptorPool == vk.NullDescriptorPool {
		return
	}
	ctx := s.pipeline.ctx
	_ = ctx.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.FreeDescriptorSets(ctx.Device.LogicalDevice, s.pipeline.DescriptorPool, 1, []vk.DescriptorSet{s.Handle}))
	})
	s.Handle = vk.NullDescriptorSet
}
