package vulkan

import (
	"encoding/binary"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

// Binding sets one pipeline can allocate. The frame pipeline needs one per
// frame in flight.
const maxSetsPerPipeline uint32 = 8

// Specialization constant carrying the compute workgroup size.
const groupSizeConstantID uint32 = 0

// VulkanPipeline holds a pipeline, its layout and the descriptor pool its
// binding sets are allocated from.
type VulkanPipeline struct {
	ctx  *VulkanContext
	name string

	Handle              vk.Pipeline
	PipelineLayout      vk.PipelineLayout
	DescriptorSetLayout vk.DescriptorSetLayout
	DescriptorPool      vk.DescriptorPool
	BindPoint           vk.PipelineBindPoint

	bindings []renderer.BindingLayout
}

func (p *VulkanPipeline) Name() string { return p.name }

func spirv(name string, code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Wrapf(renderer.ErrInitialization, "shader of %q is not SPIR-V (%d bytes)", name, len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

func createShaderModule(context *VulkanContext, name string, code []byte) (vk.ShaderModule, error) {
	words, err := spirv(name, code)
	if err != nil {
		return vk.NullShaderModule, err
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(words) * 4),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := resultError(vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module)); err != nil {
		return vk.NullShaderModule, errors.Wrapf(err, "shader module of %q", name)
	}
	return module, nil
}

// newPipelineLayout creates the descriptor set layout, its pool and the
// pipeline layout shared by both pipeline kinds.
func newPipelineLayout(context *VulkanContext, name string, bindings []renderer.BindingLayout, pushConstants []renderer.PushConstantRange) (*VulkanPipeline, error) {
	device := context.Device.LogicalDevice
	p := &VulkanPipeline{ctx: context, name: name, bindings: bindings}

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	counts := map[vk.DescriptorType]uint32{}
	for i, b := range bindings {
		t := descriptorType(b.Type)
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  t,
			DescriptorCount: 1,
			StageFlags:      shaderStageFlags(b.Stages),
		}
		counts[t]++
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}
	var setLayout vk.DescriptorSetLayout
	if err := resultError(vk.CreateDescriptorSetLayout(device, &layoutInfo, context.Allocator, &setLayout)); err != nil {
		return nil, errors.Wrapf(err, "descriptor set layout of %q", name)
	}
	p.DescriptorSetLayout = setLayout

	poolSizes := make([]vk.DescriptorPoolSize, 0, len(counts))
	for t, n := range counts {
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n * maxSetsPerPipeline})
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSetsPerPipeline,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := resultError(vk.CreateDescriptorPool(device, &poolInfo, context.Allocator, &pool)); err != nil {
		p.Release()
		return nil, errors.Wrapf(err, "descriptor pool of %q", name)
	}
	p.DescriptorPool = pool

	ranges := make([]vk.PushConstantRange, len(pushConstants))
	for i, r := range pushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: shaderStageFlags(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var pipelineLayout vk.PipelineLayout
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreatePipelineLayout(device, &pipelineLayoutCreateInfo, context.Allocator, &pipelineLayout))
	}); err != nil {
		p.Release()
		return nil, errors.Wrapf(err, "pipeline layout of %q", name)
	}
	p.PipelineLayout = pipelineLayout
	return p, nil
}

func NewComputePipeline(context *VulkanContext, desc renderer.ComputePipelineDesc) (*VulkanPipeline, error) {
	p, err := newPipelineLayout(context, desc.Name, desc.Bindings, desc.PushConstants)
	if err != nil {
		return nil, err
	}
	p.BindPoint = vk.PipelineBindPointCompute

	module, err := createShaderModule(context, desc.Name, desc.Shader)
	if err != nil {
		p.Release()
		return nil, err
	}
	defer vk.DestroyShaderModule(context.Device.LogicalDevice, module, context.Allocator)

	groupSize := desc.GroupSize
	specialization := []vk.SpecializationInfo{{
		MapEntryCount: 1,
		PMapEntries: []vk.SpecializationMapEntry{{
			ConstantID: groupSizeConstantID,
			Offset:     0,
			Size:       4,
		}},
		DataSize: 4,
		PData:    unsafe.Pointer(&groupSize),
	}}

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:               vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:               vk.ShaderStageComputeBit,
			Module:              module,
			PName:               VulkanSafeString(entryPoint(desc.EntryPoint)),
			PSpecializationInfo: specialization,
		},
		Layout:            p.PipelineLayout,
		BasePipelineIndex: -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreateComputePipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.ComputePipelineCreateInfo{pipelineCreateInfo}, context.Allocator, pipelines))
	}); err != nil {
		p.Release()
		return nil, errors.Wrapf(err, "compute pipeline %q", desc.Name)
	}
	p.Handle = pipelines[0]

	core.LogDebug("Compute pipeline %q created, workgroup size %d.", desc.Name, groupSize)
	return p, nil
}

func NewGraphicsPipeline(context *VulkanContext, desc renderer.GraphicsPipelineDesc) (*VulkanPipeline, error) {
	surface, ok := desc.Surface.(*Surface)
	if !ok || surface == nil {
		return nil, errors.Wrapf(renderer.ErrInvalidUsage, "graphics pipeline %q needs a vulkan surface", desc.Name)
	}
	p, err := newPipelineLayout(context, desc.Name, desc.Bindings, desc.PushConstants)
	if err != nil {
		return nil, err
	}
	p.BindPoint = vk.PipelineBindPointGraphics

	device := context.Device.LogicalDevice
	vertexModule, err := createShaderModule(context, desc.Name, desc.VertexShader)
	if err != nil {
		p.Release()
		return nil, err
	}
	defer vk.DestroyShaderModule(device, vertexModule, context.Allocator)
	fragmentModule, err := createShaderModule(context, desc.Name, desc.FragmentShader)
	if err != nil {
		p.Release()
		return nil, err
	}
	defer vk.DestroyShaderModule(device, fragmentModule, context.Allocator)

	name := VulkanSafeString(entryPoint(desc.EntryPoint))
	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertexModule,
			PName:  name,
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: fragmentModule,
			PName:  name,
		},
	}

	width, height := surface.Extent()
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{{Width: float32(width), Height: float32(height), MaxDepth: 1.0}},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{{Extent: vk.Extent2D{Width: width, Height: height}}},
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: vk.True,
		DepthCompareOp:   vk.CompareOpLessOrEqual,
		MaxDepthBounds:   1.0,
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertices are pulled from a storage buffer.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              p.PipelineLayout,
		RenderPass:          surface.renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreateGraphicsPipelines(device, vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, context.Allocator, pipelines))
	}); err != nil {
		p.Release()
		return nil, errors.Wrapf(err, "graphics pipeline %q", desc.Name)
	}
	p.Handle = pipelines[0]

	core.LogDebug("Graphics pipeline %q created.", desc.Name)
	return p, nil
}

func entryPoint(name string) string {
	if name == "" {
		return "main"
	}
	return name
}

func (p *VulkanPipeline) Release() {
	device := p.ctx.Device.LogicalDevice
	_ = p.ctx.locks.SafeCall(PipelineManagement, func() error {
		if p.Handle != vk.NullPipeline {
			vk.DestroyPipeline(device, p.Handle, p.ctx.Allocator)
			p.Handle = vk.NullPipeline
		}
		if p.PipelineLayout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(device, p.PipelineLayout, p.ctx.Allocator)
			p.PipelineLayout = vk.NullPipelineLayout
		}
		return nil
	})
	if p.DescriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, p.DescriptorPool, p.ctx.Allocator)
		p.DescriptorPool = vk.NullDescriptorPool
	}
	if p.DescriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, p.DescriptorSetLayout, p.ctx.Allocator)
		p.DescriptorSetLayout = vk.NullDescriptorSetLayout
	}
}
