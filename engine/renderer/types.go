package renderer

import "time"

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageIndirect
)

func (u BufferUsage) Has(flag BufferUsage) bool { return u&flag == flag }

type MemoryLocation uint8

const (
	// Device local memory is never mapped.
	MemoryDeviceLocal MemoryLocation = iota
	// Host visible memory is coherent and persistently mapped.
	MemoryHostVisible
)

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageBottomOfPipe
	StageHost
)

func (s PipelineStage) Has(flag PipelineStage) bool { return s&flag == flag }

type Access uint32

const (
	AccessIndirectCommandRead Access = 1 << iota
	AccessIndexRead
	AccessUniformRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
)

func (a Access) Has(flag Access) bool { return a&flag == flag }

// MemoryBarrier orders every access in the source scope before every access
// in the destination scope for all memory.
type MemoryBarrier struct {
	SrcStage  PipelineStage
	SrcAccess Access
	DstStage  PipelineStage
	DstAccess Access
}

type ImageLayout uint8

const (
	LayoutUndefined ImageLayout = iota
	LayoutColorAttachment
	LayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutColorAttachment:
		return "color-attachment"
	case LayoutPresentSrc:
		return "present-src"
	}
	return "undefined"
}

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

type BindingType uint8

const (
	BindingUniformBuffer BindingType = iota
	BindingStorageBuffer
	BindingSampledTexture
)

// BindingAccess describes what a shader does with a storage binding.
type BindingAccess uint8

const (
	BindingReadOnly BindingAccess = iota
	BindingWriteOnly
	BindingReadWrite
)

type BindingLayout struct {
	Binding uint32
	Type    BindingType
	Stages  ShaderStage
	Access  BindingAccess
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type BufferDesc struct {
	Name     string
	Size     uint64
	Usage    BufferUsage
	Location MemoryLocation
}

type ComputePipelineDesc struct {
	Name          string
	Shader        []byte
	EntryPoint    string
	GroupSize     uint32
	Bindings      []BindingLayout
	PushConstants []PushConstantRange
}

type GraphicsPipelineDesc struct {
	Name           string
	VertexShader   []byte
	FragmentShader []byte
	EntryPoint     string
	Bindings       []BindingLayout
	PushConstants  []PushConstantRange
	Surface        Surface
}

// Binding attaches a buffer range or a texture to a binding slot. A zero
// Size binds the buffer from Offset to its end.
type Binding struct {
	Binding uint32
	Buffer  Buffer
	Offset  uint64
	Size    uint64
	Texture Texture
}

type SubmitInfo struct {
	Commands  CommandSequence
	Wait      Semaphore
	WaitStage PipelineStage
	Signal    Semaphore
	Fence     Fence
}

type Capabilities struct {
	DeviceName                string
	MultiDrawIndirect         bool
	DrawIndirectFirstInstance bool
	MaxComputeWorkGroupSize   uint32
	MaxDrawIndirectCount      uint32
	MaxPushConstantsSize      uint32
	// Zero means no limit.
	MemoryBudget uint64
}

// DefaultFenceTimeout bounds every fence wait unless configured otherwise.
const DefaultFenceTimeout = 5 * time.Second
