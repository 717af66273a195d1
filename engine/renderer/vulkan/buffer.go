package vulkan

import (
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// Buffer is a VkBuffer bound to its own allocation. Host visible buffers
// are coherent and stay mapped for their whole life.
type Buffer struct {
	ctx  *VulkanContext
	desc renderer.BufferDesc
	id   uint64
	size uint64

	buffer vk.Buffer
	memory vk.DeviceMemory
	mapped unsafe.Pointer

	released atomic.Bool
}

var bufferIDs atomic.Uint64

func NewBuffer(context *VulkanContext, desc renderer.BufferDesc) (*Buffer, error) {
	size := metadata.GetAligned(desc.Size, 4)
	if size == 0 {
		size = 4
	}
	device := context.Device.LogicalDevice
	b := &Buffer{ctx: context, desc: desc, size: size, id: bufferIDs.Add(1) << 16}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       bufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := resultError(vk.CreateBuffer(device, &bufferInfo, context.Allocator, &handle)); err != nil {
		return nil, errors.Wrapf(err, "create buffer %q", desc.Name)
	}
	b.buffer = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &requirements)
	requirements.Deref()

	properties := vk.MemoryPropertyDeviceLocalBit
	if desc.Location == renderer.MemoryHostVisible {
		properties = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	index := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(properties))
	if index < 0 {
		b.Release()
		return nil, errors.Wrapf(renderer.ErrOutOfDeviceMemory, "buffer %q: no memory type for properties %#x", desc.Name, properties)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := context.locks.SafeCall(MemoryManagement, func() error {
		return resultError(vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory))
	}); err != nil {
		b.Release()
		return nil, errors.Wrapf(err, "allocate %d bytes for buffer %q", requirements.Size, desc.Name)
	}
	b.memory = memory

	if err := resultError(vk.BindBufferMemory(device, handle, memory, 0)); err != nil {
		b.Release()
		return nil, errors.Wrapf(err, "bind memory of buffer %q", desc.Name)
	}

	if desc.Location == renderer.MemoryHostVisible {
		var data unsafe.Pointer
		if err := resultError(vk.MapMemory(device, memory, 0, vk.DeviceSize(size), 0, &data)); err != nil {
			b.Release()
			return nil, errors.Wrapf(err, "map buffer %q", desc.Name)
		}
		b.mapped = data
	}
	return b, nil
}

func (b *Buffer) Name() string                      { return b.desc.Name }
func (b *Buffer) Size() uint64                      { return b.desc.Size }
func (b *Buffer) Usage() renderer.BufferUsage       { return b.desc.Usage }
func (b *Buffer) Location() renderer.MemoryLocation { return b.desc.Location }

// Handle is a process unique identifier. Shaders reach buffers through
// descriptor bindings, not through this value.
func (b *Buffer) Handle() uint64 { return b.id }

func (b *Buffer) hostBytes(offset, size uint64) ([]byte, error) {
	if b.released.Load() {
		return nil, errors.Wrapf(renderer.ErrResourceReleased, "buffer %q", b.desc.Name)
	}
	if b.mapped == nil {
		return nil, errors.Wrapf(renderer.ErrNotHostVisible, "buffer %q", b.desc.Name)
	}
	if offset+size > b.size {
		return nil, errors.Wrapf(renderer.ErrInvalidUsage, "buffer %q: range [%d, +%d) exceeds %d bytes", b.desc.Name, offset, size, b.desc.Size)
	}
	return unsafe.Slice((*byte)(b.mapped), b.size)[offset : offset+size], nil
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	dst, err := b.hostBytes(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (b *Buffer) Read(offset, size uint64) ([]byte, error) {
	src, err := b.hostBytes(offset, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, src)
	return out, nil
}

func (b *Buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	device := b.ctx.Device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(device, b.memory)
		b.mapped = nil
	}
	if b.buffer != vk.NullBuffer {
		vk.DestroyBuffer(device, b.buffer, b.ctx.Allocator)
		b.buffer = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		_ = b.ctx.locks.SafeCall(MemoryManagement, func() error {
			vk.FreeMemory(device, b.memory, b.ctx.Allocator)
			return nil
		})
		b.memory = vk.NullDeviceMemory
	}
}
