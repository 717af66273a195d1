package vulkan

import (
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	emath "github.com/spaghettifunk/gpucull/engine/math"
	"github.com/spaghettifunk/gpucull/engine/renderer"
)

type renderTarget struct {
	surface *Surface
	index   uint32
}

func (t *renderTarget) Index() uint32 { return t.index }

func (t *renderTarget) Extent() (uint32, uint32) { return t.surface.Extent() }

// Surface is the swapchain of the window surface with one framebuffer per
// image. The render pass survives rebuilds; everything sized by the window
// is recreated.
type Surface struct {
	ctx *VulkanContext

	Handle          vk.Swapchain
	ImageFormat     vk.SurfaceFormat
	extent          vk.Extent2D
	Images          []vk.Image
	Views           []vk.ImageView
	DepthAttachment *VulkanImage
	Framebuffers    []*VulkanFramebuffer

	renderpass *VulkanRenderpass
	targets    []*renderTarget
	released   bool
}

func NewSurface(context *VulkanContext, width, height uint32) (*Surface, error) {
	support := &context.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, support); err != nil {
		return nil, err
	}
	s := &Surface{ctx: context, ImageFormat: chooseSurfaceFormat(support.Formats)}

	rp, err := RenderpassCreate(context, s.ImageFormat.Format, context.Device.DepthFormat)
	if err != nil {
		return nil, err
	}
	s.renderpass = rp

	if err := s.create(width, height); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func (s *Surface) create(width, height uint32) error {
	context := s.ctx
	device := context.Device
	capabilities := device.SwapchainSupport.Capabilities

	swapchainExtent := vk.Extent2D{Width: width, Height: height}
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = capabilities.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	minExtent := capabilities.MinImageExtent
	maxExtent := capabilities.MaxImageExtent
	swapchainExtent.Width = emath.Clamp(swapchainExtent.Width, minExtent.Width, maxExtent.Width)
	swapchainExtent.Height = emath.Clamp(swapchainExtent.Height, minExtent.Height, maxExtent.Height)
	if swapchainExtent.Width == 0 || swapchainExtent.Height == 0 {
		core.LogDebug("swapchain create called when window is < 1 in a dimension. Booting.")
		return nil
	}

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      s.ImageFormat.Format,
		ImageColorSpace:  s.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      choosePresentMode(device.SwapchainSupport.PresentModes),
		Clipped:          vk.True,
		OldSwapchain:     s.Handle,
	}

	var handle vk.Swapchain
	if err := resultError(vk.CreateSwapchain(device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &handle)); err != nil {
		return errors.Wrap(err, "vkCreateSwapchainKHR")
	}
	s.destroyImages()
	if s.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(device.LogicalDevice, s.Handle, context.Allocator)
	}
	s.Handle = handle
	s.extent = swapchainExtent

	var count uint32
	if err := resultError(vk.GetSwapchainImages(device.LogicalDevice, s.Handle, &count, nil)); err != nil {
		return errors.Wrap(err, "get swapchain images")
	}
	s.Images = make([]vk.Image, count)
	if err := resultError(vk.GetSwapchainImages(device.LogicalDevice, s.Handle, &count, s.Images)); err != nil {
		return errors.Wrap(err, "get swapchain images")
	}

	depth, err := ImageCreate(context, swapchainExtent.Width, swapchainExtent.Height, device.DepthFormat,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit), vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return errors.Wrap(err, "depth attachment")
	}
	s.DepthAttachment = depth

	s.Views = make([]vk.ImageView, count)
	s.Framebuffers = make([]*VulkanFramebuffer, count)
	s.targets = make([]*renderTarget, count)
	for i := uint32(0); i < count; i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    s.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   s.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if err := resultError(vk.CreateImageView(device.LogicalDevice, &viewInfo, context.Allocator, &s.Views[i])); err != nil {
			return errors.Wrapf(err, "swapchain image view %d", i)
		}
		fb, err := FramebufferCreate(context, s.renderpass, swapchainExtent.Width, swapchainExtent.Height,
			[]vk.ImageView{s.Views[i], depth.View})
		if err != nil {
			return errors.Wrapf(err, "framebuffer %d", i)
		}
		s.Framebuffers[i] = fb
		s.targets[i] = &renderTarget{surface: s, index: i}
	}

	core.LogInfo("Swapchain created: %d images, %dx%d.", count, swapchainExtent.Width, swapchainExtent.Height)
	return nil
}

func (s *Surface) Acquire(signal renderer.Semaphore, timeout time.Duration) (renderer.RenderTarget, error) {
	if s.released {
		return nil, errors.Wrap(renderer.ErrResourceReleased, "surface")
	}
	if s.Handle == vk.NullSwapchain {
		return nil, renderer.ErrSurfaceOutOfDate
	}
	semaphore, ok := signal.(*VulkanSemaphore)
	if !ok {
		return nil, errors.Wrap(renderer.ErrInvalidUsage, "foreign semaphore")
	}
	var index uint32
	result := vk.AcquireNextImage(s.ctx.Device.LogicalDevice, s.Handle, uint64(timeout.Nanoseconds()),
		semaphore.Handle, vk.NullFence, &index)
	switch result {
	case vk.Success:
		return s.targets[index], nil
	case vk.Suboptimal:
		return s.targets[index], renderer.ErrSurfaceSuboptimal
	case vk.Timeout, vk.NotReady:
		return nil, errors.Wrapf(renderer.ErrDeviceLost, "no swapchain image within %s", timeout)
	}
	return nil, resultError(result)
}

func (s *Surface) Present(target renderer.RenderTarget, wait renderer.Semaphore) error {
	t, ok := target.(*renderTarget)
	if !ok || t.surface != s {
		return errors.Wrap(renderer.ErrInvalidUsage, "target belongs to another surface")
	}
	semaphore, ok := wait.(*VulkanSemaphore)
	if !ok {
		return errors.Wrap(renderer.ErrInvalidUsage, "foreign semaphore")
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{semaphore.Handle},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.Handle},
		PImageIndices:      []uint32{t.index},
	}
	device := s.ctx.Device
	return s.ctx.locks.SafeQueueCall(device.GraphicsQueueIndex, func() error {
		return resultError(vk.QueuePresent(device.GraphicsQueue, &presentInfo))
	})
}

// Rebuild recreates the swapchain. The caller must have waited for the
// device to go idle. Zero dimensions use the window's current extent.
func (s *Surface) Rebuild(width, height uint32) error {
	if s.released {
		return errors.Wrap(renderer.ErrResourceReleased, "surface")
	}
	if width == 0 || height == 0 {
		width, height = s.extent.Width, s.extent.Height
	}
	device := s.ctx.Device
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, s.ctx.Surface, &device.SwapchainSupport); err != nil {
		return err
	}
	return s.ctx.locks.SafeCall(SwapchainManagement, func() error {
		return s.create(width, height)
	})
}

func (s *Surface) Extent() (uint32, uint32) {
	return s.extent.Width, s.extent.Height
}

func (s *Surface) ImageCount() uint32 {
	return uint32(len(s.Images))
}

func (s *Surface) destroyImages() {
	for _, fb := range s.Framebuffers {
		if fb != nil {
			fb.Destroy(s.ctx)
		}
	}
	s.Framebuffers = nil
	// Only destroy the views, not the images, since those are owned by the
	// swapchain.
	for _, view := range s.Views {
		if view != vk.NullImageView {
			vk.DestroyImageView(s.ctx.Device.LogicalDevice, view, s.ctx.Allocator)
		}
	}
	s.Views = nil
	if s.DepthAttachment != nil {
		s.DepthAttachment.Destroy(s.ctx)
		s.DepthAttachment = nil
	}
	s.Images = nil
	s.targets = nil
}

func (s *Surface) Release() {
	if s.released {
		return
	}
	s.released = true
	vk.DeviceWaitIdle(s.ctx.Device.LogicalDevice)
	s.destroyImages()
	if s.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.ctx.Device.LogicalDevice, s.Handle, s.ctx.Allocator)
		s.Handle = vk.NullSwapchain
	}
	if s.renderpass != nil {
		s.renderpass.RenderpassDestroy(s.ctx)
		s.renderpass = nil
	}
}
