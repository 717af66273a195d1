package vulkan

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Config struct {
	AppName string
	// Enables the validation layer and the debug report callback.
	Debug bool
	// Instance extensions the window system needs.
	RequiredExtensions []string
	// CreateWindowSurface returns the VkSurfaceKHR of the window for instance.
	CreateWindowSurface func(instance interface{}) (uintptr, error)
}

// Device implements renderer.Device on a single graphics queue that also
// runs compute and presents.
type Device struct {
	context *VulkanContext
	debug   bool
}

func NewDevice(cfg Config) (*Device, error) {
	if cfg.CreateWindowSurface == nil {
		return nil, errors.Wrap(renderer.ErrInitialization, "vulkan needs a window surface")
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.Wrap(renderer.ErrInitialization, "GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, errors.Wrapf(renderer.ErrInitialization, "vk.Init: %s", err)
	}

	d := &Device{
		context: &VulkanContext{
			Device: &VulkanDevice{},
			locks:  NewVulkanLockPool(),
		},
		debug: cfg.Debug,
	}
	if err := d.createInstance(cfg); err != nil {
		d.Destroy()
		return nil, err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := cfg.CreateWindowSurface(d.context.Instance)
	if err != nil || surface == 0 {
		d.Destroy()
		return nil, errors.Wrapf(renderer.ErrInitialization, "window surface: %v", err)
	}
	d.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(d.context); err != nil {
		d.Destroy()
		return nil, err
	}

	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) createInstance(cfg Config) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.AppName),
		PEngineName:        VulkanSafeString("gpucull"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, cfg.RequiredExtensions...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	if d.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if d.debug {
		available, err := instanceLayers()
		if err != nil {
			return err
		}
		if available[validationLayer] {
			layers = append(layers, validationLayer)
			core.LogInfo("Validation layers enabled.")
		} else {
			core.LogWarn("Validation layer %s is missing, continuing without it.", validationLayer)
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := resultError(vk.CreateInstance(&createInfo, d.context.Allocator, &instance)); err != nil {
		return errors.Wrap(err, "vkCreateInstance")
	}
	d.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return errors.Wrapf(renderer.ErrInitialization, "vk.InitInstance: %s", err)
	}
	core.LogInfo("Vulkan Instance created.")

	if d.debug {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			d.context.debugMessenger = dbg
		}
	}
	return nil
}

func instanceLayers() (map[string]bool, error) {
	var count uint32
	if err := resultError(vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return nil, errors.Wrap(err, "enumerate instance layers")
	}
	layers := make([]vk.LayerProperties, count)
	if count != 0 {
		if err := resultError(vk.EnumerateInstanceLayerProperties(&count, layers)); err != nil {
			return nil, errors.Wrap(err, "enumerate instance layers")
		}
	}
	names := make(map[string]bool, count)
	for i := range layers {
		layers[i].Deref()
		names[cString(layers[i].LayerName[:])] = true
	}
	return names, nil
}

func (d *Device) Capabilities() renderer.Capabilities {
	return d.context.Device.Capabilities()
}

// NewSurface creates the swapchain of the window surface.
func (d *Device) NewSurface(width, height uint32) (*Surface, error) {
	return NewSurface(d.context, width, height)
}

func (d *Device) CreateBuffer(desc renderer.BufferDesc) (renderer.Buffer, error) {
	return NewBuffer(d.context, desc)
}

func (d *Device) CreateTexture(data *metadata.TextureData, sampler metadata.SamplerConfig) (renderer.Texture, error) {
	return NewTexture(d.context, data, sampler)
}

func (d *Device) CreateFence(signaled bool) (renderer.Fence, error) {
	return NewFence(d.context, signaled)
}

func (d *Device) CreateSemaphore() (renderer.Semaphore, error) {
	return NewSemaphore(d.context)
}

func (d *Device) CreateCommandSequence() (renderer.CommandSequence, error) {
	return NewVulkanCommandBuffer(d.context)
}

func (d *Device) CreateComputePipeline(desc renderer.ComputePipelineDesc) (renderer.Pipeline, error) {
	return NewComputePipeline(d.context, desc)
}

func (d *Device) CreateGraphicsPipeline(desc renderer.GraphicsPipelineDesc) (renderer.Pipeline, error) {
	return NewGraphicsPipeline(d.context, desc)
}

func (d *Device) CreateBindingSet(pipeline renderer.Pipeline, bindings []renderer.Binding) (renderer.BindingSet, error) {
	p, ok := pipeline.(*VulkanPipeline)
	if !ok {
		return nil, errors.Wrap(renderer.ErrInvalidUsage, "foreign pipeline")
	}
	return NewBindingSet(d.context, p, bindings)
}

func (d *Device) Submit(info renderer.SubmitInfo) error {
	cmd, ok := info.Commands.(*VulkanCommandBuffer)
	if !ok {
		return errors.Wrap(renderer.ErrInvalidUsage, "foreign command sequence")
	}
	if cmd.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return errors.Wrapf(renderer.ErrInvalidUsage, "submit command buffer in state %d", cmd.State)
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd.Handle},
	}
	if wait, ok := info.Wait.(*VulkanSemaphore); ok && wait != nil {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{wait.Handle}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{stageFlags(info.WaitStage)}
	}
	if signal, ok := info.Signal.(*VulkanSemaphore); ok && signal != nil {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{signal.Handle}
	}
	fence := vk.NullFence
	if f, ok := info.Fence.(*VulkanFence); ok && f != nil {
		fence = f.Handle
	}

	device := d.context.Device
	if err := d.context.locks.SafeQueueCall(device.GraphicsQueueIndex, func() error {
		return resultError(vk.QueueSubmit(device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence))
	}); err != nil {
		return errors.Wrap(err, "vkQueueSubmit")
	}
	cmd.UpdateSubmitted()
	return nil
}

// WaitIdle submits an empty batch with a fence, which signals once every
// earlier submission has completed.
func (d *Device) WaitIdle(timeout time.Duration) error {
	fence, err := NewFence(d.context, false)
	if err != nil {
		return err
	}
	defer fence.Release()

	device := d.context.Device
	if err := d.context.locks.SafeQueueCall(device.GraphicsQueueIndex, func() error {
		return resultError(vk.QueueSubmit(device.GraphicsQueue, 0, nil, fence.Handle))
	}); err != nil {
		return errors.Wrap(err, "idle submit")
	}
	return fence.Wait(timeout)
}

func (d *Device) Destroy() {
	ctx := d.context
	if ctx.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.Device.LogicalDevice)
	}
	DeviceDestroy(ctx)

	if ctx.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
