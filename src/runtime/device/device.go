// Package device opens a headless ray-tracing capable Vulkan device with
// goki/vulkan and implements driver.Device on top of it. Entry points that
// goki does not bind go through the vk package.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/goki/vulkan"
	"go.uber.org/zap"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/vk"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var (
	ErrNoValidationLayer = errors.New("device: validation layer not available")
	ErrNoSuitableDevice  = errors.New("device: no ray tracing capable device found")
	ErrNoMemoryType      = errors.New("device: no suitable memory type")
)

var requiredExtensions = []string{
	vk.KhrAccelerationStructureExtensionName,
	vk.KhrRayTracingPipelineExtensionName,
	vk.KhrDeferredHostOperationsExtensionName,
}

type Options struct {
	AppName    string
	Validation bool
	// Index selects a physical device by enumeration order; a negative
	// index picks the first suitable one.
	Index int
}

type Device struct {
	log *zap.Logger

	instance    vulkan.Instance
	physical    vulkan.PhysicalDevice
	device      vulkan.Device
	queue       vulkan.Queue
	queueFamily uint32
	pool        vulkan.CommandPool

	memory vulkan.PhysicalDeviceMemoryProperties
	rt     driver.RayTracingProperties
	name   string
}

var _ driver.Device = (*Device)(nil)

// New must be called from the thread that will issue every later call.
func New(opts Options, log *zap.Logger) (*Device, error) {
	if err := vulkan.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, fmt.Errorf("failed to locate vulkan loader: %w", err)
	}
	if err := vulkan.Init(); err != nil {
		return nil, fmt.Errorf("failed to init vulkan: %w", err)
	}
	if err := vk.Init(); err != nil {
		return nil, err
	}

	d := &Device{log: log.Named("device")}
	if err := d.init(opts); err != nil {
		d.Close()
		return nil, err
	}
	d.log.Info("device ready",
		zap.String("name", d.name),
		zap.Uint32("queue_family", d.queueFamily),
		zap.Uint32("handle_size", d.rt.ShaderGroupHandleSize),
		zap.Uint32("base_alignment", d.rt.ShaderGroupBaseAlignment),
	)
	return d, nil
}

func (d *Device) init(opts Options) error {
	instance, err := newInstance(opts)
	if err != nil {
		return err
	}
	d.instance = instance
	if err := vk.LoadInstance(uintptr(unsafe.Pointer(instance))); err != nil {
		return err
	}

	physical, family, err := pickPhysicalDevice(instance, opts.Index)
	if err != nil {
		return err
	}
	d.physical = physical
	d.queueFamily = family

	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(physical, &props)
	props.Deref()
	d.name = vulkan.ToString(props.DeviceName[:])

	rt, err := vk.GetPhysicalDeviceRayTracingProperties(uintptr(unsafe.Pointer(physical)))
	if err != nil {
		return err
	}
	d.rt = driver.RayTracingProperties{
		ShaderGroupHandleSize:      rt.ShaderGroupHandleSize,
		ShaderGroupHandleAlignment: rt.ShaderGroupHandleAlignment,
		ShaderGroupBaseAlignment:   rt.ShaderGroupBaseAlignment,
		MaxRayRecursionDepth:       rt.MaxRayRecursionDepth,
		MaxShaderGroupStride:       rt.MaxShaderGroupStride,
	}

	vulkan.GetPhysicalDeviceMemoryProperties(physical, &d.memory)
	d.memory.Deref()

	logical, err := createLogicalDevice(physical, family)
	if err != nil {
		return err
	}
	d.device = logical
	if err := vk.LoadDevice(uintptr(unsafe.Pointer(logical))); err != nil {
		return err
	}

	vulkan.GetDeviceQueue(logical, family, 0, &d.queue)

	if err := vulkan.Error(vulkan.CreateCommandPool(logical, &vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateTransientBit | vulkan.CommandPoolCreateResetCommandBufferBit),
	}, nil, &d.pool)); err != nil {
		return fmt.Errorf("failed to create command pool: %w", err)
	}
	return nil
}

func checkValidationLayer() error {
	var count uint32
	if err := vulkan.Error(vulkan.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return fmt.Errorf("failed to enumerate instance layers: %w", err)
	}
	layers := make([]vulkan.LayerProperties, count)
	if err := vulkan.Error(vulkan.EnumerateInstanceLayerProperties(&count, layers)); err != nil {
		return fmt.Errorf("failed to enumerate instance layers: %w", err)
	}

	for _, layer := range layers {
		layer.Deref()
		if vulkan.ToString(layer.LayerName[:]) == validationLayer {
			return nil
		}
	}
	return ErrNoValidationLayer
}

func newInstance(opts Options) (vulkan.Instance, error) {
	name := opts.AppName
	if name == "" {
		name = "vkprism"
	}

	createInfo := vulkan.InstanceCreateInfo{
		SType: vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vulkan.ApplicationInfo{
			SType:              vulkan.StructureTypeApplicationInfo,
			PApplicationName:   cString(name),
			ApplicationVersion: vulkan.MakeVersion(1, 0, 0),
			PEngineName:        cString("vkprism"),
			EngineVersion:      vulkan.MakeVersion(1, 0, 0),
			ApiVersion:         vulkan.MakeVersion(1, 2, 0),
		},
	}
	if opts.Validation {
		if err := checkValidationLayer(); err != nil {
			return nil, err
		}
		createInfo.EnabledLayerCount = 1
		createInfo.PpEnabledLayerNames = []string{cString(validationLayer)}
	}

	var instance vulkan.Instance
	if err := vulkan.Error(vulkan.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	if err := vulkan.InitInstance(instance); err != nil {
		vulkan.DestroyInstance(instance, nil)
		return nil, fmt.Errorf("failed to init instance: %w", err)
	}
	return instance, nil
}

func supportsExtensions(physical vulkan.PhysicalDevice) (bool, error) {
	var count uint32
	if err := vulkan.Error(vulkan.EnumerateDeviceExtensionProperties(physical, "", &count, nil)); err != nil {
		return false, fmt.Errorf("failed to enumerate device extensions: %w", err)
	}
	extensions := make([]vulkan.ExtensionProperties, count)
	if err := vulkan.Error(vulkan.EnumerateDeviceExtensionProperties(physical, "", &count, extensions)); err != nil {
		return false, fmt.Errorf("failed to enumerate device extensions: %w", err)
	}

	available := make(map[string]bool, len(extensions))
	for _, extension := range extensions {
		extension.Deref()
		available[vulkan.ToString(extension.ExtensionName[:])] = true
	}
	for _, name := range requiredExtensions {
		if !available[name] {
			return false, nil
		}
	}
	return true, nil
}

func findQueueFamily(physical vulkan.PhysicalDevice) (uint32, bool) {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(physical, &count, nil)
	families := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(physical, &count, families)

	want := vulkan.QueueFlags(vulkan.QueueGraphicsBit | vulkan.QueueComputeBit)
	for i, family := range families {
		family.Deref()
		if family.QueueCount > 0 && family.QueueFlags&want == want {
			return uint32(i), true
		}
	}
	return 0, false
}

func suitable(physical vulkan.PhysicalDevice) (uint32, bool, error) {
	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(physical, &props)
	props.Deref()
	// Buffer device address is core from 1.2.
	if props.ApiVersion < vulkan.MakeVersion(1, 2, 0) {
		return 0, false, nil
	}

	ok, err := supportsExtensions(physical)
	if err != nil || !ok {
		return 0, false, err
	}
	family, ok := findQueueFamily(physical)
	return family, ok, nil
}

func pickPhysicalDevice(instance vulkan.Instance, index int) (vulkan.PhysicalDevice, uint32, error) {
	var count uint32
	if err := vulkan.Error(vulkan.EnumeratePhysicalDevices(instance, &count, nil)); err != nil {
		return nil, 0, fmt.Errorf("failed to enumerate physical devices: %w", err)
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if err := vulkan.Error(vulkan.EnumeratePhysicalDevices(instance, &count, devices)); err != nil {
		return nil, 0, fmt.Errorf("failed to enumerate physical devices: %w", err)
	}

	if index >= 0 {
		if index >= len(devices) {
			return nil, 0, fmt.Errorf("%w: index %d of %d", ErrNoSuitableDevice, index, len(devices))
		}
		family, ok, err := suitable(devices[index])
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, fmt.Errorf("%w: device %d lacks ray tracing support", ErrNoSuitableDevice, index)
		}
		return devices[index], family, nil
	}

	for _, physical := range devices {
		family, ok, err := suitable(physical)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			return physical, family, nil
		}
	}
	return nil, 0, ErrNoSuitableDevice
}

func createLogicalDevice(physical vulkan.PhysicalDevice, family uint32) (vulkan.Device, error) {
	rtFeatures := &vk.PhysicalDeviceRayTracingPipelineFeatures{
		SType:              vk.StructureTypePhysicalDeviceRayTracingPipelineFeatures,
		RayTracingPipeline: vkBool(true),
	}
	asFeatures := &vk.PhysicalDeviceAccelerationStructureFeatures{
		SType:                 vk.StructureTypePhysicalDeviceAccelerationStructureFeatures,
		PNext:                 unsafe.Pointer(rtFeatures),
		AccelerationStructure: vkBool(true),
	}
	bdaFeatures := &vk.PhysicalDeviceBufferDeviceAddressFeatures{
		SType:               vk.StructureTypePhysicalDeviceBufferDeviceAddressFeatures,
		PNext:               unsafe.Pointer(asFeatures),
		BufferDeviceAddress: vkBool(true),
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(rtFeatures)
	pinner.Pin(asFeatures)
	pinner.Pin(bdaFeatures)

	extensions := make([]string, len(requiredExtensions))
	for i, name := range requiredExtensions {
		extensions[i] = cString(name)
	}

	var logical vulkan.Device
	if err := vulkan.Error(vulkan.CreateDevice(physical, &vulkan.DeviceCreateInfo{
		SType:                vulkan.StructureTypeDeviceCreateInfo,
		PNext:                unsafe.Pointer(bdaFeatures),
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vulkan.DeviceQueueCreateInfo{
			{
				SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
				QueueFamilyIndex: family,
				QueueCount:       1,
				PQueuePriorities: []float32{1.0},
			},
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}, nil, &logical)); err != nil {
		return nil, fmt.Errorf("failed to create logical device: %w", err)
	}
	return logical, nil
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) RayTracingProperties() driver.RayTracingProperties {
	return d.rt
}

func (d *Device) WaitIdle() error {
	if err := vulkan.Error(vulkan.DeviceWaitIdle(d.device)); err != nil {
		return fmt.Errorf("failed to wait for device idle: %w", err)
	}
	return nil
}

// Close destroys the pool, the device and the instance in that order.
// Every object created through d must be destroyed first.
func (d *Device) Close() {
	if d.device != nil {
		vulkan.DeviceWaitIdle(d.device)
		if d.pool != nil {
			vulkan.DestroyCommandPool(d.device, d.pool, nil)
			d.pool = nil
		}
		vulkan.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.instance != nil {
		vulkan.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
	vk.Teardown()
}
