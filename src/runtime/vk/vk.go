// Package vk loads the ray tracing entry points that the core bindings do
// not cover and calls them with C-layout structs.
package vk

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

const loaderName = "libvulkan.so.1"

var (
	ErrLoader            = errors.New("vk: vulkan loader unavailable")
	ErrMissingEntryPoint = errors.New("vk: entry point not found")
	ErrNotLoaded         = errors.New("vk: entry points not loaded")
)

type table struct {
	getInstanceProcAddr func(instance uintptr, name string) uintptr
	getDeviceProcAddr   func(device uintptr, name string) uintptr

	getPhysicalDeviceProperties2 func(physical uintptr, props *PhysicalDeviceProperties2)

	getBufferDeviceAddress                func(device uintptr, info *BufferDeviceAddressInfo) uint64
	getAccelerationStructureBuildSizes    func(device uintptr, buildType uint32, info *AccelerationStructureBuildGeometryInfo, counts *uint32, sizes *AccelerationStructureBuildSizesInfo)
	createAccelerationStructure           func(device uintptr, info *AccelerationStructureCreateInfo, allocator uintptr, out *uint64) int32
	destroyAccelerationStructure          func(device uintptr, as uint64, allocator uintptr)
	getAccelerationStructureDeviceAddress func(device uintptr, info *AccelerationStructureDeviceAddressInfo) uint64
	cmdBuildAccelerationStructures        func(cb uintptr, count uint32, infos *AccelerationStructureBuildGeometryInfo, ranges **AccelerationStructureBuildRangeInfo)
	createRayTracingPipelines             func(device uintptr, deferred uint64, cache uint64, count uint32, infos *RayTracingPipelineCreateInfo, allocator uintptr, out *uint64) int32
	getRayTracingShaderGroupHandles       func(device uintptr, pipeline uint64, first, count uint32, size uintptr, data unsafe.Pointer) int32
	cmdTraceRays                          func(cb uintptr, raygen, miss, hit, callable *StridedDeviceAddressRegion, width, height, depth uint32)
}

var (
	mu       sync.RWMutex
	library  uintptr
	dispatch table
	instance bool
	device   bool
)

// Init opens the system loader. It is safe to call more than once.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	if library != 0 {
		return nil
	}
	lib, err := purego.Dlopen(loaderName, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoader, err)
	}
	for name, fn := range map[string]any{
		"vkGetInstanceProcAddr": &dispatch.getInstanceProcAddr,
		"vkGetDeviceProcAddr":   &dispatch.getDeviceProcAddr,
	} {
		addr, err := purego.Dlsym(lib, name)
		if err != nil {
			purego.Dlclose(lib)
			return fmt.Errorf("%w: %s: %w", ErrMissingEntryPoint, name, err)
		}
		purego.RegisterFunc(fn, addr)
	}
	library = lib
	return nil
}

// LoadInstance resolves the instance level entry points.
func LoadInstance(inst uintptr) error {
	mu.Lock()
	defer mu.Unlock()

	if library == 0 {
		return ErrNotLoaded
	}
	addr := dispatch.getInstanceProcAddr(inst, "vkGetPhysicalDeviceProperties2")
	if addr == 0 {
		return fmt.Errorf("%w: vkGetPhysicalDeviceProperties2", ErrMissingEntryPoint)
	}
	purego.RegisterFunc(&dispatch.getPhysicalDeviceProperties2, addr)
	instance = true
	return nil
}

// LoadDevice resolves the device level entry points for dev. Only one
// device is supported per process.
func LoadDevice(dev uintptr) error {
	mu.Lock()
	defer mu.Unlock()

	if library == 0 {
		return ErrNotLoaded
	}
	entries := []struct {
		name string
		fn   any
	}{
		{"vkGetBufferDeviceAddress", &dispatch.getBufferDeviceAddress},
		{"vkGetAccelerationStructureBuildSizesKHR", &dispatch.getAccelerationStructureBuildSizes},
		{"vkCreateAccelerationStructureKHR", &dispatch.createAccelerationStructure},
		{"vkDestroyAccelerationStructureKHR", &dispatch.destroyAccelerationStructure},
		{"vkGetAccelerationStructureDeviceAddressKHR", &dispatch.getAccelerationStructureDeviceAddress},
		{"vkCmdBuildAccelerationStructuresKHR", &dispatch.cmdBuildAccelerationStructures},
		{"vkCreateRayTracingPipelinesKHR", &dispatch.createRayTracingPipelines},
		{"vkGetRayTracingShaderGroupHandlesKHR", &dispatch.getRayTracingShaderGroupHandles},
		{"vkCmdTraceRaysKHR", &dispatch.cmdTraceRays},
	}
	for _, e := range entries {
		addr := dispatch.getDeviceProcAddr(dev, e.name)
		if addr == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEntryPoint, e.name)
		}
		purego.RegisterFunc(e.fn, addr)
	}
	device = true
	return nil
}

// Teardown forgets every entry point and closes the loader.
func Teardown() {
	mu.Lock()
	defer mu.Unlock()

	if library != 0 {
		purego.Dlclose(library)
	}
	library = 0
	dispatch = table{}
	instance = false
	device = false
}

func GetPhysicalDeviceRayTracingProperties(physical uintptr) (PhysicalDeviceRayTracingPipelineProperties, error) {
	mu.RLock()
	loaded := instance
	mu.RUnlock()
	if !loaded {
		return PhysicalDeviceRayTracingPipelineProperties{}, ErrNotLoaded
	}

	rt := PhysicalDeviceRayTracingPipelineProperties{SType: StructureTypePhysicalDeviceRayTracingPipelineProperties}
	props := PhysicalDeviceProperties2{
		SType: StructureTypePhysicalDeviceProperties2,
		PNext: unsafe.Pointer(&rt),
	}
	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(&rt)

	dispatch.getPhysicalDeviceProperties2(physical, &props)
	return rt, nil
}

func GetBufferDeviceAddress(dev uintptr, buffer uint64) uint64 {
	return dispatch.getBufferDeviceAddress(dev, &BufferDeviceAddressInfo{
		SType:  StructureTypeBufferDeviceAddressInfo,
		Buffer: buffer,
	})
}

// GetAccelerationStructureBuildSizes queries sizes for a device build with
// one max primitive count per geometry.
func GetAccelerationStructureBuildSizes(dev uintptr, info *AccelerationStructureBuildGeometryInfo, counts []uint32) AccelerationStructureBuildSizesInfo {
	sizes := AccelerationStructureBuildSizesInfo{SType: StructureTypeAccelerationStructureBuildSizesInfo}
	var pCounts *uint32
	if len(counts) > 0 {
		pCounts = &counts[0]
	}
	dispatch.getAccelerationStructureBuildSizes(dev, AccelerationStructureBuildTypeDevice, info, pCounts, &sizes)
	return sizes
}

func CreateAccelerationStructure(dev uintptr, info *AccelerationStructureCreateInfo) (uint64, int32) {
	var handle uint64
	result := dispatch.createAccelerationStructure(dev, info, 0, &handle)
	return handle, result
}

func DestroyAccelerationStructure(dev uintptr, as uint64) {
	dispatch.destroyAccelerationStructure(dev, as, 0)
}

func GetAccelerationStructureDeviceAddress(dev uintptr, as uint64) uint64 {
	return dispatch.getAccelerationStructureDeviceAddress(dev, &AccelerationStructureDeviceAddressInfo{
		SType:                 StructureTypeAccelerationStructureDeviceAddressInfo,
		AccelerationStructure: as,
	})
}

// CmdBuildAccelerationStructure records a single build. The geometries
// pointed to by info must stay pinned until the call returns.
func CmdBuildAccelerationStructure(cb uintptr, info *AccelerationStructureBuildGeometryInfo, ranges []AccelerationStructureBuildRangeInfo) {
	var pinner runtime.Pinner
	defer pinner.Unpin()

	var pRanges *AccelerationStructureBuildRangeInfo
	if len(ranges) > 0 {
		pRanges = &ranges[0]
		pinner.Pin(pRanges)
	}
	dispatch.cmdBuildAccelerationStructures(cb, 1, info, &pRanges)
}

func CreateRayTracingPipeline(dev uintptr, info *RayTracingPipelineCreateInfo) (uint64, int32) {
	var pipeline uint64
	result := dispatch.createRayTracingPipelines(dev, 0, 0, 1, info, 0, &pipeline)
	return pipeline, result
}

func GetRayTracingShaderGroupHandles(dev uintptr, pipeline uint64, first, count uint32, data []byte) int32 {
	if len(data) == 0 {
		return 0
	}
	return dispatch.getRayTracingShaderGroupHandles(dev, pipeline, first, count, uintptr(len(data)), unsafe.Pointer(&data[0]))
}

func CmdTraceRays(cb uintptr, raygen, miss, hit, callable StridedDeviceAddressRegion, width, height, depth uint32) {
	dispatch.cmdTraceRays(cb, &raygen, &miss, &hit, &callable, width, height, depth)
}
