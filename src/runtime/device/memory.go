package device

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/goki/vulkan"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/vk"
)

func (d *Device) findMemoryType(typeFilter uint32, required, preferred driver.MemoryProperty) (uint32, error) {
	match := func(want vulkan.MemoryPropertyFlags) (uint32, bool) {
		for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
			d.memory.MemoryTypes[i].Deref()
			if typeFilter&(1<<i) != 0 && d.memory.MemoryTypes[i].PropertyFlags&want == want {
				return i, true
			}
		}
		return 0, false
	}

	if i, ok := match(vulkan.MemoryPropertyFlags(required | preferred)); ok {
		return i, nil
	}
	if i, ok := match(vulkan.MemoryPropertyFlags(required)); ok {
		return i, nil
	}
	return 0, fmt.Errorf("%w: filter %#x, properties %#x", ErrNoMemoryType, typeFilter, uint32(required))
}

func (d *Device) CreateBuffer(desc driver.BufferDesc) (driver.Buffer, driver.Memory, error) {
	var buffer vulkan.Buffer
	if err := vulkan.Error(vulkan.CreateBuffer(d.device, &vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        vulkan.DeviceSize(desc.Size),
		Usage:       vulkan.BufferUsageFlags(desc.Usage),
		SharingMode: vulkan.SharingModeExclusive,
	}, nil, &buffer)); err != nil {
		return 0, 0, fmt.Errorf("failed to create buffer: %w", err)
	}

	var memRequirements vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(d.device, buffer, &memRequirements)
	memRequirements.Deref()

	typeIndex, err := d.findMemoryType(memRequirements.MemoryTypeBits, desc.Required, desc.Preferred)
	if err != nil {
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return 0, 0, err
	}

	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: typeIndex,
	}
	var pinner runtime.Pinner
	defer pinner.Unpin()
	if desc.Usage&driver.BufferUsageShaderDeviceAddress != 0 {
		flags := &vk.MemoryAllocateFlagsInfo{
			SType: vk.StructureTypeMemoryAllocateFlagsInfo,
			Flags: vk.MemoryAllocateDeviceAddressBit,
		}
		pinner.Pin(flags)
		allocInfo.PNext = unsafe.Pointer(flags)
	}

	var memory vulkan.DeviceMemory
	if err := vulkan.Error(vulkan.AllocateMemory(d.device, &allocInfo, nil, &memory)); err != nil {
		vulkan.DestroyBuffer(d.device, buffer, nil)
		return 0, 0, fmt.Errorf("failed to allocate buffer memory: %w", err)
	}

	if err := vulkan.Error(vulkan.BindBufferMemory(d.device, buffer, memory, 0)); err != nil {
		vulkan.DestroyBuffer(d.device, buffer, nil)
		vulkan.FreeMemory(d.device, memory, nil)
		return 0, 0, fmt.Errorf("failed to bind buffer memory: %w", err)
	}

	return driver.Buffer(addr(unsafe.Pointer(buffer))), driver.Memory(addr(unsafe.Pointer(memory))), nil
}

func (d *Device) DestroyBuffer(buffer driver.Buffer, memory driver.Memory) {
	if buffer != 0 {
		vulkan.DestroyBuffer(d.device, vulkan.Buffer(raw(buffer)), nil)
	}
	if memory != 0 {
		vulkan.FreeMemory(d.device, vulkan.DeviceMemory(raw(memory)), nil)
	}
}

func (d *Device) MapMemory(memory driver.Memory, size uint64) ([]byte, error) {
	var data unsafe.Pointer
	if err := vulkan.Error(vulkan.MapMemory(d.device, vulkan.DeviceMemory(raw(memory)), 0, vulkan.DeviceSize(size), 0, &data)); err != nil {
		return nil, fmt.Errorf("failed to map memory: %w", err)
	}
	return unsafe.Slice((*byte)(data), size), nil
}

func (d *Device) UnmapMemory(memory driver.Memory) {
	vulkan.UnmapMemory(d.device, vulkan.DeviceMemory(raw(memory)))
}

func (d *Device) BufferAddress(buffer driver.Buffer) driver.DeviceAddress {
	return driver.DeviceAddress(vk.GetBufferDeviceAddress(uintptr(unsafe.Pointer(d.device)), uint64(buffer)))
}
