package device

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/goki/vulkan"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/vk"
)

func sliceUint32(raw []byte) []uint32 {
	result := make([]uint32, len(raw)/4)
	for i := range result {
		result[i] = binary.LittleEndian.Uint32(raw[i*4 : (i+1)*4])
	}
	return result
}

func (d *Device) CreateShaderModule(code []byte) (driver.ShaderModule, error) {
	var module vulkan.ShaderModule
	if err := vulkan.Error(vulkan.CreateShaderModule(d.device, &vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    sliceUint32(code),
	}, nil, &module)); err != nil {
		return 0, fmt.Errorf("failed to create shader module: %w", err)
	}
	return driver.ShaderModule(addr(unsafe.Pointer(module))), nil
}

func (d *Device) DestroyShaderModule(module driver.ShaderModule) {
	if module != 0 {
		vulkan.DestroyShaderModule(d.device, vulkan.ShaderModule(raw(module)), nil)
	}
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	vkBindings := make([]vulkan.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vulkan.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vulkan.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vulkan.ShaderStageFlags(b.Stages),
		}
	}

	var layout vulkan.DescriptorSetLayout
	if err := vulkan.Error(vulkan.CreateDescriptorSetLayout(d.device, &vulkan.DescriptorSetLayoutCreateInfo{
		SType:        vulkan.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}, nil, &layout)); err != nil {
		return 0, fmt.Errorf("failed to create descriptor set layout: %w", err)
	}
	return driver.DescriptorSetLayout(addr(unsafe.Pointer(layout))), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout driver.DescriptorSetLayout) {
	if layout != 0 {
		vulkan.DestroyDescriptorSetLayout(d.device, vulkan.DescriptorSetLayout(raw(layout)), nil)
	}
}

func (d *Device) CreateDescriptorPool(sizes []driver.DescriptorPoolSize, maxSets uint32) (driver.DescriptorPool, error) {
	vkSizes := make([]vulkan.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		vkSizes[i] = vulkan.DescriptorPoolSize{
			Type:            vulkan.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}

	var pool vulkan.DescriptorPool
	if err := vulkan.Error(vulkan.CreateDescriptorPool(d.device, &vulkan.DescriptorPoolCreateInfo{
		SType:         vulkan.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(vkSizes)),
		PPoolSizes:    vkSizes,
	}, nil, &pool)); err != nil {
		return 0, fmt.Errorf("failed to create descriptor pool: %w", err)
	}
	return driver.DescriptorPool(addr(unsafe.Pointer(pool))), nil
}

func (d *Device) DestroyDescriptorPool(pool driver.DescriptorPool) {
	if pool != 0 {
		vulkan.DestroyDescriptorPool(d.device, vulkan.DescriptorPool(raw(pool)), nil)
	}
}

func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	sets := make([]vulkan.DescriptorSet, 1)
	if err := vulkan.Error(vulkan.AllocateDescriptorSets(d.device, &vulkan.DescriptorSetAllocateInfo{
		SType:              vulkan.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     vulkan.DescriptorPool(raw(pool)),
		DescriptorSetCount: 1,
		PSetLayouts: []vulkan.DescriptorSetLayout{
			vulkan.DescriptorSetLayout(raw(layout)),
		},
	}, &sets[0])); err != nil {
		return 0, fmt.Errorf("failed to allocate descriptor set: %w", err)
	}
	return driver.DescriptorSet(addr(unsafe.Pointer(sets[0]))), nil
}

func (d *Device) UpdateDescriptorSet(set driver.DescriptorSet, writes []driver.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()

	vkWrites := make([]vulkan.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vkWrites[i] = vulkan.WriteDescriptorSet{
			SType:           vulkan.StructureTypeWriteDescriptorSet,
			DstSet:          vulkan.DescriptorSet(raw(set)),
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  vulkan.DescriptorType(w.Type),
		}
		if w.Type == driver.DescriptorTypeAccelerationStructure {
			handle := new(uint64)
			*handle = uint64(w.AccelerationStructure)
			asWrite := &vk.WriteDescriptorSetAccelerationStructure{
				SType:                      vk.StructureTypeWriteDescriptorSetAccelerationStructure,
				AccelerationStructureCount: 1,
				PAccelerationStructures:    unsafe.Pointer(handle),
			}
			pinner.Pin(handle)
			pinner.Pin(asWrite)
			vkWrites[i].PNext = unsafe.Pointer(asWrite)
			continue
		}
		vkWrites[i].PBufferInfo = []vulkan.DescriptorBufferInfo{
			{
				Buffer: vulkan.Buffer(raw(w.Buffer)),
				Offset: vulkan.DeviceSize(w.Offset),
				Range:  vulkan.DeviceSize(w.Range),
			},
		}
	}
	vulkan.UpdateDescriptorSets(d.device, uint32(len(vkWrites)), vkWrites, 0, nil)
}

func (d *Device) CreatePipelineLayout(setLayouts []driver.DescriptorSetLayout, pushConstants []driver.PushConstantRange) (driver.PipelineLayout, error) {
	layouts := make([]vulkan.DescriptorSetLayout, len(setLayouts))
	for i, l := range setLayouts {
		layouts[i] = vulkan.DescriptorSetLayout(raw(l))
	}
	ranges := make([]vulkan.PushConstantRange, len(pushConstants))
	for i, r := range pushConstants {
		ranges[i] = vulkan.PushConstantRange{
			StageFlags: vulkan.ShaderStageFlags(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}

	var layout vulkan.PipelineLayout
	if err := vulkan.Error(vulkan.CreatePipelineLayout(d.device, &vulkan.PipelineLayoutCreateInfo{
		SType:                  vulkan.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}, nil, &layout)); err != nil {
		return 0, fmt.Errorf("failed to create pipeline layout: %w", err)
	}
	return driver.PipelineLayout(addr(unsafe.Pointer(layout))), nil
}

func (d *Device) DestroyPipelineLayout(layout driver.PipelineLayout) {
	if layout != 0 {
		vulkan.DestroyPipelineLayout(d.device, vulkan.PipelineLayout(raw(layout)), nil)
	}
}

func (d *Device) CreateRayTracingPipeline(desc driver.RayTracingPipelineDesc) (driver.Pipeline, driver.Result) {
	var pinner runtime.Pinner
	defer pinner.Unpin()

	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, s := range desc.Stages {
		entry := []byte(cString(s.Entry))
		pinner.Pin(&entry[0])
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  uint32(s.Stage),
			Module: uint64(s.Module),
			PName:  unsafe.Pointer(&entry[0]),
		}
	}
	groups := make([]vk.RayTracingShaderGroupCreateInfo, len(desc.Groups))
	for i, g := range desc.Groups {
		groups[i] = vk.RayTracingShaderGroupCreateInfo{
			SType:              vk.StructureTypeRayTracingShaderGroupCreateInfo,
			Type:               uint32(g.Type),
			GeneralShader:      g.General,
			ClosestHitShader:   g.ClosestHit,
			AnyHitShader:       g.AnyHit,
			IntersectionShader: g.Intersection,
		}
	}

	info := &vk.RayTracingPipelineCreateInfo{
		SType:                        vk.StructureTypeRayTracingPipelineCreateInfo,
		StageCount:                   uint32(len(stages)),
		GroupCount:                   uint32(len(groups)),
		MaxPipelineRayRecursionDepth: desc.MaxRecursionDepth,
		Layout:                       uint64(desc.Layout),
	}
	if len(stages) > 0 {
		pinner.Pin(&stages[0])
		info.PStages = unsafe.Pointer(&stages[0])
	}
	if len(groups) > 0 {
		pinner.Pin(&groups[0])
		info.PGroups = unsafe.Pointer(&groups[0])
	}

	pipeline, result := vk.CreateRayTracingPipeline(uintptr(unsafe.Pointer(d.device)), info)
	return driver.Pipeline(pipeline), driver.Result(result)
}

func (d *Device) DestroyPipeline(pipeline driver.Pipeline) {
	if pipeline != 0 {
		vulkan.DestroyPipeline(d.device, vulkan.Pipeline(raw(pipeline)), nil)
	}
}

func (d *Device) ShaderGroupHandles(pipeline driver.Pipeline, firstGroup, groupCount uint32) ([]byte, error) {
	data := make([]byte, int(groupCount)*int(d.rt.ShaderGroupHandleSize))
	result := vk.GetRayTracingShaderGroupHandles(uintptr(unsafe.Pointer(d.device)), uint64(pipeline), firstGroup, groupCount, data)
	if err := vulkan.Error(vulkan.Result(result)); err != nil {
		return nil, fmt.Errorf("failed to get shader group handles: %w", err)
	}
	return data, nil
}
