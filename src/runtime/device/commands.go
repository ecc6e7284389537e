package device

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/goki/vulkan"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/vk"
)

type commandBuffer struct {
	device *Device
	cb     vulkan.CommandBuffer
}

var _ driver.CommandBuffer = (*commandBuffer)(nil)

func (d *Device) AllocateCommandBuffers(count int) ([]driver.CommandBuffer, error) {
	cbs := make([]vulkan.CommandBuffer, count)
	if err := vulkan.Error(vulkan.AllocateCommandBuffers(d.device, &vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandPool:        d.pool,
		CommandBufferCount: uint32(count),
	}, cbs)); err != nil {
		return nil, fmt.Errorf("failed to allocate command buffers: %w", err)
	}

	out := make([]driver.CommandBuffer, count)
	for i, cb := range cbs {
		out[i] = &commandBuffer{device: d, cb: cb}
	}
	return out, nil
}

func unwrap(cbs []driver.CommandBuffer) []vulkan.CommandBuffer {
	out := make([]vulkan.CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		out = append(out, cb.(*commandBuffer).cb)
	}
	return out
}

func (d *Device) FreeCommandBuffers(cbs []driver.CommandBuffer) {
	if len(cbs) == 0 {
		return
	}
	handles := unwrap(cbs)
	vulkan.FreeCommandBuffers(d.device, d.pool, uint32(len(handles)), handles)
}

func (d *Device) Submit(cbs []driver.CommandBuffer) (driver.Fence, error) {
	var fence vulkan.Fence
	if err := vulkan.Error(vulkan.CreateFence(d.device, &vulkan.FenceCreateInfo{
		SType: vulkan.StructureTypeFenceCreateInfo,
	}, nil, &fence)); err != nil {
		return 0, fmt.Errorf("failed to create fence: %w", err)
	}

	handles := unwrap(cbs)
	if err := vulkan.Error(vulkan.QueueSubmit(d.queue, 1, []vulkan.SubmitInfo{
		{
			SType:              vulkan.StructureTypeSubmitInfo,
			CommandBufferCount: uint32(len(handles)),
			PCommandBuffers:    handles,
		},
	}, fence)); err != nil {
		vulkan.DestroyFence(d.device, fence, nil)
		return 0, fmt.Errorf("failed to submit command buffers: %w", err)
	}
	return driver.Fence(addr(unsafe.Pointer(fence))), nil
}

func (d *Device) WaitFence(fence driver.Fence, timeout time.Duration) error {
	nanos := ^uint64(0)
	if timeout < driver.NeverTimeout {
		nanos = uint64(max(timeout, 0))
	}

	switch result := vulkan.WaitForFences(d.device, 1, []vulkan.Fence{vulkan.Fence(raw(fence))}, vulkan.True, nanos); result {
	case vulkan.Success:
		return nil
	case vulkan.Timeout:
		return driver.ErrTimeout
	case vulkan.ErrorDeviceLost:
		return driver.ErrDeviceLost
	default:
		return fmt.Errorf("failed to wait for fence: %w", vulkan.Error(result))
	}
}

func (d *Device) DestroyFence(fence driver.Fence) {
	if fence != 0 {
		vulkan.DestroyFence(d.device, vulkan.Fence(raw(fence)), nil)
	}
}

func (c *commandBuffer) Begin() error {
	if err := vulkan.Error(vulkan.BeginCommandBuffer(c.cb, &vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	})); err != nil {
		return fmt.Errorf("failed to begin recording command buffer: %w", err)
	}
	return nil
}

func (c *commandBuffer) End() error {
	if err := vulkan.Error(vulkan.EndCommandBuffer(c.cb)); err != nil {
		return fmt.Errorf("failed to end command buffer: %w", err)
	}
	return nil
}

func (c *commandBuffer) CopyBuffer(src, dst driver.Buffer, regions ...driver.BufferCopy) {
	copies := make([]vulkan.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vulkan.BufferCopy{
			SrcOffset: vulkan.DeviceSize(r.SrcOffset),
			DstOffset: vulkan.DeviceSize(r.DstOffset),
			Size:      vulkan.DeviceSize(r.Size),
		}
	}
	vulkan.CmdCopyBuffer(c.cb, vulkan.Buffer(raw(src)), vulkan.Buffer(raw(dst)), uint32(len(copies)), copies)
}

func (c *commandBuffer) MemoryBarrier(srcStage driver.PipelineStage, srcAccess driver.Access, dstStage driver.PipelineStage, dstAccess driver.Access) {
	vulkan.CmdPipelineBarrier(
		c.cb,
		vulkan.PipelineStageFlags(srcStage),
		vulkan.PipelineStageFlags(dstStage),
		0,
		1, []vulkan.MemoryBarrier{
			{
				SType:         vulkan.StructureTypeMemoryBarrier,
				SrcAccessMask: vulkan.AccessFlags(srcAccess),
				DstAccessMask: vulkan.AccessFlags(dstAccess),
			},
		},
		0, nil,
		0, nil,
	)
}

func (c *commandBuffer) BuildAccelerationStructure(info *driver.BuildGeometryInfo, ranges []driver.BuildRange) {
	build, pinner := buildInfo(info)
	defer pinner.Unpin()

	vkRanges := make([]vk.AccelerationStructureBuildRangeInfo, len(ranges))
	for i, r := range ranges {
		vkRanges[i] = vk.AccelerationStructureBuildRangeInfo{
			PrimitiveCount:  r.PrimitiveCount,
			PrimitiveOffset: r.PrimitiveOffset,
			FirstVertex:     r.FirstVertex,
			TransformOffset: r.TransformOffset,
		}
	}
	vk.CmdBuildAccelerationStructure(uintptr(unsafe.Pointer(c.cb)), build, vkRanges)
}

func (c *commandBuffer) BindRayTracingPipeline(pipeline driver.Pipeline) {
	vulkan.CmdBindPipeline(c.cb, vulkan.PipelineBindPoint(vk.PipelineBindPointRayTracing), vulkan.Pipeline(raw(pipeline)))
}

func (c *commandBuffer) BindDescriptorSets(layout driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet) {
	vkSets := make([]vulkan.DescriptorSet, len(sets))
	for i, set := range sets {
		vkSets[i] = vulkan.DescriptorSet(raw(set))
	}
	vulkan.CmdBindDescriptorSets(
		c.cb,
		vulkan.PipelineBindPoint(vk.PipelineBindPointRayTracing),
		vulkan.PipelineLayout(raw(layout)),
		firstSet,
		uint32(len(vkSets)),
		vkSets,
		0,
		nil,
	)
}

func (c *commandBuffer) PushConstants(layout driver.PipelineLayout, stages driver.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vulkan.CmdPushConstants(
		c.cb,
		vulkan.PipelineLayout(raw(layout)),
		vulkan.ShaderStageFlags(stages),
		offset,
		uint32(len(data)),
		unsafe.Pointer(&data[0]),
	)
}

func region(r driver.StridedRegion) vk.StridedDeviceAddressRegion {
	return vk.StridedDeviceAddressRegion{
		DeviceAddress: uint64(r.Address),
		Stride:        r.Stride,
		Size:          r.Size,
	}
}

func (c *commandBuffer) TraceRays(raygen, miss, hit, callable driver.StridedRegion, width, height, depth uint32) {
	vk.CmdTraceRays(uintptr(unsafe.Pointer(c.cb)), region(raygen), region(miss), region(hit), region(callable), width, height, depth)
}
