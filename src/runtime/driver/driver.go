// Package driver is the seam between the ray-tracing core and a concrete
// Vulkan device. The core only talks to Device and CommandBuffer; the goki
// backed implementation lives in runtime/device and tests use drivertest.
package driver

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by WaitFence when the timeout elapses first.
	ErrTimeout = errors.New("driver: fence wait timed out")
	// ErrDeviceLost is returned when the device stops responding.
	ErrDeviceLost = errors.New("driver: device lost")
)

// NeverTimeout waits on a fence without a bound.
const NeverTimeout = time.Duration(1<<63 - 1)

type Device interface {
	RayTracingProperties() RayTracingProperties

	CreateBuffer(desc BufferDesc) (Buffer, Memory, error)
	DestroyBuffer(buffer Buffer, memory Memory)
	// MapMemory returns a host view of size bytes at the start of memory.
	MapMemory(memory Memory, size uint64) ([]byte, error)
	UnmapMemory(memory Memory)
	BufferAddress(buffer Buffer) DeviceAddress

	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(cbs []CommandBuffer)
	// Submit queues cbs as one batch and returns a fence signalled on completion.
	Submit(cbs []CommandBuffer) (Fence, error)
	WaitFence(fence Fence, timeout time.Duration) error
	DestroyFence(fence Fence)

	AccelerationStructureBuildSizes(info *BuildGeometryInfo, maxPrimitiveCounts []uint32) (BuildSizes, error)
	CreateAccelerationStructure(desc AccelerationStructureDesc) (AccelerationStructure, error)
	DestroyAccelerationStructure(as AccelerationStructure)
	AccelerationStructureAddress(as AccelerationStructure) DeviceAddress

	CreateShaderModule(code []byte) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	CreateDescriptorPool(sizes []DescriptorPoolSize, maxSets uint32) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes []DescriptorWrite)

	CreatePipelineLayout(setLayouts []DescriptorSetLayout, pushConstants []PushConstantRange) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)
	// CreateRayTracingPipeline reports the raw creation result; several
	// non-zero results still yield a usable pipeline.
	CreateRayTracingPipeline(desc RayTracingPipelineDesc) (Pipeline, Result)
	DestroyPipeline(pipeline Pipeline)
	// ShaderGroupHandles returns groupCount handles of handleSize bytes each,
	// tightly packed, starting at firstGroup.
	ShaderGroupHandles(pipeline Pipeline, firstGroup, groupCount uint32) ([]byte, error)

	WaitIdle() error
}

// CommandBuffer records work for a later Device.Submit.
type CommandBuffer interface {
	Begin() error
	End() error

	CopyBuffer(src, dst Buffer, regions ...BufferCopy)
	MemoryBarrier(srcStage PipelineStage, srcAccess Access, dstStage PipelineStage, dstAccess Access)
	BuildAccelerationStructure(info *BuildGeometryInfo, ranges []BuildRange)

	BindRayTracingPipeline(pipeline Pipeline)
	BindDescriptorSets(layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	PushConstants(layout PipelineLayout, stages ShaderStage, offset uint32, data []byte)
	TraceRays(raygen, miss, hit, callable StridedRegion, width, height, depth uint32)
}
