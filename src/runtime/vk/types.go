package vk

import "unsafe"

type StructureType uint32

const (
	StructureTypePipelineShaderStageCreateInfo               StructureType = 18
	StructureTypePhysicalDeviceProperties2                   StructureType = 1000059001
	StructureTypeMemoryAllocateFlagsInfo                     StructureType = 1000060000
	StructureTypeAccelerationStructureBuildGeometryInfo      StructureType = 1000150000
	StructureTypeAccelerationStructureDeviceAddressInfo      StructureType = 1000150002
	StructureTypeAccelerationStructureGeometryInstancesData  StructureType = 1000150004
	StructureTypeAccelerationStructureGeometryTrianglesData  StructureType = 1000150005
	StructureTypeAccelerationStructureGeometry               StructureType = 1000150006
	StructureTypeWriteDescriptorSetAccelerationStructure     StructureType = 1000150007
	StructureTypePhysicalDeviceAccelerationStructureFeatures StructureType = 1000150013
	StructureTypeRayTracingPipelineCreateInfo                StructureType = 1000150015
	StructureTypeRayTracingShaderGroupCreateInfo             StructureType = 1000150016
	StructureTypeAccelerationStructureCreateInfo             StructureType = 1000150017
	StructureTypeAccelerationStructureBuildSizesInfo         StructureType = 1000150020
	StructureTypeBufferDeviceAddressInfo                     StructureType = 1000244001
	StructureTypePhysicalDeviceBufferDeviceAddressFeatures   StructureType = 1000257000
	StructureTypePhysicalDeviceRayTracingPipelineFeatures    StructureType = 1000347000
	StructureTypePhysicalDeviceRayTracingPipelineProperties  StructureType = 1000347001
)

const (
	AccelerationStructureBuildTypeDevice = 1
	BuildAccelerationStructureModeBuild  = 0
	PipelineBindPointRayTracing          = 1000165000
	DescriptorTypeAccelerationStructure  = 1000150000
	MemoryAllocateDeviceAddressBit       = 0x2

	KhrAccelerationStructureExtensionName  = "VK_KHR_acceleration_structure"
	KhrRayTracingPipelineExtensionName     = "VK_KHR_ray_tracing_pipeline"
	KhrDeferredHostOperationsExtensionName = "VK_KHR_deferred_host_operations"
)

type AccelerationStructureGeometryTrianglesData struct {
	SType         StructureType
	_             uint32
	PNext         unsafe.Pointer
	VertexFormat  uint32
	_             uint32
	VertexData    uint64
	VertexStride  uint64
	MaxVertex     uint32
	IndexType     uint32
	IndexData     uint64
	TransformData uint64
}

type AccelerationStructureGeometryInstancesData struct {
	SType           StructureType
	_               uint32
	PNext           unsafe.Pointer
	ArrayOfPointers uint32
	_               uint32
	Data            uint64
}

// AccelerationStructureGeometry holds its geometry data in a union sized
// for the largest member, the triangles data.
type AccelerationStructureGeometry struct {
	SType        StructureType
	_            uint32
	PNext        unsafe.Pointer
	GeometryType uint32
	_            uint32
	Geometry     [8]uint64
	Flags        uint32
	_            uint32
}

func (g *AccelerationStructureGeometry) SetTriangles(t AccelerationStructureGeometryTrianglesData) {
	*(*AccelerationStructureGeometryTrianglesData)(unsafe.Pointer(&g.Geometry)) = t
}

func (g *AccelerationStructureGeometry) SetInstances(i AccelerationStructureGeometryInstancesData) {
	g.Geometry = [8]uint64{}
	*(*AccelerationStructureGeometryInstancesData)(unsafe.Pointer(&g.Geometry)) = i
}

func (g *AccelerationStructureGeometry) Triangles() AccelerationStructureGeometryTrianglesData {
	return *(*AccelerationStructureGeometryTrianglesData)(unsafe.Pointer(&g.Geometry))
}

func (g *AccelerationStructureGeometry) Instances() AccelerationStructureGeometryInstancesData {
	return *(*AccelerationStructureGeometryInstancesData)(unsafe.Pointer(&g.Geometry))
}

type AccelerationStructureBuildGeometryInfo struct {
	SType                    StructureType
	_                        uint32
	PNext                    unsafe.Pointer
	Type                     uint32
	Flags                    uint32
	Mode                     uint32
	_                        uint32
	SrcAccelerationStructure uint64
	DstAccelerationStructure uint64
	GeometryCount            uint32
	_                        uint32
	PGeometries              unsafe.Pointer
	PpGeometries             unsafe.Pointer
	// ScratchData is a device or host address union; only device builds
	// are issued.
	ScratchData uint64
}

type AccelerationStructureBuildRangeInfo struct {
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}

type AccelerationStructureBuildSizesInfo struct {
	SType                     StructureType
	_                         uint32
	PNext                     unsafe.Pointer
	AccelerationStructureSize uint64
	UpdateScratchSize         uint64
	BuildScratchSize          uint64
}

type AccelerationStructureCreateInfo struct {
	SType         StructureType
	_             uint32
	PNext         unsafe.Pointer
	CreateFlags   uint32
	_             uint32
	Buffer        uint64
	Offset        uint64
	Size          uint64
	Type          uint32
	_             uint32
	DeviceAddress uint64
}

type AccelerationStructureDeviceAddressInfo struct {
	SType                 StructureType
	_                     uint32
	PNext                 unsafe.Pointer
	AccelerationStructure uint64
}

type BufferDeviceAddressInfo struct {
	SType  StructureType
	_      uint32
	PNext  unsafe.Pointer
	Buffer uint64
}

type StridedDeviceAddressRegion struct {
	DeviceAddress uint64
	Stride        uint64
	Size          uint64
}

type PipelineShaderStageCreateInfo struct {
	SType               StructureType
	_                   uint32
	PNext               unsafe.Pointer
	Flags               uint32
	Stage               uint32
	Module              uint64
	PName               unsafe.Pointer
	PSpecializationInfo unsafe.Pointer
}

type RayTracingShaderGroupCreateInfo struct {
	SType                           StructureType
	_                               uint32
	PNext                           unsafe.Pointer
	Type                            uint32
	GeneralShader                   uint32
	ClosestHitShader                uint32
	AnyHitShader                    uint32
	IntersectionShader              uint32
	_                               uint32
	PShaderGroupCaptureReplayHandle unsafe.Pointer
}

type RayTracingPipelineCreateInfo struct {
	SType                        StructureType
	_                            uint32
	PNext                        unsafe.Pointer
	Flags                        uint32
	StageCount                   uint32
	PStages                      unsafe.Pointer
	GroupCount                   uint32
	_                            uint32
	PGroups                      unsafe.Pointer
	MaxPipelineRayRecursionDepth uint32
	_                            uint32
	PLibraryInfo                 unsafe.Pointer
	PLibraryInterface            unsafe.Pointer
	PDynamicState                unsafe.Pointer
	Layout                       uint64
	BasePipelineHandle           uint64
	BasePipelineIndex            int32
	_                            uint32
}

type PhysicalDeviceRayTracingPipelineProperties struct {
	SType                              StructureType
	_                                  uint32
	PNext                              unsafe.Pointer
	ShaderGroupHandleSize              uint32
	MaxRayRecursionDepth               uint32
	MaxShaderGroupStride               uint32
	ShaderGroupBaseAlignment           uint32
	ShaderGroupHandleCaptureReplaySize uint32
	MaxRayDispatchInvocationCount      uint32
	ShaderGroupHandleAlignment         uint32
	MaxRayHitAttributeSize             uint32
}

// PhysicalDeviceProperties2 leaves the core properties opaque; only the
// chained structures are read.
type PhysicalDeviceProperties2 struct {
	SType      StructureType
	_          uint32
	PNext      unsafe.Pointer
	Properties [1024]byte
}

type PhysicalDeviceBufferDeviceAddressFeatures struct {
	SType                            StructureType
	_                                uint32
	PNext                            unsafe.Pointer
	BufferDeviceAddress              uint32
	BufferDeviceAddressCaptureReplay uint32
	BufferDeviceAddressMultiDevice   uint32
	_                                uint32
}

type PhysicalDeviceAccelerationStructureFeatures struct {
	SType                                                 StructureType
	_                                                     uint32
	PNext                                                 unsafe.Pointer
	AccelerationStructure                                 uint32
	AccelerationStructureCaptureReplay                    uint32
	AccelerationStructureIndirectBuild                    uint32
	AccelerationStructureHostCommands                     uint32
	DescriptorBindingAccelerationStructureUpdateAfterBind uint32
	_                                                     uint32
}

type PhysicalDeviceRayTracingPipelineFeatures struct {
	SType                                                 StructureType
	_                                                     uint32
	PNext                                                 unsafe.Pointer
	RayTracingPipeline                                    uint32
	RayTracingPipelineShaderGroupHandleCaptureReplay      uint32
	RayTracingPipelineShaderGroupHandleCaptureReplayMixed uint32
	RayTracingPipelineTraceRaysIndirect                   uint32
	RayTraversalPrimitiveCulling                          uint32
	_                                                     uint32
}

type MemoryAllocateFlagsInfo struct {
	SType      StructureType
	_          uint32
	PNext      unsafe.Pointer
	Flags      uint32
	DeviceMask uint32
}

type WriteDescriptorSetAccelerationStructure struct {
	SType                      StructureType
	_                          uint32
	PNext                      unsafe.Pointer
	AccelerationStructureCount uint32
	_                          uint32
	PAccelerationStructures    unsafe.Pointer
}
