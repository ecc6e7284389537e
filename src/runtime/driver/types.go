package driver

// Opaque device object handles. Zero is the null handle for all of them.
type (
	Buffer                uint64
	Memory                uint64
	Fence                 uint64
	AccelerationStructure uint64
	ShaderModule          uint64
	Pipeline              uint64
	PipelineLayout        uint64
	DescriptorSetLayout   uint64
	DescriptorPool        uint64
	DescriptorSet         uint64
)

// DeviceAddress is a GPU virtual address inside a buffer's memory.
type DeviceAddress uint64

// BufferUsage mirrors VkBufferUsageFlags.
type BufferUsage uint32

const (
	BufferUsageTransferSrc                  BufferUsage = 0x00000001
	BufferUsageTransferDst                  BufferUsage = 0x00000002
	BufferUsageStorageBuffer                BufferUsage = 0x00000020
	BufferUsageShaderBindingTable           BufferUsage = 0x00000400
	BufferUsageShaderDeviceAddress          BufferUsage = 0x00020000
	BufferUsageAccelerationStructureInput   BufferUsage = 0x00080000
	BufferUsageAccelerationStructureStorage BufferUsage = 0x00100000
)

// MemoryProperty mirrors VkMemoryPropertyFlags.
type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal  MemoryProperty = 0x1
	MemoryPropertyHostVisible  MemoryProperty = 0x2
	MemoryPropertyHostCoherent MemoryProperty = 0x4
	MemoryPropertyHostCached   MemoryProperty = 0x8
)

// PipelineStage mirrors VkPipelineStageFlags.
type PipelineStage uint32

const (
	PipelineStageTransfer                   PipelineStage = 0x00001000
	PipelineStageRayTracingShader           PipelineStage = 0x00200000
	PipelineStageAccelerationStructureBuild PipelineStage = 0x02000000
)

// Access mirrors VkAccessFlags.
type Access uint32

const (
	AccessShaderRead                 Access = 0x00000020
	AccessShaderWrite                Access = 0x00000040
	AccessTransferRead               Access = 0x00000800
	AccessTransferWrite              Access = 0x00001000
	AccessHostRead                   Access = 0x00002000
	AccessAccelerationStructureRead  Access = 0x00200000
	AccessAccelerationStructureWrite Access = 0x00400000
)

// ShaderStage mirrors VkShaderStageFlags for the ray-tracing stages.
type ShaderStage uint32

const (
	ShaderStageRaygen       ShaderStage = 0x00000100
	ShaderStageAnyHit       ShaderStage = 0x00000200
	ShaderStageClosestHit   ShaderStage = 0x00000400
	ShaderStageMiss         ShaderStage = 0x00000800
	ShaderStageIntersection ShaderStage = 0x00001000
	ShaderStageCallable     ShaderStage = 0x00002000
)

type DescriptorType uint32

const (
	DescriptorTypeUniformBuffer         DescriptorType = 6
	DescriptorTypeStorageBuffer         DescriptorType = 7
	DescriptorTypeAccelerationStructure DescriptorType = 1000150000
)

type AccelerationStructureType uint32

const (
	AccelerationStructureTopLevel    AccelerationStructureType = 0
	AccelerationStructureBottomLevel AccelerationStructureType = 1
)

type GeometryType uint32

const (
	GeometryTriangles GeometryType = 0
	GeometryInstances GeometryType = 2
)

type GeometryFlags uint32

const GeometryOpaque GeometryFlags = 0x1

type BuildFlags uint32

const (
	BuildAllowUpdate     BuildFlags = 0x1
	BuildAllowCompaction BuildFlags = 0x2
	BuildPreferFastTrace BuildFlags = 0x4
)

type Format uint32

const FormatR32G32B32Sfloat Format = 106

type IndexType uint32

const (
	IndexTypeUint16 IndexType = 0
	IndexTypeUint32 IndexType = 1
)

type ShaderGroupType uint32

const (
	ShaderGroupGeneral       ShaderGroupType = 0
	ShaderGroupTrianglesHit  ShaderGroupType = 1
	ShaderGroupProceduralHit ShaderGroupType = 2
)

// ShaderUnused marks an unused shader slot in a shader group.
const ShaderUnused = ^uint32(0)

// RayTracingProperties holds the device limits that drive SBT layout.
type RayTracingProperties struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MaxRayRecursionDepth       uint32
	MaxShaderGroupStride       uint32
}

type BufferDesc struct {
	Size      uint64
	Usage     BufferUsage
	Required  MemoryProperty
	Preferred MemoryProperty
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type Triangles struct {
	VertexFormat  Format
	VertexData    DeviceAddress
	VertexStride  uint64
	MaxVertex     uint32
	IndexType     IndexType
	IndexData     DeviceAddress
	TransformData DeviceAddress
}

type Instances struct {
	Data DeviceAddress
}

type Geometry struct {
	Type      GeometryType
	Triangles Triangles
	Instances Instances
	Flags     GeometryFlags
}

type BuildGeometryInfo struct {
	Type        AccelerationStructureType
	Flags       BuildFlags
	Dst         AccelerationStructure
	Geometries  []Geometry
	ScratchData DeviceAddress
}

type BuildRange struct {
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}

type BuildSizes struct {
	AccelerationStructureSize uint64
	UpdateScratchSize         uint64
	BuildScratchSize          uint64
}

type AccelerationStructureDesc struct {
	Type   AccelerationStructureType
	Buffer Buffer
	Offset uint64
	Size   uint64
}

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorWrite targets one binding. Exactly one of Buffer or
// AccelerationStructure is used, depending on Type.
type DescriptorWrite struct {
	Binding               uint32
	Type                  DescriptorType
	Buffer                Buffer
	Offset                uint64
	Range                 uint64
	AccelerationStructure AccelerationStructure
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type ShaderStageDesc struct {
	Stage  ShaderStage
	Module ShaderModule
	Entry  string
}

type ShaderGroupDesc struct {
	Type         ShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

type RayTracingPipelineDesc struct {
	Stages            []ShaderStageDesc
	Groups            []ShaderGroupDesc
	MaxRecursionDepth uint32
	Layout            PipelineLayout
}

// StridedRegion is one SBT region as consumed by TraceRays.
type StridedRegion struct {
	Address DeviceAddress
	Stride  uint64
	Size    uint64
}
