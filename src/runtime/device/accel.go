package device

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/goki/vulkan"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/vk"
)

// buildInfo lowers info into the C layout. The returned pinner keeps the
// geometry array in place and must be released after the call.
func buildInfo(info *driver.BuildGeometryInfo) (*vk.AccelerationStructureBuildGeometryInfo, *runtime.Pinner) {
	pinner := &runtime.Pinner{}

	geometries := make([]vk.AccelerationStructureGeometry, len(info.Geometries))
	for i, g := range info.Geometries {
		geometries[i] = vk.AccelerationStructureGeometry{
			SType:        vk.StructureTypeAccelerationStructureGeometry,
			GeometryType: uint32(g.Type),
			Flags:        uint32(g.Flags),
		}
		switch g.Type {
		case driver.GeometryTriangles:
			geometries[i].SetTriangles(vk.AccelerationStructureGeometryTrianglesData{
				SType:         vk.StructureTypeAccelerationStructureGeometryTrianglesData,
				VertexFormat:  uint32(g.Triangles.VertexFormat),
				VertexData:    uint64(g.Triangles.VertexData),
				VertexStride:  g.Triangles.VertexStride,
				MaxVertex:     g.Triangles.MaxVertex,
				IndexType:     uint32(g.Triangles.IndexType),
				IndexData:     uint64(g.Triangles.IndexData),
				TransformData: uint64(g.Triangles.TransformData),
			})
		case driver.GeometryInstances:
			geometries[i].SetInstances(vk.AccelerationStructureGeometryInstancesData{
				SType: vk.StructureTypeAccelerationStructureGeometryInstancesData,
				Data:  uint64(g.Instances.Data),
			})
		}
	}

	build := &vk.AccelerationStructureBuildGeometryInfo{
		SType:                    vk.StructureTypeAccelerationStructureBuildGeometryInfo,
		Type:                     uint32(info.Type),
		Flags:                    uint32(info.Flags),
		Mode:                     vk.BuildAccelerationStructureModeBuild,
		DstAccelerationStructure: uint64(info.Dst),
		GeometryCount:            uint32(len(geometries)),
		ScratchData:              uint64(info.ScratchData),
	}
	if len(geometries) > 0 {
		pinner.Pin(&geometries[0])
		build.PGeometries = unsafe.Pointer(&geometries[0])
	}
	return build, pinner
}

func (d *Device) AccelerationStructureBuildSizes(info *driver.BuildGeometryInfo, maxPrimitiveCounts []uint32) (driver.BuildSizes, error) {
	if len(maxPrimitiveCounts) != len(info.Geometries) {
		return driver.BuildSizes{}, fmt.Errorf("build sizes: %d primitive counts for %d geometries", len(maxPrimitiveCounts), len(info.Geometries))
	}
	build, pinner := buildInfo(info)
	defer pinner.Unpin()

	sizes := vk.GetAccelerationStructureBuildSizes(uintptr(unsafe.Pointer(d.device)), build, maxPrimitiveCounts)
	return driver.BuildSizes{
		AccelerationStructureSize: sizes.AccelerationStructureSize,
		UpdateScratchSize:         sizes.UpdateScratchSize,
		BuildScratchSize:          sizes.BuildScratchSize,
	}, nil
}

func (d *Device) CreateAccelerationStructure(desc driver.AccelerationStructureDesc) (driver.AccelerationStructure, error) {
	handle, result := vk.CreateAccelerationStructure(uintptr(unsafe.Pointer(d.device)), &vk.AccelerationStructureCreateInfo{
		SType:  vk.StructureTypeAccelerationStructureCreateInfo,
		Buffer: uint64(desc.Buffer),
		Offset: desc.Offset,
		Size:   desc.Size,
		Type:   uint32(desc.Type),
	})
	if err := vulkan.Error(vulkan.Result(result)); err != nil {
		return 0, fmt.Errorf("failed to create acceleration structure: %w", err)
	}
	return driver.AccelerationStructure(handle), nil
}

func (d *Device) DestroyAccelerationStructure(as driver.AccelerationStructure) {
	if as != 0 {
		vk.DestroyAccelerationStructure(uintptr(unsafe.Pointer(d.device)), uint64(as))
	}
}

func (d *Device) AccelerationStructureAddress(as driver.AccelerationStructure) driver.DeviceAddress {
	return driver.DeviceAddress(vk.GetAccelerationStructureDeviceAddress(uintptr(unsafe.Pointer(d.device)), uint64(as)))
}
