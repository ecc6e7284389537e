package accel

import (
	"context"
	"errors"
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/memory"
	"github.com/WowVeryLogin/vkprism/src/runtime/submit"
	"go.uber.org/zap"
)

// Placement is one mesh of a group, located in the shared geometry buffers.
type Placement struct {
	VertexOffset uint32
	VertexCount  uint32
	FaceOffset   uint32
	FaceCount    uint32

	HasTransform   bool
	TransformIndex uint32
}

// Group becomes one BLAS with one geometry per placement, in order.
type Group []Placement

// Geometry holds the device arrays every placement points into.
// Transforms may be nil when no placement has a transform.
type Geometry struct {
	Vertices   *memory.UniqueBuffer
	Faces      *memory.UniqueBuffer
	Transforms *memory.UniqueBuffer
}

type Options struct {
	AllowCompaction bool
}

type geometryAddresses struct {
	vertices, faces, transforms driver.DeviceAddress
}

func (g Geometry) addresses(groups []Group) (geometryAddresses, error) {
	var needGeometry, needTransforms bool
	for _, group := range groups {
		for _, p := range group {
			needGeometry = true
			needTransforms = needTransforms || p.HasTransform
		}
	}

	var out geometryAddresses
	resolve := func(name string, b *memory.UniqueBuffer, needed bool) (driver.DeviceAddress, error) {
		if !needed {
			return 0, nil
		}
		if !b.Valid() {
			return 0, fmt.Errorf("%w: %s", ErrMissingGeometry, name)
		}
		addr, err := b.DeviceAddress()
		if err != nil {
			return 0, fmt.Errorf("%s buffer: %w", name, err)
		}
		return addr, nil
	}

	var err error
	if out.vertices, err = resolve("vertices", g.Vertices, needGeometry); err != nil {
		return out, err
	}
	if out.faces, err = resolve("faces", g.Faces, needGeometry); err != nil {
		return out, err
	}
	if out.transforms, err = resolve("transforms", g.Transforms, needTransforms); err != nil {
		return out, err
	}
	return out, nil
}

func (a geometryAddresses) describe(group Group, flags driver.BuildFlags) (driver.BuildGeometryInfo, []driver.BuildRange, []uint32) {
	info := driver.BuildGeometryInfo{
		Type:       driver.AccelerationStructureBottomLevel,
		Flags:      flags,
		Geometries: make([]driver.Geometry, len(group)),
	}
	ranges := make([]driver.BuildRange, len(group))
	counts := make([]uint32, len(group))

	for i, p := range group {
		tri := driver.Triangles{
			VertexFormat: driver.FormatR32G32B32Sfloat,
			VertexData:   a.vertices + driver.DeviceAddress(vertexStride*uint64(p.VertexOffset)),
			VertexStride: vertexStride,
			MaxVertex:    max(p.VertexCount, 1) - 1,
			IndexType:    driver.IndexTypeUint32,
			IndexData:    a.faces + driver.DeviceAddress(faceStride*uint64(p.FaceOffset)),
		}
		if p.HasTransform {
			tri.TransformData = a.transforms
			ranges[i].TransformOffset = transformStride * p.TransformIndex
		}
		info.Geometries[i] = driver.Geometry{
			Type:      driver.GeometryTriangles,
			Triangles: tri,
			Flags:     driver.GeometryOpaque,
		}
		ranges[i].PrimitiveCount = p.FaceCount
		counts[i] = p.FaceCount
	}
	return info, ranges, counts
}

// BuildBLAS builds one bottom level structure per group in a single batched
// submission. On error nothing created by the call survives, except after a
// fence timeout: then the structures and scratch are abandoned to the
// pending builds.
func (b *Builder) BuildBLAS(ctx context.Context, geometry Geometry, groups []Group, opts Options) ([]*AccelerationStructure, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	addrs, err := geometry.addresses(groups)
	if err != nil {
		return nil, &submit.StageError{Stage: StageBLAS, Err: err}
	}

	flags := driver.BuildPreferFastTrace
	if opts.AllowCompaction {
		flags |= driver.BuildAllowCompaction
		b.log.Warn("compaction requested but not performed, structures keep their build size")
	}

	dev := b.alloc.Device()
	structures := make([]*AccelerationStructure, 0, len(groups))
	fail := func(err error) ([]*AccelerationStructure, error) {
		closeAll(structures)
		return nil, &submit.StageError{Stage: StageBLAS, Err: err}
	}

	type pendingBuild struct {
		info   driver.BuildGeometryInfo
		ranges []driver.BuildRange
	}
	builds := make([]pendingBuild, len(groups))

	var maxScratch uint64
	for i, group := range groups {
		info, ranges, counts := addrs.describe(group, flags)

		sizes, err := dev.AccelerationStructureBuildSizes(&info, counts)
		if err != nil {
			return fail(fmt.Errorf("%w: group %d: %w", ErrBuildSizes, i, err))
		}

		as, err := b.create(driver.AccelerationStructureBottomLevel, sizes)
		if err != nil {
			return fail(fmt.Errorf("group %d: %w", i, err))
		}
		structures = append(structures, as)

		info.Dst = as.Handle
		builds[i] = pendingBuild{info: info, ranges: ranges}
		maxScratch = max(maxScratch, sizes.BuildScratchSize)

		b.log.Debug("sized bottom level structure",
			zap.Int("group", i),
			zap.Int("geometries", len(group)),
			zap.Uint64("size", sizes.AccelerationStructureSize),
			zap.Uint64("scratch", sizes.BuildScratchSize),
		)
	}

	scratch, scratchAddr, err := b.scratch(maxScratch)
	if err != nil {
		return fail(err)
	}
	cbs, err := b.queue.Begin(len(builds))
	if err != nil {
		scratch.Release()
		return fail(err)
	}
	for i, build := range builds {
		build.info.ScratchData = scratchAddr
		cbs[i].BuildAccelerationStructure(&build.info, build.ranges)
		cbs[i].MemoryBarrier(
			driver.PipelineStageAccelerationStructureBuild, driver.AccessAccelerationStructureWrite,
			driver.PipelineStageAccelerationStructureBuild, driver.AccessAccelerationStructureRead|driver.AccessAccelerationStructureWrite,
		)
	}

	if err := b.queue.SubmitAndWait(ctx, StageBLAS, cbs); err != nil {
		if errors.Is(err, submit.ErrTimeout) {
			abandonAll(structures)
			scratch.Abandon()
			b.log.Warn("abandoned bottom level structures of an unfinished build", zap.Int("count", len(structures)))
			return nil, err
		}
		scratch.Release()
		closeAll(structures)
		return nil, err
	}
	scratch.Release()

	b.log.Info("built bottom level structures",
		zap.Int("count", len(structures)),
		zap.Uint64("scratch", maxScratch),
	)
	return structures, nil
}
