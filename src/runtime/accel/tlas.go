package accel

import (
	"context"
	"errors"
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/memory"
	"github.com/WowVeryLogin/vkprism/src/runtime/submit"
	"github.com/WowVeryLogin/vkprism/src/runtime/transfer"
	"go.uber.org/zap"
)

const InstanceTriangleFacingCullDisable = 0x1

// Instance places BLAS number BLAS in the world.
type Instance struct {
	Transform [3][4]float32
	CustomID  uint32
	Mask      uint32
	HitGroup  uint32
	BLAS      int
}

// InstanceRecord is the 64 byte device instance layout.
type InstanceRecord struct {
	Transform [3][4]float32
	// CustomIndex in the low 24 bits, Mask in the high 8.
	CustomIndexMask uint32
	// SBT record offset in the low 24 bits, flags in the high 8.
	SBTOffsetFlags uint32
	Reference      uint64
}

func (r InstanceRecord) CustomIndex() uint32 { return r.CustomIndexMask & 0xffffff }
func (r InstanceRecord) Mask() uint32        { return r.CustomIndexMask >> 24 }
func (r InstanceRecord) SBTOffset() uint32   { return r.SBTOffsetFlags & 0xffffff }
func (r InstanceRecord) Flags() uint32       { return r.SBTOffsetFlags >> 24 }

func packInstances(instances []Instance, blases []*AccelerationStructure) ([]InstanceRecord, error) {
	records := make([]InstanceRecord, len(instances))
	for i, inst := range instances {
		if inst.BLAS < 0 || inst.BLAS >= len(blases) {
			return nil, fmt.Errorf("%w: instance %d references BLAS %d of %d", ErrInvalidInstance, i, inst.BLAS, len(blases))
		}
		records[i] = InstanceRecord{
			Transform:       inst.Transform,
			CustomIndexMask: inst.CustomID&0xffffff | (inst.Mask&0xff)<<24,
			SBTOffsetFlags:  inst.HitGroup&0xffffff | InstanceTriangleFacingCullDisable<<24,
			Reference:       uint64(blases[inst.BLAS].Address),
		}
	}
	return records, nil
}

// BuildTLAS uploads the instance records and builds the top level structure
// in the same command buffer. No instances give an empty structure.
func (b *Builder) BuildTLAS(ctx context.Context, instances []Instance, blases []*AccelerationStructure) (*AccelerationStructure, error) {
	fail := func(err error) (*AccelerationStructure, error) {
		return nil, &submit.StageError{Stage: StageTLAS, Err: err}
	}

	records, err := packInstances(instances, blases)
	if err != nil {
		return fail(err)
	}

	cbs, err := b.queue.Begin(1)
	if err != nil {
		return fail(err)
	}
	cb := cbs[0]

	// Buffers the build reads from. They live until the build is known done.
	var inputs []*memory.UniqueBuffer
	var instanceAddr driver.DeviceAddress
	if len(records) > 0 {
		buf, staging, err := b.transfer.Stage(cb, transfer.Of("instances", records,
			driver.BufferUsageAccelerationStructureInput|driver.BufferUsageShaderDeviceAddress))
		if err != nil {
			b.queue.Discard(cbs)
			return fail(err)
		}
		inputs = append(inputs, buf, staging)

		if instanceAddr, err = buf.DeviceAddress(); err != nil {
			b.queue.Discard(cbs)
			releaseAll(inputs)
			return fail(err)
		}
		cb.MemoryBarrier(
			driver.PipelineStageTransfer, driver.AccessTransferWrite,
			driver.PipelineStageAccelerationStructureBuild, driver.AccessAccelerationStructureRead|driver.AccessAccelerationStructureWrite,
		)
	}

	info := driver.BuildGeometryInfo{
		Type:  driver.AccelerationStructureTopLevel,
		Flags: driver.BuildPreferFastTrace,
		Geometries: []driver.Geometry{{
			Type:      driver.GeometryInstances,
			Instances: driver.Instances{Data: instanceAddr},
			Flags:     driver.GeometryOpaque,
		}},
	}
	ranges := []driver.BuildRange{{PrimitiveCount: uint32(len(records))}}

	dev := b.alloc.Device()
	sizes, err := dev.AccelerationStructureBuildSizes(&info, []uint32{uint32(len(records))})
	if err != nil {
		b.queue.Discard(cbs)
		releaseAll(inputs)
		return fail(fmt.Errorf("%w: %w", ErrBuildSizes, err))
	}

	tlas, err := b.create(driver.AccelerationStructureTopLevel, sizes)
	if err != nil {
		b.queue.Discard(cbs)
		releaseAll(inputs)
		return fail(err)
	}

	scratch, scratchAddr, err := b.scratch(sizes.BuildScratchSize)
	if err != nil {
		b.queue.Discard(cbs)
		releaseAll(inputs)
		tlas.Close()
		return fail(err)
	}
	inputs = append(inputs, scratch)

	info.Dst = tlas.Handle
	info.ScratchData = scratchAddr
	cb.BuildAccelerationStructure(&info, ranges)
	cb.MemoryBarrier(
		driver.PipelineStageAccelerationStructureBuild, driver.AccessAccelerationStructureWrite,
		driver.PipelineStageRayTracingShader, driver.AccessAccelerationStructureRead,
	)

	if err := b.queue.SubmitAndWait(ctx, StageTLAS, cbs); err != nil {
		if errors.Is(err, submit.ErrTimeout) {
			tlas.Abandon()
			for _, in := range inputs {
				in.Abandon()
			}
			b.log.Warn("abandoned top level structure of an unfinished build")
			return nil, err
		}
		releaseAll(inputs)
		tlas.Close()
		return nil, err
	}
	releaseAll(inputs)

	b.log.Info("built top level structure",
		zap.Int("instances", len(records)),
		zap.Uint64("size", sizes.AccelerationStructureSize),
	)
	return tlas, nil
}

func releaseAll(buffers []*memory.UniqueBuffer) {
	for _, buf := range buffers {
		buf.Release()
	}
}
