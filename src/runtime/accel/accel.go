// Package accel builds bottom and top level acceleration structures.
package accel

import (
	"errors"
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/memory"
	"github.com/WowVeryLogin/vkprism/src/runtime/submit"
	"github.com/WowVeryLogin/vkprism/src/runtime/transfer"
	"go.uber.org/zap"
)

const (
	StageBLAS = "blas"
	StageTLAS = "tlas"

	vertexStride    = 44
	faceStride      = 12
	transformStride = 48
)

var (
	ErrBuildSizes      = errors.New("accel: acceleration structure size query failed")
	ErrMissingGeometry = errors.New("accel: geometry buffer missing")
	ErrInvalidInstance = errors.New("accel: instance references an unknown BLAS")
)

// AccelerationStructure owns a device acceleration structure and the buffer
// that backs it.
type AccelerationStructure struct {
	Buffer  *memory.UniqueBuffer
	Handle  driver.AccelerationStructure
	Address driver.DeviceAddress

	dev driver.Device
}

// Close destroys the structure before releasing its storage. It is safe to
// call more than once.
func (a *AccelerationStructure) Close() {
	if a == nil {
		return
	}
	if a.Handle != 0 {
		a.dev.DestroyAccelerationStructure(a.Handle)
		a.Handle = 0
		a.Address = 0
	}
	a.Buffer.Release()
}

// Abandon gives up the structure without destroying it, for builds or
// traces that were submitted but never observed to finish.
func (a *AccelerationStructure) Abandon() {
	if a == nil {
		return
	}
	a.Handle = 0
	a.Address = 0
	a.Buffer.Abandon()
}

func closeAll(structures []*AccelerationStructure) {
	for _, s := range structures {
		s.Close()
	}
}

func abandonAll(structures []*AccelerationStructure) {
	for _, s := range structures {
		s.Abandon()
	}
}

// Builder records and submits acceleration structure builds.
type Builder struct {
	alloc    *memory.Allocator
	queue    *submit.Queue
	transfer *transfer.Engine
	log      *zap.Logger
}

func New(alloc *memory.Allocator, queue *submit.Queue, engine *transfer.Engine, log *zap.Logger) *Builder {
	return &Builder{
		alloc:    alloc,
		queue:    queue,
		transfer: engine,
		log:      log.Named("accel"),
	}
}

// create allocates storage of exactly sizes.AccelerationStructureSize bytes
// and creates a structure of type typ on it.
func (b *Builder) create(typ driver.AccelerationStructureType, sizes driver.BuildSizes) (*AccelerationStructure, error) {
	if sizes.AccelerationStructureSize == 0 {
		return nil, fmt.Errorf("%w: zero structure size", ErrBuildSizes)
	}

	storage, err := b.alloc.Allocate(
		sizes.AccelerationStructureSize,
		driver.BufferUsageAccelerationStructureStorage|driver.BufferUsageShaderDeviceAddress,
		memory.DeviceLocal,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate acceleration structure storage: %w", err)
	}

	dev := b.alloc.Device()
	handle, err := dev.CreateAccelerationStructure(driver.AccelerationStructureDesc{
		Type:   typ,
		Buffer: storage.Handle(),
		Size:   sizes.AccelerationStructureSize,
	})
	if err != nil {
		storage.Release()
		return nil, fmt.Errorf("failed to create acceleration structure: %w", err)
	}

	return &AccelerationStructure{
		Buffer:  storage,
		Handle:  handle,
		Address: dev.AccelerationStructureAddress(handle),
		dev:     dev,
	}, nil
}

func (b *Builder) scratch(size uint64) (*memory.UniqueBuffer, driver.DeviceAddress, error) {
	buf, err := b.alloc.Allocate(
		max(size, 1),
		driver.BufferUsageStorageBuffer|driver.BufferUsageShaderDeviceAddress,
		memory.DeviceLocal,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to allocate scratch buffer: %w", err)
	}
	addr, err := buf.DeviceAddress()
	if err != nil {
		buf.Release()
		return nil, 0, err
	}
	return buf, addr, nil
}
