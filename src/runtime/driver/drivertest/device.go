// Package drivertest provides an in-memory driver.Device. Buffers have real
// byte storage, copies and acceleration structure builds are executed when
// their fence is waited on, and every object is tracked so tests can assert
// that nothing leaked.
package drivertest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

var (
	ErrUnknownHandle = errors.New("drivertest: unknown handle")
	ErrNotMappable   = errors.New("drivertest: memory is not host visible")
	ErrBadState      = errors.New("drivertest: command buffer in wrong state")
)

const addressAlignment = 256

type memoryObject struct {
	data   []byte
	props  driver.MemoryProperty
	mapped bool
}

type bufferObject struct {
	desc    driver.BufferDesc
	memory  driver.Memory
	address driver.DeviceAddress
}

// Structure is the fake view of an acceleration structure.
type Structure struct {
	Desc    driver.AccelerationStructureDesc
	Address driver.DeviceAddress
	Built   bool
	Build   driver.BuildGeometryInfo
	Ranges  []driver.BuildRange
	// InstanceData holds the instance records read at build time for
	// top-level builds.
	InstanceData []byte
}

type fenceObject struct {
	batch    []*CommandBuffer
	signaled bool
}

// Device implements driver.Device in memory.
type Device struct {
	mu sync.Mutex

	Props driver.RayTracingProperties

	// NeverSignal keeps every fence pending forever.
	NeverSignal bool
	// PipelineResult is reported by CreateRayTracingPipeline.
	PipelineResult driver.Result
	// FailCreateBuffer, when set, is consulted before every buffer creation.
	FailCreateBuffer func(desc driver.BufferDesc) error
	// BuildSizesFunc overrides the default size model.
	BuildSizesFunc func(info *driver.BuildGeometryInfo, maxPrimitiveCounts []uint32) (driver.BuildSizes, error)

	next        uint64
	nextAddress uint64

	memories        map[driver.Memory]*memoryObject
	buffers         map[driver.Buffer]*bufferObject
	fences          map[driver.Fence]*fenceObject
	structures      map[driver.AccelerationStructure]*Structure
	modules         map[driver.ShaderModule][]byte
	setLayouts      map[driver.DescriptorSetLayout][]driver.DescriptorBinding
	pools           map[driver.DescriptorPool]uint32
	sets            map[driver.DescriptorSet]driver.DescriptorSetLayout
	pipelineLayouts map[driver.PipelineLayout][]driver.PushConstantRange
	pipelines       map[driver.Pipeline]driver.RayTracingPipelineDesc
	commandBuffers  map[*CommandBuffer]struct{}

	// Submissions lists every submitted batch in order.
	Submissions [][]*CommandBuffer
	// Writes records descriptor updates per set.
	Writes map[driver.DescriptorSet][]driver.DescriptorWrite
	// CreatedBuffers records every buffer creation request in order.
	CreatedBuffers []driver.BufferDesc
	// Faults collects misuse detected while executing work.
	Faults []string
}

// DefaultProperties resembles a current desktop GPU.
var DefaultProperties = driver.RayTracingProperties{
	ShaderGroupHandleSize:      32,
	ShaderGroupHandleAlignment: 32,
	ShaderGroupBaseAlignment:   64,
	MaxRayRecursionDepth:       31,
	MaxShaderGroupStride:       4096,
}

func New() *Device {
	return &Device{
		Props:           DefaultProperties,
		nextAddress:     0x10000,
		memories:        map[driver.Memory]*memoryObject{},
		buffers:         map[driver.Buffer]*bufferObject{},
		fences:          map[driver.Fence]*fenceObject{},
		structures:      map[driver.AccelerationStructure]*Structure{},
		modules:         map[driver.ShaderModule][]byte{},
		setLayouts:      map[driver.DescriptorSetLayout][]driver.DescriptorBinding{},
		pools:           map[driver.DescriptorPool]uint32{},
		sets:            map[driver.DescriptorSet]driver.DescriptorSetLayout{},
		pipelineLayouts: map[driver.PipelineLayout][]driver.PushConstantRange{},
		pipelines:       map[driver.Pipeline]driver.RayTracingPipelineDesc{},
		commandBuffers:  map[*CommandBuffer]struct{}{},
		Writes:          map[driver.DescriptorSet][]driver.DescriptorWrite{},
	}
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) RayTracingProperties() driver.RayTracingProperties {
	return d.Props
}

func (d *Device) CreateBuffer(desc driver.BufferDesc) (driver.Buffer, driver.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailCreateBuffer != nil {
		if err := d.FailCreateBuffer(desc); err != nil {
			return 0, 0, err
		}
	}
	d.CreatedBuffers = append(d.CreatedBuffers, desc)

	memory := driver.Memory(d.handle())
	d.memories[memory] = &memoryObject{
		data:  make([]byte, desc.Size),
		props: desc.Required | desc.Preferred,
	}

	buffer := driver.Buffer(d.handle())
	obj := &bufferObject{desc: desc, memory: memory}
	if desc.Usage&driver.BufferUsageShaderDeviceAddress != 0 {
		obj.address = driver.DeviceAddress(d.nextAddress)
		d.nextAddress += (desc.Size + addressAlignment - 1) / addressAlignment * addressAlignment
		d.nextAddress += addressAlignment
	}
	d.buffers[buffer] = obj

	return buffer, memory, nil
}

func (d *Device) DestroyBuffer(buffer driver.Buffer, memory driver.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.buffers[buffer]; !ok {
		d.Faults = append(d.Faults, fmt.Sprintf("destroy of unknown buffer %d", buffer))
		return
	}
	for handle, s := range d.structures {
		if s.Desc.Buffer == buffer {
			d.Faults = append(d.Faults, fmt.Sprintf("buffer %d destroyed before acceleration structure %d", buffer, handle))
		}
	}
	delete(d.buffers, buffer)
	delete(d.memories, memory)
}

func (d *Device) MapMemory(memory driver.Memory, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[memory]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if m.props&driver.MemoryPropertyHostVisible == 0 {
		return nil, ErrNotMappable
	}
	if size > uint64(len(m.data)) {
		return nil, fmt.Errorf("drivertest: map of %d bytes exceeds allocation of %d", size, len(m.data))
	}
	m.mapped = true
	return m.data[:size], nil
}

func (d *Device) UnmapMemory(memory driver.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m, ok := d.memories[memory]; ok {
		m.mapped = false
	}
}

func (d *Device) BufferAddress(buffer driver.Buffer) driver.DeviceAddress {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buffer]
	if !ok {
		return 0
	}
	return b.address
}

func (d *Device) AllocateCommandBuffers(count int) ([]driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cbs := make([]driver.CommandBuffer, count)
	for i := range cbs {
		cb := &CommandBuffer{dev: d, ID: d.handle()}
		d.commandBuffers[cb] = struct{}{}
		cbs[i] = cb
	}
	return cbs, nil
}

func (d *Device) FreeCommandBuffers(cbs []driver.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cb := range cbs {
		fake := cb.(*CommandBuffer)
		if fake.pending {
			d.Faults = append(d.Faults, fmt.Sprintf("command buffer %d freed while pending", fake.ID))
		}
		fake.state = stateFreed
		delete(d.commandBuffers, fake)
	}
}

func (d *Device) Submit(cbs []driver.CommandBuffer) (driver.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := make([]*CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		fake := cb.(*CommandBuffer)
		if fake.state != stateExecutable {
			return 0, fmt.Errorf("%w: submit of command buffer %d", ErrBadState, fake.ID)
		}
		fake.pending = true
		batch = append(batch, fake)
	}
	d.Submissions = append(d.Submissions, batch)

	fence := driver.Fence(d.handle())
	d.fences[fence] = &fenceObject{batch: batch}
	return fence, nil
}

func (d *Device) WaitFence(fence driver.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.fences[fence]
	if !ok {
		return ErrUnknownHandle
	}
	if f.signaled {
		return nil
	}
	if d.NeverSignal || timeout <= 0 {
		return driver.ErrTimeout
	}

	fault := false
	for _, cb := range f.batch {
		if !d.execute(cb) {
			fault = true
		}
		cb.pending = false
	}
	f.signaled = true
	if fault {
		return driver.ErrDeviceLost
	}
	return nil
}

func (d *Device) DestroyFence(fence driver.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.fences[fence]; ok && !f.signaled {
		for _, cb := range f.batch {
			cb.pending = false
		}
	}
	delete(d.fences, fence)
}

func (d *Device) AccelerationStructureBuildSizes(
	info *driver.BuildGeometryInfo,
	maxPrimitiveCounts []uint32,
) (driver.BuildSizes, error) {
	if len(maxPrimitiveCounts) != len(info.Geometries) {
		return driver.BuildSizes{}, fmt.Errorf("drivertest: %d primitive counts for %d geometries", len(maxPrimitiveCounts), len(info.Geometries))
	}
	if d.BuildSizesFunc != nil {
		return d.BuildSizesFunc(info, maxPrimitiveCounts)
	}

	var primitives uint64
	for _, c := range maxPrimitiveCounts {
		primitives += uint64(c)
	}
	return driver.BuildSizes{
		AccelerationStructureSize: 256 + 64*primitives,
		UpdateScratchSize:         128 + 16*primitives,
		BuildScratchSize:          128 + 32*primitives,
	}, nil
}

func (d *Device) CreateAccelerationStructure(desc driver.AccelerationStructureDesc) (driver.AccelerationStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[desc.Buffer]
	if !ok {
		return 0, fmt.Errorf("%w: buffer %d", ErrUnknownHandle, desc.Buffer)
	}
	if b.desc.Usage&driver.BufferUsageAccelerationStructureStorage == 0 {
		return 0, errors.New("drivertest: buffer lacks acceleration structure storage usage")
	}
	if desc.Offset+desc.Size > b.desc.Size {
		return 0, fmt.Errorf("drivertest: structure of %d bytes does not fit buffer of %d", desc.Size, b.desc.Size)
	}

	handle := driver.AccelerationStructure(d.handle())
	address := b.address + driver.DeviceAddress(desc.Offset)
	if address == 0 {
		address = driver.DeviceAddress(d.nextAddress)
		d.nextAddress += addressAlignment
	}
	d.structures[handle] = &Structure{Desc: desc, Address: address}
	return handle, nil
}

func (d *Device) DestroyAccelerationStructure(as driver.AccelerationStructure) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.structures, as)
}

func (d *Device) AccelerationStructureAddress(as driver.AccelerationStructure) driver.DeviceAddress {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.structures[as]
	if !ok {
		return 0
	}
	return s.Address
}

func (d *Device) CreateShaderModule(code []byte) (driver.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(code) == 0 || len(code)%4 != 0 {
		return 0, fmt.Errorf("drivertest: invalid SPIR-V size %d", len(code))
	}
	module := driver.ShaderModule(d.handle())
	d.modules[module] = append([]byte(nil), code...)
	return module, nil
}

func (d *Device) DestroyShaderModule(module driver.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.modules, module)
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	layout := driver.DescriptorSetLayout(d.handle())
	d.setLayouts[layout] = append([]driver.DescriptorBinding(nil), bindings...)
	return layout, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout driver.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.setLayouts, layout)
}

func (d *Device) CreateDescriptorPool(sizes []driver.DescriptorPoolSize, maxSets uint32) (driver.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pool := driver.DescriptorPool(d.handle())
	d.pools[pool] = maxSets
	return pool, nil
}

func (d *Device) DestroyDescriptorPool(pool driver.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.pools, pool)
	for set := range d.sets {
		delete(d.sets, set)
	}
}

func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	remaining, ok := d.pools[pool]
	if !ok {
		return 0, fmt.Errorf("%w: pool %d", ErrUnknownHandle, pool)
	}
	if remaining == 0 {
		return 0, errors.New("drivertest: descriptor pool exhausted")
	}
	if _, ok := d.setLayouts[layout]; !ok {
		return 0, fmt.Errorf("%w: set layout %d", ErrUnknownHandle, layout)
	}
	d.pools[pool] = remaining - 1

	set := driver.DescriptorSet(d.handle())
	d.sets[set] = layout
	return set, nil
}

func (d *Device) UpdateDescriptorSet(set driver.DescriptorSet, writes []driver.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Writes[set] = append(d.Writes[set], writes...)
}

func (d *Device) CreatePipelineLayout(
	setLayouts []driver.DescriptorSetLayout,
	pushConstants []driver.PushConstantRange,
) (driver.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range setLayouts {
		if _, ok := d.setLayouts[l]; !ok {
			return 0, fmt.Errorf("%w: set layout %d", ErrUnknownHandle, l)
		}
	}
	layout := driver.PipelineLayout(d.handle())
	d.pipelineLayouts[layout] = append([]driver.PushConstantRange(nil), pushConstants...)
	return layout, nil
}

func (d *Device) DestroyPipelineLayout(layout driver.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.pipelineLayouts, layout)
}

func (d *Device) CreateRayTracingPipeline(desc driver.RayTracingPipelineDesc) (driver.Pipeline, driver.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.PipelineResult < 0 {
		return 0, d.PipelineResult
	}
	for _, stage := range desc.Stages {
		if _, ok := d.modules[stage.Module]; !ok {
			return 0, driver.ErrorInitializationFailed
		}
	}
	pipeline := driver.Pipeline(d.handle())
	d.pipelines[pipeline] = desc
	return pipeline, d.PipelineResult
}

func (d *Device) DestroyPipeline(pipeline driver.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.pipelines, pipeline)
}

// HandleFor returns the handle bytes the fake reports for one shader group.
func (d *Device) HandleFor(pipeline driver.Pipeline, group uint32) []byte {
	handle := make([]byte, d.Props.ShaderGroupHandleSize)
	for i := range handle {
		handle[i] = byte(uint32(pipeline)*37 + group*11 + uint32(i) + 1)
	}
	return handle
}

func (d *Device) ShaderGroupHandles(pipeline driver.Pipeline, firstGroup, groupCount uint32) ([]byte, error) {
	d.mu.Lock()
	desc, ok := d.pipelines[pipeline]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %d", ErrUnknownHandle, pipeline)
	}
	if int(firstGroup+groupCount) > len(desc.Groups) {
		return nil, fmt.Errorf("drivertest: groups [%d,%d) out of %d", firstGroup, firstGroup+groupCount, len(desc.Groups))
	}

	out := make([]byte, 0, groupCount*d.Props.ShaderGroupHandleSize)
	for g := firstGroup; g < firstGroup+groupCount; g++ {
		out = append(out, d.HandleFor(pipeline, g)...)
	}
	return out, nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	fences := make([]driver.Fence, 0, len(d.fences))
	for f := range d.fences {
		fences = append(fences, f)
	}
	d.mu.Unlock()

	sort.Slice(fences, func(i, j int) bool { return fences[i] < fences[j] })
	for _, f := range fences {
		if err := d.WaitFence(f, driver.NeverTimeout); err != nil {
			return err
		}
	}
	return nil
}
