package drivertest

import (
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

// Live counts objects that have been created and not yet destroyed.
type Live struct {
	Buffers              int
	Fences               int
	Structures           int
	ShaderModules        int
	DescriptorSetLayouts int
	DescriptorPools      int
	PipelineLayouts      int
	Pipelines            int
	CommandBuffers       int
}

func (d *Device) Live() Live {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Live{
		Buffers:              len(d.buffers),
		Fences:               len(d.fences),
		Structures:           len(d.structures),
		ShaderModules:        len(d.modules),
		DescriptorSetLayouts: len(d.setLayouts),
		DescriptorPools:      len(d.pools),
		PipelineLayouts:      len(d.pipelineLayouts),
		Pipelines:            len(d.pipelines),
		CommandBuffers:       len(d.commandBuffers),
	}
}

// BufferBytes returns a copy of the current contents of buffer.
func (d *Device) BufferBytes(buffer driver.Buffer) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buffer]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), d.memories[b.memory].data...), true
}

// BufferDesc returns the creation request of a live buffer.
func (d *Device) BufferDesc(buffer driver.Buffer) (driver.BufferDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buffer]
	if !ok {
		return driver.BufferDesc{}, false
	}
	return b.desc, true
}

// Structure returns a snapshot of a live acceleration structure.
func (d *Device) Structure(as driver.AccelerationStructure) (Structure, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.structures[as]
	if !ok {
		return Structure{}, false
	}
	return *s, true
}

// PipelineDesc returns the creation request of a live pipeline.
func (d *Device) PipelineDesc(pipeline driver.Pipeline) (driver.RayTracingPipelineDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	desc, ok := d.pipelines[pipeline]
	return desc, ok
}

// PushConstants returns the ranges a live pipeline layout was created with.
func (d *Device) PushConstants(layout driver.PipelineLayout) ([]driver.PushConstantRange, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ranges, ok := d.pipelineLayouts[layout]
	return ranges, ok
}

// SetLayoutBindings returns the bindings a live set layout was created with.
func (d *Device) SetLayoutBindings(layout driver.DescriptorSetLayout) ([]driver.DescriptorBinding, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bindings, ok := d.setLayouts[layout]
	return bindings, ok
}

// Mapped reports whether memory is currently mapped.
func (d *Device) Mapped(memory driver.Memory) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[memory]
	return ok && m.mapped
}

// Commands flattens the commands of every submitted batch in submission order.
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Command
	for _, batch := range d.Submissions {
		for _, cb := range batch {
			out = append(out, cb.Commands...)
		}
	}
	return out
}

// Poke writes data into buffer as device work would, ignoring whether its
// memory is host visible.
func (d *Device) Poke(buffer driver.Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.buffers[buffer]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, buffer)
	}
	mem := d.memories[b.memory].data
	if offset+uint64(len(data)) > uint64(len(mem)) {
		return fmt.Errorf("drivertest: poke of %d bytes at %d exceeds %d", len(data), offset, len(mem))
	}
	copy(mem[offset:], data)
	return nil
}
