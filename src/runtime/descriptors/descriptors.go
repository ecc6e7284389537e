// Package descriptors creates descriptor set layouts, one pool sized for
// them, and the written sets.
package descriptors

import (
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

type SetsManager struct {
	device driver.Device
	pool   driver.DescriptorPool
	sets   []*DescriptorSet
}

type DescriptorSet struct {
	device      driver.Device
	Descriptors []Descriptor
	Layout      driver.DescriptorSetLayout
	Set         driver.DescriptorSet
}

// Descriptor is bound at the binding equal to its index in the set. Buffer
// descriptors use Buffer and Range, acceleration structure descriptors use
// AccelerationStructure.
type Descriptor struct {
	Type                  driver.DescriptorType
	Flags                 driver.ShaderStage
	Buffer                driver.Buffer
	Range                 uint64
	AccelerationStructure driver.AccelerationStructure
}

func NewSets(
	device driver.Device,
	sets []*DescriptorSet,
) (*SetsManager, error) {
	m := &SetsManager{device: device}

	uniqueDescriptors := map[driver.DescriptorType]uint32{}
	var order []driver.DescriptorType
	for _, set := range sets {
		for _, descriptor := range set.Descriptors {
			if uniqueDescriptors[descriptor.Type] == 0 {
				order = append(order, descriptor.Type)
			}
			uniqueDescriptors[descriptor.Type]++
		}
	}

	for _, set := range sets {
		layoutBindings := make([]driver.DescriptorBinding, 0, len(set.Descriptors))
		for i, descriptor := range set.Descriptors {
			layoutBindings = append(layoutBindings, driver.DescriptorBinding{
				Binding: uint32(i),
				Type:    descriptor.Type,
				Count:   1,
				Stages:  descriptor.Flags,
			})
		}
		layout, err := device.CreateDescriptorSetLayout(layoutBindings)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create descriptor set layout: %w", err)
		}
		set.Layout = layout
		set.device = device
		m.sets = append(m.sets, set)
	}

	sizes := make([]driver.DescriptorPoolSize, 0, len(order))
	for _, descType := range order {
		sizes = append(sizes, driver.DescriptorPoolSize{
			Type:  descType,
			Count: uniqueDescriptors[descType],
		})
	}

	pool, err := device.CreateDescriptorPool(sizes, uint32(len(sets)))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create descriptor pool: %w", err)
	}
	m.pool = pool

	for _, set := range sets {
		s, err := device.AllocateDescriptorSet(pool, set.Layout)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to allocate descriptor sets: %w", err)
		}
		set.Set = s
	}

	for _, set := range sets {
		writes := make([]driver.DescriptorWrite, 0, len(set.Descriptors))
		for i, descriptor := range set.Descriptors {
			write := driver.DescriptorWrite{
				Binding: uint32(i),
				Type:    descriptor.Type,
			}
			switch descriptor.Type {
			case driver.DescriptorTypeAccelerationStructure:
				write.AccelerationStructure = descriptor.AccelerationStructure
			default:
				write.Buffer = descriptor.Buffer
				write.Range = descriptor.Range
			}
			writes = append(writes, write)
		}
		device.UpdateDescriptorSet(set.Set, writes)
	}

	return m, nil
}

// Layouts returns the set layouts in set order, as a pipeline layout wants them.
func (m *SetsManager) Layouts() []driver.DescriptorSetLayout {
	layouts := make([]driver.DescriptorSetLayout, len(m.sets))
	for i, set := range m.sets {
		layouts[i] = set.Layout
	}
	return layouts
}

func (m *SetsManager) Sets() []driver.DescriptorSet {
	sets := make([]driver.DescriptorSet, len(m.sets))
	for i, set := range m.sets {
		sets[i] = set.Set
	}
	return sets
}

func (d *DescriptorSet) Close() {
	if d.Layout != 0 {
		d.device.DestroyDescriptorSetLayout(d.Layout)
		d.Layout = 0
	}
	d.Set = 0
}

// Close destroys the pool, which frees its sets, and every layout.
func (m *SetsManager) Close() {
	if m.pool != 0 {
		m.device.DestroyDescriptorPool(m.pool)
		m.pool = 0
	}
	for _, set := range m.sets {
		set.Close()
	}
	m.sets = nil
}
