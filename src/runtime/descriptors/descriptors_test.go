package descriptors

import (
	"testing"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/driver/drivertest"
)

func TestNewSets(t *testing.T) {
	dev := drivertest.New()

	scene := &DescriptorSet{Descriptors: []Descriptor{{
		Type:                  driver.DescriptorTypeAccelerationStructure,
		Flags:                 driver.ShaderStageRaygen | driver.ShaderStageClosestHit,
		AccelerationStructure: 42,
	}}}
	output := &DescriptorSet{Descriptors: []Descriptor{{
		Type:   driver.DescriptorTypeStorageBuffer,
		Flags:  driver.ShaderStageRaygen,
		Buffer: 7,
		Range:  1024,
	}}}

	m, err := NewSets(dev, []*DescriptorSet{scene, output})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	bindings, ok := dev.SetLayoutBindings(scene.Layout)
	if !ok || len(bindings) != 1 {
		t.Fatalf("expected one binding in the scene layout")
	}
	if bindings[0].Binding != 0 || bindings[0].Stages != driver.ShaderStageRaygen|driver.ShaderStageClosestHit {
		t.Errorf("unexpected binding %+v", bindings[0])
	}

	sceneWrites := dev.Writes[scene.Set]
	if len(sceneWrites) != 1 || sceneWrites[0].AccelerationStructure != 42 || sceneWrites[0].Buffer != 0 {
		t.Errorf("unexpected scene writes %+v", sceneWrites)
	}
	outputWrites := dev.Writes[output.Set]
	if len(outputWrites) != 1 || outputWrites[0].Buffer != 7 || outputWrites[0].Range != 1024 {
		t.Errorf("unexpected output writes %+v", outputWrites)
	}

	layouts := m.Layouts()
	if len(layouts) != 2 || layouts[0] != scene.Layout || layouts[1] != output.Layout {
		t.Errorf("expected layouts in set order; got %v", layouts)
	}
	if sets := m.Sets(); len(sets) != 2 || sets[0] != scene.Set || sets[1] != output.Set {
		t.Errorf("expected sets in set order; got %v", sets)
	}

	m.Close()
	m.Close()
	if live := dev.Live(); live.DescriptorPools != 0 || live.DescriptorSetLayouts != 0 {
		t.Errorf("expected everything to be destroyed; got %+v", live)
	}
}
