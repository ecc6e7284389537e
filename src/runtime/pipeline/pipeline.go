// Package pipeline creates the ray tracing pipeline, its layout and its
// shader binding table.
package pipeline

import (
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

func NewLayout(
	device driver.Device,
	descriptorsLayout []driver.DescriptorSetLayout,
	constRanges []driver.PushConstantRange,
) (driver.PipelineLayout, error) {
	layout, err := device.CreatePipelineLayout(descriptorsLayout, constRanges)
	if err != nil {
		return 0, fmt.Errorf("failed to create pipeline layout: %w", err)
	}
	return layout, nil
}
