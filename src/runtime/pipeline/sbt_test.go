package pipeline

import (
	"testing"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

func TestAlignUp(t *testing.T) {
	cases := []struct{ size, alignment, want uint64 }{
		{0, 64, 0},
		{1, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
		{20, 0, 20},
	}
	for _, c := range cases {
		if got := alignUp(c.size, c.alignment); got != c.want {
			t.Errorf("alignUp(%d, %d): expected %d; got %d", c.size, c.alignment, c.want, got)
		}
	}
}

func TestLayoutSBT(t *testing.T) {
	cases := []struct {
		name    string
		props   driver.RayTracingProperties
		counts  [regionCount]uint32
		regions [regionCount]Region
		total   uint64
	}{
		{
			name:   "desktop",
			props:  driver.RayTracingProperties{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 64},
			counts: [regionCount]uint32{1, 2, 3, 0},
			regions: [regionCount]Region{
				{Offset: 0, Stride: 64, Size: 64, FirstGroup: 0, Count: 1},
				{Offset: 64, Stride: 32, Size: 64, FirstGroup: 1, Count: 2},
				{Offset: 128, Stride: 32, Size: 128, FirstGroup: 3, Count: 3},
				{Offset: 256, FirstGroup: 6},
			},
			total: 256,
		},
		{
			name:   "unaligned handles",
			props:  driver.RayTracingProperties{ShaderGroupHandleSize: 20, ShaderGroupHandleAlignment: 16, ShaderGroupBaseAlignment: 64},
			counts: [regionCount]uint32{1, 1, 1, 2},
			regions: [regionCount]Region{
				{Offset: 0, Stride: 64, Size: 64, FirstGroup: 0, Count: 1},
				{Offset: 64, Stride: 32, Size: 64, FirstGroup: 1, Count: 1},
				{Offset: 128, Stride: 32, Size: 64, FirstGroup: 2, Count: 1},
				{Offset: 192, Stride: 32, Size: 64, FirstGroup: 3, Count: 2},
			},
			total: 256,
		},
		{
			name:   "large base alignment",
			props:  driver.RayTracingProperties{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 256},
			counts: [regionCount]uint32{1, 9, 1, 0},
			regions: [regionCount]Region{
				{Offset: 0, Stride: 256, Size: 256, FirstGroup: 0, Count: 1},
				{Offset: 256, Stride: 32, Size: 512, FirstGroup: 1, Count: 9},
				{Offset: 768, Stride: 32, Size: 256, FirstGroup: 10, Count: 1},
				{Offset: 1024, FirstGroup: 11},
			},
			total: 1024,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			regions, total := layoutSBT(c.props, c.counts)
			if total != c.total {
				t.Errorf("expected total %d; got %d", c.total, total)
			}
			for _, kind := range regionOrder {
				if regions[kind] != c.regions[kind] {
					t.Errorf("%s: expected %+v; got %+v", kind, c.regions[kind], regions[kind])
				}
				if regions[kind].Offset%uint64(c.props.ShaderGroupBaseAlignment) != 0 {
					t.Errorf("%s: offset %d is not base aligned", kind, regions[kind].Offset)
				}
			}
		})
	}
}
