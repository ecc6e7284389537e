package pipeline

import (
	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

type RegionKind int

const (
	RegionRaygen RegionKind = iota
	RegionMiss
	RegionHit
	RegionCallable

	regionCount
)

// regionOrder is both the group order inside the pipeline and the layout
// order inside the SBT buffer.
var regionOrder = [regionCount]RegionKind{RegionRaygen, RegionMiss, RegionHit, RegionCallable}

func (k RegionKind) String() string {
	switch k {
	case RegionRaygen:
		return "raygen"
	case RegionMiss:
		return "miss"
	case RegionHit:
		return "hit"
	case RegionCallable:
		return "callable"
	}
	return "unknown"
}

// Region is one SBT region. Offset is relative to the start of the SBT
// buffer, FirstGroup indexes the pipeline's shader groups.
type Region struct {
	Offset     uint64
	Stride     uint64
	Size       uint64
	FirstGroup uint32
	Count      uint32
}

func alignUp(size, alignment uint64) uint64 {
	if alignment == 0 {
		return size
	}
	return (size + alignment - 1) / alignment * alignment
}

// layoutSBT places counts[k] handles per region and returns the regions and
// the total buffer size.
func layoutSBT(props driver.RayTracingProperties, counts [regionCount]uint32) ([regionCount]Region, uint64) {
	handleSize := uint64(props.ShaderGroupHandleSize)
	baseAlignment := uint64(props.ShaderGroupBaseAlignment)
	handleSizeAligned := alignUp(handleSize, uint64(props.ShaderGroupHandleAlignment))

	var regions [regionCount]Region
	var offset uint64
	var group uint32
	for _, kind := range regionOrder {
		count := counts[kind]
		r := Region{Offset: offset, FirstGroup: group, Count: count}
		switch {
		case kind == RegionRaygen:
			r.Stride = alignUp(handleSizeAligned, baseAlignment)
			r.Size = r.Stride
		case count > 0:
			r.Stride = handleSizeAligned
			r.Size = alignUp(handleSizeAligned*uint64(count), baseAlignment)
		}
		regions[kind] = r
		offset += r.Size
		group += count
	}
	return regions, offset
}

// writeHandles copies each group's handle to its slot. handles holds every
// group's handle back to back in group order.
func writeHandles(dst []byte, handles []byte, handleSize uint64, regions [regionCount]Region) {
	for _, r := range regions {
		for i := uint64(0); i < uint64(r.Count); i++ {
			src := (uint64(r.FirstGroup) + i) * handleSize
			at := r.Offset + i*r.Stride
			copy(dst[at:at+handleSize], handles[src:src+handleSize])
		}
	}
}
