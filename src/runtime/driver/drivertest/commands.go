package drivertest

import (
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

type cbState int

const (
	stateInitial cbState = iota
	stateRecording
	stateExecutable
	stateFreed
)

type CommandKind int

const (
	CmdCopyBuffer CommandKind = iota
	CmdBarrier
	CmdBuildAccelerationStructure
	CmdBindPipeline
	CmdBindDescriptorSets
	CmdPushConstants
	CmdTraceRays
)

// Command is one recorded command. Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	Src, Dst driver.Buffer
	Copies   []driver.BufferCopy

	SrcStage  driver.PipelineStage
	SrcAccess driver.Access
	DstStage  driver.PipelineStage
	DstAccess driver.Access

	Build  driver.BuildGeometryInfo
	Ranges []driver.BuildRange

	Pipeline driver.Pipeline
	Layout   driver.PipelineLayout
	FirstSet uint32
	Sets     []driver.DescriptorSet
	Stages   driver.ShaderStage
	Offset   uint32
	Data     []byte

	Regions              [4]driver.StridedRegion
	Width, Height, Depth uint32
}

// CommandBuffer implements driver.CommandBuffer by recording Commands.
type CommandBuffer struct {
	dev      *Device
	ID       uint64
	Commands []Command
	state    cbState
	pending  bool
}

func (c *CommandBuffer) Begin() error {
	if c.state != stateInitial {
		return fmt.Errorf("%w: begin of command buffer %d", ErrBadState, c.ID)
	}
	c.state = stateRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("%w: end of command buffer %d", ErrBadState, c.ID)
	}
	c.state = stateExecutable
	return nil
}

func (c *CommandBuffer) record(cmd Command) {
	if c.state != stateRecording {
		c.dev.mu.Lock()
		c.dev.Faults = append(c.dev.Faults, fmt.Sprintf("command recorded into command buffer %d outside Begin/End", c.ID))
		c.dev.mu.Unlock()
	}
	c.Commands = append(c.Commands, cmd)
}

func (c *CommandBuffer) CopyBuffer(src, dst driver.Buffer, regions ...driver.BufferCopy) {
	c.record(Command{
		Kind:   CmdCopyBuffer,
		Src:    src,
		Dst:    dst,
		Copies: append([]driver.BufferCopy(nil), regions...),
	})
}

func (c *CommandBuffer) MemoryBarrier(
	srcStage driver.PipelineStage,
	srcAccess driver.Access,
	dstStage driver.PipelineStage,
	dstAccess driver.Access,
) {
	c.record(Command{
		Kind:      CmdBarrier,
		SrcStage:  srcStage,
		SrcAccess: srcAccess,
		DstStage:  dstStage,
		DstAccess: dstAccess,
	})
}

func (c *CommandBuffer) BuildAccelerationStructure(info *driver.BuildGeometryInfo, ranges []driver.BuildRange) {
	build := *info
	build.Geometries = append([]driver.Geometry(nil), info.Geometries...)
	c.record(Command{
		Kind:   CmdBuildAccelerationStructure,
		Build:  build,
		Ranges: append([]driver.BuildRange(nil), ranges...),
	})
}

func (c *CommandBuffer) BindRayTracingPipeline(pipeline driver.Pipeline) {
	c.record(Command{Kind: CmdBindPipeline, Pipeline: pipeline})
}

func (c *CommandBuffer) BindDescriptorSets(layout driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet) {
	c.record(Command{
		Kind:     CmdBindDescriptorSets,
		Layout:   layout,
		FirstSet: firstSet,
		Sets:     append([]driver.DescriptorSet(nil), sets...),
	})
}

func (c *CommandBuffer) PushConstants(layout driver.PipelineLayout, stages driver.ShaderStage, offset uint32, data []byte) {
	c.record(Command{
		Kind:   CmdPushConstants,
		Layout: layout,
		Stages: stages,
		Offset: offset,
		Data:   append([]byte(nil), data...),
	})
}

func (c *CommandBuffer) TraceRays(raygen, miss, hit, callable driver.StridedRegion, width, height, depth uint32) {
	c.record(Command{
		Kind:    CmdTraceRays,
		Regions: [4]driver.StridedRegion{raygen, miss, hit, callable},
		Width:   width,
		Height:  height,
		Depth:   depth,
	})
}

// execute runs cb against device state. d.mu must be held.
func (d *Device) execute(cb *CommandBuffer) bool {
	ok := true
	fault := func(format string, args ...any) {
		d.Faults = append(d.Faults, fmt.Sprintf("command buffer %d: ", cb.ID)+fmt.Sprintf(format, args...))
		ok = false
	}

	for _, cmd := range cb.Commands {
		switch cmd.Kind {
		case CmdCopyBuffer:
			src, srcOK := d.buffers[cmd.Src]
			dst, dstOK := d.buffers[cmd.Dst]
			if !srcOK || !dstOK {
				fault("copy %d -> %d references a destroyed buffer", cmd.Src, cmd.Dst)
				continue
			}
			srcData := d.memories[src.memory].data
			dstData := d.memories[dst.memory].data
			for _, r := range cmd.Copies {
				if r.SrcOffset+r.Size > uint64(len(srcData)) || r.DstOffset+r.Size > uint64(len(dstData)) {
					fault("copy of %d bytes out of bounds", r.Size)
					continue
				}
				copy(dstData[r.DstOffset:r.DstOffset+r.Size], srcData[r.SrcOffset:r.SrcOffset+r.Size])
			}

		case CmdBuildAccelerationStructure:
			s, exists := d.structures[cmd.Build.Dst]
			if !exists {
				fault("build into destroyed acceleration structure %d", cmd.Build.Dst)
				continue
			}
			if _, _, found := d.resolve(cmd.Build.ScratchData); !found {
				fault("scratch address %#x does not resolve to a live buffer", cmd.Build.ScratchData)
			}
			s.Built = true
			s.Build = cmd.Build
			s.Ranges = cmd.Ranges
			if cmd.Build.Type == driver.AccelerationStructureTopLevel && len(cmd.Build.Geometries) == 1 && len(cmd.Ranges) == 1 && cmd.Ranges[0].PrimitiveCount > 0 {
				b, offset, found := d.resolve(cmd.Build.Geometries[0].Instances.Data)
				if !found {
					fault("instance address %#x does not resolve to a live buffer", cmd.Build.Geometries[0].Instances.Data)
					continue
				}
				size := uint64(cmd.Ranges[0].PrimitiveCount) * 64
				data := d.memories[b.memory].data
				s.InstanceData = append([]byte(nil), data[offset:offset+size]...)
			}
		}
	}
	return ok
}

func (d *Device) resolve(address driver.DeviceAddress) (*bufferObject, uint64, bool) {
	for _, b := range d.buffers {
		if b.address != 0 && address >= b.address && uint64(address-b.address) < b.desc.Size {
			return b, uint64(address - b.address), true
		}
	}
	return nil, 0, false
}
