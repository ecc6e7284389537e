package pipeline

import (
	"errors"
	"fmt"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/memory"
	"github.com/WowVeryLogin/vkprism/src/runtime/shader"
	"go.uber.org/zap"
)

const (
	Stage = "pipeline"

	maxRecursionDepth = 1
)

var (
	ErrNoMissShader     = errors.New("pipeline: at least one miss shader is required")
	ErrNoHitShader      = errors.New("pipeline: at least one closest hit shader is required")
	ErrPipelineCreation = errors.New("pipeline: ray tracing pipeline creation failed")
)

// ShaderSet names the shaders of a pipeline. Names resolve to
// <dir>/<name>.spv.
type ShaderSet struct {
	Raygen     string
	Miss       []string
	ClosestHit []string
	Callable   []string
}

type Config struct {
	ShaderDir string
	Shaders   ShaderSet
	Layout    driver.PipelineLayout
	// Sets are bound from set 0 on every dispatch.
	Sets []driver.DescriptorSet
	// PushStages receives the push constants set with SetPushConstants.
	PushStages driver.ShaderStage
}

// RayTracing owns a ray tracing pipeline and its SBT.
type RayTracing struct {
	device   driver.Device
	log      *zap.Logger
	pipeline driver.Pipeline
	layout   driver.PipelineLayout
	sets     []driver.DescriptorSet

	sbt     *memory.UniqueBuffer
	regions [regionCount]driver.StridedRegion

	pushStages driver.ShaderStage
	push       []byte
}

func accepted(result driver.Result) bool {
	switch result {
	case driver.Success,
		driver.OperationDeferred,
		driver.OperationNotDeferred,
		driver.PipelineCompileRequired:
		return true
	}
	return false
}

func NewRayTracing(alloc *memory.Allocator, log *zap.Logger, cfg Config) (*RayTracing, error) {
	if len(cfg.Shaders.Miss) == 0 {
		return nil, ErrNoMissShader
	}
	if len(cfg.Shaders.ClosestHit) == 0 {
		return nil, ErrNoHitShader
	}

	device := alloc.Device()
	log = log.Named("pipeline")

	var counts [regionCount]uint32
	counts[RegionRaygen] = 1
	counts[RegionMiss] = uint32(len(cfg.Shaders.Miss))
	counts[RegionHit] = uint32(len(cfg.Shaders.ClosestHit))
	counts[RegionCallable] = uint32(len(cfg.Shaders.Callable))

	names := [regionCount][]string{
		RegionRaygen:   {cfg.Shaders.Raygen},
		RegionMiss:     cfg.Shaders.Miss,
		RegionHit:      cfg.Shaders.ClosestHit,
		RegionCallable: cfg.Shaders.Callable,
	}
	stageFlags := [regionCount]driver.ShaderStage{
		RegionRaygen:   driver.ShaderStageRaygen,
		RegionMiss:     driver.ShaderStageMiss,
		RegionHit:      driver.ShaderStageClosestHit,
		RegionCallable: driver.ShaderStageCallable,
	}

	var modules []driver.ShaderModule
	defer func() {
		for _, m := range modules {
			device.DestroyShaderModule(m)
		}
	}()

	var desc driver.RayTracingPipelineDesc
	for _, kind := range regionOrder {
		for _, name := range names[kind] {
			module, err := shader.Load(device, cfg.ShaderDir, name)
			if err != nil {
				return nil, fmt.Errorf("%s shader: %w", kind, err)
			}
			modules = append(modules, module)

			stage := uint32(len(desc.Stages))
			desc.Stages = append(desc.Stages, driver.ShaderStageDesc{
				Stage:  stageFlags[kind],
				Module: module,
				Entry:  shader.EntryPoint,
			})

			group := driver.ShaderGroupDesc{
				Type:         driver.ShaderGroupGeneral,
				General:      stage,
				ClosestHit:   driver.ShaderUnused,
				AnyHit:       driver.ShaderUnused,
				Intersection: driver.ShaderUnused,
			}
			if kind == RegionHit {
				group.Type = driver.ShaderGroupTrianglesHit
				group.General = driver.ShaderUnused
				group.ClosestHit = stage
			}
			desc.Groups = append(desc.Groups, group)
		}
	}
	desc.MaxRecursionDepth = maxRecursionDepth
	desc.Layout = cfg.Layout

	pipeline, result := device.CreateRayTracingPipeline(desc)
	if !accepted(result) || pipeline == 0 {
		if pipeline != 0 {
			device.DestroyPipeline(pipeline)
		}
		return nil, fmt.Errorf("%w: %s", ErrPipelineCreation, result)
	}
	if result != driver.Success {
		log.Warn("pipeline created with non-success result", zap.Stringer("result", result))
	}

	r := &RayTracing{
		device:     device,
		log:        log,
		pipeline:   pipeline,
		layout:     cfg.Layout,
		sets:       append([]driver.DescriptorSet(nil), cfg.Sets...),
		pushStages: cfg.PushStages,
	}
	if err := r.buildSBT(alloc, counts, uint32(len(desc.Groups))); err != nil {
		r.Close()
		return nil, err
	}

	log.Info("ray tracing pipeline created",
		zap.Int("stages", len(desc.Stages)),
		zap.Int("groups", len(desc.Groups)),
		zap.Uint64("sbt_size", r.sbt.Size()),
	)
	return r, nil
}

func (r *RayTracing) buildSBT(alloc *memory.Allocator, counts [regionCount]uint32, groupCount uint32) error {
	props := r.device.RayTracingProperties()
	handleSize := uint64(props.ShaderGroupHandleSize)

	handles, err := r.device.ShaderGroupHandles(r.pipeline, 0, groupCount)
	if err != nil {
		return fmt.Errorf("failed to get shader group handles: %w", err)
	}
	if uint64(len(handles)) < uint64(groupCount)*handleSize {
		return fmt.Errorf("pipeline: got %d handle bytes for %d groups", len(handles), groupCount)
	}

	regions, size := layoutSBT(props, counts)
	for _, kind := range regionOrder {
		if stride := regions[kind].Stride; props.MaxShaderGroupStride != 0 && stride > uint64(props.MaxShaderGroupStride) {
			return fmt.Errorf("pipeline: %s stride %d exceeds device limit %d", kind, stride, props.MaxShaderGroupStride)
		}
	}

	sbt, err := alloc.Allocate(size,
		driver.BufferUsageTransferDst|driver.BufferUsageShaderDeviceAddress|driver.BufferUsageShaderBindingTable,
		memory.HostToDevice,
	)
	if err != nil {
		return fmt.Errorf("failed to allocate shader binding table: %w", err)
	}
	r.sbt = sbt

	dst, err := sbt.Map()
	if err != nil {
		return fmt.Errorf("failed to map shader binding table: %w", err)
	}
	writeHandles(dst, handles, handleSize, regions)
	sbt.Unmap()

	base, err := sbt.DeviceAddress()
	if err != nil {
		return err
	}
	for _, kind := range regionOrder {
		reg := regions[kind]
		if reg.Size == 0 {
			continue
		}
		r.regions[kind] = driver.StridedRegion{
			Address: base + driver.DeviceAddress(reg.Offset),
			Stride:  reg.Stride,
			Size:    reg.Size,
		}
	}
	return nil
}

// SetPushConstants replaces the data pushed on every dispatch.
func (r *RayTracing) SetPushConstants(data []byte) {
	r.push = append(r.push[:0], data...)
}

func (r *RayTracing) BindAndDispatch(cb driver.CommandBuffer, width, height uint32) {
	cb.BindRayTracingPipeline(r.pipeline)
	if len(r.sets) > 0 {
		cb.BindDescriptorSets(r.layout, 0, r.sets)
	}
	if len(r.push) > 0 {
		cb.PushConstants(r.layout, r.pushStages, 0, r.push)
	}
	cb.TraceRays(
		r.regions[RegionRaygen],
		r.regions[RegionMiss],
		r.regions[RegionHit],
		r.regions[RegionCallable],
		width, height, 1,
	)
}

func (r *RayTracing) Region(kind RegionKind) driver.StridedRegion {
	return r.regions[kind]
}

// Regions returns the SBT regions in raygen, miss, hit, callable order.
func (r *RayTracing) Regions() [4]driver.StridedRegion {
	return r.regions
}

func (r *RayTracing) SBT() *memory.UniqueBuffer {
	return r.sbt
}

func (r *RayTracing) Pipeline() driver.Pipeline {
	return r.pipeline
}

func (r *RayTracing) Close() {
	r.sbt.Release()
	if r.pipeline != 0 {
		r.device.DestroyPipeline(r.pipeline)
		r.pipeline = 0
	}
}
