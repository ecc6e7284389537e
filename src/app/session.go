// Package app wires the ray tracing core into a headless render: load the
// scene, build its acceleration structures, trace one frame and read the
// beauty buffer back.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/WowVeryLogin/vkprism/src/camera"
	"github.com/WowVeryLogin/vkprism/src/config"
	"github.com/WowVeryLogin/vkprism/src/runtime/accel"
	"github.com/WowVeryLogin/vkprism/src/runtime/descriptors"
	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/memory"
	"github.com/WowVeryLogin/vkprism/src/runtime/pipeline"
	"github.com/WowVeryLogin/vkprism/src/runtime/submit"
	"github.com/WowVeryLogin/vkprism/src/runtime/transfer"
	"github.com/WowVeryLogin/vkprism/src/scene"
)

const (
	StageRender = "render"

	// A beauty texel is four float32 channels.
	texelSize = 16
)

var ErrEmptyScene = errors.New("app: scene has no meshes")

// Session owns every device object of one render. Close releases them in
// reverse creation order.
type Session struct {
	cfg *config.Config
	log *zap.Logger
	dev driver.Device

	alloc    *memory.Allocator
	queue    *submit.Queue
	scene    *scene.Scene
	camera   *camera.Perspective
	beauty   *memory.UniqueBuffer
	readback *memory.UniqueBuffer

	sets     *descriptors.SetsManager
	setList  []*descriptors.DescriptorSet
	layout   driver.PipelineLayout
	pipeline *pipeline.RayTracing
}

// NewSession loads the configured meshes into one mesh group with a single
// identity instance and prepares everything needed to trace it.
func NewSession(ctx context.Context, cfg *config.Config, dev driver.Device, log *zap.Logger) (_ *Session, err error) {
	s := &Session{
		cfg:   cfg,
		log:   log.Named("app"),
		dev:   dev,
		alloc: memory.New(dev, log),
		queue: submit.NewQueue(dev, log, cfg.Timeouts.Fence),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close())
		}
	}()

	builder, err := loadScene(cfg.Scene.Meshes)
	if err != nil {
		return nil, err
	}

	engine := transfer.New(s.alloc, s.queue, log)
	s.scene, err = scene.Build(ctx, scene.Env{
		Transfer: engine,
		Accel:    accel.New(s.alloc, s.queue, engine, log),
		Log:      log,
	}, builder, scene.Params{AllowCompaction: cfg.Scene.AllowCompaction})
	if err != nil {
		return nil, err
	}

	width, height := cfg.Render.Width, cfg.Render.Height
	s.camera, err = camera.NewPerspective(camera.Params{
		FOV:    cfg.Render.FOV,
		Screen: camera.DefaultScreenWindow(width, height),
	}, width, height)
	if err != nil {
		return nil, err
	}
	pos := cfg.Render.Camera
	s.camera.Move(pos[0], pos[1], pos[2])

	size := uint64(width) * uint64(height) * texelSize
	s.beauty, err = s.alloc.Allocate(size, driver.BufferUsageStorageBuffer|driver.BufferUsageTransferSrc, memory.DeviceLocal)
	if err != nil {
		return nil, err
	}
	s.readback, err = s.alloc.Allocate(size, driver.BufferUsageTransferDst, memory.HostDownload)
	if err != nil {
		return nil, err
	}

	if err := s.createDescriptors(); err != nil {
		return nil, err
	}

	s.layout, err = pipeline.NewLayout(dev, s.sets.Layouts(), []driver.PushConstantRange{
		{Stages: driver.ShaderStageRaygen, Size: camera.ShaderDataSize},
	})
	if err != nil {
		return nil, err
	}

	s.pipeline, err = pipeline.NewRayTracing(s.alloc, log, pipeline.Config{
		ShaderDir: cfg.Shaders.Dir,
		Shaders: pipeline.ShaderSet{
			Raygen:     cfg.Shaders.Raygen,
			Miss:       []string{cfg.Shaders.Miss},
			ClosestHit: []string{cfg.Shaders.Hit},
		},
		Layout:     s.layout,
		Sets:       s.sets.Sets(),
		PushStages: driver.ShaderStageRaygen,
	})
	if err != nil {
		return nil, err
	}
	s.pipeline.SetPushConstants(s.camera.ShaderData())
	for _, kind := range []pipeline.RegionKind{pipeline.RegionRaygen, pipeline.RegionMiss, pipeline.RegionHit, pipeline.RegionCallable} {
		region := s.pipeline.Region(kind)
		s.log.Debug("shader binding table region",
			zap.Stringer("region", kind),
			zap.Uint64("address", uint64(region.Address)),
			zap.Uint64("stride", region.Stride),
			zap.Uint64("size", region.Size),
		)
	}

	s.log.Info("session ready",
		zap.Int("meshes", len(s.scene.Meshes())),
		zap.Int("width", width),
		zap.Int("height", height),
	)
	return s, nil
}

func loadScene(paths []string) (*scene.Builder, error) {
	builder := scene.NewBuilder()

	var placed []scene.PlacedMesh
	for _, path := range paths {
		meshes, err := builder.LoadMesh(path)
		if err != nil {
			return nil, err
		}
		for _, mesh := range meshes {
			placed = append(placed, scene.Place(mesh))
		}
	}
	if len(placed) == 0 {
		return nil, ErrEmptyScene
	}

	group, err := builder.CreateMeshGroup(placed)
	if err != nil {
		return nil, err
	}
	if _, err := builder.CreateInstance(scene.Instance{
		Mask:      0xff,
		MeshGroup: group,
		Transform: scene.Identity(),
	}); err != nil {
		return nil, err
	}
	return builder, nil
}

// createDescriptors lays out set 0 with the scene TLAS and set 1 with the
// beauty output.
func (s *Session) createDescriptors() error {
	s.setList = []*descriptors.DescriptorSet{
		{
			Descriptors: []descriptors.Descriptor{
				{
					Type:                  driver.DescriptorTypeAccelerationStructure,
					Flags:                 driver.ShaderStageRaygen | driver.ShaderStageClosestHit,
					AccelerationStructure: s.scene.TLAS().Handle,
				},
			},
		},
		{
			Descriptors: []descriptors.Descriptor{
				{
					Type:   driver.DescriptorTypeStorageBuffer,
					Flags:  driver.ShaderStageRaygen,
					Buffer: s.beauty.Handle(),
					Range:  s.beauty.Size(),
				},
			},
		},
	}

	sets, err := descriptors.NewSets(s.dev, s.setList)
	if err != nil {
		return err
	}
	s.sets = sets
	return nil
}

// Render traces one frame and returns the beauty buffer as an image.
func (s *Session) Render(ctx context.Context) (*image.NRGBA, error) {
	width, height := uint32(s.cfg.Render.Width), uint32(s.cfg.Render.Height)

	cbs, err := s.queue.Begin(1)
	if err != nil {
		return nil, &submit.StageError{Stage: StageRender, Err: err}
	}
	cb := cbs[0]

	s.pipeline.BindAndDispatch(cb, width, height)
	cb.MemoryBarrier(
		driver.PipelineStageRayTracingShader, driver.AccessShaderWrite,
		driver.PipelineStageTransfer, driver.AccessTransferRead,
	)
	cb.CopyBuffer(s.beauty.Handle(), s.readback.Handle(), driver.BufferCopy{Size: s.beauty.Size()})

	if err := s.queue.SubmitAndWait(ctx, StageRender, cbs); err != nil {
		return nil, err
	}

	texels, err := memory.Download[[4]float32](s.readback, texelCount(width, height))
	if err != nil {
		return nil, fmt.Errorf("failed to read beauty buffer: %w", err)
	}
	s.log.Debug("frame traced", zap.Uint32("width", width), zap.Uint32("height", height))
	return toImage(texels, int(width), int(height)), nil
}

func texelCount(width, height uint32) int {
	return int(width) * int(height)
}

// Close waits for the device and releases everything the session created.
// If the device never goes idle, device objects are left alone and buffers
// are abandoned, since submitted work may still use them.
func (s *Session) Close() error {
	var err error
	if s.dev != nil {
		if werr := s.dev.WaitIdle(); werr != nil {
			err = multierr.Append(err, werr)
			s.abandon()
		}
	}

	if s.pipeline != nil {
		s.pipeline.Close()
		s.pipeline = nil
	}
	if s.layout != 0 {
		s.dev.DestroyPipelineLayout(s.layout)
		s.layout = 0
	}
	s.setList = nil
	if s.sets != nil {
		s.sets.Close()
		s.sets = nil
	}
	s.readback.Release()
	s.beauty.Release()
	if s.scene != nil {
		s.scene.Close()
		s.scene = nil
	}

	if leaked := s.alloc.Stats().Buffers; leaked > 0 {
		err = multierr.Append(err, fmt.Errorf("app: %d buffers still live at close", leaked))
	}
	s.alloc.Close()
	return err
}

func (s *Session) abandon() {
	s.log.Warn("device did not go idle, abandoning session objects")
	if s.pipeline != nil {
		s.pipeline.SBT().Abandon()
		s.pipeline = nil
	}
	s.layout = 0
	s.setList = nil
	s.sets = nil
	s.readback.Abandon()
	s.beauty.Abandon()
	if s.scene != nil {
		s.scene.Abandon()
		s.scene = nil
	}
}
