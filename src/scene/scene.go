package scene

import (
	"context"
	"errors"

	"github.com/WowVeryLogin/vkprism/src/runtime/accel"
	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/memory"
	"github.com/WowVeryLogin/vkprism/src/runtime/submit"
	"github.com/WowVeryLogin/vkprism/src/runtime/transfer"
	"go.uber.org/zap"
)

const (
	geometryUsage = driver.BufferUsageAccelerationStructureInput |
		driver.BufferUsageShaderDeviceAddress |
		driver.BufferUsageStorageBuffer
	transformUsage = driver.BufferUsageAccelerationStructureInput |
		driver.BufferUsageShaderDeviceAddress
)

// Env is what Build needs from the runtime.
type Env struct {
	Transfer *transfer.Engine
	Accel    *accel.Builder
	Log      *zap.Logger
}

type Params struct {
	AllowCompaction bool
}

// Scene is the device side of a Builder: geometry buffers, one BLAS per
// mesh group and the TLAS over all instances.
type Scene struct {
	vertices   *memory.UniqueBuffer
	faces      *memory.UniqueBuffer
	transforms *memory.UniqueBuffer

	blas []*accel.AccelerationStructure
	tlas *accel.AccelerationStructure

	meshes    []Mesh
	instances []Instance
}

// Build uploads the builder's arrays and builds every acceleration
// structure. On error nothing created by the call survives, except after a
// fence timeout, when it is abandoned to the pending work.
func Build(ctx context.Context, env Env, b *Builder, params Params) (*Scene, error) {
	log := env.Log.Named("scene")
	s := &Scene{
		meshes:    append([]Mesh(nil), b.meshes...),
		instances: append([]Instance(nil), b.instances...),
	}

	buffers, err := env.Transfer.Upload(ctx,
		transfer.Of("vertices", b.vertices, geometryUsage),
		transfer.Of("faces", b.faces, geometryUsage),
		transfer.Of("transforms", b.transforms, transformUsage),
	)
	if err != nil {
		return nil, err
	}
	s.vertices, s.faces, s.transforms = buffers[0], buffers[1], buffers[2]

	groups := make([]accel.Group, len(b.groups))
	for i, group := range b.groups {
		groups[i] = make(accel.Group, len(group))
		for j, placed := range group {
			mesh := b.meshes[placed.Mesh]
			p := accel.Placement{
				VertexOffset: mesh.VertexOffset,
				VertexCount:  mesh.VertexCount,
				FaceOffset:   mesh.FaceOffset,
				FaceCount:    mesh.FaceCount,
			}
			if placed.Transform != nil {
				p.HasTransform = true
				p.TransformIndex = uint32(*placed.Transform)
			}
			groups[i][j] = p
		}
	}

	s.blas, err = env.Accel.BuildBLAS(ctx, accel.Geometry{
		Vertices:   s.vertices,
		Faces:      s.faces,
		Transforms: s.transforms,
	}, groups, accel.Options{AllowCompaction: params.AllowCompaction})
	if err != nil {
		s.closeAfter(err, log)
		return nil, err
	}

	instances := make([]accel.Instance, len(b.instances))
	for i, inst := range b.instances {
		instances[i] = accel.Instance{
			Transform: inst.Transform.Matrix(),
			CustomID:  inst.CustomID,
			Mask:      inst.Mask,
			HitGroup:  inst.HitGroupID,
			BLAS:      int(inst.MeshGroup),
		}
	}

	s.tlas, err = env.Accel.BuildTLAS(ctx, instances, s.blas)
	if err != nil {
		s.closeAfter(err, log)
		return nil, err
	}

	log.Info("scene built",
		zap.Int("meshes", len(b.meshes)),
		zap.Int("vertices", len(b.vertices)),
		zap.Int("faces", len(b.faces)),
		zap.Int("transforms", len(b.transforms)),
		zap.Int("mesh_groups", len(b.groups)),
		zap.Int("instances", len(b.instances)),
	)
	return s, nil
}

func (s *Scene) VertexBuffer() *memory.UniqueBuffer    { return s.vertices }
func (s *Scene) FaceBuffer() *memory.UniqueBuffer      { return s.faces }
func (s *Scene) TransformBuffer() *memory.UniqueBuffer { return s.transforms }
func (s *Scene) TLAS() *accel.AccelerationStructure    { return s.tlas }
func (s *Scene) BLAS() []*accel.AccelerationStructure  { return s.blas }
func (s *Scene) Meshes() []Mesh                        { return s.meshes }
func (s *Scene) Instances() []Instance                 { return s.instances }

// closeAfter releases the scene after a failed stage. After a fence timeout
// the device may still read every part of it, so it is abandoned instead.
func (s *Scene) closeAfter(err error, log *zap.Logger) {
	if errors.Is(err, submit.ErrTimeout) {
		log.Warn("abandoning scene to unfinished device work", zap.Error(err))
		s.Abandon()
		return
	}
	s.Close()
}

// Abandon gives up every structure and buffer without freeing them.
func (s *Scene) Abandon() {
	s.tlas.Abandon()
	s.tlas = nil
	for _, b := range s.blas {
		b.Abandon()
	}
	s.blas = nil
	s.vertices.Abandon()
	s.faces.Abandon()
	s.transforms.Abandon()
}

// Close releases the structures before the geometry they were built from.
func (s *Scene) Close() {
	s.tlas.Close()
	s.tlas = nil
	for _, b := range s.blas {
		b.Close()
	}
	s.blas = nil
	s.vertices.Release()
	s.faces.Release()
	s.transforms.Release()
}
