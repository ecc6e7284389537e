// Package scene describes geometry and instancing on the host and turns the
// description into device acceleration structures.
package scene

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidMesh      = errors.New("scene: mesh index out of range")
	ErrInvalidTransform = errors.New("scene: transform index out of range")
	ErrInvalidMeshGroup = errors.New("scene: mesh group index out of range")
	ErrUnknownFormat    = errors.New("scene: unsupported mesh file format")
)

type (
	MeshIndex      uint32
	TransformIndex uint32
	MeshGroupIndex uint32
	InstanceIndex  uint32
)

// PlacedMesh puts a mesh into a mesh group, optionally with a transform.
type PlacedMesh struct {
	Mesh      MeshIndex
	Transform *TransformIndex
}

// Place is shorthand for a PlacedMesh without a transform.
func Place(mesh MeshIndex) PlacedMesh {
	return PlacedMesh{Mesh: mesh}
}

// PlaceWith is shorthand for a PlacedMesh with a transform.
func PlaceWith(mesh MeshIndex, transform TransformIndex) PlacedMesh {
	return PlacedMesh{Mesh: mesh, Transform: &transform}
}

type MeshGroup []PlacedMesh

// Instance places a mesh group in the world.
type Instance struct {
	CustomID   uint32
	Mask       uint32
	HitGroupID uint32
	MeshGroup  MeshGroupIndex
	Transform  Transform
}

// Builder accumulates a scene description. References are validated as they
// are added so a finished Builder is always consistent.
type Builder struct {
	meshes     []Mesh
	vertices   []Vertex
	faces      []Face
	transforms []TransformMatrix
	groups     []MeshGroup
	instances  []Instance
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AddMesh appends mesh data to the shared arrays.
func (b *Builder) AddMesh(data MeshData) (MeshIndex, error) {
	if err := data.validate(); err != nil {
		return 0, err
	}

	id := MeshIndex(len(b.meshes))
	b.meshes = append(b.meshes, Mesh{
		HasNormal:    data.HasNormal,
		HasTangent:   data.HasTangent,
		HasUV:        data.HasUV,
		VertexOffset: uint32(len(b.vertices)),
		VertexCount:  uint32(len(data.Vertices)),
		FaceOffset:   uint32(len(b.faces)),
		FaceCount:    uint32(len(data.Faces)),
	})
	b.vertices = append(b.vertices, data.Vertices...)
	b.faces = append(b.faces, data.Faces...)
	return id, nil
}

// LoadMesh reads a mesh file and adds every mesh in it. PLY files hold one
// mesh, glTF files one per primitive.
func (b *Builder) LoadMesh(path string) ([]MeshIndex, error) {
	var meshes []MeshData
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".ply":
		m, err := ReadPLYFile(path)
		if err != nil {
			return nil, err
		}
		meshes = []MeshData{m}
	case ".gltf", ".glb":
		m, err := ReadGLTFFile(path)
		if err != nil {
			return nil, err
		}
		meshes = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	ids := make([]MeshIndex, 0, len(meshes))
	for _, m := range meshes {
		id, err := b.AddMesh(m)
		if err != nil {
			return nil, fmt.Errorf("failed to add mesh from %s: %w", path, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *Builder) CreateTransform(t Transform) TransformIndex {
	id := TransformIndex(len(b.transforms))
	b.transforms = append(b.transforms, t.Matrix())
	return id
}

// CreateMeshGroup records an ordered group of placed meshes. An empty group
// is allowed.
func (b *Builder) CreateMeshGroup(placed []PlacedMesh) (MeshGroupIndex, error) {
	for i, p := range placed {
		if int(p.Mesh) >= len(b.meshes) {
			return 0, fmt.Errorf("%w: placed mesh %d references mesh %d of %d", ErrInvalidMesh, i, p.Mesh, len(b.meshes))
		}
		if p.Transform != nil && int(*p.Transform) >= len(b.transforms) {
			return 0, fmt.Errorf("%w: placed mesh %d references transform %d of %d", ErrInvalidTransform, i, *p.Transform, len(b.transforms))
		}
	}

	group := make(MeshGroup, len(placed))
	for i, p := range placed {
		group[i] = PlacedMesh{Mesh: p.Mesh}
		if p.Transform != nil {
			t := *p.Transform
			group[i].Transform = &t
		}
	}

	id := MeshGroupIndex(len(b.groups))
	b.groups = append(b.groups, group)
	return id, nil
}

func (b *Builder) CreateInstance(instance Instance) (InstanceIndex, error) {
	if int(instance.MeshGroup) >= len(b.groups) {
		return 0, fmt.Errorf("%w: instance references mesh group %d of %d", ErrInvalidMeshGroup, instance.MeshGroup, len(b.groups))
	}
	if instance.CustomID >= 1<<24 {
		return 0, fmt.Errorf("scene: custom id %d does not fit in 24 bits", instance.CustomID)
	}
	if instance.HitGroupID >= 1<<24 {
		return 0, fmt.Errorf("scene: hit group id %d does not fit in 24 bits", instance.HitGroupID)
	}
	if instance.Mask > 0xff {
		return 0, fmt.Errorf("scene: mask %#x does not fit in 8 bits", instance.Mask)
	}

	id := InstanceIndex(len(b.instances))
	b.instances = append(b.instances, instance)
	return id, nil
}

func (b *Builder) Meshes() []Mesh                { return b.meshes }
func (b *Builder) Vertices() []Vertex            { return b.vertices }
func (b *Builder) Faces() []Face                 { return b.faces }
func (b *Builder) Transforms() []TransformMatrix { return b.transforms }
func (b *Builder) MeshGroups() []MeshGroup       { return b.groups }
func (b *Builder) Instances() []Instance         { return b.instances }
