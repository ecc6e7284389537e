package scene

import "fmt"

// Vertex is the device vertex layout, 44 bytes with no padding.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	Tangent  [3]float32
	UV       [2]float32
}

// Face is one triangle of vertex indices.
type Face [3]uint32

const (
	VertexStride = 44
	FaceStride   = 12
)

// MeshData is a mesh as produced by a reader, before it joins a scene.
type MeshData struct {
	Name       string
	Vertices   []Vertex
	Faces      []Face
	HasNormal  bool
	HasTangent bool
	HasUV      bool
}

func (m *MeshData) validate() error {
	if len(m.Vertices) == 0 {
		return fmt.Errorf("scene: mesh %q has no vertices", m.Name)
	}
	if len(m.Faces) == 0 {
		return fmt.Errorf("scene: mesh %q has no faces", m.Name)
	}
	for i, f := range m.Faces {
		for _, idx := range f {
			if int(idx) >= len(m.Vertices) {
				return fmt.Errorf("scene: mesh %q face %d references vertex %d of %d", m.Name, i, idx, len(m.Vertices))
			}
		}
	}
	return nil
}

// Mesh locates one mesh inside the shared vertex and face arrays.
type Mesh struct {
	HasNormal  bool
	HasTangent bool
	HasUV      bool

	VertexOffset uint32
	VertexCount  uint32
	FaceOffset   uint32
	FaceCount    uint32
}
