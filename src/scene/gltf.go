package scene

import (
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

func ReadGLTFFile(path string) ([]MeshData, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return ReadGLTF(doc)
}

// ReadGLTF turns every triangle primitive of doc into its own MeshData.
func ReadGLTF(doc *gltf.Document) ([]MeshData, error) {
	var meshes []MeshData
	for mi, mesh := range doc.Meshes {
		for pi, primitive := range mesh.Primitives {
			name := mesh.Name
			if name == "" {
				name = fmt.Sprintf("mesh%d", mi)
			}
			name = fmt.Sprintf("%s/%d", name, pi)

			if primitive.Mode != gltf.PrimitiveTriangles {
				return nil, fmt.Errorf("scene: %s uses primitive mode %v, only triangles are supported", name, primitive.Mode)
			}
			m, err := readPrimitive(doc, primitive, name)
			if err != nil {
				return nil, err
			}
			meshes = append(meshes, m)
		}
	}
	return meshes, nil
}

func readPrimitive(doc *gltf.Document, primitive *gltf.Primitive, name string) (MeshData, error) {
	posIdx, ok := primitive.Attributes["POSITION"]
	if !ok {
		return MeshData{}, fmt.Errorf("scene: %s has no POSITION attribute", name)
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return MeshData{}, fmt.Errorf("failed to read positions of %s: %w", name, err)
	}

	m := MeshData{Name: name, Vertices: make([]Vertex, len(positions))}
	for i, p := range positions {
		m.Vertices[i].Position = p
	}

	if idx, ok := primitive.Attributes["NORMAL"]; ok {
		normals, err := modeler.ReadNormal(doc, doc.Accessors[idx], nil)
		if err != nil {
			return MeshData{}, fmt.Errorf("failed to read normals of %s: %w", name, err)
		}
		if len(normals) != len(positions) {
			return MeshData{}, fmt.Errorf("scene: %s has %d normals for %d vertices", name, len(normals), len(positions))
		}
		for i, n := range normals {
			m.Vertices[i].Normal = n
		}
		m.HasNormal = true
	}

	if idx, ok := primitive.Attributes["TANGENT"]; ok {
		tangents, err := modeler.ReadTangent(doc, doc.Accessors[idx], nil)
		if err != nil {
			return MeshData{}, fmt.Errorf("failed to read tangents of %s: %w", name, err)
		}
		if len(tangents) != len(positions) {
			return MeshData{}, fmt.Errorf("scene: %s has %d tangents for %d vertices", name, len(tangents), len(positions))
		}
		for i, t := range tangents {
			m.Vertices[i].Tangent = [3]float32{t[0], t[1], t[2]}
		}
		m.HasTangent = true
	}

	if idx, ok := primitive.Attributes["TEXCOORD_0"]; ok {
		uvs, err := modeler.ReadTextureCoord(doc, doc.Accessors[idx], nil)
		if err != nil {
			return MeshData{}, fmt.Errorf("failed to read texture coordinates of %s: %w", name, err)
		}
		if len(uvs) != len(positions) {
			return MeshData{}, fmt.Errorf("scene: %s has %d texture coordinates for %d vertices", name, len(uvs), len(positions))
		}
		for i, uv := range uvs {
			m.Vertices[i].UV = uv
		}
		m.HasUV = true
	}

	var indices []uint32
	if primitive.Indices != nil {
		indices, err = modeler.ReadIndices(doc, doc.Accessors[*primitive.Indices], nil)
		if err != nil {
			return MeshData{}, fmt.Errorf("failed to read indices of %s: %w", name, err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	if len(indices)%3 != 0 {
		return MeshData{}, fmt.Errorf("scene: %s has %d indices, not a multiple of 3", name, len(indices))
	}

	m.Faces = make([]Face, len(indices)/3)
	for i := range m.Faces {
		m.Faces[i] = Face{indices[3*i], indices[3*i+1], indices[3*i+2]}
	}
	return m, nil
}
