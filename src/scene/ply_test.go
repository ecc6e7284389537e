package scene

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

const asciiQuad = `ply
format ascii 1.0
comment unit square
element vertex 4
property float x
property float y
property float z
property float nx
property float ny
property float nz
property float s
property float t
element face 1
property list uchar int vertex_indices
end_header
0 0 0 0 0 1 0 0
1 0 0 0 0 1 1 0
1 1 0 0 0 1 1 1
0 1 0 0 0 1 0 1
4 0 1 2 3
`

func TestReadPLYASCII(t *testing.T) {
	m, err := ReadPLY(strings.NewReader(asciiQuad))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	if len(m.Vertices) != 4 {
		t.Fatalf("expected 4 vertices; got %d", len(m.Vertices))
	}
	if !m.HasNormal || !m.HasUV || m.HasTangent {
		t.Errorf("unexpected attribute flags normal=%v uv=%v tangent=%v", m.HasNormal, m.HasUV, m.HasTangent)
	}
	v := m.Vertices[2]
	if v.Position != [3]float32{1, 1, 0} || v.Normal != [3]float32{0, 0, 1} || v.UV != [2]float32{1, 1} {
		t.Errorf("unexpected vertex %+v", v)
	}

	want := []Face{{0, 1, 2}, {0, 2, 3}}
	if len(m.Faces) != len(want) {
		t.Fatalf("expected quad to split into %d triangles; got %d", len(want), len(m.Faces))
	}
	for i := range want {
		if m.Faces[i] != want[i] {
			t.Errorf("face %d: expected %v; got %v", i, want[i], m.Faces[i])
		}
	}
}

func TestReadPLYTangents(t *testing.T) {
	const src = `ply
format ascii 1.0
element vertex 3
property float x
property float y
property float z
property float tx
property float ty
property float tz
element face 1
property list uchar int vertex_indices
end_header
0 0 0 1 0 0
1 0 0 1 0 0
0 1 0 0 1 0
3 0 1 2
`
	m, err := ReadPLY(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !m.HasTangent || m.HasNormal {
		t.Errorf("unexpected attribute flags normal=%v tangent=%v", m.HasNormal, m.HasTangent)
	}
	if m.Vertices[2].Tangent != [3]float32{0, 1, 0} {
		t.Errorf("unexpected tangent %v", m.Vertices[2].Tangent)
	}
}

func TestReadPLYBinary(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\n" +
		"format binary_little_endian 1.0\n" +
		"element vertex 3\n" +
		"property float x\n" +
		"property float y\n" +
		"property float z\n" +
		"property uchar red\n" +
		"element face 1\n" +
		"property list uchar uint vertex_index\n" +
		"element edge 1\n" +
		"property int vertex1\n" +
		"property int vertex2\n" +
		"end_header\n")

	positions := [][3]float32{{0, 0, 0}, {2, 0, 0}, {0, 2, 0}}
	for _, p := range positions {
		binary.Write(&buf, binary.LittleEndian, p)
		buf.WriteByte(255)
	}
	buf.WriteByte(3)
	binary.Write(&buf, binary.LittleEndian, []uint32{2, 1, 0})
	binary.Write(&buf, binary.LittleEndian, []int32{0, 1})

	m, err := ReadPLY(&buf)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	for i, p := range positions {
		if m.Vertices[i].Position != p {
			t.Errorf("vertex %d: expected %v; got %v", i, p, m.Vertices[i].Position)
		}
	}
	if m.HasNormal || m.HasUV {
		t.Errorf("expected no normals or uvs")
	}
	if len(m.Faces) != 1 || m.Faces[0] != (Face{2, 1, 0}) {
		t.Errorf("unexpected faces %v", m.Faces)
	}
}

func TestReadPLYRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no magic":    "plx\nformat ascii 1.0\nend_header\n",
		"no format":   "ply\nelement vertex 0\nend_header\n",
		"big endian":  "ply\nformat binary_big_endian 1.0\nend_header\n",
		"bad type":    "ply\nformat ascii 1.0\nelement vertex 1\nproperty half x\nend_header\n",
		"no xyz":      "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nend_header\n0\n",
		"short body":  "ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n",
		"line face":   "ply\nformat ascii 1.0\nelement vertex 3\nproperty float x\nproperty float y\nproperty float z\nelement face 1\nproperty list uchar int vertex_indices\nend_header\n0 0 0\n1 0 0\n0 1 0\n2 0 1\n",
		"no end":      "ply\nformat ascii 1.0\nelement vertex 1\n",
		"orphan prop": "ply\nformat ascii 1.0\nproperty float x\nend_header\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadPLY(strings.NewReader(src)); !errors.Is(err, ErrPLYFormat) {
				t.Errorf("expected ErrPLYFormat; got %v", err)
			}
		})
	}
}
