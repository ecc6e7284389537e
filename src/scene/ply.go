package scene

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrPLYFormat = errors.New("scene: malformed PLY file")

type plyFormat int

const (
	plyASCII plyFormat = iota
	plyBinaryLE
)

type plyProperty struct {
	name      string
	typ       string
	list      bool
	countType string
}

type plyElement struct {
	name       string
	count      int
	properties []plyProperty
}

func ReadPLYFile(path string) (MeshData, error) {
	f, err := os.Open(path)
	if err != nil {
		return MeshData{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	m, err := ReadPLY(f)
	if err != nil {
		return MeshData{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m, nil
}

// ReadPLY reads an ascii or binary little-endian PLY mesh. Faces with more
// than three vertices are split into a triangle fan.
func ReadPLY(r io.Reader) (MeshData, error) {
	br := bufio.NewReader(r)
	format, elements, err := readPLYHeader(br)
	if err != nil {
		return MeshData{}, err
	}

	var values plyValueReader
	switch format {
	case plyASCII:
		values = &plyASCIIReader{r: br}
	case plyBinaryLE:
		values = &plyBinaryReader{r: br}
	}

	var m MeshData
	for _, el := range elements {
		switch el.name {
		case "vertex":
			if err := readPLYVertices(values, el, &m); err != nil {
				return MeshData{}, err
			}
		case "face":
			if err := readPLYFaces(values, el, &m); err != nil {
				return MeshData{}, err
			}
		default:
			if err := skipPLYElement(values, el); err != nil {
				return MeshData{}, err
			}
		}
	}
	return m, nil
}

func readPLYHeader(r *bufio.Reader) (plyFormat, []plyElement, error) {
	line, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return 0, nil, fmt.Errorf("%w: missing magic", ErrPLYFormat)
	}

	format := plyFormat(-1)
	var elements []plyElement
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, nil, fmt.Errorf("%w: header ended early", ErrPLYFormat)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return 0, nil, fmt.Errorf("%w: %q", ErrPLYFormat, strings.TrimSpace(line))
			}
			switch fields[1] {
			case "ascii":
				format = plyASCII
			case "binary_little_endian":
				format = plyBinaryLE
			default:
				return 0, nil, fmt.Errorf("%w: unsupported format %s", ErrPLYFormat, fields[1])
			}
		case "element":
			if len(fields) != 3 {
				return 0, nil, fmt.Errorf("%w: %q", ErrPLYFormat, strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return 0, nil, fmt.Errorf("%w: bad element count %q", ErrPLYFormat, fields[2])
			}
			elements = append(elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(elements) == 0 {
				return 0, nil, fmt.Errorf("%w: property before element", ErrPLYFormat)
			}
			var p plyProperty
			switch {
			case len(fields) == 5 && fields[1] == "list":
				p = plyProperty{name: fields[4], typ: fields[3], list: true, countType: fields[2]}
			case len(fields) == 3:
				p = plyProperty{name: fields[2], typ: fields[1]}
			default:
				return 0, nil, fmt.Errorf("%w: %q", ErrPLYFormat, strings.TrimSpace(line))
			}
			if plyTypeSize(p.typ) == 0 || (p.list && plyTypeSize(p.countType) == 0) {
				return 0, nil, fmt.Errorf("%w: unknown property type in %q", ErrPLYFormat, strings.TrimSpace(line))
			}
			last := &elements[len(elements)-1]
			last.properties = append(last.properties, p)
		case "end_header":
			if format < 0 {
				return 0, nil, fmt.Errorf("%w: no format line", ErrPLYFormat)
			}
			return format, elements, nil
		default:
			return 0, nil, fmt.Errorf("%w: unexpected header line %q", ErrPLYFormat, strings.TrimSpace(line))
		}
	}
}

func readPLYVertices(values plyValueReader, el plyElement, m *MeshData) error {
	names := map[string]bool{}
	for _, p := range el.properties {
		names[p.name] = true
	}
	if !names["x"] || !names["y"] || !names["z"] {
		return fmt.Errorf("%w: vertex element needs x, y and z", ErrPLYFormat)
	}
	m.HasNormal = names["nx"] && names["ny"] && names["nz"]
	m.HasTangent = names["tx"] && names["ty"] && names["tz"]
	m.HasUV = (names["u"] && names["v"]) || (names["s"] && names["t"]) ||
		(names["texture_u"] && names["texture_v"])

	m.Vertices = make([]Vertex, el.count)
	for i := range m.Vertices {
		v := &m.Vertices[i]
		for _, p := range el.properties {
			if p.list {
				if _, err := readPLYList(values, p); err != nil {
					return err
				}
				continue
			}
			f, err := values.read(p.typ)
			if err != nil {
				return fmt.Errorf("%w: vertex %d: %v", ErrPLYFormat, i, err)
			}
			switch p.name {
			case "x":
				v.Position[0] = float32(f)
			case "y":
				v.Position[1] = float32(f)
			case "z":
				v.Position[2] = float32(f)
			case "nx":
				v.Normal[0] = float32(f)
			case "ny":
				v.Normal[1] = float32(f)
			case "nz":
				v.Normal[2] = float32(f)
			case "tx":
				v.Tangent[0] = float32(f)
			case "ty":
				v.Tangent[1] = float32(f)
			case "tz":
				v.Tangent[2] = float32(f)
			case "u", "s", "texture_u":
				v.UV[0] = float32(f)
			case "v", "t", "texture_v":
				v.UV[1] = float32(f)
			}
		}
	}
	return nil
}

func readPLYFaces(values plyValueReader, el plyElement, m *MeshData) error {
	for i := 0; i < el.count; i++ {
		for _, p := range el.properties {
			if !p.list {
				if _, err := values.read(p.typ); err != nil {
					return fmt.Errorf("%w: face %d: %v", ErrPLYFormat, i, err)
				}
				continue
			}
			list, err := readPLYList(values, p)
			if err != nil {
				return fmt.Errorf("%w: face %d: %v", ErrPLYFormat, i, err)
			}
			if p.name != "vertex_indices" && p.name != "vertex_index" {
				continue
			}
			if len(list) < 3 {
				return fmt.Errorf("%w: face %d has %d vertices", ErrPLYFormat, i, len(list))
			}
			for k := 1; k+1 < len(list); k++ {
				m.Faces = append(m.Faces, Face{uint32(list[0]), uint32(list[k]), uint32(list[k+1])})
			}
		}
	}
	return nil
}

func skipPLYElement(values plyValueReader, el plyElement) error {
	for i := 0; i < el.count; i++ {
		for _, p := range el.properties {
			var err error
			if p.list {
				_, err = readPLYList(values, p)
			} else {
				_, err = values.read(p.typ)
			}
			if err != nil {
				return fmt.Errorf("%w: %s %d: %v", ErrPLYFormat, el.name, i, err)
			}
		}
	}
	return nil
}

func readPLYList(values plyValueReader, p plyProperty) ([]float64, error) {
	n, err := values.read(p.countType)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative list length %v", n)
	}
	list := make([]float64, int(n))
	for i := range list {
		if list[i], err = values.read(p.typ); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func plyTypeSize(typ string) int {
	switch typ {
	case "char", "uchar", "int8", "uint8":
		return 1
	case "short", "ushort", "int16", "uint16":
		return 2
	case "int", "uint", "float", "int32", "uint32", "float32":
		return 4
	case "double", "float64":
		return 8
	}
	return 0
}

type plyValueReader interface {
	read(typ string) (float64, error)
}

type plyASCIIReader struct {
	r      *bufio.Reader
	fields []string
}

func (a *plyASCIIReader) read(string) (float64, error) {
	for len(a.fields) == 0 {
		line, err := a.r.ReadString('\n')
		if err != nil && line == "" {
			return 0, io.ErrUnexpectedEOF
		}
		a.fields = strings.Fields(line)
	}
	f, err := strconv.ParseFloat(a.fields[0], 64)
	a.fields = a.fields[1:]
	return f, err
}

type plyBinaryReader struct {
	r   *bufio.Reader
	buf [8]byte
}

func (b *plyBinaryReader) read(typ string) (float64, error) {
	size := plyTypeSize(typ)
	if _, err := io.ReadFull(b.r, b.buf[:size]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	data := b.buf[:size]
	switch typ {
	case "char", "int8":
		return float64(int8(data[0])), nil
	case "uchar", "uint8":
		return float64(data[0]), nil
	case "short", "int16":
		return float64(int16(binary.LittleEndian.Uint16(data))), nil
	case "ushort", "uint16":
		return float64(binary.LittleEndian.Uint16(data)), nil
	case "int", "int32":
		return float64(int32(binary.LittleEndian.Uint32(data))), nil
	case "uint", "uint32":
		return float64(binary.LittleEndian.Uint32(data)), nil
	case "float", "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	}
}
