package camera

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func project(m mat.Matrix, x, y float64) (float64, float64, float64) {
	var p mat.VecDense
	p.MulVec(m, mat.NewVecDense(4, []float64{x, y, 0, 1}))
	w := p.AtVec(3)
	return p.AtVec(0) / w, p.AtVec(1) / w, p.AtVec(2) / w
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestRasterToCamera(t *testing.T) {
	c, err := NewPerspective(Params{FOV: 90, Screen: DefaultScreenWindow(64, 64)}, 64, 64)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	tests := []struct {
		name  string
		x, y  float64
		wantX float64
		wantY float64
		wantZ float64
	}{
		{"center", 32, 32, 0, 0, 1e-2},
		{"top left", 0, 0, -1e-2, 1e-2, 1e-2},
		{"bottom right", 64, 64, 1e-2, -1e-2, 1e-2},
	}
	for _, tt := range tests {
		x, y, z := project(c.RasterToCamera(), tt.x, tt.y)
		if !approx(x, tt.wantX) || !approx(y, tt.wantY) || !approx(z, tt.wantZ) {
			t.Errorf("%s: expected (%v, %v, %v); got (%v, %v, %v)", tt.name, tt.wantX, tt.wantY, tt.wantZ, x, y, z)
		}
	}
}

func TestDefaultScreenWindow(t *testing.T) {
	if got := DefaultScreenWindow(200, 100); got != (ScreenWindow{MinX: -2, MinY: -1, MaxX: 2, MaxY: 1}) {
		t.Errorf("unexpected wide window %+v", got)
	}
	if got := DefaultScreenWindow(100, 200); got != (ScreenWindow{MinX: -1, MinY: -2, MaxX: 1, MaxY: 2}) {
		t.Errorf("unexpected tall window %+v", got)
	}
}

func TestShaderData(t *testing.T) {
	c, err := NewPerspective(Params{FOV: 60, Screen: DefaultScreenWindow(4, 4)}, 4, 4)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	c.Move(1, 2, 3)

	data := c.ShaderData()
	if len(data) != ShaderDataSize {
		t.Fatalf("expected %d bytes; got %d", ShaderDataSize, len(data))
	}

	at := func(matrix, col, row int) float32 {
		off := matrix*64 + (col*4+row)*4
		return math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	}
	// Translation lives in the last column of cameraToWorld.
	if at(1, 3, 0) != 1 || at(1, 3, 1) != 2 || at(1, 3, 2) != 3 || at(1, 3, 3) != 1 {
		t.Errorf("unexpected translation column %v %v %v %v", at(1, 3, 0), at(1, 3, 1), at(1, 3, 2), at(1, 3, 3))
	}
	if want := float32(c.RasterToCamera().At(0, 3)); at(0, 3, 0) != want {
		t.Errorf("expected rasterToCamera[0][3] %v; got %v", want, at(0, 3, 0))
	}
}

func TestInvalidParams(t *testing.T) {
	tests := []struct {
		name          string
		params        Params
		width, height int
	}{
		{"zero fov", Params{FOV: 0, Screen: DefaultScreenWindow(1, 1)}, 1, 1},
		{"flat fov", Params{FOV: 180, Screen: DefaultScreenWindow(1, 1)}, 1, 1},
		{"empty window", Params{FOV: 45}, 1, 1},
		{"zero width", Params{FOV: 45, Screen: DefaultScreenWindow(1, 1)}, 0, 1},
		{"bad matrix", Params{FOV: 45, Screen: DefaultScreenWindow(1, 1), CameraToWorld: mat.NewDense(3, 3, nil)}, 1, 1},
	}
	for _, tt := range tests {
		if _, err := NewPerspective(tt.params, tt.width, tt.height); !errors.Is(err, ErrInvalidCamera) {
			t.Errorf("%s: expected ErrInvalidCamera; got %v", tt.name, err)
		}
	}
}
