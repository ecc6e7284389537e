package scene

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// TransformMatrix is the row-major 3x4 layout instance and geometry
// transforms use on the device.
type TransformMatrix [3][4]float32

// Transform is an affine 4x4 matrix. The zero value is not usable; start
// from Identity.
type Transform struct {
	m *mat.Dense
}

func Identity() Transform {
	return Transform{m: mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})}
}

// FromMatrix wraps a 4x4 matrix. The bottom row must be 0 0 0 1.
func FromMatrix(m mat.Matrix) (Transform, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Transform{}, fmt.Errorf("scene: transform must be 4x4, got %dx%d", r, c)
	}
	for j, want := range []float64{0, 0, 0, 1} {
		if m.At(3, j) != want {
			return Transform{}, fmt.Errorf("scene: transform is not affine, row 3 is %v", mat.Row(nil, 3, m))
		}
	}
	return Transform{m: mat.DenseCopyOf(m)}, nil
}

func (t Transform) dense() *mat.Dense {
	if t.m == nil {
		return Identity().m
	}
	return t.m
}

// Then returns the transform that applies t first and next afterwards.
func (t Transform) Then(next Transform) Transform {
	var result mat.Dense
	result.Mul(next.dense(), t.dense())
	return Transform{m: &result}
}

func (t Transform) Translate(x, y, z float64) Transform {
	return t.Then(Transform{m: mat.NewDense(4, 4, []float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	})})
}

func (t Transform) Scale(x, y, z float64) Transform {
	return t.Then(Transform{m: mat.NewDense(4, 4, []float64{
		x, 0, 0, 0,
		0, y, 0, 0,
		0, 0, z, 0,
		0, 0, 0, 1,
	})})
}

// Rotate rotates by degrees around axis through the origin.
func (t Transform) Rotate(degrees float64, axis [3]float64) Transform {
	v := mat.NewVecDense(3, axis[:])
	norm := mat.Norm(v, 2)
	if norm == 0 {
		return t
	}

	half := degrees * math.Pi / 360.0
	v.ScaleVec(math.Sin(half)/norm, v)
	w, x, y, z := math.Cos(half), v.AtVec(0), v.AtVec(1), v.AtVec(2)

	return t.Then(Transform{m: mat.NewDense(4, 4, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), 0,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), 0,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), 0,
		0, 0, 0, 1,
	})})
}

func (t Transform) At(i, j int) float64 {
	return t.dense().At(i, j)
}

// Apply transforms a point.
func (t Transform) Apply(p [3]float64) [3]float64 {
	var out mat.VecDense
	out.MulVec(t.dense(), mat.NewVecDense(4, []float64{p[0], p[1], p[2], 1}))
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// Matrix converts to the device row-major 3x4 layout.
func (t Transform) Matrix() TransformMatrix {
	var out TransformMatrix
	m := t.dense()
	for i := range 3 {
		for j, v := range m.RawRowView(i) {
			out[i][j] = float32(v)
		}
	}
	return out
}
