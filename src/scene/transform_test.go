package scene

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTransformComposition(t *testing.T) {
	tr := Identity().Scale(2, 2, 2).Translate(1, 0, 0)

	got := tr.Apply([3]float64{1, 1, 1})
	want := [3]float64{3, 2, 2}
	for i := range got {
		if !near(got[i], want[i]) {
			t.Fatalf("expected %v; got %v", want, got)
		}
	}
}

func TestTransformRotate(t *testing.T) {
	tr := Identity().Rotate(90, [3]float64{0, 0, 2})

	got := tr.Apply([3]float64{1, 0, 0})
	want := [3]float64{0, 1, 0}
	for i := range got {
		if !near(got[i], want[i]) {
			t.Fatalf("expected %v; got %v", want, got)
		}
	}

	if same := Identity().Rotate(45, [3]float64{}); !near(same.At(0, 0), 1) || !near(same.At(0, 1), 0) {
		t.Errorf("expected rotation about a zero axis to do nothing")
	}
}

func TestTransformMatrixLayout(t *testing.T) {
	m := Identity().Translate(4, 5, 6).Matrix()

	want := TransformMatrix{
		{1, 0, 0, 4},
		{0, 1, 0, 5},
		{0, 0, 1, 6},
	}
	if m != want {
		t.Fatalf("expected %v; got %v", want, m)
	}

	var zero Transform
	if zero.Matrix() != Identity().Matrix() {
		t.Errorf("expected the zero transform to act as identity")
	}
}

func TestFromMatrix(t *testing.T) {
	if _, err := FromMatrix(mat.NewDense(3, 3, nil)); err == nil {
		t.Errorf("expected error for a 3x3 matrix")
	}

	projective := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 1, 0,
	})
	if _, err := FromMatrix(projective); err == nil {
		t.Errorf("expected error for a non-affine matrix")
	}

	src := mat.NewDense(4, 4, []float64{
		1, 0, 0, 7,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	tr, err := FromMatrix(src)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	src.Set(0, 3, 100)
	if tr.At(0, 3) != 7 {
		t.Errorf("expected FromMatrix to copy its input")
	}
}
