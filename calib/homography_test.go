package calib

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func applyHomography(h *mat.Dense, p r2.Point) r2.Point {
	w := h.At(2, 0)*p.X + h.At(2, 1)*p.Y + h.At(2, 2)
	return r2.Point{
		X: (h.At(0, 0)*p.X + h.At(0, 1)*p.Y + h.At(0, 2)) / w,
		Y: (h.At(1, 0)*p.X + h.At(1, 1)*p.Y + h.At(1, 2)) / w,
	}
}

func TestEstimateHomographyRecoversMapping(t *testing.T) {
	want := mat.NewDense(3, 3, []float64{
		1.2, 0.1, 30,
		-0.05, 0.9, -12,
		0.001, -0.0005, 1,
	})

	var src, dst []r2.Point
	for x := 0; x < 5; x++ {
		for y := 0; y < 4; y++ {
			p := r2.Point{X: float64(x) * 10, Y: float64(y) * 10}
			src = append(src, p)
			dst = append(dst, applyHomography(want, p))
		}
	}

	got, err := estimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	// normalized so the corner element is one; compare entrywise
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got.At(i, j), test.ShouldAlmostEqual, want.At(i, j), 1e-8)
		}
	}

	// and it maps points it never saw
	probe := r2.Point{X: 33, Y: 17}
	mapped := applyHomography(got, probe)
	truth := applyHomography(want, probe)
	test.That(t, mapped.X, test.ShouldAlmostEqual, truth.X, 1e-8)
	test.That(t, mapped.Y, test.ShouldAlmostEqual, truth.Y, 1e-8)
}

func TestEstimateHomographyMinimalPoints(t *testing.T) {
	src := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	dst := []r2.Point{{X: 10, Y: 12}, {X: 52, Y: 9}, {X: 55, Y: 50}, {X: 8, Y: 48}}

	h, err := estimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := range src {
		mapped := applyHomography(h, src[i])
		test.That(t, mapped.X, test.ShouldAlmostEqual, dst[i].X, 1e-6)
		test.That(t, mapped.Y, test.ShouldAlmostEqual, dst[i].Y, 1e-6)
	}
}

func TestEstimateHomographyDegenerateInputs(t *testing.T) {
	// too few correspondences
	src := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	_, err := estimateHomography(src, src)
	test.That(t, err, test.ShouldNotBeNil)

	// mismatched lengths
	_, err = estimateHomography(
		[]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}},
		[]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}},
	)
	test.That(t, err, test.ShouldNotBeNil)

	// collinear points span no plane
	var colSrc, colDst []r2.Point
	for i := 0; i < 6; i++ {
		colSrc = append(colSrc, r2.Point{X: float64(i), Y: 0})
		colDst = append(colDst, r2.Point{X: float64(i) * 2, Y: 5})
	}
	_, err = estimateHomography(colSrc, colDst)
	test.That(t, err, test.ShouldNotBeNil)
}
