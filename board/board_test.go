package board

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestGeometryValidation(t *testing.T) {
	_, err := NewGeometry(1, 8)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewGeometry(6, 0)
	test.That(t, err, test.ShouldNotBeNil)
	g, err := NewGeometry(6, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.PointCount(), test.ShouldEqual, 48)
}

func TestObjectPointOrder(t *testing.T) {
	g, err := NewGeometry(2, 3)
	test.That(t, err, test.ShouldBeNil)
	pts := g.ObjectPoints()
	test.That(t, len(pts), test.ShouldEqual, 6)
	// row-major over (i, j): j varies fastest
	test.That(t, pts[0].X, test.ShouldEqual, 0.0)
	test.That(t, pts[0].Y, test.ShouldEqual, 0.0)
	test.That(t, pts[1].X, test.ShouldEqual, 0.0)
	test.That(t, pts[1].Y, test.ShouldEqual, 1.0)
	test.That(t, pts[2].X, test.ShouldEqual, 1.0)
	test.That(t, pts[2].Y, test.ShouldEqual, 0.0)
	for _, p := range pts {
		test.That(t, p.Z, test.ShouldEqual, 0.0)
	}
}

func TestObjectPointScale(t *testing.T) {
	g := Geometry{Rows: 2, Cols: 2, SquareSize: 25.0}
	test.That(t, g.CheckValid(), test.ShouldBeNil)
	pts := g.ObjectPoints()
	test.That(t, pts[3].X, test.ShouldEqual, 25.0)
	test.That(t, pts[3].Y, test.ShouldEqual, 25.0)
}

func TestSampleValidation(t *testing.T) {
	g, err := NewGeometry(2, 2)
	test.That(t, err, test.ShouldBeNil)

	_, err = NewSample(g, make([]r2.Point, 3))
	test.That(t, err, test.ShouldNotBeNil)

	s, err := NewSample(g, make([]r2.Point, 4))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.CheckValid(), test.ShouldBeNil)
}
