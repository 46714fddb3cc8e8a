package calib

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/camgeom/boardtrack/board"
)

// distCoeffs packs the Brown-Conrady coefficients in optimizer order.
type distCoeffs struct {
	k1, k2, p1, p2, k3 float64
}

// projectThrough projects one board point through a rotation matrix and
// translation into the camera frame, distorts it, and maps it to a pixel.
// This is the hot path of the refinement loops, so the rotation matrix is
// computed once per pose by the caller.
func projectThrough(rm *mat.Dense, t r3.Vector, fx, fy, cx, cy float64, d distCoeffs, pt r3.Vector) (float64, float64) {
	xc := rm.At(0, 0)*pt.X + rm.At(0, 1)*pt.Y + rm.At(0, 2)*pt.Z + t.X
	yc := rm.At(1, 0)*pt.X + rm.At(1, 1)*pt.Y + rm.At(1, 2)*pt.Z + t.Y
	zc := rm.At(2, 0)*pt.X + rm.At(2, 1)*pt.Y + rm.At(2, 2)*pt.Z + t.Z
	if zc == 0 {
		return -1, -1
	}
	xn := xc / zc
	yn := yc / zc

	rsq := xn*xn + yn*yn
	r4 := rsq * rsq
	r6 := r4 * rsq
	radial := 1 + d.k1*rsq + d.k2*r4 + d.k3*r6
	xd := xn*radial + 2*d.p1*xn*yn + d.p2*(rsq+2*xn*xn)
	yd := yn*radial + 2*d.p2*xn*yn + d.p1*(rsq+2*yn*yn)

	return fx*xd + cx, fy*yd + cy
}

// planePoints drops the z=0 coordinate of the board's object points.
func planePoints(s board.Sample) []r2.Point {
	out := make([]r2.Point, len(s.ObjectPoints))
	for i, p := range s.ObjectPoints {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}
