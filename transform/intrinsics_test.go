package transform

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/camgeom/boardtrack/spatialmath"
)

var testIntrinsics = PinholeCameraIntrinsics{
	Width:  640,
	Height: 480,
	Fx:     821.32642889,
	Fy:     821.68607359,
	Ppx:    320.0,
	Ppy:    240.0,
}

func TestCheckValid(t *testing.T) {
	var nilParams *PinholeCameraIntrinsics
	test.That(t, nilParams.CheckValid(), test.ShouldNotBeNil)

	bad := testIntrinsics
	bad.Fx = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)

	bad = testIntrinsics
	bad.Width = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)

	good := testIntrinsics
	test.That(t, good.CheckValid(), test.ShouldBeNil)
}

func TestCameraMatrix(t *testing.T) {
	m := testIntrinsics.CameraMatrix()
	test.That(t, m.At(0, 0), test.ShouldEqual, testIntrinsics.Fx)
	test.That(t, m.At(1, 1), test.ShouldEqual, testIntrinsics.Fy)
	test.That(t, m.At(0, 2), test.ShouldEqual, testIntrinsics.Ppx)
	test.That(t, m.At(1, 2), test.ShouldEqual, testIntrinsics.Ppy)
	test.That(t, m.At(2, 2), test.ShouldEqual, 1.0)
}

func TestNormalizedPixelRoundTrip(t *testing.T) {
	u, v := 123.4, 456.7
	x, y := testIntrinsics.NormalizedFromPixel(u, v)
	u2, v2 := testIntrinsics.PixelFromNormalized(x, y)
	test.That(t, u2, test.ShouldAlmostEqual, u, 1e-12)
	test.That(t, v2, test.ShouldAlmostEqual, v, 1e-12)
}

func TestProject(t *testing.T) {
	// a point on the optical axis projects to the principal point
	pt := testIntrinsics.Project(spatialmath.NewZeroPose(), nil, r3.Vector{Z: 5})
	test.That(t, pt.X, test.ShouldAlmostEqual, testIntrinsics.Ppx, 1e-12)
	test.That(t, pt.Y, test.ShouldAlmostEqual, testIntrinsics.Ppy, 1e-12)

	// one focal length off axis at unit depth lands one pixel-focal away
	pt = testIntrinsics.Project(spatialmath.NewZeroPose(), nil, r3.Vector{X: 1, Z: 1})
	test.That(t, pt.X, test.ShouldAlmostEqual, testIntrinsics.Ppx+testIntrinsics.Fx, 1e-9)

	// zero depth is flagged with negative coordinates
	pt = testIntrinsics.Project(spatialmath.NewZeroPose(), nil, r3.Vector{X: 1})
	test.That(t, pt.X, test.ShouldEqual, -1.0)
	test.That(t, pt.Y, test.ShouldEqual, -1.0)

	// the pose translation moves the camera-frame point
	pose := spatialmath.NewPose(r3.Vector{}, r3.Vector{Z: 2})
	pt = testIntrinsics.Project(pose, nil, r3.Vector{})
	test.That(t, pt.X, test.ShouldAlmostEqual, testIntrinsics.Ppx, 1e-12)
}
