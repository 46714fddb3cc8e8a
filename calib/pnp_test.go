package calib

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/spatialmath"
)

func TestSolvePnPRecoversExtrinsics(t *testing.T) {
	intr, dist := syntheticCamera()
	geom := syntheticBoard()
	poses := syntheticExtrinsics()
	samples := syntheticSamples(intr, dist, poses, geom)

	for i, want := range poses {
		got, err := SolvePnP(intr, dist, samples[i])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, spatialmath.QuaternionAlmostEqual(
			got.Quaternion(), want.Quaternion(), 1e-4), test.ShouldBeTrue)
		test.That(t, got.Translation.Sub(want.Translation).Norm(), test.ShouldBeLessThan, 1e-2)
	}
}

func TestEstimatePoseIsWorldFrame(t *testing.T) {
	intr, dist := syntheticCamera()
	geom := syntheticBoard()
	extrinsic := syntheticExtrinsics()[1]
	sample := syntheticSamples(intr, dist, []spatialmath.Pose{extrinsic}, geom)[0]

	world, err := EstimatePose(intr, dist, sample)
	test.That(t, err, test.ShouldBeNil)

	// the world pose is the inverse: it carries the camera origin back to
	// board coordinates
	wantInv := extrinsic.Invert()
	test.That(t, spatialmath.QuaternionAlmostEqual(
		world.Quaternion(), wantInv.Quaternion(), 1e-4), test.ShouldBeTrue)
	test.That(t, world.Translation.Sub(wantInv.Translation).Norm(), test.ShouldBeLessThan, 1e-2)

	// composing the two transforms returns a board corner to itself
	pt := r3.Vector{X: 3, Y: 2, Z: 0}
	roundTrip := world.TransformPoint(extrinsic.TransformPoint(pt))
	test.That(t, roundTrip.Sub(pt).Norm(), test.ShouldBeLessThan, 1e-2)
}

func TestSolvePnPWithPixelNoise(t *testing.T) {
	intr, dist := syntheticCamera()
	geom := syntheticBoard()
	want := syntheticExtrinsics()[0]
	sample := syntheticSamples(intr, dist, []spatialmath.Pose{want}, geom)[0]

	// deterministic sub-pixel perturbation
	for i := range sample.ImagePoints {
		sample.ImagePoints[i].X += 0.3 * math.Sin(float64(i)*1.7)
		sample.ImagePoints[i].Y += 0.3 * math.Cos(float64(i)*2.3)
	}

	got, err := SolvePnP(intr, dist, sample)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, got.Translation.Sub(want.Translation).Norm(), test.ShouldBeLessThan, 0.3)
	test.That(t, spatialmath.QuaternionAlmostEqual(
		got.Quaternion(), want.Quaternion(), 0.05), test.ShouldBeTrue)
}

func TestSolvePnPTooFewPoints(t *testing.T) {
	intr, dist := syntheticCamera()
	geom := syntheticBoard()
	sample := syntheticSamples(intr, dist, syntheticExtrinsics()[:1], geom)[0]
	sample.ObjectPoints = sample.ObjectPoints[:3]
	sample.ImagePoints = sample.ImagePoints[:3]

	_, err := SolvePnP(intr, dist, sample)
	test.That(t, errors.Is(err, ErrPoseSolveFailure), test.ShouldBeTrue)
}

func TestSolvePnPDegenerateGeometry(t *testing.T) {
	intr, dist := syntheticCamera()

	// collinear object points carry no plane orientation
	sample := board.Sample{}
	for i := 0; i < 10; i++ {
		sample.ObjectPoints = append(sample.ObjectPoints, r3.Vector{X: float64(i), Y: 0, Z: 0})
		sample.ImagePoints = append(sample.ImagePoints, r2.Point{X: 100 + 20*float64(i), Y: 240})
	}

	_, err := SolvePnP(intr, dist, sample)
	test.That(t, errors.Is(err, ErrPoseSolveFailure), test.ShouldBeTrue)
}
