package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/spatialmath"
	"github.com/camgeom/boardtrack/transform"
)

// ErrPoseSolveFailure is returned when a pose cannot be recovered from a
// correspondence set: fewer than 4 non-collinear points, or refinement
// failure. Callers should treat it as "no update for this frame" rather than
// a fatal error.
var ErrPoseSolveFailure = errors.New("cannot solve for board pose")

// minPnPPoints is the fewest correspondences that determine a plane pose.
const minPnPPoints = 4

// pnpSeedCostThreshold is the mean squared pixel error below which the
// closed-form seed is already at the optimum and iterative polishing is
// skipped.
const pnpSeedCostThreshold = 1e-14

// EstimatePose solves the Perspective-n-Point problem for one observation
// and returns the camera's pose in the world frame defined by the board:
// the raw solver output (the board-to-camera transform) is explicitly
// inverted, so downstream consumers never see the solver's frame.
func EstimatePose(
	intrinsics *transform.PinholeCameraIntrinsics,
	distortion *transform.BrownConrady,
	sample board.Sample,
) (spatialmath.Pose, error) {
	extrinsic, err := SolvePnP(intrinsics, distortion, sample)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return extrinsic.Invert(), nil
}

// SolvePnP recovers the board-to-camera transform that best reprojects the
// sample's object points onto its image points: image points are undistorted
// to normalized coordinates, a plane homography seeds the pose, and a
// Nelder-Mead polish minimizes the pixel reprojection error.
func SolvePnP(
	intrinsics *transform.PinholeCameraIntrinsics,
	distortion *transform.BrownConrady,
	sample board.Sample,
) (spatialmath.Pose, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return spatialmath.Pose{}, err
	}
	if err := sample.CheckValid(); err != nil {
		return spatialmath.Pose{}, errors.Wrapf(ErrPoseSolveFailure, "%v", err)
	}
	if len(sample.ImagePoints) < minPnPPoints {
		return spatialmath.Pose{}, errors.Wrapf(ErrPoseSolveFailure,
			"need at least %d correspondences, got %d", minPnPPoints, len(sample.ImagePoints))
	}

	normalized := make([]r2.Point, len(sample.ImagePoints))
	for i, p := range sample.ImagePoints {
		xd, yd := intrinsics.NormalizedFromPixel(p.X, p.Y)
		xu, yu := distortion.Undistort(xd, yd)
		normalized[i] = r2.Point{X: xu, Y: yu}
	}

	h, err := estimateHomography(planePoints(sample), normalized)
	if err != nil {
		return spatialmath.Pose{}, errors.Wrapf(ErrPoseSolveFailure, "%v", err)
	}
	seed, err := extrinsicFromHomography(h)
	if err != nil {
		return spatialmath.Pose{}, errors.Wrapf(ErrPoseSolveFailure, "%v", err)
	}

	d := distCoeffs{}
	if distortion != nil {
		p := distortion.Parameters()
		d = distCoeffs{k1: p[0], k2: p[1], p1: p[2], p2: p[3], k3: p[4]}
	}
	objective := func(x []float64) float64 {
		pose := spatialmath.NewPose(
			r3.Vector{X: x[0], Y: x[1], Z: x[2]},
			r3.Vector{X: x[3], Y: x[4], Z: x[5]},
		)
		rm := pose.RotationMatrix()
		var sq float64
		for i, pt := range sample.ObjectPoints {
			u, v := projectThrough(rm, pose.Translation,
				intrinsics.Fx, intrinsics.Fy, intrinsics.Ppx, intrinsics.Ppy, d, pt)
			du := u - sample.ImagePoints[i].X
			dv := v - sample.ImagePoints[i].Y
			sq += du*du + dv*dv
		}
		return sq / float64(len(sample.ObjectPoints))
	}

	x0 := []float64{
		seed.Rotation.X, seed.Rotation.Y, seed.Rotation.Z,
		seed.Translation.X, seed.Translation.Y, seed.Translation.Z,
	}
	if objective(x0) < pnpSeedCostThreshold {
		return seed, nil
	}

	result, err := optimize.Minimize(optimize.Problem{Func: objective}, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return spatialmath.Pose{}, errors.Wrapf(ErrPoseSolveFailure, "refinement: %v", err)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return spatialmath.Pose{}, errors.Wrap(ErrPoseSolveFailure, "refinement produced a non-finite residual")
	}
	return spatialmath.NewPose(
		r3.Vector{X: result.X[0], Y: result.X[1], Z: result.X[2]},
		r3.Vector{X: result.X[3], Y: result.X[4], Z: result.X[5]},
	), nil
}
