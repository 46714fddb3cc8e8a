package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/spatialmath"
	"github.com/camgeom/boardtrack/transform"
)

// Errors summarizes how well a camera model explains a set of observations:
// the per-axis mean-absolute pixel error and the root-mean-square pixel
// error.
type Errors struct {
	MeanAbs r2.Point
	RMS     float64
}

// ReprojectionError projects every sample's object points through its
// board-to-camera pose and the shared camera model and compares against the
// observed image points. Each sample's absolute and squared error sums are
// normalized by that sample's point count before aggregating across samples;
// normalizing after the cross-sample sum would understate samples with
// differing point counts.
func ReprojectionError(
	intrinsics *transform.PinholeCameraIntrinsics,
	distortion *transform.BrownConrady,
	poses []spatialmath.Pose,
	samples []board.Sample,
) (Errors, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return Errors{}, err
	}
	if len(poses) != len(samples) {
		return Errors{}, errors.Errorf("got %d poses for %d samples", len(poses), len(samples))
	}
	if len(samples) == 0 {
		return Errors{}, errors.New("no samples to evaluate")
	}

	var absSum, sqSum r2.Point
	for i, s := range samples {
		if err := s.CheckValid(); err != nil {
			return Errors{}, errors.Wrapf(err, "sample %d", i)
		}
		var abs, sq r2.Point
		for j, pt := range s.ObjectPoints {
			pred := intrinsics.Project(poses[i], distortion, pt)
			dx := pred.X - s.ImagePoints[j].X
			dy := pred.Y - s.ImagePoints[j].Y
			abs.X += math.Abs(dx)
			abs.Y += math.Abs(dy)
			sq.X += dx * dx
			sq.Y += dy * dy
		}
		n := float64(len(s.ObjectPoints))
		absSum.X += abs.X / n
		absSum.Y += abs.Y / n
		sqSum.X += sq.X / n
		sqSum.Y += sq.Y / n
	}

	nSamples := float64(len(samples))
	return Errors{
		MeanAbs: r2.Point{X: absSum.X / nSamples, Y: absSum.Y / nSamples},
		RMS:     math.Sqrt((sqSum.X + sqSum.Y) / nSamples),
	}, nil
}
