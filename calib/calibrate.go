package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/spatialmath"
	"github.com/camgeom/boardtrack/transform"
)

var (
	// ErrInsufficientSamples is returned when too few calibration
	// observations were collected for a well-conditioned solve.
	ErrInsufficientSamples = errors.New("too few calibration samples")
	// ErrSingularCalibration is returned when the linear system is
	// ill-conditioned, e.g. duplicate or degenerate views.
	ErrSingularCalibration = errors.New("calibration system is numerically singular")
	// ErrNumericDivergence is returned when refinement exceeds its iteration
	// budget without converging.
	ErrNumericDivergence = errors.New("calibration refinement diverged")
)

// minSamples is the fewest distinct views that give the closed-form
// initialization a unique solution.
const minSamples = 3

// intrinsicParamCount counts the shared parameters refined jointly with the
// per-sample extrinsics: fx, fy, cx, cy and five distortion coefficients.
const intrinsicParamCount = 9

// Options bound the nonlinear refinement.
type Options struct {
	// MaxIterations caps the refinement loop; 0 means the default of 50.
	MaxIterations int
	// Tolerance is the relative residual decrease treated as convergence;
	// 0 means the default of 1e-10.
	Tolerance float64
	Logger    *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.MaxIterations == 0 {
		o.MaxIterations = 50
	}
	if o.Tolerance == 0 {
		o.Tolerance = 1e-10
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Result is a completed calibration: the camera model, the board-to-camera
// extrinsic pose of every sample, and the overall root-mean-square
// reprojection error in pixels.
type Result struct {
	Intrinsics transform.PinholeCameraIntrinsics
	Distortion *transform.BrownConrady
	Extrinsics []spatialmath.Pose
	RMS        float64
	Report     Report
}

// Report summarizes per-sample residuals so a caller can spot which
// observations are dragging the solution.
type Report struct {
	PerSampleRMS []float64
	MinRMS       float64
	MedianRMS    float64
	MaxRMS       float64
	Iterations   int
}

// Calibrate estimates intrinsics, distortion coefficients, and per-sample
// extrinsics from board observations. The closed-form planar-homography
// estimate seeds a joint damped-least-squares refinement of all parameters
// against the total reprojection residual.
func Calibrate(samples []board.Sample, geom board.Geometry, width, height int, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	if err := geom.CheckValid(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size (%d, %d)", width, height)
	}
	if len(samples) < minSamples {
		return nil, errors.Wrapf(ErrInsufficientSamples,
			"got %d observations, need at least %d distinct views", len(samples), minSamples)
	}
	for i, s := range samples {
		if err := s.CheckValid(); err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
		if len(s.ObjectPoints) != geom.PointCount() {
			return nil, errors.Errorf("sample %d has %d points, board has %d corners",
				i, len(s.ObjectPoints), geom.PointCount())
		}
	}

	// (a) closed-form linear estimate from plane-to-image homographies,
	// assuming zero distortion
	homographies := make([]*mat.Dense, len(samples))
	for i, s := range samples {
		h, err := estimateHomography(planePoints(s), s.ImagePoints)
		if err != nil {
			return nil, errors.Wrapf(ErrSingularCalibration, "sample %d: %v", i, err)
		}
		homographies[i] = h
	}

	fx, fy, cx, cy, err := closedFormIntrinsics(homographies)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debugw("closed-form intrinsic estimate", "fx", fx, "fy", fy, "cx", cx, "cy", cy)

	kInv := mat.NewDense(3, 3, []float64{
		1 / fx, 0, -cx / fx,
		0, 1 / fy, -cy / fy,
		0, 0, 1,
	})
	params := make([]float64, intrinsicParamCount+6*len(samples))
	params[0], params[1], params[2], params[3] = fx, fy, cx, cy
	for i, h := range homographies {
		var hn mat.Dense
		hn.Mul(kInv, h)
		pose, err := extrinsicFromHomography(&hn)
		if err != nil {
			return nil, errors.Wrapf(ErrSingularCalibration, "sample %d extrinsics: %v", i, err)
		}
		packPose(params, i, pose)
	}

	// (b) joint refinement of intrinsics, distortion, and all extrinsics
	totalPoints := geom.PointCount() * len(samples)
	problem := lmProblem{
		residuals:     func(p, out []float64) { reprojectionResiduals(p, samples, out) },
		numResiduals:  2 * totalPoints,
		maxIterations: opts.MaxIterations,
		tolerance:     opts.Tolerance,
		logger:        opts.Logger,
	}
	cost, iterations, err := solveLM(problem, params)
	rms := math.Sqrt(cost / float64(totalPoints))
	switch {
	case errors.Is(err, errRefineSingular):
		return nil, errors.Wrapf(ErrSingularCalibration, "with %d samples: %v", len(samples), err)
	case errors.Is(err, errRefineDiverged):
		return nil, errors.Wrapf(ErrNumericDivergence,
			"with %d samples after %d iterations, residual %.4f px", len(samples), iterations, rms)
	case err != nil:
		return nil, err
	}

	distortion, err := transform.NewBrownConrady([]float64{params[4], params[5], params[6], params[7], params[8]})
	if err != nil {
		return nil, err
	}
	result := &Result{
		Intrinsics: transform.PinholeCameraIntrinsics{
			Width:  width,
			Height: height,
			Fx:     params[0],
			Fy:     params[1],
			Ppx:    params[2],
			Ppy:    params[3],
		},
		Distortion: distortion,
		Extrinsics: make([]spatialmath.Pose, len(samples)),
		RMS:        rms,
	}
	if err := result.Intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(ErrSingularCalibration, "refinement produced invalid intrinsics: %v", err)
	}
	for i := range samples {
		result.Extrinsics[i] = unpackPose(params, i)
	}
	result.Report = summarize(params, samples, iterations)
	opts.Logger.Infow("calibration complete",
		"samples", len(samples), "iterations", iterations, "rms_px", rms)
	return result, nil
}

// closedFormIntrinsics solves Zhang's absolute-conic constraints. Every
// homography contributes two linear constraints on the symmetric matrix
// B = K⁻ᵀK⁻¹; the smallest singular vector of the stacked system yields B,
// from which the intrinsics follow in closed form (skew fixed at zero).
func closedFormIntrinsics(homographies []*mat.Dense) (fx, fy, cx, cy float64, err error) {
	v := mat.NewDense(2*len(homographies), 6, nil)
	for k, h := range homographies {
		v01 := conicConstraint(h, 0, 1)
		v00 := conicConstraint(h, 0, 0)
		v11 := conicConstraint(h, 1, 1)
		v.SetRow(2*k, v01)
		row := make([]float64, 6)
		for i := range row {
			row[i] = v00[i] - v11[i]
		}
		v.SetRow(2*k+1, row)
	}

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDFull); !ok {
		return 0, 0, 0, 0, errors.Wrap(ErrSingularCalibration, "cannot factorize conic constraints")
	}
	vals := svd.Values(nil)
	// the nullspace must be one-dimensional; a second vanishing singular
	// value means the views do not constrain the conic (e.g. duplicates)
	if vals[4] < 1e-9*vals[0] {
		return 0, 0, 0, 0, errors.Wrapf(ErrSingularCalibration,
			"%d views give rank-deficient constraints (duplicate or degenerate observations)", len(homographies))
	}
	var vt mat.Dense
	svd.VTo(&vt)
	b := make([]float64, 6)
	for i := range b {
		b[i] = vt.At(i, 5)
	}
	if b[0] < 0 {
		for i := range b {
			b[i] = -b[i]
		}
	}

	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	denom := b11*b22 - b12*b12
	if b11 < 1e-15 || denom < 1e-18 {
		return 0, 0, 0, 0, errors.Wrap(ErrSingularCalibration, "conic estimate is not positive definite")
	}
	cy = (b12*b13 - b11*b23) / denom
	lambda := b33 - (b13*b13+cy*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 || lambda*b11/denom <= 0 {
		return 0, 0, 0, 0, errors.Wrap(ErrSingularCalibration, "conic estimate yields non-positive focal lengths")
	}
	fx = math.Sqrt(lambda / b11)
	fy = math.Sqrt(lambda * b11 / denom)
	cx = -b13 * fx * fx / lambda
	return fx, fy, cx, cy, nil
}

// conicConstraint builds the 6-vector v_ij from homography columns i and j
// such that v_ijᵀ·b encodes h_iᵀ·B·h_j for the symmetric conic B.
func conicConstraint(h *mat.Dense, i, j int) []float64 {
	return []float64{
		h.At(0, i) * h.At(0, j),
		h.At(0, i)*h.At(1, j) + h.At(1, i)*h.At(0, j),
		h.At(1, i) * h.At(1, j),
		h.At(2, i)*h.At(0, j) + h.At(0, i)*h.At(2, j),
		h.At(2, i)*h.At(1, j) + h.At(1, i)*h.At(2, j),
		h.At(2, i) * h.At(2, j),
	}
}

// reprojectionResiduals writes, for every sample and point, the signed pixel
// difference between the projection under the packed parameters and the
// observation.
func reprojectionResiduals(params []float64, samples []board.Sample, out []float64) {
	fx, fy, cx, cy := params[0], params[1], params[2], params[3]
	d := distCoeffs{k1: params[4], k2: params[5], p1: params[6], p2: params[7], k3: params[8]}
	k := 0
	for i, s := range samples {
		pose := unpackPose(params, i)
		rm := pose.RotationMatrix()
		for j, pt := range s.ObjectPoints {
			u, v := projectThrough(rm, pose.Translation, fx, fy, cx, cy, d, pt)
			out[k] = u - s.ImagePoints[j].X
			out[k+1] = v - s.ImagePoints[j].Y
			k += 2
		}
	}
}

func packPose(params []float64, i int, pose spatialmath.Pose) {
	base := intrinsicParamCount + 6*i
	params[base+0] = pose.Rotation.X
	params[base+1] = pose.Rotation.Y
	params[base+2] = pose.Rotation.Z
	params[base+3] = pose.Translation.X
	params[base+4] = pose.Translation.Y
	params[base+5] = pose.Translation.Z
}

func unpackPose(params []float64, i int) spatialmath.Pose {
	base := intrinsicParamCount + 6*i
	return spatialmath.NewPose(
		r3.Vector{X: params[base+0], Y: params[base+1], Z: params[base+2]},
		r3.Vector{X: params[base+3], Y: params[base+4], Z: params[base+5]},
	)
}

// summarize computes per-sample RMS residuals for the report.
func summarize(params []float64, samples []board.Sample, iterations int) Report {
	fx, fy, cx, cy := params[0], params[1], params[2], params[3]
	d := distCoeffs{k1: params[4], k2: params[5], p1: params[6], p2: params[7], k3: params[8]}
	perSample := make([]float64, len(samples))
	for i, s := range samples {
		pose := unpackPose(params, i)
		rm := pose.RotationMatrix()
		var sq float64
		for j, pt := range s.ObjectPoints {
			u, v := projectThrough(rm, pose.Translation, fx, fy, cx, cy, d, pt)
			du := u - s.ImagePoints[j].X
			dv := v - s.ImagePoints[j].Y
			sq += du*du + dv*dv
		}
		perSample[i] = math.Sqrt(sq / float64(len(s.ObjectPoints)))
	}
	report := Report{PerSampleRMS: perSample, Iterations: iterations}
	if v, err := stats.Min(perSample); err == nil {
		report.MinRMS = v
	}
	if v, err := stats.Median(perSample); err == nil {
		report.MedianRMS = v
	}
	if v, err := stats.Max(perSample); err == nil {
		report.MaxRMS = v
	}
	return report
}
