package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/camgeom/boardtrack/spatialmath"
)

// extrinsicFromHomography decomposes a homography expressed in normalized
// camera coordinates (intrinsics already divided out) into a board-to-camera
// rigid transform. The first two rotation columns come directly from the
// homography columns up to a common scale; the sign is fixed so the board
// sits in front of the camera, and the nearest proper rotation is recovered
// by SVD.
func extrinsicFromHomography(hn *mat.Dense) (spatialmath.Pose, error) {
	h1 := r3.Vector{X: hn.At(0, 0), Y: hn.At(1, 0), Z: hn.At(2, 0)}
	h2 := r3.Vector{X: hn.At(0, 1), Y: hn.At(1, 1), Z: hn.At(2, 1)}
	h3 := r3.Vector{X: hn.At(0, 2), Y: hn.At(1, 2), Z: hn.At(2, 2)}

	n1 := h1.Norm()
	n2 := h2.Norm()
	if n1 < 1e-12 || n2 < 1e-12 {
		return spatialmath.Pose{}, errors.New("homography has a vanishing rotation column")
	}
	scale := 2 / (n1 + n2)

	t := h3.Mul(scale)
	if t.Z < 0 {
		// the plane must have positive depth
		scale = -scale
		t = t.Mul(-1)
	}
	r1 := h1.Mul(scale)
	r2 := h2.Mul(scale)
	r3col := r1.Cross(r2)

	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3col.X,
		r1.Y, r2.Y, r3col.Y,
		r1.Z, r2.Z, r3col.Z,
	})
	orthonormal, err := nearestRotation(rot)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.NewPose(spatialmath.RotationMatrixToVector(orthonormal), t), nil
}

// nearestRotation projects an approximate rotation onto SO(3): R = U*Vᵀ from
// the SVD, with the last column sign-flipped when the determinant is
// negative.
func nearestRotation(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize rotation estimate")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var tmp mat.Dense
		tmp.Mul(&u, d)
		r.Mul(&tmp, v.T())
	}
	out := mat.DenseCopyOf(&r)

	// sanity check against numerically collapsed inputs
	if math.Abs(mat.Det(out)-1) > 1e-6 {
		return nil, errors.New("rotation estimate is not orthonormalizable")
	}
	return out, nil
}
