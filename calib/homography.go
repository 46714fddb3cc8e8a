// Package calib estimates a camera's intrinsic model from planar board
// observations, scores it by reprojection error, and solves single-frame
// board poses (PnP).
package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// estimateHomography computes the 3x3 projective transform mapping src onto
// dst with the normalized direct linear transform: both point sets are
// translated to their centroid and scaled to mean distance sqrt(2), the
// stacked 2nx9 constraint system is solved by SVD, and the conditioning
// transforms are undone. The result is scaled so H[2][2] = 1.
func estimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets differ in length, %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences to fit a homography, got %d", len(src))
	}

	srcNorm, tSrc, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	dstNorm, tDst, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}

	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize homography constraint matrix")
	}
	vals := svd.Values(nil)
	// the system must constrain all but one degree of freedom; a deficient
	// rank means the correspondences are (near-)collinear
	if vals[7] < 1e-10*vals[0] {
		return nil, errors.New("degenerate correspondences, cannot fit a homography")
	}
	var v mat.Dense
	svd.VTo(&v)
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		h.Set(i/3, i%3, v.At(i, 8))
	}

	// undo conditioning: H = inv(Tdst) * Hn * Tsrc
	var tDstInv, tmp mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "cannot invert conditioning transform")
	}
	tmp.Mul(h, tSrc)
	h.Mul(&tDstInv, &tmp)

	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return nil, errors.New("homography is not normalizable")
	}
	h.Scale(1/scale, h)
	return h, nil
}

// normalizePoints returns points translated to their centroid and scaled to
// mean distance sqrt(2), plus the similarity transform that achieves it.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= float64(len(pts))
	if meanDist < 1e-12 {
		return nil, nil, errors.New("points are coincident, cannot condition them")
	}
	s := math.Sqrt2 / meanDist

	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = r2.Point{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return out, t, nil
}
