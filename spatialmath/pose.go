// Package spatialmath implements the rigid-transform math used by the
// calibration and tracking pipeline: poses stored as rotation-vector plus
// translation, quaternion-based composition, and axis-angle extraction.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

const zeroRotationEpsilon = 1e-8

// Pose is a rigid transform between two frames: a rotation stored as a
// rotation vector (axis-angle, magnitude in radians) and a translation.
// Which frame maps to which is a property of the producer; the calibrator
// returns board-to-camera extrinsics, while EstimatePose returns the camera
// pose in the board's world frame. Poses are values and never mutated.
type Pose struct {
	Rotation    r3.Vector `json:"rvec"`
	Translation r3.Vector `json:"tvec"`
}

// NewZeroPose returns the identity transform: no rotation, no translation.
func NewZeroPose() Pose {
	return Pose{}
}

// NewPose creates a pose from a rotation vector and a translation.
func NewPose(rotation, translation r3.Vector) Pose {
	return Pose{Rotation: rotation, Translation: translation}
}

// NewPoseFromQuaternion creates a pose from a unit rotation quaternion and a
// translation.
func NewPoseFromQuaternion(q quat.Number, translation r3.Vector) Pose {
	return Pose{Rotation: QuatToRotationVector(q), Translation: translation}
}

// Quaternion returns the pose's rotation as a unit quaternion.
func (p Pose) Quaternion() quat.Number {
	return RotationVectorToQuat(p.Rotation)
}

// RotationMatrix returns the pose's rotation as a 3x3 matrix.
func (p Pose) RotationMatrix() *mat.Dense {
	return QuatToRotationMatrix(p.Quaternion())
}

// TransformPoint applies the rigid transform to a point: R*pt + t.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	rm := p.RotationMatrix()
	return r3.Vector{
		X: rm.At(0, 0)*pt.X + rm.At(0, 1)*pt.Y + rm.At(0, 2)*pt.Z + p.Translation.X,
		Y: rm.At(1, 0)*pt.X + rm.At(1, 1)*pt.Y + rm.At(1, 2)*pt.Z + p.Translation.Y,
		Z: rm.At(2, 0)*pt.X + rm.At(2, 1)*pt.Y + rm.At(2, 2)*pt.Z + p.Translation.Z,
	}
}

// Invert returns the inverse transform. For a pose mapping frame A to frame
// B, the result maps B to A: rotation transposed, translation negated and
// rotated. This is the single inversion step that converts a solver's
// board-to-camera extrinsic into the camera's pose within the board frame.
func (p Pose) Invert() Pose {
	qInv := quat.Conj(p.Quaternion())
	rm := QuatToRotationMatrix(qInv)
	t := p.Translation
	tInv := r3.Vector{
		X: -(rm.At(0, 0)*t.X + rm.At(0, 1)*t.Y + rm.At(0, 2)*t.Z),
		Y: -(rm.At(1, 0)*t.X + rm.At(1, 1)*t.Y + rm.At(1, 2)*t.Z),
		Z: -(rm.At(2, 0)*t.X + rm.At(2, 1)*t.Y + rm.At(2, 2)*t.Z),
	}
	return Pose{Rotation: QuatToRotationVector(qInv), Translation: tInv}
}

// RotationVectorToQuat converts a rotation vector to a unit quaternion.
func RotationVectorToQuat(v r3.Vector) quat.Number {
	theta := v.Norm()
	if theta < zeroRotationEpsilon {
		return quat.Number{Real: 1}
	}
	axis := v.Mul(1 / theta)
	s := math.Sin(theta / 2)
	return quat.Number{
		Real: math.Cos(theta / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// QuatToRotationVector converts a unit quaternion to a rotation vector whose
// magnitude is the rotation angle in radians.
func QuatToRotationVector(q quat.Number) r3.Vector {
	denom := quatImagNorm(q)
	if denom < zeroRotationEpsilon {
		return r3.Vector{}
	}
	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}
	return r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}.Mul(angle / denom)
}

// QuatToRotationMatrix converts a unit quaternion to a 3x3 rotation matrix.
func QuatToRotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// RotationMatrixToQuat converts a 3x3 rotation matrix to a unit quaternion
// using Shepperd's method, branching on the largest diagonal term for
// numerical stability.
func RotationMatrixToQuat(rm *mat.Dense) quat.Number {
	m00, m01, m02 := rm.At(0, 0), rm.At(0, 1), rm.At(0, 2)
	m10, m11, m12 := rm.At(1, 0), rm.At(1, 1), rm.At(1, 2)
	m20, m21, m22 := rm.At(2, 0), rm.At(2, 1), rm.At(2, 2)

	tr := m00 + m11 + m22
	var q quat.Number
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	return quat.Scale(1/n, q)
}

// RotationMatrixToVector converts a 3x3 rotation matrix to a rotation vector.
func RotationMatrixToVector(rm *mat.Dense) r3.Vector {
	return QuatToRotationVector(RotationMatrixToQuat(rm))
}

// QuaternionAlmostEqual reports whether two unit quaternions represent
// approximately the same rotation, accounting for the double cover.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	d := quat.Mul(b, quat.Conj(a))
	return quatImagNorm(d) < tol && math.Abs(math.Abs(d.Real)-1) < tol
}

func quatImagNorm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}
