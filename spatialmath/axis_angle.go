package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// AxisAngle is a rotation split into a unit axis and a magnitude in degrees
// folded to the range (-180, 180].
type AxisAngle struct {
	Axis    r3.Vector
	Degrees float64
}

// AxisAngle extracts the pose's rotation as a unit axis and a folded angle in
// degrees. A near-zero rotation has no defined axis; by convention it reports
// axis +X with angle 0 rather than a normalized near-zero vector.
func (p Pose) AxisAngle() AxisAngle {
	return RotationVectorToAxisAngle(p.Rotation)
}

// RotationVectorToAxisAngle splits a rotation vector into a unit axis and a
// folded angle in degrees.
func RotationVectorToAxisAngle(v r3.Vector) AxisAngle {
	theta := v.Norm()
	if theta < zeroRotationEpsilon {
		return AxisAngle{Axis: r3.Vector{X: 1}, Degrees: 0}
	}
	return AxisAngle{
		Axis:    v.Mul(1 / theta),
		Degrees: foldDegrees(theta * 180 / math.Pi),
	}
}

// foldDegrees maps an angle in degrees to the range (-180, 180].
func foldDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}
