package session

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/camgeom/boardtrack/spatialmath"
	"github.com/camgeom/boardtrack/transform"
)

// axisLength scales the unit axes drawn at the board origin.
const axisLength = 4.0

// FormatKeyframe renders a world pose and its offset from the previous
// keyframe as an indented text block. Rotations print as a unit axis times
// an angle in degrees.
func FormatKeyframe(current spatialmath.Pose, rel spatialmath.RelativePose) string {
	var b strings.Builder
	b.WriteString("Current pose:\n")
	writePoseBlock(&b, spatialmath.RotationVectorToAxisAngle(current.Rotation), current.Translation)
	b.WriteString("Relative to previous pose:\n")
	writePoseBlock(&b, rel.AxisAngle(), rel.Translation)
	return b.String()
}

func writePoseBlock(b *strings.Builder, aa spatialmath.AxisAngle, t r3.Vector) {
	fmt.Fprintf(b, "    Rvec: [%.3f, %.3f, %.3f] * %.1fdeg\n",
		aa.Axis.X, aa.Axis.Y, aa.Axis.Z, aa.Degrees)
	fmt.Fprintf(b, "    Tvec: [%.3f, %.3f, %.3f]\n", t.X, t.Y, t.Z)
}

// AxesProjection is the pixel location of the board origin and the tips of
// its axes, for an external renderer to draw.
type AxesProjection struct {
	Origin r2.Point
	X      r2.Point
	Y      r2.Point
	Z      r2.Point
}

// ProjectAxes projects the board origin and axis tips into the image for the
// given world (camera-in-board) pose.
func ProjectAxes(
	intrinsics *transform.PinholeCameraIntrinsics,
	distortion *transform.BrownConrady,
	worldPose spatialmath.Pose,
) AxesProjection {
	extrinsic := worldPose.Invert()
	return AxesProjection{
		Origin: intrinsics.Project(extrinsic, distortion, r3.Vector{}),
		X:      intrinsics.Project(extrinsic, distortion, r3.Vector{X: axisLength}),
		Y:      intrinsics.Project(extrinsic, distortion, r3.Vector{Y: axisLength}),
		Z:      intrinsics.Project(extrinsic, distortion, r3.Vector{Z: axisLength}),
	}
}
