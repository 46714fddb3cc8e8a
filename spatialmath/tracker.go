package spatialmath

import (
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// RelativePose is the rotation/translation delta between a pose and the last
// committed keyframe pose, both expressed in the same world frame. It is a
// derived value, recomputed on every comparison. The rotation is a rotation
// vector, like Pose.Rotation.
type RelativePose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// AxisAngle extracts the relative rotation as a unit axis and folded angle in
// degrees.
func (rp RelativePose) AxisAngle() AxisAngle {
	return RotationVectorToAxisAngle(rp.Rotation)
}

// KeyframeTracker holds the last committed ("keyframe") pose and derives
// relative poses against it. The stored pose starts as the identity and is
// the only mutable state in the pipeline; Commit is the sole mutator and is
// serialized by a mutex so multiple producers cannot interleave the
// read-then-write.
type KeyframeTracker struct {
	mu       sync.Mutex
	previous Pose
}

// NewKeyframeTracker returns a tracker whose keyframe is the identity pose.
func NewKeyframeTracker() *KeyframeTracker {
	return &KeyframeTracker{previous: NewZeroPose()}
}

// Update computes the pose of current relative to the stored keyframe without
// mutating the keyframe. The rotation delta is the rotation that composes
// with the keyframe's rotation to yield the current rotation, computed by
// quaternion composition as inverse(q_prev) * q_current; subtracting rotation
// vectors directly is wrong whenever the two rotations are large or about
// different axes.
func (kt *KeyframeTracker) Update(current Pose) RelativePose {
	kt.mu.Lock()
	previous := kt.previous
	kt.mu.Unlock()

	deltaQ := quat.Mul(quat.Conj(previous.Quaternion()), current.Quaternion())
	return RelativePose{
		Rotation:    QuatToRotationVector(deltaQ),
		Translation: current.Translation.Sub(previous.Translation),
	}
}

// Commit stores current as the new keyframe pose. Invoked only on an explicit
// external event, never automatically per frame.
func (kt *KeyframeTracker) Commit(current Pose) {
	kt.mu.Lock()
	kt.previous = current
	kt.mu.Unlock()
}

// Keyframe returns the currently committed keyframe pose.
func (kt *KeyframeTracker) Keyframe() Pose {
	kt.mu.Lock()
	defer kt.mu.Unlock()
	return kt.previous
}
