package session

import (
	"bytes"
	"context"
	"image"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/spatialmath"
)

// staticDetector reports a fixed corner set for every frame, or nothing.
type staticDetector struct {
	corners []r2.Point
	found   bool
}

func (d *staticDetector) FindCorners(
	_ context.Context, _ image.Image, _ board.Geometry,
) (bool, []r2.Point, error) {
	return d.found, d.corners, nil
}

// sliceFrameSource hands out one gray frame per call until exhausted.
type sliceFrameSource struct {
	remaining int
}

func (s *sliceFrameSource) NextFrame(_ context.Context) (image.Image, func(), error) {
	if s.remaining == 0 {
		return nil, nil, ErrNoMoreFrames
	}
	s.remaining--
	return image.NewGray(image.Rect(0, 0, 640, 480)), func() {}, nil
}

// projectBoard renders ground-truth corner observations for a session.
func projectBoard(sess *CalibrationSession, extrinsic spatialmath.Pose) []r2.Point {
	var corners []r2.Point
	for _, pt := range sess.Board.ObjectPoints() {
		corners = append(corners, sess.Intrinsics.Project(extrinsic, sess.Distortion, pt))
	}
	return corners
}

func TestTrackerProcessFrame(t *testing.T) {
	sess := testSession(t)
	extrinsic := spatialmath.NewPose(
		r3.Vector{X: 0.1, Y: -0.2, Z: 0.05},
		r3.Vector{X: -3.5, Y: -2.5, Z: 12},
	)
	detector := &staticDetector{corners: projectBoard(sess, extrinsic), found: true}

	tracker, err := NewTracker(sess, detector, nil)
	test.That(t, err, test.ShouldBeNil)

	img := image.NewGray(image.Rect(0, 0, 640, 480))
	result, err := tracker.ProcessFrame(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result, test.ShouldNotBeNil)

	want := extrinsic.Invert()
	test.That(t, spatialmath.QuaternionAlmostEqual(
		result.Pose.Quaternion(), want.Quaternion(), 1e-4), test.ShouldBeTrue)
	test.That(t, result.Pose.Translation.Sub(want.Translation).Norm(), test.ShouldBeLessThan, 1e-2)
	test.That(t, len(result.Corners), test.ShouldEqual, sess.Board.PointCount())
}

func TestTrackerSkipsUndetectedFrames(t *testing.T) {
	sess := testSession(t)
	tracker, err := NewTracker(sess, &staticDetector{found: false}, nil)
	test.That(t, err, test.ShouldBeNil)

	result, err := tracker.ProcessFrame(context.Background(), image.NewGray(image.Rect(0, 0, 640, 480)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result, test.ShouldBeNil)
}

func TestTrackerCommitResetsRelativePose(t *testing.T) {
	sess := testSession(t)
	extrinsic := spatialmath.NewPose(
		r3.Vector{X: 0.1, Y: -0.2, Z: 0.05},
		r3.Vector{X: -3.5, Y: -2.5, Z: 12},
	)
	detector := &staticDetector{corners: projectBoard(sess, extrinsic), found: true}
	tracker, err := NewTracker(sess, detector, nil)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	img := image.NewGray(image.Rect(0, 0, 640, 480))

	// committing before anything tracked does nothing
	kf, err := tracker.Commit(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kf, test.ShouldBeNil)

	_, err = tracker.ProcessFrame(ctx, img)
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	store := NewTextKeyframeStore(&buf)
	kf, err = tracker.Commit(ctx, store)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kf, test.ShouldNotBeNil)
	test.That(t, kf.Index, test.ShouldEqual, 1)
	test.That(t, strings.HasPrefix(buf.String(), "Keyframe 1\nCurrent pose:\n"), test.ShouldBeTrue)
	test.That(t, buf.String(), test.ShouldContainSubstring, "Relative to previous pose:\n")

	// after commit, the same pose is at zero offset from the keyframe
	result, err := tracker.ProcessFrame(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Relative.Translation.Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, result.Relative.AxisAngle().Degrees, test.ShouldBeLessThan, 0.01)
}

func TestTrackerRun(t *testing.T) {
	sess := testSession(t)
	extrinsic := spatialmath.NewPose(r3.Vector{X: 0.1}, r3.Vector{X: -3.5, Y: -2.5, Z: 12})
	detector := &staticDetector{corners: projectBoard(sess, extrinsic), found: true}
	tracker, err := NewTracker(sess, detector, nil)
	test.That(t, err, test.ShouldBeNil)

	frames := 0
	tracked, err := tracker.Run(context.Background(), &sliceFrameSource{remaining: 3},
		func(*FrameResult) { frames++ })
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tracked, test.ShouldEqual, 3)
	test.That(t, frames, test.ShouldEqual, 3)
}
