package session

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/calib"
	"github.com/camgeom/boardtrack/spatialmath"
)

// FrameResult is what one successfully tracked frame yields: the world pose
// of the camera, its offset from the last committed keyframe, the detected
// corners, and the projected axis overlay.
type FrameResult struct {
	Pose     spatialmath.Pose
	Relative spatialmath.RelativePose
	Corners  []r2.Point
	Axes     AxesProjection
}

// Tracker runs the per-frame tracking loop: detect corners, solve for the
// camera pose, and report it relative to the last committed keyframe.
type Tracker struct {
	session   *CalibrationSession
	detector  CornerDetector
	keyframes *spatialmath.KeyframeTracker
	count     int
	last      spatialmath.Pose
	hasPose   bool
	logger    *zap.SugaredLogger
}

// NewTracker builds a tracker over a calibrated session.
func NewTracker(s *CalibrationSession, detector CornerDetector, logger *zap.SugaredLogger) (*Tracker, error) {
	if err := s.CheckValid(); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, errors.New("tracker needs a corner detector")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tracker{
		session:   s,
		detector:  detector,
		keyframes: spatialmath.NewKeyframeTracker(),
		logger:    logger,
	}, nil
}

// ProcessFrame detects the board in one frame and solves for the camera
// pose. A frame where the board is not found, or where the pose solve fails,
// returns (nil, nil): the previous keyframe simply stays in effect.
func (t *Tracker) ProcessFrame(ctx context.Context, img image.Image) (*FrameResult, error) {
	found, corners, err := t.detector.FindCorners(ctx, img, t.session.Board)
	if err != nil {
		return nil, errors.Wrap(err, "corner detection")
	}
	if !found {
		return nil, nil
	}

	sample, err := board.NewSample(t.session.Board, corners)
	if err != nil {
		return nil, err
	}
	pose, err := calib.EstimatePose(&t.session.Intrinsics, t.session.Distortion, sample)
	if err != nil {
		if errors.Is(err, calib.ErrPoseSolveFailure) {
			t.logger.Debugw("pose solve failed, keeping previous keyframe", "error", err)
			return nil, nil
		}
		return nil, err
	}

	t.last = pose
	t.hasPose = true
	return &FrameResult{
		Pose:     pose,
		Relative: t.keyframes.Update(pose),
		Corners:  corners,
		Axes:     ProjectAxes(&t.session.Intrinsics, t.session.Distortion, pose),
	}, nil
}

// Commit records the most recent pose as the new keyframe and hands it to
// the store. Committing before any frame has tracked is a no-op.
func (t *Tracker) Commit(ctx context.Context, store KeyframeStore) (*Keyframe, error) {
	if !t.hasPose {
		return nil, nil
	}
	rel := t.keyframes.Update(t.last)
	t.keyframes.Commit(t.last)
	t.count++
	kf := Keyframe{Index: t.count, Pose: t.last, Relative: rel}
	if store != nil {
		if err := store.SaveKeyframe(ctx, kf); err != nil {
			return nil, errors.Wrap(err, "saving keyframe")
		}
	}
	return &kf, nil
}

// Run drains a frame source until it is exhausted or the context ends,
// returning the number of frames in which the board was tracked.
func (t *Tracker) Run(ctx context.Context, source FrameSource, onFrame func(*FrameResult)) (int, error) {
	tracked := 0
	for {
		if err := ctx.Err(); err != nil {
			return tracked, err
		}
		img, release, err := source.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrNoMoreFrames) {
				return tracked, nil
			}
			return tracked, err
		}
		result, err := t.ProcessFrame(ctx, img)
		if release != nil {
			release()
		}
		if err != nil {
			return tracked, err
		}
		if result == nil {
			continue
		}
		tracked++
		if onFrame != nil {
			onFrame(result)
		}
	}
}

// ErrNoMoreFrames is returned by a FrameSource that has run out of input.
var ErrNoMoreFrames = errors.New("no more frames")
