package session

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/golang/geo/r2"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/spatialmath"
)

// CornerDetector locates the board's interior corners in an image, in the
// same order as board.Geometry.ObjectPoints. A frame where the board is not
// visible returns found=false and no error; errors are reserved for broken
// inputs, not absent patterns.
type CornerDetector interface {
	FindCorners(ctx context.Context, img image.Image, geom board.Geometry) (found bool, corners []r2.Point, err error)
}

// FrameSource yields images to track against. The returned release function
// must be called once the frame is no longer needed.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, func(), error)
}

// Keyframe is one committed reference pose along with its offset from the
// keyframe before it.
type Keyframe struct {
	Index    int
	Pose     spatialmath.Pose
	Relative spatialmath.RelativePose
}

// KeyframeStore persists committed keyframes.
type KeyframeStore interface {
	SaveKeyframe(ctx context.Context, kf Keyframe) error
}

// TextKeyframeStore writes each keyframe as a numbered text block.
type TextKeyframeStore struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTextKeyframeStore writes keyframe blocks to the given writer.
func NewTextKeyframeStore(out io.Writer) *TextKeyframeStore {
	return &TextKeyframeStore{out: out}
}

// SaveKeyframe writes the keyframe's pose block.
func (s *TextKeyframeStore) SaveKeyframe(_ context.Context, kf Keyframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "Keyframe %d\n", kf.Index); err != nil {
		return err
	}
	_, err := io.WriteString(s.out, FormatKeyframe(kf.Pose, kf.Relative))
	return err
}
