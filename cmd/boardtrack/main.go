// Package main is a command line front end for board calibration, image
// undistortion, reprojection evaluation, and pose tracking against corner
// observations stored as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/camgeom/boardtrack/board"
	"github.com/camgeom/boardtrack/calib"
	"github.com/camgeom/boardtrack/session"
	"github.com/camgeom/boardtrack/transform"
)

func main() {
	logger := newLogger()
	app := &cli.App{
		Name:  "boardtrack",
		Usage: "camera calibration and pose tracking from board corner observations",
		Commands: []*cli.Command{
			calibrateCommand(logger),
			reprojectCommand(logger),
			undistortCommand(logger),
			trackCommand(logger),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func newLogger() *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}

// cornersFile is the on-disk form of detected corners: one entry per frame,
// each the board's corners in object-point order.
type cornersFile struct {
	Width  int          `json:"width_px"`
	Height int          `json:"height_px"`
	Frames [][]r2.Point `json:"frames"`
}

func loadCorners(path string) (*cornersFile, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cf := &cornersFile{}
	if err := json.Unmarshal(data, cf); err != nil {
		return nil, errors.Wrapf(err, "error parsing corners from %s", path)
	}
	if len(cf.Frames) == 0 {
		return nil, errors.Errorf("no corner frames in %s", path)
	}
	return cf, nil
}

func cornersToSamples(cf *cornersFile, geom board.Geometry) ([]board.Sample, error) {
	samples := make([]board.Sample, 0, len(cf.Frames))
	for i, frame := range cf.Frames {
		s, err := board.NewSample(geom, frame)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func calibrateCommand(logger *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "calibrate",
		Usage: "estimate intrinsics and distortion from corner observations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "corners", Required: true, Usage: "corner observations JSON"},
			&cli.StringFlag{Name: "size", Value: "8x6", Usage: "interior corners as <cols>x<rows>"},
			&cli.Float64Flag{Name: "square-size", Value: 1.0, Usage: "board square edge length"},
			&cli.StringFlag{Name: "out", Value: "session.json", Usage: "output session file"},
			&cli.IntFlag{Name: "max-iterations", Value: 50},
		},
		Action: func(c *cli.Context) error {
			geom, err := session.ParseBoardSize(c.String("size"))
			if err != nil {
				return err
			}
			geom.SquareSize = c.Float64("square-size")
			if err := geom.CheckValid(); err != nil {
				return err
			}

			cf, err := loadCorners(c.String("corners"))
			if err != nil {
				return err
			}
			samples, err := cornersToSamples(cf, geom)
			if err != nil {
				return err
			}

			result, err := calib.Calibrate(samples, geom, cf.Width, cf.Height, calib.Options{
				MaxIterations: c.Int("max-iterations"),
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			logger.Infow("calibration complete",
				"rms_px", result.RMS,
				"fx", result.Intrinsics.Fx, "fy", result.Intrinsics.Fy,
				"ppx", result.Intrinsics.Ppx, "ppy", result.Intrinsics.Ppy,
				"iterations", result.Report.Iterations,
				"min_sample_rms", result.Report.MinRMS,
				"median_sample_rms", result.Report.MedianRMS,
				"max_sample_rms", result.Report.MaxRMS,
			)

			sess := session.NewCalibrationSession(geom, result)
			if err := sess.Save(c.String("out")); err != nil {
				return err
			}
			logger.Infof("wrote %s", c.String("out"))
			return nil
		},
	}
}

func reprojectCommand(logger *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "reproject",
		Usage: "evaluate a saved calibration against corner observations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Required: true},
			&cli.StringFlag{Name: "corners", Required: true},
		},
		Action: func(c *cli.Context) error {
			sess, err := session.LoadCalibrationSession(c.String("session"))
			if err != nil {
				return err
			}
			cf, err := loadCorners(c.String("corners"))
			if err != nil {
				return err
			}
			samples, err := cornersToSamples(cf, sess.Board)
			if err != nil {
				return err
			}
			if len(sess.Extrinsics) != len(samples) {
				return errors.Errorf("session has %d extrinsics for %d corner frames",
					len(sess.Extrinsics), len(samples))
			}

			errs, err := calib.ReprojectionError(&sess.Intrinsics, sess.Distortion, sess.Extrinsics, samples)
			if err != nil {
				return err
			}
			logger.Infow("reprojection error",
				"mean_abs_x_px", errs.MeanAbs.X,
				"mean_abs_y_px", errs.MeanAbs.Y,
				"rms_px", errs.RMS,
			)
			return nil
		},
	}
}

func undistortCommand(logger *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "undistort",
		Usage: "undistort an image using a saved calibration",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Required: true},
			&cli.StringFlag{Name: "in", Required: true},
			&cli.StringFlag{Name: "out", Required: true},
			&cli.Float64Flag{Name: "alpha", Value: 1.0, Usage: "0 crops to valid pixels, 1 keeps all source pixels"},
		},
		Action: func(c *cli.Context) error {
			sess, err := session.LoadCalibrationSession(c.String("session"))
			if err != nil {
				return err
			}
			img, err := imaging.Open(c.String("in"))
			if err != nil {
				return err
			}

			und, err := transform.NewUndistorter(sess.Intrinsics, sess.Distortion, c.Float64("alpha"))
			if err != nil {
				return err
			}
			out, roi, err := und.Undistort(img)
			if err != nil {
				return err
			}
			logger.Infow("undistorted",
				"roi", fmt.Sprintf("%v", roi),
				"fx", und.Optimal.Fx, "fy", und.Optimal.Fy,
				"ppx", und.Optimal.Ppx, "ppy", und.Optimal.Ppy,
			)
			return imaging.Save(out, c.String("out"))
		},
	}
}

// jsonCornerDetector replays stored corner frames as detections.
type jsonCornerDetector struct {
	frames [][]r2.Point
	next   int
}

func (d *jsonCornerDetector) FindCorners(
	_ context.Context, _ image.Image, _ board.Geometry,
) (bool, []r2.Point, error) {
	if d.next >= len(d.frames) {
		return false, nil, nil
	}
	corners := d.frames[d.next]
	d.next++
	return len(corners) > 0, corners, nil
}

// blankFrameSource pairs the replayed detections with placeholder frames.
type blankFrameSource struct {
	bounds    image.Rectangle
	remaining int
}

func (s *blankFrameSource) NextFrame(_ context.Context) (image.Image, func(), error) {
	if s.remaining == 0 {
		return nil, nil, session.ErrNoMoreFrames
	}
	s.remaining--
	return image.NewGray(s.bounds), func() {}, nil
}

func trackCommand(logger *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "track",
		Usage: "replay corner observations and report poses relative to committed keyframes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Required: true},
			&cli.StringFlag{Name: "corners", Required: true},
			&cli.IntFlag{Name: "commit-every", Value: 0, Usage: "commit a keyframe every N tracked frames (0 never commits)"},
		},
		Action: func(c *cli.Context) error {
			sess, err := session.LoadCalibrationSession(c.String("session"))
			if err != nil {
				return err
			}
			cf, err := loadCorners(c.String("corners"))
			if err != nil {
				return err
			}

			tracker, err := session.NewTracker(sess, &jsonCornerDetector{frames: cf.Frames}, logger)
			if err != nil {
				return err
			}
			source := &blankFrameSource{
				bounds:    image.Rect(0, 0, sess.Intrinsics.Width, sess.Intrinsics.Height),
				remaining: len(cf.Frames),
			}
			store := session.NewTextKeyframeStore(os.Stdout)

			ctx := context.Background()
			commitEvery := c.Int("commit-every")
			sinceCommit := 0
			tracked, err := tracker.Run(ctx, source, func(result *session.FrameResult) {
				fmt.Print(session.FormatKeyframe(result.Pose, result.Relative))
				sinceCommit++
				if commitEvery > 0 && sinceCommit >= commitEvery {
					sinceCommit = 0
					if _, err := tracker.Commit(ctx, store); err != nil {
						logger.Errorw("keyframe commit failed", "error", err)
					}
				}
			})
			if err != nil {
				return err
			}
			logger.Infow("tracking finished", "frames", len(cf.Frames), "tracked", tracked)
			return nil
		},
	}
}
