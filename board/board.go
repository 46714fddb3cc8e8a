// Package board describes the planar calibration pattern: its grid geometry,
// the canonical 3D object points it generates, and the pairing of those
// points with detected 2D image points for one observation.
package board

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Geometry describes a chessboard-style calibration pattern by its interior
// corner counts. SquareSize scales the unit grid; translations recovered
// downstream are expressed in the same unit.
type Geometry struct {
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	SquareSize float64 `json:"square_size"`
}

// NewGeometry returns a Geometry with the given interior corner counts and a
// unit square size.
func NewGeometry(rows, cols int) (Geometry, error) {
	g := Geometry{Rows: rows, Cols: cols, SquareSize: 1.0}
	if err := g.CheckValid(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// CheckValid checks if the fields for Geometry have valid inputs.
func (g Geometry) CheckValid() error {
	var err error
	if g.Rows < 2 {
		err = multierr.Append(err, errors.Errorf("board must have at least 2 interior corner rows, got %d", g.Rows))
	}
	if g.Cols < 2 {
		err = multierr.Append(err, errors.Errorf("board must have at least 2 interior corner columns, got %d", g.Cols))
	}
	if g.SquareSize <= 0 {
		err = multierr.Append(err, errors.Errorf("board square size must be positive, got %f", g.SquareSize))
	}
	return err
}

// PointCount returns the number of interior corners on the board.
func (g Geometry) PointCount() int {
	return g.Rows * g.Cols
}

// ObjectPoints generates the canonical 3D coordinates of the board corners,
// on the z=0 plane, scaled by SquareSize. The order is fixed: (i, j, 0) for
// i in [0,Cols), j in [0,Rows), and must match the corner ordering produced
// by the detector feeding image points.
func (g Geometry) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, g.PointCount())
	for i := 0; i < g.Cols; i++ {
		for j := 0; j < g.Rows; j++ {
			pts = append(pts, r3.Vector{
				X: float64(i) * g.SquareSize,
				Y: float64(j) * g.SquareSize,
				Z: 0,
			})
		}
	}
	return pts
}

// Sample pairs one detected set of 2D image points with the known 3D object
// points of the board. Samples are immutable once created.
type Sample struct {
	ObjectPoints []r3.Vector
	ImagePoints  []r2.Point
}

// NewSample creates a Sample for the given geometry, validating that the
// detected corner count matches the board.
func NewSample(g Geometry, imagePoints []r2.Point) (Sample, error) {
	s := Sample{ObjectPoints: g.ObjectPoints(), ImagePoints: imagePoints}
	if err := s.CheckValid(); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// CheckValid checks the point-count invariant of the sample.
func (s Sample) CheckValid() error {
	if len(s.ObjectPoints) == 0 {
		return errors.New("sample has no object points")
	}
	if len(s.ObjectPoints) != len(s.ImagePoints) {
		return errors.Errorf("sample has %d object points but %d image points",
			len(s.ObjectPoints), len(s.ImagePoints))
	}
	return nil
}
