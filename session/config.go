package session

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/camgeom/boardtrack/board"
)

// Config collects the parameters of a capture or tracking run.
type Config struct {
	Board  board.Geometry
	Alpha  float64
	Device int
}

// CheckValid checks if the fields for Config have valid inputs.
func (c Config) CheckValid() error {
	var err error
	err = multierr.Append(err, c.Board.CheckValid())
	if c.Alpha < 0 || c.Alpha > 1 {
		err = multierr.Append(err, errors.Errorf("alpha must be in [0, 1], got %f", c.Alpha))
	}
	if c.Device < 0 {
		err = multierr.Append(err, errors.Errorf("device index must be non-negative, got %d", c.Device))
	}
	return err
}

// ParseBoardSize parses a "<cols>x<rows>" string such as "8x6" into a board
// geometry with unit square size.
func ParseBoardSize(s string) (board.Geometry, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return board.Geometry{}, errors.Errorf("board size must look like 8x6, got %q", s)
	}
	cols, err := strconv.Atoi(parts[0])
	if err != nil {
		return board.Geometry{}, errors.Wrapf(err, "bad column count in %q", s)
	}
	rows, err := strconv.Atoi(parts[1])
	if err != nil {
		return board.Geometry{}, errors.Wrapf(err, "bad row count in %q", s)
	}
	return board.NewGeometry(rows, cols)
}
