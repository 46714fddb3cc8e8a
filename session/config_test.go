package session

import (
	"testing"

	"go.viam.com/test"

	"github.com/camgeom/boardtrack/board"
)

func TestParseBoardSize(t *testing.T) {
	geom, err := ParseBoardSize("8x6")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, geom.Cols, test.ShouldEqual, 8)
	test.That(t, geom.Rows, test.ShouldEqual, 6)
	test.That(t, geom.SquareSize, test.ShouldEqual, 1.0)

	geom, err = ParseBoardSize(" 11X7 ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, geom.Cols, test.ShouldEqual, 11)
	test.That(t, geom.Rows, test.ShouldEqual, 7)

	for _, bad := range []string{"", "8", "8x", "x6", "8x6x4", "axb", "8x1"} {
		_, err := ParseBoardSize(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestConfigCheckValid(t *testing.T) {
	good := Config{Board: board.Geometry{Rows: 6, Cols: 8, SquareSize: 1}, Alpha: 1.0}
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	bad := good
	bad.Alpha = 1.5
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)

	bad = good
	bad.Device = -1
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)

	bad = good
	bad.Board.Rows = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
}
