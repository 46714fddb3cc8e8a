// Package transform implements the camera model estimated by calibration:
// pinhole intrinsics, Brown-Conrady lens distortion, point projection, and
// image undistortion with a valid-region rectangle.
package transform

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/camgeom/boardtrack/spatialmath"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective
// projection of a 3D scene to the 2D plane: focal lengths and principal
// point, plus the image size they were estimated for.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// CameraMatrix creates the 3x3 camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) CameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PixelFromNormalized maps normalized image-plane coordinates to pixels.
func (params *PinholeCameraIntrinsics) PixelFromNormalized(x, y float64) (float64, float64) {
	return x*params.Fx + params.Ppx, y*params.Fy + params.Ppy
}

// NormalizedFromPixel maps a pixel to normalized image-plane coordinates.
func (params *PinholeCameraIntrinsics) NormalizedFromPixel(u, v float64) (float64, float64) {
	return (u - params.Ppx) / params.Fx, (v - params.Ppy) / params.Fy
}

// Project maps a 3D point through a rigid transform into the camera frame and
// projects it to a pixel, applying the distortion model if one is given. The
// pose must map the point's frame into the camera frame. A point with zero
// depth projects to negative coordinates so bounds checks filter it out.
func (params *PinholeCameraIntrinsics) Project(pose spatialmath.Pose, distortion *BrownConrady, pt r3.Vector) r2.Point {
	pc := pose.TransformPoint(pt)
	if pc.Z == 0 {
		return r2.Point{X: -1, Y: -1}
	}
	xn, yn := pc.X/pc.Z, pc.Y/pc.Z
	if distortion != nil {
		xn, yn = distortion.Transform(xn, yn)
	}
	u, v := params.PixelFromNormalized(xn, yn)
	return r2.Point{X: u, Y: v}
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	byteValue, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON file")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, nil
}
