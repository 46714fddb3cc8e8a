package transform

import (
	"image"
	"image/draw"
	"math"

	"github.com/pkg/errors"
)

// rectangleGridSize is the sampling density used to bound the undistorted
// image region when computing optimal intrinsics.
const rectangleGridSize = 9

// Undistorter corrects lens distortion in images. It precomputes an adjusted
// intrinsic matrix balancing pixel retention against border artifacts, and a
// valid-region rectangle (ROI) inside the corrected image.
type Undistorter struct {
	Intrinsics PinholeCameraIntrinsics
	Distortion *BrownConrady
	// Optimal is the adjusted intrinsic matrix the corrected image is
	// rendered with.
	Optimal PinholeCameraIntrinsics
	// ROI is the rectangle of valid (non-border-artifact) pixels in the
	// corrected image, before cropping.
	ROI image.Rectangle
}

// NewUndistorter computes the adjusted intrinsics for the given retention
// parameter alpha: 0 crops to only valid pixels, 1 retains all source pixels
// possibly with invalid borders. The default for interactive use is 1.
func NewUndistorter(intrinsics PinholeCameraIntrinsics, distortion *BrownConrady, alpha float64) (*Undistorter, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if alpha < 0 || alpha > 1 {
		return nil, errors.Errorf("retention parameter alpha must be in [0,1], got %f", alpha)
	}

	inner, outer, err := undistortedBounds(intrinsics, distortion)
	if err != nil {
		return nil, err
	}

	w := float64(intrinsics.Width)
	h := float64(intrinsics.Height)

	// intrinsics mapping the all-valid (inner) rectangle onto the viewport
	fx0 := (w - 1) / inner.Dx()
	fy0 := (h - 1) / inner.Dy()
	cx0 := -fx0 * inner.Min.X
	cy0 := -fy0 * inner.Min.Y

	// intrinsics mapping the all-pixels (outer) rectangle onto the viewport
	fx1 := (w - 1) / outer.Dx()
	fy1 := (h - 1) / outer.Dy()
	cx1 := -fx1 * outer.Min.X
	cy1 := -fy1 * outer.Min.Y

	optimal := PinholeCameraIntrinsics{
		Width:  intrinsics.Width,
		Height: intrinsics.Height,
		Fx:     fx0*(1-alpha) + fx1*alpha,
		Fy:     fy0*(1-alpha) + fy1*alpha,
		Ppx:    cx0*(1-alpha) + cx1*alpha,
		Ppy:    cy0*(1-alpha) + cy1*alpha,
	}

	// project the all-valid rectangle through the adjusted intrinsics to get
	// the valid-pixel ROI in the corrected image
	x0, y0 := optimal.PixelFromNormalized(inner.Min.X, inner.Min.Y)
	x1, y1 := optimal.PixelFromNormalized(inner.Max.X, inner.Max.Y)
	const eps = 1e-7 // keep exact-boundary pixels despite rounding noise
	roi := image.Rect(
		int(math.Ceil(x0-eps)), int(math.Ceil(y0-eps)),
		int(math.Floor(x1+eps)), int(math.Floor(y1+eps)),
	).Intersect(image.Rect(0, 0, intrinsics.Width, intrinsics.Height))
	if roi.Empty() {
		return nil, errors.New("valid-pixel region is empty, distortion model may be degenerate")
	}

	return &Undistorter{
		Intrinsics: intrinsics,
		Distortion: distortion,
		Optimal:    optimal,
		ROI:        roi,
	}, nil
}

// normalizedRect is an axis-aligned rectangle in normalized image-plane
// coordinates.
type normalizedRect struct {
	Min, Max struct{ X, Y float64 }
}

func (r normalizedRect) Dx() float64 { return r.Max.X - r.Min.X }
func (r normalizedRect) Dy() float64 { return r.Max.Y - r.Min.Y }

// undistortedBounds undistorts a grid of boundary pixels and returns two
// rectangles in normalized coordinates: inner, inside which every source
// pixel is valid, and outer, the bounding box of all undistorted pixels.
func undistortedBounds(intrinsics PinholeCameraIntrinsics, distortion *BrownConrady) (normalizedRect, normalizedRect, error) {
	var inner, outer normalizedRect
	inner.Min.X, inner.Min.Y = math.Inf(-1), math.Inf(-1)
	inner.Max.X, inner.Max.Y = math.Inf(1), math.Inf(1)
	outer.Min.X, outer.Min.Y = math.Inf(1), math.Inf(1)
	outer.Max.X, outer.Max.Y = math.Inf(-1), math.Inf(-1)

	n := rectangleGridSize
	for gy := 0; gy < n; gy++ {
		v := float64(gy) * float64(intrinsics.Height-1) / float64(n-1)
		for gx := 0; gx < n; gx++ {
			u := float64(gx) * float64(intrinsics.Width-1) / float64(n-1)
			xd, yd := intrinsics.NormalizedFromPixel(u, v)
			x, y := distortion.Undistort(xd, yd)

			outer.Min.X = math.Min(outer.Min.X, x)
			outer.Min.Y = math.Min(outer.Min.Y, y)
			outer.Max.X = math.Max(outer.Max.X, x)
			outer.Max.Y = math.Max(outer.Max.Y, y)

			// the inner rectangle is bounded by the extreme undistorted
			// positions of each image edge
			if gx == 0 {
				inner.Min.X = math.Max(inner.Min.X, x)
			}
			if gx == n-1 {
				inner.Max.X = math.Min(inner.Max.X, x)
			}
			if gy == 0 {
				inner.Min.Y = math.Max(inner.Min.Y, y)
			}
			if gy == n-1 {
				inner.Max.Y = math.Min(inner.Max.Y, y)
			}
		}
	}

	if !(inner.Dx() > 0 && inner.Dy() > 0 && outer.Dx() > 0 && outer.Dy() > 0) {
		return inner, outer, errors.New("cannot bound undistorted image, distortion model may be degenerate")
	}
	return inner, outer, nil
}

// SourceCoords maps a destination (corrected) pixel back to the source pixel
// it samples from, by distorting the normalized destination coordinate with
// the forward model.
func (u *Undistorter) SourceCoords(x, y float64) (float64, float64) {
	xn, yn := u.Optimal.NormalizedFromPixel(x, y)
	xd, yd := u.Distortion.Transform(xn, yn)
	return u.Intrinsics.PixelFromNormalized(xd, yd)
}

// Undistort builds the corrected image from a source image via the dense
// backward mapping and bilinear interpolation, then crops it to the valid
// ROI. Destination pixels whose source coordinate falls outside the source
// image are zero-filled. Returns the cropped image and the ROI rectangle in
// the uncropped corrected image.
func (u *Undistorter) Undistort(img image.Image) (*image.NRGBA, image.Rectangle, error) {
	if img == nil {
		return nil, image.Rectangle{}, errors.New("input image is nil")
	}
	b := img.Bounds()
	if b.Dx() != u.Intrinsics.Width || b.Dy() != u.Intrinsics.Height {
		return nil, image.Rectangle{}, errors.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			b.Dx(), b.Dy(), u.Intrinsics.Width, u.Intrinsics.Height)
	}

	src := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	corrected := image.NewNRGBA(image.Rect(0, 0, u.Intrinsics.Width, u.Intrinsics.Height))
	for y := 0; y < u.Intrinsics.Height; y++ {
		for x := 0; x < u.Intrinsics.Width; x++ {
			sx, sy := u.SourceCoords(float64(x), float64(y))
			r, g, bl, a, ok := bilinearSample(src, sx, sy)
			if !ok {
				continue // zero-filled by allocation
			}
			i := corrected.PixOffset(x, y)
			corrected.Pix[i+0] = r
			corrected.Pix[i+1] = g
			corrected.Pix[i+2] = bl
			corrected.Pix[i+3] = a
		}
	}

	cropped := image.NewNRGBA(image.Rect(0, 0, u.ROI.Dx(), u.ROI.Dy()))
	draw.Draw(cropped, cropped.Bounds(), corrected, u.ROI.Min, draw.Src)
	return cropped, u.ROI, nil
}

// bilinearSample interpolates the four pixels around (x, y). ok is false when
// the coordinate falls outside the image.
func bilinearSample(img *image.NRGBA, x, y float64) (r, g, b, a uint8, ok bool) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 0, 0, 0, 0, false
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	blend := func(c00, c10, c01, c11 uint8) uint8 {
		top := float64(c00)*(1-fx) + float64(c10)*fx
		bot := float64(c01)*(1-fx) + float64(c11)*fx
		return uint8(math.Round(top*(1-fy) + bot*fy))
	}

	i00 := img.PixOffset(x0, y0)
	i10 := img.PixOffset(x1, y0)
	i01 := img.PixOffset(x0, y1)
	i11 := img.PixOffset(x1, y1)
	r = blend(img.Pix[i00+0], img.Pix[i10+0], img.Pix[i01+0], img.Pix[i11+0])
	g = blend(img.Pix[i00+1], img.Pix[i10+1], img.Pix[i01+1], img.Pix[i11+1])
	b = blend(img.Pix[i00+2], img.Pix[i10+2], img.Pix[i01+2], img.Pix[i11+2])
	a = blend(img.Pix[i00+3], img.Pix[i10+3], img.Pix[i01+3], img.Pix[i11+3])
	return r, g, b, a, true
}
