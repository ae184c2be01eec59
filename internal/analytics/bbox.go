package analytics

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/camon/camon/internal/models"
)

// PadAndClamp grows box by pad pixels on every side, then clamps the
// result to the [0,0,frameW,frameH] frame bounds, for use as an object
// detector's crop region.
func PadAndClamp(box models.BoundingBox, pad, frameW, frameH int) models.BoundingBox {
	x0 := box.X - pad
	y0 := box.Y - pad
	x1 := box.X + box.W + pad
	y1 := box.Y + box.H + pad

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > frameW {
		x1 = frameW
	}
	if y1 > frameH {
		y1 = frameH
	}
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return models.BoundingBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// CropBox extracts the padded bounding box region from img into its own
// image, so the object detector receives exactly what spec.md calls for:
// "the current sample cropped to the motion bounding box". Detector
// implementations that need a fixed input resolution (most classifiers
// do) should resize the result themselves via ResizeTo.
func CropBox(img image.Image, box models.BoundingBox) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, box.W, box.H))
	src := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H)
	draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	return dst
}

// ResizeTo scales img to exactly w x h using bilinear interpolation, for
// detectors whose model expects a fixed input resolution.
func ResizeTo(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}
