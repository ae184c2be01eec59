// Package analytics implements camon's per-camera motion and
// object-detection pipeline: a fixed-cadence sampler, an adaptive
// background-subtraction threshold, MotionEvent lifecycle hysteresis,
// and bounding-box-triggered object detection with graceful sample-rate
// degradation under load.
//
// Background subtraction, frame decoding, and object detection are all
// expressed as interfaces rather than bound to a concrete library: none
// of the reference corpus carries a computer-vision dependency to
// ground a specific choice on, and the design notes call for these to
// be swappable contracts. A production deployment supplies
// implementations (e.g. backed by a cgo OpenCV binding or a remote
// inference service); camon's own code only needs their outputs.
package analytics

import (
	"image"
	"time"

	"github.com/camon/camon/internal/models"
)

// Decoder turns a container-level Frame's opaque payload into a decoded
// image for sampling. Camon's own demuxer never parses codec bitstreams;
// this is the seam where that happens, outside camon.
type Decoder interface {
	Decode(f models.Frame) (image.Image, error)
}

// ForegroundMask is the output of one background-subtraction pass.
type ForegroundMask struct {
	Mask image.Image
	// Area is the pixel count flagged as foreground. The Sampler applies
	// any configured ZoneMask weighting to it afterwards.
	Area int
	// BoundingBox covers every foreground pixel, used to seed object
	// detection.
	BoundingBox models.BoundingBox
}

// BackgroundSubtractor models a MOG2-equivalent background subtractor:
// stateful per camera, updated once per sampled frame.
type BackgroundSubtractor interface {
	Apply(img image.Image) (ForegroundMask, error)
}

// ObjectDetector runs inference over a cropped region of a frame.
type ObjectDetector interface {
	Detect(img image.Image, box models.BoundingBox) ([]models.Detection, error)
}

// ZoneMask optionally scales per-pixel motion sensitivity (values in
// [0,1]) or excludes regions entirely (value 0 everywhere in an ignore
// zone). A nil ZoneMask applies uniform full sensitivity.
type ZoneMask interface {
	// SensitivityAt returns the multiplier to apply to the foreground
	// decision at pixel (x, y).
	SensitivityAt(x, y int) float64
}

// MaskEncoder encodes a foreground mask as a JPEG thumbnail for a closed
// MotionEvent. Swappable for the same reason as Decoder/BackgroundSubtractor.
type MaskEncoder interface {
	EncodeJPEG(img image.Image) ([]byte, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time
