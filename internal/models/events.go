package models

import "time"

// MotionEventState tracks a motion event's lifecycle: open while motion
// is still being observed, closed once D_close has elapsed without a new
// trigger.
type MotionEventState int

const (
	MotionOpen MotionEventState = iota
	MotionClosed
)

// BoundingBox is a pixel-space rectangle, already padded and clamped to
// the frame dimensions.
type BoundingBox struct {
	X, Y, W, H int
}

// MotionEvent is one continuous span of detected motion on a camera. It
// references frames by PTS, never by pointer, so it stays valid after
// the frames it describes have been evicted from the hot buffer.
type MotionEvent struct {
	ID       string // uuid
	CameraID string

	// Sequence is a per-camera, monotonically increasing id assigned when
	// the event is recorded in the events store; it is the address
	// get_motion_mask(camera_id, sequence) looks events up by, since PTS
	// values alone aren't stable once the hot buffer that produced them
	// has been evicted.
	Sequence uint64

	State MotionEventState

	StartPTS uint64
	// EndPTS is only meaningful once State == MotionClosed.
	EndPTS uint64

	OpenedAt time.Time
	ClosedAt time.Time

	// LastTriggerAt is the wall-clock time of the most recent frame that
	// still showed motion above threshold; used to evaluate D_close.
	LastTriggerAt time.Time

	BoundingBox BoundingBox

	// MaskThumbnailJPEG is the JPEG-encoded foreground mask captured when
	// the event closed.
	MaskThumbnailJPEG []byte

	Detections []Detection
}

// Detection is one object-detection result triggered off a MotionEvent's
// bounding box.
type Detection struct {
	ID         string // uuid
	CameraID   string
	EventID    string
	PTS        uint64
	At         time.Time
	Class      string
	Confidence float64
	BoundingBox BoundingBox

	// ThumbnailJPEG is a JPEG-encoded capture of the full frame the
	// detection fired on, kept on the record itself so it stays
	// retrievable via get_detection_frame even after the hot buffer has
	// evicted the frame the detection's PTS refers to.
	ThumbnailJPEG []byte
}
