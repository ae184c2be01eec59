package models

import "time"

// WarmSegmentKind is the directory a segment was written under.
type WarmSegmentKind string

const (
	WarmMovement WarmSegmentKind = "movements"
	WarmObject   WarmSegmentKind = "objects"
)

// WarmSegment describes one GOP-aligned MPEG-TS file persisted to the
// warm tier. Its Path follows
// {data_dir}/{camera_id}/{movements|objects}/{start_pts_ns}_{duration_ms}.ts
type WarmSegment struct {
	ID       string // ulid, time-sortable
	CameraID string
	Kind     WarmSegmentKind

	Path string

	StartPTS uint64
	EndPTS   uint64

	WrittenAt time.Time
	SizeBytes int64

	// TriggerEventIDs lists the MotionEvent/Detection IDs that caused
	// this segment to be written, after coalescing.
	TriggerEventIDs []string
}

// DurationMillis returns the segment's playback duration in milliseconds.
func (s WarmSegment) DurationMillis() int64 {
	return (PTSNanos(s.EndPTS) - PTSNanos(s.StartPTS)) / 1_000_000
}

// Gap marks a PTS range with no hot or warm coverage.
type Gap struct {
	PTSStart uint64
	PTSEnd   uint64
}
