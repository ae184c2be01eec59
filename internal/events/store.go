// Package events implements the durable, addressable record of closed
// MotionEvents and Detections that spec.md's upward interfaces
// (list_events, get_motion_mask, get_detection_frame) read from. It is
// the analytics.EventSink that keeps a record (and its thumbnail)
// retrievable after the hot buffer has evicted the PTS range the event
// or detection originally referenced — the Store, not the buffer, is
// what spec.md §3 means by "the associated thumbnail remains
// retrievable from the detection record itself".
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/camon/camon/internal/models"
)

// defaultMaxRetained bounds how many closed events/detections one
// camera's Store keeps resident before dropping the oldest; like the
// hot buffer and the warm tier, the events store is a bounded window,
// not an unbounded log — a caller that needs longer retention is the
// out-of-scope metadata database spec.md's Non-goals already name.
const defaultMaxRetained = 10000

// Record is one entry returned by ListEvents: exactly one of Motion or
// Detection is set.
type Record struct {
	Motion    *models.MotionEvent
	Detection *models.Detection
}

// At returns the record's wall-clock timestamp, for sorting/filtering.
func (r Record) At() time.Time {
	if r.Motion != nil {
		return r.Motion.ClosedAt
	}
	return r.Detection.At
}

// ListFilter narrows ListEvents. A nil/zero-value filter returns every
// record in range.
type ListFilter struct {
	// MotionOnly/DetectionsOnly default to false; leave both false (the
	// zero value) to get everything, or set one to true to exclude the
	// other kind.
	MotionOnly     bool
	DetectionsOnly bool
	// Classes restricts detections to these class labels; empty means
	// every class. Ignored for motion events.
	Classes map[string]bool
}

func (f ListFilter) allowMotion() bool     { return !f.DetectionsOnly }
func (f ListFilter) allowDetection() bool  { return !f.MotionOnly }
func (f ListFilter) allowClass(c string) bool {
	if len(f.Classes) == 0 {
		return true
	}
	return f.Classes[c]
}

// Store is one camera's in-memory index of closed MotionEvents and the
// Detections made against them, implementing analytics.EventSink so it
// can be wired alongside (or instead of) the Warm Flusher.
type Store struct {
	cameraID  string
	maxRetain int

	mu sync.RWMutex

	nextSeq    uint64
	motion     []models.MotionEvent // ascending Sequence
	detections []models.Detection   // ascending At
}

// NewStore creates an empty Store for one camera. maxRetain <= 0 uses
// defaultMaxRetained.
func NewStore(cameraID string, maxRetain int) *Store {
	if maxRetain <= 0 {
		maxRetain = defaultMaxRetained
	}
	return &Store{cameraID: cameraID, maxRetain: maxRetain}
}

// MotionOpened implements analytics.EventSink. The Store only indexes
// closed events, once their full PTS span and thumbnail are known, so
// this is a no-op.
func (s *Store) MotionOpened(models.MotionEvent) {}

// MotionClosed implements analytics.EventSink, assigning the event its
// per-camera Sequence and retaining it (and its mask thumbnail).
func (s *Store) MotionClosed(ev models.MotionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	ev.Sequence = s.nextSeq
	s.motion = append(s.motion, ev)
	if len(s.motion) > s.maxRetain {
		s.motion = s.motion[len(s.motion)-s.maxRetain:]
	}
}

// DetectionMade implements analytics.EventSink.
func (s *Store) DetectionMade(d models.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detections = append(s.detections, d)
	if len(s.detections) > s.maxRetain {
		s.detections = s.detections[len(s.detections)-s.maxRetain:]
	}
}

// ListEvents implements list_events(camera_id, from, to, filters):
// every retained MotionEvent/Detection whose timestamp falls in
// [from, to], merged and sorted ascending by time.
func (s *Store) ListEvents(from, to time.Time, filter ListFilter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	if filter.allowMotion() {
		for _, ev := range s.motion {
			if inRange(ev.ClosedAt, from, to) {
				ev := ev
				out = append(out, Record{Motion: &ev})
			}
		}
	}
	if filter.allowDetection() {
		for _, d := range s.detections {
			if !filter.allowClass(d.Class) {
				continue
			}
			if inRange(d.At, from, to) {
				d := d
				out = append(out, Record{Detection: &d})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At().Before(out[j].At()) })
	return out
}

// GetMotionMask implements get_motion_mask(camera_id, sequence),
// returning the JPEG mask thumbnail captured when the event closed.
func (s *Store) GetMotionMask(sequence uint64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.motion {
		if ev.Sequence == sequence {
			return ev.MaskThumbnailJPEG, ev.MaskThumbnailJPEG != nil
		}
	}
	return nil, false
}

// GetDetectionFrame implements get_detection_frame(camera_id, id),
// returning the JPEG full-frame thumbnail captured for that detection.
func (s *Store) GetDetectionFrame(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.detections {
		if d.ID == id {
			return d.ThumbnailJPEG, d.ThumbnailJPEG != nil
		}
	}
	return nil, false
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
