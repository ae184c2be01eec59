package analytics

import (
	"time"

	"github.com/camon/camon/internal/models"
)

// MotionTracker applies open/close hysteresis to a stream of per-sample
// motion decisions, so a single noisy frame doesn't flap the event
// boundary: motion must persist for DOpen before an event opens, and
// absence of motion must persist for DClose before it closes.
type MotionTracker struct {
	DOpen  time.Duration
	DClose time.Duration

	event            *models.MotionEvent
	motionSinceFirst time.Time
	motionSeen       bool
}

// NewMotionTracker creates a tracker with the given hysteresis durations.
func NewMotionTracker(dOpen, dClose time.Duration) *MotionTracker {
	return &MotionTracker{DOpen: dOpen, DClose: dClose}
}

// Sample feeds one per-tick motion decision at time now. When a new
// MotionEvent opens, opened is returned non-nil; when the open event
// closes, closed is returned non-nil. A single call never returns both.
func (t *MotionTracker) Sample(now time.Time, motionDetected bool, pts uint64, box models.BoundingBox) (opened, closed *models.MotionEvent) {
	if t.event == nil {
		if !motionDetected {
			t.motionSeen = false
			return nil, nil
		}
		if !t.motionSeen {
			t.motionSeen = true
			t.motionSinceFirst = now
			return nil, nil
		}
		if now.Sub(t.motionSinceFirst) < t.DOpen {
			return nil, nil
		}
		t.event = &models.MotionEvent{
			State:       models.MotionOpen,
			StartPTS:    pts,
			OpenedAt:    t.motionSinceFirst,
			LastTriggerAt: now,
			BoundingBox: box,
		}
		t.motionSeen = false
		return t.event, nil
	}

	if motionDetected {
		t.event.LastTriggerAt = now
		t.event.BoundingBox = unionBox(t.event.BoundingBox, box)
		return nil, nil
	}

	if now.Sub(t.event.LastTriggerAt) < t.DClose {
		return nil, nil
	}

	t.event.State = models.MotionClosed
	t.event.EndPTS = pts
	t.event.ClosedAt = now
	closed = t.event
	t.event = nil
	return nil, closed
}

// Active returns the currently open event, if any.
func (t *MotionTracker) Active() *models.MotionEvent { return t.event }

func unionBox(a, b models.BoundingBox) models.BoundingBox {
	if a.W == 0 && a.H == 0 {
		return b
	}
	if b.W == 0 && b.H == 0 {
		return a
	}
	x0 := min(a.X, b.X)
	y0 := min(a.Y, b.Y)
	x1 := max(a.X+a.W, b.X+b.W)
	y1 := max(a.Y+a.H, b.Y+b.H)
	return models.BoundingBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}
