package camera

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/camon/camon/internal/camerr"
	"github.com/camon/camon/internal/events"
	"github.com/camon/camon/internal/models"
	"github.com/camon/camon/internal/reader"
)

// Registry is the boundary an external HTTP collaborator binds to: it
// exposes spec.md §6's upward interfaces (list_cameras, hot_gop_window,
// read_range, list_events, get_motion_mask, get_detection_frame,
// list_warm_events, warm_event_stream) as plain Go methods over the set
// of per-camera Managers camon is running, without camon itself ever
// listening on a socket.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Add registers a camera's Manager under id.
func (r *Registry) Add(id string, m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[id] = m
}

// All returns a snapshot of every registered camera's Manager, for a
// caller (such as cmd/camon's serve command) that needs to start each
// one's pipeline.
func (r *Registry) All() map[string]*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Manager, len(r.managers))
	for id, m := range r.managers {
		out[id] = m
	}
	return out
}

func (r *Registry) get(id string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[id]
	return m, ok
}

var errCameraNotFound = errors.New("camera not registered")

func notFound(cameraID, op string) error {
	return camerr.New(camerr.NotFound, cameraID, op, errCameraNotFound)
}

// ListCameras implements list_cameras() → [camera_id].
func (r *Registry) ListCameras() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.managers))
	for id := range r.managers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HotGOPWindow implements hot_gop_window(camera_id) → iterator of GOP
// byte blobs, for HLS live playlist/segment synthesis. n<=0 returns
// every resident GOP.
func (r *Registry) HotGOPWindow(cameraID string, n int) ([][]byte, error) {
	m, ok := r.get(cameraID)
	if !ok {
		return nil, notFound(cameraID, "registry.hot_gop_window")
	}
	if n <= 0 {
		n = len(m.HotBuffer().LatestLiveWindow(1 << 30))
	}
	gops := m.HotBuffer().LatestLiveWindow(n)
	out := make([][]byte, len(gops))
	for i, g := range gops {
		out[i] = g.Bytes()
	}
	return out, nil
}

// ReadRange implements read_range(camera_id, pts_start, pts_end) →
// stream of bytes or Gap markers.
func (r *Registry) ReadRange(ctx context.Context, cameraID string, ptsStart, ptsEnd uint64) ([]reader.Chunk, error) {
	m, ok := r.get(cameraID)
	if !ok {
		return nil, notFound(cameraID, "registry.read_range")
	}
	return m.Reader().Read(ctx, ptsStart, ptsEnd)
}

// ListEvents implements list_events(camera_id, from, to, filters) →
// [MotionEvent | Detection].
func (r *Registry) ListEvents(cameraID string, from, to time.Time, filter events.ListFilter) ([]events.Record, error) {
	m, ok := r.get(cameraID)
	if !ok {
		return nil, notFound(cameraID, "registry.list_events")
	}
	return m.Events().ListEvents(from, to, filter), nil
}

// GetMotionMask implements get_motion_mask(camera_id, sequence) → JPEG
// bytes or NotFound.
func (r *Registry) GetMotionMask(cameraID string, sequence uint64) ([]byte, error) {
	m, ok := r.get(cameraID)
	if !ok {
		return nil, notFound(cameraID, "registry.get_motion_mask")
	}
	jpeg, ok := m.Events().GetMotionMask(sequence)
	if !ok {
		return nil, notFound(cameraID, "registry.get_motion_mask")
	}
	return jpeg, nil
}

// GetDetectionFrame implements get_detection_frame(camera_id, id) →
// JPEG bytes or NotFound.
func (r *Registry) GetDetectionFrame(cameraID, detectionID string) ([]byte, error) {
	m, ok := r.get(cameraID)
	if !ok {
		return nil, notFound(cameraID, "registry.get_detection_frame")
	}
	jpeg, ok := m.Events().GetDetectionFrame(detectionID)
	if !ok {
		return nil, notFound(cameraID, "registry.get_detection_frame")
	}
	return jpeg, nil
}

// WarmEventSummary is one entry returned by ListWarmEvents.
type WarmEventSummary struct {
	StartPTSNanos int64
	DurationMS    int64
	EventType     string
}

// ListWarmEvents implements list_warm_events(camera_id) →
// [{start_pts_ns, duration_ms, event_type}].
func (r *Registry) ListWarmEvents(cameraID string) ([]WarmEventSummary, error) {
	m, ok := r.get(cameraID)
	if !ok {
		return nil, notFound(cameraID, "registry.list_warm_events")
	}
	segs := m.TierIndex().All(cameraID)
	out := make([]WarmEventSummary, len(segs))
	for i, s := range segs {
		out[i] = WarmEventSummary{
			StartPTSNanos: models.PTSNanos(s.StartPTS),
			DurationMS:    s.DurationMillis(),
			EventType:     string(s.Kind),
		}
	}
	return out, nil
}

// WarmEventStream implements warm_event_stream(camera_id, start_pts_ns)
// → byte stream: it opens the warm segment file beginning at
// startPTSNanos verbatim, for the caller to copy to an HTTP response.
// The caller is responsible for closing the returned ReadCloser.
func (r *Registry) WarmEventStream(cameraID string, startPTSNanos int64) (io.ReadCloser, error) {
	m, ok := r.get(cameraID)
	if !ok {
		return nil, notFound(cameraID, "registry.warm_event_stream")
	}
	target := models.PTSFromNanos(startPTSNanos)
	for _, s := range m.TierIndex().All(cameraID) {
		if s.StartPTS == target {
			f, err := os.Open(s.Path)
			if err != nil {
				return nil, camerr.New(camerr.NotFound, cameraID, "registry.warm_event_stream", err)
			}
			return f, nil
		}
	}
	return nil, notFound(cameraID, "registry.warm_event_stream")
}
