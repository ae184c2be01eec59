package warm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/camon/camon/internal/buffer"
	"github.com/camon/camon/internal/camerr"
	"github.com/camon/camon/internal/metrics"
	"github.com/camon/camon/internal/models"

	"github.com/oklog/ulid/v2"
)

// Config tunes the Warm Flusher for one camera.
type Config struct {
	CameraID string
	DataDir  string

	// PrePadTicks/PostPadTicks extend a trigger's PTS window on either
	// side, in 90kHz ticks, so a warm segment includes lead-in/lead-out
	// context rather than starting exactly on the trigger frame.
	PrePadTicks  uint64
	PostPadTicks uint64

	// CoalesceGapTicks: two triggers of the same kind whose padded
	// windows are within this many ticks of each other are merged into
	// one segment instead of writing overlapping files.
	CoalesceGapTicks uint64

	// CommitDebounce is how long the flusher waits after the most recent
	// trigger of a pending window before writing it to disk, giving
	// later overlapping triggers a chance to coalesce in.
	CommitDebounce time.Duration
}

// HotBuffer is the subset of buffer.HotBuffer the flusher needs.
type HotBuffer interface {
	SnapshotGOPs(startPTS, endPTS uint64) ([]models.Gop, error)
	RetainUntil(untilPTS uint64) (int, error)
	Release(token int)
}

var _ HotBuffer = (*buffer.HotBuffer)(nil)

// Flusher writes warm-tier segments triggered by closed motion events
// and detections for one camera.
type Flusher struct {
	cfg     Config
	hot     HotBuffer
	index   *TierIndex
	log     *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu      sync.Mutex
	pending map[models.WarmSegmentKind]*pendingWrite
}

type pendingWrite struct {
	startPTS, endPTS uint64
	triggerIDs       []string
	timer            *time.Timer
}

// NewFlusher creates a Flusher writing into cfg.DataDir and registering
// segments into index.
func NewFlusher(cfg Config, hot HotBuffer, index *TierIndex, log *slog.Logger, reg *metrics.Registry) *Flusher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CommitDebounce == 0 {
		cfg.CommitDebounce = 2 * time.Second
	}
	return &Flusher{
		cfg:     cfg,
		hot:     hot,
		index:   index,
		log:     log.With(slog.String("component", "warm"), slog.String("camera_id", cfg.CameraID)),
		metrics: reg,
		now:     time.Now,
		pending: make(map[models.WarmSegmentKind]*pendingWrite),
	}
}

// MotionClosed implements analytics.EventSink.
func (f *Flusher) MotionClosed(ev models.MotionEvent) {
	f.trigger(models.WarmMovement, ev.StartPTS, ev.EndPTS, ev.ID)
}

// MotionOpened implements analytics.EventSink; the flusher only acts on
// the closed event, once the full PTS span is known.
func (f *Flusher) MotionOpened(models.MotionEvent) {}

// DetectionMade implements analytics.EventSink.
func (f *Flusher) DetectionMade(d models.Detection) {
	f.trigger(models.WarmObject, d.PTS, d.PTS, d.ID)
}

// trigger queues or extends a pending write for kind, padding the raw
// [startPTS,endPTS] window and coalescing it with any pending window of
// the same kind that falls within CoalesceGapTicks.
func (f *Flusher) trigger(kind models.WarmSegmentKind, startPTS, endPTS uint64, triggerID string) {
	padStart := saturatingSub(startPTS, f.cfg.PrePadTicks)
	padEnd := endPTS + f.cfg.PostPadTicks

	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.pending[kind]
	if p != nil && padStart <= p.endPTS+f.cfg.CoalesceGapTicks {
		if padEnd > p.endPTS {
			p.endPTS = padEnd
		}
		if padStart < p.startPTS {
			p.startPTS = padStart
		}
		p.triggerIDs = append(p.triggerIDs, triggerID)
		p.timer.Reset(f.cfg.CommitDebounce)
		return
	}

	if p != nil {
		f.commitLocked(kind, p)
	}

	np := &pendingWrite{startPTS: padStart, endPTS: padEnd, triggerIDs: []string{triggerID}}
	np.timer = time.AfterFunc(f.cfg.CommitDebounce, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pending[kind] == np {
			f.commitLocked(kind, np)
			delete(f.pending, kind)
		}
	})
	f.pending[kind] = np
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// commitLocked writes p to disk. It must be called with f.mu held; the
// write itself (snapshot, disk I/O) runs without the lock so other
// triggers can keep coalescing into the next pending window.
func (f *Flusher) commitLocked(kind models.WarmSegmentKind, p *pendingWrite) {
	p.timer.Stop()
	go f.write(kind, p.startPTS, p.endPTS, p.triggerIDs)
}

func (f *Flusher) write(kind models.WarmSegmentKind, startPTS, endPTS uint64, triggerIDs []string) {
	token, err := f.hot.RetainUntil(endPTS)
	if err != nil {
		f.log.Warn("segment window already evicted from hot buffer", slog.String("error", err.Error()))
		return
	}
	defer f.hot.Release(token)

	gops, err := f.hot.SnapshotGOPs(startPTS, endPTS)
	if err != nil {
		f.log.Warn("snapshot failed", slog.String("error", err.Error()))
		return
	}
	if len(gops) == 0 {
		return
	}

	actualStart := gops[0].StartPTS
	actualEnd := gops[len(gops)-1].EndPTS

	var payload []byte
	for _, g := range gops {
		payload = append(payload, g.Bytes()...)
	}

	dir := filepath.Join(f.cfg.DataDir, f.cfg.CameraID, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.log.Error("mkdir failed", slog.String("error", err.Error()))
		return
	}

	durationMS := (models.PTSNanos(actualEnd) - models.PTSNanos(actualStart)) / 1_000_000
	name := fmt.Sprintf("%d_%d.ts", models.PTSNanos(actualStart), durationMS)
	finalPath := filepath.Join(dir, name)

	if err := f.writeAtomic(finalPath, payload); err != nil {
		f.log.Error("segment write failed", slog.String("error", err.Error()), slog.String("path", finalPath))
		return
	}

	seg := models.WarmSegment{
		ID:              ulid.Make().String(),
		CameraID:        f.cfg.CameraID,
		Kind:            kind,
		Path:            finalPath,
		StartPTS:        actualStart,
		EndPTS:          actualEnd,
		WrittenAt:       f.now(),
		SizeBytes:       int64(len(payload)),
		TriggerEventIDs: triggerIDs,
	}
	f.index.Register(seg)
	if f.metrics != nil {
		f.metrics.WarmSegments.WithLabelValues(f.cfg.CameraID, string(kind)).Inc()
	}
	f.log.Info("wrote warm segment", slog.String("path", finalPath), slog.Int64("bytes", seg.SizeBytes))
}

// writeAtomic writes data to a temp file in the same directory as path,
// fsyncs it, then renames it into place. The temp-file-then-rename
// sequence makes a concurrent reader see either the old state (file
// absent) or the fully-written new file, never a partial one; the fsync
// additionally protects against losing the segment to a crash between
// write and rename, which an un-synced temp file would not.
func (f *Flusher) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*.ts")
	if err != nil {
		return camerr.New(camerr.DiskWriteFailed, f.cfg.CameraID, "warm.write", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return camerr.New(camerr.DiskWriteFailed, f.cfg.CameraID, "warm.write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return camerr.New(camerr.DiskWriteFailed, f.cfg.CameraID, "warm.write", err)
	}
	if err := tmp.Close(); err != nil {
		return camerr.New(camerr.DiskWriteFailed, f.cfg.CameraID, "warm.write", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return camerr.New(camerr.DiskWriteFailed, f.cfg.CameraID, "warm.write", err)
	}
	return nil
}
