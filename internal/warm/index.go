// Package warm implements the warm-tier flusher: it subscribes to
// closed motion/detection events, writes byte-exact GOP-aligned MPEG-TS
// segments to disk, maintains an in-memory TierIndex of what has been
// written, and runs a background age/size retention sweep.
package warm

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/camon/camon/internal/models"
	"github.com/camon/camon/internal/tsdemux"
)

// TierIndex tracks every WarmSegment written for a camera, in PTS order,
// so the Tiered Reader can find which files cover a requested range
// without touching the filesystem. It is never persisted to a database;
// it rebuilds itself from spec.md's on-disk filename encoding if camon
// restarts (see Rebuild).
type TierIndex struct {
	mu       sync.RWMutex
	byCamera map[string][]models.WarmSegment
}

// NewTierIndex creates an empty index.
func NewTierIndex() *TierIndex {
	return &TierIndex{byCamera: make(map[string][]models.WarmSegment)}
}

// Register adds a segment to the index, keeping each camera's slice
// sorted by StartPTS.
func (idx *TierIndex) Register(seg models.WarmSegment) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	segs := idx.byCamera[seg.CameraID]
	segs = append(segs, seg)
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartPTS < segs[j].StartPTS })
	idx.byCamera[seg.CameraID] = segs
}

// Remove drops a segment from the index, e.g. after the retention
// sweeper deletes its file.
func (idx *TierIndex) Remove(cameraID, segmentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	segs := idx.byCamera[cameraID]
	for i, s := range segs {
		if s.ID == segmentID {
			idx.byCamera[cameraID] = append(segs[:i], segs[i+1:]...)
			return
		}
	}
}

// Overlapping returns every segment for cameraID whose [StartPTS,EndPTS]
// overlaps [ptsStart, ptsEnd], in ascending PTS order.
func (idx *TierIndex) Overlapping(cameraID string, ptsStart, ptsEnd uint64) []models.WarmSegment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []models.WarmSegment
	for _, s := range idx.byCamera[cameraID] {
		if s.EndPTS < ptsStart || s.StartPTS > ptsEnd {
			continue
		}
		out = append(out, s)
	}
	return out
}

// All returns every segment known for a camera, in ascending PTS order.
func (idx *TierIndex) All(cameraID string) []models.WarmSegment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]models.WarmSegment, len(idx.byCamera[cameraID]))
	copy(out, idx.byCamera[cameraID])
	return out
}

// TotalSize returns the sum of SizeBytes across every segment for a
// camera, used by the retention sweeper's size-based policy.
func (idx *TierIndex) TotalSize(cameraID string) int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var total int64
	for _, s := range idx.byCamera[cameraID] {
		total += s.SizeBytes
	}
	return total
}

// Rebuild walks dataDir for {camera_id}/{movements|objects}/*.ts files
// and registers every one that parses as a valid segment, so a restart
// recovers the full warm tier without a database. A file is accepted
// only if its name decodes to a start-PTS/duration pair and its content
// demuxes to at least one frame whose first access unit is a keyframe;
// per spec.md's open question on crash recovery, anything else
// (including a partial tail file left by a crash mid-write) is logged
// and skipped rather than registered, and is left on disk for an
// operator to inspect.
func Rebuild(dataDir string, log *slog.Logger) (*TierIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	idx := NewTierIndex()

	cameraDirs, err := os.ReadDir(dataDir)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}

	for _, camEnt := range cameraDirs {
		if !camEnt.IsDir() {
			continue
		}
		rebuildCameraInto(idx, dataDir, camEnt.Name(), log)
	}
	return idx, nil
}

// RebuildCamera is Rebuild scoped to a single camera's subtree, for a
// Manager that only needs to recover its own segments at startup.
func RebuildCamera(dataDir, cameraID string, log *slog.Logger) *TierIndex {
	if log == nil {
		log = slog.Default()
	}
	idx := NewTierIndex()
	rebuildCameraInto(idx, dataDir, cameraID, log)
	return idx
}

func rebuildCameraInto(idx *TierIndex, dataDir, cameraID string, log *slog.Logger) {
	for _, kind := range []models.WarmSegmentKind{models.WarmMovement, models.WarmObject} {
		kindDir := filepath.Join(dataDir, cameraID, string(kind))
		files, err := os.ReadDir(kindDir)
		if err != nil {
			continue
		}
		for _, fe := range files {
			if fe.IsDir() || !strings.HasSuffix(fe.Name(), ".ts") {
				continue
			}
			path := filepath.Join(kindDir, fe.Name())
			seg, err := rebuildOne(path, cameraID, kind)
			if err != nil {
				log.Warn("skipping unrecoverable warm segment",
					slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			idx.Register(seg)
		}
	}
}

func rebuildOne(path, cameraID string, kind models.WarmSegmentKind) (models.WarmSegment, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".ts")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return models.WarmSegment{}, errBadFilename
	}
	startNS, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return models.WarmSegment{}, err
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return models.WarmSegment{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.WarmSegment{}, err
	}
	defer f.Close()

	var frames []models.Frame
	d := tsdemux.New(tsdemux.Config{})
	if err := d.Run(f, func(fr models.Frame) { frames = append(frames, fr) }); err != nil && err != io.EOF {
		return models.WarmSegment{}, err
	}
	if len(frames) == 0 || !frames[0].Keyframe {
		return models.WarmSegment{}, errNotKeyframeAligned
	}

	info, err := f.Stat()
	if err != nil {
		return models.WarmSegment{}, err
	}

	return models.WarmSegment{
		ID:        filepath.Base(path),
		CameraID:  cameraID,
		Kind:      kind,
		Path:      path,
		StartPTS:  models.PTSFromNanos(startNS),
		EndPTS:    frames[len(frames)-1].PTSTicks,
		WrittenAt: info.ModTime(),
		SizeBytes: info.Size(),
	}, nil
}

var (
	errBadFilename        = errSimple("warm segment filename does not match {start_pts_ns}_{duration_ms}.ts")
	errNotKeyframeAligned = errSimple("warm segment does not begin with a keyframe")
)

type errSimple string

func (e errSimple) Error() string { return string(e) }
