// Package buffer implements camon's hot buffer: a bounded, in-memory
// ring of recently decoded Frames, addressable by PTS and GOP, with a
// single writer and any number of concurrent readers holding counted
// retention pins against forced eviction.
package buffer

import (
	"sync"

	"github.com/camon/camon/internal/camerr"
	"github.com/camon/camon/internal/models"
)

// Config configures a HotBuffer.
type Config struct {
	CameraID string
	// MaxGOPs is the normal eviction target: GOPs beyond this count are
	// evicted from the front once no pin covers them.
	MaxGOPs int
	// HardCapGOPs is the forced-eviction ceiling: a writer that fills the
	// buffer past this count evicts the oldest GOPs regardless of
	// outstanding pins, returning the evicted span to affected readers
	// as camerr.BufferEvicted.
	HardCapGOPs int
}

// pin is one reader's outstanding retention request, keyed by an opaque
// token so RetainUntil/Release calls can be matched.
type pin struct {
	untilPTS uint64
}

// HotBuffer holds a GOP-aligned window of recent Frames in memory.
type HotBuffer struct {
	cfg Config

	mu          sync.RWMutex
	gops        []models.Gop
	pins        map[int]pin
	nextPinID   int
	evictedPrefixPTS uint64
	evicted          bool
}

// New creates an empty HotBuffer.
func New(cfg Config) *HotBuffer {
	if cfg.MaxGOPs <= 0 {
		cfg.MaxGOPs = 60
	}
	if cfg.HardCapGOPs <= cfg.MaxGOPs {
		cfg.HardCapGOPs = cfg.MaxGOPs * 2
	}
	return &HotBuffer{cfg: cfg, pins: make(map[int]pin)}
}

// Push appends a completed Frame to the current (or a new) GOP. A
// keyframe starts a new GOP; non-keyframes extend the most recent one.
// Until the buffer has seen its first keyframe, non-keyframe frames are
// dropped outright rather than starting a GOP, so the buffer never
// begins on anything but a keyframe (e.g. a reconnect that emits a
// P-frame before its next IDR leaves the buffer empty until the IDR
// arrives). Push is the single-writer entry point; it is not safe to
// call Push concurrently from more than one goroutine.
func (b *HotBuffer) Push(f models.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.gops) == 0 && !f.Keyframe {
		return
	}

	if f.Keyframe {
		b.gops = append(b.gops, models.Gop{StartPTS: f.PTSTicks, EndPTS: f.PTSTicks, Frames: []models.Frame{f}})
	} else {
		last := &b.gops[len(b.gops)-1]
		last.Frames = append(last.Frames, f)
		last.EndPTS = f.PTSTicks
	}

	b.evictLocked()
}

// evictLocked drops GOPs from the front of the buffer: normal eviction
// stops at the oldest pinned GOP, forced eviction past HardCapGOPs
// ignores pins and reports the evicted span to the caller's next read.
func (b *HotBuffer) evictLocked() {
	for len(b.gops) > b.cfg.HardCapGOPs {
		g := b.gops[0]
		b.gops = b.gops[1:]
		b.evictedPrefixPTS = g.EndPTS
		b.evicted = true
	}
	for len(b.gops) > b.cfg.MaxGOPs {
		oldest := b.gops[0]
		if protected, floor := b.earliestPinLocked(); protected && oldest.EndPTS <= floor {
			break
		}
		b.gops = b.gops[1:]
		b.evictedPrefixPTS = oldest.EndPTS
		b.evicted = true
	}
}

// earliestPinLocked reports the lowest PTS any outstanding pin still
// needs retained. The bool is false when there are no pins at all, in
// which case nothing is protected from normal eviction.
func (b *HotBuffer) earliestPinLocked() (bool, uint64) {
	if len(b.pins) == 0 {
		return false, 0
	}
	earliest := ^uint64(0)
	for _, p := range b.pins {
		if p.untilPTS < earliest {
			earliest = p.untilPTS
		}
	}
	return true, earliest
}

// RetainUntil pins the buffer so no GOP ending at or before untilPTS is
// evicted by normal (non-forced) eviction, and returns a token to pass
// to Release. It returns camerr.BufferEvicted immediately if untilPTS
// already falls before the buffer's current retention horizon.
func (b *HotBuffer) RetainUntil(untilPTS uint64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted && untilPTS <= b.evictedPrefixPTS {
		return 0, camerr.New(camerr.BufferEvicted, b.cfg.CameraID, "RetainUntil", errEvictedAlready)
	}

	id := b.nextPinID
	b.nextPinID++
	b.pins[id] = pin{untilPTS: untilPTS}
	return id, nil
}

// Release removes a pin previously returned by RetainUntil. It is safe
// to call more than once; subsequent calls are no-ops.
func (b *HotBuffer) Release(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pins, token)
	b.evictLocked()
}

// SnapshotGOPs returns copies of every GOP overlapping [startPTS, endPTS],
// plus an error if the range partially or fully falls before the
// buffer's retention horizon.
func (b *HotBuffer) SnapshotGOPs(startPTS, endPTS uint64) ([]models.Gop, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var err error
	if b.evicted && startPTS <= b.evictedPrefixPTS {
		err = camerr.New(camerr.BufferEvicted, b.cfg.CameraID, "SnapshotGOPs", errEvictedAlready)
	}

	var out []models.Gop
	for _, g := range b.gops {
		if g.EndPTS < startPTS || g.StartPTS > endPTS {
			continue
		}
		out = append(out, cloneGop(g))
	}
	return out, err
}

// LatestLiveWindow returns the most recent n GOPs, for live-edge reads.
func (b *HotBuffer) LatestLiveWindow(n int) []models.Gop {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || len(b.gops) == 0 {
		return nil
	}
	if n > len(b.gops) {
		n = len(b.gops)
	}
	start := len(b.gops) - n
	out := make([]models.Gop, n)
	for i, g := range b.gops[start:] {
		out[i] = cloneGop(g)
	}
	return out
}

// GOPContaining returns the GOP that covers pts, if any is still
// resident in the buffer.
func (b *HotBuffer) GOPContaining(pts uint64) (models.Gop, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, g := range b.gops {
		if pts >= g.StartPTS && pts <= g.EndPTS {
			return cloneGop(g), true
		}
	}
	return models.Gop{}, false
}

// EvictedPrefix returns the PTS up to which the buffer has permanently
// discarded frames, for callers that need to detect BufferEvicted ahead
// of issuing a read.
func (b *HotBuffer) EvictedPrefix() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evictedPrefixPTS
}

func cloneGop(g models.Gop) models.Gop {
	frames := make([]models.Frame, len(g.Frames))
	copy(frames, g.Frames)
	return models.Gop{StartPTS: g.StartPTS, EndPTS: g.EndPTS, Frames: frames}
}

var errEvictedAlready = errEvicted{}

type errEvicted struct{}

func (errEvicted) Error() string { return "requested range precedes the buffer's retention horizon" }
