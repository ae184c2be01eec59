// Package reader implements the Tiered Reader: it serves a byte range
// for (camera_id, pts_start, pts_end) by stitching together warm-tier
// files and the hot buffer's live window, surfacing an explicit Gap
// marker wherever footage is missing rather than silently truncating.
package reader

import (
	"context"
	"io"
	"os"

	"github.com/camon/camon/internal/camerr"
	"github.com/camon/camon/internal/models"
	"github.com/camon/camon/internal/warm"
)

// HotBuffer is the subset of buffer.HotBuffer the reader needs.
type HotBuffer interface {
	SnapshotGOPs(startPTS, endPTS uint64) ([]models.Gop, error)
	RetainUntil(untilPTS uint64) (int, error)
	Release(token int)
	EvictedPrefix() uint64
}

// Chunk is one piece of a tiered read: either real bytes from a tier,
// or a Gap marking an interval with no available footage.
type Chunk struct {
	Bytes []byte
	Gap   *models.Gap
}

// Reader serves tiered byte ranges for one camera.
type Reader struct {
	cameraID string
	hot      HotBuffer
	index    *warm.TierIndex
}

// New creates a Reader over hot and index for one camera.
func New(cameraID string, hot HotBuffer, index *warm.TierIndex) *Reader {
	return &Reader{cameraID: cameraID, hot: hot, index: index}
}

// Read returns the ordered chunks covering [ptsStart, ptsEnd]: warm
// segments first, then the hot tail, with an explicit Gap wherever no
// tier covers part of the range. ctx governs warm-file I/O only; it
// does not hold any hot-buffer pin longer than the read of one segment.
func (r *Reader) Read(ctx context.Context, ptsStart, ptsEnd uint64) ([]Chunk, error) {
	var chunks []Chunk
	cursor := ptsStart

	for _, seg := range r.index.Overlapping(r.cameraID, ptsStart, ptsEnd) {
		lo := maxU64(seg.StartPTS, ptsStart)
		if lo > cursor {
			chunks = append(chunks, Chunk{Gap: &models.Gap{PTSStart: cursor, PTSEnd: lo}})
		}

		data, err := r.readSegmentRange(ctx, seg)
		if err != nil {
			return nil, camerr.New(camerr.NotFound, r.cameraID, "reader.read_segment", err)
		}
		chunks = append(chunks, Chunk{Bytes: data})

		hi := minU64(seg.EndPTS, ptsEnd)
		if hi > cursor {
			cursor = hi
		}
	}

	if cursor < ptsEnd {
		hotChunks, newCursor, err := r.readHotTail(cursor, ptsEnd)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, hotChunks...)
		cursor = newCursor
	}

	if cursor < ptsEnd {
		chunks = append(chunks, Chunk{Gap: &models.Gap{PTSStart: cursor, PTSEnd: ptsEnd}})
	}

	return chunks, nil
}

// readSegmentRange reads a warm segment's file in full. Warm segments
// are GOP-aligned, whole files, so there is no sub-file trimming to do
// beyond what TierIndex.Overlapping already guarantees: a segment only
// appears in the result if its own range overlaps the request.
func (r *Reader) readSegmentRange(ctx context.Context, seg models.WarmSegment) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(seg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// readHotTail pulls whatever of [from, to] is still resident in the
// hot buffer, pinning it only for the duration of the snapshot. If the
// hot buffer has already evicted part of the requested range, the
// returned cursor reflects only what was actually retrieved and the
// caller surfaces the remainder as a Gap. When the first resident GOP
// starts after from, a Gap chunk for [from, that GOP's start] precedes
// the hot bytes.
func (r *Reader) readHotTail(from, to uint64) ([]Chunk, uint64, error) {
	start := from
	if evicted := r.hot.EvictedPrefix(); evicted > from {
		start = evicted + 1
		if start > to {
			return nil, from, nil
		}
	}

	token, err := r.hot.RetainUntil(to)
	if err != nil {
		return nil, from, nil
	}
	defer r.hot.Release(token)

	gops, err := r.hot.SnapshotGOPs(start, to)
	if err != nil {
		return nil, from, nil
	}
	if len(gops) == 0 {
		return nil, from, nil
	}

	var chunks []Chunk
	if gops[0].StartPTS > from {
		chunks = append(chunks, Chunk{Gap: &models.Gap{PTSStart: from, PTSEnd: gops[0].StartPTS}})
	}
	var payload []byte
	for _, g := range gops {
		payload = append(payload, g.Bytes()...)
	}
	return append(chunks, Chunk{Bytes: payload}), gops[len(gops)-1].EndPTS, nil
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
