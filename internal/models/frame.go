// Package models defines the shared data types that flow through camon's
// per-camera pipeline: frames, GOPs, motion events, detections, and the
// warm-tier index entries that describe them on disk.
package models

// Frame is a single access unit extracted from the MPEG-TS stream: the
// raw TS packets belonging to one PES payload, tagged with its
// presentation timestamp and keyframe status. The payload is opaque
// below the container layer; camon never parses H.264 NAL units.
type Frame struct {
	// PTSTicks is the 90kHz presentation timestamp, extended to 64 bits
	// so it never wraps across the stream's lifetime.
	PTSTicks uint64
	// Keyframe is true when the adaptation field's random_access_indicator
	// was set on any of the TS packets this frame was assembled from.
	Keyframe bool
	// Payload is the raw, reassembled PES payload bytes.
	Payload []byte
	// TSPackets is the exact sequence of 188-byte TS packets this frame
	// was assembled from, kept so warm segments can be written byte-exact.
	TSPackets []byte
}

// PTSNanos converts a 90kHz PTS tick count to nanoseconds.
func PTSNanos(ticks uint64) int64 {
	return int64(ticks) * 100000 / 9
}

// PTSFromNanos converts nanoseconds back to a 90kHz PTS tick count, the
// inverse of PTSNanos. Used to recover a warm segment's start PTS from
// its on-disk filename. It rounds up, so PTSFromNanos(PTSNanos(t)) == t
// even though PTSNanos truncates.
func PTSFromNanos(ns int64) uint64 {
	return (uint64(ns)*9 + 99999) / 100000
}

// Gop is a group of pictures: one keyframe Frame followed by the
// predicted frames up to (not including) the next keyframe.
type Gop struct {
	// StartPTS is the PTS of the GOP's keyframe.
	StartPTS uint64
	// EndPTS is the PTS of the last frame in the GOP (inclusive).
	EndPTS uint64
	Frames []Frame
}

// Bytes concatenates the GOP's frames into one byte-exact TS payload,
// suitable for writing straight to a warm segment file.
func (g Gop) Bytes() []byte {
	n := 0
	for _, f := range g.Frames {
		n += len(f.TSPackets)
	}
	out := make([]byte, 0, n)
	for _, f := range g.Frames {
		out = append(out, f.TSPackets...)
	}
	return out
}
