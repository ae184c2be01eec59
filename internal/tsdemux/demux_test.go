package tsdemux

import (
	"bytes"
	"testing"

	"github.com/camon/camon/internal/models"
	"github.com/stretchr/testify/require"
)

// buildPacket constructs one 188-byte TS packet for the given PID,
// continuity counter, and payload, optionally starting a PES unit with a
// keyframe adaptation field and a 90kHz PTS value.
func buildPacket(pid uint16, cc int, pusi bool, keyframe bool, pts uint64, hasPTS bool, esData []byte) []byte {
	pkt := make([]byte, packetSize)
	pkt[0] = syncByte
	flags := byte(0)
	if pusi {
		flags |= 0x40
	}
	pkt[1] = flags | byte(pid>>8)
	pkt[2] = byte(pid)

	afc := byte(0x1) // payload only by default
	headerEnd := 4
	if keyframe {
		afc = 0x3
		pkt[4] = 1    // adaptation_field_length
		pkt[5] = 0x40 // random_access_indicator
		headerEnd = 6
	}
	pkt[3] = afc<<4 | byte(cc&0xF)

	payload := headerEnd
	if pusi {
		pkt[payload] = 0x00
		pkt[payload+1] = 0x00
		pkt[payload+2] = 0x01
		pkt[payload+3] = 0xE0 // video stream id
		ptsDTS := byte(0)
		headerLen := byte(0)
		if hasPTS {
			ptsDTS = 0x2 << 6
			headerLen = 5
		}
		pkt[payload+6] = ptsDTS
		pkt[payload+8] = headerLen
		n := payload + 9
		if hasPTS {
			encodePTSField(pkt[n:n+5], pts)
			n += 5
		}
		n += copy(pkt[n:], esData)
		return pkt
	}
	copy(pkt[payload:], esData)
	return pkt
}

func encodePTSField(b []byte, pts uint64) {
	high := byte((pts>>30)&0x7)<<1 | 0x1
	mid := uint16((pts>>15)&0x7FFF)<<1 | 1
	low := uint16(pts&0x7FFF)<<1 | 1
	b[0] = 0x20 | high
	b[1] = byte(mid >> 8)
	b[2] = byte(mid)
	b[3] = byte(low >> 8)
	b[4] = byte(low)
}

func TestDemuxer_BasicFrameAssembly(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(buildPacket(256, 0, true, true, 90000, true, []byte("keyframe-data")))
	stream.Write(buildPacket(256, 1, true, false, 93000, true, []byte("pframe-data")))

	d := New(Config{PID: 256})
	var frames []models.Frame
	err := d.Run(&stream, func(f models.Frame) { frames = append(frames, f) })
	require.NoError(t, err)
	require.Len(t, frames, 2) // each packet starts its own PES; EOF flushes the trailing one
	require.True(t, frames[0].Keyframe)
	require.Equal(t, uint64(90000), frames[0].PTSTicks)
	require.False(t, frames[1].Keyframe)
	require.Equal(t, uint64(93000), frames[1].PTSTicks)
}

func TestDemuxer_FlushesOnFinalPacket(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(buildPacket(256, 0, true, true, 90000, true, []byte("a")))
	stream.Write(buildPacket(256, 1, true, false, 93000, true, []byte("b")))
	stream.Write(buildPacket(256, 2, true, false, 96000, true, []byte("c")))

	d := New(Config{PID: 256})
	var frames []models.Frame
	err := d.Run(&stream, func(f models.Frame) { frames = append(frames, f) })
	require.NoError(t, err)
	require.Len(t, frames, 3) // the final PES is flushed at EOF too, not just on the next PUSI
	require.Equal(t, uint64(93000), frames[1].PTSTicks)
	require.Equal(t, uint64(96000), frames[2].PTSTicks)
}

func TestDemuxer_PTSRollover(t *testing.T) {
	d := New(Config{})
	const near33 = (uint64(1) << 33) - 90
	first := d.extendPTS(near33)
	require.Equal(t, near33, first)
	// Next PTS wraps past zero.
	second := d.extendPTS(90)
	require.Equal(t, near33+180, second)
}

func TestDemuxer_CorruptPacketDropped(t *testing.T) {
	pkt := buildPacket(256, 0, true, false, 0, false, []byte("x"))
	pkt[1] |= 0x80 // transport_error_indicator

	var stream bytes.Buffer
	stream.Write(pkt)
	d := New(Config{PID: 256})
	var frames []models.Frame
	err := d.Run(&stream, func(f models.Frame) { frames = append(frames, f) })
	require.NoError(t, err)
	require.Empty(t, frames)
	require.Equal(t, uint64(1), d.Stats().CorruptDropped)
}

func TestDemuxer_ResyncAfterGarbage(t *testing.T) {
	// The leading garbage byte shifts the first packet out of alignment,
	// so it is unrecoverable; 3 more packets are needed after it so the
	// demuxer can confirm 3 consecutive sync points before trusting the
	// new alignment again.
	var stream bytes.Buffer
	stream.WriteByte(0x00) // garbage byte before the first valid sync
	stream.Write(buildPacket(256, 0, true, true, 90000, true, []byte("lost")))
	stream.Write(buildPacket(256, 1, true, true, 93000, true, []byte("a")))
	stream.Write(buildPacket(256, 2, true, false, 96000, true, []byte("b")))
	stream.Write(buildPacket(256, 3, true, false, 99000, true, []byte("c")))

	d := New(Config{PID: 256})
	var frames []models.Frame
	err := d.Run(&stream, func(f models.Frame) { frames = append(frames, f) })
	require.NoError(t, err)
	require.GreaterOrEqual(t, d.Stats().ResyncCount, uint64(1))
	require.Len(t, frames, 3) // "a", "b", and "c" (flushed at EOF)
	require.Equal(t, uint64(93000), frames[0].PTSTicks)
	require.Equal(t, uint64(99000), frames[2].PTSTicks)
}

func TestDecodePTSField_RoundTrip(t *testing.T) {
	want := uint64(1234567890) & ((1 << 33) - 1)
	b := make([]byte, 5)
	encodePTSField(b, want)
	got := decodePTSField(b)
	require.Equal(t, want, got)
}
