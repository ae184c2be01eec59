// Package tsdemux parses an MPEG-TS elementary stream into access-unit
// Frames without any knowledge of the codec carried inside: it tracks TS
// packet sync, reassembles PES payloads per PID, extracts presentation
// timestamps, and flags keyframes from the adaptation field. Corrupt
// packets are dropped and counted rather than treated as fatal.
package tsdemux

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"

	"github.com/camon/camon/internal/camerr"
	"github.com/camon/camon/internal/models"
)

const (
	packetSize = 188
	syncByte   = 0x47

	// ptsMaxTicks is the modulus of the MPEG-TS 33-bit PTS field.
	ptsMaxTicks = uint64(1) << 33
	// rolloverThreshold guards against treating ordinary jitter as a
	// rollover: only a backward jump larger than half the PTS space is
	// treated as the clock having wrapped.
	rolloverThreshold = ptsMaxTicks / 2
)

// Stats are cumulative telemetry counters for one Demuxer instance.
type Stats struct {
	PacketsRead    uint64
	ResyncCount    uint64
	CorruptDropped uint64
	FramesEmitted  uint64
}

// Config configures a Demuxer.
type Config struct {
	// PID restricts reassembly to one elementary stream PID. Camon feeds
	// each camera's decoder output through a single video PID, so camon
	// never needs to demultiplex more than one program.
	PID uint16
	Log *slog.Logger
}

// FrameFunc receives each reassembled access unit in stream order.
type FrameFunc func(models.Frame)

// Demuxer consumes a byte stream of 188-byte MPEG-TS packets and emits
// Frames as it reassembles them.
type Demuxer struct {
	cfg Config
	log *slog.Logger

	stats Stats

	pesBuf       []byte
	pesTSPackets []byte
	pesPTS       uint64
	pesKeyframe  bool
	havePES      bool

	lastCC int // continuity_counter, -1 until first packet

	havePTSBase bool
	ptsEpoch    uint64
	lastRawPTS  uint64
}

// New creates a Demuxer for the given config.
func New(cfg Config) *Demuxer {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Demuxer{cfg: cfg, log: cfg.Log, lastCC: -1}
}

// Stats returns a snapshot of the demuxer's cumulative counters.
func (d *Demuxer) Stats() Stats { return d.stats }

// Run reads packets from r until r returns io.EOF or another error,
// calling emit for every completed Frame. It never returns a fatal error
// for malformed packets; it only returns when r itself errors or EOF.
func (d *Demuxer) Run(r io.Reader, emit FrameFunc) error {
	buf := make([]byte, packetSize)
	for {
		if err := d.readPacket(r, buf, emit); err != nil {
			if errors.Is(err, io.EOF) {
				d.flushPES(emit)
				return nil
			}
			return err
		}
	}
}

// readPacket reads and processes the next logical TS packet, resyncing
// the stream first if the expected sync byte is missing. Resync requires
// 3 consecutive sync bytes spaced exactly packetSize apart before it
// trusts the new alignment; once confirmed, all 3 packets are processed
// through handlePacket in stream order.
func (d *Demuxer) readPacket(r io.Reader, buf []byte, emit FrameFunc) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if buf[0] == syncByte {
		d.stats.PacketsRead++
		d.handlePacket(buf, emit)
		return nil
	}

	d.stats.ResyncCount++
	d.log.Warn("ts sync lost, resyncing")

	// Scan byte-by-byte for a sync byte, then verify two more occur at
	// the expected packet-size spacing before trusting it.
	window := make([]byte, 1)
	candidate := buf[0]
	for {
		if candidate == syncByte {
			packets, err := d.confirmResync(r, candidate)
			if err != nil {
				return err
			}
			if packets != nil {
				for _, p := range packets {
					d.stats.PacketsRead++
					d.handlePacket(p, emit)
				}
				return nil
			}
		}
		if _, err := io.ReadFull(r, window); err != nil {
			return err
		}
		candidate = window[0]
	}
}

// confirmResync verifies that, starting from a candidate sync byte
// already consumed from r, two further sync bytes appear at exactly
// packetSize spacing. On success it returns all 3 packets in stream
// order; on failure it returns nil, nil so the caller keeps scanning.
func (d *Demuxer) confirmResync(r io.Reader, first byte) ([][]byte, error) {
	rest := make([]byte, packetSize-1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	packet := append([]byte{first}, rest...)

	second := make([]byte, packetSize)
	if _, err := io.ReadFull(r, second); err != nil {
		return nil, err
	}
	if second[0] != syncByte {
		return nil, nil
	}

	third := make([]byte, packetSize)
	if _, err := io.ReadFull(r, third); err != nil {
		return nil, err
	}
	if third[0] != syncByte {
		return nil, nil
	}

	return [][]byte{packet, second, third}, nil
}

func (d *Demuxer) handlePacket(pkt []byte, emit FrameFunc) {
	if len(pkt) != packetSize || pkt[0] != syncByte {
		d.stats.CorruptDropped++
		return
	}

	transportError := pkt[1]&0x80 != 0
	if transportError {
		d.stats.CorruptDropped++
		return
	}

	pusi := pkt[1]&0x40 != 0
	pid := uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
	adaptationFieldControl := (pkt[3] >> 4) & 0x3
	cc := int(pkt[3] & 0x0F)

	if d.cfg.PID != 0 && pid != d.cfg.PID {
		return
	}

	if d.lastCC >= 0 && adaptationFieldControl&0x1 != 0 {
		expected := (d.lastCC + 1) & 0xF
		if cc != expected && cc != d.lastCC {
			// Discontinuity: packets were lost. Not fatal, just counted;
			// reassembly for the in-flight PES is abandoned since its
			// payload is now incomplete.
			d.stats.CorruptDropped++
			d.havePES = false
		}
	}
	d.lastCC = cc

	payloadStart := 4
	keyframeHere := false
	if adaptationFieldControl == 0x2 || adaptationFieldControl == 0x3 {
		if len(pkt) < 5 {
			d.stats.CorruptDropped++
			return
		}
		afLen := int(pkt[4])
		if 5+afLen > packetSize {
			d.stats.CorruptDropped++
			return
		}
		if afLen > 0 {
			flags := pkt[5]
			keyframeHere = flags&0x40 != 0 // random_access_indicator
		}
		payloadStart = 5 + afLen
	}
	if adaptationFieldControl == 0x2 {
		// Adaptation field only, no payload.
		return
	}
	if payloadStart > packetSize {
		d.stats.CorruptDropped++
		return
	}
	payload := pkt[payloadStart:]

	if pusi {
		d.flushPES(emit)
		pts, ok, rest, hdrErr := parsePESHeader(payload)
		if hdrErr != nil {
			d.stats.CorruptDropped++
			d.havePES = false
			return
		}
		d.havePES = true
		d.pesKeyframe = keyframeHere
		d.pesBuf = append(d.pesBuf[:0], rest...)
		d.pesTSPackets = append([]byte(nil), pkt...)
		if ok {
			d.pesPTS = d.extendPTS(pts)
		}
		return
	}

	if !d.havePES {
		return
	}
	d.pesBuf = append(d.pesBuf, payload...)
	d.pesTSPackets = append(d.pesTSPackets, pkt...)
	if keyframeHere {
		d.pesKeyframe = true
	}
}

// flushPES emits the in-flight PES payload as a completed Frame.
func (d *Demuxer) flushPES(emit FrameFunc) {
	if !d.havePES || emit == nil {
		d.havePES = false
		return
	}
	f := models.Frame{
		PTSTicks:  d.pesPTS,
		Keyframe:  d.pesKeyframe,
		Payload:   d.pesBuf,
		TSPackets: d.pesTSPackets,
	}
	d.stats.FramesEmitted++
	emit(f)
	d.havePES = false
	d.pesBuf = nil
	d.pesTSPackets = nil
}

// extendPTS takes a raw 33-bit PTS value and returns a monotonically
// increasing 64-bit tick count, adding one PTS epoch (2^33 ticks) every
// time the raw value wraps around.
func (d *Demuxer) extendPTS(raw uint64) uint64 {
	if !d.havePTSBase {
		d.havePTSBase = true
		d.lastRawPTS = raw
		return raw
	}
	if d.lastRawPTS > raw && d.lastRawPTS-raw > rolloverThreshold {
		d.ptsEpoch += ptsMaxTicks
	}
	d.lastRawPTS = raw
	return d.ptsEpoch + raw
}

// parsePESHeader parses the start of a PES packet payload (the bytes
// following the TS adaptation field), returning the 33-bit PTS if
// present and the remaining elementary stream bytes.
func parsePESHeader(b []byte) (pts uint64, hasPTS bool, rest []byte, err error) {
	if len(b) < 9 {
		return 0, false, nil, errPESTooShort
	}
	if b[0] != 0x00 || b[1] != 0x00 || b[2] != 0x01 {
		return 0, false, nil, errPESBadStartCode
	}
	ptsDTSFlags := (b[7] >> 6) & 0x3
	headerLen := int(b[8])
	if 9+headerLen > len(b) {
		return 0, false, nil, errPESTooShort
	}
	if ptsDTSFlags&0x2 != 0 && headerLen >= 5 {
		ptsBytes := b[9 : 9+5]
		pts = decodePTSField(ptsBytes)
		hasPTS = true
	}
	rest = b[9+headerLen:]
	return pts, hasPTS, rest, nil
}

// decodePTSField decodes the 5-byte, 33-bit PTS encoding used in a PES
// optional header: 4 bits marker, 3 bits PTS[32..30], 1 marker bit, 15
// bits PTS[29..15], 1 marker bit, 15 bits PTS[14..0], 1 marker bit.
func decodePTSField(b []byte) uint64 {
	v := binary.BigEndian.Uint64(append([]byte{0, 0, 0}, b...))
	high := (v >> 33) & 0x7
	mid := (v >> 17) & 0x7FFF
	low := (v >> 1) & 0x7FFF
	return high<<30 | mid<<15 | low
}

var (
	errPESTooShort     = errors.New("pes header truncated")
	errPESBadStartCode = errors.New("pes start code mismatch")
)

// WrapStreamCorrupt wraps err as a camerr StreamCorrupt for the given
// camera, for callers that need to surface demuxer issues upward.
func WrapStreamCorrupt(camera string, err error) error {
	return camerr.New(camerr.StreamCorrupt, camera, "tsdemux", err)
}
