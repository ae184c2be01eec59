package analytics

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/camon/camon/internal/camerr"
	"github.com/camon/camon/internal/metrics"
	"github.com/camon/camon/internal/models"

	"github.com/google/uuid"
)

// Config tunes one camera's Sampler.
type Config struct {
	CameraID string

	SampleFPS     float64
	MinSampleFPS  float64
	WindowSamples int // [30,300]
	Percentile    float64
	MinArea       int

	DOpen  time.Duration
	DClose time.Duration

	BBoxPadding int
	FrameWidth  int
	FrameHeight int

	// DetectionCadence is the minimum spacing between object-detection
	// calls while a MotionEvent stays open.
	DetectionCadence time.Duration
	MinConfidence    float64
	AllowedClasses   map[string]bool // empty/nil means allow all

	Zone ZoneMask
}

// LatestFrameFunc returns the most recently decoded sample source frame,
// or ok=false if none is available yet.
type LatestFrameFunc func() (models.Frame, bool)

// EventSink receives lifecycle callbacks for motion events and
// detections as they occur, so the Warm Flusher can subscribe.
type EventSink interface {
	MotionOpened(models.MotionEvent)
	MotionClosed(models.MotionEvent)
	DetectionMade(models.Detection)
}

// Sampler runs the fixed-cadence motion/detection pipeline for one
// camera.
type Sampler struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Registry

	decoder  Decoder
	bgsub    BackgroundSubtractor
	detector ObjectDetector
	encoder  MaskEncoder
	sink     EventSink
	now      Clock

	threshold *AdaptiveThreshold
	tracker   *MotionTracker
	rate      *RateController

	lastDetectionAt time.Time
}

// NewSampler builds a Sampler. Any of decoder/bgsub/detector/encoder may
// be nil; a nil detector simply disables object detection, a nil
// encoder disables thumbnail capture, a nil decoder/bgsub makes Run a
// no-op, useful for driving the lifecycle logic in tests without a real
// vision stack.
func NewSampler(cfg Config, log *slog.Logger, reg *metrics.Registry, decoder Decoder, bgsub BackgroundSubtractor, detector ObjectDetector, encoder MaskEncoder, sink EventSink) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		cfg:       cfg,
		log:       log.With(slog.String("component", "analytics"), slog.String("camera_id", cfg.CameraID)),
		metrics:   reg,
		decoder:   decoder,
		bgsub:     bgsub,
		detector:  detector,
		encoder:   encoder,
		sink:      sink,
		now:       time.Now,
		threshold: NewAdaptiveThreshold(cfg.WindowSamples, cfg.Percentile, cfg.MinArea),
		tracker:   NewMotionTracker(cfg.DOpen, cfg.DClose),
		rate:      NewRateController(cfg.SampleFPS, cfg.MinSampleFPS),
	}
}

// Run samples latestFrame at the controller's current rate until ctx is
// canceled, updating the rate after every sample based on observed
// latency.
func (s *Sampler) Run(ctx context.Context, latestFrame LatestFrameFunc) error {
	for {
		interval := time.Duration(float64(time.Second) / s.rate.CurrentFPS())
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		start := s.now()
		if f, ok := latestFrame(); ok {
			s.processSample(f)
		}
		changed := s.rate.Observe(s.now().Sub(start))
		if changed {
			if s.metrics != nil {
				s.metrics.SampleRateHz.WithLabelValues(s.cfg.CameraID).Set(s.rate.CurrentFPS())
			}
			s.log.Info("sample rate changed", slog.Float64("fps", s.rate.CurrentFPS()))
		}
	}
}

func (s *Sampler) processSample(f models.Frame) {
	if s.decoder == nil || s.bgsub == nil {
		return
	}
	img, err := s.decoder.Decode(f)
	if err != nil {
		s.log.Warn("frame decode failed", slog.String("error", err.Error()))
		return
	}
	fg, err := s.bgsub.Apply(img)
	if err != nil {
		s.log.Warn("background subtraction failed", slog.String("error", err.Error()))
		return
	}

	area := s.weightedArea(fg)
	threshold := s.threshold.Observe(area)
	motionDetected := area > threshold

	now := s.now()
	opened, closed := s.tracker.Sample(now, motionDetected, f.PTSTicks, fg.BoundingBox)

	if opened != nil {
		opened.ID = uuid.NewString()
		opened.CameraID = s.cfg.CameraID
		if s.sink != nil {
			s.sink.MotionOpened(*opened)
		}
	}

	if active := s.tracker.Active(); active != nil {
		s.maybeDetect(img, *active, f.PTSTicks, now)
	}

	if closed != nil {
		if s.encoder != nil {
			if jpeg, err := s.encoder.EncodeJPEG(fg.Mask); err == nil {
				closed.MaskThumbnailJPEG = jpeg
			} else {
				s.log.Warn("mask thumbnail encode failed", slog.String("error", err.Error()))
			}
		}
		if s.metrics != nil {
			s.metrics.MotionEvents.WithLabelValues(s.cfg.CameraID).Inc()
		}
		if s.sink != nil {
			s.sink.MotionClosed(*closed)
		}
	}
}

func (s *Sampler) weightedArea(fg ForegroundMask) int {
	if s.cfg.Zone == nil {
		return fg.Area
	}
	// A zone mask scales sensitivity rather than recomputing pixel-level
	// area (the caller already rasterized the mask); camon approximates
	// the zone's effect by weighting the reported area by the average
	// sensitivity over the foreground bounding box.
	box := fg.BoundingBox
	if box.W == 0 || box.H == 0 {
		return fg.Area
	}
	var sum float64
	var n int
	step := 4
	for y := box.Y; y < box.Y+box.H; y += step {
		for x := box.X; x < box.X+box.W; x += step {
			sum += s.cfg.Zone.SensitivityAt(x, y)
			n++
		}
	}
	if n == 0 {
		return fg.Area
	}
	avg := sum / float64(n)
	return int(float64(fg.Area) * avg)
}

func (s *Sampler) maybeDetect(img image.Image, event models.MotionEvent, pts uint64, now time.Time) {
	if s.detector == nil {
		return
	}
	if !s.lastDetectionAt.IsZero() && now.Sub(s.lastDetectionAt) < s.cfg.DetectionCadence {
		return
	}
	s.lastDetectionAt = now

	box := PadAndClamp(event.BoundingBox, s.cfg.BBoxPadding, s.cfg.FrameWidth, s.cfg.FrameHeight)
	if box.W <= 0 || box.H <= 0 {
		return
	}
	cropped := CropBox(img, box)

	detections, err := s.detector.Detect(cropped, box)
	if err != nil {
		s.log.Warn("object detection failed", slog.String("error", err.Error()))
		return
	}

	var thumbnail []byte
	var thumbnailEncoded bool

	for _, d := range detections {
		if d.Confidence < s.cfg.MinConfidence {
			continue
		}
		if len(s.cfg.AllowedClasses) > 0 && !s.cfg.AllowedClasses[d.Class] {
			continue
		}
		if s.encoder != nil && !thumbnailEncoded {
			thumbnailEncoded = true
			if jpeg, err := s.encoder.EncodeJPEG(img); err == nil {
				thumbnail = jpeg
			} else {
				s.log.Warn("detection thumbnail encode failed", slog.String("error", err.Error()))
			}
		}
		d.ID = uuid.NewString()
		d.CameraID = s.cfg.CameraID
		d.EventID = event.ID
		d.PTS = pts
		d.At = now
		d.ThumbnailJPEG = thumbnail
		if s.sink != nil {
			s.sink.DetectionMade(d)
		}
	}
}

// WrapInferenceFailed wraps a detector error for upward reporting.
func WrapInferenceFailed(camera string, err error) error {
	return camerr.New(camerr.InferenceFailed, camera, "analytics.detect", err)
}
