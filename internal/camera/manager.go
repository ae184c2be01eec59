// Package camera wires one camera's full pipeline together: Source
// Runner feeds the TS Demuxer, the Demuxer feeds the Hot Buffer, and
// the Analytics sampler and Warm Flusher both observe the buffer.
// Everything for one camera is fully independent of every other.
package camera

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/camon/camon/internal/analytics"
	"github.com/camon/camon/internal/buffer"
	"github.com/camon/camon/internal/events"
	"github.com/camon/camon/internal/metrics"
	"github.com/camon/camon/internal/models"
	"github.com/camon/camon/internal/reader"
	"github.com/camon/camon/internal/source"
	"github.com/camon/camon/internal/tsdemux"
	"github.com/camon/camon/internal/warm"
)

// Config assembles everything one camera's Manager needs.
type Config struct {
	CameraID string

	Source    source.Config
	Buffer    buffer.Config
	Analytics *analytics.Config   // nil disables analytics for this camera
	Flusher   *warm.Config        // nil disables the warm tier for this camera
	Sweeper   *warm.SweeperConfig // nil disables retention sweeping for this camera

	// Decoder/BackgroundSubtractor/ObjectDetector/MaskEncoder are the
	// pluggable vision components Analytics drives; any may be nil (see
	// analytics.NewSampler for the resulting degraded behavior).
	Decoder              analytics.Decoder
	BackgroundSubtractor analytics.BackgroundSubtractor
	ObjectDetector       analytics.ObjectDetector
	MaskEncoder          analytics.MaskEncoder

	// MaxRetainedEvents bounds the events Store's resident window; 0
	// uses its default.
	MaxRetainedEvents int
}

// Manager supervises a single camera's pipeline goroutines and exposes
// the shared Hot Buffer and TierIndex to HTTP/reader consumers.
type Manager struct {
	cfg Config
	log *slog.Logger

	hot    *buffer.HotBuffer
	demux  *tsdemux.Demuxer
	runner *source.Runner
	index  *warm.TierIndex

	sampler *analytics.Sampler
	flusher *warm.Flusher
	sweeper *warm.Sweeper
	events  *events.Store

	reader *reader.Reader
}

// multiSink fans an analytics.EventSink callback out to every non-nil
// sink it wraps, so the Warm Flusher and the events Store can both
// observe the same MotionEvent/Detection lifecycle independently.
type multiSink []analytics.EventSink

func (m multiSink) MotionOpened(ev models.MotionEvent) {
	for _, s := range m {
		if s != nil {
			s.MotionOpened(ev)
		}
	}
}

func (m multiSink) MotionClosed(ev models.MotionEvent) {
	for _, s := range m {
		if s != nil {
			s.MotionClosed(ev)
		}
	}
}

func (m multiSink) DetectionMade(d models.Detection) {
	for _, s := range m {
		if s != nil {
			s.DetectionMade(d)
		}
	}
}

// New builds a Manager; the pipeline does not start until Run is called.
func New(cfg Config, reg *metrics.Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("camera_id", cfg.CameraID))

	hot := buffer.New(cfg.Buffer)
	demux := tsdemux.New(tsdemux.Config{Log: log})
	runner := source.New(cfg.Source, log)

	var index *warm.TierIndex
	if cfg.Flusher != nil {
		index = warm.RebuildCamera(cfg.Flusher.DataDir, cfg.CameraID, log)
	} else {
		index = warm.NewTierIndex()
	}

	m := &Manager{cfg: cfg, log: log, hot: hot, demux: demux, runner: runner, index: index}
	m.events = events.NewStore(cfg.CameraID, cfg.MaxRetainedEvents)

	sink := multiSink{m.events}
	if cfg.Flusher != nil {
		m.flusher = warm.NewFlusher(*cfg.Flusher, hot, index, log, reg)
		sink = append(sink, m.flusher)
	}
	if cfg.Analytics != nil {
		acfg := *cfg.Analytics
		acfg.CameraID = cfg.CameraID
		m.sampler = analytics.NewSampler(acfg, log, reg, cfg.Decoder, cfg.BackgroundSubtractor, cfg.ObjectDetector, cfg.MaskEncoder, sink)
	}
	if cfg.Sweeper != nil {
		scfg := *cfg.Sweeper
		scfg.CameraID = cfg.CameraID
		m.sweeper = warm.NewSweeper(scfg, index, log)
	}

	m.reader = reader.New(cfg.CameraID, hot, index)

	return m
}

// HotBuffer exposes the camera's Hot Buffer directly, for callers that
// need the live GOP window (e.g. HLS live delivery) rather than a
// tiered historical read.
func (m *Manager) HotBuffer() *buffer.HotBuffer { return m.hot }

// TierIndex exposes the camera's warm-tier index, for callers that need
// to enumerate warm segments directly (e.g. listing recorded events).
func (m *Manager) TierIndex() *warm.TierIndex { return m.index }

// Reader returns the Tiered Reader serving historical reads that span
// both the warm and hot tiers for this camera.
func (m *Manager) Reader() *reader.Reader { return m.reader }

// Events returns the camera's durable MotionEvent/Detection store,
// backing list_events/get_motion_mask/get_detection_frame.
func (m *Manager) Events() *events.Store { return m.events }

// Health is a point-in-time snapshot of the camera's pipeline state.
type Health struct {
	CameraID    string
	SourceStats source.Stats
	FramesTotal uint64
	ResyncCount uint64
}

// Health reports the current pipeline health for this camera.
func (m *Manager) Health() Health {
	st := m.demux.Stats()
	return Health{
		CameraID:    m.cfg.CameraID,
		SourceStats: m.runner.Stats(),
		FramesTotal: st.FramesEmitted,
		ResyncCount: st.ResyncCount,
	}
}

// Run starts the pipeline and blocks until ctx is cancelled or an
// unrecoverable error occurs. On the way out every goroutine sees the
// shared errgroup context cancelled at once and Run waits for all of
// them; stages are not stopped in any particular order.
func (m *Manager) Run(ctx context.Context) error {
	if m.sweeper != nil {
		if err := m.sweeper.Start(); err != nil {
			return err
		}
		defer m.sweeper.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	pr, pw := io.Pipe()
	frameCh := make(chan models.Frame, 256)

	g.Go(func() error {
		defer pw.Close()
		return m.runner.Run(gctx, func(chunk []byte) error {
			_, err := pw.Write(chunk)
			return err
		})
	})

	g.Go(func() error {
		defer close(frameCh)
		defer pr.Close()
		err := m.demux.Run(pr, func(f models.Frame) {
			select {
			case frameCh <- f:
			case <-gctx.Done():
			}
		})
		if err != nil && err != io.EOF {
			return err
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case f, ok := <-frameCh:
				if !ok {
					return nil
				}
				m.hot.Push(f)
			}
		}
	})

	if m.sampler != nil {
		g.Go(func() error {
			return m.sampler.Run(gctx, m.latestFrame)
		})
	}

	return g.Wait()
}

// latestFrame hands the Analytics sampler the most recent resident GOP
// so it can decode and subsample without holding a long-lived pin.
func (m *Manager) latestFrame() (models.Frame, bool) {
	gops := m.hot.LatestLiveWindow(1)
	if len(gops) == 0 || len(gops[0].Frames) == 0 {
		return models.Frame{}, false
	}
	last := gops[0].Frames[len(gops[0].Frames)-1]
	return last, true
}
