package warm

import (
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// SweeperConfig tunes the retention sweep for one camera's warm tier.
type SweeperConfig struct {
	CameraID string

	// Schedule is a standard 5-field cron expression; the teacher's job
	// runner polled on a fixed interval, camon instead lets operators
	// pick a cadence per deployment.
	Schedule string

	// MaxAge removes segments older than this, based on WrittenAt.
	MaxAge time.Duration

	// MaxBytes, if non-zero, removes the oldest segments (by StartPTS)
	// once TotalSize exceeds this, regardless of age.
	MaxBytes int64
}

// Sweeper periodically deletes warm segments that have aged out or that
// push a camera's warm tier past its size budget, removing both the
// file and its TierIndex entry.
type Sweeper struct {
	cfg   SweeperConfig
	index *TierIndex
	log   *slog.Logger
	now   func() time.Time

	cron *cron.Cron
}

// NewSweeper creates a Sweeper; call Start to begin running cfg.Schedule.
func NewSweeper(cfg SweeperConfig, index *TierIndex, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		cfg:   cfg,
		index: index,
		log:   log.With(slog.String("component", "warm-sweeper"), slog.String("camera_id", cfg.CameraID)),
		now:   time.Now,
	}
}

// Start schedules the sweep and returns once it has been registered;
// the sweep itself runs in cron's own goroutine until Stop is called.
func (s *Sweeper) Start() error {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.cfg.Schedule, s.Sweep); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the cron schedule, waiting for any in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// Sweep runs one retention pass immediately: age-based eviction first,
// then size-based eviction of whatever remains oldest-first.
func (s *Sweeper) Sweep() {
	s.sweepByAge()
	s.sweepBySize()
}

func (s *Sweeper) sweepByAge() {
	if s.cfg.MaxAge <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.MaxAge)
	for _, seg := range s.index.All(s.cfg.CameraID) {
		if seg.WrittenAt.Before(cutoff) {
			s.remove(seg.ID, seg.Path, "age")
		}
	}
}

func (s *Sweeper) sweepBySize() {
	if s.cfg.MaxBytes <= 0 {
		return
	}
	segs := s.index.All(s.cfg.CameraID)
	total := s.index.TotalSize(s.cfg.CameraID)
	for _, seg := range segs {
		if total <= s.cfg.MaxBytes {
			break
		}
		s.remove(seg.ID, seg.Path, "size")
		total -= seg.SizeBytes
	}
}

func (s *Sweeper) remove(id, path, reason string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Error("failed to remove warm segment", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	s.index.Remove(s.cfg.CameraID, id)
	s.log.Info("swept warm segment", slog.String("path", path), slog.String("reason", reason))
}
