// Package source implements the Source Runner: it spawns an external
// decoder process that reads an RTSP URL and emits MPEG-TS on its
// standard output, and keeps it alive across crashes and read stalls.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camon/camon/internal/camerr"
	"github.com/camon/camon/internal/observability"
	"github.com/shirou/gopsutil/v4/process"
)

const reconnectBackoff = 5 * time.Second

// Config configures one camera's Source Runner.
type Config struct {
	CameraID string
	URL      string

	// DecoderBinary and DecoderArgsTemplate build the child command
	// line. "{url}" in any arg is substituted with URL at spawn time.
	DecoderBinary      string
	DecoderArgsTemplate []string

	// ReadStallTimeout is the maximum time to wait between stdout
	// reads before the child is considered stuck and is killed.
	ReadStallTimeout time.Duration
}

// Stats is a point-in-time snapshot of the running child process.
type Stats struct {
	Running    bool
	PID        int32
	CPUPercent float64
	RSSBytes   uint64
	Restarts   uint64
}

// Runner owns one camera's decoder child process lifecycle.
type Runner struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	running  bool
	pid      int32
	restarts uint64
	cpu      float64
	rss      uint64
}

// New creates a Runner for one camera.
func New(cfg Config, log *slog.Logger) *Runner {
	if cfg.ReadStallTimeout <= 0 {
		cfg.ReadStallTimeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg: cfg,
		log: log.With(slog.String("component", "source"), slog.String("camera_id", cfg.CameraID)),
	}
}

// Stats returns a snapshot of the runner's current state.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Running: r.running, PID: r.pid, CPUPercent: r.cpu, RSSBytes: r.rss, Restarts: r.restarts}
}

// Run spawns the decoder and feeds its stdout bytes to emit, restarting
// on unexpected exit, stall, or an error returned by emit. It never
// returns except when ctx
// is cancelled; every other failure is logged and retried after a
// fixed backoff, per camera, with no shared state across cameras.
func (r *Runner) Run(ctx context.Context, emit func([]byte) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := r.runOnce(ctx, emit); err != nil && !errors.Is(err, context.Canceled) {
			observability.WithError(r.log, err).Warn("decoder exited")
		}

		r.mu.Lock()
		r.running = false
		r.restarts++
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, emit func([]byte) error) error {
	args := make([]string, len(r.cfg.DecoderArgsTemplate))
	for i, a := range r.cfg.DecoderArgsTemplate {
		args[i] = strings.ReplaceAll(a, "{url}", r.cfg.URL)
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(childCtx, r.cfg.DecoderBinary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return camerr.New(camerr.SourceUnavailable, r.cfg.CameraID, "source.stdout_pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return camerr.New(camerr.SourceUnavailable, r.cfg.CameraID, "source.start", err)
	}

	r.mu.Lock()
	r.running = true
	r.pid = int32(cmd.Process.Pid)
	r.mu.Unlock()

	monitorCtx, stopMonitor := context.WithCancel(childCtx)
	defer stopMonitor()
	go r.monitor(monitorCtx)

	var lastRead atomic.Int64
	lastRead.Store(time.Now().UnixNano())

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- r.pump(stdout, emit, &lastRead) }()

	stallTicker := time.NewTicker(r.cfg.ReadStallTimeout / 2)
	defer stallTicker.Stop()

	for {
		select {
		case readErr := <-readErrCh:
			cancel()
			_ = cmd.Wait()
			return readErr
		case <-stallTicker.C:
			since := time.Since(time.Unix(0, lastRead.Load()))
			if since > r.cfg.ReadStallTimeout {
				cancel()
				_ = cmd.Wait()
				return camerr.New(camerr.SourceUnavailable, r.cfg.CameraID, "source.stall", fmt.Errorf("no data for %s", since))
			}
		case <-childCtx.Done():
			_ = cmd.Wait()
			return childCtx.Err()
		}
	}
}

// pump copies stdout in fixed chunks to emit, stamping lastRead on
// every successful read so the caller can detect a stalled child.
func (r *Runner) pump(stdout io.Reader, emit func([]byte) error, lastRead *atomic.Int64) error {
	reader := bufio.NewReaderSize(stdout, 188*64)
	buf := make([]byte, 188*64)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			lastRead.Store(time.Now().UnixNano())
			if emitErr := emit(buf[:n]); emitErr != nil {
				return fmt.Errorf("emit: %w", emitErr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// monitor periodically samples the child's CPU and RSS via gopsutil.
func (r *Runner) monitor(ctx context.Context) {
	r.mu.RLock()
	pid := r.pid
	r.mu.RUnlock()

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpuPct, _ := proc.CPUPercentWithContext(ctx)
			memInfo, err := proc.MemoryInfoWithContext(ctx)
			r.mu.Lock()
			r.cpu = cpuPct
			if err == nil && memInfo != nil {
				r.rss = memInfo.RSS
			}
			r.mu.Unlock()
		}
	}
}
