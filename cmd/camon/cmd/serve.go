package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/camon/camon/internal/analytics"
	"github.com/camon/camon/internal/buffer"
	"github.com/camon/camon/internal/camera"
	"github.com/camon/camon/internal/config"
	"github.com/camon/camon/internal/metrics"
	"github.com/camon/camon/internal/source"
	"github.com/camon/camon/internal/warm"
	"github.com/camon/camon/pkg/duration"
)

// assumedGOPSeconds is the GOP interval used to translate
// buffer.hot_duration_secs into a GOP count for the hot buffer, absent
// any way to know a camera's actual IDR interval ahead of its first
// frame.
const assumedGOPSeconds = 2

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start recording every configured camera",
	Long: `Start camon's recording pipeline.

One Manager is started per [[cameras]] entry, each fully independent:
a stalled or crashed camera never affects any other camera's recording.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if len(cfg.Cameras) == 0 {
		return fmt.Errorf("no cameras configured: add at least one [[cameras]] entry")
	}

	metricsReg := metrics.New()
	cameras := camera.NewRegistry()

	for _, camCfg := range cfg.Cameras {
		mgrCfg := buildManagerConfig(cfg, camCfg)
		cameras.Add(camCfg.ID, camera.New(mgrCfg, metricsReg, logger.With(slog.String("camera_id", camCfg.ID))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	managers := cameras.All()
	g, gctx := errgroup.WithContext(ctx)
	for id, mgr := range managers {
		id, mgr := id, mgr
		g.Go(func() error {
			logger.Info("starting camera pipeline", slog.String("camera_id", id))
			if err := mgr.Run(gctx); err != nil && gctx.Err() == nil {
				logger.Error("camera pipeline exited", slog.String("camera_id", id), slog.String("error", err.Error()))
				return err
			}
			return nil
		})
	}

	logger.Info("camon started", slog.Int("cameras", len(managers)))
	return g.Wait()
}

// buildManagerConfig translates camon's TOML configuration into the
// camera package's wiring config for a single camera.
func buildManagerConfig(cfg *config.Config, camCfg config.CameraConfig) camera.Config {
	decoderBinary := camCfg.DecoderBinary
	if decoderBinary == "" {
		decoderBinary = "ffmpeg"
	}
	decoderArgs := camCfg.DecoderArgs
	if len(decoderArgs) == 0 {
		decoderArgs = []string{
			"-rtsp_transport", "tcp",
			"-i", "{url}",
			"-c", "copy",
			"-f", "mpegts",
			"pipe:1",
		}
	}

	mgrCfg := camera.Config{
		CameraID: camCfg.ID,
		Source: source.Config{
			CameraID:            camCfg.ID,
			URL:                 camCfg.URL,
			DecoderBinary:       decoderBinary,
			DecoderArgsTemplate: decoderArgs,
			ReadStallTimeout:    15 * time.Second,
		},
		Buffer: buffer.Config{
			CameraID: camCfg.ID,
			MaxGOPs:  cfg.Buffer.HotDurationSecs / assumedGOPSeconds,
		},
	}

	if cfg.Analytics.Enabled {
		acfg := &analytics.Config{
			SampleFPS:     cfg.Analytics.SampleFPS,
			MinSampleFPS:  cfg.Analytics.MinSampleFPS,
			WindowSamples: cfg.Analytics.WindowSamples,
			Percentile:    cfg.Analytics.Percentile,
			MinArea:       cfg.Analytics.MinAreaPixels,
			DOpen:         cfg.Analytics.DOpen.Duration(),
			DClose:        cfg.Analytics.DClose.Duration(),
			MinConfidence: cfg.Analytics.ObjectDetection.ConfidenceThreshold,
		}
		if len(cfg.Analytics.ObjectDetection.Classes) > 0 {
			acfg.AllowedClasses = make(map[string]bool, len(cfg.Analytics.ObjectDetection.Classes))
			for _, c := range cfg.Analytics.ObjectDetection.Classes {
				acfg.AllowedClasses[c] = true
			}
		}
		mgrCfg.Analytics = acfg
	}

	if cfg.Storage.Enabled {
		mgrCfg.Flusher = &warm.Config{
			CameraID:         camCfg.ID,
			DataDir:          cfg.Storage.DataDir,
			PrePadTicks:      duration.ToPTSTicks(time.Duration(cfg.Storage.PrePaddingSecs) * time.Second),
			PostPadTicks:     duration.ToPTSTicks(time.Duration(cfg.Storage.PostPaddingSecs) * time.Second),
			CoalesceGapTicks: duration.ToPTSTicks(time.Duration(cfg.Storage.CoalesceGapSecs) * time.Second),
		}
		mgrCfg.Sweeper = &warm.SweeperConfig{
			CameraID: camCfg.ID,
			Schedule: cfg.Storage.RetentionCron,
			MaxAge:   cfg.Storage.RetentionMaxAge.Duration(),
			MaxBytes: cfg.Storage.RetentionMaxSize.Bytes(),
		}
	}

	return mgrCfg
}
