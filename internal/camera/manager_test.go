package camera

import (
	"context"
	"testing"
	"time"

	"github.com/camon/camon/internal/buffer"
	"github.com/camon/camon/internal/metrics"
	"github.com/camon/camon/internal/source"
	"github.com/camon/camon/internal/warm"
	"github.com/stretchr/testify/require"
)

func TestManager_HealthReflectsFrameCount(t *testing.T) {
	cfg := Config{
		CameraID: "cam1",
		Source: source.Config{
			CameraID:            "cam1",
			DecoderBinary:       "sh",
			DecoderArgsTemplate: []string{"-c", "sleep 10"},
			ReadStallTimeout:    time.Second,
		},
		Buffer: buffer.Config{CameraID: "cam1"},
	}

	m := New(cfg, metrics.New(), nil)
	require.NotNil(t, m.HotBuffer())
	require.NotNil(t, m.TierIndex())
	require.NotNil(t, m.Reader())
	require.NotNil(t, m.Events())

	h := m.Health()
	require.Equal(t, "cam1", h.CameraID)
	require.Equal(t, uint64(0), h.FramesTotal)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)
}

func TestManager_StartsAndStopsConfiguredSweeper(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Config{
		CameraID: "cam1",
		Source: source.Config{
			CameraID:            "cam1",
			DecoderBinary:       "sh",
			DecoderArgsTemplate: []string{"-c", "sleep 10"},
			ReadStallTimeout:    time.Second,
		},
		Buffer: buffer.Config{CameraID: "cam1"},
		Sweeper: &warm.SweeperConfig{
			Schedule: "*/1 * * * *",
			MaxAge:   24 * time.Hour,
		},
		Flusher: &warm.Config{CameraID: "cam1", DataDir: tmpDir},
	}

	m := New(cfg, metrics.New(), nil)
	require.NotNil(t, m.sweeper)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)
}
