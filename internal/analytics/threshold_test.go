package analytics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdaptiveThreshold_FloorsAtMinArea(t *testing.T) {
	th := NewAdaptiveThreshold(30, 0.95, 500)
	require.Equal(t, 500, th.Threshold())
	for i := 0; i < 40; i++ {
		th.Observe(10)
	}
	require.Equal(t, 500, th.Threshold(), "a quiet scene's percentile stays below the absolute floor")
}

func TestAdaptiveThreshold_TracksPercentile(t *testing.T) {
	th := NewAdaptiveThreshold(30, 0.9, 0)
	for i := 1; i <= 30; i++ {
		th.Observe(i * 100)
	}
	// 90th percentile of 100..3000 in steps of 100 over a 30-sample
	// window should sit near the top of the range.
	require.Greater(t, th.Threshold(), 2500)
}

func TestAdaptiveThreshold_WindowSizeClamped(t *testing.T) {
	th := NewAdaptiveThreshold(5, 0.5, 0)
	require.Equal(t, 30, th.windowSize)
	th2 := NewAdaptiveThreshold(1000, 0.5, 0)
	require.Equal(t, 300, th2.windowSize)
}

func TestAdaptiveThreshold_Exceeds(t *testing.T) {
	th := NewAdaptiveThreshold(30, 0.95, 100)
	require.False(t, th.Exceeds(50))
	require.True(t, th.Exceeds(150))
}
