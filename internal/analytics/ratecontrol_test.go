package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateController_DegradesUnderSustainedLatency(t *testing.T) {
	rc := NewRateController(8, 1)
	require.Equal(t, 8.0, rc.CurrentFPS())

	// Budget at 8fps is 125ms; feed latencies well past it repeatedly so
	// the EMA crosses the budget.
	var changed bool
	for i := 0; i < 10; i++ {
		if rc.Observe(300 * time.Millisecond) {
			changed = true
			break
		}
	}
	require.True(t, changed)
	require.Equal(t, 4.0, rc.CurrentFPS())
}

func TestRateController_RecoversWhenFast(t *testing.T) {
	rc := NewRateController(8, 1)
	for i := 0; i < 10; i++ {
		rc.Observe(300 * time.Millisecond)
	}
	require.Less(t, rc.CurrentFPS(), 8.0)

	for i := 0; i < 20; i++ {
		rc.Observe(time.Millisecond)
	}
	require.Equal(t, 8.0, rc.CurrentFPS())
}

func TestRateController_NeverBelowMin(t *testing.T) {
	rc := NewRateController(8, 2)
	for i := 0; i < 50; i++ {
		rc.Observe(time.Second)
	}
	require.GreaterOrEqual(t, rc.CurrentFPS(), 2.0)
}
