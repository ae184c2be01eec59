package analytics

import "time"

// consecutiveSamplesToAdjust is the K in spec.md §4.4/§8: the moving
// average must stay on the wrong side of the budget for this many
// consecutive samples before the rate actually halves or doubles, so a
// single slow or fast sample never flaps the rate.
const consecutiveSamplesToAdjust = 5

// RateController tracks a moving average of per-sample processing
// latency and halves or doubles the sampler's rate once that average
// has stayed past or back under the per-sample time budget for K
// consecutive samples, so a camera whose frames are expensive to
// analyze (slow background subtraction, slow inference) degrades
// gracefully instead of falling further and further behind, without
// reacting to a single latency spike or dip.
type RateController struct {
	baseFPS    float64
	minFPS     float64
	currentFPS float64

	// alpha is the exponential-moving-average smoothing factor.
	alpha      float64
	avgLatency time.Duration
	haveAvg    bool

	overBudgetStreak  int
	underBudgetStreak int
}

// NewRateController creates a controller starting at baseFPS, never
// degrading below minFPS (a sensible floor is baseFPS/8) and never
// recovering above baseFPS.
func NewRateController(baseFPS, minFPS float64) *RateController {
	if minFPS <= 0 || minFPS > baseFPS {
		minFPS = baseFPS / 8
	}
	return &RateController{baseFPS: baseFPS, minFPS: minFPS, currentFPS: baseFPS, alpha: 0.2}
}

// CurrentFPS returns the sampler's current effective rate.
func (r *RateController) CurrentFPS() float64 { return r.currentFPS }

// Observe records one sample's processing latency, updates the moving
// average, and adjusts the rate once the average has been over (or
// under) budget for consecutiveSamplesToAdjust samples in a row. It
// returns true if the rate changed.
func (r *RateController) Observe(latency time.Duration) bool {
	if !r.haveAvg {
		r.avgLatency = latency
		r.haveAvg = true
	} else {
		r.avgLatency = time.Duration(r.alpha*float64(latency) + (1-r.alpha)*float64(r.avgLatency))
	}

	budget := time.Duration(float64(time.Second) / r.currentFPS)

	switch {
	case r.avgLatency > budget:
		r.overBudgetStreak++
		r.underBudgetStreak = 0
	case r.avgLatency*2 < budget:
		r.underBudgetStreak++
		r.overBudgetStreak = 0
	default:
		r.overBudgetStreak = 0
		r.underBudgetStreak = 0
	}

	switch {
	case r.overBudgetStreak >= consecutiveSamplesToAdjust && r.currentFPS/2 >= r.minFPS:
		r.currentFPS /= 2
		r.overBudgetStreak = 0
		return true
	case r.underBudgetStreak >= consecutiveSamplesToAdjust && r.currentFPS*2 <= r.baseFPS:
		r.currentFPS *= 2
		r.underBudgetStreak = 0
		return true
	}
	return false
}
