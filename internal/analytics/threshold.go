package analytics

import "sort"

// AdaptiveThreshold maintains a sliding window of recent foreground-area
// samples and derives a percentile-based threshold from them, floored by
// an absolute minimum area so a perfectly still, noise-free scene still
// requires some minimum motion to trigger.
type AdaptiveThreshold struct {
	window     []int
	windowSize int
	percentile float64 // e.g. 0.95
	minArea    int
}

// NewAdaptiveThreshold creates a threshold tracker. windowSize must be in
// [30,300] per camon's configuration contract; percentile is in (0,1).
func NewAdaptiveThreshold(windowSize int, percentile float64, minArea int) *AdaptiveThreshold {
	if windowSize < 30 {
		windowSize = 30
	}
	if windowSize > 300 {
		windowSize = 300
	}
	return &AdaptiveThreshold{windowSize: windowSize, percentile: percentile, minArea: minArea}
}

// Observe records a new foreground-area sample and returns the threshold
// the caller should compare *this* sample against: the threshold as it
// stood before the sample was added to the window. The sample is not
// compared against its own updated threshold, so a single one-off spike
// doesn't immediately raise the bar against itself.
func (a *AdaptiveThreshold) Observe(area int) (threshold int) {
	threshold = a.Threshold()
	a.window = append(a.window, area)
	if len(a.window) > a.windowSize {
		a.window = a.window[len(a.window)-a.windowSize:]
	}
	return threshold
}

// Threshold returns the current percentile threshold over the window,
// floored by minArea, without recording a new sample.
func (a *AdaptiveThreshold) Threshold() int {
	if len(a.window) == 0 {
		return a.minArea
	}
	sorted := append([]int(nil), a.window...)
	sort.Ints(sorted)
	idx := int(float64(len(sorted)-1) * a.percentile)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p := sorted[idx]
	if p < a.minArea {
		return a.minArea
	}
	return p
}

// Exceeds reports whether area counts as motion against the current
// threshold.
func (a *AdaptiveThreshold) Exceeds(area int) bool {
	return area > a.Threshold()
}
