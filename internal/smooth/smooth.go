// Package smooth makes height-like axes monotonic with an adaptive
// median filter.
package smooth

import (
	"fmt"
	"math"

	"fd-fit/internal/sigproc"
)

// Options configures the monotone smoothing.
type Options struct {
	// Window is the initial (odd) median filter window size.
	Window int
	// MaxIter bounds both the window-doubling loop and the
	// duplicate-repair loop.
	MaxIter int
}

// DefaultOptions returns the smoothing defaults.
func DefaultOptions() Options {
	return Options{Window: 15, MaxIter: 1000}
}

// Axis smooths a 1-D axis with a median filter of opts.Window.
func Axis(data []float64, window int) []float64 {
	return sigproc.MedianFilter(data, window)
}

// AxisMonotone smooths a 1-D axis and guarantees the result is strictly
// monotonic. If the median-filtered data is not monotonic, the window is
// doubled (w -> 2w+1) and the filter reapplied; each doubling is counted
// in doublings so callers can warn about it. Remaining runs of equal
// values are repaired by linearly redistributing a small perturbation
// across each run. Returns an error if either loop exceeds opts.MaxIter.
func AxisMonotone(data []float64, opts Options) (smoothed []float64, doublings int, err error) {
	window := opts.Window
	smoothed = Axis(data, window)
	grad := sigproc.Gradient(smoothed)

	ok := false
	for i := 0; i < opts.MaxIter; i++ {
		if isMonotone(grad) {
			ok = true
			break
		}
		window = window*2 + 1
		doublings++
		smoothed = Axis(data, window)
		grad = sigproc.Gradient(smoothed)
	}
	if !ok {
		return nil, doublings, fmt.Errorf("smooth: reached max_iter=%d while doubling window", opts.MaxIter)
	}

	ok = false
	for i := 0; i < opts.MaxIter; i++ {
		run := firstEqualRun(smoothed)
		if run == nil {
			ok = true
			break
		}
		repairRun(smoothed, run)
	}
	if !ok {
		return nil, doublings, fmt.Errorf("smooth: reached max_iter=%d while repairing duplicates", opts.MaxIter)
	}
	return smoothed, doublings, nil
}

// isMonotone reports whether the gradient points in one direction only:
// the magnitude of the gradient sum equals the sum of gradient
// magnitudes.
func isMonotone(grad []float64) bool {
	var sum, absSum float64
	for _, g := range grad {
		sum += g
		absSum += math.Abs(g)
	}
	return math.Abs(sum) == absSum
}

// firstEqualRun returns the indices of the first run of consecutive
// equal values (excluding the run's first element, which stays fixed),
// or nil when all values are distinct.
func firstEqualRun(x []float64) []int {
	var run []int
	for i := 0; i < len(x)-1; i++ {
		if x[i+1] == x[i] {
			run = append(run, i+1)
		} else if len(run) > 0 {
			return run
		}
	}
	if len(run) > 0 {
		return run
	}
	return nil
}

// repairRun spreads a small monotone perturbation across a run of equal
// values, bounded by the step to the next distinct value.
func repairRun(x []float64, run []int) {
	last := run[len(run)-1]
	if last+1 < len(x) {
		span := x[last+1] - x[run[0]]
		for count, idx := range run {
			x[idx] += span / float64(len(run)+5) * float64(count+1)
		}
	} else {
		// the run reaches the end of the axis; nudge by a fraction of
		// the first step
		dx := (x[1] - x[0]) / 10
		x[len(x)-1] += dx
	}
}
