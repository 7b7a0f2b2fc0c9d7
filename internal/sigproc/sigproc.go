// Package sigproc provides the 1-D filtering primitives used by the
// contact-point heuristics, monotone smoothing and plateau detection.
package sigproc

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// MedianFilter applies a median filter of odd window size with
// nearest-edge padding. The input is not modified.
func MedianFilter(x []float64, window int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if window < 1 {
		window = 1
	}
	if window%2 == 0 {
		window++
	}
	half := window / 2
	buf := make([]float64, window)
	for i := 0; i < n; i++ {
		for j := 0; j < window; j++ {
			k := i - half + j
			if k < 0 {
				k = 0
			} else if k >= n {
				k = n - 1
			}
			buf[j] = x[k]
		}
		sort.Float64s(buf)
		out[i] = buf[half]
	}
	return out
}

// UniformFilter applies a moving-average filter of the given size with
// nearest-edge padding, returning a slice of the same length.
func UniformFilter(x []float64, size int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 || size < 1 {
		copy(out, x)
		return out
	}
	// Window placement matches scipy.ndimage.uniform_filter1d: the
	// window origin sits at floor(size/2) behind the output sample.
	left := size / 2
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < size; j++ {
			k := i - left + j
			if k < 0 {
				k = 0
			} else if k >= n {
				k = n - 1
			}
			sum += x[k]
		}
		out[i] = sum / float64(size)
	}
	return out
}

// RollingMean computes a valid-mode rolling average via a cumulative
// sum. The result has length len(x)-window+1; it returns nil when the
// input is shorter than the window.
func RollingMean(x []float64, window int) []float64 {
	n := len(x)
	if window < 1 || n < window {
		return nil
	}
	cumsum := make([]float64, n+1)
	for i, v := range x {
		cumsum[i+1] = cumsum[i] + v
	}
	out := make([]float64, n-window+1)
	w := float64(window)
	for i := range out {
		out[i] = (cumsum[i+window] - cumsum[i]) / w
	}
	return out
}

// Gradient computes the discrete gradient with central differences in
// the interior and one-sided differences at the ends.
func Gradient(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = x[1] - x[0]
	out[n-1] = x[n-1] - x[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (x[i+1] - x[i-1]) / 2
	}
	return out
}

// Butterworth returns the digital transfer-function coefficients (b, a)
// of a first-order Butterworth low-pass with the given cutoff frequency
// (normalized to the Nyquist frequency), obtained via the bilinear
// transform with frequency prewarping. Only order 1 is supported; the
// plateau search never uses anything else.
func Butterworth(order int, cutoff float64) (b, a []float64, err error) {
	if order != 1 {
		return nil, nil, fmt.Errorf("butterworth: unsupported order %d", order)
	}
	if cutoff <= 0 || cutoff >= 1 {
		return nil, nil, fmt.Errorf("butterworth: cutoff %g out of (0, 1)", cutoff)
	}
	wc := math.Tan(math.Pi * cutoff / 2)
	k := 1 / (1 + wc)
	b = []float64{wc * k, wc * k}
	a = []float64{1, (wc - 1) * k}
	return b, a, nil
}

// lfilter applies a direct-form-II-transposed IIR filter with initial
// state zi (scaled by the caller).
func lfilter(b, a, x, zi []float64) []float64 {
	out := make([]float64, len(x))
	nz := len(a) - 1
	z := make([]float64, nz)
	copy(z, zi)
	for i, v := range x {
		y := b[0]*v + z[0]
		for j := 0; j < nz; j++ {
			next := 0.0
			if j+1 < nz {
				next = z[j+1]
			}
			z[j] = b[j+1]*v + next - a[j+1]*y
		}
		out[i] = y
	}
	return out
}

// filterZi returns the steady-state initial filter delay for a
// first-order filter (the scalar analogue of scipy's lfilter_zi).
func filterZi(b, a []float64) float64 {
	return (b[1] - b[0]*a[1]) / (1 + a[1])
}

// FiltFilt applies the filter forward and backward for zero phase
// distortion, with odd-reflection edge padding. Inputs shorter than the
// padding are returned as a copy.
func FiltFilt(b, a, x []float64) []float64 {
	n := len(x)
	padlen := 3 * max(len(a), len(b))
	if n <= padlen {
		out := make([]float64, n)
		copy(out, x)
		return out
	}
	// odd extension about the end points
	ext := make([]float64, 0, n+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-padlen; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	zi := filterZi(b, a)
	fwd := lfilter(b, a, ext, []float64{zi * ext[0]})
	reverse(fwd)
	bwd := lfilter(b, a, fwd, []float64{zi * fwd[0]})
	reverse(bwd)

	out := make([]float64, n)
	copy(out, bwd[padlen:padlen+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// Linspace fills a new slice with n evenly spaced values from start to
// stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	floats.Span(out, start, stop)
	return out
}
