// Package poc estimates the point of contact (POC) of a
// force-indentation curve from its force column.
package poc

import (
	"fmt"
	"math"

	"fd-fit/internal/lsq"
	"fd-fit/internal/sigproc"
)

// Method names a POC estimation strategy.
type Method string

// Available POC methods.
const (
	// DeviationFromBaseline flags the first sample that exceeds twice
	// the maximum baseline deviation.
	DeviationFromBaseline Method = "deviation_from_baseline"
	// GradientZeroCrossing finds the last negative-to-positive
	// gradient sign change, measured from the end of the curve.
	GradientZeroCrossing Method = "gradient_zero_crossing"
	// FitConstantLine fits max(constant, line) to the curve.
	FitConstantLine Method = "fit_constant_line"
	// FitConstantPolynomial fits a constant baseline with a rational
	// cubic indentation part.
	FitConstantPolynomial Method = "fit_constant_polynomial"
	// FitLinePolynomial fits a linear baseline with a rational cubic
	// indentation part on top; tolerates tilted baselines.
	FitLinePolynomial Method = "fit_line_polynomial"
	// FrechetDirectPath picks the point farthest from the direct path
	// through the normalized curve; robust against tilted baselines.
	FrechetDirectPath Method = "frechet_direct_path"
	// Scheme combines the baseline and gradient methods on a
	// tilt-corrected gradient signal, with a piecewise-fit fallback.
	Scheme Method = "scheme"
)

// Methods lists all available POC methods.
func Methods() []Method {
	return []Method{
		DeviationFromBaseline,
		GradientZeroCrossing,
		FitConstantLine,
		FitConstantPolynomial,
		FitLinePolynomial,
		FrechetDirectPath,
		Scheme,
	}
}

// Valid reports whether m names a known method.
func (m Method) Valid() bool {
	for _, known := range Methods() {
		if m == known {
			return true
		}
	}
	return false
}

type methodSpec struct {
	// clipApproach restricts the input to the initial approach part
	// (up to the global force maximum) before the method runs.
	clipApproach bool
	// smoothedGradient transforms the input into tilt-free gradient
	// space (rolling average, gradient, rolling average).
	smoothedGradient bool
	fn               func(force []float64) (int, bool)
}

func methodTable() map[Method]methodSpec {
	return map[Method]methodSpec{
		DeviationFromBaseline: {clipApproach: true, fn: deviationFromBaseline},
		GradientZeroCrossing:  {clipApproach: true, fn: gradientZeroCrossing},
		FitConstantLine:       {clipApproach: true, fn: fitConstantLine},
		FitConstantPolynomial: {clipApproach: true, fn: fitConstantPolynomial},
		FitLinePolynomial:     {clipApproach: true, fn: fitLinePolynomial},
		FrechetDirectPath:     {clipApproach: true, fn: frechetDirectPath},
		Scheme:                {clipApproach: true, smoothedGradient: true, fn: scheme},
	}
}

// Compute estimates the POC index with the named method. Methods that
// cannot find a contact point fall back to the midpoint of the input
// array so that fitting can proceed.
func Compute(force []float64, method Method) (int, error) {
	cp, found, err := ComputeRaw(force, method)
	if err != nil {
		return 0, err
	}
	if !found {
		cp = len(force) / 2
	}
	return cp, nil
}

// ComputeRaw is Compute without the midpoint fallback. The found return
// is false when the method could not locate a contact point.
func ComputeRaw(force []float64, method Method) (cp int, found bool, err error) {
	spec, ok := methodTable()[method]
	if !ok {
		return 0, false, fmt.Errorf("undefined POC method %q", method)
	}
	data := force
	if spec.clipApproach {
		data = clipApproach(data)
	}
	if spec.smoothedGradient {
		data = smoothedGradient(data)
	}
	cp, found = spec.fn(data)
	return cp, found, nil
}

// ComputeUnclipped runs the method on the full force array, skipping
// the clip-to-approach step. Callers that locate the turning point
// between approach and retract need the retract part left in place.
func ComputeUnclipped(force []float64, method Method) (cp int, found bool, err error) {
	spec, ok := methodTable()[method]
	if !ok {
		return 0, false, fmt.Errorf("undefined POC method %q", method)
	}
	data := force
	if spec.smoothedGradient {
		data = smoothedGradient(data)
	}
	cp, found = spec.fn(data)
	return cp, found, nil
}

// Details carries the intermediate series of a POC estimate for
// plotting or debugging.
type Details struct {
	// Processed is the signal the method actually ran on, after its
	// declared clipping and gradient transforms.
	Processed []float64
	CP        int
	Found     bool
}

// ComputeDetails is ComputeRaw plus the processed signal the method
// operated on.
func ComputeDetails(force []float64, method Method) (*Details, error) {
	spec, ok := methodTable()[method]
	if !ok {
		return nil, fmt.Errorf("undefined POC method %q", method)
	}
	data := force
	if spec.clipApproach {
		data = clipApproach(data)
	}
	if spec.smoothedGradient {
		data = smoothedGradient(data)
	}
	cp, found := spec.fn(data)
	return &Details{Processed: data, CP: cp, Found: found}, nil
}

// clipApproach discards everything after the global force maximum,
// keeping only the initial approach part.
func clipApproach(force []float64) []float64 {
	idmax := argmax(force)
	out := make([]float64, idmax)
	copy(out, force[:idmax])
	return out
}

// smoothedGradient removes linear tilt by transforming the force into
// smoothed gradient space: rolling average, gradient, rolling average,
// with a window of at most 47 samples.
func smoothedGradient(force []float64) []float64 {
	n := len(force)
	window := n/2/2*2 + 1 // odd, at most half the data
	if window > 47 {
		window = 47
	}
	p1 := sigproc.RollingMean(force, window)
	if len(p1) <= 1 {
		// too few samples for a gradient
		return p1
	}
	p1g := sigproc.Gradient(p1)
	return sigproc.RollingMean(p1g, window)
}

func argmax(x []float64) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// deviationFromBaseline implements the baseline-deviation method:
// baseline = first 10% of samples; the POC is the first index where
// the force exceeds the baseline mean by twice the maximum baseline
// deviation.
func deviationFromBaseline(force []float64) (int, bool) {
	nb := len(force) / 10
	if nb == 0 {
		return 0, false
	}
	blAvg := mean(force[:nb])
	blRng := 0.0
	for _, v := range force[:nb] {
		if d := math.Abs(v - blAvg); d > blRng {
			blRng = d
		}
	}
	blRng *= 2
	for i, v := range force {
		if v-blAvg > blRng {
			return i, true
		}
	}
	return 0, false
}

// gradientZeroCrossing implements the gradient-sign method. The
// returned index is measured from the end of the array; the arithmetic
// is an empirically tuned heuristic and is kept exactly as is.
func gradientZeroCrossing(force []float64) (int, bool) {
	const filtsize = 15
	const cutoff = 10
	y := sigproc.MedianFilter(force, filtsize)
	if len(y) <= cutoff+1 {
		return 0, false
	}
	grad := sigproc.Gradient(y)
	grad = grad[:len(grad)-cutoff]
	// first positive gradient seen from the end of the array
	firstFromEnd := -1
	for i := len(grad) - 1; i >= 0; i-- {
		if grad[i] > 0 {
			firstFromEnd = len(grad) - 1 - i
			break
		}
	}
	if firstFromEnd < 0 {
		return 0, false
	}
	return len(y) - firstFromEnd - cutoff - 1, true
}

// fitConstantLine fits the piecewise function max(d, m*(x-x0)+d) to the
// normalized curve; x0 is the contact point. Needs more than 4 points
// (3 fit parameters).
func fitConstantLine(force []float64) (int, bool) {
	n := len(force)
	if n <= 4 {
		return 0, false
	}
	y, ok := normalized(force)
	if !ok {
		return 0, false
	}

	x0, ok := frechetDirectPath(force)
	if !ok || x0 >= n-1 {
		x0 = n / 2
	}
	nb := 10
	if nb > n {
		nb = n
	}
	params := lsq.NewParameters()
	params.Add(lsq.Param{Name: "d", Value: mean(y[:nb]), Vary: true})
	params.Add(lsq.Param{Name: "x0", Value: float64(x0), Vary: true})
	params.Add(lsq.Param{Name: "m", Value: (1 - y[x0]) / float64(n-x0), Vary: true})

	residual := func(p *lsq.Parameters, out []float64) {
		d := p.Value("d")
		px0 := p.Value("x0")
		m := p.Value("m")
		for i := range y {
			model := math.Max(d, m*(float64(i)-px0)+d)
			out[i] = y[i] - model
		}
	}
	res, err := lsq.Minimize(residual, params, n, lsq.Options{Method: lsq.MethodNelderMead})
	if err != nil || !res.Success {
		return 0, false
	}
	cp := int(res.Params.Value("x0"))
	if cp < 0 || cp >= n {
		return 0, false
	}
	return cp, true
}

// normalized scales the curve to the unit interval; ok is false for a
// constant input.
func normalized(force []float64) ([]float64, bool) {
	fmin, fmax := force[0], force[0]
	for _, v := range force {
		fmin = math.Min(fmin, v)
		fmax = math.Max(fmax, v)
	}
	if fmax == fmin {
		return nil, false
	}
	y := make([]float64, len(force))
	for i, v := range force {
		y[i] = (v - fmin) / (fmax - fmin)
	}
	return y, true
}

// rationalCubic evaluates x1^3/(a*x1^2 + b*x1 + c), the indentation
// part shared by the polynomial POC fits.
func rationalCubic(x1, a, b, c float64) float64 {
	return x1 * x1 * x1 / (a*x1*x1 + b*x1 + c)
}

// fitConstantPolynomial fits a constant baseline d joined at x0 by the
// rational cubic x1^3/(a*x1^2+b*x1+c). The cubic is near-cubic for
// small indentations and near-linear for large ones. Needs more than 6
// points (5 fit parameters).
func fitConstantPolynomial(force []float64) (int, bool) {
	n := len(force)
	if n <= 6 {
		return 0, false
	}
	y, ok := normalized(force)
	if !ok {
		return 0, false
	}

	x0, ok := frechetDirectPath(force)
	if !ok || x0 >= n-1 {
		x0 = n / 2
	}
	nb := 10
	if nb > n {
		nb = n
	}
	params := lsq.NewParameters()
	params.Add(lsq.Param{Name: "d", Value: mean(y[:nb]), Vary: true})
	params.Add(lsq.Param{Name: "x0", Value: float64(x0), Vary: true})
	// The polynomial coefficients stay positive; a acts as an inverse
	// slope of the normalized curve, b and c are heuristic seeds.
	params.Add(lsq.Param{Name: "a", Value: float64(n - x0), Min: 1e-3,
		Max: 100 * float64(n-x0), Vary: true})
	params.Add(lsq.Param{Name: "b", Value: float64(n), Min: 1e-3,
		Max: math.Inf(1), Vary: true})
	params.Add(lsq.Param{Name: "c", Value: 0.5, Min: 1e-3,
		Max: math.Inf(1), Vary: true})

	residual := func(p *lsq.Parameters, out []float64) {
		d := p.Value("d")
		px0 := p.Value("x0")
		a, b, c := p.Value("a"), p.Value("b"), p.Value("c")
		for i := range y {
			model := d
			if x1 := float64(i) - px0; x1 > 0 {
				model += rationalCubic(x1, a, b, c)
			}
			out[i] = y[i] - model
		}
	}
	res, err := lsq.Minimize(residual, params, n, lsq.Options{Method: lsq.MethodNelderMead})
	if err != nil || !res.Success {
		return 0, false
	}
	cp := int(res.Params.Value("x0"))
	if cp < 0 || cp >= n {
		return 0, false
	}
	return cp, true
}

// fitLinePolynomial is fitConstantPolynomial with a sloped baseline
// m*x1+d, which makes it robust against tilted approach curves. Needs
// more than 7 points (6 fit parameters).
func fitLinePolynomial(force []float64) (int, bool) {
	n := len(force)
	if n <= 7 {
		return 0, false
	}
	y, ok := normalized(force)
	if !ok {
		return 0, false
	}

	x0, ok := frechetDirectPath(force)
	if !ok || x0 == 0 || x0 >= n-1 {
		x0 = n / 2
	}
	nb := 10
	if nb > n {
		nb = n
	}
	params := lsq.NewParameters()
	params.Add(lsq.Param{Name: "d", Value: mean(y[:nb]), Vary: true})
	params.Add(lsq.Param{Name: "x0", Value: float64(x0), Vary: true})
	params.Add(lsq.Param{Name: "m", Value: y[x0] / float64(x0), Vary: true})
	params.Add(lsq.Param{Name: "a", Value: float64(n - x0), Min: 1e-3,
		Max: 100 * float64(n-x0), Vary: true})
	params.Add(lsq.Param{Name: "b", Value: float64(n), Min: 1e-3,
		Max: math.Inf(1), Vary: true})
	params.Add(lsq.Param{Name: "c", Value: 0.5, Min: 1e-3,
		Max: math.Inf(1), Vary: true})

	residual := func(p *lsq.Parameters, out []float64) {
		d := p.Value("d")
		px0 := p.Value("x0")
		m := p.Value("m")
		a, b, c := p.Value("a"), p.Value("b"), p.Value("c")
		for i := range y {
			x1 := float64(i) - px0
			model := m*x1 + d
			if x1 > 0 {
				model += rationalCubic(x1, a, b, c)
			}
			out[i] = y[i] - model
		}
	}
	res, err := lsq.Minimize(residual, params, n, lsq.Options{Method: lsq.MethodNelderMead})
	if err != nil || !res.Success {
		return 0, false
	}
	cp := int(res.Params.Value("x0"))
	if cp < 0 || cp >= n {
		return 0, false
	}
	return cp, true
}

// frechetDirectPath returns the sample of the normalized curve that is
// farthest from the straight line between its end points.
func frechetDirectPath(force []float64) (int, bool) {
	n := len(force)
	if n < 2 {
		return 0, false
	}
	fmin, fmax := force[0], force[0]
	for _, v := range force {
		fmin = math.Min(fmin, v)
		fmax = math.Max(fmax, v)
	}
	if fmax == fmin {
		return 0, false
	}
	// rotate the normalized curve by -45°; the Fréchet distance to the
	// direct path is then simply the minimum of the rotated ordinate
	sin, cos := math.Sin(-math.Pi/4), math.Cos(-math.Pi/4)
	best := 0
	bestVal := math.Inf(1)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		y := (force[i] - fmin) / (fmax - fmin)
		yr := x*sin + y*cos
		if yr < bestVal {
			bestVal = yr
			best = i
		}
	}
	return best, true
}

// scheme runs the baseline and gradient methods on the already
// tilt-corrected gradient signal; if both succeed the smaller index
// wins, otherwise the piecewise constant+line fit decides.
func scheme(fg []float64) (int, bool) {
	idp1, ok1 := deviationFromBaseline(fg)
	idp2, ok2 := gradientZeroCrossing(fg)
	if ok1 && ok2 {
		if idp1 < idp2 {
			return idp1, true
		}
		return idp2, true
	}
	return fitConstantLine(fg)
}
