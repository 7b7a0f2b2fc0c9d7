package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"fd-fit/internal/lsq"
	"fd-fit/internal/model"
	"fd-fit/internal/poc"
	"fd-fit/internal/sigproc"
	"fd-fit/pkg/curve"
)

// Fitter fits one model to one curve. It works on immutable copies of
// the segment mask and the axis data; iterative fitting modes mutate
// only the fitter's working range, never the property store's
// configuration.
type Fitter struct {
	fp  *Properties
	reg *model.Registry

	segment []bool
	x, y    []float64

	fitRange     []bool
	fitCurve     []float64
	fitResiduals []float64

	// working copies for iterative fitting
	plateau   bool
	rangeType string
	rangeX    []float64

	hash string

	// Warnings collects non-fatal conditions such as an inverted
	// fitting range or a missing plateau.
	Warnings []error
}

// NewFitter builds a fitter for the curve, overlaying props onto the
// configuration defaults and validating the result.
func NewFitter(c *curve.Curve, reg *model.Registry, props *Properties) (*Fitter, error) {
	fp := DefaultProperties()
	if props != nil {
		for _, key := range configKeys {
			if v, ok := props.Get(key); ok {
				if err := fp.Set(key, v); err != nil {
					return nil, err
				}
			}
		}
	}

	// check the model key first: guessing parameters hits the registry
	// and would surface a bare lookup error instead
	if !reg.Has(fp.ModelKey()) {
		return nil, &KeyError{Key: KeyModelKey,
			Reason: fmt.Sprintf("unknown model %q", fp.ModelKey())}
	}

	var guessWarns []error
	if fp.ParamsInitial() == nil {
		params, warns, err := InitialParameters(c, reg, fp.ModelKey())
		if err != nil {
			return nil, err
		}
		if err := fp.Set(KeyParamsInitial, params); err != nil {
			return nil, err
		}
		guessWarns = warns
	}

	retract, err := fp.SegmentRetract()
	if err != nil {
		return nil, err
	}
	seg, ok := c.Column(curve.ColSegment)
	if !ok {
		return nil, &curve.MissingColumnError{Missing: []string{"data column 'segment'"}}
	}

	f := &Fitter{
		fp:        fp,
		reg:       reg,
		segment:   make([]bool, c.Len()),
		rangeType: fp.RangeType(),
		rangeX:    fp.RangeX(),
		plateau:   fp.PlateauSearch(),
		Warnings:  guessWarns,
	}
	for i, v := range seg {
		f.segment[i] = (v != 0) == retract
	}
	f.x, err = columnCopy(c, fp.XAxis())
	if err != nil {
		return nil, err
	}
	f.y, err = columnCopy(c, fp.YAxis())
	if err != nil {
		return nil, err
	}
	f.fitRange = make([]bool, c.Len())
	f.fitCurve = make([]float64, c.Len())
	f.fitResiduals = make([]float64, c.Len())

	if err := f.validate(); err != nil {
		return nil, err
	}

	f.hash = ComputeHash(fp, f.x, f.y)
	if err := fp.Set(KeyHash, f.hash); err != nil {
		return nil, err
	}
	return f, nil
}

func columnCopy(c *curve.Curve, name string) ([]float64, error) {
	col, ok := c.Column(name)
	if !ok {
		return nil, &curve.MissingColumnError{
			Missing: []string{fmt.Sprintf("data column '%s'", name)}}
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, nil
}

func (f *Fitter) validate() error {
	fp := f.fp
	switch fp.RangeType() {
	case RangeAbsolute, RangeRelativeCP:
	default:
		return &KeyError{Key: KeyRangeType,
			Reason: fmt.Sprintf("must be %q or %q", RangeAbsolute, RangeRelativeCP)}
	}
	rangeX := fp.RangeX()
	if math.IsNaN(rangeX[0]) || math.IsNaN(rangeX[1]) {
		return &KeyError{Key: KeyRangeX, Reason: "must not contain NaN"}
	}
	if !f.reg.Has(fp.ModelKey()) {
		return &KeyError{Key: KeyModelKey,
			Reason: fmt.Sprintf("unknown model %q", fp.ModelKey())}
	}

	params := fp.ParamsInitial()
	if fp.PlateauSearch() {
		if params == nil || !params.Has("E") {
			return &KeyError{Key: KeyOptimalFitEDelta,
				Reason: "plateau search requires the parameter 'E'"}
		}
		if fp.RangeType() != RangeAbsolute {
			return &KeyError{Key: KeyOptimalFitEDelta,
				Reason: "plateau search works with absolute ranges only"}
		}
	}

	md, err := f.reg.Get(fp.ModelKey())
	if err != nil {
		return err
	}
	for _, name := range md.DefaultParams().Names() {
		if params == nil || !params.Has(name) {
			return &KeyError{Key: KeyParamsInitial,
				Reason: fmt.Sprintf("parameter %q of model %q is not set",
					name, fp.ModelKey())}
		}
	}

	if rangeX[0] > rangeX[1] {
		f.Warnings = append(f.Warnings,
			fmt.Errorf("fitting range is inverted: %v", rangeX))
	}
	return nil
}

// InitialParameters returns the model's default parameters with the
// contact point seeded from the tip position at the estimated POC.
// Warnings are returned when the guess is impossible.
func InitialParameters(c *curve.Curve, reg *model.Registry, modelKey string) (*lsq.Parameters, []error, error) {
	md, err := reg.Get(modelKey)
	if err != nil {
		return nil, nil, err
	}
	params := md.DefaultParams()

	tip, hasTip := c.Column(curve.ColTipPosition)
	force, hasForce := c.Column(curve.ColForce)
	if !hasTip || !hasForce {
		return params, []error{errors.New(
			"cannot guess contact point: need 'tip position' and 'force' columns")}, nil
	}
	cpid, err := poc.Compute(force, poc.Scheme)
	if err != nil {
		return nil, nil, err
	}
	if params.Has("contact_point") {
		if err := params.SetValue("contact_point", tip[cpid]); err != nil {
			return nil, nil, err
		}
	}

	// ancillary values sharing a parameter name refine the guess
	if md.Ancillary != nil {
		for name, v := range md.Ancillary.Compute(c, params) {
			if params.Has(name) && !math.IsNaN(v) {
				if err := params.SetValue(name, v); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return params, nil, nil
}

// Hash returns the content hash of this fitter's configuration.
func (f *Fitter) Hash() string { return f.hash }

// Properties returns the fitter's working property store, holding both
// the effective configuration and the fit results.
func (f *Fitter) Properties() *Properties { return f.fp }

// FitCurve returns the full-length model curve; samples outside the
// fitted segment are NaN.
func (f *Fitter) FitCurve() []float64 { return f.fitCurve }

// FitResiduals returns the full-length fit residuals.
func (f *Fitter) FitResiduals() []float64 { return f.fitResiduals }

// FitRange returns the mask of samples used for fitting.
func (f *Fitter) FitRange() []bool { return f.fitRange }

// Fit fits the model to the data. The dispatch depends on the range
// type and the plateau search flag; iterative modes restore the
// original working range before returning.
func (f *Fitter) Fit() error {
	rangeType := f.rangeType
	rangeX := []float64{f.rangeX[0], f.rangeX[1]}
	defer func() {
		f.rangeType = rangeType
		f.rangeX = rangeX
	}()

	if err := f.fp.Set(KeySuccess, false); err != nil {
		return err
	}

	switch {
	case f.plateau:
		emoduli, indentations, err := f.EModulusVsMinIndentation(nil)
		if err != nil {
			return err
		}
		dopt, warns := OptimalMinIndentation(emoduli, indentations)
		f.Warnings = append(f.Warnings, warns...)
		f.fp.Set(KeyOptEArray, emoduli)
		f.fp.Set(KeyOptDeltaArray, indentations)
		f.fp.Set(KeyOptDelta, dopt)

		cfg := f.fp.RangeX()
		f.rangeX = []float64{dopt, math.Max(cfg[0], cfg[1])}
		f.plateau = false
		err = f.Fit()
		f.plateau = true
		return err

	case rangeType == RangeAbsolute:
		f.setAbsoluteRange(f.rangeX)
		return f.fitOnce()

	case rangeType == RangeRelativeCP:
		// the contact point is itself a fit parameter, so fit the
		// whole segment first and then narrow iteratively
		f.rangeType = RangeAbsolute
		f.rangeX = []float64{0, 0}
		if err := f.Fit(); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			fitted := f.fp.ParamsFitted()
			if fitted == nil {
				return &DataError{Reason: "relative range needs a successful full-segment fit"}
			}
			cp, err := fitted.Get("contact_point")
			if err != nil {
				return &DataError{Reason: "relative range requires a 'contact_point' parameter"}
			}
			f.rangeX = []float64{rangeX[0] + cp.Value, rangeX[1] + cp.Value}
			if err := f.Fit(); err != nil {
				return err
			}
		}
		return nil
	}
	return &KeyError{Key: KeyRangeType,
		Reason: fmt.Sprintf("unhandled range type %q", rangeType)}
}

// setAbsoluteRange selects the segment samples inside rangeX. The
// degenerate range [x, x] selects the whole segment.
func (f *Fitter) setAbsoluteRange(rangeX []float64) {
	if rangeX[0] != rangeX[1] {
		rmin := math.Min(rangeX[0], rangeX[1])
		rmax := math.Max(rangeX[0], rangeX[1])
		for i := range f.fitRange {
			f.fitRange[i] = f.segment[i] && f.x[i] >= rmin && f.x[i] <= rmax
		}
	} else {
		copy(f.fitRange, f.segment)
	}
}

// fitOnce performs one least-squares fit over the current fit range
// and records the results. An under-determined system (as many or
// more free parameters than data points minus one) is not fitted and
// marks the fit unsuccessful without error.
func (f *Fitter) fitOnce() error {
	md, err := f.reg.Get(f.fp.ModelKey())
	if err != nil {
		return err
	}
	params := f.fp.ParamsInitial()
	weightCP := f.fp.WeightCP()

	for i := range f.fitCurve {
		f.fitCurve[i] = math.NaN()
		f.fitResiduals[i] = math.NaN()
	}

	x := maskVals(f.x, f.fitRange)
	y := maskVals(f.y, f.fitRange)

	if params.CountVaried() >= len(x)-1 {
		return f.fp.Set(KeySuccess, false)
	}

	resid := func(p *lsq.Parameters, out []float64) {
		copy(out, md.Residual(p, x, y, weightCP))
	}
	res, err := lsq.Minimize(resid, params, len(x), lsq.Options{})
	if err != nil {
		f.fp.Set(KeySuccess, false)
		return err
	}

	xseg := maskVals(f.x, f.segment)
	yseg := maskVals(f.y, f.segment)
	curveSeg := md.Model(res.Params, xseg)
	residSeg := md.Residual(res.Params, xseg, yseg, weightCP)
	j := 0
	for i, in := range f.segment {
		if in {
			f.fitCurve[i] = curveSeg[j]
			f.fitResiduals[i] = residSeg[j]
			j++
		}
	}

	f.fp.Set(KeyParamsFitted, res.Params)
	f.fp.Set(KeyChiSqr, res.ChiSqr)
	f.fp.Set(KeyXMin, floats.Min(x))
	f.fp.Set(KeyXMax, floats.Max(x))
	return f.fp.Set(KeySuccess, res.Success)
}

// EModulusVsMinIndentation fits the model repeatedly while shrinking
// the fitting interval from the deepest indentation towards the
// contact point, recording the elastic modulus for each interval.
// The callback, when given, receives the arrays every five samples.
func (f *Fitter) EModulusVsMinIndentation(callback func(emoduli, indentations []float64)) ([]float64, []float64, error) {
	xseg := maskVals(f.x, f.segment)
	yseg := maskVals(f.y, f.segment)
	if len(xseg) == 0 {
		return nil, nil, &DataError{Reason: "selected segment is empty"}
	}

	cfg := f.fp.RangeX()
	xmax := math.Max(cfg[0], cfg[1])
	if math.IsInf(xmax, 0) {
		xmax = floats.Max(xseg)
	}

	plateau := f.plateau
	f.plateau = false
	defer func() { f.plateau = plateau }()

	if err := checkIndentationTrend(xseg, yseg, f.fp.Segment()); err != nil {
		return nil, nil, err
	}

	xmin := floats.Min(xseg)
	if xmin >= 0 {
		return nil, nil, &KeyError{Key: KeyRangeX,
			Reason: "no negative indentation values found; was the tip offset corrected?"}
	}

	num := f.fp.PlateauSamples()
	indentations := sigproc.Linspace(xmin, xmin*0.05, num)
	emoduli := make([]float64, num)
	for i, x0 := range indentations {
		f.rangeX = []float64{x0, xmax}
		if err := f.Fit(); err != nil {
			return nil, nil, err
		}
		fitted := f.fp.ParamsFitted()
		if fitted == nil || !fitted.Has("E") {
			return nil, nil, &DataError{
				Reason: "plateau search needs successful fits with parameter 'E'"}
		}
		emoduli[i] = fitted.Value("E")
		if callback != nil && i%5 == 0 {
			callback(append([]float64(nil), emoduli...),
				append([]float64(nil), indentations...))
		}
	}
	return emoduli, indentations, nil
}

// checkIndentationTrend verifies that the segment data actually moves
// in the direction its name claims.
func checkIndentationTrend(xseg, yseg []float64, segment string) error {
	nb := len(yseg)
	if nb > 10 {
		nb = 10
	}
	seemsApproach := meanOf(yseg[:nb]) < meanOf(yseg[len(yseg)-nb:])
	last := len(xseg) - 1
	switch {
	case seemsApproach && segment == SegmentApproach:
		if xseg[0] < xseg[last] {
			return &DataError{Reason: "unexpected trend in approach x data"}
		}
	case seemsApproach:
		return &DataError{Reason: "data appears to be approach, but segment is retract"}
	case segment == SegmentRetract:
		if xseg[0] > xseg[last] {
			return &DataError{Reason: "unexpected trend in retract x data"}
		}
		return &DataError{Reason: "unexpected trend in retract curve"}
	default:
		return &DataError{Reason: "data appears to be retract, but segment is approach"}
	}
	return nil
}

// OptimalMinIndentation locates the plateau of an elastic modulus vs.
// minimal indentation curve and returns the optimal indentation depth.
// The moduli are smoothed with a zero-phase Butterworth filter and
// binned into ten levels; runs of samples in the same bin are ranked
// by length, skipping runs whose level is below the bin step. When no
// run qualifies, the middle bin is used and a warning returned.
func OptimalMinIndentation(emoduli, indentations []float64) (float64, []error) {
	var warns []error

	b, a, err := sigproc.Butterworth(1, 0.05)
	if err != nil {
		return math.NaN(), []error{err}
	}
	smoothE := sigproc.FiltFilt(b, a, emoduli)

	const nbins = 10
	lo := floats.Min(smoothE)
	hi := floats.Max(smoothE)
	istep := (hi - lo) / nbins
	ivals := make([]float64, nbins)
	for i := range ivals {
		ivals[i] = lo + istep*float64(i) + istep/2
	}

	// label runs of nearest-bin membership
	labels := make([]int, len(smoothE))
	vals := make([]int, len(smoothE))
	run := 0
	for i, v := range smoothE {
		valid := nearestIndex(ivals, v)
		if i > 0 && valid != vals[i-1] {
			run++
		}
		labels[i] = run
		vals[i] = valid
	}

	counts := bincount(labels)
	labmax := -1
	found := false
	for it := len(counts); it > 0 && len(counts) > 0; it-- {
		labmax = argmaxInt(counts)
		labid := firstIndexInt(labels, labmax)
		if labid < 0 {
			break
		}
		if ivals[vals[labid]] > istep {
			found = true
			break
		}
		counts = append(counts[:labmax], counts[labmax+1:]...)
	}
	if !found {
		warns = append(warns, errors.New("could not find a plateau; using the middle bin"))
		labmax = 5
	}

	var indices []int
	for i, l := range labels {
		if l == labmax {
			indices = append(indices, i)
		}
	}
	switch {
	case len(indices) == 0:
		warns = append(warns, errors.New("plateau bin holds no samples"))
		return math.NaN(), warns
	case len(indices) == 1:
		return indentations[indices[0]], warns
	default:
		first := indices[0]
		last := indices[len(indices)-1]
		return meanOf(indentations[first:last]), warns
	}
}

func maskVals(x []float64, mask []bool) []float64 {
	var out []float64
	for i, in := range mask {
		if in {
			out = append(out, x[i])
		}
	}
	return out
}

func meanOf(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func nearestIndex(vals []float64, v float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, iv := range vals {
		if d := math.Abs(iv - v); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func bincount(labels []int) []int {
	max := 0
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	counts := make([]int, max+1)
	for _, l := range labels {
		counts[l]++
	}
	return counts
}

func argmaxInt(x []int) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}

func firstIndexInt(x []int, v int) int {
	for i, item := range x {
		if item == v {
			return i
		}
	}
	return -1
}
