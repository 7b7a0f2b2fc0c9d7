// Package preproc applies ordered preprocessing steps to force-distance
// curves before fitting.
package preproc

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"fd-fit/internal/poc"
	"fd-fit/internal/smooth"
	"fd-fit/pkg/curve"
)

// Step identifiers.
const (
	StepComputeTipPosition   = "compute_tip_position"
	StepForceOffset          = "correct_force_offset"
	StepForceSlope           = "correct_force_slope"
	StepTipOffset            = "correct_tip_offset"
	StepSplitApproachRetract = "correct_split_approach_retract"
	StepSmoothHeight         = "smooth_height"
)

// ErrCannotSplit is reported as a warning when the approach/retract
// split has to be skipped because no contact point could be estimated.
var ErrCannotSplit = errors.New(
	"cannot split approach and retract: contact point estimation failed")

// OrderingError reports a step whose required predecessors do not all
// appear earlier in the step list.
type OrderingError struct {
	Step    string
	Missing []string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("step %q requires earlier steps %v", e.Step, e.Missing)
}

// StepOptions holds per-step option values by option name.
type StepOptions map[string]string

func (o StepOptions) get(name, fallback string) string {
	if v, ok := o[name]; ok && v != "" {
		return v
	}
	return fallback
}

// Option describes a step option and its valid values.
type Option struct {
	Name    string
	Choices []string
}

// StepFunc mutates the curve in place. Non-fatal conditions are
// returned as warnings; a non-nil error aborts the pipeline.
type StepFunc func(c *curve.Curve, opts StepOptions) ([]error, error)

// Step is one preprocessing operation.
type Step struct {
	Identifier string
	Name       string
	// Required steps must appear earlier in the applied list.
	Required []string
	// Optional steps need not be present, but must come earlier
	// when they are.
	Optional []string
	Options  []Option
	Func     StepFunc
}

func builtinSteps() []Step {
	pocChoices := make([]string, 0)
	for _, m := range poc.Methods() {
		pocChoices = append(pocChoices, string(m))
	}
	return []Step{
		{
			Identifier: StepComputeTipPosition,
			Name:       "tip-sample separation",
			Func:       stepComputeTipPosition,
		},
		{
			Identifier: StepForceOffset,
			Name:       "baseline offset correction",
			Optional:   []string{StepForceSlope},
			Func:       stepForceOffset,
		},
		{
			Identifier: StepForceSlope,
			Name:       "baseline slope correction",
			Required:   []string{StepTipOffset},
			Options: []Option{
				{Name: "region", Choices: []string{"baseline", "approach", "all"}},
				{Name: "strategy", Choices: []string{"shift", "drift"}},
			},
			Func: stepForceSlope,
		},
		{
			Identifier: StepTipOffset,
			Name:       "contact point estimation",
			Required:   []string{StepComputeTipPosition},
			Options: []Option{
				{Name: "method", Choices: pocChoices},
			},
			Func: stepTipOffset,
		},
		{
			Identifier: StepSplitApproachRetract,
			Name:       "segment discovery",
			Required:   []string{StepComputeTipPosition},
			Optional:   []string{StepForceSlope},
			Func:       stepSplitApproachRetract,
		},
		{
			Identifier: StepSmoothHeight,
			Name:       "monotonic height data",
			Optional: []string{
				StepSplitApproachRetract,
				StepComputeTipPosition,
				StepForceSlope,
			},
			Func: stepSmoothHeight,
		},
	}
}

// Get returns the step registered for identifier.
func Get(identifier string) (Step, error) {
	for _, s := range builtinSteps() {
		if s.Identifier == identifier {
			return s, nil
		}
	}
	return Step{}, fmt.Errorf("undefined preprocessing step %q", identifier)
}

// Available returns all step identifiers in dependency order.
func Available() []string {
	ids := make([]string, 0)
	for _, s := range builtinSteps() {
		ids = append(ids, s.Identifier)
	}
	sorted, err := Autosort(ids)
	if err != nil {
		panic(err)
	}
	return sorted
}

// Result collects the non-fatal outcomes of a pipeline run.
type Result struct {
	Warnings []error
}

// Apply resets the curve's derived data and runs the identified steps
// in order. Every step's required predecessors must appear earlier in
// identifiers; otherwise an *OrderingError is returned. Step warnings
// are collected in the result.
func Apply(c *curve.Curve, identifiers []string, options map[string]StepOptions) (*Result, error) {
	c.ResetDerived()
	res := &Result{}
	for i, id := range identifiers {
		step, err := Get(id)
		if err != nil {
			return nil, err
		}
		var missing []string
		for _, req := range step.Required {
			if indexOf(identifiers[:i], req) < 0 {
				missing = append(missing, req)
			}
		}
		if len(missing) > 0 {
			return nil, &OrderingError{Step: id, Missing: missing}
		}
		warns, err := step.Func(c, options[id])
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", id, err)
		}
		res.Warnings = append(res.Warnings, warns...)
	}
	return res, nil
}

// CheckOrder verifies that every step's required predecessors are
// present and earlier, and that optional predecessors present in the
// list are earlier.
func CheckOrder(identifiers []string) error {
	for cix, id := range identifiers {
		step, err := Get(id)
		if err != nil {
			return err
		}
		var missing []string
		for _, req := range step.Required {
			rix := indexOf(identifiers, req)
			if rix < 0 || rix > cix {
				missing = append(missing, req)
			}
		}
		for _, opt := range step.Optional {
			rix := indexOf(identifiers, opt)
			if rix > cix {
				missing = append(missing, opt)
			}
		}
		if len(missing) > 0 {
			return &OrderingError{Step: id, Missing: missing}
		}
	}
	return nil
}

// Autosort reorders identifiers so that required and present optional
// predecessors come before their dependents.
func Autosort(identifiers []string) ([]string, error) {
	sorted := make([]string, len(identifiers))
	copy(sorted, identifiers)
	for _, id := range identifiers {
		step, err := Get(id)
		if err != nil {
			return nil, err
		}
		precursors := make([]string, 0)
		precursors = append(precursors, step.Required...)
		for _, opt := range step.Optional {
			if indexOf(identifiers, opt) >= 0 {
				precursors = append(precursors, opt)
			}
		}
		for _, pre := range precursors {
			cix := indexOf(sorted, id)
			rix := indexOf(sorted, pre)
			if rix > cix {
				sorted = append(sorted[:rix], sorted[rix+1:]...)
				sorted = append(sorted[:cix], append([]string{pre}, sorted[cix:]...)...)
			}
		}
	}
	if err := CheckOrder(sorted); err != nil {
		return nil, err
	}
	return sorted, nil
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}

// stepComputeTipPosition populates "tip position" from the measured
// height, the force and the spring constant. An innate tip position
// column makes this a no-op.
func stepComputeTipPosition(c *curve.Curve, _ StepOptions) ([]error, error) {
	if c.HasColumn(curve.ColTipPosition) && c.IsInnate(curve.ColTipPosition) {
		return nil, nil
	}
	height, hasHM := c.Column(curve.ColHeight)
	force, hasFo := c.Column(curve.ColForce)
	k := c.Meta.SpringConstant
	if !hasHM || !hasFo || k == 0 {
		var missing []string
		if !hasHM {
			missing = append(missing, "data column 'height (measured)'")
		}
		if !hasFo {
			missing = append(missing, "data column 'force'")
		}
		if k == 0 {
			missing = append(missing, "metadata 'spring constant'")
		}
		return nil, &curve.MissingColumnError{Missing: missing}
	}
	tip := make([]float64, len(force))
	for i := range tip {
		tip[i] = height[i] + force[i]/k
	}
	return nil, c.SetColumn(curve.ColTipPosition, tip)
}

// stepForceOffset subtracts the average baseline force. When no
// baseline can be found, the first force sample is subtracted instead.
func stepForceOffset(c *curve.Curve, _ StepOptions) ([]error, error) {
	force := c.MustColumn(curve.ColForce)
	idp, err := poc.Compute(force, poc.DeviationFromBaseline)
	if err != nil {
		return nil, err
	}
	var offset float64
	if idp > 0 {
		offset = mean(force[:idp])
	} else {
		offset = force[0]
	}
	for i := range force {
		force[i] -= offset
	}
	return nil, nil
}

// stepForceSlope subtracts a linear baseline slope from the force.
// The slope is determined on the data before the contact point, over
// the tip position ("shift") or the time axis ("drift"), and removed
// from the baseline, the whole approach part, or the entire curve.
func stepForceSlope(c *curve.Curve, opts StepOptions) ([]error, error) {
	region := opts.get("region", "baseline")
	strategy := opts.get("strategy", "shift")

	tip := c.MustColumn(curve.ColTipPosition)
	force := c.MustColumn(curve.ColForce)

	var abscissa []float64
	switch strategy {
	case "shift":
		abscissa = tip
	case "drift":
		t, ok := c.Column(curve.ColTime)
		if !ok {
			return nil, &curve.MissingColumnError{Missing: []string{"data column 'time'"}}
		}
		abscissa = t
	default:
		return nil, fmt.Errorf("invalid strategy %q", strategy)
	}

	// contact point position as set by correct_tip_offset
	idp := 0
	minAbs := math.Inf(1)
	for i, v := range tip {
		if a := math.Abs(v); a < minAbs {
			minAbs = a
			idp = i
		}
	}
	if idp < 2 {
		idp = 2
	}

	alpha, beta := stat.LinearRegression(abscissa[:idp], force[:idp], nil, false)
	eval := func(x float64) float64 { return alpha + beta*x }

	switch region {
	case "baseline":
		// pin the fit to zero at the contact point so the
		// indentation part is left untouched
		ref := eval(abscissa[idp-1])
		for i := 0; i < idp; i++ {
			force[i] -= eval(abscissa[i]) - ref
		}
	case "approach":
		idturn := findTurningPoint(tip, force, idp)
		if idturn < 2 {
			idturn = 2
		}
		ref := eval(abscissa[idturn-1])
		for i := 0; i < idturn; i++ {
			force[i] -= eval(abscissa[i]) - ref
		}
	case "all":
		ref := eval(abscissa[idp])
		for i := range force {
			force[i] -= eval(abscissa[i]) - ref
		}
	default:
		return nil, fmt.Errorf("invalid region %q", region)
	}
	return nil, nil
}

// stepTipOffset shifts the tip position so that the estimated contact
// point sits at zero.
func stepTipOffset(c *curve.Curve, opts StepOptions) ([]error, error) {
	method := poc.Method(opts.get("method", string(poc.DeviationFromBaseline)))
	force := c.MustColumn(curve.ColForce)
	cp, err := poc.Compute(force, method)
	if err != nil {
		return nil, err
	}
	tip := c.MustColumn(curve.ColTipPosition)
	offset := tip[cp]
	for i := range tip {
		tip[i] -= offset
	}
	return nil, nil
}

// stepSplitApproachRetract rewrites the segment column by locating the
// turning point, the sample farthest from the contact point in the
// direction of indentation. A failed contact point estimate leaves the
// segment column untouched and yields an ErrCannotSplit warning.
func stepSplitApproachRetract(c *curve.Curve, _ StepOptions) ([]error, error) {
	force := c.MustColumn(curve.ColForce)
	// the full force array is needed here: clipping to the approach
	// part would cut away the turning point this step looks for
	idp, found, err := poc.ComputeUnclipped(force, poc.DeviationFromBaseline)
	if err != nil {
		return nil, err
	}
	if !found || idp == 0 {
		return []error{ErrCannotSplit}, nil
	}
	tip := c.MustColumn(curve.ColTipPosition)
	idturn := findTurningPoint(tip, force, idp)
	seg := c.MustColumn(curve.ColSegment)
	for i := range seg {
		if i >= idturn {
			seg[i] = curve.SegmentRetract
		} else {
			seg[i] = curve.SegmentApproach
		}
	}
	return nil, nil
}

// stepSmoothHeight writes monotonic "(smoothed)" variants of the
// height-like columns, smoothing approach and retract independently.
func stepSmoothHeight(c *curve.Curve, _ StepOptions) ([]error, error) {
	cols := []string{curve.ColHeight, curve.ColHeightPiezo, curve.ColTipPosition}
	var warns []error
	for _, col := range cols {
		if !c.HasColumn(col) {
			continue
		}
		data := c.MustColumn(col)
		out := make([]float64, len(data))
		copy(out, data)
		for _, retract := range []bool{false, true} {
			seg, idx := c.SegmentSlice(col, retract)
			if len(seg) < 2 {
				continue
			}
			sm, doublings, err := smooth.AxisMonotone(seg, smooth.DefaultOptions())
			if err != nil {
				return warns, fmt.Errorf("smoothing %q: %w", col, err)
			}
			if doublings > 0 {
				warns = append(warns, fmt.Errorf(
					"smoothing %q: median window doubled %d times", col, doublings))
			}
			for j, i := range idx {
				out[i] = sm[j]
			}
		}
		if err := c.SetColumn(curve.Smoothed(col), out); err != nil {
			return warns, err
		}
	}
	return warns, nil
}

// findTurningPoint locates the sample farthest from the contact point
// in the direction of indentation. Tip position and force are
// normalized to comparable scales first.
func findTurningPoint(tipPosition, force []float64, idp int) int {
	n := len(tipPosition)
	x := make([]float64, n)
	y := make([]float64, n)
	copy(x, tipPosition)
	copy(y, force)

	// flip and normalize tip position: maximum indentation becomes 1
	x0 := x[idp]
	for i := range x {
		x[i] -= x0
	}
	xmin := x[0]
	for _, v := range x {
		if v < xmin {
			xmin = v
		}
	}
	if xmin != 0 {
		for i := range x {
			x[i] /= xmin
		}
	}
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}

	// flip and normalize force: maximum force becomes 1, baseline
	// noise is zeroed out
	base := mean(y[:idp])
	for i := range y {
		y[i] -= base
	}
	ymax := y[0]
	for _, v := range y {
		if v > ymax {
			ymax = v
		}
	}
	if ymax != 0 {
		for i := range y {
			y[i] /= ymax
		}
	}
	sd := stat.PopStdDev(y[:idp], nil)
	for i := range y {
		if y[i] < sd {
			y[i] = 0
		}
	}

	idturn := 0
	best := math.Inf(-1)
	for i := range x {
		if d := x[i]*x[i] + y[i]*y[i]; d > best {
			best = d
			idturn = i
		}
	}
	return idturn
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}
