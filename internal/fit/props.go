// Package fit holds the fit configuration store, the indentation
// fitter and the content hash used to cache fit results.
package fit

import (
	"fmt"
	"math"
	"reflect"

	"fd-fit/internal/lsq"
	"fd-fit/internal/preproc"
)

// Configuration keys.
const (
	KeyModelKey           = "model_key"
	KeyOptimalFitEDelta   = "optimal_fit_edelta"
	KeyOptimalFitSamples  = "optimal_fit_num_samples"
	KeyParamsInitial      = "params_initial"
	KeyPreprocessing      = "preprocessing"
	KeyPreprocessingOpts  = "preprocessing_options"
	KeyRangeType          = "range_type"
	KeyRangeX             = "range_x"
	KeySegment            = "segment"
	KeyWeightCP           = "weight_cp"
	KeyXAxis              = "x_axis"
	KeyYAxis              = "y_axis"
)

// Result keys.
const (
	KeyChiSqr          = "chi_sqr"
	KeyHash            = "hash"
	KeyOptDeltaArray   = "optimal_fit_delta_array"
	KeyOptDelta        = "optimal_fit_delta"
	KeyOptEArray       = "optimal_fit_E_array"
	KeyParamsFitted    = "params_fitted"
	KeySuccess         = "success"
	KeyXMax            = "xmax"
	KeyXMin            = "xmin"
)

// Fitting range types.
const (
	RangeAbsolute   = "absolute"
	RangeRelativeCP = "relative cp"
)

// Segment names.
const (
	SegmentApproach = "approach"
	SegmentRetract  = "retract"
)

// configKeys in canonical order; the hash iterates this list.
var configKeys = []string{
	KeyModelKey,
	KeyOptimalFitEDelta,
	KeyOptimalFitSamples,
	KeyParamsInitial,
	KeyPreprocessing,
	KeyPreprocessingOpts,
	KeyRangeType,
	KeyRangeX,
	KeySegment,
	KeyWeightCP,
	KeyXAxis,
	KeyYAxis,
}

var resultKeys = []string{
	KeyChiSqr,
	KeyHash,
	KeyOptDeltaArray,
	KeyOptDelta,
	KeyOptEArray,
	KeyParamsFitted,
	KeySuccess,
	KeyXMax,
	KeyXMin,
}

// KeyError reports an unknown or malformed fit property.
type KeyError struct {
	Key    string
	Reason string
}

func (e *KeyError) Error() string {
	if e.Key == "" {
		return "fit properties: " + e.Reason
	}
	return fmt.Sprintf("fit properties key %q: %s", e.Key, e.Reason)
}

// DataError reports curve data that cannot be fitted as requested.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return "fit data: " + e.Reason
}

// Properties stores fit configuration and fit results. Changing a
// configuration value invalidates stale results.
type Properties struct {
	values map[string]any
}

// NewProperties returns an empty property store.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

// DefaultProperties returns a store populated with the configuration
// defaults.
func DefaultProperties() *Properties {
	p := NewProperties()
	p.values[KeyModelKey] = "hertz_para"
	p.values[KeyOptimalFitEDelta] = false
	p.values[KeyOptimalFitSamples] = 100
	p.values[KeyParamsInitial] = (*lsq.Parameters)(nil)
	p.values[KeyPreprocessing] = []string{}
	p.values[KeyPreprocessingOpts] = map[string]preproc.StepOptions(nil)
	p.values[KeyRangeType] = RangeAbsolute
	p.values[KeyRangeX] = []float64{0, 0}
	p.values[KeySegment] = SegmentApproach
	p.values[KeyWeightCP] = 1e-6
	p.values[KeyXAxis] = "tip position"
	p.values[KeyYAxis] = "force"
	return p
}

func isConfigKey(key string) bool {
	for _, k := range configKeys {
		if k == key {
			return true
		}
	}
	return false
}

func isResultKey(key string) bool {
	for _, k := range resultKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the stored value for key.
func (p *Properties) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is set.
func (p *Properties) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Set stores a property value. Setting a configuration key to a new
// value drops all result keys; setting it to its current value is a
// no-op. A model key change additionally clears the initial
// parameters. While the plateau search is enabled, a range change
// that keeps the upper bound is ignored entirely. Unknown keys yield
// a *KeyError.
func (p *Properties) Set(key string, value any) error {
	if isConfigKey(key) {
		if err := checkConfigValue(key, value); err != nil {
			return err
		}
		cur, present := p.values[key]
		if present && propsEqual(cur, value) {
			p.values[key] = value
			return nil
		}
		switch key {
		case KeyModelKey:
			// a different model has different parameters
			p.values[KeyParamsInitial] = (*lsq.Parameters)(nil)
		case KeyRangeX:
			if p.plateauActive() && present {
				curRange := cur.([]float64)
				newRange := value.([]float64)
				if curRange[1] == newRange[1] {
					// only the lower bound changed; the plateau
					// search overrides it anyway
					return nil
				}
			}
		}
		p.Reset()
		p.values[key] = value
		return nil
	}
	if isResultKey(key) {
		p.values[key] = value
		return nil
	}
	return &KeyError{Key: key, Reason: "not a fit property"}
}

func (p *Properties) plateauActive() bool {
	v, ok := p.values[KeyOptimalFitEDelta]
	return ok && v == true
}

func checkConfigValue(key string, value any) error {
	bad := func(want string) error {
		return &KeyError{Key: key,
			Reason: fmt.Sprintf("want %s, got %T", want, value)}
	}
	switch key {
	case KeyModelKey, KeyRangeType, KeyXAxis, KeyYAxis:
		if _, ok := value.(string); !ok {
			return bad("string")
		}
	case KeySegment:
		s, ok := value.(string)
		if !ok {
			return bad("string")
		}
		if s != SegmentApproach && s != SegmentRetract {
			return &KeyError{Key: key,
				Reason: fmt.Sprintf("must be %q or %q", SegmentApproach, SegmentRetract)}
		}
	case KeyOptimalFitEDelta:
		if _, ok := value.(bool); !ok {
			return bad("bool")
		}
	case KeyOptimalFitSamples:
		if _, ok := value.(int); !ok {
			return bad("int")
		}
	case KeyWeightCP:
		if _, ok := value.(float64); !ok {
			return bad("float64")
		}
	case KeyRangeX:
		r, ok := value.([]float64)
		if !ok {
			return bad("[]float64")
		}
		if len(r) != 2 {
			return &KeyError{Key: key, Reason: "must have length 2"}
		}
	case KeyPreprocessing:
		if _, ok := value.([]string); !ok {
			return bad("[]string")
		}
	case KeyPreprocessingOpts:
		if value != nil {
			if _, ok := value.(map[string]preproc.StepOptions); !ok {
				return bad("map[string]preproc.StepOptions")
			}
		}
	case KeyParamsInitial:
		if value != nil {
			if _, ok := value.(*lsq.Parameters); !ok {
				return bad("*lsq.Parameters")
			}
		}
	}
	return nil
}

func propsEqual(a, b any) bool {
	if ap, ok := a.(*lsq.Parameters); ok {
		bp, ok2 := b.(*lsq.Parameters)
		if !ok2 {
			return false
		}
		if ap == nil || bp == nil {
			return ap == nil && bp == nil
		}
		return ap.Equal(bp)
	}
	return reflect.DeepEqual(a, b)
}

// Drop removes a single stored value without invalidation.
func (p *Properties) Drop(key string) {
	delete(p.values, key)
}

// Reset removes all result keys, leaving the configuration intact.
func (p *Properties) Reset() {
	for _, key := range resultKeys {
		delete(p.values, key)
	}
}

// Restore bulk-loads values without triggering invalidation, e.g.
// when adopting a persisted or freshly computed fit.
func (p *Properties) Restore(values map[string]any) {
	for key, v := range values {
		p.values[key] = v
	}
}

// Snapshot returns a shallow copy of all stored values.
func (p *Properties) Snapshot() map[string]any {
	out := make(map[string]any, len(p.values))
	for key, v := range p.values {
		out[key] = v
	}
	return out
}

// HasHash reports whether a fit hash is stored, meaning the current
// configuration has already been fitted.
func (p *Properties) HasHash() bool {
	h, ok := p.values[KeyHash].(string)
	return ok && h != ""
}

// Hash returns the stored fit hash, if any.
func (p *Properties) Hash() string {
	h, _ := p.values[KeyHash].(string)
	return h
}

// Typed configuration accessors with the documented defaults.

func (p *Properties) stringVal(key, fallback string) string {
	if v, ok := p.values[key].(string); ok {
		return v
	}
	return fallback
}

// ModelKey returns the configured model key.
func (p *Properties) ModelKey() string {
	return p.stringVal(KeyModelKey, "hertz_para")
}

// Segment returns the configured segment name.
func (p *Properties) Segment() string {
	return p.stringVal(KeySegment, SegmentApproach)
}

// SegmentRetract maps the segment name onto the boolean stored in the
// curve's segment column.
func (p *Properties) SegmentRetract() (bool, error) {
	switch p.Segment() {
	case SegmentApproach:
		return false, nil
	case SegmentRetract:
		return true, nil
	}
	return false, &KeyError{Key: KeySegment,
		Reason: fmt.Sprintf("unknown segment %q", p.Segment())}
}

// RangeType returns the configured range type.
func (p *Properties) RangeType() string {
	return p.stringVal(KeyRangeType, RangeAbsolute)
}

// RangeX returns a copy of the fitting range.
func (p *Properties) RangeX() []float64 {
	if r, ok := p.values[KeyRangeX].([]float64); ok && len(r) == 2 {
		return []float64{r[0], r[1]}
	}
	return []float64{0, 0}
}

// WeightCP returns the contact point weighting distance.
func (p *Properties) WeightCP() float64 {
	if v, ok := p.values[KeyWeightCP].(float64); ok {
		return v
	}
	return 1e-6
}

// PlateauSearch reports whether the optimal-indentation search is on.
func (p *Properties) PlateauSearch() bool {
	return p.plateauActive()
}

// PlateauSamples returns the number of plateau-search samples.
func (p *Properties) PlateauSamples() int {
	if v, ok := p.values[KeyOptimalFitSamples].(int); ok {
		return v
	}
	return 100
}

// XAxis returns the abscissa column name.
func (p *Properties) XAxis() string {
	return p.stringVal(KeyXAxis, "tip position")
}

// YAxis returns the ordinate column name.
func (p *Properties) YAxis() string {
	return p.stringVal(KeyYAxis, "force")
}

// ParamsInitial returns the configured initial parameters or nil.
func (p *Properties) ParamsInitial() *lsq.Parameters {
	ps, _ := p.values[KeyParamsInitial].(*lsq.Parameters)
	return ps
}

// ParamsFitted returns the fitted parameters or nil.
func (p *Properties) ParamsFitted() *lsq.Parameters {
	ps, _ := p.values[KeyParamsFitted].(*lsq.Parameters)
	return ps
}

// Preprocessing returns the configured preprocessing identifiers.
func (p *Properties) Preprocessing() []string {
	ids, _ := p.values[KeyPreprocessing].([]string)
	return ids
}

// PreprocessingOptions returns the per-step preprocessing options.
func (p *Properties) PreprocessingOptions() map[string]preproc.StepOptions {
	opts, _ := p.values[KeyPreprocessingOpts].(map[string]preproc.StepOptions)
	return opts
}

// Success reports whether the last fit succeeded.
func (p *Properties) Success() bool {
	v, _ := p.values[KeySuccess].(bool)
	return v
}

// ChiSqr returns the last fit's sum of squared residuals.
func (p *Properties) ChiSqr() float64 {
	if v, ok := p.values[KeyChiSqr].(float64); ok {
		return v
	}
	return math.NaN()
}
