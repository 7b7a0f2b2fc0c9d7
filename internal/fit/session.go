package fit

import (
	"fd-fit/internal/lsq"
	"fd-fit/internal/model"
	"fd-fit/internal/preproc"
	"fd-fit/internal/rate"
	"fd-fit/pkg/curve"
)

// Session ties a curve to its fit configuration and caches work: a
// repeated FitModel call with unchanged configuration is free, and
// ratings are memoized per fit hash.
type Session struct {
	Curve    *curve.Curve
	Registry *model.Registry
	Props    *Properties

	rating rate.Cache
}

// NewSession wraps a curve for preprocessing, fitting and rating.
func NewSession(c *curve.Curve, reg *model.Registry) *Session {
	return &Session{
		Curve:    c,
		Registry: reg,
		Props:    NewProperties(),
	}
}

// ApplyPreprocessing runs the preprocessing pipeline when the step
// list or the step options differ from what is already applied.
// Changing either invalidates previous fit results through the
// property store.
func (s *Session) ApplyPreprocessing(identifiers []string, options map[string]preproc.StepOptions) (*preproc.Result, error) {
	past := s.Props.Preprocessing()
	pastOpts := s.Props.PreprocessingOptions()
	if stringsEqual(past, identifiers) && stepOptionsEqual(pastOpts, options) {
		return &preproc.Result{}, nil
	}
	if err := s.Props.Set(KeyPreprocessing, identifiers); err != nil {
		return nil, err
	}
	if err := s.Props.Set(KeyPreprocessingOpts, options); err != nil {
		return nil, err
	}
	res, err := preproc.Apply(s.Curve, identifiers, options)
	if err != nil {
		return nil, err
	}
	// a step list that no longer produces a configured axis makes
	// that axis setting meaningless
	for _, key := range []string{KeyXAxis, KeyYAxis} {
		if name, ok := s.Props.Get(key); ok {
			if col, isStr := name.(string); isStr && !s.Curve.HasColumn(col) {
				s.Props.Drop(key)
			}
		}
	}
	return res, nil
}

// FitModel fits the configured model to the curve. When the property
// store already holds a hash, the configuration has not changed since
// the last fit and nothing is done. On success the fit curve,
// residuals and range columns are written back into the curve.
func (s *Session) FitModel() ([]error, error) {
	if !s.Props.Has(KeyModelKey) {
		if err := s.Props.Set(KeyModelKey, DefaultProperties().ModelKey()); err != nil {
			return nil, err
		}
	}
	if s.Props.ParamsInitial() == nil {
		params, warns, err := InitialParameters(s.Curve, s.Registry, s.Props.ModelKey())
		if err != nil {
			return warns, err
		}
		if err := s.Props.Set(KeyParamsInitial, params); err != nil {
			return warns, err
		}
	}
	if s.Props.HasHash() {
		return nil, nil
	}

	fitter, err := NewFitter(s.Curve, s.Registry, s.Props)
	if err != nil {
		return nil, err
	}
	if err := fitter.Fit(); err != nil {
		return fitter.Warnings, err
	}

	if err := s.Curve.SetColumn(curve.ColFit, fitter.FitCurve()); err != nil {
		return fitter.Warnings, err
	}
	if err := s.Curve.SetColumn(curve.ColFitResiduals, fitter.FitResiduals()); err != nil {
		return fitter.Warnings, err
	}
	rangeCol := make([]float64, s.Curve.Len())
	for i, in := range fitter.FitRange() {
		if in {
			rangeCol[i] = 1
		}
	}
	if err := s.Curve.SetColumn(curve.ColFitRange, rangeCol); err != nil {
		return fitter.Warnings, err
	}

	s.Props.Restore(fitter.Properties().Snapshot())
	return fitter.Warnings, nil
}

// InitialParameters returns the current initial parameters, guessing
// them from the curve when they are not configured yet.
func (s *Session) InitialParameters() (*lsq.Parameters, []error, error) {
	if params := s.Props.ParamsInitial(); params != nil {
		return params, nil, nil
	}
	return InitialParameters(s.Curve, s.Registry, s.Props.ModelKey())
}

// AncillaryParameters computes the current model's ancillary values
// from the curve and the fitted (or initial) parameters.
func (s *Session) AncillaryParameters() (map[string]float64, error) {
	md, err := s.Registry.Get(s.Props.ModelKey())
	if err != nil {
		return nil, err
	}
	if md.Ancillary == nil {
		return map[string]float64{}, nil
	}
	params := s.Props.ParamsFitted()
	if params == nil {
		params = s.Props.ParamsInitial()
	}
	return md.Ancillary.Compute(s.Curve, params), nil
}

// RateQuality scores the fitted curve, caching per fit hash. Without a
// completed fit the sentinel rating is returned.
func (s *Session) RateQuality(reg rate.Regressor, trainingSet string, names []string, lda bool) float64 {
	return s.rating.Rate(s.Props.Hash(), reg, trainingSet, names, lda, s.Curve)
}

func stepOptionsEqual(a, b map[string]preproc.StepOptions) bool {
	if len(a) != len(b) {
		return false
	}
	for step, opts := range a {
		other, ok := b[step]
		if !ok || len(other) != len(opts) {
			return false
		}
		for name, v := range opts {
			if other[name] != v {
				return false
			}
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
