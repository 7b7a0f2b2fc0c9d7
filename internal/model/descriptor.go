// Package model defines contact-mechanics model descriptors, their
// registry and the built-in Hertz/Sneddon catalog.
package model

import (
	"errors"
	"fmt"

	"fd-fit/internal/lsq"
	"fd-fit/pkg/curve"
)

// ErrUnknownModel is returned by Registry.Get for unregistered keys.
var ErrUnknownModel = errors.New("unknown model")

// ImplementationError signals a broken model descriptor. It is raised
// at registration time so a broken model can never corrupt a fit.
type ImplementationError struct {
	Key    string
	Reason string
}

func (e *ImplementationError) Error() string {
	return fmt.Sprintf("model %q: %s", e.Key, e.Reason)
}

// ModelFunc evaluates the forward model force for the given abscissa.
type ModelFunc func(p *lsq.Parameters, x []float64) []float64

// ResidualFunc computes weighted residuals between data and model.
type ResidualFunc func(p *lsq.Parameters, x, y []float64, weightCP float64) []float64

// AncillaryRecipe describes derived quantities a model can compute from
// a curve and the current parameter set. Keys that match fitting
// parameter names may be used to refine initial parameters.
type AncillaryRecipe struct {
	Keys    []string
	Names   []string
	Units   []string
	Compute func(c *curve.Curve, p *lsq.Parameters) map[string]float64
}

// Descriptor is an immutable record describing one fit model.
type Descriptor struct {
	// Key identifies the model (e.g. "hertz_para").
	Key string
	// Name is the human-readable model name.
	Name string
	// ParameterKeys, ParameterNames and ParameterUnits describe the
	// fit parameters in the order the default factory defines them.
	ParameterKeys  []string
	ParameterNames []string
	ParameterUnits []string
	// DefaultParams builds the initial parameter set.
	DefaultParams func() *lsq.Parameters
	// Model is the forward function (abscissa first in data order).
	Model ModelFunc
	// Residual computes the weighted fit residuals. When nil, a
	// default data-minus-model residual with contact-point weighting
	// is installed at registration time.
	Residual ResidualFunc
	// ValidAxesX and ValidAxesY name the columns the model accepts.
	ValidAxesX []string
	ValidAxesY []string
	// Ancillary optionally computes derived parameters.
	Ancillary *AncillaryRecipe
}

// DefaultResidual wraps a forward model into the standard residual:
// data minus model, scaled by contact-point weights when weightCP > 0.
func DefaultResidual(fn ModelFunc) ResidualFunc {
	return func(p *lsq.Parameters, x, y []float64, weightCP float64) []float64 {
		md := fn(p, x)
		out := make([]float64, len(y))
		for i := range y {
			out[i] = y[i] - md[i]
		}
		if weightCP > 0 && p.Has("contact_point") {
			w := WeightCP(p.Value("contact_point"), x, weightCP)
			for i := range out {
				out[i] *= w[i]
			}
		}
		return out
	}
}

// validate performs the registration-time sanity checks.
func (d *Descriptor) validate() error {
	if d.Key == "" {
		return &ImplementationError{Key: d.Key, Reason: "empty model key"}
	}
	if d.DefaultParams == nil || d.Model == nil {
		return &ImplementationError{Key: d.Key,
			Reason: "descriptor must provide DefaultParams and Model"}
	}
	nk, nn, nu := len(d.ParameterKeys), len(d.ParameterNames), len(d.ParameterUnits)
	if nk != nn || nk != nu {
		return &ImplementationError{Key: d.Key, Reason: fmt.Sprintf(
			"parameter keys/names/units lengths differ: %d/%d/%d", nk, nn, nu)}
	}
	seen := make(map[string]bool, nn)
	for _, name := range d.ParameterNames {
		if seen[name] {
			return &ImplementationError{Key: d.Key,
				Reason: fmt.Sprintf("duplicate parameter name %q", name)}
		}
		seen[name] = true
	}
	defaults := d.DefaultParams()
	order := defaults.Names()
	if len(order) != nk {
		return &ImplementationError{Key: d.Key, Reason: fmt.Sprintf(
			"default factory defines %d parameters, descriptor lists %d",
			len(order), nk)}
	}
	for i, key := range d.ParameterKeys {
		if order[i] != key {
			return &ImplementationError{Key: d.Key, Reason: fmt.Sprintf(
				"parameter key order mismatch at %d: factory %q, descriptor %q",
				i, order[i], key)}
		}
	}
	if anc := d.Ancillary; anc != nil {
		if len(anc.Keys) != len(anc.Names) || len(anc.Keys) != len(anc.Units) {
			return &ImplementationError{Key: d.Key, Reason: fmt.Sprintf(
				"ancillary keys/names/units lengths differ: %d/%d/%d",
				len(anc.Keys), len(anc.Names), len(anc.Units))}
		}
		if anc.Compute == nil {
			return &ImplementationError{Key: d.Key,
				Reason: "ancillary recipe without Compute function"}
		}
	}
	return nil
}
