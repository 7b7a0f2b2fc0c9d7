package lsq

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Method selects the minimization backend.
type Method int

const (
	// MethodNelderMead is the derivative-free default.
	MethodNelderMead Method = iota
	// MethodLBFGS is derivative-based; gradients are estimated by
	// finite differences.
	MethodLBFGS
)

func (m Method) gonumMethod() optimize.Method {
	switch m {
	case MethodLBFGS:
		return &optimize.LBFGS{}
	default:
		return &optimize.NelderMead{}
	}
}

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodLBFGS:
		return "lbfgs"
	default:
		return "nelder-mead"
	}
}

// Options configures Minimize.
type Options struct {
	Method Method
	// MaxIterations bounds the number of major iterations; zero means
	// the default of 2000.
	MaxIterations int
}

// Result holds the outcome of a minimization.
type Result struct {
	// Params contains the fitted parameter values (expression-linked
	// parameters evaluated at the solution).
	Params *Parameters
	// Success is false when the optimizer failed to converge; the
	// parameters then hold the best point seen.
	Success bool
	// ChiSqr is the sum of squared residuals at the solution.
	ChiSqr float64
}

// Residual computes the residual vector for the given parameters into
// out (length fixed by the caller of Minimize).
type Residual func(p *Parameters, out []float64)

// Minimize runs nonlinear least squares: it minimizes the sum of
// squared residuals over the varied parameters, honoring bounds via the
// usual internal/external variable transform. nResiduals is the length
// of the residual vector.
func Minimize(residual Residual, params *Parameters, nResiduals int, opts Options) (*Result, error) {
	if nResiduals <= 0 {
		return nil, fmt.Errorf("lsq: need at least one residual, got %d", nResiduals)
	}
	work := params.Copy()
	var varied []*Param
	for _, name := range work.order {
		if p := work.params[name]; p.Vary {
			varied = append(varied, p)
		}
	}
	if len(varied) == 0 {
		return nil, fmt.Errorf("lsq: no free parameters")
	}

	x0 := make([]float64, len(varied))
	for i, p := range varied {
		x0[i] = toInternal(clampToBounds(p.Value, p.Min, p.Max), p.Min, p.Max)
	}

	res := make([]float64, nResiduals)
	apply := func(x []float64) {
		for i, p := range varied {
			p.Value = toExternal(x[i], p.Min, p.Max)
		}
		work.evalExprs()
	}
	objective := func(x []float64) float64 {
		apply(x)
		residual(work, res)
		sum := 0.0
		for _, r := range res {
			sum += r * r
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return math.MaxFloat64
		}
		return sum
	}

	maxIter := opts.MaxIterations
	if maxIter == 0 {
		maxIter = 2000
	}

	// Normalize the objective to its start value: force-curve residual
	// sums sit around 1e-16 N^2, far below any absolute convergence
	// threshold, so convergence must be judged on the relative scale.
	scale := 1.0
	if f0 := objective(x0); f0 > 0 && f0 < math.MaxFloat64 {
		scale = 1 / f0
	}
	scaled := func(x []float64) float64 {
		v := objective(x)
		if v == math.MaxFloat64 {
			return v
		}
		return v * scale
	}

	problem := optimize.Problem{Func: scaled}
	if opts.Method == MethodLBFGS {
		// gonum does not derive gradients on its own
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, scaled, x, nil)
		}
	}
	settings := &optimize.Settings{MajorIterations: maxIter}

	out, err := optimize.Minimize(problem, x0, settings, opts.Method.gonumMethod())
	success := err == nil && out != nil && out.Status != optimize.Failure
	if out != nil {
		apply(out.X)
	} else {
		apply(x0)
	}
	residual(work, res)
	chi := 0.0
	for _, r := range res {
		chi += r * r
	}
	return &Result{Params: work, Success: success, ChiSqr: chi}, nil
}

func clampToBounds(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toInternal maps a bounded external value onto an unconstrained
// internal coordinate (the MINUIT bound transform).
func toInternal(v, lo, hi float64) float64 {
	loInf, hiInf := math.IsInf(lo, -1), math.IsInf(hi, 1)
	switch {
	case loInf && hiInf:
		return v
	case hiInf:
		d := v - lo + 1
		if d < 1 {
			d = 1
		}
		return math.Sqrt(d*d - 1)
	case loInf:
		d := hi - v + 1
		if d < 1 {
			d = 1
		}
		return math.Sqrt(d*d - 1)
	default:
		frac := 2*(v-lo)/(hi-lo) - 1
		if frac < -1 {
			frac = -1
		} else if frac > 1 {
			frac = 1
		}
		return math.Asin(frac)
	}
}

// toExternal is the inverse of toInternal.
func toExternal(x, lo, hi float64) float64 {
	loInf, hiInf := math.IsInf(lo, -1), math.IsInf(hi, 1)
	switch {
	case loInf && hiInf:
		return x
	case hiInf:
		return lo - 1 + math.Sqrt(x*x+1)
	case loInf:
		return hi + 1 - math.Sqrt(x*x+1)
	default:
		return lo + (math.Sin(x)+1)/2*(hi-lo)
	}
}
