package lsq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParametersOrderAndCopy(t *testing.T) {
	ps := NewParameters()
	ps.Add(Param{Name: "E", Value: 3e3, Min: 0, Max: math.Inf(1), Vary: true})
	ps.Add(Param{Name: "R", Value: 10e-6})
	ps.Add(Param{Name: "contact_point", Value: 0, Vary: true})

	assert.Equal(t, []string{"E", "R", "contact_point"}, ps.Names())
	assert.Equal(t, 2, ps.CountVaried())

	cp := ps.Copy()
	require.NoError(t, cp.SetValue("E", 1))
	assert.Equal(t, 3e3, ps.Value("E"))
	assert.Equal(t, 1.0, cp.Value("E"))
	assert.False(t, ps.Equal(cp))
	require.NoError(t, cp.SetValue("E", 3e3))
	assert.True(t, ps.Equal(cp))
}

func TestZeroBoundsMeanUnbounded(t *testing.T) {
	ps := NewParameters()
	ps.Add(Param{Name: "baseline", Value: 0})
	p, err := ps.Get("baseline")
	require.NoError(t, err)
	assert.True(t, math.IsInf(p.Min, -1))
	assert.True(t, math.IsInf(p.Max, 1))
}

func TestBoundTransformRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		v      float64
		lo, hi float64
	}{
		{"unbounded", 1.5, math.Inf(-1), math.Inf(1)},
		{"lower only", 2.0, 0, math.Inf(1)},
		{"upper only", -3.0, math.Inf(-1), 0},
		{"two sided", 0.25, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := toInternal(tc.v, tc.lo, tc.hi)
			back := toExternal(x, tc.lo, tc.hi)
			assert.InDelta(t, tc.v, back, 1e-9)
		})
	}
}

func TestMinimizeLine(t *testing.T) {
	// y = 2x + 1
	xs := []float64{0, 1, 2, 3, 4, 5}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 2*x + 1
	}

	ps := NewParameters()
	ps.Add(Param{Name: "m", Value: 0.5, Vary: true})
	ps.Add(Param{Name: "b", Value: 0, Vary: true})

	residual := func(p *Parameters, out []float64) {
		m, b := p.Value("m"), p.Value("b")
		for i, x := range xs {
			out[i] = ys[i] - (m*x + b)
		}
	}

	for _, method := range []Method{MethodNelderMead, MethodLBFGS} {
		res, err := Minimize(residual, ps, len(xs), Options{Method: method})
		require.NoError(t, err, method.String())
		assert.True(t, res.Success, method.String())
		assert.InDelta(t, 2.0, res.Params.Value("m"), 1e-4)
		assert.InDelta(t, 1.0, res.Params.Value("b"), 1e-4)
		assert.Less(t, res.ChiSqr, 1e-6)
	}
	// the input parameters must not be mutated
	assert.Equal(t, 0.5, ps.Value("m"))
}

func TestMinimizeRespectsBounds(t *testing.T) {
	// best unconstrained value for c is -1, but c is bounded at 0
	xs := []float64{1, 2, 3}
	ps := NewParameters()
	ps.Add(Param{Name: "c", Value: 0.5, Min: 0, Max: math.Inf(1), Vary: true})
	residual := func(p *Parameters, out []float64) {
		c := p.Value("c")
		for i := range xs {
			out[i] = c + 1
		}
	}
	res, err := Minimize(residual, ps, len(xs), Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Params.Value("c"), 0.0)
	assert.InDelta(t, 0.0, res.Params.Value("c"), 1e-4)
}

func TestMinimizeExprLink(t *testing.T) {
	// b is always twice a
	xs := []float64{0, 1, 2, 3}
	ys := []float64{0, 3, 6, 9} // y = a*x + b*x = 3a*x, a=1
	ps := NewParameters()
	ps.Add(Param{Name: "a", Value: 0.2, Vary: true})
	ps.Add(Param{Name: "b", Value: 0, Expr: "2*a", ExprFn: func(p *Parameters) float64 {
		return 2 * p.Value("a")
	}})
	residual := func(p *Parameters, out []float64) {
		a, b := p.Value("a"), p.Value("b")
		for i, x := range xs {
			out[i] = ys[i] - (a*x + b*x)
		}
	}
	res, err := Minimize(residual, ps, len(xs), Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, 1.0, res.Params.Value("a"), 1e-4)
	assert.InDelta(t, 2.0, res.Params.Value("b"), 1e-4)
}

func TestMinimizeNoFreeParams(t *testing.T) {
	ps := NewParameters()
	ps.Add(Param{Name: "a", Value: 1})
	_, err := Minimize(func(p *Parameters, out []float64) {}, ps, 3, Options{})
	assert.Error(t, err)
}

func TestMinimizeNanoScaleResiduals(t *testing.T) {
	// force-sized data: residual sums around 1e-16 must still converge
	xs := make([]float64, 50)
	ys := make([]float64, 50)
	for i := range xs {
		xs[i] = float64(i)
		ys[i] = 3e-9 * xs[i]
	}
	ps := NewParameters()
	ps.Add(Param{Name: "a", Value: 1e-9, Vary: true})
	residual := func(p *Parameters, out []float64) {
		a := p.Value("a")
		for i, x := range xs {
			out[i] = ys[i] - a*x
		}
	}
	for _, method := range []Method{MethodNelderMead, MethodLBFGS} {
		res, err := Minimize(residual, ps, len(xs), Options{Method: method})
		require.NoError(t, err, method.String())
		assert.True(t, res.Success, method.String())
		assert.InEpsilon(t, 3e-9, res.Params.Value("a"), 1e-3, method.String())
	}
}
