package fit

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fd-fit/internal/lsq"
	"fd-fit/internal/model"
	"fd-fit/pkg/curve"
)

// hertzCurve builds a synthetic approach curve of a parabolic indenter
// with contact point at tip position zero.
//
// The tip position runs from 1 um above the surface to 1.5 um
// indentation; the force follows the paraboloidal Hertz model with the
// given modulus (Pa), R = 10 um, nu = 0.5 and relative noise.
func hertzCurve(t *testing.T, n int, emod, noise float64) *curve.Curve {
	t.Helper()
	const radius = 10e-6
	aa := 4.0 / 3.0 * emod / (1 - 0.25) * math.Sqrt(radius)

	rng := rand.New(rand.NewSource(42))
	tip := make([]float64, n)
	force := make([]float64, n)
	var fmax float64
	for i := range tip {
		tip[i] = 1e-6 - 2.5e-6*float64(i)/float64(n-1)
		if tip[i] < 0 {
			force[i] = aa * math.Pow(-tip[i], 1.5)
		}
		if force[i] > fmax {
			fmax = force[i]
		}
	}
	if noise > 0 {
		for i := range force {
			force[i] += noise * fmax * rng.NormFloat64()
		}
	}

	c := curve.New(n)
	require.NoError(t, c.SetInnate(curve.ColForce, force))
	require.NoError(t, c.SetInnate(curve.ColTipPosition, tip))
	require.NoError(t, c.SetInnate(curve.ColSegment, make([]float64, n)))
	return c
}

func builtinReg() *model.Registry {
	return model.NewBuiltinRegistry()
}

func TestNewFitterValidation(t *testing.T) {
	c := hertzCurve(t, 100, 1000, 0)
	reg := builtinReg()

	set := func(key string, v any) *Properties {
		p := NewProperties()
		if err := p.Set(key, v); err != nil {
			t.Fatal(err)
		}
		return p
	}

	var kerr *KeyError

	_, err := NewFitter(c, reg, set(KeyRangeType, "bogus"))
	require.ErrorAs(t, err, &kerr)

	_, err = NewFitter(c, reg, set(KeyRangeX, []float64{math.NaN(), 0}))
	require.ErrorAs(t, err, &kerr)

	_, err = NewFitter(c, reg, set(KeyModelKey, "no_such_model"))
	require.ErrorAs(t, err, &kerr)

	// plateau search needs an E parameter
	p := NewProperties()
	params := lsq.NewParameters()
	params.Add(lsq.Param{Name: "contact_point", Value: 0, Vary: true})
	require.NoError(t, p.Set(KeyParamsInitial, params))
	require.NoError(t, p.Set(KeyOptimalFitEDelta, true))
	_, err = NewFitter(c, reg, p)
	require.ErrorAs(t, err, &kerr)

	// plateau search needs an absolute range
	p = NewProperties()
	require.NoError(t, p.Set(KeyOptimalFitEDelta, true))
	require.NoError(t, p.Set(KeyRangeType, RangeRelativeCP))
	_, err = NewFitter(c, reg, p)
	require.ErrorAs(t, err, &kerr)

	// all model parameters must be present
	p = NewProperties()
	params = lsq.NewParameters()
	params.Add(lsq.Param{Name: "E", Value: 3e3, Vary: true})
	require.NoError(t, p.Set(KeyParamsInitial, params))
	_, err = NewFitter(c, reg, p)
	require.ErrorAs(t, err, &kerr)
}

func TestNewFitterInvertedRangeWarns(t *testing.T) {
	c := hertzCurve(t, 100, 1000, 0)
	p := NewProperties()
	require.NoError(t, p.Set(KeyRangeX, []float64{1e-6, -1e-6}))
	f, err := NewFitter(c, builtinReg(), p)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Warnings)
}

func TestFitAbsoluteRecoversModulus(t *testing.T) {
	c := hertzCurve(t, 400, 1000, 0.01)
	f, err := NewFitter(c, builtinReg(), nil)
	require.NoError(t, err)

	require.NoError(t, f.Fit())
	fp := f.Properties()
	require.True(t, fp.Success())

	fitted := fp.ParamsFitted()
	require.NotNil(t, fitted)
	assert.InEpsilon(t, 1000, fitted.Value("E"), 0.05)
	assert.InDelta(t, 0, fitted.Value("contact_point"), 1e-7)
	assert.False(t, math.IsNaN(fp.ChiSqr()))

	// fit curve covers the segment, NaN elsewhere is impossible here
	// because the whole curve is approach
	for _, v := range f.FitCurve() {
		assert.False(t, math.IsNaN(v))
	}
}

func TestFitRelativeContactPoint(t *testing.T) {
	c := hertzCurve(t, 400, 1000, 0.005)
	p := NewProperties()
	require.NoError(t, p.Set(KeyRangeType, RangeRelativeCP))
	require.NoError(t, p.Set(KeyRangeX, []float64{-1e-6, 0}))

	f, err := NewFitter(c, builtinReg(), p)
	require.NoError(t, err)
	require.NoError(t, f.Fit())

	fp := f.Properties()
	require.True(t, fp.Success())
	fitted := fp.ParamsFitted()
	require.NotNil(t, fitted)
	assert.InEpsilon(t, 1000, fitted.Value("E"), 0.1)

	// the final fitting window hugs the fitted contact point
	xmin, ok := fp.Get(KeyXMin)
	require.True(t, ok)
	assert.InDelta(t, fitted.Value("contact_point")-1e-6, xmin.(float64), 5e-8)
}

func TestFitUnderDetermined(t *testing.T) {
	c := hertzCurve(t, 400, 1000, 0)
	p := NewProperties()
	// a window narrower than the sample spacing leaves ~1 point
	require.NoError(t, p.Set(KeyRangeX, []float64{-1.300e-6, -1.295e-6}))

	f, err := NewFitter(c, builtinReg(), p)
	require.NoError(t, err)
	require.NoError(t, f.Fit())

	fp := f.Properties()
	assert.False(t, fp.Success())
	assert.Nil(t, fp.ParamsFitted())
	assert.True(t, math.IsNaN(f.FitCurve()[0]))
}

func TestFitPlateauSearch(t *testing.T) {
	c := hertzCurve(t, 600, 1000, 0)
	p := NewProperties()
	require.NoError(t, p.Set(KeyOptimalFitEDelta, true))
	require.NoError(t, p.Set(KeyOptimalFitSamples, 20))

	f, err := NewFitter(c, builtinReg(), p)
	require.NoError(t, err)
	require.NoError(t, f.Fit())

	fp := f.Properties()
	require.True(t, fp.Success())

	dopt, ok := fp.Get(KeyOptDelta)
	require.True(t, ok)
	d := dopt.(float64)
	assert.Less(t, d, 0.0)
	assert.Greater(t, d, -1.5e-6)

	emoduli, ok := fp.Get(KeyOptEArray)
	require.True(t, ok)
	require.Len(t, emoduli.([]float64), 20)
	// noise-free data keeps the modulus on a plateau
	for _, e := range emoduli.([]float64) {
		assert.InEpsilon(t, 1000, e, 0.1)
	}

	fitted := fp.ParamsFitted()
	require.NotNil(t, fitted)
	assert.InEpsilon(t, 1000, fitted.Value("E"), 0.05)
}

func TestFitPlateauDeterministic(t *testing.T) {
	run := func() float64 {
		c := hertzCurve(t, 600, 1000, 0)
		p := NewProperties()
		require.NoError(t, p.Set(KeyOptimalFitEDelta, true))
		require.NoError(t, p.Set(KeyOptimalFitSamples, 20))
		f, err := NewFitter(c, builtinReg(), p)
		require.NoError(t, err)
		require.NoError(t, f.Fit())
		dopt, _ := f.Properties().Get(KeyOptDelta)
		return dopt.(float64)
	}
	assert.Equal(t, run(), run())
}

func TestEModulusCallbackCadence(t *testing.T) {
	c := hertzCurve(t, 600, 1000, 0)
	p := NewProperties()
	require.NoError(t, p.Set(KeyOptimalFitSamples, 11))
	f, err := NewFitter(c, builtinReg(), p)
	require.NoError(t, err)

	calls := 0
	_, _, err = f.EModulusVsMinIndentation(func(e, d []float64) {
		calls++
	})
	require.NoError(t, err)
	// samples 0, 5 and 10
	assert.Equal(t, 3, calls)
}

func TestEModulusDirectionChecks(t *testing.T) {
	// force decreasing on an approach segment looks like retract data
	n := 200
	c := curve.New(n)
	force := make([]float64, n)
	tip := make([]float64, n)
	for i := range force {
		force[i] = 1 - float64(i)/float64(n)
		tip[i] = 1e-6 - 2.5e-6*float64(i)/float64(n-1)
	}
	require.NoError(t, c.SetInnate(curve.ColForce, force))
	require.NoError(t, c.SetInnate(curve.ColTipPosition, tip))
	require.NoError(t, c.SetInnate(curve.ColSegment, make([]float64, n)))

	f, err := NewFitter(c, builtinReg(), nil)
	require.NoError(t, err)
	_, _, err = f.EModulusVsMinIndentation(nil)
	var derr *DataError
	require.ErrorAs(t, err, &derr)
}

func TestEModulusNeedsIndentation(t *testing.T) {
	// tip position never crosses zero: no indentation data
	n := 200
	c := curve.New(n)
	force := make([]float64, n)
	tip := make([]float64, n)
	for i := range force {
		force[i] = float64(i) / float64(n)
		tip[i] = 3e-6 - 2e-6*float64(i)/float64(n-1)
	}
	require.NoError(t, c.SetInnate(curve.ColForce, force))
	require.NoError(t, c.SetInnate(curve.ColTipPosition, tip))
	require.NoError(t, c.SetInnate(curve.ColSegment, make([]float64, n)))

	f, err := NewFitter(c, builtinReg(), nil)
	require.NoError(t, err)
	_, _, err = f.EModulusVsMinIndentation(nil)
	var kerr *KeyError
	require.ErrorAs(t, err, &kerr)
}

func TestOptimalMinIndentationPlateau(t *testing.T) {
	n := 100
	emoduli := make([]float64, n)
	indentations := make([]float64, n)
	for i := range emoduli {
		indentations[i] = -2e-6 + 1.9e-6*float64(i)/float64(n-1)
		if i < 30 {
			// decay onto the plateau
			emoduli[i] = 1000 + 500*float64(30-i)/30
		} else {
			emoduli[i] = 1000
		}
	}
	dopt, warns := OptimalMinIndentation(emoduli, indentations)
	assert.Empty(t, warns)
	// the plateau spans the second two thirds of the depth range
	assert.Greater(t, dopt, -1.6e-6)
	assert.Less(t, dopt, -0.1e-6)
}

func TestOptimalMinIndentationFallback(t *testing.T) {
	n := 50
	emoduli := make([]float64, n)
	indentations := make([]float64, n)
	for i := range indentations {
		indentations[i] = -1e-6 + 0.9e-6*float64(i)/float64(n-1)
	}
	dopt, warns := OptimalMinIndentation(emoduli, indentations)
	assert.NotEmpty(t, warns)
	assert.True(t, math.IsNaN(dopt))
}
