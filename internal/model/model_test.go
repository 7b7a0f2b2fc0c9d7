package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fd-fit/internal/lsq"
)

func TestBuiltinRegistry(t *testing.T) {
	reg := NewBuiltinRegistry()
	assert.Equal(t, []string{
		KeyHertzConical,
		KeyHertzParaboloidal,
		KeyHertzPyramid3,
		KeySneddonSpherApprox,
	}, reg.Keys())

	d, err := reg.Get(KeyHertzParaboloidal)
	require.NoError(t, err)
	assert.Equal(t, "parabolic indenter (Hertz)", d.Name)
	assert.NotNil(t, d.Residual)

	_, err = reg.Get("does_not_exist")
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = reg.GetByName("conical indenter (Hertz)")
	assert.NoError(t, err)
	_, err = reg.GetByName("nope")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func validDescriptor() Descriptor {
	return Descriptor{
		Key:            "test_model",
		Name:           "test model",
		ParameterKeys:  []string{"E", "contact_point"},
		ParameterNames: []string{"Young's Modulus", "Contact Point"},
		ParameterUnits: []string{"Pa", "m"},
		DefaultParams: func() *lsq.Parameters {
			p := lsq.NewParameters()
			p.Add(lsq.Param{Name: "E", Value: 1e3, Min: 0, Max: math.Inf(1), Vary: true})
			p.Add(lsq.Param{Name: "contact_point", Value: 0, Vary: true})
			return p
		},
		Model: func(p *lsq.Parameters, x []float64) []float64 {
			return make([]float64, len(x))
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	var implErr *ImplementationError

	t.Run("valid", func(t *testing.T) {
		reg := NewRegistry()
		assert.NoError(t, reg.Register(validDescriptor()))
		assert.True(t, reg.Has("test_model"))
	})

	t.Run("unit length mismatch", func(t *testing.T) {
		d := validDescriptor()
		d.ParameterUnits = []string{"Pa"}
		err := NewRegistry().Register(d)
		require.ErrorAs(t, err, &implErr)
	})

	t.Run("duplicate names", func(t *testing.T) {
		d := validDescriptor()
		d.ParameterNames = []string{"Young's Modulus", "Young's Modulus"}
		err := NewRegistry().Register(d)
		require.ErrorAs(t, err, &implErr)
	})

	t.Run("key order mismatch", func(t *testing.T) {
		d := validDescriptor()
		d.ParameterKeys = []string{"contact_point", "E"}
		d.ParameterNames = []string{"Contact Point", "Young's Modulus"}
		d.ParameterUnits = []string{"m", "Pa"}
		err := NewRegistry().Register(d)
		require.ErrorAs(t, err, &implErr)
	})

	t.Run("incomplete ancillary", func(t *testing.T) {
		d := validDescriptor()
		d.Ancillary = &AncillaryRecipe{
			Keys:  []string{"E_anc"},
			Names: []string{"ancillary E", "extra"},
			Units: []string{"Pa"},
		}
		err := NewRegistry().Register(d)
		require.ErrorAs(t, err, &implErr)
	})

	t.Run("overwrite by key", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(validDescriptor()))
		d := validDescriptor()
		d.Name = "replacement"
		require.NoError(t, reg.Register(d))
		got, err := reg.Get("test_model")
		require.NoError(t, err)
		assert.Equal(t, "replacement", got.Name)
	})
}

func TestHertzParaboloidalForward(t *testing.T) {
	reg := NewBuiltinRegistry()
	d, err := reg.Get(KeyHertzParaboloidal)
	require.NoError(t, err)

	p := d.DefaultParams()
	require.NoError(t, p.SetValue("E", 1000))
	require.NoError(t, p.SetValue("R", 10e-6))
	require.NoError(t, p.SetValue("contact_point", 0))

	// baseline region evaluates to the baseline
	out := d.Model(p, []float64{1e-6, 0.5e-6, 0})
	assert.Equal(t, []float64{0, 0, 0}, out)

	// indentation of 1 µm: F = 4/3*E/(1-nu²)*sqrt(R)*delta^1.5
	delta := 1e-6
	want := 4.0 / 3.0 * 1000 / (1 - 0.25) * math.Sqrt(10e-6) * math.Pow(delta, 1.5)
	out = d.Model(p, []float64{-delta})
	assert.InDelta(t, want, out[0], want*1e-12)
}

func TestSneddonApproxReducesToHertzForSmallIndentation(t *testing.T) {
	reg := NewBuiltinRegistry()
	hertz, err := reg.Get(KeyHertzParaboloidal)
	require.NoError(t, err)
	sneddon, err := reg.Get(KeySneddonSpherApprox)
	require.NoError(t, err)

	ph := hertz.DefaultParams()
	ps := sneddon.DefaultParams()
	x := []float64{-1e-9, -5e-9, -10e-9} // indentation << R
	fh := hertz.Model(ph, x)
	fs := sneddon.Model(ps, x)
	for i := range x {
		assert.InDelta(t, fh[i], fs[i], math.Abs(fh[i])*1e-3)
	}
}

func TestWeightCP(t *testing.T) {
	delta := []float64{-2e-6, -1e-6, -0.5e-6, 0, 0.5e-6, 2e-6}
	w := WeightCP(0, delta, 1e-6)
	assert.InDeltaSlice(t, []float64{1, 1, 0.5, 0, 0.5, 1}, w, 1e-12)

	// widening the window lowers weights near the contact point
	w2 := WeightCP(0, delta, 2e-6)
	assert.Less(t, w2[2], w[2])
	assert.Equal(t, 0.0, w2[3])
}

func TestDefaultResidualWeighting(t *testing.T) {
	d := validDescriptor()
	reg := NewRegistry()
	require.NoError(t, reg.Register(d))
	got, err := reg.Get("test_model")
	require.NoError(t, err)

	p := got.DefaultParams()
	x := []float64{-2, -1, 0, 1}
	y := []float64{1, 1, 1, 1}

	// without weighting: residual = data - 0
	res := got.Residual(p, x, y, 0)
	assert.Equal(t, []float64{1, 1, 1, 1}, res)

	// with weighting: residual at the contact point is zeroed
	res = got.Residual(p, x, y, 1)
	assert.Equal(t, 0.0, res[2])
	assert.Equal(t, 1.0, res[0])
}
