package model

import (
	"math"

	"fd-fit/internal/lsq"
	"fd-fit/pkg/curve"
)

// Built-in model keys.
const (
	KeyHertzParaboloidal = "hertz_para"
	KeyHertzConical      = "hertz_cone"
	KeyHertzPyramid3     = "hertz_pyr3s"
	KeySneddonSpherApprox = "sneddon_spher_approx"
)

func builtinDescriptors() []Descriptor {
	return []Descriptor{
		hertzParaboloidal(),
		hertzConical(),
		hertzPyramid3(),
		sneddonSphericalApprox(),
	}
}

// indentation returns contact_point-delta clipped to positive values;
// the models evaluate to the baseline outside of contact.
func indentation(delta []float64, contactPoint float64) []float64 {
	root := make([]float64, len(delta))
	for i, d := range delta {
		if r := contactPoint - d; r > 0 {
			root[i] = r
		}
	}
	return root
}

// hertzParaboloidal: F = 4/3 E/(1-nu²) sqrt(R) (cp-delta)^(3/2) + baseline
func hertzParaboloidal() Descriptor {
	return Descriptor{
		Key:            KeyHertzParaboloidal,
		Name:           "parabolic indenter (Hertz)",
		ParameterKeys:  []string{"E", "R", "nu", "contact_point", "baseline"},
		ParameterNames: []string{"Young's Modulus", "Tip Radius", "Poisson's Ratio", "Contact Point", "Force Baseline"},
		ParameterUnits: []string{"Pa", "m", "", "m", "N"},
		DefaultParams: func() *lsq.Parameters {
			p := lsq.NewParameters()
			p.Add(lsq.Param{Name: "E", Value: 3e3, Min: 0, Max: math.Inf(1), Vary: true})
			p.Add(lsq.Param{Name: "R", Value: 10e-6, Vary: false})
			p.Add(lsq.Param{Name: "nu", Value: 0.5, Vary: false})
			p.Add(lsq.Param{Name: "contact_point", Value: 0, Vary: true})
			p.Add(lsq.Param{Name: "baseline", Value: 0, Vary: false})
			return p
		},
		Model: func(p *lsq.Parameters, x []float64) []float64 {
			e := p.Value("E")
			r := p.Value("R")
			nu := p.Value("nu")
			cp := p.Value("contact_point")
			bl := p.Value("baseline")
			aa := 4.0 / 3.0 * e / (1 - nu*nu) * math.Sqrt(r)
			out := indentation(x, cp)
			for i, root := range out {
				out[i] = aa*math.Pow(root, 1.5) + bl
			}
			return out
		},
		ValidAxesX: []string{curve.ColTipPosition},
		ValidAxesY: []string{curve.ColForce},
	}
}

// hertzConical: F = 2/pi tan(alpha) E/(1-nu²) (cp-delta)² + baseline
func hertzConical() Descriptor {
	return Descriptor{
		Key:            KeyHertzConical,
		Name:           "conical indenter (Hertz)",
		ParameterKeys:  []string{"E", "alpha", "nu", "contact_point", "baseline"},
		ParameterNames: []string{"Young's Modulus", "Half Cone Angle", "Poisson's Ratio", "Contact Point", "Force Baseline"},
		ParameterUnits: []string{"Pa", "°", "", "m", "N"},
		DefaultParams: func() *lsq.Parameters {
			p := lsq.NewParameters()
			p.Add(lsq.Param{Name: "E", Value: 3e3, Min: 0, Max: math.Inf(1), Vary: true})
			p.Add(lsq.Param{Name: "alpha", Value: 25, Min: 0, Max: 90, Vary: false})
			p.Add(lsq.Param{Name: "nu", Value: 0.5, Min: 0, Max: 0.5, Vary: false})
			p.Add(lsq.Param{Name: "contact_point", Value: 0, Vary: true})
			p.Add(lsq.Param{Name: "baseline", Value: 0, Vary: true})
			return p
		},
		Model: func(p *lsq.Parameters, x []float64) []float64 {
			e := p.Value("E")
			alpha := p.Value("alpha")
			nu := p.Value("nu")
			cp := p.Value("contact_point")
			bl := p.Value("baseline")
			aa := 2 * math.Tan(alpha*math.Pi/180) / math.Pi * e / (1 - nu*nu)
			out := indentation(x, cp)
			for i, root := range out {
				out[i] = aa*root*root + bl
			}
			return out
		},
		ValidAxesX: []string{curve.ColTipPosition},
		ValidAxesY: []string{curve.ColForce},
	}
}

// hertzPyramid3: F = 0.8887 tan(alpha) E/(1-nu²) (cp-delta)² + baseline
func hertzPyramid3() Descriptor {
	return Descriptor{
		Key:            KeyHertzPyramid3,
		Name:           "pyramidal indenter, three-sided (Hertz)",
		ParameterKeys:  []string{"E", "alpha", "nu", "contact_point", "baseline"},
		ParameterNames: []string{"Young's Modulus", "Face Angle", "Poisson's Ratio", "Contact Point", "Force Baseline"},
		ParameterUnits: []string{"Pa", "°", "", "m", "N"},
		DefaultParams: func() *lsq.Parameters {
			p := lsq.NewParameters()
			p.Add(lsq.Param{Name: "E", Value: 3e3, Min: 0, Max: math.Inf(1), Vary: true})
			p.Add(lsq.Param{Name: "alpha", Value: 25, Vary: false})
			p.Add(lsq.Param{Name: "nu", Value: 0.5, Vary: false})
			p.Add(lsq.Param{Name: "contact_point", Value: 0, Vary: true})
			p.Add(lsq.Param{Name: "baseline", Value: 0, Vary: false})
			return p
		},
		Model: func(p *lsq.Parameters, x []float64) []float64 {
			e := p.Value("E")
			alpha := p.Value("alpha")
			nu := p.Value("nu")
			cp := p.Value("contact_point")
			bl := p.Value("baseline")
			aa := 0.8887 * math.Tan(alpha*math.Pi/180) * e / (1 - nu*nu)
			out := indentation(x, cp)
			for i, root := range out {
				out[i] = aa*root*root + bl
			}
			return out
		},
		ValidAxesX: []string{curve.ColTipPosition},
		ValidAxesY: []string{curve.ColForce},
	}
}

// sneddonSphericalApprox: paraboloidal Hertz with Sneddon's series
// correction in (cp-delta)/R.
func sneddonSphericalApprox() Descriptor {
	return Descriptor{
		Key:            KeySneddonSpherApprox,
		Name:           "spherical indenter (Sneddon, approximative)",
		ParameterKeys:  []string{"E", "R", "nu", "contact_point", "baseline"},
		ParameterNames: []string{"Young's Modulus", "Tip Radius", "Poisson's Ratio", "Contact Point", "Force Baseline"},
		ParameterUnits: []string{"Pa", "m", "", "m", "N"},
		DefaultParams: func() *lsq.Parameters {
			p := lsq.NewParameters()
			p.Add(lsq.Param{Name: "E", Value: 3e3, Min: 0, Max: math.Inf(1), Vary: true})
			p.Add(lsq.Param{Name: "R", Value: 10e-6, Min: 0, Max: math.Inf(1), Vary: false})
			p.Add(lsq.Param{Name: "nu", Value: 0.5, Min: 0, Max: 0.5, Vary: false})
			p.Add(lsq.Param{Name: "contact_point", Value: 0, Vary: true})
			p.Add(lsq.Param{Name: "baseline", Value: 0, Vary: true})
			return p
		},
		Model: func(p *lsq.Parameters, x []float64) []float64 {
			e := p.Value("E")
			r := p.Value("R")
			nu := p.Value("nu")
			cp := p.Value("contact_point")
			bl := p.Value("baseline")
			aa := 4.0 / 3.0 * e / (1 - nu*nu) * math.Sqrt(r)
			out := indentation(x, cp)
			for i, root := range out {
				if root == 0 {
					out[i] = bl
					continue
				}
				q := root / r
				series := 1 - q/10 - q*q/840 + 11.0/15120*q*q*q +
					1357.0/6652800*q*q*q*q
				out[i] = aa*math.Pow(root, 1.5)*series + bl
			}
			return out
		},
		ValidAxesX: []string{curve.ColTipPosition},
		ValidAxesY: []string{curve.ColForce},
	}
}
