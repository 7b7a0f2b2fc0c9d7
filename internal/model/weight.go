package model

import "math"

// WeightCP computes contact-point weights for residual scaling.
//
// The region right at the contact point shows artifacts (adhesion,
// snap-in) that Hertz-type models cannot describe; weights de-emphasize
// it. Weights rise linearly with |delta-cp| from 0 at the contact point
// to 1 at weightDist and are clamped to 1 beyond.
func WeightCP(cp float64, delta []float64, weightDist float64) []float64 {
	w := make([]float64, len(delta))
	for i, d := range delta {
		x := math.Abs(d-cp) / weightDist
		if x > 1 {
			x = 1
		}
		w[i] = x
	}
	return w
}
