// Package rate scores the quality of fitted force-distance curves and
// memoizes the result per fit hash.
package rate

import (
	"math"
	"strings"

	"fd-fit/pkg/curve"
)

// RatingNone is returned when no rating was requested or possible.
const RatingNone = -1

// Regressor scores a fitted curve. Implementations are trained
// externally; the cache only calls Predict.
type Regressor interface {
	Name() string
	// Predict returns a quality score in [0, 10].
	Predict(c *curve.Curve) float64
}

// key identifies one rating request. Two requests with equal keys
// yield the same rating, so the previous result can be returned.
type key struct {
	hash        string
	regressor   string
	trainingSet string
	names       string
	lda         bool
}

// Cache memoizes the most recent rating.
type Cache struct {
	current *key
	rating  float64
}

// Rate scores the curve with the given regressor, reusing the cached
// value when hash, regressor, training set, feature names and LDA flag
// all match the previous call. A "none" regressor or an empty hash
// (no completed fit) yields RatingNone.
func (ca *Cache) Rate(hash string, reg Regressor, trainingSet string,
	names []string, lda bool, c *curve.Curve) float64 {
	if reg == nil || strings.EqualFold(reg.Name(), "none") || hash == "" {
		return RatingNone
	}
	k := key{
		hash:        hash,
		regressor:   reg.Name(),
		trainingSet: trainingSet,
		names:       strings.Join(names, "\x00"),
		lda:         lda,
	}
	if ca.current != nil && *ca.current == k {
		return ca.rating
	}
	r := reg.Predict(c)
	ca.current = &k
	ca.rating = r
	return r
}

// Invalidate drops the cached rating.
func (ca *Cache) Invalidate() {
	ca.current = nil
}

// ResidualScore is a simple deterministic regressor: it scores a fit
// by the residual magnitude relative to the force scale inside the
// fitted range. Curves without fit residuals score RatingNone.
type ResidualScore struct{}

func (ResidualScore) Name() string { return "residual score" }

func (ResidualScore) Predict(c *curve.Curve) float64 {
	res, ok := c.Column(curve.ColFitResiduals)
	if !ok {
		return RatingNone
	}
	force, ok := c.Column(curve.ColForce)
	if !ok {
		return RatingNone
	}
	rng, ok := c.Column(curve.ColFitRange)
	if !ok {
		return RatingNone
	}

	var sumSq, scale float64
	n := 0
	for i, in := range rng {
		if in == 0 || math.IsNaN(res[i]) {
			continue
		}
		sumSq += res[i] * res[i]
		if a := math.Abs(force[i]); a > scale {
			scale = a
		}
		n++
	}
	if n == 0 || scale == 0 {
		return RatingNone
	}
	rms := math.Sqrt(sumSq / float64(n))
	// rms == 0 maps to 10, rms == scale maps to 0
	score := 10 * (1 - rms/scale)
	if score < 0 {
		score = 0
	}
	return score
}
