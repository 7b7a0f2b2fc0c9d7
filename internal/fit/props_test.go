package fit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fd-fit/internal/lsq"
)

func TestDefaultProperties(t *testing.T) {
	p := DefaultProperties()
	assert.Equal(t, "hertz_para", p.ModelKey())
	assert.Equal(t, SegmentApproach, p.Segment())
	assert.Equal(t, RangeAbsolute, p.RangeType())
	assert.Equal(t, []float64{0, 0}, p.RangeX())
	assert.Equal(t, 1e-6, p.WeightCP())
	assert.Equal(t, 100, p.PlateauSamples())
	assert.False(t, p.PlateauSearch())
	assert.Nil(t, p.ParamsInitial())
	assert.Equal(t, "tip position", p.XAxis())
	assert.Equal(t, "force", p.YAxis())
}

func TestSetUnknownKey(t *testing.T) {
	p := NewProperties()
	err := p.Set("bogus", 1)
	var kerr *KeyError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "bogus", kerr.Key)
}

func TestSetWrongType(t *testing.T) {
	p := NewProperties()
	assert.Error(t, p.Set(KeyModelKey, 42))
	assert.Error(t, p.Set(KeyRangeX, "nope"))
	assert.Error(t, p.Set(KeyRangeX, []float64{1, 2, 3}))
	assert.Error(t, p.Set(KeySegment, "sideways"))
	assert.Error(t, p.Set(KeyOptimalFitSamples, 1.5))
}

func TestSetEqualValueKeepsResults(t *testing.T) {
	p := DefaultProperties()
	require.NoError(t, p.Set(KeySuccess, true))
	require.NoError(t, p.Set(KeyHash, "cafe"))

	require.NoError(t, p.Set(KeyWeightCP, 1e-6))
	assert.True(t, p.Success())
	assert.True(t, p.HasHash())
}

func TestSetNewValueDropsResults(t *testing.T) {
	p := DefaultProperties()
	require.NoError(t, p.Set(KeySuccess, true))
	require.NoError(t, p.Set(KeyHash, "cafe"))

	require.NoError(t, p.Set(KeyWeightCP, 2e-6))
	assert.False(t, p.Success())
	assert.False(t, p.HasHash())
	assert.Equal(t, 2e-6, p.WeightCP())
}

func TestModelKeyChangeClearsInitialParams(t *testing.T) {
	p := DefaultProperties()
	params := lsq.NewParameters()
	params.Add(lsq.Param{Name: "E", Value: 1000, Vary: true})
	require.NoError(t, p.Set(KeyParamsInitial, params))
	require.NoError(t, p.Set(KeyHash, "cafe"))

	require.NoError(t, p.Set(KeyModelKey, "hertz_cone"))
	assert.Nil(t, p.ParamsInitial())
	assert.False(t, p.HasHash())
	assert.Equal(t, "hertz_cone", p.ModelKey())
}

func TestRangeLowerBoundDroppedDuringPlateauSearch(t *testing.T) {
	p := DefaultProperties()
	// the range must be stored before the search is enabled; afterwards
	// a lower-bound-only change is discarded without being stored
	require.NoError(t, p.Set(KeyRangeX, []float64{-1e-6, 0}))
	require.NoError(t, p.Set(KeyOptimalFitEDelta, true))
	require.NoError(t, p.Set(KeyHash, "cafe"))

	require.NoError(t, p.Set(KeyRangeX, []float64{-2e-6, 0}))
	assert.True(t, p.HasHash())
	assert.Equal(t, []float64{-1e-6, 0}, p.RangeX())

	// upper bound changes invalidate
	require.NoError(t, p.Set(KeyRangeX, []float64{-1e-6, 1e-7}))
	assert.False(t, p.HasHash())
	assert.Equal(t, []float64{-1e-6, 1e-7}, p.RangeX())
}

func TestRangeChangeWithoutPlateauInvalidates(t *testing.T) {
	p := DefaultProperties()
	require.NoError(t, p.Set(KeyHash, "cafe"))
	require.NoError(t, p.Set(KeyRangeX, []float64{-1e-6, 0}))
	assert.False(t, p.HasHash())
}

func TestRestoreSkipsInvalidation(t *testing.T) {
	p := DefaultProperties()
	require.NoError(t, p.Set(KeyHash, "cafe"))
	p.Restore(map[string]any{
		KeyWeightCP: 9e-6,
		KeySuccess:  true,
	})
	assert.True(t, p.HasHash())
	assert.True(t, p.Success())
	assert.Equal(t, 9e-6, p.WeightCP())
}

func TestResetDropsOnlyResults(t *testing.T) {
	p := DefaultProperties()
	require.NoError(t, p.Set(KeySuccess, true))
	require.NoError(t, p.Set(KeyChiSqr, 0.5))
	p.Reset()
	assert.False(t, p.Has(KeySuccess))
	assert.False(t, p.Has(KeyChiSqr))
	assert.Equal(t, "hertz_para", p.ModelKey())
}

func TestSegmentRetractMapping(t *testing.T) {
	p := DefaultProperties()
	retract, err := p.SegmentRetract()
	require.NoError(t, err)
	assert.False(t, retract)

	require.NoError(t, p.Set(KeySegment, SegmentRetract))
	retract, err = p.SegmentRetract()
	require.NoError(t, err)
	assert.True(t, retract)
}
