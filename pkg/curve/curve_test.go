package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromArrays(t *testing.T) {
	c, err := FromArrays([]float64{1, 2, 3}, []float64{4, 5, 6}, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.True(t, c.HasColumn(ColForce))
	assert.True(t, c.HasColumn(ColHeight))
	assert.True(t, c.HasColumn(ColSegment))
	assert.Equal(t, 0.05, c.Meta.SpringConstant)

	_, err = FromArrays([]float64{1}, []float64{1, 2}, 0.05)
	assert.Error(t, err)
}

func TestSetColumnLengthCheck(t *testing.T) {
	c := New(4)
	assert.Error(t, c.SetColumn("x", []float64{1, 2}))
	assert.NoError(t, c.SetColumn("x", []float64{1, 2, 3, 4}))
}

func TestResetDerived(t *testing.T) {
	c, err := FromArrays([]float64{1, 2, 3}, []float64{0, 0, 0}, 1)
	require.NoError(t, err)

	// mutate an innate column and add a derived one
	force := c.MustColumn(ColForce)
	force[0] = -10
	require.NoError(t, c.SetColumn(ColTipPosition, []float64{9, 9, 9}))

	c.ResetDerived()
	assert.False(t, c.HasColumn(ColTipPosition))
	assert.Equal(t, []float64{1, 2, 3}, c.MustColumn(ColForce))
}

func TestSegmentMask(t *testing.T) {
	c, err := FromArrays(make([]float64, 5), make([]float64, 5), 1)
	require.NoError(t, err)
	seg := c.MustColumn(ColSegment)
	seg[3] = 1
	seg[4] = 1

	app := c.SegmentMask(false)
	ret := c.SegmentMask(true)
	assert.Equal(t, []bool{true, true, true, false, false}, app)
	assert.Equal(t, []bool{false, false, false, true, true}, ret)

	vals, idx := c.SegmentSlice(ColSegment, true)
	assert.Equal(t, []float64{1, 1}, vals)
	assert.Equal(t, []int{3, 4}, idx)
}

func TestMissingColumnError(t *testing.T) {
	err := &MissingColumnError{Missing: []string{"force", "height (measured)"}}
	assert.Contains(t, err.Error(), "force")
	assert.Contains(t, err.Error(), "height (measured)")
}
