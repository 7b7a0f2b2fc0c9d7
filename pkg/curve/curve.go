// Package curve holds the force-distance data model shared by all
// preprocessing and fitting packages.
package curve

import (
	"fmt"
	"sort"
)

// Canonical column names.
const (
	ColForce          = "force"
	ColHeight         = "height (measured)"
	ColHeightPiezo    = "height (piezo)"
	ColTipPosition    = "tip position"
	ColSegment        = "segment"
	ColTime           = "time"
	ColFit            = "fit"
	ColFitResiduals   = "fit residuals"
	ColFitRange       = "fit range"
)

// Smoothed returns the name of the smoothed variant of a column.
func Smoothed(col string) string {
	return col + " (smoothed)"
}

// Segment values stored in the "segment" column.
const (
	SegmentApproach = 0
	SegmentRetract  = 1
)

// MissingColumnError is returned when an operation needs a column or
// metadata entry that the curve does not have.
type MissingColumnError struct {
	Missing []string
}

func (e *MissingColumnError) Error() string {
	items := make([]string, len(e.Missing))
	copy(items, e.Missing)
	sort.Strings(items)
	return fmt.Sprintf("missing curve inputs: %v", items)
}

// Metadata holds the scalar calibration values attached to a curve.
type Metadata struct {
	// SpringConstant of the cantilever [N/m].
	SpringConstant float64
	// Sensitivity of the deflection signal [m/V].
	Sensitivity float64
	// Extra holds any additional scalar metadata by name.
	Extra map[string]float64
}

// Curve is a named collection of equal-length data columns plus metadata.
// The preprocessing pipeline mutates columns in place and may add derived
// columns; columns present at construction time are "innate" and survive
// ResetDerived.
type Curve struct {
	n        int
	columns  map[string][]float64
	innate   map[string]bool
	original map[string][]float64 // pristine copies of innate columns
	Meta     Metadata
}

// New creates an empty curve expecting columns of length n.
func New(n int) *Curve {
	return &Curve{
		n:        n,
		columns:  make(map[string][]float64),
		innate:   make(map[string]bool),
		original: make(map[string][]float64),
	}
}

// FromArrays builds a curve from raw force and measured-height arrays.
// A zeroed segment column (all approach) is added if none is set later.
func FromArrays(force, height []float64, springConstant float64) (*Curve, error) {
	if len(force) != len(height) {
		return nil, fmt.Errorf("column length mismatch: force=%d, height=%d",
			len(force), len(height))
	}
	c := New(len(force))
	c.Meta.SpringConstant = springConstant
	if err := c.SetInnate(ColForce, force); err != nil {
		return nil, err
	}
	if err := c.SetInnate(ColHeight, height); err != nil {
		return nil, err
	}
	if err := c.SetInnate(ColSegment, make([]float64, len(force))); err != nil {
		return nil, err
	}
	return c, nil
}

// Len returns the column length of the curve.
func (c *Curve) Len() int { return c.n }

// HasColumn reports whether the named column exists.
func (c *Curve) HasColumn(name string) bool {
	_, ok := c.columns[name]
	return ok
}

// IsInnate reports whether the named column was part of the raw data.
func (c *Curve) IsInnate(name string) bool { return c.innate[name] }

// Column returns the named column data. The slice aliases the curve's
// storage; mutations are visible to subsequent operations.
func (c *Curve) Column(name string) ([]float64, bool) {
	col, ok := c.columns[name]
	return col, ok
}

// MustColumn returns the named column or panics. Use only after
// HasColumn or for columns guaranteed by a completed pipeline step.
func (c *Curve) MustColumn(name string) []float64 {
	col, ok := c.columns[name]
	if !ok {
		panic(fmt.Sprintf("curve: no column %q", name))
	}
	return col
}

// SetColumn stores a derived column. All columns must share one length.
func (c *Curve) SetColumn(name string, data []float64) error {
	if len(data) != c.n {
		return fmt.Errorf("column %q has length %d, want %d", name, len(data), c.n)
	}
	c.columns[name] = data
	return nil
}

// SetInnate stores a raw data column that survives ResetDerived.
// A pristine copy is kept so that re-preprocessing is idempotent.
func (c *Curve) SetInnate(name string, data []float64) error {
	if err := c.SetColumn(name, data); err != nil {
		return err
	}
	c.innate[name] = true
	orig := make([]float64, len(data))
	copy(orig, data)
	c.original[name] = orig
	return nil
}

// ResetDerived drops all derived columns and restores innate columns to
// their pristine state. Preprocessing calls this before applying a step
// list so that applying the same list twice yields identical data.
func (c *Curve) ResetDerived() {
	for name := range c.columns {
		if !c.innate[name] {
			delete(c.columns, name)
		}
	}
	for name, orig := range c.original {
		copy(c.columns[name], orig)
	}
}

// Columns returns the sorted names of all present columns.
func (c *Curve) Columns() []string {
	names := make([]string, 0, len(c.columns))
	for name := range c.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SegmentMask returns a boolean mask selecting the approach (retract=false)
// or retract (retract=true) samples.
func (c *Curve) SegmentMask(retract bool) []bool {
	seg := c.MustColumn(ColSegment)
	mask := make([]bool, c.n)
	for i, v := range seg {
		mask[i] = (v != 0) == retract
	}
	return mask
}

// SegmentSlice returns a copy of the named column restricted to the
// approach or retract segment, plus the indices it came from.
func (c *Curve) SegmentSlice(name string, retract bool) ([]float64, []int) {
	col := c.MustColumn(name)
	mask := c.SegmentMask(retract)
	var out []float64
	var idx []int
	for i, in := range mask {
		if in {
			out = append(out, col[i])
			idx = append(idx, i)
		}
	}
	return out, idx
}
