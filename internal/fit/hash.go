package fit

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"fd-fit/internal/lsq"
	"fd-fit/internal/preproc"
)

// ComputeHash derives the content hash identifying a fit: the
// preprocessing list, the raw axis data and every configuration value.
// While the plateau search is enabled only the upper range bound is
// hashed, because the search overrides the lower bound; the sample
// count is skipped when the search is disabled. The hash is computed
// before fitting, which makes it usable as a cache key.
func ComputeHash(fp *Properties, x, y []float64) string {
	d := xxhash.New()

	hashStrings(d, fp.Preprocessing())
	hashFloats(d, x)
	hashFloats(d, y)

	for _, key := range configKeys {
		switch {
		case key == KeyRangeX && fp.PlateauSearch():
			hashFloat(d, fp.RangeX()[1])
		case key == KeyOptimalFitSamples && !fp.PlateauSearch():
			// irrelevant without the plateau search
		default:
			v, _ := fp.Get(key)
			hashValue(d, v)
		}
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func hashValue(d *xxhash.Digest, v any) {
	switch t := v.(type) {
	case nil:
		d.WriteString("none")
	case string:
		d.WriteString(t)
	case bool:
		if t {
			hashFloat(d, 1)
		} else {
			hashFloat(d, 0)
		}
	case int:
		hashFloat(d, float64(t))
	case float64:
		hashFloat(d, t)
	case []float64:
		for _, f := range t {
			hashFloat(d, f)
		}
	case []string:
		hashStrings(d, t)
	case *lsq.Parameters:
		hashParameters(d, t)
	case map[string]preproc.StepOptions:
		hashStepOptions(d, t)
	default:
		panic(fmt.Sprintf("fit: no hash rule for %T", v))
	}
}

func hashFloat(d *xxhash.Digest, v float64) {
	d.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
}

func hashFloats(d *xxhash.Digest, vals []float64) {
	var buf [8]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		d.Write(buf[:])
	}
}

func hashStrings(d *xxhash.Digest, vals []string) {
	for _, s := range vals {
		d.WriteString(s)
	}
}

// hashParameters encodes each parameter as
// (value, max, min, vary, expr, name) in parameter order.
func hashParameters(d *xxhash.Digest, ps *lsq.Parameters) {
	if ps == nil {
		d.WriteString("none")
		return
	}
	for _, name := range ps.Names() {
		p, err := ps.Get(name)
		if err != nil {
			continue
		}
		hashFloat(d, p.Value)
		hashFloat(d, p.Max)
		hashFloat(d, p.Min)
		hashValue(d, p.Vary)
		if p.Expr == "" {
			d.WriteString("none")
		} else {
			d.WriteString(p.Expr)
		}
		d.WriteString(p.Name)
	}
}

func hashStepOptions(d *xxhash.Digest, opts map[string]preproc.StepOptions) {
	if opts == nil {
		d.WriteString("none")
		return
	}
	steps := make([]string, 0, len(opts))
	for step := range opts {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	for _, step := range steps {
		d.WriteString(step)
		names := make([]string, 0, len(opts[step]))
		for name := range opts[step] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d.WriteString(name)
			d.WriteString(opts[step][name])
		}
	}
}
