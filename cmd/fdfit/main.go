// Command fdfit preprocesses and fits a force-distance curve and
// prints a parameter report.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"fd-fit/internal/fit"
	"fd-fit/internal/model"
	"fd-fit/internal/preproc"
	"fd-fit/internal/rate"
	"fd-fit/internal/version"
	"fd-fit/pkg/curve"
)

// profile is the TOML fit configuration.
type profile struct {
	Model          string    `toml:"model"`
	Segment        string    `toml:"segment"`
	RangeType      string    `toml:"range_type"`
	Range          []float64 `toml:"range"`
	WeightCP       float64   `toml:"weight_cp"`
	PlateauSearch  bool      `toml:"plateau_search"`
	PlateauSamples int       `toml:"plateau_samples"`
	Preprocessing  []string  `toml:"preprocessing"`

	Options map[string]map[string]string `toml:"options"`
}

func defaultProfile() profile {
	return profile{
		Model:     "hertz_para",
		Segment:   fit.SegmentApproach,
		RangeType: fit.RangeAbsolute,
		Range:     []float64{0, 0},
		WeightCP:  1e-6,
		Preprocessing: []string{
			preproc.StepComputeTipPosition,
			preproc.StepForceOffset,
			preproc.StepTipOffset,
		},
	}
}

func main() {
	profilePath := flag.String("profile", "", "Path to a TOML fit profile")
	dataPath := flag.String("data", "", "Path to a TSV file with height and force columns")
	spring := flag.Float64("spring", 0.05, "Cantilever spring constant [N/m] for TSV input")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fdfit %s\n", version.String())
		return
	}

	prof := defaultProfile()
	if *profilePath != "" {
		if _, err := toml.DecodeFile(*profilePath, &prof); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read profile: %v\n", err)
			os.Exit(1)
		}
	}

	var c *curve.Curve
	var err error
	if *dataPath != "" {
		c, err = loadTSV(*dataPath, *spring)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load data: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %d samples from %s\n", c.Len(), *dataPath)
	} else {
		c = demoCurve(*spring)
		fmt.Printf("No data file given; using a synthetic demo curve (%d samples)\n", c.Len())
	}
	fmt.Printf("Spring constant: %.3f N/m\n", c.Meta.SpringConstant)

	s := fit.NewSession(c, model.NewBuiltinRegistry())
	if err := configure(s, prof); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid profile: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nPreprocessing: %s\n", strings.Join(prof.Preprocessing, ", "))
	res, err := s.ApplyPreprocessing(prof.Preprocessing, stepOptions(prof.Options))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Preprocessing failed: %v\n", err)
		os.Exit(1)
	}
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %v\n", w)
	}

	fmt.Printf("\nFitting model %q (%s range, segment %s)...\n",
		prof.Model, prof.RangeType, prof.Segment)
	warns, err := s.FitModel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fit failed: %v\n", err)
		os.Exit(1)
	}
	for _, w := range warns {
		fmt.Printf("  warning: %v\n", w)
	}

	report(s, prof)
}

func configure(s *fit.Session, prof profile) error {
	set := func(key string, v any) error { return s.Props.Set(key, v) }
	if err := set(fit.KeyModelKey, prof.Model); err != nil {
		return err
	}
	if err := set(fit.KeySegment, prof.Segment); err != nil {
		return err
	}
	if err := set(fit.KeyRangeType, prof.RangeType); err != nil {
		return err
	}
	if len(prof.Range) == 2 {
		if err := set(fit.KeyRangeX, prof.Range); err != nil {
			return err
		}
	}
	if err := set(fit.KeyWeightCP, prof.WeightCP); err != nil {
		return err
	}
	if prof.PlateauSearch {
		if err := set(fit.KeyOptimalFitEDelta, true); err != nil {
			return err
		}
		if prof.PlateauSamples > 0 {
			if err := set(fit.KeyOptimalFitSamples, prof.PlateauSamples); err != nil {
				return err
			}
		}
	}
	return nil
}

func stepOptions(raw map[string]map[string]string) map[string]preproc.StepOptions {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]preproc.StepOptions, len(raw))
	for step, opts := range raw {
		out[step] = preproc.StepOptions(opts)
	}
	return out
}

func report(s *fit.Session, prof profile) {
	fp := s.Props
	fmt.Printf("\nFit success: %v\n", fp.Success())
	if chi := fp.ChiSqr(); !math.IsNaN(chi) {
		fmt.Printf("Chi-square:  %.6g\n", chi)
	}

	params := fp.ParamsFitted()
	if params == nil {
		params = fp.ParamsInitial()
	}
	if params != nil {
		fmt.Printf("\n%-16s %14s %8s\n", "Parameter", "Value", "Varied")
		for _, name := range params.Names() {
			p, err := params.Get(name)
			if err != nil {
				continue
			}
			fmt.Printf("%-16s %14.6g %8v\n", name, p.Value, p.Vary)
		}
	}

	if anc, err := s.AncillaryParameters(); err == nil && len(anc) > 0 {
		fmt.Printf("\nAncillary parameters:\n")
		for name, v := range anc {
			fmt.Printf("  %-14s %14.6g\n", name, v)
		}
	}

	if prof.PlateauSearch {
		if dopt, ok := fp.Get(fit.KeyOptDelta); ok {
			fmt.Printf("\nOptimal indentation depth: %.4g m\n", dopt)
		}
	}

	rating := s.RateQuality(rate.ResidualScore{}, "builtin", nil, false)
	if rating != rate.RatingNone {
		fmt.Printf("\nQuality rating: %.1f / 10\n", rating)
	}
}

// loadTSV reads whitespace-separated columns: height [m], force [N] and
// optionally a segment flag (0 approach, 1 retract). Lines starting
// with '#' are skipped.
func loadTSV(path string, springConstant float64) (*curve.Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var height, force, segment []float64
	hasSegment := false
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: want at least 2 columns, got %d", line, len(fields))
		}
		h, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		fv, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		height = append(height, h)
		force = append(force, fv)
		if len(fields) >= 3 {
			seg, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			segment = append(segment, seg)
			hasSegment = true
		} else {
			segment = append(segment, 0)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(force) == 0 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	c, err := curve.FromArrays(force, height, springConstant)
	if err != nil {
		return nil, err
	}
	if hasSegment {
		if err := c.SetInnate(curve.ColSegment, segment); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// demoCurve synthesizes a paraboloidal indentation approach curve with
// E = 1 kPa, R = 10 um and 1% force noise.
func demoCurve(springConstant float64) *curve.Curve {
	const (
		n      = 500
		emod   = 1000.0
		radius = 10e-6
	)
	aa := 4.0 / 3.0 * emod / (1 - 0.25) * math.Sqrt(radius)

	rng := rand.New(rand.NewSource(7))
	height := make([]float64, n)
	force := make([]float64, n)
	var fmax float64
	for i := range height {
		height[i] = 1.5e-6 - 3e-6*float64(i)/float64(n-1)
		if height[i] < 0 {
			force[i] = aa * math.Pow(-height[i], 1.5)
		}
		if force[i] > fmax {
			fmax = force[i]
		}
	}
	for i := range force {
		force[i] += 0.01 * fmax * rng.NormFloat64()
		// the piezo height sits below the tip position by the
		// cantilever deflection; tip reconstruction adds it back
		height[i] -= force[i] / springConstant
	}

	c, err := curve.FromArrays(force, height, springConstant)
	if err != nil {
		panic(err)
	}
	return c
}
