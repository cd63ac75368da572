package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/korg-bridge/korg"
	"github.com/wippyai/korg-bridge/resolve"
)

// operation is one engine function the runner can call. Parameters with
// no Policy are required.
type operation struct {
	run    func(ctx context.Context, s *session, in inputs) (string, error)
	name   string
	entry  string
	params []resolve.Spec
}

func required(p resolve.Spec) bool {
	return p.Policy == 0
}

// session is an open client plus runner defaults.
type session struct {
	client      *korg.Client
	wavelengths [][2]float64
}

var operations = []operation{
	{
		name:  "synth",
		entry: korg.EntrySynth,
		params: []resolve.Spec{
			{Name: "Teff", Domain: "f64"},
			{Name: "logg", Domain: "f64"},
			{Name: "m_H", Domain: "f64", Policy: resolve.PolicyOmit},
			{Name: "alpha_H", Domain: "f64", Policy: resolve.PolicyOmit},
			{Name: "vmic", Domain: "f64", Policy: resolve.PolicyOmit},
			{Name: "vsini", Domain: "f64", Policy: resolve.PolicyOmit},
			{Name: "R", Domain: "f64", Policy: resolve.PolicyOmit},
			{Name: "rectify", Domain: "bool", Policy: resolve.PolicyOmit},
			{Name: "wavelengths", Domain: "string", Policy: resolve.PolicyOmit},
			{Name: "linelist", Domain: "string", Policy: resolve.PolicyOmit},
			{Name: "abundances", Domain: "string", Policy: resolve.PolicyOmit},
		},
		run: runSynth,
	},
	{
		name:  "read",
		entry: korg.EntryRead,
		params: []resolve.Spec{
			{Name: "fname", Domain: "string"},
			{Name: "format", Domain: "string", Policy: resolve.PolicyOmit},
		},
		run: func(ctx context.Context, s *session, in inputs) (string, error) {
			opts := korg.ReadOptions{}
			if v, ok := in["format"]; ok {
				opts.Format = resolve.Some(v.(string))
			}
			fname, _ := in["fname"].(string)
			ll, err := s.client.ReadLinelist(ctx, fname, opts)
			if err != nil {
				return "", err
			}
			defer ll.Release()
			return ll.String(), nil
		},
	},
	{
		name:   "apogee",
		entry:  korg.EntryAPOGEEDR17,
		params: []resolve.Spec{{Name: "include_water", Domain: "bool", Policy: resolve.PolicyOmit}},
		run: func(ctx context.Context, s *session, in inputs) (string, error) {
			return describeLinelist(s.client.GetAPOGEEDR17Linelist(ctx, korg.APOGEEOptions{IncludeWater: optBool(in, "include_water")}))
		},
	},
	{
		name:  "galah",
		entry: korg.EntryGALAHDR3,
		run: func(ctx context.Context, s *session, _ inputs) (string, error) {
			return describeLinelist(s.client.GetGALAHDR3Linelist(ctx))
		},
	},
	{
		name:   "ges",
		entry:  korg.EntryGES,
		params: []resolve.Spec{{Name: "include_molecules", Domain: "bool", Policy: resolve.PolicyOmit}},
		run: func(ctx context.Context, s *session, in inputs) (string, error) {
			return describeLinelist(s.client.GetGESLinelist(ctx, korg.GESOptions{IncludeMolecules: optBool(in, "include_molecules")}))
		},
	},
	{
		name:  "vald",
		entry: korg.EntryVALDSolar,
		run: func(ctx context.Context, s *session, _ inputs) (string, error) {
			return describeLinelist(s.client.GetVALDSolarLinelist(ctx))
		},
	},
}

func findOperation(name string) (operation, bool) {
	for _, op := range operations {
		if op.name == name || op.entry == name {
			return op, true
		}
	}
	return operation{}, false
}

// inputs holds converted argument values. Absent keys were left empty.
type inputs map[string]any

func (in inputs) float(name string) float64 {
	v, _ := in[name].(float64)
	return v
}

func optFloat(in inputs, name string) resolve.Opt[float64] {
	if v, ok := in[name].(float64); ok {
		return resolve.Some(v)
	}
	return resolve.Opt[float64]{}
}

func optBool(in inputs, name string) resolve.Opt[bool] {
	if v, ok := in[name].(bool); ok {
		return resolve.Some(v)
	}
	return resolve.Opt[bool]{}
}

// convert parses raw text for every parameter of op. Required parameters
// may not be empty.
func (op operation) convert(raw map[string]string) (inputs, error) {
	known := make(map[string]bool, len(op.params))
	in := make(inputs)
	for _, p := range op.params {
		known[p.Name] = true
		text := strings.TrimSpace(raw[p.Name])
		if text == "" {
			if required(p) {
				return nil, fmt.Errorf("%s: missing required argument %q", op.name, p.Name)
			}
			continue
		}
		t, err := p.Type()
		if err != nil {
			return nil, err
		}
		v, err := convertArg(text, t)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %q: %w", op.name, p.Name, err)
		}
		in[p.Name] = v
	}
	for name := range raw {
		if !known[name] {
			return nil, fmt.Errorf("%s: unknown argument %q", op.name, name)
		}
	}
	return in, nil
}

func convertArg(value string, t wit.Type) (any, error) {
	switch t.(type) {
	case wit.String:
		return value, nil
	case wit.S64:
		return strconv.ParseInt(value, 10, 64)
	case wit.F64:
		return strconv.ParseFloat(value, 64)
	case wit.Bool:
		return strconv.ParseBool(value)
	default:
		return value, nil
	}
}

func witTypeStr(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.S64:
		return "s64"
	case wit.F64:
		return "f64"
	case wit.String:
		return "string"
	default:
		return fmt.Sprintf("%T", t)
	}
}

func paramType(p resolve.Spec) string {
	t, err := p.Type()
	if err != nil || t == nil {
		return "any"
	}
	s := witTypeStr(t)
	if !required(p) {
		s += "?"
	}
	return s
}

func describeLinelist(ll *korg.Linelist, err error) (string, error) {
	if err != nil {
		return "", err
	}
	defer ll.Release()
	return ll.String(), nil
}

var loaderNames = map[string]func(context.Context, *korg.Client) (*korg.Linelist, error){
	"apogee": func(ctx context.Context, c *korg.Client) (*korg.Linelist, error) {
		return c.GetAPOGEEDR17Linelist(ctx, korg.APOGEEOptions{})
	},
	"galah": func(ctx context.Context, c *korg.Client) (*korg.Linelist, error) {
		return c.GetGALAHDR3Linelist(ctx)
	},
	"ges": func(ctx context.Context, c *korg.Client) (*korg.Linelist, error) {
		return c.GetGESLinelist(ctx, korg.GESOptions{})
	},
	"vald": func(ctx context.Context, c *korg.Client) (*korg.Linelist, error) {
		return c.GetVALDSolarLinelist(ctx)
	},
}

// openLinelist treats name as a catalog name first and a file path second.
func openLinelist(ctx context.Context, c *korg.Client, name string) (*korg.Linelist, error) {
	if load, ok := loaderNames[name]; ok {
		return load(ctx, c)
	}
	return c.ReadLinelist(ctx, name, korg.ReadOptions{})
}

// parseRanges reads "lo-hi[,lo-hi...]" wavelength ranges in Å.
func parseRanges(s string) ([][2]float64, error) {
	var out [][2]float64
	for _, part := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			return nil, fmt.Errorf("wavelength range %q is not lo-hi", part)
		}
		l, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, err
		}
		h, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, err
		}
		if h <= l {
			return nil, fmt.Errorf("wavelength range %q is empty", part)
		}
		out = append(out, [2]float64{l, h})
	}
	return out, nil
}

// parseAbundances reads "Fe=-0.5,Ni=0.1".
func parseAbundances(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		el, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("abundance %q is not ELEMENT=VALUE", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(el)] = v
	}
	return out, nil
}

func runSynth(ctx context.Context, s *session, in inputs) (string, error) {
	p := korg.SynthParams{
		Teff:        in.float("Teff"),
		Logg:        in.float("logg"),
		MH:          in.float("m_H"),
		Vsini:       in.float("vsini"),
		AlphaH:      optFloat(in, "alpha_H"),
		Vmic:        optFloat(in, "vmic"),
		R:           optFloat(in, "R"),
		Rectify:     optBool(in, "rectify"),
		Wavelengths: s.wavelengths,
	}
	if v, ok := in["wavelengths"].(string); ok {
		ranges, err := parseRanges(v)
		if err != nil {
			return "", err
		}
		p.Wavelengths = ranges
	}
	if v, ok := in["abundances"].(string); ok {
		ab, err := parseAbundances(v)
		if err != nil {
			return "", err
		}
		p.Abundances = ab
	}
	if v, ok := in["linelist"].(string); ok {
		ll, err := openLinelist(ctx, s.client, v)
		if err != nil {
			return "", err
		}
		defer ll.Release()
		p.Linelist = ll
	}

	res, err := s.client.Synth(ctx, p)
	if err != nil {
		return "", err
	}
	defer res.Release()
	return formatSpectrum(res, 8), nil
}

// formatSpectrum renders up to rows evenly spaced samples.
func formatSpectrum(res *korg.SynthResult, rows int) string {
	n := res.Wavelengths.Len()
	var b strings.Builder
	fmt.Fprintf(&b, "%d points\n\n", n)
	fmt.Fprintf(&b, "%14s %12s %12s\n", "wavelength", "flux", "continuum")
	if n == 0 {
		return b.String()
	}
	rows = min(rows, n)
	step := math.Max(1, float64(n-1)/math.Max(1, float64(rows-1)))
	seen := make(map[int]bool, rows)
	var idx []int
	for k := range rows {
		i := min(int(math.Round(float64(k)*step)), n-1)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		fmt.Fprintf(&b, "%14.4f %12.6f %12.6f\n", res.Wavelengths.At(i), res.Flux.At(i), res.Continuum.At(i))
	}
	return b.String()
}
