package korg

import (
	"context"
	"math"

	"github.com/wippyai/korg-bridge/bridge"
	"github.com/wippyai/korg-bridge/call"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
	"github.com/wippyai/korg-bridge/resolve"
)

// DefaultWavelengths is the synthesis range used when none is given, in Å.
var DefaultWavelengths = [][2]float64{{5000, 6000}}

// SynthesizeKwargs are forwarded to the engine's synthesize function. Unset
// fields keep the engine's defaults.
type SynthesizeKwargs struct {
	Vmic                               resolve.Opt[float64]
	LineBuffer                         resolve.Opt[float64]
	CntmStep                           resolve.Opt[float64]
	AirWavelengths                     resolve.Opt[bool]
	HydrogenLines                      resolve.Opt[bool]
	UseMHDForHydrogenLines             resolve.Opt[bool]
	HydrogenLineWindowSize             resolve.Opt[int]
	MuValues                           resolve.Opt[int]
	LineCutoffThreshold                resolve.Opt[float64]
	ElectronNumberDensityWarnThreshold resolve.Opt[float64]
	ElectronNumberDensityWarnMinValue  resolve.Opt[float64]
	ReturnCntm                         resolve.Opt[bool]
	IScheme                            resolve.Opt[string]
	TauScheme                          resolve.Opt[string]
	IonizationEnergies                 resolve.Opt[resolve.Passthrough]
	PartitionFuncs                     resolve.Opt[resolve.Passthrough]
	LogEquilibriumConstants            resolve.Opt[resolve.Passthrough]
	MolecularCrossSections             resolve.Opt[resolve.Passthrough]
	// UseChemicalEquilibriumFrom accepts resolve.Null.
	UseChemicalEquilibriumFrom resolve.Opt[resolve.Passthrough]
	Verbose                    resolve.Opt[bool]
}

var synthesizeSignature = resolve.MustSignature(
	resolve.Spec{Name: "vmic", Domain: "f64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "line_buffer", Domain: "f64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "cntm_step", Domain: "f64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "air_wavelengths", Domain: "bool", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "hydrogen_lines", Domain: "bool", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "use_MHD_for_hydrogen_lines", Domain: "bool", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "hydrogen_line_window_size", Domain: "s64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "mu_values", Domain: "s64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "line_cutoff_threshold", Domain: "f64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "electron_number_density_warn_threshold", Domain: "f64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "electron_number_density_warn_min_value", Domain: "f64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "return_cntm", Domain: "bool", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "I_scheme", Domain: "string", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "tau_scheme", Domain: "string", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "ionization_energies", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "partition_funcs", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "log_equilibrium_constants", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "molecular_cross_sections", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "use_chemical_equilibrium_from", Policy: resolve.PolicyOmit, AcceptsNull: true},
	resolve.Spec{Name: "verbose", Domain: "bool", Policy: resolve.PolicyOmit},
)

func (k *SynthesizeKwargs) values() map[string]resolve.Value {
	return map[string]resolve.Value{
		"vmic":                                   k.Vmic.Value(),
		"line_buffer":                            k.LineBuffer.Value(),
		"cntm_step":                              k.CntmStep.Value(),
		"air_wavelengths":                        k.AirWavelengths.Value(),
		"hydrogen_lines":                         k.HydrogenLines.Value(),
		"use_MHD_for_hydrogen_lines":             k.UseMHDForHydrogenLines.Value(),
		"hydrogen_line_window_size":              k.HydrogenLineWindowSize.Value(),
		"mu_values":                              k.MuValues.Value(),
		"line_cutoff_threshold":                  k.LineCutoffThreshold.Value(),
		"electron_number_density_warn_threshold": k.ElectronNumberDensityWarnThreshold.Value(),
		"electron_number_density_warn_min_value": k.ElectronNumberDensityWarnMinValue.Value(),
		"return_cntm":                            k.ReturnCntm.Value(),
		"I_scheme":                               k.IScheme.Value(),
		"tau_scheme":                             k.TauScheme.Value(),
		"ionization_energies":                    k.IonizationEnergies.Value(),
		"partition_funcs":                        k.PartitionFuncs.Value(),
		"log_equilibrium_constants":              k.LogEquilibriumConstants.Value(),
		"molecular_cross_sections":               k.MolecularCrossSections.Value(),
		"use_chemical_equilibrium_from":          k.UseChemicalEquilibriumFrom.Value(),
		"verbose":                                k.Verbose.Value(),
	}
}

// FormatAXKwargs are forwarded to the engine's format_A_X function.
type FormatAXKwargs struct {
	SolarRelative   resolve.Opt[bool]
	SolarAbundances resolve.Opt[[]float64]
	AlphaElements   resolve.Opt[[]int]
}

var formatAXSignature = resolve.MustSignature(
	resolve.Spec{Name: "solar_relative", Domain: "bool", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "solar_abundances", Domain: "list<f64>", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "alpha_elements", Domain: "list<s64>", Policy: resolve.PolicyOmit},
)

func (k *FormatAXKwargs) values() map[string]resolve.Value {
	return map[string]resolve.Value{
		"solar_relative":   k.SolarRelative.Value(),
		"solar_abundances": k.SolarAbundances.Value(),
		"alpha_elements":   k.AlphaElements.Value(),
	}
}

// SynthParams are the inputs of Synth. Teff and Logg are required.
type SynthParams struct {
	Linelist         *Linelist
	SynthesizeKwargs *SynthesizeKwargs
	FormatAXKwargs   *FormatAXKwargs
	// Abundances override individual elements, keyed by symbol, e.g. "Ni".
	// A key naming another Synth argument is rejected.
	Abundances map[string]float64
	// Wavelengths are synthesis ranges in Å; nil means DefaultWavelengths.
	Wavelengths [][2]float64
	AlphaH      resolve.Opt[float64]
	// Rectify defaults to true.
	Rectify resolve.Opt[bool]
	// R is the resolving power; it defaults to +Inf (no broadening).
	R resolve.Opt[float64]
	// Vmic is the microturbulent velocity in km/s; it defaults to 1.
	Vmic  resolve.Opt[float64]
	Teff  float64
	Logg  float64
	MH    float64
	Vsini float64
}

var synthSignature = resolve.MustSignature(
	resolve.Spec{Name: "alpha_H", Domain: "f64", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "linelist", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "synthesize_kwargs", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "format_A_X_kwargs", Policy: resolve.PolicyOmit},
)

// SynthResult holds the synthesized spectrum. The three views have the same
// length.
type SynthResult struct {
	Wavelengths *bridge.View[float64]
	Flux        *bridge.View[float64]
	Continuum   *bridge.View[float64]
}

// Release releases all three views.
func (r *SynthResult) Release() {
	r.Wavelengths.Release()
	r.Flux.Release()
	r.Continuum.Release()
}

// Synth computes a synthetic spectrum.
func (c *Client) Synth(ctx context.Context, p SynthParams) (*SynthResult, error) {
	wavelengths := p.Wavelengths
	if wavelengths == nil {
		wavelengths = DefaultWavelengths
	}
	var wl any = wavelengths
	if len(wavelengths) == 1 {
		wl = wavelengths[0]
	}

	required := []foreign.Arg{
		{Name: "Teff", Value: p.Teff},
		{Name: "logg", Value: p.Logg},
		{Name: "m_H", Value: p.MH},
		{Name: "wavelengths", Value: wl},
		{Name: "rectify", Value: p.Rectify.Or(true)},
		{Name: "R", Value: p.R.Or(math.Inf(1))},
		{Name: "vsini", Value: p.Vsini},
		{Name: "vmic", Value: p.Vmic.Or(1)},
	}

	values := map[string]resolve.Value{
		"alpha_H": p.AlphaH.Value(),
	}
	if p.Linelist != nil {
		if p.Linelist.h.Runtime() != c.rt {
			return nil, errors.InvalidInput(errors.PhaseCall, "linelist belongs to another client")
		}
		if p.Linelist.Released() {
			return nil, errors.Released(errors.PhaseCall, "linelist")
		}
		values["linelist"] = resolve.Of(p.Linelist)
	}
	if p.SynthesizeKwargs != nil {
		args, err := synthesizeSignature.Apply(p.SynthesizeKwargs.values())
		if err != nil {
			return nil, err
		}
		values["synthesize_kwargs"] = resolve.Of(args)
	}
	if p.FormatAXKwargs != nil {
		args, err := formatAXSignature.Apply(p.FormatAXKwargs.values())
		if err != nil {
			return nil, err
		}
		values["format_A_X_kwargs"] = resolve.Of(args)
	}
	optional, err := synthSignature.Apply(values)
	if err != nil {
		return nil, err
	}

	handles, err := c.invoke(ctx, EntrySynth, required,
		[]call.Group{{Name: "synth", Args: optional}},
		p.Abundances, 3)
	if err != nil {
		return nil, err
	}

	views, err := c.expose(ctx, handles)
	if err != nil {
		return nil, err
	}
	res := &SynthResult{Wavelengths: views[0], Flux: views[1], Continuum: views[2]}
	if res.Flux.Len() != res.Wavelengths.Len() || res.Continuum.Len() != res.Wavelengths.Len() {
		res.Release()
		return nil, errors.InvalidData(errors.PhaseDecode, []string{EntrySynth}, "result vectors differ in length")
	}
	return res, nil
}

// expose wraps every handle or, on failure, releases all of them.
func (c *Client) expose(ctx context.Context, handles []*foreign.Handle) ([]*bridge.View[float64], error) {
	var opts []bridge.Option
	if c.opts.copyOnExpose {
		opts = append(opts, bridge.WithCopyOnExpose())
	}

	views := make([]*bridge.View[float64], 0, len(handles))
	for i, h := range handles {
		v, err := bridge.WrapFloat64(ctx, h, opts...)
		if err != nil {
			for _, done := range views {
				done.Release()
			}
			for _, rest := range handles[i:] {
				rest.Release()
			}
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
