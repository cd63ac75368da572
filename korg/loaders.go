package korg

import (
	"context"
	"unicode/utf8"

	"github.com/wippyai/korg-bridge/call"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
	"github.com/wippyai/korg-bridge/resolve"
)

// Engine entry points.
const (
	EntryAPOGEEDR17 = "get_APOGEE_DR17_linelist"
	EntryGALAHDR3   = "get_GALAH_DR3_linelist"
	EntryGES        = "get_GES_linelist"
	EntryVALDSolar  = "get_VALD_solar_linelist"
	EntryRead       = "read_linelist"
	EntrySynth      = "synth"
)

// APOGEEOptions configures GetAPOGEEDR17Linelist.
type APOGEEOptions struct {
	// IncludeWater defaults to true.
	IncludeWater resolve.Opt[bool]
}

// GESOptions configures GetGESLinelist.
type GESOptions struct {
	// IncludeMolecules defaults to true.
	IncludeMolecules resolve.Opt[bool]
}

// ReadOptions configures ReadLinelist. Unset fields let the engine decide.
type ReadOptions struct {
	// Format names the file format; unset means auto-detect.
	Format resolve.Opt[string]
	// IsotopicAbundances maps atomic number to mass number to abundance.
	IsotopicAbundances map[int]map[float64]float64
}

var readSignature = resolve.MustSignature(
	resolve.Spec{Name: "format", Domain: "string", Policy: resolve.PolicyOmit},
	resolve.Spec{Name: "isotopic_abundances", Policy: resolve.PolicyOmit},
)

// GetAPOGEEDR17Linelist loads the APOGEE DR17 linelist.
func (c *Client) GetAPOGEEDR17Linelist(ctx context.Context, opts APOGEEOptions) (*Linelist, error) {
	return c.load(ctx, EntryAPOGEEDR17, []foreign.Arg{
		{Name: "include_water", Value: opts.IncludeWater.Or(true)},
	}, nil)
}

// GetGALAHDR3Linelist loads the GALAH DR3 linelist.
func (c *Client) GetGALAHDR3Linelist(ctx context.Context) (*Linelist, error) {
	return c.load(ctx, EntryGALAHDR3, nil, nil)
}

// GetGESLinelist loads the Gaia-ESO survey linelist.
func (c *Client) GetGESLinelist(ctx context.Context, opts GESOptions) (*Linelist, error) {
	return c.load(ctx, EntryGES, []foreign.Arg{
		{Name: "include_molecules", Value: opts.IncludeMolecules.Or(true)},
	}, nil)
}

// GetVALDSolarLinelist loads the default VALD solar linelist.
func (c *Client) GetVALDSolarLinelist(ctx context.Context) (*Linelist, error) {
	return c.load(ctx, EntryVALDSolar, nil, nil)
}

// ReadLinelist parses a linelist file inside the engine. Failures raised by
// the engine, such as a missing file, come back as *errors.ForeignCallError.
func (c *Client) ReadLinelist(ctx context.Context, path string, opts ReadOptions) (*Linelist, error) {
	if !utf8.ValidString(path) {
		return nil, errors.InvalidInput(errors.PhaseCall, "linelist path is not valid UTF-8")
	}

	values := map[string]resolve.Value{
		"format": opts.Format.Value(),
	}
	if opts.IsotopicAbundances != nil {
		values["isotopic_abundances"] = resolve.Of(opts.IsotopicAbundances)
	}
	optional, err := readSignature.Apply(values)
	if err != nil {
		return nil, err
	}

	return c.load(ctx, EntryRead,
		[]foreign.Arg{{Name: "fname", Value: path}},
		[]call.Group{{Name: "read", Args: optional}},
	)
}

func (c *Client) load(ctx context.Context, entry string, required []foreign.Arg, groups []call.Group) (*Linelist, error) {
	handles, err := c.invoke(ctx, entry, required, groups, nil, 1)
	if err != nil {
		return nil, err
	}
	return newLinelist(handles[0]), nil
}
