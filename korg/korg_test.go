package korg_test

import (
	"context"
	stderrors "errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
	"github.com/wippyai/korg-bridge/foreign/foreigntest"
	"github.com/wippyai/korg-bridge/internal/testguest"
	"github.com/wippyai/korg-bridge/korg"
	"github.com/wippyai/korg-bridge/resolve"
)

func newFake(t *testing.T, opts ...korg.Option) (*foreigntest.Engine, *korg.Client) {
	t.Helper()
	eng := foreigntest.New()
	for _, name := range korg.Shadowed {
		eng.Docs[name] = testguest.DefaultDoc(name)
	}
	for _, name := range []string{korg.EntryAPOGEEDR17, korg.EntryGALAHDR3, korg.EntryGES, korg.EntryVALDSolar, korg.EntryRead} {
		eng.Handle(name, func(e *foreigntest.Engine, _ []foreign.Arg) ([]foreign.Ref, error) {
			return []foreign.Ref{e.NewCollection(500)}, nil
		})
	}
	eng.Handle(korg.EntrySynth, func(e *foreigntest.Engine, _ []foreign.Arg) ([]foreign.Ref, error) {
		return []foreign.Ref{
			e.NewFloat64Vector([]float64{5000, 5500, 6000}),
			e.NewFloat64Vector([]float64{0.9, 0.5, 0.8}),
			e.NewFloat64Vector([]float64{1, 1, 1}),
		}, nil
	})

	c, err := korg.New(context.Background(), eng, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return eng, c
}

func TestReadLinelistOmitsUnsetOptions(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	ll, err := c.ReadLinelist(ctx, "lines.vald", korg.ReadOptions{})
	require.NoError(t, err)
	defer ll.Release()
	assert.Equal(t, []string{"fname"}, eng.LastCall().Names())

	_, err = c.ReadLinelist(ctx, "lines.vald", korg.ReadOptions{
		Format:             resolve.Some("vald"),
		IsotopicAbundances: map[int]map[float64]float64{26: {56: 0.92}},
	})
	require.NoError(t, err)
	call := eng.LastCall()
	assert.Equal(t, []string{"fname", "format", "isotopic_abundances"}, call.Names())
	v, _ := call.Arg("format")
	assert.Equal(t, "vald", v)
}

func TestReadLinelistMissingFile(t *testing.T) {
	eng, c := newFake(t)
	const msg = `SystemError: opening file "nope.vald": No such file or directory`
	eng.Fail(korg.EntryRead, msg)

	_, err := c.ReadLinelist(context.Background(), "nope.vald", korg.ReadOptions{})
	require.Error(t, err)
	var fce *errors.ForeignCallError
	require.True(t, stderrors.As(err, &fce))
	assert.Equal(t, msg, err.Error())
	assert.Len(t, eng.Calls, 1)
}

func TestReadLinelistRejectsInvalidPath(t *testing.T) {
	eng, c := newFake(t)
	_, err := c.ReadLinelist(context.Background(), "bad\xffpath", korg.ReadOptions{})
	require.Error(t, err)
	assert.Empty(t, eng.Calls)
}

func TestLoaderKeywordDefaults(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	_, err := c.GetAPOGEEDR17Linelist(ctx, korg.APOGEEOptions{})
	require.NoError(t, err)
	v, ok := eng.LastCall().Arg("include_water")
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, err = c.GetGESLinelist(ctx, korg.GESOptions{IncludeMolecules: resolve.Some(false)})
	require.NoError(t, err)
	v, _ = eng.LastCall().Arg("include_molecules")
	assert.Equal(t, false, v)

	_, err = c.GetGALAHDR3Linelist(ctx)
	require.NoError(t, err)
	assert.Empty(t, eng.LastCall().Args)

	_, err = c.GetVALDSolarLinelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, korg.EntryVALDSolar, eng.LastCall().Entry)
}

func TestLinelistLenNotCached(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	ll, err := c.GetVALDSolarLinelist(ctx)
	require.NoError(t, err)

	before := eng.LengthCalls
	n1, err := ll.Len(ctx)
	require.NoError(t, err)
	n2, err := ll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, n1)
	assert.Equal(t, n1, n2)
	assert.Equal(t, before+2, eng.LengthCalls)

	eng.SetLen(ll.ForeignRef(), 7)
	n3, err := ll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n3)
	assert.Equal(t, "Linelist(<7 lines>)", ll.String())

	ll.Release()
	_, err = ll.Len(ctx)
	require.Error(t, err)
	assert.Equal(t, "Linelist(<released>)", ll.String())
}

func TestLinelistReleasedAfterLastHolder(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	ll, err := c.GetGALAHDR3Linelist(ctx)
	require.NoError(t, err)
	ref := ll.ForeignRef()

	_, err = c.Synth(ctx, korg.SynthParams{Teff: 5000, Logg: 4.5, Linelist: ll})
	require.NoError(t, err)
	assert.True(t, eng.Live(ref))

	ll.Release()
	assert.True(t, eng.Live(ref), "release runs at the next engine interaction")
	require.NoError(t, c.Collect(ctx))
	assert.False(t, eng.Live(ref))
}

func TestSynthScenario(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	res, err := c.Synth(ctx, korg.SynthParams{
		Teff:       5000,
		Logg:       4.5,
		Abundances: map[string]float64{"Ni": 0.2},
	})
	require.NoError(t, err)
	defer res.Release()

	n := res.Wavelengths.Len()
	require.Positive(t, n)
	assert.Equal(t, n, res.Flux.Len())
	assert.Equal(t, n, res.Continuum.Len())
	for i := 1; i < n; i++ {
		assert.Greater(t, res.Wavelengths.At(i), res.Wavelengths.At(i-1))
	}

	call := eng.LastCall()
	assert.Equal(t, []string{"Teff", "logg", "m_H", "wavelengths", "rectify", "R", "vsini", "vmic", "Ni"}, call.Names())
	ni, ok := call.Arg("Ni")
	require.True(t, ok)
	assert.Equal(t, 0.2, ni)
	wl, _ := call.Arg("wavelengths")
	assert.Equal(t, [2]float64{5000, 6000}, wl)
}

func TestSynthOptionalArguments(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	ll, err := c.GetVALDSolarLinelist(ctx)
	require.NoError(t, err)
	defer ll.Release()

	res, err := c.Synth(ctx, korg.SynthParams{
		Teff:     5777,
		Logg:     4.44,
		AlphaH:   resolve.Some(0.1),
		Linelist: ll,
		SynthesizeKwargs: &korg.SynthesizeKwargs{
			LineBuffer:                 resolve.Some(5.0),
			UseChemicalEquilibriumFrom: resolve.Null[resolve.Passthrough](),
		},
		FormatAXKwargs: &korg.FormatAXKwargs{},
		Abundances:     map[string]float64{"Ni": 0.2, "Fe": -0.1},
	})
	require.NoError(t, err)
	defer res.Release()

	call := eng.LastCall()
	assert.Equal(t, []string{
		"Teff", "logg", "m_H", "wavelengths", "rectify", "R", "vsini", "vmic",
		"alpha_H", "linelist", "synthesize_kwargs", "format_A_X_kwargs",
		"Fe", "Ni",
	}, call.Names())

	teff, _ := call.Arg("Teff")
	assert.Equal(t, 5777.0, teff)

	lowered, _ := call.Arg("linelist")
	lw, ok := lowered.(foreign.Lowerer)
	require.True(t, ok)
	assert.Equal(t, ll.ForeignRef(), lw.ForeignRef())

	kw, _ := call.Arg("synthesize_kwargs")
	assert.Equal(t, []foreign.Arg{
		{Name: "line_buffer", Value: 5.0},
		{Name: "use_chemical_equilibrium_from", Value: foreign.Nothing},
	}, kw)

	ax, _ := call.Arg("format_A_X_kwargs")
	assert.Empty(t, ax)
}

func TestSynthAbundanceCollidingWithRequired(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	for _, key := range []string{"Teff", "vmic"} {
		_, err := c.Synth(ctx, korg.SynthParams{
			Teff:       5000,
			Logg:       4.5,
			Abundances: map[string]float64{"Ni": 0.2, key: 1},
		})
		require.Error(t, err, key)
		assert.True(t, stderrors.Is(err, errors.ErrArgumentShape), key)
		assert.Contains(t, err.Error(), key)
	}
	assert.Empty(t, eng.Calls)
}

func TestSynthReleaseOrdering(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	res, err := c.Synth(ctx, korg.SynthParams{Teff: 5000, Logg: 4.5})
	require.NoError(t, err)
	flux := res.Flux

	res.Wavelengths.Release()
	res.Continuum.Release()
	require.NoError(t, c.Collect(ctx))
	assert.Len(t, eng.Releases, 2)
	assert.Equal(t, []float64{0.9, 0.5, 0.8}, flux.Data(), "flux storage must survive its siblings")

	flux.Release()
	require.NoError(t, c.Collect(ctx))
	assert.Len(t, eng.Releases, 3)
}

func TestSynthCollectedResult(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	func() {
		res, err := c.Synth(ctx, korg.SynthParams{Teff: 5000, Logg: 4.5})
		require.NoError(t, err)
		require.Equal(t, 3, res.Flux.Len())
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return c.Runtime().Pending() == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, eng.Releases)
	require.NoError(t, c.Collect(ctx))
	assert.Len(t, eng.Releases, 3)
}

func TestSynthCopyOnExpose(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t, korg.WithCopyOnExpose())

	res, err := c.Synth(ctx, korg.SynthParams{Teff: 5000, Logg: 4.5})
	require.NoError(t, err)
	require.NoError(t, c.Collect(ctx))

	assert.Len(t, eng.Releases, 3)
	assert.Equal(t, []float64{5000, 5500, 6000}, res.Wavelengths.Data())
}

func TestSynthWrongResultCount(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)
	eng.Handle(korg.EntrySynth, func(e *foreigntest.Engine, _ []foreign.Arg) ([]foreign.Ref, error) {
		return []foreign.Ref{e.NewFloat64Vector([]float64{1})}, nil
	})

	_, err := c.Synth(ctx, korg.SynthParams{Teff: 5000, Logg: 4.5})
	require.Error(t, err)
	require.NoError(t, c.Collect(ctx))
	assert.Len(t, eng.Releases, 1)
}

func TestSynthRejectsReleasedLinelist(t *testing.T) {
	ctx := context.Background()
	eng, c := newFake(t)

	ll, err := c.GetVALDSolarLinelist(ctx)
	require.NoError(t, err)
	ll.Release()
	calls := len(eng.Calls)

	_, err = c.Synth(ctx, korg.SynthParams{Teff: 5000, Logg: 4.5, Linelist: ll})
	require.Error(t, err)
	assert.Len(t, eng.Calls, calls)
}

func TestDocsRecycled(t *testing.T) {
	_, c := newFake(t)

	doc, err := c.Doc(korg.EntryGES)
	require.NoError(t, err)
	assert.Equal(t, "Returns a linelist for the get_GES_linelist catalog.\n", doc)
	assert.Equal(t, []string{korg.EntryAPOGEEDR17, korg.EntryGALAHDR3, korg.EntryGES, korg.EntryVALDSolar}, c.Documented())

	_, err = c.Doc("synth")
	require.Error(t, err)
}

func TestDocsMissing(t *testing.T) {
	ctx := context.Background()
	eng := foreigntest.New()
	eng.Docs[korg.EntryGALAHDR3] = "    something_else()\nwrong function"

	c, err := korg.New(ctx, eng)
	require.NoError(t, err)
	_, err = c.Doc(korg.EntryGALAHDR3)
	assert.True(t, stderrors.Is(err, errors.ErrDocMissing))
	_, err = c.Doc(korg.EntryVALDSolar)
	assert.True(t, stderrors.Is(err, errors.ErrDocMissing))
	assert.Empty(t, c.Documented())

	_, err = korg.New(ctx, foreigntest.New(), korg.WithStrictDocs())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDocMissing))
}

func TestClientOverWazeroGuest(t *testing.T) {
	ctx := context.Background()
	g := testguest.Korg(testguest.WithSpectrumLen(200), testguest.WithLinelistLen(321))

	c, err := korg.Open(ctx, g.Binary, korg.WithStrictDocs())
	require.NoError(t, err)
	defer c.Close(ctx)

	ll, err := c.GetAPOGEEDR17Linelist(ctx, korg.APOGEEOptions{IncludeWater: resolve.Some(false)})
	require.NoError(t, err)
	n, err := ll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 321, n)

	res, err := c.Synth(ctx, korg.SynthParams{Teff: 5000, Logg: 4.5, Linelist: ll})
	require.NoError(t, err)
	assert.Equal(t, g.Wavelengths, res.Wavelengths.Data())
	assert.Equal(t, g.Flux, res.Flux.Data())
	assert.Equal(t, g.Continuum, res.Continuum.Data())
	for i := 1; i < res.Wavelengths.Len(); i++ {
		require.Greater(t, res.Wavelengths.At(i), res.Wavelengths.At(i-1))
	}

	_, err = c.ReadLinelist(ctx, "missing.vald", korg.ReadOptions{})
	require.Error(t, err)
	assert.Equal(t, testguest.ReadError, err.Error())

	doc, err := c.Doc(korg.EntryVALDSolar)
	require.NoError(t, err)
	assert.Contains(t, doc, "VALD")

	res.Release()
	ll.Release()
	require.NoError(t, c.Collect(ctx))
	assert.Equal(t, 0, c.Runtime().Outstanding())
}
