// Package korg is the Go interface to the Korg spectral synthesis engine.
//
// A Client owns one running engine. Catalog loaders and ReadLinelist return
// a Linelist, a thin handle over a collection that stays inside the engine.
// Synth returns three zero-copy views over engine memory.
//
// Optional parameters use resolve.Opt: an unset Opt is left out of the
// engine call so the engine applies its own default, and resolve.Null passes
// the engine's "nothing" value explicitly where a parameter accepts it.
//
// This API is highly experimental. All functions and types can and will
// change.
//
// Example:
//
//	client, err := korg.Open(ctx, guestWasm)
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	lines, err := client.GetGALAHDR3Linelist(ctx)
//	if err != nil {
//	    return err
//	}
//	defer lines.Release()
//
//	res, err := client.Synth(ctx, korg.SynthParams{
//	    Teff:     5000,
//	    Logg:     4.5,
//	    Linelist: lines,
//	    AlphaH:   resolve.Some(0.2),
//	})
package korg
