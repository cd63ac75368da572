// Package call merges the argument sources of a host call into one ordered
// argument set and forwards it to the foreign engine exactly once.
//
// Sources are applied in a fixed order: required arguments, then keyword
// groups in their declared order, then the caller's free-form numeric
// overrides. A later source replaces an earlier value of the same name.
// Required names are the exception: they are never replaced, and a later
// source naming one fails the merge with an ArgumentShape error before the
// engine is called.
//
// Example:
//
//	adapter := call.NewAdapter(rt)
//	handles, err := adapter.Invoke(ctx, "synth",
//	    []foreign.Arg{{Name: "Teff", Value: 5777.0}, {Name: "logg", Value: 4.44}},
//	    []call.Group{{Name: "synthesize", Args: extra}},
//	    map[string]float64{"Fe": -0.1},
//	)
package call
