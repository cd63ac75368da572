// Package foreign defines the boundary to the foreign engine and the handles
// that keep foreign objects alive.
//
// # Engine
//
// Engine is the interface every foreign runtime backend implements. The
// wazero guest backend lives in package engine; foreigntest provides a
// recording double.
//
// # Handles
//
// A Handle owns exactly one foreign keep-alive reference. Handles are created
// only by Runtime.Invoke, wrapping references returned from a completed call.
// Holders share a handle with Retain and give it back with Release; when the
// count reaches zero the foreign reference is queued for release. If every
// holder becomes unreachable without releasing, a garbage-collector cleanup
// queues it instead. Either way the foreign Release runs later, on the
// goroutine that next enters the runtime:
//
//	handles, err := rt.Invoke(ctx, "synth", args)
//	...
//	h.Release()       // queued
//	rt.Collect(ctx)   // engine.Release(ref) runs here
//
// Runtime is NOT safe for concurrent use.
package foreign
