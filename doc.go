// Package korgbridge exposes the Korg spectral synthesis engine, running in a
// separate WebAssembly runtime with its own memory manager, to Go callers.
//
// The library is organized into several packages with distinct responsibilities:
//
//	korgbridge/          Root package with core Memory and Allocator interfaces
//	├── korg/            Public API: linelist loaders, Synth, recycled docs
//	├── call/            Keyword merge and single-shot foreign invocation
//	├── resolve/         Optional argument resolution (omit vs sentinel)
//	├── bridge/          Zero-copy views over foreign numeric vectors
//	├── foreign/         Foreign handles, deferred release, engine boundary
//	├── engine/          wazero-backed guest engine and CBOR wire format
//	├── config/          TOML configuration
//	└── errors/          Structured error types
//
// # Quick Start
//
//	client, err := korg.Open(ctx, guestWasm)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	res, err := client.Synth(ctx, korg.SynthParams{
//	    Teff:       5777,
//	    Logg:       4.44,
//	    Abundances: map[string]float64{"Ni": 0.2},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer res.Release()
//	fmt.Println(res.Wavelengths.Len(), res.Flux.At(0))
//
// # Ownership
//
// Results returned by the engine live in guest memory. A bridge.View shares
// that memory without copying and holds the foreign handle that keeps it
// allocated: the chain is view -> owner -> handle -> guest reference. The
// guest is asked to free an allocation only after every view derived from it
// was released, either explicitly or by the garbage collector. Collector
// cleanups never call into the guest; they queue the release, which runs on
// the caller's goroutine at the next engine call.
//
// # Thread Safety
//
// A Client (and the foreign.Runtime beneath it) is NOT thread-safe. The guest
// engine is not reentrant and must be used by a single goroutine, or access
// must be synchronized externally.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Growth may move the memory
// buffer; a view taken before the move keeps pointing at the old contents.
// Views are therefore fixed-capacity snapshots by contract: nothing on the
// view path resizes a vector, and a guest that reallocates a vector through
// another reference leaves earlier views undefined. Use
// korg.WithCopyOnExpose when results must outlive further guest activity.
package korgbridge
