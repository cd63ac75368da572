// Package bridge exposes numeric vectors owned by the foreign engine as Go
// slices without copying.
//
// A View keeps its storage alive through a chain of custody:
//
//	View -> owner -> foreign.Handle -> engine reference
//
// Views derived with Slice share the owner. The engine reference is released
// only after every view has been released or collected. Slices returned by
// Data alias engine memory and are valid only while their View is reachable;
// hold the View, not the slice.
//
// # Memory Growth
//
// Engine memory may move when the guest grows it. A zero-copy view taken
// before the growth keeps reading the old buffer. Callers that cannot rule
// out growth between calls use WithCopyOnExpose, or configure the engine with
// stable memory.
package bridge
