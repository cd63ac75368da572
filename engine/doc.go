// Package engine runs the Korg guest, a core WebAssembly module, on wazero
// and implements foreign.Engine on top of it.
//
// # Architecture
//
// The engine package provides three main types:
//
//	WazeroEngine   - Creates and manages the wazero runtime
//	WazeroModule   - A compiled guest whose exports passed validation
//	WazeroInstance - A running guest; implements foreign.Engine
//
// # Guest ABI
//
// The guest owns its linear memory and its allocator. The host asks it for
// memory and hands everything back through it:
//
//	memory                           linear memory
//	korg_alloc(size i32) -> i32      allocate size bytes, 8-byte aligned
//	korg_free(ptr i32)               free an argument buffer
//	korg_release(ref i32)            drop the guest's keep-alive for ref
//	korg_describe(ref i32) -> i32    address of ref's descriptor, 0 if unknown
//	korg_length(ref i32) -> i32      current element count, negative if unknown
//	korg_call.<entry>(ptr, len i32) -> i32
//	korg_doc.<function>() -> i64     packed (ptr << 32 | len) of the doc text
//
// A descriptor is four little-endian u32 values: kind, dtype, ptr and len.
//
// Call arguments are one canonical CBOR array of [name, value] pairs. Foreign
// references travel as CBOR tag 40960 around the u32 reference; the "nothing"
// sentinel is CBOR null.
//
// A call returns the address of a result table:
//
//	status u32 = 0    count u32, then count refs (u32)
//	status u32 = 1    msg_ptr u32, msg_len u32
//
// Status 1 surfaces as *errors.ForeignCallError carrying the guest's message
// verbatim. A trap is reported separately as a KindTrap error.
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use.
// WazeroInstance is NOT thread-safe and should be used by a single goroutine.
//
// # Memory Growth
//
// Reads through Memory alias the guest buffer. wazero reallocates that buffer
// when the guest grows its memory past the current capacity, detaching
// earlier reads. Config.StableMemory allocates the declared maximum up front
// so growth never moves the buffer.
package engine
