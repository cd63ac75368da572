// Package foreigntest provides an in-process foreign engine for tests.
//
// Engine records every call, release and length query so tests can inspect
// exactly what crossed the boundary and in which order. Released vectors are
// poisoned with 0xDE bytes, which makes a premature release visible through
// any view still reading them.
package foreigntest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	korgbridge "github.com/wippyai/korg-bridge"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

// Poison is written over vector storage when the engine releases it.
const Poison = 0xDE

// Call is one recorded Invoke.
type Call struct {
	Entry string
	Args  []foreign.Arg
}

// Arg returns the value passed for name and whether it was present.
func (c Call) Arg(name string) (any, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Names returns argument names in call order.
func (c Call) Names() []string {
	names := make([]string, len(c.Args))
	for i, a := range c.Args {
		names[i] = a.Name
	}
	return names
}

// Handler implements one entry point.
type Handler func(e *Engine, args []foreign.Arg) ([]foreign.Ref, error)

type object struct {
	layout foreign.Layout
}

// Engine is a recording foreign.Engine backed by a Go byte slice.
type Engine struct {
	mem         *Memory
	objects     map[foreign.Ref]*object
	handlers    map[string]Handler
	Docs        map[string]string
	Calls       []Call
	Releases    []foreign.Ref
	LengthCalls int
	next        foreign.Ref
	Closed      bool
}

// New creates an engine with 1 MiB of memory.
func New() *Engine {
	return &Engine{
		mem:      &Memory{buf: make([]byte, 1<<20), top: 8},
		objects:  make(map[foreign.Ref]*object),
		handlers: make(map[string]Handler),
		Docs:     make(map[string]string),
	}
}

// Handle registers the implementation of entry.
func (e *Engine) Handle(entry string, h Handler) {
	e.handlers[entry] = h
}

// Fail makes entry raise a foreign error with msg.
func (e *Engine) Fail(entry, msg string) {
	e.handlers[entry] = func(*Engine, []foreign.Arg) ([]foreign.Ref, error) {
		return nil, errors.NewForeignCall(entry, msg)
	}
}

// Return makes entry return fixed references.
func (e *Engine) Return(entry string, refs ...foreign.Ref) {
	e.handlers[entry] = func(*Engine, []foreign.Arg) ([]foreign.Ref, error) {
		return refs, nil
	}
}

// NewFloat64Vector stores vals in engine memory and returns its reference.
func (e *Engine) NewFloat64Vector(vals []float64) foreign.Ref {
	ptr := e.mem.alloc(uint32(len(vals)) * 8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(e.mem.buf[ptr+uint32(i)*8:], math.Float64bits(v))
	}
	return e.add(foreign.Layout{Kind: foreign.KindVector, DType: foreign.DTypeFloat64, Ptr: ptr, Len: uint32(len(vals))})
}

// NewFloat32Vector stores vals in engine memory and returns its reference.
func (e *Engine) NewFloat32Vector(vals []float32) foreign.Ref {
	ptr := e.mem.alloc(uint32(len(vals)) * 4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(e.mem.buf[ptr+uint32(i)*4:], math.Float32bits(v))
	}
	return e.add(foreign.Layout{Kind: foreign.KindVector, DType: foreign.DTypeFloat32, Ptr: ptr, Len: uint32(len(vals))})
}

// NewObject registers an object with an arbitrary layout. The storage it
// describes is not checked, so tests can model a misbehaving engine.
func (e *Engine) NewObject(l foreign.Layout) foreign.Ref {
	return e.add(l)
}

// NewCollection creates an opaque collection of n elements.
func (e *Engine) NewCollection(n int) foreign.Ref {
	return e.add(foreign.Layout{Kind: foreign.KindCollection, Len: uint32(n)})
}

// SetLen changes a collection's length from the foreign side.
func (e *Engine) SetLen(ref foreign.Ref, n int) {
	if o, ok := e.objects[ref]; ok {
		o.layout.Len = uint32(n)
	}
}

// Live reports whether ref has not been released.
func (e *Engine) Live(ref foreign.Ref) bool {
	_, ok := e.objects[ref]
	return ok
}

// LastCall returns the most recent call.
func (e *Engine) LastCall() Call {
	if len(e.Calls) == 0 {
		return Call{}
	}
	return e.Calls[len(e.Calls)-1]
}

func (e *Engine) add(l foreign.Layout) foreign.Ref {
	e.next++
	e.objects[e.next] = &object{layout: l}
	return e.next
}

// Invoke implements foreign.Engine.
func (e *Engine) Invoke(_ context.Context, entry string, args []foreign.Arg) ([]foreign.Ref, error) {
	e.Calls = append(e.Calls, Call{Entry: entry, Args: slices.Clone(args)})
	h, ok := e.handlers[entry]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "entry point", entry)
	}
	return h(e, args)
}

// Describe implements foreign.Engine.
func (e *Engine) Describe(_ context.Context, ref foreign.Ref) (foreign.Layout, error) {
	o, ok := e.objects[ref]
	if !ok {
		return foreign.Layout{}, fmt.Errorf("describe: unknown reference %d", ref)
	}
	return o.layout, nil
}

// Length implements foreign.Engine.
func (e *Engine) Length(_ context.Context, ref foreign.Ref) (int, error) {
	e.LengthCalls++
	o, ok := e.objects[ref]
	if !ok {
		return 0, fmt.Errorf("length: unknown reference %d", ref)
	}
	return int(o.layout.Len), nil
}

// Release implements foreign.Engine.
func (e *Engine) Release(_ context.Context, ref foreign.Ref) error {
	o, ok := e.objects[ref]
	if !ok {
		return fmt.Errorf("release: reference %d released twice", ref)
	}
	e.Releases = append(e.Releases, ref)
	if o.layout.Kind == foreign.KindVector {
		start := uint64(o.layout.Ptr)
		end := min(start+o.layout.ByteLen(), uint64(len(e.mem.buf)))
		for i := start; i < end; i++ {
			e.mem.buf[i] = Poison
		}
	}
	delete(e.objects, ref)
	return nil
}

// Doc implements foreign.Engine.
func (e *Engine) Doc(_ context.Context, name string) (string, error) {
	d, ok := e.Docs[name]
	if !ok {
		return "", errors.NotFound(errors.PhaseDoc, "documentation", name)
	}
	return d, nil
}

// Memory implements foreign.Engine.
func (e *Engine) Memory() korgbridge.Memory {
	return e.mem
}

// Close implements foreign.Engine.
func (e *Engine) Close(context.Context) error {
	e.Closed = true
	return nil
}

// Memory is a bump-allocated byte slice implementing korgbridge.Memory.
type Memory struct {
	buf []byte
	top uint32
}

func (m *Memory) alloc(size uint32) uint32 {
	ptr := (m.top + 7) &^ 7
	m.top = ptr + size
	if m.top > uint32(len(m.buf)) {
		panic("foreigntest: memory exhausted")
	}
	return ptr
}

// Read returns a slice aliasing the memory.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.buf)) {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return m.buf[offset:end:end], nil
}

// Write copies data into memory.
func (m *Memory) Write(offset uint32, data []byte) error {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.buf)) {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(m.buf[offset:], data)
	return nil
}

// ReadU32 reads a little-endian uint32.
func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteU32 writes a little-endian uint32.
func (m *Memory) WriteU32(offset, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return m.Write(offset, b[:])
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.buf))
}
