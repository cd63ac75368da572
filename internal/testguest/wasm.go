// Package testguest builds small WebAssembly modules for tests.
//
// Modules are encoded directly to the binary format so tests need no
// external toolchain. Only the instructions the guests here use are
// provided.
package testguest

import (
	"encoding/binary"
)

// ValType is a core value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

// Func is one exported function.
type Func struct {
	Name    string
	Params  []ValType
	Results []ValType
	Locals  []ValType
	Body    []byte
}

// Global is a global variable, exported when Name is set.
type Global struct {
	Name    string
	Type    ValType
	Init    int64
	Mutable bool
}

// Data is an active data segment in memory 0.
type Data struct {
	Bytes  []byte
	Offset uint32
}

// Module describes a core module with one exported memory named "memory".
type Module struct {
	Funcs    []Func
	Globals  []Global
	Data     []Data
	MinPages uint32
	// MaxPages of 0 leaves the memory unbounded.
	MaxPages uint32
}

const (
	secType     = 1
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10
	secData     = 11

	exportFunc   = 0x00
	exportMemory = 0x02
	exportGlobal = 0x03
)

// Encode returns the module's binary encoding.
func (m *Module) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types, funcs, code []byte
	types = uleb(types, uint64(len(m.Funcs)))
	funcs = uleb(funcs, uint64(len(m.Funcs)))
	code = uleb(code, uint64(len(m.Funcs)))
	for i, f := range m.Funcs {
		types = append(types, 0x60)
		types = valTypes(types, f.Params)
		types = valTypes(types, f.Results)
		funcs = uleb(funcs, uint64(i))

		var body []byte
		body = uleb(body, uint64(len(f.Locals)))
		for _, l := range f.Locals {
			body = uleb(body, 1)
			body = append(body, byte(l))
		}
		body = append(body, f.Body...)
		body = append(body, opEnd)
		code = uleb(code, uint64(len(body)))
		code = append(code, body...)
	}
	out = section(out, secType, types)
	out = section(out, secFunction, funcs)

	var mem []byte
	mem = uleb(mem, 1)
	if m.MaxPages > 0 {
		mem = append(mem, 0x01)
		mem = uleb(mem, uint64(m.MinPages))
		mem = uleb(mem, uint64(m.MaxPages))
	} else {
		mem = append(mem, 0x00)
		mem = uleb(mem, uint64(m.MinPages))
	}
	out = section(out, secMemory, mem)

	if len(m.Globals) > 0 {
		var globals []byte
		globals = uleb(globals, uint64(len(m.Globals)))
		for _, g := range m.Globals {
			globals = append(globals, byte(g.Type))
			if g.Mutable {
				globals = append(globals, 0x01)
			} else {
				globals = append(globals, 0x00)
			}
			switch g.Type {
			case I64:
				globals = append(globals, I64Const(g.Init)...)
			default:
				globals = append(globals, I32Const(int32(g.Init))...)
			}
			globals = append(globals, opEnd)
		}
		out = section(out, secGlobal, globals)
	}

	var exports []byte
	count := 1 + len(m.Funcs)
	for _, g := range m.Globals {
		if g.Name != "" {
			count++
		}
	}
	exports = uleb(exports, uint64(count))
	exports = name(exports, "memory")
	exports = append(exports, exportMemory, 0x00)
	for i, f := range m.Funcs {
		exports = name(exports, f.Name)
		exports = append(exports, exportFunc)
		exports = uleb(exports, uint64(i))
	}
	for i, g := range m.Globals {
		if g.Name == "" {
			continue
		}
		exports = name(exports, g.Name)
		exports = append(exports, exportGlobal)
		exports = uleb(exports, uint64(i))
	}
	out = section(out, secExport, exports)
	out = section(out, secCode, code)

	if len(m.Data) > 0 {
		var data []byte
		data = uleb(data, uint64(len(m.Data)))
		for _, d := range m.Data {
			data = append(data, 0x00)
			data = append(data, I32Const(int32(d.Offset))...)
			data = append(data, opEnd)
			data = uleb(data, uint64(len(d.Bytes)))
			data = append(data, d.Bytes...)
		}
		out = section(out, secData, data)
	}

	return out
}

func section(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = uleb(out, uint64(len(content)))
	return append(out, content...)
}

func valTypes(out []byte, ts []ValType) []byte {
	out = uleb(out, uint64(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func name(out []byte, s string) []byte {
	out = uleb(out, uint64(len(s)))
	return append(out, s...)
}

func uleb(out []byte, v uint64) []byte {
	return binary.AppendUvarint(out, v)
}

func sleb(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

const (
	opUnreachable = 0x00
	opEnd         = 0x0B
	opDrop        = 0x1A
	opLocalGet    = 0x20
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load     = 0x28
	opI32Store    = 0x36
	opMemoryGrow  = 0x40
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Add      = 0x6A
	opI32Mul      = 0x6C
	opI32And      = 0x71
)

// Code concatenates instruction encodings.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func I32Const(v int32) []byte { return sleb([]byte{opI32Const}, int64(v)) }
func I64Const(v int64) []byte { return sleb([]byte{opI64Const}, v) }
func LocalGet(i uint32) []byte { return uleb([]byte{opLocalGet}, uint64(i)) }
func GlobalGet(i uint32) []byte { return uleb([]byte{opGlobalGet}, uint64(i)) }
func GlobalSet(i uint32) []byte { return uleb([]byte{opGlobalSet}, uint64(i)) }

// I32Load loads from the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return uleb([]byte{opI32Load, 0x02}, uint64(offset))
}

// I32Store stores the value on top of the stack at address plus offset.
func I32Store(offset uint32) []byte {
	return uleb([]byte{opI32Store, 0x02}, uint64(offset))
}

func I32Add() []byte { return []byte{opI32Add} }
func I32Mul() []byte { return []byte{opI32Mul} }
func I32And() []byte { return []byte{opI32And} }
func Drop() []byte { return []byte{opDrop} }
func Unreachable() []byte { return []byte{opUnreachable} }
func MemoryGrow() []byte { return []byte{opMemoryGrow, 0x00} }
