package testguest

import (
	"encoding/binary"
	"math"
	"sort"
)

// Entry points implemented by the Korg guest.
const (
	EntrySynth   = "synth"
	EntryRead    = "read_linelist"
	EntryAPOGEE  = "get_APOGEE_DR17_linelist"
	EntryGALAH   = "get_GALAH_DR3_linelist"
	EntryGES     = "get_GES_linelist"
	EntryVALD    = "get_VALD_solar_linelist"
	EntryNullRef = "null_ref"
	EntryFloat32 = "float32_vector"
	EntryCrash   = "crash"
)

// ExportGrow grows guest memory by the given number of pages and returns
// the previous size, or -1.
const ExportGrow = "korg_grow"

// Exported globals of the Korg guest.
const (
	GlobalHeap         = "korg_heap"
	GlobalReleased     = "korg_released"
	GlobalLastArgsPtr  = "korg_last_args_ptr"
	GlobalLastArgsLen  = "korg_last_args_len"
	GlobalCalls        = "korg_calls"
	releaseLogCapacity = 1024
)

// ReadError is the message read_linelist always fails with.
const ReadError = `SystemError: opening file "missing.vald": No such file or directory`

// Loaders lists the catalog loader entry points.
var Loaders = []string{EntryAPOGEE, EntryGALAH, EntryGES, EntryVALD}

// Guest is a built Korg guest together with the values baked into it.
type Guest struct {
	Docs        map[string]string
	Binary      []byte
	Wavelengths []float64
	Flux        []float64
	Continuum   []float64
	Float32     []float32
	// Refs of the synth results, in order.
	SynthRefs   [3]uint32
	LinelistRef uint32
	Float32Ref  uint32
	ReleaseLog  uint32
	LinelistLen int
}

type config struct {
	docs        map[string]string
	spectrumLen int
	linelistLen int
	maxPages    uint32
}

// Option adjusts the Korg guest.
type Option func(*config)

// WithSpectrumLen sets the number of synthesized samples.
func WithSpectrumLen(n int) Option {
	return func(c *config) { c.spectrumLen = n }
}

// WithLinelistLen sets the number of lines every loader reports.
func WithLinelistLen(n int) Option {
	return func(c *config) { c.linelistLen = n }
}

// WithDoc replaces the documentation text of a function.
func WithDoc(fn, text string) Option {
	return func(c *config) { c.docs[fn] = text }
}

// WithoutDoc drops the documentation export of a function.
func WithoutDoc(fn string) Option {
	return func(c *config) { delete(c.docs, fn) }
}

// WithMaxPages bounds the guest memory.
func WithMaxPages(n uint32) Option {
	return func(c *config) { c.maxPages = n }
}

// DefaultDoc returns the documentation the guest ships for fn.
func DefaultDoc(fn string) string {
	return "    " + fn + "(; kwargs...)\n\n" +
		"Returns a linelist for the " + fn + " catalog.\n"
}

const (
	globalHeap = iota
	globalReleased
	globalLastArgsPtr
	globalLastArgsLen
	globalCalls
)

const (
	kindVector     = 1
	kindCollection = 2
	dtypeF32       = 1
	dtypeF64       = 2
)

// Korg builds a guest that answers the Korg entry points with fixed data.
//
// The guest's references are descriptor addresses, so describe is the
// identity. read_linelist always fails with ReadError.
func Korg(opts ...Option) *Guest {
	cfg := config{
		spectrumLen: 64,
		linelistLen: 1000,
		docs:        make(map[string]string),
	}
	for _, fn := range Loaders {
		cfg.docs[fn] = DefaultDoc(fn)
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Guest{Docs: cfg.docs, LinelistLen: cfg.linelistLen}
	n := cfg.spectrumLen
	g.Wavelengths = make([]float64, n)
	g.Flux = make([]float64, n)
	g.Continuum = make([]float64, n)
	for i := range n {
		w := 5000.0
		if n > 1 {
			w += float64(i) * 1000 / float64(n-1)
		}
		g.Wavelengths[i] = w
		g.Continuum[i] = 1 + (w-5000)*1e-4
		g.Flux[i] = g.Continuum[i] * (1 - 0.6*math.Exp(-math.Pow((w-5500)/3, 2)))
	}
	g.Float32 = []float32{1.5, -2.25, float32(math.Inf(1)), 0}

	var a arena
	a.reserve(0x100)

	synthTable := a.alloc(8 + 3*4)
	loaderTable := a.alloc(12)
	readTable := a.alloc(12)
	nullTable := a.alloc(12)
	f32Table := a.alloc(12)
	descW := a.alloc(16)
	descF := a.alloc(16)
	descC := a.alloc(16)
	descL := a.alloc(16)
	descF32 := a.alloc(16)

	msg := a.bytes([]byte(ReadError))
	docNames := make([]string, 0, len(cfg.docs))
	for fn := range cfg.docs {
		docNames = append(docNames, fn)
	}
	sort.Strings(docNames)
	docs := make(map[string]uint64, len(docNames))
	for _, fn := range docNames {
		text := cfg.docs[fn]
		ptr := a.bytes([]byte(text))
		docs[fn] = uint64(ptr)<<32 | uint64(len(text))
	}

	wPtr := a.f64s(g.Wavelengths)
	fPtr := a.f64s(g.Flux)
	cPtr := a.f64s(g.Continuum)
	f32Ptr := a.f32s(g.Float32)

	g.ReleaseLog = a.alloc(releaseLogCapacity * 4)
	heap := (a.top + 0xFFF) &^ 0xFFF

	a.u32s(synthTable, 0, 3, descW, descF, descC)
	a.u32s(loaderTable, 0, 1, descL)
	a.u32s(readTable, 1, msg, uint32(len(ReadError)))
	a.u32s(nullTable, 0, 1, 0)
	a.u32s(f32Table, 0, 1, descF32)
	a.u32s(descW, kindVector, dtypeF64, wPtr, uint32(n))
	a.u32s(descF, kindVector, dtypeF64, fPtr, uint32(n))
	a.u32s(descC, kindVector, dtypeF64, cPtr, uint32(n))
	a.u32s(descL, kindCollection, 0, 0, uint32(cfg.linelistLen))
	a.u32s(descF32, kindVector, dtypeF32, f32Ptr, uint32(len(g.Float32)))

	g.SynthRefs = [3]uint32{descW, descF, descC}
	g.LinelistRef = descL
	g.Float32Ref = descF32

	pages := heap/0x10000 + 2
	if cfg.maxPages > 0 && cfg.maxPages < pages {
		cfg.maxPages = pages
	}

	m := &Module{
		MinPages: pages,
		MaxPages: cfg.maxPages,
		Globals: []Global{
			globalHeap:        {Name: GlobalHeap, Type: I32, Mutable: true, Init: int64(heap)},
			globalReleased:    {Name: GlobalReleased, Type: I32, Mutable: true},
			globalLastArgsPtr: {Name: GlobalLastArgsPtr, Type: I32, Mutable: true},
			globalLastArgsLen: {Name: GlobalLastArgsLen, Type: I32, Mutable: true},
			globalCalls:       {Name: GlobalCalls, Type: I32, Mutable: true},
		},
		Data: []Data{{Offset: a.base, Bytes: a.buf}},
	}

	m.Funcs = append(m.Funcs,
		Func{
			Name:    "korg_alloc",
			Params:  []ValType{I32},
			Results: []ValType{I32},
			Body: Code(
				GlobalGet(globalHeap),
				GlobalGet(globalHeap),
				LocalGet(0), I32Const(7), I32Add(), I32Const(-8), I32And(),
				I32Add(),
				GlobalSet(globalHeap),
			),
		},
		Func{
			Name:   "korg_release",
			Params: []ValType{I32},
			Body: Code(
				GlobalGet(globalReleased), I32Const(releaseLogCapacity-1), I32And(),
				I32Const(4), I32Mul(),
				I32Const(int32(g.ReleaseLog)), I32Add(),
				LocalGet(0),
				I32Store(0),
				GlobalGet(globalReleased), I32Const(1), I32Add(),
				GlobalSet(globalReleased),
			),
		},
		Func{
			Name:   "korg_free",
			Params: []ValType{I32},
		},
		Func{
			Name:    "korg_describe",
			Params:  []ValType{I32},
			Results: []ValType{I32},
			Body:    LocalGet(0),
		},
		Func{
			Name:    "korg_length",
			Params:  []ValType{I32},
			Results: []ValType{I32},
			Body:    Code(LocalGet(0), I32Load(12)),
		},
		Func{
			Name:    ExportGrow,
			Params:  []ValType{I32},
			Results: []ValType{I32},
			Body:    Code(LocalGet(0), MemoryGrow()),
		},
	)

	tables := map[string]uint32{
		EntrySynth:   synthTable,
		EntryAPOGEE:  loaderTable,
		EntryGALAH:   loaderTable,
		EntryGES:     loaderTable,
		EntryVALD:    loaderTable,
		EntryRead:    readTable,
		EntryNullRef: nullTable,
		EntryFloat32: f32Table,
	}
	entries := make([]string, 0, len(tables))
	for e := range tables {
		entries = append(entries, e)
	}
	sort.Strings(entries)
	for _, e := range entries {
		m.Funcs = append(m.Funcs, Func{
			Name:    "korg_call." + e,
			Params:  []ValType{I32, I32},
			Results: []ValType{I32},
			Body: Code(
				LocalGet(0), GlobalSet(globalLastArgsPtr),
				LocalGet(1), GlobalSet(globalLastArgsLen),
				GlobalGet(globalCalls), I32Const(1), I32Add(), GlobalSet(globalCalls),
				I32Const(int32(tables[e])),
			),
		})
	}
	m.Funcs = append(m.Funcs, Func{
		Name:    "korg_call." + EntryCrash,
		Params:  []ValType{I32, I32},
		Results: []ValType{I32},
		Body:    Unreachable(),
	})

	for _, fn := range docNames {
		m.Funcs = append(m.Funcs, Func{
			Name:    "korg_doc." + fn,
			Results: []ValType{I64},
			Body:    I64Const(int64(docs[fn])),
		})
	}

	g.Binary = m.Encode()
	return g
}

// arena lays out the guest's static data in one segment.
type arena struct {
	buf  []byte
	base uint32
	top  uint32
}

func (a *arena) reserve(base uint32) {
	a.base = base
	a.top = base
}

func (a *arena) alloc(size uint32) uint32 {
	ptr := (a.top + 7) &^ 7
	a.top = ptr + size
	if need := int(a.top - a.base); need > len(a.buf) {
		a.buf = append(a.buf, make([]byte, need-len(a.buf))...)
	}
	return ptr
}

func (a *arena) bytes(b []byte) uint32 {
	ptr := a.alloc(uint32(len(b)))
	copy(a.buf[ptr-a.base:], b)
	return ptr
}

func (a *arena) u32s(ptr uint32, vals ...uint32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.buf[ptr-a.base+uint32(i)*4:], v)
	}
}

func (a *arena) f64s(vals []float64) uint32 {
	ptr := a.alloc(uint32(len(vals)) * 8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(a.buf[ptr-a.base+uint32(i)*8:], math.Float64bits(v))
	}
	return ptr
}

func (a *arena) f32s(vals []float32) uint32 {
	ptr := a.alloc(uint32(len(vals)) * 4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.buf[ptr-a.base+uint32(i)*4:], math.Float32bits(v))
	}
	return ptr
}
