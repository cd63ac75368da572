package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	korgbridge "github.com/wippyai/korg-bridge"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

const (
	ExportMemory   = "memory"
	ExportAlloc    = "korg_alloc"
	ExportFree     = "korg_free"
	ExportRelease  = "korg_release"
	ExportDescribe = "korg_describe"
	ExportLength   = "korg_length"

	// CallPrefix precedes every entry point export name.
	CallPrefix = "korg_call."
	// DocPrefix precedes every documentation export name.
	DocPrefix = "korg_doc."

	statusOK    = 0
	statusError = 1

	descriptorSize = 16

	// maxResults bounds the count field of a result table.
	maxResults = 1 << 16
)

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64

	requiredExports = map[string]signature{
		ExportAlloc:    {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		ExportFree:     {params: []api.ValueType{i32}},
		ExportRelease:  {params: []api.ValueType{i32}},
		ExportDescribe: {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		ExportLength:   {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	}

	entrySignature = signature{params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}}
	docSignature   = signature{results: []api.ValueType{i64}}
)

func (s signature) matches(def api.FunctionDefinition) bool {
	return equalTypes(s.params, def.ParamTypes()) && equalTypes(s.results, def.ResultTypes())
}

func (s signature) String() string {
	return fmt.Sprintf("%s -> %s", typeNames(s.params), typeNames(s.results))
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return fmt.Sprintf("%v", names)
}

// decodeResult reads the result table at ptr.
func decodeResult(mem korgbridge.Memory, entry string, ptr uint32) ([]foreign.Ref, error) {
	if ptr == 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, []string{entry}, "null result table")
	}
	status, err := mem.ReadU32(ptr)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read result status")
	}

	switch status {
	case statusOK:
		count, err := mem.ReadU32(ptr + 4)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read result count")
		}
		if count > maxResults {
			return nil, errors.InvalidData(errors.PhaseDecode, []string{entry}, fmt.Sprintf("result count %d exceeds %d", count, maxResults))
		}
		refs := make([]foreign.Ref, count)
		for i := range refs {
			v, err := mem.ReadU32(ptr + 8 + uint32(i)*4)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read result reference")
			}
			refs[i] = foreign.Ref(v)
		}
		return refs, nil

	case statusError:
		msgPtr, err := mem.ReadU32(ptr + 4)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read error message pointer")
		}
		msgLen, err := mem.ReadU32(ptr + 8)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read error message length")
		}
		msg, err := mem.Read(msgPtr, msgLen)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read error message")
		}
		return nil, errors.NewForeignCall(entry, string(msg))

	default:
		return nil, errors.InvalidData(errors.PhaseDecode, []string{entry}, fmt.Sprintf("unknown result status %d", status))
	}
}

// decodeLayout reads the descriptor at ptr.
func decodeLayout(mem korgbridge.Memory, ptr uint32) (foreign.Layout, error) {
	raw, err := mem.Read(ptr, descriptorSize)
	if err != nil {
		return foreign.Layout{}, errors.Wrap(errors.PhaseDecode, errors.KindOutOfBounds, err, "read descriptor")
	}
	return foreign.Layout{
		Kind:  foreign.Kind(binary.LittleEndian.Uint32(raw[0:])),
		DType: foreign.DType(binary.LittleEndian.Uint32(raw[4:])),
		Ptr:   binary.LittleEndian.Uint32(raw[8:]),
		Len:   binary.LittleEndian.Uint32(raw[12:]),
	}, nil
}

// unpackPtrLen splits a packed (ptr << 32 | len) value.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}
