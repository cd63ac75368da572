package engine

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

// RefTag is the CBOR tag wrapping a foreign reference on the wire.
const RefTag = 40960

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("engine: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeArgs serializes call arguments into the guest wire format: an array
// of [name, value] pairs in argument order.
func EncodeArgs(args []foreign.Arg) ([]byte, error) {
	pairs, err := lowerPairs(args)
	if err != nil {
		return nil, err
	}
	data, err := cborEncMode.Marshal(pairs)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "marshal call arguments")
	}
	return data, nil
}

// DecodeArgs parses the wire format back into pairs. References come back
// as foreign.Ref and null as foreign.Nothing.
func DecodeArgs(data []byte) ([]foreign.Arg, error) {
	var raw [][2]any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "unmarshal call arguments")
	}
	args := make([]foreign.Arg, len(raw))
	for i, p := range raw {
		name, ok := p[0].(string)
		if !ok {
			return nil, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("pair %d has a non-string name", i))
		}
		args[i] = foreign.Arg{Name: name, Value: raise(p[1])}
	}
	return args, nil
}

func lowerPairs(args []foreign.Arg) ([][2]any, error) {
	pairs := make([][2]any, len(args))
	for i, a := range args {
		v, err := lower(a.Value)
		if err != nil {
			e := errors.Unsupported(errors.PhaseEncode, "argument value")
			e.Path = []string{a.Name}
			e.Cause = err
			return nil, e
		}
		pairs[i] = [2]any{a.Name, v}
	}
	return pairs, nil
}

// lower converts host values into values the CBOR encoder understands.
// Lowering is one-directional: a Lowerer becomes its bare reference.
func lower(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case foreign.Lowerer:
		ref := x.ForeignRef()
		if ref == 0 {
			return nil, fmt.Errorf("null foreign reference")
		}
		return cbor.Tag{Number: RefTag, Content: uint32(ref)}, nil
	case foreign.Ref:
		return cbor.Tag{Number: RefTag, Content: uint32(x)}, nil
	case []foreign.Arg:
		return lowerPairs(x)
	case bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, []float64, []float32, []int, []string:
		return x, nil
	}
	if foreign.IsNothing(v) {
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			e, err := lower(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case reflect.Map:
		// Canonical mode sorts the keys.
		out := make(map[any]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			e, err := lower(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().Interface()] = e
		}
		return out, nil
	case reflect.Float64, reflect.Float32, reflect.Int, reflect.Int32, reflect.Int64,
		reflect.Uint32, reflect.Uint64, reflect.Bool, reflect.String:
		return v, nil
	default:
		return nil, fmt.Errorf("cannot lower %T", v)
	}
}

func raise(v any) any {
	switch x := v.(type) {
	case nil:
		return foreign.Nothing
	case cbor.Tag:
		if x.Number == RefTag {
			if n, ok := x.Content.(uint64); ok {
				return foreign.Ref(n)
			}
		}
		return x
	case []any:
		for i := range x {
			x[i] = raise(x[i])
		}
		return x
	default:
		return v
	}
}
