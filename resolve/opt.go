package resolve

import "fmt"

type optState uint8

const (
	stateUnset optState = iota
	stateNull
	stateSome
)

// Opt is an optional host argument. The zero value is unset.
type Opt[T any] struct {
	value T
	state optState
}

// Some returns an Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, state: stateSome}
}

// Null returns an Opt that explicitly passes the foreign null value.
func Null[T any]() Opt[T] {
	return Opt[T]{state: stateNull}
}

// IsSet reports whether the caller supplied anything, including Null.
func (o Opt[T]) IsSet() bool { return o.state != stateUnset }

// IsNull reports whether the caller explicitly passed null.
func (o Opt[T]) IsNull() bool { return o.state == stateNull }

// Get returns the held value and whether one is present.
func (o Opt[T]) Get() (T, bool) {
	return o.value, o.state == stateSome
}

// Or returns the held value or def.
func (o Opt[T]) Or(def T) T {
	if o.state == stateSome {
		return o.value
	}
	return def
}

// Value converts the Opt into the untyped form the resolver works on.
func (o Opt[T]) Value() Value {
	switch o.state {
	case stateSome:
		return Value{v: o.value, state: stateSome}
	case stateNull:
		return Value{state: stateNull}
	default:
		return Value{}
	}
}

func (o Opt[T]) String() string {
	switch o.state {
	case stateSome:
		return fmt.Sprintf("Some(%v)", o.value)
	case stateNull:
		return "Null"
	default:
		return "Unset"
	}
}

// Value is a type-erased Opt.
type Value struct {
	v     any
	state optState
}

// Unset is the "not given" marker.
var Unset = Value{}

// Of wraps a present value.
func Of(v any) Value {
	return Value{v: v, state: stateSome}
}

// Passthrough is an argument whose foreign-side constraints are not modelled
// yet. Its payload is forwarded untouched.
//
// TODO: narrow ionization_energies, partition_funcs, log_equilibrium_constants,
// molecular_cross_sections and use_chemical_equilibrium_from into typed
// domains once the engine publishes their shapes.
type Passthrough struct {
	V any
}
