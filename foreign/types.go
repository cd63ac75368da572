package foreign

import (
	"context"
	"fmt"

	korgbridge "github.com/wippyai/korg-bridge"
)

// Ref is an opaque reference token issued by the foreign engine.
// Ref 0 is reserved and always invalid.
type Ref uint32

// Kind classifies what a foreign reference points at.
type Kind uint32

const (
	KindInvalid Kind = iota
	// KindVector is a contiguous numeric vector that answers the layout query.
	KindVector
	// KindCollection is an opaque collection, such as a linelist.
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindCollection:
		return "collection"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// DType is the element type of a foreign vector.
type DType uint32

const (
	DTypeInvalid DType = iota
	DTypeFloat32
	DTypeFloat64
)

// Size returns the element size in bytes.
func (d DType) Size() uint32 {
	switch d {
	case DTypeFloat32:
		return 4
	case DTypeFloat64:
		return 8
	default:
		return 0
	}
}

// String returns the WIT name of the element type.
func (d DType) String() string {
	switch d {
	case DTypeFloat32:
		return "f32"
	case DTypeFloat64:
		return "f64"
	default:
		return fmt.Sprintf("dtype(%d)", uint32(d))
	}
}

// Layout answers the memory-layout query: where a vector's elements live,
// how many there are and what type they have. Collections report only Kind
// and Len.
type Layout struct {
	Kind  Kind
	DType DType
	Ptr   uint32
	Len   uint32
}

// ByteLen returns the size of the vector's element storage. It is computed
// in 64 bits; callers must reject values that do not fit engine memory.
func (l Layout) ByteLen() uint64 {
	return uint64(l.Len) * uint64(l.DType.Size())
}

// Arg is one named argument of a foreign call.
type Arg struct {
	Value any
	Name  string
}

// Lowerer is implemented by host values that stand for a foreign object.
// Lowering is one-directional: the engine sees only the reference.
type Lowerer interface {
	ForeignRef() Ref
}

// nothing is the foreign null-like value.
type nothing struct{}

func (nothing) String() string { return "nothing" }

// Nothing is the sentinel sent to the engine for "no value / use default"
// where a parameter accepts a null-like input.
var Nothing any = nothing{}

// IsNothing reports whether v is the Nothing sentinel.
func IsNothing(v any) bool {
	_, ok := v.(nothing)
	return ok
}

// Engine is the foreign runtime boundary.
//
// Invoke performs exactly one call and returns the references the entry point
// produced, in order. Errors raised by the foreign code are returned as
// *errors.ForeignCallError with the engine's message verbatim.
type Engine interface {
	Invoke(ctx context.Context, entry string, args []Arg) ([]Ref, error)

	// Describe answers the layout query for ref.
	Describe(ctx context.Context, ref Ref) (Layout, error)

	// Length asks the engine for the current element count of ref.
	Length(ctx context.Context, ref Ref) (int, error)

	// Release drops the engine's keep-alive reference for ref.
	Release(ctx context.Context, ref Ref) error

	// Doc returns the engine's documentation text for a public function.
	Doc(ctx context.Context, name string) (string, error)

	// Memory exposes the engine's linear memory without copying.
	Memory() korgbridge.Memory

	Close(ctx context.Context) error
}
