package bridge

import (
	"context"
	"encoding/binary"
	"math"
	"runtime"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

// Element is a vector element type the bridge can expose.
type Element interface {
	float32 | float64
}

// Option configures Wrap.
type Option func(*options)

type options struct {
	copyOnExpose bool
}

// WithCopyOnExpose copies the vector into Go memory and releases the engine
// reference immediately. The view is then immune to engine memory growth.
func WithCopyOnExpose() Option {
	return func(o *options) {
		o.copyOnExpose = true
	}
}

// owner is the intermediary between views and the foreign handle. It holds
// the caller's handle reference and drops it when the last view goes.
type owner struct {
	h     *foreign.Handle
	views atomic.Int32
}

func (o *owner) retain() {
	o.views.Add(1)
}

func (o *owner) release() {
	if o.views.Add(-1) == 0 && o.h != nil {
		o.h.Release()
	}
}

// View is a read-only rank-1 view over a foreign vector.
type View[T Element] struct {
	own      *owner
	data     []T
	dtype    foreign.DType
	released atomic.Bool
}

var nativeLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

func dtypeOf[T Element]() foreign.DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return foreign.DTypeFloat32
	default:
		return foreign.DTypeFloat64
	}
}

// Wrap exposes the vector behind h. On success the view takes over the
// caller's reference to h; on failure h is left untouched.
func Wrap[T Element](ctx context.Context, h *foreign.Handle, opts ...Option) (*View[T], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	want := dtypeOf[T]()
	layout, err := h.Layout(ctx)
	if err != nil {
		return nil, errors.New(errors.PhaseBridge, errors.KindTypeMismatch).
			GoType(goTypeName(want)).
			Detail("layout query failed").
			Cause(err).
			Build()
	}
	if layout.Kind != foreign.KindVector {
		return nil, errors.New(errors.PhaseBridge, errors.KindTypeMismatch).
			GoType(goTypeName(want)).
			Detail("foreign object is a %s, not a vector", layout.Kind).
			Build()
	}
	if layout.DType != want {
		return nil, errors.TypeMismatch(errors.PhaseBridge, nil, goTypeName(want), layout.DType.String())
	}
	size := want.Size()
	if layout.Ptr%size != 0 {
		return nil, errors.New(errors.PhaseBridge, errors.KindTypeMismatch).
			GoType(goTypeName(want)).
			WitType(layout.DType.String()).
			Detail("vector at %#x is not %d-byte aligned", layout.Ptr, size).
			Build()
	}

	byteLen := layout.ByteLen()
	if byteLen > math.MaxUint32 || uint64(layout.Ptr)+byteLen > math.MaxUint32+1 {
		return nil, errors.New(errors.PhaseBridge, errors.KindTypeMismatch).
			GoType(goTypeName(want)).
			WitType(layout.DType.String()).
			Detail("vector of %d elements at %#x exceeds the 32-bit address space", layout.Len, layout.Ptr).
			Build()
	}

	mem := h.Runtime().Engine().Memory()
	raw, err := mem.Read(layout.Ptr, uint32(byteLen))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBridge, errors.KindOutOfBounds, err, "vector storage outside engine memory")
	}
	if uint64(len(raw)) != byteLen {
		return nil, errors.New(errors.PhaseBridge, errors.KindOutOfBounds).
			Detail("engine returned %d bytes for a %d byte vector", len(raw), byteLen).
			Build()
	}

	v := &View[T]{own: &owner{h: h}, dtype: want}
	v.own.retain()

	if o.copyOnExpose || !nativeLittleEndian {
		v.data = decode[T](raw, int(layout.Len))
		// The copy no longer needs the foreign storage.
		v.own.h = nil
		h.Release()
		Logger().Debug("copied foreign vector",
			zap.Stringer("handle", h),
			zap.Uint32("len", layout.Len))
		return v, nil
	}

	if len(raw) > 0 && uintptr(unsafe.Pointer(unsafe.SliceData(raw)))%uintptr(size) != 0 {
		return nil, errors.New(errors.PhaseBridge, errors.KindTypeMismatch).
			GoType(goTypeName(want)).
			Detail("engine memory is not %d-byte aligned", size).
			Build()
	}
	v.data = unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw))), int(layout.Len))
	Logger().Debug("exposed foreign vector",
		zap.Stringer("handle", h),
		zap.Uint32("ptr", layout.Ptr),
		zap.Uint32("len", layout.Len))
	return v, nil
}

// WrapFloat64 exposes an f64 vector.
func WrapFloat64(ctx context.Context, h *foreign.Handle, opts ...Option) (*View[float64], error) {
	return Wrap[float64](ctx, h, opts...)
}

// WrapFloat32 exposes an f32 vector.
func WrapFloat32(ctx context.Context, h *foreign.Handle, opts ...Option) (*View[float32], error) {
	return Wrap[float32](ctx, h, opts...)
}

func decode[T Element](raw []byte, n int) []T {
	out := make([]T, n)
	switch p := any(out).(type) {
	case []float64:
		for i := range p {
			p[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case []float32:
		for i := range p {
			p[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return out
}

func goTypeName(d foreign.DType) string {
	if d == foreign.DTypeFloat32 {
		return "float32"
	}
	return "float64"
}

// Len returns the number of elements. A released view is empty.
func (v *View[T]) Len() int {
	return len(v.data)
}

// At returns element i. It panics when i is out of range, like a slice.
func (v *View[T]) At(i int) T {
	x := v.data[i]
	runtime.KeepAlive(v)
	return x
}

// Data returns the elements. The slice aliases engine memory unless the view
// was made with WithCopyOnExpose, and must not outlive v.
func (v *View[T]) Data() []T {
	return v.data
}

// Slice returns a view of elements [i, j) sharing v's storage.
func (v *View[T]) Slice(i, j int) (*View[T], error) {
	if v.released.Load() {
		return nil, errors.Released(errors.PhaseBridge, "view")
	}
	if i < 0 || i > j {
		return nil, errors.New(errors.PhaseBridge, errors.KindOutOfBounds).
			Detail("slice [%d:%d] of view with %d elements", i, j, len(v.data)).
			Build()
	}
	if j > len(v.data) {
		return nil, errors.OutOfBounds(errors.PhaseBridge, []string{"view"}, j, len(v.data))
	}
	v.own.retain()
	return &View[T]{own: v.own, data: v.data[i:j:j], dtype: v.dtype}, nil
}

// DType returns the element type.
func (v *View[T]) DType() foreign.DType {
	return v.dtype
}

// Copy returns a detached copy of the elements.
func (v *View[T]) Copy() []T {
	out := make([]T, len(v.data))
	copy(out, v.data)
	runtime.KeepAlive(v)
	return out
}

// Released reports whether Release was called.
func (v *View[T]) Released() bool {
	return v.released.Load()
}

// Release drops the view's share of the foreign storage. It is idempotent.
func (v *View[T]) Release() {
	if !v.released.CompareAndSwap(false, true) {
		return
	}
	v.data = nil
	v.own.release()
}
