package bridge_test

import (
	"context"
	stderrors "errors"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/korg-bridge/bridge"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
	"github.com/wippyai/korg-bridge/foreign/foreigntest"
)

func setup(t *testing.T) (*foreigntest.Engine, *foreign.Runtime) {
	t.Helper()
	eng := foreigntest.New()
	rt := foreign.NewRuntime(eng)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return eng, rt
}

// handleFor returns a fresh handle for ref issued through a real call.
func handleFor(t *testing.T, eng *foreigntest.Engine, rt *foreign.Runtime, ref foreign.Ref) *foreign.Handle {
	t.Helper()
	eng.Return("get", ref)
	hs, err := rt.Invoke(context.Background(), "get", nil)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	return hs[0]
}

func float64Samples(n int) []float64 {
	special := []float64{0, math.Copysign(0, -1), math.SmallestNonzeroFloat64, math.MaxFloat64, math.Inf(1), math.Inf(-1), math.Float64frombits(0x7ff8000000000bad)}
	out := make([]float64, n)
	for i := range out {
		if i < len(special) {
			out[i] = special[i]
			continue
		}
		out[i] = float64(i)*1.25 - 300.5
	}
	return out
}

func float32Samples(n int) []float32 {
	special := []float32{0, float32(math.Copysign(0, -1)), math.SmallestNonzeroFloat32, math.MaxFloat32, float32(math.Inf(1)), math.Float32frombits(0x7fc00bad)}
	out := make([]float32, n)
	for i := range out {
		if i < len(special) {
			out[i] = special[i]
			continue
		}
		out[i] = float32(i)*0.5 - 17
	}
	return out
}

func TestFloat64RoundTripBitExact(t *testing.T) {
	for _, n := range []int{0, 1, 1000} {
		eng, rt := setup(t)
		want := float64Samples(n)
		h := handleFor(t, eng, rt, eng.NewFloat64Vector(want))

		v, err := bridge.WrapFloat64(context.Background(), h)
		require.NoError(t, err)
		require.Equal(t, n, v.Len())
		assert.Equal(t, foreign.DTypeFloat64, v.DType())
		for i := range want {
			assert.Equal(t, math.Float64bits(want[i]), math.Float64bits(v.At(i)), "element %d", i)
		}
		v.Release()
	}
}

func TestFloat32RoundTripBitExact(t *testing.T) {
	for _, n := range []int{0, 1, 1000} {
		eng, rt := setup(t)
		want := float32Samples(n)
		h := handleFor(t, eng, rt, eng.NewFloat32Vector(want))

		v, err := bridge.WrapFloat32(context.Background(), h)
		require.NoError(t, err)
		require.Equal(t, n, v.Len())
		assert.Equal(t, foreign.DTypeFloat32, v.DType())
		data := v.Data()
		for i := range want {
			assert.Equal(t, math.Float32bits(want[i]), math.Float32bits(data[i]), "element %d", i)
		}
		v.Release()
	}
}

func TestViewAliasesEngineMemory(t *testing.T) {
	eng, rt := setup(t)
	ref := eng.NewFloat64Vector([]float64{1, 2, 3})
	h := handleFor(t, eng, rt, ref)

	v, err := bridge.WrapFloat64(context.Background(), h)
	require.NoError(t, err)
	defer v.Release()

	layout, err := h.Layout(context.Background())
	require.NoError(t, err)
	raw, err := eng.Memory().Read(layout.Ptr, 8)
	require.NoError(t, err)
	raw[0] ^= 1

	assert.NotEqual(t, 1.0, v.At(0))
}

func TestWrapTypeMismatch(t *testing.T) {
	ctx := context.Background()
	eng, rt := setup(t)

	coll := handleFor(t, eng, rt, eng.NewCollection(4))
	_, err := bridge.WrapFloat64(ctx, coll)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTypeMismatch))
	assert.False(t, coll.Released())

	f32 := handleFor(t, eng, rt, eng.NewFloat32Vector([]float32{1}))
	_, err = bridge.WrapFloat64(ctx, f32)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTypeMismatch))
	assert.Contains(t, err.Error(), "f32")

	f32.Release()
	_, err = bridge.WrapFloat32(ctx, f32)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTypeMismatch))
}

func TestWrapRejectsOversizedLayout(t *testing.T) {
	ctx := context.Background()
	eng, rt := setup(t)

	tests := []struct {
		name   string
		layout foreign.Layout
		kind   errors.Kind
	}{
		{
			name:   "byte length wraps 32 bits",
			layout: foreign.Layout{Kind: foreign.KindVector, DType: foreign.DTypeFloat64, Ptr: 8, Len: 0x20000000},
			kind:   errors.KindTypeMismatch,
		},
		{
			name:   "end wraps 32 bits",
			layout: foreign.Layout{Kind: foreign.KindVector, DType: foreign.DTypeFloat64, Ptr: 0xFFFFFFF0, Len: 8},
			kind:   errors.KindTypeMismatch,
		},
		{
			name:   "past engine memory",
			layout: foreign.Layout{Kind: foreign.KindVector, DType: foreign.DTypeFloat64, Ptr: 8, Len: 1 << 20},
			kind:   errors.KindOutOfBounds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handleFor(t, eng, rt, eng.NewObject(tt.layout))
			defer h.Release()

			v, err := bridge.WrapFloat64(ctx, h)
			require.Error(t, err)
			assert.Nil(t, v)
			var e *errors.Error
			require.True(t, stderrors.As(err, &e))
			assert.Equal(t, tt.kind, e.Kind)
			assert.False(t, h.Released())
		})
	}
}

func TestReleaseOrdering(t *testing.T) {
	ctx := context.Background()
	eng, rt := setup(t)
	ref := eng.NewFloat64Vector([]float64{10, 20, 30, 40})
	h := handleFor(t, eng, rt, ref)

	v, err := bridge.WrapFloat64(ctx, h)
	require.NoError(t, err)
	tail, err := v.Slice(2, 4)
	require.NoError(t, err)

	v.Release()
	v.Release()
	assert.Equal(t, 0, v.Len())
	require.NoError(t, rt.Collect(ctx))
	assert.True(t, eng.Live(ref), "derived view still holds the storage")
	assert.Equal(t, []float64{30, 40}, tail.Data())

	tail.Release()
	assert.Equal(t, 1, rt.Pending())
	assert.True(t, eng.Live(ref), "release waits for the next engine interaction")

	require.NoError(t, rt.Collect(ctx))
	assert.False(t, eng.Live(ref))
	assert.Equal(t, []foreign.Ref{ref}, eng.Releases)
}

func TestSliceBounds(t *testing.T) {
	eng, rt := setup(t)
	h := handleFor(t, eng, rt, eng.NewFloat64Vector([]float64{1, 2}))
	v, err := bridge.WrapFloat64(context.Background(), h)
	require.NoError(t, err)
	defer v.Release()

	_, err = v.Slice(1, 3)
	require.Error(t, err)
	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindOutOfBounds, e.Kind)
	_, err = v.Slice(2, 1)
	require.Error(t, err)

	empty, err := v.Slice(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	empty.Release()
}

func TestCopyDetaches(t *testing.T) {
	ctx := context.Background()
	eng, rt := setup(t)
	ref := eng.NewFloat64Vector([]float64{1.5, 2.5})
	h := handleFor(t, eng, rt, ref)

	v, err := bridge.WrapFloat64(ctx, h)
	require.NoError(t, err)
	c := v.Copy()
	v.Release()
	require.NoError(t, rt.Collect(ctx))

	assert.False(t, eng.Live(ref))
	assert.Equal(t, []float64{1.5, 2.5}, c)
}

func TestCopyOnExpose(t *testing.T) {
	ctx := context.Background()
	eng, rt := setup(t)
	ref := eng.NewFloat64Vector([]float64{4, 5, 6})
	h := handleFor(t, eng, rt, ref)

	v, err := bridge.WrapFloat64(ctx, h, bridge.WithCopyOnExpose())
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, 1, rt.Pending(), "storage is released as soon as it is copied")
	require.NoError(t, rt.Collect(ctx))
	assert.False(t, eng.Live(ref))
	assert.Equal(t, []float64{4, 5, 6}, v.Data())
}

func TestCollectedViewQueuesRelease(t *testing.T) {
	eng, rt := setup(t)
	ref := eng.NewFloat64Vector(float64Samples(16))

	func() {
		h := handleFor(t, eng, rt, ref)
		v, err := bridge.WrapFloat64(context.Background(), h)
		require.NoError(t, err)
		require.Equal(t, 16, v.Len())
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return rt.Pending() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, eng.Live(ref), "cleanups never call into the engine")

	require.NoError(t, rt.Collect(context.Background()))
	assert.False(t, eng.Live(ref))
}
