package foreign_test

import (
	"context"
	stderrors "errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
	"github.com/wippyai/korg-bridge/foreign/foreigntest"
)

func invokeOne(t *testing.T, rt *foreign.Runtime, entry string) *foreign.Handle {
	t.Helper()
	handles, err := rt.Invoke(context.Background(), entry, nil)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	return handles[0]
}

func TestRuntime_InvokeWrapsRefsInOrder(t *testing.T) {
	eng := foreigntest.New()
	a := eng.NewFloat64Vector([]float64{1, 2})
	b := eng.NewFloat64Vector([]float64{3})
	c := eng.NewCollection(7)
	eng.Return("three", a, b, c)

	rt := foreign.NewRuntime(eng)
	handles, err := rt.Invoke(context.Background(), "three", nil)
	require.NoError(t, err)
	require.Len(t, handles, 3)

	assert.Equal(t, a, handles[0].ForeignRef())
	assert.Equal(t, b, handles[1].ForeignRef())
	assert.Equal(t, c, handles[2].ForeignRef())
	assert.NotEqual(t, handles[0].ID(), handles[1].ID())
	assert.Equal(t, 3, rt.Outstanding())
}

func TestRuntime_ForeignErrorUnchanged(t *testing.T) {
	eng := foreigntest.New()
	eng.Fail("synth", "ArgumentError: Teff must be positive")

	rt := foreign.NewRuntime(eng)
	_, err := rt.Invoke(context.Background(), "synth", nil)
	require.Error(t, err)

	var fce *errors.ForeignCallError
	require.True(t, stderrors.As(err, &fce))
	assert.Equal(t, "ArgumentError: Teff must be positive", err.Error())
	assert.Len(t, eng.Calls, 1, "foreign failures are not retried")
}

func TestRuntime_NullReferenceRejected(t *testing.T) {
	eng := foreigntest.New()
	good := eng.NewCollection(1)
	other := eng.NewCollection(2)
	eng.Return("bad", good, 0, other)

	rt := foreign.NewRuntime(eng)
	_, err := rt.Invoke(context.Background(), "bad", nil)
	require.Error(t, err)
	assert.False(t, eng.Live(other), "results after the null reference are handed back at once")

	require.NoError(t, rt.Collect(context.Background()))
	assert.ElementsMatch(t, []foreign.Ref{good, other}, eng.Releases)
	assert.False(t, eng.Live(good))
	assert.Equal(t, 0, rt.Outstanding())
}

func TestHandle_ReleaseIsDeferredUntilCollect(t *testing.T) {
	eng := foreigntest.New()
	ref := eng.NewCollection(3)
	eng.Return("load", ref)

	rt := foreign.NewRuntime(eng)
	h := invokeOne(t, rt, "load")

	h.Release()
	assert.True(t, h.Released())
	assert.True(t, eng.Live(ref), "release must not call into the engine directly")
	assert.Equal(t, 1, rt.Pending())

	require.NoError(t, rt.Collect(context.Background()))
	assert.False(t, eng.Live(ref))
	assert.Equal(t, []foreign.Ref{ref}, eng.Releases)
	assert.Equal(t, 0, rt.Outstanding())
}

func TestHandle_RetainKeepsForeignObjectAlive(t *testing.T) {
	eng := foreigntest.New()
	ref := eng.NewCollection(3)
	eng.Return("load", ref)

	rt := foreign.NewRuntime(eng)
	h := invokeOne(t, rt, "load")
	require.NoError(t, h.Retain())
	assert.Equal(t, 2, h.Refs())

	h.Release()
	require.NoError(t, rt.Collect(context.Background()))
	assert.True(t, eng.Live(ref))

	h.Release()
	require.NoError(t, rt.Collect(context.Background()))
	assert.False(t, eng.Live(ref))

	// over-release never frees twice
	h.Release()
	require.NoError(t, rt.Collect(context.Background()))
	assert.Len(t, eng.Releases, 1)

	err := h.Retain()
	assert.Error(t, err)
}

func TestHandle_PendingReleaseFlushedByNextCall(t *testing.T) {
	eng := foreigntest.New()
	first := eng.NewCollection(1)
	eng.Return("load", first)

	rt := foreign.NewRuntime(eng)
	h := invokeOne(t, rt, "load")
	h.Release()

	second := eng.NewCollection(2)
	eng.Return("load", second)
	_ = invokeOne(t, rt, "load")

	assert.Equal(t, []foreign.Ref{first}, eng.Releases)
}

func TestHandle_LenDelegatesEveryTime(t *testing.T) {
	eng := foreigntest.New()
	ref := eng.NewCollection(5)
	eng.Return("load", ref)

	rt := foreign.NewRuntime(eng)
	h := invokeOne(t, rt, "load")
	ctx := context.Background()

	n, err := h.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	eng.SetLen(ref, 9)
	n, err = h.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 2, eng.LengthCalls)

	h.Release()
	_, err = h.Len(ctx)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseHandle, Kind: errors.KindReleased})
}

func TestHandle_CollectedByGarbageCollector(t *testing.T) {
	eng := foreigntest.New()
	ref := eng.NewCollection(1)
	eng.Return("load", ref)

	rt := foreign.NewRuntime(eng)
	func() {
		h := invokeOne(t, rt, "load")
		_ = h.ForeignRef()
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return rt.Pending() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, eng.Live(ref), "cleanup only queues the release")
	require.NoError(t, rt.Collect(context.Background()))
	assert.False(t, eng.Live(ref))
}

func TestRuntime_Close(t *testing.T) {
	eng := foreigntest.New()
	ref := eng.NewCollection(1)
	eng.Return("load", ref)

	rt := foreign.NewRuntime(eng)
	h := invokeOne(t, rt, "load")
	h.Release()

	ctx := context.Background()
	require.NoError(t, rt.Close(ctx))
	assert.True(t, eng.Closed)
	assert.Equal(t, []foreign.Ref{ref}, eng.Releases)

	_, err := rt.Invoke(ctx, "load", nil)
	assert.Error(t, err)
	require.NoError(t, rt.Close(ctx))
}
