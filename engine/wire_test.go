package engine_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/korg-bridge/engine"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

func TestEncodeArgsDeterministic(t *testing.T) {
	args := []foreign.Arg{
		{Name: "isotopic_abundances", Value: map[int]map[float64]float64{
			26: {56: 0.9, 54: 0.06},
			1:  {1: 1},
		}},
		{Name: "format", Value: "vald"},
	}

	first, err := engine.EncodeArgs(args)
	require.NoError(t, err)
	for range 10 {
		again, err := engine.EncodeArgs(args)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	decoded, err := engine.DecodeArgs(first)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "isotopic_abundances", decoded[0].Name)
	assert.Equal(t, foreign.Arg{Name: "format", Value: "vald"}, decoded[1])
}

func TestEncodeArgsPreservesOrder(t *testing.T) {
	args := []foreign.Arg{
		{Name: "z", Value: 1.0},
		{Name: "a", Value: true},
		{Name: "m", Value: [2]float64{5000, 6000}},
	}
	data, err := engine.EncodeArgs(args)
	require.NoError(t, err)

	decoded, err := engine.DecodeArgs(data)
	require.NoError(t, err)
	names := make([]string, len(decoded))
	for i, a := range decoded {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"z", "a", "m"}, names)
	assert.Equal(t, []any{5000.0, 6000.0}, decoded[2].Value)
}

func TestEncodeArgsRejectsUnsupported(t *testing.T) {
	_, err := engine.EncodeArgs([]foreign.Arg{{Name: "fn", Value: func() {}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fn")
	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindUnsupported, e.Kind)
	assert.Equal(t, []string{"fn"}, e.Path)
}
