package testguest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

func TestSLEB(t *testing.T) {
	tests := []struct {
		want []byte
		v    int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x78}, -8},
		{[]byte{0x80, 0x80, 0x04}, 0x10000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sleb(nil, tt.v), "value %d", tt.v)
	}
}

func TestKorgGuestInstantiates(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	g := Korg(WithSpectrumLen(8))
	mod, err := rt.Instantiate(ctx, g.Binary)
	require.NoError(t, err)

	alloc := mod.ExportedFunction("korg_alloc")
	require.NotNil(t, alloc)
	first, err := alloc.Call(ctx, 5)
	require.NoError(t, err)
	second, err := alloc.Call(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first[0]+8, second[0])

	synth := mod.ExportedFunction("korg_call." + EntrySynth)
	require.NotNil(t, synth)
	res, err := synth.Call(ctx, first[0], 5)
	require.NoError(t, err)

	status, ok := mod.Memory().ReadUint32Le(uint32(res[0]))
	require.True(t, ok)
	assert.Equal(t, uint32(0), status)
	assert.Equal(t, first[0], mod.ExportedGlobal(GlobalLastArgsPtr).Get())
	assert.Equal(t, uint64(1), mod.ExportedGlobal(GlobalCalls).Get())

	length := mod.ExportedFunction("korg_length")
	n, err := length.Call(ctx, uint64(g.SynthRefs[0]))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n[0])

	release := mod.ExportedFunction("korg_release")
	_, err = release.Call(ctx, uint64(g.LinelistRef))
	require.NoError(t, err)
	logged, ok := mod.Memory().ReadUint32Le(g.ReleaseLog)
	require.True(t, ok)
	assert.Equal(t, g.LinelistRef, logged)
	assert.Equal(t, uint64(1), mod.ExportedGlobal(GlobalReleased).Get())

	doc := mod.ExportedFunction("korg_doc." + EntryVALD)
	require.NotNil(t, doc)
	packed, err := doc.Call(ctx)
	require.NoError(t, err)
	text, ok := mod.Memory().Read(uint32(packed[0]>>32), uint32(packed[0]))
	require.True(t, ok)
	assert.Equal(t, DefaultDoc(EntryVALD), string(text))
}
