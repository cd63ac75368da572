package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/korg-bridge/errors"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
[guest]
path = "guest/korg.wasm"
memory-limit-pages = 1024
stable-memory = true

[bridge]
copy-on-expose = true
strict-docs = true

[log]
level = "debug"

[[synth.wavelengths]]
lo = 15000
hi = 15500

[[synth.wavelengths]]
lo = 16000
hi = 16500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)

	abs, _ := filepath.Abs(dir)
	assert.Equal(t, abs, c.Dir)
	assert.Equal(t, filepath.Join(abs, "guest", "korg.wasm"), c.GuestPath())
	assert.Equal(t, uint32(1024), c.EngineConfig().MemoryLimitPages)
	assert.True(t, c.EngineConfig().StableMemory)
	assert.True(t, c.Bridge.CopyOnExpose)
	assert.True(t, c.Bridge.StrictDocs)
	assert.Equal(t, [][2]float64{{15000, 15500}, {16000, 16500}}, c.Wavelengths())
	assert.Len(t, c.Options(nil), 3)

	logger, err := c.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(`guest.path = "/opt/korg.wasm"`))
	require.NoError(t, err)
	assert.Equal(t, "/opt/korg.wasm", c.GuestPath())
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, [][2]float64{{5000, 6000}}, c.Wavelengths())
	assert.Len(t, c.Options(nil), 1)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `guest.path = `},
		{"missing guest path", `[bridge]
strict-docs = true`},
		{"unknown key", `guest.path = "a.wasm"
guest.pth = "b.wasm"`},
		{"log level", `guest.path = "a.wasm"
log.level = "loud"`},
		{"memory limit", `guest.path = "a.wasm"
guest.memory-limit-pages = 70000`},
		{"reversed range", `guest.path = "a.wasm"
[[synth.wavelengths]]
lo = 6000
hi = 5000`},
		{"negative range", `guest.path = "a.wasm"
[[synth.wavelengths]]
lo = -1
hi = 5000`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			var e *errors.Error
			require.True(t, stderrors.As(err, &e))
			assert.Equal(t, errors.PhaseConfig, e.Phase)
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`guest.path = "k.wasm"`), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	require.NotNil(t, c)
	abs, _ := filepath.Abs(root)
	assert.Equal(t, filepath.Join(abs, "k.wasm"), c.GuestPath())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
