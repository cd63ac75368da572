// Package config handles korg.toml bridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/engine"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/korg"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "korg.toml"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(rangeValidation, Range{})
	return v
}

// Config represents a korg.toml file.
type Config struct {
	Guest  Guest  `toml:"guest"`
	Bridge Bridge `toml:"bridge"`
	Log    Log    `toml:"log"`
	Synth  Synth  `toml:"synth"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// Guest locates the engine module and sizes its memory.
type Guest struct {
	Path             string `toml:"path" validate:"required"`
	MemoryLimitPages uint32 `toml:"memory-limit-pages" validate:"lte=65536"`
	StableMemory     bool   `toml:"stable-memory"`
}

// Bridge configures how results cross into Go.
type Bridge struct {
	CopyOnExpose bool `toml:"copy-on-expose"`
	StrictDocs   bool `toml:"strict-docs"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `toml:"development"`
}

// Synth holds synthesis defaults.
type Synth struct {
	Wavelengths []Range `toml:"wavelengths" validate:"dive"`
}

// Range is a wavelength interval in Å.
type Range struct {
	Lo float64 `toml:"lo" validate:"gt=0"`
	Hi float64 `toml:"hi" validate:"gt=0"`
}

func rangeValidation(sl validator.StructLevel) {
	r := sl.Current().Interface().(Range)
	if r.Hi <= r.Lo {
		sl.ReportError(r.Hi, "Hi", "hi", "gtfield", "Lo")
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log:   Log{Level: "info"},
		Synth: Synth{Wavelengths: []Range{{Lo: 5000, Hi: 6000}}},
	}
}

// Load parses and validates the korg.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Config(fmt.Sprintf("cannot read %s", path), err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, err
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, errors.Config(fmt.Sprintf("cannot resolve path %s", dir), err)
	}
	return c, nil
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, errors.Config("parse error", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Config(fmt.Sprintf("unknown key %q", undecoded[0].String()), nil)
	}
	if err := validate.Struct(c); err != nil {
		return nil, errors.Config("validation failed", err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a korg.toml file. It returns
// nil when there is none.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// GuestPath returns the guest module path resolved against Dir.
func (c *Config) GuestPath() string {
	if filepath.IsAbs(c.Guest.Path) || c.Dir == "" {
		return c.Guest.Path
	}
	return filepath.Join(c.Dir, c.Guest.Path)
}

// EngineConfig returns the wazero engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MemoryLimitPages: c.Guest.MemoryLimitPages,
		StableMemory:     c.Guest.StableMemory,
	}
}

// Wavelengths returns the default synthesis ranges.
func (c *Config) Wavelengths() [][2]float64 {
	out := make([][2]float64, len(c.Synth.Wavelengths))
	for i, r := range c.Synth.Wavelengths {
		out[i] = [2]float64{r.Lo, r.Hi}
	}
	return out
}

// Logger builds the logger described by the [log] table.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Log.Level)
		if err != nil {
			return nil, errors.Config("log level", err)
		}
		zc.Level = level
	}
	return zc.Build()
}

// Options converts the file into client options. The logger is passed in
// so callers decide whether to build one.
func (c *Config) Options(logger *zap.Logger) []korg.Option {
	opts := []korg.Option{korg.WithEngineConfig(c.EngineConfig())}
	if c.Bridge.CopyOnExpose {
		opts = append(opts, korg.WithCopyOnExpose())
	}
	if c.Bridge.StrictDocs {
		opts = append(opts, korg.WithStrictDocs())
	}
	if logger != nil {
		opts = append(opts, korg.WithLogger(logger))
	}
	return opts
}
