package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	korgbridge "github.com/wippyai/korg-bridge"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

var _ foreign.Engine = (*WazeroInstance)(nil)

// WazeroEngine owns a wazero runtime.
type WazeroEngine struct {
	runtime wazero.Runtime
	cfg     Config
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// StableMemory allocates each guest's maximum memory up front so that
	// memory.grow never moves the buffer and zero-copy views stay attached.
	// Guests must declare a memory maximum, or MemoryLimitPages bounds it.
	StableMemory bool
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	var c Config
	if cfg != nil {
		c = *cfg
		if c.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
		}
		if c.StableMemory {
			runtimeCfg = runtimeCfg.WithMemoryCapacityFromMax(true)
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return &WazeroEngine{runtime: runtime, cfg: c}, nil
}

// LoadModule compiles a guest and checks that it exports the Korg ABI.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile guest", err)
	}

	m := &WazeroModule{engine: e, compiled: compiled}
	if err := m.validate(); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	Logger().Debug("guest compiled",
		zap.Strings("entries", m.entries),
		zap.Strings("docs", m.docs))
	return m, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// WazeroModule is a compiled guest.
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	entries  []string
	docs     []string
}

func (m *WazeroModule) validate() error {
	if _, ok := m.compiled.ExportedMemories()[ExportMemory]; !ok {
		return errors.Load("guest does not export memory", nil)
	}

	funcs := m.compiled.ExportedFunctions()
	required := make([]string, 0, len(requiredExports))
	for name := range requiredExports {
		required = append(required, name)
	}
	sort.Strings(required)
	for _, name := range required {
		sig := requiredExports[name]
		def, ok := funcs[name]
		if !ok {
			return errors.Load(fmt.Sprintf("guest does not export %s", name), nil)
		}
		if !sig.matches(def) {
			return errors.Load(fmt.Sprintf("%s must have signature %s", name, sig), nil)
		}
	}

	for name, def := range funcs {
		switch {
		case strings.HasPrefix(name, CallPrefix):
			if !entrySignature.matches(def) {
				return errors.Load(fmt.Sprintf("%s must have signature %s", name, entrySignature), nil)
			}
			m.entries = append(m.entries, strings.TrimPrefix(name, CallPrefix))
		case strings.HasPrefix(name, DocPrefix):
			if !docSignature.matches(def) {
				return errors.Load(fmt.Sprintf("%s must have signature %s", name, docSignature), nil)
			}
			m.docs = append(m.docs, strings.TrimPrefix(name, DocPrefix))
		}
	}
	sort.Strings(m.entries)
	sort.Strings(m.docs)
	return nil
}

// Entries returns the entry points the guest exports, sorted.
func (m *WazeroModule) Entries() []string {
	return m.entries
}

// Documented returns the functions the guest documents, sorted.
func (m *WazeroModule) Documented() []string {
	return m.docs
}

// Instantiate starts a guest instance.
func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	inst := &WazeroInstance{
		module:   mod,
		mem:      WrapMemory(mod.Memory()),
		release:  mod.ExportedFunction(ExportRelease),
		describe: mod.ExportedFunction(ExportDescribe),
		length:   mod.ExportedFunction(ExportLength),
		entries:  make(map[string]api.Function, len(m.entries)),
		alloc: &Allocator{
			alloc: mod.ExportedFunction(ExportAlloc),
			free:  mod.ExportedFunction(ExportFree),
		},
	}
	for _, e := range m.entries {
		inst.entries[e] = mod.ExportedFunction(CallPrefix + e)
	}
	return inst, nil
}

func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Open compiles and instantiates a guest on a private engine. Closing the
// instance closes the engine.
func Open(ctx context.Context, wasmBytes []byte, cfg *Config) (*WazeroInstance, error) {
	e, err := NewWazeroEngineWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m, err := e.LoadModule(ctx, wasmBytes)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	inst, err := m.Instantiate(ctx)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	inst.owned = e
	return inst, nil
}

// WazeroInstance is a running guest. It implements foreign.Engine.
type WazeroInstance struct {
	module   api.Module
	mem      *Memory
	alloc    *Allocator
	release  api.Function
	describe api.Function
	length   api.Function
	entries  map[string]api.Function
	owned    *WazeroEngine
}

// Invoke implements foreign.Engine.
func (i *WazeroInstance) Invoke(ctx context.Context, entry string, args []foreign.Arg) ([]foreign.Ref, error) {
	fn, ok := i.entries[entry]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "entry point", entry)
	}

	payload, err := EncodeArgs(args)
	if err != nil {
		return nil, err
	}

	i.alloc.Ctx = ctx
	ptr, err := i.alloc.Alloc(uint32(len(payload)))
	if err != nil {
		return nil, err
	}
	if err := i.mem.Write(ptr, payload); err != nil {
		i.alloc.Free(ptr)
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write call arguments")
	}

	Logger().Debug("guest call",
		zap.String("entry", entry),
		zap.Int("args", len(args)),
		zap.Int("bytes", len(payload)))

	results, err := fn.Call(ctx, uint64(ptr), uint64(len(payload)))
	i.alloc.Free(ptr)
	if err != nil {
		return nil, errors.Trap(entry, err)
	}
	return decodeResult(i.mem, entry, uint32(results[0]))
}

// Describe implements foreign.Engine.
func (i *WazeroInstance) Describe(ctx context.Context, ref foreign.Ref) (foreign.Layout, error) {
	if ref == 0 {
		return foreign.Layout{}, errors.InvalidInput(errors.PhaseHandle, "null reference")
	}
	results, err := i.describe.Call(ctx, uint64(ref))
	if err != nil {
		return foreign.Layout{}, errors.Trap(ExportDescribe, err)
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return foreign.Layout{}, errors.NotFound(errors.PhaseHandle, "reference", fmt.Sprint(ref))
	}
	return decodeLayout(i.mem, ptr)
}

// Length implements foreign.Engine.
func (i *WazeroInstance) Length(ctx context.Context, ref foreign.Ref) (int, error) {
	if ref == 0 {
		return 0, errors.InvalidInput(errors.PhaseHandle, "null reference")
	}
	results, err := i.length.Call(ctx, uint64(ref))
	if err != nil {
		return 0, errors.Trap(ExportLength, err)
	}
	n := int32(uint32(results[0]))
	if n < 0 {
		return 0, errors.NotFound(errors.PhaseHandle, "reference", fmt.Sprint(ref))
	}
	return int(n), nil
}

// Release implements foreign.Engine.
func (i *WazeroInstance) Release(ctx context.Context, ref foreign.Ref) error {
	if _, err := i.release.Call(ctx, uint64(ref)); err != nil {
		return errors.Trap(ExportRelease, err)
	}
	return nil
}

// Doc implements foreign.Engine. The text is copied out of guest memory.
func (i *WazeroInstance) Doc(ctx context.Context, name string) (string, error) {
	fn := i.module.ExportedFunction(DocPrefix + name)
	if fn == nil {
		return "", errors.NotFound(errors.PhaseDoc, "documentation", name)
	}
	results, err := fn.Call(ctx)
	if err != nil {
		return "", errors.Trap(DocPrefix+name, err)
	}
	ptr, n := unpackPtrLen(results[0])
	if ptr == 0 {
		return "", errors.NotFound(errors.PhaseDoc, "documentation", name)
	}
	text, err := i.mem.Read(ptr, n)
	if err != nil {
		return "", errors.Wrap(errors.PhaseDoc, errors.KindOutOfBounds, err, "read documentation")
	}
	return string(text), nil
}

// Memory implements foreign.Engine.
func (i *WazeroInstance) Memory() korgbridge.Memory {
	return i.mem
}

// Global returns the current value of an exported global.
func (i *WazeroInstance) Global(name string) (uint64, bool) {
	g := i.module.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return g.Get(), true
}

// Module returns the underlying wazero module.
func (i *WazeroInstance) Module() api.Module {
	return i.module
}

// Close implements foreign.Engine.
func (i *WazeroInstance) Close(ctx context.Context) error {
	err := i.module.Close(ctx)
	if i.owned != nil {
		if cerr := i.owned.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
