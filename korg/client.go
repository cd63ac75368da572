package korg

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/bridge"
	"github.com/wippyai/korg-bridge/call"
	"github.com/wippyai/korg-bridge/engine"
	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

var experimentalOnce sync.Once

// Option configures a Client.
type Option func(*options)

type options struct {
	engineCfg    *engine.Config
	logger       *zap.Logger
	copyOnExpose bool
	strictDocs   bool
}

// WithEngineConfig configures the wazero engine started by Open.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) {
		o.engineCfg = &cfg
	}
}

// WithCopyOnExpose makes Synth copy its results out of engine memory and
// release the engine buffers at once.
func WithCopyOnExpose() Option {
	return func(o *options) {
		o.copyOnExpose = true
	}
}

// WithStrictDocs makes construction fail when the engine's documentation
// for a shadowed function is missing or malformed.
func WithStrictDocs() Option {
	return func(o *options) {
		o.strictDocs = true
	}
}

// WithLogger routes the logs of every bridge package to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Client is a connection to one Korg engine.
//
// Client is NOT thread-safe. The engine is not reentrant.
type Client struct {
	rt      *foreign.Runtime
	adapter *call.Adapter
	docs    map[string]docEntry
	opts    options
}

// Open starts the Korg guest wasm on a private wazero engine.
func Open(ctx context.Context, wasm []byte, opts ...Option) (*Client, error) {
	o := collect(opts)
	inst, err := engine.Open(ctx, wasm, o.engineCfg)
	if err != nil {
		return nil, err
	}
	c, err := newClient(ctx, inst, o)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}
	return c, nil
}

// New wraps an already running engine. The client takes ownership of e.
func New(ctx context.Context, e foreign.Engine, opts ...Option) (*Client, error) {
	return newClient(ctx, e, collect(opts))
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
		call.SetLogger(o.logger)
		foreign.SetLogger(o.logger)
		bridge.SetLogger(o.logger)
		engine.SetLogger(o.logger)
	}
	return o
}

func newClient(ctx context.Context, e foreign.Engine, o options) (*Client, error) {
	experimentalOnce.Do(func() {
		Logger().Warn("korg-bridge is highly experimental. All functions/types can and will change")
	})

	rt := foreign.NewRuntime(e)
	c := &Client{
		rt:      rt,
		adapter: call.NewAdapter(rt),
		opts:    o,
	}
	if err := c.loadDocs(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Runtime returns the foreign runtime beneath the client.
func (c *Client) Runtime() *foreign.Runtime {
	return c.rt
}

// Collect hands released engine objects back to the engine now instead of
// at the next call.
func (c *Client) Collect(ctx context.Context) error {
	return c.rt.Collect(ctx)
}

// Close releases pending objects and stops the engine. Views and linelists
// still held become invalid.
func (c *Client) Close(ctx context.Context) error {
	return c.rt.Close(ctx)
}

func (c *Client) invoke(ctx context.Context, entry string, required []foreign.Arg, groups []call.Group, free map[string]float64, want int) ([]*foreign.Handle, error) {
	handles, err := c.adapter.Invoke(ctx, entry, required, groups, free)
	if err != nil {
		return nil, err
	}
	if len(handles) != want {
		for _, h := range handles {
			h.Release()
		}
		return nil, errors.InvalidData(errors.PhaseDecode, []string{entry},
			"engine returned an unexpected number of results")
	}
	return handles, nil
}
