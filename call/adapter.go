package call

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/foreign"
)

// Adapter forwards merged host calls to a foreign runtime.
type Adapter struct {
	rt *foreign.Runtime
}

// NewAdapter wraps rt.
func NewAdapter(rt *foreign.Runtime) *Adapter {
	return &Adapter{rt: rt}
}

// Runtime returns the wrapped runtime.
func (a *Adapter) Runtime() *foreign.Runtime {
	return a.rt
}

// Invoke merges the argument sources and calls entry exactly once. The
// returned handles follow the engine's result order. A foreign failure is
// returned as is and never retried.
func (a *Adapter) Invoke(ctx context.Context, entry string, required []foreign.Arg, groups []Group, free map[string]float64) ([]*foreign.Handle, error) {
	args, err := Merge(required, groups, free)
	if err != nil {
		return nil, err
	}

	Logger().Debug("foreign call",
		zap.String("entry", entry),
		zap.Strings("args", args.Names()))

	return a.rt.Invoke(ctx, entry, args.Pairs())
}
