package foreign

import (
	"context"
	stderrors "errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/errors"
)

// releaseQueue collects references whose host holders are gone. It is the
// only state touched from garbage-collector cleanups.
type releaseQueue struct {
	pending []Ref
	mu      sync.Mutex
	closed  bool
}

func (q *releaseQueue) push(t releaseTicket, reason string) {
	if !t.done.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, t.ref)
	Logger().Debug("foreign reference queued for release",
		zap.Uint32("ref", uint32(t.ref)),
		zap.Stringer("handle", t.id),
		zap.String("reason", reason))
}

func (q *releaseQueue) take() []Ref {
	q.mu.Lock()
	defer q.mu.Unlock()
	refs := q.pending
	q.pending = nil
	return refs
}

func (q *releaseQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *releaseQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Runtime owns an Engine and every Handle issued from it.
type Runtime struct {
	engine      Engine
	queue       *releaseQueue
	outstanding atomic.Int64
	closed      atomic.Bool
}

// NewRuntime wraps an engine.
func NewRuntime(e Engine) *Runtime {
	return &Runtime{
		engine: e,
		queue:  &releaseQueue{},
	}
}

// Engine returns the wrapped engine.
func (r *Runtime) Engine() Engine {
	return r.engine
}

// Invoke calls entry once and wraps each returned reference in a Handle,
// preserving order. Foreign errors are returned unchanged.
//
// Pending releases are flushed before the call. Handles lowered into args
// stay reachable until the engine returns.
func (r *Runtime) Invoke(ctx context.Context, entry string, args []Arg) ([]*Handle, error) {
	if r.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseCall, "runtime")
	}
	r.flush(ctx)

	refs, err := r.engine.Invoke(ctx, entry, args)
	runtime.KeepAlive(args)
	if err != nil {
		return nil, err
	}

	handles := make([]*Handle, 0, len(refs))
	for i, ref := range refs {
		if ref == 0 {
			for _, h := range handles {
				h.Release()
			}
			r.discard(ctx, refs[i+1:])
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path(entry).
				Detail("result %d is the null reference", i).
				Build()
		}
		handles = append(handles, newHandle(r, ref))
		r.outstanding.Add(1)
	}
	return handles, nil
}

// Collect hands every queued reference back to the engine now.
func (r *Runtime) Collect(ctx context.Context) error {
	var errs []error
	for _, ref := range r.queue.take() {
		if err := r.release(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Pending returns the number of references waiting for release.
func (r *Runtime) Pending() int {
	return r.queue.len()
}

// Outstanding returns the number of issued references the engine still
// keeps alive on behalf of the host.
func (r *Runtime) Outstanding() int {
	return int(r.outstanding.Load())
}

// Close flushes pending releases and closes the engine. References still
// held by the host are abandoned with the engine's memory.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.Collect(ctx)
	r.queue.close()
	return stderrors.Join(err, r.engine.Close(ctx))
}

func (r *Runtime) flush(ctx context.Context) {
	if err := r.Collect(ctx); err != nil {
		Logger().Warn("release foreign references", zap.Error(err))
	}
}

// discard hands back references that were never wrapped in a Handle.
func (r *Runtime) discard(ctx context.Context, refs []Ref) {
	for _, ref := range refs {
		if ref == 0 {
			continue
		}
		if err := r.engine.Release(ctx, ref); err != nil {
			Logger().Warn("release unwrapped foreign reference",
				zap.Uint32("ref", uint32(ref)),
				zap.Error(err))
		}
	}
}

func (r *Runtime) release(ctx context.Context, ref Ref) error {
	r.outstanding.Add(-1)
	Logger().Debug("release foreign reference", zap.Uint32("ref", uint32(ref)))
	return r.engine.Release(ctx, ref)
}

func (r *Runtime) length(ctx context.Context, ref Ref) (int, error) {
	if r.closed.Load() {
		return 0, errors.NotInitialized(errors.PhaseHandle, "runtime")
	}
	r.flush(ctx)
	return r.engine.Length(ctx, ref)
}

func (r *Runtime) describe(ctx context.Context, ref Ref) (Layout, error) {
	if r.closed.Load() {
		return Layout{}, errors.NotInitialized(errors.PhaseHandle, "runtime")
	}
	r.flush(ctx)
	return r.engine.Describe(ctx, ref)
}

// Doc fetches the engine's documentation text for a public function.
func (r *Runtime) Doc(ctx context.Context, name string) (string, error) {
	if r.closed.Load() {
		return "", errors.NotInitialized(errors.PhaseDoc, "runtime")
	}
	r.flush(ctx)
	return r.engine.Doc(ctx, name)
}
