package foreign

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/errors"
)

// Handle is a host-side reference that keeps one foreign object alive.
//
// A Handle starts with one reference owned by whoever received it from
// Runtime.Invoke. Every additional holder calls Retain and later Release.
// The element count is never cached; Len asks the engine each time.
type Handle struct {
	rt      *Runtime
	done    *atomic.Bool
	cleanup runtime.Cleanup
	refs    atomic.Int32
	ref     Ref
	id      uuid.UUID
}

// releaseTicket is what a cleanup needs to queue a release. It must not
// point back at the Handle, or the Handle would never become unreachable.
type releaseTicket struct {
	queue *releaseQueue
	done  *atomic.Bool
	ref   Ref
	id    uuid.UUID
}

func newHandle(rt *Runtime, ref Ref) *Handle {
	h := &Handle{
		rt:   rt,
		ref:  ref,
		id:   uuid.New(),
		done: new(atomic.Bool),
	}
	h.refs.Store(1)
	h.cleanup = runtime.AddCleanup(h, collectTicket, h.ticket())
	return h
}

func collectTicket(t releaseTicket) {
	t.queue.push(t, "collected")
}

func (h *Handle) ticket() releaseTicket {
	return releaseTicket{queue: h.rt.queue, done: h.done, ref: h.ref, id: h.id}
}

// ID returns the handle's identity token.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// ForeignRef returns the engine reference the handle keeps alive.
func (h *Handle) ForeignRef() Ref {
	return h.ref
}

// Released reports whether the foreign reference was handed back.
func (h *Handle) Released() bool {
	return h.done.Load()
}

// Refs returns the number of live host references.
func (h *Handle) Refs() int {
	return int(h.refs.Load())
}

// Retain adds a host reference. It fails once the count has reached zero.
func (h *Handle) Retain() error {
	for {
		n := h.refs.Load()
		if n <= 0 || h.done.Load() {
			return errors.Released(errors.PhaseHandle, h.String())
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a host reference. When the last one is gone the foreign
// reference is queued for release; extra calls are ignored.
func (h *Handle) Release() {
	n := h.refs.Add(-1)
	switch {
	case n == 0:
		h.cleanup.Stop()
		h.rt.queue.push(h.ticket(), "released")
	case n < 0:
		h.refs.Store(0)
		Logger().Debug("handle released more than retained", zap.Stringer("handle", h))
	}
}

// Len asks the engine for the object's current element count.
func (h *Handle) Len(ctx context.Context) (int, error) {
	if h.done.Load() {
		return 0, errors.Released(errors.PhaseHandle, h.String())
	}
	n, err := h.rt.length(ctx, h.ref)
	runtime.KeepAlive(h)
	return n, err
}

// Layout answers the memory-layout query for the object.
func (h *Handle) Layout(ctx context.Context) (Layout, error) {
	if h.done.Load() {
		return Layout{}, errors.Released(errors.PhaseHandle, h.String())
	}
	l, err := h.rt.describe(ctx, h.ref)
	runtime.KeepAlive(h)
	return l, err
}

// Runtime returns the runtime that issued the handle.
func (h *Handle) Runtime() *Runtime {
	return h.rt
}

func (h *Handle) String() string {
	return fmt.Sprintf("handle(%s ref=%d)", h.id, h.ref)
}
