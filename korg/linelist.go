package korg

import (
	"context"
	"fmt"

	"github.com/wippyai/korg-bridge/foreign"
)

// Linelist is a handle to a list of spectral lines held by the engine.
//
// Obtain one from a loader; there is no public constructor. The lines stay
// in the engine until Release is called or the Linelist is collected, and
// for as long as a call that received it is still running.
type Linelist struct {
	h *foreign.Handle
}

func newLinelist(h *foreign.Handle) *Linelist {
	return &Linelist{h: h}
}

// Len asks the engine for the number of lines. The count is not cached.
func (l *Linelist) Len(ctx context.Context) (int, error) {
	return l.h.Len(ctx)
}

// ForeignRef lets the linelist be passed to engine calls.
func (l *Linelist) ForeignRef() foreign.Ref {
	return l.h.ForeignRef()
}

// Release drops the linelist. Further use reports an error.
func (l *Linelist) Release() {
	l.h.Release()
}

// Released reports whether Release was called.
func (l *Linelist) Released() bool {
	return l.h.Released()
}

func (l *Linelist) String() string {
	n, err := l.h.Len(context.Background())
	if err != nil {
		return "Linelist(<released>)"
	}
	return fmt.Sprintf("Linelist(<%d lines>)", n)
}
