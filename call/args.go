package call

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

// Args is an ordered name to value mapping. A replaced value keeps the
// position of the name's first insertion.
type Args struct {
	values   map[string]any
	required map[string]struct{}
	names    []string
}

// NewArgs returns an empty argument set.
func NewArgs() *Args {
	return &Args{
		values:   make(map[string]any),
		required: make(map[string]struct{}),
	}
}

// Set stores v under name. It reports false, leaving the set unchanged, when
// name is a required argument.
func (a *Args) Set(name string, v any) bool {
	if _, ok := a.required[name]; ok {
		return false
	}
	if _, ok := a.values[name]; !ok {
		a.names = append(a.names, name)
	}
	a.values[name] = v
	return true
}

func (a *Args) setRequired(name string, v any) error {
	if name == "" {
		return errors.ArgumentShape("<unnamed>", "required argument has no name")
	}
	if _, ok := a.values[name]; ok {
		return errors.ArgumentShape(name, "required argument given twice")
	}
	a.names = append(a.names, name)
	a.values[name] = v
	a.required[name] = struct{}{}
	return nil
}

// Get returns the value stored under name.
func (a *Args) Get(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Required reports whether name was supplied as a required argument.
func (a *Args) Required(name string) bool {
	_, ok := a.required[name]
	return ok
}

// Names returns the argument names in order.
func (a *Args) Names() []string {
	return a.names
}

// Len returns the number of arguments.
func (a *Args) Len() int {
	return len(a.names)
}

// Pairs returns the arguments in order, ready for foreign.Engine.Invoke.
func (a *Args) Pairs() []foreign.Arg {
	out := make([]foreign.Arg, len(a.names))
	for i, name := range a.names {
		out[i] = foreign.Arg{Name: name, Value: a.values[name]}
	}
	return out
}

// Group is one named bundle of optional arguments, usually the output of
// resolve.Signature.Apply.
type Group struct {
	Name string
	Args []foreign.Arg
}

// Merge builds the argument set for one call. Free-form keys are applied in
// sorted order so the result does not depend on map iteration. A group or
// free-form key naming a required argument is an ArgumentShape error.
func Merge(required []foreign.Arg, groups []Group, free map[string]float64) (*Args, error) {
	a := NewArgs()
	for _, arg := range required {
		if err := a.setRequired(arg.Name, arg.Value); err != nil {
			return nil, err
		}
	}

	for _, g := range groups {
		for _, arg := range g.Args {
			if err := a.set(g.Name, arg.Name, arg.Value); err != nil {
				return nil, err
			}
		}
	}

	keys := make([]string, 0, len(free))
	for k := range free {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := a.set("free", k, free[k]); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *Args) set(source, name string, v any) error {
	if name == "" {
		return errors.ArgumentShape("<unnamed>", fmt.Sprintf("unnamed argument in %s", source))
	}
	if !a.Set(name, v) {
		Logger().Debug("argument collides with a required argument",
			zap.String("name", name),
			zap.String("source", source))
		return errors.ArgumentShape(name, fmt.Sprintf("%s argument collides with a required argument", source))
	}
	return nil
}
