package resolve

import (
	"fmt"
	"sort"

	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

// Signature is the ordered set of optional parameters of one entry point,
// or of one keyword group forwarded to it.
type Signature struct {
	index map[string]int
	specs []Spec
}

// NewSignature validates specs and rejects duplicate names.
func NewSignature(specs ...Spec) (*Signature, error) {
	s := &Signature{
		index: make(map[string]int, len(specs)),
		specs: make([]Spec, 0, len(specs)),
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[spec.Name]; dup {
			return nil, errors.ArgumentShape(spec.Name, "declared twice")
		}
		s.index[spec.Name] = len(s.specs)
		s.specs = append(s.specs, spec)
	}
	return s, nil
}

// MustSignature is NewSignature for package-level declarations.
// A contradictory declaration is a programming error and panics.
func MustSignature(specs ...Spec) *Signature {
	s, err := NewSignature(specs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Specs returns the declarations in order.
func (s *Signature) Specs() []Spec {
	return s.specs
}

// Lookup returns the declaration for name.
func (s *Signature) Lookup(name string) (Spec, bool) {
	i, ok := s.index[name]
	if !ok {
		return Spec{}, false
	}
	return s.specs[i], true
}

// Apply resolves every declared parameter against values, in declaration
// order, and returns only the arguments the foreign call should see.
// Names in values that the signature does not declare are an ArgumentShape
// error: they would otherwise vanish silently.
func (s *Signature) Apply(values map[string]Value) ([]foreign.Arg, error) {
	var unknown []string
	for name := range values {
		if _, ok := s.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.ArgumentShape(unknown[0], fmt.Sprintf("undeclared optional arguments %v", unknown))
	}

	args := make([]foreign.Arg, 0, len(values))
	for _, spec := range s.specs {
		d := Resolve(spec, values[spec.Name])
		if d.Include {
			args = append(args, foreign.Arg{Name: spec.Name, Value: d.Value})
		}
	}
	return args, nil
}
