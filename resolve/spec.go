package resolve

import (
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/korg-bridge/errors"
	"github.com/wippyai/korg-bridge/foreign"
)

// Policy says what an unset optional argument becomes in the foreign call.
type Policy uint8

const (
	// PolicyOmit leaves the argument out so the engine applies its own default.
	PolicyOmit Policy = iota + 1
	// PolicySentinel sends foreign.Nothing.
	PolicySentinel
)

func (p Policy) String() string {
	switch p {
	case PolicyOmit:
		return "omit"
	case PolicySentinel:
		return "sentinel"
	default:
		return "invalid"
	}
}

// Spec declares one optional parameter of a foreign entry point.
type Spec struct {
	Name string
	// Domain is the WIT type of accepted values. Empty means Passthrough.
	Domain string
	Policy Policy
	// AcceptsNull marks parameters for which foreign.Nothing is a valid input.
	AcceptsNull bool
}

// Validate checks the declaration for contradictions.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.ArgumentShape("<unnamed>", "optional argument has no name")
	}
	switch s.Policy {
	case PolicyOmit:
	case PolicySentinel:
		if !s.AcceptsNull {
			return errors.ArgumentShape(s.Name, "sentinel policy on a parameter that does not accept null")
		}
	default:
		return errors.ArgumentShape(s.Name, "policy must be omit or sentinel")
	}
	if _, err := s.Type(); err != nil {
		return err
	}
	return nil
}

// Type parses Domain. Passthrough parameters return a nil type.
func (s Spec) Type() (wit.Type, error) {
	if s.Domain == "" {
		return nil, nil
	}
	t, err := parseDomain(s.Domain)
	if err != nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindArgumentShape).
			Path(s.Name).
			WitType(s.Domain).
			Detail("unparsable value domain").
			Cause(err).
			Build()
	}
	return t, nil
}

// Decision is the outcome of resolving one argument.
type Decision struct {
	Value   any
	Include bool
}

// Resolve decides whether and how v reaches the foreign call.
func Resolve(s Spec, v Value) Decision {
	switch v.state {
	case stateSome:
		if p, ok := v.v.(Passthrough); ok {
			return Decision{Include: true, Value: p.V}
		}
		return Decision{Include: true, Value: v.v}
	case stateNull:
		return Decision{Include: true, Value: foreign.Nothing}
	}
	if s.Policy == PolicySentinel {
		return Decision{Include: true, Value: foreign.Nothing}
	}
	return Decision{}
}

// parseDomain understands the WIT primitives plus list<T>, option<T> and
// tuple<T, ...>.
func parseDomain(s string) (wit.Type, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '<')
	if open < 0 || !strings.HasSuffix(s, ">") {
		return wit.ParseType(s)
	}

	head, inner := s[:open], s[open+1:len(s)-1]
	switch head {
	case "list":
		t, err := parseDomain(inner)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.List{Type: t}}, nil
	case "option":
		t, err := parseDomain(inner)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Option{Type: t}}, nil
	case "tuple":
		var types []wit.Type
		for _, part := range splitTypes(inner) {
			t, err := parseDomain(part)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
		return &wit.TypeDef{Kind: &wit.Tuple{Types: types}}, nil
	default:
		return wit.ParseType(s)
	}
}

// splitTypes splits a comma-separated type list, respecting nested brackets.
func splitTypes(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '<':
			depth++
			current.WriteRune(ch)
		case '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}
	return result
}
