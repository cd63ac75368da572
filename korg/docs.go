package korg

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/wippyai/korg-bridge/errors"
)

// Shadowed lists the functions whose engine documentation applies to the Go
// API unchanged.
var Shadowed = []string{
	EntryAPOGEEDR17,
	EntryGALAHDR3,
	EntryGES,
	EntryVALDSolar,
}

type docEntry struct {
	err  error
	text string
}

func (c *Client) loadDocs(ctx context.Context) error {
	c.docs = make(map[string]docEntry, len(Shadowed))
	for _, name := range Shadowed {
		raw, err := c.rt.Doc(ctx, name)
		var text string
		if err == nil {
			text, err = recycleDoc(name, raw)
		} else {
			err = errors.DocMissing(name, err)
		}
		if err != nil {
			if c.opts.strictDocs {
				return err
			}
			Logger().Debug("documentation unavailable", zap.String("function", name), zap.Error(err))
		}
		c.docs[name] = docEntry{text: text, err: err}
	}
	return nil
}

// recycleDoc strips the signature line from the engine's documentation. The
// text must open with the function's own signature.
func recycleDoc(name, raw string) (string, error) {
	if !strings.HasPrefix(raw, "    "+name+"(") {
		return "", errors.DocMissing(name, nil)
	}
	nl := strings.IndexByte(raw, '\n')
	if nl < 0 {
		return "", errors.DocMissing(name, nil)
	}
	return strings.TrimLeftFunc(raw[nl:], unicode.IsSpace), nil
}

// Doc returns the documentation recycled from the engine for a shadowed
// function.
func (c *Client) Doc(name string) (string, error) {
	d, ok := c.docs[name]
	if !ok {
		return "", errors.NotFound(errors.PhaseDoc, "shadowed function", name)
	}
	return d.text, d.err
}

// Documented returns the shadowed functions whose documentation loaded.
func (c *Client) Documented() []string {
	var names []string
	for name, d := range c.docs {
		if d.err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
