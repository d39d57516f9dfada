package xmlcodec

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Scope wraps a parsed element for navigation, giving the four primitives
// spec.md §4.A calls for: One, Opt, Map, Each, plus Text/Attr leaves.
type Scope struct {
	el *Element
}

// Parse reads an XML document into a navigable root Scope.
func Parse(r io.Reader) (*Scope, error) {
	dec := xml.NewDecoder(r)
	root, err := parseElement(dec, nil)
	if err != nil {
		return nil, err
	}
	return &Scope{el: root}, nil
}

func parseElement(dec *xml.Decoder, start *xml.StartElement) (*Element, error) {
	if start == nil {
		for {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			if se, ok := tok.(xml.StartElement); ok {
				start = &se
				break
			}
		}
	}

	el := &Element{Name: localName(start.Name)}
	for _, a := range start.Attr {
		el.Attrs = append(el.Attrs, Attr{Name: localName(a.Name), Value: a.Value})
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, &t)
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, child)
		case xml.CharData:
			el.Text += string(t)
		case xml.EndElement:
			return el, nil
		}
	}
}

func localName(n xml.Name) string {
	return n.Local
}

// Name returns the current scope's element name.
func (s *Scope) Name() string { return s.el.Name }

// Element returns the underlying element tree rooted at this scope, for
// callers that need to re-serialize a parsed subtree (e.g. to canonicalize
// a response's authenticated header for signature verification).
func (s *Scope) Element() *Element { return s.el }

// Text returns the current scope's text content.
func (s *Scope) Text() string { return s.el.Text }

// Attr returns the named attribute's value and whether it was present.
func (s *Scope) Attr(name string) (string, bool) {
	for _, a := range s.el.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// One returns the single child named name, failing if there are zero or
// more than one matches.
func (s *Scope) One(name string) (*Scope, error) {
	matches := s.children(name)
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("xmlcodec: required element %q missing under %q", name, s.el.Name)
	case 1:
		return &Scope{el: matches[0]}, nil
	default:
		return nil, fmt.Errorf("xmlcodec: expected exactly one %q under %q, found %d", name, s.el.Name, len(matches))
	}
}

// Opt returns the single child named name, or nil if absent. It still
// fails if more than one match exists.
func (s *Scope) Opt(name string) (*Scope, error) {
	matches := s.children(name)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &Scope{el: matches[0]}, nil
	default:
		return nil, fmt.Errorf("xmlcodec: expected at most one %q under %q, found %d", name, s.el.Name, len(matches))
	}
}

// Map returns every child named name as a Scope slice, in document order.
func (s *Scope) Map(name string) []*Scope {
	matches := s.children(name)
	out := make([]*Scope, len(matches))
	for i, m := range matches {
		out[i] = &Scope{el: m}
	}
	return out
}

// Each calls fn once per child named name, in document order.
func (s *Scope) Each(name string, fn func(*Scope) error) error {
	for _, sc := range s.Map(name) {
		if err := fn(sc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scope) children(name string) []*Element {
	var out []*Element
	for _, c := range s.el.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
