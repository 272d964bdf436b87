// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package xmlevent is a thin adapter over encoding/xml that delivers typed
// node events (start, empty, end, text) with attached attributes and
// namespace resolution (spec §4.2). The "select" and "key" attributes are
// eagerly compiled into an XPath program because later validation needs
// resolved prefixes against the live namespace context.
package xmlevent

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/danos/netconfd/internal/nsreg"
	"github.com/danos/netconfd/internal/xpath"
)

// Kind distinguishes the four event shapes the reader emits. encoding/xml's
// tokenizer does not preserve the self-closing-tag distinction (<foo/> and
// <foo></foo> both tokenize to a StartElement immediately followed by an
// EndElement), so EmptyElement is synthesized by the caller when a
// StartElement is immediately followed by its own EndElement with nothing
// in between; Next() itself only ever returns StartElement/EndElement/Text.
type Kind int

const (
	StartElement Kind = iota
	EmptyElement
	EndElement
	Text
)

// Attr is one attribute on a start/empty element.
type Attr struct {
	NS         nsreg.ID
	Name       string
	PrefixLen  int // length of the namespace encoding/xml reports (resolved URI, or raw prefix if unbound), 0 if unqualified
	Value      string
	Compiled   *xpath.Program // non-nil only for "select"/"key" attributes
}

// Event is one node in the parsed message.
type Event struct {
	Kind  Kind
	NS    nsreg.ID
	Name  string
	Attrs []Attr
	Text  string
}

// Reader yields events for a single inbound message.
type Reader struct {
	dec *xml.Decoder
	ns  *nsreg.Registry
	buf []Event // pushback filled by Push (NextCollapsed's one-event peek)
}

// New creates a reader over one complete message. If the peer omitted the
// <?xml ... ?> declaration, one is synthesized so the underlying parser
// starts in the expected state.
func New(message []byte, ns *nsreg.Registry) *Reader {
	trimmed := bytes.TrimLeft(message, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		var b bytes.Buffer
		b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
		b.Write(message)
		message = b.Bytes()
	}
	dec := xml.NewDecoder(bytes.NewReader(message))
	return &Reader{dec: dec, ns: ns}
}

// Next returns the next event, or io.EOF when the message is exhausted.
func (r *Reader) Next() (*Event, error) {
	if len(r.buf) > 0 {
		ev := r.buf[0]
		r.buf = r.buf[1:]
		return &ev, nil
	}
	return r.next()
}

// Push puts ev back so the next Next() call returns it again; used by
// callers that peek one event ahead (e.g. dispatch classification).
func (r *Reader) Push(ev *Event) {
	r.buf = append([]Event{*ev}, r.buf...)
}

func (r *Reader) next() (*Event, error) {
	tok, err := r.dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case xml.StartElement:
		return r.startEvent(t)
	case xml.EndElement:
		return &Event{Kind: EndElement, Name: t.Name.Local, NS: r.resolveNS(t.Name.Space)}, nil
	case xml.CharData:
		txt := strings.TrimSpace(string(t))
		if txt == "" {
			return r.next()
		}
		return &Event{Kind: Text, Text: string(t)}, nil
	default:
		return r.next()
	}
}

func (r *Reader) startEvent(t xml.StartElement) (*Event, error) {
	ev := &Event{Kind: StartElement, Name: t.Name.Local, NS: r.resolveNS(t.Name.Space)}
	for _, a := range t.Attr {
		attr := Attr{
			NS:        r.resolveNS(a.Name.Space),
			Name:      a.Name.Local,
			PrefixLen: len(a.Name.Space),
			Value:     a.Value,
		}
		if a.Name.Local == "select" || a.Name.Local == "key" {
			prog, cerr := xpath.Compile(a.Value)
			if cerr == nil {
				attr.Compiled = prog
			}
		}
		ev.Attrs = append(ev.Attrs, attr)
	}
	return ev, nil
}

func (r *Reader) resolveNS(uri string) nsreg.ID {
	if uri == "" {
		return nsreg.None
	}
	id, ok := r.ns.Lookup(uri)
	if !ok {
		return r.ns.Register(uri, "")
	}
	return id
}

// NextCollapsed is like Next but collapses a StartElement immediately
// followed by its matching EndElement into a single EmptyElement event,
// which is the shape callers in §4.2/§4.4 (edit-config parsing in
// particular) actually want to switch on.
func (r *Reader) NextCollapsed() (*Event, error) {
	ev, err := r.Next()
	if err != nil || ev.Kind != StartElement {
		return ev, err
	}
	peek, perr := r.Next()
	if perr != nil {
		return ev, nil // caller will see the error on its own next call
	}
	if peek.Kind == EndElement && peek.Name == ev.Name && peek.NS == ev.NS {
		ev.Kind = EmptyElement
		return ev, nil
	}
	r.Push(peek)
	return ev, nil
}

// Element is a materialized subtree: a generic, schema-agnostic tree
// built from a run of events, for content a flattener cannot collapse
// into a single string — arbitrary nested XML like <edit-config>'s
// <config> body, which only a schema-aware caller downstream can walk.
type Element struct {
	Name     string
	NS       nsreg.ID
	Attrs    []Attr
	Text     string
	Children []*Element
}

// ParseElement recursively materializes the element whose start event
// (Kind StartElement or EmptyElement) was just returned by Next or
// NextCollapsed, consuming it fully including its matching end tag.
func (r *Reader) ParseElement(start *Event) (*Element, error) {
	el := &Element{Name: start.Name, NS: start.NS, Attrs: start.Attrs}
	if start.Kind == EmptyElement {
		return el, nil
	}
	for {
		ev, err := r.NextCollapsed()
		if err != nil {
			return nil, err
		}
		switch ev.Kind {
		case EndElement:
			return el, nil
		case Text:
			el.Text += ev.Text
		default: // EmptyElement or StartElement
			child, cerr := r.ParseElement(ev)
			if cerr != nil {
				return nil, cerr
			}
			el.Children = append(el.Children, child)
		}
	}
}

// SkipSubtree consumes events until the matching end of the element whose
// start event was just returned by Next; used by error-recovery code that
// needs to resynchronize past an element it cannot process.
func (r *Reader) SkipSubtree() error {
	depth := 1
	for depth > 0 {
		ev, err := r.next()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("xmlevent: unexpected EOF skipping subtree")
			}
			return err
		}
		switch ev.Kind {
		case StartElement:
			depth++
		case EmptyElement:
			// no depth change
		case EndElement:
			depth--
		}
	}
	return nil
}
