// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package rpcparse turns one decoded NETCONF message (spec §4.1's framing
// already stripped) into the shape internal/dispatch consumes: which
// top-level element it is, and for <rpc>, the operation name plus its
// parameters. Most NETCONF parameters are themselves small XML wrappers
// around a single choice or a text leaf (`<target><running/></target>`,
// `<session-id>4</session-id>`); rather than carry those subtrees into
// the dispatch core, this package collapses that shape into
// `map[string]string` at the boundary, which is what internal/dispatch's
// handlers already expect. The one parameter that is genuinely arbitrary
// nested XML, <config>, cannot be collapsed this way — it is materialized
// into an xmlevent.Element tree instead and handed to internal/editconfig,
// which is schema-aware and resolves it against the target datastore.
package rpcparse

import (
	"io"

	"github.com/danos/netconfd/internal/dispatch"
	"github.com/danos/netconfd/internal/nsreg"
	"github.com/danos/netconfd/internal/rpcerror"
	"github.com/danos/netconfd/internal/xmlevent"
)

// Message is one parsed top-level element.
type Message struct {
	Class        dispatch.ElementClass
	RootName     string
	MessageID    string
	Operation    string
	Attrs        map[string]string
	Capabilities []string
	Config       *xmlevent.Element // materialized <config> body, for edit-config/copy-config
}

// Parse classifies raw's top-level element and, for <rpc>, extracts the
// operation name and a flattened parameter map (spec §4.2 "parses just
// enough of the message to classify it and locate the operation"). For
// <hello> it instead collects the advertised capability URIs, which the
// server needs to decide whether to switch to base:1.1 chunked framing.
func Parse(raw []byte, ns *nsreg.Registry) (*Message, error) {
	r := xmlevent.New(raw, ns)
	root, err := r.Next()
	if err != nil {
		return nil, rpcerror.NewMalformedMessageProtocolError()
	}

	msg := &Message{
		Class:    dispatch.ClassifyElement(root.Name),
		RootName: root.Name,
	}
	if msg.Class == dispatch.ClassHello {
		caps, err := collectCapabilities(r)
		if err != nil {
			return nil, err
		}
		msg.Capabilities = caps
		return msg, nil
	}
	if msg.Class == dispatch.ClassNcxConnect {
		attrs := map[string]string{}
		for _, a := range root.Attrs {
			attrs[a.Name] = a.Value
		}
		msg.Attrs = attrs
		return msg, nil
	}
	if msg.Class != dispatch.ClassRPC {
		return msg, nil
	}

	for _, a := range root.Attrs {
		if a.Name == "message-id" {
			msg.MessageID = a.Value
		}
	}

	op, err := r.NextCollapsed()
	if err != nil {
		return nil, rpcerror.NewMalformedMessageProtocolError()
	}
	msg.Operation = op.Name

	attrs, cfg, err := flattenChildren(r, op.Kind == xmlevent.EmptyElement)
	if err != nil {
		return nil, err
	}
	msg.Attrs = attrs
	msg.Config = cfg
	return msg, nil
}

// collectCapabilities walks a <hello> body gathering every <capability>
// element's text content, tolerant of whatever else a peer's hello wraps
// around them (session-id on a server-originated hello, vendor extensions).
func collectCapabilities(r *xmlevent.Reader) ([]string, error) {
	var caps []string
	depth := 0
	curName := ""
	for {
		ev, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return caps, nil
			}
			return nil, rpcerror.NewMalformedMessageProtocolError()
		}
		switch ev.Kind {
		case xmlevent.StartElement:
			depth++
			curName = ev.Name
		case xmlevent.Text:
			if curName == "capability" {
				caps = append(caps, ev.Text)
			}
		case xmlevent.EndElement:
			depth--
			curName = ""
			if depth < 0 {
				return caps, nil
			}
		}
	}
}

// flattenChildren reads the children of the element whose start event was
// just consumed (already-empty means there are none) and collapses each
// one into a key/value pair. <select> children (repeatable under
// <partial-lock>) accumulate, newline-joined, under "selectors" only, not
// under "select", matching what internal/dispatch/handlers.go's
// handlePartialLock reads; any other repeated child keeps only its last
// value. "config" is
// arbitrary nested configuration XML that the generic collapse can't
// turn into a single string (edit-config/copy-config's source); it is
// materialized into a tree instead and returned separately, for a
// schema-aware pass downstream (internal/editconfig) to resolve.
func flattenChildren(r *xmlevent.Reader, alreadyEmpty bool) (map[string]string, *xmlevent.Element, error) {
	attrs := map[string]string{}
	if alreadyEmpty {
		return attrs, nil, nil
	}
	var selects []string
	var config *xmlevent.Element

	for {
		ev, err := r.NextCollapsed()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, rpcerror.NewMalformedMessageProtocolError()
		}
		if ev.Kind == xmlevent.EndElement {
			break
		}

		name := ev.Name
		if name == "config" {
			el, perr := r.ParseElement(ev)
			if perr != nil {
				return nil, nil, rpcerror.NewMalformedMessageProtocolError()
			}
			config = el
			continue
		}

		value, err := flattenOne(r, ev)
		if err != nil {
			return nil, nil, err
		}
		if name == "select" {
			selects = append(selects, value)
			continue
		}
		attrs[name] = value
	}

	if len(selects) > 0 {
		joined := selects[0]
		for _, s := range selects[1:] {
			joined += "\n" + s
		}
		attrs["selectors"] = joined
	}
	return attrs, config, nil
}

// flattenOne resolves a single child element to its string value: an
// EmptyElement contributes "" (a bare flag, e.g. <confirmed/>); a Text
// child contributes its text; a nested wrapper (one EmptyElement child,
// e.g. <target><running/></target>) contributes the inner element's name.
func flattenOne(r *xmlevent.Reader, ev *xmlevent.Event) (string, error) {
	if ev.Kind == xmlevent.EmptyElement {
		return "", nil
	}

	inner, err := r.NextCollapsed()
	if err != nil {
		return "", rpcerror.NewMalformedMessageProtocolError()
	}
	switch inner.Kind {
	case xmlevent.EndElement:
		return "", nil
	case xmlevent.Text:
		text := inner.Text
		if end, err := r.NextCollapsed(); err != nil || end.Kind != xmlevent.EndElement {
			return "", rpcerror.NewMalformedMessageProtocolError()
		}
		return text, nil
	case xmlevent.EmptyElement:
		choice := inner.Name
		if end, err := r.NextCollapsed(); err != nil || end.Kind != xmlevent.EndElement {
			return "", rpcerror.NewMalformedMessageProtocolError()
		}
		return choice, nil
	default:
		return "", rpcerror.NewMalformedMessageProtocolError()
	}
}
