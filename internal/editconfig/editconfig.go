// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package editconfig implements <edit-config>'s Parse+Apply half of the
// transaction pipeline (spec §4.4 "Parse"): it resolves the
// schema-agnostic <config> tree internal/rpcparse materializes against
// the target datastore's compiled schema, recording each node's edit
// operation (create/merge/replace/delete/remove) and insert cursor, then
// merges the result directly onto the candidate datastore's live tree —
// edit-config mutates candidate in place rather than building a separate
// scratch tree, since candidate already plays that role (spec §4.5).
package editconfig

import (
	"bytes"
	"strings"

	"github.com/danos/netconfd/internal/rpcerror"
	"github.com/danos/netconfd/internal/schema"
	"github.com/danos/netconfd/internal/store"
	"github.com/danos/netconfd/internal/xmlevent"
)

// operationAttr and insertAttr are the attribute names RFC 6241 §7.2
// defines on <edit-config> content nodes; the namespace a peer qualifies
// them with is not consulted, matching this module's general pragmatic
// stance on XML namespace strictness (spec's Implementation Budget).
const (
	operationAttr = "operation"
	insertAttr    = "insert"
	keyAttr       = "key"
	valueAttr     = "value"
)

// ParseOperation maps an operation= attribute value to its EditOp,
// rejecting anything else as a protocol error (spec §4.4 "Parse").
func ParseOperation(raw string) (store.EditOp, *rpcerror.Error) {
	switch raw {
	case "", "merge":
		return store.OpMerge, nil
	case "create":
		return store.OpCreate, nil
	case "replace":
		return store.OpReplace, nil
	case "delete":
		return store.OpDelete, nil
	case "remove":
		return store.OpRemove, nil
	default:
		return store.NoOp, rpcerror.NewInvalidValueProtocolError()
	}
}

// Parse builds a detached edit tree from cfg (the materialized <config>
// body), resolving every element name against root's schema and
// recording each node's operation/insert metadata. defaultOp is the
// request's default-operation (merge unless the peer overrides it),
// inherited by any node that does not carry its own operation attribute.
func Parse(cfg *xmlevent.Element, root *schema.Object, defaultOp store.EditOp) (*store.Node, *rpcerror.Error) {
	out := store.New(root)
	if cfg == nil {
		return out, nil
	}
	for _, child := range cfg.Children {
		node, rerr := parseNode(child, root, defaultOp)
		if rerr != nil {
			return nil, rerr
		}
		out.AddChild(node)
	}
	return out, nil
}

func parseNode(el *xmlevent.Element, parentSchema *schema.Object, inheritedOp store.EditOp) (*store.Node, *rpcerror.Error) {
	tmpl, ok := parentSchema.Child(el.Name)
	if !ok {
		return nil, rpcerror.NewBadElementProtocolError(el.Name)
	}
	n := store.New(tmpl)

	op := inheritedOp
	var rawAttrs []store.XMLAttr
	for _, a := range el.Attrs {
		rawAttrs = append(rawAttrs, store.XMLAttr{Name: a.Name, Value: a.Value})
		if a.Name == operationAttr {
			parsedOp, rerr := ParseOperation(a.Value)
			if rerr != nil {
				return nil, rerr
			}
			op = parsedOp
		}
	}
	n.Op = op
	n.Attrs = rawAttrs

	if where := attrValue(el.Attrs, insertAttr); where != "" {
		n.Insert = &store.InsertCursor{
			Where: where,
			Key:   firstNonEmpty(attrValue(el.Attrs, keyAttr), attrValue(el.Attrs, valueAttr)),
		}
	}

	switch tmpl.Kind {
	case schema.Leaf, schema.LeafList:
		n.Value = strings.TrimSpace(el.Text)
	case schema.Empty:
		// presence-only leaf; no value, no children
	default:
		for _, c := range el.Children {
			child, rerr := parseNode(c, tmpl, op)
			if rerr != nil {
				return nil, rerr
			}
			n.AddChild(child)
		}
	}
	return n, nil
}

func attrValue(attrs []xmlevent.Attr, name string) string {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Apply merges edit (the tree Parse produced) onto target, honoring
// each node's Op (spec §4.4 "Parse" folded directly into candidate
// mutation rather than a later, separate apply pass — see package doc).
func Apply(target *store.Node, edit *store.Node) *rpcerror.Error {
	for _, editChild := range edit.Children() {
		if rerr := applyChild(target, editChild); rerr != nil {
			return rerr
		}
	}
	return nil
}

func applyChild(targetParent *store.Node, editChild *store.Node) *rpcerror.Error {
	existing, found := findMatch(targetParent, editChild)
	op := editChild.Op
	if op == store.NoOp {
		op = store.OpMerge
	}

	switch op {
	case store.OpCreate:
		if found {
			return rpcerror.NewDataExistsApplicationError(pathOf(existing))
		}
		targetParent.AddChild(detach(editChild))

	case store.OpDelete:
		if !found {
			return rpcerror.NewDataMissingApplicationError(pathOf(editChild))
		}
		targetParent.RemoveChild(existing)

	case store.OpRemove:
		if found {
			targetParent.RemoveChild(existing)
		}

	case store.OpReplace:
		if found {
			targetParent.RemoveChild(existing)
		}
		targetParent.AddChild(detach(editChild))

	default: // merge
		if editChild.Schema != nil && (editChild.Schema.Kind == schema.Leaf || editChild.Schema.Kind == schema.LeafList) {
			if found {
				existing.Value = editChild.Value
			} else {
				targetParent.AddChild(detach(editChild))
			}
			return nil
		}
		if !found {
			existing = store.New(editChild.Schema)
			targetParent.AddChild(existing)
		}
		for _, gc := range editChild.Children() {
			if rerr := applyChild(existing, gc); rerr != nil {
				return rerr
			}
		}
	}
	return nil
}

// detach strips edit-metadata recursively so a node merged wholesale
// into the candidate tree doesn't carry leftover Op/Insert/Attrs state
// past the edit that produced it (store.Node.Clone does the same for
// committed snapshots).
func detach(n *store.Node) *store.Node {
	out := store.New(n.Schema)
	out.Value = n.Value
	for _, c := range n.Children() {
		out.AddChild(detach(c))
	}
	return out
}

func findMatch(parent *store.Node, edit *store.Node) (*store.Node, bool) {
	if edit.Schema != nil && edit.Schema.Kind == schema.List {
		keyVals := make([]string, len(edit.Schema.Keys))
		for i, k := range edit.Schema.Keys {
			if kc, ok := edit.Child(k); ok {
				keyVals[i] = kc.Value
			}
		}
		return parent.ChildByKey(edit.Name(), keyVals)
	}
	return parent.Child(edit.Name())
}

func pathOf(n *store.Node) string {
	var parts [][]byte
	for cur, ok := n, true; ok; cur, ok = cur.ParentNode() {
		parts = append([][]byte{[]byte(cur.Name())}, parts...)
	}
	var b bytes.Buffer
	for _, p := range parts {
		b.WriteByte('/')
		b.Write(p)
	}
	return b.String()
}
