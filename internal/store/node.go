// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package store implements the in-memory configuration tree and the
// datastore container around it (spec §3 "Datastore"/"Configuration value",
// §4.5). Node plays the role the teacher's data.Node and union.Node jointly
// play, simplified into one tagged-union struct per Design Notes
// ("Ad-hoc polymorphism over value kinds ... replace with tagged sum
// types; keep the shared envelope in one struct").
package store

import (
	"fmt"

	"github.com/danos/netconfd/internal/schema"
)

// EditOp is the pending edit operation recorded on a node produced by
// <edit-config> parsing (spec §4.4 "Parse").
type EditOp int

const (
	NoOp EditOp = iota
	OpCreate
	OpMerge
	OpReplace
	OpDelete
	OpRemove
)

func (o EditOp) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpMerge:
		return "merge"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpRemove:
		return "remove"
	default:
		return "none"
	}
}

// InsertCursor records ordering instructions for ordered-by-user
// list/leaf-list entries (spec §4.4 "insert" attribute).
type InsertCursor struct {
	Where string // "first", "last", "before", "after"
	Key   string // sibling key/value for before/after
}

// XMLAttr is an attribute carried on a value node that isn't schema data
// (e.g. operation=, insert=) but must round-trip for error reporting.
type XMLAttr struct {
	Name  string
	Value string
}

// Node is one position in the configuration tree. It is the sole owner of
// its children; edit-metadata is only populated while a node is under
// construction by a transaction (spec §3 "Configuration value" lifecycle).
type Node struct {
	Schema *schema.Object
	Value  string // leaf/leaf-list scalar value; unused for containers/lists

	parent   *Node
	children []*Node

	// edit-metadata, valid only while owned by an in-flight transaction.
	Op       EditOp
	Insert   *InsertCursor
	OldValue *Node // previous value during an edit, for rollback
	Attrs    []XMLAttr
}

// New creates a detached node for the given schema template.
func New(s *schema.Object) *Node {
	return &Node{Schema: s}
}

// Name is the node's local name, taken from its schema template.
func (n *Node) Name() string {
	if n.Schema == nil {
		return ""
	}
	return n.Schema.Name
}

// ParentNode returns the owning node, if any.
func (n *Node) ParentNode() (*Node, bool) {
	if n.parent == nil {
		return nil, false
	}
	return n.parent, true
}

// Children returns the node's children in insertion order.
func (n *Node) Children() []*Node {
	return n.children
}

// AddChild appends child to n's child list and sets its parent pointer.
func (n *Node) AddChild(child *Node) {
	child.parent = n
	n.children = append(n.children, child)
}

// RemoveChild detaches child if present.
func (n *Node) RemoveChild(child *Node) bool {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// ChildByKey finds a list entry child whose key leaf values match keyVals,
// in schema key order.
func (n *Node) ChildByKey(listName string, keyVals []string) (*Node, bool) {
	for _, c := range n.children {
		if c.Name() != listName {
			continue
		}
		if c.matchesKey(keyVals) {
			return c, true
		}
	}
	return nil, false
}

func (n *Node) matchesKey(keyVals []string) bool {
	if n.Schema == nil || len(n.Schema.Keys) != len(keyVals) {
		return false
	}
	for i, k := range n.Schema.Keys {
		kc, ok := n.child(k)
		if !ok || kc.Value != keyVals[i] {
			return false
		}
	}
	return true
}

func (n *Node) child(name string) (*Node, bool) {
	for _, c := range n.children {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Child looks up a direct child by name, unqualified by list key —
// ChildByKey distinguishes between a list's entries. Exported for
// packages outside store that need to read a parsed node's own children
// (internal/editconfig's schema-directed edit walk in particular).
func (n *Node) Child(name string) (*Node, bool) {
	return n.child(name)
}

// Clone deep-copies the subtree rooted at n (edit-metadata is not copied —
// a clone is a committed-state snapshot, not an in-flight edit).
func (n *Node) Clone() *Node {
	cp := &Node{Schema: n.Schema, Value: n.Value}
	for _, c := range n.children {
		child := c.Clone()
		cp.AddChild(child)
	}
	return cp
}

// Equal reports whether two subtrees carry the same schema/value shape,
// used by the load-save-load round-trip property (spec §8).
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Name() != other.Name() || n.Value != other.Value {
		return false
	}
	if len(n.children) != len(other.children) {
		return false
	}
	for i := range n.children {
		if !n.children[i].Equal(other.children[i]) {
			return false
		}
	}
	return true
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)=%q", n.Name(), n.Schema.Kind, n.Value)
}
