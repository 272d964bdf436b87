// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package store

import "github.com/danos/netconfd/internal/xpath"

// The methods below make *Node satisfy xpath.Node, so partial-lock
// selection (spec §4.6) and NACM data-rules (spec §4.7) can walk the live
// configuration tree with internal/xpath directly.

// ChildrenNamed returns every child whose schema name matches name.
func (n *Node) ChildrenNamed(name string) []xpath.Node {
	var out []xpath.Node
	for _, c := range n.children {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

// Parent returns the owning node, if any, as an xpath.Node.
func (n *Node) Parent() (xpath.Node, bool) {
	p, ok := n.ParentNode()
	if !ok {
		return nil, false
	}
	return p, true
}

// ChildValue returns the scalar value of the named child leaf, if present.
func (n *Node) ChildValue(name string) (string, bool) {
	c, ok := n.child(name)
	if !ok {
		return "", false
	}
	return c.Value, true
}

var _ xpath.Node = (*Node)(nil)
