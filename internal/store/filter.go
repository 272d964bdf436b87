// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package store

import (
	"github.com/danos/netconfd/internal/schema"
	"github.com/danos/netconfd/internal/xpath"
)

// ReadAuthorizer decides whether a node may be included in a filtered
// read, without this package depending on internal/nacm directly (spec
// §4.7's read decisions are applied from here, but the evaluator lives in
// its own package to avoid an import cycle with internal/store).
type ReadAuthorizer interface {
	AllowRead(path []string) bool
}

type alwaysAllow struct{}

func (alwaysAllow) AllowRead([]string) bool { return true }

// AllowAll is a ReadAuthorizer that permits every read, used by tests and
// by the reserved system sessions (spec §3 "Session 0").
var AllowAll ReadAuthorizer = alwaysAllow{}

// SubtreeFilter is a <filter type="subtree"> selection template: a sparse
// tree whose shape picks out which nodes of the target to include.
type SubtreeFilter struct {
	Name     string
	Value    string // non-empty means "select only entries with this leaf value"
	Children []*SubtreeFilter
}

// FilterSubtree returns a copy of root containing only the nodes selected
// by f, applying auth at each step (spec §4.5 "Get-config/get").
func FilterSubtree(root *Node, f *SubtreeFilter, auth ReadAuthorizer) *Node {
	out := root.Clone()
	out.children = nil
	filterChildren(root, out, f.Children, nil, auth)
	return out
}

func filterChildren(src, dst *Node, specs []*SubtreeFilter, path []string, auth ReadAuthorizer) {
	if len(specs) == 0 {
		// No filter given at this level: copy everything readable.
		for _, c := range src.children {
			p := append(append([]string(nil), path...), c.Name())
			if !auth.AllowRead(p) {
				continue
			}
			dst.AddChild(cloneFiltered(c, p, auth))
		}
		return
	}
	for _, spec := range specs {
		for _, c := range src.children {
			if c.Name() != spec.Name {
				continue
			}
			if spec.Value != "" && c.Value != spec.Value {
				continue
			}
			p := append(append([]string(nil), path...), c.Name())
			if !auth.AllowRead(p) {
				continue
			}
			child := &Node{Schema: c.Schema, Value: c.Value}
			dst.AddChild(child)
			filterChildren(c, child, spec.Children, p, auth)
		}
	}
}

func cloneFiltered(src *Node, path []string, auth ReadAuthorizer) *Node {
	out := &Node{Schema: src.Schema, Value: src.Value}
	for _, c := range src.children {
		p := append(append([]string(nil), path...), c.Name())
		if !auth.AllowRead(p) {
			continue
		}
		out.AddChild(cloneFiltered(c, p, auth))
	}
	return out
}

// FilterXPath returns the set of nodes matched by an XPath select
// expression, each pruned to only the readable subtree beneath it.
func FilterXPath(root *Node, prog *xpath.Program, auth ReadAuthorizer) []*Node {
	matches := xpath.Eval(prog, root, root)
	out := make([]*Node, 0, len(matches))
	for _, m := range matches {
		n, ok := m.(*Node)
		if !ok {
			continue
		}
		if !auth.AllowRead(pathTo(n)) {
			continue
		}
		out = append(out, cloneFiltered(n, pathTo(n), auth))
	}
	return out
}

func pathTo(n *Node) []string {
	var rev []string
	cur := n
	for cur != nil && cur.Schema != nil && cur.Name() != "" {
		rev = append(rev, cur.Name())
		p, ok := cur.ParentNode()
		if !ok {
			break
		}
		cur = p
	}
	out := make([]string, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// ApplyWithDefaults rewrites a filtered result tree according to mode
// (spec §4.5). trim and explicit both remove leaves whose value equals the
// schema default; explicit does not tell a default value set by an edit
// apart from one DefaultFill synthesized. report-all(-tagged) is the
// identity transform (tagging is left to the
// XML writer, which is outside this package's concern).
type WithDefaults = WithDefaultsMode

func ApplyWithDefaults(n *Node, mode WithDefaults) {
	if mode == ReportAll || mode == ReportAllTagged {
		return
	}
	var kept []*Node
	for _, c := range n.children {
		// trim and explicit both omit a leaf whose value equals its schema
		// default; a full "explicit" mode would instead track whether the
		// value was ever set by an edit rather than synthesized by
		// DefaultFill, which this simplified model does not distinguish.
		if (mode == Trim || mode == Explicit) && c.Schema != nil && c.Schema.Kind == schema.Leaf &&
			c.Schema.Default != "" && c.Value == c.Schema.Default {
			continue
		}
		ApplyWithDefaults(c, mode)
		kept = append(kept, c)
	}
	n.children = kept
}
