// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package xpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	name     string
	values   map[string]string
	children map[string][]*fakeNode
	parent   *fakeNode
}

func (n *fakeNode) ChildrenNamed(name string) []Node {
	out := make([]Node, 0)
	for _, c := range n.children[name] {
		out = append(out, c)
	}
	return out
}

func (n *fakeNode) Parent() (Node, bool) {
	if n.parent == nil {
		return nil, false
	}
	return n.parent, true
}

func (n *fakeNode) ChildValue(name string) (string, bool) {
	v, ok := n.values[name]
	return v, ok
}

func buildTree() *fakeNode {
	root := &fakeNode{name: "root", children: map[string][]*fakeNode{}}
	iface1 := &fakeNode{name: "interface", parent: root, values: map[string]string{"name": "eth0"}}
	iface2 := &fakeNode{name: "interface", parent: root, values: map[string]string{"name": "eth1"}}
	root.children["interface"] = []*fakeNode{iface1, iface2}
	return root
}

func TestCompileAbsolutePath(t *testing.T) {
	p, err := Compile("/system/hostname")
	require.NoError(t, err)
	assert.True(t, p.Absolute)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "system", p.Steps[0].name)
	assert.Equal(t, "hostname", p.Steps[1].name)
}

func TestEvalKeyPredicateSelectsMatchingEntry(t *testing.T) {
	root := buildTree()
	p, err := Compile("/interface[name='eth1']")
	require.NoError(t, err)

	matches := Eval(p, root, nil)
	require.Len(t, matches, 1)
	v, _ := matches[0].ChildValue("name")
	assert.Equal(t, "eth1", v)
}

func TestEvalPositionalPredicate(t *testing.T) {
	root := buildTree()
	p, err := Compile("/interface[2]")
	require.NoError(t, err)

	matches := Eval(p, root, nil)
	require.Len(t, matches, 1)
	v, _ := matches[0].ChildValue("name")
	assert.Equal(t, "eth1", v)
}

func TestEvalParentAxis(t *testing.T) {
	root := buildTree()
	p, err := Compile("/interface[name='eth0']/..")
	require.NoError(t, err)

	matches := Eval(p, root, nil)
	require.Len(t, matches, 1)
	assert.Equal(t, Node(root), matches[0])
}

func TestCompileRejectsUnterminatedPredicate(t *testing.T) {
	_, err := Compile("/interface[name='eth0'")
	assert.Error(t, err)
}

func TestCompileStripsNamespacePrefix(t *testing.T) {
	p, err := Compile("/if:interfaces/if:interface")
	require.NoError(t, err)
	assert.Equal(t, "interfaces", p.Steps[0].name)
	assert.Equal(t, "interface", p.Steps[1].name)
}
