// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package plock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/xpath"
)

type fakeNode struct {
	name     string
	children map[string][]*fakeNode
}

func (n *fakeNode) ChildrenNamed(name string) []xpath.Node {
	out := make([]xpath.Node, 0)
	for _, c := range n.children[name] {
		out = append(out, c)
	}
	return out
}
func (n *fakeNode) Parent() (xpath.Node, bool)             { return nil, false }
func (n *fakeNode) ChildValue(name string) (string, bool)  { return "", false }

func buildRoot() *fakeNode {
	a := &fakeNode{name: "a"}
	b := &fakeNode{name: "b"}
	root := &fakeNode{name: "root", children: map[string][]*fakeNode{
		"a": {a}, "b": {b},
	}}
	return root
}

func TestAcquireDisjointSelectionsBothSucceed(t *testing.T) {
	r := New()
	root := buildRoot()

	l1, err := r.Acquire(1, root, []string{"/a"})
	require.NoError(t, err)
	l2, err := r.Acquire(2, root, []string{"/b"})
	require.NoError(t, err)
	assert.NotEqual(t, l1.ID, l2.ID)
}

func TestAcquireOverlappingSelectionFails(t *testing.T) {
	r := New()
	root := buildRoot()

	_, err := r.Acquire(1, root, []string{"/a"})
	require.NoError(t, err)

	_, err = r.Acquire(2, root, []string{"/a"})
	require.Error(t, err)
	var overlap *ErrOverlap
	assert.ErrorAs(t, err, &overlap)
}

func TestAcquireEmptySelectionSucceedsWithNoExclusion(t *testing.T) {
	r := New()
	root := buildRoot()

	l, err := r.Acquire(1, root, []string{"/nonexistent"})
	require.NoError(t, err)
	assert.Empty(t, l.Nodes)

	// A second session can still lock the whole tree under /a since the
	// empty selection excluded nothing.
	_, err = r.Acquire(2, root, []string{"/a"})
	assert.NoError(t, err)
}

func TestReleaseOnlyByOwningSessionUnlessForced(t *testing.T) {
	r := New()
	root := buildRoot()
	l, err := r.Acquire(1, root, []string{"/a"})
	require.NoError(t, err)

	assert.False(t, r.Release(l.ID, 2, false))
	assert.True(t, r.Release(l.ID, 1, false))
}

func TestReleaseAllForSessionOnTermination(t *testing.T) {
	r := New()
	root := buildRoot()
	l1, _ := r.Acquire(1, root, []string{"/a"})
	r.ReleaseAllForSession(1)
	assert.False(t, r.Release(l1.ID, 1, true))
}
