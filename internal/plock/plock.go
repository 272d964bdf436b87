// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package plock implements the partial-lock registry (spec §4.6, §3
// "Partial lock"): non-overlapping subtree locks produced by XPath
// selection, scoped to a session. Generalized from the teacher's
// whole-datastore exclusion bookkeeping in session/sessionmgr.go (a
// session-keyed table of held locks) down to a node-set granularity.
package plock

import (
	"fmt"
	"sync"

	"github.com/danos/netconfd/internal/xpath"
)

// Lock is one held partial lock (spec §3 "Partial lock").
type Lock struct {
	ID        uint32
	Session   uint32
	Selectors []string
	Nodes     []xpath.Node
}

// Registry tracks every held partial lock for one datastore.
type Registry struct {
	mu     sync.Mutex
	locks  map[uint32]*Lock
	nextID uint32
}

func New() *Registry {
	return &Registry{locks: make(map[uint32]*Lock), nextID: 1}
}

// ErrOverlap is returned when the requested selection intersects an
// existing lock's node set.
type ErrOverlap struct {
	OwningLockID uint32
}

func (e *ErrOverlap) Error() string {
	return fmt.Sprintf("selection overlaps lock %d", e.OwningLockID)
}

// Acquire evaluates selectors against root, unions the matched nodes, and —
// if none of them intersect any currently held lock's set — allocates a new
// lock and records the selection (spec §4.6). A selection that matches zero
// nodes still succeeds with a fresh lock ID but has no exclusion effect
// (spec §8 boundary behavior).
func (r *Registry) Acquire(session uint32, root xpath.Node, selectors []string) (*Lock, error) {
	var nodes []xpath.Node
	seen := map[xpath.Node]bool{}
	for _, sel := range selectors {
		prog, err := xpath.Compile(sel)
		if err != nil {
			return nil, err
		}
		for _, n := range xpath.Eval(prog, root, root) {
			if !seen[n] {
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.locks {
		for _, n := range nodes {
			if containsNode(existing.Nodes, n) {
				return nil, &ErrOverlap{OwningLockID: existing.ID}
			}
		}
	}

	lock := &Lock{ID: r.nextID, Session: session, Selectors: selectors, Nodes: nodes}
	r.nextID++
	r.locks[lock.ID] = lock
	return lock, nil
}

func containsNode(set []xpath.Node, n xpath.Node) bool {
	for _, s := range set {
		if s == n {
			return true
		}
	}
	return false
}

// Release drops the lock identified by id if owned by session (or if
// forced, e.g. on session termination). Returns false if no such lock is
// held or the caller doesn't own it and force is false.
func (r *Registry) Release(id, session uint32, force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		return false
	}
	if !force && l.Session != session {
		return false
	}
	delete(r.locks, id)
	return true
}

// ReleaseAllForSession drops every lock owned by session, e.g. on session
// death.
func (r *Registry) ReleaseAllForSession(session uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.locks {
		if l.Session == session {
			delete(r.locks, id)
		}
	}
}

// Overlaps reports whether node is covered by any currently held lock other
// than ignoreSession's own locks — used by the write path (spec invariant:
// "locks are mutually exclusive with writes to any included subtree").
func (r *Registry) Overlaps(node xpath.Node, ignoreSession uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.locks {
		if l.Session == ignoreSession {
			continue
		}
		if containsNode(l.Nodes, node) {
			return l.ID, true
		}
	}
	return 0, false
}
