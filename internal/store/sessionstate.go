// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package store

import (
	"strconv"

	"github.com/danos/netconfd/internal/schema"
)

// SessionSnapshot is the minimal per-session counter view sessionstate
// needs to build the read-only virtual subtree (spec §4.3 "Per-session
// counters", SUPPLEMENT: session statistics exposed as read-only virtual
// config). Kept independent of internal/netsession.Session so this
// package doesn't have to import the session registry.
type SessionSnapshot struct {
	ID               uint32
	InRPCs           uint64
	BadRPCs          uint64
	OutRPCErrors     uint64
	OutNotifications uint64
}

// sessionStateSchema builds the templates for the virtual
// /netconf-state/sessions/session subtree on demand; it is never
// registered into a real ModelSet since nothing else resolves it by
// name — it only exists to give BuildSessionState's nodes a Name() and
// Kind to render against, mirroring ietf-netconf-monitoring's shape.
func sessionStateSchema() *schema.Object {
	state := schema.NewObject("netconf-state", "urn:ietf:params:xml:ns:yang:ietf-netconf-monitoring", schema.Container)
	sessions := schema.NewObject("sessions", state.Namespace, schema.Container)
	session := schema.NewObject("session", state.Namespace, schema.List)
	session.Keys = []string{"session-id"}
	for _, leaf := range []string{"session-id", "in-rpcs", "in-bad-rpcs", "out-rpc-errors", "out-notifications"} {
		session.AddChild(schema.NewObject(leaf, state.Namespace, schema.Leaf))
	}
	sessions.AddChild(session)
	state.AddChild(sessions)
	return state
}

// BuildSessionState renders snapshots into the virtual
// /netconf-state/sessions/session tree <get> merges alongside the real
// configuration root (spec's SUPPLEMENT: session statistics exposed as
// read-only virtual config, grounded on agt_ses.c's session table
// exposed under ietf-netconf-monitoring).
func BuildSessionState(snapshots []SessionSnapshot) *Node {
	stateTmpl := sessionStateSchema()
	sessionsTmpl, _ := stateTmpl.Child("sessions")
	sessionTmpl, _ := sessionsTmpl.Child("session")

	state := New(stateTmpl)
	sessions := New(sessionsTmpl)
	state.AddChild(sessions)

	for _, snap := range snapshots {
		entry := New(sessionTmpl)
		addCounterLeaf(entry, sessionTmpl, "session-id", strconv.FormatUint(uint64(snap.ID), 10))
		addCounterLeaf(entry, sessionTmpl, "in-rpcs", strconv.FormatUint(snap.InRPCs, 10))
		addCounterLeaf(entry, sessionTmpl, "in-bad-rpcs", strconv.FormatUint(snap.BadRPCs, 10))
		addCounterLeaf(entry, sessionTmpl, "out-rpc-errors", strconv.FormatUint(snap.OutRPCErrors, 10))
		addCounterLeaf(entry, sessionTmpl, "out-notifications", strconv.FormatUint(snap.OutNotifications, 10))
		sessions.AddChild(entry)
	}
	return state
}

func addCounterLeaf(parent *Node, parentTmpl *schema.Object, name, value string) {
	tmpl, ok := parentTmpl.Child(name)
	if !ok {
		return
	}
	leaf := New(tmpl)
	leaf.Value = value
	parent.AddChild(leaf)
}
