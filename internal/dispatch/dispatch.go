// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package dispatch implements the dispatch core (spec §4.3): classifies
// the top-level element of an incoming message, authenticates it
// against session state, locates the handler for the RPC operation, and
// writes back a reply. Message classification and the RPC handler table
// are hash maps populated at construction time, never reflection or
// virtual dispatch (spec §9 "Message dispatch keyed by
// {namespace-id, local-name} ... do not use virtual dispatch").
// Grounded on server/dispatcher.go's per-operation method set and
// server/conn.go's per-connection read/respond loop, restructured from
// a reflection-invoked JSON-RPC method table into an explicit map.
package dispatch

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/danos/netconfd/internal/config"
	"github.com/danos/netconfd/internal/nacm"
	"github.com/danos/netconfd/internal/netsession"
	"github.com/danos/netconfd/internal/notify"
	"github.com/danos/netconfd/internal/plock"
	"github.com/danos/netconfd/internal/rpcerror"
	"github.com/danos/netconfd/internal/store"
	"github.com/danos/netconfd/internal/txn"
	"github.com/danos/netconfd/internal/xmlevent"
)

// Request is one parsed <rpc> operation handed to a Handler.
type Request struct {
	MessageID string
	Operation string
	Attrs     map[string]string
	Config    *xmlevent.Element // materialized <config> body, for edit-config/copy-config
	Session   *netsession.Session
	Ctx       *config.Context
	NACM      *nacm.Cache
}

// Reply is what a Handler hands back to be serialized into <rpc-reply>.
type Reply struct {
	Data   string // pre-rendered <data>/<ok> payload, XML fragment
	Errors rpcerror.List
}

// Handler executes one RPC operation. Per spec §9 "Callbacks", RPC
// handlers and instrumentation share the same shape conceptually, but a
// Handler additionally owns reply construction.
type Handler func(d *Dispatcher, req *Request) *Reply

// Dispatcher holds every piece of shared state one RPC touches (spec §9
// "Global process state ... scope to an explicit Server context struct
// passed to every entry point").
type Dispatcher struct {
	Sessions   *netsession.Registry
	Datastores map[store.Name]*store.Datastore
	Engine     *txn.Engine
	NACMConfig *nacm.Config
	Bus        *notify.Bus
	PLocks     *plock.Registry
	Profile    *config.Profile

	handlers  map[string]Handler
	confirmed map[string]*txn.ConfirmedCommit // keyed by persist-id, "" key for session-attached
}

// New builds a Dispatcher with the base NETCONF operation table
// registered (spec §6 "Standard NETCONF base operations").
func New(profile *config.Profile) *Dispatcher {
	d := &Dispatcher{
		Datastores: make(map[store.Name]*store.Datastore),
		Bus:        notify.NewBus(),
		PLocks:     plock.New(),
		Profile:    profile,
		handlers:   make(map[string]Handler),
		confirmed:  make(map[string]*txn.ConfirmedCommit),
	}
	d.registerBaseHandlers()
	return d
}

// Register installs or overrides the handler for operation name.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

func (d *Dispatcher) registerBaseHandlers() {
	d.handlers["get"] = handleGet
	d.handlers["get-config"] = handleGetConfig
	d.handlers["edit-config"] = handleEditConfig
	d.handlers["copy-config"] = handleCopyConfig
	d.handlers["delete-config"] = handleDeleteConfig
	d.handlers["commit"] = handleCommit
	d.handlers["discard-changes"] = handleDiscardChanges
	d.handlers["lock"] = handleLock
	d.handlers["unlock"] = handleUnlock
	d.handlers["close-session"] = handleCloseSession
	d.handlers["kill-session"] = handleKillSession
	d.handlers["cancel-commit"] = handleCancelCommit
	d.handlers["validate"] = handleValidate
	d.handlers["partial-lock"] = handlePartialLock
	d.handlers["partial-unlock"] = handlePartialUnlock
	d.handlers["create-subscription"] = handleCreateSubscription
	d.handlers["get-schema"] = handleGetSchema
	d.handlers["get-my-session"] = handleGetMySession
	d.handlers["set-my-session"] = handleSetMySession
}

// ElementClass names the three top-level element kinds the dispatch
// core distinguishes (spec §4.3 item 2).
type ElementClass int

const (
	ClassUnknown ElementClass = iota
	ClassNcxConnect
	ClassHello
	ClassRPC
)

// ClassifyElement maps a top-level local name to its dispatch class.
// The namespace is intentionally not consulted for hello/rpc (both are
// always base-NETCONF), matching the spec's note that ncx-connect is
// local-transport-only.
func ClassifyElement(localName string) ElementClass {
	switch localName {
	case "ncx-connect":
		return ClassNcxConnect
	case "hello":
		return ClassHello
	case "rpc":
		return ClassRPC
	}
	return ClassUnknown
}

// Dispatch runs one <rpc> through access control and the registered
// handler, returning the reply to serialize (spec §4.3 item 2, third
// bullet: "rpc: ... wraps processing in a transaction context").
func (d *Dispatcher) Dispatch(req *Request) *Reply {
	sess := req.Session
	sess.SetState(netsession.InMsg)
	defer func() {
		if sess.State() == netsession.InMsg {
			sess.SetState(netsession.Idle)
		}
	}()

	atomic.AddUint64(&counters(sess).InRPCs, 1)

	h, ok := d.handlers[req.Operation]
	if !ok {
		atomic.AddUint64(&counters(sess).BadRPCs, 1)
		reply := &Reply{}
		reply.Errors.Append(rpcerror.NewOperationNotSupportedApplicationError())
		return reply
	}

	if !req.NACM.RPCAllowed(baseModule, req.Operation) {
		atomic.AddUint64(&counters(sess).OutRPCErrors, 1)
		reply := &Reply{}
		reply.Errors.Append(rpcerror.NewAccessDeniedApplicationError())
		return reply
	}

	reply := h(d, req)
	if !reply.Errors.Empty() {
		atomic.AddUint64(&counters(sess).OutRPCErrors, 1)
	}
	return reply
}

// counters exposes the session's counter block for atomic updates; the
// fields themselves are plain uint64s (spec §4.3 "maintained at dispatch
// and error-emit points").
func counters(s *netsession.Session) *netsession.Counters {
	return &s.Counters
}

const baseModule = "base"

// RenderReply serializes reply into a complete <rpc-reply> element,
// echoing messageID verbatim — including its absence, per spec's Design
// Notes open question on message-id handling.
func RenderReply(messageID string, reply *Reply) []byte {
	var b bytes.Buffer
	b.WriteString(`<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"`)
	if messageID != "" {
		fmt.Fprintf(&b, ` message-id="%s"`, xmlAttrEscape(messageID))
	}
	b.WriteString(">")
	if !reply.Errors.Empty() {
		reply.Errors.WriteXML(&b)
	} else if reply.Data != "" {
		b.WriteString(reply.Data)
	} else {
		b.WriteString("<ok/>")
	}
	b.WriteString("</rpc-reply>")
	return b.Bytes()
}

func xmlAttrEscape(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString("&quot;")
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
