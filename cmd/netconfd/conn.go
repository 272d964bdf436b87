// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2015,2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package main

import (
	"context"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/danos/netconfd/internal/config"
	"github.com/danos/netconfd/internal/dispatch"
	"github.com/danos/netconfd/internal/framing"
	"github.com/danos/netconfd/internal/lifecycle"
	"github.com/danos/netconfd/internal/nacm"
	"github.com/danos/netconfd/internal/netsession"
	"github.com/danos/netconfd/internal/nsreg"
	"github.com/danos/netconfd/internal/rpcparse"
)

const serverHello = `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">` +
	`<capabilities>` +
	`<capability>urn:ietf:params:netconf:base:1.0</capability>` +
	`<capability>urn:ietf:params:netconf:base:1.1</capability>` +
	`</capabilities></hello>`

const base11Capability = "netconf:base:1.1"

// framer holds the per-session codec state, mutated once when the hello
// exchange negotiates base:1.1 chunked framing (spec §4.1: "the mode is
// fixed per session after the <hello> exchange").
type framer struct {
	dec *framing.Decoder
	enc *framing.Encoder
}

// acceptLoop is the server's connection-accept loop for the local
// transport (spec §4.1: every session starts from an accepted stream
// connection). Grounded on server/conn.go's per-connection goroutine
// dispatch (net.Listener.Accept -> go conn.Handle()); the semaphore slot
// here bounds concurrent connection setup to the session table's own
// ceiling rather than spawning an unbounded goroutine per accept.
func acceptLoop(ctrl *lifecycle.Controller, l net.Listener, ns *nsreg.Registry, sem *semaphore.Weighted) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		if err := sem.Acquire(context.Background(), 1); err != nil {
			conn.Close()
			continue
		}
		go func() {
			defer sem.Release(1)
			serveConn(ctrl, conn, "local", netsession.Init, ns, "")
		}()
	}
}

// serveConn drives one session's read/dispatch/write loop (spec §4.1
// "single cooperative event loop per session", §4.3's state machine).
// initialState is netsession.Init for transports that expect a leading
// <ncx-connect> (the SSH subsystem front end starts sessions directly in
// hello-wait instead, since ncx-connect is local-transport-only per
// internal/dispatch.ClassifyElement's doc comment). user is the identity
// already established by the transport (the SSH username) or "" when the
// identity is still pending a successful <ncx-connect>.
func serveConn(ctrl *lifecycle.Controller, conn net.Conn, transport string, initialState netsession.State, ns *nsreg.Registry, user string) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	sess, err := ctrl.Sessions.Create(user, peer, transport)
	if err != nil {
		return
	}
	sess.SetState(initialState)
	defer ctrl.Sessions.Destroy(sess.ID)

	ctx := &config.Context{
		SessionID: sess.ID,
		PeerAddr:  peer,
		Profile:   ctrl.Profile,
	}

	fr := &framer{
		dec: framing.NewDecoder(framing.EndOfMessage),
		enc: framing.NewEncoder(framing.EndOfMessage),
	}

	// A transport that has already established the peer's identity (SSH)
	// skips ncx-connect and gets its server hello immediately; the local
	// transport instead sends it from handleNcxConnect, once ncx-connect
	// validates (spec §4.3 "advances to hello-wait; sends server hello").
	if initialState == netsession.HelloWait {
		if !sendServerHello(fr, conn) {
			return
		}
	}

	buf := make([]byte, 16*1024)
	for {
		if sess.State() == netsession.ShutdownRequested {
			return
		}
		n, rerr := conn.Read(buf)
		if n > 0 {
			if feedErr := fr.dec.Feed(buf[:n]); feedErr != nil {
				return
			}
			for _, raw := range fr.dec.Take() {
				if !handleMessage(ctrl, sess, ctx, raw, fr, conn, ns) {
					return
				}
			}
		}
		if rerr != nil {
			return
		}
	}
}

// handleMessage classifies and dispatches one decoded message, returning
// false when the session must be torn down (disallowed state transition,
// malformed message, write failure, or a handler result that leaves
// nothing left to drain after shutdown-requested).
func handleMessage(
	ctrl *lifecycle.Controller,
	sess *netsession.Session,
	ctx *config.Context,
	raw []byte,
	fr *framer,
	conn net.Conn,
	ns *nsreg.Registry,
) bool {
	parsed, perr := rpcparse.Parse(raw, ns)
	if perr != nil {
		return false
	}

	if !netsession.AllowedTransition(sess.State(), classElementName(parsed.Class)) {
		return false
	}

	switch parsed.Class {
	case dispatch.ClassNcxConnect:
		return handleNcxConnect(ctrl, sess, parsed, fr, conn)
	case dispatch.ClassHello:
		return handleHello(sess, fr, parsed)
	case dispatch.ClassRPC:
		return handleRPC(ctrl, sess, ctx, parsed, fr, conn)
	default:
		return false
	}
}

// handleNcxConnect validates a local-transport bootstrap element and, on
// success, attributes the session to its real peer, sends the server
// hello, and advances it into hello-wait (spec §4.3 "advances to
// hello-wait; sends server hello").
func handleNcxConnect(ctrl *lifecycle.Controller, sess *netsession.Session, parsed *rpcparse.Message, fr *framer, conn net.Conn) bool {
	user, peerAddr, rerr := dispatch.HandleNcxConnect(ctrl.Dispatcher, sess, parsed.Attrs)
	if rerr != nil {
		return false
	}
	sess.User = user
	sess.PeerAddr = peerAddr
	if !sendServerHello(fr, conn) {
		return false
	}
	sess.SetState(netsession.HelloWait)
	return true
}

func sendServerHello(fr *framer, conn net.Conn) bool {
	_, err := conn.Write(fr.enc.Encode([]byte(serverHello)))
	return err == nil
}

func classElementName(c dispatch.ElementClass) string {
	switch c {
	case dispatch.ClassNcxConnect:
		return "ncx-connect"
	case dispatch.ClassHello:
		return "hello"
	case dispatch.ClassRPC:
		return "rpc"
	}
	return ""
}

// handleHello processes the peer's <hello> (the server's own hello was
// already sent from handleNcxConnect or, for SSH, right at connection
// setup). It only negotiates framing and advances the session to idle.
func handleHello(sess *netsession.Session, fr *framer, parsed *rpcparse.Message) bool {
	sess.LastRPC = time.Now()
	if hasBase11(parsed.Capabilities) {
		sess.ProtocolVersion = "1.1"
		fr.dec = framing.NewDecoder(framing.Chunked)
		fr.enc = framing.NewEncoder(framing.Chunked)
	} else {
		sess.ProtocolVersion = "1.0"
	}
	sess.SetState(netsession.Idle)
	return true
}

func hasBase11(caps []string) bool {
	for _, c := range caps {
		if strings.Contains(c, base11Capability) {
			return true
		}
	}
	return false
}

func handleRPC(
	ctrl *lifecycle.Controller,
	sess *netsession.Session,
	ctx *config.Context,
	parsed *rpcparse.Message,
	fr *framer,
	conn net.Conn,
) bool {
	sess.LastRPC = time.Now()
	cache := nacm.NewCache(ctrl.Dispatcher.NACMConfig, sess.User)

	reply := ctrl.Dispatcher.Dispatch(&dispatch.Request{
		MessageID: parsed.MessageID,
		Operation: parsed.Operation,
		Attrs:     parsed.Attrs,
		Config:    parsed.Config,
		Session:   sess,
		Ctx:       ctx,
		NACM:      cache,
	})

	out := dispatch.RenderReply(parsed.MessageID, reply)
	if _, err := conn.Write(fr.enc.Encode(out)); err != nil {
		return false
	}
	return sess.State() != netsession.ShutdownRequested || len(out) == 0
}
