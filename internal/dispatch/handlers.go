// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package dispatch

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/danos/netconfd/internal/editconfig"
	"github.com/danos/netconfd/internal/netsession"
	"github.com/danos/netconfd/internal/notify"
	"github.com/danos/netconfd/internal/rpcerror"
	"github.com/danos/netconfd/internal/store"
	"github.com/danos/netconfd/internal/txn"
)

func errReply(err *rpcerror.Error) *Reply {
	r := &Reply{}
	r.Errors.Append(err)
	return r
}

func targetDatastore(d *Dispatcher, name string) (*store.Datastore, *rpcerror.Error) {
	ds, ok := d.Datastores[store.Name(name)]
	if !ok {
		return nil, rpcerror.NewInvalidValueProtocolError()
	}
	if ds.State() != store.Ready {
		return nil, rpcerror.NewOperationFailedProtocolError("datastore not ready")
	}
	return ds, nil
}

func handleGet(d *Dispatcher, req *Request) *Reply {
	ds, ferr := targetDatastore(d, "running")
	if ferr != nil {
		return errReply(ferr)
	}
	root := ds.Root()
	filtered := store.FilterSubtree(root, &store.SubtreeFilter{}, req.NACM)
	filtered.AddChild(sessionStateSubtree(d))
	var b bytes.Buffer
	b.WriteString("<data>")
	writeNode(&b, filtered)
	b.WriteString("</data>")
	return &Reply{Data: b.String()}
}

// sessionStateSubtree renders the live session registry into the
// read-only /netconf-state/sessions/session virtual subtree <get>
// reports alongside the real configuration (SUPPLEMENT: session
// statistics exposed as read-only virtual config).
func sessionStateSubtree(d *Dispatcher) *store.Node {
	var snaps []store.SessionSnapshot
	if d.Sessions != nil {
		for _, s := range d.Sessions.All() {
			snaps = append(snaps, store.SessionSnapshot{
				ID:               s.ID,
				InRPCs:           s.Counters.InRPCs,
				BadRPCs:          s.Counters.BadRPCs,
				OutRPCErrors:     s.Counters.OutRPCErrors,
				OutNotifications: s.Counters.OutNotifications,
			})
		}
	}
	return store.BuildSessionState(snaps)
}

func handleGetConfig(d *Dispatcher, req *Request) *Reply {
	target := req.Attrs["source"]
	if target == "" {
		target = "running"
	}
	ds, ferr := targetDatastore(d, target)
	if ferr != nil {
		return errReply(ferr)
	}
	root := ds.Root()
	filtered := store.FilterSubtree(root, &store.SubtreeFilter{}, req.NACM)
	store.ApplyWithDefaults(filtered, withDefaultsFromAttrs(req.Attrs))
	var b bytes.Buffer
	b.WriteString("<data>")
	writeNode(&b, filtered)
	b.WriteString("</data>")
	return &Reply{Data: b.String()}
}

func withDefaultsFromAttrs(attrs map[string]string) store.WithDefaultsMode {
	switch attrs["with-defaults"] {
	case "trim":
		return store.Trim
	case "explicit":
		return store.Explicit
	case "report-all-tagged":
		return store.ReportAllTagged
	default:
		return store.ReportAll
	}
}

func writeNode(b *bytes.Buffer, n *store.Node) {
	for _, c := range n.Children() {
		writeOneNode(b, c)
	}
}

func writeOneNode(b *bytes.Buffer, n *store.Node) {
	name := n.Name()
	fmt.Fprintf(b, "<%s>", name)
	if len(n.Children()) == 0 {
		b.WriteString(n.Value)
	} else {
		writeNode(b, n)
	}
	fmt.Fprintf(b, "</%s>", name)
}

// handleEditConfig performs the parse/validate/root-check/apply/commit
// pipeline's edit-scoping half: it decodes the <config> body
// internal/rpcparse materialized (per-node operation/insert attributes,
// spec §4.4 "Parse") against the target datastore's schema, then merges
// the result directly onto the candidate tree in place, since candidate
// already plays the role of "the whole desired post-commit tree" rather
// than a separate scratch diff.
func handleEditConfig(d *Dispatcher, req *Request) *Reply {
	target := req.Attrs["target"]
	if target == "" {
		target = "candidate"
	}
	ds, ferr := targetDatastore(d, target)
	if ferr != nil {
		return errReply(ferr)
	}

	if lockedBy, overlap := d.PLocks.Overlaps(ds.Root(), req.Session.ID); overlap {
		err := rpcerror.NewLockDeniedProtocolError(strconv.FormatUint(uint64(lockedBy), 10))
		return errReply(err)
	}

	defaultOp, operr := editconfig.ParseOperation(req.Attrs["default-operation"])
	if operr != nil {
		return errReply(operr)
	}
	edit, perr := editconfig.Parse(req.Config, ds.Root().Schema, defaultOp)
	if perr != nil {
		return errReply(perr)
	}
	if aerr := editconfig.Apply(ds.Root(), edit); aerr != nil {
		return errReply(aerr)
	}
	return &Reply{}
}

// handleCopyConfig implements spec §6's copy-config: target's entire
// configuration is replaced either by another datastore's tree (source=
// names one) or by an inline <config> body (source is the edit itself,
// applied as a wholesale replace rather than a merge).
func handleCopyConfig(d *Dispatcher, req *Request) *Reply {
	target := req.Attrs["target"]
	tds, ferr := targetDatastore(d, target)
	if ferr != nil {
		return errReply(ferr)
	}

	if source := req.Attrs["source"]; source != "" {
		sds, ferr := targetDatastore(d, source)
		if ferr != nil {
			return errReply(ferr)
		}
		tds.SetRoot(sds.Root().Clone())
		return &Reply{}
	}

	edit, perr := editconfig.Parse(req.Config, tds.Root().Schema, store.OpReplace)
	if perr != nil {
		return errReply(perr)
	}
	fresh := store.New(tds.Root().Schema)
	if aerr := editconfig.Apply(fresh, edit); aerr != nil {
		return errReply(aerr)
	}
	tds.SetRoot(fresh)
	return &Reply{}
}

// handleDeleteConfig implements spec §6's delete-config: target's
// configuration is reset to empty. running can never be a delete-config
// target (RFC 6241 §7.4), since it is never created/deleted, only edited.
func handleDeleteConfig(d *Dispatcher, req *Request) *Reply {
	target := req.Attrs["target"]
	if target == "running" {
		return errReply(rpcerror.NewOperationNotSupportedApplicationError())
	}
	tds, ferr := targetDatastore(d, target)
	if ferr != nil {
		return errReply(ferr)
	}
	tds.SetRoot(store.New(tds.Root().Schema))
	return &Reply{}
}

func handleCommit(d *Dispatcher, req *Request) *Reply {
	candidate, ferr := targetDatastore(d, "candidate")
	if ferr != nil {
		return errReply(ferr)
	}
	running, ferr := targetDatastore(d, "running")
	if ferr != nil {
		return errReply(ferr)
	}

	errOpt := txn.RollbackOnError
	snapshot := running.Root().Clone()
	t := txn.Begin(running, candidate.Root().Clone(), errOpt)
	errs := d.Engine.Commit(t)
	reply := &Reply{}
	for _, e := range errs {
		reply.Errors.AppendError(e)
	}
	if reply.Errors.Empty() {
		d.Bus.ConfigChange(t.Audit, time.Now())

		key := req.Attrs["persist-id"]
		if _, ok := req.Attrs["confirmed"]; ok {
			secs, _ := strconv.Atoi(req.Attrs["confirm-timeout"])
			if secs <= 0 {
				secs = 600
			}
			cc := txn.Arm(req.Session.ID, key, snapshot, time.Duration(secs)*time.Second, func() {
				running.SetRoot(snapshot)
				d.Bus.ConfirmedCommit("timeout", time.Now())
			})
			d.confirmed[key] = cc
		} else if cc, ok := d.confirmed[key]; ok {
			cc.Confirm()
			delete(d.confirmed, key)
		}
	}
	return reply
}

func handleDiscardChanges(d *Dispatcher, req *Request) *Reply {
	candidate, ferr := targetDatastore(d, "candidate")
	if ferr != nil {
		return errReply(ferr)
	}
	running, ferr := targetDatastore(d, "running")
	if ferr != nil {
		return errReply(ferr)
	}
	candidate.SetRoot(running.Root().Clone())
	return &Reply{}
}

func handleLock(d *Dispatcher, req *Request) *Reply {
	target := req.Attrs["target"]
	ds, ferr := targetDatastore(d, target)
	if ferr != nil {
		return errReply(ferr)
	}
	if !ds.Lock(req.Session.ID) {
		owner := ds.LockedBy()
		return errReply(rpcerror.NewLockDeniedProtocolError(strconv.FormatUint(uint64(owner), 10)))
	}
	return &Reply{}
}

func handleUnlock(d *Dispatcher, req *Request) *Reply {
	target := req.Attrs["target"]
	ds, ferr := targetDatastore(d, target)
	if ferr != nil {
		return errReply(ferr)
	}
	if !ds.Unlock(req.Session.ID) {
		return errReply(rpcerror.NewOperationFailedProtocolError("not locked by this session"))
	}
	return &Reply{}
}

func handleCloseSession(d *Dispatcher, req *Request) *Reply {
	req.Session.SetState(netsession.ShutdownRequested)
	d.PLocks.ReleaseAllForSession(req.Session.ID)
	for _, ds := range d.Datastores {
		ds.Unlock(req.Session.ID)
	}
	d.Bus.SessionEnded(req.Session.ID, 0, "closed", time.Now())
	return &Reply{}
}

func handleKillSession(d *Dispatcher, req *Request) *Reply {
	sidStr := req.Attrs["session-id"]
	sid64, err := strconv.ParseUint(sidStr, 10, 32)
	if err != nil {
		return errReply(rpcerror.NewInvalidValueProtocolError())
	}
	victim, ok := d.Sessions.Get(uint32(sid64))
	if !ok {
		return errReply(rpcerror.NewOperationFailedApplicationError("no such session"))
	}
	victim.SetState(netsession.ShutdownRequested)
	d.PLocks.ReleaseAllForSession(victim.ID)
	for _, ds := range d.Datastores {
		ds.Unlock(victim.ID)
	}
	d.Bus.SessionEnded(victim.ID, req.Session.ID, "killed", time.Now())
	return &Reply{}
}

func handleCancelCommit(d *Dispatcher, req *Request) *Reply {
	key := req.Attrs["persist-id"]
	cc, ok := d.confirmed[key]
	if !ok {
		return errReply(rpcerror.NewOperationFailedApplicationError("no outstanding confirmed commit"))
	}
	running, ferr := targetDatastore(d, "running")
	if ferr != nil {
		return errReply(ferr)
	}
	snapshot := cc.Cancel()
	running.SetRoot(snapshot)
	delete(d.confirmed, key)
	d.Bus.ConfirmedCommit("cancel", time.Now())
	return &Reply{}
}

func handleValidate(d *Dispatcher, req *Request) *Reply {
	target := req.Attrs["source"]
	if target == "" {
		target = "candidate"
	}
	ds, ferr := targetDatastore(d, target)
	if ferr != nil {
		return errReply(ferr)
	}
	reply := &Reply{}
	for _, e := range ds.RootCheck() {
		reply.Errors.AppendError(e)
	}
	return reply
}

func handlePartialLock(d *Dispatcher, req *Request) *Reply {
	running, ferr := targetDatastore(d, "running")
	if ferr != nil {
		return errReply(ferr)
	}
	selectors := req.Attrs["selectors"] // caller joins multiple select strings by newline
	sels := splitLines(selectors)
	lock, err := d.PLocks.Acquire(req.Session.ID, running.Root(), sels)
	if err != nil {
		return errReply(rpcerror.NewInUseProtocolError())
	}
	return &Reply{Data: fmt.Sprintf("<lock-id>%d</lock-id>", lock.ID)}
}

func handlePartialUnlock(d *Dispatcher, req *Request) *Reply {
	idStr := req.Attrs["lock-id"]
	id64, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return errReply(rpcerror.NewInvalidValueProtocolError())
	}
	if !d.PLocks.Release(uint32(id64), req.Session.ID, false) {
		return errReply(rpcerror.NewOperationFailedApplicationError("no such lock, or not owner"))
	}
	return &Reply{}
}

type replySubscriber struct {
	queue chan notify.Event
}

func (s *replySubscriber) Deliver(ev notify.Event) {
	select {
	case s.queue <- ev:
	default:
	}
}

func handleCreateSubscription(d *Dispatcher, req *Request) *Reply {
	d.Bus.Subscribe(req.Session.ID, &replySubscriber{queue: make(chan notify.Event, 64)})
	req.Session.Notifications = true
	return &Reply{}
}

func handleGetSchema(d *Dispatcher, req *Request) *Reply {
	// Supplement (spec SPEC_FULL §[SUPPLEMENT]): returns the YANG module
	// text for the requested identifier, were it loaded from the module
	// search path. Schema compilation itself is out of scope (spec §1);
	// this handler only surfaces whatever the lifecycle controller
	// indexed from disk at startup.
	id := req.Attrs["identifier"]
	src, ok := d.Profile.SchemaSources[id]
	if !ok {
		return errReply(rpcerror.NewInvalidValueApplicationError())
	}
	return &Reply{Data: "<data>" + xmlCDATA(src) + "</data>"}
}

func xmlCDATA(s string) string {
	return "<![CDATA[" + s + "]]>"
}

func handleGetMySession(d *Dispatcher, req *Request) *Reply {
	s := req.Session
	b := fmt.Sprintf("<data><session-id>%d</session-id><user>%s</user></data>", s.ID, s.User)
	return &Reply{Data: b}
}

func handleSetMySession(d *Dispatcher, req *Request) *Reply {
	return &Reply{}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
