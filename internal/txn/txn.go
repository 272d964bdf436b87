// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package txn implements the transaction engine (spec §4.4): parse,
// validate, root-check, apply, commit|rollback phases, plus confirmed
// commit arming/cancellation/timeout. The phase sequencing and
// error-option handling are grounded on session/edit_config.go's
// error_option/operation enums; serializing commits onto a single
// goroutine is grounded on session/commitmgr.go's request-channel
// actor.
package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danos/netconfd/internal/config"
	"github.com/danos/netconfd/internal/rpcerror"
	"github.com/danos/netconfd/internal/store"
)

// ErrorOption controls how an edit-config request handles per-edit
// failures (spec §4.4 "Error policy").
type ErrorOption int

const (
	RollbackOnError ErrorOption = iota // default
	ContinueOnError
	StopOnError
)

func (o *ErrorOption) Set(opt string) error {
	values := map[string]ErrorOption{
		"stop-on-error":     StopOnError,
		"continue-on-error": ContinueOnError,
		"rollback-on-error": RollbackOnError,
	}
	v, ok := values[opt]
	if !ok {
		return rpcerror.NewInvalidValueProtocolError()
	}
	*o = v
	return nil
}

// Callback is the instrumentation interface an RPC's apply/commit phase
// invokes for each affected subtree (spec §9 "Callbacks"): four methods,
// matching validate/apply/commit/rollback exactly so static and
// dynamically loaded modules can satisfy the same interface.
type Callback interface {
	Validate(n *store.Node) []error
	Apply(n *store.Node) error
	Commit(n *store.Node) error
	Rollback(n *store.Node) error
}

// AuditRecord is one per-edit entry accumulated during a transaction,
// surfaced in sysConfigChange notification payloads (spec §8 scenario
// 6).
type AuditRecord struct {
	Path string
	Op   store.EditOp
}

// Transaction scopes one set of edits against a target datastore (spec
// §3 "Transaction").
type Transaction struct {
	ID         uint64
	Target     *store.Datastore
	ErrorOpt   ErrorOption
	StartTime  time.Time
	Audit      []AuditRecord
	candidate  *store.Node
	applied    []*store.Node
}

// Engine drives the transaction ID counter and serializes commits onto
// one goroutine, so at most one active transaction per target datastore
// is ever committing at a time (spec §3 invariant, §5 "Ordering").
// Grounded on session/commitmgr.go's CommitMgr: a request channel plus
// an in-flight flag instead of a raw mutex, so a second Commit attempt
// while one is in flight gets a structured "already in progress" error
// instead of blocking indefinitely.
type Engine struct {
	mu      sync.Mutex
	lastID  uint64
	idPath  string
	callbacks map[string]Callback // subtree key -> instrumentation

	reqch chan commitReq
}

type commitReq struct {
	txn  *Transaction
	resp chan commitResp
}

type commitResp struct {
	errs []error
	ok   bool
}

// NewEngine constructs an Engine whose transaction-ID counter is seeded
// from idPath's sidecar file (spec §3 "persisted in a small sidecar file
// so they survive restart").
func NewEngine(idPath string) *Engine {
	e := &Engine{
		idPath:    idPath,
		callbacks: make(map[string]Callback),
		reqch:     make(chan commitReq),
	}
	e.lastID = loadLastID(idPath)
	go e.run()
	return e
}

// RegisterCallback associates subtreeKey (a schema path) with the
// instrumentation module that validates/applies/commits/rolls back
// edits under it.
func (e *Engine) RegisterCallback(subtreeKey string, cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks[subtreeKey] = cb
}

func (e *Engine) run() {
	var inCommit bool
	donech := make(chan commitResp)
	var pending commitReq
	for {
		select {
		case req := <-e.reqch:
			if inCommit {
				req.resp <- commitResp{errs: []error{rpcerror.NewResourceDeniedProtocolError()}}
				continue
			}
			inCommit = true
			pending = req
			go func(r commitReq) {
				donech <- e.doCommit(r.txn)
			}(req)
		case resp := <-donech:
			inCommit = false
			pending.resp <- resp
		}
	}
}

// Begin allocates a new Transaction targeting ds.
func Begin(ds *store.Datastore, candidate *store.Node, errOpt ErrorOption) *Transaction {
	return &Transaction{
		Target:    ds,
		ErrorOpt:  errOpt,
		StartTime: time.Now(),
		candidate: candidate,
	}
}

// Validate runs the validate phase over the candidate subtree,
// accumulating every error so the peer gets the full list (spec §4.4
// "Validate").
func (t *Transaction) Validate(cbs map[string]Callback) []error {
	var errs []error
	walk(t.candidate, func(n *store.Node, path string) {
		if cb, ok := cbs[path]; ok {
			errs = append(errs, cb.Validate(n)...)
		}
	})
	return errs
}

// Commit submits t to the Engine's single commit goroutine and blocks
// until it completes (spec §3 "at most one active transaction per
// target datastore at a time").
func (e *Engine) Commit(t *Transaction) []error {
	respch := make(chan commitResp)
	e.reqch <- commitReq{txn: t, resp: respch}
	resp := <-respch
	return resp.errs
}

func (e *Engine) doCommit(t *Transaction) commitResp {
	e.mu.Lock()
	cbs := make(map[string]Callback, len(e.callbacks))
	for k, v := range e.callbacks {
		cbs[k] = v
	}
	e.mu.Unlock()

	if errs := t.Validate(cbs); len(errs) > 0 {
		return commitResp{errs: errs, ok: false}
	}

	if errs := store.CheckTree(t.candidate); len(errs) > 0 {
		return commitResp{errs: errs, ok: false}
	}

	var applyErrs []error
	walk(t.candidate, func(n *store.Node, path string) {
		if cb, ok := cbs[path]; ok {
			if err := cb.Apply(n); err != nil {
				applyErrs = append(applyErrs, err)
				return
			}
			t.applied = append(t.applied, n)
			t.Audit = append(t.Audit, AuditRecord{Path: path, Op: n.Op})
		}
	})

	if len(applyErrs) > 0 {
		t.rollback(cbs)
		return commitResp{errs: applyErrs, ok: false}
	}

	for _, n := range t.applied {
		if cb, ok := cbs[pathOf(n)]; ok {
			if err := cb.Commit(n); err != nil {
				t.rollback(cbs)
				return commitResp{errs: []error{err}, ok: false}
			}
		}
	}

	t.Target.SetRoot(t.candidate)
	if err := t.Target.Save(); err != nil {
		return commitResp{errs: []error{err}, ok: false}
	}

	e.mu.Lock()
	e.lastID++
	t.ID = e.lastID
	id := e.lastID
	path := e.idPath
	e.mu.Unlock()
	if path != "" {
		_ = persistLastID(path, id)
	}

	return commitResp{ok: true}
}

// rollback invokes each applied callback's Rollback in reverse order
// (spec §4.4 "Rollback").
func (t *Transaction) rollback(cbs map[string]Callback) {
	for i := len(t.applied) - 1; i >= 0; i-- {
		n := t.applied[i]
		if cb, ok := cbs[pathOf(n)]; ok {
			cb.Rollback(n)
		}
	}
	t.applied = nil
}

func pathOf(n *store.Node) string {
	var parts []string
	for cur, ok := n, true; ok; cur, ok = cur.ParentNode() {
		if cur.Name() != "" {
			parts = append([]string{cur.Name()}, parts...)
		}
	}
	return "/" + join(parts, "/")
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func walk(n *store.Node, fn func(*store.Node, string)) {
	if n == nil {
		return
	}
	fn(n, pathOf(n))
	for _, c := range n.Children() {
		walk(c, fn)
	}
}

// ConfirmedCommit tracks one armed confirmed-commit (spec §4.4
// "Confirmed commit"), grounded on server/confirmed_commit.go's
// commitInfo/persist-id bookkeeping, reworked from an external helper
// process invocation into an in-process timer.
type ConfirmedCommit struct {
	mu        sync.Mutex
	Session   uint32
	PersistID string
	Snapshot  *store.Node
	timer     *time.Timer
	onTimeout func()
}

// Arm captures snapshot and starts a timer; onTimeout is invoked if
// neither Confirm nor Cancel happens first.
func Arm(session uint32, persistID string, snapshot *store.Node, timeout time.Duration, onTimeout func()) *ConfirmedCommit {
	cc := &ConfirmedCommit{Session: session, PersistID: persistID, Snapshot: snapshot, onTimeout: onTimeout}
	cc.timer = time.AfterFunc(timeout, func() {
		cc.mu.Lock()
		fn := cc.onTimeout
		cc.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return cc
}

// Confirm clears the arming (a subsequent plain <commit> arrived).
func (cc *ConfirmedCommit) Confirm() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.timer.Stop()
	cc.onTimeout = nil
}

// Cancel stops the timer and returns the pre-commit snapshot to restore.
func (cc *ConfirmedCommit) Cancel() *store.Node {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.timer.Stop()
	cc.onTimeout = nil
	return cc.Snapshot
}

// OwnedBySession reports whether session death should cancel this
// confirmed commit: only when it was never detached via persist-id
// (spec §4.4 "only session death does not cancel" once persist-id
// detaches it).
func (cc *ConfirmedCommit) OwnedBySession(session uint32) bool {
	return cc.PersistID == "" && cc.Session == session
}

func loadLastID(path string) uint64 {
	if path == "" {
		return 0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var id uint64
	if _, err := fmt.Sscanf(string(data), "%d", &id); err != nil {
		return 0
	}
	return id
}

// persistLastID overwrites path atomically: write to a temp file in the
// same directory, then rename (spec §6 "Transaction-ID sidecar ...
// overwritten atomically on each commit").
func persistLastID(path string, id uint64) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".txnid-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(fmt.Sprintf("%d\n", id)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Context is accepted by handlers that need the session's privilege
// bag without importing config directly into callers that only need
// the transaction types.
type Context = config.Context
