// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// This file lives in the external dispatch_test package (rather than
// dispatch itself) because it drives requests through internal/rpcparse,
// which imports internal/dispatch for ElementClass — an in-package test
// file here would form an import cycle.
package dispatch_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/config"
	"github.com/danos/netconfd/internal/dispatch"
	"github.com/danos/netconfd/internal/nacm"
	"github.com/danos/netconfd/internal/netsession"
	"github.com/danos/netconfd/internal/nsreg"
	"github.com/danos/netconfd/internal/rpcparse"
	"github.com/danos/netconfd/internal/store"
	"github.com/danos/netconfd/internal/testutil"
	"github.com/danos/netconfd/internal/txn"
)

// TestEditConfigThenCommitDrivesHostnameIntoRunning reproduces spec §8
// scenario 2 end to end: a real <edit-config> RPC, parsed from XML by
// internal/rpcparse and run through internal/dispatch's handler, followed
// by <commit>, checking the edited leaf actually lands in running.
func TestEditConfigThenCommitDrivesHostnameIntoRunning(t *testing.T) {
	ms := testutil.SystemModelSet()
	dir := t.TempDir()

	d := dispatch.New(config.Default())
	d.Datastores[store.Running] = store.New(store.Running, ms, filepath.Join(dir, "running.xml"))
	d.Datastores[store.Candidate] = store.New(store.Candidate, ms, "")
	require.NoError(t, d.Datastores[store.Running].Load())
	require.NoError(t, d.Datastores[store.Candidate].Load())
	d.Engine = txn.NewEngine(filepath.Join(dir, "txnid"))

	sessions := netsession.New(8)
	sess, err := sessions.Create("alice", "127.0.0.1", "local")
	require.NoError(t, err)
	d.Sessions = sessions
	cache := nacm.NewCache(nacm.NewConfig(), "alice")

	ns := nsreg.New()
	msg, err := rpcparse.Parse([]byte(`<rpc message-id="1"><edit-config>`+
		`<target><candidate/></target>`+
		`<default-operation>merge</default-operation>`+
		`<config><system><hostname>r1</hostname></system></config>`+
		`</edit-config></rpc>`), ns)
	require.NoError(t, err)
	require.Equal(t, "edit-config", msg.Operation)

	editReply := d.Dispatch(&dispatch.Request{
		Operation: msg.Operation,
		Attrs:     msg.Attrs,
		Config:    msg.Config,
		Session:   sess,
		NACM:      cache,
	})
	require.True(t, editReply.Errors.Empty(), "edit-config errors: %v", editReply.Errors.Errors())

	candidateSystem, ok := d.Datastores[store.Candidate].Root().Child("system")
	require.True(t, ok)
	candidateHostname, ok := candidateSystem.Child("hostname")
	require.True(t, ok)
	assert.Equal(t, "r1", candidateHostname.Value)

	commitMsg, err := rpcparse.Parse([]byte(`<rpc message-id="2"><commit/></rpc>`), ns)
	require.NoError(t, err)
	commitReply := d.Dispatch(&dispatch.Request{
		Operation: commitMsg.Operation,
		Attrs:     commitMsg.Attrs,
		Session:   sess,
		NACM:      cache,
	})
	require.True(t, commitReply.Errors.Empty(), "commit errors: %v", commitReply.Errors.Errors())

	runningSystem, ok := d.Datastores[store.Running].Root().Child("system")
	require.True(t, ok)
	runningHostname, ok := runningSystem.Child("hostname")
	require.True(t, ok)
	assert.Equal(t, "r1", runningHostname.Value)
}

// TestEditConfigRejectsElementNotInSchema exercises the bad-element
// protocol error path when the <config> body names something the
// target's schema does not recognize.
func TestEditConfigRejectsElementNotInSchema(t *testing.T) {
	ms := testutil.SystemModelSet()
	dir := t.TempDir()

	d := dispatch.New(config.Default())
	d.Datastores[store.Running] = store.New(store.Running, ms, filepath.Join(dir, "running.xml"))
	d.Datastores[store.Candidate] = store.New(store.Candidate, ms, "")
	require.NoError(t, d.Datastores[store.Running].Load())
	require.NoError(t, d.Datastores[store.Candidate].Load())

	sessions := netsession.New(8)
	sess, err := sessions.Create("alice", "127.0.0.1", "local")
	require.NoError(t, err)
	d.Sessions = sessions
	cache := nacm.NewCache(nacm.NewConfig(), "alice")

	ns := nsreg.New()
	msg, err := rpcparse.Parse([]byte(`<rpc message-id="1"><edit-config>`+
		`<target><candidate/></target>`+
		`<config><nonexistent-module/></config>`+
		`</edit-config></rpc>`), ns)
	require.NoError(t, err)

	reply := d.Dispatch(&dispatch.Request{
		Operation: msg.Operation,
		Attrs:     msg.Attrs,
		Config:    msg.Config,
		Session:   sess,
		NACM:      cache,
	})
	require.False(t, reply.Errors.Empty())
	assert.Equal(t, "bad-element", reply.Errors.Errors()[0].Tag)
}
