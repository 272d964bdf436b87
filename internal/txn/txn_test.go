// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/schema"
	"github.com/danos/netconfd/internal/store"
)

func testModelSet() *schema.ModelSet {
	ms := schema.NewModelSet()
	system := schema.NewObject("system", "urn:test", schema.Container)
	hostname := schema.NewObject("hostname", "urn:test", schema.Leaf)
	system.AddChild(hostname)
	ms.Register(system)
	return ms
}

func buildCandidate(t *testing.T, ms *schema.ModelSet, hostname string) *store.Node {
	t.Helper()
	root := store.New_(ms)
	system, ok := ms.Root().Child("system")
	require.True(t, ok)
	systemNode := store.New(system)
	h, ok := system.Child("hostname")
	require.True(t, ok)
	hostnameNode := store.New(h)
	hostnameNode.Value = hostname
	hostnameNode.Op = store.OpMerge
	systemNode.AddChild(hostnameNode)
	root.AddChild(systemNode)
	return root
}

func TestErrorOptionSetRecognizesAllThree(t *testing.T) {
	var o ErrorOption
	require.NoError(t, o.Set("stop-on-error"))
	assert.Equal(t, StopOnError, o)
	require.NoError(t, o.Set("continue-on-error"))
	assert.Equal(t, ContinueOnError, o)
	require.NoError(t, o.Set("rollback-on-error"))
	assert.Equal(t, RollbackOnError, o)
	assert.Error(t, o.Set("bogus"))
}

func TestCommitBumpsTransactionIDAndPersists(t *testing.T) {
	ms := testModelSet()
	dir := t.TempDir()
	ds := store.New(store.Running, ms, filepath.Join(dir, "running.xml"))
	require.NoError(t, ds.Load())

	e := NewEngine(filepath.Join(dir, "txnid"))
	candidate := buildCandidate(t, ms, "r1")

	txn := Begin(ds, candidate, RollbackOnError)
	errs := e.Commit(txn)
	require.Empty(t, errs)
	assert.Equal(t, uint64(1), txn.ID)

	e2 := NewEngine(filepath.Join(dir, "txnid"))
	assert.Equal(t, uint64(1), e2.lastID)
}

type failingCallback struct{}

func (failingCallback) Validate(n *store.Node) []error { return nil }
func (failingCallback) Apply(n *store.Node) error       { return errors.New("apply rejected") }
func (failingCallback) Commit(n *store.Node) error      { return nil }
func (failingCallback) Rollback(n *store.Node) error    { return nil }

func TestCommitRollsBackOnApplyFailure(t *testing.T) {
	ms := testModelSet()
	dir := t.TempDir()
	ds := store.New(store.Running, ms, filepath.Join(dir, "running.xml"))
	require.NoError(t, ds.Load())

	e := NewEngine(filepath.Join(dir, "txnid"))
	e.RegisterCallback("/system/hostname", failingCallback{})

	candidate := buildCandidate(t, ms, "r1")
	txn := Begin(ds, candidate, RollbackOnError)
	errs := e.Commit(txn)
	assert.NotEmpty(t, errs)
	assert.Zero(t, txn.ID)
}

func TestConfirmedCommitTimeoutInvokesOnTimeout(t *testing.T) {
	ms := testModelSet()
	snapshot := store.New_(ms)

	fired := make(chan struct{}, 1)
	cc := Arm(7, "", snapshot, 10*time.Millisecond, func() {
		fired <- struct{}{}
	})
	_ = cc

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("confirmed-commit timeout never fired")
	}
}

func TestConfirmedCommitConfirmStopsTimer(t *testing.T) {
	ms := testModelSet()
	snapshot := store.New_(ms)

	fired := make(chan struct{}, 1)
	cc := Arm(7, "", snapshot, 20*time.Millisecond, func() {
		fired <- struct{}{}
	})
	cc.Confirm()

	select {
	case <-fired:
		t.Fatal("onTimeout fired after Confirm")
	case <-time.After(40 * time.Millisecond):
	}
}

func TestConfirmedCommitOwnedBySessionRespectsPersistID(t *testing.T) {
	ms := testModelSet()
	snapshot := store.New_(ms)
	cc := Arm(3, "", snapshot, time.Hour, func() {})
	defer cc.Confirm()
	assert.True(t, cc.OwnedBySession(3))

	cc2 := Arm(3, "detached", snapshot, time.Hour, func() {})
	defer cc2.Confirm()
	assert.False(t, cc2.OwnedBySession(3))
}

func TestSecondCommitWhileFirstInFlightIsRejected(t *testing.T) {
	ms := testModelSet()
	dir := t.TempDir()
	ds := store.New(store.Running, ms, filepath.Join(dir, "running.xml"))
	require.NoError(t, ds.Load())

	e := NewEngine(filepath.Join(dir, "txnid"))
	blocking := blockingCallback{entered: make(chan struct{}, 1), release: make(chan struct{})}
	e.RegisterCallback("/system/hostname", &blocking)

	c1 := buildCandidate(t, ms, "r1")
	t1 := Begin(ds, c1, RollbackOnError)

	done := make(chan []error, 1)
	go func() { done <- e.Commit(t1) }()

	<-blocking.entered

	c2 := buildCandidate(t, ms, "r2")
	t2 := Begin(ds, c2, RollbackOnError)
	errs := e.Commit(t2)
	assert.NotEmpty(t, errs)

	close(blocking.release)
	<-done
}

type blockingCallback struct {
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingCallback) Validate(n *store.Node) []error { return nil }
func (b *blockingCallback) Apply(n *store.Node) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}
func (b *blockingCallback) Commit(n *store.Node) error   { return nil }
func (b *blockingCallback) Rollback(n *store.Node) error { return nil }
