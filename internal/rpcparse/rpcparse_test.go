// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpcparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/dispatch"
	"github.com/danos/netconfd/internal/nsreg"
)

func TestParseClassifiesHello(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
		<capabilities><capability>urn:ietf:params:netconf:base:1.0</capability></capabilities>
	</hello>`), ns)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ClassHello, msg.Class)
}

func TestParseHelloCollectsAdvertisedCapabilities(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
		<capabilities>
			<capability>urn:ietf:params:netconf:base:1.0</capability>
			<capability>urn:ietf:params:netconf:base:1.1</capability>
		</capabilities>
	</hello>`), ns)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"urn:ietf:params:netconf:base:1.0", "urn:ietf:params:netconf:base:1.1"},
		msg.Capabilities)
}

func TestParseNcxConnectExtractsAttributes(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<ncx-connect version="1" magic="abc" transport="local" user="bob" address="127.0.0.1"/>`), ns)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ClassNcxConnect, msg.Class)
	assert.Equal(t, "local", msg.Attrs["transport"])
	assert.Equal(t, "bob", msg.Attrs["user"])
	assert.Equal(t, "127.0.0.1", msg.Attrs["address"])
}

func TestParseLockExtractsTargetFromWrapperChoice(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<rpc message-id="7"><lock><target><running/></target></lock></rpc>`), ns)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ClassRPC, msg.Class)
	assert.Equal(t, "7", msg.MessageID)
	assert.Equal(t, "lock", msg.Operation)
	assert.Equal(t, "running", msg.Attrs["target"])
}

func TestParseKillSessionExtractsTextLeaf(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<rpc message-id="8"><kill-session><session-id>4</session-id></kill-session></rpc>`), ns)
	require.NoError(t, err)
	assert.Equal(t, "kill-session", msg.Operation)
	assert.Equal(t, "4", msg.Attrs["session-id"])
}

func TestParseCommitWithConfirmedFlagAndPersistId(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<rpc message-id="9"><commit><confirmed/><confirm-timeout>120</confirm-timeout><persist-id>abc</persist-id></commit></rpc>`), ns)
	require.NoError(t, err)
	assert.Equal(t, "commit", msg.Operation)
	_, hasConfirmed := msg.Attrs["confirmed"]
	assert.True(t, hasConfirmed)
	assert.Equal(t, "120", msg.Attrs["confirm-timeout"])
	assert.Equal(t, "abc", msg.Attrs["persist-id"])
}

func TestParseDiscardChangesHasNoAttrs(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<rpc message-id="1"><discard-changes/></rpc>`), ns)
	require.NoError(t, err)
	assert.Equal(t, "discard-changes", msg.Operation)
	assert.Empty(t, msg.Attrs)
}

func TestParsePartialLockJoinsRepeatedSelects(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<rpc message-id="2"><partial-lock>`+
		`<select>/interfaces/interface[name='eth0']</select>`+
		`<select>/interfaces/interface[name='eth1']</select>`+
		`</partial-lock></rpc>`), ns)
	require.NoError(t, err)
	assert.Equal(t, "partial-lock", msg.Operation)
	assert.Equal(t,
		"/interfaces/interface[name='eth0']\n/interfaces/interface[name='eth1']",
		msg.Attrs["selectors"])
}

func TestParseEditConfigMaterializesConfigTreeSeparatelyFromAttrs(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<rpc message-id="3"><edit-config>`+
		`<target><candidate/></target>`+
		`<default-operation>merge</default-operation>`+
		`<config><system><hostname operation="merge">r1</hostname></system></config>`+
		`</edit-config></rpc>`), ns)
	require.NoError(t, err)
	assert.Equal(t, "edit-config", msg.Operation)
	assert.Equal(t, "candidate", msg.Attrs["target"])
	assert.Equal(t, "merge", msg.Attrs["default-operation"])
	_, hasConfigAttr := msg.Attrs["config"]
	assert.False(t, hasConfigAttr, "config body must not be flattened into Attrs")

	require.NotNil(t, msg.Config)
	require.Len(t, msg.Config.Children, 1)
	system := msg.Config.Children[0]
	assert.Equal(t, "system", system.Name)
	require.Len(t, system.Children, 1)
	hostname := system.Children[0]
	assert.Equal(t, "hostname", hostname.Name)
	assert.Equal(t, "r1", hostname.Text)
	var op string
	for _, a := range hostname.Attrs {
		if a.Name == "operation" {
			op = a.Value
		}
	}
	assert.Equal(t, "merge", op)
}

func TestParseEditConfigWithEmptyConfigElement(t *testing.T) {
	ns := nsreg.New()
	msg, err := Parse([]byte(`<rpc message-id="4"><edit-config><target><candidate/></target><config/></edit-config></rpc>`), ns)
	require.NoError(t, err)
	require.NotNil(t, msg.Config)
	assert.Empty(t, msg.Config.Children)
}

func TestParseMalformedMessageReturnsMalformedError(t *testing.T) {
	ns := nsreg.New()
	_, err := Parse([]byte(`<rpc message-id="1"><lock><target></lock></rpc>`), ns)
	assert.Error(t, err)
}
