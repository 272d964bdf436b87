// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNcxConnectAttrs(transport string) map[string]string {
	attrs := map[string]string{
		"version":   NcxConnectVersion,
		"magic":     NcxConnectMagic,
		"transport": transport,
		"user":      "bob",
		"address":   "192.0.2.1",
	}
	if transport == "ssh" {
		attrs["port"] = "830"
	}
	return attrs
}

func TestHandleNcxConnectAcceptsValidLocalAttrs(t *testing.T) {
	d, sess := newTestDispatcher(t)
	user, peerAddr, rerr := HandleNcxConnect(d, sess, validNcxConnectAttrs("local"))
	require.Nil(t, rerr)
	assert.Equal(t, "bob", user)
	assert.Equal(t, "192.0.2.1", peerAddr)
}

func TestHandleNcxConnectRejectsWrongMagic(t *testing.T) {
	d, sess := newTestDispatcher(t)
	attrs := validNcxConnectAttrs("local")
	attrs["magic"] = "wrong"
	_, _, rerr := HandleNcxConnect(d, sess, attrs)
	require.NotNil(t, rerr)
}

func TestHandleNcxConnectRejectsMissingUser(t *testing.T) {
	d, sess := newTestDispatcher(t)
	attrs := validNcxConnectAttrs("local")
	delete(attrs, "user")
	_, _, rerr := HandleNcxConnect(d, sess, attrs)
	require.NotNil(t, rerr)
}

func TestHandleNcxConnectEnforcesSSHPortAllowlist(t *testing.T) {
	d, sess := newTestDispatcher(t)
	d.Profile.SSHPorts = []int{22}
	_, _, rerr := HandleNcxConnect(d, sess, validNcxConnectAttrs("ssh"))
	require.NotNil(t, rerr)
}

func TestHandleNcxConnectAllowsSSHPortOnAllowlist(t *testing.T) {
	d, sess := newTestDispatcher(t)
	d.Profile.SSHPorts = []int{830}
	_, _, rerr := HandleNcxConnect(d, sess, validNcxConnectAttrs("ssh"))
	require.Nil(t, rerr)
}

func TestHandleNcxConnectRejectsUnknownTransport(t *testing.T) {
	d, sess := newTestDispatcher(t)
	attrs := validNcxConnectAttrs("local")
	attrs["transport"] = "telnet"
	_, _, rerr := HandleNcxConnect(d, sess, attrs)
	require.NotNil(t, rerr)
}
