// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/txn"
)

type recordingSub struct {
	events []Event
}

func (r *recordingSub) Deliver(ev Event) { r.events = append(r.events, ev) }

func TestConfigChangeDeliversAuditPayload(t *testing.T) {
	bus := NewBus()
	sub := &recordingSub{}
	bus.Subscribe(1, sub)

	audit := []txn.AuditRecord{{Path: "/system/hostname", Op: 0}}
	bus.ConfigChange(audit, time.Now())

	require.Len(t, sub.events, 1)
	assert.Equal(t, SysConfigChange, sub.events[0].Kind)
	assert.Equal(t, audit, sub.events[0].Audit)
	assert.NotEmpty(t, sub.events[0].ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := &recordingSub{}
	bus.Subscribe(1, sub)
	bus.Unsubscribe(1)

	bus.SessionStarted(1, "alice", time.Now())
	assert.Empty(t, sub.events)
}

func TestDeliveryOrderWithinOneSubscriberIsEmissionOrder(t *testing.T) {
	bus := NewBus()
	sub := &recordingSub{}
	bus.Subscribe(5, sub)

	bus.SessionStarted(5, "alice", time.Now())
	bus.ConfirmedCommit("timeout", time.Now())
	bus.SessionEnded(5, 0, "close-session", time.Now())

	require.Len(t, sub.events, 3)
	assert.Equal(t, SessionStart, sub.events[0].Kind)
	assert.Equal(t, SysConfirmedCommit, sub.events[1].Kind)
	assert.Equal(t, SessionEnd, sub.events[2].Kind)
}
