// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package lifecycle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/config"
	"github.com/danos/netconfd/internal/testutil"
)

func testProfile(t *testing.T) *config.Profile {
	t.Helper()
	dir := t.TempDir()
	p := config.Default()
	p.Runfile = filepath.Join(dir, "running.xml")
	p.YangDir = filepath.Join(dir, "yang")
	p.MaxSessions = 4
	return p
}

type recordingModule struct {
	name     string
	initLog  *[]string
	teardown *[]string
}

func (m *recordingModule) Name() string { return m.name }

func (m *recordingModule) Init(c *Controller) error {
	*m.initLog = append(*m.initLog, m.name)
	return nil
}

func (m *recordingModule) Teardown(c *Controller) {
	*m.teardown = append(*m.teardown, m.name)
}

func TestStartBringsControllerToReadyState(t *testing.T) {
	c, err := New(testProfile(t))
	require.NoError(t, err)
	require.NoError(t, c.Start(testutil.SystemModelSet()))
	assert.Equal(t, "ready", c.State())
	assert.NotNil(t, c.Dispatcher)
	assert.NotNil(t, c.Sessions)
	assert.NotNil(t, c.Dispatcher.Engine)
}

func TestStartRegistersCandidateWhenStartupModeRequiresIt(t *testing.T) {
	profile := testProfile(t)
	profile.Startup = config.RunningAndCandidate
	c, err := New(profile)
	require.NoError(t, err)
	require.NoError(t, c.Start(testutil.SystemModelSet()))

	_, ok := c.Dispatcher.Datastores["candidate"]
	assert.True(t, ok)
}

func TestStartOmitsCandidateInRunningOnlyMode(t *testing.T) {
	profile := testProfile(t)
	profile.Startup = config.RunningOnly
	c, err := New(profile)
	require.NoError(t, err)
	require.NoError(t, c.Start(testutil.SystemModelSet()))

	_, ok := c.Dispatcher.Datastores["candidate"]
	assert.False(t, ok)
}

func TestModulesInitInOrderAndTeardownInReverse(t *testing.T) {
	c, err := New(testProfile(t))
	require.NoError(t, err)

	var inits, teardowns []string
	a := &recordingModule{name: "a", initLog: &inits, teardown: &teardowns}
	b := &recordingModule{name: "b", initLog: &inits, teardown: &teardowns}

	require.NoError(t, c.Start(testutil.SystemModelSet(), a, b))
	assert.Equal(t, []string{"a", "b"}, inits)

	c.Teardown()
	assert.Equal(t, []string{"b", "a"}, teardowns)
	assert.Equal(t, "shutdown", c.State())
}

func TestIndexSchemaSourcesSkipsMissingYangDir(t *testing.T) {
	profile := testProfile(t)
	c, err := New(profile)
	require.NoError(t, err)
	assert.Empty(t, c.Profile.SchemaSources)
}
