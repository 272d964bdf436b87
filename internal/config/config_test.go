// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIdString(t *testing.T) {
	assert.Equal(t, "commit", COMMIT.String())
	assert.Equal(t, "system", SYSTEM.String())
	assert.Equal(t, "unknown", LockId(0).String())
}

func TestLoadProfileFileOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netconfd.ini")
	contents := "[netconfd]\nsuperuser = root\nmax-sessions = 4\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	base := Default()
	p, err := LoadProfileFile(base, path)
	require.NoError(t, err)

	assert.Equal(t, "root", p.Superuser)
	assert.Equal(t, 4, p.MaxSessions)
	// Untouched keys keep the base's defaults.
	assert.Equal(t, base.YangDir, p.YangDir)
	assert.Equal(t, base.NACMEnforce, p.NACMEnforce)
}

func TestInSecretsGroupRaisedPrivilegesBypass(t *testing.T) {
	ctx := &Context{Profile: Default(), Raised: true}
	assert.True(t, InSecretsGroup(ctx))
}

func TestInSecretsGroupMembershipCheck(t *testing.T) {
	ctx := &Context{Profile: Default(), Groups: []string{"secrets"}}
	assert.True(t, InSecretsGroup(ctx))

	ctx2 := &Context{Profile: Default(), Groups: []string{"users"}}
	assert.False(t, InSecretsGroup(ctx2))
}
