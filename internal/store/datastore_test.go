// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/schema"
)

func testModelSet() *schema.ModelSet {
	ms := schema.NewModelSet()
	system := schema.NewObject("system", "urn:test", schema.Container)
	hostname := schema.NewObject("hostname", "urn:test", schema.Leaf)
	system.AddChild(hostname)
	ms.Register(system)
	return ms
}

func TestLoadSaveLoadRoundTrip(t *testing.T) {
	ms := testModelSet()
	dir := t.TempDir()
	path := filepath.Join(dir, "running.xml")

	d1 := New(Running, ms, path)
	require.NoError(t, d1.Load())

	system := New(mustChild(t, ms.Root(), "system"))
	hostname := New(mustChild(t, system.Schema, "hostname"))
	hostname.Value = "r1"
	system.AddChild(hostname)
	root := d1.Root()
	root.AddChild(system)
	d1.SetRoot(root)

	require.NoError(t, d1.Save())

	d2 := New(Running, ms, path)
	require.NoError(t, d2.Load())

	assert.True(t, d1.Root().Equal(d2.Root()))
}

func mustChild(t *testing.T, parent *schema.Object, name string) *schema.Object {
	t.Helper()
	c, ok := parent.Child(name)
	require.True(t, ok)
	return c
}

func TestLoadMissingFileIsReady(t *testing.T) {
	ms := testModelSet()
	d := New(Running, ms, filepath.Join(t.TempDir(), "missing.xml"))
	require.NoError(t, d.Load())
	assert.Equal(t, Ready, d.State())
}

func TestSaveIsAtomicRenameNotInPlaceTruncate(t *testing.T) {
	ms := testModelSet()
	dir := t.TempDir()
	path := filepath.Join(dir, "running.xml")
	d := New(Running, ms, path)
	require.NoError(t, d.Load())
	require.NoError(t, d.Save())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	// Only the final file should remain; no leftover temp file.
	require.Len(t, entries, 1)
	assert.Equal(t, "running.xml", entries[0].Name())
}

func TestRootCheckCatchesDuplicateListKeys(t *testing.T) {
	ms := schema.NewModelSet()
	ifaces := schema.NewObject("interfaces", "urn:test", schema.Container)
	iface := schema.NewObject("interface", "urn:test", schema.List)
	iface.Keys = []string{"name"}
	nameLeaf := schema.NewObject("name", "urn:test", schema.Leaf)
	iface.AddChild(nameLeaf)
	ifaces.AddChild(iface)
	ms.Register(ifaces)

	d := New(Running, ms, "")
	require.NoError(t, d.Load())
	root := d.Root()
	ifacesNode := New(mustChild(t, ms.Root(), "interfaces"))
	root.AddChild(ifacesNode)

	for i := 0; i < 2; i++ {
		entry := New(mustChild(t, ifacesNode.Schema, "interface"))
		n := New(mustChild(t, entry.Schema, "name"))
		n.Value = "eth0"
		entry.AddChild(n)
		ifacesNode.AddChild(entry)
	}

	errs := d.RootCheck()
	assert.NotEmpty(t, errs)
}

func TestDefaultFillInstantiatesMissingDefaultLeaf(t *testing.T) {
	ms := schema.NewModelSet()
	system := schema.NewObject("system", "urn:test", schema.Container)
	mode := schema.NewObject("mode", "urn:test", schema.Leaf)
	mode.Default = "enabled"
	system.AddChild(mode)
	ms.Register(system)

	root := New(ms.Root())
	systemNode := New(system)
	root.AddChild(systemNode)

	DefaultFill(root)

	modeNode, ok := systemNode.child("mode")
	require.True(t, ok)
	assert.Equal(t, "enabled", modeNode.Value)
}
