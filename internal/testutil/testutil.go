// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package testutil holds small fixtures shared across this module's
// package tests, grounded on session/sessiontest's role in the teacher
// (a dedicated test-support package rather than copy-pasted fixtures).
package testutil

import "github.com/danos/netconfd/internal/schema"

// SystemModelSet returns a minimal model set ("system/hostname") used by
// several packages' tests as a stand-in schema, independent of the
// bundled model set cmd/netconfd actually serves.
func SystemModelSet() *schema.ModelSet {
	ms := schema.NewModelSet()
	system := schema.NewObject("system", "urn:test", schema.Container)
	hostname := schema.NewObject("hostname", "urn:test", schema.Leaf)
	system.AddChild(hostname)
	ms.Register(system)
	return ms
}
