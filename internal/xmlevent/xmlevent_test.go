// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package xmlevent

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danos/netconfd/internal/nsreg"
)

func TestSynthesizesMissingProlog(t *testing.T) {
	ns := nsreg.New()
	r := New([]byte(`<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities/></hello>`), ns)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, StartElement, ev.Kind)
	assert.Equal(t, "hello", ev.Name)
}

func TestSelectAttributeIsCompiledEagerly(t *testing.T) {
	ns := nsreg.New()
	r := New([]byte(`<get-config><filter select="/system/hostname"/></get-config>`), ns)

	_, err := r.Next() // get-config
	require.NoError(t, err)
	ev, err := r.Next() // filter
	require.NoError(t, err)
	require.Len(t, ev.Attrs, 1)
	require.NotNil(t, ev.Attrs[0].Compiled)
	assert.Equal(t, "/system/hostname", ev.Attrs[0].Compiled.Raw)
}

func TestNextCollapsedMergesEmptyElement(t *testing.T) {
	ns := nsreg.New()
	r := New([]byte(`<a><b></b></a>`), ns)

	ev, err := r.NextCollapsed() // <a>
	require.NoError(t, err)
	assert.Equal(t, StartElement, ev.Kind)

	ev, err = r.NextCollapsed() // <b></b> collapses to Empty
	require.NoError(t, err)
	assert.Equal(t, EmptyElement, ev.Kind)
	assert.Equal(t, "b", ev.Name)

	ev, err = r.NextCollapsed() // </a>
	require.NoError(t, err)
	assert.Equal(t, EndElement, ev.Kind)
}

func TestSkipSubtreeConsumesNestedElement(t *testing.T) {
	ns := nsreg.New()
	r := New([]byte(`<a><b><c/></b></a>`), ns)

	_, err := r.Next() // <a>
	require.NoError(t, err)
	_, err = r.Next() // <b>
	require.NoError(t, err)
	require.NoError(t, r.SkipSubtree())

	ev, err := r.Next() // </a>
	require.NoError(t, err)
	assert.Equal(t, EndElement, ev.Kind)
	assert.Equal(t, "a", ev.Name)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}
