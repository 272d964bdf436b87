// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package rpcerror

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockDeniedCarriesSessionID(t *testing.T) {
	err := NewLockDeniedProtocolError("42")
	require.Len(t, err.Info, 1)
	assert.Equal(t, "session-id", err.Info[0].Name)
	assert.Equal(t, "42", err.Info[0].Value)

	var b bytes.Buffer
	err.WriteXML(&b)
	out := b.String()
	assert.True(t, strings.Contains(out, "<error-tag>lock-denied</error-tag>"))
	assert.True(t, strings.Contains(out, "<session-id>42</session-id>"))
}

func TestListAccumulatesAllErrorsForOneRPC(t *testing.T) {
	var l List
	l.Append(NewMissingElementProtocolError("/system/list[1]"))
	l.AppendError(assertError{"boom"})

	require.Len(t, l.Errors(), 2)
	assert.False(t, l.Empty())

	var b bytes.Buffer
	l.WriteXML(&b)
	out := b.String()
	assert.Equal(t, 2, strings.Count(out, "<rpc-error>"))
}

type assertError struct{ msg string }

func (a assertError) Error() string { return a.msg }

func TestEmptyListHasNoErrors(t *testing.T) {
	var l List
	assert.True(t, l.Empty())
	assert.Empty(t, l.Errors())
}
