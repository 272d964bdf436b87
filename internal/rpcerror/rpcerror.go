// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package rpcerror implements the NETCONF <rpc-error> model (RFC 6241 §4.3):
// error-type, error-tag, error-severity, error-app-tag, error-path,
// error-message and type-specific error-info children.
package rpcerror

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Type is the NETCONF error-type enumeration.
type Type string

const (
	Transport Type = "transport"
	RPC       Type = "rpc"
	Protocol  Type = "protocol"
	App       Type = "application"
)

// Severity is the NETCONF error-severity enumeration.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Error is a single NETCONF rpc-error element.
type Error struct {
	Type     Type
	Tag      string
	Severity Severity
	AppTag   string
	Path     string
	Message  string
	Lang     string
	Info     []InfoElement
}

// InfoElement is one child of <error-info>.
type InfoElement struct {
	Name  string
	Value string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Tag)
}

// WriteXML renders the rpc-error element as it appears inside an
// <rpc-reply>. It does not write its own namespace declaration; the caller
// is expected to have the base NETCONF namespace in scope.
func (e *Error) WriteXML(w *bytes.Buffer) {
	w.WriteString("<rpc-error>")
	fmt.Fprintf(w, "<error-type>%s</error-type>", e.Type)
	fmt.Fprintf(w, "<error-tag>%s</error-tag>", e.Tag)
	sev := e.Severity
	if sev == "" {
		sev = SeverityError
	}
	fmt.Fprintf(w, "<error-severity>%s</error-severity>", sev)
	if e.AppTag != "" {
		fmt.Fprintf(w, "<error-app-tag>%s</error-app-tag>", e.AppTag)
	}
	if e.Path != "" {
		fmt.Fprintf(w, "<error-path>%s</error-path>", xmlEscape(e.Path))
	}
	if e.Message != "" {
		lang := e.Lang
		if lang == "" {
			lang = "en"
		}
		fmt.Fprintf(w, "<error-message xml:lang=\"%s\">%s</error-message>", lang, xmlEscape(e.Message))
	}
	if len(e.Info) > 0 {
		w.WriteString("<error-info>")
		for _, i := range e.Info {
			fmt.Fprintf(w, "<%s>%s</%s>", i.Name, xmlEscape(i.Value), i.Name)
		}
		w.WriteString("</error-info>")
	}
	w.WriteString("</rpc-error>")
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// List accumulates every error for a single RPC so the peer gets the full
// set inside one <rpc-reply>, per spec §4.8/§7.
type List struct {
	errs []*Error
}

func (l *List) Append(e *Error) {
	l.errs = append(l.errs, e)
}

func (l *List) AppendError(err error) {
	if e, ok := err.(*Error); ok {
		l.Append(e)
		return
	}
	l.Append(NewOperationFailedApplicationError(err.Error()))
}

func (l *List) Empty() bool { return len(l.errs) == 0 }

func (l *List) Errors() []*Error { return l.errs }

func (l *List) Error() string {
	var b bytes.Buffer
	for i, e := range l.errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}

func (l *List) WriteXML(w *bytes.Buffer) {
	for _, e := range l.errs {
		e.WriteXML(w)
	}
}

// --- constructors, one per (error-type, error-tag) pair in common use ---
// Named the way github.com/danos/mgmterror names its constructors
// (e.g. NewAccessDeniedApplicationError, NewInvalidValueProtocolError),
// inferred from their call sites in the teacher's server package.

func NewAccessDeniedApplicationError() *Error {
	return &Error{Type: App, Tag: "access-denied", AppTag: "access-denied"}
}

func NewAccessDeniedProtocolError() *Error {
	return &Error{Type: Protocol, Tag: "access-denied"}
}

func NewInvalidValueProtocolError() *Error {
	return &Error{Type: Protocol, Tag: "invalid-value"}
}

func NewInvalidValueApplicationError() *Error {
	return &Error{Type: App, Tag: "invalid-value"}
}

func NewOperationFailedApplicationError(msg string) *Error {
	return &Error{Type: App, Tag: "operation-failed", Message: msg}
}

func NewOperationFailedProtocolError(msg string) *Error {
	return &Error{Type: Protocol, Tag: "operation-failed", Message: msg}
}

func NewOperationNotSupportedApplicationError() *Error {
	return &Error{Type: App, Tag: "operation-not-supported"}
}

func NewMissingElementProtocolError(path string) *Error {
	return &Error{Type: Protocol, Tag: "missing-element", Path: path}
}

func NewMissingAttributeProtocolError(attr string) *Error {
	e := &Error{Type: Protocol, Tag: "missing-attribute"}
	e.Info = append(e.Info, InfoElement{Name: "bad-attribute", Value: attr})
	return e
}

func NewBadElementProtocolError(elem string) *Error {
	e := &Error{Type: Protocol, Tag: "bad-element"}
	e.Info = append(e.Info, InfoElement{Name: "bad-element", Value: elem})
	return e
}

func NewUnknownNamespaceProtocolError(ns string) *Error {
	e := &Error{Type: Protocol, Tag: "unknown-namespace"}
	e.Info = append(e.Info, InfoElement{Name: "bad-namespace", Value: ns})
	return e
}

func NewMalformedMessageProtocolError() *Error {
	return &Error{Type: RPC, Tag: "malformed-message"}
}

func NewResourceDeniedProtocolError() *Error {
	return &Error{Type: Protocol, Tag: "resource-denied"}
}

func NewLockDeniedProtocolError(owningSessionID string) *Error {
	e := &Error{Type: Protocol, Tag: "lock-denied"}
	if owningSessionID != "" {
		e.Info = append(e.Info, InfoElement{Name: "session-id", Value: owningSessionID})
	}
	return e
}

func NewInUseProtocolError() *Error {
	return &Error{Type: Protocol, Tag: "in-use"}
}

func NewMissingChoiceApplicationError(choice string) *Error {
	e := &Error{Type: App, Tag: "missing-choice"}
	e.Info = append(e.Info, InfoElement{Name: "missing-choice", Value: choice})
	return e
}

func NewNonUniqueApplicationError(path string) *Error {
	e := &Error{Type: App, Tag: "operation-failed", Path: path}
	e.Info = append(e.Info, InfoElement{Name: "non-unique", Value: path})
	return e
}

func NewDataMissingApplicationError(path string) *Error {
	return &Error{Type: App, Tag: "data-missing", Path: path}
}

func NewDataExistsApplicationError(path string) *Error {
	return &Error{Type: App, Tag: "data-exists", Path: path}
}
