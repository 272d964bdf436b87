// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package config holds the server profile (spec §4.9 "phase 1"): the
// settings loaded from CLI flags and an optional profile file before any
// datastore, module, or session state exists. It also carries the
// reserved pseudo-session identifiers and the per-session privilege
// context, generalized from configd.go's LockId/Context.
package config

import (
	"log"
	"log/syslog"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// LockId names a reserved pseudo-session used when server-internal code
// mutates configuration outside of any real client session (spec §3
// "Session 0 is a reserved pseudo-session").
type LockId int32

const (
	COMMIT LockId = -1
	SYSTEM LockId = -2
)

func (l LockId) String() string {
	switch l {
	case COMMIT:
		return "commit"
	case SYSTEM:
		return "system"
	}
	return "unknown"
}

// StartupMode selects which datastores a server instance exposes (spec
// §3 "Datastore"): running is always present, candidate is optional, and
// startup is only distinct from running in "distinct startup" mode.
type StartupMode int

const (
	RunningOnly StartupMode = iota
	RunningAndCandidate
	DistinctStartup
)

// Profile is the server-wide configuration assembled during lifecycle
// phase 1 (spec §4.9), from CLI flags merged with an optional ini profile
// file. Field names mirror configd.Config, widened for the NETCONF
// surface (transports, timeouts, capabilities).
type Profile struct {
	User          string
	Group         string
	Runfile       string
	Logfile       string
	Pidfile       string
	YangDir       string
	ModulePath    string
	Socket        string
	SSHAddr       string
	SSHPorts      []int
	SecretsGroup  string
	SuperGroup    string
	Superuser     string
	Capabilities  string
	Startup       StartupMode
	NACMEnforce   bool
	HelloTimeoutS int
	IdleTimeoutS  int
	MaxSessions   int

	// SchemaSources backs the get-schema supplement (SPEC_FULL.md
	// [SUPPLEMENT]): module identifier -> raw YANG text, indexed from
	// YangDir by lifecycle.New, in phase 1.
	SchemaSources map[string]string
}

// Default returns the profile used when neither a profile file nor CLI
// overrides are supplied.
func Default() *Profile {
	return &Profile{
		User:          "netconfd",
		Group:         "netconfd",
		Runfile:       "/run/netconfd/running.xml",
		Pidfile:       "/run/netconfd/netconfd.pid",
		YangDir:       "/usr/share/netconfd/yang",
		Socket:        "/run/netconfd/main.sock",
		SecretsGroup:  "secrets",
		Capabilities:  "/usr/share/netconfd/capabilities.xml",
		Startup:       RunningAndCandidate,
		NACMEnforce:   true,
		HelloTimeoutS: 60,
		IdleTimeoutS:  0,
		MaxSessions:   1024,
	}
}

// LoadProfileFile merges settings from an ini-formatted profile file over
// the supplied base, following the [yangc.go] pattern of reading a
// section's named keys with fallbacks. Unknown keys are ignored (spec §6
// "Unknown options are ignored").
func LoadProfileFile(base *Profile, path string) (*Profile, error) {
	p := *base
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	sec := f.Section("netconfd")

	str := func(key string, cur *string) {
		if sec.HasKey(key) {
			*cur = sec.Key(key).String()
		}
	}
	b := func(key string, cur *bool) {
		if sec.HasKey(key) {
			*cur, _ = sec.Key(key).Bool()
		}
	}
	i := func(key string, cur *int) {
		if sec.HasKey(key) {
			*cur, _ = sec.Key(key).Int()
		}
	}

	str("user", &p.User)
	str("group", &p.Group)
	str("runfile", &p.Runfile)
	str("logfile", &p.Logfile)
	str("pidfile", &p.Pidfile)
	str("yangdir", &p.YangDir)
	str("modulepath", &p.ModulePath)
	str("socket", &p.Socket)
	str("sshaddr", &p.SSHAddr)
	str("secretsgroup", &p.SecretsGroup)
	str("supergroup", &p.SuperGroup)
	str("superuser", &p.Superuser)
	str("capabilities", &p.Capabilities)
	b("nacm-enforce", &p.NACMEnforce)
	i("hello-timeout", &p.HelloTimeoutS)
	i("idle-timeout", &p.IdleTimeoutS)
	i("max-sessions", &p.MaxSessions)

	return &p, nil
}

// Context is the per-session privilege and identity bag threaded through
// dispatch and the transaction engine, generalized from configd.go's
// Context to carry a session-scoped NETCONF identity instead of a CLI
// caller's.
type Context struct {
	SessionID uint32
	User      string
	PeerAddr  string
	Groups    []string
	Superuser bool
	Raised    bool
	Profile   *Profile
	Dlog      *log.Logger
	Elog      *log.Logger
	Wlog      *log.Logger
}

// RaisePrivileges should be used sparingly: it bypasses access-control
// checks, e.g. for server-internal edits under the SYSTEM pseudo-session.
func (c *Context) RaisePrivileges() { c.Raised = true }

func (c *Context) DropPrivileges() { c.Raised = false }

// InSecretsGroup reports whether the context's identity may view nodes
// marked secret.
func InSecretsGroup(ctx *Context) bool {
	if ctx.Raised {
		return true
	}
	for _, g := range ctx.Groups {
		if g == ctx.Profile.SecretsGroup {
			return true
		}
	}
	return false
}

// NewLogger mirrors configd.go's syslog.NewLogger wrapper: a
// log.Logger backed by syslog, tagged with the running binary's name.
func NewLogger(p syslog.Priority, logFlag int) (*log.Logger, error) {
	tag := filepath.Base(os.Args[0])
	s, err := syslog.New(p, tag)
	if err != nil {
		return nil, err
	}
	return log.New(s, "", logFlag), nil
}
