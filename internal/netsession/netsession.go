// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package netsession implements the session registry (spec §4.3, §3
// "Session"): per-session identity, lifecycle state, counters, and a
// bounded session-ID pool with wrap-around reuse. Generalized from
// session/sessionmgr.go's mutex-guarded session table, widened from a
// string-keyed CLI session id to the NETCONF numeric session-id pool
// the spec requires.
package netsession

import (
	"fmt"
	"sync"
	"time"
)

// State is a session's position in the dispatch lifecycle (spec §4.3
// "States").
type State int

const (
	Init State = iota
	HelloWait
	Idle
	InMsg
	ShutdownRequested
	Shutdown
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case HelloWait:
		return "hello-wait"
	case Idle:
		return "idle"
	case InMsg:
		return "in-msg"
	case ShutdownRequested:
		return "shutdown-requested"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// Counters are the per-session statistics exposed read-only to <get>
// queries via virtual nodes (spec §4.3 "Per-session counters").
type Counters struct {
	InRPCs          uint64
	BadRPCs         uint64
	OutRPCErrors    uint64
	OutNotifications uint64
}

// Session is one connected NETCONF peer (spec §3 "Session").
type Session struct {
	mu sync.Mutex

	ID              uint32
	User            string
	PeerAddr        string
	Transport       string
	ProtocolVersion string

	state         State
	LastRPC       time.Time
	Counters      Counters
	Notifications bool // has an active <create-subscription>

	lockedBy uint32 // 0 = unlocked; full <lock> on running
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) Lock(owner uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedBy != 0 && s.lockedBy != owner {
		return false
	}
	s.lockedBy = owner
	return true
}

func (s *Session) Unlock(owner uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedBy != owner {
		return false
	}
	s.lockedBy = 0
	return true
}

func (s *Session) LockedBy() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedBy
}

// ErrResourceDenied is returned by Create once the registry is at its
// configured session-count ceiling (spec §8 boundary: "Session count at
// the hard cap → new connect receives resource-denied").
type ErrResourceDenied struct{}

func (ErrResourceDenied) Error() string { return "resource-denied: session table full" }

// Registry is the process-wide session table (spec §5 "Shared resources").
// Session IDs are dispensed from a bounded pool; id 0 is reserved for
// server-internal pseudo-sessions and is never handed out.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	maxID    uint32
	next     uint32
}

func New(maxSessions int) *Registry {
	return &Registry{
		sessions: make(map[uint32]*Session),
		maxID:    uint32(maxSessions),
		next:     1,
	}
}

// Create allocates a new session ID from the pool and registers a
// Session under it. IDs wrap around and are scanned for a free slot once
// the dispenser runs past maxID (spec §3 "a wrap-around scan if the
// dispenser exhausts").
func (r *Registry) Create(user, peerAddr, transport string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint32(len(r.sessions)) >= r.maxID {
		return nil, ErrResourceDenied{}
	}

	id, ok := r.allocateID()
	if !ok {
		return nil, ErrResourceDenied{}
	}

	sess := &Session{
		ID:        id,
		User:      user,
		PeerAddr:  peerAddr,
		Transport: transport,
		state:     Init,
		LastRPC:   time.Now(),
	}
	r.sessions[id] = sess
	return sess, nil
}

func (r *Registry) allocateID() (uint32, bool) {
	start := r.next
	for {
		candidate := r.next
		r.next++
		if r.next > r.maxID {
			r.next = 1
		}
		if _, taken := r.sessions[candidate]; !taken && candidate != 0 {
			return candidate, true
		}
		if r.next == start {
			return 0, false
		}
	}
}

func (r *Registry) Get(id uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Destroy removes id from the table; it does not itself close the
// transport, that is the dispatch core's job once outbound buffers have
// drained (spec §8: "all outbound buffers enqueued before the
// transition are fully written").
func (r *Registry) Destroy(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// All returns a snapshot of every live session, e.g. for notification
// fan-out or kill-session lookups by id.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AllowedTransition reports whether cur may accept an element of class
// elem (spec §4.3 item 1: "check the session's lifecycle state permits
// this element class").
func AllowedTransition(cur State, elem string) bool {
	switch elem {
	case "ncx-connect":
		return cur == Init
	case "hello":
		return cur == HelloWait
	case "rpc":
		return cur == Idle
	}
	return false
}

func (s *Session) String() string {
	return fmt.Sprintf("session %d (%s@%s) state=%s", s.ID, s.User, s.PeerAddr, s.State())
}
