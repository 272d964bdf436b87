// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package dispatch

import (
	"strconv"
	"time"

	"github.com/danos/netconfd/internal/config"
	"github.com/danos/netconfd/internal/netsession"
	"github.com/danos/netconfd/internal/rpcerror"
)

// NcxConnectMagic is the shared password string a local-transport peer
// must present in its <ncx-connect> bootstrap element, mirroring
// agt_connect.c's "magic password string" check. Exported so local
// clients of the local transport (cmd/ncxprobe) can construct a valid
// bootstrap element without duplicating the literal.
const NcxConnectMagic = "netconfd-0001"

// NcxConnectVersion is the only ncx-connect protocol version this server
// understands (agt_connect.c's NCX_SERVER_VERSION check).
const NcxConnectVersion = "1"

// HandleNcxConnect validates a decoded <ncx-connect> bootstrap element's
// attributes (spec §6 "Wire framing": version, magic, transport, port,
// user, address) against the server profile. It is invoked directly from
// the connection loop rather than through the RPC handler table, since
// ncx-connect is not itself an RPC (spec §4.3 "only valid in the init
// state"). On success it returns the user name and peer address to
// attribute to the session and records a session-start notification; on
// failure it returns the protocol error the session must close with.
func HandleNcxConnect(d *Dispatcher, sess *netsession.Session, attrs map[string]string) (user, peerAddr string, rerr *rpcerror.Error) {
	if attrs["version"] == "" {
		return "", "", rpcerror.NewMissingAttributeProtocolError("version")
	}
	if attrs["version"] != NcxConnectVersion {
		return "", "", rpcerror.NewAccessDeniedProtocolError()
	}
	if attrs["magic"] == "" {
		return "", "", rpcerror.NewMissingAttributeProtocolError("magic")
	}
	if attrs["magic"] != NcxConnectMagic {
		return "", "", rpcerror.NewAccessDeniedProtocolError()
	}

	transport := attrs["transport"]
	switch transport {
	case "ssh":
		if rerr := checkSSHPort(d.Profile, attrs["port"]); rerr != nil {
			return "", "", rerr
		}
	case "local":
		// no further checks; the local socket is already access-controlled
		// by filesystem permissions (cmd/netconfd/main.go's socket chmod/chown).
	default:
		return "", "", rpcerror.NewMissingAttributeProtocolError("transport")
	}

	user = attrs["user"]
	if user == "" {
		return "", "", rpcerror.NewMissingAttributeProtocolError("user")
	}
	peerAddr = attrs["address"]
	if peerAddr == "" {
		return "", "", rpcerror.NewMissingAttributeProtocolError("address")
	}

	d.Bus.SessionStarted(sess.ID, user, time.Now())
	return user, peerAddr, nil
}

func checkSSHPort(profile *config.Profile, portAttr string) *rpcerror.Error {
	if portAttr == "" {
		return rpcerror.NewMissingAttributeProtocolError("port")
	}
	port, err := strconv.Atoi(portAttr)
	if err != nil {
		return rpcerror.NewAccessDeniedProtocolError()
	}
	if len(profile.SSHPorts) == 0 {
		return nil
	}
	for _, allowed := range profile.SSHPorts {
		if allowed == port {
			return nil
		}
	}
	return rpcerror.NewAccessDeniedProtocolError()
}
