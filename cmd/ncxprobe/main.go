// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2015 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
ncxprobe is a minimal NETCONF diagnostic client: it connects to netconfd's
local socket, completes the ncx-connect/hello handshake, sends one <rpc>,
and prints the reply. It is a diagnostic tool only, analogous to the
teacher's cmd/callrpc — not a scripting or automation layer.

Usage:

	ncxprobe [-socket path] <operation> [<inner-xml>]

Example:

	ncxprobe get-config '<source><running/></source>'
*/
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"

	"github.com/danos/netconfd/internal/dispatch"
	"github.com/danos/netconfd/internal/framing"
)

var socket = flag.String("socket", "/run/netconfd/main.sock", "Path to netconfd's local socket.")

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}

func showUsageAndExit() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "    %s [-socket path] <operation> [<inner-xml>]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "ncxprobe"
}

// probe drives one ncx-connect/hello/rpc exchange over conn, returning the
// decoded <rpc-reply> bytes.
type probe struct {
	conn net.Conn
	dec  *framing.Decoder
	enc  *framing.Encoder
}

func newProbe(conn net.Conn) *probe {
	return &probe{
		conn: conn,
		dec:  framing.NewDecoder(framing.EndOfMessage),
		enc:  framing.NewEncoder(framing.EndOfMessage),
	}
}

func (p *probe) send(body string) error {
	_, err := p.conn.Write(p.enc.Encode([]byte(body)))
	return err
}

// recv blocks until the framing decoder has a complete message, reading
// directly off the connection (no pipelining needed for a one-shot probe).
func (p *probe) recv() ([]byte, error) {
	buf := make([]byte, 16*1024)
	for {
		if msgs := p.dec.Take(); len(msgs) > 0 {
			return msgs[0], nil
		}
		n, err := p.conn.Read(buf)
		if n > 0 {
			if feedErr := p.dec.Feed(buf[:n]); feedErr != nil {
				return nil, feedErr
			}
			if msgs := p.dec.Take(); len(msgs) > 0 {
				return msgs[0], nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		showUsageAndExit()
	}
	operation := args[0]
	body := ""
	if len(args) > 1 {
		body = args[1]
	}

	conn, err := net.Dial("unix", *socket)
	fatal(err)
	defer conn.Close()

	p := newProbe(conn)

	connectMsg := fmt.Sprintf(
		`<ncx-connect version="%s" magic="%s" transport="local" user="%s" address="local"/>`,
		dispatch.NcxConnectVersion, dispatch.NcxConnectMagic, currentUser())
	fatal(p.send(connectMsg))

	serverHello, err := p.recv()
	fatal(err)
	_ = serverHello // advertised capabilities are not inspected; a probe only needs base:1.0

	clientHello := `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">` +
		`<capabilities><capability>urn:ietf:params:netconf:base:1.0</capability></capabilities></hello>`
	fatal(p.send(clientHello))

	rpc := fmt.Sprintf(
		`<rpc xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="1"><%s>%s</%s></rpc>`,
		operation, body, operation)
	fatal(p.send(rpc))

	reply, err := p.recv()
	if err != nil && err != io.EOF {
		fatal(err)
	}
	fmt.Println(string(reply))
}
