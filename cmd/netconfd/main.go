// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
netconfd is a NETCONF protocol server. It manages a running/candidate
configuration datastore pair and serves the base NETCONF operations over
a local Unix-domain socket and, optionally, SSH.

Usage:

	-confdir=<dir>
		Optional directory holding a netconfd.ini profile file, merged
		under CLI flag values (CLI flags win).
	-logfile=<filename>
		Redirect std{out,err} to the supplied file.
	-pidfile=<filename>
		Write pid to the supplied file (default: /run/netconfd/netconfd.pid).
	-runfile=<filename>
		File the running datastore is persisted to.
	-yangdir=<dir>
		Directory of .yang module sources indexed for get-schema.
	-socket=<path>
		Local transport socket path.
	-sshaddr=<addr>
		Optional TCP address to also serve the NETCONF SSH subsystem on.
	-superuser=<name>
		Username exempted from access-control enforcement.
	-nacm-enforce
		Enable NACM-style access-control enforcement (default true).
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"log/syslog"
	"net"
	"os"
	"os/user"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"golang.org/x/sync/semaphore"

	"github.com/danos/netconfd/internal/config"
	"github.com/danos/netconfd/internal/lifecycle"
	"github.com/danos/netconfd/internal/nsreg"
	"github.com/danos/netconfd/internal/schema"
)

var elog *log.Logger

var (
	confdir      = flag.String("confdir", "", "Directory holding an optional netconfd.ini profile file.")
	logfile      = flag.String("logfile", "", "Redirect std{out,err} to supplied file.")
	pidfile      = flag.String("pidfile", "", "Write pid to supplied file.")
	runfile      = flag.String("runfile", "", "File to persist the running datastore into.")
	yangdir      = flag.String("yangdir", "", "Directory of .yang sources to index for get-schema.")
	socket       = flag.String("socket", "", "Path to local transport socket.")
	sshaddr      = flag.String("sshaddr", "", "Optional TCP address to serve the NETCONF SSH subsystem on.")
	username     = flag.String("user", "", "User that owns the local socket.")
	groupname    = flag.String("group", "", "Group that owns the local socket.")
	superuser    = flag.String("superuser", "", "Username exempted from access-control enforcement.")
	nacmEnforce  = flag.Bool("nacm-enforce", true, "Enable NACM-style access-control enforcement.")
	helloTimeout = flag.Int("hello-timeout", 0, "Seconds a session may sit in hello-wait before being dropped.")
	idleTimeout  = flag.Int("idle-timeout", 0, "Seconds a session may sit idle before being dropped (0 = unbounded).")
	maxSessions  = flag.Int("max-sessions", 0, "Hard cap on concurrent sessions.")
)

func fatal(err error) {
	if err == nil {
		return
	}
	log.Println(err)
	if elog != nil {
		elog.Fatal(err)
	}
	os.Exit(1)
}

func initialiseLogging() {
	var err error
	if *logfile != "" {
		f, e := os.OpenFile(*logfile, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
		if e == nil {
			os.Stdout = f
			os.Stderr = f
		}
	}
	for i := 0; i < 5; i++ {
		elog, err = config.NewLogger(syslog.LOG_ERR|syslog.LOG_DAEMON, 0)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		elog = log.New(os.Stderr, "", 0)
	}
}

func writePid(path string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n", os.Getpid())
}

// buildProfile merges CLI flags over the compiled-in defaults and an
// optional profile file (spec §4.9 Phase 1, SPEC_FULL.md's [AMBIENT]
// Configuration / CLI section).
func buildProfile() *config.Profile {
	p := config.Default()
	if *confdir != "" {
		if merged, err := config.LoadProfileFile(p, *confdir+"/netconfd.ini"); err == nil {
			p = merged
		}
	}
	if *pidfile != "" {
		p.Pidfile = *pidfile
	}
	if *runfile != "" {
		p.Runfile = *runfile
	}
	if *yangdir != "" {
		p.YangDir = *yangdir
	}
	if *socket != "" {
		p.Socket = *socket
	}
	if *sshaddr != "" {
		p.SSHAddr = *sshaddr
	}
	if *username != "" {
		p.User = *username
	}
	if *groupname != "" {
		p.Group = *groupname
	}
	if *superuser != "" {
		p.Superuser = *superuser
	}
	p.NACMEnforce = *nacmEnforce
	if *helloTimeout != 0 {
		p.HelloTimeoutS = *helloTimeout
	}
	if *idleTimeout != 0 {
		p.IdleTimeoutS = *idleTimeout
	}
	if *maxSessions != 0 {
		p.MaxSessions = *maxSessions
	}
	return p
}

// bundledModelSet is the minimal built-in schema module set spec §4.9
// ("built-in schema modules") names, standing in for the external YANG
// compiler out of scope per spec §1; it gives the daemon something real
// to serve over <get>/<get-config>/<edit-config> out of the box.
func bundledModelSet() *schema.ModelSet {
	ms := schema.NewModelSet()
	system := schema.NewObject("system", "urn:netconfd:system", schema.Container)
	hostname := schema.NewObject("hostname", "urn:netconfd:system", schema.Leaf)
	hostname.Default = "netconfd"
	system.AddChild(hostname)
	ms.Register(system)
	return ms
}

func getListener(profile *config.Profile) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) > 0 {
		return listeners[0], nil
	}

	fmt.Println("No systemd listeners")
	if err := os.Remove(profile.Socket); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ua, err := net.ResolveUnixAddr("unix", profile.Socket)
	if err != nil {
		return nil, err
	}
	l, err := net.ListenUnix("unix", ua)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(profile.Socket, 0770); err != nil {
		return nil, err
	}
	uid, gid := lookupIds(profile.User, profile.Group)
	os.Chown(profile.Socket, uid, gid)
	return l, nil
}

func lookupIds(username, groupname string) (uid, gid int) {
	if u, err := user.Lookup(username); err == nil {
		uid, _ = strconv.Atoi(u.Uid)
	}
	if g, err := user.LookupGroup(groupname); err == nil {
		gid, _ = strconv.Atoi(g.Gid)
	}
	return uid, gid
}

func main() {
	debug.SetGCPercent(25)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	initialiseLogging()

	profile := buildProfile()
	ctrl, err := lifecycle.New(profile)
	fatal(err)

	fatal(ctrl.Start(bundledModelSet()))

	l, err := getListener(profile)
	fatal(err)

	writePid(profile.Pidfile)

	runtime.GC()
	debug.FreeOSMemory()

	ns := nsreg.New()

	// Bound the number of in-flight connection-setup goroutines to the
	// session table's own ceiling: a burst of connecting peers beyond
	// capacity waits here instead of spawning unbounded goroutines that
	// would all immediately fail netsession.Registry.Create anyway.
	sem := semaphore.NewWeighted(int64(profile.MaxSessions))

	go acceptLoop(ctrl, l, ns, sem)
	if profile.SSHAddr != "" {
		go serveSSH(ctrl, profile, ns, sem)
	}

	mode := <-ctrl.ShutdownRequests()
	l.Close()
	ctrl.Teardown()

	switch mode {
	case lifecycle.ShutdownReset:
		os.Exit(0)
	default:
		os.Exit(0)
	}
}
