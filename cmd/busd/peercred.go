// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/busline/busd/lib/frame"
)

// peerCredentials reads the SO_PEERCRED ancillary credential of a
// Unix socket connection, the same golang.org/x/sys/unix surface the
// sealed-memory and secret packages already use for memfd/mlock
// syscalls. This is how busd learns the real uid/gid/pid of whoever
// dialed the socket, rather than trusting a self-reported value on
// the wire.
func peerCredentials(conn net.Conn) (frame.Credentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return frame.Credentials{}, fmt.Errorf("peer credentials: not a Unix socket connection")
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return frame.Credentials{}, fmt.Errorf("peer credentials: %w", err)
	}

	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return frame.Credentials{}, fmt.Errorf("peer credentials: %w", err)
	}
	if sockErr != nil {
		return frame.Credentials{}, fmt.Errorf("peer credentials: SO_PEERCRED: %w", sockErr)
	}

	return frame.Credentials{UID: ucred.Uid, GID: ucred.Gid, PID: uint32(ucred.Pid)}, nil
}
