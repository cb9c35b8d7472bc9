//go:build linux

package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/bnema/wayrt/server"
)

// peerCredentials reads SO_PEERCRED from c and resolves the executable
// through /proc. A missing executable is not an error: the process may
// already be gone or hidden from us.
func peerCredentials(c *net.UnixConn) (server.Credentials, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return server.Credentials{}, fmt.Errorf("failed to access socket: %w", err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return server.Credentials{}, fmt.Errorf("failed to access socket: %w", err)
	}
	if credErr != nil {
		return server.Credentials{}, fmt.Errorf("failed to read SO_PEERCRED: %w", credErr)
	}

	creds := server.Credentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}
	if exe, err := os.Readlink("/proc/" + strconv.Itoa(int(cred.Pid)) + "/exe"); err == nil {
		creds.Executable = exe
	}
	return creds, nil
}
