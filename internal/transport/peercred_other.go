//go:build !linux

package transport

import (
	"net"

	"github.com/bnema/wayrt/server"
)

// peerCredentials is only implemented on Linux; elsewhere sessions carry
// zero credentials.
func peerCredentials(*net.UnixConn) (server.Credentials, error) {
	return server.Credentials{}, nil
}
