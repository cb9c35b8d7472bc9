package server

import "github.com/bnema/wayrt/protocol"

// Credentials identify the process on the other end of a connection.
type Credentials struct {
	PID        int32
	UID        uint32
	GID        uint32
	Executable string
}

// Conn is the transport handle of one peer connection. Send may buffer;
// Flush pushes buffered events to the peer. Implementations are only
// called from the dispatch goroutine.
type Conn interface {
	Credentials() Credentials
	Send(msg protocol.Message) error
	Flush() error
	Close() error
}
