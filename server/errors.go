package server

import (
	"errors"
	"fmt"

	"github.com/bnema/wayrt/protocol"
)

var (
	// ErrObjectExists is returned when a client reuses a live object id.
	ErrObjectExists = errors.New("object id already in use")
	// ErrInvalidObjectID is returned for a zero or out-of-range new id.
	ErrInvalidObjectID = errors.New("invalid object id")
	// ErrSessionClosed is returned when operating on a destroyed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoMemory signals that a binding could not be allocated. It is
	// reported to the peer as wl_display.no_memory.
	ErrNoMemory = errors.New("out of memory")
)

// ProtocolError is a protocol violation attributed to one resource. A
// RequestHandler or Binder returns it to have the display post the error
// against the offending object and disconnect the peer.
type ProtocolError struct {
	// Resource the error is raised against. When nil the resource that
	// was dispatched to is used.
	Resource *Resource
	// Interface names the interface Code belongs to, for logging only.
	Interface string
	Code      uint32
	Message   string
}

func (e *ProtocolError) Error() string {
	obj := "?"
	if e.Resource != nil {
		obj = fmt.Sprintf("%s#%d", e.Resource.Interface().Name, e.Resource.ID())
	}
	return fmt.Sprintf("protocol error on %s: %s code %d: %s", obj, e.Interface, e.Code, e.Message)
}

// NewProtocolError builds a ProtocolError against r.
func NewProtocolError(r *Resource, code uint32, format string, args ...any) *ProtocolError {
	iface := ""
	if r != nil {
		iface = r.Interface().Name
	}
	return &ProtocolError{
		Resource:  r,
		Interface: iface,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
	}
}

// UnknownOpcode is the error handlers return for a request opcode they do
// not implement.
func UnknownOpcode(r *Resource, opcode uint16) *ProtocolError {
	return &ProtocolError{
		Resource:  r,
		Interface: protocol.DisplayInterface.Name,
		Code:      protocol.ErrorInvalidMethod,
		Message:   fmt.Sprintf("invalid method %d on %s@%d", opcode, r.Interface().Name, r.ID()),
	}
}

// InvalidObject is the error for a request referencing an object that does
// not exist or has the wrong interface.
func InvalidObject(r *Resource, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Resource:  r,
		Interface: protocol.DisplayInterface.Name,
		Code:      protocol.ErrorInvalidObject,
		Message:   fmt.Sprintf(format, args...),
	}
}
