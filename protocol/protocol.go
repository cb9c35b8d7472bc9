// Package protocol holds the wire-level vocabulary shared by the runtime and
// the domain packages: interface descriptors, object ids, typed arguments and
// the core wl_display opcodes and error codes.
//
// The runtime never defines message layouts of its own. Opcodes and error
// codes mirror the published protocol XML and are treated as fixed constants.
package protocol

import (
	"fmt"
	"math"
)

// ObjectID identifies a protocol object within one connection.
type ObjectID uint32

// ServerIDBase is the first object id the server side allocates.
const ServerIDBase ObjectID = 0xff000000

// DisplayID is the id of the wl_display singleton on every connection.
const DisplayID ObjectID = 1

// IsClientID reports whether the id lies in the client-allocated range.
func (id ObjectID) IsClientID() bool {
	return id != 0 && id < ServerIDBase
}

// Interface describes a protocol interface by name and highest version the
// implementation understands.
type Interface struct {
	Name    string
	Version uint32
}

func (i Interface) String() string {
	return fmt.Sprintf("%s@v%d", i.Name, i.Version)
}

// NewID is a new_id argument. Interface and Version are only set for
// untyped new_id arguments such as wl_registry.bind.
type NewID struct {
	ID        ObjectID
	Interface string
	Version   uint32
}

// Fixed is a 24.8 signed fixed-point number.
type Fixed int32

// FixedFromInt converts an integer to Fixed.
func FixedFromInt(v int) Fixed {
	return Fixed(v << 8)
}

// FixedFromFloat converts a float to Fixed, rounding to the nearest step.
func FixedFromFloat(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

// Float returns the value as float64.
func (f Fixed) Float() float64 {
	return float64(f) / 256
}

// Int returns the integer part, truncated toward negative infinity.
func (f Fixed) Int() int {
	return int(f >> 8)
}

// FD is a file descriptor argument.
type FD int

// Message is one request or event on the wire.
type Message struct {
	Object ObjectID
	Opcode uint16
	Args   Args
}

func (m Message) String() string {
	return fmt.Sprintf("%d.%d%v", m.Object, m.Opcode, []any(m.Args))
}

// wl_display requests.
const (
	DisplaySync        uint16 = 0
	DisplayGetRegistry uint16 = 1
)

// wl_display events.
const (
	DisplayEventError    uint16 = 0
	DisplayEventDeleteID uint16 = 1
)

// wl_display error codes.
const (
	ErrorInvalidObject  uint32 = 0
	ErrorInvalidMethod  uint32 = 1
	ErrorNoMemory       uint32 = 2
	ErrorImplementation uint32 = 3
)

// wl_registry requests and events.
const (
	RegistryBind uint16 = 0

	RegistryEventGlobal       uint16 = 0
	RegistryEventGlobalRemove uint16 = 1
)

// wl_callback events.
const CallbackEventDone uint16 = 0

var (
	DisplayInterface  = Interface{Name: "wl_display", Version: 1}
	RegistryInterface = Interface{Name: "wl_registry", Version: 1}
	CallbackInterface = Interface{Name: "wl_callback", Version: 1}
)
