package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every argument decoding failure.
var ErrMalformed = errors.New("malformed message")

// Args is the ordered argument list of a message. Elements are one of
// uint32, int32, string, Fixed, ObjectID, NewID, []byte or FD.
type Args []any

// Reader returns a sequential reader over the arguments.
func (a Args) Reader() *ArgReader {
	return &ArgReader{args: a}
}

// ArgReader reads typed arguments in order and remembers the first error,
// so handlers can decode a whole request before checking Err once.
type ArgReader struct {
	args Args
	pos  int
	err  error
}

func (r *ArgReader) next(kind string) any {
	if r.err != nil {
		return nil
	}
	if r.pos >= len(r.args) {
		r.err = fmt.Errorf("%w: missing %s argument %d", ErrMalformed, kind, r.pos)
		return nil
	}
	v := r.args[r.pos]
	r.pos++
	return v
}

func (r *ArgReader) mismatch(kind string, v any) {
	r.err = fmt.Errorf("%w: argument %d is %T, want %s", ErrMalformed, r.pos-1, v, kind)
}

// Uint reads a uint argument.
func (r *ArgReader) Uint() uint32 {
	v := r.next("uint")
	if r.err != nil {
		return 0
	}
	u, ok := v.(uint32)
	if !ok {
		r.mismatch("uint", v)
	}
	return u
}

// Int reads an int argument.
func (r *ArgReader) Int() int32 {
	v := r.next("int")
	if r.err != nil {
		return 0
	}
	i, ok := v.(int32)
	if !ok {
		r.mismatch("int", v)
	}
	return i
}

// String reads a string argument.
func (r *ArgReader) String() string {
	v := r.next("string")
	if r.err != nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.mismatch("string", v)
	}
	return s
}

// Fixed reads a fixed argument.
func (r *ArgReader) Fixed() Fixed {
	v := r.next("fixed")
	if r.err != nil {
		return 0
	}
	f, ok := v.(Fixed)
	if !ok {
		r.mismatch("fixed", v)
	}
	return f
}

// Object reads an object argument. A zero id means null.
func (r *ArgReader) Object() ObjectID {
	v := r.next("object")
	if r.err != nil {
		return 0
	}
	id, ok := v.(ObjectID)
	if !ok {
		r.mismatch("object", v)
	}
	return id
}

// NewID reads a new_id argument. Typed new_id arguments may be sent as a
// bare ObjectID.
func (r *ArgReader) NewID() NewID {
	v := r.next("new_id")
	if r.err != nil {
		return NewID{}
	}
	switch n := v.(type) {
	case NewID:
		return n
	case ObjectID:
		return NewID{ID: n}
	default:
		r.mismatch("new_id", v)
		return NewID{}
	}
}

// Array reads an array argument.
func (r *ArgReader) Array() []byte {
	v := r.next("array")
	if r.err != nil {
		return nil
	}
	b, ok := v.([]byte)
	if !ok {
		r.mismatch("array", v)
	}
	return b
}

// Err returns the first decoding error.
func (r *ArgReader) Err() error {
	return r.err
}
