package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bnema/wayrt/protocol"
)

// MaxFrameSize bounds a single encoded message.
const MaxFrameSize = 64 << 10

var (
	// ErrFrameTooLarge is returned for frames above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrUnsupportedArg is returned for argument types the stream cannot
	// carry, such as file descriptors.
	ErrUnsupportedArg = errors.New("unsupported argument type")
)

// Message record fields.
const (
	fieldObject protowire.Number = 1
	fieldOpcode protowire.Number = 2
	fieldArg    protowire.Number = 3
)

// Argument record fields. Exactly one is set per argument.
const (
	argUint   protowire.Number = 1
	argInt    protowire.Number = 2
	argString protowire.Number = 3
	argFixed  protowire.Number = 4
	argObject protowire.Number = 5
	argNewID  protowire.Number = 6
	argArray  protowire.Number = 7
)

// NewID record fields.
const (
	newIDID        protowire.Number = 1
	newIDInterface protowire.Number = 2
	newIDVersion   protowire.Number = 3
)

// AppendMessage appends the length-prefixed encoding of m to b.
func AppendMessage(b []byte, m protocol.Message) ([]byte, error) {
	body, err := marshalMessage(m)
	if err != nil {
		return b, err
	}
	if len(body) > MaxFrameSize {
		return b, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	return protowire.AppendBytes(b, body), nil
}

func marshalMessage(m protocol.Message) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldObject, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Object))
	b = protowire.AppendTag(b, fieldOpcode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Opcode))
	for i, a := range m.Args {
		arg, err := marshalArg(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %d.%d: %w", i, m.Object, m.Opcode, err)
		}
		b = protowire.AppendTag(b, fieldArg, protowire.BytesType)
		b = protowire.AppendBytes(b, arg)
	}
	return b, nil
}

func marshalArg(a any) ([]byte, error) {
	var b []byte
	switch v := a.(type) {
	case uint32:
		b = protowire.AppendTag(b, argUint, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	case int32:
		b = protowire.AppendTag(b, argInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
	case string:
		b = protowire.AppendTag(b, argString, protowire.BytesType)
		b = protowire.AppendString(b, v)
	case protocol.Fixed:
		b = protowire.AppendTag(b, argFixed, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(v))
	case protocol.ObjectID:
		b = protowire.AppendTag(b, argObject, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	case protocol.NewID:
		var n []byte
		n = protowire.AppendTag(n, newIDID, protowire.VarintType)
		n = protowire.AppendVarint(n, uint64(v.ID))
		if v.Interface != "" {
			n = protowire.AppendTag(n, newIDInterface, protowire.BytesType)
			n = protowire.AppendString(n, v.Interface)
			n = protowire.AppendTag(n, newIDVersion, protowire.VarintType)
			n = protowire.AppendVarint(n, uint64(v.Version))
		}
		b = protowire.AppendTag(b, argNewID, protowire.BytesType)
		b = protowire.AppendBytes(b, n)
	case []byte:
		b = protowire.AppendTag(b, argArray, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedArg, a)
	}
	return b, nil
}

// UnmarshalMessage decodes one message record without its length prefix.
func UnmarshalMessage(b []byte) (protocol.Message, error) {
	var m protocol.Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldObject && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, malformed(protowire.ParseError(n))
			}
			m.Object = protocol.ObjectID(v)
			b = b[n:]
		case num == fieldOpcode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, malformed(protowire.ParseError(n))
			}
			if v > 0xffff {
				return m, malformed(fmt.Errorf("opcode %d out of range", v))
			}
			m.Opcode = uint16(v)
			b = b[n:]
		case num == fieldArg && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, malformed(protowire.ParseError(n))
			}
			a, err := unmarshalArg(raw)
			if err != nil {
				return m, err
			}
			m.Args = append(m.Args, a)
			b = b[n:]
		default:
			return m, malformed(fmt.Errorf("unexpected field %d", num))
		}
	}
	if m.Object == 0 {
		return m, malformed(errors.New("missing object id"))
	}
	return m, nil
}

func unmarshalArg(b []byte) (any, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, malformed(protowire.ParseError(n))
	}
	b = b[n:]

	var (
		out any
		err error
	)
	switch {
	case num == argUint && typ == protowire.VarintType:
		var v uint64
		v, n = protowire.ConsumeVarint(b)
		out = uint32(v)
	case num == argInt && typ == protowire.VarintType:
		var v uint64
		v, n = protowire.ConsumeVarint(b)
		out = int32(protowire.DecodeZigZag(v))
	case num == argString && typ == protowire.BytesType:
		var v string
		v, n = protowire.ConsumeString(b)
		out = v
	case num == argFixed && typ == protowire.Fixed32Type:
		var v uint32
		v, n = protowire.ConsumeFixed32(b)
		out = protocol.Fixed(int32(v))
	case num == argObject && typ == protowire.VarintType:
		var v uint64
		v, n = protowire.ConsumeVarint(b)
		out = protocol.ObjectID(v)
	case num == argNewID && typ == protowire.BytesType:
		var raw []byte
		raw, n = protowire.ConsumeBytes(b)
		if n >= 0 {
			out, err = unmarshalNewID(raw)
		}
	case num == argArray && typ == protowire.BytesType:
		var v []byte
		v, n = protowire.ConsumeBytes(b)
		out = append([]byte{}, v...)
	default:
		return nil, malformed(fmt.Errorf("unknown argument field %d", num))
	}
	if n < 0 {
		return nil, malformed(protowire.ParseError(n))
	}
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, malformed(errors.New("trailing bytes in argument"))
	}
	return out, nil
}

func unmarshalNewID(b []byte) (protocol.NewID, error) {
	var id protocol.NewID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return id, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == newIDID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return id, malformed(protowire.ParseError(n))
			}
			id.ID = protocol.ObjectID(v)
			b = b[n:]
		case num == newIDInterface && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return id, malformed(protowire.ParseError(n))
			}
			id.Interface = v
			b = b[n:]
		case num == newIDVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return id, malformed(protowire.ParseError(n))
			}
			id.Version = uint32(v)
			b = b[n:]
		default:
			return id, malformed(fmt.Errorf("unknown new_id field %d", num))
		}
	}
	return id, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
}

// Decoder reads length-prefixed messages from a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next message. It returns io.EOF at a clean end of
// stream.
func (d *Decoder) Decode() (protocol.Message, error) {
	size, err := binary.ReadUvarint(d.r)
	if err != nil {
		return protocol.Message{}, err
	}
	if size > MaxFrameSize {
		return protocol.Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return protocol.Message{}, fmt.Errorf("failed to read frame: %w", err)
	}
	return UnmarshalMessage(buf)
}

// Encoder buffers length-prefixed messages until Flush.
type Encoder struct {
	w   *bufio.Writer
	buf []byte
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode buffers m.
func (e *Encoder) Encode(m protocol.Message) error {
	var err error
	e.buf, err = AppendMessage(e.buf[:0], m)
	if err != nil {
		return err
	}
	_, err = e.w.Write(e.buf)
	return err
}

// Flush writes buffered messages to the stream.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}
