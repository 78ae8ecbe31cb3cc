// Package messages encodes and decodes the protobuf-compatible payloads
// carried inside frames. Field numbers follow the server's DTO schema; the
// encoding is done with protowire so no generated code is needed.
package messages

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed message")

// Message is implemented by every DTO.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

type encoder struct {
	b []byte
}

func (e *encoder) string(n protowire.Number, s string) {
	e.b = protowire.AppendTag(e.b, n, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

func (e *encoder) bytes(n protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, n, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) int64(n protowire.Number, v int64) {
	e.b = protowire.AppendTag(e.b, n, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, uint64(v))
}

func (e *encoder) int32(n protowire.Number, v int32) {
	e.int64(n, int64(v))
}

func (e *encoder) bool(n protowire.Number, v bool) {
	e.b = protowire.AppendTag(e.b, n, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeBool(v))
}

func (e *encoder) message(n protowire.Number, m Message) {
	e.bytes(n, m.Marshal())
}

// field is one decoded wire field. For varints u is set, for length
// delimited fields v is set.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	v   []byte
}

func (f field) int64() int64   { return int64(f.u) }
func (f field) int32() int32   { return int32(f.u) }
func (f field) bool() bool     { return protowire.DecodeBool(f.u) }
func (f field) string() string { return string(f.v) }

func (f field) bytes() []byte {
	out := make([]byte, len(f.v))
	copy(out, f.v)
	return out
}

func decode(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				b = b[n:]
				continue
			}
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
