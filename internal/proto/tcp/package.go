// Package tcp implements the length-prefixed binary frame spoken with the
// event store: encoding, decoding and reassembly of frames split or merged
// across socket reads.
package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"github.com/google/uuid"
)

const (
	LengthPrefixSize = 4

	commandOffset       = 0
	flagsOffset         = 1
	correlationIDOffset = 2
	authOffset          = correlationIDOffset + 16

	// HeaderSize is the command, flags and correlation id part of a frame.
	HeaderSize = authOffset

	MaxFrameSize     = 64 * 1024 * 1024
	maxCredentialLen = 255
)

// Package is one frame: a command with its correlation id, optional inline
// credentials and an opaque payload.
type Package struct {
	Command       Command
	Flags         Flags
	CorrelationID uuid.UUID
	Credentials   *types.UserCredentials
	Data          []byte
}

// NewPackage builds a package, setting the authenticated flag when
// credentials are given.
func NewPackage(cmd Command, correlationID uuid.UUID, creds *types.UserCredentials, data []byte) *Package {
	p := &Package{
		Command:       cmd,
		Flags:         FLAG_NONE,
		CorrelationID: correlationID,
		Credentials:   creds,
		Data:          data,
	}
	if creds != nil {
		p.Flags |= FLAG_AUTHENTICATED
	}
	return p
}

func (p *Package) String() string {
	return fmt.Sprintf("%s {%s} flags=%d size=%d", p.Command, p.CorrelationID, p.Flags, len(p.Data))
}

// Size returns the encoded size without the length prefix.
func (p *Package) Size() int {
	n := HeaderSize + len(p.Data)
	if p.Flags&FLAG_AUTHENTICATED != 0 && p.Credentials != nil {
		n += 2 + len(p.Credentials.Username) + len(p.Credentials.Password)
	}
	return n
}

// Encode returns the frame including its 4-byte little-endian length prefix.
func Encode(p *Package) ([]byte, error) {
	return AppendEncode(nil, p)
}

// AppendEncode appends the encoded frame to buf.
func AppendEncode(buf []byte, p *Package) ([]byte, error) {
	authenticated := p.Flags&FLAG_AUTHENTICATED != 0
	if authenticated {
		if p.Credentials == nil {
			return buf, fmt.Errorf("encode %s: authenticated flag without credentials", p.Command)
		}
		if len(p.Credentials.Username) > maxCredentialLen || len(p.Credentials.Password) > maxCredentialLen {
			return buf, cerr.ErrCredentialsTooLong
		}
	}

	size := p.Size()
	if size > MaxFrameSize {
		return buf, fmt.Errorf("encode %s: %w: %d", p.Command, cerr.ErrInvalidFrameLength, size)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = append(buf, byte(p.Command), byte(p.Flags))
	buf = append(buf, p.CorrelationID[:]...)
	if authenticated {
		buf = append(buf, byte(len(p.Credentials.Username)))
		buf = append(buf, p.Credentials.Username...)
		buf = append(buf, byte(len(p.Credentials.Password)))
		buf = append(buf, p.Credentials.Password...)
	}
	buf = append(buf, p.Data...)
	return buf, nil
}

// Decode parses a frame body, i.e. the bytes following the length prefix.
// The returned package owns a copy of the payload.
func Decode(body []byte) (*Package, error) {
	if len(body) < HeaderSize {
		return nil, fmt.Errorf("%w: body of %d bytes is shorter than header", cerr.ErrInvalidFrameLength, len(body))
	}

	p := &Package{
		Command: Command(body[commandOffset]),
		Flags:   Flags(body[flagsOffset]),
	}
	copy(p.CorrelationID[:], body[correlationIDOffset:authOffset])

	offset := authOffset
	if p.Flags&FLAG_AUTHENTICATED != 0 {
		login, next, err := readLenPrefixed(body, offset)
		if err != nil {
			return nil, fmt.Errorf("decode login: %w", err)
		}
		pass, next, err := readLenPrefixed(body, next)
		if err != nil {
			return nil, fmt.Errorf("decode password: %w", err)
		}
		p.Credentials = &types.UserCredentials{Username: login, Password: pass}
		offset = next
	}

	p.Data = make([]byte, len(body)-offset)
	copy(p.Data, body[offset:])
	return p, nil
}

func readLenPrefixed(body []byte, offset int) (string, int, error) {
	if offset >= len(body) {
		return "", offset, cerr.ErrInvalidFrameLength
	}
	n := int(body[offset])
	offset++
	if offset+n > len(body) {
		return "", offset, cerr.ErrInvalidFrameLength
	}
	return string(body[offset : offset+n]), offset + n, nil
}
