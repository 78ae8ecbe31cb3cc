package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/fujin-io/evstore/public/cerr"
)

const (
	OP_LENGTH int = iota
	OP_BODY
)

// Framer reassembles frames from a byte stream. It is not safe for
// concurrent use; the connection read loop owns it.
type Framer struct {
	state  int
	argBuf []byte
	body   []byte
	need   int
}

func NewFramer() *Framer {
	return &Framer{
		argBuf: make([]byte, 0, LengthPrefixSize),
	}
}

// Feed consumes buf and calls handle once per completed frame. A malformed
// length is fatal: the framer must not be used afterwards.
func (f *Framer) Feed(buf []byte, handle func(*Package) error) error {
	for i := 0; i < len(buf); {
		switch f.state {
		case OP_LENGTH:
			take := min(LengthPrefixSize-len(f.argBuf), len(buf)-i)
			f.argBuf = append(f.argBuf, buf[i:i+take]...)
			i += take
			if len(f.argBuf) < LengthPrefixSize {
				continue
			}

			size := int(int32(binary.LittleEndian.Uint32(f.argBuf)))
			f.argBuf = f.argBuf[:0]
			if size < HeaderSize || size > MaxFrameSize {
				return fmt.Errorf("%w: %d", cerr.ErrInvalidFrameLength, size)
			}
			f.need = size
			f.body = make([]byte, 0, size)
			f.state = OP_BODY
		case OP_BODY:
			take := min(f.need-len(f.body), len(buf)-i)
			f.body = append(f.body, buf[i:i+take]...)
			i += take
			if len(f.body) < f.need {
				continue
			}

			p, err := Decode(f.body)
			f.body = nil
			f.need = 0
			f.state = OP_LENGTH
			if err != nil {
				return fmt.Errorf("decode frame: %w", err)
			}
			if err := handle(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset drops any partially buffered frame.
func (f *Framer) Reset() {
	f.state = OP_LENGTH
	f.argBuf = f.argBuf[:0]
	f.body = nil
	f.need = 0
}
