// Package wire frames cached query results with the collection generation
// they were read under.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

// Kind tells what the payload of an entry holds.
type Kind byte

const (
	KindOne  Kind = 1 // a single record
	KindNone Kind = 2 // FindOne found nothing; empty payload
	KindMany Kind = 3 // a record list, possibly empty
)

func (k Kind) valid() bool { return k >= KindOne && k <= KindMany }

var (
	ErrCorrupt = errors.New("docache: corrupt entry")
	magic4     = [...]byte{'D', 'O', 'C', 'E'}
)

const header = 4 + 1 + 1 + 8 + 4

// Encode frames payload as
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | vlen(u32 be) | payload(vlen)
func Encode(kind Kind, gen uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(header + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode parses a frame. The payload aliases b. Frames with trailing bytes
// are rejected.
func Decode(b []byte) (kind Kind, gen uint64, payload []byte, err error) {
	if len(b) < header || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, 0, nil, ErrCorrupt
	}
	kind = Kind(b[5])
	if !kind.valid() {
		return 0, 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[6:14])
	vlen := binary.BigEndian.Uint32(b[14:header])
	if uint64(vlen) != uint64(len(b)-header) {
		return 0, 0, nil, ErrCorrupt
	}
	if kind == KindNone && vlen != 0 {
		return 0, 0, nil, ErrCorrupt
	}
	return kind, gen, b[header:], nil
}
