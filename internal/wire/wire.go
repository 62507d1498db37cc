// Package wire frames encoded results before they reach a provider.
//
// Entry: magic(4) | ver(1) | codec(1) | storedAt(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
//
// The envelope lets a backend tell an absent key from a stored empty payload,
// detect foreign or truncated values, and reject entries written by another
// codec.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("cachehouse: corrupt entry")
	magic4     = [...]byte{'C', 'H', 'S', 'E'}
)

type Entry struct {
	Codec    byte
	StoredAt time.Time
	Payload  []byte
}

func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(e.Codec)

	var u8 [8]byte
	var u4 [4]byte

	var ts int64
	if !e.StoredAt.IsZero() {
		ts = e.StoredAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(ts))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

// Decode parses an entry. Trailing bytes are rejected.
// The returned payload aliases b.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Entry{}, ErrCorrupt
	}

	e := Entry{Codec: b[5]}
	off := 6

	if ts := int64(binary.BigEndian.Uint64(b[off : off+8])); ts != 0 {
		e.StoredAt = time.Unix(0, ts)
	}
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}
	e.Payload = b[off:]
	return e, nil
}
