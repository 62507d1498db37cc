// Package codec serializes memoized results to bytes for storage.
//
// Codecs are type-erased: one backend serves every wrapped function, so
// Marshal accepts any value and Unmarshal decodes into a caller-supplied
// pointer. Each codec carries a one-byte ID that is written into the entry
// envelope; entries written by a different codec are treated as misses.
package codec

import "fmt"

// Codec encodes/decodes values to []byte for storage.
type Codec interface {
	// ID is persisted alongside every entry. Must be unique per format.
	ID() byte
	Name() string
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes b into dst, which must be a non-nil pointer.
	Unmarshal(b []byte, dst any) error
}

const (
	idJSON byte = iota + 1
	idMsgpack
	idCBOR
	idProtobuf
	idRaw
)

// ByName resolves the codecs that need no extra configuration.
// CBOR is built with deterministic encoding.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return Msgpack{}, nil
	case "json":
		return JSON{}, nil
	case "cbor":
		return NewCBOR(true)
	case "raw":
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
