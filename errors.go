package cachehouse

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBackend is the configuration error returned by every wrapped call
	// made before a backend has been constructed.
	ErrNoBackend = errors.New("cachehouse: no backend initialized")
	// ErrBackendAlreadyActive is returned by backend constructors when the
	// registry already holds a backend. The first registration wins.
	ErrBackendAlreadyActive = errors.New("cachehouse: a backend is already active")
	ErrUnhashableArg        = errors.New("cachehouse: argument has no stable key representation")
	ErrNoResult             = errors.New("cachehouse: async function delivered no result")
	// ErrInterfaceResult is returned by wrappers whose result type is an
	// interface. Codecs decode into the static type, so a hit would come back
	// with a different dynamic type (an int as int8, a struct as a map).
	ErrInterfaceResult = errors.New("cachehouse: result type must be concrete, not an interface")
)

// KeyError reports an argument the default key builder cannot fingerprint.
type KeyError struct {
	Arg    string // "#0", "#1" for positional, the name for keyword args
	Type   string
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("cachehouse: argument %s (%s): %s", e.Arg, e.Type, e.Reason)
}

func (e *KeyError) Unwrap() error { return ErrUnhashableArg }

// SerializationError is returned when a result cannot be encoded for storage.
// Retrying will not help.
type SerializationError struct {
	Key   string
	Codec string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cachehouse: encode %q with %s: %v", e.Key, e.Codec, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
