package cachehouse

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: wrappers call them on
// every invocation. Wrap slow sinks with hooks/async.
type Hooks interface {
	Hit(key string)
	Miss(key string)
	// Stored fires after a fresh result was written with the given TTL.
	Stored(key string, ttl time.Duration)

	// A backend deleted an unreadable entry on read.
	// reason ∈ {"corrupt", "codec_mismatch", "value_decode"}
	SelfHeal(key, reason string)

	// The store failed a read that was then treated as a miss.
	ReadError(key string, err error)
	// The store failed to persist a fresh result.
	WriteError(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                   {}
func (NopHooks) Miss(string)                  {}
func (NopHooks) Stored(string, time.Duration) {}
func (NopHooks) SelfHeal(string, string)      {}
func (NopHooks) ReadError(string, error)      {}
func (NopHooks) WriteError(string, error)     {}
