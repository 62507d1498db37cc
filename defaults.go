package cachehouse

import "time"

const (
	DefaultExpire    = 30 * time.Second
	DefaultNamespace = "main"
	DefaultKeyPrefix = "cachehouse"
)

// ExpireSeconds converts a TTL given as a count of seconds.
func ExpireSeconds(n int64) time.Duration { return time.Duration(n) * time.Second }

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
