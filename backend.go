package cachehouse

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	goredis "github.com/redis/go-redis/v9"

	c "github.com/unkn0wn-root/cachehouse/codec"
	"github.com/unkn0wn-root/cachehouse/internal/wire"
	pr "github.com/unkn0wn-root/cachehouse/provider"
	rp "github.com/unkn0wn-root/cachehouse/provider/redis"
)

// Variant tags the store topology behind a Backend.
type Variant uint8

const (
	SingleNode Variant = iota + 1
	Clustered
)

func (v Variant) String() string {
	switch v {
	case SingleNode:
		return "single-node"
	case Clustered:
		return "clustered"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// Backend is the handle wrappers read from and write to.
// Both variants share this contract and failure surface.
type Backend interface {
	Variant() Variant
	Namespace() string
	KeyPrefix() string
	KeyBuilder() KeyBuilder
	DefaultTTL() time.Duration

	// GetKey decodes the entry under key into dst (a non-nil pointer).
	// found=false means absent; a stored zero value is found=true.
	GetKey(ctx context.Context, key string, dst any) (found bool, err error)
	// SetKey stores value under key. ttl <= 0 uses DefaultTTL. Values whose
	// type would not survive a round trip (unexported struct fields, funcs,
	// channels) fail with *SerializationError before anything is written.
	SetKey(ctx context.Context, key string, value any, ttl time.Duration) error

	Close(ctx context.Context) error
}

// Options configure a Backend. Everything is optional; zero values fall back
// to the package defaults. The configuration is fixed once constructed.
type Options struct {
	Namespace  string        // "main"
	KeyPrefix  string        // "cachehouse"
	KeyBuilder KeyBuilder    // DefaultKeyBuilder
	DefaultTTL time.Duration // 30s
	Codec      c.Codec       // msgpack
	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	Registry   *Registry     // DefaultRegistry()
	// OpTimeout bounds each Redis command of NewRedis/NewRedisCluster
	// backends. 0 relies on the caller's context.
	OpTimeout time.Duration
}

type backend struct {
	variant    Variant
	provider   pr.Provider
	codec      c.Codec
	ns         string
	prefix     string
	keyBuilder KeyBuilder
	ttl        time.Duration
	log        Logger
	hooks      Hooks
	now        func() time.Time
}

var _ Backend = (*backend)(nil)

// NewBackend builds a Backend over any provider and makes it the active one.
// If the registry is already occupied the error is ErrBackendAlreadyActive
// and no Backend is returned.
func NewBackend(variant Variant, p pr.Provider, opts Options) (Backend, error) {
	if variant != SingleNode && variant != Clustered {
		return nil, fmt.Errorf("cachehouse: unknown backend variant %d", uint8(variant))
	}
	if p == nil {
		return nil, errors.New("cachehouse: provider is required")
	}

	b := &backend{
		variant:    variant,
		provider:   p,
		codec:      coalesce[c.Codec](opts.Codec, c.Msgpack{}),
		ns:         coalesce(opts.Namespace, DefaultNamespace),
		prefix:     coalesce(opts.KeyPrefix, DefaultKeyPrefix),
		keyBuilder: opts.KeyBuilder,
		ttl:        coalesce(opts.DefaultTTL, DefaultExpire),
		log:        coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:      coalesce[Hooks](opts.Hooks, NopHooks{}),
		now:        time.Now,
	}
	if b.keyBuilder == nil {
		b.keyBuilder = DefaultKeyBuilder
	}
	if b.ttl < 0 {
		return nil, fmt.Errorf("cachehouse: negative default TTL %s", b.ttl)
	}

	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	if err := reg.SetActive(b); err != nil {
		return nil, err
	}
	b.log.Info("backend initialized", Fields{
		"variant":   b.variant.String(),
		"namespace": b.ns,
		"prefix":    b.prefix,
		"codec":     b.codec.Name(),
	})
	return b, nil
}

// NewRedis activates a single-node backend. The caller keeps ownership of
// client; Close on the backend leaves it open.
func NewRedis(client *goredis.Client, opts Options) (Backend, error) {
	if client == nil {
		return nil, rp.ErrNilClient
	}
	p, err := rp.New(rp.Config{Client: client, OpTimeout: opts.OpTimeout})
	if err != nil {
		return nil, err
	}
	return NewBackend(SingleNode, p, opts)
}

// NewRedisCluster activates a clustered backend over a cluster client.
func NewRedisCluster(client *goredis.ClusterClient, opts Options) (Backend, error) {
	if client == nil {
		return nil, rp.ErrNilClient
	}
	p, err := rp.New(rp.Config{Client: client, OpTimeout: opts.OpTimeout})
	if err != nil {
		return nil, err
	}
	return NewBackend(Clustered, p, opts)
}

func (b *backend) Variant() Variant          { return b.variant }
func (b *backend) Namespace() string         { return b.ns }
func (b *backend) KeyPrefix() string         { return b.prefix }
func (b *backend) KeyBuilder() KeyBuilder    { return b.keyBuilder }
func (b *backend) DefaultTTL() time.Duration { return b.ttl }

// Logger and Hooks are picked up by wrappers that do not set their own.
func (b *backend) Logger() Logger { return b.log }
func (b *backend) Hooks() Hooks   { return b.hooks }

func (b *backend) GetKey(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := b.provider.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	e, err := wire.Decode(raw)
	if err != nil {
		b.heal(ctx, key, "corrupt")
		return false, nil
	}
	if e.Codec != b.codec.ID() {
		b.heal(ctx, key, "codec_mismatch")
		return false, nil
	}
	if err := b.codec.Unmarshal(e.Payload, dst); err != nil {
		b.heal(ctx, key, "value_decode")
		return false, nil
	}
	return true, nil
}

func (b *backend) SetKey(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.ttl
	}
	if err := checkStorable(reflect.TypeOf(value)); err != nil {
		return &SerializationError{Key: key, Codec: b.codec.Name(), Err: err}
	}
	payload, err := b.codec.Marshal(value)
	if err != nil {
		return &SerializationError{Key: key, Codec: b.codec.Name(), Err: err}
	}
	raw := wire.Encode(wire.Entry{Codec: b.codec.ID(), StoredAt: b.now(), Payload: payload})
	ok, err := b.provider.Set(ctx, key, raw, int64(len(raw)), ttl)
	if err != nil {
		return err
	}
	if !ok {
		b.log.Debug("set rejected by provider (pressure)", Fields{"key": key})
	}
	return nil
}

func (b *backend) Close(ctx context.Context) error {
	return b.provider.Close(ctx)
}

func (b *backend) heal(ctx context.Context, key, reason string) {
	_ = b.provider.Del(ctx, key)
	b.log.Debug("dropped unreadable entry", Fields{"key": key, "reason": reason})
	b.hooks.SelfHeal(key, reason)
}
