package cachehouse

import (
	"context"
	"reflect"
	"time"

	"golang.org/x/sync/singleflight"
)

// Func is a blocking function in its most general shape.
type Func[R any] func(ctx context.Context, args Args) (R, error)

// Option tunes a single wrapper. Unset options defer to the active backend.
type Option func(*settings)

type settings struct {
	expire       time.Duration
	namespace    string
	prefix       string
	keyBuilder   KeyBuilder
	qualifier    string
	name         string
	source       BackendSource
	log          Logger
	hooks        Hooks
	strictReads  bool
	singleFlight bool
}

// WithExpire sets the TTL of results written by this wrapper.
// Zero uses the backend's default (30s unless configured).
func WithExpire(d time.Duration) Option { return func(s *settings) { s.expire = d } }

func WithNamespace(ns string) Option { return func(s *settings) { s.namespace = ns } }

func WithKeyPrefix(p string) Option { return func(s *settings) { s.prefix = p } }

// WithKeyBuilder overrides the backend's key builder for this wrapper.
func WithKeyBuilder(kb KeyBuilder) Option { return func(s *settings) { s.keyBuilder = kb } }

// WithName pins the identity hashed into keys. By default it is read from
// the runtime symbol of the wrapped function, which is unstable for closures
// and differs between a blocking function and its async twin.
func WithName(qualifier, name string) Option {
	return func(s *settings) {
		s.qualifier = qualifier
		s.name = name
	}
}

// WithRegistry resolves the backend from src instead of DefaultRegistry().
func WithRegistry(src BackendSource) Option { return func(s *settings) { s.source = src } }

func WithLogger(l Logger) Option { return func(s *settings) { s.log = l } }

func WithHooks(h Hooks) Option { return func(s *settings) { s.hooks = h } }

// WithStrictReads returns store read errors to the caller. By default a
// failed read is logged, reported to Hooks.ReadError and handled as a miss.
func WithStrictReads() Option { return func(s *settings) { s.strictReads = true } }

// WithSingleFlight lets one in-process call per key run the wrapped function
// while concurrent callers for the same key wait for its result. The leader's
// context is the one the function runs with.
func WithSingleFlight() Option { return func(s *settings) { s.singleFlight = true } }

type memo[R any] struct {
	settings
	group *singleflight.Group
	// set when R is an interface type; such results cannot be decoded back
	abstract bool
}

func newMemo[R any](fn any, opts []Option) *memo[R] {
	m := &memo[R]{
		abstract: reflect.TypeOf((*R)(nil)).Elem().Kind() == reflect.Interface,
	}
	m.qualifier, m.name = funcIdentity(fn)
	for _, o := range opts {
		o(&m.settings)
	}
	if m.source == nil {
		m.source = DefaultRegistry()
	}
	if m.singleFlight {
		m.group = &singleflight.Group{}
	}
	return m
}

type backendObservers interface {
	Logger() Logger
	Hooks() Hooks
}

func (m *memo[R]) observers(be Backend) (Logger, Hooks) {
	log, hooks := m.log, m.hooks
	if obs, ok := be.(backendObservers); ok {
		log = coalesce(log, obs.Logger())
		hooks = coalesce(hooks, obs.Hooks())
	}
	return coalesce[Logger](log, NopLogger{}), coalesce[Hooks](hooks, NopHooks{})
}

func (m *memo[R]) key(be Backend, args Args) (string, error) {
	kb := m.keyBuilder
	if kb == nil {
		kb = be.KeyBuilder()
	}
	return kb(m.qualifier, m.name, args, coalesce(m.namespace, be.Namespace()), coalesce(m.prefix, be.KeyPrefix()))
}

// do is the single hit/miss routine behind every wrapper. invoke is the only
// part that differs between blocking and async callables.
func (m *memo[R]) do(ctx context.Context, args Args, invoke func(context.Context) (R, error)) (R, error) {
	var zero R
	be, err := m.source.Instance()
	if err != nil {
		return zero, err
	}
	if m.abstract {
		return zero, ErrInterfaceResult
	}
	log, hooks := m.observers(be)

	key, err := m.key(be, args)
	if err != nil {
		return zero, err
	}

	var cached R
	found, err := be.GetKey(ctx, key, &cached)
	switch {
	case err != nil && m.strictReads:
		return zero, err
	case err != nil:
		log.Warn("cache read failed; calling through", keyFields(key, "err", err))
		hooks.ReadError(key, err)
	case found:
		log.Debug("cache hit", keyFields(key))
		hooks.Hit(key)
		return cached, nil
	}
	log.Debug("cache miss", keyFields(key))
	hooks.Miss(key)

	if m.group == nil {
		return m.fill(ctx, be, key, invoke, log, hooks)
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.fill(ctx, be, key, invoke, log, hooks)
	})
	res, _ := v.(R)
	return res, err
}

// fill runs the original and writes its result. Errors from the original are
// returned as-is and never stored. A failed write still returns the fresh
// value alongside the store error.
func (m *memo[R]) fill(ctx context.Context, be Backend, key string, invoke func(context.Context) (R, error), log Logger, hooks Hooks) (R, error) {
	v, err := invoke(ctx)
	if err != nil {
		return v, err
	}
	ttl := coalesce(m.expire, be.DefaultTTL())
	if err := be.SetKey(ctx, key, v, ttl); err != nil {
		log.Warn("storing result failed", keyFields(key, "err", err))
		hooks.WriteError(key, err)
		return v, err
	}
	log.Debug("result stored", keyFields(key, "ttl", ttl))
	hooks.Stored(key, ttl)
	return v, nil
}

// Wrap memoizes fn. The backend is resolved on every call, so wrappers may
// be declared before the backend exists.
//
// R must be a concrete type: wrappers over an interface result fail every
// call with ErrInterfaceResult without running fn. Interface-typed fields
// nested inside R are stored, but come back in the codec's generic form
// (maps, float64 or int8 numbers).
func Wrap[R any](fn Func[R], opts ...Option) Func[R] {
	m := newMemo[R](fn, opts)
	return func(ctx context.Context, args Args) (R, error) {
		return m.do(ctx, args, func(ctx context.Context) (R, error) {
			return fn(ctx, args)
		})
	}
}

// Wrap1 memoizes a one-argument function keyed on its argument.
func Wrap1[A, R any](fn func(context.Context, A) (R, error), opts ...Option) func(context.Context, A) (R, error) {
	m := newMemo[R](fn, opts)
	return func(ctx context.Context, a A) (R, error) {
		return m.do(ctx, Positional(a), func(ctx context.Context) (R, error) {
			return fn(ctx, a)
		})
	}
}

// Wrap2 memoizes a two-argument function; argument order is part of the key.
func Wrap2[A, B, R any](fn func(context.Context, A, B) (R, error), opts ...Option) func(context.Context, A, B) (R, error) {
	m := newMemo[R](fn, opts)
	return func(ctx context.Context, a A, b B) (R, error) {
		return m.do(ctx, Positional(a, b), func(ctx context.Context) (R, error) {
			return fn(ctx, a, b)
		})
	}
}
