package cachehouse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	c "github.com/unkn0wn-root/cachehouse/codec"
)

func TestWrapExecutesOncePerArgs(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	_, reg := newTestBackend(t, mp, nil)

	var calls atomic.Int32
	add := Wrap2(func(_ context.Context, x, y int) (int, error) {
		calls.Add(1)
		return x + y, nil
	}, WithRegistry(reg), WithName("mod", "f"), WithExpire(60*time.Second))

	for i := 0; i < 3; i++ {
		v, err := add(ctx, 2, 3)
		if err != nil || v != 5 {
			t.Fatalf("add(2,3)=%d err=%v", v, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("original ran %d times", calls.Load())
	}
	if !mp.has(mustKey(t, "mod", "f", Positional(2, 3))) {
		t.Fatal("result not stored under the default key")
	}

	// same sum, different argument order: separate entry
	if v, _ := add(ctx, 3, 2); v != 5 {
		t.Fatalf("add(3,2)=%d", v)
	}
	if calls.Load() != 2 {
		t.Fatalf("reordered args served from cache")
	}
}

func TestWrapTTLExpiry(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	_, reg := newTestBackend(t, mp, nil)

	var calls int
	f := Wrap1(func(_ context.Context, id int) (string, error) {
		calls++
		return "v", nil
	}, WithRegistry(reg), WithExpire(ExpireSeconds(60)))

	f(ctx, 1)
	mp.clock.Advance(59 * time.Second)
	f(ctx, 1)
	if calls != 1 {
		t.Fatalf("expired early: %d calls", calls)
	}
	if mp.lastTTL != time.Minute {
		t.Fatalf("ttl: %v", mp.lastTTL)
	}

	mp.clock.Advance(2 * time.Second)
	f(ctx, 1)
	if calls != 2 {
		t.Fatalf("entry outlived its ttl: %d calls", calls)
	}
}

func TestWrapUsesBackendTTLByDefault(t *testing.T) {
	mp := newMemProvider()
	_, reg := newTestBackend(t, mp, func(o *Options) { o.DefaultTTL = 5 * time.Minute })
	f := Wrap1(func(_ context.Context, s string) (string, error) { return s, nil }, WithRegistry(reg))
	if _, err := f(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if mp.lastTTL != 5*time.Minute {
		t.Fatalf("ttl: %v", mp.lastTTL)
	}
}

func TestWrapWithoutBackend(t *testing.T) {
	reg := NewRegistry()
	var calls int
	f := Wrap1(func(_ context.Context, x int) (int, error) {
		calls++
		return x, nil
	}, WithRegistry(reg))

	if _, err := f(context.Background(), 1); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("want ErrNoBackend, got %v", err)
	}
	if calls != 0 {
		t.Fatal("original ran without a backend")
	}

	// wrappers resolve the backend per call
	if _, err := NewBackend(SingleNode, newMemProvider(), Options{Registry: reg}); err != nil {
		t.Fatal(err)
	}
	if v, err := f(context.Background(), 4); err != nil || v != 4 {
		t.Fatalf("after init: %d %v", v, err)
	}
}

func TestWrapCachesFalsyResults(t *testing.T) {
	ctx := context.Background()
	_, reg := newTestBackend(t, newMemProvider(), nil)

	var calls int
	f := Wrap(func(context.Context, Args) ([]string, error) {
		calls++
		return nil, nil
	}, WithRegistry(reg))

	for i := 0; i < 3; i++ {
		v, err := f(ctx, Args{})
		if err != nil || v != nil {
			t.Fatalf("got %v %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("nil result recomputed: %d calls", calls)
	}
}

func TestWrapDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	_, reg := newTestBackend(t, mp, nil)

	var calls int
	f := Wrap1(func(_ context.Context, x int) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return x, nil
	}, WithRegistry(reg))

	if _, err := f(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("original error not propagated: %v", err)
	}
	if mp.len() != 0 {
		t.Fatal("failed call wrote to the store")
	}
	if v, err := f(ctx, 1); err != nil || v != 1 || calls != 2 {
		t.Fatalf("retry: v=%d err=%v calls=%d", v, err, calls)
	}
}

func TestWrapKeywordArgs(t *testing.T) {
	ctx := context.Background()
	_, reg := newTestBackend(t, newMemProvider(), nil)

	var calls int
	search := Wrap(func(_ context.Context, a Args) (int, error) {
		calls++
		return a.Keyword["limit"].(int), nil
	}, WithRegistry(reg))

	a1 := Args{Keyword: map[string]any{}}
	a1.Keyword["q"] = "go"
	a1.Keyword["limit"] = 10
	a2 := Args{Keyword: map[string]any{}}
	a2.Keyword["limit"] = 10
	a2.Keyword["q"] = "go"

	search(ctx, a1)
	search(ctx, a2)
	if calls != 1 {
		t.Fatalf("keyword insertion order changed the key")
	}
}

func TestWrapNamespaceAndBuilderOverrides(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	_, reg := newTestBackend(t, mp, nil)

	var calls int
	fn := func(_ context.Context, x int) (int, error) { calls++; return x, nil }
	a := Wrap1(fn, WithRegistry(reg), WithName("m", "f"), WithNamespace("a"))
	b := Wrap1(fn, WithRegistry(reg), WithName("m", "f"), WithNamespace("b"), WithKeyPrefix("other"))
	a(ctx, 1)
	b(ctx, 1)
	if calls != 2 {
		t.Fatal("namespaces share entries")
	}
	ka, _ := DefaultKeyBuilder("m", "f", Positional(1), "a", "cachehouse")
	kb, _ := DefaultKeyBuilder("m", "f", Positional(1), "b", "other")
	if !mp.has(ka) || !mp.has(kb) {
		t.Fatal("override keys not used")
	}

	custom := Wrap1(fn, WithRegistry(reg), WithKeyBuilder(func(q, n string, args Args, ns, p string) (string, error) {
		return p + "/" + ns + "/" + n, nil
	}), WithName("m", "g"))
	custom(ctx, 1)
	if !mp.has("cachehouse/main/g") {
		t.Fatal("custom key builder ignored")
	}
}

func TestWrapUnhashableArg(t *testing.T) {
	_, reg := newTestBackend(t, newMemProvider(), nil)
	var calls int
	f := Wrap1(func(context.Context, any) (int, error) { calls++; return 1, nil }, WithRegistry(reg))
	if _, err := f(context.Background(), func() {}); !errors.Is(err, ErrUnhashableArg) {
		t.Fatalf("want ErrUnhashableArg, got %v", err)
	}
	if calls != 0 {
		t.Fatal("original ran for an unkeyable call")
	}
}

func TestWrapReadErrors(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recordingHooks{}
	_, reg := newTestBackend(t, mp, nil)
	mp.getErr = boom

	var calls int
	fn := func(_ context.Context, x int) (int, error) { calls++; return x, nil }

	lenient := Wrap1(fn, WithRegistry(reg), WithHooks(hooks))
	if v, err := lenient(ctx, 3); err != nil || v != 3 {
		t.Fatalf("read failure not treated as miss: %d %v", v, err)
	}
	if calls != 1 || hooks.snapshot().readErrs != 1 {
		t.Fatalf("calls=%d readErrs=%d", calls, hooks.snapshot().readErrs)
	}

	strict := Wrap1(fn, WithRegistry(reg), WithStrictReads())
	if _, err := strict(ctx, 3); !errors.Is(err, boom) {
		t.Fatalf("strict read error: %v", err)
	}
	if calls != 1 {
		t.Fatal("strict wrapper ran the original after a failed read")
	}
}

func TestWrapWriteErrors(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recordingHooks{}
	_, reg := newTestBackend(t, mp, func(o *Options) { o.Hooks = hooks })
	mp.setErr = boom

	f := Wrap1(func(_ context.Context, x int) (int, error) { return x * 10, nil }, WithRegistry(reg))
	v, err := f(ctx, 2)
	if v != 20 || !errors.Is(err, boom) {
		t.Fatalf("want fresh value with store error, got %d %v", v, err)
	}
	if hooks.snapshot().writeErrs != 1 {
		t.Fatal("WriteError hook not fired")
	}
}

func TestWrapSerializationError(t *testing.T) {
	_, reg := newTestBackend(t, newMemProvider(), func(o *Options) { o.Codec = c.JSON{} })
	f := Wrap(func(context.Context, Args) (chan int, error) { return make(chan int), nil }, WithRegistry(reg))
	_, err := f(context.Background(), Args{})
	var se *SerializationError
	if !errors.As(err, &se) {
		t.Fatalf("want SerializationError, got %v", err)
	}
}

type account struct {
	ID      int
	balance int
}

func TestWrapRejectsLossyResults(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recordingHooks{}
	_, reg := newTestBackend(t, mp, func(o *Options) { o.Hooks = hooks })

	var calls int
	load := Wrap1(func(_ context.Context, id int) (account, error) {
		calls++
		return account{ID: id, balance: 100}, nil
	}, WithRegistry(reg))

	for i := 1; i <= 2; i++ {
		v, err := load(ctx, 1)
		if v.ID != 1 || v.balance != 100 {
			t.Fatalf("fresh value altered: %+v", v)
		}
		var se *SerializationError
		if !errors.As(err, &se) || se.Codec != "msgpack" {
			t.Fatalf("want SerializationError, got %v", err)
		}
		if calls != i {
			t.Fatalf("call %d served a lossy entry from cache", i)
		}
	}
	if mp.len() != 0 {
		t.Fatal("struct with unexported fields was stored")
	}
	if hooks.snapshot().writeErrs != 2 {
		t.Fatal("WriteError hook not fired")
	}
}

func TestWrapRejectsInterfaceResult(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	_, reg := newTestBackend(t, mp, nil)

	var calls int
	f := Wrap1(func(_ context.Context, x int) (any, error) { calls++; return x, nil }, WithRegistry(reg))
	for i := 0; i < 2; i++ {
		if _, err := f(ctx, 1); !errors.Is(err, ErrInterfaceResult) {
			t.Fatalf("want ErrInterfaceResult, got %v", err)
		}
	}
	if calls != 0 || mp.gets != 0 || mp.len() != 0 {
		t.Fatalf("interface-typed wrapper touched the original or the store: calls=%d gets=%d", calls, mp.gets)
	}

	af := WrapAsync1(func(_ context.Context, x int) <-chan Result[error] {
		out := make(chan Result[error], 1)
		out <- Result[error]{Value: errors.New("x")}
		return out
	}, WithRegistry(reg))
	if _, err := Await(ctx, af(ctx, 1)); !errors.Is(err, ErrInterfaceResult) {
		t.Fatalf("async: want ErrInterfaceResult, got %v", err)
	}
}

func TestWrapHooksSequence(t *testing.T) {
	ctx := context.Background()
	hooks := &recordingHooks{}
	_, reg := newTestBackend(t, newMemProvider(), func(o *Options) { o.Hooks = hooks })

	f := Wrap1(func(_ context.Context, s string) (string, error) { return s + "!", nil }, WithRegistry(reg))
	f(ctx, "a")
	f(ctx, "a")
	f(ctx, "b")

	h := hooks.snapshot()
	if len(h.misses) != 2 || len(h.stored) != 2 || len(h.hits) != 1 {
		t.Fatalf("hits=%d misses=%d stored=%d", len(h.hits), len(h.misses), len(h.stored))
	}
	if h.hits[0] != h.stored[0] {
		t.Fatal("hit and store keys differ")
	}
}

func TestWrapSingleFlight(t *testing.T) {
	ctx := context.Background()
	_, reg := newTestBackend(t, newMemProvider(), nil)

	release := make(chan struct{})
	var calls atomic.Int32
	f := Wrap1(func(_ context.Context, x int) (int, error) {
		calls.Add(1)
		<-release
		return x, nil
	}, WithRegistry(reg), WithSingleFlight())

	const n = 8
	var started, done sync.WaitGroup
	started.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			started.Done()
			if v, err := f(ctx, 7); err != nil || v != 7 {
				t.Errorf("got %d %v", v, err)
			}
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	if calls.Load() != 1 {
		t.Fatalf("original ran %d times under single-flight", calls.Load())
	}
}
