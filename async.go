package cachehouse

import "context"

// Result is what an async function delivers on its channel.
type Result[R any] struct {
	Value R
	Err   error
}

// AsyncFunc is a suspending function: it returns immediately and delivers
// exactly one Result on the channel.
type AsyncFunc[R any] func(ctx context.Context, args Args) <-chan Result[R]

// Await suspends until ch delivers or ctx is done. A nil or closed channel
// yields ErrNoResult.
func Await[R any](ctx context.Context, ch <-chan Result[R]) (R, error) {
	var zero R
	if ch == nil {
		return zero, ErrNoResult
	}
	select {
	case res, ok := <-ch:
		if !ok {
			return zero, ErrNoResult
		}
		return res.Value, res.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Async runs a blocking function on its own goroutine.
func Async[R any](fn Func[R]) AsyncFunc[R] {
	return func(ctx context.Context, args Args) <-chan Result[R] {
		out := make(chan Result[R], 1)
		go func() {
			defer close(out)
			v, err := fn(ctx, args)
			out <- Result[R]{Value: v, Err: err}
		}()
		return out
	}
}

// spawn runs the shared hit/miss routine on a goroutine; the wrapper suspends
// only while awaiting start's channel. Cancellation before the original
// delivers leaves the store untouched.
func spawn[R any](ctx context.Context, m *memo[R], args Args, start func(context.Context) <-chan Result[R]) <-chan Result[R] {
	out := make(chan Result[R], 1)
	go func() {
		defer close(out)
		v, err := m.do(ctx, args, func(ctx context.Context) (R, error) {
			return Await(ctx, start(ctx))
		})
		out <- Result[R]{Value: v, Err: err}
	}()
	return out
}

// WrapAsync memoizes an async function with the same semantics as Wrap.
func WrapAsync[R any](fn AsyncFunc[R], opts ...Option) AsyncFunc[R] {
	m := newMemo[R](fn, opts)
	return func(ctx context.Context, args Args) <-chan Result[R] {
		return spawn(ctx, m, args, func(ctx context.Context) <-chan Result[R] {
			return fn(ctx, args)
		})
	}
}

func WrapAsync1[A, R any](fn func(context.Context, A) <-chan Result[R], opts ...Option) func(context.Context, A) <-chan Result[R] {
	m := newMemo[R](fn, opts)
	return func(ctx context.Context, a A) <-chan Result[R] {
		return spawn(ctx, m, Positional(a), func(ctx context.Context) <-chan Result[R] {
			return fn(ctx, a)
		})
	}
}

func WrapAsync2[A, B, R any](fn func(context.Context, A, B) <-chan Result[R], opts ...Option) func(context.Context, A, B) <-chan Result[R] {
	m := newMemo[R](fn, opts)
	return func(ctx context.Context, a A, b B) <-chan Result[R] {
		return spawn(ctx, m, Positional(a, b), func(ctx context.Context) <-chan Result[R] {
			return fn(ctx, a, b)
		})
	}
}
