// Package cachehouse memoizes function results in an external key-value
// store, keyed by a fingerprint of the function's identity and arguments.
//
// Components:
//   - Backend: a store handle (single-node or clustered Redis, or any
//     provider.Provider) with fixed namespace, key prefix, key builder and TTL.
//   - Registry: the slot holding the one active Backend. Constructing a
//     backend registers it; the first registration wins.
//   - Wrap / WrapAsync: decorators that keep the wrapped function's shape.
//
// Keys:
//
//	{prefix}:{namespace}:{md5(fingerprint)}   e.g. cachehouse:main:3f2a...
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	if _, err := cachehouse.NewRedis(rdb, cachehouse.Options{}); err != nil {
//	    return err
//	}
//
//	getUser := cachehouse.Wrap1(repo.GetUser, cachehouse.WithExpire(time.Minute))
//	u, err := getUser(ctx, 42) // miss: runs repo.GetUser, stores the result
//	u, err = getUser(ctx, 42)  // hit: repo.GetUser is not called
//
// Blocking and async wrappers run the same hit/miss routine; the only
// difference is how the original is invoked. Concurrent misses on one key
// both execute unless WithSingleFlight is set.
package cachehouse
