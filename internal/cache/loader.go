package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Loader fills a cache on miss. Concurrent misses for the same key share a
// single call to load.
type Loader[K comparable, V any] struct {
	cache Cache[K, V]
	group singleflight.Group
}

func NewLoader[K comparable, V any](c Cache[K, V]) *Loader[K, V] {
	return &Loader[K, V]{cache: c}
}

// Get returns the cached value for key or calls load and caches its result.
// Errors are not cached.
func (l *Loader[K, V]) Get(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := l.cache.Get(key); ok {
		return v, nil
	}

	res, err, _ := l.group.Do(fmt.Sprint(key), func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		l.cache.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Forget drops key from the cache.
func (l *Loader[K, V]) Forget(key K) {
	l.cache.Delete(key)
}
