// Package cache memoises derived ledger views.
package cache

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches whose entries can expire.
type Cleaner interface {
	CleanExpired() int
}
