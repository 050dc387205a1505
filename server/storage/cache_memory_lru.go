package storage

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/dustin/go-humanize"
)

// lruCache bounds memory by the total size of the cached bodies.
type lruCache struct {
	cache *ristretto.Cache
}

func (lc *lruCache) Has(key string) (bool, error) {
	_, ok := lc.cache.Get(key)
	return ok, nil
}

func (lc *lruCache) Get(key string) ([]byte, error) {
	item, ok := lc.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return item.([]byte), nil
}

func (lc *lruCache) Set(key string, value []byte, ttl time.Duration) error {
	if lc.cache.SetWithTTL(key, value, int64(len(value)), ttl) {
		lc.cache.Wait()
	}
	return nil
}

func (lc *lruCache) Delete(key string) error {
	lc.cache.Del(key)
	lc.cache.Wait()
	return nil
}

func (lc *lruCache) Flush() error {
	lc.cache.Clear()
	lc.cache.Wait()
	return nil
}

type lruCacheDriver struct{}

func (driver *lruCacheDriver) Open(name string, options url.Values) (Cache, error) {
	maxCost := uint64(256 << 20)
	if v := options.Get("maxCost"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil || n == 0 {
			return nil, errors.New("invalid maxCost value")
		}
		maxCost = n
	}
	impl, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     int64(maxCost),
		BufferItems: 64,
		Metrics:     strings.EqualFold(options.Get("metrics"), "true"),
	})
	if err != nil {
		return nil, err
	}
	return &lruCache{cache: impl}, nil
}

func init() {
	RegisterCache("memoryLRU", &lruCacheDriver{})
}
