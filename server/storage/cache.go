package storage

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

// Cache stores response bodies by key. A zero ttl never expires.
type Cache interface {
	Has(key string) (bool, error)
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Flush() error
}

type CacheDriver interface {
	Open(addr string, options url.Values) (cache Cache, err error)
}

var cacheDrivers sync.Map

// OpenCache opens a cache by the driver url, e.g. `memory:default`,
// `memoryLRU:default?maxCost=64MB` or `s3:bucket?region=eu-central-1&prefix=cache/`.
func OpenCache(cacheUrl string) (cache Cache, err error) {
	if cacheUrl == "" {
		err = fmt.Errorf("invalid url")
		return
	}

	name, addr := utils.SplitByFirstByte(cacheUrl, ':')
	driver, ok := cacheDrivers.Load(name)
	if !ok {
		err = fmt.Errorf("unknown cache driver '%s'", name)
		return
	}

	root, options, err := parseConfigUrl(addr)
	if err != nil {
		return
	}

	return driver.(CacheDriver).Open(root, options)
}

func RegisterCache(name string, driver CacheDriver) error {
	_, ok := cacheDrivers.Load(name)
	if ok {
		return fmt.Errorf("cache driver '%s' has been registered", name)
	}

	cacheDrivers.Store(name, driver)
	return nil
}
