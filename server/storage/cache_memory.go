package storage

import (
	"errors"
	"net/url"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memoryCache struct {
	lock       sync.RWMutex
	entries    map[string]memoryEntry
	gcInterval time.Duration
	gcTimer    *time.Timer
}

func (mc *memoryCache) lookup(key string) (memoryEntry, bool) {
	mc.lock.RLock()
	e, ok := mc.entries[key]
	mc.lock.RUnlock()
	return e, ok
}

func (mc *memoryCache) Has(key string) (bool, error) {
	e, ok := mc.lookup(key)
	if ok && e.expired(time.Now()) {
		mc.Delete(key)
		return false, nil
	}
	return ok, nil
}

func (mc *memoryCache) Get(key string) ([]byte, error) {
	e, ok := mc.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(time.Now()) {
		mc.Delete(key)
		return nil, ErrExpired
	}
	return e.data, nil
}

func (mc *memoryCache) Set(key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{data: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	mc.lock.Lock()
	mc.entries[key] = e
	mc.lock.Unlock()
	return nil
}

func (mc *memoryCache) Delete(key string) error {
	mc.lock.Lock()
	delete(mc.entries, key)
	mc.lock.Unlock()
	return nil
}

func (mc *memoryCache) Flush() error {
	mc.lock.Lock()
	mc.entries = map[string]memoryEntry{}
	mc.lock.Unlock()
	return nil
}

func (mc *memoryCache) gc() {
	now := time.Now()

	mc.lock.Lock()
	for key, e := range mc.entries {
		if e.expired(now) {
			delete(mc.entries, key)
		}
	}
	mc.lock.Unlock()

	mc.gcTimer = time.AfterFunc(mc.gcInterval, mc.gc)
}

type memoryCacheDriver struct{}

func (driver *memoryCacheDriver) Open(name string, options url.Values) (Cache, error) {
	gcInterval, err := parseDurationValue(options.Get("gcInterval"), 30*time.Minute)
	if err != nil {
		return nil, errors.New("invalid gcInterval value")
	}

	mc := &memoryCache{
		entries:    map[string]memoryEntry{},
		gcInterval: gcInterval,
	}
	if gcInterval >= time.Second {
		mc.gcTimer = time.AfterFunc(gcInterval, mc.gc)
	}
	return mc, nil
}

func init() {
	RegisterCache("memory", &memoryCacheDriver{})
}
