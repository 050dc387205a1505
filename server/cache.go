package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/webwriter-app/webwriter-sub004/server/storage"
)

const installStampKey = "widgetd:install"

// responseCache stores successful responses by the canonical url of their
// action. Entries are encoded as the content type, a newline, and the body.
type responseCache struct {
	store  storage.Cache
	ttl    time.Duration
	logger Logger
}

func (c *responseCache) get(key string) (*Response, bool) {
	data, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrExpired) {
			c.logger.Warnf("cache: get %s: %v", key, err)
		}
		return nil, false
	}
	contentType, body, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		c.logger.Warnf("cache: malformed entry %s", key)
		return nil, false
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: string(contentType),
		Body:        body,
		Cacheable:   true,
	}, true
}

func (c *responseCache) put(key string, res *Response) {
	data := make([]byte, 0, len(res.ContentType)+1+len(res.Body))
	data = append(data, res.ContentType...)
	data = append(data, '\n')
	data = append(data, res.Body...)
	if err := c.store.Set(key, data, c.ttl); err != nil {
		c.logger.Warnf("cache: set %s: %v", key, err)
	}
}

// checkInstall flushes the cache when it was filled by another version of
// the server.
func (c *responseCache) checkInstall(version string) error {
	stamp, err := c.store.Get(installStampKey)
	if err == nil && string(stamp) == version {
		return nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrExpired) {
		return fmt.Errorf("read install stamp: %w", err)
	}
	if err := c.store.Flush(); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	c.logger.Infof("cache flushed for version %s", version)
	return c.store.Set(installStampKey, []byte(version), 0)
}
