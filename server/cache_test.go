package server

import (
	"testing"
	"time"

	"github.com/webwriter-app/webwriter-sub004/server/storage"
)

func TestResponseCache(t *testing.T) {
	store, err := storage.OpenCache("memory:responses")
	if err != nil {
		t.Fatal(err)
	}
	c := &responseCache{store: store, ttl: 50 * time.Millisecond, logger: nopLogger{}}

	if _, ok := c.get("/_bundles?id=a"); ok {
		t.Fatal("empty cache should miss")
	}
	c.put("/_bundles?id=a", &Response{Status: 200, ContentType: "text/css; charset=utf-8", Body: []byte("a{}\nb{}")})
	res, ok := c.get("/_bundles?id=a")
	if !ok {
		t.Fatal("entry should be cached")
	}
	if res.ContentType != "text/css; charset=utf-8" || string(res.Body) != "a{}\nb{}" || !res.Cacheable {
		t.Fatalf("unexpected entry %+v", res)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.get("/_bundles?id=a"); ok {
		t.Fatal("entry should expire")
	}

	store.Set("/_bundles?id=bad", []byte("no separator"), 0)
	if _, ok := c.get("/_bundles?id=bad"); ok {
		t.Fatal("malformed entries should miss")
	}
}
