package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "widgetd-test" {
			w.WriteHeader(400)
			return
		}
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("hello"))
		case "/moved":
			http.Redirect(w, r, "/ok", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	client, recycle := NewClient("widgetd-test", 10, false)
	defer recycle()

	data, err := client.Get(context.Background(), ts.URL+"/ok")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected body %q", data)
	}

	data, err = client.Get(context.Background(), ts.URL+"/moved")
	if err != nil || string(data) != "hello" {
		t.Fatalf("redirect not followed: %q, %v", data, err)
	}

	_, err = client.Get(context.Background(), ts.URL+"/missing")
	if !IsNotFound(err) {
		t.Fatalf("should be a not found error, got %v", err)
	}
}
