package server

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		method     string
		url        string
		collection Collection
		ids        []string
	}{
		{"GET", "/_packages", Packages, nil},
		{"GET", "/_packages?id=@a/x@1.0.0", Packages, []string{"@a/x@1.0.0"}},
		{"GET", "/_importmaps?id=@a/x@1.0.0/widgets/x.js&pkg=true", ImportMaps, []string{"@a/x@1.0.0/widgets/x.js"}},
		{"GET", "/_bundles?id=b&id=a&minify=true", Bundles, []string{"a", "b"}},
		{"GET", "/_snippets", Snippets, nil},
		{"DELETE", "/_snippets/abc", Snippets, []string{"abc"}},
		{"GET", "/@a/x@1.0.0/widgets/x.js", Assets, []string{"@a/x@1.0.0/widgets/x.js"}},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.url)
		a, err := ParseAction(tt.method, u, nil)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.url, err)
		}
		if a.Collection != tt.collection {
			t.Errorf("%s: collection = %s, want %s", tt.url, a.Collection, tt.collection)
		}
		if len(a.IDs) != len(tt.ids) {
			t.Errorf("%s: ids = %v, want %v", tt.url, a.IDs, tt.ids)
			continue
		}
		for i := range tt.ids {
			if a.IDs[i] != tt.ids[i] {
				t.Errorf("%s: ids = %v, want %v", tt.url, a.IDs, tt.ids)
			}
		}
	}

	u, _ := url.Parse("/@a/x@1.0.0/widgets/x.js?id=@a/y@1.0.0/widgets/y.js")
	_, err := ParseAction("GET", u, nil)
	var badRequest *badRequestError
	if !errors.As(err, &badRequest) {
		t.Fatalf("multiple asset ids should be a bad request, got %v", err)
	}

	u, _ = url.Parse("/_importmaps?id=@a/x@1.0.0")
	_, err = ParseAction("POST", u, nil)
	var notAllowed *methodNotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("POST on import maps should not be allowed, got %v", err)
	}
}

func TestCanonicalURL(t *testing.T) {
	a, _ := url.Parse("/_bundles?minify=true&id=@a/y@1.0.0/widgets/y.js&type=js&id=@a/x@1.0.0/widgets/x.js")
	b, _ := url.Parse("/_bundles?id=@a/x@1.0.0/widgets/x.js&type=js&id=@a/y@1.0.0/widgets/y.js&minify=true")
	actionA, err := ParseAction("GET", a, nil)
	if err != nil {
		t.Fatal(err)
	}
	actionB, err := ParseAction("GET", b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if actionA.CanonicalURL() != actionB.CanonicalURL() {
		t.Fatalf("canonical urls differ: %s != %s", actionA.CanonicalURL(), actionB.CanonicalURL())
	}
	want := "/_bundles?id=%40a%2Fx%401.0.0%2Fwidgets%2Fx.js&id=%40a%2Fy%401.0.0%2Fwidgets%2Fy.js&minify=true&type=js"
	if got := actionA.CanonicalURL(); got != want {
		t.Fatalf("CanonicalURL() = %s, want %s", got, want)
	}

	asset, _ := url.Parse("/@a/x@1.0.0/widgets/x.js")
	actionC, _ := ParseAction("GET", asset, nil)
	if got := actionC.CanonicalURL(); got != "/@a/x@1.0.0/widgets/x.js" {
		t.Fatalf("CanonicalURL() = %s", got)
	}
}
