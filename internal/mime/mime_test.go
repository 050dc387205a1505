package mime

import "testing"

func TestGetContentType(t *testing.T) {
	tests := map[string]string{
		"widgets/x.js":         JavaScript,
		"snippets/intro.html":  HTML,
		"themes/dark.css":      CSS,
		"package.json":         JSON,
		"assets/logo.png":      "image/png",
		"assets/data.unknown":  Binary,
		"@a/x@1.0.0/README.md": "text/markdown; charset=utf-8",
	}
	for filename, want := range tests {
		if got := GetContentType(filename); got != want {
			t.Errorf("GetContentType(%q) = %q, want %q", filename, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"x.js":    Script,
		"x.mjs":   Script,
		"x.json":  JSONData,
		"x.html":  Markup,
		"x.css":   Stylesheet,
		"x.woff2": Raw,
		"noext":   Raw,
	}
	for filename, want := range tests {
		if got := KindOf(filename); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", filename, got, want)
		}
	}
}
