package npm

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseSpecifier(t *testing.T) {
	tests := []struct {
		name      string
		specifier string
		want      Specifier
		wantErr   bool
	}{
		{
			name:      "ScopedWithVersionAndSubPath",
			specifier: "@webwriter/slides@1.2.0/widgets/slides.js",
			want:      Specifier{Identifier{"webwriter", "slides", "1.2.0"}, "widgets/slides.js"},
		},
		{
			name:      "ScopedBare",
			specifier: "@webwriter/slides",
			want:      Specifier{Identifier{"webwriter", "slides", ""}, ""},
		},
		{
			name:      "UnscopedLocal",
			specifier: "/lit@3.0.0-local/index.js",
			want:      Specifier{Identifier{"", "lit", "3.0.0-local"}, "index.js"},
		},
		{
			name:      "InvalidScope",
			specifier: "@/x@1.0.0",
			wantErr:   true,
		},
		{
			name:      "InvalidName",
			specifier: "@a/x y@1.0.0",
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseSpecifier(tt.specifier)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSpecifier(%q) error = %v, wantErr %v", tt.specifier, err, tt.wantErr)
			}
			if !tt.wantErr && spec != tt.want {
				t.Fatalf("ParseSpecifier(%q) = %#v, want %#v", tt.specifier, spec, tt.want)
			}
		})
	}
}

func TestIdentifier(t *testing.T) {
	id, err := ParseIdentifier("@a/x@1.0.0-local")
	if err != nil {
		t.Fatal(err)
	}
	if !id.IsLocal() {
		t.Fatal("should be a local identifier")
	}
	if id.String() != "@a/x@1.0.0-local" {
		t.Fatalf("unexpected string %s", id)
	}
	if id != NewIdentifier("@a/x", "1.0.0-local") {
		t.Fatal("identifiers should be equal")
	}
	if id == NewIdentifier("@a/x", "1.0.0") {
		t.Fatal("identifiers with different versions should not be equal")
	}
	if _, err := ParseIdentifier("@a/x"); err == nil {
		t.Fatal("should require a version")
	}
	spec, _ := ParseSpecifier("@a/x/widgets/x.js")
	if spec.Versioned("2.0.0") != "@a/x@2.0.0/widgets/x.js" || spec.Bare() != "@a/x/widgets/x.js" {
		t.Fatalf("unexpected specifier forms %s %s", spec.Versioned("2.0.0"), spec.Bare())
	}
}

func TestIsExactVersion(t *testing.T) {
	for v, want := range map[string]bool{
		"1.0.0":       true,
		"1.0.0-local": true,
		"1.0":         false,
		"^1.0.0":      false,
		"latest":      false,
	} {
		if IsExactVersion(v) != want {
			t.Errorf("IsExactVersion(%q) should be %v", v, want)
		}
	}
}

const widgetPackageJSON = `{
  "name": "@a/x",
  "version": "1.0.0",
  "exports": {
    ".": "./index.js",
    "./widgets/*.js": {"default": "./dist/widgets/*.js"},
    "./widgets/extra.css": "./extra.css",
    "./snippets/intro.html": "./snippets/intro.html",
    "./themes/dark.css": {"browser": "./themes/dark.css", "default": "./themes/dark.node.css"},
    "./lib/": "./dist/lib/"
  },
  "dependencies": {"@a/z": "1.0.0", "zz": "npm:@a/z@1.1.0"}
}`

func TestDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(widgetPackageJSON))
	if err != nil {
		t.Fatal(err)
	}
	if d.Identifier() != (Identifier{"a", "x", "1.0.0"}) {
		t.Fatalf("unexpected identifier %v", d.Identifier())
	}

	exports := map[string]string{
		"":                   "index.js",
		"widgets/x.js":       "dist/widgets/x.js",
		"themes/dark.css":    "themes/dark.css",
		"lib/util/format.js": "dist/lib/util/format.js",
	}
	for subPath, want := range exports {
		got, ok := d.ResolveExport(subPath)
		if !ok || got != want {
			t.Errorf("ResolveExport(%q) = %q, %v, want %q", subPath, got, ok, want)
		}
	}
	if _, ok := d.ResolveExport("private.js"); ok {
		t.Error("unexported subpath should not resolve")
	}

	entries := d.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 typed entries, got %v", entries)
	}
	if entries[0].Kind != SnippetEntry || entries[1].Kind != ThemeEntry || entries[2].Kind != WidgetEntry {
		t.Fatalf("unexpected entry kinds %v", entries)
	}

	all := d.ExportEntries()
	keys := make([]string, len(all))
	for i, e := range all {
		keys[i] = e.Key
	}
	if want := []string{"./lib/", "./snippets/intro.html", "./themes/dark.css", "./widgets/*.js", "./widgets/extra.css"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("ExportEntries() keys = %v, want %v", keys, want)
	}
	if all[0].Kind != OtherEntry || all[4].Target != "extra.css" {
		t.Fatalf("unexpected export entries %v", all)
	}

	expanded := ExpandEntry(entries[2], []string{"dist/widgets/x.js", "dist/widgets/y.js", "dist/widgets/nested/z.js", "dist/widgets/readme.md"})
	if len(expanded) != 2 || expanded[0].Key != "./widgets/x.js" || expanded[1].Target != "dist/widgets/y.js" {
		t.Fatalf("unexpected expansion %v", expanded)
	}

	name, version, ok := d.Dependency("zz")
	if !ok || name != "@a/z" || version != "1.1.0" {
		t.Fatalf("unexpected aliased dependency %s@%s", name, version)
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := ParseDescriptor(data)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := d2.ResolveExport("widgets/y.js"); got != "dist/widgets/y.js" {
		t.Fatalf("descriptor did not survive encoding: %s", data)
	}
}

func TestStringExports(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"name":"z","version":"1.0.0","exports":"./main.js"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := d.ResolveExport(""); !ok || got != "main.js" {
		t.Fatalf("unexpected root export %q", got)
	}
	d, _ = ParseDescriptor([]byte(`{"name":"z","version":"1.0.0","main":"lib/z.js"}`))
	if got, _ := d.ResolveExport(""); got != "lib/z.js" {
		t.Fatalf("main should be used without exports, got %q", got)
	}
	if got, _ := d.ResolveExport("lib/other.js"); got != "lib/other.js" {
		t.Fatalf("all files are exported without exports, got %q", got)
	}
}
