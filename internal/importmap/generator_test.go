package importmap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	msemver "github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"
	"github.com/webwriter-app/webwriter-sub004/internal/localstore"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
	"github.com/webwriter-app/webwriter-sub004/internal/semver"
)

const testOrigin = "http://widgetd.test"

var remotePackages = map[string]map[string]string{
	"@a/z@1.0.0": {
		"package.json": `{"name":"@a/z","version":"1.0.0","exports":{".":"./index.js"}}`,
		"index.js":     `export const z = "Z@1.0.0";`,
	},
	"@a/z@1.5.0": {
		"package.json": `{"name":"@a/z","version":"1.5.0","exports":{".":"./index.js"}}`,
		"index.js":     `export const z = "Z@1.5.0";`,
	},
	"@a/x@1.0.0": {
		"package.json":        `{"name":"@a/x","version":"1.0.0","exports":{"./widgets/x.js":"./widgets/x.js","./snippets/*.html":"./snippets/*.html","./themes/dark.css":{"default":"./themes/dark.css"},"./styles.css":"./dist/styles.css","./partials/*.html":"./partials/*.html"},"dependencies":{"@a/z":"1.0.0"}}`,
		"widgets/x.js":        `import { z } from "@a/z"; import { h } from "./lib/helper.js"; export default z + h;`,
		"lib/helper.js":       `export const h = 1;`,
		"snippets/intro.html": `<p>intro</p>`,
		"snippets/outro.html": `<p>outro</p>`,
		"themes/dark.css":     `body{color:#fff}`,
		"dist/styles.css":     `x{}`,
		"partials/card.html":  `<div></div>`,
	},
	"@a/y@1.0.0": {
		"package.json": `{"name":"@a/y","version":"1.0.0","exports":{"./widgets/y.js":"./widgets/y.js"},"peerDependencies":{"@a/z":"^1.0.0"}}`,
		"widgets/y.js": `import("@a/z").then(m => m.z);`,
	},
	"@a/v@1.0.0": {
		"package.json": `{"name":"@a/v","version":"1.0.0","exports":{"./widgets/v.js":"./widgets/v.js"},"dependencies":{"@a/z":"^1.0.0"}}`,
		"widgets/v.js": `export * from "@a/z";`,
	},
	"@a/broken@1.0.0": {
		"package.json": `{"name":"@a/broken","version":"1.0.0","exports":{"./widgets/b.js":"./widgets/b.js"},"dependencies":{"@a/missing":"1.0.0"}}`,
		"widgets/b.js": `import "@a/missing";`,
	},
	"@a/bad@1.0.0": {
		"package.json":   `{"name":"@a/bad","version":"1.0.0","exports":{"./widgets/bad.js":"./widgets/bad.js"}}`,
		"widgets/bad.js": `export const = ;`,
	},
}

type fixtureSource struct {
	bridge *localstore.Bridge
}

func (s *fixtureSource) Lookup(ctx context.Context, id npm.Identifier) (*npm.Descriptor, error) {
	if id.IsLocal() {
		data, err := s.bridge.ResolveFile(ctx, id.PkgName(), "package.json")
		if err != nil {
			return nil, err
		}
		d, err := npm.ParseDescriptor(data)
		if err != nil {
			return nil, err
		}
		d.Version, err = semver.TagLocalString(d.Version)
		return d, err
	}
	version := id.Version
	if !npm.IsExactVersion(version) {
		c, err := msemver.NewConstraint(version)
		if err != nil {
			return nil, err
		}
		var best *msemver.Version
		for key := range remotePackages {
			if !strings.HasPrefix(key, id.PkgName()+"@") {
				continue
			}
			v := msemver.MustParse(key[len(id.PkgName())+1:])
			if c.Check(v) && (best == nil || v.GreaterThan(best)) {
				best = v
			}
		}
		if best == nil {
			return nil, fmt.Errorf("%w: %s", npm.ErrNotFound, id)
		}
		version = best.String()
	}
	files, ok := remotePackages[id.PkgName()+"@"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", npm.ErrNotFound, id)
	}
	return npm.ParseDescriptor([]byte(files["package.json"]))
}

func (s *fixtureSource) ListFiles(ctx context.Context, id npm.Identifier) ([]string, error) {
	if id.IsLocal() {
		return s.bridge.List(ctx, id.PkgName(), "")
	}
	files := []string{}
	for name := range remotePackages[id.String()] {
		files = append(files, name)
	}
	return files, nil
}

type testLogger struct {
	t *testing.T
}

func (l testLogger) Debugf(format string, v ...any) { l.t.Logf("[debug] "+format, v...) }
func (l testLogger) Warnf(format string, v ...any)  { l.t.Logf("[warn] "+format, v...) }

type testEnv struct {
	mirror   string
	registry *localstore.MemRegistry
	resolver *Resolver
	source   *fixtureSource
}

func newTestEnv(t *testing.T) *testEnv {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spec, err := npm.ParseSpecifier(strings.TrimPrefix(r.URL.Path, "/npm/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		content, ok := remotePackages[spec.Identifier.String()][spec.SubPath]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, content)
	}))
	t.Cleanup(ts.Close)

	reg := localstore.NewMemRegistry()
	bridge := localstore.NewBridge(reg)
	source := &fixtureSource{bridge: bridge}
	remote := &RemoteProvider{Mirror: ts.URL + "/npm", Timeout: 10}
	local := &LocalProvider{Origin: testOrigin, Bridge: bridge}
	return &testEnv{
		mirror:   ts.URL + "/npm",
		registry: reg,
		source:   source,
		resolver: NewResolver(remote, local, source, source, testLogger{t}),
	}
}

func (env *testEnv) grant(name string, files map[string]string) {
	fs := afero.NewMemMapFs()
	for name, content := range files {
		afero.WriteFile(fs, "/"+name, []byte(content), 0644)
	}
	env.registry.Grant(name, fs)
}

func (env *testEnv) generate(t *testing.T, specifiers ...string) *Result {
	ids := []npm.Identifier{}
	seen := map[npm.Identifier]bool{}
	for _, s := range specifiers {
		spec, err := npm.ParseSpecifier(s)
		if err != nil {
			t.Fatal(err)
		}
		if !seen[spec.Identifier] {
			seen[spec.Identifier] = true
			ids = append(ids, spec.Identifier)
		}
	}
	descriptors := []*npm.Descriptor{}
	for _, id := range ids {
		d, err := env.source.Lookup(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		descriptors = append(descriptors, d)
	}
	ret, err := env.resolver.Generate(context.Background(), specifiers, descriptors)
	if err != nil {
		t.Fatal(err)
	}
	return ret
}

func TestGenerateRemote(t *testing.T) {
	env := newTestEnv(t)
	ret := env.generate(t, "@a/x@1.0.0/widgets/x.js", "@a/y@1.0.0/widgets/y.js")
	im := ret.ImportMap

	if len(ret.Excluded) != 0 {
		t.Fatalf("nothing should be excluded, got %v", ret.Excluded)
	}
	if u, _ := im.Imports.Get("@a/x@1.0.0/widgets/x.js"); u != env.mirror+"/@a/x@1.0.0/widgets/x.js" {
		t.Fatalf("unexpected url for x: %s", u)
	}
	if u, _ := im.Imports.Get("@a/y@1.0.0/widgets/y.js"); u != env.mirror+"/@a/y@1.0.0/widgets/y.js" {
		t.Fatalf("unexpected url for y: %s", u)
	}
	if _, ok := im.Imports.Get("@a/x/widgets/x.js"); ok {
		t.Fatal("bare keys should be rewritten to versioned keys")
	}
	scope, ok := im.GetScopeImports(env.mirror + "/@a/x@1.0.0/")
	if !ok {
		t.Fatalf("missing scope of @a/x:\n%s", im.FormatJSON(0))
	}
	if u, _ := scope.Get("@a/z"); u != env.mirror+"/@a/z@1.0.0/index.js" {
		t.Fatalf("unexpected url for @a/z: %s", u)
	}
	// y imports @a/z dynamically with a ^1.0.0 peer range and reuses the 1.0.0 linked for x
	scope, _ = im.GetScopeImports(env.mirror + "/@a/y@1.0.0/")
	if u, _ := scope.Get("@a/z"); u != env.mirror+"/@a/z@1.0.0/index.js" {
		t.Fatalf("unexpected url for @a/z in y: %s", u)
	}
	alone := env.generate(t, "@a/y@1.0.0/widgets/y.js")
	scope, _ = alone.ImportMap.GetScopeImports(env.mirror + "/@a/y@1.0.0/")
	if u, _ := scope.Get("@a/z"); u != env.mirror+"/@a/z@1.5.0/index.js" {
		t.Fatalf("y alone should resolve its peer range, got %q", u)
	}
	// asset overlay
	for key, file := range map[string]string{
		"@a/x@1.0.0/snippets/intro.html": "snippets/intro.html",
		"@a/x@1.0.0/snippets/outro.html": "snippets/outro.html",
		"@a/x@1.0.0/themes/dark.css":     "themes/dark.css",
		// untyped exports of markup and stylesheets
		"@a/x@1.0.0/styles.css":         "dist/styles.css",
		"@a/x@1.0.0/partials/card.html": "partials/card.html",
	} {
		if u, _ := im.Imports.Get(key); u != env.mirror+"/@a/x@1.0.0/"+file {
			t.Fatalf("unexpected url for %s: %s", key, u)
		}
	}

	again := env.generate(t, "@a/x@1.0.0/widgets/x.js", "@a/y@1.0.0/widgets/y.js")
	if again.ImportMap.FormatJSON(0) != im.FormatJSON(0) {
		t.Fatal("generation should be idempotent")
	}
}

func TestExclusionIsolation(t *testing.T) {
	env := newTestEnv(t)
	ret := env.generate(t, "@a/broken@1.0.0/widgets/b.js", "@a/x@1.0.0/widgets/x.js", "@a/bad@1.0.0/widgets/bad.js")

	if !reflect.DeepEqual(ret.Excluded, []string{"@a/broken@1.0.0/widgets/b.js", "@a/bad@1.0.0/widgets/bad.js"}) {
		t.Fatalf("unexpected exclusions %v", ret.Excluded)
	}
	if u, _ := ret.ImportMap.Imports.Get("@a/x@1.0.0/widgets/x.js"); u != env.mirror+"/@a/x@1.0.0/widgets/x.js" {
		t.Fatalf("x should still be mapped, got %q", u)
	}
	if _, ok := ret.ImportMap.Imports.Get("@a/broken@1.0.0/widgets/b.js"); ok {
		t.Fatal("excluded specifiers should not be mapped")
	}

	ret = env.generate(t, "@a/broken@1.0.0/widgets/b.js")
	if len(ret.Excluded) != 1 || ret.ImportMap.Imports.Len() != 0 {
		t.Fatalf("an empty map is expected, got %s", ret.ImportMap.FormatJSON(0))
	}
}

func TestPinnedVersions(t *testing.T) {
	env := newTestEnv(t)
	// v accepts ^1.0.0, 1.5.0 is the highest match but 1.0.0 is pinned
	ret := env.generate(t, "@a/v@1.0.0/widgets/v.js", "@a/z@1.0.0")
	im := ret.ImportMap
	if u, _ := im.Imports.Get("@a/z@1.0.0"); u != env.mirror+"/@a/z@1.0.0/index.js" {
		t.Fatalf("unexpected url for @a/z@1.0.0: %q", u)
	}
	scope, _ := im.GetScopeImports(env.mirror + "/@a/v@1.0.0/")
	if u, _ := scope.Get("@a/z"); u != env.mirror+"/@a/z@1.0.0/index.js" {
		t.Fatalf("the pinned version should be used, got %q", u)
	}

	// without a pin the declared range is resolved
	ret = env.generate(t, "@a/v@1.0.0/widgets/v.js")
	scope, _ = ret.ImportMap.GetScopeImports(env.mirror + "/@a/v@1.0.0/")
	if u, _ := scope.Get("@a/z"); u != env.mirror+"/@a/z@1.5.0/index.js" {
		t.Fatalf("unexpected url %q", u)
	}
}

func TestGenerateLocal(t *testing.T) {
	env := newTestEnv(t)
	env.grant("@a/l", map[string]string{
		"package.json":    `{"name":"@a/l","version":"0.1.0","exports":{"./widgets/l.js":"./widgets/l.js","./themes/*.css":"./themes/*.css"},"dependencies":{"@a/z":"1.0.0"}}`,
		"widgets/l.js":    `import { z } from "@a/z"; import { u } from "./util.js"; export default z + u;`,
		"widgets/util.js": `export const u = 1;`,
		"themes/a.css":    `a{}`,
	})

	ret := env.generate(t, "@a/x@1.0.0/widgets/x.js", "@a/l@0.1.0-local/widgets/l.js")
	im := ret.ImportMap
	if len(ret.Excluded) != 0 {
		t.Fatalf("nothing should be excluded, got %v", ret.Excluded)
	}
	if u, _ := im.Imports.Get("@a/l@0.1.0-local/widgets/l.js"); u != testOrigin+"/@a/l@0.1.0-local/widgets/l.js" {
		t.Fatalf("unexpected url for the local widget: %q", u)
	}
	if u, _ := im.Imports.Get("@a/x@1.0.0/widgets/x.js"); u != env.mirror+"/@a/x@1.0.0/widgets/x.js" {
		t.Fatalf("the remote entries should be kept: %q", u)
	}
	scope, _ := im.GetScopeImports(testOrigin + "/@a/l@0.1.0-local/")
	if u, _ := scope.Get("@a/z"); u != env.mirror+"/@a/z@1.0.0/index.js" {
		t.Fatalf("local packages should import published ones, got %q", u)
	}
	if u, _ := im.Imports.Get("@a/l@0.1.0-local/themes/a.css"); u != testOrigin+"/@a/l@0.1.0-local/themes/a.css" {
		t.Fatalf("unexpected url for the local theme: %q", u)
	}
}

func TestLocalExclusion(t *testing.T) {
	env := newTestEnv(t)
	env.grant("@a/m", map[string]string{
		"package.json":  `{"name":"@a/m","version":"1.0.0","exports":{"./widgets/ok.js":"./widgets/ok.js","./widgets/gone.js":"./widgets/gone.js"}}`,
		"widgets/ok.js": `export default 1;`,
	})
	env.grant("@a/p", map[string]string{
		"package.json":    `{"name":"@a/p","version":"1.0.0","exports":{"./widgets/*.js":"./widgets/*.js"}}`,
		"widgets/bad1.js": `export const = ;`,
		"widgets/bad2.js": `export const = ;`,
		"widgets/good.js": `export default 1;`,
	})
	// granted only to read the descriptor, then revoked
	env.grant("@a/h", map[string]string{
		"package.json": `{"name":"@a/h","version":"1.0.0","exports":{"./widgets/a.js":"./widgets/a.js","./widgets/b.js":"./widgets/b.js"}}`,
	})

	specs := []string{
		"@a/m@1.0.0-local/widgets/ok.js",
		"@a/m@1.0.0-local/widgets/gone.js",
		"@a/p@1.0.0-local/widgets/bad1.js",
		"@a/p@1.0.0-local/widgets/bad2.js",
		"@a/p@1.0.0-local/widgets/good.js",
		"@a/h@1.0.0-local/widgets/a.js",
		"@a/h@1.0.0-local/widgets/b.js",
	}
	descriptors := []*npm.Descriptor{}
	for _, name := range []string{"@a/m", "@a/p", "@a/h"} {
		d, err := env.source.Lookup(context.Background(), npm.NewIdentifier(name, "1.0.0-local"))
		if err != nil {
			t.Fatal(err)
		}
		descriptors = append(descriptors, d)
	}
	env.registry.Revoke("@a/h")

	ret, err := env.resolver.Generate(context.Background(), specs, descriptors)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"@a/m@1.0.0-local/widgets/gone.js",
		"@a/p@1.0.0-local/widgets/bad1.js",
		"@a/p@1.0.0-local/widgets/bad2.js",
		"@a/p@1.0.0-local/widgets/good.js",
		"@a/h@1.0.0-local/widgets/a.js",
		"@a/h@1.0.0-local/widgets/b.js",
	}
	if !reflect.DeepEqual(ret.Excluded, want) {
		t.Fatalf("got exclusions %v, want %v", ret.Excluded, want)
	}
	if u, _ := ret.ImportMap.Imports.Get("@a/m@1.0.0-local/widgets/ok.js"); u != testOrigin+"/@a/m@1.0.0-local/widgets/ok.js" {
		t.Fatalf("ok.js should be mapped, got %q", u)
	}
}

func TestClassifyFault(t *testing.T) {
	set := []string{"@a/x@1.0.0/widgets/x.js", "@a/y@1.0.0/widgets/y.js"}

	f, ok := classifyFault(&InstallError{Root: set[1], Err: &ModuleNotFoundError{Specifier: "@a/z"}}, set)
	if !ok || f.kind != moduleNotFound || f.specifier != set[1] || f.pkgName != "@a/y" {
		t.Fatalf("unexpected fault %+v, %v", f, ok)
	}

	f, ok = classifyFault(&AnalyzeError{Specifier: set[0], Module: "https://cdn.test/x.js", Err: errors.New("syntax error")}, set)
	if !ok || f.kind != analyzeFailed || f.specifier != set[0] {
		t.Fatalf("unexpected fault %+v, %v", f, ok)
	}

	f, ok = classifyFault(errors.New(`build failed: Could not resolve "@a/y/widgets/y.js"`), set)
	if !ok || f.kind != moduleNotFound || f.specifier != set[1] {
		t.Fatalf("message patterns should be matched, got %+v, %v", f, ok)
	}

	if _, ok = classifyFault(errors.New(`Module not found: @a/q`), set); ok {
		t.Fatal("faults naming no member of the set should not be classified")
	}
	if _, ok = classifyFault(errors.New("connection reset"), set); ok {
		t.Fatal("other errors should not be classified")
	}
}
