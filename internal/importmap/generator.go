package importmap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/webwriter-app/webwriter-sub004/internal/localstore"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
)

// Logger is implemented by *log.Logger of github.com/ije/gox.
type Logger interface {
	Debugf(format string, v ...any)
	Warnf(format string, v ...any)
}

// DescriptorSource looks up package descriptors. Versions that are not
// exact (dist tags, ranges) are resolved by the source.
type DescriptorSource interface {
	Lookup(ctx context.Context, id npm.Identifier) (*npm.Descriptor, error)
}

// Generator links specifiers into an import map.
type Generator struct {
	Providers Providers
	// pinned versions by package name
	Resolutions map[string]string
	// bare imports answered by the input map are not linked again
	InputMap    *ImportMap
	Descriptors DescriptorSource
	Logger      Logger
}

type install struct {
	*Generator
	ctx     context.Context
	im      *ImportMap
	pins    map[string]string
	visited map[string]bool
	deps    map[npm.Identifier]*npm.Descriptor
}

// Install links the given specifiers and returns the resulting import map
// together with the final resolution table. Top-level keys are written as
// bare specifiers, the dependencies of a package are written to the scope of
// the package.
func (g *Generator) Install(ctx context.Context, specifiers []string) (*ImportMap, map[string]string, error) {
	start := time.Now()
	in := &install{
		Generator: g,
		ctx:       ctx,
		im:        Blank(),
		pins:      make(map[string]string, len(g.Resolutions)),
		visited:   map[string]bool{},
		deps:      map[npm.Identifier]*npm.Descriptor{},
	}
	for name, version := range g.Resolutions {
		in.pins[name] = version
	}
	for _, s := range specifiers {
		if err := in.installRoot(s); err != nil {
			return nil, nil, &InstallError{Root: s, Err: err}
		}
	}
	if g.Logger != nil {
		g.Logger.Debugf("importmap: installed %d specifiers in %v", len(specifiers), time.Since(start))
	}
	return in.im, in.pins, nil
}

func (in *install) installRoot(s string) error {
	spec, err := npm.ParseSpecifier(s)
	if err != nil {
		return &ModuleNotFoundError{Specifier: s, Err: err}
	}
	version := spec.Version
	if version == "" {
		version = in.pins[spec.PkgName()]
	}
	if version == "" {
		return &ModuleNotFoundError{Specifier: s, Err: errors.New("no pinned version")}
	}
	moduleUrl, err := in.link(spec, version, s)
	if err != nil {
		return err
	}
	if _, ok := in.pins[spec.PkgName()]; !ok {
		in.pins[spec.PkgName()] = version
	}
	key := spec.Bare()
	if existing, ok := in.im.Imports.Get(key); ok && existing != moduleUrl {
		// another version of the same package is requested
		key = spec.Versioned(version)
	}
	in.im.Imports.Set(key, moduleUrl)
	return in.trace(moduleUrl, s)
}

// link resolves a package specifier at the given version to a module url.
func (in *install) link(spec npm.Specifier, version string, from string) (string, error) {
	id := npm.NewIdentifier(spec.PkgName(), version)
	d, err := in.descriptor(id)
	if err != nil {
		return "", err
	}
	id = d.Identifier()
	baseUrl, ok := in.Providers.PkgToURL(id)
	if !ok {
		return "", &ModuleNotFoundError{Specifier: spec.Bare(), Module: from, Err: fmt.Errorf("no provider for %s", id)}
	}
	file, ok := d.ResolveExport(spec.SubPath)
	if !ok {
		return "", &ModuleNotFoundError{Specifier: spec.Bare(), Module: from, Err: fmt.Errorf("%s is not exported by %s", spec.SubPath, id)}
	}
	return baseUrl + file, nil
}

func (in *install) descriptor(id npm.Identifier) (*npm.Descriptor, error) {
	if d, ok := in.deps[id]; ok {
		return d, nil
	}
	d, err := in.Descriptors.Lookup(in.ctx, id)
	if err != nil {
		if errors.Is(err, npm.ErrNotFound) || errors.Is(err, localstore.ErrNotFound) {
			return nil, &ModuleNotFoundError{Specifier: id.String(), Err: err}
		}
		if errors.Is(err, localstore.ErrHandleMissing) {
			return nil, &HandleMissingError{Package: id.PkgName(), Err: err}
		}
		return nil, err
	}
	in.deps[id] = d
	return d, nil
}

// trace fetches a module and links its imports, depth first.
func (in *install) trace(moduleUrl string, specifier string) error {
	if in.visited[moduleUrl] {
		return nil
	}
	in.visited[moduleUrl] = true
	if err := in.ctx.Err(); err != nil {
		return err
	}

	if _, ok := loaderOf(moduleUrl); !ok {
		return nil
	}
	id, _, ok := in.Providers.ParseURLPkg(moduleUrl)
	if !ok {
		return &ModuleNotFoundError{Specifier: specifier, Module: moduleUrl, Err: errors.New("url is not served by any provider")}
	}
	data, err := in.Providers.Fetch(in.ctx, moduleUrl)
	if err != nil {
		var notFound *ModuleNotFoundError
		if errors.As(err, &notFound) {
			notFound.Specifier = specifier
			return notFound
		}
		return err
	}
	records, err := scanImports(moduleUrl, string(data))
	if err != nil {
		return &AnalyzeError{Specifier: specifier, Module: moduleUrl, Err: err}
	}
	referrer, err := url.Parse(moduleUrl)
	if err != nil {
		return &AnalyzeError{Specifier: specifier, Module: moduleUrl, Err: err}
	}
	d, err := in.descriptor(id)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := in.traceImport(r, referrer, id, d); err != nil {
			return err
		}
	}
	return nil
}

func (in *install) traceImport(r importRecord, referrer *url.URL, importer npm.Identifier, d *npm.Descriptor) error {
	s := r.specifier
	switch {
	case isRelativeSpecifier(s):
		ref, err := url.Parse(s)
		if err != nil {
			return &ModuleNotFoundError{Specifier: s, Module: referrer.String(), Err: err}
		}
		return in.trace(referrer.ResolveReference(ref).String(), s)
	case isURL(s) || !npm.IsBareSpecifier(s):
		return nil
	}

	spec, err := npm.ParseSpecifier(s)
	if err != nil {
		return &ModuleNotFoundError{Specifier: s, Module: referrer.String(), Err: err}
	}
	scope, _ := in.Providers.PkgToURL(importer)

	if in.InputMap != nil {
		if u, ok := in.lookupInput(spec, referrer); ok {
			in.im.SetScoped(scope, s, u)
			return nil
		}
	}

	name := spec.PkgName()
	version, pinned := in.pins[name]
	if !pinned {
		depName, depVersion, ok := d.Dependency(name)
		if !ok || depName != name {
			if ok {
				// npm alias, e.g. "z": "npm:@scope/z@1.0.0"
				spec = npm.Specifier{Identifier: npm.NewIdentifier(depName, ""), SubPath: spec.SubPath}
			} else {
				return &ModuleNotFoundError{Specifier: s, Module: referrer.String(), Err: fmt.Errorf("%s is not a dependency of %s", name, importer)}
			}
		}
		dep, err := in.descriptor(npm.NewIdentifier(depName, depVersion))
		if err != nil {
			var notFound *ModuleNotFoundError
			if errors.As(err, &notFound) {
				notFound.Specifier = s
				notFound.Module = referrer.String()
			}
			return err
		}
		version = dep.Version
		in.pins[name] = version
	}
	moduleUrl, err := in.link(spec, version, referrer.String())
	if err != nil {
		var notFound *ModuleNotFoundError
		if errors.As(err, &notFound) {
			notFound.Specifier = s
		}
		return err
	}
	in.im.SetScoped(scope, s, moduleUrl)
	if r.dynamic && in.Logger != nil {
		in.Logger.Debugf("importmap: dynamic import %s from %s", s, referrer)
	}
	return in.trace(moduleUrl, s)
}

// lookupInput resolves a bare import through the input map, trying the
// pinned versioned key first.
func (in *install) lookupInput(spec npm.Specifier, referrer *url.URL) (string, bool) {
	if version, ok := in.pins[spec.PkgName()]; ok {
		if u, ok := in.InputMap.Imports.Get(spec.Versioned(version)); ok {
			return u, true
		}
	}
	return in.InputMap.Resolve(spec.String(), referrer)
}
