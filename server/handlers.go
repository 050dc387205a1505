package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/webwriter-app/webwriter-sub004/internal/compiler"
	"github.com/webwriter-app/webwriter-sub004/internal/importmap"
	"github.com/webwriter-app/webwriter-sub004/internal/localstore"
	"github.com/webwriter-app/webwriter-sub004/internal/mime"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
	"github.com/webwriter-app/webwriter-sub004/internal/registry"
	"golang.org/x/sync/errgroup"
)

// asset serves a raw file of a package, `/{name}@{version}/{path}`. Files of
// local packages are read through the local store bridge.
func (r *Router) asset(ctx context.Context, a *Action) (*Response, error) {
	specs, err := a.Specifiers()
	if err != nil {
		return nil, err
	}
	spec := specs[0]
	subPath := spec.SubPath
	if subPath == "" {
		d, err := r.fetcher.Lookup(ctx, spec.Identifier)
		if err != nil {
			return nil, err
		}
		main, ok := d.ResolveExport("")
		if !ok {
			return nil, &importmap.ModuleNotFoundError{Specifier: a.IDs[0], Err: errors.New("package has no main export")}
		}
		subPath = main
	}

	var data []byte
	if spec.IsLocal() {
		bridge := r.fetcher.Bridge()
		if bridge == nil {
			return nil, fmt.Errorf("%w: %s", localstore.ErrHandleMissing, spec.PkgName())
		}
		data, err = bridge.ResolveFile(ctx, spec.PkgName(), subPath)
	} else {
		baseUrl, ok := r.providers.PkgToURL(spec.Identifier)
		if !ok {
			return nil, &badRequestError{"invalid id '" + a.IDs[0] + "'"}
		}
		data, err = r.providers.Fetch(ctx, baseUrl+subPath)
	}
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: mime.GetContentType(subPath),
		Body:        data,
		Cacheable:   true,
	}, nil
}

// packages lists the descriptors of the given packages, or the discovered
// catalog when no ids are given.
func (r *Router) packages(ctx context.Context, ids []npm.Identifier) (*Response, error) {
	descriptors, err := r.fetcher.GetDescriptors(ctx, ids)
	if err != nil {
		return nil, err
	}
	return jsonResponse(descriptors, true)
}

// importMap generates the import map of the requested specifiers. With
// `pkg=true` the ids are package descriptors and all of their entry points
// are mapped.
func (r *Router) importMap(ctx context.Context, a *Action) (*Response, error) {
	var (
		specifiers  []string
		descriptors []*npm.Descriptor
		err         error
	)
	if a.Flag("pkg") {
		descriptors, err = parsePkgDescriptors(a.IDs)
		if err != nil {
			return nil, err
		}
		specifiers = r.entrySpecifiers(ctx, descriptors)
	} else {
		specs, err := a.Specifiers()
		if err != nil {
			return nil, err
		}
		specifiers = a.IDs
		descriptors, err = r.lookupDescriptors(ctx, npm.UniqueIdentifiers(specs))
		if err != nil {
			return nil, err
		}
	}

	result, err := r.resolver.Generate(ctx, specifiers, descriptors)
	if err != nil {
		return nil, err
	}
	if len(result.Excluded) > 0 {
		r.logger.Warnf("importmap: excluded %s", strings.Join(result.Excluded, ", "))
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: mime.JSON,
		Body:        []byte(result.ImportMap.FormatJSON(0)),
		Cacheable:   !r.linksLocal(result.ImportMap.URLs()),
	}, nil
}

// bundle compiles script entries into a single module, or concatenates
// stylesheet and markup entries.
func (r *Router) bundle(ctx context.Context, a *Action) (*Response, error) {
	t, err := compiler.ClassifyEntries(a.IDs, a.Args["type"])
	if err != nil {
		return nil, err
	}
	specs, err := a.Specifiers()
	if err != nil {
		return nil, err
	}
	opts := compiler.Options{
		Minify:  a.Flag("minify"),
		Target:  r.buildTarget,
		Fetcher: r.providers,
	}
	if target := a.Args["target"]; target != "" {
		if !compiler.IsTarget(target) {
			return nil, &badRequestError{"invalid target '" + target + "'"}
		}
		opts.Target = target
	} else if v := a.Args["engine"]; v != "" {
		engine, ok := compiler.ParseEngine(v)
		if !ok {
			return nil, &badRequestError{"invalid engine '" + v + "'"}
		}
		opts.Engine = &engine
	}

	descriptors, err := r.lookupDescriptors(ctx, npm.UniqueIdentifiers(specs))
	if err != nil {
		return nil, err
	}
	result, err := r.resolver.Generate(ctx, a.IDs, descriptors)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(result.Excluded))
	for _, s := range result.Excluded {
		excluded[s] = true
	}
	entries := make([]string, 0, len(a.IDs))
	for _, id := range a.IDs {
		if excluded[id] {
			r.logger.Warnf("bundle: %s could not be linked, left out", id)
			continue
		}
		entries = append(entries, id)
	}

	var out []byte
	if t == compiler.Script {
		out, err = compiler.Compile(ctx, entries, result.ImportMap, opts)
	} else {
		out, err = compiler.Concat(ctx, entries, result.ImportMap, t, opts)
	}
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: t.ContentType(),
		Body:        out,
		Cacheable:   !r.linksLocal(result.ImportMap.URLs()),
	}, nil
}

// lookupDescriptors fetches the descriptors of the packages concurrently.
// Packages that can not be found are left out, the generator excludes their
// specifiers.
func (r *Router) lookupDescriptors(ctx context.Context, ids []npm.Identifier) ([]*npm.Descriptor, error) {
	found := make([]*npm.Descriptor, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			d, err := r.fetcher.Lookup(gctx, id)
			if err != nil {
				if errors.Is(err, registry.ErrNotFound) || errors.Is(err, localstore.ErrNotFound) || errors.Is(err, localstore.ErrHandleMissing) {
					r.logger.Warnf("metadata: %s: %v", id, err)
					return nil
				}
				return err
			}
			found[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	descriptors := make([]*npm.Descriptor, 0, len(found))
	for _, d := range found {
		if d != nil {
			descriptors = append(descriptors, d)
		}
	}
	return descriptors, nil
}

// entrySpecifiers returns a specifier for every widget entry point of the
// descriptors. Wildcard entries are expanded against the package files.
func (r *Router) entrySpecifiers(ctx context.Context, descriptors []*npm.Descriptor) []string {
	specifiers := []string{}
	for _, d := range descriptors {
		id := d.Identifier()
		var files []string
		for _, entry := range d.Entries() {
			if entry.Kind != npm.WidgetEntry {
				continue
			}
			if entry.Wildcard() && files == nil {
				var err error
				files, err = r.fetcher.ListFiles(ctx, id)
				if err != nil {
					r.logger.Warnf("importmap: could not list the files of %s: %v", id, err)
					files = []string{}
				}
			}
			for _, e := range npm.ExpandEntry(entry, files) {
				specifiers = append(specifiers, id.String()+"/"+e.SubPath())
			}
		}
	}
	return specifiers
}

// parsePkgDescriptors parses ids given as JSON package descriptors.
func parsePkgDescriptors(ids []string) ([]*npm.Descriptor, error) {
	if len(ids) == 0 {
		return nil, &badRequestError{"missing ids"}
	}
	descriptors := make([]*npm.Descriptor, 0, len(ids))
	for _, s := range ids {
		d, err := npm.ParseDescriptor([]byte(s))
		if err != nil {
			return nil, &badRequestError{"invalid package descriptor: " + err.Error()}
		}
		if d.Name == "" || d.Version == "" {
			return nil, &badRequestError{"invalid package descriptor: missing name or version"}
		}
		if !npm.ValidatePackageName(d.Name) {
			return nil, &badRequestError{"invalid package name '" + d.Name + "'"}
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
