package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/ije/gox/set"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
	"golang.org/x/sync/errgroup"
)

type searchResult struct {
	Objects []struct {
		Package struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"package"`
	} `json:"objects"`
}

// Discover enumerates all known packages from the keyword search, the
// organization lists and the static catalog. Discovery is best-effort: a
// failing source is logged and contributes nothing. Packages are
// deduplicated by name, the first seen version wins.
func (f *Fetcher) Discover(ctx context.Context) []*npm.Descriptor {
	sources := []func(context.Context) ([]npm.Identifier, error){
		f.searchKeywords,
		f.listOrgs,
		f.staticPackages,
	}
	results := make([][]*npm.Descriptor, len(sources))
	var g errgroup.Group
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			ids, err := source(ctx)
			if err != nil {
				f.opts.Logger.Warnf("catalog: %v", err)
			}
			results[i] = f.fetchAll(ctx, ids)
			return nil
		})
	}
	g.Wait()

	seen := set.New[string]()
	catalog := []*npm.Descriptor{}
	for _, descriptors := range results {
		for _, d := range descriptors {
			if !seen.Has(d.Name) {
				seen.Add(d.Name)
				catalog = append(catalog, d)
			}
		}
	}
	return catalog
}

// fetchAll fetches the descriptors of ids, leaving out the ones that fail.
func (f *Fetcher) fetchAll(ctx context.Context, ids []npm.Identifier) []*npm.Descriptor {
	descriptors := make([]*npm.Descriptor, len(ids))
	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			d, err := f.Descriptor(ctx, id.PkgName(), id.Version)
			if err != nil {
				f.opts.Logger.Warnf("catalog: %v", err)
				return nil
			}
			descriptors[i] = d
			return nil
		})
	}
	g.Wait()
	ret := make([]*npm.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d != nil {
			ret = append(ret, d)
		}
	}
	return ret
}

func (f *Fetcher) searchKeywords(ctx context.Context) ([]npm.Identifier, error) {
	var ids []npm.Identifier
	var errs []string
	for _, kw := range f.opts.Catalog.Keywords {
		data, err := f.get(ctx, fmt.Sprintf("%s/-/v1/search?text=keywords:%s&size=250", f.opts.Registry, url.QueryEscape(kw)))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		var ret searchResult
		if err := json.Unmarshal(data, &ret); err != nil {
			errs = append(errs, fmt.Sprintf("invalid search result for keyword %s: %v", kw, err))
			continue
		}
		for _, o := range ret.Objects {
			if o.Package.Name != "" && o.Package.Version != "" {
				ids = append(ids, npm.NewIdentifier(o.Package.Name, o.Package.Version))
			}
		}
	}
	return ids, joinErrors("search", errs)
}

func (f *Fetcher) listOrgs(ctx context.Context) ([]npm.Identifier, error) {
	var ids []npm.Identifier
	var errs []string
	for _, org := range f.opts.Catalog.Orgs {
		data, err := f.get(ctx, fmt.Sprintf("%s/-/org/%s/package", f.opts.Registry, url.PathEscape(strings.TrimPrefix(org, "@"))))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		// {"@org/name": "write", ...}
		var packages map[string]string
		if err := json.Unmarshal(data, &packages); err != nil {
			errs = append(errs, fmt.Sprintf("invalid package list of org %s: %v", org, err))
			continue
		}
		names := make([]string, 0, len(packages))
		for name := range packages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ids = append(ids, npm.NewIdentifier(name, "latest"))
		}
	}
	return ids, joinErrors("org", errs)
}

func (f *Fetcher) staticPackages(ctx context.Context) ([]npm.Identifier, error) {
	ids := make([]npm.Identifier, 0, len(f.opts.Catalog.Packages))
	var errs []string
	for _, s := range f.opts.Catalog.Packages {
		spec, err := npm.ParseSpecifier(s)
		if err != nil || spec.SubPath != "" {
			errs = append(errs, fmt.Sprintf("invalid catalog package '%s'", s))
			continue
		}
		ids = append(ids, npm.NewIdentifier(spec.PkgName(), npm.NormalizePackageVersion(spec.Version)))
	}
	return ids, joinErrors("static", errs)
}

func joinErrors(source string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", source, strings.Join(errs, "; "))
}
