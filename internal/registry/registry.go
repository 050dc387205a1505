package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	syncx "github.com/ije/gox/sync"
	"github.com/webwriter-app/webwriter-sub004/internal/fetch"
	"github.com/webwriter-app/webwriter-sub004/internal/localstore"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
	"github.com/webwriter-app/webwriter-sub004/internal/semver"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a package does not exist.
var ErrNotFound = npm.ErrNotFound

// ErrNoListing is returned by ListFiles when no listing api is configured.
var ErrNoListing = errors.New("no file listing api configured")

// Logger is implemented by *log.Logger of github.com/ije/gox.
type Logger interface {
	Debugf(format string, v ...any)
	Warnf(format string, v ...any)
}

// Catalog configures the package discovery sources.
type Catalog struct {
	Keywords []string `json:"keywords,omitempty"`
	Orgs     []string `json:"orgs,omitempty"`
	Packages []string `json:"packages,omitempty"`
}

type Options struct {
	// e.g. https://registry.npmjs.org
	Registry string
	// e.g. https://cdn.jsdelivr.net/npm
	Mirror string
	// e.g. https://data.jsdelivr.com/v1/packages/npm
	ListingAPI  string
	Catalog     Catalog
	Bridge      *localstore.Bridge
	UserAgent   string
	Timeout     int
	Concurrency int
	Logger      Logger
}

// Fetcher retrieves package descriptors from the registry mirror or, for
// local versions, from the local store bridge.
type Fetcher struct {
	opts  Options
	lock  syncx.KeyedMutex
	memo  sync.Map
	files sync.Map
}

func NewFetcher(opts Options) *Fetcher {
	opts.Registry = strings.TrimSuffix(opts.Registry, "/")
	opts.Mirror = strings.TrimSuffix(opts.Mirror, "/")
	opts.ListingAPI = strings.TrimSuffix(opts.ListingAPI, "/")
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Fetcher{opts: opts}
}

// Mirror returns the base url of the registry mirror.
func (f *Fetcher) Mirror() string {
	return f.opts.Mirror
}

// Bridge returns the local store bridge, may be nil.
func (f *Fetcher) Bridge() *localstore.Bridge {
	return f.opts.Bridge
}

// GetDescriptors fetches the descriptors of the given packages, preserving
// the order of ids. Without ids the discovered catalog is returned.
func (f *Fetcher) GetDescriptors(ctx context.Context, ids []npm.Identifier) ([]*npm.Descriptor, error) {
	if len(ids) == 0 {
		return f.Discover(ctx), nil
	}
	start := time.Now()
	descriptors := make([]*npm.Descriptor, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			d, err := f.Lookup(ctx, id)
			if err != nil {
				return err
			}
			descriptors[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	f.opts.Logger.Debugf("fetched %d descriptors in %v", len(ids), time.Since(start))
	return descriptors, nil
}

// Lookup returns the descriptor of a local or remote package.
func (f *Fetcher) Lookup(ctx context.Context, id npm.Identifier) (*npm.Descriptor, error) {
	if id.IsLocal() {
		return f.getLocalDescriptor(ctx, id)
	}
	return f.Descriptor(ctx, id.PkgName(), id.Version)
}

func (f *Fetcher) getLocalDescriptor(ctx context.Context, id npm.Identifier) (*npm.Descriptor, error) {
	if f.opts.Bridge == nil {
		return nil, fmt.Errorf("%w: %s", localstore.ErrHandleMissing, id.PkgName())
	}
	data, err := f.opts.Bridge.ResolveFile(ctx, id.PkgName(), "package.json")
	if err != nil {
		return nil, err
	}
	d, err := npm.ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("invalid package.json of local package %s: %w", id.PkgName(), err)
	}
	if d.Name == "" {
		d.Name = id.PkgName()
	}
	d.Version, err = semver.TagLocalString(d.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid version of local package %s: %w", id.PkgName(), err)
	}
	return d, nil
}

// Descriptor returns the descriptor of a remote package. The mirror resolves
// dist tags and ranges, only exact versions are memoized.
func (f *Fetcher) Descriptor(ctx context.Context, pkgName string, version string) (*npm.Descriptor, error) {
	version = npm.NormalizePackageVersion(version)
	key := pkgName + "@" + version
	exact := npm.IsExactVersion(version)
	if exact {
		if v, ok := f.memo.Load(key); ok {
			return v.(*npm.Descriptor), nil
		}
		unlock := f.lock.Lock(key)
		defer unlock()
		// check memo again after lock
		if v, ok := f.memo.Load(key); ok {
			return v.(*npm.Descriptor), nil
		}
	}

	data, err := f.get(ctx, fmt.Sprintf("%s/%s@%s/package.json", f.opts.Mirror, pkgName, version))
	if err != nil {
		if fetch.IsNotFound(err) {
			return nil, fmt.Errorf("%w: package %s", ErrNotFound, key)
		}
		return nil, err
	}
	d, err := npm.ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("invalid package.json of %s: %w", key, err)
	}
	if d.Name == "" || d.Version == "" {
		return nil, fmt.Errorf("invalid package.json of %s: missing name or version", key)
	}
	if exact {
		f.memo.Store(key, d)
	} else if npm.IsExactVersion(d.Version) {
		f.memo.LoadOrStore(d.Name+"@"+d.Version, d)
	}
	return d, nil
}

type flatListing struct {
	Files []struct {
		Name string `json:"name"`
	} `json:"files"`
}

// ListFiles returns the flat file list of a package, relative to the
// package root.
func (f *Fetcher) ListFiles(ctx context.Context, id npm.Identifier) ([]string, error) {
	if id.IsLocal() {
		if f.opts.Bridge == nil {
			return nil, fmt.Errorf("%w: %s", localstore.ErrHandleMissing, id.PkgName())
		}
		return f.opts.Bridge.List(ctx, id.PkgName(), "")
	}
	if f.opts.ListingAPI == "" {
		return nil, ErrNoListing
	}
	key := id.String()
	if v, ok := f.files.Load(key); ok {
		return v.([]string), nil
	}
	data, err := f.get(ctx, fmt.Sprintf("%s/%s?structure=flat", f.opts.ListingAPI, key))
	if err != nil {
		if fetch.IsNotFound(err) {
			return nil, fmt.Errorf("%w: package %s", ErrNotFound, key)
		}
		return nil, err
	}
	var listing flatListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("invalid file listing of %s: %w", key, err)
	}
	files := make([]string, 0, len(listing.Files))
	for _, file := range listing.Files {
		files = append(files, strings.TrimPrefix(file.Name, "/"))
	}
	if npm.IsExactVersion(id.Version) {
		f.files.Store(key, files)
	}
	return files, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	client, recycle := fetch.NewClient(f.opts.UserAgent, f.opts.Timeout, false)
	defer recycle()
	return client.Get(ctx, url)
}

type nopLogger struct{}

func (nopLogger) Debugf(format string, v ...any) {}
func (nopLogger) Warnf(format string, v ...any)  {}
