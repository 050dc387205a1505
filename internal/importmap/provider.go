package importmap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/webwriter-app/webwriter-sub004/internal/fetch"
	"github.com/webwriter-app/webwriter-sub004/internal/localstore"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
)

// Provider maps packages to urls and loads the modules behind them.
type Provider interface {
	// PkgToURL returns the base url of the package, ending with a slash.
	// ok is false if the provider does not serve the package.
	PkgToURL(id npm.Identifier) (baseUrl string, ok bool)
	// ParseURLPkg returns the package and the subpath a url points into.
	ParseURLPkg(u string) (id npm.Identifier, subPath string, ok bool)
	// Fetch loads the contents of a module url.
	Fetch(ctx context.Context, u string) ([]byte, error)
}

// Providers is a provider chain, the first provider serving a package wins.
type Providers []Provider

func (ps Providers) PkgToURL(id npm.Identifier) (string, bool) {
	for _, p := range ps {
		if u, ok := p.PkgToURL(id); ok {
			return u, true
		}
	}
	return "", false
}

func (ps Providers) ParseURLPkg(u string) (npm.Identifier, string, bool) {
	for _, p := range ps {
		if id, subPath, ok := p.ParseURLPkg(u); ok {
			return id, subPath, true
		}
	}
	return npm.Identifier{}, "", false
}

// Fetch loads u through the provider that owns it.
func (ps Providers) Fetch(ctx context.Context, u string) ([]byte, error) {
	for _, p := range ps {
		if _, _, ok := p.ParseURLPkg(u); ok {
			return p.Fetch(ctx, u)
		}
	}
	return nil, &ModuleNotFoundError{Specifier: u, Module: u, Err: errors.New("no provider for url")}
}

// RemoteProvider serves published packages from the registry mirror,
// `{mirror}/{name}@{version}/{path}`.
type RemoteProvider struct {
	Mirror    string
	UserAgent string
	Timeout   int
}

func (p *RemoteProvider) PkgToURL(id npm.Identifier) (string, bool) {
	if id.IsLocal() || id.Version == "" {
		return "", false
	}
	return strings.TrimSuffix(p.Mirror, "/") + "/" + id.String() + "/", true
}

func (p *RemoteProvider) ParseURLPkg(u string) (npm.Identifier, string, bool) {
	id, subPath, ok := parsePkgURL(p.Mirror, u)
	if !ok || id.IsLocal() {
		return npm.Identifier{}, "", false
	}
	return id, subPath, true
}

func (p *RemoteProvider) Fetch(ctx context.Context, u string) ([]byte, error) {
	client, recycle := fetch.NewClient(p.UserAgent, p.Timeout, false)
	defer recycle()
	data, err := client.Get(ctx, u)
	if err != nil {
		if fetch.IsNotFound(err) {
			return nil, &ModuleNotFoundError{Specifier: u, Module: u}
		}
		return nil, err
	}
	return data, nil
}

// LocalProvider serves local packages through the local store bridge under
// the origin of the server, `{origin}/{name}@{version}/{path}`.
type LocalProvider struct {
	Origin string
	Bridge *localstore.Bridge
}

func (p *LocalProvider) PkgToURL(id npm.Identifier) (string, bool) {
	if !id.IsLocal() {
		return "", false
	}
	return strings.TrimSuffix(p.Origin, "/") + "/" + id.String() + "/", true
}

func (p *LocalProvider) ParseURLPkg(u string) (npm.Identifier, string, bool) {
	id, subPath, ok := parsePkgURL(p.Origin, u)
	if !ok || !id.IsLocal() {
		return npm.Identifier{}, "", false
	}
	return id, subPath, true
}

func (p *LocalProvider) Fetch(ctx context.Context, u string) ([]byte, error) {
	id, subPath, ok := p.ParseURLPkg(u)
	if !ok {
		return nil, &ModuleNotFoundError{Specifier: u, Module: u}
	}
	if p.Bridge == nil {
		return nil, &HandleMissingError{Package: id.PkgName(), Err: localstore.ErrHandleMissing}
	}
	data, err := p.Bridge.ResolveFile(ctx, id.PkgName(), subPath)
	if err != nil {
		if errors.Is(err, localstore.ErrHandleMissing) {
			return nil, &HandleMissingError{Package: id.PkgName(), Err: err}
		}
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, &ModuleNotFoundError{Specifier: u, Module: u, Err: err}
		}
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return data, nil
}

// parsePkgURL splits `{base}/{name}@{version}/{path}`.
func parsePkgURL(base string, u string) (npm.Identifier, string, bool) {
	base = strings.TrimSuffix(base, "/") + "/"
	if base == "/" || !strings.HasPrefix(u, base) {
		return npm.Identifier{}, "", false
	}
	rest := u[len(base):]
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	spec, err := npm.ParseSpecifier(rest)
	if err != nil || spec.Version == "" {
		return npm.Identifier{}, "", false
	}
	return spec.Identifier, spec.SubPath, true
}
