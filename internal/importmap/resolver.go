package importmap

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/ije/gox/set"
	"github.com/webwriter-app/webwriter-sub004/internal/mime"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
)

// FileLister lists the files of a package, used to expand wildcard entries.
type FileLister interface {
	ListFiles(ctx context.Context, id npm.Identifier) ([]string, error)
}

// Layer is a resolution tier. Layers are applied in order, each one over the
// map produced by the previous ones.
type Layer struct {
	Name string
	// Match reports whether a package belongs to the layer.
	Match     func(id npm.Identifier) bool
	Providers Providers
	// Coarse escalates exclusions to the whole package: on a missing handle
	// and on a second analyze fault in the same package.
	Coarse bool
}

// Resolver generates import maps from package specifiers.
type Resolver struct {
	Layers      []Layer
	Descriptors DescriptorSource
	Files       FileLister
	BaseURL     *url.URL
	Logger      Logger
}

// NewResolver returns a resolver with a remote layer for published packages
// followed by a local layer for packages served through the local store
// bridge. Local packages may import published ones.
func NewResolver(remote *RemoteProvider, local *LocalProvider, descriptors DescriptorSource, files FileLister, logger Logger) *Resolver {
	return &Resolver{
		Layers: []Layer{
			{
				Name:      "remote",
				Match:     func(id npm.Identifier) bool { return !id.IsLocal() },
				Providers: Providers{remote},
			},
			{
				Name:      "local",
				Match:     npm.Identifier.IsLocal,
				Providers: Providers{local, remote},
				Coarse:    true,
			},
		},
		Descriptors: descriptors,
		Files:       files,
		Logger:      logger,
	}
}

// Result is a generated import map and the specifiers that had to be left out.
type Result struct {
	ImportMap *ImportMap
	Excluded  []string
}

// Generate links the given versioned specifiers (`name@version[/subpath]`)
// layer by layer and overlays the markup and stylesheet entry points of the
// descriptors.
func (r *Resolver) Generate(ctx context.Context, specifiers []string, descriptors []*npm.Descriptor) (*Result, error) {
	base := Blank()
	base.SetBaseURL(r.BaseURL)
	ret := &Result{ImportMap: base}

	remaining := specifiers
	for _, layer := range r.Layers {
		var ids []string
		var rest []string
		for _, s := range remaining {
			spec, err := npm.ParseSpecifier(s)
			if err == nil && layer.Match(spec.Identifier) {
				ids = append(ids, s)
			} else {
				rest = append(rest, s)
			}
		}
		remaining = rest
		merged, excluded, err := r.mergeLayer(ctx, ret.ImportMap, layer, ids, descriptors)
		if err != nil {
			return nil, err
		}
		ret.ImportMap = merged
		ret.Excluded = append(ret.Excluded, excluded...)
	}
	for _, s := range remaining {
		r.warnf("importmap: no layer for %s, excluded", s)
		ret.Excluded = append(ret.Excluded, s)
	}

	overlay := r.overlayAssets(ctx, descriptors)
	ret.ImportMap = ret.ImportMap.Merge(overlay)
	return ret, nil
}

// mergeLayer installs the specifiers of a layer with base as input map and
// layers the result over base.
func (r *Resolver) mergeLayer(ctx context.Context, base *ImportMap, layer Layer, specifiers []string, descriptors []*npm.Descriptor) (*ImportMap, []string, error) {
	if len(specifiers) == 0 {
		return base, nil, nil
	}
	pins := map[string]string{}
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		// packages of later layers are not pinned yet
		if id := d.Identifier(); layer.Match(id) || !id.IsLocal() {
			if _, ok := pins[d.Name]; !ok {
				pins[d.Name] = d.Version
			}
		}
	}
	g := &Generator{
		Providers:   layer.Providers,
		Resolutions: pins,
		InputMap:    base,
		Descriptors: r.Descriptors,
		Logger:      r.Logger,
	}
	im, pins, excluded, err := r.installWithExclusion(ctx, g, layer, specifiers)
	if err != nil {
		return nil, excluded, err
	}
	PinSpecifiers(im, pins)
	return base.Merge(im), excluded, nil
}

// installWithExclusion retries the install, removing the faulty specifier
// after each failure, until it succeeds or nothing is left. The working set
// strictly shrinks on every retry; a failure that names no member of the set
// is returned as is.
func (r *Resolver) installWithExclusion(ctx context.Context, g *Generator, layer Layer, specifiers []string) (*ImportMap, map[string]string, []string, error) {
	working := append([]string{}, specifiers...)
	excluded := []string{}
	analyzeFaults := map[string]int{}
	for len(working) > 0 {
		im, pins, err := g.Install(ctx, working)
		if err == nil {
			return im, pins, excluded, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, excluded, ctxErr
		}
		f, ok := classifyFault(err, working)
		if !ok {
			return nil, nil, excluded, err
		}
		remove := set.New[string]()
		remove.Add(f.specifier)
		if layer.Coarse {
			escalate := f.kind == handleMissing
			if f.kind == analyzeFailed {
				analyzeFaults[f.pkgName]++
				escalate = analyzeFaults[f.pkgName] > 1
			}
			if escalate {
				for _, s := range working {
					if specifierPkgName(s) == f.pkgName {
						remove.Add(s)
					}
				}
			}
		}
		next := make([]string, 0, len(working))
		for _, s := range working {
			if remove.Has(s) {
				excluded = append(excluded, s)
				r.warnf("importmap(%s): %s, excluding %s: %v", layer.Name, f.kind, s, err)
			} else {
				next = append(next, s)
			}
		}
		if len(next) >= len(working) {
			return nil, nil, excluded, err
		}
		working = next
	}
	return Blank(), g.Resolutions, excluded, nil
}

// PinSpecifiers rewrites every top-level bare package key to carry the
// pinned version of its package, e.g. `@a/x/widgets/x.js` becomes
// `@a/x@1.0.0/widgets/x.js`.
func PinSpecifiers(im *ImportMap, pins map[string]string) {
	for _, key := range im.Imports.Keys() {
		if !npm.IsBareSpecifier(key) {
			continue
		}
		spec, err := npm.ParseSpecifier(key)
		if err != nil || spec.Version != "" {
			continue
		}
		version, ok := pins[spec.PkgName()]
		if !ok {
			continue
		}
		u, _ := im.Imports.Get(key)
		pinned := spec.Versioned(version)
		if strings.HasSuffix(key, "/") {
			pinned += "/"
		}
		im.Imports.Delete(key)
		if _, exists := im.Imports.Get(pinned); !exists {
			im.Imports.Set(pinned, u)
		}
	}
}

// overlayAssets maps every export of the packages that names a markup or
// stylesheet file to its url, these are loaded as they are and never compiled.
func (r *Resolver) overlayAssets(ctx context.Context, descriptors []*npm.Descriptor) *ImportMap {
	overlay := Blank()
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		id := d.Identifier()
		var providers Providers
		for _, layer := range r.Layers {
			if layer.Match(id) {
				providers = layer.Providers
				break
			}
		}
		baseUrl, ok := providers.PkgToURL(id)
		if !ok {
			continue
		}
		var files []string
		for _, entry := range d.ExportEntries() {
			if kind := mime.KindOf(entry.Key); kind != mime.Markup && kind != mime.Stylesheet {
				continue
			}
			entries := []npm.Entry{entry}
			if entry.Wildcard() {
				if files == nil {
					var err error
					files, err = r.listFiles(ctx, id)
					if err != nil {
						r.warnf("importmap: could not expand %s of %s: %v", entry.Key, id, err)
						continue
					}
				}
				entries = npm.ExpandEntry(entry, files)
			}
			for _, e := range entries {
				overlay.Imports.Set(id.String()+"/"+e.SubPath(), baseUrl+e.Target)
			}
		}
	}
	return overlay
}

func (r *Resolver) listFiles(ctx context.Context, id npm.Identifier) ([]string, error) {
	if r.Files == nil {
		return nil, errors.New("no file lister")
	}
	return r.Files.ListFiles(ctx, id)
}

func (r *Resolver) warnf(format string, v ...any) {
	if r.Logger != nil {
		r.Logger.Warnf(format, v...)
	}
}
