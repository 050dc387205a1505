package compiler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/webwriter-app/webwriter-sub004/internal/importmap"
)

const entryPath = "widgetd:entry"

// Fetcher loads the contents of a module url.
type Fetcher interface {
	Fetch(ctx context.Context, u string) ([]byte, error)
}

type Options struct {
	Minify bool
	// es2015 ... esnext
	Target string
	// browser engine derived from the user agent, optional
	Engine  *api.Engine
	Fetcher Fetcher
}

// Compile bundles the entries into a single ES module. Every import is
// resolved through the import map, nothing is resolved from the file system
// or by package lookups.
func Compile(ctx context.Context, entries []string, im *importmap.ImportMap, opts Options) (out []byte, err error) {
	if opts.Fetcher == nil {
		return nil, &InternalError{Err: errors.New("no fetcher")}
	}
	defer func() {
		if v := recover(); v != nil {
			out = nil
			err = &InternalError{Err: fmt.Errorf("panic: %v", v)}
		}
	}()

	var hostErr error
	var hostErrOnce sync.Once
	setHostErr := func(err error) {
		hostErrOnce.Do(func() { hostErr = err })
	}

	entryCode := strings.Builder{}
	for _, entry := range entries {
		entryCode.WriteString("import ")
		entryCode.WriteString(strconv.Quote(entry))
		entryCode.WriteString(";\n")
	}
	entryContents := entryCode.String()

	resolve := func(specifier string, importer string) (api.OnResolveResult, error) {
		var referrer *url.URL
		if importer != "" {
			referrer, _ = url.Parse(importer)
		}
		resolved, ok := im.Resolve(specifier, referrer)
		if !ok {
			return api.OnResolveResult{
				Errors: []api.Message{{Text: fmt.Sprintf("Could not resolve %q: not in the import map", specifier)}},
			}, nil
		}
		return api.OnResolveResult{Path: resolved, Namespace: "url"}, nil
	}

	var engines []api.Engine
	if opts.Engine != nil {
		engines = []api.Engine{*opts.Engine}
	}

	ret := api.Build(api.BuildOptions{
		EntryPoints:       []string{entryPath},
		Bundle:            true,
		Write:             false,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            targetOf(opts.Target),
		Engines:           engines,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		LegalComments:     api.LegalCommentsNone,
		LogLevel:          api.LogLevelSilent,
		Plugins: []api.Plugin{
			{
				Name: "importmap-resolver",
				Setup: func(build api.PluginBuild) {
					build.OnResolve(api.OnResolveOptions{Filter: "^" + entryPath + "$"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						if args.Kind != api.ResolveEntryPoint {
							return api.OnResolveResult{}, nil
						}
						return api.OnResolveResult{Path: entryPath, Namespace: "entry"}, nil
					})
					// imports of the entry module
					build.OnResolve(api.OnResolveOptions{Filter: ".*", Namespace: "entry"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						return resolve(args.Path, "")
					})
					// import statements of fetched modules
					build.OnResolve(api.OnResolveOptions{Filter: ".*", Namespace: "url"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						return resolve(args.Path, args.Importer)
					})
					build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "entry"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
						return api.OnLoadResult{Contents: &entryContents, Loader: api.LoaderJS}, nil
					})
					build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "url"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
						data, err := opts.Fetcher.Fetch(ctx, args.Path)
						if err != nil {
							var notFound *importmap.ModuleNotFoundError
							if errors.As(err, &notFound) {
								return api.OnLoadResult{
									Errors: []api.Message{{Text: fmt.Sprintf("Could not load %q: module not found", args.Path)}},
								}, nil
							}
							setHostErr(err)
							return api.OnLoadResult{}, err
						}
						code := string(data)
						return api.OnLoadResult{Contents: &code, Loader: loaderOf(args.Path)}, nil
					})
				},
			},
		},
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hostErr != nil {
		return nil, &InternalError{Err: hostErr}
	}
	if len(ret.Errors) > 0 {
		return nil, newCompileError(ret.Errors)
	}
	if len(ret.OutputFiles) == 0 {
		return nil, &InternalError{Err: errors.New("no output")}
	}
	return ret.OutputFiles[0].Contents, nil
}

// loaderOf assigns the loader of a module by the extension of its url.
func loaderOf(u string) api.Loader {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".jsx":
		return api.LoaderJSX
	case ".tsx":
		return api.LoaderTSX
	case ".json":
		return api.LoaderJSON
	case ".html", ".htm", ".svg", ".css", ".txt", ".md":
		return api.LoaderText
	default:
		return api.LoaderBinary
	}
}
