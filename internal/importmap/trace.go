package importmap

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

type importRecord struct {
	specifier string
	dynamic   bool
}

// loaderOf returns the esbuild loader for module source, ok is false for
// files that carry no imports (markup, stylesheets, data).
func loaderOf(filename string) (api.Loader, bool) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS, true
	case ".ts", ".mts", ".cts":
		return api.LoaderTS, true
	case ".jsx":
		return api.LoaderJSX, true
	case ".tsx":
		return api.LoaderTSX, true
	default:
		return api.LoaderNone, false
	}
}

// scanImports returns the static and dynamic imports of a module, in source
// order. Nothing is resolved: every import is marked external.
func scanImports(moduleUrl string, code string) ([]importRecord, error) {
	loader, ok := loaderOf(moduleUrl)
	if !ok {
		return nil, nil
	}
	var lock sync.Mutex
	records := []importRecord{}
	seen := map[string]bool{}
	ret := api.Build(api.BuildOptions{
		EntryPoints: []string{moduleUrl},
		Bundle:      true,
		Write:       false,
		Format:      api.FormatESModule,
		Target:      api.ESNext,
		Platform:    api.PlatformBrowser,
		LogLevel:    api.LogLevelSilent,
		Plugins: []api.Plugin{
			{
				Name: "import-scanner",
				Setup: func(build api.PluginBuild) {
					build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						if args.Kind == api.ResolveEntryPoint {
							return api.OnResolveResult{Path: args.Path, Namespace: "module"}, nil
						}
						lock.Lock()
						defer lock.Unlock()
						if !seen[args.Path] {
							seen[args.Path] = true
							records = append(records, importRecord{
								specifier: args.Path,
								dynamic:   args.Kind == api.ResolveJSDynamicImport || args.Kind == api.ResolveJSRequireCall,
							})
						}
						return api.OnResolveResult{Path: args.Path, External: true}, nil
					})
					build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "module"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
						return api.OnLoadResult{Contents: &code, Loader: loader}, nil
					})
				},
			},
		},
	})
	if len(ret.Errors) > 0 {
		msg := ret.Errors[0]
		if msg.Location != nil {
			return nil, fmt.Errorf("%s (%d:%d)", msg.Text, msg.Location.Line, msg.Location.Column)
		}
		return nil, errors.New(msg.Text)
	}
	return records, nil
}
